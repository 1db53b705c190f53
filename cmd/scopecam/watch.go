package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/discovery"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
	"github.com/mkoba/scopecam/internal/rtsp"
	"github.com/mkoba/scopecam/internal/session"
	"github.com/mkoba/scopecam/internal/webmonitor"
)

func newWatchCmd() *cobra.Command {
	var record bool
	var webAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a live session to the camera, reconnecting across drops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), record, webAddr)
		},
	}
	cmd.Flags().BoolVar(&record, "record", false, "record the stream for the whole session")
	cmd.Flags().StringVar(&webAddr, "web", "", "web monitor listen address (empty disables)")
	return cmd
}

func runWatch(parent context.Context, record bool, webAddr string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Module("main")
	met := metrics.New()
	if flagMetricsAddr != "" {
		go func() {
			if err := met.StartServer(flagMetricsAddr); err != nil {
				log.WithError(err).Warn("Metrics server stopped")
			}
		}()
	}

	surface := newStreamSurface(rtspConfig(), met)
	prober := discovery.NewProber(discoveryConfig())
	machine := session.New(session.DefaultConfig(), prober, surface, staticWifi{name: flagNetwork}, met)
	surface.sink = machine.PostEvent

	recCfg := capture.DefaultConfig(flagMediaRoot)
	recCfg.RTSP = rtspConfig()
	recCfg.Thumbnail = surface
	recorder := capture.NewRecorder(recCfg, met, logEvents{})
	machine.OnStreamLoss(recorder.ForceStop)

	if webAddr != "" {
		broadcaster := webmonitor.NewFrameBroadcaster()
		surface.onFrame = broadcaster.Publish
		webCfg := webmonitor.DefaultConfig()
		webCfg.Addr = webAddr
		web := webmonitor.NewServer(webCfg, machine, recorder, met, broadcaster)
		go func() {
			if err := web.ListenAndServe(ctx); err != nil {
				log.WithError(err).Warn("Web monitor stopped")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		machine.Run(ctx)
		close(done)
	}()
	machine.Probe()

	if record {
		go func() {
			// wait for playback so the URL is known
			for ctx.Err() == nil {
				if machine.LastURL() != "" {
					if err := recorder.Start(ctx, machine.LastURL(), flagNetwork); err != nil {
						log.WithError(err).Error("Recording failed to start")
					}
					return
				}
				time.Sleep(500 * time.Millisecond)
			}
		}()
	}

	<-ctx.Done()
	recorder.ForceStop()
	<-done
	log.Info("Session ended")
	return nil
}

func rtspConfig() rtsp.Config {
	cfg := rtsp.DefaultConfig()
	if flagRTSPTimeout > 0 {
		cfg.RequestTimeout = flagRTSPTimeout
	}
	return cfg
}

func discoveryConfig() discovery.Config {
	cfg := discovery.DefaultConfig()
	if len(flagHosts) > 0 {
		cfg.CandidateHosts = flagHosts
	}
	return cfg
}

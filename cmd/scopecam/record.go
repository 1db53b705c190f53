package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/discovery"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
)

func newRecordCmd() *cobra.Command {
	var duration time.Duration
	var rawURL string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the camera stream to an MP4 file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd.Context(), rawURL, duration)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 records until interrupted)")
	cmd.Flags().StringVar(&rawURL, "url", "", "RTSP URL (skips discovery)")
	return cmd
}

func runRecord(parent context.Context, rawURL string, duration time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Module("main")
	met := metrics.New()

	if rawURL == "" {
		prober := discovery.NewProber(discoveryConfig())
		result, err := prober.Probe(ctx)
		if err != nil {
			return fmt.Errorf("camera not found: %w", err)
		}
		rawURL = result.URL
		log.WithField("url", rawURL).Info("Camera found")
	}

	cfg := capture.DefaultConfig(flagMediaRoot)
	cfg.RTSP = rtspConfig()
	recorder := capture.NewRecorder(cfg, met, logEvents{})
	if err := recorder.Start(ctx, rawURL, flagNetwork); err != nil {
		return err
	}

	if duration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(duration):
		}
	} else {
		<-ctx.Done()
	}

	path, err := recorder.Stop()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoba/scopecam/internal/capture"
	"github.com/mkoba/scopecam/internal/discovery"
	"github.com/mkoba/scopecam/internal/logging"
	"github.com/mkoba/scopecam/internal/metrics"
)

func newSnapshotCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Grab one frame from the camera and save it",
		Long: "Connects, waits for the stream and saves the most recent frame.\n" +
			"Without a decoder the frame is saved as a raw .h264 dump.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for a frame")
	return cmd
}

func runSnapshot(ctx context.Context, wait time.Duration) error {
	log := logging.Module("main")
	met := metrics.New()

	prober := discovery.NewProber(discoveryConfig())
	result, err := prober.Probe(ctx)
	if err != nil {
		return fmt.Errorf("camera not found: %w", err)
	}
	log.WithField("url", result.URL).Info("Camera found")

	surface := newStreamSurface(rtspConfig(), met)
	if err := surface.Play(result.URL); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer surface.Dispose()

	deadline := time.Now().Add(wait)
	var frame []byte
	for time.Now().Before(deadline) {
		if frame = surface.LatestFrame(); frame != nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if frame == nil {
		return fmt.Errorf("no frame received within %s", wait)
	}

	dir := filepath.Join(flagMediaRoot, "images", capture.SanitizeNetworkName(flagNetwork))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(dir, fmt.Sprintf("IMG_%s.h264", time.Now().Format("20060102_150405")))
	if err := os.WriteFile(dest, frame, 0o644); err != nil {
		return err
	}
	fmt.Println(dest)
	return nil
}

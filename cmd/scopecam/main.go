package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkoba/scopecam/internal/logging"
)

var (
	flagLogLevel    string
	flagMediaRoot   string
	flagMetricsAddr string
	flagNetwork     string
	flagHosts       []string
	flagRTSPTimeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "scopecam",
		Short: "WiFi borescope viewer and capture tool",
		Long: "scopecam connects to a WiFi borescope camera, keeps the live\n" +
			"H.264 stream up across drops, and captures photos and MP4 clips.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			logging.Init(level, os.Stderr, false)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error, silent)")
	pf.StringVar(&flagMediaRoot, "media-root", defaultMediaRoot(), "media library root directory")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	pf.StringVar(&flagNetwork, "network", "borescope", "camera network name used for media folders")
	pf.StringSliceVar(&flagHosts, "host", nil, "candidate camera host (repeatable; default well-known hosts)")
	pf.DurationVar(&flagRTSPTimeout, "rtsp-timeout", 5*time.Second, "RTSP request timeout")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newRecordCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newProbeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultMediaRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scopecam-media"
	}
	return home + "/scopecam-media"
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkoba/scopecam/internal/discovery"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Locate and activate the camera, printing its stream URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			prober := discovery.NewProber(discoveryConfig())
			result, err := prober.Probe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("host:      %s\n", result.Host)
			fmt.Printf("media:     %s\n", result.MediaPath)
			fmt.Printf("url:       %s\n", result.URL)
			fmt.Printf("activated: %v\n", result.Activated)
			return nil
		},
	}
}

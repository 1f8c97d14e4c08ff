package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracedeck/tracedeck/internal/config"
	"github.com/tracedeck/tracedeck/internal/device"
)

const listTimeout = 5 * time.Second

// NewDevicesCmd creates the devices subcommand.
func NewDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices attached to the tracking daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags(), slog.Default())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), listTimeout)
			defer cancel()

			client := device.NewClient(cfg.TrackerAddr)
			entries, err := client.ListDevices(ctx)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				cmd.Println("no devices attached")
				return nil
			}
			for _, e := range entries {
				cmd.Printf("%s\t%s\t%s\n", e.Serial, e.State, device.KindForSerial(e.Serial))
			}
			return nil
		},
	}

	cmd.Flags().String("tracker.addr", config.Defaults().TrackerAddr, "device tracking daemon address")
	return cmd
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tracedeck/tracedeck/internal/config"
	"github.com/tracedeck/tracedeck/internal/device"
)

// NewEmulatorsCmd creates the emulators subcommand.
func NewEmulatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulators",
		Short: "List locally installable emulator images",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags(), slog.Default())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			tool := device.NewAVDTool(cfg.EmulatorBinary, slog.Default())
			names := tool.ListInstallable(cmd.Context())
			if len(names) == 0 {
				cmd.Println("no emulator images found")
				return nil
			}
			for _, name := range names {
				cmd.Println(name)
			}
			return nil
		},
	}

	cmd.Flags().String("tracker.emulator-binary", config.Defaults().EmulatorBinary, "emulator tool binary")
	return cmd
}

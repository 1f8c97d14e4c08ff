package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the tracedeck CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tracedeck",
		Short: "tracedeck - headless bridge for mobile app debugging",
		Long: `tracedeck is the headless bridge of a mobile debugging platform.
It tracks attached devices and emulators through the platform daemon and
admits debugging plugins from bundled, dynamic and external sources.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewBridgeCmd())
	cmd.AddCommand(NewDevicesCmd())
	cmd.AddCommand(NewEmulatorsCmd())
	cmd.AddCommand(NewAdmissionCmd())

	return cmd
}

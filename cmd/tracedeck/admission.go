package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tracedeck/tracedeck/internal/config"
	"github.com/tracedeck/tracedeck/internal/plugin"
	"github.com/tracedeck/tracedeck/internal/plugin/builtins"
	"github.com/tracedeck/tracedeck/internal/plugin/goplugin"
	"github.com/tracedeck/tracedeck/internal/plugin/lua"
)

// NewAdmissionCmd creates the admission subcommand. It runs one admission
// pass over the configured descriptor sources and prints the partition,
// for debugging plugin packaging without starting the bridge.
func NewAdmissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admission",
		Short: "Run plugin admission once and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags(), slog.Default())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runAdmission(cmd, cfg)
		},
	}

	defaults := config.Defaults()
	cmd.Flags().String("plugins.manifest", defaults.PluginManifest, "bundled plugin manifest path")
	cmd.Flags().StringSlice("plugins.disabled", nil, "disabled plugin names or glob patterns")
	cmd.Flags().String("plugins.gatekeeper-file", "", "gatekeeper feature-flag snapshot path")
	return cmd
}

func runAdmission(cmd *cobra.Command, cfg config.Config) error {
	logger := slog.Default()
	ctx := cmd.Context()

	compiled := plugin.NewBuiltins()
	if err := builtins.RegisterAll(compiled); err != nil {
		return fmt.Errorf("failed to register builtin plugins: %w", err)
	}

	luaHost := lua.NewHost()
	binaryHost := goplugin.NewHost()
	defer func() {
		_ = luaHost.Close(ctx)
		_ = binaryHost.Close(ctx)
	}()

	loader := plugin.NewBundleLoader(compiled,
		plugin.WithLuaHost(luaHost),
		plugin.WithBinaryHost(binaryHost),
	)

	var gate plugin.Gatekeeper
	if cfg.GatekeeperFile != "" {
		gate = plugin.NewFileGatekeeper(cfg.GatekeeperFile, logger)
	}
	pipeline := plugin.NewPipeline(
		plugin.NewDisabledSet(cfg.DisabledPlugins, logger),
		gate,
		loader,
		plugin.WithPipelineLogger(logger),
	)

	manager := plugin.NewManager(cfg.PluginManifest, pipeline,
		plugin.WithManagerLogger(logger),
	)
	if err := manager.Refresh(ctx); err != nil {
		return fmt.Errorf("plugin admission failed: %w", err)
	}

	part := plugin.PartitionOutcomes(manager.Outcomes())
	for _, p := range part.Admitted {
		cmd.Printf("admitted\t%s\t%s\t(%s)\n", p.RuntimeID(), p.Metadata.Title, p.Metadata.Kind)
	}
	for _, d := range part.Disabled {
		cmd.Printf("disabled\t%s\n", d.Name)
	}
	for _, d := range part.Gatekept {
		cmd.Printf("gatekept\t%s\t(key %s)\n", d.Name, d.GatekeeperKey)
	}
	for _, o := range part.Failed {
		cmd.Printf("failed\t%s\t%v\n", o.Descriptor.Name, o.Reason)
	}
	return nil
}

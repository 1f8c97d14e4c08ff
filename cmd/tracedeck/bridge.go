// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracedeck/tracedeck/internal/action"
	"github.com/tracedeck/tracedeck/internal/config"
	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/internal/history"
	"github.com/tracedeck/tracedeck/internal/logging"
	"github.com/tracedeck/tracedeck/internal/observability"
	"github.com/tracedeck/tracedeck/internal/plugin"
	"github.com/tracedeck/tracedeck/internal/plugin/builtins"
	"github.com/tracedeck/tracedeck/internal/plugin/goplugin"
	"github.com/tracedeck/tracedeck/internal/plugin/lua"
	"github.com/tracedeck/tracedeck/pkg/errutil"
)

// NewBridgeCmd creates the bridge subcommand.
func NewBridgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Start the bridge daemon (device watcher, plugin host)",
		Long: `Start the bridge daemon which watches the platform tracking daemon
for device attach and detach, admits debugging plugins and serves health
and metrics probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridgeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	addConfigFlags(cmd)
	return cmd
}

// addConfigFlags registers flags with the dotted names the config loader
// binds, so flag values override file values key for key.
func addConfigFlags(cmd *cobra.Command) {
	defaults := config.Defaults()
	cmd.Flags().String("tracker.addr", defaults.TrackerAddr, "device tracking daemon address")
	cmd.Flags().String("tracker.emulator-binary", defaults.EmulatorBinary, "emulator tool binary")
	cmd.Flags().String("plugins.manifest", defaults.PluginManifest, "bundled plugin manifest path")
	cmd.Flags().String("plugins.bundles", defaults.BundleDir, "plugin bundle directory (watched)")
	cmd.Flags().StringSlice("plugins.disabled", nil, "disabled plugin names or glob patterns")
	cmd.Flags().String("plugins.gatekeeper-file", "", "gatekeeper feature-flag snapshot path")
	cmd.Flags().String("history.path", defaults.HistoryPath, "device history database path")
	cmd.Flags().String("metrics.addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", defaults.LogFormat, "log format (json or text)")
}

// runBridgeWithDeps starts the bridge daemon with injectable dependencies.
// If deps is nil, default implementations are used.
func runBridgeWithDeps(ctx context.Context, cmd *cobra.Command, deps *BridgeDeps) error {
	if deps == nil {
		deps = &BridgeDeps{}
	}
	if deps.TrackerClientFactory == nil {
		deps.TrackerClientFactory = func(addr string) device.TrackerClient {
			return device.NewClient(addr)
		}
	}
	if deps.HistoryOpener == nil {
		deps.HistoryOpener = func(path string) (HistoryRepository, error) {
			return history.Open(path)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.EmulatorToolFactory == nil {
		deps.EmulatorToolFactory = func(binary string) device.EmulatorTool {
			return device.NewAVDTool(binary, slog.Default())
		}
	}
	if deps.ConsoleNamerFactory == nil {
		deps.ConsoleNamerFactory = func() device.ConsoleNamer {
			return device.NewConsoleProbe("")
		}
	}

	cfg, err := config.Load(configFile, cmd.Flags(), slog.Default())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("tracedeck", version, cfg.LogFormat)
	logger := slog.Default()

	logger.Info("starting bridge",
		"tracker_addr", cfg.TrackerAddr,
		"manifest", cfg.PluginManifest,
		"log_format", cfg.LogFormat,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := device.NewRegistry()

	// History is a supplement: a broken local database degrades the bridge,
	// it does not stop it.
	var recorder *history.Recorder
	repo, err := deps.HistoryOpener(cfg.HistoryPath)
	if err != nil {
		errutil.LogWarn(logger, "device history disabled", err)
	} else {
		recorder = history.NewRecorder(repo, registry, logger)
		recorder.Start(ctx)
		logger.Info("device history enabled", "path", cfg.HistoryPath)
	}

	// Plugin admission.
	compiled := plugin.NewBuiltins()
	if err := builtins.RegisterAll(compiled); err != nil {
		return fmt.Errorf("failed to register builtin plugins: %w", err)
	}

	luaHost := lua.NewHost()
	binaryHost := goplugin.NewHost()
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

	actions := action.NewRegistry()
	manager := plugin.NewManager(cfg.PluginManifest, pipeline,
		plugin.WithManagerLogger(logger),
		plugin.WithRefreshHook(func(p plugin.Partition) {
			for _, err := range actions.Sync(p.Admitted) {
				errutil.LogWarn(logger, "plugin action rejected", err)
			}
		}),
	)
	if err := manager.Refresh(ctx); err != nil {
		return fmt.Errorf("plugin admission failed: %w", err)
	}
	if cfg.BundleDir != "" {
		if err := manager.Watch(ctx, cfg.BundleDir); err != nil {
			errutil.LogWarn(logger, "bundle directory watch disabled", err)
		}
	}

	// Device watching.
	client := deps.TrackerClientFactory(cfg.TrackerAddr)
	watcher := device.NewWatcher(client, registry,
		device.WithLogger(logger),
		device.WithEmulatorTool(deps.EmulatorToolFactory(cfg.EmulatorBinary)),
		device.WithConsoleNamer(deps.ConsoleNamerFactory()),
		device.WithTransportAddr(cfg.TrackerAddr),
	)
	watcher.Start(ctx)

	// Ready means the first admission run completed and the watcher is
	// still reconciling; a fatally stopped watcher fails the probe.
	readiness := func() bool {
		select {
		case <-watcher.Done():
			return false
		default:
		}
		return manager.Ready()
	}

	// Start observability server if configured
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, readiness)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Bridge started")
	logger.Info("bridge ready", "tracker_addr", cfg.TrackerAddr)

	// Wait for shutdown signal or watcher failure
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-watcher.Done():
		if err := watcher.Err(); err != nil {
			runErr = fmt.Errorf("device watcher error: %w", err)
		} else {
			logger.Info("device watcher stopped")
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	logger.Info("shutting down...")
	cancel()

	watcher.Stop()
	<-watcher.Done()

	if err := manager.Close(); err != nil {
		errutil.LogWarn(logger, "error closing plugin manager", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := luaHost.Close(shutdownCtx); err != nil {
		errutil.LogWarn(logger, "error closing lua plugin host", err)
	}
	if err := binaryHost.Close(shutdownCtx); err != nil {
		errutil.LogWarn(logger, "error closing binary plugin host", err)
	}

	if recorder != nil {
		recorder.Stop()
		if err := repo.Close(); err != nil {
			errutil.LogWarn(logger, "error closing history database", err)
		}
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogWarn(logger, "error stopping observability server", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

// Package builtins holds the plugins compiled into the bridge binary.
// They are admitted through the same pipeline as bundle-loaded plugins;
// only their load path differs.
package builtins

import (
	"context"
	"log/slog"

	"github.com/tracedeck/tracedeck/internal/plugin"
)

// RegisterAll installs every compiled-in plugin into the registry.
func RegisterAll(b *plugin.Builtins) error {
	if err := b.Register("device-logs", newDeviceLogs); err != nil {
		return err
	}
	if err := b.Register("crash-watcher", newCrashWatcher); err != nil {
		return err
	}
	return nil
}

// deviceLogs streams the device's log buffer to the front-end.
type deviceLogs struct {
	logger *slog.Logger
}

func newDeviceLogs() (plugin.Instance, error) {
	return &deviceLogs{logger: slog.Default().With("plugin", "device-logs")}, nil
}

func (p *deviceLogs) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:    "device-logs",
		Title:   "Device Logs",
		Icon:    "list",
		Version: "1.0.0",
		Kind:    plugin.KindDevice,
	}
}

func (p *deviceLogs) Actions() []plugin.Action {
	return []plugin.Action{
		{ID: "clear", Title: "Clear Logs", Accelerator: "CmdOrCtrl+K"},
		{ID: "pause", Title: "Pause Stream", Accelerator: "CmdOrCtrl+P"},
	}
}

func (p *deviceLogs) Activate(ctx context.Context) error {
	p.logger.DebugContext(ctx, "log stream activated")
	return nil
}

func (p *deviceLogs) Deactivate(ctx context.Context) error {
	p.logger.DebugContext(ctx, "log stream deactivated")
	return nil
}

// crashWatcher surfaces app crash reports from connected clients.
type crashWatcher struct {
	logger *slog.Logger
}

func newCrashWatcher() (plugin.Instance, error) {
	return &crashWatcher{logger: slog.Default().With("plugin", "crash-watcher")}, nil
}

func (p *crashWatcher) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:    "crash-watcher",
		Title:   "Crash Reports",
		Icon:    "flame",
		Version: "1.0.0",
		Kind:    plugin.KindClient,
	}
}

func (p *crashWatcher) Actions() []plugin.Action {
	return []plugin.Action{
		{ID: "export", Title: "Export Report", Accelerator: "CmdOrCtrl+Shift+E"},
	}
}

func (p *crashWatcher) Activate(ctx context.Context) error {
	p.logger.DebugContext(ctx, "crash watcher activated")
	return nil
}

func (p *crashWatcher) Deactivate(ctx context.Context) error {
	p.logger.DebugContext(ctx, "crash watcher deactivated")
	return nil
}

package main

import (
	"context"

	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/internal/history"
	"github.com/tracedeck/tracedeck/internal/observability"
)

// BridgeDeps contains injectable dependencies for the bridge command.
// All fields with nil values will use their default implementations.
type BridgeDeps struct {
	// TrackerClientFactory creates the tracking daemon client.
	// Default: device.NewClient
	TrackerClientFactory func(addr string) device.TrackerClient

	// HistoryOpener opens the device history repository.
	// Default: history.Open
	HistoryOpener func(path string) (HistoryRepository, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// EmulatorToolFactory creates the emulator enumeration tool.
	// Default: device.NewAVDTool
	EmulatorToolFactory func(binary string) device.EmulatorTool

	// ConsoleNamerFactory creates the emulator display-name resolver.
	// Default: device.NewConsoleProbe against loopback
	ConsoleNamerFactory func() device.ConsoleNamer
}

// HistoryRepository interface wraps the methods used from history.SQLiteRepository.
type HistoryRepository interface {
	Record(ctx context.Context, e history.Event) error
	Recent(ctx context.Context, serial string, limit int) ([]history.Event, error)
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

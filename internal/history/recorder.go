// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package history

import (
	"context"
	"log/slog"

	"github.com/tracedeck/tracedeck/internal/device"
	"github.com/tracedeck/tracedeck/pkg/errutil"
)

// Recorder subscribes to registry mutations and persists device lifecycle
// transitions. Emulator announcements are not device transitions and are
// skipped.
type Recorder struct {
	repo     Repository
	registry *device.Registry
	logger   *slog.Logger

	actions chan device.Action
	done    chan struct{}
}

// NewRecorder wires a repository to a registry's action stream.
// Call Start to begin recording and Stop to detach.
func NewRecorder(repo Repository, registry *device.Registry, logger *slog.Logger) *Recorder {
	if repo == nil {
		panic("history.NewRecorder: repo cannot be nil")
	}
	if registry == nil {
		panic("history.NewRecorder: registry cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:     repo,
		registry: registry,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start subscribes and records until ctx is canceled or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.actions = r.registry.Subscribe()
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-r.actions:
			if !ok {
				return
			}
			r.record(ctx, a)
		}
	}
}

// record maps one registry action to zero or more history events.
// Persistence failures are logged, not propagated; history is best effort.
func (r *Recorder) record(ctx context.Context, a device.Action) {
	switch a.Kind {
	case device.ActionRegisterDevice:
		if a.Device == nil {
			return
		}
		err := r.repo.Record(ctx, Event{
			Serial:      a.Device.ID,
			Kind:        EventConnected,
			DisplayName: a.Device.DisplayName,
			At:          a.Timestamp,
		})
		if err != nil {
			errutil.LogWarn(r.logger, "failed to record device connection", err)
		}
	case device.ActionUnregisterDevices:
		for _, serial := range a.Serials {
			var name string
			if h, ok := r.registry.Get(serial); ok {
				name = h.DisplayName
			}
			err := r.repo.Record(ctx, Event{
				Serial:      serial,
				Kind:        EventArchived,
				DisplayName: name,
				At:          a.Timestamp,
			})
			if err != nil {
				errutil.LogWarn(r.logger, "failed to record device archival", err)
			}
		}
	case device.ActionRegisterEmulators:
		// Announcements carry no per-device lifecycle information.
	}
}

// Stop detaches from the registry and waits for the run loop to exit.
func (r *Recorder) Stop() {
	r.registry.Unsubscribe(r.actions)
	<-r.done
}

package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tracedeck/tracedeck/internal/observability"
)

// reconnectDelay is the fixed backoff between tracking reconnect attempts.
// It gives the platform daemon room to restart without a tight error loop.
const reconnectDelay = 500 * time.Millisecond

// modelProperty is the device property used for physical display names.
const modelProperty = "ro.product.model"

// Watcher keeps a Registry in sync with the daemon's tracking stream.
//
// A single goroutine consumes the stream, so events for one serial are
// applied in arrival order. Daemon hangups archive every live entry and
// reconnect after a fixed delay; any other transport error stops the
// watcher and is surfaced through Err.
type Watcher struct {
	client   TrackerClient
	registry *Registry
	namer    ConsoleNamer
	emulator EmulatorTool
	logger   *slog.Logger
	addr     string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithConsoleNamer sets the emulator name resolver.
func WithConsoleNamer(n ConsoleNamer) WatcherOption {
	return func(w *Watcher) { w.namer = n }
}

// WithEmulatorTool sets the installable-image enumerator announced at start.
func WithEmulatorTool(t EmulatorTool) WatcherOption {
	return func(w *Watcher) { w.emulator = t }
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithTransportAddr records the daemon address stamped onto handles.
func WithTransportAddr(addr string) WatcherOption {
	return func(w *Watcher) { w.addr = addr }
}

// NewWatcher creates a watcher over client feeding registry.
// Panics if client or registry is nil.
func NewWatcher(client TrackerClient, registry *Registry, opts ...WatcherOption) *Watcher {
	if client == nil {
		panic("device: watcher client cannot be nil")
	}
	if registry == nil {
		panic("device: watcher registry cannot be nil")
	}
	w := &Watcher{
		client:   client,
		registry: registry,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It returns immediately; the reconciliation loop
// runs until Stop is called or a fatal transport error occurs. Calling
// Start twice is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.run(ctx)
	})
}

// Stop releases the tracking transport. Idempotent. In-flight name
// resolutions are suppressed: a resolution completing after Stop never
// mutates the registry.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
}

// Done closes when the watcher has fully stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Err returns the fatal transport error, if any, after Done has closed.
// A watcher stopped via Stop reports nil.
func (w *Watcher) Err() error {
	<-w.done
	return w.err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	if w.emulator != nil {
		w.registry.AnnounceEmulators(w.emulator.ListInstallable(ctx))
	}

	backoff := retry.NewConstant(reconnectDelay)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		stream, err := w.client.TrackDevices(ctx)
		if err != nil {
			w.logger.Warn("tracking daemon unreachable, retrying",
				"delay", reconnectDelay,
				"error", err,
			)
			return retry.RetryableError(err)
		}

		consumeErr := w.consume(ctx, stream)
		if errors.Is(consumeErr, ErrTrackingClosed) {
			// Every live entry was attributed to the dropped transport.
			w.registry.ArchiveAll()
			observability.RecordTrackerReconnect()
			w.logger.Warn("tracking connection closed, reconnecting",
				"delay", reconnectDelay,
			)
			return retry.RetryableError(consumeErr)
		}
		return consumeErr
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		// Deliberately fatal: unexpected tracker errors are surfaced to the
		// caller instead of silently recovered. Restart policy lives above.
		w.err = err
		w.logger.Error("device watcher stopped", "error", err)
	}
}

// consume applies stream events until the stream ends or ctx is cancelled.
// Returns nil on local shutdown and the stream's terminal error otherwise.
func (w *Watcher) consume(ctx context.Context, stream *TrackStream) error {
	defer func() { _ = stream.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return stream.Err()
			}
			w.apply(ctx, ev)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, ev TrackEvent) {
	if !ev.Online() {
		w.registry.Archive(ev.Serial)
		w.logger.Debug("device archived", "serial", ev.Serial, "event", ev.Kind.String())
		return
	}

	h := w.resolve(ctx, ev)
	if ctx.Err() != nil {
		// Stopped while resolving; the registry must not observe the result.
		return
	}
	w.registry.Register(h)
	w.logger.Info("device registered",
		"serial", h.ID,
		"kind", h.Kind.String(),
		"name", h.DisplayName,
	)
}

// resolve builds the full handle for an online device. Name resolution is
// best-effort at every step: property queries and console probes that fail
// fall back to the rawest name available, never blocking registration.
func (w *Watcher) resolve(ctx context.Context, ev TrackEvent) Handle {
	h := Handle{
		ID:          ev.Serial,
		Kind:        KindForSerial(ev.Serial),
		DisplayName: ev.Serial,
		Transport:   Transport{Serial: ev.Serial, Addr: w.addr},
	}

	propCtx, cancel := context.WithTimeout(ctx, propQueryTimeout)
	props, err := w.client.GetProperties(propCtx, ev.Serial)
	cancel()
	if err != nil {
		w.logger.Debug("property query failed, using serial as name",
			"serial", ev.Serial,
			"error", err,
		)
	} else if model := props[modelProperty]; model != "" {
		h.DisplayName = model
	}

	if h.Kind == KindEmulator && w.namer != nil {
		name, err := w.namer.Name(ctx, ev.Serial)
		if err != nil {
			w.logger.Debug("console name probe failed, keeping platform name",
				"serial", ev.Serial,
				"error", err,
			)
		} else {
			h.DisplayName = name
		}
	}

	return h
}

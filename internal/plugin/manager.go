package plugin

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// reloadDebounce coalesces bursts of bundle directory changes (a build
// writing a bundle produces several events) into one re-admission.
const reloadDebounce = 500 * time.Millisecond

// Manager discovers descriptors, runs the admission pipeline and holds the
// resulting partition for the rest of the bridge to consume.
type Manager struct {
	manifestPath string
	pipeline     *Pipeline
	logger       *slog.Logger

	mu        sync.RWMutex
	outcomes  []Outcome
	refreshed atomic.Bool

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	reload      *time.Timer
	onRefresh   func(Partition)
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithRefreshHook registers a callback invoked with the new partition
// after every (re-)admission run.
func WithRefreshHook(fn func(Partition)) ManagerOption {
	return func(m *Manager) { m.onRefresh = fn }
}

// NewManager creates a plugin manager. Panics if pipeline is nil.
func NewManager(manifestPath string, pipeline *Pipeline, opts ...ManagerOption) *Manager {
	if pipeline == nil {
		panic("plugin: manager pipeline cannot be nil")
	}
	m := &Manager{
		manifestPath: manifestPath,
		pipeline:     pipeline,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh discovers descriptors from both sources and runs the pipeline.
// The bundled manifest is authoritative packaging: a broken one is an
// error. The dynamic environment list degrades to empty on its own.
func (m *Manager) Refresh(ctx context.Context) error {
	bundled, err := LoadBundledManifest(m.manifestPath)
	if err != nil {
		return oops.With("path", m.manifestPath).Wrap(err)
	}

	descs := append(bundled, DynamicDescriptors(m.logger)...)
	outcomes := m.pipeline.Admit(ctx, descs)

	m.mu.Lock()
	m.outcomes = outcomes
	m.mu.Unlock()
	m.refreshed.Store(true)

	part := PartitionOutcomes(outcomes)
	m.logger.Info("plugin admission complete",
		"admitted", len(part.Admitted),
		"disabled", len(part.Disabled),
		"gatekept", len(part.Gatekept),
		"failed", len(part.Failed),
	)

	if m.onRefresh != nil {
		m.onRefresh(part)
	}
	return nil
}

// Ready reports whether at least one admission run has completed.
// Readiness probes use it to avoid advertising a bridge with no plugins.
func (m *Manager) Ready() bool {
	return m.refreshed.Load()
}

// Outcomes returns the decisions of the latest admission run.
func (m *Manager) Outcomes() []Outcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// Admitted returns the admitted plugins of the latest admission run.
func (m *Manager) Admitted() []*Loaded {
	return PartitionOutcomes(m.Outcomes()).Admitted
}

// Watch re-runs admission when the bundle directory changes, debounced.
func (m *Manager) Watch(ctx context.Context, bundleDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("WATCH_CREATE_FAILED").Wrap(err)
	}
	if err := watcher.Add(bundleDir); err != nil {
		_ = watcher.Close()
		return oops.Code("WATCH_ADD_FAILED").With("dir", bundleDir).Wrap(err)
	}

	m.watchMu.Lock()
	m.watcher = watcher
	ctx, m.watchCancel = context.WithCancel(ctx)
	m.watchMu.Unlock()

	m.logger.Info("watching plugin bundles", "dir", bundleDir)
	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.scheduleRefresh(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("bundle watcher error", "error", err)
		}
	}
}

func (m *Manager) scheduleRefresh(ctx context.Context) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.reload != nil {
		m.reload.Stop()
	}
	m.reload = time.AfterFunc(reloadDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		m.logger.Info("plugin bundles changed, re-running admission")
		if err := m.Refresh(ctx); err != nil {
			m.logger.Error("re-admission failed", "error", err)
		}
	})
}

// Close stops the bundle watcher. Idempotent.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	if m.reload != nil {
		m.reload.Stop()
		m.reload = nil
	}
	if m.watcher != nil {
		err := m.watcher.Close()
		m.watcher = nil
		if err != nil {
			return oops.Wrap(err)
		}
	}
	return nil
}

package device

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tracedeck/tracedeck/internal/observability"
)

// ActionKind identifies a registry mutation published to subscribers.
type ActionKind string

const (
	ActionRegisterDevice    ActionKind = "register-device"
	ActionUnregisterDevices ActionKind = "unregister-devices"
	ActionRegisterEmulators ActionKind = "register-emulators"
)

// Action is one registry mutation, published in mutation order.
type Action struct {
	ID        ulid.ULID
	Kind      ActionKind
	Timestamp time.Time
	Device    *Handle  // set for ActionRegisterDevice
	Serials   []string // set for ActionUnregisterDevices
	Emulators []string // set for ActionRegisterEmulators
}

// Registry is the single source of truth for attached devices.
//
// All mutations supersede rather than merge: registering a serial that has
// an archived entry removes the archived entry and installs the fresh one.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Handle

	subMu sync.RWMutex
	subs  []chan Action
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]Handle),
	}
}

// Subscribe returns a channel receiving registry mutations in order.
func (r *Registry) Subscribe() chan Action {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	ch := make(chan Action, 64)
	r.subs = append(r.subs, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (r *Registry) Unsubscribe(ch chan Action) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for i, sub := range r.subs {
		if sub == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// countsLocked tallies live and archived entries. Callers hold r.mu.
func (r *Registry) countsLocked() (live, archived int) {
	for _, h := range r.devices {
		if h.Archived {
			archived++
		} else {
			live++
		}
	}
	return live, archived
}

func (r *Registry) publish(a Action) {
	a.ID = ulid.Make()
	a.Timestamp = time.Now()

	observability.RecordRegistryAction(string(a.Kind))

	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, ch := range r.subs {
		select {
		case ch <- a:
		default:
			// Subscribers that stop draining lose mutations rather than
			// stalling the reconciliation loop.
			slog.Warn("registry action dropped: subscriber buffer full",
				"kind", a.Kind,
				"action_id", a.ID.String(),
			)
		}
	}
}

// Register upserts a live handle, superseding any archived entry with the
// same serial.
func (r *Registry) Register(h Handle) {
	h.Archived = false

	r.mu.Lock()
	r.devices[h.ID] = h
	live, archived := r.countsLocked()
	r.mu.Unlock()

	observability.SetDeviceCounts(live, archived)
	r.publish(Action{Kind: ActionRegisterDevice, Device: &h})
}

// Archive marks the given serials archived. Unknown serials are no-ops.
// Already-archived entries are left untouched and not re-published.
func (r *Registry) Archive(serials ...string) {
	r.mu.Lock()
	archived := make([]string, 0, len(serials))
	for _, serial := range serials {
		h, ok := r.devices[serial]
		if !ok || h.Archived {
			continue
		}
		h.Archived = true
		r.devices[serial] = h
		archived = append(archived, serial)
	}
	live, retained := r.countsLocked()
	r.mu.Unlock()

	if len(archived) == 0 {
		return
	}
	observability.SetDeviceCounts(live, retained)
	r.publish(Action{Kind: ActionUnregisterDevices, Serials: archived})
}

// ArchiveAll archives every live entry. Used when the tracking transport
// drops and all attributions from it become stale at once.
func (r *Registry) ArchiveAll() {
	r.mu.RLock()
	live := make([]string, 0, len(r.devices))
	for serial, h := range r.devices {
		if !h.Archived {
			live = append(live, serial)
		}
	}
	r.mu.RUnlock()

	r.Archive(live...)
}

// AnnounceEmulators publishes the set of locally installable emulator
// images. The registry does not track them as devices; front-ends use the
// announcement to offer launch targets.
func (r *Registry) AnnounceEmulators(names []string) {
	if len(names) == 0 {
		return
	}
	r.publish(Action{Kind: ActionRegisterEmulators, Emulators: names})
}

// Get returns the handle for a serial, archived or not.
func (r *Registry) Get(serial string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.devices[serial]
	return h, ok
}

// Live returns all non-archived handles sorted by serial.
func (r *Registry) Live() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.devices))
	for _, h := range r.devices {
		if !h.Archived {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns every handle, archived included, sorted by serial.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.devices))
	for _, h := range r.devices {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package action

import (
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/tracedeck/tracedeck/internal/plugin"
)

// Entry is one registered keyboard action attributed to a plugin.
type Entry struct {
	PluginID    string
	ActionID    string
	Title       string
	Accelerator Accelerator
}

// Registry holds keyboard actions per plugin and tracks which plugin's
// actions are currently active (the focused plugin's).
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]Entry // plugin id -> declarations
	focused string
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string][]Entry),
	}
}

// Register records a plugin's action declarations, replacing any previous
// declarations for that plugin. An action with an unparsable accelerator
// rejects the whole declaration set (all-or-nothing, nothing partially
// registered).
func (r *Registry) Register(pluginID string, actions []plugin.Action) error {
	if pluginID == "" {
		return oops.Code("ACTION_PLUGIN_EMPTY").New("plugin id cannot be empty")
	}

	entries := make([]Entry, 0, len(actions))
	for _, a := range actions {
		var combo Accelerator
		if a.Accelerator != "" {
			var err error
			combo, err = ParseAccelerator(a.Accelerator)
			if err != nil {
				return oops.With("plugin", pluginID).With("action", a.ID).Wrap(err)
			}
		}
		entries = append(entries, Entry{
			PluginID:    pluginID,
			ActionID:    a.ID,
			Title:       a.Title,
			Accelerator: combo,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pluginID] = entries
	return nil
}

// Unregister removes a plugin's declarations. Deactivates it if focused.
func (r *Registry) Unregister(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, pluginID)
	if r.focused == pluginID {
		r.focused = ""
	}
}

// Sync replaces all declarations with those of the given admitted plugins.
// Plugins whose declarations fail to parse are skipped and reported; the
// rest register normally.
func (r *Registry) Sync(admitted []*plugin.Loaded) []error {
	r.mu.Lock()
	r.entries = make(map[string][]Entry)
	r.focused = ""
	r.mu.Unlock()

	var errs []error
	for _, p := range admitted {
		if err := r.Register(p.RuntimeID(), p.Instance.Actions()); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ActivateFor marks pluginID's actions active. Unknown ids clear focus.
func (r *Registry) ActivateFor(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[pluginID]; !ok {
		r.focused = ""
		return
	}
	r.focused = pluginID
}

// Deactivate clears the focused plugin.
func (r *Registry) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = ""
}

// Active returns the focused plugin's entries, sorted by action id.
func (r *Registry) Active() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.focused == "" {
		return nil
	}
	out := make([]Entry, len(r.entries[r.focused]))
	copy(out, r.entries[r.focused])
	sort.Slice(out, func(i, j int) bool { return out[i].ActionID < out[j].ActionID })
	return out
}

// All returns every entry across plugins, sorted by plugin then action id.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for _, entries := range r.entries {
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PluginID != out[j].PluginID {
			return out[i].PluginID < out[j].PluginID
		}
		return out[i].ActionID < out[j].ActionID
	})
	return out
}

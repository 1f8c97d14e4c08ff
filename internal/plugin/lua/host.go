// Package lua provides a Host implementation for script plugin bundles
// backed by gopher-lua.
//
// A script bundle is a single .lua file that declares a global `plugin`
// table for metadata, an optional global `actions` array, and optional
// `on_activate` / `on_deactivate` lifecycle functions:
//
//	plugin = { name = "marker", title = "Marker", kind = "device" }
//	actions = { { id = "marker.clear", title = "Clear", accelerator = "ctrl+k" } }
//	function on_activate() end
package lua

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/tracedeck/tracedeck/internal/plugin"
)

// Compile-time interface check.
var _ plugin.Host = (*Host)(nil)

// Host manages script plugin instances. Each loaded bundle owns a
// dedicated interpreter state.
type Host struct {
	mu        sync.Mutex
	instances []*instance
	closed    bool
}

// NewHost creates a script plugin host.
func NewHost() *Host {
	return &Host{}
}

// Load reads, executes and introspects a script bundle.
func (h *Host) Load(_ context.Context, d plugin.Descriptor) (plugin.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.In("lua").With("plugin", d.Name).With("operation", "load").New("host is closed")
	}

	code, err := os.ReadFile(filepath.Clean(d.BundleLocation))
	if err != nil {
		return nil, oops.In("lua").With("plugin", d.Name).With("operation", "load").
			With("path", d.BundleLocation).Hint("failed to read bundle").Wrap(err)
	}

	state := lua.NewState()
	if err := state.DoString(string(code)); err != nil {
		state.Close()
		return nil, oops.In("lua").With("plugin", d.Name).With("operation", "load").
			With("path", d.BundleLocation).Hint("script error").Wrap(err)
	}

	inst := &instance{state: state}
	if err := inst.introspect(d); err != nil {
		state.Close()
		return nil, err
	}

	h.instances = append(h.instances, inst)
	return inst, nil
}

// Close shuts down every interpreter state. Idempotent.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for _, inst := range h.instances {
		inst.close()
	}
	h.instances = nil
	return nil
}

// instance is one loaded script bundle.
type instance struct {
	mu      sync.Mutex
	state   *lua.LState
	md      plugin.Metadata
	actions []plugin.Action
	closed  bool
}

// Compile-time interface check.
var _ plugin.Instance = (*instance)(nil)

// introspect reads the script's plugin and actions globals. The metadata
// table is optional; omitted fields are backfilled from the descriptor by
// the admission pipeline.
func (i *instance) introspect(d plugin.Descriptor) error {
	if tbl, ok := i.state.GetGlobal("plugin").(*lua.LTable); ok {
		i.md.Name = tableString(tbl, "name")
		i.md.Title = tableString(tbl, "title")
		i.md.Icon = tableString(tbl, "icon")
		i.md.Version = tableString(tbl, "version")
		i.md.ID = tableString(tbl, "id")
		if tableString(tbl, "kind") == "client" {
			i.md.Kind = plugin.KindClient
		}
	}

	actions, ok := i.state.GetGlobal("actions").(*lua.LTable)
	if !ok {
		return nil
	}
	var bad error
	actions.ForEach(func(_, v lua.LValue) {
		entry, ok := v.(*lua.LTable)
		if !ok {
			bad = oops.In("lua").With("plugin", d.Name).New("actions entries must be tables")
			return
		}
		i.actions = append(i.actions, plugin.Action{
			ID:          tableString(entry, "id"),
			Title:       tableString(entry, "title"),
			Accelerator: tableString(entry, "accelerator"),
		})
	})
	return bad
}

func tableString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func (i *instance) Metadata() plugin.Metadata { return i.md }

func (i *instance) Actions() []plugin.Action {
	out := make([]plugin.Action, len(i.actions))
	copy(out, i.actions)
	return out
}

func (i *instance) Activate(ctx context.Context) error {
	return i.call(ctx, "on_activate")
}

func (i *instance) Deactivate(ctx context.Context) error {
	return i.call(ctx, "on_deactivate")
}

// call invokes a lifecycle function if the script defines it. Undefined
// hooks are not an error.
func (i *instance) call(ctx context.Context, name string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return oops.In("lua").With("function", name).New("instance is closed")
	}

	fn := i.state.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return nil
	}

	i.state.SetContext(ctx)
	defer i.state.RemoveContext()

	if err := i.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return oops.In("lua").With("function", name).Hint("lifecycle hook failed").Wrap(err)
	}
	return nil
}

func (i *instance) close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.closed = true
		i.state.Close()
	}
}

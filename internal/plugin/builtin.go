package plugin

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Factory constructs a built-in plugin instance.
type Factory func() (Instance, error)

// Builtins is the registry of in-process plugin implementations, keyed by
// descriptor name. It replaces bundle loading for plugins compiled into
// the bridge.
type Builtins struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewBuiltins creates an empty built-in registry.
func NewBuiltins() *Builtins {
	return &Builtins{
		factories: make(map[string]Factory),
	}
}

// Register installs a factory under name. Registering the same name twice
// is an error: built-ins are wired once at startup.
func (b *Builtins) Register(name string, f Factory) error {
	if name == "" {
		return oops.Code("BUILTIN_NAME_EMPTY").New("builtin name cannot be empty")
	}
	if f == nil {
		return oops.Code("BUILTIN_FACTORY_NIL").With("name", name).New("builtin factory cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.factories[name]; ok {
		return oops.Code("BUILTIN_DUPLICATE").With("name", name).New("builtin already registered")
	}
	b.factories[name] = f
	return nil
}

// New constructs the built-in registered under name.
func (b *Builtins) New(name string) (Instance, error) {
	b.mu.RLock()
	f, ok := b.factories[name]
	b.mu.RUnlock()

	if !ok {
		return nil, oops.Code("BUILTIN_UNKNOWN").With("name", name).New("no builtin registered")
	}
	return f()
}

// Names returns registered builtin names, sorted.
func (b *Builtins) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.factories))
	for name := range b.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

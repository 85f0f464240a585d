// Package native hosts plugins that run inside the host process instead of a
// worker subprocess. A plugin opts in with isolation_mode: thread in its
// manifest, and the host only honors that when a factory for the plugin name
// is compiled in here.
package native

import (
	"fmt"
	"sort"
	"sync"

	"github.com/castellanhq/castellan/internal/capability"
)

// Factory builds a fresh in-process plugin instance. Restarting a native
// plugin means discarding the old instance and calling the factory again.
type Factory func() (capability.Plugin, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a factory available under a plugin name. Intended to be
// called from init functions of compiled-in plugins; duplicate names panic
// at startup rather than masking one implementation with another.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		panic("native: register with empty plugin name")
	}
	if f == nil {
		panic("native: nil factory for " + name)
	}
	if _, exists := factories[name]; exists {
		panic("native: duplicate factory for " + name)
	}
	factories[name] = f
}

// Lookup returns the factory for a plugin name.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// New instantiates the named native plugin. A manifest asking for in-process
// execution without a compiled-in factory is a load failure for that plugin.
func New(name string) (capability.Plugin, error) {
	f, ok := Lookup(name)
	if !ok {
		return nil, &capability.LoadError{
			Plugin: name,
			Reason: fmt.Sprintf("no compiled-in implementation for in-process plugin %q", name),
		}
	}
	return f()
}

// Names lists all registered native plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

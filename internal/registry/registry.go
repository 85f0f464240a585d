// Package registry holds the live plugin set and routes queries to plugins
// by keyword.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/policy"
)

// Handle is one registered plugin together with the routing and policy
// metadata captured at load time.
type Handle struct {
	Name     string
	Path     string
	Keywords []string
	Plugin   capability.Plugin
	Decision policy.Decision

	LoadedAt   time.Time
	LastHealth capability.HealthRecord
}

// Registry holds registered plugins in insertion order. All methods are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	handles map[string]*Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// Add registers a plugin. Duplicate names are rejected so the first
// registration wins.
func (r *Registry) Add(h *Handle) error {
	if h.Name == "" {
		return fmt.Errorf("plugin handle has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handles[h.Name]; exists {
		return fmt.Errorf("plugin %q already registered", h.Name)
	}
	if h.LoadedAt.IsZero() {
		h.LoadedAt = time.Now().UTC()
	}
	r.order = append(r.order, h.Name)
	r.handles[h.Name] = h
	return nil
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Remove unregisters a plugin and returns its handle so the caller can stop
// the underlying worker. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, false
	}
	delete(r.handles, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return h, true
}

// Replace swaps the plugin behind an existing handle, keeping its place in
// the registration order. Used after a watchdog restart.
func (r *Registry) Replace(name string, plugin capability.Plugin, keywords []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	h.Plugin = plugin
	h.Keywords = keywords
	h.LoadedAt = time.Now().UTC()
	h.LastHealth = capability.Unknown()
	return nil
}

// List returns a snapshot of all handles in registration order.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handles[name])
	}
	return out
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// RecordHealth stores the latest health observation for a plugin.
func (r *Registry) RecordHealth(name string, rec capability.HealthRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		h.LastHealth = rec
	}
}

// Route selects the plugin responsible for a query. Matching is
// case-insensitive; a plugin matches when any of its keywords appears as a
// substring of the query. Plugins are scanned in registration order and the
// first match wins, so registration order is the tiebreak.
func (r *Registry) Route(query string) (*Handle, bool) {
	lowered := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		h := r.handles[name]
		for _, kw := range h.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return h, true
			}
		}
	}
	return nil, false
}

// Dispatch routes a query and runs the matching plugin. No match is an
// error distinct from a plugin failure.
func (r *Registry) Dispatch(ctx context.Context, query string) (*capability.Result, error) {
	h, ok := r.Route(query)
	if !ok {
		return nil, fmt.Errorf("no plugin matches query %q", query)
	}
	return h.Plugin.Run(ctx, query)
}

// Package host owns the plugin lifecycle: discovery, policy-driven loading,
// query dispatch, restarts and shutdown. It is the component the watchdog,
// API and CLI all drive.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/config"
	"github.com/castellanhq/castellan/internal/events"
	"github.com/castellanhq/castellan/internal/log"
	"github.com/castellanhq/castellan/internal/manifest"
	"github.com/castellanhq/castellan/internal/native"
	"github.com/castellanhq/castellan/internal/policy"
	"github.com/castellanhq/castellan/internal/registry"
	"github.com/castellanhq/castellan/internal/worker"
)

// Host wires plugins from disk into the registry and keeps them running.
type Host struct {
	cfg    *config.Config
	reg    *registry.Registry
	policy *policy.Engine
	hub    *events.Hub
	logger *slog.Logger
}

// New creates a host around an empty registry.
func New(cfg *config.Config, eng *policy.Engine, hub *events.Hub) *Host {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Host{
		cfg:    cfg,
		reg:    registry.New(),
		policy: eng,
		hub:    hub,
		logger: log.WithComponent("host"),
	}
}

// Registry exposes the live plugin set for read access.
func (h *Host) Registry() *registry.Registry { return h.reg }

// Load discovers plugin files under the configured plugins directory and
// loads each one concurrently. A bad plugin is logged and skipped; only a
// missing or unreadable directory is fatal.
func (h *Host) Load(ctx context.Context) error {
	paths, err := h.discover()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.loadOne(ctx, path); err != nil {
				h.logger.Warn("Skipping plugin", "path", path, "error", err)
				h.hub.Publish(events.TypePluginLoadFailed, pluginStem(path), map[string]any{"error": err.Error()})
			}
		}()
	}
	wg.Wait()

	h.logger.Info("Plugin load complete", "discovered", len(paths), "registered", h.reg.Len())
	return nil
}

// discover lists candidate plugin files. Sidecar manifests, dotfiles and the
// checksum manifest are not plugins.
func (h *Host) discover() ([]string, error) {
	dir := h.cfg.PluginsDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugins directory %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".manifest.yaml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// loadOne takes a plugin file through manifest validation, the policy
// decision, spawn-or-instantiate and registration.
func (h *Host) loadOne(ctx context.Context, path string) error {
	stem := pluginStem(path)
	if !h.cfg.PluginEnabled(stem) {
		h.logger.Debug("Plugin disabled in config", "plugin", stem)
		return nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	if m == nil {
		h.logger.Warn("Plugin has no manifest, loading with defaults", "plugin", stem)
	}

	decision := h.policy.Decide(m)

	plugin, err := h.instantiate(m, stem, path, decision)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.Worker.CallTimeout.D())
	defer cancel()

	name, err := plugin.Name(callCtx)
	if err != nil {
		_ = plugin.Stop(context.Background())
		return err
	}
	if m != nil && m.Name != "" && m.Name != name {
		h.logger.Warn("Manifest name differs from reported name", "manifest", m.Name, "reported", name)
	}

	keywords, err := plugin.Keywords(callCtx)
	if err != nil {
		_ = plugin.Stop(context.Background())
		return err
	}

	handle := &registry.Handle{
		Name:       name,
		Path:       path,
		Keywords:   keywords,
		Plugin:     plugin,
		Decision:   decision,
		LastHealth: capability.Unknown(),
	}
	if err := h.reg.Add(handle); err != nil {
		_ = plugin.Stop(context.Background())
		return &capability.LoadError{Plugin: name, Reason: "registration rejected", Err: err}
	}

	h.logger.Info("Plugin registered", "plugin", name, "isolated", decision.Isolated, "network", string(decision.Network), "keywords", strings.Join(keywords, ","))
	h.hub.Publish(events.TypePluginLoaded, name, map[string]any{
		"isolated": decision.Isolated,
		"network":  string(decision.Network),
	})
	return nil
}

// instantiate builds the plugin per the policy decision: a worker subprocess
// for isolated plugins, a compiled-in implementation otherwise.
func (h *Host) instantiate(m *manifest.Manifest, stem, path string, decision policy.Decision) (capability.Plugin, error) {
	if !decision.Isolated || decision.Mode == manifest.ModeThread {
		name := stem
		if m != nil && m.Name != "" {
			name = m.Name
		}
		return native.New(name)
	}

	return worker.Spawn(worker.Options{
		PluginName:   stem,
		PluginPath:   path,
		Runtime:      h.cfg.Worker.Runtime,
		Entrypoint:   h.cfg.Worker.Entrypoint,
		CallTimeout:  h.cfg.Worker.CallTimeout.D(),
		RunTimeout:   h.cfg.RunTimeoutFor(stem),
		StopTimeout:  h.cfg.Worker.StopTimeout.D(),
		Limits:       decision.Limits,
		Network:      decision.Network,
		NetnsCommand: decision.NetnsCommand,
		Logger:       log.WithPlugin(stem),
	})
}

// Ask routes a query to the matching plugin and runs it.
func (h *Host) Ask(ctx context.Context, query string) (*capability.Result, error) {
	handle, ok := h.reg.Route(query)
	if !ok {
		return nil, fmt.Errorf("no plugin matches query %q", query)
	}

	h.hub.Publish(events.TypeQueryRouted, handle.Name, map[string]any{"query": query})

	runCtx, cancel := context.WithTimeout(ctx, h.cfg.RunTimeoutFor(handle.Name))
	defer cancel()
	return handle.Plugin.Run(runCtx, query)
}

// Plugins returns a snapshot of registered handles.
func (h *Host) Plugins() []*registry.Handle {
	return h.reg.List()
}

// ObserveHealth records the latest health observation on the handle.
func (h *Host) ObserveHealth(name string, rec capability.HealthRecord) {
	h.reg.RecordHealth(name, rec)
}

// Restart stops a plugin's current instance and brings up a fresh one in
// the same registry slot. Used by the watchdog and by operators. If the
// reload fails the stale handle is unregistered: a plugin that cannot come
// back must not stay routable.
func (h *Host) Restart(ctx context.Context, name string) error {
	handle, ok := h.reg.Get(name)
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}

	h.logger.Info("Restarting plugin", "plugin", name)
	if err := handle.Plugin.Stop(ctx); err != nil {
		h.logger.Warn("Stop before restart failed", "plugin", name, "error", err)
	}

	// Past this point the old instance is stopped. Any failure unregisters
	// the plugin instead of leaving a dead handle in the registry.
	fail := func(err error) error {
		h.reg.Remove(name)
		h.logger.Error("Plugin reload failed, unregistering", "plugin", name, "error", err)
		return err
	}

	m, err := manifest.Load(handle.Path)
	if err != nil {
		return fail(err)
	}
	decision := h.policy.Decide(m)

	plugin, err := h.instantiate(m, pluginStem(handle.Path), handle.Path, decision)
	if err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.Worker.CallTimeout.D())
	defer cancel()

	reported, err := plugin.Name(callCtx)
	if err != nil {
		_ = plugin.Stop(context.Background())
		return fail(err)
	}
	if reported != name {
		_ = plugin.Stop(context.Background())
		return fail(fmt.Errorf("restarted plugin reports name %q, expected %q", reported, name))
	}

	keywords, err := plugin.Keywords(callCtx)
	if err != nil {
		_ = plugin.Stop(context.Background())
		return fail(err)
	}

	if err := h.reg.Replace(name, plugin, keywords); err != nil {
		_ = plugin.Stop(context.Background())
		return fail(err)
	}

	h.logger.Info("Plugin restarted", "plugin", name)
	return nil
}

// Remove takes a plugin out of the registry and stops its instance.
func (h *Host) Remove(ctx context.Context, name string) error {
	handle, ok := h.reg.Remove(name)
	if !ok {
		return fmt.Errorf("plugin %q not registered", name)
	}
	if err := handle.Plugin.Stop(ctx); err != nil {
		h.logger.Warn("Stop on removal failed", "plugin", name, "error", err)
	}
	h.logger.Info("Plugin removed", "plugin", name)
	return nil
}

// Shutdown stops every registered plugin concurrently. Each stop gets its
// own slice of the deadline so one wedged worker cannot starve the rest.
func (h *Host) Shutdown(ctx context.Context) {
	handles := h.reg.List()
	h.logger.Info("Shutting down plugins", "count", len(handles))

	var wg sync.WaitGroup
	for _, handle := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, h.cfg.Worker.StopTimeout.D()+2*time.Second)
			defer cancel()
			if err := handle.Plugin.Stop(stopCtx); err != nil {
				h.logger.Warn("Plugin stop failed during shutdown", "plugin", handle.Name, "error", err)
			}
			h.reg.Remove(handle.Name)
		}()
	}
	wg.Wait()
	h.logger.Info("All plugins stopped")
}

func pluginStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

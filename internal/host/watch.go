package host

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/castellanhq/castellan/internal/registry"
)

const watchSettle = 500 * time.Millisecond

// Watch follows the plugins directory and folds filesystem changes back into
// the registry: new plugin files are loaded, changed plugin or manifest files
// trigger a restart, deleted plugin files are unloaded. Blocks until ctx is
// cancelled.
func (h *Host) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(h.cfg.PluginsDir); err != nil {
		return err
	}
	h.logger.Info("Watching plugins directory", "dir", h.cfg.PluginsDir)

	// Editors fire bursts of writes; coalesce per path and act once the
	// file settles.
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(watchSettle)
			return
		}
		timers[path] = time.AfterFunc(watchSettle, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			h.reconcile(ctx, path)
		})
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(pluginFileFor(event.Name))
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if !strings.HasSuffix(name, ".manifest.yaml") {
					h.unloadPath(ctx, event.Name)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Warn("Plugin watcher error", "error", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pluginFileFor maps a changed file to the plugin it belongs to: a manifest
// change points at its plugin file, anything else is the plugin itself.
func pluginFileFor(path string) string {
	if strings.HasSuffix(path, ".manifest.yaml") {
		return strings.TrimSuffix(path, ".manifest.yaml")
	}
	return path
}

// reconcile loads or restarts the plugin backing a settled file change.
// The changed manifest may pair with a plugin file of any extension, so the
// handle is looked up by path stem.
func (h *Host) reconcile(ctx context.Context, path string) {
	if handle := h.findByStem(path); handle != nil {
		h.logger.Info("Plugin file changed, restarting", "plugin", handle.Name)
		if err := h.Restart(ctx, handle.Name); err != nil {
			h.logger.Warn("Restart after file change failed", "plugin", handle.Name, "error", err)
		}
		return
	}

	paths, err := h.discover()
	if err != nil {
		h.logger.Warn("Discovery after file change failed", "error", err)
		return
	}
	stem := pluginStem(path)
	for _, p := range paths {
		if pluginStem(p) != stem {
			continue
		}
		if err := h.loadOne(ctx, p); err != nil {
			h.logger.Warn("Loading new plugin failed", "path", p, "error", err)
		}
		return
	}
}

func (h *Host) unloadPath(ctx context.Context, path string) {
	if handle := h.findByStem(path); handle != nil {
		h.logger.Info("Plugin file removed, unloading", "plugin", handle.Name)
		if err := h.Remove(ctx, handle.Name); err != nil {
			h.logger.Warn("Unload failed", "plugin", handle.Name, "error", err)
		}
	}
}

func (h *Host) findByStem(path string) *registry.Handle {
	stem := pluginStem(path)
	for _, handle := range h.reg.List() {
		if pluginStem(handle.Path) == stem {
			return handle
		}
	}
	return nil
}

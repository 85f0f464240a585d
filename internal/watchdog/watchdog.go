// Package watchdog polls plugin health on an interval and restarts failing
// plugins within a bounded retry budget. A plugin that stays failing after
// the budget is spent is removed permanently and raised as a critical
// incident for the operator.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/events"
)

// Options tunes the watchdog loop.
type Options struct {
	// Interval between health sweeps.
	Interval time.Duration
	// RetryLimit is how many restarts a failing plugin gets before it is
	// removed for good.
	RetryLimit int
	// CheckTimeout bounds a single health probe.
	CheckTimeout time.Duration
}

// Watchdog supervises registered plugins.
type Watchdog struct {
	opts   Options
	sup    Supervisor
	audit  Auditor
	events *events.Hub
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures map[string]int
}

// New creates a watchdog. Zero option fields fall back to defaults.
func New(opts Options, sup Supervisor, audit Auditor, hub *events.Hub, logger *slog.Logger) *Watchdog {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Second
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = 3
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Second
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Watchdog{
		opts:     opts,
		sup:      sup,
		audit:    audit,
		events:   hub,
		logger:   logger.With("component", "watchdog"),
		stopCh:   make(chan struct{}),
		failures: make(map[string]int),
	}
}

// Start begins the health sweep loop.
func (w *Watchdog) Start(ctx context.Context) {
	w.logger.Info("Starting watchdog", "interval", w.opts.Interval, "retry_limit", w.opts.RetryLimit)
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop stops the loop. Returns once the in-flight sweep, if any, finishes.
func (w *Watchdog) Stop() {
	w.logger.Info("Stopping watchdog")
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("Watchdog stopped")
}

// ResetFailures clears the retry budget for a plugin so an operator-fixed
// plugin starts from a clean slate.
func (w *Watchdog) ResetFailures(name string) {
	w.mu.Lock()
	delete(w.failures, name)
	w.mu.Unlock()
}

// RestartPlugin is the operator-initiated restart path (API and CLI). A
// successful manual restart also restores the plugin's full retry budget.
func (w *Watchdog) RestartPlugin(ctx context.Context, name string) error {
	w.logger.Info("Manual restart requested", "plugin", name)
	if err := w.sup.Restart(ctx, name); err != nil {
		return err
	}
	w.ResetFailures(name)
	return nil
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()

	w.Sweep(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.logger.Warn("Watchdog context cancelled, stopping sweep loop")
			return
		}
	}
}

// Sweep probes every registered plugin once and reacts to failures.
func (w *Watchdog) Sweep(ctx context.Context) {
	for _, h := range w.sup.Plugins() {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		w.check(ctx, h.Name, h.Plugin)
	}
}

func (w *Watchdog) check(ctx context.Context, name string, plugin capability.Plugin) {
	probeCtx, cancel := context.WithTimeout(ctx, w.opts.CheckTimeout)
	rec, err := plugin.Health(probeCtx)
	cancel()

	if err != nil {
		// A plugin that cannot answer its health probe is as dead as one
		// that reports down.
		rec = capability.HealthRecord{
			Status:    capability.StatusDown,
			Detail:    err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}

	w.sup.ObserveHealth(name, rec)
	if auditErr := w.audit.RecordHealth(ctx, name, rec); auditErr != nil {
		w.logger.Error("Failed to persist health observation", "plugin", name, "error", auditErr)
	}
	w.events.Publish(events.TypePluginHealth, name, rec)

	if !rec.Status.Failing() {
		w.mu.Lock()
		delete(w.failures, name)
		w.mu.Unlock()
		return
	}

	w.logger.Warn("Plugin failing health check", "plugin", name, "status", string(rec.Status), "detail", rec.Detail)
	w.handleFailure(ctx, name, rec)
}

// handleFailure spends one unit of the plugin's retry budget on a restart,
// or removes the plugin once the budget is gone.
func (w *Watchdog) handleFailure(ctx context.Context, name string, rec capability.HealthRecord) {
	w.mu.Lock()
	attempt := w.failures[name] + 1
	w.failures[name] = attempt
	w.mu.Unlock()

	reason := "health check failing: " + string(rec.Status)

	if attempt > w.opts.RetryLimit {
		attempts := attempt - 1
		exhausted := &capability.RestartExhausted{Plugin: name, Attempts: attempts}
		if auditErr := w.audit.RecordRestart(ctx, name, attempts, "retry budget exhausted", "removed", ""); auditErr != nil {
			w.logger.Error("Failed to persist removal", "plugin", name, "error", auditErr)
		}
		w.remove(ctx, name, attempts, exhausted.Error())
		return
	}

	w.logger.Info("Restarting failing plugin", "plugin", name, "attempt", attempt, "retry_limit", w.opts.RetryLimit)

	if err := w.sup.Restart(ctx, name); err != nil {
		// A plugin whose reload fails stays out of service; there is no
		// further automatic recovery.
		w.logger.Error("Plugin restart failed", "plugin", name, "attempt", attempt, "error", err)
		if auditErr := w.audit.RecordRestart(ctx, name, attempt, reason, "failed", err.Error()); auditErr != nil {
			w.logger.Error("Failed to persist restart attempt", "plugin", name, "error", auditErr)
		}
		w.remove(ctx, name, attempt, "restart failed: "+err.Error())
		return
	}

	if auditErr := w.audit.RecordRestart(ctx, name, attempt, reason, "recovered", rec.Detail); auditErr != nil {
		w.logger.Error("Failed to persist restart attempt", "plugin", name, "error", auditErr)
	}
	w.events.Publish(events.TypePluginRestarted, name, map[string]any{"attempt": attempt})
}

// remove takes a plugin out of service permanently and raises a critical
// incident. The plugin only comes back through operator intervention.
func (w *Watchdog) remove(ctx context.Context, name string, attempts int, cause string) {
	w.logger.Error("Removing plugin permanently", "plugin", name, "attempts", attempts, "cause", cause)

	// A failed reload may already have unregistered the plugin; removal is
	// idempotent from the watchdog's point of view.
	if remErr := w.sup.Remove(ctx, name); remErr != nil {
		w.logger.Warn("Plugin removal", "plugin", name, "error", remErr)
	}

	w.mu.Lock()
	delete(w.failures, name)
	w.mu.Unlock()

	incidentID, auditErr := w.audit.RecordIncident(ctx, name, "plugin_removed", cause)
	if auditErr != nil {
		w.logger.Error("Failed to persist incident", "plugin", name, "error", auditErr)
	}

	w.events.Publish(events.TypePluginRemoved, name, map[string]any{"attempts": attempts})
	w.events.Publish(events.TypeCriticalAlert, name, map[string]any{
		"incident_id": incidentID,
		"message":     cause,
	})
}

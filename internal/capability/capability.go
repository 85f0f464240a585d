// Package capability defines the contract every loaded plugin satisfies,
// whether it runs in-process or behind a sandboxed worker process. The host
// only ever talks to plugins through this interface.
package capability

import (
	"context"
	"time"
)

// Status is the coarse health classification reported by a plugin.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusError     Status = "error"
	StatusUnhealthy Status = "unhealthy"
	StatusDown      Status = "down"
	StatusUnknown   Status = "unknown"
)

// Failing reports whether the status should trigger a watchdog restart.
func (s Status) Failing() bool {
	return s == StatusError || s == StatusUnhealthy || s == StatusDown
}

// HealthRecord is the last known health observation for a plugin.
type HealthRecord struct {
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Unknown returns a HealthRecord for a plugin that has not reported yet.
func Unknown() HealthRecord {
	return HealthRecord{Status: StatusUnknown, Timestamp: time.Now().UTC()}
}

// Result is the structured outcome of a plugin invocation.
type Result struct {
	Type    string `json:"type"`
	Tool    string `json:"tool"`
	Content any    `json:"content"`
}

// Plugin is the capability contract. Run is the primary invocation; Health
// and Stop are best-effort and must tolerate a dead backend.
type Plugin interface {
	// Name returns the plugin's unique identifier.
	Name(ctx context.Context) (string, error)

	// Keywords returns routing hints matched case-insensitively against
	// incoming queries.
	Keywords(ctx context.Context) ([]string, error)

	// Run executes the plugin against a query.
	Run(ctx context.Context, query string) (*Result, error)

	// Health reports the plugin's current condition. Implementations without
	// a health probe return StatusUnknown rather than an error.
	Health(ctx context.Context) (HealthRecord, error)

	// Stop asks the plugin to shut down. Best-effort; must not block
	// indefinitely on an unresponsive backend.
	Stop(ctx context.Context) error
}

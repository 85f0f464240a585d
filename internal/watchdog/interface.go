package watchdog

import (
	"context"

	"github.com/castellanhq/castellan/internal/capability"
	"github.com/castellanhq/castellan/internal/registry"
)

//go:generate mockgen -destination=mocks/mock_supervisor.go -package=mocks github.com/castellanhq/castellan/internal/watchdog Supervisor,Auditor

// Supervisor defines the plugin lifecycle operations the watchdog drives on
// the host.
type Supervisor interface {
	Plugins() []*registry.Handle
	ObserveHealth(name string, rec capability.HealthRecord)
	Restart(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// Auditor persists watchdog observations and decisions.
type Auditor interface {
	RecordHealth(ctx context.Context, plugin string, rec capability.HealthRecord) error
	RecordRestart(ctx context.Context, plugin string, attempt int, reason, outcome, detail string) error
	RecordIncident(ctx context.Context, plugin, kind, message string) (string, error)
}

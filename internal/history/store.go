// Package history persists health observations, restart attempts and
// incidents so operators can audit what the watchdog did and why.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/capability"
)

// Restart outcomes recorded in the audit log.
const (
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
	OutcomeRemoved   = "removed"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// HealthEntry is one persisted health observation.
type HealthEntry struct {
	ID         string    `json:"id"`
	Plugin     string    `json:"plugin"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// RestartEntry is one persisted restart attempt.
type RestartEntry struct {
	ID         string    `json:"id"`
	Plugin     string    `json:"plugin"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordHealth appends a health observation for a plugin.
func (s *Store) RecordHealth(ctx context.Context, plugin string, rec capability.HealthRecord) error {
	if plugin == "" {
		return fmt.Errorf("plugin is empty")
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO health_log(id, plugin, status, detail, observed_at)
VALUES(?, ?, ?, ?, ?);
`, uuid.NewString(), plugin, string(rec.Status), rec.Detail, ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record health: %w", err)
	}
	return nil
}

// RecordRestart appends one restart attempt and its outcome.
func (s *Store) RecordRestart(ctx context.Context, plugin string, attempt int, reason, outcome, detail string) error {
	if plugin == "" {
		return fmt.Errorf("plugin is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO restart_log(id, plugin, attempt, reason, outcome, detail, occurred_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, uuid.NewString(), plugin, attempt, reason, outcome, detail, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record restart: %w", err)
	}
	return nil
}

// RecordIncident stores an operator-facing incident and returns its id.
func (s *Store) RecordIncident(ctx context.Context, plugin, kind, message string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO incidents(id, plugin, kind, message, occurred_at)
VALUES(?, ?, ?, ?, ?);
`, id, plugin, kind, message, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("record incident: %w", err)
	}
	return id, nil
}

// RecentHealth returns the newest health observations for a plugin,
// newest-first.
func (s *Store) RecentHealth(ctx context.Context, plugin string, limit int) ([]HealthEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, plugin, status, detail, observed_at
FROM health_log
WHERE plugin = ?
ORDER BY observed_at DESC, rowid DESC
LIMIT ?;
`, plugin, limit)
	if err != nil {
		return nil, fmt.Errorf("query health log: %w", err)
	}
	defer rows.Close()

	var out []HealthEntry
	for rows.Next() {
		var (
			e      HealthEntry
			detail sql.NullString
			atS    string
		)
		if err := rows.Scan(&e.ID, &e.Plugin, &e.Status, &detail, &atS); err != nil {
			return nil, fmt.Errorf("scan health entry: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		if t, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			e.ObservedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Restarts returns the newest restart attempts for a plugin, newest-first.
// An empty plugin name returns attempts across all plugins.
func (s *Store) Restarts(ctx context.Context, plugin string, limit int) ([]RestartEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, plugin, attempt, reason, outcome, detail, occurred_at
FROM restart_log
`
	args := []any{}
	if plugin != "" {
		query += "WHERE plugin = ?\n"
		args = append(args, plugin)
	}
	query += "ORDER BY occurred_at DESC, rowid DESC\nLIMIT ?;"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query restart log: %w", err)
	}
	defer rows.Close()

	var out []RestartEntry
	for rows.Next() {
		var (
			e      RestartEntry
			detail sql.NullString
			atS    string
		)
		if err := rows.Scan(&e.ID, &e.Plugin, &e.Attempt, &e.Reason, &e.Outcome, &detail, &atS); err != nil {
			return nil, fmt.Errorf("scan restart entry: %w", err)
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		if t, err := time.Parse(time.RFC3339Nano, atS); err == nil {
			e.OccurredAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

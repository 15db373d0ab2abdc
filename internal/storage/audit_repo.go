package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jcarver/tower/internal/observe"
)

// AuditRepo persists audit batches to the audit_log table.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch inserts a batch of audit events in one transaction.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []observe.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO audit_log
  (id, invocation_id, agent, tool, action, rule_id, status, detail, duration_ms, created_at)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		id := ev.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			id, ev.InvocationID, ev.Agent, ev.Tool, ev.Action, ev.RuleID,
			ev.Status, ev.Detail, ev.DurationMs,
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentByInvocation returns the audit trail for one invocation, oldest first.
func (r *AuditRepo) RecentByInvocation(ctx context.Context, invocationID string) ([]observe.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, invocation_id, agent, tool,
  COALESCE(action, ''), COALESCE(rule_id, ''), status, COALESCE(detail, ''),
  COALESCE(duration_ms, 0), created_at
  FROM audit_log WHERE invocation_id = ? ORDER BY created_at ASC;`, invocationID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []observe.AuditEvent
	for rows.Next() {
		var ev observe.AuditEvent
		var created string
		if err := rows.Scan(&ev.ID, &ev.InvocationID, &ev.Agent, &ev.Tool,
			&ev.Action, &ev.RuleID, &ev.Status, &ev.Detail, &ev.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			ev.Timestamp = ts
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

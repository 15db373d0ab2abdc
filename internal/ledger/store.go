package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeColumnFormat is the fixed-width UTC layout for TEXT timestamp columns.
// The reset-boundary queries compare timestamps lexicographically, which is
// only chronological when every value has the same width; RFC3339Nano trims
// trailing fractional zeros and breaks that.
const timeColumnFormat = "2006-01-02T15:04:05.000000000Z"

// ModelUsage is aggregated spend for one model.
type ModelUsage struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Store persists usage records and the billing-period reset marker.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts a usage record. Records are append-only.
func (s *Store) Append(ctx context.Context, rec UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_records
  (id, invocation_id, model, tokens, cost, recorded_at)
  VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.InvocationID, rec.Model, rec.Tokens, rec.Cost,
		rec.RecordedAt.UTC().Format(timeColumnFormat))
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// TotalCostSinceReset sums recorded cost after the last reset marker.
func (s *Store) TotalCostSinceReset(ctx context.Context) (float64, error) {
	resetAt, err := s.lastReset(ctx)
	if err != nil {
		return 0, err
	}

	var total sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		"SELECT SUM(cost) FROM usage_records WHERE recorded_at > ?;", resetAt).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage cost: %w", err)
	}
	return total.Float64, nil
}

// ByModelSinceReset aggregates tokens and cost per model after the last reset.
func (s *Store) ByModelSinceReset(ctx context.Context) (map[string]ModelUsage, error) {
	resetAt, err := s.lastReset(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT model, SUM(tokens), SUM(cost)
  FROM usage_records WHERE recorded_at > ? GROUP BY model;`, resetAt)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ModelUsage)
	for rows.Next() {
		var model string
		var u ModelUsage
		if err := rows.Scan(&model, &u.Tokens, &u.Cost); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out[model] = u
	}
	return out, rows.Err()
}

// MarkReset records the start of a new billing period.
func (s *Store) MarkReset(ctx context.Context) error {
	now := time.Now().UTC().Format(timeColumnFormat)
	_, err := s.db.ExecContext(ctx, `INSERT INTO ledger_meta (key, value) VALUES ('last_reset', ?)
  ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, now)
	if err != nil {
		return fmt.Errorf("write reset marker: %w", err)
	}
	return nil
}

func (s *Store) lastReset(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM ledger_meta WHERE key = 'last_reset';").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read reset marker: %w", err)
	}
	return v, nil
}

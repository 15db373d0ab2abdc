// Package ledger is the thread-safe accumulator of token/cost usage across
// all agents. It owns the budget threshold state and the model price table.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcarver/tower/internal/log"
)

// ErrLedgerUnavailable is returned when the backing store cannot be opened.
// It is fatal at startup, never recovered at runtime.
var ErrLedgerUnavailable = errors.New("ledger storage unavailable")

// ErrUnknownModel is returned for usage reported against a model that has no
// entry in the price table.
var ErrUnknownModel = errors.New("model not in price table")

// Tier is a budget threshold tier. Once crossed it only advances; it never
// resets except through an explicit Reset.
type Tier int

const (
	TierNone Tier = iota
	TierWarning
	TierCritical
)

const (
	warningFraction  = 0.80
	criticalFraction = 0.95
)

func (t Tier) String() string {
	switch t {
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// UsageRecord is one append-only usage entry. Never mutated after creation.
type UsageRecord struct {
	ID           string    `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Model        string    `json:"model"`
	Tokens       int64     `json:"tokens"`
	Cost         float64   `json:"cost"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// BudgetState is a point-in-time snapshot of the budget.
type BudgetState struct {
	Limit     float64 `json:"limit"`
	Total     float64 `json:"total"`
	Remaining float64 `json:"remaining"`
	Percent   float64 `json:"percent"`
	Tier      string  `json:"tier"`
	HardLimit bool    `json:"hard_limit"`
}

// AlertFunc is invoked at most once per tier crossing per reset cycle.
type AlertFunc func(tier string, total, limit float64)

// Ledger accumulates usage cost and tracks threshold crossings. The
// accumulate-and-check is a single critical section so two concurrent
// callers can never both observe "below threshold" across a crossing.
type Ledger struct {
	store     *Store
	prices    map[string]float64
	hardLimit bool
	onAlert   AlertFunc
	logger    *slog.Logger

	mu    sync.Mutex
	limit float64
	total float64
	tier  Tier
}

// New builds a ledger over an opened store. The running total is primed from
// usage recorded since the last explicit reset, so a process restart does not
// silently forgive spend.
func New(ctx context.Context, store *Store, limit float64, prices map[string]float64, hardLimit bool, onAlert AlertFunc) (*Ledger, error) {
	if store == nil {
		return nil, ErrLedgerUnavailable
	}
	if limit <= 0 {
		return nil, fmt.Errorf("budget limit must be positive, got %v", limit)
	}

	total, err := store.TotalCostSinceReset(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	l := &Ledger{
		store:     store,
		prices:    prices,
		hardLimit: hardLimit,
		onAlert:   onAlert,
		logger:    log.WithComponent("ledger"),
		limit:     limit,
		total:     total,
	}

	// Prime the tier without alerting: crossings that already happened in a
	// previous process were alerted then.
	l.tier = tierFor(total, limit)
	return l, nil
}

// RecordUsage computes cost from the price table, appends the usage record,
// and atomically folds the cost into the running total, firing at most one
// alert per newly crossed tier.
func (l *Ledger) RecordUsage(ctx context.Context, invocationID, model string, tokens int64) (UsageRecord, error) {
	price, ok := l.prices[model]
	if !ok {
		return UsageRecord{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	if tokens < 0 {
		return UsageRecord{}, fmt.Errorf("negative token count %d", tokens)
	}

	rec := UsageRecord{
		ID:           uuid.New().String(),
		InvocationID: invocationID,
		Model:        model,
		Tokens:       tokens,
		Cost:         float64(tokens) / 1000.0 * price,
		RecordedAt:   time.Now().UTC(),
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return UsageRecord{}, fmt.Errorf("append usage record: %w", err)
	}

	var crossed Tier
	l.mu.Lock()
	l.total += rec.Cost
	if next := tierFor(l.total, l.limit); next > l.tier {
		l.tier = next
		crossed = next
	}
	total, limit := l.total, l.limit
	l.mu.Unlock()

	if crossed > TierNone && l.onAlert != nil {
		l.onAlert(crossed.String(), total, limit)
	}

	l.logger.Debug("usage recorded",
		"invocation_id", invocationID, "model", model, "tokens", tokens, "cost", rec.Cost)
	return rec, nil
}

// CheckBudget returns a snapshot of the current budget state.
func (l *Ledger) CheckBudget() BudgetState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return BudgetState{
		Limit:     l.limit,
		Total:     l.total,
		Remaining: l.limit - l.total,
		Percent:   l.total / l.limit * 100,
		Tier:      l.tier.String(),
		HardLimit: l.hardLimit,
	}
}

// Exhausted reports whether the hard limit (if enabled) refuses further
// dispatches. With hard_limit off, overruns alert but never block.
func (l *Ledger) Exhausted() bool {
	if !l.hardLimit {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total >= l.limit
}

// Reset starts a new billing period: the running total and crossed tier are
// cleared and the reset point is persisted. Usage records remain as history.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.store.MarkReset(ctx); err != nil {
		return fmt.Errorf("persist ledger reset: %w", err)
	}

	l.mu.Lock()
	l.total = 0
	l.tier = TierNone
	l.mu.Unlock()

	l.logger.Info("budget reset")
	return nil
}

// UsageByModel aggregates recorded usage per model for the current period.
func (l *Ledger) UsageByModel(ctx context.Context) (map[string]ModelUsage, error) {
	return l.store.ByModelSinceReset(ctx)
}

// Prices returns the static price table (per 1000 tokens).
func (l *Ledger) Prices() map[string]float64 {
	out := make(map[string]float64, len(l.prices))
	for k, v := range l.prices {
		out[k] = v
	}
	return out
}

func tierFor(total, limit float64) Tier {
	switch {
	case total >= limit*criticalFraction:
		return TierCritical
	case total >= limit*warningFraction:
		return TierWarning
	default:
		return TierNone
	}
}

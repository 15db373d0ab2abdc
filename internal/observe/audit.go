package observe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditEvent is one persisted audit record: a guardrail decision or a
// terminal invocation outcome.
type AuditEvent struct {
	ID           string         `json:"id"`
	InvocationID string         `json:"invocation_id"`
	Agent        string         `json:"agent"`
	Tool         string         `json:"tool"`
	Action       string         `json:"action,omitempty"`
	RuleID       string         `json:"rule_id,omitempty"` // matched rule, or "none"
	Status       string         `json:"status"`
	Detail       string         `json:"detail,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AuditStore persists batches of audit events.
type AuditStore interface {
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

const (
	auditBufferSize = 4096
	auditBatchSize  = 100
	auditFlushEvery = 500 * time.Millisecond
)

// AuditWriter decouples the dispatch hot path from audit persistence.
// Write never blocks: events are buffered and flushed in batches by a
// background worker; on overflow the event is dropped with a local log line.
type AuditWriter struct {
	ch      chan AuditEvent
	store   AuditStore
	metrics *Metrics
	logger  *slog.Logger
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewAuditWriter(store AuditStore, metrics *Metrics, logger *slog.Logger) *AuditWriter {
	return &AuditWriter{
		ch:      make(chan AuditEvent, auditBufferSize),
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the background flush worker.
func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop closes the intake and waits for the final flush.
func (w *AuditWriter) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
}

// Write enqueues an audit event. It never blocks and never fails the caller.
func (w *AuditWriter) Write(ev AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("audit event dropped: writer is stopping", "invocation_id", ev.InvocationID)
		return
	}

	select {
	case w.ch <- ev:
		if w.metrics != nil {
			w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
		}
	default:
		// Load shedding: keep the hot path moving, leave a trace locally.
		w.logger.Error("audit buffer overflow, event dropped",
			"invocation_id", ev.InvocationID, "agent", ev.Agent)
	}
	w.mu.Unlock()
}

func (w *AuditWriter) worker() {
	defer w.wg.Done()

	batch := make([]AuditEvent, 0, auditBatchSize)
	ticker := time.NewTicker(auditFlushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background context: the serving context may already be gone
		// during shutdown.
		if err := w.store.WriteBatch(context.Background(), batch); err != nil {
			w.logger.Error("audit flush failed", "error", err, "events", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= auditBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
			if w.metrics != nil {
				w.metrics.AuditBufferFill.Set(float64(len(w.ch)))
			}
		}
	}
}

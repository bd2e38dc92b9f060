package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nudge/internal/job"
	"nudge/internal/metrics"
	"nudge/internal/queue"
)

// Handler sends one notification. Return Skip(reason) when the
// notification no longer applies; any other error is retried by the broker.
type Handler func(ctx context.Context, p job.Payload) error

// Table maps categories to handlers for one entity family.
type Table map[job.Category]Handler

type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func Skip(reason string) error { return &SkipError{Reason: reason} }

// Lifecycle statuses written to the job event log.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"

	EventExhausted = "job_exhausted_retries"

	ReasonUnknownCategory = "unknown category"
)

// Worker dispatches delivered jobs to handlers and records their lifecycle.
type Worker struct {
	table Table
	log   *zap.Logger
	now   func() time.Time
}

// New merges per-family tables into one dispatch table. A category claimed by
// two tables is a wiring error.
func New(log *zap.Logger, tables ...Table) (*Worker, error) {
	merged := Table{}
	for _, t := range tables {
		for c, h := range t {
			if _, dup := merged[c]; dup {
				return nil, fmt.Errorf("worker: category %q registered twice", c)
			}
			merged[c] = h
		}
	}
	return &Worker{table: merged, log: log.Named("worker"), now: time.Now}, nil
}

// Process runs one delivery. It returns nil for completed and skipped jobs
// and the handler error for failures, so the broker can retry.
func (w *Worker) Process(ctx context.Context, d queue.Delivery) error {
	start := w.now()
	cat := d.Payload.Category
	key := d.Key
	if key == "" {
		key = d.Payload.Key()
	}
	base := []zap.Field{
		zap.String("jobId", key),
		zap.String("category", string(cat)),
		zap.String("entityId", d.Payload.EntityID),
		zap.String("fundId", d.Payload.FundID),
		zap.Int("attempt", d.Attempt),
	}

	w.event(StatusStarted, cat, base)

	h, ok := w.table[cat]
	if !ok {
		w.event(StatusSkipped, cat, base, zap.String("reason", ReasonUnknownCategory))
		return nil
	}

	err := call(ctx, h, d.Payload)
	elapsed := w.now().Sub(start)
	metrics.JobDuration.WithLabelValues(string(cat)).Observe(elapsed.Seconds())

	var skip *SkipError
	switch {
	case err == nil:
		w.event(StatusCompleted, cat, base, duration(elapsed))
		return nil
	case errors.As(err, &skip):
		w.event(StatusSkipped, cat, base, duration(elapsed), zap.String("reason", skip.Reason))
		return nil
	}

	w.event(StatusFailed, cat, base, duration(elapsed), zap.String("error", err.Error()))
	if d.Final() {
		metrics.JobEvents.WithLabelValues(string(cat), EventExhausted).Inc()
		w.log.Error("job exhausted retries", append(base,
			zap.String("event", EventExhausted),
			zap.Time("timestamp", w.now()),
			zap.Int("maxAttempts", d.MaxAttempts),
			zap.String("error", err.Error()),
		)...)
	}
	return err
}

// call turns a handler panic into an ordinary failure so it is logged,
// counted and retried like any other error.
func call(ctx context.Context, h Handler, p job.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, p)
}

// Handle adapts Process to the broker's handler signature.
func (w *Worker) Handle() queue.HandlerFunc { return w.Process }

func (w *Worker) Categories() []job.Category {
	out := make([]job.Category, 0, len(w.table))
	for c := range w.table {
		out = append(out, c)
	}
	return out
}

func (w *Worker) event(status string, c job.Category, base []zap.Field, extra ...zap.Field) {
	metrics.JobEvents.WithLabelValues(string(c), status).Inc()

	fields := make([]zap.Field, 0, len(base)+len(extra)+2)
	fields = append(fields, zap.Time("timestamp", w.now()), zap.String("status", status))
	fields = append(fields, base...)
	fields = append(fields, extra...)

	switch status {
	case StatusFailed:
		w.log.Warn("job "+status, fields...)
	default:
		w.log.Info("job "+status, fields...)
	}
}

func duration(d time.Duration) zap.Field {
	return zap.Int64("durationMs", d.Milliseconds())
}

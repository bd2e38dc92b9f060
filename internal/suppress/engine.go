package suppress

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nudge/internal/entity"
	"nudge/internal/job"
	"nudge/internal/metrics"
	"nudge/internal/policy"
	"nudge/internal/queue"
)

// Outcome is the result of one cancel call.
type Outcome struct {
	Key       string
	Category  job.Category
	Cancelled bool
	Err       error
}

// Engine cancels pending notifications made irrelevant by a state change.
// Cancels are best effort: a job that is already executing stays, and the
// worker's state check drops it.
type Engine struct {
	q   queue.Queue
	log *zap.Logger
}

func New(q queue.Queue, log *zap.Logger) *Engine {
	return &Engine{q: q, log: log.Named("suppress")}
}

// OnTransition looks up the suppression table and cancels every matching
// category for the entity. It never fails; per-key results are returned.
func (e *Engine) OnTransition(ctx context.Context, f job.Family, entityID string, to, from entity.State) []Outcome {
	cats := policy.Suppressed(f, to, from)
	if len(cats) == 0 || entityID == "" {
		return nil
	}
	if !queue.Available(e.q) {
		e.log.Warn("notification queue unavailable, skipping suppression",
			zap.String("family", string(f)),
			zap.String("entity_id", entityID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return nil
	}

	out := make([]Outcome, len(cats))
	var g errgroup.Group
	for i, c := range cats {
		g.Go(func() error {
			out[i] = e.cancel(ctx, c, entityID)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, o := range out {
		if o.Cancelled {
			n++
		}
	}
	e.log.Info("transition suppressed notifications",
		zap.String("family", string(f)),
		zap.String("entity_id", entityID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("candidates", len(cats)),
		zap.Int("cancelled", n))
	return out
}

func (e *Engine) cancel(ctx context.Context, c job.Category, entityID string) Outcome {
	key := job.Key(c, entityID)
	ok, err := e.q.Cancel(ctx, key)
	switch {
	case err != nil:
		metrics.JobsCancelled.WithLabelValues(string(c), "error").Inc()
		e.log.Warn("cancel failed", zap.String("key", key), zap.Error(err))
	case ok:
		metrics.JobsCancelled.WithLabelValues(string(c), "cancelled").Inc()
	default:
		metrics.JobsCancelled.WithLabelValues(string(c), "absent").Inc()
	}
	return Outcome{Key: key, Category: c, Cancelled: ok, Err: err}
}

// HandleStatusChange is OnTransition for capital call line items.
func (e *Engine) HandleStatusChange(ctx context.Context, lineItemID string, newStatus, oldStatus entity.State) []Outcome {
	return e.OnTransition(ctx, job.FamilyCapitalCall, lineItemID, newStatus, oldStatus)
}

// CancelAll cancels every category of the family for the entity, for
// entities deleted outright.
func (e *Engine) CancelAll(ctx context.Context, f job.Family, entityID string) []Outcome {
	if !queue.Available(e.q) {
		return nil
	}
	cats := job.Categories(f)
	out := make([]Outcome, len(cats))
	var g errgroup.Group
	for i, c := range cats {
		g.Go(func() error {
			out[i] = e.cancel(ctx, c, entityID)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

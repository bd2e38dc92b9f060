package pgqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"nudge/internal/job"
	"nudge/internal/metrics"
	"nudge/internal/queue"
	jobworker "nudge/internal/worker"
)

type worker struct {
	id   string
	q    *Queue
	h    queue.HandlerFunc
	wake <-chan struct{}
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(w.q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
		w.drain(ctx)
	}
}

// drain claims and handles jobs until none are due.
func (w *worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		j, err := w.q.repo.Claim(ctx, w.q.opts.Name, w.id)
		if err != nil {
			if ctx.Err() == nil {
				w.q.log.Warn("claim failed", zap.String("worker", w.id), zap.Error(err))
			}
			return
		}
		if j == nil {
			return
		}
		w.handle(ctx, j)
	}
}

func (w *worker) handle(ctx context.Context, j *Job) {
	// bookkeeping must land even when shutdown cancels ctx mid-job
	bctx := context.WithoutCancel(ctx)
	// Claim already counted this attempt.
	attempt := j.Attempts

	p, err := job.Decode(j.Payload)
	if err != nil {
		w.q.log.Error("bad payload", zap.String("key", j.Key), zap.Error(err))
		w.mark(w.q.repo.MarkFailed(bctx, j.ID, attempt, "bad payload: "+err.Error()), j)
		return
	}

	d := queue.Delivery{
		Key:         j.Key,
		Payload:     p,
		Attempt:     attempt,
		MaxAttempts: j.MaxAttempts,
	}
	if err := w.call(ctx, d); err != nil {
		w.retry(bctx, j, attempt, err.Error())
		return
	}
	w.mark(w.q.repo.MarkDone(bctx, j.ID, attempt), j)
}

// call keeps a panicking HandlerFunc from killing the poll loop. worker.Process
// recovers its own handlers first, so this only fires for bare HandlerFuncs.
func (w *worker) call(ctx context.Context, d queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.h(ctx, d)
}

func (w *worker) retry(ctx context.Context, j *Job, attempts int, errMsg string) {
	if attempts >= j.MaxAttempts {
		w.mark(w.q.repo.MarkFailed(ctx, j.ID, attempts, errMsg), j)
		return
	}
	next := w.q.now().Add(queue.RetryDelay(w.q.opts.BackoffBase, attempts))
	w.mark(w.q.repo.RetryLater(ctx, j.ID, j.Key, attempts, next, errMsg), j)
}

func (w *worker) mark(err error, j *Job) {
	if err != nil {
		w.q.log.Error("job bookkeeping failed", zap.String("key", j.Key), zap.Uint64("id", j.ID), zap.Error(err))
	}
}

// listen forwards NOTIFY wake-ups to idle workers. Missed notifications
// only cost latency; the poll ticker still finds due jobs.
func (q *Queue) listen(ctx context.Context, wake chan<- struct{}) func() {
	if q.dsn == "" {
		return func() {}
	}
	l := pq.NewListener(q.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			q.log.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(notifyChannel); err != nil {
		q.log.Warn("listen failed, falling back to polling", zap.Error(err))
		_ = l.Close()
		return func() {}
	}

	lctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-lctx.Done():
				return
			case n := <-l.Notify:
				if n != nil && n.Extra != q.opts.Name {
					continue
				}
				// n == nil after a reconnect: wake anyway in case we missed something
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return func() {
		cancel()
		_ = l.Close()
	}
}

func (q *Queue) maintenance() *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@every 1m", func() {
		n, exhausted, err := q.repo.RequeueStale(context.Background(), q.opts.Lease)
		if err != nil {
			q.log.Warn("requeue stale jobs failed", zap.Error(err))
			return
		}
		if n > 0 {
			q.log.Info("requeued stale jobs", zap.Int64("count", n))
		}
		q.exhausted(exhausted)
	})
	_, _ = c.AddFunc("@every 1h", func() {
		n, err := q.repo.Purge(context.Background(), q.now().Add(-q.opts.Retention))
		if err != nil {
			q.log.Warn("purge finished jobs failed", zap.Error(err))
			return
		}
		q.log.Info("purged finished jobs", zap.Int64("count", n))
	})
	return c
}

// exhausted reports jobs whose last attempt died with its worker. The
// handler never returned for them, so the worker event stream has no record.
func (q *Queue) exhausted(jobs []Job) {
	for _, j := range jobs {
		metrics.JobEvents.WithLabelValues(j.Category, jobworker.EventExhausted).Inc()
		q.log.Error("job exhausted retries",
			zap.String("event", jobworker.EventExhausted),
			zap.String("jobId", j.Key),
			zap.String("category", j.Category),
			zap.String("fundId", j.FundID),
			zap.Int("attempts", j.Attempts),
			zap.Int("maxAttempts", j.MaxAttempts),
			zap.String("error", "lease expired"),
		)
	}
}

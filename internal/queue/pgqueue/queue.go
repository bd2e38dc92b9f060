package pgqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"nudge/internal/job"
	"nudge/internal/queue"
)

// notifyChannel is the LISTEN/NOTIFY channel used to wake idle workers.
const notifyChannel = "nudge_jobs"

// Queue is a delayed job broker on a Postgres table.
type Queue struct {
	repo *Repo
	dsn  string
	opts queue.Options
	log  *zap.Logger
	now  func() time.Time
}

var _ queue.Broker = (*Queue)(nil)

// New builds a Queue on an open gorm connection. dsn is used for the
// LISTEN connection; when empty, workers rely on polling alone.
func New(gdb *gorm.DB, dsn string, opts queue.Options, log *zap.Logger) *Queue {
	return &Queue{
		repo: &Repo{DB: gdb},
		dsn:  dsn,
		opts: opts,
		log:  log.Named("pgqueue"),
		now:  time.Now,
	}
}

func (q *Queue) Repo() *Repo { return q.repo }

func (q *Queue) Enqueue(ctx context.Context, key string, p job.Payload, delay time.Duration) (queue.Handle, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return queue.Handle{}, fmt.Errorf("pgqueue: encode payload: %w", err)
	}
	j := Job{
		Key:         key,
		Queue:       q.opts.Name,
		Category:    string(p.Category),
		EntityID:    p.EntityID,
		FundID:      p.FundID,
		Payload:     payload,
		RunAt:       q.now().Add(delay),
		Status:      string(job.StatusPending),
		MaxAttempts: q.opts.MaxAttempts,
	}
	if err := q.repo.Upsert(ctx, &j); err != nil {
		return queue.Handle{}, fmt.Errorf("pgqueue: enqueue %s: %w", key, err)
	}
	if delay < q.opts.PollInterval {
		q.wake(ctx)
	}
	return queue.Handle{ID: strconv.FormatUint(j.ID, 10), Key: key, DueAt: j.RunAt}, nil
}

func (q *Queue) Cancel(ctx context.Context, key string) (bool, error) {
	ok, err := q.repo.Cancel(ctx, key)
	if err != nil {
		return false, fmt.Errorf("pgqueue: cancel %s: %w", key, err)
	}
	return ok, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	sqlDB, err := q.repo.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (q *Queue) Close() error {
	sqlDB, err := q.repo.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (q *Queue) wake(ctx context.Context) {
	if err := q.repo.DB.WithContext(ctx).Exec(`select pg_notify(?, ?)`, notifyChannel, q.opts.Name).Error; err != nil {
		q.log.Debug("pg_notify failed", zap.Error(err))
	}
}

// Consume runs opts.Concurrency workers until ctx is done. It also runs the
// stale-lease requeue and retention purge schedules.
func (q *Queue) Consume(ctx context.Context, h queue.HandlerFunc) error {
	wake := make(chan struct{}, q.opts.Concurrency)

	stopListen := q.listen(ctx, wake)
	defer stopListen()

	maint := q.maintenance()
	maint.Start()
	defer maint.Stop()

	base := uuid.NewString()
	workers := make([]*worker, q.opts.Concurrency)
	done := make(chan struct{}, len(workers))
	for i := range workers {
		workers[i] = &worker{
			id:   fmt.Sprintf("%s-%d", base, i),
			q:    q,
			h:    h,
			wake: wake,
		}
		go func(w *worker) {
			w.run(ctx)
			done <- struct{}{}
		}(workers[i])
	}

	q.log.Info("pgqueue consumer started",
		zap.String("queue", q.opts.Name),
		zap.Int("concurrency", q.opts.Concurrency))

	for range workers {
		<-done
	}
	q.log.Info("pgqueue consumer stopped", zap.String("queue", q.opts.Name))
	return nil
}

// Status returns the status of the newest job for key.
func (q *Queue) Status(ctx context.Context, key string) (job.Status, error) {
	j, err := q.repo.Latest(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return job.Status(j.Status), nil
}

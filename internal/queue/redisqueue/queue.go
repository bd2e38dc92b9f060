// Package redisqueue is a delayed job broker on Redis, backed by asynq.
// Job keys are used as asynq task ids, which gives dedup and cancel-by-key.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nudge/internal/job"
	"nudge/internal/queue"
)

// TaskType is the single asynq task type; the category inside the payload
// tells notifications apart.
const TaskType = "nudge:notification"

type Queue struct {
	rdb       *redis.Client
	redisOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      queue.Options
	log       *zap.Logger
}

var _ queue.Broker = (*Queue)(nil)

// Open parses a redis:// or rediss:// url and checks the server answers.
func Open(ctx context.Context, url string, opts queue.Options, log *zap.Logger) (*Queue, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redisqueue: parse url: %w", err)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisqueue: ping: %w", err)
	}

	opt := asynq.RedisClientOpt{
		Addr:      ro.Addr,
		Username:  ro.Username,
		Password:  ro.Password,
		DB:        ro.DB,
		TLSConfig: ro.TLSConfig,
	}
	return &Queue{
		rdb:       rdb,
		redisOpt:  opt,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		opts:      opts,
		log:       log.Named("redisqueue"),
	}, nil
}

func (q *Queue) taskOptions(key string, delay time.Duration) []asynq.Option {
	maxRetry := q.opts.MaxAttempts - 1
	if maxRetry < 0 {
		maxRetry = 0
	}
	return []asynq.Option{
		asynq.TaskID(key),
		asynq.Queue(q.opts.Name),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(q.opts.Retention),
	}
}

// Enqueue schedules the payload under key. A pending task with the same id
// is deleted and re-enqueued with the new delay.
func (q *Queue) Enqueue(ctx context.Context, key string, p job.Payload, delay time.Duration) (queue.Handle, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return queue.Handle{}, fmt.Errorf("redisqueue: encode payload: %w", err)
	}
	task := asynq.NewTask(TaskType, b)

	info, err := q.client.EnqueueContext(ctx, task, q.taskOptions(key, delay)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		if derr := q.inspector.DeleteTask(q.opts.Name, key); derr != nil && !errors.Is(derr, asynq.ErrTaskNotFound) {
			return queue.Handle{}, fmt.Errorf("redisqueue: replace %s: %w", key, derr)
		}
		info, err = q.client.EnqueueContext(ctx, task, q.taskOptions(key, delay)...)
	}
	if err != nil {
		return queue.Handle{}, fmt.Errorf("redisqueue: enqueue %s: %w", key, err)
	}
	return queue.Handle{ID: info.ID, Key: key, DueAt: info.NextProcessAt}, nil
}

// Cancel deletes the task if it is still waiting to run. Active, completed
// and archived tasks are left alone and report false.
func (q *Queue) Cancel(_ context.Context, key string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.opts.Name, key)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("redisqueue: cancel %s: %w", key, err)
	}
	if !pending(info.State) {
		return false, nil
	}
	if err := q.inspector.DeleteTask(q.opts.Name, key); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return false, nil
		}
		// lost the race with a worker picking it up
		if st, serr := q.inspector.GetTaskInfo(q.opts.Name, key); serr == nil && !pending(st.State) {
			return false, nil
		}
		return false, fmt.Errorf("redisqueue: cancel %s: %w", key, err)
	}
	return true, nil
}

func pending(s asynq.TaskState) bool {
	switch s {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return true
	}
	return false
}

// Consume runs an asynq server until ctx is done.
func (q *Queue) Consume(ctx context.Context, h queue.HandlerFunc) error {
	srv := asynq.NewServer(q.redisOpt, asynq.Config{
		Concurrency: q.opts.Concurrency,
		Queues:      map[string]int{q.opts.Name: 1},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			// n counts earlier retries, so the attempt that just failed is n+1
			return queue.RetryDelay(q.opts.BackoffBase, n+1)
		},
		Logger:   q.log.Sugar(),
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskType, q.handler(h))
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("redisqueue: start server: %w", err)
	}
	q.log.Info("redisqueue consumer started",
		zap.String("queue", q.opts.Name),
		zap.Int("concurrency", q.opts.Concurrency))

	<-ctx.Done()
	srv.Shutdown()
	q.log.Info("redisqueue consumer stopped", zap.String("queue", q.opts.Name))
	return nil
}

func (q *Queue) handler(h queue.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		p, err := job.Decode(t.Payload())
		if err != nil {
			return fmt.Errorf("redisqueue: bad payload: %v: %w", err, asynq.SkipRetry)
		}
		key, _ := asynq.GetTaskID(ctx)
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		return h(ctx, queue.Delivery{
			Key:         key,
			Payload:     p,
			Attempt:     retried + 1,
			MaxAttempts: maxRetry + 1,
		})
	}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.rdb.Close())
}

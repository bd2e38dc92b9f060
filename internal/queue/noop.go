package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"nudge/internal/job"
)

// Noop stands in when no broker is configured or reachable. Every call
// succeeds without doing anything.
type Noop struct {
	Reason string
	log    *zap.Logger
}

func NewNoop(reason string, log *zap.Logger) *Noop {
	return &Noop{Reason: reason, log: log}
}

func (n *Noop) Available() bool { return false }

func (n *Noop) Enqueue(_ context.Context, key string, _ job.Payload, _ time.Duration) (Handle, error) {
	n.log.Warn("notification queue unavailable, job not scheduled",
		zap.String("key", key), zap.String("reason", n.Reason))
	return Handle{Key: key}, nil
}

func (n *Noop) Cancel(_ context.Context, key string) (bool, error) {
	n.log.Warn("notification queue unavailable, nothing to cancel",
		zap.String("key", key), zap.String("reason", n.Reason))
	return false, nil
}

func (n *Noop) Consume(ctx context.Context, _ HandlerFunc) error {
	n.log.Warn("notification queue unavailable, worker idle", zap.String("reason", n.Reason))
	<-ctx.Done()
	return nil
}

func (n *Noop) Ping(context.Context) error { return ErrUnavailable }

func (n *Noop) Close() error { return nil }

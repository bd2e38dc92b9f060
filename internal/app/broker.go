package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"nudge/internal/db"
	"nudge/internal/queue"
	"nudge/internal/queue/pgqueue"
	"nudge/internal/queue/redisqueue"
)

var ErrUnsupportedScheme = errors.New("unsupported queue url scheme")

// Dialer opens a broker for a connection url.
type Dialer func(ctx context.Context, rawURL string, opts queue.Options, log *zap.Logger) (queue.Broker, error)

// Dial picks the backend from the url scheme.
func Dial(ctx context.Context, rawURL string, opts queue.Options, log *zap.Logger) (queue.Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse queue url: %w", err))
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		gdb, err := db.Connect(rawURL)
		if err != nil {
			return nil, err
		}
		q := pgqueue.New(gdb, rawURL, opts, log)
		if err := q.Ping(ctx); err != nil {
			_ = q.Close()
			return nil, err
		}
		if err := pgqueue.Migrate(gdb.WithContext(ctx)); err != nil {
			_ = q.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return q, nil
	case "redis", "rediss":
		return redisqueue.Open(ctx, rawURL, opts, log)
	}
	return nil, backoff.Permanent(fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme))
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// OpenBroker dials with retries and wraps the result in a circuit breaker.
// A missing url or a broker that never answers gives the no-op broker, so
// the host process keeps running without notifications.
func OpenBroker(ctx context.Context, rawURL string, opts queue.Options, dial Dialer, bo backoff.BackOff, log *zap.Logger) queue.Broker {
	if rawURL == "" {
		log.Warn("NUDGE_QUEUE_URL not set, notifications disabled")
		return queue.NewNoop("queue url not configured", log)
	}
	if dial == nil {
		dial = Dial
	}
	if bo == nil {
		bo = defaultBackoff()
	}
	scheme := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		scheme = u.Scheme
	}

	var b queue.Broker
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		b, err = dial(ctx, rawURL, opts, log)
		return err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn("queue broker not reachable, retrying",
			zap.String("scheme", scheme),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		log.Warn("queue broker unavailable, notifications disabled",
			zap.String("scheme", scheme),
			zap.Error(err))
		return queue.NewNoop(err.Error(), log)
	}
	log.Info("queue broker connected", zap.String("scheme", scheme), zap.String("queue", opts.Name))
	return queue.NewGuard(b, queue.GuardSettings{}, log)
}

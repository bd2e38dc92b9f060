package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"nudge/internal/job"
)

// Guard wraps a broker in a circuit breaker so a broker outage fails fast
// instead of stalling every business request that schedules or cancels.
type Guard struct {
	next Broker
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

type GuardSettings struct {
	// Trips after this many consecutive failures.
	MaxFailures uint32
	// Time the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func NewGuard(next Broker, s GuardSettings, log *zap.Logger) *Guard {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	g := &Guard{next: next, log: log}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notification-queue",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: brokerHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("queue circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

func (g *Guard) Available() bool { return Available(g.next) }

func (g *Guard) State() gobreaker.State { return g.cb.State() }

func (g *Guard) Enqueue(ctx context.Context, key string, p job.Payload, delay time.Duration) (Handle, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Enqueue(ctx, key, p, delay)
	})
	if err != nil {
		return Handle{Key: key}, unavailable(err)
	}
	return v.(Handle), nil
}

func (g *Guard) Cancel(ctx context.Context, key string) (bool, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Cancel(ctx, key)
	})
	if err != nil {
		return false, unavailable(err)
	}
	return v.(bool), nil
}

func (g *Guard) Consume(ctx context.Context, h HandlerFunc) error { return g.next.Consume(ctx, h) }

func (g *Guard) Ping(ctx context.Context) error { return g.next.Ping(ctx) }

func (g *Guard) Close() error { return g.next.Close() }

// brokerHealthy reports whether err says nothing bad about the broker. A
// caller giving up on its own context is not a broker failure.
func brokerHealthy(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func unavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

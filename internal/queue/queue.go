package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"nudge/internal/job"
)

var ErrUnavailable = errors.New("queue: broker unavailable")

// Handle identifies an accepted enqueue.
type Handle struct {
	ID    string
	Key   string
	DueAt time.Time
}

// Delivery is one attempt at running a due job.
type Delivery struct {
	Key         string
	Payload     job.Payload
	Attempt     int // 1-based
	MaxAttempts int
}

// Final reports whether a failure of this attempt exhausts the job's retries.
func (d Delivery) Final() bool { return d.Attempt >= d.MaxAttempts }

// HandlerFunc processes a delivery. A non-nil error makes the broker retry.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Queue is the producer side of the broker.
//
// Enqueue is idempotent on key: a pending job with the same key is replaced
// and takes the new delay. Cancel returns true only if a pending job was
// removed; it is false for unknown keys and for jobs already executing.
type Queue interface {
	Enqueue(ctx context.Context, key string, p job.Payload, delay time.Duration) (Handle, error)
	Cancel(ctx context.Context, key string) (bool, error)
}

// Broker is a Queue that can also deliver due jobs.
type Broker interface {
	Queue
	// Consume blocks until ctx is done, delivering due jobs to h with
	// bounded concurrency.
	Consume(ctx context.Context, h HandlerFunc) error
	Ping(ctx context.Context) error
	Close() error
}

// Options are shared by every broker backend.
type Options struct {
	Name         string
	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	Retention    time.Duration
	PollInterval time.Duration
	Lease        time.Duration
}

func DefaultOptions() Options {
	return Options{
		Name:         "notifications",
		Concurrency:  5,
		MaxAttempts:  3,
		BackoffBase:  30 * time.Second,
		Retention:    7 * 24 * time.Hour,
		PollInterval: time.Second,
		Lease:        5 * time.Minute,
	}
}

// RetryDelay is the wait after the given failed attempt (1-based):
// base, 2*base, 4*base, ...
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}

// Availability is implemented by brokers that may be switched off.
type Availability interface {
	Available() bool
}

// Available is false for nil queues and queues that report themselves off.
func Available(q Queue) bool {
	if q == nil {
		return false
	}
	if a, ok := q.(Availability); ok {
		return a.Available()
	}
	return true
}

// Package queuetest has an in-memory broker that records calls.
package queuetest

import (
	"context"
	"sync"
	"time"

	"nudge/internal/job"
	"nudge/internal/queue"
)

type Enqueued struct {
	Key     string
	Payload job.Payload
	Delay   time.Duration
}

// Recorder keeps pending jobs in a map keyed by job key, like a real broker.
type Recorder struct {
	mu        sync.Mutex
	pending   map[string]Enqueued
	executing map[string]bool
	Enqueues  []Enqueued
	Cancels   []string

	// EnqueueErr, when set, is returned for matching keys.
	EnqueueErr func(key string) error
	CancelErr  error
}

var _ queue.Broker = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{pending: map[string]Enqueued{}, executing: map[string]bool{}}
}

func (r *Recorder) Enqueue(_ context.Context, key string, p job.Payload, delay time.Duration) (queue.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EnqueueErr != nil {
		if err := r.EnqueueErr(key); err != nil {
			return queue.Handle{}, err
		}
	}
	e := Enqueued{Key: key, Payload: p, Delay: delay}
	r.Enqueues = append(r.Enqueues, e)
	r.pending[key] = e
	return queue.Handle{ID: key, Key: key, DueAt: time.Now().Add(delay)}, nil
}

func (r *Recorder) Cancel(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancels = append(r.Cancels, key)
	if r.CancelErr != nil {
		return false, r.CancelErr
	}
	if _, ok := r.pending[key]; !ok {
		return false, nil
	}
	delete(r.pending, key)
	return true, nil
}

// Consume delivers nothing; tests call the handler directly.
func (r *Recorder) Consume(ctx context.Context, _ queue.HandlerFunc) error {
	<-ctx.Done()
	return nil
}

func (r *Recorder) Ping(context.Context) error { return nil }

func (r *Recorder) Close() error { return nil }

// Start moves a pending job to executing, so Cancel no longer finds it.
func (r *Recorder) Start(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
	r.executing[key] = true
}

func (r *Recorder) Pending() map[string]Enqueued {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Enqueued, len(r.pending))
	for k, v := range r.pending {
		out[k] = v
	}
	return out
}

func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Enqueues) + len(r.Cancels)
}

// EnqueuedCategories lists categories in the order enqueue calls completed.
func (r *Recorder) EnqueuedCategories() []job.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]job.Category, 0, len(r.Enqueues))
	for _, e := range r.Enqueues {
		out = append(out, e.Payload.Category)
	}
	return out
}

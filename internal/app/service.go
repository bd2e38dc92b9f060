// Package app wires the notification engine into one process-scoped Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"nudge/internal/config"
	"nudge/internal/db"
	"nudge/internal/entity"
	"nudge/internal/handlers"
	"nudge/internal/job"
	"nudge/internal/policy"
	"nudge/internal/queue"
	"nudge/internal/scheduler"
	"nudge/internal/sender"
	"nudge/internal/suppress"
	"nudge/internal/worker"
)

type Options struct {
	Config config.Config
	Log    *zap.Logger

	// Lookup and Sender default to the gorm entity store on DATABASE_URL
	// and the HTTP (or log-only) sender.
	Lookup entity.Lookup
	Sender sender.Sender

	Dial    Dialer
	Backoff backoff.BackOff
	Clock   func() time.Time
}

// Service owns the broker, the producer side (scheduler and suppression
// engine) and the consumer side (worker). Business callers use its facade
// methods, which never fail because of the broker.
type Service struct {
	log     *zap.Logger
	broker  queue.Broker
	sched   *scheduler.Scheduler
	engine  *suppress.Engine
	worker  *worker.Worker
	closers []func() error
}

func Open(ctx context.Context, o Options) (*Service, error) {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}
	clock := o.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Service{log: log.Named("app")}

	lookup := o.Lookup
	if lookup == nil {
		if o.Config.DatabaseURL == "" {
			return nil, errors.New("app: entity lookup needs DATABASE_URL")
		}
		gdb, err := db.Connect(o.Config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: connect entity store: %w", err)
		}
		lookup = &entity.Store{DB: gdb}
		s.closers = append(s.closers, func() error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}

	snd := o.Sender
	if snd == nil {
		if o.Config.SenderURL != "" {
			snd = sender.NewHTTP(o.Config.SenderURL, o.Config.SenderToken)
		} else {
			log.Warn("NUDGE_SENDER_URL not set, notifications are only logged")
			snd = sender.NewLog(log)
		}
	}

	w, err := worker.New(log, handlers.All(handlers.Deps{Lookup: lookup, Sender: snd, Now: clock})...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.worker = w

	s.broker = OpenBroker(ctx, o.Config.QueueURL, o.Config.Queue, o.Dial, o.Backoff, log)
	s.closers = append(s.closers, s.broker.Close)
	s.sched = scheduler.New(s.broker, log, scheduler.WithClock(clock))
	s.engine = suppress.New(s.broker, log)
	return s, nil
}

// Close releases the broker and the entity store connection.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Available reports whether a real broker is connected.
func (s *Service) Available() bool { return queue.Available(s.broker) }

func (s *Service) Ping(ctx context.Context) error { return s.broker.Ping(ctx) }

// Run consumes due jobs until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	return s.broker.Consume(ctx, s.worker.Handle())
}

// Schedule enqueues a sequence for an entity. Only invalid input is
// returned; broker failures are logged.
func (s *Service) Schedule(ctx context.Context, seq policy.SequenceName, entityID, fundID string, anchor time.Time) error {
	if entityID == "" {
		return errors.New("entity id required")
	}
	if _, err := policy.Sequence(seq); err != nil {
		return err
	}
	if err := s.sched.Schedule(ctx, seq, entityID, fundID, anchor); err != nil {
		s.log.Warn("scheduling failed",
			zap.String("sequence", string(seq)),
			zap.String("entity_id", entityID),
			zap.Error(err))
	}
	return nil
}

// OnTransition cancels the jobs a state change makes irrelevant.
func (s *Service) OnTransition(ctx context.Context, f job.Family, entityID string, to, from entity.State) []suppress.Outcome {
	return s.engine.OnTransition(ctx, f, entityID, to, from)
}

// CancelAll cancels every pending job of the entity.
func (s *Service) CancelAll(ctx context.Context, f job.Family, entityID string) []suppress.Outcome {
	return s.engine.CancelAll(ctx, f, entityID)
}

// Cancel removes one pending job by key. Malformed keys are returned as
// errors; broker failures are logged and reported as not cancelled.
func (s *Service) Cancel(ctx context.Context, key string) (bool, error) {
	c, id, err := job.ParseKey(key)
	if err != nil {
		return false, err
	}
	ok, err := s.sched.Cancel(ctx, c, id)
	if err != nil {
		s.log.Warn("cancel failed", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return ok, nil
}

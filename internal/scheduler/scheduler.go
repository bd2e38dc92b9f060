package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nudge/internal/job"
	"nudge/internal/metrics"
	"nudge/internal/policy"
	"nudge/internal/queue"
)

// Scheduler turns a business event and its anchor time into delayed jobs.
type Scheduler struct {
	q   queue.Queue
	log *zap.Logger
	now func() time.Time
}

type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(q queue.Queue, log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{q: q, log: log.Named("scheduler"), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Planned is one job Schedule decided to enqueue.
type Planned struct {
	Key     string
	Payload job.Payload
	Delay   time.Duration
}

// Plan computes the jobs a sequence would enqueue right now. Offsets whose
// due time is at or before now are dropped, never fired late.
func (s *Scheduler) Plan(seq policy.SequenceName, entityID, fundID string, anchor time.Time) ([]Planned, error) {
	entries, err := policy.Sequence(seq)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Planned, 0, len(entries))
	for _, e := range entries {
		delay := e.DueAt(anchor).Sub(now)
		if delay <= 0 {
			metrics.JobsSkippedPast.WithLabelValues(string(e.Category)).Inc()
			s.log.Debug("offset already elapsed, not scheduling",
				zap.String("category", string(e.Category)),
				zap.String("entity_id", entityID),
				zap.Duration("overdue", -delay))
			continue
		}
		meta := map[string]string{job.MetaSequence: string(seq)}
		for k, v := range e.Meta {
			meta[k] = v
		}
		p := job.Payload{
			Category: e.Category,
			EntityID: entityID,
			FundID:   fundID,
			Anchor:   anchor,
			Meta:     meta,
		}
		out = append(out, Planned{Key: p.Key(), Payload: p, Delay: delay})
	}
	return out, nil
}

// Schedule enqueues every future offset of the sequence. Enqueues run
// concurrently and independently: one failure does not undo the others, and
// all failures are returned joined. Scheduling the same sequence again for
// the same entity replaces the pending jobs' due times.
func (s *Scheduler) Schedule(ctx context.Context, seq policy.SequenceName, entityID, fundID string, anchor time.Time) error {
	if entityID == "" {
		return errors.New("scheduler: entity id required")
	}
	planned, err := s.Plan(seq, entityID, fundID, anchor)
	if err != nil {
		return err
	}
	if !queue.Available(s.q) {
		s.log.Warn("notification queue unavailable, skipping schedule",
			zap.String("sequence", string(seq)),
			zap.String("entity_id", entityID),
			zap.Int("jobs", len(planned)))
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, pl := range planned {
		g.Go(func() error {
			h, err := s.q.Enqueue(ctx, pl.Key, pl.Payload, pl.Delay)
			if err != nil {
				metrics.JobsScheduled.WithLabelValues(string(pl.Payload.Category), "error").Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("schedule %s: %w", pl.Key, err))
				mu.Unlock()
				return nil
			}
			metrics.JobsScheduled.WithLabelValues(string(pl.Payload.Category), "ok").Inc()
			s.log.Debug("job scheduled",
				zap.String("key", pl.Key),
				zap.String("fund_id", fundID),
				zap.Time("due_at", h.DueAt),
				zap.Duration("delay", pl.Delay))
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("sequence scheduled",
		zap.String("sequence", string(seq)),
		zap.String("entity_id", entityID),
		zap.Int("enqueued", len(planned)-len(errs)),
		zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Cancel removes the pending job for one category of an entity.
func (s *Scheduler) Cancel(ctx context.Context, c job.Category, entityID string) (bool, error) {
	if !queue.Available(s.q) {
		return false, nil
	}
	return s.q.Cancel(ctx, job.Key(c, entityID))
}

func (s *Scheduler) ScheduleKYCReminders(ctx context.Context, prospectID, fundID string, sentAt time.Time) error {
	return s.Schedule(ctx, policy.SeqKYC, prospectID, fundID, sentAt)
}

func (s *Scheduler) ScheduleMeetingReminders(ctx context.Context, prospectID, fundID string, meetingAt time.Time) error {
	return s.Schedule(ctx, policy.SeqMeeting, prospectID, fundID, meetingAt)
}

func (s *Scheduler) ScheduleNurture(ctx context.Context, prospectID, fundID string, consideringAt time.Time) error {
	return s.Schedule(ctx, policy.SeqNurture, prospectID, fundID, consideringAt)
}

func (s *Scheduler) ScheduleInvestorOnboarding(ctx context.Context, investorID, fundID string, invitedAt time.Time) error {
	return s.Schedule(ctx, policy.SeqInvestorOnboarding, investorID, fundID, invitedAt)
}

func (s *Scheduler) ScheduleCapitalCallReminders(ctx context.Context, lineItemID, fundID string, deadline time.Time) error {
	return s.Schedule(ctx, policy.SeqCapitalCallReminders, lineItemID, fundID, deadline)
}

func (s *Scheduler) SchedulePastDueEmails(ctx context.Context, lineItemID, fundID string, deadline time.Time) error {
	return s.Schedule(ctx, policy.SeqCapitalCallPastDue, lineItemID, fundID, deadline)
}

func (s *Scheduler) ScheduleTeamInviteReminders(ctx context.Context, inviteID, fundID string, sentAt time.Time) error {
	return s.Schedule(ctx, policy.SeqTeamInvite, inviteID, fundID, sentAt)
}

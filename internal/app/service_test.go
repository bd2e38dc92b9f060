package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"nudge/internal/config"
	"nudge/internal/entity"
	"nudge/internal/job"
	"nudge/internal/policy"
	"nudge/internal/queue"
	"nudge/internal/queue/queuetest"
	"nudge/internal/sender"
)

type lookup map[string]entity.Snapshot

func (l lookup) Get(_ context.Context, _ job.Family, id string) (entity.Snapshot, error) {
	s, ok := l[id]
	if !ok {
		return entity.Snapshot{}, entity.ErrNotFound
	}
	return s, nil
}

type outbox struct{ sent []sender.Message }

func (o *outbox) Send(_ context.Context, m sender.Message) error {
	o.sent = append(o.sent, m)
	return nil
}

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func open(t *testing.T, url string, dial Dialer, log *zap.Logger) *Service {
	t.Helper()
	cfg := config.Config{QueueURL: url, Queue: queue.DefaultOptions()}
	s, err := Open(context.Background(), Options{
		Config:  cfg,
		Log:     log,
		Lookup:  lookup{"li-1": {ID: "li-1", State: entity.CapitalCallPending, Email: "lp@example.com"}},
		Sender:  &outbox{},
		Dial:    dial,
		Backoff: &backoff.ZeroBackOff{},
		Clock:   func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func recorderDial(r *queuetest.Recorder) Dialer {
	return func(context.Context, string, queue.Options, *zap.Logger) (queue.Broker, error) {
		return r, nil
	}
}

func TestNoQueueURL(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := queuetest.New()
	s := open(t, "", recorderDial(rec), zap.New(core))

	assert.False(t, s.Available())
	require.NoError(t, s.Schedule(context.Background(), policy.SeqCapitalCallReminders, "li-1", "fund-1", now.Add(20*24*time.Hour)))
	assert.Empty(t, s.OnTransition(context.Background(), job.FamilyCapitalCall, "li-1", entity.CapitalCallPaid, entity.CapitalCallPending))

	ok, err := s.Cancel(context.Background(), "capital_call_reminder_7d:capital_call:li-1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Zero(t, rec.Calls(), "dialer is never used")
	assert.NotZero(t, logs.FilterMessage("NUDGE_QUEUE_URL not set, notifications disabled").Len())
}

func TestUnreachableBrokerFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	dials := 0
	dial := func(context.Context, string, queue.Options, *zap.Logger) (queue.Broker, error) {
		dials++
		return nil, errors.New("connection refused")
	}
	cfg := config.Config{QueueURL: "redis://127.0.0.1:1", Queue: queue.DefaultOptions()}
	s, err := Open(context.Background(), Options{
		Config:  cfg,
		Log:     zap.New(core),
		Lookup:  lookup{},
		Sender:  &outbox{},
		Dial:    dial,
		Backoff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2),
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 3, dials)
	assert.False(t, s.Available())
	assert.Equal(t, 2, logs.FilterMessage("queue broker not reachable, retrying").Len())
	assert.Equal(t, 1, logs.FilterMessage("queue broker unavailable, notifications disabled").Len())
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "amqp://localhost", queue.DefaultOptions(), zap.NewNop())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestScheduleAndSuppress(t *testing.T) {
	rec := queuetest.New()
	s := open(t, "redis://fake", recorderDial(rec), zap.NewNop())
	ctx := context.Background()

	require.True(t, s.Available())
	require.NoError(t, s.Schedule(ctx, policy.SeqCapitalCallReminders, "li-1", "fund-1", now.Add(19*24*time.Hour)))
	assert.Len(t, rec.Pending(), 3)

	out := s.OnTransition(ctx, job.FamilyCapitalCall, "li-1", entity.CapitalCallPaid, entity.CapitalCallPending)
	assert.Len(t, out, 5)
	assert.Empty(t, rec.Pending())
}

func TestScheduleValidation(t *testing.T) {
	rec := queuetest.New()
	s := open(t, "redis://fake", recorderDial(rec), zap.NewNop())

	assert.ErrorIs(t, s.Schedule(context.Background(), "bogus", "e-1", "f", now), policy.ErrUnknownSequence)
	assert.Error(t, s.Schedule(context.Background(), policy.SeqKYC, "", "f", now))
	assert.Zero(t, rec.Calls())
}

func TestBrokerErrorsAreSwallowed(t *testing.T) {
	rec := queuetest.New()
	rec.EnqueueErr = func(string) error { return errors.New("broker down") }
	rec.CancelErr = errors.New("broker down")
	core, logs := observer.New(zapcore.WarnLevel)
	s := open(t, "redis://fake", recorderDial(rec), zap.New(core))
	ctx := context.Background()

	assert.NoError(t, s.Schedule(ctx, policy.SeqKYC, "p-1", "f", now))
	assert.Equal(t, 1, logs.FilterMessage("scheduling failed").Len())

	ok, err := s.Cancel(ctx, job.Key(job.KYCReminder48h, "p-1"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Cancel(ctx, "not-a-key")
	assert.ErrorIs(t, err, job.ErrMalformedKey)
}

func TestRunDeliversToHandlers(t *testing.T) {
	rec := queuetest.New()
	o := &outbox{}
	s, err := Open(context.Background(), Options{
		Config:  config.Config{QueueURL: "redis://fake", Queue: queue.DefaultOptions()},
		Lookup:  lookup{"li-1": {ID: "li-1", State: entity.CapitalCallPending, Email: "lp@example.com"}},
		Sender:  o,
		Dial:    recorderDial(rec),
		Backoff: &backoff.ZeroBackOff{},
	})
	require.NoError(t, err)
	defer s.Close()

	p := job.Payload{Category: job.CapitalCallReminder1d, EntityID: "li-1", FundID: "fund-1", Anchor: now}
	require.NoError(t, s.worker.Handle()(context.Background(), queue.Delivery{Key: p.Key(), Payload: p, Attempt: 1, MaxAttempts: 3}))
	require.Len(t, o.sent, 1)
	assert.Equal(t, "lp@example.com", o.sent[0].Recipient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Run(ctx))
}

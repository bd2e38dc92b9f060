package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"nudge/internal/job"
	"nudge/internal/metrics"
	"nudge/internal/queue"
)

func newWorker(t *testing.T, tables ...Table) (*Worker, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	w, err := New(zap.New(core), tables...)
	require.NoError(t, err)
	return w, logs
}

func delivery(c job.Category, attempt, maxAttempts int) queue.Delivery {
	p := job.Payload{Category: c, EntityID: "li-1", FundID: "fund-1", Anchor: time.Now()}
	return queue.Delivery{Key: p.Key(), Payload: p, Attempt: attempt, MaxAttempts: maxAttempts}
}

func statuses(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		if s, ok := e.ContextMap()["status"]; ok {
			out = append(out, s.(string))
		}
	}
	return out
}

func TestProcessCompleted(t *testing.T) {
	var got job.Payload
	w, logs := newWorker(t, Table{
		job.CapitalCallReminder7d: func(_ context.Context, p job.Payload) error {
			got = p
			return nil
		},
	})

	d := delivery(job.CapitalCallReminder7d, 1, 3)
	require.NoError(t, w.Process(context.Background(), d))
	assert.Equal(t, "li-1", got.EntityID)
	assert.Equal(t, []string{StatusStarted, StatusCompleted}, statuses(logs))

	done := logs.FilterField(zap.String("status", StatusCompleted)).All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, d.Key, fields["jobId"])
	assert.Equal(t, "fund-1", fields["fundId"])
	assert.Contains(t, fields, "durationMs")
}

func TestProcessUnknownCategory(t *testing.T) {
	w, logs := newWorker(t, Table{})

	require.NoError(t, w.Process(context.Background(), delivery(job.TeamInviteReminder1, 1, 3)))
	skipped := logs.FilterField(zap.String("status", StatusSkipped)).All()
	require.Len(t, skipped, 1)
	assert.Equal(t, ReasonUnknownCategory, skipped[0].ContextMap()["reason"])
}

func TestProcessSkip(t *testing.T) {
	w, logs := newWorker(t, Table{
		job.KYCReminder48h: func(context.Context, job.Payload) error {
			return fmt.Errorf("guard: %w", Skip("prospect is converted"))
		},
	})

	require.NoError(t, w.Process(context.Background(), delivery(job.KYCReminder48h, 1, 3)))
	assert.Equal(t, []string{StatusStarted, StatusSkipped}, statuses(logs))
	skipped := logs.FilterField(zap.String("status", StatusSkipped)).All()
	assert.Equal(t, "prospect is converted", skipped[0].ContextMap()["reason"])
}

func TestProcessFailed(t *testing.T) {
	boom := errors.New("sender down")
	w, logs := newWorker(t, Table{
		job.CapitalCallPastDue: func(context.Context, job.Payload) error { return boom },
	})

	t.Run("Retryable", func(t *testing.T) {
		err := w.Process(context.Background(), delivery(job.CapitalCallPastDue, 1, 3))
		assert.ErrorIs(t, err, boom)

		failed := logs.FilterField(zap.String("status", StatusFailed)).TakeAll()
		require.Len(t, failed, 1)
		assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
		assert.Equal(t, "sender down", failed[0].ContextMap()["error"])
		assert.Zero(t, logs.FilterField(zap.String("event", EventExhausted)).Len())
	})

	t.Run("FinalAttempt", func(t *testing.T) {
		exhaustedCount := metrics.JobEvents.WithLabelValues(string(job.CapitalCallPastDue), EventExhausted)
		before := testutil.ToFloat64(exhaustedCount)

		err := w.Process(context.Background(), delivery(job.CapitalCallPastDue, 3, 3))
		assert.ErrorIs(t, err, boom)

		exhausted := logs.FilterField(zap.String("event", EventExhausted)).All()
		require.Len(t, exhausted, 1)
		assert.Equal(t, zapcore.ErrorLevel, exhausted[0].Level)
		assert.EqualValues(t, 3, exhausted[0].ContextMap()["maxAttempts"])
		assert.Equal(t, before+1, testutil.ToFloat64(exhaustedCount))
	})
}

func TestProcessPanicIsAFailure(t *testing.T) {
	w, logs := newWorker(t, Table{
		job.NurtureDay30: func(context.Context, job.Payload) error { panic("nil template") },
	})
	exhaustedCount := metrics.JobEvents.WithLabelValues(string(job.NurtureDay30), EventExhausted)
	before := testutil.ToFloat64(exhaustedCount)

	var err error
	require.NotPanics(t, func() {
		err = w.Process(context.Background(), delivery(job.NurtureDay30, 3, 3))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: nil template")

	assert.Equal(t, []string{StatusStarted, StatusFailed}, statuses(logs))
	exhausted := logs.FilterField(zap.String("event", EventExhausted)).All()
	require.Len(t, exhausted, 1)
	assert.Equal(t, zapcore.ErrorLevel, exhausted[0].Level)
	assert.Equal(t, before+1, testutil.ToFloat64(exhaustedCount))
}

func TestNewRejectsDuplicateCategory(t *testing.T) {
	h := func(context.Context, job.Payload) error { return nil }
	_, err := New(zap.NewNop(), Table{job.NurtureDay15: h}, Table{job.NurtureDay15: h})
	assert.Error(t, err)
}

func TestHandleAndCategories(t *testing.T) {
	calls := 0
	h := func(context.Context, job.Payload) error {
		calls++
		return nil
	}
	w, _ := newWorker(t, Table{job.InvestorWelcome: h}, Table{job.TeamInviteReminder2: h})

	assert.ElementsMatch(t, []job.Category{job.InvestorWelcome, job.TeamInviteReminder2}, w.Categories())
	require.NoError(t, w.Handle()(context.Background(), delivery(job.InvestorWelcome, 1, 3)))
	assert.Equal(t, 1, calls)
}

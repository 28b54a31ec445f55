package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Delay: 50 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(30))
	assert.Zero(t, RetryPolicy{}.Backoff(2))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", storeNotFound("session", "x"))))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeValidation, "bad")))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(schema.NewError(schema.ErrCodeStore, "locked")))
	assert.True(t, IsRetryable(errors.New("sql: database is closed")))
}

func TestWriteBreaker_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newWriteBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	b.now = func() time.Time { return now }

	require.NoError(t, b.allow())
	assert.Equal(t, CircuitClosed, b.failure())
	assert.Equal(t, CircuitOpen, b.failure())

	err := b.allow()
	requireCode(t, err, schema.ErrCodeStore)
	assert.Equal(t, "open", b.State().String())

	now = now.Add(time.Minute)
	assert.Equal(t, CircuitHalfOpen, b.State())
	require.NoError(t, b.allow(), "first probe after cooldown")
	assert.Error(t, b.allow(), "one probe at a time")

	assert.Equal(t, CircuitOpen, b.failure(), "failed probe reopens")
	now = now.Add(time.Minute)
	require.NoError(t, b.allow())
	b.success()
	assert.Equal(t, CircuitClosed, b.State())
	require.NoError(t, b.allow())
}

func TestRecorder_OpensBreakerOnStoreFailure(t *testing.T) {
	el, s := newTestEventLog(t)
	sess := seedSession(t, s, "two")
	el.WithBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	require.NoError(t, s.Close())

	rec := NewRecorder(el, sess.ID, RecorderOptions{Retry: &RetryPolicy{Attempts: 2, Delay: time.Millisecond}})
	rec.Record(playback.DebugEvent{Type: schema.EventPlay, FlowID: "two"})

	require.Eventually(t, func() bool { return el.WriteState() == CircuitOpen }, 2*time.Second, 5*time.Millisecond)

	rec.Record(playback.DebugEvent{Type: schema.EventPause, FlowID: "two"})
	require.NoError(t, rec.Close(context.Background()))
	assert.Equal(t, uint64(2), rec.Dropped())
	assert.Zero(t, rec.Written())
}

func TestRecorder_NotFoundDoesNotTripBreaker(t *testing.T) {
	el, _ := newTestEventLog(t)
	el.WithBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	rec := NewRecorder(el, "no-such-session", RecorderOptions{})
	rec.Record(playback.DebugEvent{Type: schema.EventPlay, FlowID: "two"})
	require.NoError(t, rec.Close(context.Background()))

	assert.Equal(t, uint64(1), rec.Dropped())
	assert.Equal(t, CircuitClosed, el.WriteState())
}

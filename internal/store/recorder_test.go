package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func twoSteps() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		ID:           "two",
		Participants: []schema.Participant{{ID: "client"}, {ID: "server"}},
		Steps: []schema.StepDefinition{
			{ID: "request", Source: "client", Target: "server", DurationMs: 1000},
			{ID: "response", Source: "server", Target: "client", DurationMs: 1000},
		},
	}
}

func TestRecorder_PersistsSchedulerTrace(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	sess := seedSession(t, s, "two")

	rec := NewRecorder(el, sess.ID, RecorderOptions{})
	sched := playback.NewScheduler(twoSteps(), playback.Options{
		Autoplay:     true,
		AutoAdvance:  true,
		InitialSpeed: 1,
		OnDebugEvent: rec.Hook(),
	})

	sched.Tick(1700)
	sched.SetSpeed(0.5)
	sched.Pause()

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(closeCtx))
	assert.Equal(t, uint64(3), rec.Written())
	assert.Zero(t, rec.Dropped())

	events, err := el.GetEvents(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, schema.EventStepChange, events[0].Type)
	assert.Equal(t, "response", events[0].StepID)
	assert.Equal(t, 1, events[0].StepIndex)
	assert.JSONEq(t, `{"cause":"tick","from":0,"to":1}`, string(events[0].Metadata))

	sum, err := el.ReplayEvents(ctx, sess.ID)
	require.NoError(t, err)
	snap := sched.Snapshot()
	assert.Equal(t, snap.ActiveEventIndex, sum.Final.StepIndex)
	assert.Equal(t, snap.ActiveStepID, sum.Final.StepID)
	assert.Equal(t, snap.Speed, sum.Final.Speed)
	assert.Equal(t, snap.IsPlaying, sum.Final.Playing)
}

func TestRecorder_DropsAfterClose(t *testing.T) {
	el, s := newTestEventLog(t)
	sess := seedSession(t, s, "two")

	rec := NewRecorder(el, sess.ID, RecorderOptions{Buffer: 1})
	require.NoError(t, rec.Close(context.Background()))
	require.NoError(t, rec.Close(context.Background()))

	assert.NotPanics(t, func() {
		rec.Record(playback.DebugEvent{Type: schema.EventPlay, FlowID: "two"})
	})
	assert.Equal(t, uint64(1), rec.Dropped())
}

func TestRecorder_WriteFailureCountsAsDropped(t *testing.T) {
	el, _ := newTestEventLog(t)

	rec := NewRecorder(el, "no-such-session", RecorderOptions{})
	rec.Record(playback.DebugEvent{Type: schema.EventPlay, FlowID: "two"})
	require.NoError(t, rec.Close(context.Background()))

	assert.Equal(t, uint64(1), rec.Dropped())
	assert.Zero(t, rec.Written())
}

package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func sampleFlow() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		ID:       "password-login",
		Title:    "Password login",
		Protocol: "http",
		Participants: []schema.Participant{
			{ID: "browser"}, {ID: "api"},
		},
		Steps: []schema.StepDefinition{
			{ID: "submit", Source: "browser", Target: "api", DurationMs: 1000, PauseAfterMs: 200},
			{ID: "verify-hash", Label: "Verify hash", Source: "api", Target: "api", Payload: schema.PayloadCredential, DurationMs: 800},
		},
	}
}

func sampleSnapshot() playback.Snapshot {
	return playback.Snapshot{
		FlowID:           "password-login",
		ActiveEventIndex: 1,
		ActiveStepID:     "verify-hash",
		ElapsedInEventMs: 400,
		EventProgress:    0.5,
		GlobalProgress:   1600.0 / 2000.0 * 0.5,
		IsPlaying:        true,
		Speed:            1,
		Phase:            schema.PhasePlaying,
		StepCount:        2,
	}
}

func TestExpr_Name(t *testing.T) {
	assert.Equal(t, LangExpr, NewExprEngine().Name())
}

func TestExpr_SnapshotConditions(t *testing.T) {
	e := NewExprEngine()
	data := SnapshotData(sampleSnapshot(), sampleFlow())

	cases := []struct {
		expr string
		want any
	}{
		{`step.id == "verify-hash"`, true},
		{`step.label`, "Verify hash"},
		{`snapshot.event_progress > 0.25 and snapshot.is_playing`, true},
		{`snapshot.phase in ["paused", "boundary_paused"]`, false},
		{`flow.title`, "Password login"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tc.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestExpr_Errors(t *testing.T) {
	e := NewExprEngine()

	requireCode(t, e.Check(""), schema.ErrCodeValidation)
	requireCode(t, e.Check("step.id =="), schema.ErrCodeValidation)
	require.NoError(t, e.Check(`snapshot.speed > 1`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Evaluate(ctx, "true", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

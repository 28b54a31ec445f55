package expressions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/pkg/schema"
)

type traceRow struct {
	Type      string    `json:"event_type"`
	StepID    string    `json:"step_id"`
	StepIndex int       `json:"step_index"`
	Timestamp time.Time `json:"timestamp"`
}

func sampleTrace() []traceRow {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []traceRow{
		{Type: schema.EventPlay, StepID: "submit", StepIndex: 0, Timestamp: ts},
		{Type: schema.EventStepChange, StepID: "verify-hash", StepIndex: 1, Timestamp: ts},
		{Type: schema.EventPause, StepID: "verify-hash", StepIndex: 1, Timestamp: ts},
	}
}

func TestGoJQ_Name(t *testing.T) {
	assert.Equal(t, LangJQ, NewGoJQEngine().Name())
}

func TestGoJQ_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, ".snapshot.speed", map[string]any{"snapshot": map[string]any{"speed": 2.0}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out)

	out, err = e.Evaluate(ctx, ".xs[]", map[string]any{"xs": []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, out)

	out, err = e.Evaluate(ctx, "empty", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_FilterSelects(t *testing.T) {
	e := NewGoJQEngine()

	out, err := e.Filter(context.Background(), `select(.event_type == "STEP_CHANGE") | .step_id`, sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, []any{"verify-hash"}, out)

	out, err = e.Filter(context.Background(), `select(.step_index >= 1) | {type: .event_type}`, sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"type": schema.EventStepChange},
		map[string]any{"type": schema.EventPause},
	}, out)
}

func TestGoJQ_FilterSingleValue(t *testing.T) {
	out, err := NewGoJQEngine().Filter(context.Background(), ".step_id", sampleTrace()[0])
	require.NoError(t, err)
	assert.Equal(t, []any{"submit"}, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	requireCode(t, e.Check(""), schema.ErrCodeValidation)
	requireCode(t, e.Check(".a |"), schema.ErrCodeValidation)

	_, err := e.Filter(ctx, `error("boom")`, sampleTrace())
	requireCode(t, err, schema.ErrCodeExecution)

	_, err = e.Filter(ctx, ".", map[string]any{"ch": make(chan int)})
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = e.Evaluate(ctx, "$ENV.HOME", map[string]any{})
	require.NoError(t, err)
}

package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

func loginFlow() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		ID:       "password-login",
		Title:    "Password login",
		Protocol: "session",
		Participants: []schema.Participant{
			{ID: "db", Label: "Users DB", Lane: 2},
			{ID: "browser", Label: "Browser", Lane: 0},
			{ID: "api", Label: "API", Lane: 1},
		},
		Steps: []schema.StepDefinition{
			{ID: "submit", Label: "POST /login", Source: "browser", Target: "api", DurationMs: 1000, PauseAfterMs: 200, Payload: schema.PayloadCredential},
			{ID: "lookup", Label: "SELECT user", Source: "api", Target: "db", DurationMs: 600, Payload: schema.PayloadRequest},
			{ID: "record", Label: "user row", Source: "db", Target: "api", DurationMs: 400, Payload: schema.PayloadResponse},
			{ID: "verify", Label: "bcrypt compare", Source: "api", Target: "api", DurationMs: 800, Payload: schema.PayloadInternal},
		},
	}
}

func TestBuild_NoSnapshot(t *testing.T) {
	model, err := Build(loginFlow(), nil)
	require.NoError(t, err)

	assert.Equal(t, "password-login", model.FlowID)
	assert.Equal(t, "Password login", model.Title)
	assert.False(t, model.HasOverlay())

	require.Len(t, model.Lanes, 3)
	assert.Equal(t, []string{"browser", "api", "db"}, []string{model.Lanes[0].ID, model.Lanes[1].ID, model.Lanes[2].ID})
	assert.Equal(t, 2, model.Lanes[2].Column)

	require.Len(t, model.Messages, 4)
	for _, m := range model.Messages {
		assert.Equal(t, StatePending, m.State)
		assert.Zero(t, m.Progress)
	}
	assert.True(t, model.Messages[3].Self())
	assert.True(t, model.Messages[2].Reply())
	assert.False(t, model.Messages[0].Reply())
}

func TestBuild_WithSnapshot(t *testing.T) {
	snap := &playback.Snapshot{
		FlowID:           "password-login",
		ActiveEventIndex: 2,
		EventProgress:    0.25,
		GlobalProgress:   0.6,
		Phase:            schema.PhasePlaying,
	}
	model, err := Build(loginFlow(), snap)
	require.NoError(t, err)

	assert.True(t, model.HasOverlay())
	assert.Equal(t, 2, model.ActiveIndex)
	assert.Equal(t, schema.PhasePlaying, model.Phase)

	states := make([]MessageState, len(model.Messages))
	for i, m := range model.Messages {
		states[i] = m.State
	}
	assert.Equal(t, []MessageState{StateDone, StateDone, StateActive, StatePending}, states)
	assert.Equal(t, 1.0, model.Messages[0].Progress)
	assert.Equal(t, 0.25, model.Messages[2].Progress)
}

func TestBuild_DefaultsTitleToID(t *testing.T) {
	def := loginFlow()
	def.Title = ""
	model, err := Build(def, nil)
	require.NoError(t, err)
	assert.Equal(t, "password-login", model.Title)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)

	_, err = Build(loginFlow(), &playback.Snapshot{FlowID: "jwt-refresh"})
	assert.Error(t, err)

	def := loginFlow()
	def.Steps[1].Target = "ghost"
	_, err = Build(def, nil)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "lookup", fe.StepID)
}

func TestBuild_EmptyFlow(t *testing.T) {
	def := &schema.FlowDefinition{ID: "empty"}
	model, err := Build(def, &playback.Snapshot{FlowID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, model.Messages)
	assert.False(t, model.HasOverlay())
}

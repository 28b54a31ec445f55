package validation

import (
	"math"
	"testing"

	"github.com/rendis/authflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFlow() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		ID: "login",
		Participants: []schema.Participant{
			{ID: "client", Lane: 0},
			{ID: "server", Lane: 1},
		},
		Steps: []schema.StepDefinition{
			{ID: "submit", Source: "client", Target: "server", DurationMs: 1000},
			{ID: "issue", Source: "server", Target: "client", DurationMs: 800, PauseAfterMs: 200},
		},
	}
}

func TestValidate_ValidFlow(t *testing.T) {
	assert.Empty(t, Validate(validFlow()))
	assert.NoError(t, AssertValid(validFlow()))
}

func TestValidate_UnknownParticipants(t *testing.T) {
	def := validFlow()
	def.Steps[0].Source = "ghost"
	def.Steps[1].Target = "db"

	errs := Validate(def)
	require.Len(t, errs, 2)
	assert.Equal(t, "Step submit references unknown source participant ghost", errs[0])
	assert.Equal(t, "Step issue references unknown target participant db", errs[1])
}

func TestValidate_Durations(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		pause    float64
		want     string
	}{
		{"zero duration", 0, 0, "Step submit has non-positive durationMs 0"},
		{"negative duration", -5, 0, "Step submit has non-positive durationMs -5"},
		{"NaN duration", math.NaN(), 0, "Step submit has non-positive durationMs NaN"},
		{"negative pause", 100, -1, "Step submit has negative pauseAfterMs -1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			def := validFlow()
			def.Steps[0].DurationMs = tc.duration
			def.Steps[0].PauseAfterMs = tc.pause

			errs := Validate(def)
			require.Len(t, errs, 1)
			assert.Equal(t, tc.want, errs[0])
		})
	}
}

func TestValidate_ZeroPauseAllowed(t *testing.T) {
	def := validFlow()
	def.Steps[1].PauseAfterMs = 0
	assert.Empty(t, Validate(def))
}

func TestValidate_EmptyFlow(t *testing.T) {
	errs := Validate(&schema.FlowDefinition{ID: "empty"})
	assert.Equal(t, []string{"Flow has no participants", "Flow has no steps"}, errs)
}

func TestValidate_Nil(t *testing.T) {
	assert.Equal(t, []string{"Flow definition is nil"}, Validate(nil))
}

func TestValidate_Duplicates(t *testing.T) {
	def := validFlow()
	def.Participants = append(def.Participants, schema.Participant{ID: "client"})
	def.Steps[1].ID = "submit"

	errs := Validate(def)
	assert.Contains(t, errs, "Participant client is duplicated")
	assert.Contains(t, errs, "Step submit is duplicated")
}

func TestAssertValid_AggregatesAllErrors(t *testing.T) {
	def := validFlow()
	def.Steps[0].Source = "ghost"
	def.Steps[1].DurationMs = 0

	err := AssertValid(def)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Equal(t,
		"Step submit references unknown source participant ghost; Step issue has non-positive durationMs 0",
		fe.Message)
	assert.Equal(t, 2, fe.Details["error_count"])
}

func TestValidateSemantic_Paths(t *testing.T) {
	def := validFlow()
	def.Steps[1].PauseAfterMs = -3

	result := validateSemantic(def)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "steps[1].pauseAfterMs", result.Errors[0].Path)
}

func TestValidateSemantic_UnusedParticipantWarns(t *testing.T) {
	def := validFlow()
	def.Participants = append(def.Participants, schema.Participant{ID: "idp", Lane: 2})

	result := validateSemantic(def)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "participants[2]", result.Warnings[0].Path)
	assert.Equal(t, "Participant idp takes part in no step", result.Warnings[0].Message)
	assert.NoError(t, AssertValid(def))
}

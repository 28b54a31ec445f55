package validation

import (
	"fmt"

	"github.com/rendis/authflow/pkg/schema"
)

// Validate checks referential and numeric integrity of a flow definition and
// returns one message per problem. An empty slice means the flow is playable.
func Validate(def *schema.FlowDefinition) []string {
	return validateSemantic(def).Messages()
}

// AssertValid returns a VALIDATION_ERROR aggregating every problem found by
// Validate, joined with "; ". It returns nil for a valid flow.
func AssertValid(def *schema.FlowDefinition) error {
	return validateSemantic(def).ToError()
}

// validateSemantic walks participants and steps, recording every issue instead
// of stopping at the first one.
func validateSemantic(def *schema.FlowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "Flow definition is nil")
		return result
	}

	if def.ID == "" {
		result.AddError("id", schema.ErrCodeValidation, "Flow id is empty")
	}
	if len(def.Participants) == 0 {
		result.AddError("participants", schema.ErrCodeValidation, "Flow has no participants")
	}
	if len(def.Steps) == 0 {
		result.AddError("steps", schema.ErrCodeValidation, "Flow has no steps")
	}

	participants := make(map[string]bool, len(def.Participants))
	for i, p := range def.Participants {
		if participants[p.ID] {
			result.AddError(fmt.Sprintf("participants[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("Participant %s is duplicated", p.ID))
		}
		participants[p.ID] = true
	}

	steps := make(map[string]bool, len(def.Steps))
	used := make(map[string]bool, len(def.Participants))
	for i := range def.Steps {
		validateStep(&def.Steps[i], fmt.Sprintf("steps[%d]", i), participants, steps, result)
		used[def.Steps[i].Source] = true
		used[def.Steps[i].Target] = true
	}
	for i, p := range def.Participants {
		if !used[p.ID] {
			result.AddWarning(fmt.Sprintf("participants[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("Participant %s takes part in no step", p.ID))
		}
	}

	return result
}

func validateStep(step *schema.StepDefinition, path string, participants, seen map[string]bool, result *schema.ValidationResult) {
	if seen[step.ID] {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("Step %s is duplicated", step.ID))
	}
	seen[step.ID] = true

	if !participants[step.Source] {
		result.AddError(path+".source", schema.ErrCodeValidation,
			fmt.Sprintf("Step %s references unknown source participant %s", step.ID, step.Source))
	}
	if !participants[step.Target] {
		result.AddError(path+".target", schema.ErrCodeValidation,
			fmt.Sprintf("Step %s references unknown target participant %s", step.ID, step.Target))
	}
	// NaN fails both comparisons, so test for the accepted range instead.
	if !(step.DurationMs > 0) {
		result.AddError(path+".durationMs", schema.ErrCodeValidation,
			fmt.Sprintf("Step %s has non-positive durationMs %v", step.ID, step.DurationMs))
	}
	if !(step.PauseAfterMs >= 0) {
		result.AddError(path+".pauseAfterMs", schema.ErrCodeValidation,
			fmt.Sprintf("Step %s has negative pauseAfterMs %v", step.ID, step.PauseAfterMs))
	}
}

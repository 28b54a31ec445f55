package validation

import (
	"encoding/json"

	"github.com/rendis/authflow/pkg/schema"
)

// FlowValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema), for documents read from disk
// 2. Semantic (participant references, durations, duplicates)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewFlowValidator creates a FlowValidator.
func NewFlowValidator() (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv}, nil
}

// ValidateDefinition runs the semantic stage on an in-memory definition.
func (fv *FlowValidator) ValidateDefinition(def *schema.FlowDefinition) error {
	return AssertValid(def)
}

// ValidateDocument parses a raw document and runs both stages. Structural
// errors short-circuit: the semantic stage needs a decodable definition.
func (fv *FlowValidator) ValidateDocument(data []byte, format DocumentFormat) (*schema.FlowDefinition, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	jsonBytes, err := fv.jsonSchema.ValidateRaw(data, format)
	if err != nil {
		addStructural(result, err)
		return nil, result
	}

	var def schema.FlowDefinition
	if err := json.Unmarshal(jsonBytes, &def); err != nil {
		result.AddError("/", schema.ErrCodeValidation, "cannot decode flow: "+err.Error())
		return nil, result
	}

	result.Merge(validateSemantic(&def))
	if !result.Valid() {
		return nil, result
	}
	return &def, result
}

// addStructural converts a structural-stage error into result issues.
func addStructural(result *schema.ValidationResult, err error) {
	fe, ok := err.(*schema.FlowError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
}

var _ Validator = (*FlowValidator)(nil)

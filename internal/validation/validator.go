package validation

import "github.com/rendis/authflow/pkg/schema"

// Validator checks flow definitions before they are registered for playback.
type Validator interface {
	ValidateDefinition(def *schema.FlowDefinition) error
	ValidateDocument(data []byte, format DocumentFormat) (*schema.FlowDefinition, *schema.ValidationResult)
}

// DocumentFormat selects the decoder for raw flow documents.
type DocumentFormat string

const (
	FormatJSON DocumentFormat = "json"
	FormatYAML DocumentFormat = "yaml"
)

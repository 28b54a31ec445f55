package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/authflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const flowSchemaURL = "https://authflow.dev/schemas/flow.json"

// flowSchemaJSON is the JSON Schema for flow documents loaded from disk.
// Embedded as a constant to avoid filesystem dependencies.
const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://authflow.dev/schemas/flow.json",
  "type": "object",
  "required": ["id", "participants", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1, "pattern": "^[a-z0-9][a-z0-9._-]*$" },
    "title": { "type": "string" },
    "protocol": { "type": "string" },
    "description": { "type": "string" },
    "prerequisites": { "type": "array", "items": { "type": "string" } },
    "participants": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/participant" }
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "participant": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "lane": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["id", "source", "target", "durationMs"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string" },
        "description": { "type": "string" },
        "durationMs": { "type": "number", "exclusiveMinimum": 0 },
        "pauseAfterMs": { "type": "number", "minimum": 0 },
        "payload": {
          "type": "string",
          "enum": ["request", "response", "credential", "token", "redirect", "internal"]
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks raw flow documents against the flow schema.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the flow schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource(flowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	compiled, err := c.Compile(flowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &JSONSchemaValidator{flowSchema: compiled}, nil
}

// ValidateRaw decodes data in the given format and validates it against the
// flow schema. It returns the JSON bytes of the document so callers can decode
// it into a FlowDefinition without re-parsing YAML.
func (v *JSONSchemaValidator) ValidateRaw(data []byte, format DocumentFormat) ([]byte, error) {
	jsonBytes, err := toJSONBytes(data, format)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot parse %s document: %s", format, err.Error()).
			WithCause(err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(jsonBytes)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is not valid JSON").WithCause(err)
	}

	if err := v.flowSchema.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}
	return jsonBytes, nil
}

// toJSONBytes normalizes a JSON or YAML document into JSON bytes.
func toJSONBytes(data []byte, format DocumentFormat) ([]byte, error) {
	if format != FormatYAML {
		return data, nil
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details carry every violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

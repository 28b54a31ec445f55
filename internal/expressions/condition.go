package expressions

import (
	"context"

	"github.com/rendis/authflow/internal/playback"
	"github.com/rendis/authflow/pkg/schema"
)

// Condition is a compiled boolean watch expression over playback state.
type Condition struct {
	engine     Engine
	expression string
}

// CompileCondition checks expression with the given language ("cel" or
// "expr") and returns a reusable Condition.
func CompileCondition(lang, expression string) (*Condition, error) {
	if lang == LangJQ {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq is for trace filters, not watch conditions")
	}
	engine, err := NewEngine(lang)
	if err != nil {
		return nil, err
	}
	if c, ok := engine.(Checker); ok {
		if err := c.Check(expression); err != nil {
			return nil, err
		}
	}
	return &Condition{engine: engine, expression: expression}, nil
}

// String returns the source expression.
func (c *Condition) String() string { return c.expression }

// Match evaluates the condition for snap. A non-boolean result is an
// EXECUTION_ERROR.
func (c *Condition) Match(ctx context.Context, snap playback.Snapshot, def *schema.FlowDefinition) (bool, error) {
	out, err := c.engine.Evaluate(ctx, c.expression, SnapshotData(snap, def))
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution,
			"condition %q returned %T, want bool", c.expression, out)
	}
	return b, nil
}

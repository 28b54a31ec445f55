package expressions

import (
	"context"

	"github.com/rendis/authflow/pkg/schema"
)

// Engine evaluates expressions against playback data.
// CEL and Expr evaluate watch conditions; GoJQ filters and reshapes trace events.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Checker is implemented by engines that can compile an expression without
// evaluating it, so bad input is reported before playback starts.
type Checker interface {
	Check(expression string) error
}

// Engine names accepted by NewEngine.
const (
	LangCEL  = "cel"
	LangExpr = "expr"
	LangJQ   = "jq"
)

// NewEngine returns a fresh engine for lang.
func NewEngine(lang string) (Engine, error) {
	switch lang {
	case LangCEL:
		return NewCELEngine()
	case LangExpr:
		return NewExprEngine(), nil
	case LangJQ:
		return NewGoJQEngine(), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q (want cel, expr or jq)", lang)
}

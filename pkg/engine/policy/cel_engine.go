// Package policy compiles and evaluates the CEL exclusion expressions attached
// to detection rule overrides.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Input is the activation exposed to an exclusion expression.
type Input struct {
	ID      string
	Type    string
	Region  string
	AgeDays float64
	Tags    map[string]string
	Attrs   map[string]interface{}
}

func (in Input) vars() map[string]interface{} {
	tags := in.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	attrs := in.Attrs
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":       in.ID,
		"type":     in.Type,
		"region":   in.Region,
		"age_days": in.AgeDays,
		"tags":     tags,
		"attrs":    attrs,
	}
}

// Program is a compiled boolean expression.
type Program struct {
	Expr string
	prg  cel.Program
}

// Matches evaluates the expression. A non-boolean result is an error.
func (p *Program) Matches(in Input) (bool, error) {
	out, _, err := p.prg.Eval(in.vars())
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.Expr, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", p.Expr, out.Value())
	}
	return match, nil
}

// CELEngine owns the CEL environment and caches compiled programs by source.
type CELEngine struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]*Program
}

// NewCELEngine initializes the CEL environment with the candidate variables.
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("region", cel.StringType),
		cel.Variable("age_days", cel.DoubleType),
		cel.Variable("tags", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("attrs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &CELEngine{env: env, programs: make(map[string]*Program)}, nil
}

// Compile type-checks expr and returns a cached program.
func (e *CELEngine) Compile(expr string) (*Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.programs[expr]; ok {
		return p, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	p := &Program{Expr: expr, prg: prg}
	e.programs[expr] = p
	return p, nil
}

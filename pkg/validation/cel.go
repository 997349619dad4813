package validation

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator evaluates a CEL expression against a value bound to
// the variable "this". Implementations return an error for expressions that
// fail to compile, fail at runtime, or do not produce a boolean; callers
// treat any error as a constraint failure, never as a server error.
type ExpressionEvaluator interface {
	Evaluate(expression string, this any) (bool, error)
}

// celEvaluator backs ExpressionEvaluator with cel-go. Compiled programs are
// cached per expression; rule sets repeat the same expressions across calls.
type celEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds the cel-go evaluator with "this" declared as a
// dynamic value.
func NewCELEvaluator() (ExpressionEvaluator, error) {
	env, err := cel.NewEnv(cel.Variable("this", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	return &celEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

func (e *celEvaluator) Evaluate(expression string, this any) (bool, error) {
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"this": this})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expression, err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not produce a boolean", expression)
	}
	return b, nil
}

func (e *celEvaluator) program(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling %q: %w", expression, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building program for %q: %w", expression, err)
	}

	e.programs[expression] = prg
	return prg, nil
}

package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine compiles and evaluates policy rule expressions. Compiled programs
// are cached per rule key; safe for concurrent use.
type Engine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine creates an engine with the `decision` fact variable declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("decision", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates and caches the program for a rule key. Recompiling the
// same key replaces the cached program.
func (e *Engine) Compile(key, expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile rule %s: %w", key, issues.Err())
	}
	// Cost limit keeps a malicious tenant expression from burning CPU.
	prog, err := e.env.Program(ast, cel.CostLimit(1_000_000))
	if err != nil {
		return fmt.Errorf("program for rule %s: %w", key, err)
	}
	e.mu.Lock()
	e.programs[key] = prog
	e.mu.Unlock()
	return nil
}

// Match evaluates a compiled rule against the facts, compiling on first use.
// Non-boolean results evaluate to false.
func (e *Engine) Match(key, expression string, facts map[string]any) (bool, error) {
	e.mu.RLock()
	prog, ok := e.programs[key]
	e.mu.RUnlock()

	if !ok {
		if err := e.Compile(key, expression); err != nil {
			return false, err
		}
		e.mu.RLock()
		prog = e.programs[key]
		e.mu.RUnlock()
	}

	out, _, err := prog.Eval(facts)
	if err != nil {
		return false, err
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

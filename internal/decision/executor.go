package decision

import (
	"context"
	"fmt"
)

// Executor performs the business side effect of an approved or auto-approved
// decision. Implementations must resolve every failure, expected or not, to
// an ExecutionResult; they never panic through.
type Executor interface {
	Execute(ctx context.Context, d *Decision) ExecutionResult
}

// Handler performs the side effect for a single decision type. Expected
// business failures are returned as errors.
type Handler func(ctx context.Context, d *Decision) error

// Registry routes execution to per-type handlers. Types without a handler
// fall back to Default, or fail cleanly when no Default is set.
type Registry struct {
	handlers map[string]Handler
	Default  Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs the handler for a decision type, replacing any previous
// one.
func (r *Registry) Register(decisionType string, h Handler) {
	r.handlers[decisionType] = h
}

// Execute runs the matching handler. Panics and errors both resolve to a
// failed result so the decision row always gets some outcome.
func (r *Registry) Execute(ctx context.Context, d *Decision) (res ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = ExecutionResult{Success: false, Error: fmt.Sprintf("executor panic: %v", rec)}
		}
	}()

	h := r.handlers[d.Type]
	if h == nil {
		h = r.Default
	}
	if h == nil {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("no executor for decision type %q", d.Type)}
	}
	if err := h(ctx, d); err != nil {
		return ExecutionResult{Success: false, Error: err.Error()}
	}
	return ExecutionResult{Success: true}
}

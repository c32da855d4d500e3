package scex

import (
	"context"

	"github.com/expr-lang/expr"
)

// Eval runs the compiled callable against context, which should satisfy
// the same shape (struct or map[string]any) the ExpressionDef's
// ContextType/Variables described at compile time. Runtime errors produced
// by the expression itself are returned unchanged (spec §7 "runtime
// evaluation errors produced by the compiled callable itself are
// surfaced to the host unchanged").
//
// Evaluation is independent of the compile pipeline and does not take the
// driver's lock (spec §5): only a transparent recompile-on-eviction does.
func (c *Callable) Eval(ctx context.Context, context_ map[string]any) (any, error) {
	program, err := c.Program(ctx)
	if err != nil {
		return nil, err
	}

	return expr.Run(program, context_)
}

// EvalStruct is a convenience wrapper for hosts whose context is a Go
// struct rather than a pre-built map.
func (c *Callable) EvalStruct(ctx context.Context, context_ any) (any, error) {
	program, err := c.Program(ctx)
	if err != nil {
		return nil, err
	}

	return expr.Run(program, context_)
}

// Assign performs a setter-mode expression's actual assignment (spec §4.1,
// §4.6; GLOSSARY "setter mode": "the wrapper compiles to a callable
// (context, newValue) -> unit"). expr-lang has no general mutation of
// caller-supplied data, so the assignment itself runs here, against the
// AssignTarget recorded at compile time, rather than inside the compiled
// program. Assign returns ErrSetterTarget if c was not compiled from a
// setter-mode ExpressionDef.
func (c *Callable) Assign(ctx context.Context, context_ any, newValue any) error {
	artifact, err := c.artifact(ctx)
	if err != nil {
		return err
	}

	if artifact.AssignTarget == nil {
		return ErrSetterTarget
	}

	return artifact.AssignTarget.Set(context_, newValue)
}

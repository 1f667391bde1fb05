package vm

import "context"

// Result is the outcome of a run that did not fault. HasValue is false when
// the operand stack ended empty.
type Result struct {
	Value    Operand
	HasValue bool
}

// Display returns the value's display text, or false if there is none.
func (r Result) Display() (string, bool) {
	if !r.HasValue {
		return "", false
	}
	return r.Value.String(), true
}

// Run executes an assembled program on a fresh machine.
func Run(ctx context.Context, p *Program, opts ...Option) (Result, error) {
	return NewMachine(p, opts...).Run(ctx)
}

// RunSource assembles and executes bytecode text. Assembly failures are
// returned as *AssemblyError before anything executes; faults during the
// run are returned as *ExecutionError.
func RunSource(ctx context.Context, source string, opts ...Option) (Result, error) {
	p, err := Assemble(source)
	if err != nil {
		return Result{}, err
	}
	return Run(ctx, p, opts...)
}

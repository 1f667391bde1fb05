package vm

import (
	"errors"
	"fmt"
)

// Execution fault causes. An *ExecutionError wraps exactly one of these, or
// the context error that stopped the run.
var (
	ErrStackUnderflow  = errors.New("vm: stack underflow")
	ErrTypeMismatch    = errors.New("vm: operand kind mismatch")
	ErrUnboundVariable = errors.New("vm: unbound variable")
	ErrUnresolvedLabel = errors.New("vm: unresolved label")
	ErrStepLimit       = errors.New("vm: step limit exceeded")
)

// AssemblyError reports a program that could not be assembled. No
// instruction of the program runs when assembly fails.
type AssemblyError struct {
	Line int    // 1-based source line
	Text string // Offending line as written
	Msg  string // Message shown to the caller
}

func (e *AssemblyError) Error() string {
	return e.Msg
}

func unexpectedLine(line int, text string) *AssemblyError {
	return &AssemblyError{
		Line: line,
		Text: text,
		Msg:  fmt.Sprintf("Unexpected bytecode line: %s", text),
	}
}

// ExecutionError reports a fault raised while running a program.
type ExecutionError struct {
	PC  int    // Index of the faulting instruction
	Op  Opcode // Faulting instruction
	Err error  // Cause, one of the Err* sentinels or a context error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%v at %04d %s", e.Err, e.PC, e.Op)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsAssemblyError reports whether err is or wraps an *AssemblyError.
func IsAssemblyError(err error) bool {
	var ae *AssemblyError
	return errors.As(err, &ae)
}

// IsExecutionError reports whether err is or wraps an *ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

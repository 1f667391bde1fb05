package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

const arithmeticSource = `LOAD_VAL 1
WRITE_VAR 'x'
LOAD_VAL 2
WRITE_VAR 'y'
READ_VAR 'x'
LOAD_VAL 1
ADD
READ_VAR 'y'
MULTIPLY
RETURN_VALUE`

const loopSource = `LOAD_VAL 0
WRITE_VAR 'x'
LABEL :loop1start
READ_VAR 'x'
LOAD_VAL 3
CMP_LT
POP_JUMP_IF_FALSE :loop1end
READ_VAR 'x'
PRINT 'x'
READ_VAR 'x'
LOAD_VAL 1
ADD
WRITE_VAR 'x'
JUMP :loop1start
LABEL :loop1end
READ_VAR 'x'
RETURN_VALUE`

func runSource(t *testing.T, source string, opts ...Option) (Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out), WithDiagnostics(&out)}, opts...)
	result, err := RunSource(context.Background(), source, opts...)
	return result, out.String(), err
}

func expectDisplay(t *testing.T, source, want string) {
	t.Helper()
	result, _, err := runSource(t, source)
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	got, ok := result.Display()
	if !ok {
		t.Fatalf("RunSource returned no value, want %q", want)
	}
	if got != want {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestArithmetic(t *testing.T) {
	expectDisplay(t, arithmeticSource, "4")
}

func TestArithmeticOtherValues(t *testing.T) {
	source := `LOAD_VAL 22
WRITE_VAR 'x'
LOAD_VAL 8
WRITE_VAR 'y'
READ_VAR 'x'
LOAD_VAL 2
ADD
READ_VAR 'y'
MULTIPLY
RETURN_VALUE`
	expectDisplay(t, source, "192")
}

func TestArithmeticOperandOrder(t *testing.T) {
	// CMP_LT compares second-from-top against top.
	expectDisplay(t, "LOAD_VAL 1\nLOAD_VAL 2\nCMP_LT\nRETURN_VALUE", "true")
	expectDisplay(t, "LOAD_VAL 2\nLOAD_VAL 1\nCMP_LT\nRETURN_VALUE", "false")
	expectDisplay(t, "LOAD_VAL 2\nLOAD_VAL 2\nCMP_LT\nRETURN_VALUE", "false")
	expectDisplay(t, "LOAD_VAL -3\nLOAD_VAL 4\nMULTIPLY\nRETURN_VALUE", "-12")
}

func TestLoop(t *testing.T) {
	result, out, err := runSource(t, loopSource)
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if got, _ := result.Display(); got != "3" {
		t.Errorf("result = %q, want %q", got, "3")
	}
	if out != "012" {
		t.Errorf("output = %q, want %q", out, "012")
	}
}

func TestRunIsRepeatable(t *testing.T) {
	p, err := Assemble(loopSource)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		var out bytes.Buffer
		result, err := Run(context.Background(), p, WithOutput(&out))
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		if got, _ := result.Display(); got != "3" || out.String() != "012" {
			t.Errorf("run %d = %q, output %q", i, got, out.String())
		}
	}
}

func TestPrintIgnoresArgument(t *testing.T) {
	_, out, err := runSource(t, "LOAD_VAL 'a'\nPRINT 'ignored'\nLOAD_VAL 7\nPRINT 0")
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if out != "a7" {
		t.Errorf("output = %q, want %q", out, "a7")
	}
}

func TestStringLiteral(t *testing.T) {
	expectDisplay(t, "LOAD_VAL 'hello'\nRETURN_VALUE", "hello")
	expectDisplay(t, "PUSH 5\nRETURN_VALUE", "5")
}

func TestRunWithoutReturn(t *testing.T) {
	result, _, err := runSource(t, "LOAD_VAL 1\nLOAD_VAL 2")
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if got, _ := result.Display(); got != "2" {
		t.Errorf("result = %q, want %q", got, "2")
	}
}

func TestRunEmptyStack(t *testing.T) {
	for _, source := range []string{"", "RETURN_VALUE", "LOAD_VAL 1\nWRITE_VAR 'x'\nRETURN_VALUE"} {
		result, _, err := runSource(t, source)
		if err != nil {
			t.Fatalf("RunSource(%q) failed: %v", source, err)
		}
		if result.HasValue {
			t.Errorf("RunSource(%q) = %v, want no value", source, result.Value)
		}
		if _, ok := result.Display(); ok {
			t.Errorf("Display() should report no value for %q", source)
		}
	}
}

func TestReturnStopsExecution(t *testing.T) {
	_, out, err := runSource(t, "LOAD_VAL 1\nRETURN_VALUE\nLOAD_VAL 'after'\nPRINT 0")
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, nothing should run after RETURN_VALUE", out)
	}
}

func TestMalformedLineRunsNothing(t *testing.T) {
	_, out, err := runSource(t, "LOAD_VAL 1\nPRINT 'x'\nLOAD_VAL 1 2")
	if !IsAssemblyError(err) {
		t.Fatalf("error = %v, want assembly error", err)
	}
	if err.Error() != "Unexpected bytecode line: LOAD_VAL 1 2" {
		t.Errorf("error = %q", err.Error())
	}
	if out != "" {
		t.Errorf("output = %q, no instruction should execute", out)
	}
}

func expectFault(t *testing.T, source string, want error, pc int) *ExecutionError {
	t.Helper()
	_, _, err := runSource(t, source)
	if err == nil {
		t.Fatalf("RunSource(%q) should fail", source)
	}
	if !errors.Is(err, want) {
		t.Fatalf("RunSource(%q) error = %v, want %v", source, err, want)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("error %v is not an *ExecutionError", err)
	}
	if ee.PC != pc {
		t.Errorf("fault PC = %d, want %d", ee.PC, pc)
	}
	return ee
}

func TestUnboundVariable(t *testing.T) {
	ee := expectFault(t, "LOAD_VAL 1\nREAD_VAR 'nope'\nRETURN_VALUE", ErrUnboundVariable, 1)
	if ee.Op != OpReadVar {
		t.Errorf("fault op = %s, want READ_VAR", ee.Op)
	}
	if !strings.Contains(ee.Error(), "nope") {
		t.Errorf("error %q should name the variable", ee.Error())
	}
}

func TestStackUnderflow(t *testing.T) {
	expectFault(t, "LOAD_VAL 1\nADD", ErrStackUnderflow, 1)
	expectFault(t, "PRINT 'x'", ErrStackUnderflow, 0)
	expectFault(t, "WRITE_VAR 'x'", ErrStackUnderflow, 0)
	expectFault(t, "POP_JUMP_IF_FALSE :x\nLABEL :x", ErrStackUnderflow, 0)
}

func TestTypeMismatch(t *testing.T) {
	expectFault(t, "LOAD_VAL 'a'\nLOAD_VAL 1\nADD", ErrTypeMismatch, 2)
	expectFault(t, "LOAD_VAL 1\nLOAD_VAL 2\nCMP_LT\nLOAD_VAL 1\nMULTIPLY", ErrTypeMismatch, 4)
	expectFault(t, "LOAD_VAL 0\nPOP_JUMP_IF_FALSE :x\nLABEL :x", ErrTypeMismatch, 1)
	expectFault(t, "LOAD_VAL 1\nWRITE_VAR 7", ErrTypeMismatch, 1)
}

func TestUnresolvedLabelFaultsOnlyWhenTaken(t *testing.T) {
	expectFault(t, "LOAD_VAL 1\nJUMP :nowhere", ErrUnresolvedLabel, 1)
	expectFault(t, "CALL :nowhere", ErrUnresolvedLabel, 0)

	// The jump is never reached.
	expectDisplay(t, "LOAD_VAL 1\nRETURN_VALUE\nJUMP :nowhere", "1")

	// A true condition falls through without looking at the label.
	expectDisplay(t, "LOAD_VAL 1\nLOAD_VAL 2\nCMP_LT\nPOP_JUMP_IF_FALSE :nowhere\nLOAD_VAL 9\nRETURN_VALUE", "9")
}

func TestCallAndReturn(t *testing.T) {
	source := `LOAD_VAL 5
WRITE_VAR 'n'
READ_VAR 'n'
CALL :double
READ_VAR 'n'
ADD
RETURN_VALUE
LABEL :double
WRITE_VAR 'n'
READ_VAR 'n'
LOAD_VAL 2
MULTIPLY
RETURN_VALUE`

	// The argument travels on the operand stack. The callee binds its own
	// n to 5 and leaves 10; the caller's n is still 5 after the return.
	expectDisplay(t, source, "15")
}

func TestCalleeCannotReadCallerLocals(t *testing.T) {
	source := `LOAD_VAL 42
WRITE_VAR 'secret'
CALL :peek
RETURN_VALUE
LABEL :peek
READ_VAR 'secret'
RETURN_VALUE`

	ee := expectFault(t, source, ErrUnboundVariable, 4)
	if ee.Op != OpReadVar {
		t.Errorf("fault op = %s, want READ_VAR", ee.Op)
	}
}

func TestCallerLocalsSurviveCallee(t *testing.T) {
	source := `LOAD_VAL 1
WRITE_VAR 'x'
CALL :clobber
READ_VAR 'x'
RETURN_VALUE
LABEL :clobber
LOAD_VAL 99
WRITE_VAR 'x'
RETURN_VALUE`

	expectDisplay(t, source, "1")
}

func TestCallDepth(t *testing.T) {
	p, err := Assemble("CALL :f\nRETURN_VALUE\nLABEL :f\nLOAD_VAL 1\nRETURN_VALUE")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(p)

	if m.Depth() != 1 {
		t.Fatalf("initial depth = %d, want 1", m.Depth())
	}
	if err := m.Step(); err != nil {
		t.Fatalf("CALL failed: %v", err)
	}
	if m.Depth() != 2 || m.PC() != 2 {
		t.Errorf("after CALL depth = %d pc = %d, want 2 and 2", m.Depth(), m.PC())
	}
	m.Step() // LOAD_VAL 1
	m.Step() // RETURN_VALUE in callee
	if m.Depth() != 1 || m.PC() != 1 {
		t.Errorf("after return depth = %d pc = %d, want 1 and 1", m.Depth(), m.PC())
	}
	m.Step() // RETURN_VALUE in outermost frame
	if !m.Halted() {
		t.Error("machine should halt after the outermost RETURN_VALUE")
	}
	if got := m.Stack(); len(got) != 1 || got[0] != Int(1) {
		t.Errorf("stack = %v, want [1]", got)
	}
	if m.Steps() != 4 {
		t.Errorf("steps = %d, want 4", m.Steps())
	}
}

func TestLocalsInspection(t *testing.T) {
	p, err := Assemble("LOAD_VAL 'v'\nWRITE_VAR 'k'")
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(p)
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if v, ok := m.Local("k"); !ok || v != Text("v") {
		t.Errorf("Local(k) = %v, %v", v, ok)
	}
}

func TestStepLimit(t *testing.T) {
	_, _, err := runSource(t, "LABEL :spin\nJUMP :spin", WithStepLimit(100))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("error = %v, want ErrStepLimit", err)
	}

	// A limit above the program's length does not interfere.
	result, _, err := runSource(t, arithmeticSource, WithStepLimit(10))
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if got, _ := result.Display(); got != "4" {
		t.Errorf("result = %q, want %q", got, "4")
	}
}

func TestContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunSource(ctx, "LABEL :spin\nJUMP :spin")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !IsExecutionError(err) {
		t.Errorf("error %v should be an execution error", err)
	}
}

func TestTrace(t *testing.T) {
	result, _, err := runSource(t, arithmeticSource, WithTrace(true))
	if err != nil {
		t.Fatalf("RunSource failed: %v", err)
	}
	if got, _ := result.Display(); got != "4" {
		t.Errorf("result = %q, want %q", got, "4")
	}
}

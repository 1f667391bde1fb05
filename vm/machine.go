package vm

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("stackvm.vm")

// contextCheckInterval is how many instructions run between context checks.
const contextCheckInterval = 1024

// haltAddress is the return address of the outermost frame.
const haltAddress = -1

// Frame is one activation: its return address and its locals.
type Frame struct {
	ReturnAddress int
	Locals        map[string]Operand
}

func newFrame(returnAddress int) *Frame {
	return &Frame{
		ReturnAddress: returnAddress,
		Locals:        make(map[string]Operand),
	}
}

// Machine executes one program. It is created per run and must not be
// shared between goroutines.
type Machine struct {
	program *Program
	pc      int
	stack   []Operand
	frames  []*Frame
	halted  bool
	steps   int

	opts options

	// mu guards writes to the output and diagnostics writers, which SPAWN's
	// goroutines share with the machine.
	mu *sync.Mutex
}

// NewMachine creates a machine positioned at the first instruction with one
// empty frame.
func NewMachine(p *Program, opts ...Option) *Machine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Machine{
		program: p,
		stack:   make([]Operand, 0, 16),
		frames:  []*Frame{newFrame(haltAddress)},
		opts:    o,
		mu:      &sync.Mutex{},
	}
}

// Run executes until the outermost frame returns or the code runs out,
// then reports the top of the operand stack.
func (m *Machine) Run(ctx context.Context) (Result, error) {
	for !m.halted {
		if m.steps%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, m.fault(m.pc, m.opAt(m.pc), err)
			}
		}
		if err := m.Step(); err != nil {
			return Result{}, err
		}
	}

	if len(m.stack) == 0 {
		return Result{}, nil
	}
	return Result{Value: m.stack[len(m.stack)-1], HasValue: true}, nil
}

// Step executes a single instruction.
func (m *Machine) Step() error {
	if m.halted {
		return nil
	}
	if m.pc >= len(m.program.Code) {
		m.halted = true
		return nil
	}

	pc := m.pc
	in := m.program.Code[pc]
	m.pc++
	m.steps++

	if m.opts.stepLimit > 0 && m.steps > m.opts.stepLimit {
		return m.fault(pc, in.Op, ErrStepLimit)
	}

	if m.opts.trace {
		log.Debugf("[%04d] %-18s sp=%d depth=%d", pc, in.Op, len(m.stack), len(m.frames))
	}

	if err := m.dispatch(in); err != nil {
		return m.fault(pc, in.Op, err)
	}
	return nil
}

func (m *Machine) dispatch(in Instruction) error {
	switch in.Op {
	// ============ Constants and Locals ============
	case OpLoadVal, OpPush:
		m.push(m.argument(in))

	case OpWriteVar:
		val, err := m.pop()
		if err != nil {
			return err
		}
		name, err := m.name(in)
		if err != nil {
			return err
		}
		m.frame().Locals[name] = val

	case OpReadVar:
		name, err := m.name(in)
		if err != nil {
			return err
		}
		val, ok := m.lookup(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnboundVariable, name)
		}
		m.push(val)

	// ============ Arithmetic and Comparison ============
	case OpAdd:
		lhs, rhs, err := m.popIntPair()
		if err != nil {
			return err
		}
		m.push(Int(lhs + rhs))

	case OpMultiply:
		lhs, rhs, err := m.popIntPair()
		if err != nil {
			return err
		}
		m.push(Int(lhs * rhs))

	case OpCmpLt:
		lhs, rhs, err := m.popIntPair()
		if err != nil {
			return err
		}
		m.push(Bool(lhs < rhs))

	// ============ Control Flow ============
	case OpPopJumpIfFalse:
		val, err := m.pop()
		if err != nil {
			return err
		}
		cond, ok := val.AsBoolean()
		if !ok {
			return fmt.Errorf("%w: condition is %s", ErrTypeMismatch, val.Kind())
		}
		if !cond {
			return m.jump(in)
		}

	case OpJump:
		return m.jump(in)

	case OpCall:
		if in.Target < 0 {
			return m.unresolved(in)
		}
		m.frames = append(m.frames, newFrame(m.pc))
		m.pc = in.Target

	case OpReturnValue:
		if len(m.frames) == 1 {
			m.halted = true
			return nil
		}
		top := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		m.pc = top.ReturnAddress

	// ============ Output ============
	case OpPrint:
		val, err := m.pop()
		if err != nil {
			return err
		}
		m.write(m.opts.output, val.String())

	// ============ Channel Stubs ============
	case OpSendChannel:
		return m.sendChannel()

	case OpRecvChannel:
		return m.recvChannel()

	case OpSpawn:
		return m.spawn()

	default:
		return fmt.Errorf("vm: unknown opcode 0x%02X", byte(in.Op))
	}
	return nil
}

// ============ Stack and Frame Helpers ============

func (m *Machine) push(val Operand) {
	m.stack = append(m.stack, val)
}

func (m *Machine) pop() (Operand, error) {
	if len(m.stack) == 0 {
		return Operand{}, ErrStackUnderflow
	}
	val := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return val, nil
}

func (m *Machine) popInt() (int64, error) {
	val, err := m.pop()
	if err != nil {
		return 0, err
	}
	n, ok := val.AsInteger()
	if !ok {
		return 0, fmt.Errorf("%w: expected integer, got %s", ErrTypeMismatch, val.Kind())
	}
	return n, nil
}

// popIntPair pops rhs then lhs.
func (m *Machine) popIntPair() (int64, int64, error) {
	rhs, err := m.popInt()
	if err != nil {
		return 0, 0, err
	}
	lhs, err := m.popInt()
	if err != nil {
		return 0, 0, err
	}
	return lhs, rhs, nil
}

func (m *Machine) frame() *Frame {
	return m.frames[len(m.frames)-1]
}

// lookup finds a local in the current frame. Callers' locals are not visible.
func (m *Machine) lookup(name string) (Operand, bool) {
	val, ok := m.frame().Locals[name]
	return val, ok
}

func (m *Machine) argument(in Instruction) Operand {
	val, _ := m.program.Argument(in)
	return val
}

func (m *Machine) name(in Instruction) (string, error) {
	val := m.argument(in)
	name, ok := val.AsText()
	if !ok {
		return "", fmt.Errorf("%w: variable name is %s", ErrTypeMismatch, val.Kind())
	}
	return name, nil
}

func (m *Machine) jump(in Instruction) error {
	if in.Target < 0 {
		return m.unresolved(in)
	}
	m.pc = in.Target
	return nil
}

func (m *Machine) unresolved(in Instruction) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedLabel, m.argument(in))
}

func (m *Machine) write(w io.Writer, s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	io.WriteString(w, s)
}

func (m *Machine) opAt(pc int) Opcode {
	if pc >= 0 && pc < len(m.program.Code) {
		return m.program.Code[pc].Op
	}
	return OpReturnValue
}

func (m *Machine) fault(pc int, op Opcode, err error) error {
	log.Debugf("execution fault at %04d %s: %v", pc, op, err)
	return &ExecutionError{PC: pc, Op: op, Err: err}
}

// ============ Inspection ============

// PC returns the index of the next instruction.
func (m *Machine) PC() int {
	return m.pc
}

// Halted reports whether the machine has stopped.
func (m *Machine) Halted() bool {
	return m.halted
}

// Depth returns the number of frames on the frame stack.
func (m *Machine) Depth() int {
	return len(m.frames)
}

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []Operand {
	out := make([]Operand, len(m.stack))
	copy(out, m.stack)
	return out
}

// Local returns a local of the current frame.
func (m *Machine) Local(name string) (Operand, bool) {
	return m.lookup(name)
}

// Steps returns the number of instructions executed.
func (m *Machine) Steps() int {
	return m.steps
}

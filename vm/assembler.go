package vm

import "fmt"

// labelRef is a jump-class instruction waiting for its label to resolve.
type labelRef struct {
	Index int    // Instruction index
	Label string // Label name as written
	Named bool   // False when the argument was not text and can never resolve
}

// UnresolvedLabel describes a jump whose label was never defined. Such a
// program still assembles; the jump faults when it executes.
type UnresolvedLabel struct {
	Index int    // Instruction index of the jump
	Label string // Missing label name
	Line  int    // Source line of the jump, 0 if unknown
}

// Builder assembles a program in two passes. Push and Label form the first
// pass, appending instructions and recording label positions. Build runs
// the second pass, resolving every label reference.
type Builder struct {
	code      []Instruction
	constants []Operand
	lines     []int
	labels    map[string]int
	refs      []labelRef

	line       int
	unresolved []UnresolvedLabel
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		code:      make([]Instruction, 0, 32),
		constants: make([]Operand, 0, 8),
		labels:    make(map[string]int),
	}
}

// SetLine records the source line for instructions pushed next.
func (b *Builder) SetLine(line int) {
	b.line = line
}

// AddConstant adds an operand to the constant pool and returns its index.
// If the operand already exists, returns the existing index.
func (b *Builder) AddConstant(value Operand) int {
	for i, c := range b.constants {
		if c == value {
			return i
		}
	}
	b.constants = append(b.constants, value)
	return len(b.constants) - 1
}

// Push appends an instruction. The number of args must match the opcode's
// arity.
func (b *Builder) Push(op Opcode, args ...Operand) error {
	info := op.Info()
	if _, ok := opcodeInfoTable[op]; !ok {
		return fmt.Errorf("Unknown instruction: %s", info.Name)
	}
	if len(args) != info.Arity {
		return fmt.Errorf("Instruction %s expects %d argument(s), got %d", info.Name, info.Arity, len(args))
	}

	in := Instruction{Op: op, Arg: -1, Target: -1}
	if len(args) == 1 {
		in.Arg = b.AddConstant(args[0])
		if op.IsJump() {
			b.refs = append(b.refs, labelRef{
				Index: len(b.code),
				Label: args[0].String(),
				Named: args[0].Kind() == KindText,
			})
		}
	}

	b.code = append(b.code, in)
	b.lines = append(b.lines, b.line)
	return nil
}

// PushMnemonic appends an instruction named by its mnemonic.
func (b *Builder) PushMnemonic(name string, args ...Operand) error {
	op, ok := LookupMnemonic(name)
	if !ok {
		return fmt.Errorf("Unknown instruction: %s", name)
	}
	return b.Push(op, args...)
}

// Label marks the position of the next instruction with name. A label
// defined twice keeps its later position.
func (b *Builder) Label(name string) {
	b.labels[name] = len(b.code)
}

// Labels returns a copy of the label table.
func (b *Builder) Labels() map[string]int {
	out := make(map[string]int, len(b.labels))
	for k, v := range b.labels {
		out[k] = v
	}
	return out
}

// Len returns the number of instructions pushed so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Build resolves label references and returns the linked program. The
// builder is not modified and may be built again.
func (b *Builder) Build() *Program {
	targets, unresolved := resolve(b.refs, b.labels)

	code := make([]Instruction, len(b.code))
	copy(code, b.code)
	for index, target := range targets {
		code[index].Target = target
	}

	b.unresolved = b.unresolved[:0]
	for _, ref := range unresolved {
		b.unresolved = append(b.unresolved, UnresolvedLabel{
			Index: ref.Index,
			Label: ref.Label,
			Line:  b.lines[ref.Index],
		})
	}

	constants := make([]Operand, len(b.constants))
	copy(constants, b.constants)
	lines := make([]int, len(b.lines))
	copy(lines, b.lines)

	return &Program{Code: code, Constants: constants, Lines: lines}
}

// Unresolved returns the label references the last Build could not
// resolve.
func (b *Builder) Unresolved() []UnresolvedLabel {
	out := make([]UnresolvedLabel, len(b.unresolved))
	copy(out, b.unresolved)
	return out
}

// resolve maps every label reference to its instruction index. It is a
// pure function of its inputs.
func resolve(refs []labelRef, labels map[string]int) (map[int]int, []labelRef) {
	targets := make(map[int]int, len(refs))
	var unresolved []labelRef
	for _, ref := range refs {
		target, ok := labels[ref.Label]
		if !ok || !ref.Named {
			unresolved = append(unresolved, ref)
			continue
		}
		targets[ref.Index] = target
	}
	return targets, unresolved
}

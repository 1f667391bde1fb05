package vm

// Instruction is one entry of an assembled program.
type Instruction struct {
	Op     Opcode // Instruction to dispatch
	Arg    int    // Constant pool index of the literal argument, -1 if none
	Target int    // Resolved instruction index for jumps, -1 otherwise
}

// Program is an assembled, linked instruction sequence. It is immutable
// once built and may be run any number of times.
type Program struct {
	Code      []Instruction
	Constants []Operand

	// Lines maps each instruction to its 1-based source line. It is empty
	// for programs built without source text.
	Lines []int
}

// Len returns the number of instructions.
func (p *Program) Len() int {
	return len(p.Code)
}

// Argument returns the literal argument of an instruction.
func (p *Program) Argument(in Instruction) (Operand, bool) {
	if in.Arg < 0 || in.Arg >= len(p.Constants) {
		return Operand{}, false
	}
	return p.Constants[in.Arg], true
}

// SourceLine returns the source line of the instruction at index, or 0.
func (p *Program) SourceLine(index int) int {
	if index < 0 || index >= len(p.Lines) {
		return 0
	}
	return p.Lines[index]
}

// Equal reports whether two programs have the same code and constants.
func (p *Program) Equal(other *Program) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.Code) != len(other.Code) || len(p.Constants) != len(other.Constants) {
		return false
	}
	for i := range p.Code {
		if p.Code[i] != other.Code[i] {
			return false
		}
	}
	for i := range p.Constants {
		if p.Constants[i] != other.Constants[i] {
			return false
		}
	}
	return true
}

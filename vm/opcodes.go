package vm

import "fmt"

// Opcode identifies an instruction. Values follow the registration order of
// the instruction set, so they are stable across builds and safe to encode.
type Opcode byte

const (
	// ========================================================================
	// Constants and locals
	// ========================================================================

	OpLoadVal  Opcode = 0 // Push literal constant: LOAD_VAL <literal>
	OpWriteVar Opcode = 1 // Pop and bind local: WRITE_VAR <name>
	OpReadVar  Opcode = 2 // Push local: READ_VAR <name>

	// ========================================================================
	// Arithmetic
	// ========================================================================

	OpAdd      Opcode = 3 // Pop two integers, push sum
	OpMultiply Opcode = 4 // Pop two integers, push product

	// ========================================================================
	// Frames
	// ========================================================================

	OpReturnValue Opcode = 5 // End the current frame

	// ========================================================================
	// Comparison and control flow
	// ========================================================================

	OpCmpLt          Opcode = 6 // Pop two integers, push lhs < rhs
	OpPopJumpIfFalse Opcode = 7 // Pop boolean, jump if false: POP_JUMP_IF_FALSE <label>
	OpPrint          Opcode = 8 // Pop and write display text: PRINT <ignored>
	OpJump           Opcode = 9 // Unconditional jump: JUMP <label>

	// ========================================================================
	// Channel stubs
	// ========================================================================

	OpPush        Opcode = 10 // Push literal constant: PUSH <literal>
	OpSendChannel Opcode = 11 // Pop channel and value, emit diagnostic
	OpRecvChannel Opcode = 12 // Pop channel, push placeholder text
	OpSpawn       Opcode = 13 // Pop two task ids, start detached loops

	// ========================================================================
	// Calls
	// ========================================================================

	OpCall Opcode = 14 // Push frame and jump: CALL <label>
)

// LabelMnemonic is the reserved first token of a label definition line.
const LabelMnemonic = "LABEL"

// OpcodeInfo provides metadata about each opcode for assembly, disassembly
// and editor tooling.
type OpcodeInfo struct {
	Name      string // Mnemonic as written in bytecode text
	Arity     int    // Literal argument slots on the bytecode line
	StackPop  int    // Values popped from the operand stack
	StackPush int    // Values pushed to the operand stack
	Doc       string // One-line description
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoadVal:  {"LOAD_VAL", 1, 0, 1, "Push the literal constant."},
	OpWriteVar: {"WRITE_VAR", 1, 1, 0, "Pop the top of stack and bind it to the named local."},
	OpReadVar:  {"READ_VAR", 1, 0, 1, "Push the value of the named local. Fails if unbound."},

	OpAdd:      {"ADD", 0, 2, 1, "Pop rhs, pop lhs, push lhs + rhs. Integers only."},
	OpMultiply: {"MULTIPLY", 0, 2, 1, "Pop rhs, pop lhs, push lhs * rhs. Integers only."},

	OpReturnValue: {"RETURN_VALUE", 0, 0, 0, "Return to the caller, or halt in the outermost frame."},

	OpCmpLt:          {"CMP_LT", 0, 2, 1, "Pop rhs, pop lhs, push lhs < rhs. Integers only."},
	OpPopJumpIfFalse: {"POP_JUMP_IF_FALSE", 1, 1, 0, "Pop a boolean and jump to the label if it is false."},
	OpPrint:          {"PRINT", 1, 1, 0, "Pop the top of stack and print its display text."},
	OpJump:           {"JUMP", 1, 0, 0, "Jump to the label."},

	OpPush:        {"PUSH", 1, 0, 1, "Push the literal constant."},
	OpSendChannel: {"SEND_CHANNEL", 0, 2, 0, "Pop a channel name and a value. Diagnostic only, nothing is delivered."},
	OpRecvChannel: {"RECV_CHANNEL", 0, 1, 1, "Pop a channel name and push the placeholder text recv_channel_value."},
	OpSpawn:       {"SPAWN", 0, 2, 0, "Pop two task ids and start two fixed background counting loops."},

	OpCall: {"CALL", 1, 0, 0, "Push a new frame returning to the next instruction and jump to the label."},
}

var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(..)" if the opcode is not defined.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupMnemonic returns the opcode for a mnemonic.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// Info returns the opcode's metadata.
func (op Opcode) Info() OpcodeInfo {
	return GetOpcodeInfo(op)
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Arity returns the number of literal arguments the opcode takes.
func (op Opcode) Arity() int {
	return GetOpcodeInfo(op).Arity
}

// IsJump returns true if the opcode's argument is a label to resolve.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpPopJumpIfFalse || op == OpCall
}

// IsStub returns true for the channel and spawn instructions, whose only
// effects are diagnostics and detached goroutines.
func (op Opcode) IsStub() bool {
	return op >= OpSendChannel && op <= OpSpawn
}

// AllOpcodes returns every defined opcode in id order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for i := 0; i < 256; i++ {
		if _, ok := opcodeInfoTable[Opcode(i)]; ok {
			opcodes = append(opcodes, Opcode(i))
		}
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

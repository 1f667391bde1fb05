// Package vm implements a small stack-based bytecode virtual machine. It
// assembles a line-oriented text program into a linked instruction
// sequence and executes it against an operand stack and a stack of call
// frames.
//
// # Bytecode Text
//
// One instruction per line. Blank lines are ignored. A line is split on
// single spaces into one or two tokens:
//
//	RETURN_VALUE          instruction without argument
//	LOAD_VAL 42           instruction with an integer literal
//	WRITE_VAR 'x'         instruction with a text literal (quotes stripped)
//	LABEL :loop           label marking the next instruction
//
// Jump-class instructions (JUMP, POP_JUMP_IF_FALSE, CALL) take a label
// name. Forward references are allowed.
//
// # Architecture Overview
//
//   - Operand: the value type, a closed variant of integer, text and boolean.
//
//   - Opcodes: a fixed table of instructions with mnemonic, arity and stack
//     effect. Dispatch is a single switch in the machine.
//
//   - Builder: two-pass assembler. Push and Label append instructions and
//     record label positions; Build resolves label references. A reference
//     to a missing label does not fail assembly. The jump faults with
//     ErrUnresolvedLabel when it executes.
//
//   - Machine: fetch/decode/execute loop. RETURN_VALUE in the outermost frame
//     halts; in a called frame it resumes the caller.
//
// # Faults
//
// Assembly problems are reported as *AssemblyError before anything runs.
// Stack underflow, kind mismatches, unbound variables and unresolved labels
// end the run with an *ExecutionError. Neither ever panics the caller.
//
// # Channel and Spawn Instructions
//
// SEND_CHANNEL, RECV_CHANNEL and SPAWN are placeholders. They report what
// they popped on the diagnostics writer. RECV_CHANNEL always pushes
// "recv_channel_value". SPAWN starts two fixed counting goroutines that
// ignore their arguments and are never joined.
package vm

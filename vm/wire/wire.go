// Package wire implements the binary form of an assembled program. Programs
// are encoded as canonical CBOR, so equal programs encode to equal bytes and
// the content hash of the encoding identifies a program.
package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chazu/stackvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// Version is written into every encoded program.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Hash is the SHA-256 of a program's canonical encoding.
type Hash [32]byte

// String returns the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits of the hash.
func (h Hash) Short() string {
	return h.String()[:12]
}

type wireOperand struct {
	Kind uint8  `cbor:"1,keyasint"`
	Int  int64  `cbor:"2,keyasint,omitempty"`
	Text string `cbor:"3,keyasint,omitempty"`
	Bool bool   `cbor:"4,keyasint,omitempty"`
}

type wireInstruction struct {
	Op     uint8 `cbor:"1,keyasint"`
	Arg    int   `cbor:"2,keyasint"`
	Target int   `cbor:"3,keyasint"`
}

type wireProgram struct {
	Version   uint8             `cbor:"1,keyasint"`
	Code      []wireInstruction `cbor:"2,keyasint"`
	Constants []wireOperand     `cbor:"3,keyasint"`
	Lines     []int             `cbor:"4,keyasint,omitempty"`
}

// MarshalProgram serializes a Program to CBOR bytes.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	return cborEncMode.Marshal(toWire(p, true))
}

// UnmarshalProgram deserializes a Program from CBOR bytes. The decoded
// program is checked so that every opcode is defined and every constant
// and jump index is in range.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	var w wireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("wire: unmarshal program: %w", err)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("wire: unsupported program version %d", w.Version)
	}
	return fromWire(&w)
}

// ProgramHash returns the content hash of a program. Source line numbers
// are excluded, so reformatting the text of a program does not change its
// hash.
func ProgramHash(p *vm.Program) (Hash, error) {
	data, err := cborEncMode.Marshal(toWire(p, false))
	if err != nil {
		return Hash{}, fmt.Errorf("wire: hash program: %w", err)
	}
	return sha256.Sum256(data), nil
}

func toWire(p *vm.Program, withLines bool) *wireProgram {
	w := &wireProgram{
		Version:   Version,
		Code:      make([]wireInstruction, len(p.Code)),
		Constants: make([]wireOperand, len(p.Constants)),
	}
	for i, in := range p.Code {
		w.Code[i] = wireInstruction{Op: uint8(in.Op), Arg: in.Arg, Target: in.Target}
	}
	for i, c := range p.Constants {
		w.Constants[i] = encodeOperand(c)
	}
	if withLines && len(p.Lines) > 0 {
		w.Lines = append([]int(nil), p.Lines...)
	}
	return w
}

func fromWire(w *wireProgram) (*vm.Program, error) {
	p := &vm.Program{
		Code:      make([]vm.Instruction, len(w.Code)),
		Constants: make([]vm.Operand, len(w.Constants)),
	}
	for i, c := range w.Constants {
		op, err := decodeOperand(c)
		if err != nil {
			return nil, fmt.Errorf("wire: constant %d: %w", i, err)
		}
		p.Constants[i] = op
	}

	defined := make(map[vm.Opcode]bool, vm.OpcodeCount())
	for _, op := range vm.AllOpcodes() {
		defined[op] = true
	}
	for i, in := range w.Code {
		op := vm.Opcode(in.Op)
		if !defined[op] {
			return nil, fmt.Errorf("wire: instruction %d: undefined opcode 0x%02X", i, in.Op)
		}
		if in.Arg < -1 || in.Arg >= len(p.Constants) {
			return nil, fmt.Errorf("wire: instruction %d: constant index %d out of range", i, in.Arg)
		}
		if in.Target < -1 || in.Target > len(w.Code) {
			return nil, fmt.Errorf("wire: instruction %d: jump target %d out of range", i, in.Target)
		}
		p.Code[i] = vm.Instruction{Op: op, Arg: in.Arg, Target: in.Target}
	}

	if len(w.Lines) > 0 {
		if len(w.Lines) != len(w.Code) {
			return nil, fmt.Errorf("wire: %d line entries for %d instructions", len(w.Lines), len(w.Code))
		}
		p.Lines = append([]int(nil), w.Lines...)
	}
	return p, nil
}

func encodeOperand(op vm.Operand) wireOperand {
	w := wireOperand{Kind: uint8(op.Kind())}
	switch op.Kind() {
	case vm.KindInteger:
		w.Int, _ = op.AsInteger()
	case vm.KindText:
		w.Text, _ = op.AsText()
	case vm.KindBoolean:
		w.Bool, _ = op.AsBoolean()
	}
	return w
}

func decodeOperand(w wireOperand) (vm.Operand, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindInteger:
		return vm.Int(w.Int), nil
	case vm.KindText:
		return vm.Text(w.Text), nil
	case vm.KindBoolean:
		return vm.Bool(w.Bool), nil
	}
	return vm.Operand{}, fmt.Errorf("unknown operand kind %d", w.Kind)
}

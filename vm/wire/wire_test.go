package wire

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/chazu/stackvm/vm"
	"github.com/fxamacker/cbor/v2"
)

const loopSource = `LOAD_VAL 0
WRITE_VAR 'x'
LABEL :top
READ_VAR 'x'
LOAD_VAL 3
CMP_LT
POP_JUMP_IF_FALSE :end
READ_VAR 'x'
PRINT 'x'
READ_VAR 'x'
LOAD_VAL 1
ADD
WRITE_VAR 'x'
JUMP :top
LABEL :end
READ_VAR 'x'
RETURN_VALUE`

func assemble(t *testing.T, source string) *vm.Program {
	t.Helper()
	p, err := vm.Assemble(source)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return p
}

func TestProgramRoundTrip(t *testing.T) {
	original := assemble(t, loopSource)

	data, err := MarshalProgram(original)
	if err != nil {
		t.Fatalf("MarshalProgram failed: %v", err)
	}
	decoded, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram failed: %v", err)
	}

	if !decoded.Equal(original) {
		t.Error("decoded program differs from the original")
	}
	for i := range original.Lines {
		if decoded.SourceLine(i) != original.SourceLine(i) {
			t.Errorf("line %d = %d, want %d", i, decoded.SourceLine(i), original.SourceLine(i))
		}
	}

	var out bytes.Buffer
	result, err := vm.Run(context.Background(), decoded, vm.WithOutput(&out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, _ := result.Display(); got != "3" || out.String() != "012" {
		t.Errorf("decoded run = %q, output %q", got, out.String())
	}
}

func TestAllOperandKindsRoundTrip(t *testing.T) {
	b := vm.NewBuilder()
	b.Push(vm.OpLoadVal, vm.Int(0))
	b.Push(vm.OpLoadVal, vm.Int(-9))
	b.Push(vm.OpLoadVal, vm.Text(""))
	b.Push(vm.OpLoadVal, vm.Text("hi"))
	original := b.Build()
	original.Constants = append(original.Constants, vm.Bool(true), vm.Bool(false))

	data, err := MarshalProgram(original)
	if err != nil {
		t.Fatalf("MarshalProgram failed: %v", err)
	}
	decoded, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram failed: %v", err)
	}
	for i, c := range original.Constants {
		if decoded.Constants[i] != c {
			t.Errorf("constant %d = %#v, want %#v", i, decoded.Constants[i], c)
		}
	}
}

func TestEncodingIsDeterministic(t *testing.T) {
	a, err := MarshalProgram(assemble(t, loopSource))
	if err != nil {
		t.Fatalf("MarshalProgram failed: %v", err)
	}
	b, err := MarshalProgram(assemble(t, loopSource))
	if err != nil {
		t.Fatalf("MarshalProgram failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal programs should encode to equal bytes")
	}
}

func TestProgramHash(t *testing.T) {
	h1, err := ProgramHash(assemble(t, loopSource))
	if err != nil {
		t.Fatalf("ProgramHash failed: %v", err)
	}

	// Blank lines and indentation move source lines but not the code.
	reformatted := "\n\n" + strings.ReplaceAll(loopSource, "\n", "\n  ")
	h2, err := ProgramHash(assemble(t, reformatted))
	if err != nil {
		t.Fatalf("ProgramHash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash changed with formatting: %s != %s", h1, h2)
	}

	h3, err := ProgramHash(assemble(t, strings.Replace(loopSource, "LOAD_VAL 3", "LOAD_VAL 4", 1)))
	if err != nil {
		t.Fatalf("ProgramHash failed: %v", err)
	}
	if h1 == h3 {
		t.Error("different programs should hash differently")
	}

	if len(h1.String()) != 64 || len(h1.Short()) != 12 {
		t.Errorf("hash text = %q / %q", h1.String(), h1.Short())
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalProgram([]byte{0xFF, 0x00}); err == nil {
		t.Error("garbage input should fail")
	}
}

func TestUnmarshalValidates(t *testing.T) {
	tests := []struct {
		name string
		prog wireProgram
		want string
	}{
		{
			name: "version",
			prog: wireProgram{Version: 9},
			want: "unsupported program version",
		},
		{
			name: "opcode",
			prog: wireProgram{Version: Version, Code: []wireInstruction{{Op: 0xEE, Arg: -1, Target: -1}}},
			want: "undefined opcode",
		},
		{
			name: "constant",
			prog: wireProgram{Version: Version, Code: []wireInstruction{{Op: uint8(vm.OpLoadVal), Arg: 3, Target: -1}}},
			want: "constant index",
		},
		{
			name: "target",
			prog: wireProgram{
				Version:   Version,
				Code:      []wireInstruction{{Op: uint8(vm.OpJump), Arg: 0, Target: 7}},
				Constants: []wireOperand{{Kind: uint8(vm.KindText), Text: ":x"}},
			},
			want: "jump target",
		},
		{
			name: "kind",
			prog: wireProgram{Version: Version, Constants: []wireOperand{{Kind: 9}}},
			want: "unknown operand kind",
		},
		{
			name: "lines",
			prog: wireProgram{
				Version: Version,
				Code:    []wireInstruction{{Op: uint8(vm.OpAdd), Arg: -1, Target: -1}},
				Lines:   []int{1, 2},
			},
			want: "line entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := cbor.Marshal(tt.prog)
			if err != nil {
				t.Fatalf("cbor.Marshal failed: %v", err)
			}
			_, err = UnmarshalProgram(data)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("UnmarshalProgram error = %v, want %q", err, tt.want)
			}
		})
	}
}

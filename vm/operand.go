package vm

import "strconv"

// Kind identifies which variant an Operand holds.
type Kind uint8

const (
	KindInteger Kind = iota
	KindText
	KindBoolean
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Operand is the value type flowing through the operand stack, locals and
// constant pool. It is a closed variant over integer, text and boolean.
// Operands are comparable with == and cheap to copy.
type Operand struct {
	kind Kind
	i    int64
	s    string
	b    bool
}

// Int returns an integer operand.
func Int(i int64) Operand {
	return Operand{kind: KindInteger, i: i}
}

// Text returns a text operand.
func Text(s string) Operand {
	return Operand{kind: KindText, s: s}
}

// Bool returns a boolean operand.
func Bool(b bool) Operand {
	return Operand{kind: KindBoolean, b: b}
}

// Kind reports the operand's variant.
func (o Operand) Kind() Kind {
	return o.kind
}

// AsInteger returns the integer value, or false if o is not an integer.
func (o Operand) AsInteger() (int64, bool) {
	if o.kind != KindInteger {
		return 0, false
	}
	return o.i, true
}

// AsText returns the text value, or false if o is not text.
func (o Operand) AsText() (string, bool) {
	if o.kind != KindText {
		return "", false
	}
	return o.s, true
}

// AsBoolean returns the boolean value, or false if o is not a boolean.
func (o Operand) AsBoolean() (bool, bool) {
	if o.kind != KindBoolean {
		return false, false
	}
	return o.b, true
}

// String renders the display text: the bare integer, the bare string, or
// "true"/"false".
func (o Operand) String() string {
	switch o.kind {
	case KindInteger:
		return strconv.FormatInt(o.i, 10)
	case KindText:
		return o.s
	case KindBoolean:
		return strconv.FormatBool(o.b)
	default:
		return ""
	}
}

// GoString renders the operand with its kind, for logs.
func (o Operand) GoString() string {
	switch o.kind {
	case KindInteger:
		return "Int(" + strconv.FormatInt(o.i, 10) + ")"
	case KindText:
		return "Text(" + strconv.Quote(o.s) + ")"
	case KindBoolean:
		return "Bool(" + strconv.FormatBool(o.b) + ")"
	default:
		return "Operand(?)"
	}
}

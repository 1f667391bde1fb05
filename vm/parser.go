package vm

import (
	"strconv"
	"strings"
)

// Token is one parsed bytecode line.
type Token struct {
	Line     int     // 1-based source line
	Text     string  // Line as written
	Mnemonic string  // Instruction name, or LABEL
	Arg      Operand // Literal argument, valid when HasArg
	HasArg   bool
	Label    string // Label name for LABEL lines
}

// IsLabel reports whether the token defines a label.
func (t Token) IsLabel() bool {
	return t.Mnemonic == LabelMnemonic && t.HasArg
}

// Tokenize splits bytecode text into tokens. Blank lines are skipped. Each
// remaining line is trimmed and split on single spaces into one or two
// tokens; any other count is an assembly error and tokenizing stops.
func Tokenize(source string) ([]Token, error) {
	var tokens []Token
	for i, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		tok, err := tokenizeLine(i+1, line, trimmed)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func tokenizeLine(lineNo int, line, trimmed string) (Token, error) {
	items := strings.Split(trimmed, " ")
	tok := Token{Line: lineNo, Text: line}

	switch len(items) {
	case 1:
		tok.Mnemonic = strings.TrimSpace(items[0])
	case 2:
		tok.Mnemonic = strings.TrimSpace(items[0])
		arg := strings.TrimSpace(items[1])
		tok.HasArg = true
		if tok.Mnemonic == LabelMnemonic {
			tok.Label = arg
			tok.Arg = Text(arg)
			break
		}
		tok.Arg = parseLiteral(arg)
	default:
		return Token{}, unexpectedLine(lineNo, line)
	}
	return tok, nil
}

// parseLiteral reads an argument as a signed integer, falling back to text
// with surrounding single quotes removed.
func parseLiteral(arg string) Operand {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return Int(n)
	}
	return Text(strings.Trim(arg, "'"))
}

// Parse tokenizes source and routes every token into b: LABEL lines become
// label definitions, all other lines become instructions.
func Parse(source string, b *Builder) error {
	tokens, err := Tokenize(source)
	if err != nil {
		return err
	}

	for _, tok := range tokens {
		if tok.IsLabel() {
			b.Label(tok.Label)
			continue
		}

		b.SetLine(tok.Line)
		var pushErr error
		if tok.HasArg {
			pushErr = b.PushMnemonic(tok.Mnemonic, tok.Arg)
		} else {
			pushErr = b.PushMnemonic(tok.Mnemonic)
		}
		if pushErr != nil {
			return &AssemblyError{Line: tok.Line, Text: tok.Text, Msg: pushErr.Error()}
		}
	}
	return nil
}

// Assemble parses and links bytecode text into a program.
func Assemble(source string) (*Program, error) {
	b := NewBuilder()
	if err := Parse(source, b); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

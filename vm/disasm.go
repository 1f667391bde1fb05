package vm

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithLabels("", nil)
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	return p.DisassembleWithLabels(name, nil)
}

// DisassembleWithLabels returns a listing with a name header and label
// definitions shown before the instructions they mark.
func (p *Program) DisassembleWithLabels(name string, labels map[string]int) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d instructions, %d constants\n\n", len(p.Code), len(p.Constants)))

	// Constants
	if len(p.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.Constants {
			display := c.GoString()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
		sb.WriteString("\n")
	}

	byIndex := make(map[int][]string)
	for label, index := range labels {
		byIndex[index] = append(byIndex[index], label)
	}
	for _, names := range byIndex {
		sort.Strings(names)
	}

	// Code section
	sb.WriteString("; Code:\n")
	for i, in := range p.Code {
		for _, label := range byIndex[i] {
			sb.WriteString(fmt.Sprintf("      %s:\n", label))
		}
		line := p.disassembleInstruction(in)
		if src := p.SourceLine(i); src > 0 {
			sb.WriteString(fmt.Sprintf("%04d  %-36s ; line %d\n", i, line, src))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", i, line))
		}
	}
	// Labels that mark the end of the code.
	for _, label := range byIndex[len(p.Code)] {
		sb.WriteString(fmt.Sprintf("      %s:\n", label))
	}

	return sb.String()
}

// disassembleInstruction formats a single instruction.
func (p *Program) disassembleInstruction(in Instruction) string {
	info := in.Op.Info()
	if info.Arity == 0 {
		return info.Name
	}

	arg, _ := p.Argument(in)
	if in.Op.IsJump() {
		if in.Target < 0 {
			return fmt.Sprintf("%s %d -> ???? ; %q", info.Name, in.Arg, arg.String())
		}
		return fmt.Sprintf("%s %d -> %04d ; %q", info.Name, in.Arg, in.Target, arg.String())
	}
	return fmt.Sprintf("%s %d ; %s", info.Name, in.Arg, arg.GoString())
}

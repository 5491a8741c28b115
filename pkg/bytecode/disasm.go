package bytecode

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/chazu/cvm/pkg/word"
)

// ErrTruncated is returned when an instruction runs past the end of the code.
var ErrTruncated = errors.New("bytecode: truncated instruction")

// Instruction is a decoded instruction.
type Instruction struct {
	PC       int
	Len      int
	Op       Opcode
	Prefix   PrefixOpcode // valid when Op == OpPrefix
	Wide     bool
	Name     string
	Format   Format
	Operands []int64
	Float    float64 // ldc_r4 / ldc_r8 literal
	Sub      string  // br_long condition mnemonic
	Targets  []int   // absolute branch targets; for switch, default first
	Inner    *Instruction
}

// Decode decodes the instruction at code[pc].
func Decode(code []byte, pc int) (Instruction, error) {
	n := InstructionLen(code, pc)
	if n == 0 {
		return Instruction{PC: pc}, fmt.Errorf("%w at %04X", ErrTruncated, pc)
	}
	in := Instruction{PC: pc, Len: n, Op: Opcode(code[pc])}

	switch in.Op {
	case OpWide:
		sub := Opcode(code[pc+1])
		info, ok := GetWideInfo(sub)
		in.Wide = true
		in.Name = info.Name
		if !ok {
			return in, nil
		}
		in.Op = sub
		in.Format = info.Format
		in.Operands = append(in.Operands, int64(word.ReadCodeU32(code, pc+2)))
		if info.Format == FmtWideTwoUint {
			in.Operands = append(in.Operands, int64(word.ReadCodeU32(code, pc+6)))
		}
		return in, nil

	case OpPrefix:
		in.Prefix = PrefixOpcode(code[pc+1])
		info := GetPrefixInfo(in.Prefix)
		in.Name = info.Name
		in.Format = info.Format
		if info.Format == FmtTail {
			inner, err := Decode(code, pc+2)
			if err != nil {
				return in, err
			}
			in.Inner = &inner
			return in, nil
		}
		decodeOperands(&in, code, pc+2)
		return in, nil
	}

	info := GetOpcodeInfo(in.Op)
	in.Name = info.Name
	in.Format = info.Format
	decodeOperands(&in, code, pc+1)
	return in, nil
}

// decodeOperands decodes operands starting at p for the normal form.
func decodeOperands(in *Instruction, code []byte, p int) {
	switch in.Format {
	case FmtWideUint:
		in.Operands = []int64{int64(code[p])}
	case FmtWideTwoUint:
		in.Operands = []int64{int64(code[p]), int64(code[p+1])}
	case FmtInt8:
		in.Operands = []int64{int64(int8(code[p]))}
	case FmtInt32:
		in.Operands = []int64{int64(word.ReadCodeI32(code, p))}
	case FmtUint32, FmtToken, FmtClass, FmtMethod:
		in.Operands = []int64{int64(word.ReadCodeU32(code, p))}
	case FmtUint64:
		in.Operands = []int64{int64(word.ReadCodeU64(code, p))}
	case FmtFloat32:
		in.Float = float64(word.ReadCodeFloat32(code, p))
	case FmtFloat64:
		in.Float = word.ReadCodeFloat64(code, p)
	case FmtBranch:
		in.Targets = []int{in.PC + int(int8(code[p]))}
	case FmtBranchLong:
		sub := Opcode(code[p])
		in.Sub = sub.String()
		in.Targets = []int{in.PC + int(word.ReadCodeI32(code, p+1))}
	case FmtSwitch:
		count := int(word.ReadCodeU32(code, p))
		in.Operands = []int64{int64(count)}
		in.Targets = append(in.Targets, in.PC+int(word.ReadCodeI32(code, p+4)))
		for i := 0; i < count; i++ {
			in.Targets = append(in.Targets, in.PC+int(word.ReadCodeI32(code, p+8+4*i)))
		}
	case FmtCallNative:
		in.Operands = []int64{int64(word.ReadCodeU32(code, p)), int64(code[p+4]), int64(code[p+5])}
	case FmtCallInterface:
		in.Operands = []int64{int64(code[p]), int64(code[p+1]), int64(word.ReadCodeU32(code, p+2))}
	case FmtSizeAndClass, FmtLdInterface:
		in.Operands = []int64{int64(word.ReadCodeU32(code, p)), int64(word.ReadCodeU32(code, p+4))}
	}
}

// String formats the instruction in assembler syntax. Branch targets are
// written as labels of the form L<hex pc>.
func (in Instruction) String() string {
	var sb strings.Builder
	if in.Wide {
		sb.WriteString("wide ")
	}
	sb.WriteString(in.Name)
	if in.Inner != nil {
		sb.WriteString(" ")
		sb.WriteString(in.Inner.String())
		return sb.String()
	}
	switch in.Format {
	case FmtFloat32, FmtFloat64:
		sb.WriteString(" ")
		sb.WriteString(formatFloat(in.Float))
		return sb.String()
	case FmtBranch:
		fmt.Fprintf(&sb, " %s", TargetLabel(in.Targets[0]))
		return sb.String()
	case FmtBranchLong:
		fmt.Fprintf(&sb, " %s %s", in.Sub, TargetLabel(in.Targets[0]))
		return sb.String()
	case FmtSwitch:
		for _, t := range in.Targets {
			fmt.Fprintf(&sb, " %s", TargetLabel(t))
		}
		return sb.String()
	}
	for i, v := range in.Operands {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	return sb.String()
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return fmt.Sprintf("%g", v)
}

// TargetLabel returns the label name the disassembler uses for a pc.
func TargetLabel(pc int) string {
	return fmt.Sprintf("L%04X", pc)
}

// Disassemble returns a listing of code, one instruction per line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	_ = DisassembleTo(&sb, code)
	return sb.String()
}

// DisassembleTo writes a listing of code to w. Lines are prefixed with the
// instruction offset; branch targets get label lines so the listing can be
// fed back to Assemble.
func DisassembleTo(w io.Writer, code []byte) error {
	var insns []Instruction
	targets := map[int]bool{}
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			fmt.Fprintf(w, "; %04X  %v\n", pc, err)
			return err
		}
		insns = append(insns, in)
		for _, t := range in.Targets {
			targets[t] = true
		}
		if in.Inner != nil {
			for _, t := range in.Inner.Targets {
				targets[t] = true
			}
		}
		pc += in.Len
	}

	var stray []int
	known := map[int]bool{}
	for _, in := range insns {
		known[in.PC] = true
	}
	for t := range targets {
		if !known[t] && t != len(code) {
			stray = append(stray, t)
		}
	}
	sort.Ints(stray)

	for _, in := range insns {
		if targets[in.PC] {
			if _, err := fmt.Fprintf(w, "%s:\n", TargetLabel(in.PC)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "    %-32s ; %04X\n", in.String(), in.PC); err != nil {
			return err
		}
	}
	if targets[len(code)] {
		if _, err := fmt.Fprintf(w, "%s:\n", TargetLabel(len(code))); err != nil {
			return err
		}
	}
	for _, t := range stray {
		fmt.Fprintf(w, "; warning: branch target %04X is not an instruction boundary\n", t)
	}
	return nil
}

package bytecode

import "github.com/chazu/cvm/pkg/word"

// Format describes the operand layout that follows an opcode byte.
// All multi-byte operands are little-endian.
type Format uint8

const (
	FmtNone          Format = iota // no operands
	FmtWideUint                    // u8, or u32 in the wide form
	FmtWideTwoUint                 // u8 u8, or u32 u32 in the wide form
	FmtInt8                        // i8
	FmtInt32                       // i32
	FmtUint32                      // u32
	FmtUint64                      // u64
	FmtFloat32                     // f32
	FmtFloat64                     // f64
	FmtBranch                      // i8 offset + padding to BranchLen
	FmtBranchLong                  // sub-opcode + i32 offset
	FmtSwitch                      // u32 count, i32 default, i32 x count
	FmtClass                       // class id (pointer literal)
	FmtMethod                      // method id (pointer literal)
	FmtToken                       // u32 metadata token
	FmtCallNative                  // native id, u8 arg words, u8 result words
	FmtCallInterface               // u8 this position, u8 index, class id
	FmtSizeAndClass                // u32 size, class id
	FmtLdInterface                 // u32 index, class id
	FmtTail                        // a complete call instruction follows
	FmtWide                        // wide escape
	FmtPrefix                      // prefix escape
	FmtReserved4                   // four zero bytes, patchable into a u32
)

// BranchLen is the length of every branch instruction, short or long.
// Code generators may emit either form without relayout.
const BranchLen = 6

// SwitchHeaderLen is the length of a switch instruction without its table.
const SwitchHeaderLen = 9

// pointerLen is the size of a pointer literal in the instruction stream.
const pointerLen = word.Size

var formatNames = [...]string{
	FmtNone:          "none",
	FmtWideUint:      "wide_uint",
	FmtWideTwoUint:   "wide_two_uint",
	FmtInt8:          "int8",
	FmtInt32:         "int32",
	FmtUint32:        "uint32",
	FmtUint64:        "uint64",
	FmtFloat32:       "float32",
	FmtFloat64:       "float64",
	FmtBranch:        "branch",
	FmtBranchLong:    "branch_long",
	FmtSwitch:        "switch",
	FmtClass:         "class",
	FmtMethod:        "method",
	FmtToken:         "token",
	FmtCallNative:    "call_native",
	FmtCallInterface: "call_interface",
	FmtSizeAndClass:  "size_and_class",
	FmtLdInterface:   "ld_interface",
	FmtTail:          "tail",
	FmtWide:          "wide",
	FmtPrefix:        "prefix",
	FmtReserved4:     "reserved4",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// HasWide reports whether instructions of this format have a wide form.
func (f Format) HasWide() bool {
	return f == FmtWideUint || f == FmtWideTwoUint
}

// OperandLen returns the number of operand bytes in the normal (not wide)
// form. It returns -1 for formats whose length depends on the code.
func (f Format) OperandLen() int {
	switch f {
	case FmtNone:
		return 0
	case FmtWideUint, FmtInt8:
		return 1
	case FmtWideTwoUint:
		return 2
	case FmtInt32, FmtUint32, FmtFloat32, FmtToken, FmtReserved4:
		return 4
	case FmtClass, FmtMethod:
		return pointerLen
	case FmtUint64, FmtFloat64:
		return 8
	case FmtBranch, FmtBranchLong:
		return BranchLen - 1
	case FmtCallNative:
		return pointerLen + 2
	case FmtCallInterface:
		return 2 + pointerLen
	case FmtSizeAndClass, FmtLdInterface:
		return 4 + pointerLen
	}
	return -1
}

// WideOperandLen returns the number of operand bytes in the wide form.
func (f Format) WideOperandLen() int {
	switch f {
	case FmtWideUint:
		return 4
	case FmtWideTwoUint:
		return 8
	}
	return 0
}

// InstructionLen returns the length of the instruction starting at code[pc].
// Unknown main opcodes are one byte long, and unknown wide or prefix opcodes
// two bytes, matching how the interpreter skips them. It returns 0 if the
// instruction is truncated.
func InstructionLen(code []byte, pc int) int {
	if pc < 0 || pc >= len(code) {
		return 0
	}
	op := Opcode(code[pc])
	var n int
	switch op {
	case OpWide:
		if pc+1 >= len(code) {
			return 0
		}
		info, ok := GetWideInfo(Opcode(code[pc+1]))
		n = 2
		if ok {
			n += info.Format.WideOperandLen()
		}
	case OpPrefix:
		if pc+1 >= len(code) {
			return 0
		}
		info := GetPrefixInfo(PrefixOpcode(code[pc+1]))
		n = 2
		switch info.Format {
		case FmtTail:
			inner := InstructionLen(code, pc+2)
			if inner == 0 {
				return 0
			}
			n += inner
		default:
			n += info.Format.OperandLen()
		}
	case OpSwitch:
		if pc+SwitchHeaderLen > len(code) {
			return 0
		}
		count := word.ReadCodeU32(code, pc+1)
		n = SwitchHeaderLen + 4*int(count)
	default:
		n = 1 + GetOpcodeInfo(op).Format.OperandLen()
	}
	if pc+n > len(code) {
		return 0
	}
	return n
}

package bytecode

import (
	"fmt"

	"github.com/chazu/cvm/pkg/word"
)

// Opcode is a main-table instruction selector.
// Main opcodes are organized into ranges by category; two escape opcodes
// (Wide and Prefix) extend the space.
type Opcode byte

// PrefixOpcode selects an instruction in the prefix table. It follows the
// OpPrefix escape byte.
type PrefixOpcode byte

const (
	// ========================================================================
	// Variable and frame access (0x00-0x20)
	// ========================================================================

	OpNop      Opcode = 0x00
	OpILoad0   Opcode = 0x01
	OpILoad1   Opcode = 0x02
	OpILoad2   Opcode = 0x03
	OpILoad3   Opcode = 0x04
	OpILoad    Opcode = 0x05 // iload <slot>
	OpPLoad0   Opcode = 0x06
	OpPLoad1   Opcode = 0x07
	OpPLoad2   Opcode = 0x08
	OpPLoad3   Opcode = 0x09
	OpPLoad    Opcode = 0x0A // pload <slot>
	OpIStore0  Opcode = 0x0B
	OpIStore1  Opcode = 0x0C
	OpIStore2  Opcode = 0x0D
	OpIStore3  Opcode = 0x0E
	OpIStore   Opcode = 0x0F // istore <slot>
	OpPStore0  Opcode = 0x10
	OpPStore1  Opcode = 0x11
	OpPStore2  Opcode = 0x12
	OpPStore3  Opcode = 0x13
	OpPStore   Opcode = 0x14 // pstore <slot>
	OpMLoad    Opcode = 0x15 // mload <slot> <words>
	OpMStore   Opcode = 0x16 // mstore <slot> <words>
	OpWAddr    Opcode = 0x17 // waddr <slot>: push &frame[slot]
	OpMAddr    Opcode = 0x18 // maddr <n>: push address of the word n below the top
	OpBFixup   Opcode = 0x19
	OpSFixup   Opcode = 0x1A
	OpFFixup   Opcode = 0x1B
	OpDFixup   Opcode = 0x1C
	OpMkLocal1 Opcode = 0x1D
	OpMkLocal2 Opcode = 0x1E
	OpMkLocal3 Opcode = 0x1F
	OpMkLocalN Opcode = 0x20 // mk_local_n <words>

	// ========================================================================
	// Raw pointer access (0x21-0x37)
	// ========================================================================

	OpBRead   Opcode = 0x21
	OpUBRead  Opcode = 0x22
	OpSRead   Opcode = 0x23
	OpUSRead  Opcode = 0x24
	OpIRead   Opcode = 0x25
	OpFRead   Opcode = 0x26
	OpDRead   Opcode = 0x27
	OpPRead   Opcode = 0x28
	OpMRead   Opcode = 0x29 // mread <bytes>
	OpBWrite  Opcode = 0x2A
	OpSWrite  Opcode = 0x2B
	OpIWrite  Opcode = 0x2C
	OpFWrite  Opcode = 0x2D
	OpDWrite  Opcode = 0x2E
	OpPWrite  Opcode = 0x2F
	OpMWrite  Opcode = 0x30 // mwrite <bytes>
	OpBWriteR Opcode = 0x31
	OpSWriteR Opcode = 0x32
	OpIWriteR Opcode = 0x33
	OpFWriteR Opcode = 0x34
	OpDWriteR Opcode = 0x35
	OpPWriteR Opcode = 0x36
	OpMWriteR Opcode = 0x37 // mwrite_r <bytes>

	// ========================================================================
	// Stack manipulation (0x38-0x42)
	// ========================================================================

	OpDup        Opcode = 0x38
	OpDup2       Opcode = 0x39
	OpDupN       Opcode = 0x3A // dup_n <words>
	OpDupWordN   Opcode = 0x3B // dup_word_n <n>
	OpPop        Opcode = 0x3C
	OpPop2       Opcode = 0x3D
	OpPopN       Opcode = 0x3E // pop_n <words>
	OpSquash     Opcode = 0x3F // squash <keep> <remove>
	OpCkHeight   Opcode = 0x40 // ckheight <4 zero bytes>
	OpCkHeightN  Opcode = 0x41 // ckheight_n <words:u32>
	OpSetNumArgs Opcode = 0x42 // set_num_args <words>

	// ========================================================================
	// Arithmetic (0x43-0x72)
	// ========================================================================

	OpIAdd      Opcode = 0x43
	OpIAddOvf   Opcode = 0x44
	OpIAddOvfUn Opcode = 0x45
	OpISub      Opcode = 0x46
	OpISubOvf   Opcode = 0x47
	OpISubOvfUn Opcode = 0x48
	OpIMul      Opcode = 0x49
	OpIMulOvf   Opcode = 0x4A
	OpIMulOvfUn Opcode = 0x4B
	OpIDiv      Opcode = 0x4C
	OpIDivUn    Opcode = 0x4D
	OpIRem      Opcode = 0x4E
	OpIRemUn    Opcode = 0x4F
	OpINeg      Opcode = 0x50
	OpLAdd      Opcode = 0x51
	OpLAddOvf   Opcode = 0x52
	OpLAddOvfUn Opcode = 0x53
	OpLSub      Opcode = 0x54
	OpLSubOvf   Opcode = 0x55
	OpLSubOvfUn Opcode = 0x56
	OpLMul      Opcode = 0x57
	OpLMulOvf   Opcode = 0x58
	OpLMulOvfUn Opcode = 0x59
	OpLDiv      Opcode = 0x5A
	OpLDivUn    Opcode = 0x5B
	OpLRem      Opcode = 0x5C
	OpLRemUn    Opcode = 0x5D
	OpLNeg      Opcode = 0x5E
	OpFAdd      Opcode = 0x5F
	OpFSub      Opcode = 0x60
	OpFMul      Opcode = 0x61
	OpFDiv      Opcode = 0x62
	OpFRem      Opcode = 0x63
	OpFNeg      Opcode = 0x64
	OpIAnd      Opcode = 0x65
	OpIOr       Opcode = 0x66
	OpIXor      Opcode = 0x67
	OpINot      Opcode = 0x68
	OpIShl      Opcode = 0x69
	OpIShr      Opcode = 0x6A
	OpIShrUn    Opcode = 0x6B
	OpLAnd      Opcode = 0x6C
	OpLOr       Opcode = 0x6D
	OpLXor      Opcode = 0x6E
	OpLNot      Opcode = 0x6F
	OpLShl      Opcode = 0x70
	OpLShr      Opcode = 0x71
	OpLShrUn    Opcode = 0x72

	// ========================================================================
	// Conversions (0x73-0x86)
	// ========================================================================

	OpI2B      Opcode = 0x73
	OpI2UB     Opcode = 0x74
	OpI2S      Opcode = 0x75
	OpI2US     Opcode = 0x76
	OpI2L      Opcode = 0x77
	OpIU2L     Opcode = 0x78
	OpI2F      Opcode = 0x79
	OpIU2F     Opcode = 0x7A
	OpL2I      Opcode = 0x7B
	OpL2F      Opcode = 0x7C
	OpLU2F     Opcode = 0x7D
	OpF2I      Opcode = 0x7E
	OpF2IU     Opcode = 0x7F
	OpF2L      Opcode = 0x80
	OpF2LU     Opcode = 0x81
	OpF2F      Opcode = 0x82
	OpF2D      Opcode = 0x83
	OpI2PLower Opcode = 0x84 // i2p_lower <n>
	OpFixI4I   Opcode = 0x85
	OpFixI4U   Opcode = 0x86

	// ========================================================================
	// Pointer arithmetic (0x87-0x92)
	// ========================================================================

	OpPAddOffset  Opcode = 0x87 // padd_offset <bytes>
	OpPAddOffsetN Opcode = 0x88 // padd_offset_n <n> <bytes>
	OpPAddI4      Opcode = 0x89
	OpPAddI4R     Opcode = 0x8A
	OpPAddI8      Opcode = 0x8B
	OpPAddI8R     Opcode = 0x8C
	OpPSub        Opcode = 0x8D
	OpPSubI4      Opcode = 0x8E
	OpPSubI8      Opcode = 0x8F
	OpCkNull      Opcode = 0x90
	OpCkNullN     Opcode = 0x91 // cknull_n <n>
	OpLdRVA       Opcode = 0x92 // ldrva <rva:u32>

	// ========================================================================
	// Constants (0x93-0xA2)
	// ========================================================================

	OpLdNull  Opcode = 0x93
	OpLdcI4M1 Opcode = 0x94
	OpLdcI40  Opcode = 0x95
	OpLdcI41  Opcode = 0x96
	OpLdcI42  Opcode = 0x97
	OpLdcI43  Opcode = 0x98
	OpLdcI44  Opcode = 0x99
	OpLdcI45  Opcode = 0x9A
	OpLdcI46  Opcode = 0x9B
	OpLdcI47  Opcode = 0x9C
	OpLdcI48  Opcode = 0x9D
	OpLdcI4S  Opcode = 0x9E // ldc_i4_s <i8>
	OpLdcI4   Opcode = 0x9F // ldc_i4 <i32>
	OpLdcI8   Opcode = 0xA0 // ldc_i8 <u64>
	OpLdcR4   Opcode = 0xA1 // ldc_r4 <f32>
	OpLdcR8   Opcode = 0xA2 // ldc_r8 <f64>

	// ========================================================================
	// Branches (0xA3-0xB5). Every branch is BranchLen bytes long.
	// ========================================================================

	OpBr        Opcode = 0xA3
	OpBeq       Opcode = 0xA4
	OpBne       Opcode = 0xA5
	OpBlt       Opcode = 0xA6
	OpBltUn     Opcode = 0xA7
	OpBle       Opcode = 0xA8
	OpBleUn     Opcode = 0xA9
	OpBgt       Opcode = 0xAA
	OpBgtUn     Opcode = 0xAB
	OpBge       Opcode = 0xAC
	OpBgeUn     Opcode = 0xAD
	OpBrTrue    Opcode = 0xAE
	OpBrFalse   Opcode = 0xAF
	OpBrNull    Opcode = 0xB0
	OpBrNonNull Opcode = 0xB1
	OpBrPEq     Opcode = 0xB2
	OpBrPNe     Opcode = 0xB3
	OpBrLong    Opcode = 0xB4 // br_long <sub-opcode> <i32>
	OpSwitch    Opcode = 0xB5 // switch <count:u32> <default:i32> <i32 x count>

	// ========================================================================
	// Array access (0xB6-0xC3)
	// ========================================================================

	OpBReadElem      Opcode = 0xB6
	OpUBReadElem     Opcode = 0xB7
	OpSReadElem      Opcode = 0xB8
	OpUSReadElem     Opcode = 0xB9
	OpIReadElem      Opcode = 0xBA
	OpPReadElem      Opcode = 0xBB
	OpBWriteElem     Opcode = 0xBC
	OpSWriteElem     Opcode = 0xBD
	OpIWriteElem     Opcode = 0xBE
	OpPWriteElem     Opcode = 0xBF
	OpCkArrayLoadI4  Opcode = 0xC0
	OpCkArrayLoadI8  Opcode = 0xC1
	OpCkArrayStoreI8 Opcode = 0xC2 // ckarray_store_i8 <value words>
	OpArrayLen       Opcode = 0xC3

	// ========================================================================
	// Field access (0xC4-0xCD). Operand is a byte offset.
	// ========================================================================

	OpBReadField  Opcode = 0xC4
	OpUBReadField Opcode = 0xC5
	OpSReadField  Opcode = 0xC6
	OpUSReadField Opcode = 0xC7
	OpIReadField  Opcode = 0xC8
	OpPReadField  Opcode = 0xC9
	OpBWriteField Opcode = 0xCA
	OpSWriteField Opcode = 0xCB
	OpIWriteField Opcode = 0xCC
	OpPWriteField Opcode = 0xCD

	// ========================================================================
	// Calls and returns (0xCE-0xDF)
	// ========================================================================

	OpCall           Opcode = 0xCE // call <method>
	OpCallExtern     Opcode = 0xCF // call_extern <method>
	OpCallCtor       Opcode = 0xD0 // call_ctor <method>
	OpCallNative     Opcode = 0xD1 // call_native <fn:u32> <args:u8> <ret:u8>
	OpCallNativeVoid Opcode = 0xD2 // call_native_void <fn:u32> <args:u8> <0>
	OpCallVirtual    Opcode = 0xD3 // call_virtual <this pos> <vtable index>
	OpCallInterface  Opcode = 0xD4 // call_interface <this pos:u8> <index:u8> <class>
	OpReturn         Opcode = 0xD5
	OpReturn1        Opcode = 0xD6
	OpReturn2        Opcode = 0xD7
	OpReturnN        Opcode = 0xD8 // return_n <words:u32>
	OpJsr            Opcode = 0xD9
	OpRetJsr         Opcode = 0xDA
	OpPushDown       Opcode = 0xDC // pushdown <n:u32>
	OpCctorOnce      Opcode = 0xDD
	OpCallI          Opcode = 0xDE
	OpJmpI           Opcode = 0xDF

	// ========================================================================
	// Objects, strings and memory blocks (0xE0-0xEE)
	// ========================================================================

	OpCastClass     Opcode = 0xE0 // castclass <class>
	OpIsInst        Opcode = 0xE1 // isinst <class>
	OpCastInterface Opcode = 0xE2 // castinterface <class>
	OpIsInterface   Opcode = 0xE3 // isinterface <class>
	OpGetStatic     Opcode = 0xE4 // get_static <class>
	OpNew           Opcode = 0xE5
	OpNewValue      Opcode = 0xE6 // new_value <words> <args>
	OpLdStr         Opcode = 0xE7 // ldstr <token>
	OpLdToken       Opcode = 0xE8 // ldtoken <token>
	OpBox           Opcode = 0xE9 // box <size:u32> <class>
	OpBoxPtr        Opcode = 0xEA // box_ptr <size:u32> <class>
	OpMemCpy        Opcode = 0xEB // memcpy <bytes>
	OpMemMove       Opcode = 0xEC
	OpMemZero       Opcode = 0xED // memzero <bytes>
	OpMemSet        Opcode = 0xEE

	// ========================================================================
	// Escapes
	// ========================================================================

	OpWide   Opcode = 0xFD // wide <op> <u32 operands...>
	OpPrefix Opcode = 0xFF // prefix <prefix op> <operands...>
)

const (
	PrefixICmp   PrefixOpcode = 0x01
	PrefixICmpUn PrefixOpcode = 0x02
	PrefixLCmp   PrefixOpcode = 0x03
	PrefixLCmpUn PrefixOpcode = 0x04
	PrefixFCmpL  PrefixOpcode = 0x05
	PrefixFCmpG  PrefixOpcode = 0x06
	PrefixPCmp   PrefixOpcode = 0x07
	PrefixSetEq  PrefixOpcode = 0x08
	PrefixSetNe  PrefixOpcode = 0x09
	PrefixSetLt  PrefixOpcode = 0x0A
	PrefixSetLe  PrefixOpcode = 0x0B
	PrefixSetGt  PrefixOpcode = 0x0C
	PrefixSetGe  PrefixOpcode = 0x0D

	PrefixLReadElem  PrefixOpcode = 0x10
	PrefixFReadElem  PrefixOpcode = 0x11
	PrefixDReadElem  PrefixOpcode = 0x12
	PrefixLWriteElem PrefixOpcode = 0x13
	PrefixFWriteElem PrefixOpcode = 0x14
	PrefixDWriteElem PrefixOpcode = 0x15

	PrefixTail        PrefixOpcode = 0x16 // tail <call instruction>
	PrefixLdFtn       PrefixOpcode = 0x17 // ldftn <method>
	PrefixLdVirtFtn   PrefixOpcode = 0x18 // ldvirtftn <index:u32>
	PrefixLdInterfFtn PrefixOpcode = 0x19 // ldinterfftn <index:u32> <class>

	PrefixEnterTry  PrefixOpcode = 0x1C
	PrefixExitTry   PrefixOpcode = 0x1D
	PrefixThrow     PrefixOpcode = 0x1E
	PrefixMkRefAny  PrefixOpcode = 0x1F // mkrefany <class>
	PrefixRefAnyVal PrefixOpcode = 0x20 // refanyval <class>

	PrefixI2BOvf   PrefixOpcode = 0x21
	PrefixI2UBOvf  PrefixOpcode = 0x22
	PrefixIU2BOvf  PrefixOpcode = 0x23
	PrefixIU2UBOvf PrefixOpcode = 0x24
	PrefixI2SOvf   PrefixOpcode = 0x25
	PrefixI2USOvf  PrefixOpcode = 0x26
	PrefixIU2SOvf  PrefixOpcode = 0x27
	PrefixIU2USOvf PrefixOpcode = 0x28
	PrefixI2IUOvf  PrefixOpcode = 0x29
	PrefixIU2IOvf  PrefixOpcode = 0x2A
	PrefixI2ULOvf  PrefixOpcode = 0x2B
	PrefixL2IOvf   PrefixOpcode = 0x2C
	PrefixL2UIOvf  PrefixOpcode = 0x2D
	PrefixLU2IOvf  PrefixOpcode = 0x2E
	PrefixLU2IUOvf PrefixOpcode = 0x2F
	PrefixL2ULOvf  PrefixOpcode = 0x30
	PrefixLU2LOvf  PrefixOpcode = 0x31
	PrefixF2IOvf   PrefixOpcode = 0x32
	PrefixF2IUOvf  PrefixOpcode = 0x33
	PrefixF2LOvf   PrefixOpcode = 0x34
	PrefixF2LUOvf  PrefixOpcode = 0x35

	PrefixI2BAligned PrefixOpcode = 0x36
	PrefixI2SAligned PrefixOpcode = 0x37
	PrefixF2FAligned PrefixOpcode = 0x38
	PrefixF2DAligned PrefixOpcode = 0x39
	PrefixCkFinite   PrefixOpcode = 0x3A

	PrefixStringConcat2  PrefixOpcode = 0x3B
	PrefixStringConcat3  PrefixOpcode = 0x3C
	PrefixStringConcat4  PrefixOpcode = 0x3D
	PrefixStringEq       PrefixOpcode = 0x3E
	PrefixStringNe       PrefixOpcode = 0x3F
	PrefixStringGetChar  PrefixOpcode = 0x40
	PrefixTypeFromHandle PrefixOpcode = 0x41
	PrefixThrowCaller    PrefixOpcode = 0x42
	PrefixElemAddr       PrefixOpcode = 0x43 // elem_addr <elem size:u32>
	PrefixNewArr         PrefixOpcode = 0x44 // newarr <elem size:u32>
	PrefixUnrollMethod   PrefixOpcode = 0x45
)

// Variable marks a stack effect that depends on operands.
const Variable = -1

// OpcodeInfo provides metadata about each opcode for dispatch, validation
// and disassembly. Stack effects are counted in words.
type OpcodeInfo struct {
	Name      string
	Format    Format
	StackPop  int // words popped (Variable = operand dependent)
	StackPush int // words pushed
}

// Word counts used in the tables below.
const (
	lw = word.WordsPerLong
	fw = word.WordsPerNativeFloat
)

// opcodeInfoTable maps main opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop:      {"nop", FmtNone, 0, 0},
	OpILoad0:   {"iload_0", FmtNone, 0, 1},
	OpILoad1:   {"iload_1", FmtNone, 0, 1},
	OpILoad2:   {"iload_2", FmtNone, 0, 1},
	OpILoad3:   {"iload_3", FmtNone, 0, 1},
	OpILoad:    {"iload", FmtWideUint, 0, 1},
	OpPLoad0:   {"pload_0", FmtNone, 0, 1},
	OpPLoad1:   {"pload_1", FmtNone, 0, 1},
	OpPLoad2:   {"pload_2", FmtNone, 0, 1},
	OpPLoad3:   {"pload_3", FmtNone, 0, 1},
	OpPLoad:    {"pload", FmtWideUint, 0, 1},
	OpIStore0:  {"istore_0", FmtNone, 1, 0},
	OpIStore1:  {"istore_1", FmtNone, 1, 0},
	OpIStore2:  {"istore_2", FmtNone, 1, 0},
	OpIStore3:  {"istore_3", FmtNone, 1, 0},
	OpIStore:   {"istore", FmtWideUint, 1, 0},
	OpPStore0:  {"pstore_0", FmtNone, 1, 0},
	OpPStore1:  {"pstore_1", FmtNone, 1, 0},
	OpPStore2:  {"pstore_2", FmtNone, 1, 0},
	OpPStore3:  {"pstore_3", FmtNone, 1, 0},
	OpPStore:   {"pstore", FmtWideUint, 1, 0},
	OpMLoad:    {"mload", FmtWideTwoUint, Variable, Variable},
	OpMStore:   {"mstore", FmtWideTwoUint, Variable, Variable},
	OpWAddr:    {"waddr", FmtWideUint, 0, 1},
	OpMAddr:    {"maddr", FmtWideUint, 0, 1},
	OpBFixup:   {"bfixup", FmtWideUint, 0, 0},
	OpSFixup:   {"sfixup", FmtWideUint, 0, 0},
	OpFFixup:   {"ffixup", FmtWideUint, 0, 0},
	OpDFixup:   {"dfixup", FmtWideUint, 0, 0},
	OpMkLocal1: {"mk_local_1", FmtNone, 0, 1},
	OpMkLocal2: {"mk_local_2", FmtNone, 0, 2},
	OpMkLocal3: {"mk_local_3", FmtNone, 0, 3},
	OpMkLocalN: {"mk_local_n", FmtWideUint, Variable, Variable},

	OpBRead:   {"bread", FmtNone, 1, 1},
	OpUBRead:  {"ubread", FmtNone, 1, 1},
	OpSRead:   {"sread", FmtNone, 1, 1},
	OpUSRead:  {"usread", FmtNone, 1, 1},
	OpIRead:   {"iread", FmtNone, 1, 1},
	OpFRead:   {"fread", FmtNone, 1, fw},
	OpDRead:   {"dread", FmtNone, 1, fw},
	OpPRead:   {"pread", FmtNone, 1, 1},
	OpMRead:   {"mread", FmtWideUint, Variable, Variable},
	OpBWrite:  {"bwrite", FmtNone, 2, 0},
	OpSWrite:  {"swrite", FmtNone, 2, 0},
	OpIWrite:  {"iwrite", FmtNone, 2, 0},
	OpFWrite:  {"fwrite", FmtNone, 1 + fw, 0},
	OpDWrite:  {"dwrite", FmtNone, 1 + fw, 0},
	OpPWrite:  {"pwrite", FmtNone, 2, 0},
	OpMWrite:  {"mwrite", FmtWideUint, Variable, Variable},
	OpBWriteR: {"bwrite_r", FmtNone, 2, 0},
	OpSWriteR: {"swrite_r", FmtNone, 2, 0},
	OpIWriteR: {"iwrite_r", FmtNone, 2, 0},
	OpFWriteR: {"fwrite_r", FmtNone, 1 + fw, 0},
	OpDWriteR: {"dwrite_r", FmtNone, 1 + fw, 0},
	OpPWriteR: {"pwrite_r", FmtNone, 2, 0},
	OpMWriteR: {"mwrite_r", FmtWideUint, Variable, Variable},

	OpDup:        {"dup", FmtNone, 1, 2},
	OpDup2:       {"dup2", FmtNone, 2, 4},
	OpDupN:       {"dup_n", FmtWideUint, Variable, Variable},
	OpDupWordN:   {"dup_word_n", FmtWideUint, Variable, Variable},
	OpPop:        {"pop", FmtNone, 1, 0},
	OpPop2:       {"pop2", FmtNone, 2, 0},
	OpPopN:       {"pop_n", FmtWideUint, Variable, Variable},
	OpSquash:     {"squash", FmtWideTwoUint, Variable, Variable},
	OpCkHeight:   {"ckheight", FmtReserved4, 0, 0},
	OpCkHeightN:  {"ckheight_n", FmtUint32, 0, 0},
	OpSetNumArgs: {"set_num_args", FmtWideUint, Variable, Variable},

	OpIAdd:      {"iadd", FmtNone, 2, 1},
	OpIAddOvf:   {"iadd_ovf", FmtNone, 2, 1},
	OpIAddOvfUn: {"iadd_ovf_un", FmtNone, 2, 1},
	OpISub:      {"isub", FmtNone, 2, 1},
	OpISubOvf:   {"isub_ovf", FmtNone, 2, 1},
	OpISubOvfUn: {"isub_ovf_un", FmtNone, 2, 1},
	OpIMul:      {"imul", FmtNone, 2, 1},
	OpIMulOvf:   {"imul_ovf", FmtNone, 2, 1},
	OpIMulOvfUn: {"imul_ovf_un", FmtNone, 2, 1},
	OpIDiv:      {"idiv", FmtNone, 2, 1},
	OpIDivUn:    {"idiv_un", FmtNone, 2, 1},
	OpIRem:      {"irem", FmtNone, 2, 1},
	OpIRemUn:    {"irem_un", FmtNone, 2, 1},
	OpINeg:      {"ineg", FmtNone, 1, 1},
	OpLAdd:      {"ladd", FmtNone, 2 * lw, lw},
	OpLAddOvf:   {"ladd_ovf", FmtNone, 2 * lw, lw},
	OpLAddOvfUn: {"ladd_ovf_un", FmtNone, 2 * lw, lw},
	OpLSub:      {"lsub", FmtNone, 2 * lw, lw},
	OpLSubOvf:   {"lsub_ovf", FmtNone, 2 * lw, lw},
	OpLSubOvfUn: {"lsub_ovf_un", FmtNone, 2 * lw, lw},
	OpLMul:      {"lmul", FmtNone, 2 * lw, lw},
	OpLMulOvf:   {"lmul_ovf", FmtNone, 2 * lw, lw},
	OpLMulOvfUn: {"lmul_ovf_un", FmtNone, 2 * lw, lw},
	OpLDiv:      {"ldiv", FmtNone, 2 * lw, lw},
	OpLDivUn:    {"ldiv_un", FmtNone, 2 * lw, lw},
	OpLRem:      {"lrem", FmtNone, 2 * lw, lw},
	OpLRemUn:    {"lrem_un", FmtNone, 2 * lw, lw},
	OpLNeg:      {"lneg", FmtNone, lw, lw},
	OpFAdd:      {"fadd", FmtNone, 2 * fw, fw},
	OpFSub:      {"fsub", FmtNone, 2 * fw, fw},
	OpFMul:      {"fmul", FmtNone, 2 * fw, fw},
	OpFDiv:      {"fdiv", FmtNone, 2 * fw, fw},
	OpFRem:      {"frem", FmtNone, 2 * fw, fw},
	OpFNeg:      {"fneg", FmtNone, fw, fw},
	OpIAnd:      {"iand", FmtNone, 2, 1},
	OpIOr:       {"ior", FmtNone, 2, 1},
	OpIXor:      {"ixor", FmtNone, 2, 1},
	OpINot:      {"inot", FmtNone, 1, 1},
	OpIShl:      {"ishl", FmtNone, 2, 1},
	OpIShr:      {"ishr", FmtNone, 2, 1},
	OpIShrUn:    {"ishr_un", FmtNone, 2, 1},
	OpLAnd:      {"land", FmtNone, 2 * lw, lw},
	OpLOr:       {"lor", FmtNone, 2 * lw, lw},
	OpLXor:      {"lxor", FmtNone, 2 * lw, lw},
	OpLNot:      {"lnot", FmtNone, lw, lw},
	OpLShl:      {"lshl", FmtNone, lw + 1, lw},
	OpLShr:      {"lshr", FmtNone, lw + 1, lw},
	OpLShrUn:    {"lshr_un", FmtNone, lw + 1, lw},

	OpI2B:      {"i2b", FmtNone, 1, 1},
	OpI2UB:     {"i2ub", FmtNone, 1, 1},
	OpI2S:      {"i2s", FmtNone, 1, 1},
	OpI2US:     {"i2us", FmtNone, 1, 1},
	OpI2L:      {"i2l", FmtNone, 1, lw},
	OpIU2L:     {"iu2l", FmtNone, 1, lw},
	OpI2F:      {"i2f", FmtNone, 1, fw},
	OpIU2F:     {"iu2f", FmtNone, 1, fw},
	OpL2I:      {"l2i", FmtNone, lw, 1},
	OpL2F:      {"l2f", FmtNone, lw, fw},
	OpLU2F:     {"lu2f", FmtNone, lw, fw},
	OpF2I:      {"f2i", FmtNone, fw, 1},
	OpF2IU:     {"f2iu", FmtNone, fw, 1},
	OpF2L:      {"f2l", FmtNone, fw, lw},
	OpF2LU:     {"f2lu", FmtNone, fw, lw},
	OpF2F:      {"f2f", FmtNone, fw, fw},
	OpF2D:      {"f2d", FmtNone, fw, fw},
	OpI2PLower: {"i2p_lower", FmtWideUint, Variable, Variable},
	OpFixI4I:   {"fix_i4_i", FmtNone, 2, 2},
	OpFixI4U:   {"fix_i4_u", FmtNone, 2, 2},

	OpPAddOffset:  {"padd_offset", FmtWideUint, 1, 1},
	OpPAddOffsetN: {"padd_offset_n", FmtWideTwoUint, Variable, Variable},
	OpPAddI4:      {"padd_i4", FmtNone, 2, 1},
	OpPAddI4R:     {"padd_i4_r", FmtNone, 2, 1},
	OpPAddI8:      {"padd_i8", FmtNone, 1 + lw, 1},
	OpPAddI8R:     {"padd_i8_r", FmtNone, 1 + lw, 1},
	OpPSub:        {"psub", FmtNone, 2, 1},
	OpPSubI4:      {"psub_i4", FmtNone, 2, 1},
	OpPSubI8:      {"psub_i8", FmtNone, 1 + lw, 1},
	OpCkNull:      {"cknull", FmtNone, 1, 1},
	OpCkNullN:     {"cknull_n", FmtWideUint, Variable, Variable},
	OpLdRVA:       {"ldrva", FmtUint32, 0, 1},

	OpLdNull:  {"ldnull", FmtNone, 0, 1},
	OpLdcI4M1: {"ldc_i4_m1", FmtNone, 0, 1},
	OpLdcI40:  {"ldc_i4_0", FmtNone, 0, 1},
	OpLdcI41:  {"ldc_i4_1", FmtNone, 0, 1},
	OpLdcI42:  {"ldc_i4_2", FmtNone, 0, 1},
	OpLdcI43:  {"ldc_i4_3", FmtNone, 0, 1},
	OpLdcI44:  {"ldc_i4_4", FmtNone, 0, 1},
	OpLdcI45:  {"ldc_i4_5", FmtNone, 0, 1},
	OpLdcI46:  {"ldc_i4_6", FmtNone, 0, 1},
	OpLdcI47:  {"ldc_i4_7", FmtNone, 0, 1},
	OpLdcI48:  {"ldc_i4_8", FmtNone, 0, 1},
	OpLdcI4S:  {"ldc_i4_s", FmtInt8, 0, 1},
	OpLdcI4:   {"ldc_i4", FmtInt32, 0, 1},
	OpLdcI8:   {"ldc_i8", FmtUint64, 0, lw},
	OpLdcR4:   {"ldc_r4", FmtFloat32, 0, fw},
	OpLdcR8:   {"ldc_r8", FmtFloat64, 0, fw},

	OpBr:        {"br", FmtBranch, 0, 0},
	OpBeq:       {"beq", FmtBranch, 2, 0},
	OpBne:       {"bne", FmtBranch, 2, 0},
	OpBlt:       {"blt", FmtBranch, 2, 0},
	OpBltUn:     {"blt_un", FmtBranch, 2, 0},
	OpBle:       {"ble", FmtBranch, 2, 0},
	OpBleUn:     {"ble_un", FmtBranch, 2, 0},
	OpBgt:       {"bgt", FmtBranch, 2, 0},
	OpBgtUn:     {"bgt_un", FmtBranch, 2, 0},
	OpBge:       {"bge", FmtBranch, 2, 0},
	OpBgeUn:     {"bge_un", FmtBranch, 2, 0},
	OpBrTrue:    {"brtrue", FmtBranch, 1, 0},
	OpBrFalse:   {"brfalse", FmtBranch, 1, 0},
	OpBrNull:    {"brnull", FmtBranch, 1, 0},
	OpBrNonNull: {"brnonnull", FmtBranch, 1, 0},
	OpBrPEq:     {"br_peq", FmtBranch, 2, 0},
	OpBrPNe:     {"br_pne", FmtBranch, 2, 0},
	OpBrLong:    {"br_long", FmtBranchLong, Variable, Variable},
	OpSwitch:    {"switch", FmtSwitch, 1, 0},

	OpBReadElem:      {"bread_elem", FmtNone, 2, 1},
	OpUBReadElem:     {"ubread_elem", FmtNone, 2, 1},
	OpSReadElem:      {"sread_elem", FmtNone, 2, 1},
	OpUSReadElem:     {"usread_elem", FmtNone, 2, 1},
	OpIReadElem:      {"iread_elem", FmtNone, 2, 1},
	OpPReadElem:      {"pread_elem", FmtNone, 2, 1},
	OpBWriteElem:     {"bwrite_elem", FmtNone, 3, 0},
	OpSWriteElem:     {"swrite_elem", FmtNone, 3, 0},
	OpIWriteElem:     {"iwrite_elem", FmtNone, 3, 0},
	OpPWriteElem:     {"pwrite_elem", FmtNone, 3, 0},
	OpCkArrayLoadI4:  {"ckarray_load_i4", FmtNone, 2, 2},
	OpCkArrayLoadI8:  {"ckarray_load_i8", FmtNone, 1 + lw, 2},
	OpCkArrayStoreI8: {"ckarray_store_i8", FmtWideUint, Variable, Variable},
	OpArrayLen:       {"array_len", FmtNone, 1, 1},

	OpBReadField:  {"bread_field", FmtWideUint, 1, 1},
	OpUBReadField: {"ubread_field", FmtWideUint, 1, 1},
	OpSReadField:  {"sread_field", FmtWideUint, 1, 1},
	OpUSReadField: {"usread_field", FmtWideUint, 1, 1},
	OpIReadField:  {"iread_field", FmtWideUint, 1, 1},
	OpPReadField:  {"pread_field", FmtWideUint, 1, 1},
	OpBWriteField: {"bwrite_field", FmtWideUint, 2, 0},
	OpSWriteField: {"swrite_field", FmtWideUint, 2, 0},
	OpIWriteField: {"iwrite_field", FmtWideUint, 2, 0},
	OpPWriteField: {"pwrite_field", FmtWideUint, 2, 0},

	OpCall:           {"call", FmtMethod, Variable, Variable},
	OpCallExtern:     {"call_extern", FmtMethod, Variable, Variable},
	OpCallCtor:       {"call_ctor", FmtMethod, Variable, Variable},
	OpCallNative:     {"call_native", FmtCallNative, Variable, Variable},
	OpCallNativeVoid: {"call_native_void", FmtCallNative, Variable, Variable},
	OpCallVirtual:    {"call_virtual", FmtWideTwoUint, Variable, Variable},
	OpCallInterface:  {"call_interface", FmtCallInterface, Variable, Variable},
	OpReturn:         {"return", FmtNone, Variable, Variable},
	OpReturn1:        {"return_1", FmtNone, Variable, Variable},
	OpReturn2:        {"return_2", FmtNone, Variable, Variable},
	OpReturnN:        {"return_n", FmtUint32, Variable, Variable},
	OpJsr:            {"jsr", FmtBranch, 0, 1},
	OpRetJsr:         {"ret_jsr", FmtNone, 1, 0},
	OpPushDown:       {"pushdown", FmtUint32, Variable, Variable},
	OpCctorOnce:      {"cctor_once", FmtNone, Variable, Variable},
	OpCallI:          {"calli", FmtNone, Variable, Variable},
	OpJmpI:           {"jmpi", FmtNone, 1, 0},

	OpCastClass:     {"castclass", FmtClass, 1, 1},
	OpIsInst:        {"isinst", FmtClass, 1, 1},
	OpCastInterface: {"castinterface", FmtClass, 1, 1},
	OpIsInterface:   {"isinterface", FmtClass, 1, 1},
	OpGetStatic:     {"get_static", FmtClass, 0, 1},
	OpNew:           {"new", FmtNone, 0, 1},
	OpNewValue:      {"new_value", FmtWideTwoUint, Variable, Variable},
	OpLdStr:         {"ldstr", FmtToken, 0, 1},
	OpLdToken:       {"ldtoken", FmtToken, 0, 1},
	OpBox:           {"box", FmtSizeAndClass, Variable, Variable},
	OpBoxPtr:        {"box_ptr", FmtSizeAndClass, 1, 1},
	OpMemCpy:        {"memcpy", FmtWideUint, 2, 0},
	OpMemMove:       {"memmove", FmtNone, 3, 0},
	OpMemZero:       {"memzero", FmtWideUint, 1, 0},
	OpMemSet:        {"memset", FmtNone, 3, 0},

	OpWide:   {"wide", FmtWide, Variable, Variable},
	OpPrefix: {"prefix", FmtPrefix, Variable, Variable},
}

// prefixInfoTable maps prefix opcodes to their metadata.
var prefixInfoTable = map[PrefixOpcode]OpcodeInfo{
	PrefixICmp:   {"icmp", FmtNone, 2, 1},
	PrefixICmpUn: {"icmp_un", FmtNone, 2, 1},
	PrefixLCmp:   {"lcmp", FmtNone, 2 * lw, 1},
	PrefixLCmpUn: {"lcmp_un", FmtNone, 2 * lw, 1},
	PrefixFCmpL:  {"fcmpl", FmtNone, 2 * fw, 1},
	PrefixFCmpG:  {"fcmpg", FmtNone, 2 * fw, 1},
	PrefixPCmp:   {"pcmp", FmtNone, 2, 1},
	PrefixSetEq:  {"seteq", FmtNone, 1, 1},
	PrefixSetNe:  {"setne", FmtNone, 1, 1},
	PrefixSetLt:  {"setlt", FmtNone, 1, 1},
	PrefixSetLe:  {"setle", FmtNone, 1, 1},
	PrefixSetGt:  {"setgt", FmtNone, 1, 1},
	PrefixSetGe:  {"setge", FmtNone, 1, 1},

	PrefixLReadElem:  {"lread_elem", FmtNone, 2, lw},
	PrefixFReadElem:  {"fread_elem", FmtNone, 2, fw},
	PrefixDReadElem:  {"dread_elem", FmtNone, 2, fw},
	PrefixLWriteElem: {"lwrite_elem", FmtNone, 2 + lw, 0},
	PrefixFWriteElem: {"fwrite_elem", FmtNone, 2 + fw, 0},
	PrefixDWriteElem: {"dwrite_elem", FmtNone, 2 + fw, 0},

	PrefixTail:        {"tail", FmtTail, Variable, Variable},
	PrefixLdFtn:       {"ldftn", FmtMethod, 0, 1},
	PrefixLdVirtFtn:   {"ldvirtftn", FmtUint32, 1, 1},
	PrefixLdInterfFtn: {"ldinterfftn", FmtLdInterface, 1, 1},

	PrefixEnterTry:  {"enter_try", FmtNone, 0, 0},
	PrefixExitTry:   {"exit_try", FmtNone, 0, 0},
	PrefixThrow:     {"throw", FmtNone, Variable, Variable},
	PrefixMkRefAny:  {"mkrefany", FmtClass, 1, 2},
	PrefixRefAnyVal: {"refanyval", FmtClass, 2, 1},

	PrefixI2BOvf:   {"i2b_ovf", FmtNone, 1, 1},
	PrefixI2UBOvf:  {"i2ub_ovf", FmtNone, 1, 1},
	PrefixIU2BOvf:  {"iu2b_ovf", FmtNone, 1, 1},
	PrefixIU2UBOvf: {"iu2ub_ovf", FmtNone, 1, 1},
	PrefixI2SOvf:   {"i2s_ovf", FmtNone, 1, 1},
	PrefixI2USOvf:  {"i2us_ovf", FmtNone, 1, 1},
	PrefixIU2SOvf:  {"iu2s_ovf", FmtNone, 1, 1},
	PrefixIU2USOvf: {"iu2us_ovf", FmtNone, 1, 1},
	PrefixI2IUOvf:  {"i2iu_ovf", FmtNone, 1, 1},
	PrefixIU2IOvf:  {"iu2i_ovf", FmtNone, 1, 1},
	PrefixI2ULOvf:  {"i2ul_ovf", FmtNone, 1, lw},
	PrefixL2IOvf:   {"l2i_ovf", FmtNone, lw, 1},
	PrefixL2UIOvf:  {"l2ui_ovf", FmtNone, lw, 1},
	PrefixLU2IOvf:  {"lu2i_ovf", FmtNone, lw, 1},
	PrefixLU2IUOvf: {"lu2iu_ovf", FmtNone, lw, 1},
	PrefixL2ULOvf:  {"l2ul_ovf", FmtNone, lw, lw},
	PrefixLU2LOvf:  {"lu2l_ovf", FmtNone, lw, lw},
	PrefixF2IOvf:   {"f2i_ovf", FmtNone, fw, 1},
	PrefixF2IUOvf:  {"f2iu_ovf", FmtNone, fw, 1},
	PrefixF2LOvf:   {"f2l_ovf", FmtNone, fw, lw},
	PrefixF2LUOvf:  {"f2lu_ovf", FmtNone, fw, lw},

	PrefixI2BAligned: {"i2b_aligned", FmtNone, 1, 1},
	PrefixI2SAligned: {"i2s_aligned", FmtNone, 1, 1},
	PrefixF2FAligned: {"f2f_aligned", FmtNone, fw, fw},
	PrefixF2DAligned: {"f2d_aligned", FmtNone, fw, fw},
	PrefixCkFinite:   {"ckfinite", FmtNone, fw, fw},

	PrefixStringConcat2:  {"string_concat_2", FmtNone, 2, 1},
	PrefixStringConcat3:  {"string_concat_3", FmtNone, 3, 1},
	PrefixStringConcat4:  {"string_concat_4", FmtNone, 4, 1},
	PrefixStringEq:       {"string_eq", FmtNone, 2, 1},
	PrefixStringNe:       {"string_ne", FmtNone, 2, 1},
	PrefixStringGetChar:  {"string_get_char", FmtNone, 2, 1},
	PrefixTypeFromHandle: {"type_from_handle", FmtNone, 1, 1},
	PrefixThrowCaller:    {"throw_caller", FmtNone, Variable, Variable},
	PrefixElemAddr:       {"elem_addr", FmtUint32, 2, 1},
	PrefixNewArr:         {"newarr", FmtUint32, 1, 1},
	PrefixUnrollMethod:   {"unroll_method", FmtNone, Variable, Variable},
}

// GetOpcodeInfo returns metadata for a main opcode.
// Returns an OpcodeInfo named "reserved_XX" if the opcode is not recognized;
// such opcodes execute as one-byte no-ops.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("reserved_%02x", byte(op)), Format: FmtNone}
}

// GetPrefixInfo returns metadata for a prefix opcode.
// Unrecognized prefix opcodes execute as two-byte no-ops.
func GetPrefixInfo(op PrefixOpcode) OpcodeInfo {
	if info, ok := prefixInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("preserved_%02x", byte(op)), Format: FmtNone}
}

// GetWideInfo returns metadata for the wide form of a main opcode.
// ok is false if the opcode has no wide form.
func GetWideInfo(op Opcode) (info OpcodeInfo, ok bool) {
	info, ok = opcodeInfoTable[op]
	if !ok || !info.Format.HasWide() {
		return OpcodeInfo{Name: fmt.Sprintf("wide_%02x", byte(op)), Format: FmtNone}, false
	}
	return info, true
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// String returns the mnemonic of a prefix opcode.
func (op PrefixOpcode) String() string {
	return GetPrefixInfo(op).Name
}

// IsKnown reports whether op has a handler in the main table.
func (op Opcode) IsKnown() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsKnown reports whether op has a handler in the prefix table.
func (op PrefixOpcode) IsKnown() bool {
	_, ok := prefixInfoTable[op]
	return ok
}

// IsBranch returns true for the fixed-length short branch instructions.
func (op Opcode) IsBranch() bool {
	return op >= OpBr && op <= OpBrPNe
}

// IsCall returns true if the opcode transfers control to another method.
func (op Opcode) IsCall() bool {
	return op >= OpCall && op <= OpCallInterface || op == OpCallI
}

// IsReturn returns true if this opcode returns from the current method.
func (op Opcode) IsReturn() bool {
	return op >= OpReturn && op <= OpReturnN
}

// AllOpcodes returns all defined main opcodes, including the escapes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// AllPrefixOpcodes returns all defined prefix opcodes.
func AllPrefixOpcodes() []PrefixOpcode {
	opcodes := make([]PrefixOpcode, 0, len(prefixInfoTable))
	for op := range prefixInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined main opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}

// PrefixOpcodeCount returns the number of defined prefix opcodes.
func PrefixOpcodeCount() int {
	return len(prefixInfoTable)
}

// LookupMnemonic resolves an assembler mnemonic. prefix is true if name
// names a prefix-table instruction.
func LookupMnemonic(name string) (op byte, prefix bool, ok bool) {
	buildMnemonics()
	if o, found := mainMnemonics[name]; found {
		return byte(o), false, true
	}
	if o, found := prefixMnemonics[name]; found {
		return byte(o), true, true
	}
	return 0, false, false
}

package vm

import (
	"math"
	"math/bits"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

var arithOps = []opEntry{
	{op: bytecode.OpIAdd, fn: intOp(func(a, b int32) int32 { return a + b })},
	{op: bytecode.OpIAddOvf, fn: checkedIntOp(addOvf32)},
	{op: bytecode.OpIAddOvfUn, fn: checkedIntOp(addOvfUn32)},
	{op: bytecode.OpISub, fn: intOp(func(a, b int32) int32 { return a - b })},
	{op: bytecode.OpISubOvf, fn: checkedIntOp(subOvf32)},
	{op: bytecode.OpISubOvfUn, fn: checkedIntOp(subOvfUn32)},
	{op: bytecode.OpIMul, fn: intOp(func(a, b int32) int32 { return a * b })},
	{op: bytecode.OpIMulOvf, fn: checkedIntOp(mulOvf32)},
	{op: bytecode.OpIMulOvfUn, fn: checkedIntOp(mulOvfUn32)},
	{op: bytecode.OpIDiv, fn: checkedIntOp(div32)},
	{op: bytecode.OpIDivUn, fn: checkedIntOp(divUn32)},
	{op: bytecode.OpIRem, fn: checkedIntOp(rem32)},
	{op: bytecode.OpIRemUn, fn: checkedIntOp(remUn32)},
	{op: bytecode.OpINeg, fn: func(e *engine) { e.setTop(0, word.FromInt(-e.top(0).Int())); e.pc++ }},

	{op: bytecode.OpLAdd, fn: longOp(func(a, b int64) int64 { return a + b })},
	{op: bytecode.OpLAddOvf, fn: checkedLongOp(addOvf64)},
	{op: bytecode.OpLAddOvfUn, fn: checkedLongOp(addOvfUn64)},
	{op: bytecode.OpLSub, fn: longOp(func(a, b int64) int64 { return a - b })},
	{op: bytecode.OpLSubOvf, fn: checkedLongOp(subOvf64)},
	{op: bytecode.OpLSubOvfUn, fn: checkedLongOp(subOvfUn64)},
	{op: bytecode.OpLMul, fn: longOp(func(a, b int64) int64 { return a * b })},
	{op: bytecode.OpLMulOvf, fn: checkedLongOp(mulOvf64)},
	{op: bytecode.OpLMulOvfUn, fn: checkedLongOp(mulOvfUn64)},
	{op: bytecode.OpLDiv, fn: checkedLongOp(div64)},
	{op: bytecode.OpLDivUn, fn: checkedLongOp(divUn64)},
	{op: bytecode.OpLRem, fn: checkedLongOp(rem64)},
	{op: bytecode.OpLRemUn, fn: checkedLongOp(remUn64)},
	{op: bytecode.OpLNeg, fn: func(e *engine) { e.setLong(0, -e.long(0)); e.pc++ }},

	{op: bytecode.OpFAdd, fn: floatOp(func(a, b float64) float64 { return a + b })},
	{op: bytecode.OpFSub, fn: floatOp(func(a, b float64) float64 { return a - b })},
	{op: bytecode.OpFMul, fn: floatOp(func(a, b float64) float64 { return a * b })},
	{op: bytecode.OpFDiv, fn: floatOp(func(a, b float64) float64 { return a / b })},
	{op: bytecode.OpFRem, fn: floatOp(math.Mod)},
	{op: bytecode.OpFNeg, fn: func(e *engine) { e.setFloat(0, -e.float(0)); e.pc++ }},

	{op: bytecode.OpIAnd, fn: intOp(func(a, b int32) int32 { return a & b })},
	{op: bytecode.OpIOr, fn: intOp(func(a, b int32) int32 { return a | b })},
	{op: bytecode.OpIXor, fn: intOp(func(a, b int32) int32 { return a ^ b })},
	{op: bytecode.OpINot, fn: func(e *engine) { e.setTop(0, ^e.top(0)); e.pc++ }},
	{op: bytecode.OpIShl, fn: intOp(func(a, b int32) int32 { return a << (b & 31) })},
	{op: bytecode.OpIShr, fn: intOp(func(a, b int32) int32 { return a >> (b & 31) })},
	{op: bytecode.OpIShrUn, fn: intOp(func(a, b int32) int32 { return int32(uint32(a) >> (b & 31)) })},

	{op: bytecode.OpLAnd, fn: longOp(func(a, b int64) int64 { return a & b })},
	{op: bytecode.OpLOr, fn: longOp(func(a, b int64) int64 { return a | b })},
	{op: bytecode.OpLXor, fn: longOp(func(a, b int64) int64 { return a ^ b })},
	{op: bytecode.OpLNot, fn: func(e *engine) { e.setLong(0, ^e.long(0)); e.pc++ }},
	{op: bytecode.OpLShl, fn: shiftOp(func(a int64, n uint) int64 { return a << n })},
	{op: bytecode.OpLShr, fn: shiftOp(func(a int64, n uint) int64 { return a >> n })},
	{op: bytecode.OpLShrUn, fn: shiftOp(func(a int64, n uint) int64 { return int64(uint64(a) >> n) })},
}

var arithPrefixOps = []prefixEntry{
	{bytecode.PrefixCkFinite, opCkFinite},
}

// arithError is the exception class a checked operation raises, or "" on
// success.
type arithError string

const (
	arithOK       arithError = ""
	arithOverflow arithError = ClassOverflow
	arithInvalid  arithError = ClassArithmetic
	arithDivZero  arithError = ClassDivideByZero
)

func (e *engine) arithFault(err arithError) {
	e.throwNamed(string(err))
}

func intOp(f func(a, b int32) int32) func(e *engine) {
	return func(e *engine) {
		b := e.pop().Int()
		e.setTop(0, word.FromInt(f(e.top(0).Int(), b)))
		e.pc++
	}
}

func checkedIntOp(f func(a, b int32) (int32, arithError)) func(e *engine) {
	return func(e *engine) {
		r, err := f(e.top(1).Int(), e.top(0).Int())
		if err != arithOK {
			e.arithFault(err)
			return
		}
		e.sp--
		e.setTop(0, word.FromInt(r))
		e.pc++
	}
}

func longOp(f func(a, b int64) int64) func(e *engine) {
	return func(e *engine) {
		b := e.long(0)
		e.sp -= lw
		e.setLong(0, f(e.long(0), b))
		e.pc++
	}
}

func checkedLongOp(f func(a, b int64) (int64, arithError)) func(e *engine) {
	return func(e *engine) {
		r, err := f(e.long(lw), e.long(0))
		if err != arithOK {
			e.arithFault(err)
			return
		}
		e.sp -= lw
		e.setLong(0, r)
		e.pc++
	}
}

func floatOp(f func(a, b float64) float64) func(e *engine) {
	return func(e *engine) {
		b := e.float(0)
		e.sp -= fw
		e.setFloat(0, f(e.float(0), b))
		e.pc++
	}
}

// shiftOp applies a shift whose count is a word above the long.
func shiftOp(f func(a int64, n uint) int64) func(e *engine) {
	return func(e *engine) {
		n := uint(e.pop().Uint() & 63)
		e.setLong(0, f(e.long(0), n))
		e.pc++
	}
}

func opCkFinite(e *engine) {
	f := e.float(0)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		e.throwNamed(ClassArithmetic)
		return
	}
	e.pc += 2
}

// ---------------------------------------------------------------------------
// 32-bit checked arithmetic
// ---------------------------------------------------------------------------

func addOvf32(a, b int32) (int32, arithError) {
	r := int64(a) + int64(b)
	if r < math.MinInt32 || r > math.MaxInt32 {
		return 0, arithOverflow
	}
	return int32(r), arithOK
}

func addOvfUn32(a, b int32) (int32, arithError) {
	r := uint64(uint32(a)) + uint64(uint32(b))
	if r > math.MaxUint32 {
		return 0, arithOverflow
	}
	return int32(uint32(r)), arithOK
}

func subOvf32(a, b int32) (int32, arithError) {
	r := int64(a) - int64(b)
	if r < math.MinInt32 || r > math.MaxInt32 {
		return 0, arithOverflow
	}
	return int32(r), arithOK
}

func subOvfUn32(a, b int32) (int32, arithError) {
	if uint32(a) < uint32(b) {
		return 0, arithOverflow
	}
	return int32(uint32(a) - uint32(b)), arithOK
}

func mulOvf32(a, b int32) (int32, arithError) {
	r := int64(a) * int64(b)
	if r < math.MinInt32 || r > math.MaxInt32 {
		return 0, arithOverflow
	}
	return int32(r), arithOK
}

func mulOvfUn32(a, b int32) (int32, arithError) {
	r := uint64(uint32(a)) * uint64(uint32(b))
	if r > math.MaxUint32 {
		return 0, arithOverflow
	}
	return int32(uint32(r)), arithOK
}

func div32(a, b int32) (int32, arithError) {
	switch {
	case b == 0:
		return 0, arithDivZero
	case b == -1 && a == math.MinInt32:
		return 0, arithInvalid
	}
	return a / b, arithOK
}

func divUn32(a, b int32) (int32, arithError) {
	if b == 0 {
		return 0, arithDivZero
	}
	return int32(uint32(a) / uint32(b)), arithOK
}

func rem32(a, b int32) (int32, arithError) {
	switch {
	case b == 0:
		return 0, arithDivZero
	case b == -1 && a == math.MinInt32:
		return 0, arithInvalid
	}
	return a % b, arithOK
}

func remUn32(a, b int32) (int32, arithError) {
	if b == 0 {
		return 0, arithDivZero
	}
	return int32(uint32(a) % uint32(b)), arithOK
}

// ---------------------------------------------------------------------------
// 64-bit checked arithmetic
// ---------------------------------------------------------------------------

// addOvf64 overflows only when a and b share a sign and the sum's sign
// differs from it.
func addOvf64(a, b int64) (int64, arithError) {
	r := a + b
	if (a^r)&(b^r) < 0 {
		return 0, arithOverflow
	}
	return r, arithOK
}

func addOvfUn64(a, b int64) (int64, arithError) {
	r, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, arithOverflow
	}
	return int64(r), arithOK
}

// subOvf64 overflows only when a and b differ in sign and the difference
// takes b's sign.
func subOvf64(a, b int64) (int64, arithError) {
	r := a - b
	if (a^b)&(a^r) < 0 {
		return 0, arithOverflow
	}
	return r, arithOK
}

func subOvfUn64(a, b int64) (int64, arithError) {
	r, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, arithOverflow
	}
	return int64(r), arithOK
}

// mulOvf64 multiplies the magnitudes as a 128-bit product and checks the
// result against the signed range.
func mulOvf64(a, b int64) (int64, arithError) {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = -ua
	}
	if b < 0 {
		ub = -ub
	}
	hi, lo := bits.Mul64(ua, ub)
	if hi != 0 {
		return 0, arithOverflow
	}
	if neg {
		if lo > 1<<63 {
			return 0, arithOverflow
		}
		return int64(-lo), arithOK
	}
	if lo > math.MaxInt64 {
		return 0, arithOverflow
	}
	return int64(lo), arithOK
}

func mulOvfUn64(a, b int64) (int64, arithError) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return 0, arithOverflow
	}
	return int64(lo), arithOK
}

func div64(a, b int64) (int64, arithError) {
	switch {
	case b == 0:
		return 0, arithDivZero
	case b == -1 && a == math.MinInt64:
		return 0, arithInvalid
	}
	return a / b, arithOK
}

func divUn64(a, b int64) (int64, arithError) {
	if b == 0 {
		return 0, arithDivZero
	}
	return int64(uint64(a) / uint64(b)), arithOK
}

func rem64(a, b int64) (int64, arithError) {
	switch {
	case b == 0:
		return 0, arithDivZero
	case b == -1 && a == math.MinInt64:
		return 0, arithInvalid
	}
	return a % b, arithOK
}

func remUn64(a, b int64) (int64, arithError) {
	if b == 0 {
		return 0, arithDivZero
	}
	return int64(uint64(a) % uint64(b)), arithOK
}

package vm

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

var convOps = []opEntry{
	{op: bytecode.OpI2B, fn: widen(func(w word.Word) word.Word { return word.FromInt(int32(int8(w))) }, 1)},
	{op: bytecode.OpI2UB, fn: widen(func(w word.Word) word.Word { return w & 0xFF }, 1)},
	{op: bytecode.OpI2S, fn: widen(func(w word.Word) word.Word { return word.FromInt(int32(int16(w))) }, 1)},
	{op: bytecode.OpI2US, fn: widen(func(w word.Word) word.Word { return w & 0xFFFF }, 1)},
	{op: bytecode.OpI2L, fn: opI2L},
	{op: bytecode.OpIU2L, fn: opIU2L},
	{op: bytecode.OpI2F, fn: opI2F},
	{op: bytecode.OpIU2F, fn: opIU2F},
	{op: bytecode.OpL2I, fn: opL2I},
	{op: bytecode.OpL2F, fn: opL2F},
	{op: bytecode.OpLU2F, fn: opLU2F},
	{op: bytecode.OpF2I, fn: opF2I},
	{op: bytecode.OpF2IU, fn: opF2IU},
	{op: bytecode.OpF2L, fn: opF2L},
	{op: bytecode.OpF2LU, fn: opF2LU},
	{op: bytecode.OpF2F, fn: roundFloat(1)},
	{op: bytecode.OpF2D, fn: func(e *engine) { e.pc++ }},
	{op: bytecode.OpI2PLower, n: opI2PLower},
	{op: bytecode.OpFixI4I, fn: func(e *engine) { e.pc++ }},
	{op: bytecode.OpFixI4U, fn: func(e *engine) { e.pc++ }},
}

var convPrefixOps = []prefixEntry{
	{bytecode.PrefixI2BOvf, narrowWord[int32, int8]},
	{bytecode.PrefixI2UBOvf, narrowWord[int32, uint8]},
	{bytecode.PrefixIU2BOvf, narrowWord[uint32, int8]},
	{bytecode.PrefixIU2UBOvf, narrowWord[uint32, uint8]},
	{bytecode.PrefixI2SOvf, narrowWord[int32, int16]},
	{bytecode.PrefixI2USOvf, narrowWord[int32, uint16]},
	{bytecode.PrefixIU2SOvf, narrowWord[uint32, int16]},
	{bytecode.PrefixIU2USOvf, narrowWord[uint32, uint16]},
	{bytecode.PrefixI2IUOvf, narrowWord[int32, uint32]},
	{bytecode.PrefixIU2IOvf, narrowWord[uint32, int32]},
	{bytecode.PrefixI2ULOvf, opI2ULOvf},
	{bytecode.PrefixL2IOvf, narrowLong[int64, int32]},
	{bytecode.PrefixL2UIOvf, narrowLong[int64, uint32]},
	{bytecode.PrefixLU2IOvf, narrowLong[uint64, int32]},
	{bytecode.PrefixLU2IUOvf, narrowLong[uint64, uint32]},
	{bytecode.PrefixL2ULOvf, checkLong[int64, uint64]},
	{bytecode.PrefixLU2LOvf, checkLong[uint64, int64]},
	{bytecode.PrefixF2IOvf, opF2IOvf},
	{bytecode.PrefixF2IUOvf, opF2IUOvf},
	{bytecode.PrefixF2LOvf, opF2LOvf},
	{bytecode.PrefixF2LUOvf, opF2LUOvf},

	{bytecode.PrefixI2BAligned, widen(func(w word.Word) word.Word { return word.FromInt(int32(int8(w))) }, 2)},
	{bytecode.PrefixI2SAligned, widen(func(w word.Word) word.Word { return word.FromInt(int32(int16(w))) }, 2)},
	{bytecode.PrefixF2FAligned, roundFloat(2)},
	{bytecode.PrefixF2DAligned, func(e *engine) { e.pc += 2 }},
}

// Float bounds for the checked conversions. A value is accepted if it
// truncates into the destination range.
const (
	two31 = 2147483648.0
	two32 = 4294967296.0
	two63 = 9223372036854775808.0
	two64 = 18446744073709551616.0
)

// fits reports whether v survives conversion to T unchanged.
func fits[T, V constraints.Integer](v V) bool {
	t := T(v)
	return V(t) == v && (t < 0) == (v < 0)
}

func widen(f func(word.Word) word.Word, size int) func(e *engine) {
	return func(e *engine) {
		e.setTop(0, f(e.top(0)))
		e.pc += size
	}
}

func opI2L(e *engine) {
	v := e.top(0).Int()
	e.sp += lw - 1
	e.setLong(0, int64(v))
	e.pc++
}

func opIU2L(e *engine) {
	v := e.top(0).Uint()
	e.sp += lw - 1
	e.setLong(0, int64(v))
	e.pc++
}

func opI2F(e *engine) {
	v := e.top(0).Int()
	e.sp += fw - 1
	e.setFloat(0, float64(v))
	e.pc++
}

func opIU2F(e *engine) {
	v := e.top(0).Uint()
	e.sp += fw - 1
	e.setFloat(0, float64(v))
	e.pc++
}

func opL2I(e *engine) {
	v := e.long(0)
	e.sp -= lw
	e.push(word.Word(uint32(v)))
	e.pc++
}

func opL2F(e *engine) {
	e.setFloat(0, float64(e.long(0)))
	e.pc++
}

func opLU2F(e *engine) {
	e.setFloat(0, ulongToFloat(uint64(e.long(0))))
	e.pc++
}

// ulongToFloat converts through the signed range, halving values with the
// top bit set and keeping the low bit for correct rounding.
func ulongToFloat(v uint64) float64 {
	if v < 1<<63 {
		return float64(int64(v))
	}
	return float64(int64(v>>1|v&1)) * 2
}

// floatToULong converts in two stages around 2^63. NaN and out-of-range
// values yield 0.
func floatToULong(f float64) uint64 {
	switch {
	case !(f > -1 && f < two64):
		return 0
	case f < two63:
		if f < 0 {
			return 0
		}
		return uint64(int64(f))
	}
	return uint64(int64(f-two63)) + 1<<63
}

func floatToInt32(f float64) int32 {
	if f > -two31-1 && f < two31 {
		return int32(f)
	}
	return math.MinInt32
}

func floatToUint32(f float64) uint32 {
	if f > -1 && f < two32 {
		if f < 0 {
			return 0
		}
		return uint32(f)
	}
	return 0
}

func floatToInt64(f float64) int64 {
	if f >= -two63 && f < two63 {
		return int64(f)
	}
	return math.MinInt64
}

func opF2I(e *engine) {
	v := floatToInt32(e.float(0))
	e.sp -= fw
	e.push(word.FromInt(v))
	e.pc++
}

func opF2IU(e *engine) {
	v := floatToUint32(e.float(0))
	e.sp -= fw
	e.push(word.Word(v))
	e.pc++
}

func opF2L(e *engine) {
	e.setLong(0, floatToInt64(e.float(0)))
	e.pc++
}

func opF2LU(e *engine) {
	word.WriteULong(e.stack[e.sp-lw:], floatToULong(e.float(0)))
	e.pc++
}

// roundFloat rounds a native float to float32 precision.
func roundFloat(size int) func(e *engine) {
	return func(e *engine) {
		e.setFloat(0, float64(float32(e.float(0))))
		e.pc += size
	}
}

// opI2PLower converts the int n words below the top to a pointer, which is
// the same word.
func opI2PLower(e *engine, n uint32, size int) {
	if !e.have(int(n) + 1) {
		return
	}
	e.pc += size
}

// ---------------------------------------------------------------------------
// Checked conversions
// ---------------------------------------------------------------------------

func narrowWord[S int32 | uint32, T constraints.Integer](e *engine) {
	v := S(e.top(0))
	if !fits[T](v) {
		e.overflow()
		return
	}
	e.setTop(0, word.Word(T(v)))
	e.pc += 2
}

func narrowLong[S int64 | uint64, T constraints.Integer](e *engine) {
	v := S(e.long(0))
	if !fits[T](v) {
		e.overflow()
		return
	}
	e.sp -= lw
	e.push(word.Word(T(v)))
	e.pc += 2
}

// checkLong verifies a long reinterpreted between signed and unsigned.
func checkLong[S, T int64 | uint64](e *engine) {
	if !fits[T](S(e.long(0))) {
		e.overflow()
		return
	}
	e.pc += 2
}

func opI2ULOvf(e *engine) {
	v := e.top(0).Int()
	if v < 0 {
		e.overflow()
		return
	}
	e.sp += lw - 1
	e.setLong(0, int64(v))
	e.pc += 2
}

func opF2IOvf(e *engine) {
	f := e.float(0)
	if !(f > -two31-1 && f < two31) {
		e.overflow()
		return
	}
	e.sp -= fw
	e.push(word.FromInt(int32(f)))
	e.pc += 2
}

func opF2IUOvf(e *engine) {
	f := e.float(0)
	if !(f > -1 && f < two32) {
		e.overflow()
		return
	}
	e.sp -= fw
	e.push(word.Word(floatToUint32(f)))
	e.pc += 2
}

func opF2LOvf(e *engine) {
	f := e.float(0)
	if !(f >= -two63 && f < two63) {
		e.overflow()
		return
	}
	e.setLong(0, int64(f))
	e.pc += 2
}

func opF2LUOvf(e *engine) {
	f := e.float(0)
	if !(f > -1 && f < two64) {
		e.overflow()
		return
	}
	word.WriteULong(e.stack[e.sp-lw:], floatToULong(f))
	e.pc += 2
}

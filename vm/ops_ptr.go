package vm

import (
	"math"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

const fw = word.WordsPerNativeFloat

var ptrOps = []opEntry{
	{op: bytecode.OpBRead, fn: readInt(1, true)},
	{op: bytecode.OpUBRead, fn: readInt(1, false)},
	{op: bytecode.OpSRead, fn: readInt(2, true)},
	{op: bytecode.OpUSRead, fn: readInt(2, false)},
	{op: bytecode.OpIRead, fn: readInt(4, false)},
	{op: bytecode.OpPRead, fn: readInt(4, false)},
	{op: bytecode.OpFRead, fn: opFRead},
	{op: bytecode.OpDRead, fn: opDRead},
	{op: bytecode.OpMRead, n: opMRead},

	{op: bytecode.OpBWrite, fn: writeInt(1, false)},
	{op: bytecode.OpSWrite, fn: writeInt(2, false)},
	{op: bytecode.OpIWrite, fn: writeInt(4, false)},
	{op: bytecode.OpPWrite, fn: writeInt(4, false)},
	{op: bytecode.OpFWrite, fn: writeFloat(4, false)},
	{op: bytecode.OpDWrite, fn: writeFloat(8, false)},
	{op: bytecode.OpMWrite, n: opMWrite},
	{op: bytecode.OpBWriteR, fn: writeInt(1, true)},
	{op: bytecode.OpSWriteR, fn: writeInt(2, true)},
	{op: bytecode.OpIWriteR, fn: writeInt(4, true)},
	{op: bytecode.OpPWriteR, fn: writeInt(4, true)},
	{op: bytecode.OpFWriteR, fn: writeFloat(4, true)},
	{op: bytecode.OpDWriteR, fn: writeFloat(8, true)},
	{op: bytecode.OpMWriteR, n: opMWriteR},

	{op: bytecode.OpPAddOffset, n: opPAddOffset},
	{op: bytecode.OpPAddOffsetN, nm: opPAddOffsetN},
	{op: bytecode.OpPAddI4, fn: opPAddI4},
	{op: bytecode.OpPAddI4R, fn: opPAddI4R},
	{op: bytecode.OpPAddI8, fn: opPAddI8},
	{op: bytecode.OpPAddI8R, fn: opPAddI8R},
	{op: bytecode.OpPSub, fn: opPSub},
	{op: bytecode.OpPSubI4, fn: opPSubI4},
	{op: bytecode.OpPSubI8, fn: opPSubI8},
	{op: bytecode.OpCkNull, fn: opCkNull},
	{op: bytecode.OpCkNullN, n: opCkNullN},
	{op: bytecode.OpLdRVA, fn: opLdRVA},
}

// load reads a size-byte integer at addr, raising NullReferenceException
// if the address is not mapped.
func (e *engine) load(addr uint32, size uint32) (uint64, bool) {
	var v uint64
	var ok bool
	switch size {
	case 1:
		var b uint8
		b, ok = e.mem.Load8(addr)
		v = uint64(b)
	case 2:
		var h uint16
		h, ok = e.mem.Load16(addr)
		v = uint64(h)
	case 4:
		var w uint32
		w, ok = e.mem.Load32(addr)
		v = uint64(w)
	default:
		v, ok = e.mem.Load64(addr)
	}
	if !ok {
		e.nullRef()
	}
	return v, ok
}

// store writes a size-byte integer at addr, raising NullReferenceException
// if the address is not mapped.
func (e *engine) store(addr uint32, size uint32, v uint64) bool {
	var ok bool
	switch size {
	case 1:
		ok = e.mem.Store8(addr, uint8(v))
	case 2:
		ok = e.mem.Store16(addr, uint16(v))
	case 4:
		ok = e.mem.Store32(addr, uint32(v))
	default:
		ok = e.mem.Store64(addr, v)
	}
	if !ok {
		e.nullRef()
	}
	return ok
}

// extend widens a loaded value to a word, sign-extending if signed.
func extend(v uint64, size uint32, signed bool) word.Word {
	if !signed {
		return word.Word(v)
	}
	switch size {
	case 1:
		return word.FromInt(int32(int8(v)))
	case 2:
		return word.FromInt(int32(int16(v)))
	}
	return word.Word(v)
}

func readInt(size uint32, signed bool) func(e *engine) {
	return func(e *engine) {
		v, ok := e.load(e.top(0).Uint(), size)
		if !ok {
			return
		}
		e.setTop(0, extend(v, size, signed))
		e.pc++
	}
}

func opFRead(e *engine) {
	v, ok := e.load(e.top(0).Uint(), 4)
	if !ok {
		return
	}
	e.sp += fw - 1
	e.setFloat(0, float64(math.Float32frombits(uint32(v))))
	e.pc++
}

func opDRead(e *engine) {
	v, ok := e.load(e.top(0).Uint(), 8)
	if !ok {
		return
	}
	e.sp += fw - 1
	e.setFloat(0, math.Float64frombits(v))
	e.pc++
}

// opMRead replaces a pointer with the n bytes it addresses, padded to
// whole words.
func opMRead(e *engine, n uint32, size int) {
	words := int(word.WordsFor(n))
	if !e.have(1) || !e.need(max(words-1, 0)) {
		return
	}
	b, ok := e.mem.ReadBytes(e.top(0).Uint(), n)
	if !ok {
		e.nullRef()
		return
	}
	e.sp--
	bytesToWords(e.stack[e.sp:e.sp+words], b)
	e.sp += words
	e.pc += size
}

func writeInt(size uint32, reversed bool) func(e *engine) {
	return func(e *engine) {
		ptr, val := e.top(1), e.top(0)
		if reversed {
			ptr, val = val, ptr
		}
		if !e.store(ptr.Uint(), size, uint64(val)) {
			return
		}
		e.sp -= 2
		e.pc++
	}
}

// writeFloat stores the native float on the stack as a float32 (size 4) or
// float64 (size 8). reversed puts the value below the pointer.
func writeFloat(size uint32, reversed bool) func(e *engine) {
	return func(e *engine) {
		var ptr uint32
		var f float64
		if reversed {
			ptr = e.top(0).Uint()
			f = word.ReadFloat(e.stack[e.sp-1-fw:])
		} else {
			ptr = e.stack[e.sp-1-fw].Uint()
			f = e.float(0)
		}
		bits := math.Float64bits(f)
		if size == 4 {
			bits = uint64(math.Float32bits(float32(f)))
		}
		if !e.store(ptr, size, bits) {
			return
		}
		e.sp -= 1 + fw
		e.pc++
	}
}

// opMWrite stores the n-byte value on top of the stack through the pointer
// beneath it.
func opMWrite(e *engine, n uint32, size int) {
	words := int(word.WordsFor(n))
	if !e.have(words + 1) {
		return
	}
	base := e.sp - words - 1
	if !e.mem.WriteBytes(e.stack[base].Uint(), wordsToBytes(e.stack[base+1:e.sp], n)) {
		e.nullRef()
		return
	}
	e.sp = base
	e.pc += size
}

// opMWriteR is opMWrite with the pointer on top.
func opMWriteR(e *engine, n uint32, size int) {
	words := int(word.WordsFor(n))
	if !e.have(words + 1) {
		return
	}
	base := e.sp - words - 1
	if !e.mem.WriteBytes(e.top(0).Uint(), wordsToBytes(e.stack[base:e.sp-1], n)) {
		e.nullRef()
		return
	}
	e.sp = base
	e.pc += size
}

func bytesToWords(dst []word.Word, b []byte) {
	clear(dst)
	for i, c := range b {
		dst[i/word.Size] |= word.Word(c) << (8 * (i % word.Size))
	}
}

func wordsToBytes(src []word.Word, n uint32) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(src[i/word.Size] >> (8 * (i % word.Size)))
	}
	return b
}

// ---------------------------------------------------------------------------
// Pointer arithmetic
// ---------------------------------------------------------------------------

func opPAddOffset(e *engine, n uint32, size int) {
	e.setTop(0, e.top(0)+word.Word(n))
	e.pc += size
}

// opPAddOffsetN adds m bytes to the pointer n words down; n of 1 is the top.
func opPAddOffsetN(e *engine, n, m uint32, size int) {
	if n == 0 {
		e.verification("padd_offset_n with a zero depth")
		return
	}
	if !e.have(int(n)) {
		return
	}
	e.stack[e.sp-int(n)] += word.Word(m)
	e.pc += size
}

func opPAddI4(e *engine) {
	off := e.pop().Int()
	e.setTop(0, word.Word(int32(e.top(0))+off))
	e.pc++
}

func opPAddI4R(e *engine) {
	ptr := e.pop()
	e.setTop(0, word.Word(int32(ptr)+e.top(0).Int()))
	e.pc++
}

func opPAddI8(e *engine) {
	off := e.long(0)
	e.sp -= word.WordsPerLong
	e.setTop(0, word.Word(uint32(int64(e.top(0))+off)))
	e.pc++
}

// opPAddI8R adds a pointer on top to the long beneath it.
func opPAddI8R(e *engine) {
	ptr := e.pop()
	off := e.long(0)
	e.sp -= word.WordsPerLong
	e.push(word.Word(uint32(int64(ptr) + off)))
	e.pc++
}

// opPSub pushes the byte distance between two pointers.
func opPSub(e *engine) {
	b := e.pop()
	e.setTop(0, word.FromInt(int32(e.top(0)-b)))
	e.pc++
}

func opPSubI4(e *engine) {
	off := e.pop().Int()
	e.setTop(0, word.Word(int32(e.top(0))-off))
	e.pc++
}

func opPSubI8(e *engine) {
	off := e.long(0)
	e.sp -= word.WordsPerLong
	e.setTop(0, word.Word(uint32(int64(e.top(0))-off)))
	e.pc++
}

func opCkNull(e *engine) {
	if e.top(0) == 0 {
		e.nullRef()
		return
	}
	e.pc++
}

// opCkNullN checks the word n below the top; n of 0 is the top.
func opCkNullN(e *engine, n uint32, size int) {
	if !e.have(int(n) + 1) {
		return
	}
	if e.top(int(n)) == 0 {
		e.nullRef()
		return
	}
	e.pc += size
}

// opLdRVA pushes the address of an offset into the initialized data
// section.
func opLdRVA(e *engine) {
	e.push(word.Word(e.p.rvaBase + e.u32(1)))
	e.pc += 5
}

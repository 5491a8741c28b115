package vm

import (
	"math"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

const lw = word.WordsPerLong

var arrayOps = []opEntry{
	{op: bytecode.OpBReadElem, fn: readElem(1, true)},
	{op: bytecode.OpUBReadElem, fn: readElem(1, false)},
	{op: bytecode.OpSReadElem, fn: readElem(2, true)},
	{op: bytecode.OpUSReadElem, fn: readElem(2, false)},
	{op: bytecode.OpIReadElem, fn: readElem(4, false)},
	{op: bytecode.OpPReadElem, fn: readElem(4, false)},
	{op: bytecode.OpBWriteElem, fn: writeElem(1)},
	{op: bytecode.OpSWriteElem, fn: writeElem(2)},
	{op: bytecode.OpIWriteElem, fn: writeElem(4)},
	{op: bytecode.OpPWriteElem, fn: writeElem(4)},
	{op: bytecode.OpCkArrayLoadI4, fn: opCkArrayLoadI4},
	{op: bytecode.OpCkArrayLoadI8, fn: opCkArrayLoadI8},
	{op: bytecode.OpCkArrayStoreI8, n: opCkArrayStoreI8},
	{op: bytecode.OpArrayLen, fn: opArrayLen},
}

var arrayPrefixOps = []prefixEntry{
	{bytecode.PrefixLReadElem, opLReadElem},
	{bytecode.PrefixFReadElem, opFReadElem},
	{bytecode.PrefixDReadElem, opDReadElem},
	{bytecode.PrefixLWriteElem, opLWriteElem},
	{bytecode.PrefixFWriteElem, writeFloatElem(4)},
	{bytecode.PrefixDWriteElem, writeFloatElem(8)},
	{bytecode.PrefixElemAddr, opElemAddr},
	{bytecode.PrefixNewArr, opNewArr},
}

// arrayLen returns the length of the array at ptr, raising
// NullReferenceException for null or unmapped pointers.
func (e *engine) arrayLen(ptr word.Word) (uint32, bool) {
	if ptr == 0 {
		e.nullRef()
		return 0, false
	}
	n, ok := e.load(ptr.Uint()+ArrayLengthOffset, 4)
	return uint32(n), ok
}

// elemAddr checks index against the array at ptr and returns the address
// of the element.
func (e *engine) elemAddr(ptr, index word.Word, size uint32) (uint32, bool) {
	n, ok := e.arrayLen(ptr)
	if !ok {
		return 0, false
	}
	if index.Uint() >= n {
		e.indexOutOfRange()
		return 0, false
	}
	return ptr.Uint() + ArrayDataOffset + index.Uint()*size, true
}

func readElem(size uint32, signed bool) func(e *engine) {
	return func(e *engine) {
		addr, ok := e.elemAddr(e.top(1), e.top(0), size)
		if !ok {
			return
		}
		v, ok := e.load(addr, size)
		if !ok {
			return
		}
		e.sp--
		e.setTop(0, extend(v, size, signed))
		e.pc++
	}
}

func writeElem(size uint32) func(e *engine) {
	return func(e *engine) {
		addr, ok := e.elemAddr(e.top(2), e.top(1), size)
		if !ok || !e.store(addr, size, uint64(e.top(0))) {
			return
		}
		e.sp -= 3
		e.pc++
	}
}

func opLReadElem(e *engine) {
	addr, ok := e.elemAddr(e.top(1), e.top(0), 8)
	if !ok {
		return
	}
	v, ok := e.load(addr, 8)
	if !ok {
		return
	}
	e.sp += lw - 2
	word.WriteULong(e.stack[e.sp-lw:], v)
	e.pc += 2
}

func opFReadElem(e *engine) {
	addr, ok := e.elemAddr(e.top(1), e.top(0), 4)
	if !ok {
		return
	}
	v, ok := e.load(addr, 4)
	if !ok {
		return
	}
	e.sp += fw - 2
	e.setFloat(0, float64(math.Float32frombits(uint32(v))))
	e.pc += 2
}

func opDReadElem(e *engine) {
	addr, ok := e.elemAddr(e.top(1), e.top(0), 8)
	if !ok {
		return
	}
	v, ok := e.load(addr, 8)
	if !ok {
		return
	}
	e.sp += fw - 2
	e.setFloat(0, math.Float64frombits(v))
	e.pc += 2
}

func opLWriteElem(e *engine) {
	addr, ok := e.elemAddr(e.top(lw+1), e.top(lw), 8)
	if !ok || !e.store(addr, 8, uint64(e.long(0))) {
		return
	}
	e.sp -= 2 + lw
	e.pc += 2
}

func writeFloatElem(size uint32) func(e *engine) {
	return func(e *engine) {
		addr, ok := e.elemAddr(e.top(fw+1), e.top(fw), size)
		if !ok {
			return
		}
		f := e.float(0)
		bits := math.Float64bits(f)
		if size == 4 {
			bits = uint64(math.Float32bits(float32(f)))
		}
		if !e.store(addr, size, bits) {
			return
		}
		e.sp -= 2 + fw
		e.pc += 2
	}
}

// opCkArrayLoadI4 validates an array and index pair without consuming it.
func opCkArrayLoadI4(e *engine) {
	if _, ok := e.elemAddr(e.top(1), e.top(0), 0); !ok {
		return
	}
	e.pc++
}

// opCkArrayLoadI8 validates an array and long index and narrows the index
// to a word.
func opCkArrayLoadI8(e *engine) {
	idx := uint64(e.long(0))
	arr := e.top(lw)
	n, ok := e.arrayLen(arr)
	if !ok {
		return
	}
	if idx >= uint64(n) {
		e.indexOutOfRange()
		return
	}
	e.sp -= lw
	e.push(word.Word(idx))
	e.pc++
}

// opCkArrayStoreI8 is opCkArrayLoadI8 for a store, where n value words sit
// above the index.
func opCkArrayStoreI8(e *engine, n uint32, size int) {
	vals := int(n)
	if !e.have(1 + lw + vals) {
		return
	}
	at := e.sp - vals - lw
	idx := word.ReadULong(e.stack[at:])
	length, ok := e.arrayLen(e.stack[at-1])
	if !ok {
		return
	}
	if idx >= uint64(length) {
		e.indexOutOfRange()
		return
	}
	e.stack[at] = word.Word(idx)
	copy(e.stack[at+1:], e.stack[at+lw:e.sp])
	e.sp -= lw - 1
	e.pc += size
}

func opArrayLen(e *engine) {
	n, ok := e.arrayLen(e.top(0))
	if !ok {
		return
	}
	e.setTop(0, word.Word(n))
	e.pc++
}

// opElemAddr replaces an array and index with the address of the element.
func opElemAddr(e *engine) {
	addr, ok := e.elemAddr(e.top(1), e.top(0), e.u32(2))
	if !ok {
		return
	}
	e.sp--
	e.setTop(0, word.Word(addr))
	e.pc += 6
}

// opNewArr allocates an array of the length on top of the stack.
func opNewArr(e *engine) {
	n := e.top(0).Int()
	if n < 0 {
		e.overflow()
		return
	}
	elem := e.u32(2)
	bytes := uint64(n)*uint64(elem) + ArrayDataOffset
	if bytes > math.MaxUint32 {
		e.allocFailed(ErrOutOfMemory)
		return
	}
	ptr, ok := e.alloc(e.p.arrayClass(), uint32(bytes))
	if !ok {
		return
	}
	e.mem.Store32(ptr+ArrayLengthOffset, uint32(n))
	e.setTop(0, word.Word(ptr))
	e.pc += 6
}

package vm

import (
	"math"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// Local variables and arguments live in the current frame, addressed by
// word offset from e.frame.

var varOps = []opEntry{
	{op: bytecode.OpNop, fn: func(e *engine) { e.pc++ }},

	{op: bytecode.OpILoad0, fn: loadSlot(0)},
	{op: bytecode.OpILoad1, fn: loadSlot(1)},
	{op: bytecode.OpILoad2, fn: loadSlot(2)},
	{op: bytecode.OpILoad3, fn: loadSlot(3)},
	{op: bytecode.OpILoad, n: opLoad},
	{op: bytecode.OpPLoad0, fn: loadSlot(0)},
	{op: bytecode.OpPLoad1, fn: loadSlot(1)},
	{op: bytecode.OpPLoad2, fn: loadSlot(2)},
	{op: bytecode.OpPLoad3, fn: loadSlot(3)},
	{op: bytecode.OpPLoad, n: opLoad},

	{op: bytecode.OpIStore0, fn: storeSlot(0)},
	{op: bytecode.OpIStore1, fn: storeSlot(1)},
	{op: bytecode.OpIStore2, fn: storeSlot(2)},
	{op: bytecode.OpIStore3, fn: storeSlot(3)},
	{op: bytecode.OpIStore, n: opStore},
	{op: bytecode.OpPStore0, fn: storeSlot(0)},
	{op: bytecode.OpPStore1, fn: storeSlot(1)},
	{op: bytecode.OpPStore2, fn: storeSlot(2)},
	{op: bytecode.OpPStore3, fn: storeSlot(3)},
	{op: bytecode.OpPStore, n: opStore},

	{op: bytecode.OpMLoad, nm: opMLoad},
	{op: bytecode.OpMStore, nm: opMStore},
	{op: bytecode.OpWAddr, n: opWAddr},
	{op: bytecode.OpMAddr, n: opMAddr},

	{op: bytecode.OpBFixup, n: opBFixup},
	{op: bytecode.OpSFixup, n: opSFixup},
	{op: bytecode.OpFFixup, n: opFFixup},
	{op: bytecode.OpDFixup, n: opDFixup},

	{op: bytecode.OpMkLocal1, fn: mkLocal(1)},
	{op: bytecode.OpMkLocal2, fn: mkLocal(2)},
	{op: bytecode.OpMkLocal3, fn: mkLocal(3)},
	{op: bytecode.OpMkLocalN, n: opMkLocalN},
}

func loadSlot(slot int) func(e *engine) {
	return func(e *engine) {
		e.push(e.stack[e.frame+slot])
		e.pc++
	}
}

func storeSlot(slot int) func(e *engine) {
	return func(e *engine) {
		e.stack[e.frame+slot] = e.pop()
		e.pc++
	}
}

func opLoad(e *engine, n uint32, size int) {
	e.push(e.stack[e.frame+int(n)])
	e.pc += size
}

func opStore(e *engine, n uint32, size int) {
	e.stack[e.frame+int(n)] = e.pop()
	e.pc += size
}

// opMLoad pushes m words starting at frame slot n.
func opMLoad(e *engine, n, m uint32, size int) {
	if !e.need(int(m)) {
		return
	}
	src := e.frame + int(n)
	copy(e.stack[e.sp:e.sp+int(m)], e.stack[src:src+int(m)])
	e.sp += int(m)
	e.pc += size
}

// opMStore pops m words into frame slots n onwards.
func opMStore(e *engine, n, m uint32, size int) {
	if !e.have(int(m)) {
		return
	}
	e.sp -= int(m)
	dst := e.frame + int(n)
	copy(e.stack[dst:dst+int(m)], e.stack[e.sp:e.sp+int(m)])
	e.pc += size
}

func opWAddr(e *engine, n uint32, size int) {
	e.push(word.Word(StackAddr(e.frame + int(n))))
	e.pc += size
}

// opMAddr pushes the address of the word n below the stack top; n of 1
// names the top word itself.
func opMAddr(e *engine, n uint32, size int) {
	e.push(word.Word(StackAddr(e.sp - int(n))))
	e.pc += size
}

func opBFixup(e *engine, n uint32, size int) {
	i := e.frame + int(n)
	e.stack[i] = word.FromInt(int32(int8(e.stack[i])))
	e.pc += size
}

func opSFixup(e *engine, n uint32, size int) {
	i := e.frame + int(n)
	e.stack[i] = word.FromInt(int32(int16(e.stack[i])))
	e.pc += size
}

// opFFixup narrows a native float argument to float32 bits in its first
// word. It runs once per slot in a method prologue; the second word is
// left as it was.
func opFFixup(e *engine, n uint32, size int) {
	i := e.frame + int(n)
	f := word.ReadFloat(e.stack[i:])
	e.stack[i] = word.Word(math.Float32bits(float32(f)))
	e.pc += size
}

// opDFixup converts a native float to a double, which is the same encoding.
func opDFixup(e *engine, n uint32, size int) {
	e.pc += size
}

func mkLocal(words int) func(e *engine) {
	return func(e *engine) {
		clear(e.stack[e.sp : e.sp+words])
		e.sp += words
		e.pc++
	}
}

func opMkLocalN(e *engine, n uint32, size int) {
	if !e.need(int(n)) {
		return
	}
	clear(e.stack[e.sp : e.sp+int(n)])
	e.sp += int(n)
	e.pc += size
}

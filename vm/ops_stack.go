package vm

import "github.com/chazu/cvm/pkg/bytecode"

var stackOps = []opEntry{
	{op: bytecode.OpDup, fn: opDup},
	{op: bytecode.OpDup2, fn: opDup2},
	{op: bytecode.OpDupN, n: opDupN},
	{op: bytecode.OpDupWordN, n: opDupWordN},
	{op: bytecode.OpPop, fn: func(e *engine) { e.sp--; e.pc++ }},
	{op: bytecode.OpPop2, fn: func(e *engine) { e.sp -= 2; e.pc++ }},
	{op: bytecode.OpPopN, n: opPopN},
	{op: bytecode.OpSquash, nm: opSquash},
	{op: bytecode.OpCkHeight, fn: opCkHeight},
	{op: bytecode.OpCkHeightN, fn: opCkHeightN},
	{op: bytecode.OpSetNumArgs, n: opSetNumArgs},
}

func opDup(e *engine) {
	e.push(e.top(0))
	e.pc++
}

func opDup2(e *engine) {
	a, b := e.top(1), e.top(0)
	e.push(a)
	e.push(b)
	e.pc++
}

// opDupN duplicates the top n words as a block.
func opDupN(e *engine, n uint32, size int) {
	if !e.have(int(n)) || !e.need(int(n)) {
		return
	}
	copy(e.stack[e.sp:e.sp+int(n)], e.stack[e.sp-int(n):e.sp])
	e.sp += int(n)
	e.pc += size
}

// opDupWordN pushes a copy of the word n below the top; n of 0 is dup.
func opDupWordN(e *engine, n uint32, size int) {
	if !e.have(int(n)+1) || !e.need(1) {
		return
	}
	e.push(e.top(int(n)))
	e.pc += size
}

func opPopN(e *engine, n uint32, size int) {
	if !e.have(int(n)) {
		return
	}
	e.sp -= int(n)
	e.pc += size
}

// opSquash removes the m words below the top n words.
func opSquash(e *engine, n, m uint32, size int) {
	if !e.have(int(n + m)) {
		return
	}
	dst := e.sp - int(n+m)
	copy(e.stack[dst:], e.stack[e.sp-int(n):e.sp])
	e.sp -= int(m)
	e.pc += size
}

// opCkHeight is as long as ckheight_n, so either can be patched over the
// other in place.
func opCkHeight(e *engine) {
	if !e.need(ckheightWords) {
		return
	}
	e.pc += 5
}

func opCkHeightN(e *engine) {
	if !e.need(int(e.u32(1))) {
		return
	}
	e.pc += 5
}

// opSetNumArgs starts the callee's frame at its n argument words.
func opSetNumArgs(e *engine, n uint32, size int) {
	if int(n) > e.sp {
		e.stackOverflow()
		return
	}
	e.frame = e.sp - int(n)
	e.pc += size
}

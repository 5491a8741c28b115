package vm

import (
	"fmt"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// Calls do not move the frame pointer. The callee's prologue runs
// set_num_args to start its frame at the argument words, and return
// discards everything from the frame pointer up.

var callOps = []opEntry{
	{op: bytecode.OpCall, fn: opCall},
	{op: bytecode.OpCallExtern, fn: opCall},
	{op: bytecode.OpCallCtor, fn: opCallCtor},
	{op: bytecode.OpCallNative, fn: opCallNative},
	{op: bytecode.OpCallNativeVoid, fn: opCallNative},
	{op: bytecode.OpCallVirtual, nm: opCallVirtual},
	{op: bytecode.OpCallInterface, fn: opCallInterface},
	{op: bytecode.OpReturn, fn: opReturn},
	{op: bytecode.OpReturn1, fn: returnWords(1)},
	{op: bytecode.OpReturn2, fn: returnWords(2)},
	{op: bytecode.OpReturnN, fn: func(e *engine) { e.ret(int(e.u32(1))) }},
	{op: bytecode.OpPushDown, fn: opPushDown},
	{op: bytecode.OpCctorOnce, fn: opCctorOnce},
	{op: bytecode.OpCallI, fn: opCallI},
	{op: bytecode.OpJmpI, fn: opJmpI},
}

var callPrefixOps = []prefixEntry{
	{bytecode.PrefixTail, opTail},
	{bytecode.PrefixLdFtn, opLdFtn},
	{bytecode.PrefixLdVirtFtn, opLdVirtFtn},
	{bytecode.PrefixLdInterfFtn, opLdInterfFtn},
	{bytecode.PrefixUnrollMethod, opUnrollMethod},
}

// methodAt resolves the method id operand at pc+off.
func (e *engine) methodAt(off int) (*Method, bool) {
	id := e.u32(off)
	m := e.p.Metadata.Method(id)
	if m == nil {
		e.missingMethod(fmt.Sprintf("no method with id %d", id))
		return nil, false
	}
	return m, true
}

// prepare converts m on first use with the thread state saved.
func (e *engine) prepare(m *Method) bool {
	if m.ready.Load() {
		return true
	}
	e.saveState()
	err := m.ensureReady(e.p.Converter)
	if !e.restoreState() {
		return false
	}
	if err != nil {
		e.missingMethod(err.Error())
		return false
	}
	return true
}

// enter transfers control to m at entry, returning to retPC. A method with
// a native body runs in place over its argument words.
func (e *engine) enter(m *Method, retPC int, entry uint32) {
	if !e.prepare(m) {
		return
	}
	if m.Native != nil {
		if e.callNative(m.Native, int(m.ArgWords), int(m.RetWords)) {
			e.pc = retPC
		}
		return
	}
	if !e.pushFrame(retPC) {
		return
	}
	e.method = m
	e.code = m.Code
	e.pc = int(entry)
}

func opCall(e *engine) {
	if m, ok := e.methodAt(1); ok {
		e.enter(m, e.pc+5, 0)
	}
}

// opCallCtor enters a constructor at its allocating prologue.
func opCallCtor(e *engine) {
	if m, ok := e.methodAt(1); ok {
		e.enter(m, e.pc+5, m.CtorEntry)
	}
}

func opCallNative(e *engine) {
	id := e.u32(1)
	fn, ok := e.p.Natives.Lookup(id)
	if !ok {
		e.missingMethod(fmt.Sprintf("no native function with id %d", id))
		return
	}
	args, ret := int(e.u8(5)), int(e.u8(6))
	if bytecode.Opcode(e.code[e.pc]) == bytecode.OpCallNativeVoid {
		ret = 0
	}
	if e.callNative(fn, args, ret) {
		e.pc += 7
	}
}

// thisAt returns the class of the object n words below the stack top,
// where n of 1 is the top word.
func (e *engine) thisAt(n int) (*Class, bool) {
	if n <= 0 || !e.have(n) {
		if n <= 0 {
			e.verification("receiver position must be positive")
		}
		return nil, false
	}
	this := e.stack[e.sp-n]
	if this == 0 {
		e.nullRef()
		return nil, false
	}
	cls := e.p.ClassOf(this.Uint())
	if cls == nil {
		e.verification(fmt.Sprintf("%#x is not an object", this.Uint()))
		return nil, false
	}
	return cls, true
}

func opCallVirtual(e *engine, n, m uint32, size int) {
	cls, ok := e.thisAt(int(n))
	if !ok {
		return
	}
	if int(m) >= len(cls.VTable) || cls.VTable[m] == nil {
		e.missingMethod(fmt.Sprintf("%s has no virtual slot %d", cls.Name, m))
		return
	}
	e.enter(cls.VTable[m], e.pc+size, 0)
}

func opCallInterface(e *engine) {
	cls, ok := e.thisAt(int(e.u8(1)))
	if !ok {
		return
	}
	m := e.interfaceMethod(cls, 3, e.u8(2))
	if m == nil {
		return
	}
	e.enter(m, e.pc+7, 0)
}

// opCallI calls the method whose id is on top of the stack.
func opCallI(e *engine) {
	if !e.have(1) {
		return
	}
	m, ok := e.methodFromWord(e.pop())
	if !ok {
		return
	}
	e.enter(m, e.pc+1, 0)
}

// opJmpI replaces the current method with the one whose id is on top of
// the stack. The frame and arguments are kept.
func opJmpI(e *engine) {
	m, ok := e.methodFromWord(e.pop())
	if !ok || !e.prepare(m) {
		return
	}
	if m.Native != nil {
		if e.callNative(m.Native, int(m.ArgWords), int(m.RetWords)) {
			e.ret(int(m.RetWords))
		}
		return
	}
	e.method = m
	e.code = m.Code
	e.pc = 0
}

func (e *engine) methodFromWord(w word.Word) (*Method, bool) {
	if w == 0 {
		e.nullRef()
		return nil, false
	}
	m := e.p.Metadata.Method(w.Uint())
	if m == nil {
		e.missingMethod(fmt.Sprintf("no method with id %d", w.Uint()))
		return nil, false
	}
	return m, true
}

// ---------------------------------------------------------------------------
// Returns
// ---------------------------------------------------------------------------

func opReturn(e *engine) {
	e.sp = e.frame
	e.popFrame()
}

func returnWords(n int) func(e *engine) {
	return func(e *engine) { e.ret(n) }
}

// ret moves the top n words to the start of the frame and returns.
func (e *engine) ret(n int) {
	if !e.have(n) {
		return
	}
	copy(e.stack[e.frame:e.frame+n], e.stack[e.sp-n:e.sp])
	e.sp = e.frame + n
	e.popFrame()
}

// opCctorOnce lets a static constructor body run once per class; later
// entries return immediately.
func opCctorOnce(e *engine) {
	cls := e.method.Class
	if cls == nil || cls.cctorRan.CompareAndSwap(false, true) {
		e.pc++
		return
	}
	opReturn(e)
}

// opPushDown copies the top word n words down and duplicates it there:
// a1..an v becomes v v a1..an.
func opPushDown(e *engine) {
	n := int(e.u32(1))
	if !e.have(n+1) || !e.need(1) {
		return
	}
	v := e.top(0)
	at := e.sp - 1 - n
	copy(e.stack[at+2:e.sp+1], e.stack[at:e.sp-1])
	e.stack[at] = v
	e.stack[at+1] = v
	e.sp++
	e.pc += 5
}

// ---------------------------------------------------------------------------
// Prefixed call forms
// ---------------------------------------------------------------------------

// opTail runs the following call instruction without keeping the current
// frame. Only direct calls can reuse it; other call forms run as ordinary
// calls.
func opTail(e *engine) {
	inner := bytecode.Opcode(e.code[e.pc+2])
	if inner != bytecode.OpCall && inner != bytecode.OpCallExtern {
		e.pc += 2
		e.escape(&mainTable[inner])
		return
	}
	m, ok := e.methodAt(3)
	if !ok || !e.prepare(m) {
		return
	}
	args := int(m.ArgWords)
	if !e.have(args) {
		return
	}
	if m.Native != nil {
		if e.callNative(m.Native, args, int(m.RetWords)) {
			e.ret(int(m.RetWords))
		}
		return
	}
	copy(e.stack[e.frame:e.frame+args], e.stack[e.sp-args:e.sp])
	e.sp = e.frame + args
	e.exceptHeight = 0
	e.method = m
	e.code = m.Code
	e.pc = 0
}

func opLdFtn(e *engine) {
	m, ok := e.methodAt(2)
	if !ok {
		return
	}
	e.push(word.Word(m.ID))
	e.pc += 6
}

func opLdVirtFtn(e *engine) {
	cls, ok := e.thisAt(1)
	if !ok {
		return
	}
	idx := e.u32(2)
	if int(idx) >= len(cls.VTable) || cls.VTable[idx] == nil {
		e.missingMethod(fmt.Sprintf("%s has no virtual slot %d", cls.Name, idx))
		return
	}
	e.setTop(0, word.Word(cls.VTable[idx].ID))
	e.pc += 6
}

func opLdInterfFtn(e *engine) {
	cls, ok := e.thisAt(1)
	if !ok {
		return
	}
	m := e.interfaceMethod(cls, 6, e.u32(2))
	if m == nil {
		return
	}
	e.setTop(0, word.Word(m.ID))
	e.pc += 10
}

// opUnrollMethod offers the current method to the Unroller. An accepted
// body runs as a native over the frame and returns; a decline falls through.
func opUnrollMethod(e *engine) {
	u := e.p.Unroller
	if u == nil {
		e.pc += 2
		return
	}
	fn, ok := u.Unroll(e.method)
	if !ok {
		e.pc += 2
		return
	}
	ret := int(e.method.RetWords)
	if e.callNative(fn, e.sp-e.frame, ret) {
		e.ret(ret)
	}
}

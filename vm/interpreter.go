package vm

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// Status is the outcome of Interpret.
type Status int

const (
	// StatusOK means the method returned to its native caller.
	StatusOK Status = iota
	// StatusException means an exception escaped; see Thread.Thrown.
	StatusException
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusException:
		return "exception"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// StackGuardWords is the number of words allocated above a thread's stack
// maximum, so that an exception object can always be pushed.
const StackGuardWords = 8

// ckheightWords is the free space ckheight checks for.
const ckheightWords = 8

// ---------------------------------------------------------------------------
// CallFrame: saved caller state
// ---------------------------------------------------------------------------

// CallFrame records where to resume a caller. A frame with a nil Method is
// the sentinel below the outermost managed frame.
type CallFrame struct {
	Method       *Method
	PC           int
	Frame        int
	ExceptHeight int
}

// ---------------------------------------------------------------------------
// engine: the register file of one Interpret call
// ---------------------------------------------------------------------------

type engine struct {
	t   *Thread
	p   *Process
	mem *Memory

	method       *Method
	code         []byte
	pc           int
	stack        []word.Word
	sp           int // index of the first free word
	frame        int // index of word 0 of the current frame
	max          int
	exceptHeight int

	halted bool
	status Status
}

// Interpret runs t from its saved state until the outermost frame returns
// or an exception escapes it. Interpret(nil) does nothing and returns
// StatusOK; callers use it together with Labels to probe the engine.
func Interpret(t *Thread) Status {
	if t == nil {
		return StatusOK
	}
	e := &engine{
		t:            t,
		p:            t.p,
		mem:          &t.mem,
		method:       t.method,
		pc:           t.pc,
		stack:        t.stack,
		sp:           t.sp,
		frame:        t.frame,
		max:          t.max,
		exceptHeight: t.exceptHeight,
	}
	e.code = e.method.Code
	e.run()
	e.saveState()
	return e.status
}

func (e *engine) run() {
	for !e.halted {
		e.loop()
	}
}

// loop is the dispatch loop. A Go runtime fault inside a handler (an
// out-of-range code or stack index) is raised as a VerificationException
// and the loop is re-entered by run.
func (e *engine) loop() {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(runtime.Error); ok {
				e.verification(re.Error())
				return
			}
			panic(r)
		}
	}()

	for !e.halted {
		in := &mainTable[e.code[e.pc]]
		if in.pop != bytecode.Variable && !e.fits(in.pop, in.push) {
			e.stackOverflow()
			continue
		}
		in.exec(e)
	}
}

// fits reports whether an instruction that pops pop words and pushes push
// words stays within the current frame and the stack maximum.
func (e *engine) fits(pop, push int) bool {
	base := e.sp - pop
	return base >= e.frame && base+push <= e.max
}

// need checks that n more words can be pushed, raising otherwise.
func (e *engine) need(n int) bool {
	if n < 0 || e.sp+n > e.max {
		e.stackOverflow()
		return false
	}
	return true
}

// have checks that n words are available in the current frame.
func (e *engine) have(n int) bool {
	if n < 0 || e.sp-n < e.frame {
		e.stackOverflow()
		return false
	}
	return true
}

func (e *engine) halt(s Status) {
	e.halted = true
	e.status = s
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (e *engine) push(w word.Word) {
	e.stack[e.sp] = w
	e.sp++
}

func (e *engine) pop() word.Word {
	e.sp--
	return e.stack[e.sp]
}

// top returns the word i below the top (0 is the top).
func (e *engine) top(i int) word.Word { return e.stack[e.sp-1-i] }

func (e *engine) setTop(i int, w word.Word) { e.stack[e.sp-1-i] = w }

// long returns the 64-bit value whose low word is i+1 words below the top
// (0 is the topmost long).
func (e *engine) long(i int) int64 { return word.ReadLong(e.stack[e.sp-2-i:]) }

func (e *engine) setLong(i int, v int64) { word.WriteLong(e.stack[e.sp-2-i:], v) }

func (e *engine) float(i int) float64 { return word.ReadFloat(e.stack[e.sp-2-i:]) }

func (e *engine) setFloat(i int, v float64) { word.WriteFloat(e.stack[e.sp-2-i:], v) }

// ---------------------------------------------------------------------------
// Instruction stream helpers
// ---------------------------------------------------------------------------

func (e *engine) u8(off int) uint32  { return uint32(e.code[e.pc+off]) }
func (e *engine) u32(off int) uint32 { return word.ReadCodeU32(e.code, e.pc+off) }
func (e *engine) i32(off int) int32  { return word.ReadCodeI32(e.code, e.pc+off) }

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// pushFrame saves the caller with the given return pc.
func (e *engine) pushFrame(retPC int) bool {
	t := e.t
	if len(t.frames) >= e.p.Config.MaxFrames {
		e.stackOverflow()
		return false
	}
	if len(t.frames) == cap(t.frames) {
		grown := make([]CallFrame, len(t.frames), 2*cap(t.frames))
		copy(grown, t.frames)
		t.frames = grown
	}
	t.frames = append(t.frames, CallFrame{
		Method:       e.method,
		PC:           retPC,
		Frame:        e.frame,
		ExceptHeight: e.exceptHeight,
	})
	return true
}

// leaveFrame restores the caller. It returns false at the sentinel.
func (e *engine) leaveFrame() bool {
	t := e.t
	n := len(t.frames)
	if n == 0 || t.frames[n-1].Method == nil {
		return false
	}
	f := t.frames[n-1]
	t.frames = t.frames[:n-1]
	e.method = f.Method
	e.code = f.Method.Code
	e.pc = f.PC
	e.frame = f.Frame
	e.exceptHeight = f.ExceptHeight
	return true
}

// popFrame returns to the caller, halting at the sentinel.
func (e *engine) popFrame() {
	if !e.leaveFrame() {
		e.halt(StatusOK)
	}
}

// ---------------------------------------------------------------------------
// State save/restore around native code
// ---------------------------------------------------------------------------

func (e *engine) saveState() {
	t := e.t
	t.method = e.method
	t.pc = e.pc
	t.sp = e.sp
	t.frame = e.frame
	t.exceptHeight = e.exceptHeight
}

// restoreState reloads the registers after native code has run and routes
// a pending exception or an abort request to the throw path. It returns
// false if control was transferred.
func (e *engine) restoreState() bool {
	t := e.t
	e.method = t.method
	e.code = t.method.Code
	e.pc = t.pc
	e.sp = t.sp
	e.frame = t.frame
	e.exceptHeight = t.exceptHeight
	if obj := t.pending; obj != 0 {
		t.pending = 0
		e.raise(obj)
		return false
	}
	if t.abortRequested() {
		e.throwMessage(ClassThreadAbort, "thread aborted")
		return false
	}
	return true
}

// alloc allocates an object with the state saved.
func (e *engine) alloc(class *Class, size uint32) (uint32, bool) {
	e.saveState()
	ptr, err := e.p.Alloc.Alloc(class, size)
	if !e.restoreState() {
		return 0, false
	}
	if err != nil {
		e.allocFailed(err)
		return 0, false
	}
	return ptr, true
}

func (e *engine) allocFailed(err error) {
	if errors.Is(err, ErrOutOfMemory) {
		if e.p.oomObject != 0 {
			e.raise(e.p.oomObject)
			return
		}
		e.throwNamed(ClassOutOfMemory)
		return
	}
	e.throwMessage(ClassException, err.Error())
}

// callNative runs fn over the top args words and pushes ret words in their
// place. It returns false if an exception was raised.
func (e *engine) callNative(fn NativeFunc, args, ret int) bool {
	if !e.have(args) || !e.need(max(ret-args, 0)) {
		return false
	}
	out := make([]word.Word, ret)
	e.saveState()
	e.t.inNative.Add(1)
	err := fn(e.t, e.stack[e.sp-args:e.sp], out)
	e.t.inNative.Add(-1)
	if !e.restoreState() {
		return false
	}
	if err != nil {
		var te *ThrowError
		if errors.As(err, &te) {
			e.raise(te.Object)
		} else {
			e.throwMessage(ClassException, err.Error())
		}
		return false
	}
	e.sp -= args
	copy(e.stack[e.sp:], out)
	e.sp += ret
	return true
}

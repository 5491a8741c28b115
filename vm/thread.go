package vm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chazu/cvm/pkg/word"
)

// ErrThreadBusy is returned when Invoke is called on a thread that is
// already running on another goroutine.
var ErrThreadBusy = errors.New("vm: thread is running on another goroutine")

// Thread is an execution context: a private evaluation stack, a call-frame
// stack and the interpreter registers saved between Interpret calls. A
// thread runs on one goroutine at a time; natives called from it may
// re-enter Invoke on the same goroutine.
type Thread struct {
	ID uuid.UUID

	p      *Process
	mem    Memory
	stack  []word.Word
	max    int
	frames []CallFrame

	method       *Method
	pc           int
	sp           int
	frame        int
	exceptHeight int

	icache InlineCacheTable

	pending uint32 // raised by a native, delivered on restore
	thrown  uint32 // escaped the outermost frame
	fatal   *FatalError

	ctx      context.Context
	abort    atomic.Bool
	busy     atomic.Bool
	inNative atomic.Int32 // natives currently running on this thread
}

// NewThread creates a thread with its own stack.
func (p *Process) NewThread() *Thread {
	stack := make([]word.Word, p.Config.StackWords+StackGuardWords)
	t := &Thread{
		ID:     uuid.New(),
		p:      p,
		stack:  stack,
		max:    p.Config.StackWords,
		frames: make([]CallFrame, 0, 16),
		ctx:    context.Background(),
	}
	t.mem = Memory{stack: stack, heap: p.Heap}
	p.reserveOOM()
	return t
}

// Process returns the process that owns t.
func (t *Thread) Process() *Process { return t.p }

// Memory returns the thread's view of the address space.
func (t *Thread) Memory() *Memory { return &t.mem }

// Context returns the context of the innermost Invoke.
func (t *Thread) Context() context.Context { return t.ctx }

// Thrown returns the exception that escaped the last Interpret call.
func (t *Thread) Thrown() uint32 { return t.thrown }

// Throw schedules obj to be raised when the current native call returns.
func (t *Thread) Throw(obj uint32) { t.pending = obj }

// ThrowNew allocates an exception of the named class and schedules it.
func (t *Thread) ThrowNew(class string) error {
	cls, err := t.p.wellKnown(class)
	if err != nil {
		return err
	}
	ptr, err := t.p.Alloc.Alloc(cls, cls.InstanceSize)
	if err != nil {
		return err
	}
	t.p.traces.Store(ptr, &ExceptionInfo{Class: class})
	t.pending = ptr
	return nil
}

// Abort asks the thread to raise ThreadAbortException at its next native,
// allocation or conversion boundary. It is safe to call from any goroutine.
func (t *Thread) Abort() { t.abort.Store(true) }

// InlineCacheStats summarizes the thread's interface call-site caches.
func (t *Thread) InlineCacheStats() ICStats { return t.icache.Stats() }

func (t *Thread) abortRequested() bool {
	if t.abort.CompareAndSwap(true, false) {
		return true
	}
	return t.ctx.Err() != nil
}

// Invoke calls m with args and returns its result words. An exception that
// escapes m is returned as an *UncaughtError; a fatal condition as a
// *FatalError.
func (t *Thread) Invoke(ctx context.Context, m *Method, args ...word.Word) ([]word.Word, error) {
	if m == nil {
		return nil, fmt.Errorf("vm: invoke of nil method")
	}
	if t.busy.CompareAndSwap(false, true) {
		defer t.busy.Store(false)
	} else if t.inNative.Load() == 0 {
		return nil, ErrThreadBusy
	}

	if err := m.ensureReady(t.p.Converter); err != nil {
		return nil, err
	}

	saved := t.snapshot()
	defer t.restoreSnapshot(saved)
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx = ctx

	if m.Native != nil {
		ret := make([]word.Word, m.RetWords)
		if err := m.Native(t, args, ret); err != nil {
			return nil, err
		}
		if obj := t.pending; obj != 0 {
			t.pending = 0
			return nil, t.uncaughtError(obj)
		}
		return ret, nil
	}

	base := saved.sp
	if base+len(args) > t.max {
		return nil, fmt.Errorf("vm: no stack space for %d argument words", len(args))
	}
	copy(t.stack[base:], args)
	t.frames = append(t.frames, CallFrame{PC: -1})
	t.method = m
	t.pc = 0
	t.sp = base + len(args)
	t.frame = base
	t.exceptHeight = 0
	t.thrown = 0
	t.fatal = nil

	log.Debugf("thread %s: invoke %s", t.ID, m.FullName())
	if Interpret(t) == StatusException {
		if t.fatal != nil {
			return nil, t.fatal
		}
		return nil, t.uncaughtError(t.thrown)
	}
	return append([]word.Word(nil), t.stack[base:t.sp]...), nil
}

func (t *Thread) uncaughtError(obj uint32) *UncaughtError {
	ue := &UncaughtError{Object: obj}
	if cls := t.p.ClassOf(obj); cls != nil {
		ue.Class = cls.Name
	}
	if info, ok := t.p.ExceptionInfo(obj); ok {
		ue.Info = info
	}
	log.Debugf("thread %s: uncaught %s", t.ID, ue.Class)
	return ue
}

type threadState struct {
	method       *Method
	pc           int
	sp           int
	frame        int
	exceptHeight int
	depth        int
	ctx          context.Context
}

func (t *Thread) snapshot() threadState {
	return threadState{t.method, t.pc, t.sp, t.frame, t.exceptHeight, len(t.frames), t.ctx}
}

func (t *Thread) restoreSnapshot(s threadState) {
	t.method = s.method
	t.pc = s.pc
	t.sp = s.sp
	t.frame = s.frame
	t.exceptHeight = s.exceptHeight
	t.frames = t.frames[:s.depth]
	t.ctx = s.ctx
}

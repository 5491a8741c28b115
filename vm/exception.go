package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/cvm/pkg/word"
)

// ---------------------------------------------------------------------------
// Well-known classes
// ---------------------------------------------------------------------------

// Exception classes synthesized by the interpreter.
const (
	ClassOverflow        = "System.OverflowException"
	ClassArithmetic      = "System.ArithmeticException"
	ClassDivideByZero    = "System.DivideByZeroException"
	ClassNullReference   = "System.NullReferenceException"
	ClassIndexOutOfRange = "System.IndexOutOfRangeException"
	ClassStackOverflow   = "System.StackOverflowException"
	ClassMissingMethod   = "System.MissingMethodException"
	ClassVerification    = "System.Security.VerificationException"
	ClassInvalidCast     = "System.InvalidCastException"
	ClassOutOfMemory     = "System.OutOfMemoryException"
	ClassThreadAbort     = "System.Threading.ThreadAbortException"
	ClassException       = "System.Exception"
)

// Other classes the interpreter needs.
const (
	classObject = "System.Object"
	classString = "System.String"
	classType   = "System.Type"
	classArray  = "System.Array"
)

// SystemClass names a class the interpreter may look up and its parent.
type SystemClass struct {
	Name   string
	Parent string
}

// SystemClasses lists the well-known classes, parents before children.
var SystemClasses = []SystemClass{
	{classObject, ""},
	{classString, classObject},
	{classType, classObject},
	{classArray, classObject},
	{ClassException, classObject},
	{ClassArithmetic, ClassException},
	{ClassOverflow, ClassArithmetic},
	{ClassDivideByZero, ClassArithmetic},
	{ClassNullReference, ClassException},
	{ClassIndexOutOfRange, ClassException},
	{ClassStackOverflow, ClassException},
	{ClassMissingMethod, ClassException},
	{ClassVerification, ClassException},
	{ClassInvalidCast, ClassException},
	{ClassOutOfMemory, ClassException},
	{ClassThreadAbort, ClassException},
}

// ---------------------------------------------------------------------------
// Errors surfaced to Go callers
// ---------------------------------------------------------------------------

// FatalError reports a condition the interpreter cannot raise as a managed
// exception, such as a missing system class.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "Fatal error: " + e.Msg }

// FatalHandler is called with the text of a fatal error. The default logs it
// and exits the process.
type FatalHandler func(err *FatalError)

// TraceEntry is one frame of a captured stack trace.
type TraceEntry struct {
	Method string
	PC     int
}

func (te TraceEntry) String() string {
	return fmt.Sprintf("%s+%04X", te.Method, te.PC)
}

// ExceptionInfo describes an exception object synthesized by the runtime.
type ExceptionInfo struct {
	Class   string
	Message string
	Trace   []TraceEntry
}

// UncaughtError is returned by Invoke when an exception propagates out of
// the outermost frame.
type UncaughtError struct {
	Object uint32
	Class  string
	Info   *ExceptionInfo
}

func (e *UncaughtError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "vm: uncaught %s", e.Class)
	if e.Info != nil {
		if e.Info.Message != "" {
			fmt.Fprintf(&sb, ": %s", e.Info.Message)
		}
		for _, te := range e.Info.Trace {
			fmt.Fprintf(&sb, "\n\tat %s", te)
		}
	}
	return sb.String()
}

// IsUncaught reports whether err is an uncaught exception of the named
// class.
func IsUncaught(err error, class string) bool {
	var ue *UncaughtError
	return errors.As(err, &ue) && ue.Class == class
}

// ---------------------------------------------------------------------------
// Process-side exception bookkeeping
// ---------------------------------------------------------------------------

func (p *Process) wellKnown(name string) (*Class, error) {
	if c, ok := p.known.Load(name); ok {
		return c.(*Class), nil
	}
	c := p.Metadata.LookupClass(name)
	if c == nil {
		return nil, &FatalError{Msg: fmt.Sprintf("%s is missing from the system library", name)}
	}
	p.known.Store(name, c)
	return c, nil
}

// ExceptionInfo returns what the runtime recorded when it created obj.
func (p *Process) ExceptionInfo(obj uint32) (*ExceptionInfo, bool) {
	v, ok := p.traces.Load(obj)
	if !ok {
		return nil, false
	}
	return v.(*ExceptionInfo), true
}

// StackTrace returns the trace captured for a synthesized exception.
func (p *Process) StackTrace(obj uint32) []TraceEntry {
	if info, ok := p.ExceptionInfo(obj); ok {
		return info.Trace
	}
	return nil
}

// ClassOf returns the class of the object at ptr.
func (p *Process) ClassOf(ptr uint32) *Class {
	id, _, ok := p.Heap.header(ptr)
	if !ok {
		return nil
	}
	return p.Metadata.Class(id)
}

// reserveOOM preallocates the object raised when the heap is exhausted.
func (p *Process) reserveOOM() {
	p.oomOnce.Do(func() {
		cls := p.Metadata.LookupClass(ClassOutOfMemory)
		if cls == nil {
			return
		}
		if ptr, err := p.Alloc.Alloc(cls, cls.InstanceSize); err == nil {
			p.oomObject = ptr
			p.traces.Store(ptr, &ExceptionInfo{Class: ClassOutOfMemory, Message: "heap exhausted"})
		}
	})
}

// ---------------------------------------------------------------------------
// Engine: raising and unwinding
// ---------------------------------------------------------------------------

// trace captures the current call chain, innermost first.
func (e *engine) trace() []TraceEntry {
	out := []TraceEntry{{Method: e.method.FullName(), PC: e.pc}}
	for i := len(e.t.frames) - 1; i >= 0; i-- {
		f := e.t.frames[i]
		if f.Method == nil {
			break
		}
		out = append(out, TraceEntry{Method: f.Method.FullName(), PC: f.PC})
	}
	return out
}

// newException allocates an exception of the named class and records its
// trace. A missing class or an exhausted heap with no reserve is fatal.
func (e *engine) newException(name, msg string) (uint32, bool) {
	cls, err := e.p.wellKnown(name)
	if err != nil {
		e.fatal(err)
		return 0, false
	}
	ptr, err := e.p.Alloc.Alloc(cls, cls.InstanceSize)
	if err != nil {
		if e.p.oomObject != 0 {
			return e.p.oomObject, true
		}
		e.fatal(&FatalError{Msg: fmt.Sprintf("out of memory raising %s", name)})
		return 0, false
	}
	e.p.traces.Store(ptr, &ExceptionInfo{Class: name, Message: msg, Trace: e.trace()})
	return ptr, true
}

// throwNamed raises a new exception of the named class at the current pc.
func (e *engine) throwNamed(name string) {
	e.throwMessage(name, "")
}

func (e *engine) throwMessage(name, msg string) {
	if obj, ok := e.newException(name, msg); ok {
		e.raise(obj)
	}
}

func (e *engine) nullRef()         { e.throwNamed(ClassNullReference) }
func (e *engine) stackOverflow()   { e.throwNamed(ClassStackOverflow) }
func (e *engine) indexOutOfRange() { e.throwNamed(ClassIndexOutOfRange) }
func (e *engine) overflow()        { e.throwNamed(ClassOverflow) }
func (e *engine) invalidCast()     { e.throwNamed(ClassInvalidCast) }

func (e *engine) missingMethod(msg string) {
	e.throwMessage(ClassMissingMethod, msg)
}

func (e *engine) verification(msg string) {
	e.throwMessage(ClassVerification, msg)
}

// raise transfers control to the innermost handler covering the current pc,
// unwinding call frames as needed. A null object raises
// NullReferenceException instead.
func (e *engine) raise(obj uint32) {
	if obj == 0 {
		e.nullRef()
		return
	}
	e.unwind(obj, false)
}

// throwCaller raises obj as though thrown at the caller's call site.
func (e *engine) throwCaller(obj uint32) {
	if obj == 0 {
		e.nullRef()
		return
	}
	if !e.leaveFrame() {
		e.uncaught(obj)
		return
	}
	e.unwind(obj, true)
}

func (e *engine) unwind(obj uint32, beyond bool) {
	for {
		pc := uint32(e.pc)
		table := e.p.Coder.PCToHandler(e.method, pc, beyond)
		if beyond {
			pc--
		}
		if h, ok := findHandler(table, pc); ok {
			e.sp = e.frame + e.exceptHeight
			e.stack[e.sp] = word.Word(obj)
			e.sp++
			e.pc = int(h)
			return
		}
		if !e.leaveFrame() {
			e.uncaught(obj)
			return
		}
		beyond = true
	}
}

// findHandler returns the handler for the first region containing pc.
func findHandler(table []byte, pc uint32) (uint32, bool) {
	if len(table) < 4 {
		return 0, false
	}
	n := binary.LittleEndian.Uint32(table)
	for i := uint32(0); i < n; i++ {
		p := 4 + 12*int(i)
		if p+12 > len(table) {
			break
		}
		start := binary.LittleEndian.Uint32(table[p:])
		end := binary.LittleEndian.Uint32(table[p+4:])
		if start <= pc && pc < end {
			return binary.LittleEndian.Uint32(table[p+8:]), true
		}
	}
	return 0, false
}

func (e *engine) uncaught(obj uint32) {
	e.t.thrown = obj
	e.halt(StatusException)
}

func (e *engine) fatal(err error) {
	var fe *FatalError
	if !errors.As(err, &fe) {
		fe = &FatalError{Msg: err.Error()}
	}
	e.t.fatal = fe
	e.p.Fatal(fe)
	e.halt(StatusException)
}

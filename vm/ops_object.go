package vm

import (
	"fmt"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

var objectOps = []opEntry{
	{op: bytecode.OpCastClass, fn: castTo(false, true)},
	{op: bytecode.OpIsInst, fn: castTo(false, false)},
	{op: bytecode.OpCastInterface, fn: castTo(true, true)},
	{op: bytecode.OpIsInterface, fn: castTo(true, false)},
	{op: bytecode.OpGetStatic, fn: opGetStatic},
	{op: bytecode.OpNew, fn: opNew},
	{op: bytecode.OpNewValue, nm: opNewValue},
	{op: bytecode.OpLdStr, fn: opLdStr},
	{op: bytecode.OpLdToken, fn: opLdToken},
	{op: bytecode.OpBox, fn: opBox},
	{op: bytecode.OpBoxPtr, fn: opBoxPtr},
	{op: bytecode.OpMemCpy, n: opMemCpy},
	{op: bytecode.OpMemMove, fn: opMemMove},
	{op: bytecode.OpMemZero, n: opMemZero},
	{op: bytecode.OpMemSet, fn: opMemSet},
}

var objectPrefixOps = []prefixEntry{
	{bytecode.PrefixMkRefAny, opMkRefAny},
	{bytecode.PrefixRefAnyVal, opRefAnyVal},
}

// classAt resolves the class id operand at pc+off.
func (e *engine) classAt(off int) (*Class, bool) {
	id := e.u32(off)
	c := e.p.Metadata.Class(id)
	if c == nil {
		e.verification(fmt.Sprintf("unknown class id %d", id))
		return nil, false
	}
	return c, true
}

// arrayClass is recorded in array headers: System.Array if the metadata
// defines it, otherwise System.Object.
func (p *Process) arrayClass() *Class {
	if c := p.Metadata.LookupClass(classArray); c != nil {
		return c
	}
	c, _ := p.wellKnown(classObject)
	return c
}

// castTo builds castclass, isinst, castinterface and isinterface. null
// passes unchanged; a failed check raises InvalidCastException when assert
// is set and yields null otherwise.
func castTo(iface, assert bool) func(e *engine) {
	return func(e *engine) {
		target, ok := e.classAt(1)
		if !ok {
			return
		}
		obj := e.top(0)
		if obj != 0 {
			cls := e.p.ClassOf(obj.Uint())
			var match bool
			if cls != nil {
				if iface {
					match = cls.Implements(target)
				} else {
					match = cls.InheritsFrom(target)
				}
			}
			if !match {
				if assert {
					e.invalidCast()
					return
				}
				e.setTop(0, 0)
			}
		}
		e.pc += 5
	}
}

// opGetStatic pushes the static area of a class, allocating it on first
// use. Threads racing on first use all see the first area published; the
// others' allocations are dropped.
func opGetStatic(e *engine) {
	cls, ok := e.classAt(1)
	if !ok {
		return
	}
	ptr := cls.staticPtr.Load()
	if ptr == 0 {
		fresh, ok := e.alloc(cls, cls.StaticSize)
		if !ok {
			return
		}
		if cls.staticPtr.CompareAndSwap(0, fresh) {
			ptr = fresh
		} else {
			ptr = cls.staticPtr.Load()
		}
	}
	e.push(word.Word(ptr))
	e.pc += 5
}

// opNew pushes a new instance of the current method's class.
func opNew(e *engine) {
	cls := e.method.Class
	if cls == nil {
		e.verification("new outside of a class")
		return
	}
	ptr, ok := e.alloc(cls, cls.InstanceSize)
	if !ok {
		return
	}
	e.push(word.Word(ptr))
	e.pc++
}

// opNewValue inserts n zeroed words and a pointer to them below the m
// constructor argument words on top of the stack.
func opNewValue(e *engine, n, m uint32, size int) {
	if !e.have(int(m)) || !e.need(int(n)+1) {
		return
	}
	at := e.sp - int(m)
	copy(e.stack[at+int(n)+1:], e.stack[at:e.sp])
	clear(e.stack[at : at+int(n)])
	e.stack[at+int(n)] = word.Word(StackAddr(at))
	e.sp += int(n) + 1
	e.pc += size
}

func opLdStr(e *engine) {
	e.saveState()
	ptr, err := e.p.internLiteral(e.u32(1))
	if !e.restoreState() {
		return
	}
	if err != nil {
		e.allocFailed(err)
		return
	}
	e.push(word.Word(ptr))
	e.pc += 5
}

func opLdToken(e *engine) {
	e.push(word.Word(e.u32(1)))
	e.pc += 5
}

// opBox copies a value of the given size from the stack into a new object.
func opBox(e *engine) {
	size := e.u32(1)
	words := int(word.WordsFor(size))
	if !e.have(words) {
		return
	}
	cls, ok := e.classAt(5)
	if !ok {
		return
	}
	if words == 0 && !e.need(1) {
		return
	}
	ptr, ok := e.alloc(cls, size)
	if !ok {
		return
	}
	e.mem.WriteBytes(ptr, wordsToBytes(e.stack[e.sp-words:e.sp], size))
	e.sp -= words
	e.push(word.Word(ptr))
	e.pc += 9
}

// opBoxPtr is opBox for a value addressed by the pointer on top.
func opBoxPtr(e *engine) {
	size := e.u32(1)
	cls, ok := e.classAt(5)
	if !ok {
		return
	}
	b, ok := e.mem.ReadBytes(e.top(0).Uint(), size)
	if !ok {
		e.nullRef()
		return
	}
	ptr, ok := e.alloc(cls, size)
	if !ok {
		return
	}
	e.mem.WriteBytes(ptr, b)
	e.setTop(0, word.Word(ptr))
	e.pc += 9
}

// ---------------------------------------------------------------------------
// Memory blocks
// ---------------------------------------------------------------------------

func opMemCpy(e *engine, n uint32, size int) {
	if !e.mem.Move(e.top(1).Uint(), e.top(0).Uint(), n) {
		e.nullRef()
		return
	}
	e.sp -= 2
	e.pc += size
}

func opMemMove(e *engine) {
	if !e.mem.Move(e.top(2).Uint(), e.top(1).Uint(), e.top(0).Uint()) {
		e.nullRef()
		return
	}
	e.sp -= 3
	e.pc++
}

func opMemZero(e *engine, n uint32, size int) {
	if !e.mem.Fill(e.top(0).Uint(), 0, n) {
		e.nullRef()
		return
	}
	e.sp--
	e.pc += size
}

func opMemSet(e *engine) {
	if !e.mem.Fill(e.top(2).Uint(), byte(e.top(1)), e.top(0).Uint()) {
		e.nullRef()
		return
	}
	e.sp -= 3
	e.pc++
}

// ---------------------------------------------------------------------------
// Typed references
// ---------------------------------------------------------------------------

// opMkRefAny pairs a pointer with a class to form a typed reference.
func opMkRefAny(e *engine) {
	cls, ok := e.classAt(2)
	if !ok {
		return
	}
	e.push(word.Word(cls.ID))
	e.pc += 6
}

// opRefAnyVal extracts the pointer from a typed reference of the expected
// class.
func opRefAnyVal(e *engine) {
	cls, ok := e.classAt(2)
	if !ok {
		return
	}
	if e.top(0).Uint() != cls.ID {
		e.invalidCast()
		return
	}
	e.sp--
	e.pc += 6
}

package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// Inlined library methods. They behave exactly like calls to the
// System.String and System.Type methods they replace.

var inlineOps = []prefixEntry{
	{bytecode.PrefixStringConcat2, concatStrings(2)},
	{bytecode.PrefixStringConcat3, concatStrings(3)},
	{bytecode.PrefixStringConcat4, concatStrings(4)},
	{bytecode.PrefixStringEq, compareStrings(true)},
	{bytecode.PrefixStringNe, compareStrings(false)},
	{bytecode.PrefixStringGetChar, opStringGetChar},
	{bytecode.PrefixTypeFromHandle, opTypeFromHandle},
}

func concatStrings(n int) func(e *engine) {
	return func(e *engine) {
		parts := make([]uint32, n)
		for i := range parts {
			parts[i] = e.stack[e.sp-n+i].Uint()
		}
		e.saveState()
		ptr, err := e.p.concatStrings(parts...)
		if !e.restoreState() {
			return
		}
		if err != nil {
			e.allocFailed(err)
			return
		}
		e.sp -= n
		e.push(word.Word(ptr))
		e.pc += 2
	}
}

func compareStrings(eq bool) func(e *engine) {
	return func(e *engine) {
		b := e.pop().Uint()
		a := e.top(0).Uint()
		e.setTop(0, word.FromBool(e.p.stringsEqual(a, b) == eq))
		e.pc += 2
	}
}

func opStringGetChar(e *engine) {
	str, idx := e.top(1).Uint(), e.top(0).Uint()
	if str == 0 {
		e.nullRef()
		return
	}
	chars, ok := e.p.stringChars(str)
	if !ok {
		e.verification(fmt.Sprintf("%#x is not a string", str))
		return
	}
	if uint64(idx)*2 >= uint64(len(chars)) {
		e.indexOutOfRange()
		return
	}
	e.sp--
	e.setTop(0, word.Word(binary.LittleEndian.Uint16(chars[2*idx:])))
	e.pc += 2
}

// opTypeFromHandle maps a class handle to its System.Type object. The
// object is created on first use and shared; its first field holds the
// class id.
func opTypeFromHandle(e *engine) {
	id := e.top(0).Uint()
	if id == 0 {
		e.pc += 2
		return
	}
	cls := e.p.Metadata.Class(id)
	if cls == nil {
		e.verification(fmt.Sprintf("no class with id %d", id))
		return
	}
	if obj := cls.typeObject.Load(); obj != 0 {
		e.setTop(0, word.Word(obj))
		e.pc += 2
		return
	}
	typ, err := e.p.wellKnown(classType)
	if err != nil {
		e.fatal(err)
		return
	}
	obj, ok := e.alloc(typ, max(typ.InstanceSize, word.Size))
	if !ok {
		return
	}
	e.mem.Store32(obj, cls.ID)
	if !cls.typeObject.CompareAndSwap(0, obj) {
		obj = cls.typeObject.Load()
	}
	e.setTop(0, word.Word(obj))
	e.pc += 2
}

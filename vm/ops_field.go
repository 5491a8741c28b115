package vm

import "github.com/chazu/cvm/pkg/bytecode"

// Field operands are byte offsets from the object pointer.

var fieldOps = []opEntry{
	{op: bytecode.OpBReadField, n: readField(1, true)},
	{op: bytecode.OpUBReadField, n: readField(1, false)},
	{op: bytecode.OpSReadField, n: readField(2, true)},
	{op: bytecode.OpUSReadField, n: readField(2, false)},
	{op: bytecode.OpIReadField, n: readField(4, false)},
	{op: bytecode.OpPReadField, n: readField(4, false)},
	{op: bytecode.OpBWriteField, n: writeField(1)},
	{op: bytecode.OpSWriteField, n: writeField(2)},
	{op: bytecode.OpIWriteField, n: writeField(4)},
	{op: bytecode.OpPWriteField, n: writeField(4)},
}

func readField(width uint32, signed bool) func(e *engine, off uint32, size int) {
	return func(e *engine, off uint32, size int) {
		obj := e.top(0)
		if obj == 0 {
			e.nullRef()
			return
		}
		v, ok := e.load(obj.Uint()+off, width)
		if !ok {
			return
		}
		e.setTop(0, extend(v, width, signed))
		e.pc += size
	}
}

func writeField(width uint32) func(e *engine, off uint32, size int) {
	return func(e *engine, off uint32, size int) {
		obj := e.top(1)
		if obj == 0 {
			e.nullRef()
			return
		}
		if !e.store(obj.Uint()+off, width, uint64(e.top(0))) {
			return
		}
		e.sp -= 2
		e.pc += size
	}
}

package vm

import (
	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

var constOps = []opEntry{
	{op: bytecode.OpLdNull, fn: ldcI4(0)},
	{op: bytecode.OpLdcI4M1, fn: ldcI4(-1)},
	{op: bytecode.OpLdcI40, fn: ldcI4(0)},
	{op: bytecode.OpLdcI41, fn: ldcI4(1)},
	{op: bytecode.OpLdcI42, fn: ldcI4(2)},
	{op: bytecode.OpLdcI43, fn: ldcI4(3)},
	{op: bytecode.OpLdcI44, fn: ldcI4(4)},
	{op: bytecode.OpLdcI45, fn: ldcI4(5)},
	{op: bytecode.OpLdcI46, fn: ldcI4(6)},
	{op: bytecode.OpLdcI47, fn: ldcI4(7)},
	{op: bytecode.OpLdcI48, fn: ldcI4(8)},
	{op: bytecode.OpLdcI4S, fn: opLdcI4S},
	{op: bytecode.OpLdcI4, fn: opLdcI4},
	{op: bytecode.OpLdcI8, fn: opLdcI8},
	{op: bytecode.OpLdcR4, fn: opLdcR4},
	{op: bytecode.OpLdcR8, fn: opLdcR8},
}

func ldcI4(v int32) func(e *engine) {
	return func(e *engine) {
		e.push(word.FromInt(v))
		e.pc++
	}
}

func opLdcI4S(e *engine) {
	e.push(word.FromInt(int32(int8(e.code[e.pc+1]))))
	e.pc += 2
}

func opLdcI4(e *engine) {
	e.push(word.FromInt(e.i32(1)))
	e.pc += 5
}

func opLdcI8(e *engine) {
	v := word.ReadCodeU64(e.code, e.pc+1)
	e.sp += lw
	word.WriteULong(e.stack[e.sp-lw:], v)
	e.pc += 9
}

func opLdcR4(e *engine) {
	v := word.ReadCodeFloat32(e.code, e.pc+1)
	e.sp += fw
	e.setFloat(0, float64(v))
	e.pc += 5
}

func opLdcR8(e *engine) {
	v := word.ReadCodeFloat64(e.code, e.pc+1)
	e.sp += fw
	e.setFloat(0, v)
	e.pc += 9
}

package vm

import (
	"cmp"
	"math"

	"github.com/chazu/cvm/pkg/bytecode"
	"github.com/chazu/cvm/pkg/word"
)

// Branch offsets are relative to the first byte of the branch instruction.
// Short branches carry an int8 offset padded to BranchLen bytes; br_long
// carries the original opcode and an int32 offset in the same length.

type branchTest struct {
	op   bytecode.Opcode
	pop  int
	test func(a, b word.Word) bool // b is the top word
}

var branchTests = []branchTest{
	{bytecode.OpBr, 0, func(a, b word.Word) bool { return true }},
	{bytecode.OpBeq, 2, func(a, b word.Word) bool { return a == b }},
	{bytecode.OpBne, 2, func(a, b word.Word) bool { return a != b }},
	{bytecode.OpBlt, 2, func(a, b word.Word) bool { return a.Int() < b.Int() }},
	{bytecode.OpBltUn, 2, func(a, b word.Word) bool { return a < b }},
	{bytecode.OpBle, 2, func(a, b word.Word) bool { return a.Int() <= b.Int() }},
	{bytecode.OpBleUn, 2, func(a, b word.Word) bool { return a <= b }},
	{bytecode.OpBgt, 2, func(a, b word.Word) bool { return a.Int() > b.Int() }},
	{bytecode.OpBgtUn, 2, func(a, b word.Word) bool { return a > b }},
	{bytecode.OpBge, 2, func(a, b word.Word) bool { return a.Int() >= b.Int() }},
	{bytecode.OpBgeUn, 2, func(a, b word.Word) bool { return a >= b }},
	{bytecode.OpBrTrue, 1, func(a, b word.Word) bool { return b != 0 }},
	{bytecode.OpBrFalse, 1, func(a, b word.Word) bool { return b == 0 }},
	{bytecode.OpBrNull, 1, func(a, b word.Word) bool { return b == 0 }},
	{bytecode.OpBrNonNull, 1, func(a, b word.Word) bool { return b != 0 }},
	{bytecode.OpBrPEq, 2, func(a, b word.Word) bool { return a == b }},
	{bytecode.OpBrPNe, 2, func(a, b word.Word) bool { return a != b }},
}

// longBranches indexes branchTests by opcode for br_long.
var longBranches = indexBranches(branchTests)

func indexBranches(tests []branchTest) (out [256]*branchTest) {
	for i := range tests {
		out[tests[i].op] = &tests[i]
	}
	return out
}

var branchOps = append(shortBranches(branchTests), []opEntry{
	{op: bytecode.OpBrLong, fn: opBrLong},
	{op: bytecode.OpSwitch, fn: opSwitch},
	{op: bytecode.OpJsr, fn: opJsr},
	{op: bytecode.OpRetJsr, fn: opRetJsr},
}...)

func shortBranches(tests []branchTest) []opEntry {
	out := make([]opEntry, len(tests))
	for i := range tests {
		t := &tests[i]
		out[i] = opEntry{op: t.op, fn: func(e *engine) {
			e.branch(t, int32(int8(e.code[e.pc+1])))
		}}
	}
	return out
}

// branch pops the operands of t and either jumps by off or falls through
// to the next instruction.
func (e *engine) branch(t *branchTest, off int32) {
	var a, b word.Word
	switch t.pop {
	case 2:
		a, b = e.top(1), e.top(0)
	case 1:
		b = e.top(0)
	}
	e.sp -= t.pop
	if t.test(a, b) {
		e.pc += int(off)
	} else {
		e.pc += bytecode.BranchLen
	}
}

func opBrLong(e *engine) {
	sub := bytecode.Opcode(e.code[e.pc+1])
	off := e.i32(2)
	if sub == bytecode.OpJsr {
		e.jsr(off)
		return
	}
	t := longBranches[sub]
	if t == nil {
		// Any other sub-opcode is an unconditional branch.
		t = longBranches[bytecode.OpBr]
	}
	if !e.have(t.pop) {
		return
	}
	e.branch(t, off)
}

// opSwitch jumps through a table indexed by the unsigned word on top, or
// to the default target if the index is out of range.
func opSwitch(e *engine) {
	idx := e.pop().Uint()
	if idx < e.u32(1) {
		e.pc += int(e.i32(bytecode.SwitchHeaderLen + 4*int(idx)))
		return
	}
	e.pc += int(e.i32(5))
}

func opJsr(e *engine) {
	e.jsr(int32(int8(e.code[e.pc+1])))
}

// jsr pushes the return offset and jumps to a local subroutine.
func (e *engine) jsr(off int32) {
	if !e.need(1) {
		return
	}
	e.push(word.Word(e.pc + bytecode.BranchLen))
	e.pc += int(off)
}

func opRetJsr(e *engine) {
	e.pc = int(e.pop().Uint())
}

// ---------------------------------------------------------------------------
// Comparisons
// ---------------------------------------------------------------------------

var compareOps = []prefixEntry{
	{bytecode.PrefixICmp, cmpWords(func(a, b word.Word) int { return cmp.Compare(a.Int(), b.Int()) })},
	{bytecode.PrefixICmpUn, cmpWords(func(a, b word.Word) int { return cmp.Compare(a, b) })},
	{bytecode.PrefixPCmp, cmpWords(func(a, b word.Word) int { return cmp.Compare(a, b) })},
	{bytecode.PrefixLCmp, cmpLongs(func(a, b int64) int { return cmp.Compare(a, b) })},
	{bytecode.PrefixLCmpUn, cmpLongs(func(a, b int64) int { return cmp.Compare(uint64(a), uint64(b)) })},
	{bytecode.PrefixFCmpL, cmpFloats(-1)},
	{bytecode.PrefixFCmpG, cmpFloats(1)},
	{bytecode.PrefixSetEq, setIf(func(c int32) bool { return c == 0 })},
	{bytecode.PrefixSetNe, setIf(func(c int32) bool { return c != 0 })},
	{bytecode.PrefixSetLt, setIf(func(c int32) bool { return c < 0 })},
	{bytecode.PrefixSetLe, setIf(func(c int32) bool { return c <= 0 })},
	{bytecode.PrefixSetGt, setIf(func(c int32) bool { return c > 0 })},
	{bytecode.PrefixSetGe, setIf(func(c int32) bool { return c >= 0 })},
}

func cmpWords(f func(a, b word.Word) int) func(e *engine) {
	return func(e *engine) {
		b := e.pop()
		e.setTop(0, word.FromInt(int32(f(e.top(0), b))))
		e.pc += 2
	}
}

func cmpLongs(f func(a, b int64) int) func(e *engine) {
	return func(e *engine) {
		r := f(e.long(lw), e.long(0))
		e.sp -= 2 * lw
		e.push(word.FromInt(int32(r)))
		e.pc += 2
	}
}

// cmpFloats compares native floats; unordered operands give nan.
func cmpFloats(nan int) func(e *engine) {
	return func(e *engine) {
		a, b := e.float(fw), e.float(0)
		r := nan
		if !math.IsNaN(a) && !math.IsNaN(b) {
			r = cmp.Compare(a, b)
		}
		e.sp -= 2 * fw
		e.push(word.FromInt(int32(r)))
		e.pc += 2
	}
}

func setIf(f func(c int32) bool) func(e *engine) {
	return func(e *engine) {
		e.setTop(0, word.FromBool(f(e.top(0).Int())))
		e.pc += 2
	}
}

package vm

import "github.com/chazu/cvm/pkg/bytecode"

var exceptOps = []prefixEntry{
	{bytecode.PrefixEnterTry, opEnterTry},
	{bytecode.PrefixExitTry, func(e *engine) { e.pc += 2 }},
	{bytecode.PrefixThrow, opThrow},
	{bytecode.PrefixThrowCaller, opThrowCaller},
}

// opEnterTry records the stack height that handlers in this method restore
// before pushing the exception object.
func opEnterTry(e *engine) {
	e.exceptHeight = e.sp - e.frame
	e.pc += 2
}

func opThrow(e *engine) {
	if !e.have(1) {
		return
	}
	e.raise(e.pop().Uint())
}

// opThrowCaller raises the object as though the caller had thrown it at its
// call site.
func opThrowCaller(e *engine) {
	if !e.have(1) {
		return
	}
	e.throwCaller(e.pop().Uint())
}

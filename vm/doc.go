// Package vm implements the CVM bytecode interpreter.
//
// This package contains:
//   - The word-addressed evaluation stack and frame layout
//   - Flat little-endian memory over thread stacks and a shared heap
//   - The main, wide and prefix dispatch tables and their handlers
//   - Method calls, natives, exception regions and unwinding
//   - Processes (shared state) and threads (private stacks)
//
// A Process owns the class table, heap, string literals and natives. Each
// Thread runs bytecode on its own stack:
//
//	p, _ := vm.NewProcess(vm.Config{})
//	defer p.Close()
//	res, err := p.NewThread().Invoke(ctx, method, word.FromInt(1))
//
// Faults raised by bytecode (null references, bad casts, overflow) become
// managed exceptions. Invoke returns an *UncaughtError only when one escapes
// the outermost frame.
package vm

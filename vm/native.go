package vm

import (
	"fmt"
	"sync"

	"github.com/chazu/cvm/pkg/word"
)

// NativeFunc implements a method or call_native target in Go. args holds
// the argument words as they were on the stack (deepest first); the
// function fills ret, which is zeroed on entry. A returned *ThrowError
// raises its object; any other error raises System.Exception.
type NativeFunc func(t *Thread, args []word.Word, ret []word.Word) error

// ThrowError asks the interpreter to raise a managed exception object.
type ThrowError struct {
	Object uint32
}

func (e *ThrowError) Error() string {
	return fmt.Sprintf("vm: managed exception %#x", e.Object)
}

// NativeTable maps call_native ids to functions. IDs start at 1.
type NativeTable struct {
	mu    sync.RWMutex
	fns   []NativeFunc
	names []string
	ids   map[string]uint32
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{
		fns:   []NativeFunc{nil},
		names: []string{""},
		ids:   make(map[string]uint32),
	}
}

// Register adds fn under name and returns its id. Registering a name again
// replaces the function and keeps the id.
func (nt *NativeTable) Register(name string, fn NativeFunc) uint32 {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if id, ok := nt.ids[name]; ok {
		nt.fns[id] = fn
		return id
	}
	id := uint32(len(nt.fns))
	nt.fns = append(nt.fns, fn)
	nt.names = append(nt.names, name)
	nt.ids[name] = id
	return id
}

// Lookup returns the function with the given id.
func (nt *NativeTable) Lookup(id uint32) (NativeFunc, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if id == 0 || int(id) >= len(nt.fns) {
		return nil, false
	}
	return nt.fns[id], nt.fns[id] != nil
}

// ID returns the id registered for name.
func (nt *NativeTable) ID(name string) (uint32, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	id, ok := nt.ids[name]
	return id, ok
}

// Name returns the name registered for id.
func (nt *NativeTable) Name(id uint32) string {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	if int(id) >= len(nt.names) {
		return ""
	}
	return nt.names[id]
}

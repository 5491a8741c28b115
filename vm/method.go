package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Method is a unit of CVM code, or a native stand-in for one.
type Method struct {
	ID    uint32
	Name  string
	Class *Class

	// Code is nil until the method has been converted. Handlers is the raw
	// exception region table returned by TableCoder.
	Code     []byte
	Handlers []byte

	// CtorEntry is the pc of the allocating prologue used by call_ctor.
	CtorEntry uint32

	// Native, when set, implements the method in Go. ArgWords and RetWords
	// give the argument and result sizes of such a call.
	Native   NativeFunc
	ArgWords uint32
	RetWords uint32

	convertMu sync.Mutex
	ready     atomic.Bool
}

// FullName returns "Class.Name".
func (m *Method) FullName() string {
	if m == nil {
		return "<nil method>"
	}
	if m.Class == nil {
		return m.Name
	}
	return m.Class.Name + "." + m.Name
}

func (m *Method) String() string { return m.FullName() }

// Converter turns a method into CVM code on first call.
type Converter interface {
	Convert(m *Method) error
}

// Unroller may replace a method body with native code. Unroll returns false
// to decline.
type Unroller interface {
	Unroll(m *Method) (NativeFunc, bool)
}

// ensureReady converts m if it has neither code nor a native body.
func (m *Method) ensureReady(conv Converter) error {
	if m.ready.Load() {
		return nil
	}
	m.convertMu.Lock()
	defer m.convertMu.Unlock()
	if m.ready.Load() {
		return nil
	}
	if m.Code == nil && m.Native == nil {
		if conv == nil {
			return fmt.Errorf("vm: %s has no code and no converter is installed", m.FullName())
		}
		if err := conv.Convert(m); err != nil {
			return fmt.Errorf("vm: converting %s: %w", m.FullName(), err)
		}
		if m.Code == nil && m.Native == nil {
			return fmt.Errorf("vm: converter produced no code for %s", m.FullName())
		}
	}
	m.ready.Store(true)
	return nil
}

// ---------------------------------------------------------------------------
// Coder: exception region lookup
// ---------------------------------------------------------------------------

// Coder returns the raw handler table that covers pc in m: a u32 region
// count followed by {u32 start, u32 end, u32 handler} triples. beyond is
// true when pc is a return address rather than the faulting instruction.
type Coder interface {
	PCToHandler(m *Method, pc uint32, beyond bool) []byte
}

// TableCoder serves each method's own Handlers table.
type TableCoder struct{}

// PCToHandler implements Coder.
func (TableCoder) PCToHandler(m *Method, pc uint32, beyond bool) []byte {
	if m == nil {
		return nil
	}
	return m.Handlers
}

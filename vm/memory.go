package vm

import (
	"encoding/binary"

	"github.com/chazu/cvm/pkg/word"
)

// Memory is one thread's view of the address space: its own evaluation
// stack mapped at StackBase and the process heap at HeapBase. Accessors
// report false instead of touching anything outside those regions; the
// interpreter turns that into a NullReferenceException.
type Memory struct {
	stack []word.Word
	heap  *Heap
}

// StackAddr returns the address of stack word i.
func StackAddr(i int) uint32 { return StackBase + uint32(i)*word.Size }

func (m *Memory) inStack(addr, n uint32) bool {
	if addr < StackBase {
		return false
	}
	end := uint64(addr-StackBase) + uint64(n)
	return end <= uint64(len(m.stack))*word.Size
}

func (m *Memory) stackByte(addr uint32) byte {
	off := addr - StackBase
	return byte(m.stack[off/word.Size] >> (8 * (off % word.Size)))
}

func (m *Memory) setStackByte(addr uint32, b byte) {
	off := addr - StackBase
	i, shift := off/word.Size, 8*(off%word.Size)
	m.stack[i] = m.stack[i]&^(0xFF<<shift) | word.Word(b)<<shift
}

// Valid reports whether [addr, addr+n) is mapped.
func (m *Memory) Valid(addr, n uint32) bool {
	if m.inStack(addr, n) {
		return true
	}
	_, ok := m.heap.slice(addr, n)
	return ok
}

// load reads a little-endian value of size 1, 2, 4 or 8 bytes.
func (m *Memory) load(addr uint32, size uint32) (uint64, bool) {
	if b, ok := m.heap.slice(addr, size); ok {
		switch size {
		case 1:
			return uint64(b[0]), true
		case 2:
			return uint64(binary.LittleEndian.Uint16(b)), true
		case 4:
			return uint64(binary.LittleEndian.Uint32(b)), true
		default:
			return binary.LittleEndian.Uint64(b), true
		}
	}
	if !m.inStack(addr, size) {
		return 0, false
	}
	var v uint64
	for i := uint32(0); i < size; i++ {
		v |= uint64(m.stackByte(addr+i)) << (8 * i)
	}
	return v, true
}

func (m *Memory) store(addr uint32, size uint32, v uint64) bool {
	if b, ok := m.heap.slice(addr, size); ok {
		switch size {
		case 1:
			b[0] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(v))
		default:
			binary.LittleEndian.PutUint64(b, v)
		}
		return true
	}
	if !m.inStack(addr, size) {
		return false
	}
	for i := uint32(0); i < size; i++ {
		m.setStackByte(addr+i, byte(v>>(8*i)))
	}
	return true
}

// Load8, Load16, Load32 and Load64 read from the address space.
func (m *Memory) Load8(addr uint32) (uint8, bool) {
	v, ok := m.load(addr, 1)
	return uint8(v), ok
}

func (m *Memory) Load16(addr uint32) (uint16, bool) {
	v, ok := m.load(addr, 2)
	return uint16(v), ok
}

func (m *Memory) Load32(addr uint32) (uint32, bool) {
	v, ok := m.load(addr, 4)
	return uint32(v), ok
}

func (m *Memory) Load64(addr uint32) (uint64, bool) {
	return m.load(addr, 8)
}

// Store8, Store16, Store32 and Store64 write to the address space.
func (m *Memory) Store8(addr uint32, v uint8) bool   { return m.store(addr, 1, uint64(v)) }
func (m *Memory) Store16(addr uint32, v uint16) bool { return m.store(addr, 2, uint64(v)) }
func (m *Memory) Store32(addr uint32, v uint32) bool { return m.store(addr, 4, uint64(v)) }
func (m *Memory) Store64(addr uint32, v uint64) bool { return m.store(addr, 8, v) }

// ReadBytes copies n bytes starting at addr.
func (m *Memory) ReadBytes(addr, n uint32) ([]byte, bool) {
	if b, ok := m.heap.slice(addr, n); ok {
		return append([]byte(nil), b...), true
	}
	if !m.inStack(addr, n) {
		return nil, false
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = m.stackByte(addr + uint32(i))
	}
	return out, true
}

// WriteBytes copies src to addr.
func (m *Memory) WriteBytes(addr uint32, src []byte) bool {
	n := uint32(len(src))
	if b, ok := m.heap.slice(addr, n); ok {
		copy(b, src)
		return true
	}
	if !m.inStack(addr, n) {
		return false
	}
	for i, c := range src {
		m.setStackByte(addr+uint32(i), c)
	}
	return true
}

// Move copies n bytes from src to dst; the ranges may overlap.
func (m *Memory) Move(dst, src, n uint32) bool {
	if !m.Valid(dst, n) {
		return false
	}
	buf, ok := m.ReadBytes(src, n)
	if !ok {
		return false
	}
	return m.WriteBytes(dst, buf)
}

// Fill sets n bytes at dst to b.
func (m *Memory) Fill(dst uint32, b byte, n uint32) bool {
	if s, ok := m.heap.slice(dst, n); ok {
		for i := range s {
			s[i] = b
		}
		return true
	}
	if !m.inStack(dst, n) {
		return false
	}
	for i := uint32(0); i < n; i++ {
		m.setStackByte(dst+i, b)
	}
	return true
}

// ReadWords reads len(dst) words starting at addr.
func (m *Memory) ReadWords(addr uint32, dst []word.Word) bool {
	if !m.Valid(addr, uint32(len(dst))*word.Size) {
		return false
	}
	for i := range dst {
		v, _ := m.Load32(addr + uint32(i)*word.Size)
		dst[i] = word.Word(v)
	}
	return true
}

// WriteWords writes src starting at addr.
func (m *Memory) WriteWords(addr uint32, src []word.Word) bool {
	if !m.Valid(addr, uint32(len(src))*word.Size) {
		return false
	}
	for i, w := range src {
		m.Store32(addr+uint32(i)*word.Size, uint32(w))
	}
	return true
}

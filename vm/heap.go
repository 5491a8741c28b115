package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Address space layout
// ---------------------------------------------------------------------------

// Addresses are 32-bit and live in one flat space shared by all threads of a
// process. Everything below NullGuard is unmapped so that small offsets from
// a null pointer fault.
const (
	NullGuard uint32 = 0x00010000
	StackBase uint32 = 0x00100000
	HeapBase  uint32 = 0x10000000
)

// Object layout. An object pointer addresses the first field; the header
// sits immediately below it.
const (
	ObjectHeaderSize = 8 // u32 class id, u32 payload size
	heapAlign        = 8

	// Arrays: {int32 length, pad, elements}.
	ArrayLengthOffset = 0
	ArrayDataOffset   = 8

	// Strings: {int32 capacity, int32 length, UTF-16 chars}.
	StringCapacityOffset = 0
	StringLengthOffset   = 4
	StringCharsOffset    = 8
)

// ErrOutOfMemory is returned when the heap arena is exhausted.
var ErrOutOfMemory = errors.New("vm: heap exhausted")

// Allocator hands out zeroed objects with their header initialized.
type Allocator interface {
	Alloc(class *Class, size uint32) (uint32, error)
}

// Heap is a bump allocator over a fixed arena mapped at HeapBase. Objects
// are never freed; the arena lives as long as the process.
type Heap struct {
	mu      sync.Mutex
	arena   []byte
	used    atomic.Uint32
	release func() error
}

// NewHeap maps an arena of size bytes.
func NewHeap(size uint32) (*Heap, error) {
	if size == 0 || uint64(HeapBase)+uint64(size) > 1<<32 {
		return nil, fmt.Errorf("vm: invalid heap size %d", size)
	}
	arena, release, err := mapArena(int(size))
	if err != nil {
		return nil, fmt.Errorf("vm: mapping heap: %w", err)
	}
	h := &Heap{arena: arena, release: release}
	// Offset 0 is never handed out, so HeapBase itself is not a valid object.
	h.used.Store(heapAlign)
	return h, nil
}

// Close unmaps the arena. The heap must not be used afterwards.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.release == nil {
		return nil
	}
	err := h.release()
	h.release = nil
	h.arena = nil
	return err
}

// Size returns the arena size in bytes.
func (h *Heap) Size() uint32 { return uint32(len(h.arena)) }

// Used returns the number of bytes allocated so far.
func (h *Heap) Used() uint32 { return h.used.Load() }

// raw allocates n zeroed bytes and returns their address.
func (h *Heap) raw(n uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := h.used.Load()
	size := (uint64(n) + heapAlign - 1) &^ (heapAlign - 1)
	if uint64(off)+size > uint64(len(h.arena)) {
		return 0, ErrOutOfMemory
	}
	h.used.Store(off + uint32(size))
	return HeapBase + off, nil
}

// Alloc allocates an object of class with size payload bytes.
func (h *Heap) Alloc(class *Class, size uint32) (uint32, error) {
	base, err := h.raw(ObjectHeaderSize + size)
	if err != nil {
		return 0, err
	}
	hdr := h.arena[base-HeapBase:]
	var id uint32
	if class != nil {
		id = class.ID
	}
	binary.LittleEndian.PutUint32(hdr, id)
	binary.LittleEndian.PutUint32(hdr[4:], size)
	return base + ObjectHeaderSize, nil
}

// slice returns the arena bytes for [addr, addr+n), or false if any part of
// the range is outside the allocated heap.
func (h *Heap) slice(addr, n uint32) ([]byte, bool) {
	if addr < HeapBase {
		return nil, false
	}
	off := uint64(addr - HeapBase)
	if off+uint64(n) > uint64(h.used.Load()) {
		return nil, false
	}
	return h.arena[off : off+uint64(n)], true
}

// header returns the class id and payload size of the object at ptr.
func (h *Heap) header(ptr uint32) (classID, size uint32, ok bool) {
	if ptr < HeapBase+ObjectHeaderSize {
		return 0, 0, false
	}
	b, ok := h.slice(ptr-ObjectHeaderSize, ObjectHeaderSize)
	if !ok {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(b), binary.LittleEndian.Uint32(b[4:]), true
}

package vm

import "fmt"

// Inline caching for interface dispatch.
//
// call_interface and ldinterfftn resolve (receiver class, interface, slot)
// by walking the receiver's class chain. Each call site remembers the
// classes it has seen: one (monomorphic), up to MaxPICEntries
// (polymorphic), or gives up (megamorphic). The interface and slot are
// operands of the instruction, so the receiver class is the whole key.
//
// Caches belong to a thread and are never shared, so they need no locking.
// They assume InterfaceImpls does not change once code has run.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single (class, method) cached
	CachePolymorphic                   // 2-6 entries
	CacheMegamorphic                   // Too many classes, always resolve
)

// MaxPICEntries is the number of classes a polymorphic site remembers.
const MaxPICEntries = 6

// InlineCacheEntry holds a single resolved implementation.
type InlineCacheEntry struct {
	Class  *Class
	Method *Method
}

// InlineCache is the cache for one call site.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup returns the cached implementation for class, or nil on a miss.
func (ic *InlineCache) Lookup(class *Class) *Method {
	for i := 0; i < ic.Count; i++ {
		if ic.Entries[i].Class == class {
			ic.Hits++
			return ic.Entries[i].Method
		}
	}
	ic.Misses++
	return nil
}

// Update records a resolved implementation, widening the cache state.
func (ic *InlineCache) Update(class *Class, m *Method) {
	if m == nil || ic.State == CacheMegamorphic {
		return
	}
	for i := 0; i < ic.Count; i++ {
		if ic.Entries[i].Class == class {
			return
		}
	}
	if ic.Count == MaxPICEntries {
		ic.State = CacheMegamorphic
		ic.Entries = [MaxPICEntries]InlineCacheEntry{}
		ic.Count = 0
		return
	}
	ic.Entries[ic.Count] = InlineCacheEntry{Class: class, Method: m}
	ic.Count++
	if ic.Count == 1 {
		ic.State = CacheMonomorphic
	} else {
		ic.State = CachePolymorphic
	}
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	total := ic.Hits + ic.Misses
	if total == 0 {
		return 0
	}
	return float64(ic.Hits) * 100 / float64(total)
}

// callSite identifies an instruction: the method and the pc of its opcode.
type callSite struct {
	method *Method
	pc     int
}

// InlineCacheTable holds a thread's call-site caches.
type InlineCacheTable struct {
	caches map[callSite]*InlineCache
}

func (t *InlineCacheTable) site(m *Method, pc int) *InlineCache {
	key := callSite{m, pc}
	if ic := t.caches[key]; ic != nil {
		return ic
	}
	if t.caches == nil {
		t.caches = make(map[callSite]*InlineCache)
	}
	ic := &InlineCache{}
	t.caches[key] = ic
	return ic
}

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	CallSites   int
	Monomorphic int
	Polymorphic int
	Megamorphic int
	Hits        uint64
	Misses      uint64
}

// HitRate returns the aggregate hit rate as a percentage.
func (s ICStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) * 100 / float64(total)
}

// Stats returns aggregate statistics for all call sites in the table.
func (t *InlineCacheTable) Stats() ICStats {
	var s ICStats
	for _, ic := range t.caches {
		s.CallSites++
		switch ic.State {
		case CacheMonomorphic:
			s.Monomorphic++
		case CachePolymorphic:
			s.Polymorphic++
		case CacheMegamorphic:
			s.Megamorphic++
		}
		s.Hits += ic.Hits
		s.Misses += ic.Misses
	}
	return s
}

// Reset drops every cache.
func (t *InlineCacheTable) Reset() {
	t.caches = nil
}

// interfaceMethod resolves slot idx of the interface whose class id is the
// operand at off, for receiver class cls, through the call site's cache.
// On failure it raises and returns nil.
func (e *engine) interfaceMethod(cls *Class, off int, idx uint32) *Method {
	ic := e.t.icache.site(e.method, e.pc)
	if m := ic.Lookup(cls); m != nil {
		return m
	}
	iface, ok := e.classAt(off)
	if !ok {
		return nil
	}
	m := e.p.Metadata.InterfaceMethod(cls, iface, idx)
	if m == nil {
		e.missingMethod(fmt.Sprintf("%s does not implement %s slot %d", cls.Name, iface.Name, idx))
		return nil
	}
	ic.Update(cls, m)
	return m
}

package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: runtime class descriptor
// ---------------------------------------------------------------------------

// Class describes a managed type. Classes are created by the loader and
// registered in a ClassTable, which assigns their IDs.
type Class struct {
	ID           uint32
	Name         string // fully qualified, e.g. "System.String"
	Parent       *Class
	Interfaces   []*Class
	IsInterface  bool
	InstanceSize uint32 // payload bytes of an instance
	StaticSize   uint32 // bytes of static storage

	// VTable holds virtual methods by slot. Interface dispatch goes through
	// InterfaceImpls, keyed by interface class ID.
	VTable         []*Method
	InterfaceImpls map[uint32][]*Method

	cctorRan  atomic.Bool
	staticPtr atomic.Uint32

	typeObject atomic.Uint32 // cached reflection object, see type_from_handle
}

// InheritsFrom reports whether c is other or a subclass of it.
func (c *Class) InheritsFrom(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// Implements reports whether c or one of its ancestors implements iface,
// directly or through an inherited interface.
func (c *Class) Implements(iface *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == iface {
			return true
		}
		for _, i := range cur.Interfaces {
			if i.Implements(iface) {
				return true
			}
		}
	}
	return false
}

// AssignableTo reports whether an instance of c can be cast to target.
func (c *Class) AssignableTo(target *Class) bool {
	if target.IsInterface {
		return c.Implements(target)
	}
	return c.InheritsFrom(target)
}

func (c *Class) String() string {
	if c == nil {
		return "<nil class>"
	}
	return c.Name
}

// ---------------------------------------------------------------------------
// Metadata: class and method lookup
// ---------------------------------------------------------------------------

// Metadata resolves the class and method IDs that appear in code.
type Metadata interface {
	LookupClass(name string) *Class
	Class(id uint32) *Class
	Method(id uint32) *Method
	InterfaceMethod(c *Class, iface *Class, index uint32) *Method
}

// ClassTable is the default Metadata: an in-memory registry of classes and
// methods. IDs start at 1 so that a zero word never names anything.
type ClassTable struct {
	mu      sync.RWMutex
	byName  map[string]*Class
	classes []*Class
	methods []*Method
}

// NewClassTable creates an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		byName:  make(map[string]*Class),
		classes: []*Class{nil},
		methods: []*Method{nil},
	}
}

// DefineClass registers c and assigns its ID.
func (ct *ClassTable) DefineClass(c *Class) (*Class, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if _, dup := ct.byName[c.Name]; dup {
		return nil, fmt.Errorf("vm: class %s already defined", c.Name)
	}
	c.ID = uint32(len(ct.classes))
	ct.classes = append(ct.classes, c)
	ct.byName[c.Name] = c
	return c, nil
}

// DefineMethod registers m and assigns its ID.
func (ct *ClassTable) DefineMethod(m *Method) *Method {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	m.ID = uint32(len(ct.methods))
	ct.methods = append(ct.methods, m)
	return m
}

// LookupClass finds a class by fully qualified name.
func (ct *ClassTable) LookupClass(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.byName[name]
}

// Class returns the class with the given ID, or nil.
func (ct *ClassTable) Class(id uint32) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if int(id) >= len(ct.classes) {
		return nil
	}
	return ct.classes[id]
}

// Method returns the method with the given ID, or nil.
func (ct *ClassTable) Method(id uint32) *Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if int(id) >= len(ct.methods) {
		return nil
	}
	return ct.methods[id]
}

// InterfaceMethod returns the implementation of slot index of iface for
// class c, searching up the class hierarchy.
func (ct *ClassTable) InterfaceMethod(c *Class, iface *Class, index uint32) *Method {
	for cur := c; cur != nil; cur = cur.Parent {
		impls := cur.InterfaceImpls[iface.ID]
		if int(index) < len(impls) && impls[index] != nil {
			return impls[index]
		}
	}
	return nil
}

// LookupMethod finds a method by class and name.
func (ct *ClassTable) LookupMethod(class, name string) *Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	for _, m := range ct.methods[1:] {
		if m.Name == name && m.Class != nil && m.Class.Name == class {
			return m
		}
	}
	return nil
}

// Classes returns all registered classes in ID order.
func (ct *ClassTable) Classes() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]*Class(nil), ct.classes[1:]...)
}

// Methods returns all registered methods in ID order.
func (ct *ClassTable) Methods() []*Method {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]*Method(nil), ct.methods[1:]...)
}

package vm

import (
	"slices"
	"strings"
	"sync/atomic"
)

// ClassFlags is the class state bitset.
type ClassFlags uint32

const (
	// ClassMeta marks a metaclass.
	ClassMeta ClassFlags = 1 << iota
	// ClassResolved is set once the superclass pointer is linked.
	ClassResolved
	// ClassInitializing is set while the class's setup method runs.
	ClassInitializing
	// ClassInitialized is set once the real dtable is published.
	ClassInitialized
	// ClassUserCreated marks a class pair allocated at run time.
	ClassUserCreated
	// ClassRegistered is set when the class enters the class table.
	ClassRegistered
	// ClassDisposed marks a runtime class pair that has been disposed.
	ClassDisposed
)

var classFlagNames = []string{"meta", "resolved", "initializing", "initialized", "user-created", "registered", "disposed"}

func (f ClassFlags) String() string {
	var parts []string
	for i, name := range classFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Ivar describes one instance variable.
type Ivar struct {
	Name   string
	Type   string
	Offset int
}

var nextClassID atomic.Uintptr

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class describes a type. Every class has a metaclass, reached through isa,
// that holds its class-side methods.
//
// The superclass starts as a name and is linked to a pointer when the class
// resolves. Method lists, ivars and the subclass list are guarded by the
// owning VM's lock; flags, links and the dtable pointer are atomic so the
// lookup path can read them without it.
type Class struct {
	Name string

	id        uintptr
	isa       atomic.Pointer[Class]
	superName string
	super     atomic.Pointer[Class]
	nonMeta   *Class // for a metaclass, the class it describes

	version    atomic.Int64
	flags      atomic.Uint32
	dtable     atomic.Pointer[tableRef]
	methods    *MethodList
	ivars      []Ivar
	protocols  []string
	subclasses []*Class
}

func newClass(name, superName string, flags ClassFlags) *Class {
	c := &Class{
		Name:      name,
		id:        nextClassID.Add(1),
		superName: superName,
	}
	c.flags.Store(uint32(flags))
	c.dtable.Store(uninstalled)
	return c
}

// NewClass creates an unresolved class and its metaclass. An empty
// superName makes a root class.
func NewClass(name, superName string) *Class {
	c := newClass(name, superName, 0)
	meta := newClass(name, superName, ClassMeta)
	meta.nonMeta = c
	c.isa.Store(meta)
	return c
}

// ClassSpec is a class descriptor as produced by a loader.
type ClassSpec struct {
	Name         string
	Superclass   string
	Version      int64
	Ivars        []Ivar
	Methods      []*Method
	ClassMethods []*Method
	Protocols    []string
}

// NewClassFromSpec creates a class pair populated from spec.
func NewClassFromSpec(spec ClassSpec) *Class {
	c := NewClass(spec.Name, spec.Superclass)
	c.version.Store(spec.Version)
	c.ivars = slices.Clone(spec.Ivars)
	c.protocols = slices.Clone(spec.Protocols)
	if len(spec.Methods) > 0 {
		c.methods = c.ownList(spec.Methods)
	}
	if len(spec.ClassMethods) > 0 {
		meta := c.Meta()
		meta.methods = meta.ownList(spec.ClassMethods)
	}
	return c
}

func (c *Class) ownList(methods []*Method) *MethodList {
	l := &MethodList{Methods: slices.Clone(methods)}
	for _, m := range l.Methods {
		m.Class = c
	}
	return l
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// ClassOf returns the metaclass, so that a class can receive messages.
func (c *Class) ClassOf() *Class {
	if c == nil {
		return nil
	}
	return c.isa.Load()
}

// Meta returns the metaclass of a class, or nil for a metaclass.
func (c *Class) Meta() *Class {
	if c.IsMeta() {
		return nil
	}
	return c.isa.Load()
}

// NonMeta returns the class a metaclass describes, or c itself.
func (c *Class) NonMeta() *Class {
	if c.nonMeta != nil {
		return c.nonMeta
	}
	return c
}

// Superclass returns the linked superclass, or nil if the class is a root
// or not yet resolved.
func (c *Class) Superclass() *Class { return c.super.Load() }

// SuperclassName returns the superclass name the class was declared with.
func (c *Class) SuperclassName() string { return c.superName }

// Flags returns the current flag set.
func (c *Class) Flags() ClassFlags { return ClassFlags(c.flags.Load()) }

// Has reports whether all of f are set.
func (c *Class) Has(f ClassFlags) bool { return c.Flags()&f == f }

func (c *Class) IsMeta() bool        { return c.Has(ClassMeta) }
func (c *Class) IsResolved() bool    { return c.Has(ClassResolved) }
func (c *Class) IsInitialized() bool { return c.Has(ClassInitialized) }
func (c *Class) IsRoot() bool        { return c.superName == "" }

func (c *Class) setFlags(f ClassFlags) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (c *Class) clearFlags(f ClassFlags) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// Version returns the user-defined class version.
func (c *Class) Version() int64 { return c.version.Load() }

// DTable returns the published dtable, or nil if none is installed yet.
func (c *Class) DTable() DTable {
	r := c.dtable.Load()
	if r == uninstalled {
		return nil
	}
	return r.DTable
}

func (c *Class) hasDTable() bool { return c.dtable.Load() != uninstalled }

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Superclass() {
		if cur == other {
			return true
		}
	}
	return false
}

// Superclasses returns the superclass chain, nearest first.
func (c *Class) Superclasses() []*Class {
	var out []*Class
	for cur := c.Superclass(); cur != nil; cur = cur.Superclass() {
		out = append(out, cur)
	}
	return out
}

// Depth returns the number of superclasses.
func (c *Class) Depth() int {
	n := 0
	for cur := c.Superclass(); cur != nil; cur = cur.Superclass() {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Instance variables
// ---------------------------------------------------------------------------

// IvarIndex returns the slot index of the named ivar, searching superclasses,
// or -1.
func (c *Class) IvarIndex(name string) int {
	for cur := c; cur != nil; cur = cur.Superclass() {
		for i, iv := range cur.ivars {
			if iv.Name == name {
				return cur.ivarOffset() + i
			}
		}
	}
	return -1
}

func (c *Class) ivarOffset() int {
	if s := c.Superclass(); s != nil {
		return s.InstanceSize()
	}
	return 0
}

// InstanceSize returns the number of ivar slots an instance needs,
// including inherited ones.
func (c *Class) InstanceSize() int {
	return c.ivarOffset() + len(c.ivars)
}

func (c *Class) String() string {
	if c.IsMeta() {
		return c.Name + " class"
	}
	return c.Name
}

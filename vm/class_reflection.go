package vm

import (
	"fmt"
	"slices"
	"strings"
)

// ---------------------------------------------------------------------------
// Class queries
// ---------------------------------------------------------------------------

// ClassNamed returns the live class called name, or nil.
func (vm *VM) ClassNamed(name string) *Class {
	return vm.Classes.Lookup(name)
}

// AllClasses returns every live class, sorted by name.
func (vm *VM) AllClasses() []*Class {
	out := slices.Collect(vm.Classes.All())
	slices.SortFunc(out, func(a, b *Class) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// CopyMethodList returns the methods declared by c itself, category
// methods included, newest list first. For class methods pass the metaclass.
func (vm *VM) CopyMethodList(c *Class) []*Method {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	var out []*Method
	for l := c.methods; l != nil; l = l.next {
		out = append(out, l.Methods...)
	}
	return out
}

// CopyIvarList returns the ivars declared by c itself.
func (vm *VM) CopyIvarList(c *Class) []Ivar {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(c.ivars)
}

// Protocols returns the protocols c itself adopts.
func (vm *VM) Protocols(c *Class) []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(c.NonMeta().protocols)
}

// ConformsTo reports whether c or a superclass adopts protocol.
func (vm *VM) ConformsTo(c *Class, protocol string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for cur := c.NonMeta(); cur != nil; cur = cur.Superclass() {
		if slices.Contains(cur.protocols, protocol) {
			return true
		}
	}
	return false
}

// InstanceMethod returns the method instances of c run for sel, searching
// method lists up the superclass chain, or nil.
func (vm *VM) InstanceMethod(c *Class, sel Selector) *Method {
	key := vm.Selectors.DispatchKey(sel)
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for cur := c; cur != nil; cur = cur.Superclass() {
		if m := vm.ownMethodLocked(cur, key); m != nil {
			return m
		}
	}
	return nil
}

// ClassMethod returns the class-side method for sel, or nil.
func (vm *VM) ClassMethod(c *Class, sel Selector) *Method {
	return vm.InstanceMethod(c.NonMeta().Meta(), sel)
}

// RespondsToSelector reports whether instances of c implement sel.
func (vm *VM) RespondsToSelector(c *Class, sel Selector) bool {
	return vm.InstanceMethod(c, sel) != nil
}

func (vm *VM) ownMethodLocked(c *Class, key Selector) *Method {
	for l := c.methods; l != nil; l = l.next {
		for _, m := range l.Methods {
			if vm.Selectors.DispatchKey(m.Selector) == key {
				return m
			}
		}
	}
	return nil
}

// MethodImplementation returns the implementation a send of sel to an
// instance of c would run, going through dispatch. It initializes c and
// answers the forwarding implementation if nothing implements sel.
func (vm *VM) MethodImplementation(c *Class, sel Selector) IMP {
	return vm.slotForClass(c, sel).IMP()
}

func (vm *VM) slotForClass(c *Class, sel Selector) *Slot {
	key := vm.Selectors.DispatchKey(sel)
	if s := c.dtable.Load().Get(key); s != nil {
		return s
	}
	if !c.hasDTable() {
		vm.InitializeClass(c)
		if t := vm.dtableFor(c); t != nil {
			if s := t.Get(key); s != nil {
				return s
			}
		}
	}
	return vm.trapSlot
}

// ---------------------------------------------------------------------------
// Class mutation
// ---------------------------------------------------------------------------

// AddMethod adds an implementation of sel to c. It reports false, changing
// nothing, if c itself already has one.
func (vm *VM) AddMethod(c *Class, sel Selector, types string, imp IMP) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.ownMethodLocked(c, vm.Selectors.DispatchKey(sel)) != nil {
		return false
	}
	vm.prependListLocked(c, []*Method{NewMethod(sel, types, imp)}, "")
	vm.updateLocked(c)
	return true
}

// ReplaceMethod sets c's implementation of sel and returns the previous
// one, or nil if c did not have one, in which case the method is added.
// An empty types keeps the previous type signature.
func (vm *VM) ReplaceMethod(c *Class, sel Selector, types string, imp IMP) IMP {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	key := vm.Selectors.DispatchKey(sel)
	for l := c.methods; l != nil; l = l.next {
		for i, m := range l.Methods {
			if vm.Selectors.DispatchKey(m.Selector) != key {
				continue
			}
			if types == "" {
				types = m.Types
			}
			nm := NewMethod(m.Selector, types, imp)
			nm.Class = c
			l.Methods = slices.Clone(l.Methods)
			l.Methods[i] = nm
			vm.updateLocked(c)
			return m.Imp
		}
	}
	vm.prependListLocked(c, []*Method{NewMethod(sel, types, imp)}, "")
	vm.updateLocked(c)
	return nil
}

// AddMethods attaches methods to c as one new list, as a category named
// category would. Existing implementations in c are overridden.
func (vm *VM) AddMethods(c *Class, category string, methods ...*Method) {
	if len(methods) == 0 {
		return
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.prependListLocked(c, methods, category)
	vm.updateLocked(c)
}

// AddIvar adds an instance variable to a class allocated with
// AllocateClassPair that has not been registered yet.
func (vm *VM) AddIvar(c *Class, name, types string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if !c.Has(ClassUserCreated) || c.Has(ClassRegistered) || c.IsMeta() {
		return false
	}
	if slices.ContainsFunc(c.ivars, func(iv Ivar) bool { return iv.Name == name }) {
		return false
	}
	c.ivars = append(c.ivars, Ivar{Name: name, Type: types, Offset: len(c.ivars)})
	return true
}

// AddProtocol records that c adopts protocol. It reports false if it
// already does.
func (vm *VM) AddProtocol(c *Class, protocol string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	c = c.NonMeta()
	if slices.Contains(c.protocols, protocol) {
		return false
	}
	c.protocols = append(c.protocols, protocol)
	return true
}

// SetVersion sets the user-defined class version.
func (vm *VM) SetVersion(c *Class, v int64) { c.version.Store(v) }

// SetClass changes o's class and returns the previous one.
func (vm *VM) SetClass(o *Object, c *Class) *Class { return o.SetClass(c) }

// ---------------------------------------------------------------------------
// Runtime class pairs
// ---------------------------------------------------------------------------

// AllocateClassPair creates a class and metaclass at run time. super may be
// nil for a new root. It returns nil if a class called name exists.
func (vm *VM) AllocateClassPair(super *Class, name string) *Class {
	if vm.Classes.Lookup(name) != nil {
		return nil
	}
	superName := ""
	if super != nil {
		superName = super.NonMeta().Name
	}
	c := NewClass(name, superName)
	c.setFlags(ClassUserCreated)
	c.Meta().setFlags(ClassUserCreated)
	return c
}

// RegisterClassPair loads and resolves a class made by AllocateClassPair.
func (vm *VM) RegisterClassPair(c *Class) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if !vm.loadClassLocked(c) {
		return fmt.Errorf("register %s: %w", c.Name, ErrClassExists)
	}
	vm.resolveLocked(c, newSeenSet())
	if !c.IsResolved() {
		return fmt.Errorf("register %s: %w", c.Name, &UnresolvedClassError{Class: c.Name, Superclass: c.superName})
	}
	return nil
}

// DisposeClassPair removes a runtime-allocated class. The caller guarantees
// that no instances or cached slots of it are still in use. Classes with
// subclasses cannot be disposed.
func (vm *VM) DisposeClassPair(c *Class) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if !c.Has(ClassUserCreated) || c.IsMeta() {
		return fmt.Errorf("dispose %s: not a runtime-allocated class", c.Name)
	}
	meta := c.Meta()
	for _, sub := range c.subclasses {
		if sub != meta {
			return fmt.Errorf("dispose %s: class has subclass %s", c.Name, sub.Name)
		}
	}
	if super := c.Superclass(); super != nil {
		super.subclasses = slices.DeleteFunc(super.subclasses, func(s *Class) bool { return s == c })
		superMeta := super.Meta()
		superMeta.subclasses = slices.DeleteFunc(superMeta.subclasses, func(s *Class) bool { return s == meta })
	}
	vm.unresolved = slices.DeleteFunc(vm.unresolved, func(s *Class) bool { return s == c })
	c.setFlags(ClassDisposed)
	meta.setFlags(ClassDisposed)
	log.Debugf("disposed class %s", c.Name)
	return nil
}

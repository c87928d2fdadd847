package vm

import "github.com/zephyrtronium/contains"

// ---------------------------------------------------------------------------
// Loading and resolution
// ---------------------------------------------------------------------------

// RegisterSelectorArray interns a loader's selector references and returns
// their IDs in order.
func (vm *VM) RegisterSelectorArray(refs []SelectorRef) []Selector {
	return vm.Selectors.RegisterAll(refs)
}

// LoadClass registers c and queues it for resolution. It reports false,
// leaving the table unchanged, if a live class with the same name is
// already registered. Categories buffered for c are attached.
func (vm *VM) LoadClass(c *Class) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loadClassLocked(c)
}

func (vm *VM) loadClassLocked(c *Class) bool {
	if vm.Classes.Lookup(c.Name) != nil {
		log.Warningf("class %s is already loaded, ignoring duplicate", c.Name)
		return false
	}
	vm.Classes.Insert(c)
	c.Meta().setFlags(ClassRegistered)
	vm.unresolved = append(vm.unresolved, c)
	log.Debugf("loaded class %s (superclass %q)", c.Name, c.superName)

	if pending := vm.pendingCategories[c.Name]; len(pending) > 0 {
		delete(vm.pendingCategories, c.Name)
		for _, cat := range pending {
			vm.applyCategoryLocked(c, cat)
		}
	}
	return true
}

// ResolveClass links c to its superclass, resolving the superclass chain
// first. It reports false if some superclass is not registered yet or the
// chain has a cycle.
func (vm *VM) ResolveClass(c *Class) bool {
	if c.IsResolved() {
		return true
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.resolveLocked(c, newSeenSet())
}

func newSeenSet() *contains.Set { return &contains.Set{} }

func (vm *VM) resolveLocked(c *Class, seen *contains.Set) bool {
	if c.IsResolved() {
		return true
	}
	if !seen.Add(c.id) {
		log.Errorf("superclass cycle through %s", c.Name)
		return false
	}
	var super *Class
	if !c.IsRoot() {
		super = vm.Classes.Lookup(c.superName)
		if super == nil || !vm.resolveLocked(super, seen) {
			return false
		}
	}
	vm.linkLocked(c, super)
	return true
}

// linkLocked wires c and its metaclass into the class graph. A root's
// metaclass inherits from the root itself and is its own isa; every other
// metaclass inherits from the superclass's metaclass and shares the root
// metaclass as isa.
func (vm *VM) linkLocked(c, super *Class) {
	meta := c.Meta()
	if super == nil {
		meta.super.Store(c)
		meta.isa.Store(meta)
		c.subclasses = append(c.subclasses, meta)
	} else {
		superMeta := super.Meta()
		c.super.Store(super)
		super.subclasses = append(super.subclasses, c)
		meta.super.Store(superMeta)
		meta.isa.Store(superMeta.isa.Load())
		superMeta.subclasses = append(superMeta.subclasses, meta)
	}
	meta.setFlags(ClassResolved)
	c.setFlags(ClassResolved)
	log.Debugf("resolved class %s", c.Name)
}

// ResolveClassLinks resolves every queued class whose superclass chain is
// now complete, repeating until a pass makes no progress. It returns the
// number of classes still unresolved. It is idempotent and is meant to be
// called after each load batch.
func (vm *VM) ResolveClassLinks() int {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	for {
		progress := false
		pending := vm.unresolved[:0]
		for _, c := range vm.unresolved {
			switch {
			case c.Has(ClassDisposed):
			case c.IsResolved() || vm.resolveLocked(c, newSeenSet()):
				progress = true
			default:
				pending = append(pending, c)
			}
		}
		clear(vm.unresolved[len(pending):])
		vm.unresolved = pending
		if !progress || len(pending) == 0 {
			break
		}
	}
	for _, c := range vm.unresolved {
		log.Debugf("class %s still waiting for superclass %s", c.Name, c.superName)
	}
	return len(vm.unresolved)
}

// Subclasses returns c's direct subclasses. For a root class this includes
// its metaclass.
func (vm *VM) Subclasses(c *Class) []*Class {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]*Class, len(c.subclasses))
	copy(out, c.subclasses)
	return out
}

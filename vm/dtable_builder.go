package vm

import "slices"

// ---------------------------------------------------------------------------
// DTable construction and update
// ---------------------------------------------------------------------------

type installMode uint8

const (
	// installBuild fills a table that nobody else can see yet.
	installBuild installMode = iota
	// installUpdate changes a table that may be published and aliased by
	// subclasses, so replaced and shadowed slots have their versions bumped.
	installUpdate
)

// BuildDTable builds c's dispatch table from its superclass's current
// table and its own method lists, without publishing it. Superclasses
// without a table have theirs built too. c must be resolved.
func (vm *VM) BuildDTable(c *Class) DTable {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.buildChainLocked(c)
}

func (vm *VM) buildChainLocked(c *Class) DTable {
	super := c.Superclass()
	if super == nil {
		return vm.buildDTableLocked(c, nil)
	}
	st := vm.dtableForLocked(super)
	if st == nil {
		st = vm.buildChainLocked(super)
	}
	return vm.buildDTableLocked(c, st)
}

// buildDTableLocked copies superTable, or starts empty for a root class,
// and installs c's methods over it. Lists are walked newest first and the
// first method seen for a selector wins.
func (vm *VM) buildDTableLocked(c *Class, superTable DTable) DTable {
	if !c.IsResolved() {
		fatal("dtable", &UnresolvedClassError{Class: c.Name, Superclass: c.superName})
	}
	var t DTable
	if superTable == nil {
		t = NewDTable(vm.cfg.DTable)
	} else {
		t = superTable.Copy()
	}
	for l := c.methods; l != nil; l = l.next {
		for _, m := range l.Methods {
			vm.installMethod(t, c, m, installBuild)
		}
	}
	log.Debugf("built dtable for %s: %d slots", c, t.Len())
	return t
}

// installMethod puts m, declared by owner, into t. It returns the slot if
// one was newly stored in t, or nil if t kept its entry (possibly updated in
// place).
func (vm *VM) installMethod(t DTable, owner *Class, m *Method, mode installMode) *Slot {
	key := vm.Selectors.DispatchKey(m.Selector)
	s := t.Get(key)
	switch {
	case s == nil:
		s = newSlot(owner, key, m)
		t.Set(key, s)
		return s
	case s.Method() == m:
		return nil
	case s.owner == owner:
		if mode == installUpdate && s.replace(m) {
			log.Debugf("replaced %s in %s", vm.Selectors.NameOf(key), owner)
		}
		return nil
	case s.owner.IsSubclassOf(owner):
		// A more derived override is already in place.
		return nil
	case !owner.IsSubclassOf(s.owner):
		fatalf("dtable", "slot for %s in %s is owned by unrelated class %s",
			vm.Selectors.NameOf(key), owner, s.owner)
		return nil
	}
	ns := newSlot(owner, key, m)
	t.Set(key, ns)
	if mode == installUpdate {
		s.invalidate()
	}
	return ns
}

// UpdateDTableForClass brings c's table in line with its method lists after
// they change and pushes the changes to subclasses. A class that has no
// table yet is left alone; it picks the methods up when it is built.
func (vm *VM) UpdateDTableForClass(c *Class) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.updateLocked(c)
}

func (vm *VM) updateLocked(c *Class) {
	t := vm.dtableForLocked(c)
	if t == nil {
		return
	}
	winners := vm.effectiveMethodsLocked(c)
	keys := make([]Selector, 0, len(winners))
	for k := range winners {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var added []*Slot
	for _, k := range keys {
		if s := vm.installMethod(t, c, winners[k], installUpdate); s != nil {
			added = append(added, s)
		}
	}
	if len(added) > 0 {
		vm.mergeDownLocked(c, added)
	}
}

// effectiveMethodsLocked returns the method c's own lists select for each
// dispatch key, with the same precedence a build uses.
func (vm *VM) effectiveMethodsLocked(c *Class) map[Selector]*Method {
	out := make(map[Selector]*Method)
	for l := c.methods; l != nil; l = l.next {
		for _, m := range l.Methods {
			key := vm.Selectors.DispatchKey(m.Selector)
			if _, ok := out[key]; !ok {
				out[key] = m
			}
		}
	}
	return out
}

// MergeDown pushes c's current slots for sels into the tables of already
// built subclasses that do not override them.
func (vm *VM) MergeDown(c *Class, sels ...Selector) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	t := vm.dtableForLocked(c)
	if t == nil {
		return
	}
	var slots []*Slot
	for _, sel := range sels {
		if s := t.Get(vm.Selectors.DispatchKey(sel)); s != nil {
			slots = append(slots, s)
		}
	}
	vm.mergeDownLocked(c, slots)
}

// mergeDownLocked walks c's subclasses and aliases each slot into their
// tables unless the subclass, or a class between it and the slot's owner,
// overrides the selector. A displaced inherited slot is invalidated.
func (vm *VM) mergeDownLocked(c *Class, slots []*Slot) {
	for _, sub := range c.subclasses {
		t := vm.dtableForLocked(sub)
		if t == nil {
			continue
		}
		var pass []*Slot
		for _, s := range slots {
			cur := t.Get(s.sel)
			switch {
			case cur == s:
				pass = append(pass, s)
			case cur == nil:
				t.Set(s.sel, s)
				pass = append(pass, s)
			case cur.owner != s.owner && cur.owner.IsSubclassOf(s.owner):
				// overridden at or above sub
			default:
				t.Set(s.sel, s)
				cur.invalidate()
				pass = append(pass, s)
			}
		}
		if len(pass) > 0 {
			vm.mergeDownLocked(sub, pass)
		}
	}
}

// dtableForLocked returns c's published table, or the table waiting in the
// look-aside list while c initializes, or nil.
func (vm *VM) dtableForLocked(c *Class) DTable {
	if r := c.dtable.Load(); r != uninstalled {
		return r.DTable
	}
	return vm.lookasideTable(c)
}

package vm

import "reflect"

// ---------------------------------------------------------------------------
// Message lookup
// ---------------------------------------------------------------------------

// Lookup returns the slot that answers sel for recv. It never returns nil:
// a nil receiver gets the nil slot, and a message nothing implements gets
// the forwarding hook's slot or the trap slot.
func (vm *VM) Lookup(recv Receiver, sel Selector) *Slot {
	_, s := vm.LookupSender(recv, sel)
	return s
}

// LookupSender is Lookup, also returning the receiver the slot must be
// invoked on, which differs from recv when the proxy hook substituted one.
func (vm *VM) LookupSender(recv Receiver, sel Selector) (Receiver, *Slot) {
	r, s, _ := vm.lookupSender(recv, sel)
	return r, s
}

// lookupSender also reports whether the slot came from the dtable of recv's
// class. Only such slots are versioned against that class and may be cached
// for it.
func (vm *VM) lookupSender(recv Receiver, sel Selector) (Receiver, *Slot, bool) {
	if isNil(recv) {
		return recv, vm.nilSlot, false
	}
	cls := recv.ClassOf()
	if cls == nil {
		return recv, vm.nilSlot, false
	}
	key := vm.Selectors.DispatchKey(sel)
	if s := cls.dtable.Load().Get(key); s != nil {
		return recv, s, true
	}
	return vm.lookupSlow(recv, cls, sel, key)
}

func (vm *VM) lookupSlow(recv Receiver, cls *Class, sel, key Selector) (Receiver, *Slot, bool) {
	if !cls.hasDTable() {
		vm.InitializeClass(cls)
		t := vm.dtableFor(cls)
		if t == nil {
			fatalf("lookup", "%s has no dtable after initialization", cls)
		}
		if s := t.Get(key); s != nil {
			return recv, s, true
		}
	}

	if p := vm.proxy.Load(); p != nil {
		if alt := (*p)(recv, sel); !isNil(alt) && !sameReceiver(alt, recv) {
			r, s := vm.LookupSender(alt, sel)
			return r, s, false
		}
	}
	if f := vm.forward.Load(); f != nil {
		if s := (*f)(recv, sel); s != nil {
			return recv, s, false
		}
	}
	return recv, vm.trapSlot, false
}

func sameReceiver(a, b Receiver) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// LookupSuper returns the slot for sel in start's table, for a send to
// super from a method of a subclass of start. start is initialized if it
// has to be.
func (vm *VM) LookupSuper(recv Receiver, start *Class, sel Selector) *Slot {
	if isNil(recv) || start == nil {
		return vm.nilSlot
	}
	key := vm.Selectors.DispatchKey(sel)
	if s := start.dtable.Load().Get(key); s != nil {
		return s
	}
	if !start.hasDTable() {
		vm.InitializeClass(start)
		if t := vm.dtableFor(start); t != nil {
			if s := t.Get(key); s != nil {
				return s
			}
		}
	}
	if f := vm.forward.Load(); f != nil {
		if s := (*f)(recv, sel); s != nil {
			return s
		}
	}
	return vm.trapSlot
}

// Send looks up sel for recv and invokes it.
func (vm *VM) Send(recv Receiver, sel Selector, args ...any) any {
	r, s := vm.LookupSender(recv, sel)
	return s.Invoke(r, sel, args...)
}

// SendSuper invokes the implementation of sel found from start.
func (vm *VM) SendSuper(recv Receiver, start *Class, sel Selector, args ...any) any {
	return vm.LookupSuper(recv, start, sel).Invoke(recv, sel, args...)
}

// SendNamed interns name and sends it.
func (vm *VM) SendNamed(recv Receiver, name string, args ...any) any {
	return vm.Send(recv, vm.Selectors.Intern(name), args...)
}

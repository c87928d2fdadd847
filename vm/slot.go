package vm

import "sync/atomic"

// Slot is a dtable entry: the method that answers one selector for a class,
// the class that declared it and a version counter.
//
// Slots are aliased between a class's dtable and its subclasses' dtables
// when the subclass does not override the selector, so changes are made in
// place. The method and version live in one immutable state record that is
// swapped atomically: a reader sees either the old pair or the new pair,
// never a mix.
type Slot struct {
	owner *Class
	sel   Selector
	state atomic.Pointer[slotState]
}

type slotState struct {
	method  *Method
	version uint64
}

func newSlot(owner *Class, sel Selector, m *Method) *Slot {
	s := &Slot{owner: owner, sel: sel}
	s.state.Store(&slotState{method: m})
	return s
}

// Owner returns the class that declared the slot's method. It is nil for the
// runtime's own nil-receiver and trap slots.
func (s *Slot) Owner() *Class { return s.owner }

// Selector returns the dispatch key the slot is stored under.
func (s *Slot) Selector() Selector { return s.sel }

// Method returns the current method.
func (s *Slot) Method() *Method { return s.state.Load().method }

// IMP returns the current implementation.
func (s *Slot) IMP() IMP { return s.state.Load().method.Imp }

// Types returns the current method's type signature.
func (s *Slot) Types() string { return s.state.Load().method.Types }

// Version returns the slot's version. It changes whenever the method is
// replaced or the slot is shadowed by a more derived override.
func (s *Slot) Version() uint64 { return s.state.Load().version }

// Snapshot returns the method and version as one consistent pair.
func (s *Slot) Snapshot() (*Method, uint64) {
	st := s.state.Load()
	return st.method, st.version
}

// Invoke calls the slot's current implementation.
func (s *Slot) Invoke(self Receiver, sel Selector, args ...any) any {
	return s.state.Load().method.Imp(self, sel, args...)
}

// replace installs m and bumps the version. It reports false if the slot
// already held m.
func (s *Slot) replace(m *Method) bool {
	for {
		old := s.state.Load()
		if old.method == m {
			return false
		}
		if s.state.CompareAndSwap(old, &slotState{method: m, version: old.version + 1}) {
			return true
		}
	}
}

// invalidate bumps the version without changing the method, so that inline
// caches holding the slot revalidate.
func (s *Slot) invalidate() {
	for {
		old := s.state.Load()
		if s.state.CompareAndSwap(old, &slotState{method: old.method, version: old.version + 1}) {
			return
		}
	}
}

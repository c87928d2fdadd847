package vm

import (
	"fmt"
	"maps"
	"sync/atomic"
)

// DTable maps selector dispatch keys to slots.
//
// Get is safe to call concurrently with everything. Set and Copy are only
// called by the dtable builder under the VM lock.
type DTable interface {
	Get(sel Selector) *Slot
	Set(sel Selector, s *Slot)
	// Copy returns a structural copy that shares the slots.
	Copy() DTable
	Range(f func(sel Selector, s *Slot) bool)
	Len() int
}

// DTableKind selects a DTable implementation.
type DTableKind string

const (
	// DTableSparse is a byte-keyed multi-level array: at most three loads
	// per lookup at the cost of a 256-entry leaf per populated range.
	DTableSparse DTableKind = "sparse"
	// DTableHash is a copy-on-write Go map.
	DTableHash DTableKind = "hash"
)

// ParseDTableKind parses a configuration value. The empty string means sparse.
func ParseDTableKind(s string) (DTableKind, error) {
	switch DTableKind(s) {
	case "", DTableSparse:
		return DTableSparse, nil
	case DTableHash:
		return DTableHash, nil
	}
	return "", fmt.Errorf("unknown dtable kind %q", s)
}

// NewDTable returns an empty table of the given kind.
func NewDTable(kind DTableKind) DTable {
	if kind == DTableHash {
		return newHashDTable()
	}
	return &sparseDTable{arr: &sparseArray[Slot]{}}
}

// ---------------------------------------------------------------------------
// Sparse
// ---------------------------------------------------------------------------

type sparseDTable struct {
	arr *sparseArray[Slot]
}

func (t *sparseDTable) Get(sel Selector) *Slot {
	if uint32(sel) >= sparseMaxKey {
		return nil
	}
	return t.arr.Get(uint32(sel))
}

func (t *sparseDTable) Set(sel Selector, s *Slot) { t.arr.Set(uint32(sel), s) }
func (t *sparseDTable) Copy() DTable              { return &sparseDTable{arr: t.arr.clone()} }
func (t *sparseDTable) Len() int                  { return t.arr.Len() }

func (t *sparseDTable) Range(f func(Selector, *Slot) bool) {
	t.arr.Range(func(k uint32, s *Slot) bool { return f(Selector(k), s) })
}

// ---------------------------------------------------------------------------
// Hash
// ---------------------------------------------------------------------------

// hashDTable is written in place until it is sealed. Once sealed it may
// have lock-free readers, so each write publishes a new copy of the map.
type hashDTable struct {
	m      atomic.Pointer[map[Selector]*Slot]
	sealed atomic.Bool
}

func newHashDTable() *hashDTable {
	t := &hashDTable{}
	t.m.Store(&map[Selector]*Slot{})
	return t
}

func (t *hashDTable) Get(sel Selector) *Slot {
	return (*t.m.Load())[sel]
}

func (t *hashDTable) Set(sel Selector, s *Slot) {
	if !t.sealed.Load() {
		(*t.m.Load())[sel] = s
		return
	}
	next := maps.Clone(*t.m.Load())
	next[sel] = s
	t.m.Store(&next)
}

func (t *hashDTable) Copy() DTable {
	c := &hashDTable{}
	m := maps.Clone(*t.m.Load())
	c.m.Store(&m)
	return c
}

func (t *hashDTable) Len() int { return len(*t.m.Load()) }

func (t *hashDTable) Range(f func(Selector, *Slot) bool) {
	for sel, s := range *t.m.Load() {
		if !f(sel, s) {
			return
		}
	}
}

func (t *hashDTable) seal() { t.sealed.Store(true) }

// sealDTable marks t as visible to other goroutines. Tables that are always
// safe for concurrent readers ignore it.
func sealDTable(t DTable) {
	if s, ok := t.(interface{ seal() }); ok {
		s.seal()
	}
}

// ---------------------------------------------------------------------------
// Uninstalled sentinel
// ---------------------------------------------------------------------------

// uninstalledDTable marks a class whose real table has not been published.
// There is one shared instance and it is never written.
type uninstalledDTable struct{}

func (uninstalledDTable) Get(Selector) *Slot               { return nil }
func (uninstalledDTable) Copy() DTable                     { return uninstalledDTable{} }
func (uninstalledDTable) Range(func(Selector, *Slot) bool) {}
func (uninstalledDTable) Len() int                         { return 0 }

func (uninstalledDTable) Set(sel Selector, _ *Slot) {
	fatalf("dtable", "write of selector %d to the uninstalled dtable", sel)
}

// tableRef boxes a DTable so it can be published through atomic.Pointer.
type tableRef struct {
	DTable
}

var uninstalled = &tableRef{uninstalledDTable{}}

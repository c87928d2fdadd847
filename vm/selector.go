package vm

import (
	"sync"
	"sync/atomic"
)

// Selector is the unique ID of a registered (name, types) pair. IDs are
// dense from zero and are never reused or invalidated, so callers may cache
// them forever.
type Selector uint32

// MaxSelectors is the size of the selector ID space.
const MaxSelectors = sparseMaxKey

// SelectorRef is a raw (name, types) pair as supplied by a loader.
// An empty Types means the selector is untyped.
type SelectorRef struct {
	Name  string
	Types string
}

type selectorInfo struct {
	name  string
	types string
	key   Selector // untyped variant, used as the dispatch key
}

// selectorName tracks every selector registered under one name.
type selectorName struct {
	untyped Selector
	types   atomic.Pointer[[]string]
}

// SelectorTable interns selector names and type signatures to dense IDs.
//
// Reads never block: the (name, types) index is a sync.Map and the reverse
// index is a sparse array with atomic levels. Registration is serialized by
// a table-wide mutex, and an ID once observed stays valid forever.
type SelectorTable struct {
	mu     sync.Mutex
	byRef  sync.Map // SelectorRef -> Selector
	byName sync.Map // string -> *selectorName
	byID   sparseArray[selectorInfo]
	next   atomic.Uint32

	// typeDependent makes every typed selector its own dispatch key.
	typeDependent bool
}

// NewSelectorTable creates an empty selector table. With typeDependent set,
// selectors that differ only in type signature dispatch independently.
func NewSelectorTable(typeDependent bool) *SelectorTable {
	return &SelectorTable{typeDependent: typeDependent}
}

// Register returns the ID for (name, types), allocating one if needed.
// The first typed registration of a name also materializes the untyped
// variant so type-independent callers have a stable handle; it always gets
// the lower ID.
func (st *SelectorTable) Register(name, types string) Selector {
	ref := SelectorRef{Name: name, Types: types}
	if id, ok := st.byRef.Load(ref); ok {
		return id.(Selector)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if id, ok := st.byRef.Load(ref); ok {
		return id.(Selector)
	}

	var entry *selectorName
	if v, ok := st.byName.Load(name); ok {
		entry = v.(*selectorName)
	} else {
		entry = &selectorName{}
		entry.types.Store(&[]string{})
		entry.untyped = st.allocLocked(name, "", 0)
		st.byRef.Store(SelectorRef{Name: name}, entry.untyped)
		st.byName.Store(name, entry)
		if types == "" {
			return entry.untyped
		}
	}

	id := st.allocLocked(name, types, entry.untyped)
	old := *entry.types.Load()
	list := make([]string, len(old), len(old)+1)
	copy(list, old)
	list = append(list, types)
	st.byRef.Store(ref, id)
	entry.types.Store(&list)
	log.Debugf("registered selector %s %q as %d", name, types, id)
	return id
}

// allocLocked assigns the next ID. A zero key means the new ID is its own
// dispatch key. The caller holds st.mu.
func (st *SelectorTable) allocLocked(name, types string, key Selector) Selector {
	n := st.next.Load()
	if n >= MaxSelectors {
		fatalf("selector", "selector table exhausted registering %s", name)
	}
	id := Selector(n)
	if types == "" {
		key = id
	}
	st.byID.Set(n, &selectorInfo{name: name, types: types, key: key})
	st.next.Store(n + 1)
	return id
}

// Intern registers an untyped selector.
func (st *SelectorTable) Intern(name string) Selector {
	return st.Register(name, "")
}

// RegisterAll registers a batch of selector references and returns their
// IDs in the same order.
func (st *SelectorTable) RegisterAll(refs []SelectorRef) []Selector {
	ids := make([]Selector, len(refs))
	for i, r := range refs {
		ids[i] = st.Register(r.Name, r.Types)
	}
	return ids
}

// Lookup returns the ID for (name, types) without registering it.
func (st *SelectorTable) Lookup(name, types string) (Selector, bool) {
	id, ok := st.byRef.Load(SelectorRef{Name: name, Types: types})
	if !ok {
		return 0, false
	}
	return id.(Selector), true
}

// NameOf returns the selector's name, or "" for an unknown ID.
func (st *SelectorTable) NameOf(sel Selector) string {
	if info := st.byID.Get(uint32(sel)); info != nil {
		return info.name
	}
	return ""
}

// TypesOf returns the selector's type signature, or "" if it is untyped.
func (st *SelectorTable) TypesOf(sel Selector) string {
	if info := st.byID.Get(uint32(sel)); info != nil {
		return info.types
	}
	return ""
}

// EnumerateTypes returns every distinct type signature registered under
// name, in registration order.
func (st *SelectorTable) EnumerateTypes(name string) []string {
	v, ok := st.byName.Load(name)
	if !ok {
		return nil
	}
	list := *v.(*selectorName).types.Load()
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Variants returns the untyped selector registered under name followed by
// every typed one, or nil if name is unknown.
func (st *SelectorTable) Variants(name string) []Selector {
	v, ok := st.byName.Load(name)
	if !ok {
		return nil
	}
	entry := v.(*selectorName)
	types := *entry.types.Load()
	out := make([]Selector, 0, len(types)+1)
	out = append(out, entry.untyped)
	for _, t := range types {
		if id, ok := st.Lookup(name, t); ok {
			out = append(out, id)
		}
	}
	return out
}

// DispatchKey returns the ID under which sel is stored in dtables. Unless
// the table is type-dependent, every typed selector shares the key of its
// untyped variant.
func (st *SelectorTable) DispatchKey(sel Selector) Selector {
	if st.typeDependent {
		return sel
	}
	if info := st.byID.Get(uint32(sel)); info != nil {
		return info.key
	}
	return sel
}

// Equivalent reports whether two selectors dispatch to the same slot.
func (st *SelectorTable) Equivalent(a, b Selector) bool {
	return st.DispatchKey(a) == st.DispatchKey(b)
}

// TypeDependent reports the dispatch policy.
func (st *SelectorTable) TypeDependent() bool {
	return st.typeDependent
}

// Len returns the number of registered selectors.
func (st *SelectorTable) Len() int {
	return int(st.next.Load())
}

// Valid reports whether sel has been allocated.
func (st *SelectorTable) Valid(sel Selector) bool {
	return uint32(sel) < st.next.Load()
}

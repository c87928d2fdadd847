package vm

import "sync/atomic"

// sparseArray maps 24-bit keys to *T through up to three 256-way levels,
// one byte of the key per level. The array starts one level deep and grows
// upward by making the old root child 0 of a new one, so a small table pays
// for a single 256-entry leaf and a lookup never takes more than three loads.
//
// Get is lock-free. Set, clone and grow must be serialized by the caller.
type sparseArray[T any] struct {
	root atomic.Pointer[sparseRoot[T]]
	n    atomic.Int64
}

type (
	sparseLeaf[T any] [256]atomic.Pointer[T]
	sparseMid[T any]  [256]atomic.Pointer[sparseLeaf[T]]
	sparseTop[T any]  [256]atomic.Pointer[sparseMid[T]]
)

type sparseRoot[T any] struct {
	depth int
	leaf  *sparseLeaf[T]
	mid   *sparseMid[T]
	top   *sparseTop[T]
}

// sparseMaxKey is one past the largest key a three-level array can hold.
const sparseMaxKey = 1 << 24

func (r *sparseRoot[T]) limit() uint32 {
	return 1 << (8 * r.depth)
}

// Get returns the value stored at k, or nil.
func (a *sparseArray[T]) Get(k uint32) *T {
	r := a.root.Load()
	if r == nil || k >= r.limit() {
		return nil
	}
	switch r.depth {
	case 1:
		return r.leaf[k].Load()
	case 2:
		l := r.mid[k>>8].Load()
		if l == nil {
			return nil
		}
		return l[k&0xff].Load()
	default:
		m := r.top[k>>16].Load()
		if m == nil {
			return nil
		}
		l := m[(k>>8)&0xff].Load()
		if l == nil {
			return nil
		}
		return l[k&0xff].Load()
	}
}

// Set stores v at k, growing the array as needed. It panics if k does not
// fit in 24 bits.
func (a *sparseArray[T]) Set(k uint32, v *T) {
	if k >= sparseMaxKey {
		panic("sparse array key out of range")
	}
	r := a.root.Load()
	if r == nil {
		r = &sparseRoot[T]{depth: 1, leaf: new(sparseLeaf[T])}
		a.root.Store(r)
	}
	for k >= r.limit() {
		r = a.grow(r)
	}
	leaf := a.leafFor(r, k)
	if leaf[k&0xff].Swap(v) == nil && v != nil {
		a.n.Add(1)
	}
}

// leafFor returns the leaf holding k, allocating intermediate levels.
func (a *sparseArray[T]) leafFor(r *sparseRoot[T], k uint32) *sparseLeaf[T] {
	switch r.depth {
	case 1:
		return r.leaf
	case 2:
		return ensure(&r.mid[k>>8])
	default:
		m := ensure(&r.top[k>>16])
		return ensure(&m[(k>>8)&0xff])
	}
}

func ensure[T any](p *atomic.Pointer[T]) *T {
	if v := p.Load(); v != nil {
		return v
	}
	v := new(T)
	p.Store(v)
	return v
}

func (a *sparseArray[T]) grow(r *sparseRoot[T]) *sparseRoot[T] {
	var nr *sparseRoot[T]
	switch r.depth {
	case 1:
		nr = &sparseRoot[T]{depth: 2, mid: new(sparseMid[T])}
		nr.mid[0].Store(r.leaf)
	case 2:
		nr = &sparseRoot[T]{depth: 3, top: new(sparseTop[T])}
		nr.top[0].Store(r.mid)
	default:
		panic("sparse array cannot grow past three levels")
	}
	a.root.Store(nr)
	return nr
}

// Len returns the number of non-nil entries.
func (a *sparseArray[T]) Len() int {
	return int(a.n.Load())
}

// Range calls f for every non-nil entry in key order until f returns false.
func (a *sparseArray[T]) Range(f func(k uint32, v *T) bool) {
	r := a.root.Load()
	if r == nil {
		return
	}
	switch r.depth {
	case 1:
		rangeLeaf(r.leaf, 0, f)
	case 2:
		rangeMid(r.mid, 0, f)
	default:
		for i := range r.top {
			m := r.top[i].Load()
			if m == nil {
				continue
			}
			if !rangeMid(m, uint32(i)<<16, f) {
				return
			}
		}
	}
}

func rangeMid[T any](m *sparseMid[T], base uint32, f func(uint32, *T) bool) bool {
	for i := range m {
		l := m[i].Load()
		if l == nil {
			continue
		}
		if !rangeLeaf(l, base|uint32(i)<<8, f) {
			return false
		}
	}
	return true
}

func rangeLeaf[T any](l *sparseLeaf[T], base uint32, f func(uint32, *T) bool) bool {
	for i := range l {
		if v := l[i].Load(); v != nil {
			if !f(base|uint32(i), v) {
				return false
			}
		}
	}
	return true
}

// clone copies the level structure. Values are shared, not copied.
func (a *sparseArray[T]) clone() *sparseArray[T] {
	c := &sparseArray[T]{}
	a.Range(func(k uint32, v *T) bool {
		c.Set(k, v)
		return true
	})
	return c
}

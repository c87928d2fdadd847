package vm

import (
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// ClassTable: lock-free class registry
// ---------------------------------------------------------------------------

// classMaxProbe bounds the linear probe sequence. An insert that cannot find
// a free bucket within it forces a resize.
const classMaxProbe = 32

// DefaultClassTableCapacity is the initial bucket count.
const DefaultClassTableCapacity = 256

type classBuckets struct {
	slots []atomic.Pointer[Class]
	mask  uint64
}

func newClassBuckets(capacity int) *classBuckets {
	n := 16
	for n < capacity {
		n <<= 1
	}
	return &classBuckets{slots: make([]atomic.Pointer[Class], n), mask: uint64(n - 1)}
}

// ClassTable maps class names to classes. Lookups and iteration never lock;
// inserts are serialized. The table only grows: a resize copies live
// entries into a new bucket array, publishes it atomically and hands the
// old array to the reclaimer, since readers may still be probing it.
type ClassTable struct {
	mu        sync.Mutex
	buckets   atomic.Pointer[classBuckets]
	count     atomic.Int64
	resizes   atomic.Uint64
	reclaimer *Reclaimer
}

// NewClassTable creates an empty table. reclaimer may be nil, in which case
// retired arrays are simply dropped.
func NewClassTable(capacity int, reclaimer *Reclaimer) *ClassTable {
	if capacity <= 0 {
		capacity = DefaultClassTableCapacity
	}
	t := &ClassTable{reclaimer: reclaimer}
	t.buckets.Store(newClassBuckets(capacity))
	return t
}

func classHash(name string) uint64 {
	return xxh3.HashString(name)
}

// Insert adds c. Inserting two live classes with the same name is a caller
// error and is not checked here.
func (t *ClassTable) Insert(c *Class) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets.Load()
	if (t.count.Load()+1)*5 > int64(len(b.slots))*4 {
		b = t.growLocked(b)
	}
	for !b.insert(c) {
		b = t.growLocked(b)
	}
	t.count.Add(1)
	c.setFlags(ClassRegistered)
}

func (b *classBuckets) insert(c *Class) bool {
	h := classHash(c.Name)
	for i := uint64(0); i < classMaxProbe; i++ {
		s := &b.slots[(h+i)&b.mask]
		if s.Load() == nil {
			s.Store(c)
			return true
		}
	}
	return false
}

func (t *ClassTable) growLocked(old *classBuckets) *classBuckets {
	size := len(old.slots) * 2
	for {
		nb := newClassBuckets(size)
		if n, ok := nb.copyFrom(old); ok {
			t.buckets.Store(nb)
			t.count.Store(int64(n))
			t.resizes.Add(1)
			log.Debugf("class table resized to %d buckets", size)
			if t.reclaimer != nil {
				t.reclaimer.Retire(fmt.Sprintf("class table (%d buckets)", len(old.slots)), old)
			}
			return nb
		}
		size *= 2
	}
}

// copyFrom rehashes every live class of old into b. Disposed classes are
// left behind. It returns the number of classes copied.
func (b *classBuckets) copyFrom(old *classBuckets) (int, bool) {
	n := 0
	for i := range old.slots {
		c := old.slots[i].Load()
		if c == nil || c.Has(ClassDisposed) {
			continue
		}
		if !b.insert(c) {
			return 0, false
		}
		n++
	}
	return n, true
}

// Lookup returns the live class called name, or nil.
func (t *ClassTable) Lookup(name string) *Class {
	b := t.buckets.Load()
	h := classHash(name)
	for i := uint64(0); i < classMaxProbe; i++ {
		c := b.slots[(h+i)&b.mask].Load()
		if c == nil {
			return nil
		}
		if c.Name == name && !c.Has(ClassDisposed) {
			return c
		}
	}
	return nil
}

// All iterates over the live classes present in the bucket array current
// when iteration starts. Classes inserted during iteration may or may not
// be seen.
func (t *ClassTable) All() iter.Seq[*Class] {
	return func(yield func(*Class) bool) {
		b := t.buckets.Load()
		for i := range b.slots {
			c := b.slots[i].Load()
			if c == nil || c.Has(ClassDisposed) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// Len returns the number of inserted classes, disposed ones included until
// the next resize.
func (t *ClassTable) Len() int { return int(t.count.Load()) }

// Capacity returns the current bucket count.
func (t *ClassTable) Capacity() int { return len(t.buckets.Load().slots) }

// Resizes returns the number of resizes performed.
func (t *ClassTable) Resizes() uint64 { return t.resizes.Load() }

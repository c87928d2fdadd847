package vm

import "sync/atomic"

// Inline caching for message sends
//
// A call site remembers the slots it resolved for the receiver classes it
// has seen. A cached slot may be invoked directly as long as the receiver's
// class is the one it was cached for and the slot's version still matches
// the version recorded with it. The dtable builder bumps a slot's version
// whenever its method is replaced or it is shadowed by a new override, so
// those two checks are all a call site needs.
//
// Most call sites see one receiver class, a few see a handful and very few
// see many, so caches go Empty -> Monomorphic -> Polymorphic (up to
// MaxPICEntries) -> Megamorphic, after which they stop caching.

// CacheState represents the current state of an inline cache.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // No cached lookup yet
	CacheMonomorphic                   // Single (class, slot) cached
	CachePolymorphic                   // 2-6 entries in PIC
	CacheMegamorphic                   // Too many classes, use full lookup
)

func (s CacheState) String() string {
	switch s {
	case CacheMonomorphic:
		return "monomorphic"
	case CachePolymorphic:
		return "polymorphic"
	case CacheMegamorphic:
		return "megamorphic"
	}
	return "empty"
}

// MaxPICEntries is the maximum number of entries in a polymorphic inline cache.
const MaxPICEntries = 6

// CacheEntry is one cached lookup: the receiver class, the slot and the
// slot version observed when it was cached.
type CacheEntry struct {
	Class   *Class
	Slot    *Slot
	Version uint64
}

// NewCacheEntry snapshots s for receivers of class c.
func NewCacheEntry(c *Class, s *Slot) CacheEntry {
	return CacheEntry{Class: c, Slot: s, Version: s.Version()}
}

// Valid reports whether the entry may still be used for a receiver of
// class c.
func (e CacheEntry) Valid(c *Class) bool {
	return e.Slot != nil && e.Class == c && e.Slot.Version() == e.Version
}

type cacheSnapshot struct {
	state   CacheState
	entries []CacheEntry
}

var emptyCache = &cacheSnapshot{}

// InlineCache is the cache for a single call site. It is safe for concurrent
// use: the entries are an immutable snapshot replaced atomically.
type InlineCache struct {
	snap atomic.Pointer[cacheSnapshot]

	// Statistics for profiling
	hits   atomic.Uint64
	misses atomic.Uint64
	stale  atomic.Uint64
}

func (ic *InlineCache) load() *cacheSnapshot {
	if s := ic.snap.Load(); s != nil {
		return s
	}
	return emptyCache
}

// State returns the cache state.
func (ic *InlineCache) State() CacheState { return ic.load().state }

// Count returns the number of cached entries.
func (ic *InlineCache) Count() int { return len(ic.load().entries) }

// Lookup returns the cached slot for class, or nil on a miss. An entry for
// class whose slot version moved counts as a miss.
func (ic *InlineCache) Lookup(class *Class) *Slot {
	for _, e := range ic.load().entries {
		if e.Class != class {
			continue
		}
		if e.Slot.Version() == e.Version {
			ic.hits.Add(1)
			return e.Slot
		}
		ic.stale.Add(1)
		break
	}
	ic.misses.Add(1)
	return nil
}

// Update records a (class, slot) pair, refreshing a stale entry for the same
// class or upgrading the cache state.
func (ic *InlineCache) Update(class *Class, s *Slot) {
	if s == nil {
		return // Don't cache failed lookups
	}
	e := NewCacheEntry(class, s)
	for {
		old := ic.snap.Load()
		cur := old
		if cur == nil {
			cur = emptyCache
		}
		next := cur.with(e)
		if next == cur {
			return
		}
		if ic.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *cacheSnapshot) with(e CacheEntry) *cacheSnapshot {
	switch c.state {
	case CacheEmpty:
		return &cacheSnapshot{state: CacheMonomorphic, entries: []CacheEntry{e}}
	case CacheMegamorphic:
		return c
	}
	for i, old := range c.entries {
		if old.Class == e.Class {
			if old == e {
				return c
			}
			entries := append([]CacheEntry(nil), c.entries...)
			entries[i] = e
			return &cacheSnapshot{state: c.state, entries: entries}
		}
	}
	if len(c.entries) >= MaxPICEntries {
		return &cacheSnapshot{state: CacheMegamorphic}
	}
	entries := make([]CacheEntry, len(c.entries), len(c.entries)+1)
	copy(entries, c.entries)
	return &cacheSnapshot{state: CachePolymorphic, entries: append(entries, e)}
}

// Hits returns the number of cache hits.
func (ic *InlineCache) Hits() uint64 { return ic.hits.Load() }

// Misses returns the number of cache misses, stale entries included.
func (ic *InlineCache) Misses() uint64 { return ic.misses.Load() }

// Stale returns the number of lookups that found an invalidated entry.
func (ic *InlineCache) Stale() uint64 { return ic.stale.Load() }

// HitRate returns the cache hit rate as a percentage (0-100).
func (ic *InlineCache) HitRate() float64 {
	hits, misses := ic.Hits(), ic.Misses()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears the cache back to empty state.
func (ic *InlineCache) Reset() {
	ic.snap.Store(nil)
	ic.hits.Store(0)
	ic.misses.Store(0)
	ic.stale.Store(0)
}

// ---------------------------------------------------------------------------
// Call sites
// ---------------------------------------------------------------------------

// CallSite is a send of one selector with its own inline cache.
type CallSite struct {
	vm    *VM
	sel   Selector
	cache InlineCache
}

// NewCallSite creates a call site sending sel.
func (vm *VM) NewCallSite(sel Selector) *CallSite {
	return &CallSite{vm: vm, sel: sel}
}

// Selector returns the selector the site sends.
func (cs *CallSite) Selector() Selector { return cs.sel }

// Cache returns the site's inline cache.
func (cs *CallSite) Cache() *InlineCache { return &cs.cache }

// Send delivers the site's message to recv, using the cache when it is
// valid. Only slots found in the receiver class's dtable are cached; slots
// from the nil, proxy and forwarding paths are not bumped when the class
// later gains a real method.
func (cs *CallSite) Send(recv Receiver, args ...any) any {
	if isNil(recv) {
		return cs.vm.nilSlot.Invoke(recv, cs.sel, args...)
	}
	cls := recv.ClassOf()
	if s := cs.cache.Lookup(cls); s != nil {
		return s.Invoke(recv, cs.sel, args...)
	}
	r, s, own := cs.vm.lookupSender(recv, cs.sel)
	if own {
		cs.cache.Update(cls, s)
	}
	return s.Invoke(r, cs.sel, args...)
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// ICStats holds aggregate inline cache statistics.
type ICStats struct {
	TotalCallSites  int     // Total number of call sites with caches
	Monomorphic     int     // Call sites in monomorphic state
	Polymorphic     int     // Call sites in polymorphic state
	Megamorphic     int     // Call sites in megamorphic state
	Empty           int     // Call sites never used
	TotalHits       uint64  // Total cache hits
	TotalMisses     uint64  // Total cache misses
	HitRate         float64 // Overall hit rate percentage
	MonomorphicRate float64 // Percentage of call sites that are monomorphic
}

// CollectICStats aggregates statistics over call sites.
func CollectICStats(sites ...*CallSite) ICStats {
	var stats ICStats
	for _, cs := range sites {
		ic := &cs.cache
		stats.TotalCallSites++
		switch ic.State() {
		case CacheMonomorphic:
			stats.Monomorphic++
		case CachePolymorphic:
			stats.Polymorphic++
		case CacheMegamorphic:
			stats.Megamorphic++
		case CacheEmpty:
			stats.Empty++
		}
		stats.TotalHits += ic.Hits()
		stats.TotalMisses += ic.Misses()
	}

	total := stats.TotalHits + stats.TotalMisses
	if total > 0 {
		stats.HitRate = float64(stats.TotalHits) * 100 / float64(total)
	}
	nonEmpty := stats.TotalCallSites - stats.Empty
	if nonEmpty > 0 {
		stats.MonomorphicRate = float64(stats.Monomorphic) * 100 / float64(nonEmpty)
	}
	return stats
}

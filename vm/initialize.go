package vm

// ---------------------------------------------------------------------------
// Lazy class initialization
// ---------------------------------------------------------------------------

// initRecord is a look-aside entry for a class whose setup method is
// running. Records form an immutable list published through vm.lookaside
// and replaced under initMu.
type initRecord struct {
	class     *Class
	table     DTable
	metaTable DTable
	setup     *Slot
	setupSel  Selector
	owner     int64 // goroutine running the setup method
	done      chan struct{}
	next      *initRecord
}

// InitializeClass makes sure c (or, for a metaclass, the class it
// describes) is initialized: its superclasses first, then its dtables are
// built, then its class-side "initialize" method runs once if the class
// itself defines one, and finally the tables are published.
//
// Other goroutines that need the class while its setup method runs block
// until it finishes. The goroutine running the setup method may send
// messages to the class; those are served from the look-aside table.
// If the setup method panics, the tables are still published and the
// panic propagates.
func (vm *VM) InitializeClass(c *Class) {
	if c == nil {
		return
	}
	c = c.NonMeta()
	if c.IsInitialized() {
		return
	}
	if !c.IsResolved() && !vm.ResolveClass(c) {
		fatal("initialize", &UnresolvedClassError{Class: c.Name, Superclass: c.superName})
	}
	if super := c.Superclass(); super != nil {
		vm.InitializeClass(super)
	}

	gid := getGoroutineID()
	vm.initMu.Lock()
	for {
		if c.IsInitialized() {
			vm.initMu.Unlock()
			return
		}
		rec := vm.findRecordLocked(c)
		if rec == nil {
			break
		}
		if rec.owner == gid {
			// Reentrant send from the class's own setup method.
			vm.initMu.Unlock()
			return
		}
		vm.initMu.Unlock()
		<-rec.done
		vm.initMu.Lock()
	}

	rec, ok := vm.prepareInitLocked(c, gid)
	if !ok {
		log.Debugf("initialized %s", c.Name)
		return
	}

	defer vm.finishInit(rec)
	log.Debugf("running +initialize for %s", c.Name)
	rec.setup.Invoke(c, rec.setupSel)
}

// prepareInitLocked builds c's tables with initMu held and takes mu. If the
// class defines no setup method the tables are published and ok is false.
// Otherwise a look-aside record is pushed and returned. Both locks are
// released on return, including when a build fails fatally.
func (vm *VM) prepareInitLocked(c *Class, gid int64) (rec *initRecord, ok bool) {
	vm.mu.Lock()
	defer vm.initMu.Unlock()
	defer vm.mu.Unlock()

	meta := c.Meta()
	var superTable, superMetaTable DTable
	if super := c.Superclass(); super != nil {
		superTable = vm.dtableForLocked(super)
		superMetaTable = vm.dtableForLocked(super.Meta())
		if superTable == nil || superMetaTable == nil {
			fatalf("initialize", "superclass %s of %s has no dtable", super.Name, c.Name)
		}
	}
	table := vm.buildDTableLocked(c, superTable)
	if superMetaTable == nil {
		superMetaTable = table
	}
	metaTable := vm.buildDTableLocked(meta, superMetaTable)
	sealDTable(table)
	sealDTable(metaTable)

	var setup *Slot
	var setupSel Selector
	for _, key := range vm.wellKnownKeys(initializeName) {
		if s := metaTable.Get(key); s != nil && s.owner == meta {
			setup, setupSel = s, key
			break
		}
	}
	if setup == nil {
		vm.publishLocked(c, table, metaTable)
		return nil, false
	}

	rec = &initRecord{
		class:     c,
		table:     table,
		metaTable: metaTable,
		setup:     setup,
		setupSel:  setupSel,
		owner:     gid,
		done:      make(chan struct{}),
		next:      vm.lookaside.Load(),
	}
	vm.lookaside.Store(rec)
	c.setFlags(ClassInitializing)
	meta.setFlags(ClassInitializing)
	return rec, true
}

// finishInit publishes the tables held by rec, drops rec from the
// look-aside list and wakes waiters. It runs on every exit path of the
// setup method.
func (vm *VM) finishInit(rec *initRecord) {
	vm.initMu.Lock()
	vm.mu.Lock()
	vm.publishLocked(rec.class, rec.table, rec.metaTable)
	vm.removeRecordLocked(rec)
	rec.class.clearFlags(ClassInitializing)
	rec.class.Meta().clearFlags(ClassInitializing)
	vm.mu.Unlock()
	vm.initMu.Unlock()
	close(rec.done)
	log.Debugf("initialized %s", rec.class.Name)
}

func (vm *VM) publishLocked(c *Class, table, metaTable DTable) {
	meta := c.Meta()
	sealDTable(table)
	sealDTable(metaTable)
	c.dtable.Store(&tableRef{table})
	meta.dtable.Store(&tableRef{metaTable})
	c.setFlags(ClassInitialized)
	meta.setFlags(ClassInitialized)
}

func (vm *VM) findRecordLocked(c *Class) *initRecord {
	for rec := vm.lookaside.Load(); rec != nil; rec = rec.next {
		if rec.class == c {
			return rec
		}
	}
	return nil
}

// removeRecordLocked rebuilds the list without rec's class. Surviving
// records are copied, so they are matched by class rather than pointer.
func (vm *VM) removeRecordLocked(rec *initRecord) {
	var keep []*initRecord
	for r := vm.lookaside.Load(); r != nil; r = r.next {
		if r.class != rec.class {
			keep = append(keep, r)
		}
	}
	var head *initRecord
	for i := len(keep) - 1; i >= 0; i-- {
		r := *keep[i]
		r.next = head
		head = &r
	}
	vm.lookaside.Store(head)
}

// lookasideTable returns the temporary table for c, or for the class c is
// the metaclass of, while its setup method runs.
func (vm *VM) lookasideTable(c *Class) DTable {
	target := c.NonMeta()
	for rec := vm.lookaside.Load(); rec != nil; rec = rec.next {
		if rec.class != target {
			continue
		}
		if c.IsMeta() {
			return rec.metaTable
		}
		return rec.table
	}
	return nil
}

// dtableFor returns the table lookups for c should use: the published one,
// or the look-aside table if the calling goroutine is running c's setup
// method.
func (vm *VM) dtableFor(c *Class) DTable {
	if r := c.dtable.Load(); r != uninstalled {
		return r.DTable
	}
	vm.initMu.Lock()
	defer vm.initMu.Unlock()
	return vm.lookasideTable(c)
}

// Initializing reports whether c's setup method is running.
func (vm *VM) Initializing(c *Class) bool {
	return c.NonMeta().Has(ClassInitializing)
}

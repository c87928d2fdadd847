package vm

import (
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("objrt.vm")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// ProxyLookupFunc may substitute a different receiver for a message the
// receiver's class does not implement. Returning nil or the same receiver
// declines. The runtime does not bound forwarding chains.
type ProxyLookupFunc func(recv Receiver, sel Selector) Receiver

// ForwardFunc supplies the slot for a message nothing implements. It must
// not return nil; if it does, the runtime's trap slot is used.
type ForwardFunc func(recv Receiver, sel Selector) *Slot

// Config holds VM construction options.
type Config struct {
	// DTable selects the dtable implementation.
	DTable DTableKind
	// TypeDependentDispatch makes selectors that differ only in type
	// signature dispatch independently.
	TypeDependentDispatch bool
	// ClassTableCapacity is the initial class table bucket count.
	ClassTableCapacity int
	// ReclaimGrace is how long retired class table arrays are held. A
	// negative value holds them forever.
	ReclaimGrace time.Duration
	// ReclaimInterval is the sweep interval of the background reclaimer.
	// Zero leaves the reclaimer stopped; sweeps then happen only through
	// Reclaimer().SweepNow.
	ReclaimInterval time.Duration

	Allocator   Allocator
	ProxyLookup ProxyLookupFunc
	Forward     ForwardFunc
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DTable:             DTableSparse,
		ClassTableCapacity: DefaultClassTableCapacity,
		ReclaimGrace:       DefaultReclaimGrace,
	}
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is one runtime instance: the selector table, the class registry and the
// locks and side tables that keep dispatch consistent while classes load,
// initialize and change.
//
// Lock order is initMu before mu.
type VM struct {
	Selectors *SelectorTable
	Classes   *ClassTable

	cfg       Config
	allocator Allocator
	reclaimer *Reclaimer

	// mu serializes structural mutation: resolution, dtable builds and
	// updates, method list and subclass list changes.
	mu sync.RWMutex
	// initMu guards class initialization state and the look-aside list.
	initMu    sync.Mutex
	lookaside atomic.Pointer[initRecord]

	unresolved        []*Class
	pendingCategories map[string][]*Category

	proxy   atomic.Pointer[ProxyLookupFunc]
	forward atomic.Pointer[ForwardFunc]

	nilSlot  *Slot
	trapSlot *Slot
}

// Well-known class-side selectors. They are looked up by name, never
// registered by the VM itself.
const (
	initializeName = "initialize"
	loadName       = "load"
)

// wellKnownKeys returns the dispatch keys of every registered variant of
// name, untyped first. With type-dependent dispatch a class may define a
// well-known method under any type signature.
func (vm *VM) wellKnownKeys(name string) []Selector {
	vars := vm.Selectors.Variants(name)
	keys := make([]Selector, 0, len(vars))
	for _, sel := range vars {
		if k := vm.Selectors.DispatchKey(sel); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// NewVM creates a VM from cfg. Zero fields take their defaults.
func NewVM(cfg Config) *VM {
	kind, err := ParseDTableKind(string(cfg.DTable))
	if err != nil {
		log.Warningf("%s, using %s", err, DTableSparse)
		kind = DTableSparse
	}
	cfg.DTable = kind
	if cfg.Allocator == nil {
		cfg.Allocator = DefaultAllocator{}
	}

	vm := &VM{
		Selectors:         NewSelectorTable(cfg.TypeDependentDispatch),
		cfg:               cfg,
		allocator:         cfg.Allocator,
		reclaimer:         NewReclaimer(cfg.ReclaimGrace, cfg.ReclaimInterval),
		pendingCategories: make(map[string][]*Category),
	}
	vm.Classes = NewClassTable(cfg.ClassTableCapacity, vm.reclaimer)

	vm.nilSlot = newSlot(nil, 0, &Method{Imp: func(Receiver, Selector, ...any) any { return nil }})
	vm.trapSlot = newSlot(nil, 0, &Method{Imp: vm.unrecognized})
	vm.SetProxyLookup(cfg.ProxyLookup)
	vm.SetForward(cfg.Forward)

	if cfg.ReclaimInterval > 0 {
		vm.reclaimer.Start()
	}
	log.Debugf("vm created: dtable=%s type-dependent=%t", kind, cfg.TypeDependentDispatch)
	return vm
}

// Close stops background work.
func (vm *VM) Close() {
	vm.reclaimer.Stop()
}

// Config returns the configuration the VM was created with.
func (vm *VM) Config() Config { return vm.cfg }

// Reclaimer returns the reclaimer holding retired class table arrays.
func (vm *VM) Reclaimer() *Reclaimer { return vm.reclaimer }

// SetProxyLookup installs the proxy hook. nil removes it.
func (vm *VM) SetProxyLookup(f ProxyLookupFunc) {
	if f == nil {
		vm.proxy.Store(nil)
		return
	}
	vm.proxy.Store(&f)
}

// SetForward installs the unrecognized-message hook. nil restores the
// default, which answers with the trap slot.
func (vm *VM) SetForward(f ForwardFunc) {
	if f == nil {
		vm.forward.Store(nil)
		return
	}
	vm.forward.Store(&f)
}

// TrapSlot returns the slot used for messages nothing implements when no
// forwarding hook answers. Invoking it panics with *UnrecognizedSelectorError.
func (vm *VM) TrapSlot() *Slot { return vm.trapSlot }

// NilSlot returns the slot messages to nil dispatch to. It answers nil.
func (vm *VM) NilSlot() *Slot { return vm.nilSlot }

func (vm *VM) unrecognized(self Receiver, sel Selector, _ ...any) any {
	err := &UnrecognizedSelectorError{Selector: vm.Selectors.NameOf(sel)}
	if c := self.ClassOf(); c != nil {
		err.Class = c.NonMeta().Name
		err.Meta = c.IsMeta()
	}
	log.Debugf("%s", err)
	panic(err)
}

// Unresolved returns the classes still waiting for a superclass.
func (vm *VM) Unresolved() []*Class {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]*Class, len(vm.unresolved))
	copy(out, vm.unresolved)
	return out
}

// getGoroutineID returns the current goroutine's ID. It is only used on the
// class initialization slow path.
func getGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack starts with "goroutine <id> [...]"
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if idx := strings.IndexByte(s, ' '); idx > 0 {
		s = s[:idx]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

package loader

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/chazu/objrt/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("objrt.loader")

// ErrModuleLoaded is returned when a module ID is loaded twice.
var ErrModuleLoaded = errors.New("module already loaded")

// Symbols maps implementation symbol names to Go functions.
type Symbols map[string]vm.IMP

// Merge returns a new table holding s overlaid with other.
func (s Symbols) Merge(other Symbols) Symbols {
	out := make(Symbols, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Result summarizes one module load.
type Result struct {
	ID         uuid.UUID
	Name       string
	Classes    []*vm.Class
	Duplicates []string
	Categories int
	Statics    int
	Unresolved int
	LoadsSent  int
}

// Loader feeds modules into a VM. It is safe for concurrent use, though
// modules are applied one at a time.
type Loader struct {
	vm      *vm.VM
	symbols Symbols

	mu             sync.Mutex
	loaded         map[uuid.UUID]string
	statics        map[string]*vm.Object
	pendingStatics []StaticInstance
}

// New creates a loader binding method symbols through symbols.
func New(v *vm.VM, symbols Symbols) *Loader {
	return &Loader{
		vm:      v,
		symbols: symbols,
		loaded:  make(map[uuid.UUID]string),
		statics: make(map[string]*vm.Object),
	}
}

// VM returns the target VM.
func (l *Loader) VM() *vm.VM { return l.vm }

// Load applies one module: selectors, classes, categories, a resolver pass,
// static instances and finally +load. A module with an unknown symbol is
// rejected before anything is registered.
func (l *Loader) Load(m *Module) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if prev, ok := l.loaded[m.ID]; ok {
		return nil, fmt.Errorf("loader: %s (%s): %w as %s", m.Name, m.ID, ErrModuleLoaded, prev)
	}
	if err := l.checkSymbols(m); err != nil {
		return nil, err
	}

	res := &Result{ID: m.ID, Name: m.Name}
	refs := m.selectorRefs()
	sels := make([]vm.SelectorRef, len(refs))
	for i, r := range refs {
		sels[i] = vm.SelectorRef{Name: r.Name, Types: r.Types}
	}
	l.vm.RegisterSelectorArray(sels)

	for _, cd := range m.Classes {
		c := vm.NewClassFromSpec(l.classSpec(cd))
		if !l.vm.LoadClass(c) {
			res.Duplicates = append(res.Duplicates, cd.Name)
			continue
		}
		res.Classes = append(res.Classes, c)
	}
	for _, cd := range m.Categories {
		l.vm.TryLoadCategory(&vm.Category{
			Name:            cd.Name,
			ClassName:       cd.Class,
			InstanceMethods: l.methods(cd.Methods),
			ClassMethods:    l.methods(cd.ClassMethods),
			Protocols:       cd.Protocols,
		})
		res.Categories++
	}
	res.Unresolved = l.vm.ResolveClassLinks()

	l.pendingStatics = append(l.pendingStatics, m.Statics...)
	res.Statics = l.bindStaticsLocked()
	res.LoadsSent = l.sendLoads()

	l.loaded[m.ID] = m.Name
	log.Infof("loaded module %s: %d classes, %d categories, %d unresolved", m.Name, len(res.Classes), res.Categories, res.Unresolved)
	return res, nil
}

func (l *Loader) checkSymbols(m *Module) error {
	var errs []error
	for _, sym := range m.symbols() {
		if _, ok := l.symbols[sym]; !ok {
			errs = append(errs, fmt.Errorf("unknown symbol %q", sym))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("loader: module %s: %w", m.Name, errors.Join(errs...))
	}
	return nil
}

func (l *Loader) classSpec(cd ClassDesc) vm.ClassSpec {
	ivars := make([]vm.Ivar, len(cd.Ivars))
	for i, iv := range cd.Ivars {
		ivars[i] = vm.Ivar{Name: iv.Name, Type: iv.Type}
	}
	return vm.ClassSpec{
		Name:         cd.Name,
		Superclass:   cd.Superclass,
		Version:      cd.Version,
		Ivars:        ivars,
		Methods:      l.methods(cd.Methods),
		ClassMethods: l.methods(cd.ClassMethods),
		Protocols:    cd.Protocols,
	}
}

func (l *Loader) methods(descs []MethodDesc) []*vm.Method {
	if len(descs) == 0 {
		return nil
	}
	out := make([]*vm.Method, len(descs))
	for i, md := range descs {
		sel := l.vm.Selectors.Register(md.Selector, md.Types)
		out[i] = vm.NewMethod(sel, md.Types, l.symbols[md.Symbol])
	}
	return out
}

// bindStaticsLocked instantiates static instances whose class is resolved
// and keeps the rest for a later module.
func (l *Loader) bindStaticsLocked() int {
	n := 0
	pending := l.pendingStatics[:0]
	for _, si := range l.pendingStatics {
		c := l.vm.ClassNamed(si.Class)
		if c == nil || !c.IsResolved() {
			pending = append(pending, si)
			continue
		}
		obj := l.vm.CreateInstance(c, 0)
		for i, v := range si.Values {
			if i >= len(obj.Ivars) {
				log.Warningf("static %s: %d values for %d ivars of %s", si.Name, len(si.Values), len(obj.Ivars), c.Name)
				break
			}
			obj.SetIvar(i, v)
		}
		l.statics[si.Name] = obj
		n++
	}
	clear(l.pendingStatics[len(pending):])
	l.pendingStatics = pending
	return n
}

// sendLoads delivers +load to every resolved class, superclasses first.
// Lists that already received it are skipped by the VM.
func (l *Loader) sendLoads() int {
	classes := l.vm.AllClasses()
	slices.SortStableFunc(classes, func(a, b *vm.Class) int {
		return cmp.Compare(a.Depth(), b.Depth())
	})
	n := 0
	for _, c := range classes {
		n += l.vm.SendLoad(c)
	}
	return n
}

// Static returns the static instance called name.
func (l *Loader) Static(name string) *vm.Object {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statics[name]
}

// PendingStatics returns the number of static instances waiting for their
// class.
func (l *Loader) PendingStatics() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingStatics)
}

// Modules returns the names of loaded modules keyed by ID.
func (l *Loader) Modules() map[uuid.UUID]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[uuid.UUID]string, len(l.loaded))
	for k, v := range l.loaded {
		out[k] = v
	}
	return out
}

// LoadFiles decodes the module images at paths concurrently, then loads them
// in the given order. Decoding stops at the first error.
func (l *Loader) LoadFiles(ctx context.Context, paths ...string) ([]*Result, error) {
	mods := make([]*Module, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := ReadModule(p)
			if err != nil {
				return err
			}
			mods[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(mods))
	for i, m := range mods {
		res, err := l.Load(m)
		if err != nil {
			return results, fmt.Errorf("%s: %w", paths[i], err)
		}
		results = append(results, res)
	}
	return results, nil
}

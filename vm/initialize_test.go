package vm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInitializeRunsOnceUnderContention(t *testing.T) {
	vm := newTestVM(t)
	initialize := vm.Selectors.Intern("initialize")
	ping := vm.Selectors.Intern("ping")

	var count atomic.Int32
	c := mustLoad(t, vm, ClassSpec{
		Name:    "C",
		Methods: []*Method{NewMethod(ping, "", returning("pong"))},
		ClassMethods: []*Method{NewMethod(initialize, "", func(Receiver, Selector, ...any) any {
			count.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil
		})},
	})

	const workers = 32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			obj := vm.CreateInstance(c, 0)
			if got := vm.Send(obj, ping); got != "pong" {
				t.Errorf("send = %v, want pong", got)
			}
			if !c.IsInitialized() {
				t.Error("send returned before the class was initialized")
			}
		}()
	}
	close(start)
	wg.Wait()

	if n := count.Load(); n != 1 {
		t.Errorf("initialize ran %d times, want 1", n)
	}
}

func TestInitializeSuperclassFirst(t *testing.T) {
	vm := newTestVM(t)
	initialize := vm.Selectors.Intern("initialize")
	ping := vm.Selectors.Intern("ping")

	var mu sync.Mutex
	var order []string
	record := func(name string) IMP {
		return func(Receiver, Selector, ...any) any {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	mustLoad(t, vm, ClassSpec{
		Name:         "Base",
		Methods:      []*Method{NewMethod(ping, "", returning(1))},
		ClassMethods: []*Method{NewMethod(initialize, "", record("Base"))},
	})
	mid := mustLoad(t, vm, ClassSpec{Name: "Mid", Superclass: "Base"})
	leaf := mustLoad(t, vm, ClassSpec{
		Name:         "Leaf",
		Superclass:   "Mid",
		ClassMethods: []*Method{NewMethod(initialize, "", record("Leaf"))},
	})

	vm.Send(vm.CreateInstance(leaf, 0), ping)

	if len(order) != 2 || order[0] != "Base" || order[1] != "Leaf" {
		t.Errorf("initialize order = %v, want [Base Leaf]", order)
	}
	if !mid.IsInitialized() {
		t.Error("Mid should be initialized")
	}
}

func TestInitializeReentrant(t *testing.T) {
	vm := newTestVM(t)
	initialize := vm.Selectors.Intern("initialize")
	helper := vm.Selectors.Intern("helper")
	ping := vm.Selectors.Intern("ping")

	var during []any
	var c *Class
	c = mustLoad(t, vm, ClassSpec{
		Name:    "C",
		Methods: []*Method{NewMethod(ping, "", returning("pong"))},
		ClassMethods: []*Method{
			NewMethod(helper, "", returning("helped")),
			NewMethod(initialize, "", func(self Receiver, _ Selector, _ ...any) any {
				if !vm.Initializing(c) {
					t.Error("class should be initializing inside +initialize")
				}
				if c.DTable() != nil {
					t.Error("table must not be published during +initialize")
				}
				during = append(during, vm.Send(self, helper))
				during = append(during, vm.Send(vm.CreateInstance(c, 0), ping))
				return nil
			}),
		},
	})

	vm.InitializeClass(c)

	if len(during) != 2 || during[0] != "helped" || during[1] != "pong" {
		t.Errorf("sends during +initialize = %v", during)
	}
	if vm.Initializing(c) || !c.IsInitialized() {
		t.Errorf("flags after init: %v", c.Flags())
	}
	if vm.lookaside.Load() != nil {
		t.Error("look-aside list should be empty")
	}
}

func TestInitializeInheritedNotRerun(t *testing.T) {
	vm := newTestVM(t)
	initialize := vm.Selectors.Intern("initialize")
	var count atomic.Int32

	mustLoad(t, vm, ClassSpec{
		Name: "Base",
		ClassMethods: []*Method{NewMethod(initialize, "", func(Receiver, Selector, ...any) any {
			count.Add(1)
			return nil
		})},
	})
	a := mustLoad(t, vm, ClassSpec{Name: "A", Superclass: "Base"})
	b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "Base"})

	vm.InitializeClass(a)
	vm.InitializeClass(b)
	if n := count.Load(); n != 1 {
		t.Errorf("inherited initialize ran %d times, want 1", n)
	}
}

func TestInitializePanicStillPublishes(t *testing.T) {
	vm := newTestVM(t)
	initialize := vm.Selectors.Intern("initialize")
	ping := vm.Selectors.Intern("ping")
	boom := errors.New("boom")

	c := mustLoad(t, vm, ClassSpec{
		Name:    "C",
		Methods: []*Method{NewMethod(ping, "", returning("pong"))},
		ClassMethods: []*Method{NewMethod(initialize, "", func(Receiver, Selector, ...any) any {
			panic(boom)
		})},
	})
	obj := vm.CreateInstance(c, 0)

	if r := recovered(func() { vm.Send(obj, ping) }); r != boom {
		t.Fatalf("panic = %v, want boom", r)
	}
	if !c.IsInitialized() || vm.Initializing(c) {
		t.Errorf("flags after panicking init: %v", c.Flags())
	}

	done := make(chan any)
	go func() { done <- vm.Send(obj, ping) }()
	select {
	case got := <-done:
		if got != "pong" {
			t.Errorf("send after failed init = %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send after failed init blocked")
	}
}

func TestInitializeUnresolvedIsFatal(t *testing.T) {
	vm := newTestVM(t)
	ping := vm.Selectors.Intern("ping")
	orphan := NewClass("Orphan", "Missing")
	vm.LoadClass(orphan)
	vm.ResolveClassLinks()

	r := recovered(func() { vm.Send(vm.CreateInstance(orphan, 0), ping) })
	fe := fatalCause(t, r)
	var ue *UnresolvedClassError
	if !errors.As(fe, &ue) || ue.Superclass != "Missing" {
		t.Errorf("fatal error = %v, want unresolved class", fe)
	}
}

func TestInitializeTypedSelector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TypeDependentDispatch = true
	vm := newTestVMWith(t, cfg)
	initialize := vm.Selectors.Register("initialize", "v16@0:8")
	ping := vm.Selectors.Intern("ping")

	var count atomic.Int32
	c := mustLoad(t, vm, ClassSpec{
		Name:    "C",
		Methods: []*Method{NewMethod(ping, "", returning("pong"))},
		ClassMethods: []*Method{NewMethod(initialize, "v16@0:8", func(_ Receiver, sel Selector, _ ...any) any {
			if sel != initialize {
				t.Errorf("setup invoked with selector %d, want %d", sel, initialize)
			}
			count.Add(1)
			return nil
		})},
	})

	obj := vm.CreateInstance(c, 0)
	for range 2 {
		if got := vm.Send(obj, ping); got != "pong" {
			t.Errorf("send = %v", got)
		}
	}
	if n := count.Load(); n != 1 {
		t.Errorf("typed initialize ran %d times, want 1", n)
	}
}

func TestInitializeFatalBuildReleasesLocks(t *testing.T) {
	vm := newTestVM(t)
	m := vm.Selectors.Intern("m")
	base := mustLoad(t, vm, ClassSpec{Name: "Base"})
	other := mustLoad(t, vm, ClassSpec{Name: "Other", Methods: []*Method{NewMethod(m, "", returning("other"))}})
	sub := mustLoad(t, vm, ClassSpec{Name: "Sub", Superclass: "Base", Methods: []*Method{NewMethod(m, "", returning("sub"))}})

	vm.InitializeClass(base)
	// A slot owned by an unrelated class makes Sub's build fail.
	base.DTable().Set(m, newSlot(other, m, NewMethod(m, "", returning("bad"))))

	fatalCause(t, recovered(func() { vm.InitializeClass(sub) }))

	done := make(chan any, 1)
	go func() { done <- vm.Send(vm.CreateInstance(other, 0), m) }()
	select {
	case got := <-done:
		if got != "other" {
			t.Errorf("send = %v, want other", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("VM deadlocked after a recovered fatal error")
	}
}

package vm

import (
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Inheritance and override
// ---------------------------------------------------------------------------

func TestDispatchInheritance(t *testing.T) {
	for _, kind := range dtableKinds {
		t.Run(string(kind), func(t *testing.T) {
			vm := newTestVMWith(t, Config{DTable: kind})
			m := vm.Selectors.Intern("m")
			impA := returning("A")

			a := mustLoad(t, vm, ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", impA)}})
			b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A"})

			slot := vm.Lookup(vm.CreateInstance(b, 0), m)
			if slot.Owner() != a {
				t.Errorf("owner = %v, want A", slot.Owner())
			}
			if got := slot.Invoke(nil, m); got != "A" {
				t.Errorf("inherited method returned %v, want A", got)
			}
			if slot != vm.Lookup(vm.CreateInstance(a, 0), m) {
				t.Error("B should alias A's slot")
			}
		})
	}
}

func TestDispatchOverride(t *testing.T) {
	for _, kind := range dtableKinds {
		t.Run(string(kind), func(t *testing.T) {
			vm := newTestVMWith(t, Config{DTable: kind})
			m := vm.Selectors.Intern("m")

			a := mustLoad(t, vm, ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning("A"))}})
			b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A", Methods: []*Method{NewMethod(m, "", returning("B"))}})

			if got := vm.Send(vm.CreateInstance(b, 0), m); got != "B" {
				t.Errorf("B instance got %v, want B", got)
			}
			if got := vm.Send(vm.CreateInstance(a, 0), m); got != "A" {
				t.Errorf("A instance got %v, want A", got)
			}
		})
	}
}

func TestDispatchClassMethods(t *testing.T) {
	vm := newTestVM(t)
	create := vm.Selectors.Intern("create")
	describe := vm.Selectors.Intern("describe")

	root := mustLoad(t, vm, ClassSpec{
		Name:         "Root",
		Methods:      []*Method{NewMethod(describe, "", returning("instance describe"))},
		ClassMethods: []*Method{NewMethod(create, "", returning("created"))},
	})
	sub := mustLoad(t, vm, ClassSpec{Name: "Sub", Superclass: "Root"})

	if got := vm.Send(sub, create); got != "created" {
		t.Errorf("class method via subclass = %v", got)
	}
	// Root instance methods answer class-side sends too
	if got := vm.Send(root, describe); got != "instance describe" {
		t.Errorf("root instance method as class method = %v", got)
	}
	if vm.Lookup(vm.CreateInstance(sub, 0), create) != vm.TrapSlot() {
		t.Error("class method must not answer instance sends")
	}
}

// ---------------------------------------------------------------------------
// Versioning and invalidation
// ---------------------------------------------------------------------------

func TestDispatchSharedSlotMutation(t *testing.T) {
	vm := newTestVM(t)

	foo := vm.Selectors.Register("foo", "")
	typed := vm.Selectors.Register("foo", "v@:i")
	if foo != 0 || typed != 1 {
		t.Fatalf("selector IDs = %d, %d; want 0, 1", foo, typed)
	}
	if got := vm.Selectors.EnumerateTypes("foo"); len(got) != 1 || got[0] != "v@:i" {
		t.Fatalf("EnumerateTypes(foo) = %v", got)
	}

	root := mustLoad(t, vm, ClassSpec{Name: "Root", Methods: []*Method{NewMethod(typed, "v@:i", returning(42))}})
	child := mustLoad(t, vm, ClassSpec{Name: "Child", Superclass: "Root"})
	obj := vm.CreateInstance(child, 0)

	slot := vm.Lookup(obj, typed)
	if got := slot.Invoke(obj, typed); got != 42 {
		t.Fatalf("first send = %v, want 42", got)
	}
	cached := NewCacheEntry(child, slot)

	vm.AddMethods(root, "", NewMethod(typed, "v@:i", returning(43)))

	if cached.Valid(child) {
		t.Error("cache entry should be invalid after the method changed")
	}
	if got := slot.Invoke(obj, typed); got != 43 {
		t.Errorf("old slot now returns %v, want 43", got)
	}
	if vm.Lookup(obj, typed) != slot {
		t.Error("slot should have been mutated in place")
	}
}

func TestDispatchVersionIsolation(t *testing.T) {
	vm := newTestVM(t)
	m := vm.Selectors.Intern("m")

	a := mustLoad(t, vm, ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning("A"))}})
	aObj := vm.CreateInstance(a, 0)
	cachedA := NewCacheEntry(a, vm.Lookup(aObj, m))

	// A new subclass overriding m leaves A's slot alone
	b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A", Methods: []*Method{NewMethod(m, "", returning("B"))}})
	if got := vm.Send(vm.CreateInstance(b, 0), m); got != "B" {
		t.Fatalf("B send = %v", got)
	}
	if !cachedA.Valid(a) {
		t.Error("loading an overriding subclass invalidated A's cache entry")
	}

	// Replacing A's own implementation bumps the same slot
	vm.ReplaceMethod(a, m, "", returning("A2"))
	if cachedA.Valid(a) {
		t.Error("replacing A's method should invalidate A's cache entry")
	}
	if cachedA.Slot != vm.Lookup(aObj, m) {
		t.Error("replace should happen in place")
	}
	if got := vm.Send(aObj, m); got != "A2" {
		t.Errorf("A send after replace = %v", got)
	}
}

func TestDispatchShadowInvalidatesInherited(t *testing.T) {
	vm := newTestVM(t)
	m := vm.Selectors.Intern("m")

	mustLoad(t, vm, ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning("A"))}})
	b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A"})
	bObj := vm.CreateInstance(b, 0)
	cachedB := NewCacheEntry(b, vm.Lookup(bObj, m))

	if !vm.AddMethod(b, m, "", returning("B")) {
		t.Fatal("AddMethod(B, m) = false")
	}
	if cachedB.Valid(b) {
		t.Error("override in B must invalidate the inherited slot cached for B")
	}
	if got := vm.Send(bObj, m); got != "B" {
		t.Errorf("B send = %v, want B", got)
	}
}

func TestDispatchMergeDown(t *testing.T) {
	vm := newTestVM(t)
	m := vm.Selectors.Intern("m")
	n := vm.Selectors.Intern("n")

	a := mustLoad(t, vm, ClassSpec{Name: "A"})
	mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A", Methods: []*Method{NewMethod(m, "", returning("B"))}})
	c := mustLoad(t, vm, ClassSpec{Name: "C", Superclass: "B"})
	cObj := vm.CreateInstance(c, 0)

	// Build every table
	vm.Send(cObj, m)

	vm.AddMethods(a, "", NewMethod(m, "", returning("A")), NewMethod(n, "", returning("An")))

	if got := vm.Send(cObj, n); got != "An" {
		t.Errorf("new method did not reach C: %v", got)
	}
	if got := vm.Send(cObj, m); got != "B" {
		t.Errorf("B's override was clobbered: %v", got)
	}
	if got := vm.Send(vm.CreateInstance(a, 0), m); got != "A" {
		t.Errorf("A send = %v", got)
	}
}

func TestDispatchTypeDependent(t *testing.T) {
	tests := []struct {
		name          string
		typeDependent bool
		wantUntyped   bool
	}{
		{"independent", false, true},
		{"dependent", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVMWith(t, Config{TypeDependentDispatch: tt.typeDependent})
			plain := vm.Selectors.Intern("value")
			typed := vm.Selectors.Register("value", "i@:")
			c := mustLoad(t, vm, ClassSpec{Name: "C", Methods: []*Method{NewMethod(typed, "i@:", returning(7))}})
			obj := vm.CreateInstance(c, 0)

			if got := vm.Send(obj, typed); got != 7 {
				t.Errorf("typed send = %v", got)
			}
			found := vm.Lookup(obj, plain) != vm.TrapSlot()
			if found != tt.wantUntyped {
				t.Errorf("untyped lookup found = %v, want %v", found, tt.wantUntyped)
			}
		})
	}
}

func TestDispatchConcurrentSendsDuringUpdate(t *testing.T) {
	vm := newTestVM(t)
	m := vm.Selectors.Intern("m")
	a := mustLoad(t, vm, ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning(0))}})
	b := mustLoad(t, vm, ClassSpec{Name: "B", Superclass: "A"})
	obj := vm.CreateInstance(b, 0)
	vm.Send(obj, m)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, ok := vm.Send(obj, m).(int); !ok {
					t.Error("send returned a non-int")
					return
				}
			}
		}()
	}
	for i := 1; i <= 100; i++ {
		vm.ReplaceMethod(a, m, "", returning(i))
	}
	close(stop)
	wg.Wait()

	if got := vm.Send(obj, m); got != 100 {
		t.Errorf("final send = %v, want 100", got)
	}
}

// ---------------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkLookupFastPath(b *testing.B) {
	vm := NewVM(DefaultConfig())
	defer vm.Close()
	m := vm.Selectors.Intern("m")
	root := NewClassFromSpec(ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning(1))}})
	vm.LoadClass(root)
	leaf := NewClassFromSpec(ClassSpec{Name: "B", Superclass: "A"})
	vm.LoadClass(leaf)
	vm.ResolveClassLinks()
	obj := vm.CreateInstance(leaf, 0)
	vm.Send(obj, m)

	b.ResetTimer()
	for b.Loop() {
		vm.Lookup(obj, m)
	}
}

func BenchmarkCallSiteSend(b *testing.B) {
	vm := NewVM(DefaultConfig())
	defer vm.Close()
	m := vm.Selectors.Intern("m")
	c := NewClassFromSpec(ClassSpec{Name: "A", Methods: []*Method{NewMethod(m, "", returning(1))}})
	vm.LoadClass(c)
	vm.ResolveClassLinks()
	obj := vm.CreateInstance(c, 0)
	site := vm.NewCallSite(m)

	b.ResetTimer()
	for b.Loop() {
		site.Send(obj)
	}
}

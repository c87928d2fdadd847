package vm

import (
	"slices"
	"testing"
)

// graph describes each class as name -> (superclass, metaclass superclass,
// metaclass isa) names, for comparing resolved hierarchies.
func graph(vm *VM, names ...string) map[string][3]string {
	name := func(c *Class) string {
		if c == nil {
			return ""
		}
		return c.String()
	}
	out := make(map[string][3]string)
	for _, n := range names {
		c := vm.ClassNamed(n)
		meta := c.Meta()
		out[n] = [3]string{name(c.Superclass()), name(meta.Superclass()), name(meta.ClassOf())}
	}
	return out
}

func TestResolveReverseOrder(t *testing.T) {
	load := func(vm *VM, order []ClassSpec) {
		for _, spec := range order {
			if !vm.LoadClass(NewClassFromSpec(spec)) {
				t.Fatalf("LoadClass(%s) failed", spec.Name)
			}
		}
		if n := vm.ResolveClassLinks(); n != 0 {
			t.Fatalf("%d classes left unresolved", n)
		}
	}
	specs := []ClassSpec{
		{Name: "Object"},
		{Name: "Shape", Superclass: "Object"},
		{Name: "Circle", Superclass: "Shape"},
		{Name: "Square", Superclass: "Shape"},
	}

	forward := newTestVM(t)
	load(forward, specs)
	reverse := newTestVM(t)
	reversed := slices.Clone(specs)
	slices.Reverse(reversed)
	load(reverse, reversed)

	names := []string{"Object", "Shape", "Circle", "Square"}
	want := graph(forward, names...)
	got := graph(reverse, names...)
	for _, n := range names {
		if got[n] != want[n] {
			t.Errorf("%s: reverse %v, forward %v", n, got[n], want[n])
		}
	}

	if want["Object"] != [3]string{"", "Object", "Object class"} {
		t.Errorf("root wiring = %v", want["Object"])
	}
	if want["Circle"] != [3]string{"Shape", "Shape class", "Object class"} {
		t.Errorf("leaf wiring = %v", want["Circle"])
	}

	shape := reverse.ClassNamed("Shape")
	subs := reverse.Subclasses(shape)
	if len(subs) != 2 {
		t.Errorf("Shape has %d subclasses, want 2", len(subs))
	}
	object := reverse.ClassNamed("Object")
	if !slices.Contains(reverse.Subclasses(object), object.Meta()) {
		t.Error("root metaclass should be a subclass of the root")
	}
}

func TestResolveAcrossBatches(t *testing.T) {
	vm := newTestVM(t)
	leaf := NewClass("Leaf", "Base")
	vm.LoadClass(leaf)

	if n := vm.ResolveClassLinks(); n != 1 {
		t.Fatalf("unresolved = %d, want 1", n)
	}
	if leaf.IsResolved() || vm.ResolveClass(leaf) {
		t.Fatal("Leaf resolved without its superclass")
	}

	vm.LoadClass(NewClass("Base", ""))
	if n := vm.ResolveClassLinks(); n != 0 {
		t.Fatalf("unresolved = %d, want 0", n)
	}
	if leaf.Superclass() == nil || leaf.Superclass().Name != "Base" {
		t.Errorf("Leaf superclass = %v", leaf.Superclass())
	}
	// Idempotent
	if n := vm.ResolveClassLinks(); n != 0 {
		t.Errorf("second pass left %d unresolved", n)
	}
	if len(vm.Subclasses(leaf.Superclass())) != 2 {
		t.Error("re-running the resolver must not relink classes")
	}
}

func TestResolveCycle(t *testing.T) {
	vm := newTestVM(t)
	vm.LoadClass(NewClass("X", "Y"))
	vm.LoadClass(NewClass("Y", "X"))

	if n := vm.ResolveClassLinks(); n != 2 {
		t.Errorf("unresolved = %d, want 2", n)
	}
	if len(vm.Unresolved()) != 2 {
		t.Errorf("Unresolved() = %v", vm.Unresolved())
	}
}

func TestLoadClassDuplicate(t *testing.T) {
	vm := newTestVM(t)
	first := NewClass("Dup", "")
	if !vm.LoadClass(first) {
		t.Fatal("first LoadClass failed")
	}
	if vm.LoadClass(NewClass("Dup", "")) {
		t.Error("duplicate LoadClass should fail")
	}
	if vm.ClassNamed("Dup") != first {
		t.Error("duplicate replaced the original")
	}
	if !first.Has(ClassRegistered) || !first.Meta().Has(ClassRegistered) {
		t.Errorf("flags = %v", first.Flags())
	}
}

package vm

import (
	"errors"
	"testing"
)

func newTestVM(t *testing.T) *VM {
	t.Helper()
	return newTestVMWith(t, DefaultConfig())
}

func newTestVMWith(t *testing.T, cfg Config) *VM {
	t.Helper()
	vm := NewVM(cfg)
	t.Cleanup(vm.Close)
	return vm
}

func returning(v any) IMP {
	return func(Receiver, Selector, ...any) any { return v }
}

// mustLoad loads a class built from spec and runs a resolver pass.
func mustLoad(t *testing.T, vm *VM, spec ClassSpec) *Class {
	t.Helper()
	c := NewClassFromSpec(spec)
	if !vm.LoadClass(c) {
		t.Fatalf("LoadClass(%s) = false", spec.Name)
	}
	vm.ResolveClassLinks()
	return c
}

// recovered runs f and returns what it panicked with, or nil.
func recovered(f func()) (r any) {
	defer func() { r = recover() }()
	f()
	return nil
}

func fatalCause(t *testing.T, r any) *FatalError {
	t.Helper()
	err, ok := r.(error)
	if !ok {
		t.Fatalf("panic value %v is not an error", r)
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		t.Fatalf("panic %v is not a *FatalError", err)
	}
	return fe
}

package main

import (
	"fmt"
	"strings"

	"github.com/chazu/objrt/vm"
	"github.com/chazu/objrt/vm/loader"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("objrt")

// builtinSymbols are the implementations module images can bind to when
// run from the command line.
func builtinSymbols() loader.Symbols {
	syms := loader.Symbols{
		"objrt.self":  func(self vm.Receiver, _ vm.Selector, _ ...any) any { return self },
		"objrt.nil":   func(vm.Receiver, vm.Selector, ...any) any { return nil },
		"objrt.true":  func(vm.Receiver, vm.Selector, ...any) any { return true },
		"objrt.false": func(vm.Receiver, vm.Selector, ...any) any { return false },
		"objrt.class": func(self vm.Receiver, _ vm.Selector, _ ...any) any {
			return self.ClassOf().NonMeta().Name
		},
		"objrt.describe": describe,
		"objrt.ivars":    ivars,
		"objrt.log": func(self vm.Receiver, sel vm.Selector, _ ...any) any {
			log.Noticef("%s received %d", describe(self, sel), sel)
			return nil
		},
	}
	for i := range 4 {
		syms[fmt.Sprintf("objrt.ivar%d", i)] = func(self vm.Receiver, _ vm.Selector, _ ...any) any {
			if o, ok := self.(*vm.Object); ok {
				return o.Ivar(i)
			}
			return nil
		}
	}
	return syms
}

func describe(self vm.Receiver, _ vm.Selector, _ ...any) any {
	switch r := self.(type) {
	case *vm.Class:
		return r.String()
	case *vm.Object:
		if c := r.ClassOf(); c != nil {
			return "a " + c.Name
		}
		return "a disposed object"
	}
	return fmt.Sprint(self)
}

func ivars(self vm.Receiver, _ vm.Selector, _ ...any) any {
	o, ok := self.(*vm.Object)
	if !ok {
		return ""
	}
	parts := make([]string, len(o.Ivars))
	for i, v := range o.Ivars {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

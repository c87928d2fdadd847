// Package loader reads compiled module images and feeds their selectors,
// classes, categories and static instances into a VM. A module image is a
// CBOR document; method implementations are referenced by symbol name and
// bound to Go functions supplied by the host.
package loader

import "github.com/google/uuid"

// FormatVersion is the module image format written by this package.
const FormatVersion = 1

// Module is one load batch.
type Module struct {
	Format     uint8            `cbor:"1,keyasint"`
	ID         uuid.UUID        `cbor:"2,keyasint"`
	Name       string           `cbor:"3,keyasint"`
	Selectors  []SelectorDesc   `cbor:"4,keyasint,omitempty"`
	Classes    []ClassDesc      `cbor:"5,keyasint,omitempty"`
	Categories []CategoryDesc   `cbor:"6,keyasint,omitempty"`
	Statics    []StaticInstance `cbor:"7,keyasint,omitempty"`
}

// SelectorDesc is a raw selector reference.
type SelectorDesc struct {
	Name  string `cbor:"1,keyasint"`
	Types string `cbor:"2,keyasint,omitempty"`
}

// MethodDesc describes one method. Symbol names the implementation in the
// loader's symbol table.
type MethodDesc struct {
	Selector string `cbor:"1,keyasint"`
	Types    string `cbor:"2,keyasint,omitempty"`
	Symbol   string `cbor:"3,keyasint"`
}

// IvarDesc describes one instance variable.
type IvarDesc struct {
	Name string `cbor:"1,keyasint"`
	Type string `cbor:"2,keyasint,omitempty"`
}

// ClassDesc describes a class and its metaclass. Superclass is empty for
// root classes.
type ClassDesc struct {
	Name         string       `cbor:"1,keyasint"`
	Superclass   string       `cbor:"2,keyasint,omitempty"`
	Version      int64        `cbor:"3,keyasint,omitempty"`
	Ivars        []IvarDesc   `cbor:"4,keyasint,omitempty"`
	Methods      []MethodDesc `cbor:"5,keyasint,omitempty"`
	ClassMethods []MethodDesc `cbor:"6,keyasint,omitempty"`
	Protocols    []string     `cbor:"7,keyasint,omitempty"`
}

// CategoryDesc describes methods added to an existing class.
type CategoryDesc struct {
	Name         string       `cbor:"1,keyasint"`
	Class        string       `cbor:"2,keyasint"`
	Methods      []MethodDesc `cbor:"3,keyasint,omitempty"`
	ClassMethods []MethodDesc `cbor:"4,keyasint,omitempty"`
	Protocols    []string     `cbor:"5,keyasint,omitempty"`
}

// StaticInstance is an object emitted by the compiler whose class pointer is
// fixed up at load time. Values fill the leading instance variables.
type StaticInstance struct {
	Name   string   `cbor:"1,keyasint"`
	Class  string   `cbor:"2,keyasint"`
	Values []string `cbor:"3,keyasint,omitempty"`
}

// selectorRefs returns every selector the module references: the explicit
// array first, then those named by methods.
func (m *Module) selectorRefs() []SelectorDesc {
	refs := append([]SelectorDesc(nil), m.Selectors...)
	add := func(ms []MethodDesc) {
		for _, md := range ms {
			refs = append(refs, SelectorDesc{Name: md.Selector, Types: md.Types})
		}
	}
	for _, c := range m.Classes {
		add(c.Methods)
		add(c.ClassMethods)
	}
	for _, c := range m.Categories {
		add(c.Methods)
		add(c.ClassMethods)
	}
	return refs
}

// symbols returns every implementation symbol the module references.
func (m *Module) symbols() []string {
	var out []string
	add := func(ms []MethodDesc) {
		for _, md := range ms {
			out = append(out, md.Symbol)
		}
	}
	for _, c := range m.Classes {
		add(c.Methods)
		add(c.ClassMethods)
	}
	for _, c := range m.Categories {
		add(c.Methods)
		add(c.ClassMethods)
	}
	return out
}

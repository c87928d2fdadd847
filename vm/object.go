package vm

import "sync/atomic"

// Receiver is anything a message can be sent to.
type Receiver interface {
	// ClassOf returns the class whose dtable serves messages to the
	// receiver: an object's class, or a class's metaclass.
	ClassOf() *Class
}

// Object is an instance of a class. The class pointer sits first and is
// swapped atomically so SetClass is safe against concurrent sends.
type Object struct {
	isa   atomic.Pointer[Class]
	Ivars []any
	Extra []byte
}

// ClassOf returns the object's class. It is nil-safe.
func (o *Object) ClassOf() *Class {
	if o == nil {
		return nil
	}
	return o.isa.Load()
}

// SetClass changes the object's class and returns the previous one.
func (o *Object) SetClass(c *Class) *Class {
	return o.isa.Swap(c)
}

// Ivar returns the instance variable at index i, or nil if out of range.
func (o *Object) Ivar(i int) any {
	if i < 0 || i >= len(o.Ivars) {
		return nil
	}
	return o.Ivars[i]
}

// SetIvar sets the instance variable at index i.
func (o *Object) SetIvar(i int, v any) {
	if i >= 0 && i < len(o.Ivars) {
		o.Ivars[i] = v
	}
}

// IvarNamed returns the instance variable called name.
func (o *Object) IvarNamed(name string) (any, bool) {
	c := o.ClassOf()
	if c == nil {
		return nil, false
	}
	i := c.IvarIndex(name)
	if i < 0 {
		return nil, false
	}
	return o.Ivar(i), true
}

// isNil reports whether r is a nil interface or a typed nil receiver.
func isNil(r Receiver) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *Object:
		return v == nil
	case *Class:
		return v == nil
	}
	return false
}

package vm

// IMP is a method implementation. It receives the receiver the message was
// delivered to, the selector that was sent and the message arguments.
type IMP func(self Receiver, sel Selector, args ...any) any

// Method binds an implementation to a selector on a declaring class.
//
// Methods are identified by pointer: replacing an implementation always
// installs a new *Method, which is how the dtable builder tells a changed
// method from one it has already seen.
type Method struct {
	Selector Selector
	Types    string
	Imp      IMP
	Class    *Class
}

// NewMethod creates a method for sel.
func NewMethod(sel Selector, types string, imp IMP) *Method {
	return &Method{Selector: sel, Types: types, Imp: imp}
}

// MethodList is one batch of methods attached to a class: either the
// class's own methods or one category's contribution. Lists are chained
// newest first.
type MethodList struct {
	Methods  []*Method
	Category string // empty for the class's own list

	next     *MethodList
	loadSent bool
}

// Next returns the next older list.
func (l *MethodList) Next() *MethodList { return l.next }

// Len returns the number of methods in the list.
func (l *MethodList) Len() int { return len(l.Methods) }

// ---------------------------------------------------------------------------
// Arity adapters
// ---------------------------------------------------------------------------

// IMP0 adapts a function taking only the receiver.
func IMP0(fn func(self Receiver) any) IMP {
	return func(self Receiver, _ Selector, _ ...any) any {
		return fn(self)
	}
}

// IMP1 adapts a function taking one argument. A missing argument is nil.
func IMP1(fn func(self Receiver, a any) any) IMP {
	return func(self Receiver, _ Selector, args ...any) any {
		return fn(self, arg(args, 0))
	}
}

// IMP2 adapts a function taking two arguments.
func IMP2(fn func(self Receiver, a, b any) any) IMP {
	return func(self Receiver, _ Selector, args ...any) any {
		return fn(self, arg(args, 0), arg(args, 1))
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

package vm

import (
	"errors"
	"fmt"
)

// ErrClassExists is returned when a class name is already taken by a live class.
var ErrClassExists = errors.New("class already exists")

// FatalError reports a condition the runtime cannot continue from: a
// corrupt dispatch table, an unresolved class used for dispatch, or an
// exhausted selector space. It is raised with panic after being logged.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return "objrt: fatal: " + e.Op + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error { return e.Err }

// UnrecognizedSelectorError is raised by the default forwarding slot when a
// message reaches a receiver that implements nothing for it.
type UnrecognizedSelectorError struct {
	Class    string
	Selector string
	Meta     bool
}

func (e *UnrecognizedSelectorError) Error() string {
	sign := "-"
	if e.Meta {
		sign = "+"
	}
	return fmt.Sprintf("%s[%s %s]: unrecognized selector", sign, e.Class, e.Selector)
}

// UnresolvedClassError describes a class whose superclass never arrived.
type UnresolvedClassError struct {
	Class      string
	Superclass string
}

func (e *UnresolvedClassError) Error() string {
	return fmt.Sprintf("class %s is unresolved: superclass %s not loaded", e.Class, e.Superclass)
}

// fatal logs err at critical level and panics with a *FatalError.
func fatal(op string, err error) {
	log.Criticalf("%s: %s", op, err)
	panic(&FatalError{Op: op, Err: err})
}

func fatalf(op, format string, args ...any) {
	fatal(op, fmt.Errorf(format, args...))
}

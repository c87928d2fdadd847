// Package vm implements the objrt dispatch engine.
//
// This package contains:
//   - Selector uniquing into dense UIDs
//   - The lock-free class registry and the class graph resolver
//   - Per-class dispatch tables (dtables) with copy-on-write inheritance
//   - The one-time class initialization state machine
//   - Message lookup, super lookup and the inline cache protocol
//
// Everything hangs off a *VM, which owns the selector table, the class
// registry and the locks that serialize structural mutation. Ordinary
// dispatch through an initialized class never takes a lock.
package vm

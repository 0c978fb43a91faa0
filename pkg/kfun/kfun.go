// Package kfun defines the narrow, typed interfaces through which the
// interpreter reaches the driver and kernel-function (kfun) table — the
// only channel by which interpreted code touches the outside world, per
// the runtime's external-collaborator boundary. Grounded on the
// teacher's Dispatcher.Send fallback-chain shape, generalized from a
// single string-keyed chain to a fixed-arity dispatch table indexed by
// kfun number.
package kfun

import "github.com/dgdvm/core/pkg/value"

// Kfun is a single kernel function implementation: a primitive the
// interpreter's CALL_KFUNC family invokes directly, bypassing program
// dispatch. args are already evaluated and in call order.
type Kfun func(args []value.Value) (value.Value, error)

// Table maps kfun numbers (as encoded in a Control block's bytecode) to
// their implementations. It is immutable once built and shared by every
// interpreter instance in a process.
type Table struct {
	byNumber []Kfun
	byName   map[string]int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{byName: make(map[string]int)}
}

// Register adds fn under name, assigning it the next kfun number, and
// returns that number for embedding into compiled bytecode.
func (t *Table) Register(name string, fn Kfun) int {
	n := len(t.byNumber)
	t.byNumber = append(t.byNumber, fn)
	t.byName[name] = n
	return n
}

// Lookup resolves a kfun by its assigned number.
func (t *Table) Lookup(number int) (Kfun, bool) {
	if number < 0 || number >= len(t.byNumber) {
		return nil, false
	}
	return t.byNumber[number], true
}

// Number resolves a kfun by name, for tooling/debugging; the interpreter
// itself only ever uses the numeric form compiled into bytecode.
func (t *Table) Number(name string) (int, bool) {
	n, ok := t.byName[name]
	return n, ok
}

// Driver is the set of callbacks the embedding application provides:
// pkg/interp invokes it for uncaught errors and resource-limit checks;
// the object touch/creator queries are part of the interface but are not
// issued by pkg/interp. A driver is reached only
// through this interface — never a concrete type — so the interpreter
// core has no dependency on any particular embedding.
type Driver interface {
	// RuntimeError is called with an uncaught runtime or user error's
	// message and the call trace that produced it, once the offending
	// top-level call has unwound.
	RuntimeError(message string, trace []string)

	// AtomicError is called instead of RuntimeError when the uncaught
	// error occurred inside an atomic function; the dataspace mutations
	// made during that call have already been rolled back by the time
	// this is called.
	AtomicError(message string, trace []string)

	// RuntimeRlimits is consulted before entering a new RLIMITS scope,
	// and may clamp the requested depth/ticks (e.g. to enforce an
	// installation-wide ceiling); it returns the depth/ticks actually
	// granted.
	RuntimeRlimits(requestedDepth int, requestedTicks int64) (depth int, ticks int64)

	// Touch reports that the object objName is referenced by the program
	// progName. pkg/interp never calls it.
	Touch(objName string, progName string)

	// Creator returns the creator name associated with progName.
	// pkg/interp never calls it and performs no creator-based visibility
	// check.
	Creator(progName string) string
}

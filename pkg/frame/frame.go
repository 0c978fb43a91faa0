// Package frame implements the interpreter's activation record: the
// argument/frame/stack-pointer triple, an owned local value stack, and
// the link to the rlimits scope the frame executes under. Modeled on the
// teacher's CallFrame (argp/fp/sp generalized from the teacher's
// Method/Receiver/IP/BP shape), dropping the Smalltalk-specific
// block-closure fields in favor of the spec's own argp/fp/sp convention.
package frame

import (
	"github.com/dgdvm/core/pkg/rlimits"
	"github.com/dgdvm/core/pkg/value"
)

// defaultStackSize is the local value stack capacity a Frame starts with
// before growing onto the heap; small enough that most calls never need
// to grow past it.
const defaultStackSize = 32

// Frame is one activation record: a function call in progress. The
// value stack grows toward index 0 (sp decreases as values are pushed),
// matching the spec's "sp grows toward 0" convention so that argp, fp,
// and sp can be compared with simple integer ordering.
type Frame struct {
	Parent *Frame
	Scope  *rlimits.Scope

	ProgName string
	FuncName string

	stack []value.Value
	argp  int // one above the first argument: Arg(i) is stack[argp-1-i]
	fp    int // one above the first local (== argp - numArgs): Local(i) is stack[fp-1-i]
	sp    int // index of the top of stack; grows downward

	// owned reports whether stack is this Frame's private buffer (true)
	// or was grown onto the heap and is no longer eligible for the
	// interpreter's stack-allocation fast path. Mirrors the "sos" (stack
	// on stack) vs heap distinction in the reference frame design.
	owned bool

	// objIndex/objGeneration identify the object this frame is executing
	// on behalf of, for ivar access and odest propagation.
	objIndex      int
	objGeneration uint32
}

// New creates a frame for a call with the given arguments, executing
// under scope, on behalf of the object at (objIndex, objGeneration).
func New(parent *Frame, scope *rlimits.Scope, progName, funcName string, args []value.Value, numLocals int, objIndex int, objGeneration uint32) *Frame {
	size := defaultStackSize
	total := len(args) + numLocals
	if total > size {
		size = total
	}
	f := &Frame{
		Parent:        parent,
		Scope:         scope,
		ProgName:      progName,
		FuncName:      funcName,
		stack:         make([]value.Value, size),
		owned:         true,
		objIndex:      objIndex,
		objGeneration: objGeneration,
	}
	// Layout from high index to low: [args) at the top, then locals, then
	// the temp-value stack growing further down as values are pushed.
	f.argp = size
	f.fp = size - len(args)
	f.sp = f.fp - numLocals
	for i, a := range args {
		f.stack[f.argp-1-i] = a
	}
	for i := f.sp; i < f.fp; i++ {
		f.stack[i] = value.Nil
	}
	return f
}

// ObjectRef returns (index, generation) of the object this frame
// executes on behalf of.
func (f *Frame) ObjectRef() (int, uint32) {
	return f.objIndex, f.objGeneration
}

// Push grows the stack (onto the heap, if the owned buffer is full) and
// pushes v.
func (f *Frame) Push(v value.Value) {
	if f.sp == 0 {
		f.grow()
	}
	f.sp--
	f.stack[f.sp] = v
}

func (f *Frame) grow() {
	bigger := make([]value.Value, len(f.stack)*2)
	copy(bigger[len(f.stack):], f.stack)
	shift := len(f.stack)
	f.stack = bigger
	f.sp += shift
	f.fp += shift
	f.argp += shift
	f.owned = false
}

// Pop removes and returns the top of stack. Panics on underflow, which
// indicates an interpreter bug (popping past a function's own arguments),
// not a runtime-level user error.
func (f *Frame) Pop() value.Value {
	if f.sp >= f.argp {
		panic("frame: stack underflow")
	}
	v := f.stack[f.sp]
	f.sp++
	return v
}

// Peek returns the value n slots below the top without removing it (0 is
// the top of stack).
func (f *Frame) Peek(n int) value.Value {
	return f.stack[f.sp+n]
}

// Depth returns the number of values currently on the stack above fp.
func (f *Frame) Depth() int {
	return f.fp - f.sp
}

// Local returns local variable i (0-based, counted up from fp).
func (f *Frame) Local(i int) value.Value {
	return f.stack[f.fp-1-i]
}

// SetLocal stores v into local variable i.
func (f *Frame) SetLocal(i int, v value.Value) {
	f.stack[f.fp-1-i] = v
}

// Arg returns argument i (0-based, counted up from argp towards fp).
func (f *Frame) Arg(i int) value.Value {
	return f.stack[f.argp-1-i]
}

// SetArg stores v into argument i. Rebinding an argument slot (rather
// than mutating its value in place) is how a copy-on-write store targeting
// an argument rebinds the caller-visible local after the call returns a
// value through it by reference semantics at the language level.
func (f *Frame) SetArg(i int, v value.Value) {
	f.stack[f.argp-1-i] = v
}

// NumArgs returns the number of arguments this frame was called with.
func (f *Frame) NumArgs() int {
	return f.argp - f.fp
}

// ForEachValue calls fn for every live Value on the frame's stack,
// arguments, and locals — used by destructed-object propagation (odest)
// to rewrite stale Object/LWObject references to Nil across the whole
// frame.
func (f *Frame) ForEachValue(fn func(v value.Value) value.Value) {
	for i := f.sp; i < f.argp; i++ {
		f.stack[i] = fn(f.stack[i])
	}
}

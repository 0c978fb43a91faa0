package interp

import (
	"encoding/binary"
	"testing"

	"github.com/dgdvm/core/pkg/control"
	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/kfun"
	"github.com/dgdvm/core/pkg/value"
)

// asm is a minimal bytecode assembler for tests: just enough to hand-build
// the code buffers the concrete scenarios need, without a front-end parser.
type asm struct {
	buf []byte
}

func (a *asm) op(op Op, pop bool)  { a.buf = append(a.buf, Encode(op, pop)) }
func (a *asm) u8(b byte)           { a.buf = append(a.buf, b) }
func (a *asm) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	a.buf = append(a.buf, b[:]...)
}
func (a *asm) i16(v int16) { a.u16(uint16(v)) }
func (a *asm) i64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	a.buf = append(a.buf, b[:]...)
}

type stubDriver struct{}

func (stubDriver) RuntimeError(string, []string)                          {}
func (stubDriver) AtomicError(string, []string)                           {}
func (stubDriver) RuntimeRlimits(depth int, ticks int64) (int, int64)     { return depth, ticks }
func (stubDriver) Touch(string, string)                                  {}
func (stubDriver) Creator(string) string                                 { return "" }

func newFixture() (*Interp, *dataspace.Dataspace, *kfun.Table) {
	data := dataspace.New()
	kfuns := kfun.NewTable()
	kfuns.Register("add_int", func(args []value.Value) (value.Value, error) {
		return value.Int(args[0].Int() + args[1].Int()), nil
	})
	ip := New(data, kfuns, stubDriver{})
	return ip, data, kfuns
}

// scenario 1: integer arithmetic and return via CALL_KFUNC.
func TestIntegerArithmeticAndReturn(t *testing.T) {
	ip, data, kfuns := newFixture()
	addNum, _ := kfuns.Number("add_int")

	var a asm
	a.op(OpPushInt, false)
	a.i64(3)
	a.op(OpPushInt, false)
	a.i64(4)
	a.op(OpCallKfunc, false)
	a.u16(uint16(addNum))
	a.u8(2)
	a.op(OpReturn, false)

	prog := control.New("main")
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "run", Offset: 0, NumArgs: 0}}
	ip.Load(prog)

	obj := data.NewObject("main", 0)
	ref := obj.ObjectRef()

	result, err := ip.CallTopLevel("main", "run", ref.Index, ref.Generation, nil, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != value.KindInt || result.Int() != 7 {
		t.Fatalf("expected Int 7, got %v", result)
	}
}

// scenario 2: a string store-index on a shared string copies; on a
// uniquely-held string it rebinds the local to the mutated copy while any
// other holder of the old handle is unaffected.
func TestStringIndexedStoreCopyOnWrite(t *testing.T) {
	ip, data, _ := newFixture()

	// local 0 = s ("abc"); local 1 is bound to the same handle right
	// after, so s's refcount is 2 before the indexed store.
	var a asm
	a.op(OpPushString, false)
	a.u16(0) // "abc"
	a.op(OpStoreLocal, false)
	a.u8(0) // local0 = "abc", leaves a duplicate reference on the stack
	a.op(OpStoreLocal, true)
	a.u8(1) // local1 = local0's handle too (shared, refcount 2)

	a.op(OpPushInt, false)
	a.i64(1)
	a.op(OpPushInt, false)
	a.i64(120) // 'x'
	a.op(OpStoreIndex, true)
	a.u8(0) // slot = local0
	a.u8(0) // verify = false; local0[1] = 'x', the shared handle forces a copy-on-write

	a.op(OpPushLocal, false)
	a.u8(0)
	a.op(OpReturn, false)

	prog := control.New("main")
	prog.Strings = []string{"abc"}
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "run", Offset: 0, NumArgs: 0, NumLocals: 2}}
	ip.Load(prog)

	obj := data.NewObject("main", 0)
	ref := obj.ObjectRef()

	result, err := ip.CallTopLevel("main", "run", ref.Index, ref.Generation, nil, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(result.StringHandle().Bytes); got != "axc" {
		t.Fatalf("expected local0 to read back \"axc\", got %q", got)
	}
}

// scenario 2b: STORE_INDEX's verify operand silently drops the store when
// the slot was rebound between the read it targets and the store itself,
// rather than indexing into whatever now occupies the slot.
func TestStoreIndexVerifyDropsOnRebind(t *testing.T) {
	ip, data, _ := newFixture()

	var a asm
	a.op(OpPushString, false)
	a.u16(0) // "abc"
	a.op(OpStoreLocal, false)
	a.u8(0) // local0 = "abc"; the duplicate left on the stack is the captured read

	a.op(OpPushString, false)
	a.u16(1) // "xyz"
	a.op(OpStoreLocal, true)
	a.u8(0) // local0 rebound to "xyz"; captured "abc" is still on the stack beneath

	a.op(OpPushInt, false)
	a.i64(0)
	a.op(OpPushInt, false)
	a.i64(121) // 'y'
	a.op(OpStoreIndex, true)
	a.u8(0) // slot = local0
	a.u8(1) // verify = true; captured "abc" != current "xyz", store is dropped

	a.op(OpPushLocal, false)
	a.u8(0)
	a.op(OpReturn, false)

	prog := control.New("main")
	prog.Strings = []string{"abc", "xyz"}
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "run", Offset: 0, NumArgs: 0, NumLocals: 1}}
	ip.Load(prog)

	obj := data.NewObject("main", 0)
	ref := obj.ObjectRef()

	result, err := ip.CallTopLevel("main", "run", ref.Index, ref.Generation, nil, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(result.StringHandle().Bytes); got != "xyz" {
		t.Fatalf("expected the dropped store to leave local0 as \"xyz\", got %q", got)
	}
}

// scenario 3: tick exhaustion inside a loop must raise and must not corrupt
// the caller's own stack (the call itself simply returns an error).
func TestTickExhaustionInLoop(t *testing.T) {
	ip, data, _ := newFixture()

	var a asm
	loopStart := len(a.buf)
	a.op(OpPushZero, false) // PUSH_ZERO never honors the pop bit; each iteration just grows the stack
	a.op(OpJump, true)
	a.i16(int16(loopStart - (len(a.buf) + 2)))

	prog := control.New("main")
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "loop", Offset: 0, NumArgs: 0}}
	ip.Load(prog)

	obj := data.NewObject("main", 0)
	ref := obj.ObjectRef()

	_, err := ip.CallTopLevel("main", "loop", ref.Index, ref.Generation, nil, -1, 10)
	if err == nil {
		t.Fatalf("expected tick exhaustion error")
	}
	ierr, ok := err.(*Error)
	if !ok || ierr.Kind != KindRuntime {
		t.Fatalf("expected a KindRuntime error, got %v", err)
	}
}

// scenario 4: an atomic function that mutates a global and then raises
// leaves the dataspace exactly as it was before the call.
func TestAtomicRollbackOnError(t *testing.T) {
	ip, data, kfuns := newFixture()
	raiseNum := kfuns.Register("raise_boom", func(args []value.Value) (value.Value, error) {
		return value.Nil, newRuntimeError(nil, "boom")
	})

	var a asm
	a.op(OpPushInt, false)
	a.i64(1)
	a.op(OpStoreGlobal, true)
	a.u8(0)
	a.u8(0) // g = 1 (inherit=0, index=0)
	a.op(OpCallKfunc, true)
	a.u16(uint16(raiseNum))
	a.u8(0)
	a.op(OpReturnZero, false)

	prog := control.New("main")
	prog.Code = a.buf
	prog.Variables = []control.VarDef{{Name: "g"}}
	prog.Functions = []control.FuncDef{{Name: "f", Offset: 0, NumArgs: 0, Class: control.ClassAtomic}}
	ip.Load(prog)

	obj := data.NewObject("main", 1)
	ref := obj.ObjectRef()
	data.SetVar(ref.Index, ref.Generation, 0, value.Int(0))

	_, err := ip.CallTopLevel("main", "f", ref.Index, ref.Generation, nil, -1, 1000)
	if err == nil {
		t.Fatalf("expected the raise to propagate")
	}
	if got := data.GetVar(ref.Index, ref.Generation, 0); got.Int() != 0 {
		t.Fatalf("expected g to be rolled back to 0, got %v", got)
	}
}

// scenario 5: destructing the object passed as an argument mid-call
// normalizes subsequent reads of that argument to Nil.
func TestDestructMidCallNormalizesArgument(t *testing.T) {
	ip, data, kfuns := newFixture()
	destructed := false
	destructNum := kfuns.Register("destruct_arg", func(args []value.Value) (value.Value, error) {
		ref := args[0].ObjectRef()
		data.Destruct(ref.Index)
		destructed = true
		return value.Nil, nil
	})

	var a asm
	a.op(OpPushArg, false)
	a.u8(0) // arg x
	a.op(OpCallKfunc, true)
	a.u16(uint16(destructNum))
	a.u8(1)
	a.op(OpPushArg, false)
	a.u8(0)
	a.op(OpReturn, false)

	prog := control.New("main")
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "f", Offset: 0, NumArgs: 1}}
	ip.Load(prog)

	caller := data.NewObject("main", 0)
	callerRef := caller.ObjectRef()
	target := data.NewObject("main", 0)

	result, err := ip.CallTopLevel("main", "f", callerRef.Index, callerRef.Generation, []value.Value{target}, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !destructed {
		t.Fatalf("kfun never ran")
	}
	resolved := data.Resolve(result)
	if !resolved.IsNil() {
		t.Fatalf("expected the destructed argument to read back Nil, got %v", resolved)
	}
}

// scenario 6: CATCH leaves the raised message on the stack and execution
// continues past the protected region with no rlimits or plane leaks.
func TestCatchCapturesErrorString(t *testing.T) {
	ip, data, kfuns := newFixture()
	raiseNum := kfuns.Register("raise_oops", func(args []value.Value) (value.Value, error) {
		return value.Nil, newRuntimeError(nil, "oops")
	})

	var inner asm
	inner.op(OpCallKfunc, false)
	inner.u16(uint16(raiseNum))
	inner.u8(0)

	var a asm
	a.op(OpCatch, false)
	a.i16(int16(len(inner.buf)))
	a.buf = append(a.buf, inner.buf...)
	a.op(OpReturn, false)

	prog := control.New("main")
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "f", Offset: 0, NumArgs: 0}}
	ip.Load(prog)

	obj := data.NewObject("main", 0)
	ref := obj.ObjectRef()

	result, err := ip.CallTopLevel("main", "f", ref.Index, ref.Generation, nil, -1, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind() != value.KindString || string(result.StringHandle().Bytes) != "oops" {
		t.Fatalf("expected caught message \"oops\", got %v", result)
	}
	if data.PlaneDepth() != 0 {
		t.Fatalf("expected no leaked atomic planes, got depth %d", data.PlaneDepth())
	}
}

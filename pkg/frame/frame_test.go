package frame

import (
	"testing"

	"github.com/dgdvm/core/pkg/value"
)

func TestArgsAndLocals(t *testing.T) {
	args := []value.Value{value.Int(1), value.Int(2)}
	f := New(nil, nil, "base", "create", args, 3, 0, 1)

	if f.NumArgs() != 2 {
		t.Fatalf("expected 2 args, got %d", f.NumArgs())
	}
	if f.Arg(0).Int() != 1 || f.Arg(1).Int() != 2 {
		t.Fatalf("unexpected args: %v %v", f.Arg(0), f.Arg(1))
	}
	if !f.Local(0).IsNil() {
		t.Fatalf("expected fresh local to be Nil")
	}
	f.SetLocal(0, value.Int(99))
	if f.Local(0).Int() != 99 {
		t.Fatalf("expected local to be set to 99")
	}
}

func TestPushPopOrder(t *testing.T) {
	f := New(nil, nil, "base", "f", nil, 0, 0, 1)
	f.Push(value.Int(1))
	f.Push(value.Int(2))
	if f.Pop().Int() != 2 {
		t.Fatalf("expected LIFO pop of 2 first")
	}
	if f.Pop().Int() != 1 {
		t.Fatalf("expected LIFO pop of 1 second")
	}
}

func TestStackGrowsOntoHeapWhenFull(t *testing.T) {
	f := New(nil, nil, "base", "f", nil, 0, 0, 1)
	for i := 0; i < defaultStackSize+5; i++ {
		f.Push(value.Int(int64(i)))
	}
	if f.owned {
		t.Fatalf("expected frame to have grown onto the heap")
	}
	if f.Peek(0).Int() != int64(defaultStackSize+4) {
		t.Fatalf("expected top of stack to survive growth")
	}
}

func TestPopUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on stack underflow")
		}
	}()
	f := New(nil, nil, "base", "f", []value.Value{value.Int(1)}, 0, 0, 1)
	f.Pop()
	f.Pop() // past the single argument: underflow
}

func TestForEachValueRewritesDestructed(t *testing.T) {
	f := New(nil, nil, "base", "f", nil, 1, 0, 1)
	stale := value.Object(7, 1)
	f.SetLocal(0, stale)
	f.ForEachValue(func(v value.Value) value.Value {
		if v.Kind() == value.KindObject && v.ObjectRef().Index == 7 {
			return value.Nil
		}
		return v
	})
	if !f.Local(0).IsNil() {
		t.Fatalf("expected stale object reference to be rewritten to Nil")
	}
}

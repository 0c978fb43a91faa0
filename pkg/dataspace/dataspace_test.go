package dataspace

import (
	"testing"

	"github.com/dgdvm/core/pkg/value"
)

func TestNewObjectAndVars(t *testing.T) {
	d := New()
	ref := d.NewObject("base", 2)
	or := ref.ObjectRef()

	d.SetVar(or.Index, or.Generation, 0, value.Int(42))
	got := d.GetVar(or.Index, or.Generation, 0)
	if got.Int() != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
}

func TestDestructNormalizesStaleReference(t *testing.T) {
	d := New()
	ref := d.NewObject("base", 1)
	or := ref.ObjectRef()

	d.Destruct(or.Index)

	resolved := d.Resolve(ref)
	if !resolved.IsNil() {
		t.Fatalf("expected a destructed object's reference to resolve to Nil")
	}
}

func TestRecycledSlotBumpsGeneration(t *testing.T) {
	d := New()
	first := d.NewObject("base", 1)
	fr := first.ObjectRef()
	d.Destruct(fr.Index)

	second := d.NewObject("base", 1)
	sr := second.ObjectRef()

	if sr.Index != fr.Index {
		t.Fatalf("expected slot reuse, got different index")
	}
	if sr.Generation == fr.Generation {
		t.Fatalf("expected generation to change on reuse")
	}
	if !d.Resolve(first).IsNil() {
		t.Fatalf("expected the old reference to resolve to Nil after slot reuse")
	}
	if d.Resolve(second).IsNil() {
		t.Fatalf("expected the new reference to resolve live")
	}
}

func TestAtomicPlaneDiscardRollsBack(t *testing.T) {
	d := New()
	ref := d.NewObject("base", 1)
	or := ref.ObjectRef()
	d.SetVar(or.Index, or.Generation, 0, value.Int(1))

	d.OpenPlane()
	d.SetVarPlaned(or.Index, or.Generation, 0, value.Int(2))
	if got := d.GetVar(or.Index, or.Generation, 0); got.Int() != 2 {
		t.Fatalf("expected staged write visible within the plane, got %v", got)
	}
	d.DiscardPlane()

	if got := d.GetVar(or.Index, or.Generation, 0); got.Int() != 1 {
		t.Fatalf("expected rollback to 1, got %v", got)
	}
}

func TestAtomicPlaneCommitKeepsWrite(t *testing.T) {
	d := New()
	ref := d.NewObject("base", 1)
	or := ref.ObjectRef()

	d.OpenPlane()
	d.SetVarPlaned(or.Index, or.Generation, 0, value.Int(99))
	d.CommitPlane()

	if got := d.GetVar(or.Index, or.Generation, 0); got.Int() != 99 {
		t.Fatalf("expected committed write to persist, got %v", got)
	}
}

func TestNestedPlaneDiscardInnerKeepsOuter(t *testing.T) {
	d := New()
	ref := d.NewObject("base", 1)
	or := ref.ObjectRef()

	d.OpenPlane()
	d.SetVarPlaned(or.Index, or.Generation, 0, value.Int(10))
	d.OpenPlane()
	d.SetVarPlaned(or.Index, or.Generation, 0, value.Int(20))
	d.DiscardPlane()
	if got := d.GetVar(or.Index, or.Generation, 0); got.Int() != 10 {
		t.Fatalf("expected outer plane's write of 10 to survive inner discard, got %v", got)
	}
	d.CommitPlane()
	if got := d.GetVar(or.Index, or.Generation, 0); got.Int() != 10 {
		t.Fatalf("expected 10 to persist after outer commit, got %v", got)
	}
}

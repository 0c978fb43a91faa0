package wire

import (
	"testing"

	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/value"
)

func TestValueRoundTrip(t *testing.T) {
	m := value.Mapping()
	m.MappingHandle().Set(value.String("k"), value.Int(9))

	cases := []value.Value{
		value.Nil,
		value.Int(42),
		value.Float(3.5),
		value.String("hi"),
		value.Array([]value.Value{value.Int(1), value.Int(2)}),
		m,
		value.Object(3, 7),
		value.LWObject([]value.Value{value.Object(0, 1), value.Int(5)}),
	}

	for _, v := range cases {
		w := FromValue(v)
		back := ToValue(w)
		if back.Kind() != v.Kind() {
			t.Fatalf("kind mismatch: got %v, want %v", back.Kind(), v.Kind())
		}
	}
}

func TestMarshalUnmarshalSnapshot(t *testing.T) {
	d := dataspace.New()
	obj := d.NewObject("main", 2)
	ref := obj.ObjectRef()
	d.SetVar(ref.Index, ref.Generation, 0, value.Int(5))
	d.SetVar(ref.Index, ref.Generation, 1, value.String("x"))

	snap := BuildSnapshot(d)
	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(got.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(got.Objects))
	}
	o := got.Objects[0]
	if o.ProgName != "main" {
		t.Errorf("prog name = %q, want main", o.ProgName)
	}
	if len(o.Vars) != 2 || o.Vars[0].Int != 5 || o.Vars[1].String != "x" {
		t.Errorf("unexpected vars: %+v", o.Vars)
	}
}

func TestMarshalIsCanonical(t *testing.T) {
	d := dataspace.New()
	d.NewObject("main", 0)
	snap := BuildSnapshot(d)

	a, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected identical bytes for identical snapshots")
	}
}

package control

import "testing"

func TestSerializeRoundTrip(t *testing.T) {
	c := New("base")
	c.AddString("hello")
	c.Code = []byte{0x01, 0x02, 0x03}
	c.Inherits = []Inherit{{ObjName: "base", FuncOffset: 0, VarOffset: 0}}
	c.Functions = []FuncDef{{Class: ClassProtected, Inherit: 0, Name: "create", Offset: 0, NumArgs: 0}}
	c.Variables = []VarDef{{Class: 0, Inherit: 0, Name: "count", Type: 0}}

	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Name != c.Name || string(got.Code) != string(c.Code) {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, c)
	}
	if len(got.Functions) != 1 || got.Functions[0].Name != "create" {
		t.Fatalf("expected function create to round-trip, got %+v", got.Functions)
	}
	if got.FindFunction("create") != 0 {
		t.Fatalf("expected FindFunction to resolve create to index 0")
	}
	if got.FindFunction("missing") != -1 {
		t.Fatalf("expected FindFunction to report -1 for an absent name")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	if _, err := Deserialize([]byte("nope")); err == nil {
		t.Fatalf("expected an error for bad magic")
	}
}

func TestAddStringDedups(t *testing.T) {
	c := New("x")
	i1 := c.AddString("foo")
	i2 := c.AddString("foo")
	if i1 != i2 {
		t.Fatalf("expected AddString to dedupe, got %d and %d", i1, i2)
	}
	if len(c.Strings) != 1 {
		t.Fatalf("expected single pooled string, got %d", len(c.Strings))
	}
}

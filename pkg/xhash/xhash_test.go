package xhash

import "testing"

func TestHashStringDeterministic(t *testing.T) {
	h1 := HashString("create", -1)
	h2 := HashString("create", -1)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %d != %d", h1, h2)
	}
}

func TestHashStringMaxlenTruncates(t *testing.T) {
	full := HashString("create_object", 6)
	truncated := HashString("create", 6)
	if full != truncated {
		t.Fatalf("maxlen did not truncate: %d != %d", full, truncated)
	}
}

func TestTableInsertLookup(t *testing.T) {
	tbl := New(16, -1, false)
	tbl.Insert("foo", 1)
	tbl.Insert("bar", 2)

	e := tbl.Lookup("foo")
	if e == nil || e.Value.(int) != 1 {
		t.Fatalf("expected foo=1, got %v", e)
	}
	e = tbl.Lookup("bar")
	if e == nil || e.Value.(int) != 2 {
		t.Fatalf("expected bar=2, got %v", e)
	}
	if tbl.Lookup("baz") != nil {
		t.Fatalf("expected baz to be absent")
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected len 2, got %d", tbl.Len())
	}
}

func TestTableMoveToFront(t *testing.T) {
	// force collisions into a single bucket
	tbl := New(1, -1, true)
	tbl.Insert("a", 1)
	tbl.Insert("b", 2)
	tbl.Insert("c", 3)

	if tbl.buckets[0].Key != "c" {
		t.Fatalf("expected most recently inserted entry at head, got %q", tbl.buckets[0].Key)
	}

	tbl.Lookup("a")
	if tbl.buckets[0].Key != "a" {
		t.Fatalf("expected lookup to move entry to front, got %q", tbl.buckets[0].Key)
	}
}

func TestTableDelete(t *testing.T) {
	tbl := New(8, -1, false)
	tbl.Insert("x", 10)
	if !tbl.Delete("x") {
		t.Fatalf("expected delete to succeed")
	}
	if tbl.Lookup("x") != nil {
		t.Fatalf("expected x to be gone")
	}
	if tbl.Delete("x") {
		t.Fatalf("expected second delete to fail")
	}
}

package swapstore

import (
	"path/filepath"
	"testing"

	"github.com/dgdvm/core/pkg/control"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "swap.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleControl(name string) *control.Control {
	c := control.New(name)
	c.Code = []byte{1, 2, 3}
	c.AddString("abc")
	c.Functions = []control.FuncDef{{Name: "f", NumArgs: 1, NumLocals: 2}}
	c.Variables = []control.VarDef{{Name: "g"}}
	return c
}

func TestSaveAndLoadControl(t *testing.T) {
	s := newTestStore(t)
	c := sampleControl("main")

	if err := s.SaveControl(c); err != nil {
		t.Fatalf("SaveControl failed: %v", err)
	}

	got, err := s.LoadControl("main")
	if err != nil {
		t.Fatalf("LoadControl failed: %v", err)
	}
	if got.Name != "main" || len(got.Functions) != 1 || got.Functions[0].Name != "f" {
		t.Errorf("round-tripped control mismatch: %+v", got)
	}
}

func TestLoadControlNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadControl("nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveControlReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	c1 := sampleControl("main")
	if err := s.SaveControl(c1); err != nil {
		t.Fatalf("SaveControl failed: %v", err)
	}

	c2 := sampleControl("main")
	c2.Functions = append(c2.Functions, control.FuncDef{Name: "g"})
	if err := s.SaveControl(c2); err != nil {
		t.Fatalf("SaveControl (replace) failed: %v", err)
	}

	got, err := s.LoadControl("main")
	if err != nil {
		t.Fatalf("LoadControl failed: %v", err)
	}
	if len(got.Functions) != 2 {
		t.Fatalf("expected the replaced control with 2 functions, got %d", len(got.Functions))
	}
}

func TestListControls(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		if err := s.SaveControl(sampleControl(name)); err != nil {
			t.Fatalf("SaveControl(%s) failed: %v", name, err)
		}
	}

	names, err := s.ListControls()
	if err != nil {
		t.Fatalf("ListControls failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %d: %v", len(names), names)
	}
}

func TestDeleteControl(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveControl(sampleControl("main")); err != nil {
		t.Fatalf("SaveControl failed: %v", err)
	}
	if err := s.DeleteControl("main"); err != nil {
		t.Fatalf("DeleteControl failed: %v", err)
	}
	if _, err := s.LoadControl("main"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSaveAndLoadPage(t *testing.T) {
	s := newTestStore(t)
	page := []byte{0xde, 0xad, 0xbe, 0xef}

	if err := s.SavePage("obj:42", page); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	got, err := s.LoadPage("obj:42")
	if err != nil {
		t.Fatalf("LoadPage failed: %v", err)
	}
	if string(got) != string(page) {
		t.Errorf("page mismatch: got %v, want %v", got, page)
	}

	if err := s.DeletePage("obj:42"); err != nil {
		t.Fatalf("DeletePage failed: %v", err)
	}
	if _, err := s.LoadPage("obj:42"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNewPageKeyIsUnique(t *testing.T) {
	a := NewPageKey()
	b := NewPageKey()
	if a == b {
		t.Fatalf("expected distinct page keys, got %q twice", a)
	}
}

func TestLoadPageNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadPage("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package kfun

import (
	"testing"

	"github.com/dgdvm/core/pkg/value"
)

func TestRegisterAndLookup(t *testing.T) {
	tbl := NewTable()
	n := tbl.Register("strlen", func(args []value.Value) (value.Value, error) {
		return value.Int(int64(len(args[0].StringHandle().Bytes))), nil
	})

	fn, ok := tbl.Lookup(n)
	if !ok {
		t.Fatalf("expected lookup to find registered kfun")
	}
	result, err := fn([]value.Value{value.String("hello")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Int() != 5 {
		t.Fatalf("expected 5, got %v", result)
	}

	if num, ok := tbl.Number("strlen"); !ok || num != n {
		t.Fatalf("expected Number to resolve back to %d, got %d ok=%v", n, num, ok)
	}
}

func TestLookupOutOfRange(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Lookup(5); ok {
		t.Fatalf("expected lookup of an unregistered number to fail")
	}
}

type mockDriver struct {
	errors []string
}

func (m *mockDriver) RuntimeError(message string, trace []string) { m.errors = append(m.errors, message) }
func (m *mockDriver) AtomicError(message string, trace []string)  { m.errors = append(m.errors, message) }
func (m *mockDriver) RuntimeRlimits(depth int, ticks int64) (int, int64) {
	return depth, ticks
}
func (m *mockDriver) Touch(objName, progName string) {}
func (m *mockDriver) Creator(progName string) string { return "" }

func TestDriverInterfaceSatisfiedByMock(t *testing.T) {
	var d Driver = &mockDriver{}
	d.RuntimeError("boom", nil)
	if m := d.(*mockDriver); len(m.errors) != 1 {
		t.Fatalf("expected mock to record the error")
	}
}

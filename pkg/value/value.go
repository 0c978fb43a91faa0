// Package value implements the runtime's tagged-union Value type: the
// single representation that flows across the interpreter's stack,
// frame locals, and dataspace variables.
package value

import "fmt"

// Kind discriminates the payload carried by a Value.
type Kind int

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindString
	KindArray
	KindMapping
	KindObject
	KindLWObject
	KindLvalue
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMapping:
		return "mapping"
	case KindObject:
		return "object"
	case KindLWObject:
		return "lwobject"
	case KindLvalue:
		return "lvalue"
	default:
		return "?"
	}
}

// ObjectRef identifies an object by its dataspace table slot and the
// generation stamped into that slot at creation time. A read through a
// stale generation (the object at that index has since been destructed
// and the slot recycled) must normalize to Nil rather than returning the
// wrong object — see Dataspace.Resolve.
type ObjectRef struct {
	Index      int
	Generation uint32
}

// StringHandle is a refcounted, possibly-shared string buffer. Indexed
// stores into a shared string must copy-on-write: CopyOnWrite returns a
// uniquely held copy that may then be mutated in place.
type StringHandle struct {
	Bytes    []byte
	refcount int32
}

// ArrayHandle is a refcounted, possibly-shared array of Values.
type ArrayHandle struct {
	Elems    []Value
	refcount int32
}

// MappingHandle is a refcounted, possibly-shared mapping. Entries are
// kept in insertion order with a parallel index for lookup, matching the
// need for deterministic enumeration order.
type MappingHandle struct {
	keys     []Value
	vals     []Value
	index    map[any]int
	refcount int32
}

// LWObjectHandle is a refcounted lightweight object: an array whose
// element 0 holds the originating program's Object reference (so method
// calls on a lightweight object can still resolve "which program") and
// whose remaining elements are its instance variables.
type LWObjectHandle struct {
	Elems    []Value
	refcount int32
}

// LvalueKind distinguishes what an Lvalue descriptor addresses.
type LvalueKind int

const (
	LvalueLocal LvalueKind = iota
	LvalueGlobal
	LvalueIndex
	LvalueMapIndex
)

// Lvalue is a store-target descriptor produced by indexing/local/global
// reference opcodes and consumed by STORE* opcodes. It never appears in
// a variable slot at rest; it exists only transiently on the interpreter
// stack between a push-lvalue opcode and its matching store.
type Lvalue struct {
	LKind LvalueKind
	Base  *Value // for LvalueIndex/LvalueMapIndex: the container being addressed
	Index Value  // for LvalueIndex: integer offset; for LvalueMapIndex: the key
	Slot  int    // for LvalueLocal/LvalueGlobal: frame or dataspace slot index
}

// Value is the tagged union used throughout the runtime. The zero Value
// is Nil.
type Value struct {
	kind Kind

	i int64
	f float64
	s *StringHandle
	a *ArrayHandle
	m *MappingHandle
	o ObjectRef
	l *LWObjectHandle
	v *Lvalue
}

// Nil is the canonical nil value.
var Nil = Value{kind: KindNil}

func Int(n int64) Value       { return Value{kind: KindInt, i: n} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// String creates a new, uniquely-owned string Value with refcount 1.
func String(s string) Value {
	return Value{kind: KindString, s: &StringHandle{Bytes: []byte(s), refcount: 1}}
}

// Array creates a new, uniquely-owned array Value with refcount 1.
func Array(elems []Value) Value {
	return Value{kind: KindArray, a: &ArrayHandle{Elems: elems, refcount: 1}}
}

// Mapping creates a new, empty, uniquely-owned mapping Value.
func Mapping() Value {
	return Value{kind: KindMapping, m: &MappingHandle{index: make(map[any]int), refcount: 1}}
}

// Object creates a Value addressing a dataspace object slot.
func Object(index int, generation uint32) Value {
	return Value{kind: KindObject, o: ObjectRef{Index: index, Generation: generation}}
}

// LWObject creates a new, uniquely-owned lightweight-object Value.
func LWObject(elems []Value) Value {
	return Value{kind: KindLWObject, l: &LWObjectHandle{Elems: elems, refcount: 1}}
}

// LvalueValue wraps an Lvalue descriptor as a transient stack Value.
func LvalueValue(lv Lvalue) Value {
	return Value{kind: KindLvalue, v: &lv}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNil() bool  { return v.kind == KindNil }

func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic(fmt.Sprintf("value: Int() on a %s", v.kind))
	}
	return v.i
}

func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic(fmt.Sprintf("value: Float() on a %s", v.kind))
	}
	return v.f
}

func (v Value) StringHandle() *StringHandle {
	if v.kind != KindString {
		panic(fmt.Sprintf("value: StringHandle() on a %s", v.kind))
	}
	return v.s
}

func (v Value) ArrayHandle() *ArrayHandle {
	if v.kind != KindArray {
		panic(fmt.Sprintf("value: ArrayHandle() on a %s", v.kind))
	}
	return v.a
}

func (v Value) MappingHandle() *MappingHandle {
	if v.kind != KindMapping {
		panic(fmt.Sprintf("value: MappingHandle() on a %s", v.kind))
	}
	return v.m
}

func (v Value) LWObjectHandle() *LWObjectHandle {
	if v.kind != KindLWObject {
		panic(fmt.Sprintf("value: LWObjectHandle() on a %s", v.kind))
	}
	return v.l
}

func (v Value) ObjectRef() ObjectRef {
	if v.kind != KindObject {
		panic(fmt.Sprintf("value: ObjectRef() on a %s", v.kind))
	}
	return v.o
}

func (v Value) Lvalue() Lvalue {
	if v.kind != KindLvalue {
		panic(fmt.Sprintf("value: Lvalue() on a %s", v.kind))
	}
	return *v.v
}

// Truthy follows the language's boolean convention: 0, 0.0, and Nil are
// false; everything else (including the empty string and empty array) is
// true.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	default:
		return true
	}
}

// ---------------------------------------------------------------------------
// reference-count discipline
// ---------------------------------------------------------------------------

// Ref increments v's refcount if it carries a refcounted handle. Values
// without a handle (Nil, Int, Float, Object, Lvalue) are unaffected.
func (v Value) Ref() Value {
	switch v.kind {
	case KindString:
		v.s.refcount++
	case KindArray:
		v.a.refcount++
	case KindMapping:
		v.m.refcount++
	case KindLWObject:
		v.l.refcount++
	}
	return v
}

// Del decrements v's refcount if it carries a refcounted handle, and
// reports whether that was the last reference. When it was, Del also
// recursively releases every Value the freed handle held, so a chain of
// nested Arrays/Mappings/LWObjects/Strings balances down to zero without
// the caller having to walk the structure itself. This does not reclaim
// cycles; a self-referencing Array will recurse forever, same as the reference
// implementation's refcounting.
func (v Value) Del() bool {
	switch v.kind {
	case KindString:
		v.s.refcount--
		return v.s.refcount <= 0
	case KindArray:
		v.a.refcount--
		last := v.a.refcount <= 0
		if last {
			for _, e := range v.a.Elems {
				e.Del()
			}
		}
		return last
	case KindMapping:
		v.m.refcount--
		last := v.m.refcount <= 0
		if last {
			v.m.Each(func(k, val Value) {
				k.Del()
				val.Del()
			})
		}
		return last
	case KindLWObject:
		v.l.refcount--
		last := v.l.refcount <= 0
		if last {
			for _, e := range v.l.Elems {
				e.Del()
			}
		}
		return last
	}
	return false
}

// RefCount returns the current refcount of a refcounted Value, or 1 for
// values without a handle (so callers can treat "uniquely owned" as
// RefCount()==1 uniformly).
func (v Value) RefCount() int32 {
	switch v.kind {
	case KindString:
		return v.s.refcount
	case KindArray:
		return v.a.refcount
	case KindMapping:
		return v.m.refcount
	case KindLWObject:
		return v.l.refcount
	default:
		return 1
	}
}

// CopyOnWrite returns a Value safe to mutate in place: if v is uniquely
// referenced it is returned as-is; a shared String, Array or LWObject is
// replaced by a fresh copy with refcount 1 and v's own refcount is
// decremented. A shared Mapping is returned as-is, so an indexed store
// into it is seen by every holder. The indexed-store opcode uses this
// before mutating the container.
func (v Value) CopyOnWrite() Value {
	if v.RefCount() <= 1 {
		return v
	}
	switch v.kind {
	case KindString:
		buf := make([]byte, len(v.s.Bytes))
		copy(buf, v.s.Bytes)
		v.s.refcount--
		return Value{kind: KindString, s: &StringHandle{Bytes: buf, refcount: 1}}
	case KindArray:
		elems := make([]Value, len(v.a.Elems))
		copy(elems, v.a.Elems)
		v.a.refcount--
		return Value{kind: KindArray, a: &ArrayHandle{Elems: elems, refcount: 1}}
	case KindLWObject:
		elems := make([]Value, len(v.l.Elems))
		copy(elems, v.l.Elems)
		v.l.refcount--
		return Value{kind: KindLWObject, l: &LWObjectHandle{Elems: elems, refcount: 1}}
	default:
		return v
	}
}

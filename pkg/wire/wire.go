// Package wire implements CBOR encoding for debug and tooling snapshots:
// a point-in-time dump of dataspace object state suitable for an external
// inspector or a crash report, distinct from the control block's own
// fixed-layout wire format that the running system depends on
// byte-for-byte (see pkg/control). Nothing in the interpreter's hot path
// touches this package.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/value"
)

// cborEncMode is canonical-mode CBOR: deterministic map key ordering, so
// two snapshots of identical state encode to identical bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Value is a CBOR-friendly mirror of value.Value: the runtime's own
// Value carries unexported refcounted handle pointers that cbor cannot
// see into, so a snapshot walks the live tree once and flattens it into
// this exported shape instead.
type Value struct {
	Kind       string  `cbor:"kind"`
	Int        int64   `cbor:"int,omitempty"`
	Float      float64 `cbor:"float,omitempty"`
	String     string  `cbor:"string,omitempty"`
	Elems      []Value `cbor:"elems,omitempty"`
	Keys       []Value `cbor:"keys,omitempty"`
	Vals       []Value `cbor:"vals,omitempty"`
	ObjIndex   int     `cbor:"obj_index,omitempty"`
	ObjGen     uint32  `cbor:"obj_gen,omitempty"`
}

// FromValue flattens a live value.Value into its wire form. Lvalues
// never appear at rest in a dataspace slot, so encountering one here
// indicates a bug in the caller; it is encoded as a bare nil rather than
// panicking, since a debug snapshot should never itself crash the host.
func FromValue(v value.Value) Value {
	switch v.Kind() {
	case value.KindNil:
		return Value{Kind: "nil"}
	case value.KindInt:
		return Value{Kind: "int", Int: v.Int()}
	case value.KindFloat:
		return Value{Kind: "float", Float: v.Float()}
	case value.KindString:
		return Value{Kind: "string", String: string(v.StringHandle().Bytes)}
	case value.KindArray:
		elems := v.ArrayHandle().Elems
		out := make([]Value, len(elems))
		for i, e := range elems {
			out[i] = FromValue(e)
		}
		return Value{Kind: "array", Elems: out}
	case value.KindMapping:
		mh := v.MappingHandle()
		keys := make([]Value, 0, mh.Len())
		vals := make([]Value, 0, mh.Len())
		mh.Each(func(k, val value.Value) {
			keys = append(keys, FromValue(k))
			vals = append(vals, FromValue(val))
		})
		return Value{Kind: "mapping", Keys: keys, Vals: vals}
	case value.KindObject:
		ref := v.ObjectRef()
		return Value{Kind: "object", ObjIndex: ref.Index, ObjGen: ref.Generation}
	case value.KindLWObject:
		elems := v.LWObjectHandle().Elems
		out := make([]Value, len(elems))
		for i, e := range elems {
			out[i] = FromValue(e)
		}
		return Value{Kind: "lwobject", Elems: out}
	default:
		return Value{Kind: "nil"}
	}
}

// ToValue rebuilds a fresh, uniquely-owned value.Value from its wire
// form. The result always has refcount 1 regardless of how many
// references the original held at snapshot time — a snapshot is a copy,
// not a shared view.
func ToValue(w Value) value.Value {
	switch w.Kind {
	case "int":
		return value.Int(w.Int)
	case "float":
		return value.Float(w.Float)
	case "string":
		return value.String(w.String)
	case "array":
		elems := make([]value.Value, len(w.Elems))
		for i, e := range w.Elems {
			elems[i] = ToValue(e)
		}
		return value.Array(elems)
	case "mapping":
		m := value.Mapping()
		for i := range w.Keys {
			m.MappingHandle().Set(ToValue(w.Keys[i]), ToValue(w.Vals[i]))
		}
		return m
	case "object":
		return value.Object(w.ObjIndex, w.ObjGen)
	case "lwobject":
		elems := make([]value.Value, len(w.Elems))
		for i, e := range w.Elems {
			elems[i] = ToValue(e)
		}
		return value.LWObject(elems)
	default:
		return value.Nil
	}
}

// ObjectSnapshot is one dataspace object table entry in a snapshot.
type ObjectSnapshot struct {
	Index      int     `cbor:"index"`
	Generation uint32  `cbor:"generation"`
	ProgName   string  `cbor:"prog_name"`
	Vars       []Value `cbor:"vars"`
}

// Snapshot is a full dataspace dump: every live object and its variable
// values, at one instant.
type Snapshot struct {
	Objects []ObjectSnapshot `cbor:"objects"`
}

// BuildSnapshot walks every live object in d and flattens it into a
// Snapshot ready for Marshal.
func BuildSnapshot(d *dataspace.Dataspace) *Snapshot {
	var s Snapshot
	d.ForEachLive(func(idx int, generation uint32, progName string, vars []value.Value) {
		wv := make([]Value, len(vars))
		for i, v := range vars {
			wv[i] = FromValue(v)
		}
		s.Objects = append(s.Objects, ObjectSnapshot{
			Index:      idx,
			Generation: generation,
			ProgName:   progName,
			Vars:       wv,
		})
	})
	return &s
}

// Marshal encodes a Snapshot to CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal decodes a Snapshot previously produced by Marshal.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("wire: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

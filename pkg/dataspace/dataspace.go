// Package dataspace implements the per-object-space instance table:
// object slots with generation counters, destructed-object ("odest")
// normalization of stale references to Nil, and the atomic "plane"
// copy-on-write staging stack used by atomic function calls to commit or
// discard a batch of mutations as a unit.
package dataspace

import (
	"sync"

	"github.com/dgdvm/core/pkg/value"
)

// object is one dataspace table slot.
type object struct {
	generation uint32
	destructed bool
	vars       []value.Value
	progName   string
}

// Dataspace holds every object instance in a running object space,
// indexed by slot. Destructing an object does not free its slot
// immediately — the slot is recycled on the next NewObject call, and the
// generation counter is bumped so that any Value still holding the old
// (index, generation) pair is recognized as stale.
type Dataspace struct {
	mu      sync.Mutex
	objects []object
	free    []int // recycled slots available for reuse

	planes []*plane
}

// New creates an empty dataspace.
func New() *Dataspace {
	return &Dataspace{}
}

// NewObject allocates a fresh object of the named program with nvars
// variable slots (all initialized to Nil), returning a Value addressing
// it.
func (d *Dataspace) NewObject(progName string, nvars int) value.Value {
	d.mu.Lock()
	defer d.mu.Unlock()

	vars := make([]value.Value, nvars)
	for i := range vars {
		vars[i] = value.Nil
	}

	var idx int
	if n := len(d.free); n > 0 {
		idx = d.free[n-1]
		d.free = d.free[:n-1]
		d.objects[idx].generation++
		d.objects[idx].destructed = false
		d.objects[idx].vars = vars
		d.objects[idx].progName = progName
	} else {
		idx = len(d.objects)
		d.objects = append(d.objects, object{generation: 1, vars: vars, progName: progName})
	}
	return value.Object(idx, d.objects[idx].generation)
}

// Destruct marks the object at idx as destructed. Its slot is returned to
// the free list for reuse; any Value still referencing it by its old
// generation will read back as Nil via Resolve.
func (d *Dataspace) Destruct(idx int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.objects) || d.objects[idx].destructed {
		return
	}
	d.objects[idx].destructed = true
	d.objects[idx].vars = nil
	d.free = append(d.free, idx)
}

// Resolve normalizes v: if v is an Object reference whose generation no
// longer matches the live object at that slot (destructed and possibly
// recycled), or a lightweight object whose element 0 is such a stale
// Object reference, it returns Nil. Every other Value, including non-stale
// references, is returned unchanged. Interpreter reads of object
// variables and of any value that might embed a stale reference must
// route through Resolve before use.
func (d *Dataspace) Resolve(v value.Value) value.Value {
	var ref value.ObjectRef
	switch v.Kind() {
	case value.KindObject:
		ref = v.ObjectRef()
	case value.KindLWObject:
		elems := v.LWObjectHandle().Elems
		if len(elems) == 0 || elems[0].Kind() != value.KindObject {
			return v
		}
		ref = elems[0].ObjectRef()
	default:
		return v
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ref.Index < 0 || ref.Index >= len(d.objects) {
		return value.Nil
	}
	obj := &d.objects[ref.Index]
	if obj.destructed || obj.generation != ref.Generation {
		return value.Nil
	}
	return v
}

// GetVar reads instance variable slot i of the object at idx, after
// generation-checking it. Reading a destructed or out-of-range object
// returns Nil.
func (d *Dataspace) GetVar(idx int, generation uint32, i int) value.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.liveObject(idx, generation)
	if obj == nil || i < 0 || i >= len(obj.vars) {
		return value.Nil
	}
	return obj.vars[i]
}

// SetVar stores val into instance variable slot i of the object at idx.
// A write to a destructed or out-of-range object is silently dropped,
// matching a read-after-destruct returning Nil: there is nothing left to
// mutate.
func (d *Dataspace) SetVar(idx int, generation uint32, i int, val value.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.liveObject(idx, generation)
	if obj == nil || i < 0 || i >= len(obj.vars) {
		return
	}
	obj.vars[i] = val
}

func (d *Dataspace) liveObject(idx int, generation uint32) *object {
	if idx < 0 || idx >= len(d.objects) {
		return nil
	}
	obj := &d.objects[idx]
	if obj.destructed || obj.generation != generation {
		return nil
	}
	return obj
}

// ForEachLive calls fn once for every live (non-destructed) object, in
// slot order, passing a defensive copy of its variable slice so callers
// — principally pkg/wire's snapshot builder — cannot mutate live state
// through it.
func (d *Dataspace) ForEachLive(fn func(idx int, generation uint32, progName string, vars []value.Value)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for idx, obj := range d.objects {
		if obj.destructed {
			continue
		}
		vars := make([]value.Value, len(obj.vars))
		copy(vars, obj.vars)
		fn(idx, obj.generation, obj.progName, vars)
	}
}

// ProgName returns the originating program name for a live object, or ""
// if it is stale or out of range.
func (d *Dataspace) ProgName(idx int, generation uint32) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if obj := d.liveObject(idx, generation); obj != nil {
		return obj.progName
	}
	return ""
}

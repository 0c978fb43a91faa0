package dataspace

import "github.com/dgdvm/core/pkg/value"

// edit is one variable write made while a plane was open. The write is
// already applied to the object; prev is kept so that DiscardPlane can
// restore it, and committing a plane hands its edits to the parent.
type edit struct {
	idx        int
	generation uint32
	slot       int
	prev       value.Value
	next       value.Value
}

// plane is one level of atomic staging. OpenPlane pushes a plane; writes
// made while it is the topmost plane are applied to the live variables at
// once and logged in it with their previous values. CommitPlane hands the
// log to the parent plane (or, if this was the outermost plane, drops it,
// leaving the writes in place); DiscardPlane walks the log backwards and
// restores the previous values.
type plane struct {
	edits []edit
}

// OpenPlane begins a new atomic staging level, nested inside whatever
// plane (if any) is already open. Atomic calls nest: a CALL within an
// atomic CALL opens a further plane so that the inner call's failure
// cannot roll back the outer call's otherwise-successful mutations if
// the outer catches the inner's error.
func (d *Dataspace) OpenPlane() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.planes = append(d.planes, &plane{})
}

// stage is the single mutation entry point used by SetVarPlaned once a
// plane is open; with no plane open SetVarPlaned writes directly.
func (d *Dataspace) stage(idx int, generation uint32, slot int, next value.Value) {
	p := d.planes[len(d.planes)-1]
	obj := d.liveObject(idx, generation)
	var prev value.Value
	if obj != nil && slot >= 0 && slot < len(obj.vars) {
		prev = obj.vars[slot]
		obj.vars[slot] = next // visible immediately to the same plane's later reads
	}
	p.edits = append(p.edits, edit{idx: idx, generation: generation, slot: slot, prev: prev, next: next})
}

// SetVarPlaned behaves like SetVar, but if an atomic plane is open the
// write is recorded so DiscardPlane can undo it.
func (d *Dataspace) SetVarPlaned(idx int, generation uint32, i int, val value.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.planes) == 0 {
		obj := d.liveObject(idx, generation)
		if obj != nil && i >= 0 && i < len(obj.vars) {
			obj.vars[i] = val
		}
		return
	}
	d.stage(idx, generation, i, val)
}

// CommitPlane closes the topmost plane, keeping its writes. If another
// plane remains beneath it, the closed plane's edits are appended to the
// parent's edit log (so a later discard of the parent still rolls them
// back); otherwise the writes are already live in the dataspace and
// nothing further is needed.
func (d *Dataspace) CommitPlane() {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.planes)
	if n == 0 {
		panic("dataspace: CommitPlane without an open plane")
	}
	closed := d.planes[n-1]
	d.planes = d.planes[:n-1]
	if n > 1 {
		parent := d.planes[n-2]
		parent.edits = append(parent.edits, closed.edits...)
	}
}

// DiscardPlane closes the topmost plane and reverts every write it
// staged, restoring each touched variable to its value from immediately
// before the plane was opened. Edits are unwound in reverse order so
// that a slot written more than once within the plane is correctly
// restored to its original value rather than an intermediate one.
func (d *Dataspace) DiscardPlane() {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.planes)
	if n == 0 {
		panic("dataspace: DiscardPlane without an open plane")
	}
	closed := d.planes[n-1]
	d.planes = d.planes[:n-1]
	for i := len(closed.edits) - 1; i >= 0; i-- {
		e := closed.edits[i]
		if obj := d.liveObject(e.idx, e.generation); obj != nil && e.slot >= 0 && e.slot < len(obj.vars) {
			obj.vars[e.slot] = e.prev
		}
	}
}

// PlaneDepth reports how many atomic planes are currently nested.
func (d *Dataspace) PlaneDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.planes)
}

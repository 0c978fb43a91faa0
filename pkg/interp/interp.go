// Package interp implements the bytecode dispatch loop: opcode decode,
// the evaluation stack, lvalue stores with copy-on-write, CATCH/RLIMITS
// recursive-entry scopes, and the function-call forms that bind kfuns,
// same-program functions, inherited functions, and virtually-dispatched
// functions. Grounded on the teacher's pkg/bytecode/vm.go for the
// dispatch-loop shape and vm/exception.go for the CATCH/unwind design,
// generalized from Smalltalk message sends to this runtime's call forms.
package interp

import (
	"encoding/binary"
	"math"

	"github.com/dgdvm/core/pkg/control"
	"github.com/dgdvm/core/pkg/dataspace"
	"github.com/dgdvm/core/pkg/frame"
	"github.com/dgdvm/core/pkg/kfun"
	"github.com/dgdvm/core/pkg/rlimits"
	"github.com/dgdvm/core/pkg/value"
	"github.com/dgdvm/core/pkg/xhash"
)

// Interp is the interpreter: shared, process-wide dispatch state. One
// Interp serves every call in a dataspace; calls themselves are
// represented by frame.Frame chains, not by interpreter instances.
type Interp struct {
	Programs map[string]*control.Control
	Data     *dataspace.Dataspace
	Kfuns    *kfun.Table
	Driver   kfun.Driver

	// instanceofCache memoizes "does program P inherit from program Q"
	// lookups, keyed by "P\x00Q", as a second consumer of the bucketed
	// hash table alongside each Control's own symbol table.
	instanceofCache *xhash.Table
}

// New creates an interpreter bound to a dataspace, kfun table, and
// driver.
func New(data *dataspace.Dataspace, kfuns *kfun.Table, driver kfun.Driver) *Interp {
	return &Interp{
		Programs:        make(map[string]*control.Control),
		Data:            data,
		Kfuns:           kfuns,
		Driver:          driver,
		instanceofCache: xhash.New(64, -1, true),
	}
}

// Load registers a compiled program so it can be found by name for
// inheritance, instanceof, and CALL_DFUNC/CALL_FUNC resolution.
func (ip *Interp) Load(c *control.Control) {
	ip.Programs[c.Name] = c
}

// CallTopLevel starts a brand-new top-level call: a fresh rlimits root
// scope and a fresh frame, invoking funcName on the object (idx,
// generation). This is the entry point driver code uses to deliver
// external events, the only point at which I/O reaches the interpreter.
// An uncaught runtime or user error is reported to the driver's
// RuntimeError, and an uncaught atomic error to its AtomicError, before
// being returned.
func (ip *Interp) CallTopLevel(progName, funcName string, idx int, generation uint32, args []value.Value, maxDepth int, ticks int64) (value.Value, error) {
	prog, ok := ip.Programs[progName]
	if !ok {
		return value.Nil, newFatalError("unknown program %q", progName)
	}
	fi := prog.FindFunction(funcName)
	if fi < 0 {
		return value.Nil, newRuntimeError(nil, "no function %q in %q", funcName, progName)
	}
	scope := rlimits.Root(maxDepth, ticks)
	v, err := ip.invoke(nil, scope, progName, prog, &prog.Functions[fi], idx, generation, args)
	if ierr, ok := err.(*Error); ok && ip.Driver != nil {
		switch ierr.Kind {
		case KindAtomic:
			ip.Driver.AtomicError(ierr.Message, ierr.Trace)
		case KindRuntime, KindUser:
			ip.Driver.RuntimeError(ierr.Message, ierr.Trace)
		}
	}
	return v, err
}

// invoke is the single entry point for starting any function activation,
// whether from the driver (CallTopLevel), a same-program call
// (CALL_AFUNC), an inherited call (CALL_DFUNC), or a virtually dispatched
// call (CALL_FUNC). It owns the call-depth check, argument adaptation,
// and the atomic-plane open/commit/discard around ClassAtomic functions.
func (ip *Interp) invoke(caller *frame.Frame, scope *rlimits.Scope, progName string, prog *control.Control, fd *control.FuncDef, objIdx int, objGeneration uint32, args []value.Value) (value.Value, error) {
	if err := scope.EnterCall(); err != nil {
		return value.Nil, newRuntimeError(nil, "%s", err)
	}
	defer scope.LeaveCall()

	adapted := adaptArgs(args, int(fd.NumArgs), fd.Class&control.ClassVarArgs != 0)

	if fd.Class&control.ClassTypechecked != 0 {
		if err := ip.typecheckArgs(prog, fd, adapted); err != nil {
			return value.Nil, err
		}
	}

	nf := frame.New(caller, scope, progName, fd.Name, adapted, int(fd.NumLocals), objIdx, objGeneration)

	atomic := fd.Class&control.ClassAtomic != 0
	var preAtomicTicks, halvedTicks int64
	if atomic {
		preAtomicTicks = scope.TicksLeft()
		halvedTicks = scope.HalveTicks()
		ip.Data.OpenPlane()
	}

	v, outcome, err := ip.exec(nf, prog, int(fd.Offset), len(prog.Code))

	if atomic {
		if err != nil {
			ip.Data.DiscardPlane()
		} else {
			ip.Data.CommitPlane()
		}
		scope.DoubleTicks(halvedTicks, preAtomicTicks)
	}

	if err != nil {
		if ierr, ok := err.(*Error); ok {
			ierr.Trace = append([]string{progName + "." + fd.Name}, ierr.Trace...)
			if atomic && ierr.Kind == KindRuntime {
				ierr.Kind = KindAtomic
			}
		}
		return value.Nil, err
	}
	if outcome == outcomeReturned {
		return v, nil
	}
	return value.Nil, nil
}

// adaptArgs pads missing trailing arguments with Nil and, for
// non-variadic functions, truncates excess arguments; variadic functions
// pack any arguments beyond numArgs-1 into a trailing array.
func adaptArgs(args []value.Value, numArgs int, variadic bool) []value.Value {
	if variadic {
		if len(args) < numArgs-1 {
			out := make([]value.Value, numArgs)
			copy(out, args)
			for i := len(args); i < numArgs-1; i++ {
				out[i] = value.Nil
			}
			out[numArgs-1] = value.Array(nil)
			return out
		}
		out := make([]value.Value, numArgs)
		copy(out, args[:numArgs-1])
		out[numArgs-1] = value.Array(append([]value.Value{}, args[numArgs-1:]...))
		return out
	}
	out := make([]value.Value, numArgs)
	copy(out, args)
	for i := len(args); i < numArgs; i++ {
		out[i] = value.Nil
	}
	return out
}

// varSlot resolves a (inherit, index) global-variable operand pair to a
// flat dataspace variable slot. inherit 0 addresses the program's own
// variables directly; inherit>0 indexes Inherits (1-based) and offsets
// by that entry's VarOffset, matching the flattened-inheritance variable
// layout every object's vars slice is built from.
func varSlot(prog *control.Control, inherit uint8, idx uint8) int {
	if inherit == 0 {
		return int(idx)
	}
	inh := prog.Inherits[inherit-1]
	return int(inh.VarOffset) + int(idx)
}

// reader walks a code buffer, decoding fixed-width big-endian operands.
// It never mutates the underlying Control, matching the runtime's
// immutable-code contract.
type reader struct {
	code []byte
	pc   int
}

func (r *reader) u8() uint8    { b := r.code[r.pc]; r.pc++; return b }
func (r *reader) i16() int16   { v := int16(binary.BigEndian.Uint16(r.code[r.pc:])); r.pc += 2; return v }
func (r *reader) u16() uint16  { v := binary.BigEndian.Uint16(r.code[r.pc:]); r.pc += 2; return v }
func (r *reader) i64() int64   { v := int64(binary.BigEndian.Uint64(r.code[r.pc:])); r.pc += 8; return v }
func (r *reader) f64() float64 { v := math.Float64frombits(binary.BigEndian.Uint64(r.code[r.pc:])); r.pc += 8; return v }

// runOutcome distinguishes a region that explicitly returned a value from
// one that simply ran off its end (used by CATCH/RLIMITS sub-regions,
// and by a top-level function body with no trailing RETURN).
type runOutcome int

const (
	outcomeFallthrough runOutcome = iota
	outcomeReturned
)

// exec is the dispatch loop proper, bounded to [start, end) of prog's
// code. CATCH and RLIMITS invoke it recursively over a nested sub-range
// so that an uncaught error, or an early RETURN, unwinds cleanly back to
// the enclosing region without disturbing its own pc.
func (ip *Interp) exec(f *frame.Frame, prog *control.Control, start, end int) (value.Value, runOutcome, error) {
	r := &reader{code: prog.Code, pc: start}

	for r.pc < end {
		if err := f.Scope.Tick(1); err != nil {
			return value.Nil, outcomeFallthrough, newRuntimeError(nil, "%s", err)
		}

		opByte := r.u8()
		op, pop := Decode(opByte)
		// emit is for opcodes that produce a value the caller doesn't
		// already hold a reference to elsewhere (a fresh literal, a call
		// result, an arithmetic result): pushing it is a move, and
		// discarding it on the pop bit must release that reference.
		emit := func(v value.Value) {
			if pop {
				v.Del()
				return
			}
			f.Push(v)
		}
		// storeEmit is for STORE* opcodes: the value has just been moved
		// into a local/global/argument/indexed slot, which now owns it;
		// leaving a copy on the stack (pop bit clear) needs an extra Ref
		// for that second live location, not a move.
		storeEmit := func(v value.Value) {
			if !pop {
				f.Push(v.Ref())
			}
		}

		switch op {

		// --- literal pushes ---
		case OpPushZero:
			emit(value.Int(0))
		case OpPushOne:
			emit(value.Int(1))
		case OpPushInt:
			emit(value.Int(r.i64()))
		case OpPushFloat:
			emit(value.Float(r.f64()))
		case OpPushString:
			idx := r.u16()
			emit(value.String(prog.Strings[idx]))
		case OpPushNil:
			emit(value.Nil)

		// --- local / global access ---
		case OpPushLocal:
			idx := r.u8()
			emit(ip.Data.Resolve(f.Local(int(idx))).Ref())
		case OpPushGlobal:
			inherit, idx := r.u8(), r.u8()
			objIdx, objGen := f.ObjectRef()
			slot := varSlot(prog, inherit, idx)
			emit(ip.Data.Resolve(ip.Data.GetVar(objIdx, objGen, slot)).Ref())
		case OpStoreLocal:
			idx := r.u8()
			v := f.Pop()
			f.Local(int(idx)).Del()
			f.SetLocal(int(idx), v)
			storeEmit(v)
		case OpStoreGlobal:
			inherit, idx := r.u8(), r.u8()
			v := f.Pop()
			objIdx, objGen := f.ObjectRef()
			slot := varSlot(prog, inherit, idx)
			ip.Data.Resolve(ip.Data.GetVar(objIdx, objGen, slot)).Del()
			ip.Data.SetVarPlaned(objIdx, objGen, slot, v)
			storeEmit(v)
		case OpPushArg:
			idx := r.u8()
			emit(ip.Data.Resolve(f.Arg(int(idx))).Ref())
		case OpStoreArg:
			idx := r.u8()
			v := f.Pop()
			f.Arg(int(idx)).Del()
			f.SetArg(int(idx), v)
			storeEmit(v)

		// --- aggregate construction ---
		case OpAggregateArray:
			count := int(r.u16())
			elems := make([]value.Value, count)
			for i := count - 1; i >= 0; i-- {
				elems[i] = f.Pop()
			}
			emit(value.Array(elems))
		case OpAggregateMapping:
			count := int(r.u16())
			flat := make([]value.Value, 2*count)
			for i := len(flat) - 1; i >= 0; i-- {
				flat[i] = f.Pop()
			}
			m := value.Mapping()
			for i := 0; i < count; i++ {
				m.MappingHandle().Set(flat[2*i], flat[2*i+1])
			}
			emit(m)
		case OpSpread:
			arr := f.Pop()
			if arr.Kind() != value.KindArray {
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "spread of a non-array (%s)", arr.Kind())
			}
			for _, e := range arr.ArrayHandle().Elems {
				f.Push(e.Ref())
			}
			arr.Del()

		// --- cast / instanceof ---
		case OpCast:
			want := value.Kind(r.u8())
			v := f.Pop()
			casted, err := castValue(v, want)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(casted)
		case OpInstanceOf:
			idx := r.u16()
			target := prog.Strings[idx]
			v := ip.Data.Resolve(f.Pop())
			if v.IsNil() {
				emit(value.Bool(false))
				break
			}
			ref := v.ObjectRef()
			objProg := ip.Data.ProgName(ref.Index, ref.Generation)
			emit(value.Bool(ip.instanceOf(objProg, target)))

		// --- indexing ---
		case OpIndex:
			idx := f.Pop()
			container := f.Pop()
			v, err := ip.indexInto(container, idx)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			v = v.Ref()
			container.Del()
			emit(v)
		case OpIndex2:
			j := f.Pop()
			i := f.Pop()
			container := f.Pop()
			mid, err := ip.indexInto(container, i)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			v, err := ip.indexInto(mid, j)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			v = v.Ref()
			container.Del()
			f.Push(v)
		case OpStoreIndex:
			slot := r.u8()
			verify := r.u8() != 0
			val := f.Pop()
			idx := f.Pop()
			var captured value.Value
			if verify {
				captured = f.Pop()
			}
			current := f.Local(int(slot))
			if verify && !sameIdentity(captured, current) {
				// Something rebound the slot between the read this verify
				// targets and this store: drop the write silently per §4.6's
				// "lvalue stores" verify-store rule.
				captured.Del()
				idx.Del()
				val.Del()
				if !pop {
					f.Push(value.Nil)
				}
				break
			}
			if verify {
				captured.Del()
			}
			container := current.CopyOnWrite()
			old, err := storeIndexInto(container, idx, val)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			old.Del()
			f.SetLocal(int(slot), container)
			storeEmit(val)

		// --- composed stores ---
		//
		// STORES pops a single array and unpacks it into a sequence of
		// local/global targets, each optionally CAST-prefixed, with an
		// optional I_SPREAD target preceding the plain targets that absorbs
		// every leading element not claimed by those targets.
		case OpStores:
			arr := f.Pop()
			if arr.Kind() != value.KindArray {
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "STORES of a non-array (%s)", arr.Kind())
			}
			elems := arr.ArrayHandle().Elems

			hasSpread := r.u8() != 0
			var spread storeTarget
			if hasSpread {
				spread = readStoreTarget(r)
			}
			count := int(r.u8())
			targets := make([]storeTarget, count)
			for i := range targets {
				targets[i] = readStoreTarget(r)
			}

			spreadCount := 0
			if hasSpread {
				spreadCount = len(elems) - count
				if spreadCount < 0 {
					spreadCount = 0
				}
				spreadElems := make([]value.Value, spreadCount)
				for i, e := range elems[:spreadCount] {
					spreadElems[i] = e.Ref()
				}
				sv := value.Array(spreadElems)
				if err := ip.storeComposedTarget(f, prog, spread, sv); err != nil {
					return value.Nil, outcomeFallthrough, err
				}
			}

			tail := elems[spreadCount:]
			for i, t := range targets {
				var val value.Value
				if i < len(tail) {
					val = tail[i].Ref()
				} else {
					val = value.Nil
				}
				if err := ip.storeComposedTarget(f, prog, t, val); err != nil {
					return value.Nil, outcomeFallthrough, err
				}
			}
			arr.Del()

		// --- control flow ---
		case OpJump:
			off := r.i16()
			r.pc += int(off)
		case OpJumpZero:
			off := r.i16()
			if !f.Pop().Truthy() {
				r.pc += int(off)
			}
		case OpJumpNonZero:
			off := r.i16()
			if f.Pop().Truthy() {
				r.pc += int(off)
			}
		case OpSwitchInt:
			count := int(r.u16())
			type caseInt struct {
				val int64
				off int16
			}
			cases := make([]caseInt, count)
			for i := range cases {
				cases[i] = caseInt{val: r.i64(), off: r.i16()}
			}
			defOff := r.i16()
			v := f.Pop().Int()
			matched := false
			for _, c := range cases {
				if c.val == v {
					r.pc += int(c.off)
					matched = true
					break
				}
			}
			if !matched {
				r.pc += int(defOff)
			}
		case OpSwitchRange:
			count := int(r.u16())
			type caseRange struct {
				lo, hi int64
				off    int16
			}
			cases := make([]caseRange, count)
			for i := range cases {
				cases[i] = caseRange{lo: r.i64(), hi: r.i64(), off: r.i16()}
			}
			defOff := r.i16()
			v := f.Pop().Int()
			matched := false
			for _, c := range cases {
				if v >= c.lo && v <= c.hi {
					r.pc += int(c.off)
					matched = true
					break
				}
			}
			if !matched {
				r.pc += int(defOff)
			}
		case OpSwitchString:
			count := int(r.u16())
			type caseStr struct {
				idx uint16
				off int16
			}
			cases := make([]caseStr, count)
			for i := range cases {
				cases[i] = caseStr{idx: r.u16(), off: r.i16()}
			}
			defOff := r.i16()
			v := f.Pop()
			vs := string(v.StringHandle().Bytes)
			matched := false
			for _, c := range cases {
				if prog.Strings[c.idx] == vs {
					r.pc += int(c.off)
					matched = true
					break
				}
			}
			if !matched {
				r.pc += int(defOff)
			}
		case OpReturn:
			return f.Pop(), outcomeReturned, nil
		case OpReturnZero:
			return value.Int(0), outcomeReturned, nil

		// --- scopes ---
		case OpCatch:
			length := int(r.i16())
			regionStart := r.pc
			regionEnd := regionStart + length
			v, outcome, err := ip.exec(f, prog, regionStart, regionEnd)
			if err != nil {
				ierr, ok := err.(*Error)
				if !ok || ierr.Kind == KindFatal {
					return value.Nil, outcomeFallthrough, err
				}
				emit(value.String(ierr.Message))
			} else if outcome == outcomeReturned {
				return v, outcomeReturned, nil
			} else {
				emit(value.Nil)
			}
			r.pc = regionEnd
		case OpRlimits:
			maxDepth := int(r.i64())
			ticks := r.i64()
			length := int(r.i16())
			grantedDepth, grantedTicks := ip.Driver.RuntimeRlimits(maxDepth, ticks)
			saved := f.Scope
			f.Scope = saved.Push(grantedDepth, grantedTicks)
			v, outcome, err := ip.exec(f, prog, r.pc, r.pc+length)
			f.Scope = f.Scope.Pop()
			if f.Scope == nil {
				f.Scope = saved
			}
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			if outcome == outcomeReturned {
				return v, outcomeReturned, nil
			}
			r.pc += length

		// --- calls ---
		case OpCallKfunc:
			number := int(r.u16())
			argc := int(r.u8())
			args := popArgs(f, argc)
			fn, ok := ip.Kfuns.Lookup(number)
			if !ok {
				return value.Nil, outcomeFallthrough, newFatalError("unknown kfun number %d", number)
			}
			v, err := fn(args)
			if err != nil {
				if ierr, ok := err.(*Error); ok {
					return value.Nil, outcomeFallthrough, ierr
				}
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "%s", err)
			}
			emit(v)
		case OpCallKfuncSpread:
			number := int(r.u16())
			arr := f.Pop()
			if arr.Kind() != value.KindArray {
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "spread call with a non-array (%s)", arr.Kind())
			}
			fn, ok := ip.Kfuns.Lookup(number)
			if !ok {
				return value.Nil, outcomeFallthrough, newFatalError("unknown kfun number %d", number)
			}
			v, err := fn(arr.ArrayHandle().Elems)
			if err != nil {
				if ierr, ok := err.(*Error); ok {
					return value.Nil, outcomeFallthrough, ierr
				}
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "%s", err)
			}
			emit(v)
		case OpCallAfunc:
			funcIdx := int(r.u16())
			argc := int(r.u8())
			args := popArgs(f, argc)
			objIdx, objGen := f.ObjectRef()
			v, err := ip.invoke(f, f.Scope, prog.Name, prog, &prog.Functions[funcIdx], objIdx, objGen, args)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpCallDfunc:
			inheritIdx := r.u8()
			funcIdx := int(r.u16())
			argc := int(r.u8())
			args := popArgs(f, argc)
			inh := prog.Inherits[inheritIdx]
			dprog, ok := ip.Programs[inh.ObjName]
			if !ok {
				return value.Nil, outcomeFallthrough, newFatalError("unknown inherited program %q", inh.ObjName)
			}
			objIdx, objGen := f.ObjectRef()
			v, err := ip.invoke(f, f.Scope, inh.ObjName, dprog, &dprog.Functions[funcIdx], objIdx, objGen, args)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpCallFunc:
			strIdx := r.u16()
			argc := int(r.u8())
			args := popArgs(f, argc)
			name := prog.Strings[strIdx]
			objIdx, objGen := f.ObjectRef()
			targetProg := ip.Data.ProgName(objIdx, objGen)
			dprog, ok := ip.Programs[targetProg]
			if !ok {
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "call to %q on a destructed object", name)
			}
			fi := dprog.FindFunction(name)
			if fi < 0 {
				return value.Nil, outcomeFallthrough, newRuntimeError(nil, "no function %q in %q", name, targetProg)
			}
			v, err := ip.invoke(f, f.Scope, targetProg, dprog, &dprog.Functions[fi], objIdx, objGen, args)
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)

		// --- arithmetic / comparison ---
		// Every operand here was popped (so this opcode owns its
		// reference) and the result is always a freshly built Value, so
		// both operands are released once the result is computed.
		case OpAdd:
			b, a := f.Pop(), f.Pop()
			v, err := arith(a, b, '+')
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpSub:
			b, a := f.Pop(), f.Pop()
			v, err := arith(a, b, '-')
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpMul:
			b, a := f.Pop(), f.Pop()
			v, err := arith(a, b, '*')
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpDiv:
			b, a := f.Pop(), f.Pop()
			v, err := arith(a, b, '/')
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpMod:
			b, a := f.Pop(), f.Pop()
			v, err := arith(a, b, '%')
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(v)
		case OpNeg:
			a := f.Pop()
			if a.Kind() == value.KindFloat {
				emit(value.Float(-a.Float()))
			} else {
				emit(value.Int(-a.Int()))
			}
		case OpEq:
			b, a := f.Pop(), f.Pop()
			result := valuesEqual(a, b)
			a.Del()
			b.Del()
			emit(value.Bool(result))
		case OpLt:
			b, a := f.Pop(), f.Pop()
			v, err := compare(a, b)
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(value.Bool(v < 0))
		case OpLe:
			b, a := f.Pop(), f.Pop()
			v, err := compare(a, b)
			a.Del()
			b.Del()
			if err != nil {
				return value.Nil, outcomeFallthrough, err
			}
			emit(value.Bool(v <= 0))

		default:
			return value.Nil, outcomeFallthrough, newFatalError("unknown opcode %d", op)
		}
	}

	return value.Nil, outcomeFallthrough, nil
}

func popArgs(f *frame.Frame, argc int) []value.Value {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = f.Pop()
	}
	return args
}

// indexInto reads container[idx]. Array and mapping elements are routed
// through Resolve before being handed back, since an indexed read is, per
// §4.6, as much a stack-producing observation as a PUSH_LOCAL/PUSH_GLOBAL
// and must normalize a destructed-object slot to Nil.
func (ip *Interp) indexInto(container, idx value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindArray:
		elems := container.ArrayHandle().Elems
		i := idx.Int()
		if i < 0 || int(i) >= len(elems) {
			return value.Nil, newRuntimeError(nil, "array index %d out of range (length %d)", i, len(elems))
		}
		return ip.Data.Resolve(elems[i]), nil
	case value.KindString:
		b := container.StringHandle().Bytes
		i := idx.Int()
		if i < 0 || int(i) >= len(b) {
			return value.Nil, newRuntimeError(nil, "string index %d out of range (length %d)", i, len(b))
		}
		return value.Int(int64(b[i])), nil
	case value.KindMapping:
		v, _ := container.MappingHandle().Get(idx)
		return ip.Data.Resolve(v), nil
	default:
		return value.Nil, newRuntimeError(nil, "cannot index a %s", container.Kind())
	}
}

// storeIndexInto mutates container in place (the caller has already
// passed it through CopyOnWrite, which copies a shared string or array
// but leaves a shared mapping shared) and returns the value that used to
// occupy that slot, so the caller can release its reference.
func storeIndexInto(container, idx, val value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindArray:
		elems := container.ArrayHandle().Elems
		i := idx.Int()
		if i < 0 || int(i) >= len(elems) {
			return value.Nil, newRuntimeError(nil, "array index %d out of range (length %d)", i, len(elems))
		}
		old := elems[i]
		elems[i] = val
		return old, nil
	case value.KindString:
		h := container.StringHandle()
		i := idx.Int()
		if i < 0 || int(i) >= len(h.Bytes) {
			return value.Nil, newRuntimeError(nil, "string index %d out of range (length %d)", i, len(h.Bytes))
		}
		h.Bytes[i] = byte(val.Int())
		return value.Nil, nil
	case value.KindMapping:
		old, _ := container.MappingHandle().Get(idx)
		container.MappingHandle().Set(idx, val)
		return old, nil
	default:
		return value.Nil, newRuntimeError(nil, "cannot index-store into a %s", container.Kind())
	}
}

// castValue implements the CAST opcode's coercion rules: identity when
// already the target kind, Int->Float widening, and a runtime error for
// anything else. Shared with STORES' optional per-target CAST prefix.
func castValue(v value.Value, want value.Kind) (value.Value, error) {
	if v.Kind() == want {
		return v, nil
	}
	if want == value.KindFloat && v.Kind() == value.KindInt {
		return value.Float(float64(v.Int())), nil
	}
	return value.Nil, newRuntimeError(nil, "cannot cast %s to %s", v.Kind(), want)
}

// storeTarget is one decoded STORES target: an optional CAST prefix and a
// local or global destination.
type storeTarget struct {
	hasCast  bool
	castKind value.Kind
	kind     uint8 // 0 = local, 1 = global
	slot     uint8
	inherit  uint8
	idx      uint8
}

func readStoreTarget(r *reader) storeTarget {
	var t storeTarget
	t.hasCast = r.u8() != 0
	if t.hasCast {
		t.castKind = value.Kind(r.u8())
	}
	t.kind = r.u8()
	switch t.kind {
	case 0:
		t.slot = r.u8()
	case 1:
		t.inherit, t.idx = r.u8(), r.u8()
	}
	return t
}

// storeComposedTarget applies one STORES target: optional CAST, then an
// unconditional local or global store (releasing whatever previously
// occupied that slot), the same discipline OpStoreLocal/OpStoreGlobal use.
func (ip *Interp) storeComposedTarget(f *frame.Frame, prog *control.Control, t storeTarget, val value.Value) error {
	if t.hasCast {
		casted, err := castValue(val, t.castKind)
		if err != nil {
			return err
		}
		val = casted
	}
	switch t.kind {
	case 0:
		f.Local(int(t.slot)).Del()
		f.SetLocal(int(t.slot), val)
	case 1:
		objIdx, objGen := f.ObjectRef()
		slot := varSlot(prog, t.inherit, t.idx)
		ip.Data.Resolve(ip.Data.GetVar(objIdx, objGen, slot)).Del()
		ip.Data.SetVarPlaned(objIdx, objGen, slot, val)
	default:
		return newFatalError("unknown STORES target kind %d", t.kind)
	}
	return nil
}

// sameIdentity compares two Values by handle pointer for the refcounted
// kinds STORE_INDEX's verify operand cares about (chiefly String); any
// other pair of kinds falls back to valuesEqual.
func sameIdentity(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case value.KindString:
		return a.StringHandle() == b.StringHandle()
	case value.KindArray:
		return a.ArrayHandle() == b.ArrayHandle()
	case value.KindMapping:
		return a.MappingHandle() == b.MappingHandle()
	case value.KindLWObject:
		return a.LWObjectHandle() == b.LWObjectHandle()
	default:
		return valuesEqual(a, b)
	}
}

// typecheckArgs implements §4.6 "Typechecking" for a TYPECHECKED function:
// each prototype parameter is checked against the corresponding adapted
// argument. A prototype shorter than the argument list leaves the tail
// unchecked; Tag 0 ("mixed") always passes.
func (ip *Interp) typecheckArgs(prog *control.Control, fd *control.FuncDef, args []value.Value) error {
	for i, pt := range fd.ParamTypes {
		if i >= len(args) {
			break
		}
		if err := ip.typecheckOne(prog, pt, args[i]); err != nil {
			return newRuntimeError(nil, "argument %d to %s: %s", i+1, fd.Name, err)
		}
	}
	return nil
}

func (ip *Interp) typecheckOne(prog *control.Control, pt control.ParamType, v value.Value) error {
	if pt.Tag == control.ParamMixed {
		return nil
	}
	// A nil argument satisfies any reference type (lax mode; see §4.6).
	if v.IsNil() && pt.Tag != control.ParamInt && pt.Tag != control.ParamFloat {
		return nil
	}
	switch pt.Tag {
	case control.ParamInt:
		if v.Kind() != value.KindInt {
			return newRuntimeError(nil, "expected int, got %s", v.Kind())
		}
	case control.ParamFloat:
		if v.Kind() != value.KindFloat && v.Kind() != value.KindInt {
			return newRuntimeError(nil, "expected float, got %s", v.Kind())
		}
	case control.ParamString:
		if v.Kind() != value.KindString {
			return newRuntimeError(nil, "expected string, got %s", v.Kind())
		}
	case control.ParamArray:
		if v.Kind() != value.KindArray {
			return newRuntimeError(nil, "expected array, got %s", v.Kind())
		}
	case control.ParamMapping:
		if v.Kind() != value.KindMapping {
			return newRuntimeError(nil, "expected mapping, got %s", v.Kind())
		}
	case control.ParamObject:
		if v.Kind() != value.KindObject && v.Kind() != value.KindLWObject {
			return newRuntimeError(nil, "expected object, got %s", v.Kind())
		}
	case control.ParamClass:
		return ip.typecheckClass(prog, pt, v)
	}
	return nil
}

// typecheckClass enforces a T_CLASS prototype parameter: v must be an
// Object or LWObject whose program is instanceof the class named by
// pt.ClassName in the callee's own string pool.
func (ip *Interp) typecheckClass(prog *control.Control, pt control.ParamType, v value.Value) error {
	var objProg string
	switch v.Kind() {
	case value.KindObject:
		resolved := ip.Data.Resolve(v)
		if resolved.IsNil() {
			return nil // a destructed object normalizes to Nil, which any reference type accepts
		}
		ref := resolved.ObjectRef()
		objProg = ip.Data.ProgName(ref.Index, ref.Generation)
	case value.KindLWObject:
		elems := v.LWObjectHandle().Elems
		if len(elems) == 0 || elems[0].Kind() != value.KindObject {
			return newRuntimeError(nil, "malformed lightweight object")
		}
		ref := elems[0].ObjectRef()
		objProg = ip.Data.ProgName(ref.Index, ref.Generation)
	default:
		return newRuntimeError(nil, "expected object, got %s", v.Kind())
	}
	if int(pt.ClassName) >= len(prog.Strings) {
		return newFatalError("bad class name index %d in typechecked prototype", pt.ClassName)
	}
	className := prog.Strings[pt.ClassName]
	if !ip.instanceOf(objProg, className) {
		return newRuntimeError(nil, "not an instance of %q", className)
	}
	return nil
}

func (ip *Interp) instanceOf(progName, target string) bool {
	key := progName + "\x00" + target
	if e := ip.instanceofCache.Lookup(key); e != nil {
		return e.Value.(bool)
	}
	result := ip.instanceOfUncached(progName, target, map[string]bool{})
	ip.instanceofCache.Insert(key, result)
	return result
}

func (ip *Interp) instanceOfUncached(progName, target string, seen map[string]bool) bool {
	if progName == target {
		return true
	}
	if seen[progName] {
		return false
	}
	seen[progName] = true
	prog, ok := ip.Programs[progName]
	if !ok {
		return false
	}
	for _, inh := range prog.Inherits {
		if ip.instanceOfUncached(inh.ObjName, target, seen) {
			return true
		}
	}
	return false
}

func arith(a, b value.Value, op byte) (value.Value, error) {
	if a.Kind() == value.KindString && b.Kind() == value.KindString && op == '+' {
		buf := make([]byte, 0, len(a.StringHandle().Bytes)+len(b.StringHandle().Bytes))
		buf = append(buf, a.StringHandle().Bytes...)
		buf = append(buf, b.StringHandle().Bytes...)
		return value.String(string(buf)), nil
	}
	if a.Kind() != value.KindInt && a.Kind() != value.KindFloat {
		return value.Nil, newRuntimeError(nil, "arithmetic on a %s", a.Kind())
	}
	if b.Kind() != value.KindInt && b.Kind() != value.KindFloat {
		return value.Nil, newRuntimeError(nil, "arithmetic on a %s", b.Kind())
	}
	if a.Kind() == value.KindInt && b.Kind() == value.KindInt {
		x, y := a.Int(), b.Int()
		switch op {
		case '+':
			return value.Int(x + y), nil
		case '-':
			return value.Int(x - y), nil
		case '*':
			return value.Int(x * y), nil
		case '/':
			if y == 0 {
				return value.Nil, newRuntimeError(nil, "division by zero")
			}
			return value.Int(x / y), nil
		case '%':
			if y == 0 {
				return value.Nil, newRuntimeError(nil, "modulo by zero")
			}
			return value.Int(x % y), nil
		}
	}
	x, y := asFloat(a), asFloat(b)
	switch op {
	case '+':
		return value.Float(x + y), nil
	case '-':
		return value.Float(x - y), nil
	case '*':
		return value.Float(x * y), nil
	case '/':
		if y == 0 {
			return value.Nil, newRuntimeError(nil, "division by zero")
		}
		return value.Float(x / y), nil
	case '%':
		if y == 0 {
			return value.Nil, newRuntimeError(nil, "modulo by zero")
		}
		return value.Float(math.Mod(x, y)), nil
	}
	return value.Nil, newFatalError("unreachable arith op %c", op)
}

func asFloat(v value.Value) float64 {
	if v.Kind() == value.KindFloat {
		return v.Float()
	}
	return float64(v.Int())
}

func valuesEqual(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		if (a.Kind() == value.KindInt || a.Kind() == value.KindFloat) &&
			(b.Kind() == value.KindInt || b.Kind() == value.KindFloat) {
			return asFloat(a) == asFloat(b)
		}
		return false
	}
	switch a.Kind() {
	case value.KindNil:
		return true
	case value.KindInt:
		return a.Int() == b.Int()
	case value.KindFloat:
		return a.Float() == b.Float()
	case value.KindString:
		return string(a.StringHandle().Bytes) == string(b.StringHandle().Bytes)
	case value.KindObject:
		return a.ObjectRef() == b.ObjectRef()
	case value.KindArray:
		return a.ArrayHandle() == b.ArrayHandle()
	case value.KindMapping:
		return a.MappingHandle() == b.MappingHandle()
	case value.KindLWObject:
		return a.LWObjectHandle() == b.LWObjectHandle()
	default:
		return false
	}
}

func compare(a, b value.Value) (int, error) {
	if a.Kind() == value.KindString && b.Kind() == value.KindString {
		as, bs := string(a.StringHandle().Bytes), string(b.StringHandle().Bytes)
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if (a.Kind() != value.KindInt && a.Kind() != value.KindFloat) ||
		(b.Kind() != value.KindInt && b.Kind() != value.KindFloat) {
		return 0, newRuntimeError(nil, "cannot compare %s and %s", a.Kind(), b.Kind())
	}
	x, y := asFloat(a), asFloat(b)
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	default:
		return 0, nil
	}
}

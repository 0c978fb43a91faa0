package main

import (
	"github.com/dgdvm/core/pkg/control"
	"github.com/dgdvm/core/pkg/interp"
	"github.com/dgdvm/core/pkg/kfun"
	"github.com/dgdvm/core/pkg/value"
)

// buildDemoProgram assembles a tiny "main" program exercising arithmetic,
// a kfun call, and a CATCH — enough to prove the interpreter is wired up
// end to end without a compiler front end. It registers the kfuns it
// needs into kfuns and returns the resulting Control.
func buildDemoProgram(kfuns *kfun.Table) *control.Control {
	addNum := kfuns.Register("add_int", func(args []value.Value) (value.Value, error) {
		return value.Int(args[0].Int() + args[1].Int()), nil
	})
	raiseNum := kfuns.Register("raise_demo_error", func(args []value.Value) (value.Value, error) {
		return value.Nil, &interp.Error{Kind: interp.KindRuntime, Message: "demo: deliberate failure"}
	})

	var inner asm
	inner.op(interp.OpCallKfunc, false)
	inner.u16(uint16(raiseNum))
	inner.u8(0)

	var a asm
	a.op(interp.OpPushInt, false)
	a.i64(19)
	a.op(interp.OpPushInt, false)
	a.i64(23)
	a.op(interp.OpCallKfunc, false)
	a.u16(uint16(addNum))
	a.u8(2)
	a.op(interp.OpStoreLocal, true)
	a.u8(0)

	a.op(interp.OpCatch, true)
	a.i16(int16(len(inner.buf)))
	a.buf = append(a.buf, inner.buf...)

	a.op(interp.OpPushLocal, false)
	a.u8(0)
	a.op(interp.OpReturn, false)

	prog := control.New("main")
	prog.Code = a.buf
	prog.Functions = []control.FuncDef{{Name: "run", Offset: 0, NumArgs: 0, NumLocals: 1}}
	return prog
}

package main

import (
	"encoding/binary"

	"github.com/dgdvm/core/pkg/interp"
)

// asm is a minimal bytecode assembler: enough to hand-build the demo
// programs this binary runs, with no source-language front end (the
// runtime's Non-goal — corevm consumes bytecode, it doesn't compile it).
type asm struct {
	buf []byte
}

func (a *asm) op(op interp.Op, pop bool) {
	a.buf = append(a.buf, interp.Encode(op, pop))
}

func (a *asm) u8(b byte) { a.buf = append(a.buf, b) }

func (a *asm) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	a.buf = append(a.buf, b[:]...)
}

func (a *asm) i16(v int16) { a.u16(uint16(v)) }

func (a *asm) i64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	a.buf = append(a.buf, b[:]...)
}

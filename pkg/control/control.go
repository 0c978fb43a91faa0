// Package control implements the Control block: the immutable, per-program
// metadata produced once by compilation and shared by every object that
// inherits from (or is an instance of) that program. It plays the role
// chunk.Chunk plays for a single closure, generalized to a whole
// inheritance tree: code, constant pool, inherit map, and function/
// variable definition tables.
package control

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dgdvm/core/pkg/xhash"
)

// ControlVersion is the on-disk bytecode format version. Per the
// runtime's compatibility contract this format must never change silently
// — a version bump is required for any incompatible change, including
// changes to switch-table key-size encoding.
const ControlVersion uint16 = 1

// ControlMagic identifies a serialized control block.
var ControlMagic = [4]byte{'D', 'G', 'C', 'B'}

// FuncClass mirrors the function class bits attached to each FuncDef:
// visibility and static/non-static dispatch.
type FuncClass uint8

const (
	ClassPrivate FuncClass = 1 << iota
	ClassProtected
	ClassStatic
	ClassAtomic
	ClassVarArgs
	// ClassTypechecked marks a function whose ParamTypes prototype must be
	// checked against the actual arguments on every call, per §4.6
	// "Typechecking".
	ClassTypechecked
)

// ParamType is one entry of a TYPECHECKED function's parameter prototype.
// Tag 0 ("mixed") always passes. Tag 7 ("class") additionally names the
// required class via a string-pool index, resolved against instanceof.
type ParamType struct {
	Tag       uint8
	ClassName uint16 // valid only when Tag == ParamClass
}

const (
	ParamMixed uint8 = iota
	ParamInt
	ParamFloat
	ParamString
	ParamArray
	ParamMapping
	ParamObject
	ParamClass
)

// Inherit describes one entry in a program's inherit map: the object
// inherited from, and the offset its functions/variables are relocated
// to in the inheriting program's flat tables. Per DESIGN.md's Open
// Question decision, inherit indices referenced elsewhere (FuncDef.Inherit,
// VarDef.Inherit) are unsigned.
type Inherit struct {
	ObjName    string
	FuncOffset uint16
	VarOffset  uint16
}

// FuncDef is one entry in a program's function table.
type FuncDef struct {
	Class     FuncClass
	Inherit   uint8 // index into Control.Inherits; see DESIGN.md Open Question
	Name      string
	Offset    uint32 // byte offset of the function's code within Code
	NumArgs   uint8
	NumLocals uint16

	// ParamTypes holds the per-parameter prototype consulted when Class
	// has ClassTypechecked set; empty for an untyped function. Indexed
	// positionally against the adapted argument list, not against NumArgs
	// directly, so a prototype shorter than NumArgs simply leaves its
	// trailing parameters unchecked.
	ParamTypes []ParamType
}

// VarDef is one entry in a program's variable table.
type VarDef struct {
	Class   FuncClass
	Inherit uint8
	Name    string
	Type    uint16 // encoded static type tag; 0 == untyped/mixed
}

// Control is the immutable program metadata produced by compilation.
type Control struct {
	Name      string
	Code      []byte
	Strings   []string
	Inherits  []Inherit
	Functions []FuncDef
	Variables []VarDef

	// symbols indexes Functions and Variables by name for i_call/i_global
	// name resolution, built lazily on first use.
	symbols *xhash.Table
}

// New creates an empty, mutable Control ready to be populated by a
// program builder (see cmd/corevm's assembler) before being frozen for
// use by the interpreter.
func New(name string) *Control {
	return &Control{Name: name}
}

// AddString interns s into the string pool, returning its index. Callers
// that build Control blocks incrementally should prefer this over
// appending to Strings directly so that duplicate literals share storage.
func (c *Control) AddString(s string) uint16 {
	for i, existing := range c.Strings {
		if existing == s {
			return uint16(i)
		}
	}
	c.Strings = append(c.Strings, s)
	return uint16(len(c.Strings) - 1)
}

// symbolTable lazily builds (or returns) the function/variable name index.
func (c *Control) symbolTable() *xhash.Table {
	if c.symbols == nil {
		c.symbols = xhash.New(64, -1, true)
		for i, fd := range c.Functions {
			c.symbols.Insert("f:"+fd.Name, i)
		}
		for i, vd := range c.Variables {
			c.symbols.Insert("v:"+vd.Name, i)
		}
	}
	return c.symbols
}

// FindFunction resolves a function name to its index in Functions, or -1.
func (c *Control) FindFunction(name string) int {
	if e := c.symbolTable().Lookup("f:" + name); e != nil {
		return e.Value.(int)
	}
	return -1
}

// FindVariable resolves a variable name to its index in Variables, or -1.
func (c *Control) FindVariable(name string) int {
	if e := c.symbolTable().Lookup("v:" + name); e != nil {
		return e.Value.(int)
	}
	return -1
}

// ---------------------------------------------------------------------------
// wire format
// ---------------------------------------------------------------------------

// Serialize encodes c into the runtime's fixed bytecode wire format:
// magic, version, then length-prefixed sections for the name, code,
// string pool, inherit map, function table, and variable table, in that
// order. This framing — and not a generic encoding library — is the
// contract the running system depends on byte-for-byte; see pkg/wire for
// the separate, library-backed debug snapshot format.
func (c *Control) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(ControlMagic[:])
	binary.Write(&buf, binary.BigEndian, ControlVersion)

	writeString(&buf, c.Name)

	binary.Write(&buf, binary.BigEndian, uint32(len(c.Code)))
	buf.Write(c.Code)

	binary.Write(&buf, binary.BigEndian, uint16(len(c.Strings)))
	for _, s := range c.Strings {
		writeString(&buf, s)
	}

	binary.Write(&buf, binary.BigEndian, uint16(len(c.Inherits)))
	for _, inh := range c.Inherits {
		writeString(&buf, inh.ObjName)
		binary.Write(&buf, binary.BigEndian, inh.FuncOffset)
		binary.Write(&buf, binary.BigEndian, inh.VarOffset)
	}

	binary.Write(&buf, binary.BigEndian, uint16(len(c.Functions)))
	for _, fd := range c.Functions {
		buf.WriteByte(byte(fd.Class))
		buf.WriteByte(fd.Inherit)
		writeString(&buf, fd.Name)
		binary.Write(&buf, binary.BigEndian, fd.Offset)
		buf.WriteByte(fd.NumArgs)
		binary.Write(&buf, binary.BigEndian, fd.NumLocals)
		buf.WriteByte(byte(len(fd.ParamTypes)))
		for _, pt := range fd.ParamTypes {
			buf.WriteByte(pt.Tag)
			binary.Write(&buf, binary.BigEndian, pt.ClassName)
		}
	}

	binary.Write(&buf, binary.BigEndian, uint16(len(c.Variables)))
	for _, vd := range c.Variables {
		buf.WriteByte(byte(vd.Class))
		buf.WriteByte(vd.Inherit)
		writeString(&buf, vd.Name)
		binary.Write(&buf, binary.BigEndian, vd.Type)
	}

	return buf.Bytes(), nil
}

// Deserialize decodes a Control previously produced by Serialize.
func Deserialize(data []byte) (*Control, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("control: reading magic: %w", err)
	}
	if magic != ControlMagic {
		return nil, fmt.Errorf("control: bad magic %v", magic)
	}

	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("control: reading version: %w", err)
	}
	if version != ControlVersion {
		return nil, fmt.Errorf("control: unsupported version %d (want %d)", version, ControlVersion)
	}

	c := &Control{}
	var err error
	if c.Name, err = readString(r); err != nil {
		return nil, fmt.Errorf("control: reading name: %w", err)
	}

	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, fmt.Errorf("control: reading code length: %w", err)
	}
	c.Code = make([]byte, codeLen)
	if _, err := r.Read(c.Code); err != nil {
		return nil, fmt.Errorf("control: reading code: %w", err)
	}

	var numStrings uint16
	if err := binary.Read(r, binary.BigEndian, &numStrings); err != nil {
		return nil, fmt.Errorf("control: reading string count: %w", err)
	}
	c.Strings = make([]string, numStrings)
	for i := range c.Strings {
		if c.Strings[i], err = readString(r); err != nil {
			return nil, fmt.Errorf("control: reading string %d: %w", i, err)
		}
	}

	var numInherits uint16
	if err := binary.Read(r, binary.BigEndian, &numInherits); err != nil {
		return nil, fmt.Errorf("control: reading inherit count: %w", err)
	}
	c.Inherits = make([]Inherit, numInherits)
	for i := range c.Inherits {
		if c.Inherits[i].ObjName, err = readString(r); err != nil {
			return nil, fmt.Errorf("control: reading inherit %d name: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &c.Inherits[i].FuncOffset); err != nil {
			return nil, fmt.Errorf("control: reading inherit %d funcoffset: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &c.Inherits[i].VarOffset); err != nil {
			return nil, fmt.Errorf("control: reading inherit %d varoffset: %w", i, err)
		}
	}

	var numFuncs uint16
	if err := binary.Read(r, binary.BigEndian, &numFuncs); err != nil {
		return nil, fmt.Errorf("control: reading function count: %w", err)
	}
	c.Functions = make([]FuncDef, numFuncs)
	for i := range c.Functions {
		fd := &c.Functions[i]
		class, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("control: reading function %d class: %w", i, err)
		}
		fd.Class = FuncClass(class)
		if fd.Inherit, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("control: reading function %d inherit: %w", i, err)
		}
		if fd.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("control: reading function %d name: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &fd.Offset); err != nil {
			return nil, fmt.Errorf("control: reading function %d offset: %w", i, err)
		}
		if fd.NumArgs, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("control: reading function %d numargs: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &fd.NumLocals); err != nil {
			return nil, fmt.Errorf("control: reading function %d numlocals: %w", i, err)
		}
		numParams, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("control: reading function %d param count: %w", i, err)
		}
		fd.ParamTypes = make([]ParamType, numParams)
		for j := range fd.ParamTypes {
			if fd.ParamTypes[j].Tag, err = r.ReadByte(); err != nil {
				return nil, fmt.Errorf("control: reading function %d param %d tag: %w", i, j, err)
			}
			if err := binary.Read(r, binary.BigEndian, &fd.ParamTypes[j].ClassName); err != nil {
				return nil, fmt.Errorf("control: reading function %d param %d class: %w", i, j, err)
			}
		}
	}

	var numVars uint16
	if err := binary.Read(r, binary.BigEndian, &numVars); err != nil {
		return nil, fmt.Errorf("control: reading variable count: %w", err)
	}
	c.Variables = make([]VarDef, numVars)
	for i := range c.Variables {
		vd := &c.Variables[i]
		class, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("control: reading variable %d class: %w", i, err)
		}
		vd.Class = FuncClass(class)
		if vd.Inherit, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("control: reading variable %d inherit: %w", i, err)
		}
		if vd.Name, err = readString(r); err != nil {
			return nil, fmt.Errorf("control: reading variable %d name: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &vd.Type); err != nil {
			return nil, fmt.Errorf("control: reading variable %d type: %w", i, err)
		}
	}

	return c, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

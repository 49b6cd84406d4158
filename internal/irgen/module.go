// Package irgen is the in-memory IR module model (C3, §4.2), backed
// directly by github.com/llir/llvm's typed IR rather than a hand-rolled
// representation, per SPEC_FULL's DOMAIN STACK: llir/llvm supplies
// modules, functions, basic blocks, typed SSA values and constants, so
// C3 is realized as a thin façade over *ir.Module that only exposes the
// operation set §4.2 requires. It also backs the IR-based machine
// backend (§4.8 "Alternative"): Module.WriteTo serializes the finished
// module as textual LLVM IR for the external llc/linker pipeline, the
// same boundary spec §1 draws around "the external linker invocation".
package irgen

import (
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

// CallConv maps the source calling-convention keywords to llir/llvm's
// enum, per §4.2 ("keyed from source conventions __cdecl/__fastcall/
// __stdcall").
type CallConv int

const (
	CallConvC CallConv = iota
	CallConvFastCall
	CallConvStdCall
)

func (c CallConv) llir() enum.CallConv {
	switch c {
	case CallConvFastCall:
		return enum.CallConvX86FastCall
	case CallConvStdCall:
		return enum.CallConvX86StdCall
	default:
		return enum.CallConvC
	}
}

// Linkage mirrors §4.2's {internal, private, public} set.
type Linkage int

const (
	LinkageInternal Linkage = iota
	LinkagePrivate
	LinkagePublic
)

func (l Linkage) llir() enum.Linkage {
	switch l {
	case LinkageInternal:
		return enum.LinkageInternal
	case LinkagePrivate:
		return enum.LinkagePrivate
	default:
		return enum.LinkageExternal
	}
}

// Module owns named globals, named functions, and named identified
// struct types, exactly the §4.2 inventory.
type Module struct {
	M *ir.Module

	structs map[string]*types.StructType
	globals map[string]*ir.Global
	funcs   map[string]*ir.Func
}

func NewModule() *Module {
	return &Module{
		M:       ir.NewModule(),
		structs: make(map[string]*types.StructType),
		globals: make(map[string]*ir.Global),
		funcs:   make(map[string]*ir.Func),
	}
}

// Global returns a previously declared global by name — used to re-find
// an interned string's backing global on a cache hit (§4.5), since
// Context.Intern only remembers the name, not the *ir.Global.
func (m *Module) Global(name string) (*ir.Global, bool) {
	g, ok := m.globals[name]
	return g, ok
}

// Func returns a previously declared function by name, so C5/C6 don't
// redeclare an import that's already present in this module.
func (m *Module) Func(name string) (*ir.Func, bool) {
	f, ok := m.funcs[name]
	return f, ok
}

// IdentifiedStruct returns the named opaque struct type, creating it
// write-once on first request — §5's "the IR's identified-type context
// (write-once per name)".
func (m *Module) IdentifiedStruct(name string) *types.StructType {
	if st, ok := m.structs[name]; ok {
		return st
	}
	st := types.NewStruct()
	st.TypeName = name
	m.M.NewTypeDef(name, st)
	m.structs[name] = st
	return st
}

// SetBody sets an identified struct's field list. Called once the
// struct's shape is known (§3 object layout).
func (m *Module) SetBody(st *types.StructType, fields ...types.Type) {
	st.Fields = fields
}

// NewGlobal declares a named global of elemType with the given linkage,
// constancy and initializer (nil for a declaration with no initializer).
func (m *Module) NewGlobal(name string, elemType types.Type, linkage Linkage, constant bool, init ir.Constant) *ir.Global {
	g := m.M.NewGlobal(name, elemType)
	g.Linkage = linkage.llir()
	g.Immutable = constant
	if init != nil {
		g.Init = init
	}
	m.globals[name] = g
	return g
}

// Func wraps an *ir.Func with the insertion-point bookkeeping lowering
// needs (§4.2: "the builder appends instructions at an insertion
// point").
type Func struct {
	F       *ir.Func
	Current *ir.Block
}

// NewFunc declares name with the given signature, linkage and calling
// convention. Body is populated by creating Blocks on the returned Func.
func (m *Module) NewFunc(name string, ret types.Type, params []*ir.Param, linkage Linkage, cc CallConv, variadic bool) *Func {
	f := m.M.NewFunc(name, ret, params...)
	f.Linkage = linkage.llir()
	f.CallConv = cc.llir()
	f.Sig.Variadic = variadic
	m.funcs[name] = f
	return &Func{F: f}
}

// Param constructs a named parameter of typ.
func Param(name string, typ types.Type) *ir.Param {
	return ir.NewParam(name, typ)
}

// NewBlock appends a new basic block named name and returns it as the
// function's current insertion point.
func (f *Func) NewBlock(name string) *ir.Block {
	b := f.F.NewBlock(name)
	f.Current = b
	return b
}

// SetBlock repositions the insertion point without creating a block
// (used when resuming emission into a block created earlier, e.g. the
// loop-cond block revisited after the body).
func (f *Func) SetBlock(b *ir.Block) {
	f.Current = b
}

// WriteTo serializes the module as textual LLVM IR — the IR-based
// backend's output artifact; the actual object-code emission is handed
// to the external toolchain per §1's scope boundary.
func (m *Module) WriteTo(w io.Writer) (int64, error) {
	return m.M.WriteTo(w)
}

func (m *Module) String() string { return m.M.String() }

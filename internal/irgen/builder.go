package irgen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// IPred and FPred re-export llir/llvm's integer/float comparison
// predicates, restricted to the subset §4.2 requires: signed predicates
// for integers, ordered predicates for floats.
type IPred = enum.IPred
type FPred = enum.FPred

const (
	IEq = enum.IPredEQ
	INe = enum.IPredNE
	ILt = enum.IPredSLT
	ILe = enum.IPredSLE
	IGt = enum.IPredSGT
	IGe = enum.IPredSGE
)

const (
	FEq = enum.FPredOEQ
	FNe = enum.FPredONE
	FLt = enum.FPredOLT
	FLe = enum.FPredOLE
	FGt = enum.FPredOGT
	FGe = enum.FPredOGE
)

// Builder is a thin façade over the current function's insertion block,
// exposing exactly the instruction set §4.2 enumerates. One Builder per
// function being lowered, mirroring the teacher's one-StmtCompiler-per-
// function shape (internal/compiler/stmt_compiler.go's
// NewStmtCompiler-per-VisitFunctionStmt).
type Builder struct {
	Func *Func
}

func NewBuilder(f *Func) *Builder { return &Builder{Func: f} }

func (b *Builder) block() *ir.Block { return b.Func.Current }

// --- arithmetic ---

func (b *Builder) Add(x, y value.Value) value.Value  { return b.block().NewAdd(x, y) }
func (b *Builder) Sub(x, y value.Value) value.Value  { return b.block().NewSub(x, y) }
func (b *Builder) Mul(x, y value.Value) value.Value  { return b.block().NewMul(x, y) }
func (b *Builder) SDiv(x, y value.Value) value.Value { return b.block().NewSDiv(x, y) }
func (b *Builder) FAdd(x, y value.Value) value.Value { return b.block().NewFAdd(x, y) }
func (b *Builder) FSub(x, y value.Value) value.Value { return b.block().NewFSub(x, y) }
func (b *Builder) FMul(x, y value.Value) value.Value { return b.block().NewFMul(x, y) }
func (b *Builder) FDiv(x, y value.Value) value.Value { return b.block().NewFDiv(x, y) }

// --- comparisons ---

func (b *Builder) ICmp(pred IPred, x, y value.Value) value.Value {
	return b.block().NewICmp(pred, x, y)
}

func (b *Builder) FCmp(pred FPred, x, y value.Value) value.Value {
	return b.block().NewFCmp(pred, x, y)
}

// --- logical (operate on i1 after coercion, §4.5) ---

func (b *Builder) And(x, y value.Value) value.Value { return b.block().NewAnd(x, y) }
func (b *Builder) Or(x, y value.Value) value.Value  { return b.block().NewOr(x, y) }

// Not produces the bitwise complement of an i1 (xor against true).
func (b *Builder) Not(x value.Value) value.Value {
	return b.block().NewXor(x, constant.True)
}

// --- memory ---

func (b *Builder) Alloca(elemType types.Type) value.Value {
	return b.block().NewAlloca(elemType)
}

func (b *Builder) Load(elemType types.Type, src value.Value) value.Value {
	return b.block().NewLoad(elemType, src)
}

func (b *Builder) Store(src, dst value.Value) {
	b.block().NewStore(src, dst)
}

// GEP emits a structural-indexing getelementptr using the i32
// zero-then-index form §4.2 specifies: the leading index is always an
// i32 zero selecting the pointee itself, followed by the caller's
// field/element indices.
func (b *Builder) GEP(elemType types.Type, src value.Value, indices ...int64) value.Value {
	idxVals := make([]value.Value, 0, len(indices)+1)
	idxVals = append(idxVals, constant.NewInt(types.I32, 0))
	for _, i := range indices {
		idxVals = append(idxVals, constant.NewInt(types.I32, i))
	}
	return b.block().NewGetElementPtr(elemType, src, idxVals...)
}

// GEPIndex emits a getelementptr through a pointer using a single
// dynamic (non-constant) index, without the leading zero index — used
// for array-element addressing through a decayed pointer (§4.5 Kind 0,
// "else GEP [index] through a pointer").
func (b *Builder) GEPIndex(elemType types.Type, src, index value.Value) value.Value {
	return b.block().NewGetElementPtr(elemType, src, index)
}

// GEPZeroIndex emits a getelementptr with the leading constant zero
// index followed by one dynamic index — §4.5 Kind 0's "GEP [0, index]"
// form for array-typed (non-decayed) addressing, where src is the
// array's own address rather than an already-decayed element pointer.
func (b *Builder) GEPZeroIndex(elemType types.Type, src, index value.Value) value.Value {
	return b.block().NewGetElementPtr(elemType, src, constant.NewInt(types.I32, 0), index)
}

// --- conversions ---

func (b *Builder) BitCast(v value.Value, to types.Type) value.Value {
	return b.block().NewBitCast(v, to)
}

func (b *Builder) Trunc(v value.Value, to types.Type) value.Value {
	return b.block().NewTrunc(v, to)
}

func (b *Builder) ZExt(v value.Value, to types.Type) value.Value {
	return b.block().NewZExt(v, to)
}

func (b *Builder) IntToPtr(v value.Value, to types.Type) value.Value {
	return b.block().NewIntToPtr(v, to)
}

// --- calls ---

func (b *Builder) Call(callee value.Value, args ...value.Value) value.Value {
	return b.block().NewCall(callee, args...)
}

// --- control flow ---

func (b *Builder) Br(target *ir.Block) {
	b.block().NewBr(target)
}

func (b *Builder) CondBr(cond value.Value, ifTrue, ifFalse *ir.Block) {
	b.block().NewCondBr(cond, ifTrue, ifFalse)
}

func (b *Builder) Ret(v value.Value) {
	if v == nil {
		b.block().NewRet(nil)
		return
	}
	b.block().NewRet(v)
}

// Terminated reports whether the current block already has a
// terminator, so lowering can avoid double-terminating a block that
// ended in an early `return`/`break`/`continue` (§4.5: "Both abort
// further lowering of the enclosing block").
func (b *Builder) Terminated() bool {
	return b.block().Term != nil
}

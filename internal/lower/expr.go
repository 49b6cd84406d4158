// C6 expression lowering (§4.5): type inference/checking, arithmetic and
// comparison lowering, casts, indexing, method dispatch, new. Grounded on
// internal/compiler/stmt_compiler.go's visitor-over-AST shape,
// generalized from bytecode opcodes to irgen.Builder calls.
package lower

import (
	"github.com/llir/llvm/ir/constant"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"teac/internal/ast"
	"teac/internal/compile"
	"teac/internal/diag"
	"teac/internal/irgen"
	"teac/internal/mangle"
	"teac/internal/types"
)

// lowerExpr dispatches through the AST's visitor protocol and unboxes
// the Value every Visit* method below returns.
func (l *Lowerer) lowerExpr(e ast.Expr) Value {
	return e.Accept(l).(Value)
}

func (l *Lowerer) VisitLiteral(n *ast.Literal) interface{} {
	switch n.Kind {
	case ast.LitInt:
		return Value{V: constant.NewInt(lltypes.I32, n.Value.(int64)), Typ: types.I32}
	case ast.LitFloat:
		return Value{V: constant.NewFloat(lltypes.Float, n.Value.(float64)), Typ: types.F32}
	case ast.LitDouble:
		return Value{V: constant.NewFloat(lltypes.Double, n.Value.(float64)), Typ: types.F64}
	case ast.LitChar:
		return Value{V: constant.NewInt(lltypes.I8, int64(n.Value.(byte))), Typ: types.I8}
	case ast.LitBool:
		v := int64(0)
		if n.Value.(bool) {
			v = 1
		}
		return Value{V: constant.NewInt(lltypes.I1, v), Typ: types.Bool}
	case ast.LitString:
		return l.lowerStringLiteral(n.Value.(string))
	}
	l.fail(diag.KindInvalidShape, n.Pos, "unknown literal kind")
	return Value{}
}

// lowerStringLiteral interns s by content (§3 invariant iii, §4.5): one
// internal-linkage constant global per distinct content, named by a
// sanitized transliteration. Repeated uses of the same content bitcast
// the same global rather than allocating another.
func (l *Lowerer) lowerStringLiteral(s string) Value {
	name, isNew := l.Ctx.Intern(s)
	var g value.Value
	if isNew {
		arr := irgen.ConstCString(s)
		g = l.Mod.NewGlobal(name, arr.Typ, irgen.LinkageInternal, true, arr)
	} else {
		existing, ok := l.Mod.Global(name)
		if !ok {
			l.fail(diag.KindBackendFailure, diag.Pos{}, "interned string %q missing its backing global", name)
		}
		g = existing
	}
	bc := l.B.BitCast(g, lltypes.NewPointer(lltypes.I8))
	return Value{V: bc, Typ: types.Pointer(types.I8)}
}

func (l *Lowerer) VisitIdentifier(n *ast.Identifier) interface{} {
	if loc, ok := l.lookup(n.Name); ok {
		if loc.Type.IsArray() {
			return Value{V: loc.Alloca, Typ: loc.Type}
		}
		v := l.B.Load(l.Mod.LLType(loc.Type, l.wordSize()), loc.Alloca)
		return Value{V: v, Typ: loc.Type}
	}
	if g, ok := l.Ctx.LookupGlobal(n.Name); ok {
		if g.Type.IsArray() {
			return Value{V: g.Ptr, Typ: g.Type}
		}
		v := l.B.Load(l.Mod.LLType(g.Type, l.wordSize()), g.Ptr)
		return Value{V: v, Typ: g.Type}
	}
	if f, ok := l.Ctx.LookupFunction(n.Name); ok {
		return Value{V: f.Callee, Typ: types.Func(f.Ret, f.Params...)}
	}
	l.fail(diag.KindUnresolvedReference, n.Pos, "undefined identifier %q", n.Name)
	return Value{}
}

func (l *Lowerer) VisitBinary(n *ast.Binary) interface{} {
	left := l.lowerExpr(n.Left)
	right := l.lowerExpr(n.Right)
	if n.Op.IsComparison() {
		return l.lowerComparison(n, left, right)
	}
	return l.lowerArithmetic(n, left, right)
}

func (l *Lowerer) lowerArithmetic(n *ast.Binary, left, right Value) Value {
	if left.Typ.IsPointer() && right.Typ.IsInt() {
		return l.lowerPointerArith(n, left, right)
	}
	if right.Typ.IsPointer() && left.Typ.IsInt() {
		if n.Op == ast.OpSub {
			l.fail(diag.KindTypeMismatch, n.Pos, "cannot subtract a pointer from an integer")
		}
		return l.lowerPointerArith(n, right, left)
	}
	if !types.Equal(left.Typ, right.Typ) {
		l.fail(diag.KindTypeMismatch, n.Pos, "operand types of %q differ: %s vs %s", n.Op, left.Typ.Spell(), right.Typ.Spell())
	}
	if left.Typ.IsFloat() {
		switch n.Op {
		case ast.OpAdd:
			return Value{V: l.B.FAdd(left.V, right.V), Typ: left.Typ}
		case ast.OpSub:
			return Value{V: l.B.FSub(left.V, right.V), Typ: left.Typ}
		case ast.OpMul:
			return Value{V: l.B.FMul(left.V, right.V), Typ: left.Typ}
		case ast.OpDiv:
			return Value{V: l.B.FDiv(left.V, right.V), Typ: left.Typ}
		}
	}
	if left.Typ.IsInt() {
		switch n.Op {
		case ast.OpAdd:
			return Value{V: l.B.Add(left.V, right.V), Typ: left.Typ}
		case ast.OpSub:
			return Value{V: l.B.Sub(left.V, right.V), Typ: left.Typ}
		case ast.OpMul:
			return Value{V: l.B.Mul(left.V, right.V), Typ: left.Typ}
		case ast.OpDiv:
			return Value{V: l.B.SDiv(left.V, right.V), Typ: left.Typ}
		}
	}
	l.fail(diag.KindTypeMismatch, n.Pos, "arithmetic unsupported for type %s", left.Typ.Spell())
	return Value{}
}

// lowerPointerArith scales idx by the pointee's ABI size and emits a GEP
// (§4.5: "ptr + i32 and i32 + ptr scale... ptr - i32 scales and GEPs the
// negated offset").
func (l *Lowerer) lowerPointerArith(n *ast.Binary, ptr, idx Value) Value {
	offset := idx.V
	if n.Op == ast.OpSub {
		offset = l.B.Sub(constant.NewInt(lltypes.I32, 0), idx.V)
	}
	elemType := l.Mod.LLType(ptr.Typ.Elem, l.wordSize())
	gep := l.B.GEPIndex(elemType, ptr.V, offset)
	return Value{V: gep, Typ: ptr.Typ}
}

func (l *Lowerer) lowerComparison(n *ast.Binary, left, right Value) Value {
	if !types.Equal(left.Typ, right.Typ) {
		l.fail(diag.KindTypeMismatch, n.Pos, "comparison operands must share a type (cast explicitly): %s vs %s", left.Typ.Spell(), right.Typ.Spell())
	}
	if left.Typ.IsFloat() {
		return Value{V: l.B.FCmp(floatPred(n.Op), left.V, right.V), Typ: types.Bool}
	}
	return Value{V: l.B.ICmp(intPred(n.Op), left.V, right.V), Typ: types.Bool}
}

func intPred(op ast.BinOp) irgen.IPred {
	switch op {
	case ast.OpEq:
		return irgen.IEq
	case ast.OpNeq:
		return irgen.INe
	case ast.OpLt:
		return irgen.ILt
	case ast.OpLe:
		return irgen.ILe
	case ast.OpGt:
		return irgen.IGt
	case ast.OpGe:
		return irgen.IGe
	}
	return irgen.IEq
}

func floatPred(op ast.BinOp) irgen.FPred {
	switch op {
	case ast.OpEq:
		return irgen.FEq
	case ast.OpNeq:
		return irgen.FNe
	case ast.OpLt:
		return irgen.FLt
	case ast.OpLe:
		return irgen.FLe
	case ast.OpGt:
		return irgen.FGt
	case ast.OpGe:
		return irgen.FGe
	}
	return irgen.FEq
}

func (l *Lowerer) VisitLogical(n *ast.Logical) interface{} {
	left := l.toBool(n.Pos, l.lowerExpr(n.Left))
	right := l.toBool(n.Pos, l.lowerExpr(n.Right))
	if n.Op == ast.LogicalAnd {
		return Value{V: l.B.And(left.V, right.V), Typ: types.Bool}
	}
	return Value{V: l.B.Or(left.V, right.V), Typ: types.Bool}
}

func (l *Lowerer) VisitNot(n *ast.Not) interface{} {
	v := l.toBool(n.Pos, l.lowerExpr(n.Operand))
	return Value{V: l.B.Not(v.V), Typ: types.Bool}
}

func (l *Lowerer) VisitCast(n *ast.Cast) interface{} {
	target, _, err := l.Ctx.Types.Get(n.TargetType)
	if err != nil {
		l.fail(diag.KindTypeMismatch, n.Pos, "%s", err)
	}
	v := l.lowerExpr(n.Value)
	return l.cast(n.Pos, target, v)
}

// cast implements §4.5's coercion table: identity, pointer<->pointer
// bitcast, non-pointer->i1 compare-to-zero/null, narrower-signed->wider
// zero-extend, wider->narrower truncate, integer(>=32)->pointer inttoptr.
// Anything else fails (§4.5 "Anything else fails").
func (l *Lowerer) cast(pos diag.Pos, target *types.Type, v Value) Value {
	if types.Equal(target, v.Typ) {
		return Value{V: v.V, Typ: target}
	}
	if target.IsPointer() && v.Typ.IsPointer() {
		return Value{V: l.B.BitCast(v.V, l.Mod.LLType(target, l.wordSize())), Typ: target}
	}
	if target.IsInt() && target.Width == 1 {
		return l.toBool(pos, v)
	}
	if target.IsInt() && v.Typ.IsInt() {
		llTarget := l.Mod.LLType(target, l.wordSize())
		if target.Width > v.Typ.Width {
			return Value{V: l.B.ZExt(v.V, llTarget), Typ: target}
		}
		return Value{V: l.B.Trunc(v.V, llTarget), Typ: target}
	}
	if target.IsPointer() && v.Typ.IsInt() && v.Typ.Width >= 32 {
		return Value{V: l.B.IntToPtr(v.V, l.Mod.LLType(target, l.wordSize())), Typ: target}
	}
	l.fail(diag.KindTypeMismatch, pos, "cannot cast %s to %s", v.Typ.Spell(), target.Spell())
	return Value{}
}

// toBool coerces v to i1 by comparing against zero/null, per §4.5's
// "non-pointer -> i1 -> compare to zero/null" rule, generalized to cover
// pointers (compared against null) for Logical/Not operand coercion.
func (l *Lowerer) toBool(pos diag.Pos, v Value) Value {
	if v.Typ.IsInt() && v.Typ.Width == 1 {
		return v
	}
	switch {
	case v.Typ.IsInt():
		it := v.V.Type().(*lltypes.IntType)
		return Value{V: l.B.ICmp(irgen.INe, v.V, constant.NewInt(it, 0)), Typ: types.Bool}
	case v.Typ.IsFloat():
		ft := v.V.Type().(*lltypes.FloatType)
		return Value{V: l.B.FCmp(irgen.FNe, v.V, constant.NewFloat(ft, 0)), Typ: types.Bool}
	case v.Typ.IsPointer():
		pt := v.V.Type().(*lltypes.PointerType)
		return Value{V: l.B.ICmp(irgen.INe, v.V, constant.NewNull(pt)), Typ: types.Bool}
	}
	l.fail(diag.KindTypeMismatch, pos, "cannot coerce %s to bool", v.Typ.Spell())
	return Value{}
}

func (l *Lowerer) VisitIndex(n *ast.Index) interface{} {
	addr, elemType, _ := l.indexAddr(n)
	v := l.B.Load(l.Mod.LLType(elemType, l.wordSize()), addr)
	return Value{V: v, Typ: elemType}
}

// indexAddr computes the address, element type, and const-ness for both
// index kinds, shared by VisitIndex (loads the result) and Assignment
// lowering (uses the address as a store target directly, with the const
// flag feeding the mutation check, §4.5 Kind 0/1).
func (l *Lowerer) indexAddr(n *ast.Index) (value.Value, *types.Type, bool) {
	if n.Kind == ast.IndexField {
		return l.fieldAddr(n)
	}
	base := l.lowerExpr(n.Base)
	key := l.lowerExpr(n.Key)
	if !key.Typ.IsInt() {
		l.fail(diag.KindTypeMismatch, n.Pos, "array index must be an integer, got %s", key.Typ.Spell())
	}
	if base.Typ.IsArray() {
		elemType := l.Mod.LLType(base.Typ, l.wordSize())
		addr := l.B.GEPZeroIndex(elemType, base.V, key.V)
		return addr, base.Typ.Elem, false
	}
	if base.Typ.IsPointer() {
		elemType := l.Mod.LLType(base.Typ.Elem, l.wordSize())
		addr := l.B.GEPIndex(elemType, base.V, key.V)
		return addr, base.Typ.Elem, false
	}
	l.fail(diag.KindInvalidShape, n.Pos, "index on non-indexable type %s", base.Typ.Spell())
	return nil, nil, false
}

// fieldAddr resolves Kind-1 (field) indexing: locate the owning object
// type, forbid private access from non-owning code, compute the field's
// slot (2 + declaration order), GEP [0, slot] (§4.5).
func (l *Lowerer) fieldAddr(n *ast.Index) (value.Value, *types.Type, bool) {
	base := l.lowerExpr(n.Base)
	if !base.Typ.IsPointer() || !base.Typ.Elem.IsNamed() || base.Typ.Elem.Obj == nil {
		l.fail(diag.KindInvalidShape, n.Pos, "field access on non-object value")
		return nil, nil, false
	}
	obj := base.Typ.Elem.Obj
	fld, ok := obj.Field(n.Field)
	if !ok {
		l.fail(diag.KindUnresolvedReference, n.Pos, "object %q has no field %q", obj.Name, n.Field)
		return nil, nil, false
	}
	if fld.Private && (l.Self == nil || l.Self.Name != obj.Name) {
		l.fail(diag.KindStorageViolation, n.Pos, "field %q of %q is private", n.Field, obj.Name)
	}
	slot, _ := obj.Slot(n.Field)
	structTy := l.Mod.LLType(base.Typ.Elem, l.wordSize())
	addr := l.B.GEP(structTy, base.V, int64(slot))
	return addr, fld.Type, fld.Const
}

// VisitArrayLiteral type-checks every element against the first
// element's type (§4.5 supplement: a heterogeneous literal is a
// TypeMismatch), allocates a fresh stack slot, and stores each element —
// the slot's address IS the literal's value, reused rather than copied
// by a Variable initializer that binds it (§4.5 "Array-typed initializers
// reuse the initializer's allocation rather than copying").
func (l *Lowerer) VisitArrayLiteral(n *ast.ArrayLiteral) interface{} {
	if len(n.Elements) == 0 {
		l.fail(diag.KindInvalidShape, n.Pos, "empty array literal")
		return Value{}
	}
	elems := make([]Value, len(n.Elements))
	elems[0] = l.lowerExpr(n.Elements[0])
	elemType := elems[0].Typ
	for i := 1; i < len(n.Elements); i++ {
		elems[i] = l.lowerExpr(n.Elements[i])
		if !types.Equal(elems[i].Typ, elemType) {
			l.fail(diag.KindTypeMismatch, n.Pos, "array literal element %d has type %s, expected %s", i, elems[i].Typ.Spell(), elemType.Spell())
		}
	}
	arrType := types.Array(len(elems), elemType)
	entry := l.Fn.F.Blocks[0]
	alloca := entry.NewAlloca(l.Mod.LLType(arrType, l.wordSize()))
	llArr := l.Mod.LLType(arrType, l.wordSize())
	for i, ev := range elems {
		addr := l.B.GEPZeroIndex(llArr, alloca, constant.NewInt(lltypes.I32, int64(i)))
		l.B.Store(ev.V, addr)
	}
	return Value{V: alloca, Typ: arrType}
}

// VisitNew calls the synthesized constructor for Object (registered by
// C7 under the "new$"+name key) with type-checked arguments.
func (l *Lowerer) VisitNew(n *ast.New) interface{} {
	info, ok := l.Ctx.LookupFunction("new$" + n.Object)
	if !ok {
		l.fail(diag.KindUnresolvedReference, n.Pos, "unknown object type %q", n.Object)
		return Value{}
	}
	if len(n.Args) != len(info.Params) {
		l.fail(diag.KindArityMismatch, n.Pos, "constructor for %q expects %d arguments, got %d", n.Object, len(info.Params), len(n.Args))
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		av := l.lowerExpr(a)
		args[i] = l.cast(n.Pos, info.Params[i], av).V
	}
	v := l.B.Call(info.Callee, args...)
	return Value{V: v, Typ: info.Ret}
}

// VisitMethodCall dispatches virtually: load vtable from obj[0,0], look
// up name's slot in the owning object's method table, load the function
// pointer from vtable[0,slot], call with this=obj prepended (§4.5).
func (l *Lowerer) VisitMethodCall(n *ast.MethodCall) interface{} {
	obj := l.lowerExpr(n.Object)
	if !obj.Typ.IsObjectPointer() {
		l.fail(diag.KindInvalidShape, n.Pos, "method call on a non-object value")
		return Value{}
	}
	objType := obj.Typ.Elem.Obj
	meth, ok := objType.Method(n.Name)
	if !ok {
		l.fail(diag.KindUnresolvedReference, n.Pos, "object %q has no method %q", objType.Name, n.Name)
		return Value{}
	}
	if meth.Private && (l.Self == nil || l.Self.Name != objType.Name) {
		l.fail(diag.KindStorageViolation, n.Pos, "method %q of %q is private", n.Name, objType.Name)
	}
	if len(n.Args) != len(meth.Params) {
		l.fail(diag.KindArityMismatch, n.Pos, "method %q expects %d arguments, got %d", n.Name, len(meth.Params), len(n.Args))
	}
	structTy := l.Mod.LLType(obj.Typ.Elem, l.wordSize())
	vtablePtrSlot := l.B.GEP(structTy, obj.V, 0)
	vtableTy := l.Mod.VTableType(objType, l.wordSize())
	vtable := l.B.Load(lltypes.NewPointer(vtableTy), vtablePtrSlot)
	fnSlotPtr := l.B.GEP(vtableTy, vtable, int64(meth.Slot))
	fnSig := vtableTy.Fields[meth.Slot]
	fnPtr := l.B.Load(fnSig, fnSlotPtr)
	args := make([]value.Value, 0, len(n.Args)+1)
	args = append(args, obj.V)
	for i, a := range n.Args {
		if i >= len(meth.Params) {
			break
		}
		av := l.lowerExpr(a)
		args = append(args, l.cast(n.Pos, meth.Params[i], av).V)
	}
	v := l.B.Call(fnPtr, args...)
	return Value{V: v, Typ: meth.Ret}
}

// VisitCall resolves by scope (§4.5): unscoped against current-module
// globals, scoped against the resolved import named by the first scope
// segment (any further segments are not consulted). Variadic callees
// accept >= len(fixed args); non-variadic require exact arity. Every actual is coerced
// against its formal.
func (l *Lowerer) VisitCall(n *ast.Call) interface{} {
	var info *compile.FuncInfo
	if len(n.Scope) == 0 {
		fi, ok := l.Ctx.LookupFunction(n.Name)
		if !ok {
			l.fail(diag.KindUnresolvedReference, n.Pos, "undefined function %q", n.Name)
			return Value{}
		}
		info = fi
	} else {
		scopeKey := n.Scope[0]
		mod, ok := l.Ctx.LookupScope(scopeKey)
		if !ok {
			l.fail(diag.KindUnresolvedReference, n.Pos, "unknown module scope %q", scopeKey)
			return Value{}
		}
		fi, ok := mod.Functions[n.Name]
		if !ok {
			l.fail(diag.KindUnresolvedReference, n.Pos, "module %q has no symbol %q", scopeKey, n.Name)
			return Value{}
		}
		info = fi
	}
	if info.Variadic {
		if len(n.Args) < len(info.Params) {
			l.fail(diag.KindArityMismatch, n.Pos, "variadic call to %q needs at least %d arguments, got %d", mangle.ScopedCall(n.Scope, n.Name), len(info.Params), len(n.Args))
		}
	} else if len(n.Args) != len(info.Params) {
		l.fail(diag.KindArityMismatch, n.Pos, "call to %q expects %d arguments, got %d", mangle.ScopedCall(n.Scope, n.Name), len(info.Params), len(n.Args))
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		av := l.lowerExpr(a)
		if i < len(info.Params) {
			args[i] = l.cast(n.Pos, info.Params[i], av).V
		} else {
			args[i] = av.V // trailing variadic actual, passed uncoerced
		}
	}
	v := l.B.Call(info.Callee, args...)
	return Value{V: v, Typ: info.Ret}
}

func (l *Lowerer) VisitReference(n *ast.Reference) interface{} {
	if loc, ok := l.lookup(n.Name); ok {
		return Value{V: loc.Alloca, Typ: types.Pointer(loc.Type)}
	}
	if g, ok := l.Ctx.LookupGlobal(n.Name); ok {
		return Value{V: g.Ptr, Typ: types.Pointer(g.Type)}
	}
	if f, ok := l.Ctx.LookupFunction(n.Name); ok {
		return Value{V: f.Callee, Typ: types.Pointer(types.Func(f.Ret, f.Params...))}
	}
	l.fail(diag.KindUnresolvedReference, n.Pos, "undefined identifier %q", n.Name)
	return Value{}
}

// VisitDereference loads through a pointer; never a constant expression
// (§4.5).
func (l *Lowerer) VisitDereference(n *ast.Dereference) interface{} {
	v := l.lowerExpr(n.Operand)
	if !v.Typ.IsPointer() {
		l.fail(diag.KindInvalidShape, n.Pos, "dereference of non-pointer type %s", v.Typ.Spell())
		return Value{}
	}
	loaded := l.B.Load(l.Mod.LLType(v.Typ.Elem, l.wordSize()), v.V)
	return Value{V: loaded, Typ: v.Typ.Elem}
}

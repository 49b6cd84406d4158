// Package objectgen implements C7: object codegen (§4.6). Declaring an
// `object O { ... }` synthesizes a constructor, a destructor, and one
// plain function per non-ctor/dtor method, then assembles the vtable as
// a write-once constant global. Grounded on
// internal/compiler/class_compiler.go's ctor/dtor/method-table
// synthesis, generalized from bytecode chunks to forward-declared
// llir/llvm functions whose bodies are populated once every symbol the
// vtable references already exists — the cyclic-reference problem §9
// calls out ("a constructor can call a method whose slot isn't known
// until the vtable is built").
package objectgen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	lltypes "github.com/llir/llvm/ir/types"

	"teac/internal/ast"
	"teac/internal/compile"
	"teac/internal/diag"
	"teac/internal/irgen"
	"teac/internal/lower"
	"teac/internal/mangle"
	"teac/internal/types"
)

// Lower declares and fully compiles decl, registering its constructor
// under the "new$"+Name key expr.go's VisitNew looks up.
func Lower(ctx *compile.Context, mod *irgen.Module, diags *diag.Bag, decl *ast.Object) {
	obj, ctorAst, dtorAst, methodAst := buildShape(ctx, decl)
	word := ctx.Opts.Bitness.WordSize()

	named := ctx.Types.Register(decl.Name)
	named.Obj = obj
	namedPtr := types.Pointer(named)

	structTy := mod.ObjectStructType(obj, word)
	vtableTy := mod.VTableType(obj, word)
	llNamedPtr := mod.LLType(namedPtr, word)

	dtorFn := mod.NewFunc(mangle.Destructor(decl.Name), lltypes.Void,
		[]*ir.Param{irgen.Param("this", llNamedPtr)}, irgen.LinkagePublic, irgen.CallConvC, false)

	methodFns := make([]*irgen.Func, len(obj.Methods))
	for i, m := range obj.Methods {
		src := methodAst[i]
		mangled := mangle.Method(m.Name, decl.Name, m.Ret, m.Params)
		params := make([]*ir.Param, 0, len(m.Params)+1)
		params = append(params, irgen.Param("this", llNamedPtr))
		for j, pt := range m.Params {
			params = append(params, irgen.Param(src.Params[j].Name, mod.LLType(pt, word)))
		}
		methodFns[i] = mod.NewFunc(mangled, mod.LLType(m.Ret, word), params, irgen.LinkagePublic, irgen.CallConvC, false)
	}

	vtableInit := make([]constant.Constant, 0, len(methodFns)+1)
	vtableInit = append(vtableInit, dtorFn.F)
	for _, mf := range methodFns {
		vtableInit = append(vtableInit, mf.F)
	}
	vtableGlobal := mod.NewGlobal(mangle.VTable(decl.Name), vtableTy, irgen.LinkageInternal, true,
		constant.NewStruct(vtableTy, vtableInit...))

	ctorParams := make([]*types.Type, 0)
	if ctorAst != nil {
		for _, p := range ctorAst.Params {
			pt, _, err := ctx.Types.Get(p.Type)
			if err != nil {
				diag.Panic(diag.At(diag.KindInvalidShape, p.Pos, "%s", err))
			}
			ctorParams = append(ctorParams, pt)
		}
	}
	ctorLLParams := make([]*ir.Param, len(ctorParams))
	for i, pt := range ctorParams {
		name := "arg"
		if ctorAst != nil {
			name = ctorAst.Params[i].Name
		}
		ctorLLParams[i] = irgen.Param(name, mod.LLType(pt, word))
	}
	ctorFn := mod.NewFunc(mangle.Constructor(decl.Name, ctorParams), llNamedPtr, ctorLLParams, irgen.LinkagePublic, irgen.CallConvC, false)

	allocFn := ensureAllocator(ctx, mod)
	deallocFn := ensureDeallocator(ctx, mod)

	emitConstructor(ctx, mod, diags, obj, decl, ctorAst, ctorFn, ctorParams, structTy, vtableGlobal, allocFn, namedPtr, word)
	emitDestructor(ctx, mod, diags, obj, decl, dtorAst, dtorFn, structTy, deallocFn, namedPtr, word)

	for i, m := range obj.Methods {
		emitMethod(ctx, mod, diags, obj, methodAst[i], methodFns[i], m, namedPtr)
	}

	ctx.DeclareFunction("new$"+decl.Name, &compile.FuncInfo{Callee: ctorFn.F, Params: ctorParams, Ret: namedPtr})
}

// buildShape resolves decl's fields and non-ctor/dtor methods into a
// *types.Object, returning alongside it the ctor/dtor AST nodes (nil if
// absent) and the AST method node for each obj.Methods entry at the same
// index — built in one pass over decl.Methods so the two slices never
// drift out of alignment the way indexing obj.Methods against
// decl.Methods directly would (obj.Methods skips ctor/dtor entries that
// decl.Methods still carries).
func buildShape(ctx *compile.Context, decl *ast.Object) (*types.Object, *ast.Method, *ast.Method, []*ast.Method) {
	obj := &types.Object{Name: decl.Name}
	for _, f := range decl.Fields {
		ft, _, err := ctx.Types.Get(f.Type)
		if err != nil {
			diag.Panic(diag.At(diag.KindInvalidShape, f.Pos, "%s", err))
		}
		obj.Fields = append(obj.Fields, types.Field{Name: f.Name, Type: ft, Const: f.Const, Private: f.Private})
	}

	var ctorAst, dtorAst *ast.Method
	var methodAst []*ast.Method
	slot := 1
	for i := range decl.Methods {
		m := &decl.Methods[i]
		switch {
		case m.IsCtor():
			ctorAst = m
			continue
		case m.IsDtor():
			dtorAst = m
			continue
		}
		params := make([]*types.Type, len(m.Params))
		for j, p := range m.Params {
			pt, _, err := ctx.Types.Get(p.Type)
			if err != nil {
				diag.Panic(diag.At(diag.KindInvalidShape, p.Pos, "%s", err))
			}
			params[j] = pt
		}
		ret := types.Void
		if m.ReturnType != "" {
			rt, _, err := ctx.Types.Get(m.ReturnType)
			if err != nil {
				diag.Panic(diag.At(diag.KindInvalidShape, m.Pos, "%s", err))
			}
			ret = rt
		}
		obj.Methods = append(obj.Methods, types.Method{Name: m.Name, Params: params, Ret: ret, Private: !m.Public, Slot: slot})
		methodAst = append(methodAst, m)
		slot++
	}
	return obj, ctorAst, dtorAst, methodAst
}

// emitConstructor synthesizes step 3 of §4.6: allocate, zero the
// refcount, write the vtable pointer, splice the user `.ctor` body (if
// any) with its declared parameters and `this` bound in scope, then
// return `this`.
func emitConstructor(ctx *compile.Context, mod *irgen.Module, diags *diag.Bag, obj *types.Object, decl *ast.Object, ctorAst *ast.Method, fn *irgen.Func, params []*types.Type, structTy *lltypes.StructType, vtableGlobal *ir.Global, allocFn *ir.Func, namedPtr *types.Type, word int) {
	l := lower.New(ctx, mod, fn, diags)
	l.Self = obj
	l.InCtorOrDtor = true
	l.RetType = namedPtr

	l.BeginEntry()
	for i, pt := range params {
		name := ctorAst.Params[i].Name
		l.BindLocal(name, pt, fn.F.Params[i], false)
	}

	size := constant.NewInt(wordIntType(word), int64(namedPtr.Elem.Size(word)))
	raw := l.B.Call(allocFn, size)
	thisPtr := l.B.BitCast(raw, mod.LLType(namedPtr, word))

	vtableSlot := l.B.GEP(structTy, thisPtr, 0)
	l.B.Store(vtableGlobal, vtableSlot)
	rcSlot := l.B.GEP(structTy, thisPtr, 1)
	l.B.Store(constant.NewInt(lltypes.I32, 0), rcSlot)

	l.BindLocal("this", namedPtr, thisPtr, true)

	if ctorAst != nil {
		l.LowerStmts(ctorAst.Body)
	}

	l.EndEntry()
	if !l.B.Terminated() {
		l.B.Ret(thisPtr)
	}
}

// emitDestructor synthesizes step 4 of §4.6: decrement the refcount; if
// it falls to zero or below, splice the user `.dtor` body (if any) and
// deallocate; otherwise return without destroying.
func emitDestructor(ctx *compile.Context, mod *irgen.Module, diags *diag.Bag, obj *types.Object, decl *ast.Object, dtorAst *ast.Method, fn *irgen.Func, structTy *lltypes.StructType, deallocFn *ir.Func, namedPtr *types.Type, word int) {
	l := lower.New(ctx, mod, fn, diags)
	l.Self = obj
	l.InCtorOrDtor = true
	l.RetType = types.Void

	l.BeginEntry()
	l.BindLocal("this", namedPtr, fn.F.Params[0], true)
	thisPtr := fn.F.Params[0]

	rcSlot := l.B.GEP(structTy, thisPtr, 1)
	cur := l.B.Load(lltypes.I32, rcSlot)
	next := l.B.Sub(cur, constant.NewInt(lltypes.I32, 1))
	l.B.Store(next, rcSlot)

	destroyBlk := l.Fn.F.NewBlock(ctx.Fresh("dtor.destroy"))
	skipBlk := l.Fn.F.NewBlock(ctx.Fresh("dtor.skip"))
	cond := l.B.ICmp(irgen.ILe, next, constant.NewInt(lltypes.I32, 0))
	l.B.CondBr(cond, destroyBlk, skipBlk)

	l.Fn.SetBlock(skipBlk)
	l.B.Ret(nil)

	l.Fn.SetBlock(destroyBlk)
	if dtorAst != nil {
		l.LowerStmts(dtorAst.Body)
	}
	if !l.B.Terminated() {
		raw := l.B.BitCast(thisPtr, lltypes.NewPointer(lltypes.I8))
		l.B.Call(deallocFn, raw)
		l.B.Ret(nil)
	}

	l.EndEntry()
}

// emitMethod lowers one ordinary (non-ctor/dtor) method as a plain
// function taking `this` as its first parameter (§4.6 step 5).
func emitMethod(ctx *compile.Context, mod *irgen.Module, diags *diag.Bag, obj *types.Object, src *ast.Method, fn *irgen.Func, m types.Method, namedPtr *types.Type) {
	l := lower.New(ctx, mod, fn, diags)
	l.Self = obj
	l.RetType = m.Ret

	l.BeginEntry()
	l.BindLocal("this", namedPtr, fn.F.Params[0], true)
	for i, pt := range m.Params {
		l.BindLocal(src.Params[i].Name, pt, fn.F.Params[i+1], false)
	}
	l.LowerStmts(src.Body)
	l.EndEntry()
	if !l.B.Terminated() {
		if m.Ret.IsVoid() {
			l.B.Ret(nil)
		} else {
			diag.Panic(diag.At(diag.KindInvalidShape, src.Pos, "method %q of %q falls off its end without returning %s", m.Name, obj.Name, m.Ret.Spell()))
		}
	}
}

func wordIntType(word int) *lltypes.IntType {
	if word == 8 {
		return lltypes.I64
	}
	return lltypes.I32
}

func ensureAllocator(ctx *compile.Context, mod *irgen.Module) *ir.Func {
	name := ctx.Opts.Allocator
	if f, ok := mod.Func(name); ok {
		return f
	}
	word := ctx.Opts.Bitness.WordSize()
	fn := mod.NewFunc(name, lltypes.NewPointer(lltypes.I8),
		[]*ir.Param{irgen.Param("size", wordIntType(word))}, irgen.LinkagePublic, irgen.CallConvC, false)
	ctx.Reserve(name)
	return fn.F
}

func ensureDeallocator(ctx *compile.Context, mod *irgen.Module) *ir.Func {
	name := ctx.Opts.Deallocator
	if f, ok := mod.Func(name); ok {
		return f
	}
	fn := mod.NewFunc(name, lltypes.Void,
		[]*ir.Param{irgen.Param("ptr", lltypes.NewPointer(lltypes.I8))}, irgen.LinkagePublic, irgen.CallConvC, false)
	ctx.Reserve(name)
	return fn.F
}

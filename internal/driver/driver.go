// Package driver ties C1 (types), C5 (import resolution), C6 (lowering),
// C7 (object codegen) and C8 (lifetime, cross-cut into C6) together over
// one parsed translation unit, the way internal/compiler/hoisting.go's
// HoistingCompiler walks a statement list in two passes — forward-declare
// every top-level binding, then lower bodies — so a function may call
// another declared later in the same file (§5).
package driver

import (
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	lltypes "github.com/llir/llvm/ir/types"

	"teac/internal/ast"
	"teac/internal/compile"
	"teac/internal/diag"
	"teac/internal/irgen"
	"teac/internal/lower"
	"teac/internal/mangle"
	"teac/internal/objectgen"
	"teac/internal/resolve"
	"teac/internal/types"
)

// Result is one translation unit's finished artifacts: the IR module (for
// either machine backend, §4.8) and every diagnostic collected along the
// way.
type Result struct {
	Module *irgen.Module
	Diags  *diag.Bag
}

// Compile lowers mod's every top-level declaration, using resolver (which
// may be nil if mod has no Using declarations) to satisfy imports.
func Compile(ctx *compile.Context, resolver *resolve.Resolver, mod *ast.Module) *Result {
	ir := irgen.NewModule()
	diags := &diag.Bag{}

	var functions []*ast.Function
	var objects []*ast.Object

	for _, top := range mod.Body {
		switch n := top.(type) {
		case *ast.Using:
			name := n.Name
			diags.Try(func() { resolveImport(ctx, ir, resolver, name, n.Pos) })
		case *ast.GlobalVariable:
			g := n
			diags.Try(func() { declareGlobal(ctx, ir, g) })
		case *ast.FunctionImport:
			fi := n
			diags.Try(func() { declareFunctionImport(ctx, ir, fi, fi.Name) })
		case *ast.ObjectImport:
			oi := n
			diags.Try(func() { declareObjectImport(ctx, ir, oi) })
		case *ast.Function:
			functions = append(functions, n)
		case *ast.Object:
			objects = append(objects, n)
		case *ast.Macro:
			// Macro expansion happens ahead of this stage (§1's "assume a
			// provided parse tree" draws the boundary before driver ever
			// sees a Module); a surviving Macro node has nothing to lower.
		}
	}

	// Objects before functions: a function referencing `new O(...)` or an
	// object field needs the object's shape and synthesized constructor
	// already registered (§4.6 runs before any ordinary body lowers).
	for i := range objects {
		o := objects[i]
		diags.Try(func() { objectgen.Lower(ctx, ir, diags, o) })
	}

	decls := make([]*funcDecl, len(functions))
	for i, f := range functions {
		f := f
		diags.Try(func() { decls[i] = forwardDeclareFunction(ctx, ir, f) })
	}
	for i, f := range functions {
		f := f
		d := decls[i]
		if d == nil {
			continue
		}
		diags.Try(func() { lowerFunctionBody(ctx, ir, diags, f, d) })
	}

	return &Result{Module: ir, Diags: diags}
}

type funcDecl struct {
	fn     *irgen.Func
	params []*types.Type
	ret    *types.Type
}

// forwardDeclareFunction resolves a Function's signature and registers it
// into ctx before any body in the translation unit lowers, inferring an
// omitted return type via lower.InferReturnType's read-only pre-scan
// (§9 "pre-scan returns, then emit").
func forwardDeclareFunction(ctx *compile.Context, ir *irgen.Module, f *ast.Function) *funcDecl {
	word := ctx.Opts.Bitness.WordSize()
	params := make([]*types.Type, len(f.Params))
	env := make(map[string]*types.Type, len(f.Params))
	for i, p := range f.Params {
		pt, _, err := ctx.Types.Get(p.Type)
		if err != nil {
			diag.Panic(diag.At(diag.KindInvalidShape, p.Pos, "%s", err))
		}
		params[i] = pt
		env[p.Name] = pt
	}

	var ret *types.Type
	if f.ReturnType != "" {
		rt, _, err := ctx.Types.Get(f.ReturnType)
		if err != nil {
			diag.Panic(diag.At(diag.KindInvalidShape, f.Pos, "%s", err))
		}
		ret = rt
	} else {
		ret = lower.InferReturnType(ctx, env, nil, f.Body)
	}

	llParams := make([]*llParam, len(params))
	for i, pt := range params {
		llParams[i] = &llParam{name: f.Params[i].Name, typ: ir.LLType(pt, word)}
	}

	linkage := irgen.LinkageInternal
	if f.Public {
		linkage = irgen.LinkagePublic
	}
	ctx.Reserve(f.Name)
	fn := ir.NewFunc(f.Name, ir.LLType(ret, word), toParams(llParams), linkage, irgen.CallConvC, false)

	ctx.DeclareFunction(f.Name, &compile.FuncInfo{Callee: fn.F, Params: params, Ret: ret})
	return &funcDecl{fn: fn, params: params, ret: ret}
}

func lowerFunctionBody(ctx *compile.Context, ir *irgen.Module, diags *diag.Bag, f *ast.Function, d *funcDecl) {
	l := lower.New(ctx, ir, d.fn, diags)
	l.RetType = d.ret
	params := make([]lower.Local, len(f.Params))
	for i, p := range f.Params {
		params[i] = lower.Local{Name: p.Name, Type: d.params[i]}
	}
	l.LowerBody(params, f.Body)
}

// declareGlobal declares a module-level variable. Its initializer must be
// a compile-time literal (§4.1: globals have no runtime initialization
// pass); anything else is an invalid shape.
func declareGlobal(ctx *compile.Context, ir *irgen.Module, n *ast.GlobalVariable) {
	t, _, err := ctx.Types.Get(n.Type)
	if err != nil {
		diag.Panic(diag.At(diag.KindInvalidShape, n.Pos, "%s", err))
	}
	word := ctx.Opts.Bitness.WordSize()
	llType := ir.LLType(t, word)

	var init constant.Constant
	if n.Init != nil {
		init = literalConstant(t, n.Init, n.Pos)
	} else {
		init = irgen.ConstZero(llType)
	}

	linkage := irgen.LinkageInternal
	if n.Public {
		linkage = irgen.LinkagePublic
	}
	g := ir.NewGlobal(n.Name, llType, linkage, n.Const, init)
	ctx.DeclareGlobal(n.Name, &compile.GlobalInfo{Ptr: g, Type: t, Const: n.Const})
	ctx.Reserve(n.Name)
}

// literalConstant folds a global initializer expression — restricted to a
// bare literal, since globals carry no constructor call (§4.1).
func literalConstant(t *types.Type, e ast.Expr, pos diag.Pos) constant.Constant {
	lit, ok := e.(*ast.Literal)
	if !ok {
		diag.Panic(diag.At(diag.KindInvalidShape, pos, "global initializer must be a literal"))
	}
	switch lit.Kind {
	case ast.LitInt:
		return constant.NewInt(lltypes.I32, lit.Value.(int64))
	case ast.LitFloat:
		return constant.NewFloat(lltypes.Float, lit.Value.(float64))
	case ast.LitDouble:
		return constant.NewFloat(lltypes.Double, lit.Value.(float64))
	case ast.LitChar:
		return constant.NewInt(lltypes.I8, int64(lit.Value.(byte)))
	case ast.LitBool:
		v := int64(0)
		if lit.Value.(bool) {
			v = 1
		}
		return constant.NewInt(lltypes.I1, v)
	}
	diag.Panic(diag.At(diag.KindInvalidShape, pos, "unsupported global initializer shape for %s", t.Spell()))
	return nil
}

// declareFunctionImport registers an extern function declaration (no
// body) under symbol, honoring its parameter/return shapes and
// variadic flag (§4.4).
func declareFunctionImport(ctx *compile.Context, ir *irgen.Module, fi *ast.FunctionImport, symbol string) *compile.FuncInfo {
	word := ctx.Opts.Bitness.WordSize()
	params := make([]*types.Type, len(fi.Params))
	llParams := make([]*llParam, len(fi.Params))
	for i, p := range fi.Params {
		pt, _, err := ctx.Types.Get(p.Type)
		if err != nil {
			diag.Panic(diag.At(diag.KindInvalidShape, p.Pos, "%s", err))
		}
		params[i] = pt
		llParams[i] = &llParam{name: p.Name, typ: ir.LLType(pt, word)}
	}
	ret := types.Void
	if fi.ReturnType != "" {
		rt, _, err := ctx.Types.Get(fi.ReturnType)
		if err != nil {
			diag.Panic(diag.At(diag.KindInvalidShape, fi.Pos, "%s", err))
		}
		ret = rt
	}
	if f, ok := ir.Func(symbol); ok {
		info := &compile.FuncInfo{Callee: f, Params: params, Ret: ret, Variadic: fi.Variadic}
		ctx.DeclareFunction(fi.Name, info)
		return info
	}
	fn := ir.NewFunc(symbol, ir.LLType(ret, word), toParams(llParams), irgen.LinkagePublic, irgen.CallConvC, fi.Variadic)
	ctx.Reserve(symbol)
	info := &compile.FuncInfo{Callee: fn.F, Params: params, Ret: ret, Variadic: fi.Variadic}
	ctx.DeclareFunction(fi.Name, info)
	return info
}

// declareObjectImport registers an opaque foreign object type: its method
// set is known (for mangled-symbol extern declarations) but its field
// layout is not, matching the language's cross-module object model — a
// consumer only ever holds such a type behind a pointer obtained from one
// of its own module's functions, never constructs or indexes it directly
// (an ast.ObjectImport carries no Fields, unlike ast.Object).
func declareObjectImport(ctx *compile.Context, ir *irgen.Module, oi *ast.ObjectImport) {
	named := ctx.Types.Register(oi.Name)
	for i := range oi.Methods {
		m := &oi.Methods[i]
		declareFunctionImport(ctx, ir, m, mangle.Import(oi.Name, m.Name))
	}
	_ = named
}

// resolveImport loads the named module via resolver and registers its
// exported functions under a ScopedModule, mangling each symbol per
// §4.4's `_<module>__<origName>` declared-name convention.
func resolveImport(ctx *compile.Context, ir *irgen.Module, resolver *resolve.Resolver, name string, pos diag.Pos) {
	if resolver == nil {
		diag.Panic(diag.At(diag.KindImportFailure, pos, "no import search path configured for %q", name))
	}
	m, err := resolver.Resolve(name)
	if err != nil {
		diag.Panic(diag.Wrap(diag.KindImportFailure, pos, err, "resolving %q", name))
	}
	scoped := &compile.ScopedModule{Name: name, Functions: make(map[string]*compile.FuncInfo)}
	for _, fi := range m.Functions {
		info := declareFunctionImport(ctx, ir, fi, mangle.Import(name, fi.Name))
		scoped.Functions[fi.Name] = info
	}
	for _, oi := range m.Objects {
		for i := range oi.Methods {
			fi := &oi.Methods[i]
			info := declareFunctionImport(ctx, ir, fi, mangle.Import(name, oi.Name+"."+fi.Name))
			scoped.Functions[oi.Name+"."+fi.Name] = info
		}
	}
	ctx.DeclareScope(name, scoped)
}

// llParam is a name/type pair collected before the *ir.Param slice is
// built, so forwardDeclareFunction/declareFunctionImport can compute every
// parameter's type (which may fail with a diagnostic) before allocating
// any IR nodes.
type llParam struct {
	name string
	typ  lltypes.Type
}

func toParams(ps []*llParam) []*llir.Param {
	out := make([]*llir.Param, len(ps))
	for i, p := range ps {
		out[i] = irgen.Param(p.name, p.typ)
	}
	return out
}

package driver

import (
	"strings"
	"testing"

	"teac/internal/ast"
	"teac/internal/compile"
)

func pos(line int) ast.Pos { return ast.Pos{File: "t.tea", Line: line, Column: 1} }

func ident(name string) *ast.Identifier { return &ast.Identifier{Name: name} }

// End-to-end scenario 1: a two-parameter function returning their sum.
func TestCompileAddFunction(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Function{
				Pos:        pos(1),
				Name:       "add",
				Public:     true,
				Params:     []ast.Param{{Name: "a", Type: "i32"}, {Name: "b", Type: "i32"}},
				ReturnType: "i32",
				Body: []ast.Stmt{
					&ast.Return{Pos: pos(2), Value: &ast.Binary{Op: ast.OpAdd, Left: ident("a"), Right: ident("b")}},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if !result.Diags.Empty() {
		t.Fatalf("unexpected diagnostics: %v", result.Diags.Errors())
	}

	ir := result.Module.String()
	if !strings.Contains(ir, "@add") {
		t.Errorf("module IR does not define add:\n%s", ir)
	}
	if !strings.Contains(ir, "add") || !strings.Contains(ir, "ret i32") {
		t.Errorf("module IR missing expected return:\n%s", ir)
	}
}

// continue inside a for-loop must branch straight to the condition
// block, skipping the step block, so the increment doesn't silently run
// again before the condition is retested.
func TestCompileForLoopContinueSkipsStep(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Function{
				Pos:        pos(1),
				Name:       "loop",
				ReturnType: "void",
				Body: []ast.Stmt{
					&ast.ForLoop{
						Pos:  pos(2),
						Init: []ast.Stmt{&ast.Variable{Name: "i", Type: "i32", Init: &ast.Literal{Kind: ast.LitInt, Value: int64(0)}}},
						Cond: &ast.Binary{Op: ast.OpLt, Left: ident("i"), Right: &ast.Literal{Kind: ast.LitInt, Value: int64(10)}},
						Steps: []ast.Stmt{
							&ast.Assignment{Target: ident("i"), Op: ast.AssignAdd, Value: &ast.Literal{Kind: ast.LitInt, Value: int64(1)}},
						},
						Body: []ast.Stmt{
							&ast.If{
								Pos:  pos(3),
								Cond: &ast.Binary{Op: ast.OpEq, Left: ident("i"), Right: &ast.Literal{Kind: ast.LitInt, Value: int64(5)}},
								Body: []ast.Stmt{&ast.Continue{Pos: pos(4)}},
							},
						},
					},
					&ast.Return{Pos: pos(6)},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if !result.Diags.Empty() {
		t.Fatalf("unexpected diagnostics: %v", result.Diags.Errors())
	}

	ir := result.Module.String()
	if !strings.Contains(ir, "br label %for.cond") {
		t.Errorf("continue does not branch to the loop's cond block:\n%s", ir)
	}
	if strings.Count(ir, "br label %for.step") != 1 {
		t.Errorf("expected exactly one branch to for.step (the body's normal fallthrough):\n%s", ir)
	}
}

// A function body with no explicit return type infers one from its sole
// return statement (§4.5's return-type inference).
func TestCompileInfersReturnType(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Function{
				Pos:  pos(1),
				Name: "identity",
				Params: []ast.Param{{Name: "x", Type: "i32"}},
				Body: []ast.Stmt{
					&ast.Return{Pos: pos(2), Value: ident("x")},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if !result.Diags.Empty() {
		t.Fatalf("unexpected diagnostics: %v", result.Diags.Errors())
	}
	if info, ok := ctx.LookupFunction("identity"); !ok || info.Ret.Spell() != "i32" {
		t.Errorf("identity's inferred return type = %v, want i32", info)
	}
}

// A function calling another declared later in the same file must
// resolve, since forward-declaration runs before any body lowers.
func TestCompileForwardReference(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Function{
				Pos:        pos(1),
				Name:       "caller",
				ReturnType: "i32",
				Body: []ast.Stmt{
					&ast.Return{Pos: pos(2), Value: &ast.Call{Name: "callee", Args: []ast.Expr{
						&ast.Literal{Kind: ast.LitInt, Value: int64(1)},
					}}},
				},
			},
			&ast.Function{
				Pos:        pos(4),
				Name:       "callee",
				ReturnType: "i32",
				Params:     []ast.Param{{Name: "n", Type: "i32"}},
				Body: []ast.Stmt{
					&ast.Return{Pos: pos(5), Value: ident("n")},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if !result.Diags.Empty() {
		t.Fatalf("unexpected diagnostics: %v", result.Diags.Errors())
	}
}

// Returning an undeclared identifier is an unresolved reference, not
// a panic escaping Compile — the diagnostic bag carries it instead.
func TestCompileUndefinedIdentifier(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Function{
				Pos:        pos(1),
				Name:       "bad",
				ReturnType: "i32",
				Body: []ast.Stmt{
					&ast.Return{Pos: pos(2), Value: ident("undeclared")},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if result.Diags.Empty() {
		t.Fatalf("expected an unresolved-reference diagnostic, got none")
	}
}

// A global variable's initializer must be a literal; an expression is an
// invalid-shape diagnostic rather than a crash.
func TestCompileGlobalRejectsNonLiteralInit(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.GlobalVariable{
				Pos:  pos(1),
				Name: "g",
				Type: "i32",
				Init: &ast.Binary{Op: ast.OpAdd, Left: &ast.Literal{Kind: ast.LitInt, Value: int64(1)}, Right: &ast.Literal{Kind: ast.LitInt, Value: int64(2)}},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if result.Diags.Empty() {
		t.Fatalf("expected an invalid-shape diagnostic for a non-literal global initializer")
	}
}

// End-to-end scenario 6: a Counter object with a field, a constructor, a
// method, and a destructor, all reachable through the mangled symbols
// C4/C7 produce.
func TestCompileObjectCtorMethodDtor(t *testing.T) {
	mod := &ast.Module{
		Path: "t.tea",
		Body: []ast.TopLevel{
			&ast.Object{
				Pos:  pos(1),
				Name: "Counter",
				Public: true,
				Fields: []ast.Field{
					{Name: "n", Type: "i32"},
				},
				Methods: []ast.Method{
					{
						Name: ".ctor",
						Body: []ast.Stmt{
							&ast.Assignment{Pos: pos(2), Target: &ast.Index{Kind: ast.IndexField, Base: ident("this"), Field: "n"}, Op: ast.AssignPlain, Value: &ast.Literal{Kind: ast.LitInt, Value: int64(0)}},
						},
					},
					{
						Name:       "increment",
						ReturnType: "i32",
						Body: []ast.Stmt{
							&ast.Assignment{Pos: pos(3), Target: &ast.Index{Kind: ast.IndexField, Base: ident("this"), Field: "n"}, Op: ast.AssignAdd, Value: &ast.Literal{Kind: ast.LitInt, Value: int64(1)}},
							&ast.Return{Pos: pos(4), Value: &ast.Index{Kind: ast.IndexField, Base: ident("this"), Field: "n"}},
						},
					},
					{
						Name: ".dtor",
						Body: nil,
					},
				},
			},
		},
	}

	ctx := compile.New(compile.DefaultOptions())
	result := Compile(ctx, nil, mod)

	if !result.Diags.Empty() {
		t.Fatalf("unexpected diagnostics: %v", result.Diags.Errors())
	}

	ir := result.Module.String()
	if !strings.Contains(ir, "??0Counter@@QEAA@XZ") {
		t.Errorf("module IR does not define the mangled constructor:\n%s", ir)
	}
	if !strings.Contains(ir, "??1Counter@@QEAA@XZ") {
		t.Errorf("module IR does not define the mangled destructor:\n%s", ir)
	}
	if !strings.Contains(ir, "??_7Counter@@6B@") {
		t.Errorf("module IR does not define the vtable global:\n%s", ir)
	}
	if _, ok := ctx.LookupFunction("new$Counter"); !ok {
		t.Errorf("Counter's constructor was not registered under new$Counter")
	}
}

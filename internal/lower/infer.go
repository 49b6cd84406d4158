// Return-type inference for a function declared without an explicit
// return type (§4.5, §9 "Pre-scan returns, then emit"). This walks the
// body once, tracking local declarations as it goes, to find the first
// `return <expr>` and work out its type without emitting any IR — the
// result becomes the function's real signature before LowerBody ever
// runs, so a forward call site elsewhere in the module sees the correct
// parameter/return types instead of a placeholder.
package lower

import (
	"teac/internal/ast"
	"teac/internal/compile"
	"teac/internal/types"
)

type shapeScanner struct {
	ctx  *compile.Context
	self *types.Object
	env  map[string]*types.Type
}

// InferReturnType returns the type of the first `return <expr>` found in
// body (types.Void for a bare `return;`, and types.Void if the body has
// no return statement at all), or nil if that return's expression has
// no shape the scanner can determine
// (the caller should fall back to treating the first value actually
// lowered by LowerBody as authoritative, §4.5).
func InferReturnType(ctx *compile.Context, params map[string]*types.Type, self *types.Object, body []ast.Stmt) *types.Type {
	env := make(map[string]*types.Type, len(params))
	for k, v := range params {
		env[k] = v
	}
	s := &shapeScanner{ctx: ctx, self: self, env: env}
	if t, ok := s.scanStmts(body); ok {
		return t
	}
	return types.Void
}

func (s *shapeScanner) scanStmts(stmts []ast.Stmt) (*types.Type, bool) {
	for _, st := range stmts {
		if t, ok := s.scanStmt(st); ok {
			return t, true
		}
	}
	return nil, false
}

func (s *shapeScanner) scanStmt(st ast.Stmt) (*types.Type, bool) {
	switch n := st.(type) {
	case *ast.Return:
		if n.Value == nil {
			return types.Void, true
		}
		return s.shapeOf(n.Value), true
	case *ast.Variable:
		var t *types.Type
		if n.Type != "" {
			if resolved, _, err := s.ctx.Types.Get(n.Type); err == nil {
				t = resolved
			}
		}
		if t == nil && n.Init != nil {
			t = s.shapeOf(n.Init)
		}
		s.env[n.Name] = t
		return nil, false
	case *ast.If:
		branches := append([][]ast.Stmt{n.Body}, n.Else)
		for _, b := range n.ElseIfs {
			branches = append(branches, b.Body)
		}
		for _, b := range branches {
			if t, ok := s.scanStmts(b); ok {
				return t, true
			}
		}
		return nil, false
	case *ast.WhileLoop:
		return s.scanStmts(n.Body)
	case *ast.ForLoop:
		for _, init := range n.Init {
			s.scanStmt(init)
		}
		return s.scanStmts(n.Body)
	}
	return nil, false
}

// shapeOf infers an expression's type from local context alone — the
// same coverage expr.go's lowering gives each node, but read-only.
// Returns nil when the shape genuinely can't be known without emitting
// IR (e.g. a call to a not-yet-declared scoped import); nil propagates
// up and InferReturnType's caller re-derives the real type once LowerBody
// actually lowers the return expression.
func (s *shapeScanner) shapeOf(e ast.Expr) *types.Type {
	switch n := e.(type) {
	case *ast.Literal:
		switch n.Kind {
		case ast.LitInt:
			return types.I32
		case ast.LitFloat:
			return types.F32
		case ast.LitDouble:
			return types.F64
		case ast.LitChar:
			return types.I8
		case ast.LitBool:
			return types.Bool
		case ast.LitString:
			return types.Pointer(types.I8)
		}
	case *ast.Identifier:
		if n.Name == "this" && s.self != nil {
			return types.Pointer(s.ctx.Types.Register(s.self.Name))
		}
		if t, ok := s.env[n.Name]; ok {
			return t
		}
		if g, ok := s.ctx.LookupGlobal(n.Name); ok {
			return g.Type
		}
		if f, ok := s.ctx.LookupFunction(n.Name); ok {
			return types.Func(f.Ret, f.Params...)
		}
	case *ast.Binary:
		if n.Op.IsComparison() {
			return types.Bool
		}
		return s.shapeOf(n.Left)
	case *ast.Logical, *ast.Not:
		return types.Bool
	case *ast.Cast:
		t, _, err := s.ctx.Types.Get(n.TargetType)
		if err == nil {
			return t
		}
	case *ast.New:
		return types.Pointer(s.ctx.Types.Register(n.Object))
	case *ast.MethodCall:
		objType := s.shapeOf(n.Object)
		if objType.IsObjectPointer() && objType.Elem.Obj != nil {
			if m, ok := objType.Elem.Obj.Method(n.Name); ok {
				return m.Ret
			}
		}
	case *ast.Call:
		if len(n.Scope) == 0 {
			if f, ok := s.ctx.LookupFunction(n.Name); ok {
				return f.Ret
			}
			return nil
		}
		if mod, ok := s.ctx.LookupScope(n.Scope[0]); ok {
			if f, ok := mod.Functions[n.Name]; ok {
				return f.Ret
			}
		}
	case *ast.Reference:
		if t, ok := s.env[n.Name]; ok {
			return types.Pointer(t)
		}
		if g, ok := s.ctx.LookupGlobal(n.Name); ok {
			return types.Pointer(g.Type)
		}
	case *ast.Dereference:
		t := s.shapeOf(n.Operand)
		if t.IsPointer() {
			return t.Elem
		}
	case *ast.Index:
		if n.Kind == ast.IndexField {
			base := s.shapeOf(n.Base)
			if base.IsObjectPointer() && base.Elem.Obj != nil {
				if f, ok := base.Elem.Obj.Field(n.Field); ok {
					return f.Type
				}
			}
			return nil
		}
		base := s.shapeOf(n.Base)
		if base != nil && (base.IsArray() || base.IsPointer()) {
			return base.Elem
		}
	case *ast.ArrayLiteral:
		if len(n.Elements) > 0 {
			elem := s.shapeOf(n.Elements[0])
			return types.Array(len(n.Elements), elem)
		}
	}
	return nil
}

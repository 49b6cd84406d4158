// Statement lowering: control flow, locals, assignment. Grounded on the
// same internal/compiler/stmt_compiler.go visitor shape as expr.go, with
// loopCtx standing in for that file's break/continue patch-list pattern
// (there: recorded jump offsets patched once the loop's end address is
// known; here: a target basic block wired up front since llir/llvm
// blocks exist before they're sealed).
package lower

import (
	llir "github.com/llir/llvm/ir"

	"teac/internal/ast"
	"teac/internal/diag"
	"teac/internal/types"
)

func (l *Lowerer) VisitReturn(n *ast.Return) {
	if l.InCtorOrDtor {
		l.fail(diag.KindInvalidShape, n.Pos, "constructors and destructors must not return")
	}
	if n.Value == nil {
		if l.RetType != nil && !l.RetType.IsVoid() {
			l.fail(diag.KindTypeMismatch, n.Pos, "missing return value in function returning %s", l.RetType.Spell())
		}
		l.releaseAllScopes()
		l.B.Ret(nil)
		return
	}
	// A bare local-identifier return transfers ownership to the caller
	// rather than releasing it here, avoiding a double release between
	// this release pass and the caller's eventual release of the result
	// (§4.7).
	var moved *Local
	if id, ok := n.Value.(*ast.Identifier); ok {
		if loc, isLocal := l.lookup(id.Name); isLocal && loc.ownsRefcount() {
			l.markMoved(loc)
			moved = loc
		}
	}
	v := l.lowerExpr(n.Value)
	if l.RetType == nil {
		l.RetType = v.Typ
	}
	v = l.cast(n.Pos, l.RetType, v)
	l.releaseAllScopes()
	l.B.Ret(v.V)
	// Only this return path skips the release; paths lowered afterwards
	// (an else arm, the code after an early return) still release it.
	if moved != nil {
		moved.Moved = false
	}
}

func (l *Lowerer) VisitCallStmt(n *ast.CallStmt) {
	l.VisitCall(n.Call)
}

func (l *Lowerer) VisitMethodCallStmt(n *ast.MethodCallStmt) {
	l.VisitMethodCall(n.Call)
}

// VisitVariable binds a new local. An array-typed initializer's own
// alloca becomes the binding directly — no copy — per §4.5's "array-
// typed initializers reuse the initializer's allocation rather than
// copying". Anything else declares a fresh slot, stores the coerced
// initial value, and retains it if it's an owned object reference.
func (l *Lowerer) VisitVariable(n *ast.Variable) {
	var declType *types.Type
	if n.Type != "" {
		t, _, err := l.Ctx.Types.Get(n.Type)
		if err != nil {
			l.fail(diag.KindInvalidShape, n.Pos, "%s", err)
		}
		declType = t
	}

	init := l.lowerExpr(n.Init)
	if declType == nil {
		declType = init.Typ
	}

	if declType.IsArray() {
		loc := &Local{Name: n.Name, Alloca: init.V, Type: declType, Const: n.Const}
		cur := l.scopes[len(l.scopes)-1]
		cur.locals = append(cur.locals, loc)
		return
	}

	coerced := l.cast(n.Pos, declType, init)
	loc := l.declare(n.Name, declType, n.Const)
	l.B.Store(coerced.V, loc.Alloca)

	fromThis := isThisIdentifier(n.Init)
	if fromThis {
		loc.IsThis = true
	}
	l.retainAtBind(loc, fromThis)
}

func isThisIdentifier(e ast.Expr) bool {
	id, ok := e.(*ast.Identifier)
	return ok && id.Name == "this"
}

func (l *Lowerer) VisitAssignment(n *ast.Assignment) {
	switch t := n.Target.(type) {
	case *ast.Identifier:
		l.assignIdentifier(n, t)
	case *ast.Index:
		l.assignIndex(n, t)
	case *ast.Dereference:
		l.assignDeref(n, t)
	default:
		l.fail(diag.KindInvalidShape, n.Pos, "invalid assignment target")
	}
}

// computeAssignValue produces the value to store: the coerced RHS for
// `=`, or loadCurrent() combined with it through the desugared operator
// for `+=`/`-=`/`*=`/`/=` (§4.5: compound assignment desugars to a
// binary operation on the current value).
func (l *Lowerer) computeAssignValue(n *ast.Assignment, targetType *types.Type, loadCurrent func() Value) Value {
	rhs := l.lowerExpr(n.Value)
	rhs = l.cast(n.Pos, targetType, rhs)
	if n.Op == ast.AssignPlain {
		return rhs
	}
	cur := loadCurrent()
	synthetic := &ast.Binary{Pos: n.Pos, Op: compoundToBinOp(n.Op)}
	return l.lowerArithmetic(synthetic, cur, rhs)
}

func compoundToBinOp(op ast.AssignOp) ast.BinOp {
	switch op {
	case ast.AssignAdd:
		return ast.OpAdd
	case ast.AssignSub:
		return ast.OpSub
	case ast.AssignMul:
		return ast.OpMul
	case ast.AssignDiv:
		return ast.OpDiv
	}
	return ast.OpAdd
}

func (l *Lowerer) assignIdentifier(n *ast.Assignment, t *ast.Identifier) {
	if loc, ok := l.lookup(t.Name); ok {
		if loc.Const {
			l.fail(diag.KindConstMutation, n.Pos, "cannot assign to const %q", t.Name)
		}
		declType := loc.Type
		llType := l.Mod.LLType(declType, l.wordSize())
		newVal := l.computeAssignValue(n, declType, func() Value {
			return Value{V: l.B.Load(llType, loc.Alloca), Typ: declType}
		})
		owned := declType.IsObjectPointer() && !loc.IsThis
		if owned {
			old := l.B.Load(llType, loc.Alloca)
			l.releaseValue(old, declType)
		}
		l.B.Store(newVal.V, loc.Alloca)
		if owned {
			l.retain(newVal.V, declType)
		}
		return
	}
	if g, ok := l.Ctx.LookupGlobal(t.Name); ok {
		if g.Const {
			l.fail(diag.KindConstMutation, n.Pos, "cannot assign to const %q", t.Name)
		}
		llType := l.Mod.LLType(g.Type, l.wordSize())
		newVal := l.computeAssignValue(n, g.Type, func() Value {
			return Value{V: l.B.Load(llType, g.Ptr), Typ: g.Type}
		})
		l.B.Store(newVal.V, g.Ptr)
		return
	}
	l.fail(diag.KindUnresolvedReference, n.Pos, "undefined identifier %q", t.Name)
}

func (l *Lowerer) assignIndex(n *ast.Assignment, t *ast.Index) {
	addr, elemType, isConst := l.indexAddr(t)
	if isConst {
		l.fail(diag.KindConstMutation, n.Pos, "cannot assign to const field %q", t.Field)
	}
	llType := l.Mod.LLType(elemType, l.wordSize())
	newVal := l.computeAssignValue(n, elemType, func() Value {
		return Value{V: l.B.Load(llType, addr), Typ: elemType}
	})
	l.B.Store(newVal.V, addr)
}

func (l *Lowerer) assignDeref(n *ast.Assignment, t *ast.Dereference) {
	ptr := l.lowerExpr(t.Operand)
	if !ptr.Typ.IsPointer() {
		l.fail(diag.KindInvalidShape, n.Pos, "dereference-assignment of non-pointer type %s", ptr.Typ.Spell())
		return
	}
	elemType := ptr.Typ.Elem
	llType := l.Mod.LLType(elemType, l.wordSize())
	newVal := l.computeAssignValue(n, elemType, func() Value {
		return Value{V: l.B.Load(llType, ptr.V), Typ: elemType}
	})
	l.B.Store(newVal.V, ptr.V)
}

// VisitIf lowers the If/ElseIf cascade as nested two-way branches
// sharing one merge block (§4.6).
func (l *Lowerer) VisitIf(n *ast.If) {
	merge := l.newBlock("if.end")
	l.lowerIfCascade(n.Pos, n.Cond, n.Body, n.ElseIfs, n.Else, merge)
	l.Fn.SetBlock(merge)
}

func (l *Lowerer) lowerIfCascade(pos diag.Pos, cond ast.Expr, body []ast.Stmt, elseIfs []ast.ElseIf, elseBody []ast.Stmt, merge *llir.Block) {
	c := l.toBool(pos, l.lowerExpr(cond))
	thenBlk := l.newBlock("if.then")

	hasElse := len(elseIfs) > 0 || elseBody != nil
	elseBlk := merge
	if hasElse {
		elseBlk = l.newBlock("if.else")
	}
	l.B.CondBr(c.V, thenBlk, elseBlk)

	l.Fn.SetBlock(thenBlk)
	l.pushScope()
	l.lowerStmts(body)
	l.popScope()
	if !l.B.Terminated() {
		l.B.Br(merge)
	}

	if len(elseIfs) > 0 {
		l.Fn.SetBlock(elseBlk)
		next := elseIfs[0]
		l.lowerIfCascade(next.Pos, next.Cond, next.Body, elseIfs[1:], elseBody, merge)
		return
	}
	if elseBody != nil {
		l.Fn.SetBlock(elseBlk)
		l.pushScope()
		l.lowerStmts(elseBody)
		l.popScope()
		if !l.B.Terminated() {
			l.B.Br(merge)
		}
	}
}

func (l *Lowerer) VisitWhileLoop(n *ast.WhileLoop) {
	cond := l.newBlock("while.cond")
	body := l.newBlock("while.body")
	merge := l.newBlock("while.end")

	l.B.Br(cond)
	l.Fn.SetBlock(cond)
	c := l.toBool(n.Pos, l.lowerExpr(n.Cond))
	l.B.CondBr(c.V, body, merge)

	l.Fn.SetBlock(body)
	l.pushScope()
	l.loops = append(l.loops, loopCtx{cond: cond, merge: merge, scopeDepth: len(l.scopes) - 1})
	l.lowerStmts(n.Body)
	l.loops = l.loops[:len(l.loops)-1]
	l.popScope()
	if !l.B.Terminated() {
		l.B.Br(cond)
	}

	l.Fn.SetBlock(merge)
}

// VisitForLoop: Init runs once into the preheader, guarding a scope that
// spans the whole loop (so Init-declared locals are visible to Cond,
// Steps and Body and released once, at loop exit); Steps run at the tail
// of every iteration, immediately before the condition is re-tested.
func (l *Lowerer) VisitForLoop(n *ast.ForLoop) {
	l.pushScope()
	for _, s := range n.Init {
		s.Accept(l)
	}

	cond := l.newBlock("for.cond")
	body := l.newBlock("for.body")
	step := l.newBlock("for.step")
	merge := l.newBlock("for.end")

	l.B.Br(cond)
	l.Fn.SetBlock(cond)
	if n.Cond != nil {
		c := l.toBool(n.Pos, l.lowerExpr(n.Cond))
		l.B.CondBr(c.V, body, merge)
	} else {
		l.B.Br(body)
	}

	l.Fn.SetBlock(body)
	l.pushScope()
	l.loops = append(l.loops, loopCtx{cond: cond, merge: merge, scopeDepth: len(l.scopes) - 1})
	l.lowerStmts(n.Body)
	l.loops = l.loops[:len(l.loops)-1]
	l.popScope()
	if !l.B.Terminated() {
		l.B.Br(step)
	}

	l.Fn.SetBlock(step)
	for _, s := range n.Steps {
		s.Accept(l)
	}
	if !l.B.Terminated() {
		l.B.Br(cond)
	}

	l.Fn.SetBlock(merge)
	l.popScope()
}

func (l *Lowerer) VisitBreak(n *ast.Break) {
	if len(l.loops) == 0 {
		l.fail(diag.KindInvalidShape, n.Pos, "break outside a loop")
		return
	}
	cur := l.loops[len(l.loops)-1]
	l.releaseScopesDownTo(cur.scopeDepth)
	l.B.Br(cur.merge)
}

func (l *Lowerer) VisitContinue(n *ast.Continue) {
	if len(l.loops) == 0 {
		l.fail(diag.KindInvalidShape, n.Pos, "continue outside a loop")
		return
	}
	cur := l.loops[len(l.loops)-1]
	l.releaseScopesDownTo(cur.scopeDepth)
	l.B.Br(cur.cond)
}

// Package lower implements C6: AST → IR lowering. One Lowerer exists per
// function being compiled, mirroring internal/compiler/stmt_compiler.go's
// per-function StmtCompiler (NewStmtCompiler spawned from
// VisitFunctionStmt, seeded with the function's params as locals before
// the body lowers), generalized from bytecode opcodes to
// irgen.Builder calls. C8's retain/release hooks (lifetime.go) are
// cross-cutting calls this package makes at the four points §4.7 names,
// not a separate pass — the same "compile debug info inline" idiom the
// teacher uses for emitOp/emitByte in stmt_compiler.go.
package lower

import (
	llir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"teac/internal/ast"
	"teac/internal/compile"
	"teac/internal/diag"
	"teac/internal/irgen"
	"teac/internal/types"
)

// Local is a stack-allocated slot: a declared variable or a parameter
// copied into one at function entry (§9 "Pre-allocation of all local
// slots at function entry").
type Local struct {
	Name    string
	Alloca  value.Value
	Type    *types.Type
	Const   bool
	IsThis  bool
	Moved   bool // set at `return x` to suppress a double release (§4.7)
}

// Value is the result of lowering an expression: the SSA value (or, for
// an array-typed expression, its address — arrays decay and are always
// addressed rather than held as a whole-aggregate register, §3) paired
// with the tea-level type it carries, used by every subsequent coercion
// and dispatch decision.
type Value struct {
	V   value.Value
	Typ *types.Type
}

func (l *Local) ownsRefcount() bool {
	return !l.IsThis && !l.Moved && l.Type.IsObjectPointer()
}

// scope is one lexical block's locals, in declaration order — released
// in that same order at block exit (§4.7 "Objects are released in
// insertion order").
type scope struct {
	locals []*Local
}

// loopCtx is one enclosing loop's targets: cond is where `continue`
// jumps back to (the condition block, for both for- and while-loops, so
// a for-loop's continue skips its step block), merge is where `break`
// jumps to. scopeDepth records how
// many scopes were open when the loop body's own scope was pushed, so a
// break/continue fired from a nested block can release every scope
// opened since then without double-releasing ones further out.
type loopCtx struct {
	cond       *llir.Block
	merge      *llir.Block
	scopeDepth int
}

// Lowerer lowers one function body. Self is the owning object's type
// when lowering a method/ctor/dtor body (nil for a free function), used
// for `this`, private-member checks, and field-slot resolution.
type Lowerer struct {
	Ctx    *compile.Context
	Mod    *irgen.Module
	Fn     *irgen.Func
	B      *irgen.Builder
	Diags  *diag.Bag

	RetType *types.Type // nil until inferred, for a return-type-inferred function

	Self *types.Object // non-nil while lowering a method/ctor/dtor

	scopes []*scope
	loops  []loopCtx

	// InCtorOrDtor forbids `return` per §4.6's "Constructors must not
	// return. Destructors must not return."
	InCtorOrDtor bool
}

func New(ctx *compile.Context, mod *irgen.Module, fn *irgen.Func, diags *diag.Bag) *Lowerer {
	l := &Lowerer{Ctx: ctx, Mod: mod, Fn: fn, Diags: diags}
	l.B = irgen.NewBuilder(fn)
	return l
}

func (l *Lowerer) wordSize() int { return l.Ctx.Opts.Bitness.WordSize() }

func (l *Lowerer) pushScope() *scope {
	s := &scope{}
	l.scopes = append(l.scopes, s)
	return s
}

func (l *Lowerer) popScope() {
	s := l.scopes[len(l.scopes)-1]
	l.scopes = l.scopes[:len(l.scopes)-1]
	if !l.B.Terminated() {
		l.releaseScope(s)
	}
}

// declare allocates a stack slot for name and records it in the
// innermost scope. Allocas are emitted at function entry regardless of
// nesting depth (§9), by writing into Fn.F.Blocks[0] directly rather
// than the current insertion block.
func (l *Lowerer) declare(name string, t *types.Type, isConst bool) *Local {
	entry := l.Fn.F.Blocks[0]
	elemType := l.Mod.LLType(t, l.wordSize())
	alloca := entry.NewAlloca(elemType)
	loc := &Local{Name: name, Alloca: alloca, Type: t, Const: isConst}
	cur := l.scopes[len(l.scopes)-1]
	cur.locals = append(cur.locals, loc)
	return loc
}

func (l *Lowerer) lookup(name string) (*Local, bool) {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		s := l.scopes[i]
		for j := len(s.locals) - 1; j >= 0; j-- {
			if s.locals[j].Name == name {
				return s.locals[j], true
			}
		}
	}
	return nil, false
}

func (l *Lowerer) fail(kind diag.Kind, pos diag.Pos, format string, args ...interface{}) {
	diag.Panic(diag.At(kind, pos, format, args...))
}

// LowerBody lowers a function's top-level statement list into the entry
// scope, releasing every still-owned local at the natural end of the
// function if control falls off the end without an explicit return
// (§3's "at the natural end of every block").
func (l *Lowerer) LowerBody(params []Local, body []ast.Stmt) {
	l.Fn.NewBlock("entry")
	l.pushScope()
	for i := range params {
		p := params[i]
		loc := l.declare(p.Name, p.Type, false)
		loc.IsThis = p.IsThis
		l.B.Store(l.Fn.F.Params[i], loc.Alloca)
		if !loc.IsThis {
			l.retainAtEntry(loc)
		}
	}
	l.lowerStmts(body)
	if !l.B.Terminated() {
		l.releaseAllScopes()
		if l.RetType == nil || l.RetType.IsVoid() {
			l.B.Ret(nil)
		} else {
			l.fail(diag.KindInvalidShape, diag.Pos{}, "missing return in non-void function")
		}
	}
	l.popScope()
}

func (l *Lowerer) lowerStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		if l.B.Terminated() {
			return
		}
		s.Accept(l)
	}
}

func (l *Lowerer) releaseAllScopes() {
	for i := len(l.scopes) - 1; i >= 0; i-- {
		l.releaseScope(l.scopes[i])
	}
}

// releaseScopesDownTo releases every still-open scope from the top down
// to and including index depth, without popping them off l.scopes — the
// lexical unwind back up the Go call stack will still call popScope for
// each, which is a no-op once the block is terminated.
func (l *Lowerer) releaseScopesDownTo(depth int) {
	for i := len(l.scopes) - 1; i >= depth; i-- {
		l.releaseScope(l.scopes[i])
	}
}

// newBlock appends a freshly-named basic block to the function without
// moving the insertion point, for control-flow constructs that need to
// wire up several blocks before emitting into any of them.
func (l *Lowerer) newBlock(hint string) *llir.Block {
	return l.Fn.F.NewBlock(l.Ctx.Fresh(hint))
}

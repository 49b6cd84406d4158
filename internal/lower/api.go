// Entry points C7 (internal/objectgen) drives directly, interleaving
// hand-written constructor/destructor prologue and epilogue instructions
// with the same scope/lifetime bookkeeping LowerBody gives an ordinary
// function — rather than duplicating that bookkeeping, objectgen reuses
// one Lowerer per synthesized function and calls these instead of
// LowerBody, which assumes the whole body is plain statement lowering.
package lower

import (
	"github.com/llir/llvm/ir/value"

	"teac/internal/ast"
	"teac/internal/types"
)

// BeginEntry creates the function's entry block and opens its outermost
// scope.
func (l *Lowerer) BeginEntry() {
	l.Fn.NewBlock("entry")
	l.pushScope()
}

// BindLocal declares name as a new local holding v (already of the llir
// type LLType(t) produces), storing it into a fresh entry-block alloca
// and retaining it at entry unless it's `this` (§4.7's "retain at
// entry", generalized to cover a synthesized `this` bind as well as
// ordinary parameters).
func (l *Lowerer) BindLocal(name string, t *types.Type, v value.Value, isThis bool) *Local {
	loc := l.declare(name, t, false)
	loc.IsThis = isThis
	l.B.Store(v, loc.Alloca)
	if !isThis {
		l.retainAtEntry(loc)
	}
	return loc
}

// LowerStmts lowers a statement list into the current block, sharing
// this Lowerer's locals and loop-context stack — used to splice a user
// `.ctor`/`.dtor` body into the synthesized skeleton.
func (l *Lowerer) LowerStmts(stmts []ast.Stmt) {
	l.lowerStmts(stmts)
}

// EndEntry releases every still-open scope and closes the one BeginEntry
// opened. No-op on the release if the block already terminated.
func (l *Lowerer) EndEntry() {
	if !l.B.Terminated() {
		l.releaseAllScopes()
	}
	l.popScope()
}

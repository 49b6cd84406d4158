// C8: reference-count insertion (§4.7), implemented as hooks the
// Lowerer calls at the four points the spec names — bind, entry,
// return, block exit — rather than a separate pass over finished IR.
package lower

import (
	"github.com/llir/llvm/ir/constant"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	tt "teac/internal/types"
)

// retain increments obj's refcount field (obj is a value of type
// objType, an object-pointer type). Called at bind (a local of type O*
// initialized with a value other than `this`) and at entry (a non-`this`
// O* parameter) — §4.7's two retain points. `this` is never retained
// (§3 invariant i).
func (l *Lowerer) retain(obj value.Value, objType *tt.Type) {
	structTy := l.Mod.LLType(objType.Elem, l.wordSize())
	slot := l.B.GEP(structTy, obj, 1)
	cur := l.B.Load(lltypes.I32, slot)
	next := l.B.Add(cur, constant.NewInt(lltypes.I32, 1))
	l.B.Store(next, slot)
}

func (l *Lowerer) retainAtBind(loc *Local, fromThis bool) {
	if fromThis || loc.IsThis || !loc.Type.IsObjectPointer() {
		return
	}
	l.retain(l.B.Load(l.objStructPtrType(loc), loc.Alloca), loc.Type)
}

func (l *Lowerer) retainAtEntry(loc *Local) {
	if loc.IsThis || !loc.Type.IsObjectPointer() {
		return
	}
	l.retain(l.B.Load(l.objStructPtrType(loc), loc.Alloca), loc.Type)
}

// objStructPtrType returns the llir pointer type for loc's declared
// object-pointer type, used when loading its current value to pass to
// retain/release.
func (l *Lowerer) objStructPtrType(loc *Local) lltypes.Type {
	return l.Mod.LLType(loc.Type, l.wordSize())
}

// releaseLocal performs a virtual destructor call on loc's current
// value: load vtable from slot 0, load the destructor pointer from
// vtable slot 0, call it with `this=obj`. Skipped for `this`, for
// non-object-pointer locals, and for a local marked moved-from
// (§4.7's optional double-release guard, adopted here per SPEC_FULL).
func (l *Lowerer) releaseLocal(loc *Local) {
	if !loc.ownsRefcount() {
		return
	}
	obj := l.B.Load(l.objStructPtrType(loc), loc.Alloca)
	l.releaseValue(obj, loc.Type)
}

// releaseValue is releaseLocal's value-level core, reused by
// assignIdentifier to release an object-pointer local's previous value
// (held only in an SSA value) before it is overwritten.
func (l *Lowerer) releaseValue(obj value.Value, objType *tt.Type) {
	structTy := l.Mod.LLType(objType.Elem, l.wordSize())
	vtablePtrSlot := l.B.GEP(structTy, obj, 0)
	vtableTy := l.vtableStructType(objType)
	vtable := l.B.Load(lltypes.NewPointer(vtableTy), vtablePtrSlot)
	dtorSlot := l.B.GEP(vtableTy, vtable, 0)
	dtorSigPtr := l.vtableSlotFuncType(objType, 0)
	dtor := l.B.Load(dtorSigPtr, dtorSlot)
	l.B.Call(dtor, obj)
}

// vtableStructType and vtableSlotFuncType are resolved through
// irgen.Module's identified-struct cache rather than recomputed here;
// see internal/irgen/llvmtype.go's VTableType/ObjectStructType for the
// authoritative shape these mirror. objType is the object's *pointer*
// type (e.g. `Counter*`), so its Elem names the object itself.
func (l *Lowerer) vtableStructType(objType *tt.Type) *lltypes.StructType {
	return l.Mod.VTableType(objType.Elem.Obj, l.wordSize())
}

// vtableSlotFuncType returns the declared (pointer-to-function) type of
// a vtable slot — already a PointerType per VTableType's construction,
// so it's exactly what Load needs to read a function pointer out of
// that slot.
func (l *Lowerer) vtableSlotFuncType(objType *tt.Type, slot int) lltypes.Type {
	vt := l.vtableStructType(objType)
	if slot < 0 {
		slot = 0
	}
	return vt.Fields[slot]
}

// releaseScope releases every still-owned local declared in s, in
// declaration order (§4.7 "released in insertion order").
func (l *Lowerer) releaseScope(s *scope) {
	for _, loc := range s.locals {
		l.releaseLocal(loc)
	}
}

// markMoved flags loc as moved-from so releaseAllScopes skips it — the
// optional guard §4.7 describes for `return expr` where expr is itself a
// local object pointer, avoiding a double release between the return
// path's release and the caller's eventual release of the returned
// value.
func (l *Lowerer) markMoved(loc *Local) {
	loc.Moved = true
}

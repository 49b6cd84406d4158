package irgen

import (
	lltypes "github.com/llir/llvm/ir/types"

	tt "teac/internal/types"
)

// LLType converts a core *types.Type into the llir/llvm type it's
// realized as. Named types realize as the identified struct itself
// (never wrapped in a pointer here — a tea `O*` is already KindPointer
// over KindNamed, so the pointer wrapping happens one level up).
func (m *Module) LLType(t *tt.Type, wordSize int) lltypes.Type {
	if t == nil || t.IsVoid() {
		return lltypes.Void
	}
	switch t.Kind {
	case tt.KindInt:
		switch t.Width {
		case 1:
			return lltypes.I1
		case 8:
			return lltypes.I8
		case 32:
			return lltypes.I32
		case 64:
			return lltypes.I64
		}
	case tt.KindFloat:
		if t.Width == 32 {
			return lltypes.Float
		}
		return lltypes.Double
	case tt.KindPointer:
		return lltypes.NewPointer(m.LLType(t.Elem, wordSize))
	case tt.KindArray:
		return lltypes.NewArray(uint64(t.Len), m.LLType(t.Elem, wordSize))
	case tt.KindNamed:
		return m.IdentifiedStruct(t.Name)
	case tt.KindFunc:
		params := make([]lltypes.Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = m.LLType(p, wordSize)
		}
		return lltypes.NewPointer(lltypes.NewFunc(m.LLType(t.Ret, wordSize), params...))
	}
	return lltypes.I32
}

// VTableType returns (creating if needed) the identified struct type for
// O's vtable: `{ dtor_fn_ptr, method_1_ptr, ... }`, slot 0 always the
// destructor (§3).
func (m *Module) VTableType(obj *tt.Object, wordSize int) *lltypes.StructType {
	st := m.IdentifiedStruct(obj.Name + ".vtable")
	if len(st.Fields) > 0 {
		return st
	}
	dtorSig := lltypes.NewFunc(lltypes.Void, lltypes.NewPointer(m.IdentifiedStruct(obj.Name)))
	fields := []lltypes.Type{lltypes.NewPointer(dtorSig)}
	for _, meth := range obj.Methods {
		params := make([]lltypes.Type, 0, len(meth.Params)+1)
		params = append(params, lltypes.NewPointer(m.IdentifiedStruct(obj.Name)))
		for _, p := range meth.Params {
			params = append(params, m.LLType(p, wordSize))
		}
		sig := lltypes.NewFunc(m.LLType(meth.Ret, wordSize), params...)
		fields = append(fields, lltypes.NewPointer(sig))
	}
	m.SetBody(st, fields...)
	return st
}

// ObjectStructType returns (creating if needed) the identified struct
// type for O's instance layout: `{ vtable*, i32 refcount, field_1, ... }`.
func (m *Module) ObjectStructType(obj *tt.Object, wordSize int) *lltypes.StructType {
	st := m.IdentifiedStruct(obj.Name)
	if len(st.Fields) > 0 {
		return st
	}
	fields := []lltypes.Type{lltypes.NewPointer(m.VTableType(obj, wordSize)), lltypes.I32}
	for _, f := range obj.Fields {
		fields = append(fields, m.LLType(f.Type, wordSize))
	}
	m.SetBody(st, fields...)
	return st
}

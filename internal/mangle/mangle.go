// Package mangle produces MSVC-compatible decorated names (§4.3) so the
// direct backend's object links against tooling expectations. Every
// function here is pure: no state, no I/O.
package mangle

import (
	"fmt"
	"strings"

	"teac/internal/types"
)

// TypeCode renders the §4.3 type-code table: X void, _N i1, C i8, F i16,
// H i32, _J i64, D float, N double, PE<T> pointer.
func TypeCode(t *types.Type) string {
	if t == nil || t.IsVoid() {
		return "X"
	}
	switch t.Kind {
	case types.KindInt:
		switch t.Width {
		case 1:
			return "_N"
		case 8:
			return "C"
		case 16:
			return "F"
		case 32:
			return "H"
		case 64:
			return "_J"
		}
	case types.KindFloat:
		if t.Width == 32 {
			return "D"
		}
		return "N"
	case types.KindPointer:
		return "PE" + TypeCode(t.Elem)
	case types.KindNamed:
		// Named-type-by-value never occurs (objects are only ever
		// referenced through a pointer), but a stable fallback keeps
		// this total rather than panicking on malformed input.
		return "U" + t.Name + "@@"
	}
	return "H"
}

// ArgCodes renders a parameter list's type codes, or "X" for an empty
// list (the decorated form's "@Z" is produced by the callers below, not
// here).
func ArgCodes(params []*types.Type) string {
	if len(params) == 0 {
		return "X"
	}
	var b strings.Builder
	for _, p := range params {
		b.WriteString(TypeCode(p))
	}
	return b.String()
}

// argSuffix renders the trailing argcodes-plus-terminator shared by
// Constructor/Destructor/Method: a zero-arg list collapses straight to
// "XZ" (no "@" before Z), while a non-empty list separates its codes
// from Z with "@" (`??0Pair@@QEAA@HH@Z`).
func argSuffix(params []*types.Type) string {
	if len(params) == 0 {
		return "XZ"
	}
	return ArgCodes(params) + "@Z"
}

// Constructor renders `??0<Class>@@QEAA@<argcodes>@Z`, or
// `??0<Class>@@QEAA@XZ` for a zero-arg constructor.
func Constructor(class string, params []*types.Type) string {
	return fmt.Sprintf("??0%s@@QEAA@%s", class, argSuffix(params))
}

// Destructor renders `??1<Class>@@QEAA@XZ`; destructors take no explicit
// arguments beyond the implicit `this`.
func Destructor(class string) string {
	return fmt.Sprintf("??1%s@@QEAA@%s", class, argSuffix(nil))
}

// VTable renders `??_7<Class>@@6B@`.
func VTable(class string) string {
	return fmt.Sprintf("??_7%s@@6B@", class)
}

// Method renders `?<Name>@<Class>@@QEAA<RetCode><argcodes>@Z`, or
// `?<Name>@<Class>@@QEAA<RetCode>XZ` for a zero-arg method.
func Method(name, class string, ret *types.Type, params []*types.Type) string {
	return fmt.Sprintf("?%s@%s@@QEAA%s%s", name, class, TypeCode(ret), argSuffix(params))
}

// Import renders the §4.4 declared name for a symbol imported from
// module mod: `_<module>__<origName>`.
func Import(mod, orig string) string {
	return fmt.Sprintf("_%s__%s", mod, orig)
}

// ScopedCall renders the §4.5 fully-qualified name for a scoped call
// through nested modules s1..sn: `_s1__..._sn__name`.
func ScopedCall(scope []string, name string) string {
	var b strings.Builder
	for _, s := range scope {
		b.WriteString("_")
		b.WriteString(s)
		b.WriteString("__")
	}
	b.WriteString(name)
	return b.String()
}

package mangle

import (
	"testing"

	"teac/internal/types"
)

func TestTypeCode(t *testing.T) {
	tests := []struct {
		name string
		typ  *types.Type
		want string
	}{
		{"void", types.Void, "X"},
		{"nil treated as void", nil, "X"},
		{"bool", types.I1, "_N"},
		{"i8", types.I8, "C"},
		{"i32", types.I32, "H"},
		{"i64", types.I64, "_J"},
		{"f32", types.F32, "D"},
		{"f64", types.F64, "N"},
		{"pointer to i32", types.Pointer(types.I32), "PEH"},
		{"pointer to pointer to i32", types.Pointer(types.Pointer(types.I32)), "PEPEH"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := TypeCode(test.typ); got != test.want {
				t.Errorf("TypeCode(%v) = %q, want %q", test.typ, got, test.want)
			}
		})
	}
}

func TestArgCodesEmpty(t *testing.T) {
	if got := ArgCodes(nil); got != "X" {
		t.Errorf("ArgCodes(nil) = %q, want %q", got, "X")
	}
}

func TestArgCodesMultiple(t *testing.T) {
	got := ArgCodes([]*types.Type{types.I32, types.I32})
	want := "HH"
	if got != want {
		t.Errorf("ArgCodes([i32,i32]) = %q, want %q", got, want)
	}
}

// Scenario 3's Pair(int, int) constructor/destructor from the worked
// end-to-end example: ??0Pair@@QEAA@HH@Z / ??1Pair@@QEAA@XZ.
func TestConstructorDestructor(t *testing.T) {
	params := []*types.Type{types.I32, types.I32}

	if got, want := Constructor("Pair", params), "??0Pair@@QEAA@HH@Z"; got != want {
		t.Errorf("Constructor(Pair, [i32,i32]) = %q, want %q", got, want)
	}
	if got, want := Destructor("Pair"), "??1Pair@@QEAA@XZ"; got != want {
		t.Errorf("Destructor(Pair) = %q, want %q", got, want)
	}
}

// A zero-arg constructor (`new Counter()`) collapses to "XZ", matching
// Destructor's always-zero-arg convention rather than ArgCodes' bare "X"
// placeholder.
func TestConstructorZeroArgs(t *testing.T) {
	if got, want := Constructor("Counter", nil), "??0Counter@@QEAA@XZ"; got != want {
		t.Errorf("Constructor(Counter, nil) = %q, want %q", got, want)
	}
}

func TestVTable(t *testing.T) {
	if got, want := VTable("Pair"), "??_7Pair@@6B@"; got != want {
		t.Errorf("VTable(Pair) = %q, want %q", got, want)
	}
}

func TestMethod(t *testing.T) {
	got := Method("increment", "Counter", types.Void, nil)
	want := "?increment@Counter@@QEAAXXZ"
	if got != want {
		t.Errorf("Method(increment, Counter, void, []) = %q, want %q", got, want)
	}

	got = Method("add", "Counter", types.I32, []*types.Type{types.I32})
	want = "?add@Counter@@QEAAHH@Z"
	if got != want {
		t.Errorf("Method(add, Counter, i32, [i32]) = %q, want %q", got, want)
	}
}

func TestImport(t *testing.T) {
	if got, want := Import("math", "sqrt"), "_math__sqrt"; got != want {
		t.Errorf("Import(math, sqrt) = %q, want %q", got, want)
	}
}

func TestScopedCall(t *testing.T) {
	tests := []struct {
		name  string
		scope []string
		fn    string
		want  string
	}{
		{"no scope", nil, "main", "main"},
		{"one level", []string{"math"}, "sqrt", "_math__sqrt"},
		{"nested scopes", []string{"a", "b"}, "c", "_a___b__c"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ScopedCall(test.scope, test.fn); got != test.want {
				t.Errorf("ScopedCall(%v, %q) = %q, want %q", test.scope, test.fn, got, test.want)
			}
		})
	}
}

package types

import "testing"

func TestTableGetRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		spelling string
		want     string
	}{
		{"bare int", "i32", "i32"},
		{"bare alias int", "int", "i32"},
		{"bare bool", "bool", "bool"},
		{"single pointer", "i32*", "i32*"},
		{"double pointer", "i32**", "i32**"},
		{"const int", "const i32", "i32"},
		{"array", "i32[4]", "i32[4]"},
		{"pointer to array", "i32[4]*", "i32[4]*"},
		{"nested array", "i32[2][3]", "i32[2][3]"},
		{"void pointer rewritten to byte pointer", "void*", "i8*"},
		{"whitespace tolerant", "  i64  ", "i64"},
	}

	tbl := NewTable()
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, _, err := tbl.Get(test.spelling)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", test.spelling, err)
			}
			if spelled := got.Spell(); spelled != test.want {
				t.Errorf("Get(%q).Spell() = %q, want %q", test.spelling, spelled, test.want)
			}
		})
	}
}

// The round-trip test above checks the spelling of a nested array; this
// checks the leftmost-bracket-is-outermost rule on the actual nesting
// and per-dimension Len/Size directly.
func TestTableGetMultiDimArrayNesting(t *testing.T) {
	tbl := NewTable()

	got, _, err := tbl.Get("i32[2][3]")
	if err != nil {
		t.Fatalf("Get(\"i32[2][3]\") returned error: %v", err)
	}
	if !got.IsArray() || got.Len != 2 {
		t.Fatalf("Get(\"i32[2][3]\") outer = %+v, want an array of length 2", got)
	}
	inner := got.Elem
	if !inner.IsArray() || inner.Len != 3 {
		t.Fatalf("Get(\"i32[2][3]\") inner = %+v, want an array of length 3", inner)
	}
	if !Equal(inner.Elem, I32) {
		t.Fatalf("Get(\"i32[2][3]\") innermost element = %+v, want i32", inner.Elem)
	}

	const wordSize = 8
	want := 2 * (3 * I32.Size(wordSize))
	if got.Size(wordSize) != want {
		t.Errorf("Get(\"i32[2][3]\").Size(%d) = %d, want %d", wordSize, got.Size(wordSize), want)
	}
}

func TestTableGetConstFlag(t *testing.T) {
	tbl := NewTable()

	_, isConst, err := tbl.Get("const i32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isConst {
		t.Errorf("Get(\"const i32\") isConst = false, want true")
	}

	_, isConst, err = tbl.Get("i32")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isConst {
		t.Errorf("Get(\"i32\") isConst = true, want false")
	}
}

func TestTableGetNamedType(t *testing.T) {
	tbl := NewTable()
	tbl.Register("Counter")

	got, _, err := tbl.Get("Counter*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Spell() != "Counter*" {
		t.Errorf("Get(\"Counter*\").Spell() = %q, want %q", got.Spell(), "Counter*")
	}
}

func TestTableGetUnknownBase(t *testing.T) {
	tbl := NewTable()
	if _, _, err := tbl.Get("Bogus"); err == nil {
		t.Errorf("Get(\"Bogus\") succeeded, want an unresolved-reference error")
	}
}

func TestTableGetMalformedArray(t *testing.T) {
	tests := []string{"i32[]", "i32[x]", "i32[", "[4]"}
	tbl := NewTable()
	for _, spelling := range tests {
		t.Run(spelling, func(t *testing.T) {
			if _, _, err := tbl.Get(spelling); err == nil {
				t.Errorf("Get(%q) succeeded, want an error", spelling)
			}
		})
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	tbl := NewTable()
	a := tbl.Register("Pair")
	b := tbl.Register("Pair")
	if a != b {
		t.Errorf("Register(\"Pair\") twice returned distinct types, want the same pointer")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *Type
		want bool
	}{
		{"identical scalars", I32, I32, true},
		{"different widths", I32, I64, false},
		{"int vs float same width", I32, F32, false},
		{"pointers to same elem", Pointer(I32), Pointer(I32), true},
		{"pointers to different elem", Pointer(I32), Pointer(I64), false},
		{"arrays same len and elem", Array(4, I32), Array(4, I32), true},
		{"arrays different len", Array(4, I32), Array(3, I32), false},
		{"nil vs nil", nil, nil, true},
		{"nil vs non-nil", nil, I32, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Equal(test.a, test.b); got != test.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", test.a, test.b, got, test.want)
			}
		})
	}
}

func TestSizeScalars(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		want int
	}{
		{"bool", I1, 1},
		{"i8", I8, 1},
		{"i32", I32, 4},
		{"i64", I64, 8},
		{"f32", F32, 4},
		{"f64", F64, 8},
		{"pointer word-sized at 64-bit", Pointer(I32), 8},
		{"array of four i32", Array(4, I32), 16},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.typ.Size(8); got != test.want {
				t.Errorf("Size(8) = %d, want %d", got, test.want)
			}
		})
	}
}

package diag

import (
	"errors"
	"testing"
)

func TestErrorStringWithPosition(t *testing.T) {
	e := At(KindTypeMismatch, Pos{File: "a.tea", Line: 3, Column: 5}, "expected %s, got %s", "i32", "f64")
	want := "a.tea:3:5: type mismatch: expected i32, got f64"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorStringWithoutPosition(t *testing.T) {
	e := New(KindImportFailure, "module %q not found", "math")
	want := `import failure: module "math" not found`
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPosIsValid(t *testing.T) {
	if (Pos{}).IsValid() {
		t.Errorf("zero Pos.IsValid() = true, want false")
	}
	if !(Pos{File: "a.tea", Line: 1, Column: 1}).IsValid() {
		t.Errorf("Pos with Line=1 IsValid() = false, want true")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("underlying failure")
	e := Wrap(KindBackendFailure, Pos{}, cause, "verification failed")
	if got := e.Unwrap(); got == nil || got.Error() == "" {
		t.Fatalf("Unwrap() = %v, want a non-empty wrapped error", got)
	}
	if !errors.Is(e, cause) {
		t.Errorf("errors.Is(e, cause) = false, want true")
	}
}

func TestBagAccumulatesAndContinues(t *testing.T) {
	var bag Bag

	bag.Try(func() {
		Panic(At(KindParse, Pos{File: "a.tea", Line: 1}, "unexpected token"))
	})
	bag.Try(func() {
		// no panic: this declaration compiled fine
	})
	bag.Try(func() {
		Panic(At(KindUnresolvedReference, Pos{File: "a.tea", Line: 2}, "undefined identifier %q", "x"))
	})

	if bag.Empty() {
		t.Fatalf("bag.Empty() = true, want false")
	}
	if got, want := bag.Len(), 2; got != want {
		t.Fatalf("bag.Len() = %d, want %d", got, want)
	}

	errs := bag.Errors()
	if errs[0].Kind != KindParse {
		t.Errorf("errs[0].Kind = %v, want %v", errs[0].Kind, KindParse)
	}
	if errs[1].Kind != KindUnresolvedReference {
		t.Errorf("errs[1].Kind = %v, want %v", errs[1].Kind, KindUnresolvedReference)
	}
}

func TestBagTryRepanicsNonDiagnostic(t *testing.T) {
	var bag Bag
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a re-panic for a non-*Error panic value")
		}
		if r != "boom" {
			t.Errorf("recovered value = %v, want %q", r, "boom")
		}
	}()
	bag.Try(func() {
		panic("boom")
	})
}

func TestKindStringIsStable(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindParse, "parse error"},
		{KindUnresolvedReference, "unresolved reference"},
		{KindTypeMismatch, "type mismatch"},
		{KindStorageViolation, "storage violation"},
		{KindConstMutation, "mutation of constant"},
		{KindArityMismatch, "arity mismatch"},
		{KindInvalidShape, "invalid shape"},
		{KindImportFailure, "import failure"},
		{KindBackendFailure, "backend failure"},
	}
	for _, test := range tests {
		t.Run(test.want, func(t *testing.T) {
			if got := test.kind.String(); got != test.want {
				t.Errorf("Kind(%d).String() = %q, want %q", test.kind, got, test.want)
			}
		})
	}
}

// Package diag models compiler diagnostics: the error-kind taxonomy of
// spec §7, a source position, and a bag that accumulates errors across a
// translation unit instead of aborting on the first one.
package diag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the nine error categories of §7. Names are
// non-normative; callers should match on Kind, not on message text.
type Kind int

const (
	KindParse Kind = iota
	KindUnresolvedReference
	KindTypeMismatch
	KindStorageViolation
	KindConstMutation
	KindArityMismatch
	KindInvalidShape
	KindImportFailure
	KindBackendFailure
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindUnresolvedReference:
		return "unresolved reference"
	case KindTypeMismatch:
		return "type mismatch"
	case KindStorageViolation:
		return "storage violation"
	case KindConstMutation:
		return "mutation of constant"
	case KindArityMismatch:
		return "arity mismatch"
	case KindInvalidShape:
		return "invalid shape"
	case KindImportFailure:
		return "import failure"
	case KindBackendFailure:
		return "backend failure"
	}
	return "error"
}

// Pos is a source location. Line and Column are 1-based; a zero Line
// means no position is available (e.g. a synthesized node).
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.Line == 0 {
		return p.File
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

func (p Pos) IsValid() bool { return p.Line != 0 }

// Error is a single compiler diagnostic. Fatal backend failures (§7,
// "Backend verification failures are fatal") are returned directly rather
// than appended to a Bag; everything else flows through Bag.Add.
type Error struct {
	Kind Kind
	Pos  Pos
	Msg  string
	// Cause, when non-nil, is the underlying Go error this diagnostic
	// wraps (e.g. a backend verification error from llir/llvm). It is
	// attached with github.com/pkg/errors so a verbose run can print the
	// originating Go call stack alongside the source location.
	Cause error
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a position-less diagnostic.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// At builds a diagnostic anchored to a source position.
func At(kind Kind, pos Pos, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches cause to a new diagnostic using errors.Wrap, preserving a
// Go-level stack trace for -v output.
func Wrap(kind Kind, pos Pos, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:  kind,
		Pos:   pos,
		Msg:   fmt.Sprintf(format, args...),
		Cause: errors.Wrap(cause, kind.String()),
	}
}

// Bag accumulates diagnostics across a translation unit (§7 propagation
// policy): semantic analysis of one top-level declaration recovers a
// panic carrying an *Error, appends it here, and moves to the next
// declaration so the user sees every error in one run.
type Bag struct {
	errs []*Error
}

func (b *Bag) Add(e *Error) {
	if e != nil {
		b.errs = append(b.errs, e)
	}
}

func (b *Bag) Errors() []*Error { return b.errs }

func (b *Bag) Empty() bool { return len(b.errs) == 0 }

func (b *Bag) Len() int { return len(b.errs) }

// Try runs fn, recovering a panic that carries an *Error (raised via
// Panic below) and appending it to the bag. Any other panic value
// re-panics — only diagnostics are meant to unwind this way.
func (b *Bag) Try(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				b.Add(e)
				return
			}
			panic(r)
		}
	}()
	fn()
}

// Panic raises e as the panic value Bag.Try expects.
func Panic(e *Error) {
	panic(e)
}

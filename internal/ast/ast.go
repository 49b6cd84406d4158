// Package ast defines the tagged-variant tree the parser is assumed to
// produce (§3) and the core consumes read-only. Node shapes mirror
// internal/parser/ast.go's Accept(Visitor)-style dispatch, with every
// node carrying its own Pos so diagnostics don't need a side-channel
// line/column tracker.
package ast

import "teac/internal/diag"

// Pos is a source position, reused from internal/diag so nodes and
// diagnostics speak the same coordinate system.
type Pos = diag.Pos

// Module is the root of a translation unit: an ordered body of
// top-level declarations.
type Module struct {
	Pos  Pos
	Path string
	Body []TopLevel
}

// TopLevel is implemented by every top-level declaration kind.
type TopLevel interface {
	topLevel()
	Accept(v TopLevelVisitor)
}

type TopLevelVisitor interface {
	VisitFunction(*Function)
	VisitFunctionImport(*FunctionImport)
	VisitUsing(*Using)
	VisitGlobalVariable(*GlobalVariable)
	VisitObject(*Object)
	VisitObjectImport(*ObjectImport)
	VisitMacro(*Macro)
}

// Param is a function parameter: name plus a type spelling (resolved by
// C1 during lowering).
type Param struct {
	Pos  Pos
	Name string
	Type string
}

// Function is a definition. ReturnType is empty when the return type is
// to be inferred from the first `return` (§4.5).
type Function struct {
	Pos        Pos
	Name       string
	Public     bool
	Params     []Param
	ReturnType string // "" means inferred
	Body       []Stmt
}

func (*Function) topLevel() {}
func (n *Function) Accept(v TopLevelVisitor) { v.VisitFunction(n) }

// FunctionImport is an external declaration (no body).
type FunctionImport struct {
	Pos        Pos
	Name       string
	Params     []Param
	ReturnType string
	Variadic   bool
}

func (*FunctionImport) topLevel() {}
func (n *FunctionImport) Accept(v TopLevelVisitor) { v.VisitFunctionImport(n) }

// Using is a module import: `using name;`.
type Using struct {
	Pos  Pos
	Name string
}

func (*Using) topLevel() {}
func (n *Using) Accept(v TopLevelVisitor) { v.VisitUsing(n) }

type GlobalVariable struct {
	Pos     Pos
	Name    string
	Public  bool
	Const   bool
	Type    string // may be "" when inferred from Init
	Init    Expr
}

func (*GlobalVariable) topLevel() {}
func (n *GlobalVariable) Accept(v TopLevelVisitor) { v.VisitGlobalVariable(n) }

// Field is object storage.
type Field struct {
	Pos     Pos
	Name    string
	Type    string
	Const   bool
	Private bool
}

// Method is a Function with a distinguished name; ".ctor"/".dtor" are
// synthesized specially by C7 rather than emitted as ordinary methods.
type Method struct {
	Pos     Pos
	Name    string // ".ctor", ".dtor", or a regular method name
	Public  bool
	Params  []Param
	ReturnType string
	Body    []Stmt
}

func (m *Method) IsCtor() bool { return m.Name == ".ctor" }
func (m *Method) IsDtor() bool { return m.Name == ".dtor" }

type Object struct {
	Pos     Pos
	Name    string
	Public  bool
	Fields  []Field
	Methods []Method
}

func (*Object) topLevel() {}
func (n *Object) Accept(v TopLevelVisitor) { v.VisitObject(n) }

// ObjectImport declares a named object's external shape: fields aren't
// needed for linking, only the method table, so only method signatures
// are carried.
type ObjectImport struct {
	Pos     Pos
	Name    string
	Methods []FunctionImport
}

func (*ObjectImport) topLevel() {}
func (n *ObjectImport) Accept(v TopLevelVisitor) { v.VisitObjectImport(n) }

// Macro is textual AST substitution performed entirely in the parser;
// the core never interprets one — it exists only so TopLevel's
// enumeration is complete per §3.
type Macro struct {
	Pos  Pos
	Name string
}

func (*Macro) topLevel() {}
func (n *Macro) Accept(v TopLevelVisitor) { v.VisitMacro(n) }

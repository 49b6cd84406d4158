// Package resolve implements the import resolver (C5, §4.4): given a
// `Using "name"` it searches a configured directory list for
// `<name>.tea`, parses it, and collects only its importable top-level
// nodes (FunctionImport, ObjectImport). A nested Using is resolved but
// not re-exported; any other top-level node makes the import fail.
//
// Grounded on internal/packages/resolver.go's ImportResolver shape
// (cache + search-path list), simplified from Sentra's three import
// kinds (local/remote/stdlib) down to this language's single kind, since
// remote/registry imports are out of scope for tea.
package resolve

import (
	"os"
	"path/filepath"

	"teac/internal/ast"
	"teac/internal/diag"
)

// Parser is the external collaborator that turns source text into an
// AST module (§1: "the lexer/grammar parser... assume a provided parse
// tree"). The resolver never parses itself.
type Parser interface {
	Parse(path string, src []byte) (*ast.Module, error)
}

// Module is a resolved import: its declared name and the set of symbols
// available for scoped calls against it.
type Module struct {
	Name       string
	Path       string
	Functions  []*ast.FunctionImport
	Objects    []*ast.ObjectImport
}

// Resolver walks Using declarations, memoizing compiled imports by
// module name and detecting cycles via an explicit resolution stack —
// the same two structures original_source's resolver keeps (a path-keyed
// cache and a "currently resolving" stack it raises on re-entry into).
type Resolver struct {
	parser      Parser
	searchPaths []string
	cache       map[string]*Module
	stack       map[string]bool
}

func NewResolver(parser Parser, searchPaths []string) *Resolver {
	return &Resolver{
		parser:      parser,
		searchPaths: searchPaths,
		cache:       make(map[string]*Module),
		stack:       make(map[string]bool),
	}
}

// Resolve returns the compiled Module for name, loading and parsing
// `<name>.tea` the first time it's requested.
func (r *Resolver) Resolve(name string) (*Module, error) {
	if mod, ok := r.cache[name]; ok {
		return mod, nil
	}
	if r.stack[name] {
		return nil, &diag.Error{Kind: diag.KindImportFailure, Msg: "cyclic import of \"" + name + "\""}
	}

	path, err := r.find(name)
	if err != nil {
		return nil, err
	}

	r.stack[name] = true
	defer delete(r.stack, name)

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &diag.Error{Kind: diag.KindImportFailure, Msg: "cannot read module \"" + name + "\": " + err.Error()}
	}

	tree, err := r.parser.Parse(path, src)
	if err != nil {
		return nil, &diag.Error{Kind: diag.KindImportFailure, Msg: "parse failure in module \"" + name + "\": " + err.Error()}
	}

	mod := &Module{Name: name, Path: path}
	for _, top := range tree.Body {
		switch n := top.(type) {
		case *ast.FunctionImport:
			mod.Functions = append(mod.Functions, n)
		case *ast.ObjectImport:
			mod.Objects = append(mod.Objects, n)
		case *ast.Using:
			// A transitively imported module's own imports are resolved
			// but not re-exported; resolving them eagerly surfaces
			// missing-file/cycle errors at the point of the outer import.
			if _, err := r.Resolve(n.Name); err != nil {
				return nil, err
			}
		default:
			return nil, &diag.Error{
				Kind: diag.KindImportFailure,
				Msg:  "module \"" + name + "\" contains a non-importable top-level declaration",
			}
		}
	}

	r.cache[name] = mod
	return mod, nil
}

// find searches r.searchPaths in order for `<name>.tea`.
func (r *Resolver) find(name string) (string, error) {
	for _, dir := range r.searchPaths {
		candidate := filepath.Join(dir, name+".tea")
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", &diag.Error{Kind: diag.KindImportFailure, Msg: "module \"" + name + "\" not found"}
}

// Function looks up a named function import within mod.
func (m *Module) Function(name string) (*ast.FunctionImport, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Object looks up a named object import within mod.
func (m *Module) Object(name string) (*ast.ObjectImport, bool) {
	for _, o := range m.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

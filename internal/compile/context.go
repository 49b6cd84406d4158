// Package compile holds the per-invocation compilation context: the
// shared mutable state the source language keeps at process scope (type
// table, string-intern set, identified-type cache), scoped here to one
// struct per compiler run per the design note in spec §9 ("scope each to
// a per-invocation compilation context").
package compile

import (
	"strings"

	"github.com/google/uuid"
	"github.com/llir/llvm/ir/value"

	"teac/internal/types"
)

// Backend selects which of C9's two machine backends produces the final
// artifact.
type Backend int

const (
	BackendDirect Backend = iota
	BackendIR
)

// Bitness selects the target word size.
type Bitness int

const (
	Bits64 Bitness = 64
	Bits32 Bitness = 32
)

func (b Bitness) WordSize() int { return int(b) / 8 }

func (b Bitness) Triple() string {
	if b == Bits32 {
		return "i386-pc-windows-msvc"
	}
	return "x86_64-pc-windows-msvc"
}

// Options mirrors the CLI surface of §6 as a flat struct (no config
// library), filled in by the out-of-scope CLI layer and threaded through
// every compilation stage.
type Options struct {
	Source       string
	Output       string
	Verbose      bool
	Bitness      Bitness
	Optimize     bool
	Allocator    string
	Deallocator  string
	Backend      Backend
	SearchPaths  []string
}

// DefaultOptions matches §3's defaults: `_mem__alloc`/`_mem__free`,
// optimize on, 64-bit target whatever the host architecture.
func DefaultOptions() Options {
	return Options{
		Output:      "out.o",
		Bitness:     Bits64,
		Optimize:    true,
		Allocator:   "_mem__alloc",
		Deallocator: "_mem__free",
		Backend:     BackendDirect,
	}
}

// Context is the single piece of shared mutable state for one compiler
// invocation (§5: "Their lifetime equals the compiler invocation; a
// fresh invocation starts from an empty state"). It must never be held
// at package scope — New is called once per run.
type Context struct {
	Opts  Options
	Types *types.Table

	internedStrings map[string]string // content -> global name
	usedNames        map[string]bool  // every global/function name emitted so far

	functions map[string]*FuncInfo     // unscoped lookup: source-visible name -> declared function
	globals   map[string]*GlobalInfo   // current-module globals, by source name
	scopes    map[string]*ScopedModule // resolved imports, by module name (§4.5 scoped calls)
}

// FuncInfo records everything C6 needs to emit a call against a function
// that's already been declared into the IR module: the callee value
// (direct-callable), its checked parameter/return types, and whether
// it accepts a variable tail (§4.5 "Variadic functions accept ≥ len(fixed
// args)").
type FuncInfo struct {
	Callee   value.Value
	Params   []*types.Type
	Ret      *types.Type
	Variadic bool
}

// GlobalInfo records a declared global variable's address, type and
// constancy, the last needed by C6's "mutation of constant" check.
type GlobalInfo struct {
	Ptr   value.Value
	Type  *types.Type
	Const bool
}

// ScopedModule is one resolved `using` target: its exported functions,
// keyed by their original (unmangled) name, ready for a scoped call
// (`mod::fn`) to look up.
type ScopedModule struct {
	Name      string
	Functions map[string]*FuncInfo
}

func New(opts Options) *Context {
	return &Context{
		Opts:            opts,
		Types:           types.NewTable(),
		internedStrings: make(map[string]string),
		usedNames:       make(map[string]bool),
		functions:       make(map[string]*FuncInfo),
		globals:         make(map[string]*GlobalInfo),
		scopes:          make(map[string]*ScopedModule),
	}
}

// DeclareFunction registers name (unscoped, current-module lookup) with
// its callee and signature. Re-declaring the same name overwrites the
// prior entry, matching source order determining emission (§5).
func (c *Context) DeclareFunction(name string, info *FuncInfo) {
	c.functions[name] = info
}

func (c *Context) LookupFunction(name string) (*FuncInfo, bool) {
	f, ok := c.functions[name]
	return f, ok
}

func (c *Context) DeclareGlobal(name string, info *GlobalInfo) {
	c.globals[name] = info
}

func (c *Context) LookupGlobal(name string) (*GlobalInfo, bool) {
	g, ok := c.globals[name]
	return g, ok
}

// DeclareScope registers a resolved import under its module name, so a
// scoped call `name::fn` can find it later.
func (c *Context) DeclareScope(name string, mod *ScopedModule) {
	c.scopes[name] = mod
}

func (c *Context) LookupScope(name string) (*ScopedModule, bool) {
	m, ok := c.scopes[name]
	return m, ok
}

// Intern returns the name of the deduplicated global holding s, creating
// one if s hasn't been seen before (§3 invariant iii, §4.5 "Interned by
// content").
func (c *Context) Intern(s string) (name string, isNew bool) {
	if existing, ok := c.internedStrings[s]; ok {
		return existing, false
	}
	name = c.uniqueName(sanitizeStringName(s))
	c.internedStrings[s] = name
	return name, true
}

// Reserve records name as used, so a later Fresh/uniqueName call never
// collides with it. Used by C5/C7 when declaring names whose spelling is
// mandated (mangled symbols, import declarations) rather than
// synthesized.
func (c *Context) Reserve(name string) {
	c.usedNames[name] = true
}

func (c *Context) uniqueName(base string) string {
	name := base
	for c.usedNames[name] {
		name = base + "_" + uuid.New().String()[:8]
	}
	c.usedNames[name] = true
	return name
}

// Fresh mints a collision-free name for a compiler-synthesized symbol
// with no stable deterministic spelling (a deeply nested if-cascade's
// merge block, a cast temporary), using a uuid suffix instead of a
// package-level atomic counter so two Contexts never interfere.
func (c *Context) Fresh(hint string) string {
	return c.uniqueName(hint)
}

// sanitizeStringName transliterates literal content into the
// alphanumeric-prefix-plus-`a` name shape §4.5 specifies for interned
// string globals.
func sanitizeStringName(s string) string {
	var b strings.Builder
	b.WriteByte('a')
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() > 32 {
			break
		}
	}
	return b.String()
}

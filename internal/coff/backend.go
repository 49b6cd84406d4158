// Backend walks the finished *irgen.Module (C3, backed by llir/llvm)
// and emits x86-64/x86 machine code plus COFF metadata — the direct
// half of C9's "either or both" backends (§4.8). It never mutates the
// IR; it only reads it, mirroring the read-only relationship C9 has to
// C3 in §2's dependency table.
//
// Every SSA value gets its own rbp-relative stack slot (§9 "pre-allocate
// all local slots at function entry"), and every operation spills its
// operands in and its result out — a stack-machine style codegen with
// no register allocator, the same latitude other_examples's
// tinyrange-rtg/std/compiler/backend_x64.go takes (its compileLocalGet/
// Set also keep every local on the stack rather than tracking live
// registers). This trades code density for the thing that actually
// matters here: a direct, checkable mapping from one IR instruction to
// one code shape.
package coff

import (
	"fmt"
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"

	"teac/internal/compile"
	"teac/internal/irgen"
)

const slotSize = 8 // every value slot is word-aligned-and-then-some, regardless of bitness

// Emit compiles mod to a finished COFF object for ctx.Opts' target
// triple (§6).
func Emit(ctx *compile.Context, mod *irgen.Module) (*Object, error) {
	word := ctx.Opts.Bitness.WordSize()
	machine := uint16(0x14C)
	if ctx.Opts.Bitness == compile.Bits64 {
		machine = 0x8664
	}

	b := &moduleBuilder{word: word, machine: machine, symIndex: map[string]int{}}
	b.layoutFunctions(mod)
	b.layoutGlobals(mod)
	for _, f := range mod.M.Funcs {
		if len(f.Blocks) == 0 {
			continue // external declaration: no body to compile, symbol stays undefined (§4.4)
		}
		if err := b.compileFunc(f); err != nil {
			return nil, err
		}
	}
	b.resolveSections()

	return &Object{
		Machine: machine,
		Code:    b.text,
		RData:   b.rdata,
		Data:    b.data,
		Relocs:  b.relocs,
		Symbols: b.symbols,
	}, nil
}

// moduleBuilder accumulates every function's code into one .text blob
// (source order determines emission order and COFF symbol-table
// position, §5) and every global's bytes into .rdata (read-only:
// interned strings, const scalars) or .data (mutable globals, and
// vtables — their function-pointer entries need link-time relocation,
// see Object's RelAMD64Addr64/RelI386Dir32 doc).
type moduleBuilder struct {
	word    int
	machine uint16

	text  []byte
	rdata []byte
	data  []byte

	relocs   []Reloc
	symbols  []Symbol
	symKind  []string // "text"/"rdata"/"data"/"" (undefined), parallel to symbols
	symIndex map[string]int // name -> index into symbols, for relocation targets

	litCounter int // synthesized float-literal symbol names
}

// internFloat serializes f into .rdata under a freshly synthesized
// symbol, for an inline float constant a call argument or arithmetic
// operand needs addressable (the direct backend can only load an SSE
// value from memory, never from an immediate).
func (b *moduleBuilder) internFloat(f *constant.Float) string {
	b.litCounter++
	name := fmt.Sprintf("$F%d", b.litCounter)
	off := uint32(len(b.rdata))
	appendFloatBytes(&b.rdata, f)
	b.addSymbol(Symbol{Name: name, Value: off, Storage: StorageStatic}, "rdata")
	return name
}

func (b *moduleBuilder) addSymbol(s Symbol, kind string) int {
	if i, ok := b.symIndex[s.Name]; ok {
		return i
	}
	i := len(b.symbols)
	b.symbols = append(b.symbols, s)
	b.symKind = append(b.symKind, kind)
	b.symIndex[s.Name] = i
	return i
}

func (b *moduleBuilder) symbolIndex(name string) int {
	if i, ok := b.symIndex[name]; ok {
		return i
	}
	// Referenced but never locally declared: register as external/
	// undefined (§4.4's imported symbols — their *ir.Func exists as a
	// declaration with no body, which layoutFunctions already records
	// as Section 0; this fallback only guards against an address taken
	// before its declaring pass runs).
	return b.addSymbol(Symbol{Name: name, Storage: StorageExternal}, "")
}

// resolveSections patches every defined symbol's 1-based Section index
// once .rdata/.data's presence (and so their final section-table
// position) is known — layoutGlobals runs before any function body is
// compiled and can't yet tell whether .data will end up empty.
func (b *moduleBuilder) resolveSections() {
	idx := map[string]int16{"text": 1}
	next := int16(2)
	if len(b.rdata) > 0 {
		idx["rdata"] = next
		next++
	}
	if len(b.data) > 0 {
		idx["data"] = next
		next++
	}
	for i, kind := range b.symKind {
		if kind == "" {
			continue
		}
		b.symbols[i].Section = idx[kind]
	}
}

// layoutFunctions pre-registers every function's COFF symbol up front
// (value patched in once its code is laid out) so forward calls and
// vtable initializers can resolve a symbol index before that function's
// body has been compiled.
func (b *moduleBuilder) layoutFunctions(mod *irgen.Module) {
	for _, f := range mod.M.Funcs {
		storage := StorageStatic
		kind := "text"
		if len(f.Blocks) == 0 {
			kind = "" // external declaration (§4.4 import, or allocator/deallocator)
		} else if isPublicLinkage(f.Linkage) {
			storage = StorageExternal
		}
		b.addSymbol(Symbol{Name: f.Name(), Storage: storage, Type: 0x20}, kind)
	}
}

func isPublicLinkage(l enum.Linkage) bool {
	return l != enum.LinkageInternal && l != enum.LinkagePrivate
}

// layoutGlobals serializes every global's initializer into .rdata or
// .data, recording its symbol (value = byte offset within that
// section, patched into Symbol.Value directly since globals need no
// further fixup once their own bytes are written — only the fixups
// *inside* a vtable's bytes, against other symbols, are deferred).
func (b *moduleBuilder) layoutGlobals(mod *irgen.Module) {
	for _, g := range mod.M.Globals {
		kind := "data"
		dst := &b.data
		if g.Immutable && !containsFuncPointer(g.Init) {
			kind = "rdata"
			dst = &b.rdata
		}
		offset := uint32(len(*dst))
		b.appendConstant(dst, kind, offset, g.Init)

		storage := StorageStatic
		if isPublicLinkage(g.Linkage) {
			storage = StorageExternal
		}
		b.addSymbol(Symbol{Name: g.Name(), Value: offset, Storage: storage}, kind)
	}
}

// containsFuncPointer reports whether c (directly, or recursively
// through a struct) holds a function or global address — such a
// constant can't be fully resolved until link time, so its backing
// global belongs in .data (where a relocated pointer living isn't
// surprising) rather than truly-read-only .rdata.
func containsFuncPointer(c constant.Constant) bool {
	switch v := c.(type) {
	case *ir.Func, *ir.Global:
		return true
	case *constant.Struct:
		for _, f := range v.Fields {
			if containsFuncPointer(f) {
				return true
			}
		}
	}
	return false
}

// appendConstant serializes c's bytes into *dst (growing it), recording
// a relocation at any function/global-address field it contains. base
// is (*dst)'s length before this call, i.e. c's own byte offset within
// its section.
func (b *moduleBuilder) appendConstant(dst *[]byte, sectionName string, base uint32, c constant.Constant) {
	switch v := c.(type) {
	case *constant.Int:
		appendIntBytes(dst, v.X.Int64(), byteWidth(v.Typ.BitSize))
	case *constant.Float:
		appendFloatBytes(dst, v)
	case *constant.CharArray:
		*dst = append(*dst, v.X...)
	case *constant.ZeroInitializer:
		n := llSize(v.Typ, b.word)
		*dst = append(*dst, make([]byte, n)...)
	case *constant.Null:
		*dst = append(*dst, make([]byte, b.word)...)
	case *constant.Struct:
		for _, f := range v.Fields {
			off := uint32(len(*dst))
			b.appendConstant(dst, sectionName, off, f)
		}
	case *ir.Func:
		off := uint32(len(*dst))
		*dst = append(*dst, make([]byte, b.word)...)
		relType := uint16(RelAMD64Addr64)
		if b.word == 4 {
			relType = RelI386Dir32
		}
		b.relocs = append(b.relocs, Reloc{Section: sectionName, Offset: off, Symbol: b.symbolIndex(v.Name()), Type: relType})
	case *ir.Global:
		off := uint32(len(*dst))
		*dst = append(*dst, make([]byte, b.word)...)
		relType := uint16(RelAMD64Addr64)
		if b.word == 4 {
			relType = RelI386Dir32
		}
		b.relocs = append(b.relocs, Reloc{Section: sectionName, Offset: off, Symbol: b.symbolIndex(v.Name()), Type: relType})
	default:
		*dst = append(*dst, make([]byte, b.word)...)
	}
}

func byteWidth(bits uint64) int {
	switch {
	case bits <= 1:
		return 1
	case bits <= 8:
		return 1
	case bits <= 16:
		return 2
	case bits <= 32:
		return 4
	default:
		return 8
	}
}

func appendIntBytes(dst *[]byte, v int64, width int) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	*dst = append(*dst, b[:width]...)
}

func appendFloatBytes(dst *[]byte, f *constant.Float) {
	v, _ := f.X.Float64()
	if f.Typ.Kind == lltypes.FloatKindFloat {
		appendIntBytes(dst, int64(math.Float32bits(float32(v))), 4)
		return
	}
	appendIntBytes(dst, int64(math.Float64bits(v)), 8)
}

// llSize computes an llir type's in-memory size, mirroring
// internal/types.Type.Size but over llir/llvm's own type tree (used for
// zero-initializer lengths, where only the llir type is at hand).
func llSize(t lltypes.Type, word int) int {
	switch tt := t.(type) {
	case *lltypes.VoidType:
		return 0
	case *lltypes.IntType:
		return byteWidth(tt.BitSize)
	case *lltypes.FloatType:
		if tt.Kind == lltypes.FloatKindFloat {
			return 4
		}
		return 8
	case *lltypes.PointerType:
		return word
	case *lltypes.ArrayType:
		return int(tt.Len) * llSize(tt.ElemType, word)
	case *lltypes.StructType:
		n := 0
		for _, f := range tt.Fields {
			n += llSize(f, word)
		}
		return n
	}
	return word
}

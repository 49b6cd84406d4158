// Package coff implements C9's direct machine backend (§4.8
// "Alternative direct backend"): a minimal x86-64/x86 instruction
// encoder plus a bit-exact COFF object writer, grounded on
// other_examples's tinyrange-rtg/std/compiler pe64.go/pe32.go
// buildCOFFSymbols/makeCOFFSym layout, trimmed from a full PE image down
// to a relocatable object with a .text section plus .rdata/.data when
// non-empty (no DOS
// header, no optional header, no import table — a plain .o for a
// standard Microsoft-style linker).
package coff

import (
	"encoding/binary"
	"io"
)

// Relocation kinds §6 requires. REL32 is emitted at every call site,
// direct or to an import, and at every RIP-relative address load; the
// absolute-address kinds below cover the remaining fixups.
const RelAMD64Rel32 = 4

// SymStorage mirrors the two storage classes §6's symbol table uses.
type SymStorage byte

const (
	StorageExternal SymStorage = 2
	StorageStatic   SymStorage = 3
)

// Relocation kinds needed for data-section fixups: a vtable global's
// initializer holds function-pointer constants, which an object file
// can't bake in as absolute addresses before linking (§6 only spells
// out REL32 call-site fixups explicitly; a vtable needs the standard
// COFF absolute-address counterpart for the same reason a call needs
// REL32 — the final address isn't known until link time).
const (
	RelAMD64Addr64 = 1 // IMAGE_REL_AMD64_ADDR64
	RelI386Dir32   = 6 // IMAGE_REL_I386_DIR32
)

// Reloc is one 10-byte COFF relocation entry (§6): a fixup at Offset
// within Section ("text" or "data"), against the symbol at Symbol (by
// index into Object.Symbols), of the given Type.
type Reloc struct {
	Section string
	Offset  uint32
	Symbol  int
	Type    uint16
}

// Symbol is one 18-byte COFF symbol table entry (§6). Section is
// 1-based (.text is 1; .rdata and .data, when present, follow in that
// order); an external (imported, not defined in this translation unit)
// symbol carries Section 0.
type Symbol struct {
	Name    string
	Value   uint32
	Section int16
	Type    uint16 // 0x20 for functions, 0 otherwise
	Storage SymStorage
}

// Object is the finished direct-backend artifact for one translation
// unit: machine code plus whatever .rdata/.data content its string
// literals and globals required, its relocations, and its symbol table.
// WriteTo serializes it bit-exact to §6.
type Object struct {
	Machine uint16 // 0x8664 (x86-64) or 0x14C (i386), per §6
	Code    []byte
	RData   []byte
	Data    []byte
	Relocs  []Reloc
	Symbols []Symbol
}

type sectionLayout struct {
	name        string
	size        int
	rawDataOff  uint32
	relocOff    uint32
	numRelocs   uint16
	characterst uint32
}

// WriteTo assembles the object file: COFF header, section headers
// (.text always; .rdata/.data only when non-empty, per §6), each
// section's relocations (.text's code fixups, .data's vtable
// function-pointer fixups), symbol table, and a
// 4-byte-length-prefixed string table for any symbol name over 8 bytes.
func (o *Object) WriteTo(w io.Writer) (int64, error) {
	var sections []sectionLayout
	sections = append(sections, sectionLayout{name: ".text", size: len(o.Code), characterst: 0x60000020})
	if len(o.RData) > 0 {
		sections = append(sections, sectionLayout{name: ".rdata", size: len(o.RData), characterst: 0x40000040})
	}
	if len(o.Data) > 0 {
		sections = append(sections, sectionLayout{name: ".data", size: len(o.Data), characterst: 0xC0000040})
	}

	const coffHeaderSize = 20
	const sectionHeaderSize = 40
	const relocEntrySize = 10
	const symEntrySize = 18

	headerEnd := uint32(coffHeaderSize + sectionHeaderSize*len(sections))

	off := headerEnd
	for i := range sections {
		sections[i].rawDataOff = off
		off += uint32(sections[i].size)
	}

	relocsBySection := map[string][]Reloc{}
	for _, r := range o.Relocs {
		relocsBySection[r.Section] = append(relocsBySection[r.Section], r)
	}
	sectionKey := map[string]string{".text": "text", ".rdata": "rdata", ".data": "data"}
	for i := range sections {
		rs := relocsBySection[sectionKey[sections[i].name]]
		sections[i].relocOff = off
		sections[i].numRelocs = uint16(len(rs))
		off += uint32(len(rs)) * relocEntrySize
	}

	symTabOff := off
	symBytes, strTab := encodeSymbols(o.Symbols)
	off += uint32(len(symBytes))

	buf := make([]byte, 0, off+uint32(len(strTab)))
	buf = appendCOFFHeader(buf, o.Machine, len(sections), symTabOff, len(o.Symbols))
	for _, s := range sections {
		buf = appendSectionHeader(buf, s)
	}
	buf = append(buf, o.Code...)
	if len(o.RData) > 0 {
		buf = append(buf, o.RData...)
	}
	if len(o.Data) > 0 {
		buf = append(buf, o.Data...)
	}
	for _, s := range sections {
		for _, r := range relocsBySection[sectionKey[s.name]] {
			buf = appendReloc(buf, r)
		}
	}
	buf = append(buf, symBytes...)
	buf = append(buf, strTab...)

	n, err := w.Write(buf)
	return int64(n), err
}

func appendCOFFHeader(buf []byte, machine uint16, numSections int, symTabOff uint32, numSyms int) []byte {
	var h [20]byte
	binary.LittleEndian.PutUint16(h[0:], machine)
	binary.LittleEndian.PutUint16(h[2:], uint16(numSections))
	binary.LittleEndian.PutUint32(h[4:], 0) // TimeDateStamp: deterministic output, not wall-clock
	binary.LittleEndian.PutUint32(h[8:], symTabOff)
	binary.LittleEndian.PutUint32(h[12:], uint32(numSyms))
	binary.LittleEndian.PutUint16(h[16:], 0) // SizeOfOptionalHeader: none, this is an object not an image
	binary.LittleEndian.PutUint16(h[18:], 0) // Characteristics
	return append(buf, h[:]...)
}

func appendSectionHeader(buf []byte, s sectionLayout) []byte {
	var h [40]byte
	copy(h[0:8], s.name)
	binary.LittleEndian.PutUint32(h[8:], uint32(s.size))  // VirtualSize = raw size for an object
	binary.LittleEndian.PutUint32(h[12:], 0)              // VirtualAddress: 0 until linked
	binary.LittleEndian.PutUint32(h[16:], uint32(s.size)) // SizeOfRawData
	binary.LittleEndian.PutUint32(h[20:], s.rawDataOff)   // PointerToRawData
	binary.LittleEndian.PutUint32(h[24:], s.relocOff)     // PointerToRelocations
	binary.LittleEndian.PutUint32(h[28:], 0)              // PointerToLinenumbers: none (no debug info)
	binary.LittleEndian.PutUint16(h[32:], s.numRelocs)
	binary.LittleEndian.PutUint16(h[34:], 0) // NumberOfLinenumbers
	binary.LittleEndian.PutUint32(h[36:], s.characterst)
	return append(buf, h[:]...)
}

func appendReloc(buf []byte, r Reloc) []byte {
	var e [10]byte
	binary.LittleEndian.PutUint32(e[0:], r.Offset)
	binary.LittleEndian.PutUint32(e[4:], uint32(r.Symbol))
	binary.LittleEndian.PutUint16(e[8:], r.Type)
	return append(buf, e[:]...)
}

// encodeSymbols renders every Symbol as an 18-byte entry (inline 8-byte
// name, or a zero/strtab-offset pair for longer names) plus the
// 4-byte-length-prefixed string table those long names land in.
func encodeSymbols(syms []Symbol) (symBytes, strTab []byte) {
	strTab = append(strTab, 0, 0, 0, 0) // patched below
	for _, s := range syms {
		var e [18]byte
		if len(s.Name) <= 8 {
			copy(e[0:8], s.Name)
		} else {
			binary.LittleEndian.PutUint32(e[0:4], 0)
			binary.LittleEndian.PutUint32(e[4:8], uint32(len(strTab)))
			strTab = append(strTab, []byte(s.Name)...)
			strTab = append(strTab, 0)
		}
		binary.LittleEndian.PutUint32(e[8:], s.Value)
		binary.LittleEndian.PutUint16(e[12:], uint16(s.Section))
		binary.LittleEndian.PutUint16(e[14:], s.Type)
		e[16] = byte(s.Storage)
		e[17] = 0 // NumberOfAuxSymbols: none, no debug info
		symBytes = append(symBytes, e[:]...)
	}
	binary.LittleEndian.PutUint32(strTab[0:], uint32(len(strTab)))
	return symBytes, strTab
}

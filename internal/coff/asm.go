package coff

import "encoding/binary"

// Register numbers follow the x86-64 encoding (0-15); i386 mode only
// ever uses 0-7 (no REX, so no r8-r15). Grounded on the REX-prefixed
// mov/push/sub/cmp byte sequences in other_examples's
// tinyrange-rtg/std/compiler/backend_x64.go, generalized into named
// opcode-emitting methods instead of one big compileInst switch.
const (
	regAX = 0
	regCX = 1
	regDX = 2
	regBX = 3
	regSP = 4
	regBP = 5
	regSI = 6
	regDI = 7
	regR8 = 8
	regR9 = 9
)

// cc is an x86 condition code, used by both Jcc and Setcc.
type cc byte

const (
	ccE  cc = 0x4 // ZF=1
	ccNE cc = 0x5
	ccL  cc = 0xC // signed <
	ccLE cc = 0xE
	ccG  cc = 0xF
	ccGE cc = 0xD

	// Unsigned condition codes, used for the ordered float predicates
	// after ucomisd/ucomiss: that instruction sets CF/ZF/PF the same
	// way an unsigned integer compare would.
	ccB  cc = 0x2
	ccBE cc = 0x6
	ccA  cc = 0x7
	ccAE cc = 0x3
)

// asm accumulates one function's machine code, tracking the fixups and
// relocations a later pass (once every block's start offset is known)
// resolves. word is 8 for x86-64, 4 for i386 — it gates REX-prefix
// emission and immediate-width defaults throughout.
type asm struct {
	buf    []byte
	word   int
	relocs []pendingReloc
}

// pendingReloc is a call-site fixup against a symbol resolved only at
// COFF-writer time (every direct call, whether to another function in
// this translation unit or an imported one — §6's relocation entries
// uniformly target a symbol-table index, so local calls get one too
// rather than requiring a second, more fragile, "is this forward or
// already laid out" code path).
type pendingReloc struct {
	offset int
	symbol string
	kind   uint16
}

func newAsm(word int) *asm { return &asm{word: word} }

func (a *asm) pos() int { return len(a.buf) }

func (a *asm) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *asm) emitU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.emit(b[:]...)
}

func (a *asm) emitU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.emit(b[:]...)
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | rm&7 }

// rex emits a REX prefix iff running in 64-bit mode and any of the four
// bits are needed; i386 mode never emits one (no REX byte exists there).
func (a *asm) rex(w, r, x, b bool) {
	if a.word != 8 {
		return
	}
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	if v != 0x40 || w {
		a.emit(v)
	}
}

func ext(reg int) bool { return reg >= 8 }
func lo3(reg int) byte { return byte(reg & 7) }

// --- data movement ---

// MovRegMem loads the word-sized value at [base+disp] into dst: REX +
// 0x8B + ModRM(disp32, dst, base). Every stack slot is addressed
// rbp-relative with a disp32, so this never needs a SIB byte (rbp/ebp
// as the base, encoded mod=10, never triggers the rsp/SIB special
// case).
func (a *asm) MovRegMem(dst, base int, disp int32) {
	a.rex(a.word == 8, ext(dst), false, ext(base))
	a.emit(0x8B, modrm(2, lo3(dst), lo3(base)))
	a.emitU32(uint32(disp))
}

// MovMemReg stores src into [base+disp]: REX + 0x89 + ModRM, plus the
// SIB byte an rsp/r12 base requires.
func (a *asm) MovMemReg(base int, disp int32, src int) {
	a.rex(a.word == 8, ext(src), false, ext(base))
	a.emit(0x89, modrm(2, lo3(src), lo3(base)))
	if lo3(base) == 4 {
		a.emit(0x24)
	}
	a.emitU32(uint32(disp))
}

func (a *asm) MovRegReg(dst, src int) {
	a.rex(a.word == 8, ext(src), false, ext(dst))
	a.emit(0x89, modrm(3, lo3(src), lo3(dst)))
}

// MovRegImm32 moves a sign-extended 32-bit immediate into dst (opcode
// 0xC7 /0); used for values that fit a word but are spelled as literals
// narrower than a full 64-bit immediate.
func (a *asm) MovRegImm32(dst int, imm int32) {
	a.rex(a.word == 8, false, false, ext(dst))
	a.emit(0xC7, modrm(3, 0, lo3(dst)))
	a.emitU32(uint32(imm))
}

// MovRegImm64 moves a full 64-bit immediate (opcode 0xB8+rd); 64-bit
// mode only, since i386 has no 64-bit general-purpose registers.
func (a *asm) MovRegImm64(dst int, imm uint64) {
	a.rex(true, false, false, ext(dst))
	a.emit(0xB8 + lo3(dst))
	a.emitU64(imm)
}

func (a *asm) LeaRegMem(dst, base int, disp int32) {
	a.rex(a.word == 8, ext(dst), false, ext(base))
	a.emit(0x8D, modrm(2, lo3(dst), lo3(base)))
	a.emitU32(uint32(disp))
}

// --- stack ---

func (a *asm) Push(reg int) {
	a.rex(false, false, false, ext(reg))
	a.emit(0x50 + lo3(reg))
}

func (a *asm) Pop(reg int) {
	a.rex(false, false, false, ext(reg))
	a.emit(0x58 + lo3(reg))
}

// SubRegImm32 / AddRegImm32 adjust reg by a signed 32-bit immediate
// (opcode 0x81 /5 and /0) — used for `sub rsp, frameSize` in the
// prologue and its matching epilogue restore.
func (a *asm) SubRegImm32(reg int, imm int32) {
	a.rex(a.word == 8, false, false, ext(reg))
	a.emit(0x81, modrm(3, 5, lo3(reg)))
	a.emitU32(uint32(imm))
}

func (a *asm) AddRegImm32(reg int, imm int32) {
	a.rex(a.word == 8, false, false, ext(reg))
	a.emit(0x81, modrm(3, 0, lo3(reg)))
	a.emitU32(uint32(imm))
}

// --- integer arithmetic (word-sized, two-operand dst op= src form) ---

func (a *asm) aluRegReg(opcodeReg byte, dst, src int) {
	a.rex(a.word == 8, ext(src), false, ext(dst))
	a.emit(opcodeReg, modrm(3, lo3(src), lo3(dst)))
}

func (a *asm) AddRegReg(dst, src int) { a.aluRegReg(0x01, dst, src) }
func (a *asm) SubRegReg(dst, src int) { a.aluRegReg(0x29, dst, src) }
func (a *asm) AndRegReg(dst, src int) { a.aluRegReg(0x21, dst, src) }
func (a *asm) OrRegReg(dst, src int)  { a.aluRegReg(0x09, dst, src) }
func (a *asm) XorRegReg(dst, src int) { a.aluRegReg(0x31, dst, src) }
func (a *asm) CmpRegReg(dst, src int) { a.aluRegReg(0x39, dst, src) }

// ImulRegReg: dst *= src (two-byte opcode 0x0F 0xAF /r).
func (a *asm) ImulRegReg(dst, src int) {
	a.rex(a.word == 8, ext(dst), false, ext(src))
	a.emit(0x0F, 0xAF, modrm(3, lo3(dst), lo3(src)))
}

// Cqo/Cdq sign-extends rax/eax into rdx:rax / edx:eax ahead of idiv.
func (a *asm) CdqOrCqo() {
	if a.word == 8 {
		a.emit(0x48, 0x99)
	} else {
		a.emit(0x99)
	}
}

// IdivReg performs signed division of rdx:rax (or edx:eax) by reg,
// leaving the quotient in rax/eax (opcode 0xF7 /7).
func (a *asm) IdivReg(reg int) {
	a.rex(a.word == 8, false, false, ext(reg))
	a.emit(0xF7, modrm(3, 7, lo3(reg)))
}

func (a *asm) NegReg(reg int) {
	a.rex(a.word == 8, false, false, ext(reg))
	a.emit(0xF7, modrm(3, 3, lo3(reg)))
}

// Setcc writes 0/1 into the low byte of reg per the condition code, then
// zero-extends it across the full register (§4.2 "icmp ... Result type
// is i1", widened here to this backend's word-sized slot representation
// — every IR value, whatever its declared bit width, occupies a full
// slot per §9's flat stack-slot policy).
func (a *asm) Setcc(c cc, reg int) {
	a.rex(false, false, false, ext(reg))
	a.emit(0x0F, 0x90+byte(c), modrm(3, 0, lo3(reg)))
	a.MovzxReg8(reg, reg)
}

// MovzxReg8 zero-extends the low byte of src into dst (opcode 0x0F
// 0xB6 /r).
func (a *asm) MovzxReg8(dst, src int) {
	a.rex(a.word == 8, ext(dst), false, ext(src))
	a.emit(0x0F, 0xB6, modrm(3, lo3(dst), lo3(src)))
}

// --- SSE2 scalar float (f64); f32 variants substitute the 0xF3 prefix
// for 0xF2 and operate on the low 4 bytes of a slot instead of 8 ---

func (a *asm) sseRegMem(prefix, opcode byte, xmm, base int, disp int32, store bool) {
	a.emit(prefix)
	if ext(xmm) || ext(base) {
		a.rex(false, ext(xmm), false, ext(base))
	}
	a.emit(0x0F, opcode, modrm(2, lo3(xmm), lo3(base)))
	a.emitU32(uint32(disp))
	_ = store
}

func (a *asm) MovsdLoad(xmm, base int, disp int32)  { a.sseRegMem(0xF2, 0x10, xmm, base, disp, false) }
func (a *asm) MovsdStore(base int, disp int32, xmm int) { a.sseRegMem(0xF2, 0x11, xmm, base, disp, true) }
func (a *asm) MovssLoad(xmm, base int, disp int32)  { a.sseRegMem(0xF3, 0x10, xmm, base, disp, false) }
func (a *asm) MovssStore(base int, disp int32, xmm int) { a.sseRegMem(0xF3, 0x11, xmm, base, disp, true) }

func (a *asm) sseRegReg(prefix, opcode byte, dst, src int) {
	a.emit(prefix)
	if ext(dst) || ext(src) {
		a.rex(false, ext(dst), false, ext(src))
	}
	a.emit(0x0F, opcode, modrm(3, lo3(dst), lo3(src)))
}

func (a *asm) AddsdRegReg(dst, src int) { a.sseRegReg(0xF2, 0x58, dst, src) }
func (a *asm) SubsdRegReg(dst, src int) { a.sseRegReg(0xF2, 0x5C, dst, src) }
func (a *asm) MulsdRegReg(dst, src int) { a.sseRegReg(0xF2, 0x59, dst, src) }
func (a *asm) DivsdRegReg(dst, src int) { a.sseRegReg(0xF2, 0x5E, dst, src) }
func (a *asm) AddssRegReg(dst, src int) { a.sseRegReg(0xF3, 0x58, dst, src) }
func (a *asm) SubssRegReg(dst, src int) { a.sseRegReg(0xF3, 0x5C, dst, src) }
func (a *asm) MulssRegReg(dst, src int) { a.sseRegReg(0xF3, 0x59, dst, src) }
func (a *asm) DivssRegReg(dst, src int) { a.sseRegReg(0xF3, 0x5E, dst, src) }

// Ucomisd/Ucomiss compare and set EFLAGS the way Setcc reads, matching
// §4.4's "use ordered predicates" (unordered results are not
// distinguished from false here — NaN comparands are out of scope).
func (a *asm) UcomisdRegReg(x, y int) { a.sseRegRegNoPrefix(0x66, 0x2E, x, y) }
func (a *asm) UcomissRegReg(x, y int) { a.sseRegRegNoPrefix(0x00, 0x2E, x, y) }

func (a *asm) sseRegRegNoPrefix(prefix, opcode byte, x, y int) {
	if prefix != 0 {
		a.emit(prefix)
	}
	if ext(x) || ext(y) {
		a.rex(false, ext(x), false, ext(y))
	}
	a.emit(0x0F, opcode, modrm(3, lo3(x), lo3(y)))
}

// --- calls, jumps, return ---

// CallRel32 emits a near CALL with a placeholder rel32 and records a
// relocation against symbol, resolved by the COFF writer's symbol table
// (§6: "relocation type 4 targets `_stdio__puts` from the call site" —
// applied uniformly to every direct call, local or imported, per
// pendingReloc's doc comment).
func (a *asm) CallRel32(symbol string) {
	a.emit(0xE8)
	a.relocs = append(a.relocs, pendingReloc{offset: a.pos(), symbol: symbol, kind: RelAMD64Rel32})
	a.emitU32(0)
}

// CallIndirectReg calls through a register holding a function pointer
// (opcode 0xFF /2) — used for vtable dispatch, where the target is a
// runtime value with no symbol to relocate against.
func (a *asm) CallIndirectReg(reg int) {
	a.rex(false, false, false, ext(reg))
	a.emit(0xFF, modrm(3, 2, lo3(reg)))
}

// fixup is a not-yet-resolved branch target, patched once every block's
// start offset in the function is known.
type fixup struct {
	offset int // position of the rel32 field
	block  string
}

func (a *asm) Jmp(target string, fixups *[]fixup) {
	a.emit(0xE9)
	*fixups = append(*fixups, fixup{offset: a.pos(), block: target})
	a.emitU32(0)
}

func (a *asm) Jcc(c cc, target string, fixups *[]fixup) {
	a.emit(0x0F, 0x80+byte(c))
	*fixups = append(*fixups, fixup{offset: a.pos(), block: target})
	a.emitU32(0)
}

func (a *asm) RetImm16(n uint16) {
	a.emit(0xC2)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], n)
	a.emit(b[:]...)
}

// LeaRipRel loads symbol's RIP-relative address into dst (x86-64 only):
// `lea dst, [rip+disp32]`, disp32 resolved by the same REL32 relocation
// kind a call site uses — the linker computes a RIP-relative fixup
// identically regardless of which instruction's trailing disp32 it
// patches.
func (a *asm) LeaRipRel(dst int, symbol string) {
	a.rex(true, ext(dst), false, false)
	a.emit(0x8D, modrm(0, lo3(dst), 5))
	a.relocs = append(a.relocs, pendingReloc{offset: a.pos(), symbol: symbol, kind: RelAMD64Rel32})
	a.emitU32(0)
}

// MovRegImmSymbol loads symbol's absolute 32-bit address into dst
// (i386 only, opcode 0xB8+rd), fixed up with a DIR32 relocation.
func (a *asm) MovRegImmSymbol(dst int, symbol string) {
	a.emit(0xB8 + lo3(dst))
	a.relocs = append(a.relocs, pendingReloc{offset: a.pos(), symbol: symbol, kind: RelI386Dir32})
	a.emitU32(0)
}

func (a *asm) Ret() { a.emit(0xC3) }

// patchRel32 resolves a rel32 field at offset against targetOffset: the
// displacement is measured from the byte right after the 4-byte field.
func (a *asm) patchRel32(offset, targetOffset int) {
	disp := int32(targetOffset - (offset + 4))
	binary.LittleEndian.PutUint32(a.buf[offset:offset+4], uint32(disp))
}

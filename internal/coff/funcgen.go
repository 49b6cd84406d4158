// Function codegen: walks one *ir.Func's blocks and lowers every
// instruction to bytes via asm. Argument and return-value marshaling
// follow the function's declared calling convention (§4.2's
// cdecl/fastcall/stdcall set): on x86-64 every call uses the Microsoft
// integer-register convention regardless of the source keyword (the
// real ABI collapses the distinction there too); on i386 cdecl/stdcall
// push every argument and differ only in who cleans the stack, while
// fastcall additionally carries the first two in ecx/edx. Floating-point
// call arguments are marshaled through general registers/stack like any
// other word, the same flat-slot trade this backend makes everywhere
// else — only return values and arithmetic route through xmm.
package coff

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

const xmm0 = 0
const xmm1 = 1

func (b *moduleBuilder) compileFunc(f *ir.Func) error {
	fc := &funcCompiler{
		mb:         b,
		a:          newAsm(b.word),
		slots:      map[value.Value]int32{},
		allocaAddr: map[value.Value]int32{},
		blockOff:   map[string]int{},
		word:       b.word,
		cc:         f.CallConv,
	}
	fc.assignSlots(f)
	fc.emitPrologue(f)
	for _, blk := range f.Blocks {
		fc.blockOff[blk.Ident()] = fc.a.pos()
		for _, inst := range blk.Insts {
			fc.compileInst(inst)
		}
		fc.compileTerm(blk.Term)
	}
	fc.resolveFixups()

	funcStart := len(b.text)
	if idx, ok := b.symIndex[f.Name()]; ok {
		b.symbols[idx].Value = uint32(funcStart)
	}
	b.text = append(b.text, fc.a.buf...)
	for _, r := range fc.a.relocs {
		b.relocs = append(b.relocs, Reloc{
			Section: "text",
			Offset:  uint32(funcStart + r.offset),
			Symbol:  b.symbolIndex(r.symbol),
			Type:    r.kind,
		})
	}
	return nil
}

// funcCompiler lowers one function's blocks into a self-contained asm
// buffer; compileFunc splices the result (and its relocations, offset by
// where this function landed) into the moduleBuilder afterward.
type funcCompiler struct {
	mb   *moduleBuilder
	a    *asm
	word int
	cc   enum.CallConv

	slots      map[value.Value]int32 // rbp-relative offset of each SSA value's home slot
	allocaAddr map[value.Value]int32 // rbp-relative offset of an Alloca's backing storage
	blockOff   map[string]int
	fixups     []fixup

	frameSize     int32
	stackArgWords int // incoming stack-passed param count, for a stdcall/fastcall ret imm16
}

func (fc *funcCompiler) slotOf(v value.Value) int32 {
	off, ok := fc.slots[v]
	if !ok {
		panic(fmt.Sprintf("coff: %v has no assigned stack slot", v.Ident()))
	}
	return off
}

// assignSlots pre-allocates one rbp-relative slot for every parameter
// and every value-producing instruction (§9's "pre-allocate all local
// slots" policy, extended from locals to every SSA temporary since this
// backend keeps no live values in registers between instructions). An
// ir.InstAlloca additionally reserves backing bytes sized to its
// element type, separate from the pointer-to-it slot every other
// instruction gets.
func (fc *funcCompiler) assignSlots(f *ir.Func) {
	next := int32(0)
	alloc := func() int32 {
		next += slotSize
		return -next
	}
	for _, p := range f.Params {
		fc.slots[p] = alloc()
	}
	for _, blk := range f.Blocks {
		for _, raw := range blk.Insts {
			switch inst := raw.(type) {
			case *ir.InstStore:
				// no result
			case *ir.InstAlloca:
				size := llSize(inst.ElemType, fc.word)
				if size < slotSize {
					size = slotSize
				}
				words := int32((size + slotSize - 1) / slotSize)
				next += words * slotSize
				fc.allocaAddr[inst] = -next
				fc.slots[inst] = alloc()
			case *ir.InstAdd, *ir.InstSub, *ir.InstMul, *ir.InstSDiv,
				*ir.InstFAdd, *ir.InstFSub, *ir.InstFMul, *ir.InstFDiv,
				*ir.InstICmp, *ir.InstFCmp, *ir.InstAnd, *ir.InstOr, *ir.InstXor,
				*ir.InstLoad, *ir.InstBitCast, *ir.InstTrunc, *ir.InstZExt,
				*ir.InstIntToPtr, *ir.InstCall, *ir.InstGetElementPtr:
				fc.slots[raw.(value.Value)] = alloc()
			}
		}
	}
	if next%16 != 0 {
		next += 16 - next%16
	}
	fc.frameSize = next
}

func (fc *funcCompiler) emitPrologue(f *ir.Func) {
	a := fc.a
	a.Push(regBP)
	a.MovRegReg(regBP, regSP)
	if fc.frameSize > 0 {
		a.SubRegImm32(regSP, fc.frameSize)
	}
	fc.marshalIncomingParams(f)
}

// marshalIncomingParams copies every incoming parameter into its home
// slot, reading it from whichever register or caller-stack location its
// position and the function's calling convention put it in.
func (fc *funcCompiler) marshalIncomingParams(f *ir.Func) {
	if fc.word == 8 {
		regs := [4]int{regCX, regDX, regR8, regR9}
		for i, p := range f.Params {
			if i < 4 {
				fc.a.MovMemReg(regBP, fc.slotOf(p), regs[i])
				continue
			}
			off := int32(48 + (i-4)*8) // past saved rbp/return addr and the 32-byte shadow space
			fc.a.MovRegMem(regAX, regBP, off)
			fc.a.MovMemReg(regBP, fc.slotOf(p), regAX)
		}
		return
	}

	if fc.cc == enum.CallConvX86FastCall {
		regs := [2]int{regCX, regDX}
		for i, p := range f.Params {
			if i < 2 {
				fc.a.MovMemReg(regBP, fc.slotOf(p), regs[i])
				continue
			}
			off := int32(8 + (i-2)*4)
			fc.a.MovRegMem(regAX, regBP, off)
			fc.a.MovMemReg(regBP, fc.slotOf(p), regAX)
			fc.stackArgWords++
		}
		return
	}

	for i, p := range f.Params {
		off := int32(8 + i*4)
		fc.a.MovRegMem(regAX, regBP, off)
		fc.a.MovMemReg(regBP, fc.slotOf(p), regAX)
		fc.stackArgWords++
	}
}

func (fc *funcCompiler) emitEpilogue() {
	a := fc.a
	a.MovRegReg(regSP, regBP)
	a.Pop(regBP)
	if fc.word == 4 && (fc.cc == enum.CallConvX86StdCall || fc.cc == enum.CallConvX86FastCall) {
		a.RetImm16(uint16(fc.stackArgWords * 4))
		return
	}
	a.Ret()
}

func (fc *funcCompiler) resolveFixups() {
	for _, fx := range fc.fixups {
		target, ok := fc.blockOff[fx.block]
		if !ok {
			continue
		}
		fc.a.patchRel32(fx.offset, target)
	}
}

// loadOperand materializes v (a constant, a function/global address, or
// a previously-computed value's slot) into reg.
func (fc *funcCompiler) loadOperand(v value.Value, reg int) {
	switch c := v.(type) {
	case *constant.Int:
		n := c.X.Int64()
		if fc.word == 8 {
			fc.a.MovRegImm64(reg, uint64(n))
		} else {
			fc.a.MovRegImm32(reg, int32(n))
		}
	case *constant.Null, *constant.ZeroInitializer:
		fc.a.XorRegReg(reg, reg)
	case *ir.Func:
		if fc.word == 8 {
			fc.a.LeaRipRel(reg, c.Name())
		} else {
			fc.a.MovRegImmSymbol(reg, c.Name())
		}
	case *ir.Global:
		if fc.word == 8 {
			fc.a.LeaRipRel(reg, c.Name())
		} else {
			fc.a.MovRegImmSymbol(reg, c.Name())
		}
	case *constant.Float:
		sym := fc.mb.internFloat(c)
		if fc.word == 8 {
			fc.a.LeaRipRel(reg, sym)
		} else {
			fc.a.MovRegImmSymbol(reg, sym)
		}
		fc.a.MovRegMem(reg, reg, 0)
	default:
		fc.a.MovRegMem(reg, regBP, fc.slotOf(v))
	}
}

func (fc *funcCompiler) storeResultInt(inst value.Value, reg int) {
	fc.a.MovMemReg(regBP, fc.slotOf(inst), reg)
}

func (fc *funcCompiler) loadFloatOperand(v value.Value, xmm int) {
	f32 := isFloat32(v.Type())
	if c, ok := v.(*constant.Float); ok {
		sym := fc.mb.internFloat(c)
		if fc.word == 8 {
			fc.a.LeaRipRel(regAX, sym)
		} else {
			fc.a.MovRegImmSymbol(regAX, sym)
		}
		if f32 {
			fc.a.MovssLoad(xmm, regAX, 0)
		} else {
			fc.a.MovsdLoad(xmm, regAX, 0)
		}
		return
	}
	off := fc.slotOf(v)
	if f32 {
		fc.a.MovssLoad(xmm, regBP, off)
	} else {
		fc.a.MovsdLoad(xmm, regBP, off)
	}
}

func (fc *funcCompiler) storeFloatResult(inst value.Value, xmm int) {
	off := fc.slotOf(inst)
	if isFloat32(inst.Type()) {
		fc.a.MovssStore(regBP, off, xmm)
	} else {
		fc.a.MovsdStore(regBP, off, xmm)
	}
}

func isFloatLLType(t lltypes.Type) bool {
	_, ok := t.(*lltypes.FloatType)
	return ok
}

func isFloat32(t lltypes.Type) bool {
	ft, ok := t.(*lltypes.FloatType)
	return ok && ft.Kind == lltypes.FloatKindFloat
}

func isVoidLL(t lltypes.Type) bool {
	_, ok := t.(*lltypes.VoidType)
	return ok
}

func iPredToCC(p enum.IPred) cc {
	switch p {
	case enum.IPredEQ:
		return ccE
	case enum.IPredNE:
		return ccNE
	case enum.IPredSLT:
		return ccL
	case enum.IPredSLE:
		return ccLE
	case enum.IPredSGT:
		return ccG
	case enum.IPredSGE:
		return ccGE
	default:
		return ccE
	}
}

// fPredToCC maps an ordered float predicate to the condition code that
// reads correctly straight off ucomisd/ucomiss's EFLAGS, which compare
// as if unsigned (§4.4 restricts this language to ordered predicates,
// so an unordered/NaN operand's behavior here is unspecified).
func fPredToCC(p enum.FPred) cc {
	switch p {
	case enum.FPredOEQ:
		return ccE
	case enum.FPredONE:
		return ccNE
	case enum.FPredOLT:
		return ccB
	case enum.FPredOLE:
		return ccBE
	case enum.FPredOGT:
		return ccA
	case enum.FPredOGE:
		return ccAE
	default:
		return ccE
	}
}

func (fc *funcCompiler) compileInst(raw ir.Instruction) {
	switch inst := raw.(type) {
	case *ir.InstAlloca:
		fc.a.LeaRegMem(regAX, regBP, fc.allocaAddr[inst])
		fc.storeResultInt(inst, regAX)

	case *ir.InstLoad:
		fc.loadOperand(inst.Src, regAX)
		if isFloatLLType(inst.Type()) {
			if isFloat32(inst.Type()) {
				fc.a.MovssLoad(xmm0, regAX, 0)
			} else {
				fc.a.MovsdLoad(xmm0, regAX, 0)
			}
			fc.storeFloatResult(inst, xmm0)
		} else {
			fc.a.MovRegMem(regCX, regAX, 0)
			fc.storeResultInt(inst, regCX)
		}

	case *ir.InstStore:
		fc.loadOperand(inst.Dst, regAX)
		if isFloatLLType(inst.Src.Type()) {
			fc.loadFloatOperand(inst.Src, xmm0)
			if isFloat32(inst.Src.Type()) {
				fc.a.MovssStore(regAX, 0, xmm0)
			} else {
				fc.a.MovsdStore(regAX, 0, xmm0)
			}
		} else {
			fc.loadOperand(inst.Src, regCX)
			fc.a.MovMemReg(regAX, 0, regCX)
		}

	case *ir.InstGetElementPtr:
		fc.compileGEP(inst)

	case *ir.InstBitCast:
		fc.loadOperand(inst.From, regAX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstTrunc:
		fc.loadOperand(inst.From, regAX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstZExt:
		fc.loadOperand(inst.From, regAX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstIntToPtr:
		fc.loadOperand(inst.From, regAX)
		fc.storeResultInt(inst, regAX)

	case *ir.InstAdd:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.AddRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstSub:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.SubRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstMul:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.ImulRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstSDiv:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.CdqOrCqo()
		fc.a.IdivReg(regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstAnd:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.AndRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstOr:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.OrRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstXor:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.XorRegReg(regAX, regCX)
		fc.storeResultInt(inst, regAX)

	case *ir.InstICmp:
		fc.loadOperand(inst.X, regAX)
		fc.loadOperand(inst.Y, regCX)
		fc.a.CmpRegReg(regAX, regCX)
		fc.a.Setcc(iPredToCC(inst.Pred), regAX)
		fc.storeResultInt(inst, regAX)
	case *ir.InstFCmp:
		fc.loadFloatOperand(inst.X, xmm0)
		fc.loadFloatOperand(inst.Y, xmm1)
		if isFloat32(inst.X.Type()) {
			fc.a.UcomissRegReg(xmm0, xmm1)
		} else {
			fc.a.UcomisdRegReg(xmm0, xmm1)
		}
		fc.a.Setcc(fPredToCC(inst.Pred), regAX)
		fc.storeResultInt(inst, regAX)

	case *ir.InstFAdd:
		fc.compileFloatBinOp(inst.X, inst.Y, inst, fc.a.AddsdRegReg, fc.a.AddssRegReg)
	case *ir.InstFSub:
		fc.compileFloatBinOp(inst.X, inst.Y, inst, fc.a.SubsdRegReg, fc.a.SubssRegReg)
	case *ir.InstFMul:
		fc.compileFloatBinOp(inst.X, inst.Y, inst, fc.a.MulsdRegReg, fc.a.MulssRegReg)
	case *ir.InstFDiv:
		fc.compileFloatBinOp(inst.X, inst.Y, inst, fc.a.DivsdRegReg, fc.a.DivssRegReg)

	case *ir.InstCall:
		fc.compileCall(inst)
	}
}

func (fc *funcCompiler) compileFloatBinOp(x, y value.Value, inst value.Value, sd, ss func(dst, src int)) {
	fc.loadFloatOperand(x, xmm0)
	fc.loadFloatOperand(y, xmm1)
	if isFloat32(x.Type()) {
		ss(xmm0, xmm1)
	} else {
		sd(xmm0, xmm1)
	}
	fc.storeFloatResult(inst, xmm0)
}

// compileGEP restricts itself to the exact index shapes
// internal/irgen/builder.go's GEP/GEPIndex/GEPZeroIndex ever produce:
// a single dynamic index through a decayed element pointer, or a
// leading constant zero plus one further index (constant for struct
// field selection, dynamic for array element selection).
func (fc *funcCompiler) compileGEP(inst *ir.InstGetElementPtr) {
	fc.loadOperand(inst.Src, regAX)
	switch len(inst.Indices) {
	case 1:
		fc.addIndexOffset(regAX, inst.ElemType, inst.Indices[0])
	case 2:
		switch et := inst.ElemType.(type) {
		case *lltypes.StructType:
			if ci, ok := inst.Indices[1].(*constant.Int); ok {
				off := structFieldOffset(et, int(ci.X.Int64()), fc.word)
				if off != 0 {
					fc.a.LeaRegMem(regAX, regAX, int32(off))
				}
			}
		case *lltypes.ArrayType:
			fc.addIndexOffset(regAX, et.ElemType, inst.Indices[1])
		default:
			if ci, ok := inst.Indices[1].(*constant.Int); ok && ci.X.Int64() != 0 {
				fc.a.LeaRegMem(regAX, regAX, int32(ci.X.Int64()*int64(fc.word)))
			}
		}
	}
	fc.storeResultInt(inst, regAX)
}

func (fc *funcCompiler) addIndexOffset(reg int, elemType lltypes.Type, idx value.Value) {
	elemSize := llSize(elemType, fc.word)
	if ci, ok := idx.(*constant.Int); ok {
		off := ci.X.Int64() * int64(elemSize)
		if off != 0 {
			fc.a.LeaRegMem(reg, reg, int32(off))
		}
		return
	}
	fc.loadOperand(idx, regCX)
	fc.a.MovRegImm32(regDX, int32(elemSize))
	fc.a.ImulRegReg(regCX, regDX)
	fc.a.AddRegReg(reg, regCX)
}

func structFieldOffset(st *lltypes.StructType, idx int, word int) int {
	off := 0
	for j := 0; j < idx && j < len(st.Fields); j++ {
		off += llSize(st.Fields[j], word)
	}
	return off
}

func (fc *funcCompiler) compileTerm(term ir.Terminator) {
	switch t := term.(type) {
	case *ir.TermRet:
		if t.X != nil {
			if isFloatLLType(t.X.Type()) {
				fc.loadFloatOperand(t.X, xmm0)
			} else {
				fc.loadOperand(t.X, regAX)
			}
		}
		fc.emitEpilogue()
	case *ir.TermBr:
		fc.a.Jmp(t.Target.Ident(), &fc.fixups)
	case *ir.TermCondBr:
		fc.loadOperand(t.Cond, regAX)
		fc.a.XorRegReg(regCX, regCX)
		fc.a.CmpRegReg(regAX, regCX)
		fc.a.Jcc(ccNE, t.TargetTrue.Ident(), &fc.fixups)
		fc.a.Jmp(t.TargetFalse.Ident(), &fc.fixups)
	}
}

func (fc *funcCompiler) compileCall(inst *ir.InstCall) {
	fn, direct := inst.Callee.(*ir.Func)
	cc := enum.CallConvC
	name := ""
	if direct {
		cc = fn.CallConv
		name = fn.Name()
	}
	args := inst.Args

	if fc.word == 8 {
		fc.callX64(direct, name, inst.Callee, args)
	} else {
		switch cc {
		case enum.CallConvX86FastCall:
			fc.callFastCall(direct, name, inst.Callee, args)
		case enum.CallConvX86StdCall:
			fc.callCdeclOrStd(direct, name, inst.Callee, args, true)
		default:
			fc.callCdeclOrStd(direct, name, inst.Callee, args, false)
		}
	}

	if !isVoidLL(inst.Type()) {
		if isFloatLLType(inst.Type()) {
			fc.storeFloatResult(inst, xmm0)
		} else {
			fc.storeResultInt(inst, regAX)
		}
	}
}

func (fc *funcCompiler) dispatch(direct bool, name string, callee value.Value) {
	if direct {
		fc.a.CallRel32(name)
		return
	}
	fc.loadOperand(callee, regAX)
	fc.a.CallIndirectReg(regAX)
}

// callX64 marshals up to four integer/pointer arguments into
// rcx/rdx/r8/r9 and any remainder onto the stack, reserving the
// Microsoft x64 ABI's mandatory 32-byte shadow space on every call
// (§4.2's x86-64 target always uses this convention, whatever the
// source keyword named — the real ABI makes the same collapse).
func (fc *funcCompiler) callX64(direct bool, name string, callee value.Value, args []value.Value) {
	regs := [4]int{regCX, regDX, regR8, regR9}
	stackArgs := 0
	if len(args) > 4 {
		stackArgs = len(args) - 4
	}
	total := int32(32 + stackArgs*8)
	if total%16 != 0 {
		total += 16 - total%16
	}
	fc.a.SubRegImm32(regSP, total)
	for i := len(args) - 1; i >= 4; i-- {
		fc.loadOperand(args[i], regAX)
		fc.a.MovMemReg(regSP, int32(32+(i-4)*8), regAX)
	}
	for i := 0; i < len(args) && i < 4; i++ {
		fc.loadOperand(args[i], regs[i])
	}
	fc.dispatch(direct, name, callee)
	fc.a.AddRegImm32(regSP, total)
}

// callCdeclOrStd pushes every argument right-to-left; cdecl has the
// caller clean the stack back up afterward, stdcall leaves that to the
// callee's own `ret imm16` epilogue.
func (fc *funcCompiler) callCdeclOrStd(direct bool, name string, callee value.Value, args []value.Value, calleeCleans bool) {
	for i := len(args) - 1; i >= 0; i-- {
		fc.loadOperand(args[i], regAX)
		fc.a.Push(regAX)
	}
	fc.dispatch(direct, name, callee)
	if !calleeCleans && len(args) > 0 {
		fc.a.AddRegImm32(regSP, int32(len(args)*4))
	}
}

// callFastCall carries the first two arguments in ecx/edx and pushes
// any remainder; the callee's epilogue cleans the pushed portion.
func (fc *funcCompiler) callFastCall(direct bool, name string, callee value.Value, args []value.Value) {
	for i := len(args) - 1; i >= 2; i-- {
		fc.loadOperand(args[i], regAX)
		fc.a.Push(regAX)
	}
	if len(args) > 1 {
		fc.loadOperand(args[1], regDX)
	}
	if len(args) > 0 {
		fc.loadOperand(args[0], regCX)
	}
	fc.dispatch(direct, name, callee)
}

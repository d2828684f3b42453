// Package compiler implements the bytecode-emitting Backend and Emitter:
// a single-pass translation from the statement engine's calls straight into
// pkg/bytecode instructions, targeting pkg/vm's calling convention exactly
// (frame-relative parameters and locals addressed through the call stack's
// SPTOFP/FPTOSP/RTOA machinery, globals at fixed addresses known at compile
// time). There is no intermediate tree: by the time the engine reaches a
// statement, the compiler has already decided the addressing mode for every
// operand it touches and emits the corresponding instruction directly.
package compiler

import (
	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/bytecode"
	"github.com/bobbiw/eightball/pkg/engine"
	"github.com/bobbiw/eightball/pkg/symtab"
	"github.com/bobbiw/eightball/pkg/vm"
)

// slotKind distinguishes the three ways a variable's storage can be
// addressed in compiled code.
type slotKind int

const (
	// slotAbsolute is a global: a fixed address known at compile time.
	slotAbsolute slotKind = iota
	// slotRelative is a local variable or a scalar parameter: its address
	// is FP+offset, resolved fresh by the VM on every call.
	slotRelative
	// slotIndirect is an array parameter: the frame slot at FP+offset
	// holds a pointer (the caller's array's absolute base address), not
	// the array itself.
	slotIndirect
)

// slot is the concrete payload behind every symtab.Descriptor.Slot this
// backend creates.
type slot struct {
	kind   slotKind
	addr   uint16 // slotAbsolute
	offset int8   // slotRelative, slotIndirect
}

type subEntry struct {
	pc int
}

type callFixup struct {
	patchAt int
	name    string
}

// Compiler is a Backend and Emitter that writes directly into a flat
// instruction stream.
type Compiler struct {
	platform vm.Platform

	code []byte

	globalTop uint16 // next free address, counting down from platform.CallStackFloor
	localOff  int    // next free frame-relative offset inside the sub currently being compiled; 0 outside a sub

	subs   map[string]subEntry
	fixups []callFixup
}

// Option configures a Compiler at construction time.
type Option func(*Compiler)

// WithPlatform targets a memory layout other than vm.DefaultPlatform. The
// VM a compiled program runs on must be constructed with the same layout.
func WithPlatform(p vm.Platform) Option {
	return func(c *Compiler) { c.platform = p }
}

// New returns an empty Compiler ready to drive through an engine.Engine.
func New(opts ...Option) *Compiler {
	c := &Compiler{platform: vm.DefaultPlatform(), subs: map[string]subEntry{}}
	for _, opt := range opts {
		opt(c)
	}
	c.globalTop = uint16(c.platform.CallStackFloor)
	return c
}

// Code returns the finished instruction stream. Valid after Finish.
func (c *Compiler) Code() []byte { return c.code }

func (c *Compiler) Mode() engine.Mode { return engine.ModeCompile }

func elemWidth(kind symtab.Kind) int {
	if kind == symtab.Byte {
		return 1
	}
	return 2
}

// EmitConstant pushes a known 16-bit value; there is no stand-in tracking
// to do at compile time the way the interpreting backend needs, since the
// VM's own eval stack depth check at run time is what catches overflow.
func (c *Compiler) EmitConstant(word uint16) error {
	c.emitWordOp(bytecode.LDIMM, word)
	return nil
}

func ldAbsImm(width int) bytecode.Opcode {
	if width == 1 {
		return bytecode.LDABYTEIMM
	}
	return bytecode.LDAWORDIMM
}

func stAbsImm(width int) bytecode.Opcode {
	if width == 1 {
		return bytecode.STABYTEIMM
	}
	return bytecode.STAWORDIMM
}

func ldRelImm(width int) bytecode.Opcode {
	if width == 1 {
		return bytecode.LDRBYTEIMM
	}
	return bytecode.LDRWORDIMM
}

func stRelImm(width int) bytecode.Opcode {
	if width == 1 {
		return bytecode.STRBYTEIMM
	}
	return bytecode.STRWORDIMM
}

// --- raw emission helpers ---

func (c *Compiler) emit(op bytecode.Opcode) int {
	pos := len(c.code)
	c.code = append(c.code, byte(op))
	return pos
}

func (c *Compiler) emitWordOp(op bytecode.Opcode, w uint16) int {
	pos := len(c.code)
	c.code = append(c.code, byte(op), 0, 0)
	bytecode.PutWord(c.code, pos+1, w)
	return pos
}

func (c *Compiler) emitByteOp(op bytecode.Opcode, b int8) int {
	pos := len(c.code)
	c.code = append(c.code, byte(op), byte(b))
	return pos
}

// --- Declare / Alias ---

func (c *Compiler) Declare(kind symtab.Kind, isArray bool, size int, local bool) (any, error) {
	n := 1
	if isArray {
		n = size
	}
	total := n * elemWidth(kind)
	if local {
		return c.declareLocal(total)
	}
	return c.declareGlobal(total)
}

func (c *Compiler) declareGlobal(total int) (any, error) {
	if int(c.globalTop)-total <= len(c.code) {
		return nil, ebcerr.New(ebcerr.Stack, "out of global variable space")
	}
	c.globalTop -= uint16(total)
	return slot{kind: slotAbsolute, addr: c.globalTop}, nil
}

// declareLocal reserves total bytes on the call stack below the current
// frame pointer by pushing total zero bytes, and returns the offset of the
// first of them. The reservation doubles as zero-initialization: a local
// declared without an initializer starts at zero the same way a fresh
// global does.
func (c *Compiler) declareLocal(total int) (any, error) {
	for i := 0; i < total; i++ {
		c.emitWordOp(bytecode.LDIMM, 0)
		c.emit(bytecode.PSHBYTE)
	}
	c.localOff -= total
	if c.localOff < -128 {
		return nil, ebcerr.New(ebcerr.Complex, "too many local variables in one sub")
	}
	return slot{kind: slotRelative, offset: int8(c.localOff)}, nil
}

// Alias is never reached: evalCallExpr binds a compiled array argument by
// pushing its address and calling PushArg instead, since a compiled
// parameter holds a pointer value rather than sharing a compile-time slot.
func (c *Compiler) Alias(caller *symtab.Descriptor) (any, error) {
	return nil, ebcerr.New(ebcerr.BadType, "array aliasing is resolved at the call site in compile mode")
}

// --- address computation shared by Load/Store/Addr ---

// pushBase emits code leaving s's base address on the stack: the constant
// itself for a global, FP+offset via RTOA for a local or scalar parameter,
// or the pointer value already sitting at a by-reference parameter's frame
// slot.
func (c *Compiler) pushBase(s slot) {
	switch s.kind {
	case slotAbsolute:
		c.emitWordOp(bytecode.LDIMM, s.addr)
	case slotRelative:
		c.emitWordOp(bytecode.LDIMM, uint16(int16(s.offset)))
		c.emit(bytecode.RTOA)
	case slotIndirect:
		c.emitByteOp(bytecode.LDRWORDIMM, s.offset)
	}
}

func (c *Compiler) emitIndexCheck(desc *symtab.Descriptor) {
	c.emitWordOp(bytecode.CHKIDX, uint16(desc.Size))
}

// emitElementOffset consumes an index on top of the stack and a base slot,
// and leaves the element's absolute address on top.
func (c *Compiler) emitElementOffset(s slot, width int) {
	c.emitWordOp(bytecode.LDIMM, uint16(width))
	c.emit(bytecode.MUL)
	c.pushBase(s)
	c.emit(bytecode.ADD)
}

func (c *Compiler) slotOf(desc *symtab.Descriptor) (slot, error) {
	s, ok := desc.Slot.(slot)
	if !ok {
		return slot{}, ebcerr.New(ebcerr.BadType, desc.Key)
	}
	return s, nil
}

func (c *Compiler) EmitLoad(desc *symtab.Descriptor, indexed bool) error {
	s, err := c.slotOf(desc)
	if err != nil {
		return err
	}
	width := elemWidth(desc.KindOf)
	if !indexed {
		switch s.kind {
		case slotAbsolute:
			c.emitWordOp(ldAbsImm(width), s.addr)
		default:
			c.emitByteOp(ldRelImm(width), s.offset)
		}
		return nil
	}
	c.emitIndexCheck(desc)
	c.emitElementOffset(s, width)
	if width == 1 {
		c.emit(bytecode.LDABYTE)
	} else {
		c.emit(bytecode.LDAWORD)
	}
	return nil
}

func (c *Compiler) EmitStore(desc *symtab.Descriptor, indexed bool) error {
	s, err := c.slotOf(desc)
	if err != nil {
		return err
	}
	width := elemWidth(desc.KindOf)
	if !indexed {
		switch s.kind {
		case slotAbsolute:
			c.emitWordOp(stAbsImm(width), s.addr)
		default:
			c.emitByteOp(stRelImm(width), s.offset)
		}
		return nil
	}
	// The value was parsed and pushed after the index, so it sits on top;
	// bring the index to the top before computing an address with it.
	c.emit(bytecode.SWAP)
	c.emitIndexCheck(desc)
	c.emitElementOffset(s, width)
	if width == 1 {
		c.emit(bytecode.STABYTE)
	} else {
		c.emit(bytecode.STAWORD)
	}
	return nil
}

func (c *Compiler) EmitAddr(desc *symtab.Descriptor, indexed bool) error {
	s, err := c.slotOf(desc)
	if err != nil {
		return err
	}
	if !indexed {
		c.pushBase(s)
		return nil
	}
	c.emitIndexCheck(desc)
	c.emitElementOffset(s, elemWidth(desc.KindOf))
	return nil
}

func (c *Compiler) EmitPeek(word bool) error {
	if word {
		c.emit(bytecode.LDAWORD)
	} else {
		c.emit(bytecode.LDABYTE)
	}
	return nil
}

func (c *Compiler) EmitPoke(word bool) error {
	// Stack holds [value, address] (address was parsed first); STAWORD/
	// STABYTE want the address on top.
	c.emit(bytecode.SWAP)
	if word {
		c.emit(bytecode.STAWORD)
	} else {
		c.emit(bytecode.STABYTE)
	}
	return nil
}

// --- arithmetic ---

func (c *Compiler) EmitUnary(op engine.Op) error {
	switch op {
	case engine.OpNeg:
		c.emit(bytecode.NEG)
	case engine.OpNot:
		c.emit(bytecode.NOT)
	case engine.OpBitNot:
		c.emit(bytecode.BITNOT)
	default:
		return ebcerr.New(ebcerr.BadType, "unary")
	}
	return nil
}

// emitPow synthesizes base**exp entirely on the evaluation stack (no VM
// opcode for it, and no addressable scratch storage needed, which matters
// since an expression using ** may appear outside any sub where a frame
// pointer isn't meaningful). Entry stack: [exp, base]. Exit: [result].
func (c *Compiler) emitPow() error {
	c.emitWordOp(bytecode.LDIMM, 1) // [acc=1, exp, base]
	loopStart := c.Mark()
	c.emitByteOp(bytecode.PICK, 1) // copy exp -> [exp', acc, exp, base]
	mark, _ := c.EmitBranchFalse() // consumes exp'; false (exp==0) -> done
	c.emitByteOp(bytecode.PICK, 2) // copy base -> [base', acc, exp, base]
	c.emit(bytecode.MUL)           // acc*base -> [acc', exp, base]
	c.emit(bytecode.SWAP)          // [exp, acc', base]
	c.emit(bytecode.DEC)           // [exp-1, acc', base]
	c.emit(bytecode.SWAP)          // [acc', exp-1, base]
	if err := c.EmitJumpTo(loopStart); err != nil {
		return err
	}
	if err := c.PatchBranchHere(mark); err != nil {
		return err
	}
	// [acc, exp(==0), base] -> drop exp and base, leaving acc.
	c.emit(bytecode.SWAP)
	c.emit(bytecode.DROP)
	c.emit(bytecode.SWAP)
	c.emit(bytecode.DROP)
	return nil
}

func (c *Compiler) EmitBinary(op engine.Op) error {
	switch op {
	case engine.OpPow:
		return c.emitPow()
	case engine.OpMul:
		c.emit(bytecode.MUL)
	case engine.OpDiv:
		c.emit(bytecode.DIV)
	case engine.OpMod:
		c.emit(bytecode.MOD)
	case engine.OpAdd:
		c.emit(bytecode.ADD)
	case engine.OpSub:
		c.emit(bytecode.SUB)
	case engine.OpShl:
		c.emit(bytecode.LSH)
	case engine.OpShr:
		c.emit(bytecode.RSH)
	case engine.OpLt:
		c.emit(bytecode.LT)
	case engine.OpLte:
		c.emit(bytecode.LTE)
	case engine.OpGt:
		c.emit(bytecode.GT)
	case engine.OpGte:
		c.emit(bytecode.GTE)
	case engine.OpEq:
		c.emit(bytecode.EQL)
	case engine.OpNeq:
		c.emit(bytecode.NEQL)
	case engine.OpBitAnd:
		c.emit(bytecode.BITAND)
	case engine.OpBitXor:
		c.emit(bytecode.BITXOR)
	case engine.OpBitOr:
		c.emit(bytecode.BITOR)
	case engine.OpAnd:
		c.emit(bytecode.AND)
	case engine.OpOr:
		c.emit(bytecode.OR)
	default:
		return ebcerr.New(ebcerr.BadType, "binary")
	}
	return nil
}

func (c *Compiler) EmitDiscard() error {
	c.emit(bytecode.DROP)
	return nil
}

// --- print / read ---

func (c *Compiler) EmitPrintDec(signed bool) error {
	if !signed {
		c.emit(bytecode.PRDEC)
		return nil
	}
	// pr.dec.s: print '-' and negate only when the sign bit is set,
	// grounded on eightball.c's TOK_PRDEC_S emission.
	c.emit(bytecode.DUP)
	c.emitWordOp(bytecode.LDIMM, 0x8000)
	c.emit(bytecode.BITAND)
	mark, err := c.EmitBranchFalse()
	if err != nil {
		return err
	}
	c.emitWordOp(bytecode.LDIMM, uint16('-'))
	c.emit(bytecode.PRCH)
	c.emit(bytecode.NEG)
	if err := c.PatchBranchHere(mark); err != nil {
		return err
	}
	c.emit(bytecode.PRDEC)
	return nil
}

func (c *Compiler) EmitPrintHex() error {
	c.emit(bytecode.PRHEX)
	return nil
}

func (c *Compiler) EmitPrintChar() error {
	c.emit(bytecode.PRCH)
	return nil
}

func (c *Compiler) EmitPrintString() error {
	c.emit(bytecode.PRSTR)
	return nil
}

func (c *Compiler) EmitPrintMsg(s string) error {
	c.code = append(c.code, byte(bytecode.PRMSG))
	c.code = append(c.code, []byte(s)...)
	c.code = append(c.code, 0)
	return nil
}

func (c *Compiler) EmitReadChar() error {
	// KBDCH only pushes the character read; pair it with a store.
	c.emit(bytecode.KBDCH)
	c.emit(bytecode.SWAP)
	c.emit(bytecode.STABYTE)
	return nil
}

func (c *Compiler) EmitReadLine() error {
	// KBDLN reads to the next newline and bounds itself against the
	// memory image; the declared buffer length has no run-time opcode to
	// honor, so it is parsed (for the statement's own syntax) and dropped.
	c.emit(bytecode.DROP)
	c.emit(bytecode.KBDLN)
	return nil
}

func (c *Compiler) Result() (uint16, error) { return 0, nil }

func (c *Compiler) Finish() error {
	c.emit(bytecode.END)
	if len(c.code) > int(c.globalTop) {
		return ebcerr.New(ebcerr.Stack, "program too large for available memory")
	}
	return nil
}

// --- Emitter: control flow ---

func (c *Compiler) EmitBranchFalse() (int, error) {
	pos := len(c.code)
	c.emitWordOp(bytecode.BRNCH, 0)
	return pos, nil
}

func (c *Compiler) PatchBranchHere(mark int) error {
	bytecode.PutWord(c.code, mark+1, uint16(len(c.code)))
	return nil
}

func (c *Compiler) EmitJump() (int, error) {
	pos := len(c.code)
	c.emitWordOp(bytecode.JMP, 0)
	return pos, nil
}

func (c *Compiler) PatchJumpHere(mark int) error {
	bytecode.PutWord(c.code, mark+1, uint16(len(c.code)))
	return nil
}

func (c *Compiler) Mark() int { return len(c.code) }

func (c *Compiler) EmitJumpTo(mark int) error {
	c.emitWordOp(bytecode.JMP, uint16(mark))
	return nil
}

// EmitBranchTrueTo synthesizes "branch if true" from the VM's only
// conditional branch, BRNCH (branch if zero): NOT the condition first, so
// a true (nonzero) value becomes zero and triggers the branch.
func (c *Compiler) EmitBranchTrueTo(mark int) error {
	c.emit(bytecode.NOT)
	c.emitWordOp(bytecode.BRNCH, uint16(mark))
	return nil
}

// --- Emitter: subroutines ---

func (c *Compiler) EnterSub(sub *engine.Sub) error {
	c.subs[sub.Key] = subEntry{pc: len(c.code)}
	c.localOff = 0
	c.emit(bytecode.SPTOFP)
	return nil
}

// ExitSub emits the frame-exit sequence reached when control falls off the
// end of a sub's body without an explicit return; any return statement
// already compiled inside the body has its own FPTOSP/RTS via EmitReturn.
func (c *Compiler) ExitSub() error {
	c.emitWordOp(bytecode.LDIMM, 0)
	c.emit(bytecode.FPTOSP)
	c.emit(bytecode.RTS)
	c.localOff = 0
	return nil
}

// DeclareParams lays out parameters just above the saved frame pointer and
// return address (offsets +4 and up), in reverse declaration order: the
// caller pushes them left to right, so the last one pushed (closest to FP)
// is the first one declared here.
func (c *Compiler) DeclareParams(params []engine.Param) ([]any, error) {
	slots := make([]any, len(params))
	offset := 4
	for i := len(params) - 1; i >= 0; i-- {
		if offset > 127 {
			return nil, ebcerr.New(ebcerr.Complex, "too many parameters")
		}
		p := params[i]
		if p.IsArray {
			slots[i] = slot{kind: slotIndirect, offset: int8(offset)}
			offset += 2
			continue
		}
		slots[i] = slot{kind: slotRelative, offset: int8(offset)}
		offset += elemWidth(p.Kind)
	}
	return slots, nil
}

// EmitReturn assumes the return value is already on top of the operand
// stack; FPTOSP and RTS only touch the call stack and fp/pc, so the value
// rides through them untouched.
func (c *Compiler) EmitReturn() error {
	c.emit(bytecode.FPTOSP)
	c.emit(bytecode.RTS)
	return nil
}

func (c *Compiler) PushArg(kind symtab.Kind) error {
	if kind == symtab.Byte {
		c.emit(bytecode.PSHBYTE)
	} else {
		c.emit(bytecode.PSHWORD)
	}
	return nil
}

func (c *Compiler) CallSite(name string) error {
	pos := len(c.code)
	c.emitWordOp(bytecode.JSR, 0)
	c.fixups = append(c.fixups, callFixup{patchAt: pos + 1, name: name})
	return nil
}

// DiscardArgs drops the bytes the caller pushed for the call just made: the
// call stack has no direct "adjust pointer by N" opcode, so each argument
// word or byte is popped onto the eval stack and dropped there.
func (c *Compiler) DiscardArgs(byteCount int) error {
	for byteCount >= 2 {
		c.emit(bytecode.POPWORD)
		c.emit(bytecode.DROP)
		byteCount -= 2
	}
	for byteCount > 0 {
		c.emit(bytecode.POPBYTE)
		c.emit(bytecode.DROP)
		byteCount--
	}
	return nil
}

func (c *Compiler) Link() error {
	for _, fx := range c.fixups {
		sub, ok := c.subs[fx.name]
		if !ok {
			return ebcerr.New(ebcerr.Linkage, fx.name)
		}
		bytecode.PutWord(c.code, fx.patchAt, uint16(sub.pc))
	}
	return nil
}

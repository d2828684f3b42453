// Package interpret implements engine.Backend by executing a program
// directly, with no intermediate bytecode: every Emit* call performs its
// effect immediately against a host-owned operand stack and a flat
// byte-addressable memory image.
//
// Addresses are real uint16 offsets into that image so `&`, `*` and `^`
// behave identically whether a program is interpreted or compiled and run
// on pkg/vm; unlike the compiled VM, though, this backend never needs a
// fixed-size call stack of its own, since a subroutine call is plain Go
// recursion (pkg/engine's runInterpretBody) and Go's own stack already
// gives each call its own control-flow state. Variable storage still
// needs releasing on return, so the memory image is a simple bump
// allocator with stack discipline: PushFrame/PopFrame, called by the
// engine around every subroutine call, mark and restore the high-water
// mark the same way symtab.Table's MarkCallFrame/DeleteCallFrame release
// descriptors.
package interpret

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/engine"
	"github.com/bobbiw/eightball/pkg/symtab"
)

// MemSize is the size of the flat memory image. It matches the language's
// 16-bit address space (pkg/vm.DefaultPlatform uses the same ceiling for
// the same reason): every address this backend hands out must still fit
// the uint16 a compiled program's addresses are measured in.
const MemSize = 1 << 16

// Backend is an engine.Backend (and engine.FrameAllocator) that runs a
// program directly.
type Backend struct {
	mem        []byte
	top        int
	frameMarks []int

	stack []uint16

	out io.Writer
	in  *bufio.Reader
}

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithOutput sets the writer the print statements write to.
func WithOutput(w io.Writer) Option {
	return func(b *Backend) { b.out = w }
}

// WithInput sets the reader the keyboard statements read from.
func WithInput(r io.Reader) Option {
	return func(b *Backend) { b.in = bufio.NewReader(r) }
}

// New returns a Backend with a fresh, empty memory image.
func New(opts ...Option) *Backend {
	b := &Backend{
		mem: make([]byte, MemSize),
		out: os.Stdout,
		in:  bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Memory exposes the raw memory image, mainly for tests that want to
// inspect a variable's value by address without going through a program.
func (b *Backend) Memory() []byte { return b.mem }

func (b *Backend) Mode() engine.Mode { return engine.ModeInterpret }

// --- operand stack ---

func (b *Backend) push(v uint16) {
	b.stack = append(b.stack, v)
}

func (b *Backend) pop() (uint16, error) {
	if len(b.stack) == 0 {
		return 0, ebcerr.New(ebcerr.Stack, "evaluation stack underflow")
	}
	v := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return v, nil
}

// --- frame allocator (engine.FrameAllocator) ---

func (b *Backend) PushFrame() {
	b.frameMarks = append(b.frameMarks, b.top)
}

func (b *Backend) PopFrame() {
	n := len(b.frameMarks) - 1
	if n < 0 {
		return
	}
	b.top = b.frameMarks[n]
	b.frameMarks = b.frameMarks[:n]
}

// --- memory access ---

func elemSize(desc *symtab.Descriptor) int {
	if desc.KindOf == symtab.Byte {
		return 1
	}
	return 2
}

func addrOf(desc *symtab.Descriptor) (uint16, error) {
	a, ok := desc.Slot.(uint16)
	if !ok {
		return 0, ebcerr.New(ebcerr.BadType, desc.Key)
	}
	return a, nil
}

// checkIndex is this backend's choke point for array bounds, matching
// pkg/vm.checkIndex so an out-of-range index traps identically whether a
// program is interpreted or compiled (design note 9(b)).
func checkIndex(idx uint16, limit uint16) error {
	if int16(idx) < 0 || idx >= limit {
		return ebcerr.New(ebcerr.BadSubscr, "index out of range")
	}
	return nil
}

func (b *Backend) getWord(addr uint16) uint16 {
	return uint16(b.mem[addr]) | uint16(b.mem[addr+1])<<8
}

func (b *Backend) putWord(addr uint16, v uint16) {
	b.mem[addr] = byte(v)
	b.mem[addr+1] = byte(v >> 8)
}

func (b *Backend) elementAddr(desc *symtab.Descriptor, indexed bool) (uint16, error) {
	base, err := addrOf(desc)
	if err != nil {
		return 0, err
	}
	if !indexed {
		return base, nil
	}
	idx, err := b.pop()
	if err != nil {
		return 0, err
	}
	if err := checkIndex(idx, uint16(desc.Size)); err != nil {
		return 0, err
	}
	return base + idx*uint16(elemSize(desc)), nil
}

// --- Backend: constants, variables ---

func (b *Backend) EmitConstant(word uint16) error {
	b.push(word)
	return nil
}

func (b *Backend) EmitLoad(desc *symtab.Descriptor, indexed bool) error {
	addr, err := b.elementAddr(desc, indexed)
	if err != nil {
		return err
	}
	if desc.KindOf == symtab.Byte {
		b.push(uint16(b.mem[addr]))
		return nil
	}
	b.push(b.getWord(addr))
	return nil
}

func (b *Backend) EmitStore(desc *symtab.Descriptor, indexed bool) error {
	// The value is always on top of the stack (it was parsed and pushed
	// last); an index, if present, was pushed before it and sits
	// underneath.
	v, err := b.pop()
	if err != nil {
		return err
	}
	var addr uint16
	if indexed {
		base, err := addrOf(desc)
		if err != nil {
			return err
		}
		idx, err2 := b.pop()
		if err2 != nil {
			return err2
		}
		if err := checkIndex(idx, uint16(desc.Size)); err != nil {
			return err
		}
		addr = base + idx*uint16(elemSize(desc))
	} else {
		addr, err = addrOf(desc)
		if err != nil {
			return err
		}
	}
	if desc.KindOf == symtab.Byte {
		b.mem[addr] = byte(v)
		return nil
	}
	b.putWord(addr, v)
	return nil
}

func (b *Backend) EmitAddr(desc *symtab.Descriptor, indexed bool) error {
	addr, err := b.elementAddr(desc, indexed)
	if err != nil {
		return err
	}
	b.push(addr)
	return nil
}

func (b *Backend) EmitPeek(word bool) error {
	addr, err := b.pop()
	if err != nil {
		return err
	}
	if word {
		b.push(b.getWord(addr))
		return nil
	}
	b.push(uint16(b.mem[addr]))
	return nil
}

func (b *Backend) EmitPoke(word bool) error {
	v, err := b.pop()
	if err != nil {
		return err
	}
	addr, err := b.pop()
	if err != nil {
		return err
	}
	if word {
		b.putWord(addr, v)
		return nil
	}
	b.mem[addr] = byte(v)
	return nil
}

// --- Backend: operators ---

func (b *Backend) EmitUnary(op engine.Op) error {
	v, err := b.pop()
	if err != nil {
		return err
	}
	switch op {
	case engine.OpNeg:
		b.push(-v)
	case engine.OpNot:
		b.push(boolWord(v == 0))
	case engine.OpBitNot:
		b.push(^v)
	default:
		return ebcerr.New(ebcerr.Syntax, fmt.Sprintf("not a unary operator: %d", op))
	}
	return nil
}

func (b *Backend) EmitBinary(op engine.Op) error {
	rhs, err := b.pop()
	if err != nil {
		return err
	}
	lhs, err := b.pop()
	if err != nil {
		return err
	}
	switch op {
	case engine.OpPow:
		b.push(intPow(lhs, rhs))
	case engine.OpMul:
		b.push(lhs * rhs)
	case engine.OpDiv:
		if rhs == 0 {
			return ebcerr.New(ebcerr.DivZero, "")
		}
		b.push(lhs / rhs)
	case engine.OpMod:
		if rhs == 0 {
			return ebcerr.New(ebcerr.DivZero, "")
		}
		b.push(lhs % rhs)
	case engine.OpAdd:
		b.push(lhs + rhs)
	case engine.OpSub:
		b.push(lhs - rhs)
	case engine.OpShl:
		b.push(lhs << (rhs & 0xf))
	case engine.OpShr:
		b.push(lhs >> (rhs & 0xf))
	case engine.OpLt:
		b.push(boolWord(lhs < rhs))
	case engine.OpLte:
		b.push(boolWord(lhs <= rhs))
	case engine.OpGt:
		b.push(boolWord(lhs > rhs))
	case engine.OpGte:
		b.push(boolWord(lhs >= rhs))
	case engine.OpEq:
		b.push(boolWord(lhs == rhs))
	case engine.OpNeq:
		b.push(boolWord(lhs != rhs))
	case engine.OpBitAnd:
		b.push(lhs & rhs)
	case engine.OpBitXor:
		b.push(lhs ^ rhs)
	case engine.OpBitOr:
		b.push(lhs | rhs)
	case engine.OpAnd:
		b.push(boolWord(lhs != 0 && rhs != 0))
	case engine.OpOr:
		b.push(boolWord(lhs != 0 || rhs != 0))
	default:
		return ebcerr.New(ebcerr.Syntax, fmt.Sprintf("not a binary operator: %d", op))
	}
	return nil
}

func (b *Backend) EmitDiscard() error {
	_, err := b.pop()
	return err
}

func boolWord(v bool) uint16 {
	if v {
		return 1
	}
	return 0
}

// intPow computes lhs**rhs over uint16, the same wraparound-on-overflow
// semantics as every other arithmetic operator.
func intPow(lhs, rhs uint16) uint16 {
	var result uint16 = 1
	for i := uint16(0); i < rhs; i++ {
		result *= lhs
	}
	return result
}

// --- Backend: print/read ---

func (b *Backend) EmitPrintDec(signed bool) error {
	v, err := b.pop()
	if err != nil {
		return err
	}
	if signed && int16(v) < 0 {
		fmt.Fprint(b.out, "-")
		v = uint16(-int16(v))
	}
	fmt.Fprint(b.out, strconv.FormatUint(uint64(v), 10))
	return nil
}

func (b *Backend) EmitPrintHex() error {
	v, err := b.pop()
	if err != nil {
		return err
	}
	fmt.Fprintf(b.out, "$%04x", v)
	return nil
}

func (b *Backend) EmitPrintChar() error {
	v, err := b.pop()
	if err != nil {
		return err
	}
	fmt.Fprint(b.out, string(rune(byte(v))))
	return nil
}

// EmitPrintString pops an address and writes bytes from there up to (not
// including) the first zero byte, grounded on print()'s strlen-terminated
// C string convention.
func (b *Backend) EmitPrintString() error {
	addr, err := b.pop()
	if err != nil {
		return err
	}
	for i := int(addr); i < len(b.mem) && b.mem[i] != 0; i++ {
		fmt.Fprint(b.out, string(rune(b.mem[i])))
	}
	return nil
}

func (b *Backend) EmitPrintMsg(s string) error {
	fmt.Fprint(b.out, s)
	return nil
}

// EmitReadChar pops an address, reads one byte from input and stores it
// there unconverted (no line buffering), grounded on getln's raw
// single-byte read(0, ...) calls.
func (b *Backend) EmitReadChar() error {
	addr, err := b.pop()
	if err != nil {
		return err
	}
	c, err := b.in.ReadByte()
	if err != nil && err != io.EOF {
		return ebcerr.New(ebcerr.FileErr, err.Error())
	}
	b.mem[addr] = c
	return nil
}

// EmitReadLine pops a maximum length then an address, matching the
// operand order kbd.ln's two arguments leave on the stack, and fills the
// buffer from input up to that many bytes or a newline, grounded on
// getln's buflen-bounded, non-echoing read loop. The buffer is NUL
// terminated the way pr.str expects to find the end of a string.
func (b *Backend) EmitReadLine() error {
	length, err := b.pop()
	if err != nil {
		return err
	}
	addr, err := b.pop()
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	i := uint16(0)
	max := length - 1 // leave room for the terminator
	for i < max {
		c, err := b.in.ReadByte()
		if err != nil {
			break
		}
		if c == '\n' || c == '\r' {
			break
		}
		b.mem[addr+i] = c
		i++
	}
	b.mem[addr+i] = 0
	return nil
}

// --- Backend: declaration, result, finish ---

func (b *Backend) Declare(kind symtab.Kind, isArray bool, size int, local bool) (any, error) {
	n := 1
	if isArray {
		n = size
	}
	width := 2
	if kind == symtab.Byte {
		width = 1
	}
	need := n * width
	if b.top+need > len(b.mem) {
		return nil, ebcerr.New(ebcerr.Stack, "out of memory")
	}
	addr := uint16(b.top)
	b.top += need
	return addr, nil
}

func (b *Backend) Alias(caller *symtab.Descriptor) (any, error) {
	return addrOf(caller)
}

func (b *Backend) Result() (uint16, error) {
	return b.pop()
}

func (b *Backend) Finish() error {
	return nil
}

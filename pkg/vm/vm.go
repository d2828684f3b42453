// Package vm implements the EightBall bytecode virtual machine: a small
// stack machine with a fixed-depth evaluation stack and a call stack that
// lives inside the same byte-addressable memory image as the program.
//
// The fetch-decode-dispatch loop uses a 256-entry handler table indexed by
// opcode, the natural dispatch mechanism for a byte-sized instruction set.
package vm

import (
	"bufio"
	"io"
	"os"

	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/bytecode"
)

// EvalDepth is the fixed depth of the evaluation stack.
const EvalDepth = 16

// Platform carries the memory-layout constants that used to be a
// #ifdef A2E / C64 / VIC20 / __GNUC__ ladder in the original implementation.
// Generalizing them into a value means the compiler and the VM are always
// constructed from the same source of truth.
type Platform struct {
	MemSize        int
	PCStart        int
	CallStackTop   int // highest address; the call stack grows downward
	CallStackFloor int // lowest address the call stack may reach
}

// DefaultPlatform mirrors the original's __GNUC__/hosted build: a flat
// address space with no ROM/screen memory to avoid.
func DefaultPlatform() Platform {
	return Platform{
		MemSize:        64 * 1024,
		PCStart:        0,
		CallStackTop:   48*1024 - 1,
		CallStackFloor: 32 * 1024,
	}
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithPlatform overrides the default memory layout.
func WithPlatform(p Platform) Option {
	return func(vm *VM) { vm.platform = p }
}

// WithChecks turns eval-/call-stack over/underflow checks and the
// memory-range checks on loads and stores on or off. CHKIDX's array index
// trap does not depend on it. A production build may disable them for
// speed, at the cost of a Go index-out-of-range panic instead of a clean
// ebcerr.Error on bad input.
func WithChecks(enabled bool) Option {
	return func(vm *VM) { vm.checks = enabled }
}

// WithOutput sets the writer the five print opcodes write to.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithInput sets the reader the two keyboard opcodes read from.
func WithInput(r io.Reader) Option {
	return func(vm *VM) { vm.in = bufio.NewReader(r) }
}

// VM is one EightBall virtual machine instance.
type VM struct {
	mem  []byte
	eval [EvalDepth]uint16
	sp   int // number of valid entries in eval

	pc     int
	fp     int
	callSP int

	platform Platform
	checks   bool

	out io.Writer
	in  *bufio.Reader
}

// New constructs a VM. Checks are enabled by default; callers that want the
// original's unchecked, faster mode pass WithChecks(false).
func New(opts ...Option) *VM {
	vm := &VM{
		platform: DefaultPlatform(),
		checks:   true,
		out:      os.Stdout,
		in:       bufio.NewReader(os.Stdin),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.mem = make([]byte, vm.platform.MemSize)
	vm.Reset()
	return vm
}

// Reset clears registers and repositions the call stack at the platform's
// top address, without clearing the loaded program or variable storage.
func (vm *VM) Reset() {
	vm.sp = 0
	vm.pc = vm.platform.PCStart
	vm.fp = 0
	vm.callSP = vm.platform.CallStackTop
}

// Load copies code into the memory image at the platform's PC start and
// positions the program counter there.
func (vm *VM) Load(code []byte) error {
	if vm.platform.PCStart+len(code) > vm.platform.CallStackFloor {
		return newRuntimeError(vm.pc, ebcerr.Stack, "program too large for available memory")
	}
	copy(vm.mem[vm.platform.PCStart:], code)
	vm.pc = vm.platform.PCStart
	return nil
}

// Memory exposes the raw memory image, mainly so callers can seed global
// variable storage before Run and inspect it afterward.
func (vm *VM) Memory() []byte { return vm.mem }

// PC returns the current program counter, useful for diagnostics.
func (vm *VM) PC() int { return vm.pc }

var errHalt = newRuntimeError(0, ebcerr.Code("halt"), "")

// Run executes starting at the current PC until an END opcode, a runtime
// trap, or the program counter runs off the end of memory.
func (vm *VM) Run() error {
	for {
		if vm.pc < 0 || vm.pc >= len(vm.mem) {
			return newRuntimeError(vm.pc, ebcerr.Stack, "program counter ran off the end of memory")
		}
		op := bytecode.Opcode(vm.mem[vm.pc])
		h := dispatch[op]
		if h == nil {
			return newRuntimeError(vm.pc, ebcerr.Syntax, "illegal opcode")
		}
		if err := h(vm); err != nil {
			if err == errHalt {
				return nil
			}
			return err
		}
	}
}

// --- eval stack ---

func (vm *VM) push(v uint16) error {
	if vm.checks && vm.sp >= EvalDepth {
		return newRuntimeError(vm.pc, ebcerr.Stack, "evaluation stack overflow")
	}
	vm.eval[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (uint16, error) {
	if vm.checks && vm.sp <= 0 {
		return 0, newRuntimeError(vm.pc, ebcerr.Stack, "evaluation stack underflow")
	}
	vm.sp--
	return vm.eval[vm.sp], nil
}

func (vm *VM) peekAt(depthFromTop int) (uint16, error) {
	idx := vm.sp - 1 - depthFromTop
	if vm.checks && (idx < 0 || idx >= vm.sp) {
		return 0, newRuntimeError(vm.pc, ebcerr.Stack, "evaluation stack underflow")
	}
	return vm.eval[idx], nil
}

// --- call stack (lives in the same memory image, grows downward) ---

func (vm *VM) callPushWord(v uint16) error {
	if vm.checks && vm.callSP-2 < vm.platform.CallStackFloor {
		return newRuntimeError(vm.pc, ebcerr.Stack, "call stack overflow")
	}
	vm.callSP -= 2
	bytecode.PutWord(vm.mem, vm.callSP, v)
	return nil
}

func (vm *VM) callPopWord() (uint16, error) {
	if vm.checks && vm.callSP+2 > vm.platform.CallStackTop+1 {
		return 0, newRuntimeError(vm.pc, ebcerr.Stack, "call stack underflow")
	}
	v := bytecode.Word(vm.mem, vm.callSP)
	vm.callSP += 2
	return v, nil
}

func (vm *VM) callPushByte(v byte) error {
	if vm.checks && vm.callSP-1 < vm.platform.CallStackFloor {
		return newRuntimeError(vm.pc, ebcerr.Stack, "call stack overflow")
	}
	vm.callSP--
	vm.mem[vm.callSP] = v
	return nil
}

func (vm *VM) callPopByte() (byte, error) {
	if vm.checks && vm.callSP+1 > vm.platform.CallStackTop+1 {
		return 0, newRuntimeError(vm.pc, ebcerr.Stack, "call stack underflow")
	}
	v := vm.mem[vm.callSP]
	vm.callSP++
	return v, nil
}

// checkIndex is the choke point every CHKIDX passes through, resolving
// design note 9(b) for compiled code: a negative or out-of-range index
// traps here. Interpret mode never runs the VM; pkg/interpret applies the
// same test in its own checkIndex.
func checkIndex(idx uint16, limit uint16) error {
	if int16(idx) < 0 || idx >= limit {
		return ebcerr.New(ebcerr.BadSubscr, "index out of range")
	}
	return nil
}

type handler func(vm *VM) error

var dispatch [256]handler

func reg(op bytecode.Opcode, h handler) { dispatch[op] = h }

func init() {
	reg(bytecode.END, func(vm *VM) error { return errHalt })

	reg(bytecode.LDIMM, func(vm *VM) error {
		v := bytecode.Word(vm.mem, vm.pc+1)
		vm.pc += 3
		return vm.push(v)
	})

	reg(bytecode.LDAWORD, opLoadAbsStack(2))
	reg(bytecode.LDABYTE, opLoadAbsStack(1))
	reg(bytecode.STAWORD, opStoreAbsStack(2))
	reg(bytecode.STABYTE, opStoreAbsStack(1))

	reg(bytecode.LDAWORDIMM, opLoadAbsImm(2))
	reg(bytecode.LDABYTEIMM, opLoadAbsImm(1))
	reg(bytecode.STAWORDIMM, opStoreAbsImm(2))
	reg(bytecode.STABYTEIMM, opStoreAbsImm(1))

	reg(bytecode.LDRWORD, opLoadRelStack(2))
	reg(bytecode.LDRBYTE, opLoadRelStack(1))
	reg(bytecode.STRWORD, opStoreRelStack(2))
	reg(bytecode.STRBYTE, opStoreRelStack(1))

	reg(bytecode.LDRWORDIMM, opLoadRelImm(2))
	reg(bytecode.LDRBYTEIMM, opLoadRelImm(1))
	reg(bytecode.STRWORDIMM, opStoreRelImm(2))
	reg(bytecode.STRBYTEIMM, opStoreRelImm(1))

	reg(bytecode.SWAP, func(vm *VM) error {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		b, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		if err := vm.push(a); err != nil {
			return err
		}
		return vm.push(b)
	})
	reg(bytecode.DUP, func(vm *VM) error {
		a, err := vm.peekAt(0)
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(a)
	})
	reg(bytecode.DUP2, func(vm *VM) error {
		b, err := vm.peekAt(0)
		if err != nil {
			return err
		}
		a, err := vm.peekAt(1)
		if err != nil {
			return err
		}
		vm.pc++
		if err := vm.push(a); err != nil {
			return err
		}
		return vm.push(b)
	})
	reg(bytecode.DROP, func(vm *VM) error {
		if _, err := vm.pop(); err != nil {
			return err
		}
		vm.pc++
		return nil
	})
	reg(bytecode.OVER, func(vm *VM) error {
		a, err := vm.peekAt(1)
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(a)
	})
	reg(bytecode.PICK, func(vm *VM) error {
		depth := int(vm.mem[vm.pc+1])
		v, err := vm.peekAt(depth)
		if err != nil {
			return err
		}
		vm.pc += 2
		return vm.push(v)
	})

	reg(bytecode.POPWORD, func(vm *VM) error {
		v, err := vm.callPopWord()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(v)
	})
	reg(bytecode.POPBYTE, func(vm *VM) error {
		v, err := vm.callPopByte()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(uint16(v))
	})
	reg(bytecode.PSHWORD, func(vm *VM) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.callPushWord(v)
	})
	reg(bytecode.PSHBYTE, func(vm *VM) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.callPushByte(byte(v))
	})

	reg(bytecode.SPTOFP, func(vm *VM) error {
		if err := vm.callPushWord(uint16(vm.fp)); err != nil {
			return err
		}
		vm.fp = vm.callSP
		vm.pc++
		return nil
	})
	reg(bytecode.FPTOSP, func(vm *VM) error {
		vm.callSP = vm.fp
		savedFP, err := vm.callPopWord()
		if err != nil {
			return err
		}
		vm.fp = int(savedFP)
		vm.pc++
		return nil
	})
	reg(bytecode.RTOA, func(vm *VM) error {
		off, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(uint16(vm.fp + int(int16(off))))
	})
	reg(bytecode.ATOR, func(vm *VM) error {
		addr, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(uint16(int(addr) - vm.fp))
	})

	reg(bytecode.INC, unary(func(a uint16) uint16 { return a + 1 }))
	reg(bytecode.DEC, unary(func(a uint16) uint16 { return a - 1 }))
	reg(bytecode.NEG, unary(func(a uint16) uint16 { return uint16(-int16(a)) }))
	reg(bytecode.NOT, unary(func(a uint16) uint16 { return boolWord(a == 0) }))
	reg(bytecode.BITNOT, unary(func(a uint16) uint16 { return ^a }))

	reg(bytecode.ADD, binary(func(a, b uint16) (uint16, error) { return a + b, nil }))
	reg(bytecode.SUB, binary(func(a, b uint16) (uint16, error) { return a - b, nil }))
	reg(bytecode.MUL, binary(func(a, b uint16) (uint16, error) { return a * b, nil }))
	reg(bytecode.DIV, binary(func(a, b uint16) (uint16, error) {
		if b == 0 {
			return 0, ebcerr.New(ebcerr.DivZero, "")
		}
		return a / b, nil
	}))
	reg(bytecode.MOD, binary(func(a, b uint16) (uint16, error) {
		if b == 0 {
			return 0, ebcerr.New(ebcerr.DivZero, "")
		}
		return a % b, nil
	}))

	reg(bytecode.GT, binary(func(a, b uint16) (uint16, error) { return boolWord(a > b), nil }))
	reg(bytecode.GTE, binary(func(a, b uint16) (uint16, error) { return boolWord(a >= b), nil }))
	reg(bytecode.LT, binary(func(a, b uint16) (uint16, error) { return boolWord(a < b), nil }))
	reg(bytecode.LTE, binary(func(a, b uint16) (uint16, error) { return boolWord(a <= b), nil }))
	reg(bytecode.EQL, binary(func(a, b uint16) (uint16, error) { return boolWord(a == b), nil }))
	reg(bytecode.NEQL, binary(func(a, b uint16) (uint16, error) { return boolWord(a != b), nil }))

	reg(bytecode.AND, binary(func(a, b uint16) (uint16, error) { return boolWord(a != 0 && b != 0), nil }))
	reg(bytecode.OR, binary(func(a, b uint16) (uint16, error) { return boolWord(a != 0 || b != 0), nil }))

	reg(bytecode.BITAND, binary(func(a, b uint16) (uint16, error) { return a & b, nil }))
	reg(bytecode.BITOR, binary(func(a, b uint16) (uint16, error) { return a | b, nil }))
	reg(bytecode.BITXOR, binary(func(a, b uint16) (uint16, error) { return a ^ b, nil }))
	reg(bytecode.LSH, binary(func(a, b uint16) (uint16, error) { return a << (b & 0xF), nil }))
	reg(bytecode.RSH, binary(func(a, b uint16) (uint16, error) { return a >> (b & 0xF), nil }))

	reg(bytecode.JMP, func(vm *VM) error {
		vm.pc = int(bytecode.Word(vm.mem, vm.pc+1))
		return nil
	})
	reg(bytecode.BRNCH, func(vm *VM) error {
		cond, err := vm.pop()
		if err != nil {
			return err
		}
		target := int(bytecode.Word(vm.mem, vm.pc+1))
		if cond == 0 {
			vm.pc = target
		} else {
			vm.pc += 3
		}
		return nil
	})
	reg(bytecode.JSR, func(vm *VM) error {
		target := int(bytecode.Word(vm.mem, vm.pc+1))
		if err := vm.callPushWord(uint16(vm.pc + 3)); err != nil {
			return err
		}
		vm.pc = target
		return nil
	})
	reg(bytecode.RTS, func(vm *VM) error {
		ret, err := vm.callPopWord()
		if err != nil {
			return err
		}
		vm.pc = int(ret)
		return nil
	})

	reg(bytecode.PRDEC, func(vm *VM) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		_, werr := io.WriteString(vm.out, itoa(v))
		return werr
	})
	reg(bytecode.PRHEX, func(vm *VM) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		_, werr := io.WriteString(vm.out, hexWord(v))
		return werr
	})
	reg(bytecode.PRCH, func(vm *VM) error {
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		_, werr := vm.out.Write([]byte{byte(v)})
		return werr
	})
	reg(bytecode.PRSTR, func(vm *VM) error {
		addr, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		end := int(addr)
		for end < len(vm.mem) && vm.mem[end] != 0 {
			end++
		}
		_, werr := vm.out.Write(vm.mem[addr:end])
		return werr
	})
	reg(bytecode.PRMSG, func(vm *VM) error {
		start := vm.pc + 1
		end := start
		for end < len(vm.mem) && vm.mem[end] != 0 {
			end++
		}
		if end >= len(vm.mem) {
			return newRuntimeError(vm.pc, ebcerr.BadStr, "unterminated inline message")
		}
		if _, err := vm.out.Write(vm.mem[start:end]); err != nil {
			return err
		}
		vm.pc = end + 1
		return nil
	})

	reg(bytecode.KBDCH, func(vm *VM) error {
		b, err := vm.in.ReadByte()
		vm.pc++
		if err != nil {
			return vm.push(0)
		}
		return vm.push(uint16(b))
	})
	reg(bytecode.KBDLN, func(vm *VM) error {
		addr, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		line, _ := vm.in.ReadString('\n')
		line = trimNewline(line)
		if int(addr)+len(line)+1 > len(vm.mem) {
			return newRuntimeError(vm.pc, ebcerr.BadStr, "keyboard line buffer overflow")
		}
		copy(vm.mem[addr:], line)
		vm.mem[int(addr)+len(line)] = 0
		return nil
	})

	reg(bytecode.CHKIDX, func(vm *VM) error {
		idx, err := vm.pop()
		if err != nil {
			return err
		}
		limit := bytecode.Word(vm.mem, vm.pc+1)
		if cErr := checkIndex(idx, limit); cErr != nil {
			ee := cErr.(*ebcerr.Error)
			return newRuntimeError(vm.pc, ee.Code, ee.Detail)
		}
		vm.pc += 3
		return vm.push(idx)
	})
}

// opLoadAbsStack and its siblings implement the plain (non-IMM) addressing
// forms: the address or offset is popped from the evaluation stack rather
// than embedded as an operand, the form the compiler uses for array
// elements and explicit pointer dereference where the address is only
// known at run time.

func opLoadAbsStack(width int) handler {
	return func(vm *VM) error {
		addr, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return loadMem(vm, int(addr), width)
	}
}

func opStoreAbsStack(width int) handler {
	return func(vm *VM) error {
		addr, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return storeMem(vm, int(addr), width)
	}
}

func opLoadRelStack(width int) handler {
	return func(vm *VM) error {
		off, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return loadMem(vm, vm.fp+int(int16(off)), width)
	}
}

func opStoreRelStack(width int) handler {
	return func(vm *VM) error {
		off, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return storeMem(vm, vm.fp+int(int16(off)), width)
	}
}

// opLoadAbsImm and its siblings implement the IMM addressing forms: the
// address (or frame-relative byte offset) is an inline operand known at
// compile time, the form the compiler uses for plain scalar variables.

func opLoadAbsImm(width int) handler {
	return func(vm *VM) error {
		addr := int(bytecode.Word(vm.mem, vm.pc+1))
		vm.pc += 3
		return loadMem(vm, addr, width)
	}
}

func opStoreAbsImm(width int) handler {
	return func(vm *VM) error {
		addr := int(bytecode.Word(vm.mem, vm.pc+1))
		vm.pc += 3
		return storeMem(vm, addr, width)
	}
}

func opLoadRelImm(width int) handler {
	return func(vm *VM) error {
		off := int(int8(vm.mem[vm.pc+1]))
		vm.pc += 2
		return loadMem(vm, vm.fp+off, width)
	}
}

func opStoreRelImm(width int) handler {
	return func(vm *VM) error {
		off := int(int8(vm.mem[vm.pc+1]))
		vm.pc += 2
		return storeMem(vm, vm.fp+off, width)
	}
}

func loadMem(vm *VM, addr, width int) error {
	if vm.checks && (addr < 0 || addr+width > len(vm.mem)) {
		return newRuntimeError(vm.pc, ebcerr.Stack, "memory access out of range")
	}
	if width == 1 {
		return vm.push(uint16(vm.mem[addr]))
	}
	return vm.push(bytecode.Word(vm.mem, addr))
}

func storeMem(vm *VM, addr, width int) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	if vm.checks && (addr < 0 || addr+width > len(vm.mem)) {
		return newRuntimeError(vm.pc, ebcerr.Stack, "memory access out of range")
	}
	if width == 1 {
		vm.mem[addr] = byte(v)
	} else {
		bytecode.PutWord(vm.mem, addr, v)
	}
	return nil
}

func unary(f func(uint16) uint16) handler {
	return func(vm *VM) error {
		a, err := vm.pop()
		if err != nil {
			return err
		}
		vm.pc++
		return vm.push(f(a))
	}
}

func binary(f func(a, b uint16) (uint16, error)) handler {
	return func(vm *VM) error {
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		v, ferr := f(a, b)
		if ferr != nil {
			if ee, ok := ferr.(*ebcerr.Error); ok {
				return newRuntimeError(vm.pc, ee.Code, ee.Detail)
			}
			return ferr
		}
		vm.pc++
		return vm.push(v)
	}
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func hexWord(v uint16) string {
	const digits = "0123456789abcdef"
	return string([]byte{
		'$',
		digits[(v>>12)&0xF],
		digits[(v>>8)&0xF],
		digits[(v>>4)&0xF],
		digits[v&0xF],
	})
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		n--
	}
	if n > 0 && s[n-1] == '\r' {
		n--
	}
	return s[:n]
}

// Flat, headerless file format and disassembler.
//
// Unlike a versioned, checksummed container format, an EightBall .ebc file
// is exactly the bytes the VM loads at its program counter start address:
// no magic number, no length-prefixed sections, nothing but opcodes and
// their little-endian operands back to back. A compiled program and an
// in-memory VM image are the same bytes.
package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encode writes code's raw bytes to w. It exists only for symmetry with
// Decode and so callers don't need to know the format has no framing.
func Encode(code []byte, w io.Writer) error {
	_, err := w.Write(code)
	return err
}

// Decode reads every remaining byte from r as a flat instruction stream.
func Decode(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// PutWord writes v little-endian into buf at off.
func PutWord(buf []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:], v)
}

// Word reads a little-endian word from buf at off.
func Word(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off:])
}

// Disassemble renders code as a sequence of "addr: MNEMONIC operand" lines,
// mirroring the `disass.c` style of the original tool.
func Disassemble(code []byte) (string, error) {
	var out bytes.Buffer
	pc := 0
	for pc < len(code) {
		op := Opcode(code[pc])
		switch Operand(op) {
		case NoOperand:
			fmt.Fprintf(&out, "%5d: %s\n", pc, op)
			pc++
		case ByteOperand:
			if pc+1 >= len(code) {
				return out.String(), fmt.Errorf("truncated operand for %s at %d", op, pc)
			}
			fmt.Fprintf(&out, "%5d: %s %d\n", pc, op, int8(code[pc+1]))
			pc += 2
		case WordOperand:
			if pc+2 >= len(code) {
				return out.String(), fmt.Errorf("truncated operand for %s at %d", op, pc)
			}
			fmt.Fprintf(&out, "%5d: %s %d\n", pc, op, Word(code, pc+1))
			pc += 3
		case InlineCString:
			start := pc + 1
			end := start
			for end < len(code) && code[end] != 0 {
				end++
			}
			if end >= len(code) {
				return out.String(), fmt.Errorf("unterminated string operand for %s at %d", op, pc)
			}
			fmt.Fprintf(&out, "%5d: %s %q\n", pc, op, string(code[start:end]))
			pc = end + 1
		default:
			return out.String(), fmt.Errorf("unknown opcode 0x%02X at %d", op, pc)
		}
	}
	return out.String(), nil
}

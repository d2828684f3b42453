package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assembleSample() []byte {
	var buf []byte
	emit := func(op Opcode) { buf = append(buf, byte(op)) }
	emitWord := func(op Opcode, w uint16) {
		buf = append(buf, byte(op), 0, 0)
		PutWord(buf, len(buf)-2, w)
	}
	emitWord(LDIMM, 10)
	emitWord(LDIMM, 20)
	emit(ADD)
	emit(PRDEC)
	emit(END)
	return buf
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	code := assembleSample()

	var buf bytes.Buffer
	require.NoError(t, Encode(code, &buf))
	assert.Equal(t, len(code), buf.Len(), "flat format has no header or framing overhead")

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, code, decoded)
}

func TestPutWordAndWordRoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	PutWord(buf, 0, 0xBEEF)
	PutWord(buf, 2, 1)
	assert.Equal(t, uint16(0xBEEF), Word(buf, 0))
	assert.Equal(t, uint16(1), Word(buf, 2))
	assert.Equal(t, []byte{0xEF, 0xBE, 1, 0}, buf)
}

func TestDisassembleSample(t *testing.T) {
	code := assembleSample()
	out, err := Disassemble(code)
	require.NoError(t, err)
	assert.Contains(t, out, "LDI 10")
	assert.Contains(t, out, "LDI 20")
	assert.Contains(t, out, "ADD")
	assert.Contains(t, out, "PRDEC")
	assert.Contains(t, out, "END")
}

func TestDisassemblePrmsgInlineString(t *testing.T) {
	code := append([]byte{byte(PRMSG)}, append([]byte("hi"), 0)...)
	code = append(code, byte(END))

	out, err := Disassemble(code)
	require.NoError(t, err)
	assert.Contains(t, out, `PRMSG "hi"`)
}

func TestDisassembleByteOperand(t *testing.T) {
	code := []byte{byte(LDRWORDIMM), 0xFE} // -2 as int8
	out, err := Disassemble(code)
	require.NoError(t, err)
	assert.Contains(t, out, "LDRWI -2")
}

func TestDisassembleTruncatedOperandErrors(t *testing.T) {
	code := []byte{byte(LDIMM), 1} // word operand needs 2 bytes, only 1 given
	_, err := Disassemble(code)
	assert.Error(t, err)
}

func TestOperandShapes(t *testing.T) {
	assert.Equal(t, WordOperand, Operand(JMP))
	assert.Equal(t, ByteOperand, Operand(PICK))
	assert.Equal(t, NoOperand, Operand(ADD))
	assert.Equal(t, InlineCString, Operand(PRMSG))
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "ADD", ADD.String())
	assert.Equal(t, "JSR", JSR.String())
	assert.Contains(t, Opcode(250).String(), "OP(")
}

package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/bytecode"
)

func assemble(parts ...any) []byte {
	var buf []byte
	for _, p := range parts {
		switch v := p.(type) {
		case bytecode.Opcode:
			buf = append(buf, byte(v))
		case uint16:
			b := make([]byte, 2)
			bytecode.PutWord(b, 0, v)
			buf = append(buf, b...)
		case byte:
			buf = append(buf, v)
		case string:
			buf = append(buf, append([]byte(v), 0)...)
		default:
			panic("unsupported assemble part")
		}
	}
	return buf
}

func runCode(t *testing.T, code []byte, opts ...Option) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out)}, opts...)
	m := New(opts...)
	require.NoError(t, m.Load(code))
	require.NoError(t, m.Run())
	return m, &out
}

func TestArithmeticAndPrint(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(10), bytecode.LDIMM, uint16(32), bytecode.ADD, bytecode.PRDEC, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "42", out.String())
}

func TestDivByZeroTraps(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(1), bytecode.LDIMM, uint16(0), bytecode.DIV, bytecode.END)
	m := New()
	require.NoError(t, m.Load(code))
	err := m.Run()
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ebcerr.DivZero, rerr.Err.Code)
}

func TestModByZeroTraps(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(7), bytecode.LDIMM, uint16(0), bytecode.MOD, bytecode.END)
	m := New()
	require.NoError(t, m.Load(code))
	err := m.Run()
	require.Error(t, err)
}

func TestComparisonsAreUnsigned(t *testing.T) {
	// 0 - 1 wraps to 0xFFFF, which is "greater than" 1 under unsigned LT.
	code := assemble(bytecode.LDIMM, uint16(0), bytecode.LDIMM, uint16(1), bytecode.SUB,
		bytecode.LDIMM, uint16(1), bytecode.LT, bytecode.PRDEC, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "0", out.String(), "0xFFFF is not less than 1 under unsigned comparison")
}

func TestStackManipulation(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(1), bytecode.LDIMM, uint16(2), bytecode.SWAP,
		bytecode.PRDEC, bytecode.PRDEC, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "12", out.String())
}

func TestDupAndAdd(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(5), bytecode.DUP, bytecode.ADD, bytecode.PRDEC, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "10", out.String())
}

func TestEvalStackOverflow(t *testing.T) {
	var code []byte
	for i := 0; i < EvalDepth+1; i++ {
		code = append(code, assemble(bytecode.LDIMM, uint16(1))...)
	}
	code = append(code, byte(bytecode.END))

	m := New()
	require.NoError(t, m.Load(code))
	err := m.Run()
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ebcerr.Stack, rerr.Err.Code)
}

func TestAbsoluteLoadStoreImm(t *testing.T) {
	code := assemble(
		bytecode.LDIMM, uint16(99), bytecode.STAWORDIMM, uint16(100),
		bytecode.LDAWORDIMM, uint16(100), bytecode.PRDEC, bytecode.END,
	)
	_, out := runCode(t, code)
	assert.Equal(t, "99", out.String())
}

func TestAbsoluteLoadStoreStack(t *testing.T) {
	// push value, push address, STAWORD; push address, LDAWORD, print.
	code := assemble(
		bytecode.LDIMM, uint16(7), bytecode.LDIMM, uint16(200), bytecode.STAWORD,
		bytecode.LDIMM, uint16(200), bytecode.LDAWORD, bytecode.PRDEC, bytecode.END,
	)
	_, out := runCode(t, code)
	assert.Equal(t, "7", out.String())
}

func TestATORAndRTOARoundTrip(t *testing.T) {
	// JSR sub; END
	// sub (at 4): SPTOFP; LDIMM 0xFFFE(-2); RTOA; ATOR; PRHEX; FPTOSP; RTS
	subAddr := 4
	sub := assemble(
		bytecode.SPTOFP,
		bytecode.LDIMM, uint16(0xFFFE), // -2
		bytecode.RTOA,
		bytecode.ATOR,
		bytecode.PRHEX,
		bytecode.FPTOSP,
		bytecode.RTS,
	)
	code := assemble(bytecode.JSR, uint16(subAddr), bytecode.END)
	code = append(code, sub...)

	_, out := runCode(t, code)
	assert.Equal(t, "$fffe", out.String())
}

func TestSubroutineCallAndReturn(t *testing.T) {
	// main: JSR sub; END
	// sub (at 4): LDIMM 7; PRDEC; RTS
	mainLen := 4
	sub := assemble(bytecode.LDIMM, uint16(7), bytecode.PRDEC, bytecode.RTS)
	code := assemble(bytecode.JSR, uint16(mainLen), bytecode.END)
	code = append(code, sub...)

	_, out := runCode(t, code)
	assert.Equal(t, "7", out.String())
}

func TestFrameLocalsViaRelativeAddressingImm(t *testing.T) {
	// JSR sub; END
	// sub (at 4): SPTOFP; LDIMM 42; STRWORDIMM -2; LDRWORDIMM -2; PRDEC; FPTOSP; RTS
	subAddr := 4
	sub := assemble(
		bytecode.SPTOFP,
		bytecode.LDIMM, uint16(42), bytecode.STRWORDIMM, byte(0xFE), // -2
		bytecode.LDRWORDIMM, byte(0xFE),
		bytecode.PRDEC,
		bytecode.FPTOSP,
		bytecode.RTS,
	)
	code := assemble(bytecode.JSR, uint16(subAddr), bytecode.END)
	code = append(code, sub...)

	_, out := runCode(t, code)
	assert.Equal(t, "42", out.String())
}

func TestFrameLocalsViaRelativeAddressingStack(t *testing.T) {
	// Same as above but the offset comes off the eval stack (array addressing path).
	subAddr := 4
	sub := assemble(
		bytecode.SPTOFP,
		bytecode.LDIMM, uint16(42), bytecode.LDIMM, uint16(0xFFFE), bytecode.STRWORD, // -2
		bytecode.LDIMM, uint16(0xFFFE), bytecode.LDRWORD,
		bytecode.PRDEC,
		bytecode.FPTOSP,
		bytecode.RTS,
	)
	code := assemble(bytecode.JSR, uint16(subAddr), bytecode.END)
	code = append(code, sub...)

	_, out := runCode(t, code)
	assert.Equal(t, "42", out.String())
}

func TestCheckIndexTrapsNegative(t *testing.T) {
	// index -1 as uint16 is 0xFFFF
	code := assemble(bytecode.LDIMM, uint16(0xFFFF), bytecode.CHKIDX, uint16(10), bytecode.END)
	m := New()
	require.NoError(t, m.Load(code))
	err := m.Run()
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ebcerr.BadSubscr, rerr.Err.Code)
}

func TestCheckIndexTrapsOutOfRange(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(10), bytecode.CHKIDX, uint16(10), bytecode.END)
	m := New()
	require.NoError(t, m.Load(code))
	err := m.Run()
	require.Error(t, err)
}

func TestCheckIndexAllowsInRange(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(9), bytecode.CHKIDX, uint16(10), bytecode.PRDEC, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "9", out.String())
}

func TestPrintMessageInline(t *testing.T) {
	code := assemble(bytecode.PRMSG, "hello", bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "hello", out.String())
}

func TestPrintStringFromMemory(t *testing.T) {
	// layout: JMP(3 bytes) "hi\0"(3 bytes, at address 3) LDIMM 3(3 bytes) PRSTR END
	code := assemble(bytecode.JMP, uint16(6), "hi", bytecode.LDIMM, uint16(3), bytecode.PRSTR, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "hi", out.String())
}

func TestBitwiseOperators(t *testing.T) {
	code := assemble(bytecode.LDIMM, uint16(0xF0), bytecode.LDIMM, uint16(0x0F), bytecode.BITOR, bytecode.PRHEX, bytecode.END)
	_, out := runCode(t, code)
	assert.Equal(t, "$00ff", out.String())
}

func TestWithChecksFalseTurnsChecksOff(t *testing.T) {
	m := New(WithChecks(false))
	assert.False(t, m.checks)
}

func TestWithInput(t *testing.T) {
	code := assemble(bytecode.KBDCH, bytecode.PRCH, bytecode.END)
	var out bytes.Buffer
	m := New(WithOutput(&out), WithInput(strings.NewReader("Q")))
	require.NoError(t, m.Load(code))
	require.NoError(t, m.Run())
	assert.Equal(t, "Q", out.String())
}

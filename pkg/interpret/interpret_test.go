package interpret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbiw/eightball/pkg/engine"
	"github.com/bobbiw/eightball/pkg/interpret"
	"github.com/bobbiw/eightball/pkg/symtab"
)

func TestConstantAndResult(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(42))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)
}

func TestResultOnEmptyStackErrors(t *testing.T) {
	b := interpret.New()
	_, err := b.Result()
	assert.Error(t, err)
}

func TestWordStoreAndLoad(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Word, false, 0, false)
	require.NoError(t, err)
	desc := &symtab.Descriptor{Key: "x", KindOf: symtab.Word, Slot: slot}

	require.NoError(t, b.EmitConstant(1234))
	require.NoError(t, b.EmitStore(desc, false))
	require.NoError(t, b.EmitLoad(desc, false))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), v)
}

func TestByteStoreTruncates(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Byte, false, 0, false)
	require.NoError(t, err)
	desc := &symtab.Descriptor{Key: "c", KindOf: symtab.Byte, Slot: slot}

	require.NoError(t, b.EmitConstant(0x1FF))
	require.NoError(t, b.EmitStore(desc, false))
	require.NoError(t, b.EmitLoad(desc, false))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFF), v)
}

func TestArrayIndexedStoreAndLoad(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Word, true, 4, false)
	require.NoError(t, err)
	desc := &symtab.Descriptor{Key: "a", KindOf: symtab.Word, IsArray: true, Size: 4, Slot: slot}

	for i := uint16(0); i < 4; i++ {
		require.NoError(t, b.EmitConstant(i))
		require.NoError(t, b.EmitConstant(i*10))
		require.NoError(t, b.EmitStore(desc, true))
	}
	for i := uint16(0); i < 4; i++ {
		require.NoError(t, b.EmitConstant(i))
		require.NoError(t, b.EmitLoad(desc, true))
		v, err := b.Result()
		require.NoError(t, err)
		assert.Equal(t, i*10, v)
	}
}

func TestArrayOutOfBoundsErrors(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Word, true, 2, false)
	require.NoError(t, err)
	desc := &symtab.Descriptor{Key: "a", KindOf: symtab.Word, IsArray: true, Size: 2, Slot: slot}

	require.NoError(t, b.EmitConstant(5))
	assert.Error(t, b.EmitLoad(desc, true))
	_, err = b.Result()
	assert.Error(t, err, "a trapped load pushes nothing")
}

func TestAddrPeekPoke(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Word, false, 0, false)
	require.NoError(t, err)
	desc := &symtab.Descriptor{Key: "x", KindOf: symtab.Word, Slot: slot}
	require.NoError(t, b.EmitConstant(7))
	require.NoError(t, b.EmitStore(desc, false))

	require.NoError(t, b.EmitAddr(desc, false))
	addr, err := b.Result()
	require.NoError(t, err)

	require.NoError(t, b.EmitConstant(addr))
	require.NoError(t, b.EmitPeek(true))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(7), v)

	require.NoError(t, b.EmitConstant(addr))
	require.NoError(t, b.EmitConstant(99))
	require.NoError(t, b.EmitPoke(true))
	require.NoError(t, b.EmitLoad(desc, false))
	v, err = b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(99), v)
}

func TestBinaryArithmeticWraps(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(0xFFFF))
	require.NoError(t, b.EmitConstant(2))
	require.NoError(t, b.EmitBinary(engine.OpAdd))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)
}

func TestDivByZero(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(10))
	require.NoError(t, b.EmitConstant(0))
	assert.Error(t, b.EmitBinary(engine.OpDiv))
}

func TestModByZero(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(10))
	require.NoError(t, b.EmitConstant(0))
	assert.Error(t, b.EmitBinary(engine.OpMod))
}

func TestComparisonOperators(t *testing.T) {
	cases := []struct {
		op       engine.Op
		lhs, rhs uint16
		want     uint16
	}{
		{engine.OpLt, 1, 2, 1},
		{engine.OpLt, 2, 1, 0},
		{engine.OpGte, 3, 3, 1},
		{engine.OpEq, 3, 4, 0},
		{engine.OpNeq, 3, 4, 1},
	}
	for _, tc := range cases {
		b := interpret.New()
		require.NoError(t, b.EmitConstant(tc.lhs))
		require.NoError(t, b.EmitConstant(tc.rhs))
		require.NoError(t, b.EmitBinary(tc.op))
		v, err := b.Result()
		require.NoError(t, err)
		assert.Equal(t, tc.want, v)
	}
}

func TestUnaryNeg(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(1))
	require.NoError(t, b.EmitUnary(engine.OpNeg))
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), v)
}

func TestDiscard(t *testing.T) {
	b := interpret.New()
	require.NoError(t, b.EmitConstant(1))
	require.NoError(t, b.EmitConstant(2))
	require.NoError(t, b.EmitDiscard())
	v, err := b.Result()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v)
}

func TestFrameAllocatorReleasesMemory(t *testing.T) {
	b := interpret.New()
	b.PushFrame()
	slot, err := b.Declare(symtab.Word, false, 0, true)
	require.NoError(t, err)
	addr1 := slot.(uint16)
	b.PopFrame()

	b.PushFrame()
	slot, err = b.Declare(symtab.Word, false, 0, true)
	require.NoError(t, err)
	addr2 := slot.(uint16)
	b.PopFrame()

	assert.Equal(t, addr1, addr2)
}

func TestAliasSharesAddress(t *testing.T) {
	b := interpret.New()
	slot, err := b.Declare(symtab.Word, true, 2, false)
	require.NoError(t, err)
	caller := &symtab.Descriptor{Key: "a", KindOf: symtab.Word, IsArray: true, Size: 2, Slot: slot}
	aliasSlot, err := b.Alias(caller)
	require.NoError(t, err)
	assert.Equal(t, caller.Slot, aliasSlot)
}

package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndFind(t *testing.T) {
	tab := New()

	_, err := tab.Create(0, "coun", Word, false, 0, uint16(0))
	require.NoError(t, err)

	d, ok := tab.Find("coun")
	require.True(t, ok)
	assert.Equal(t, Word, d.KindOf)
	assert.Equal(t, uint16(0), d.Slot)
}

func TestCreateRedefinitionError(t *testing.T) {
	tab := New()
	_, err := tab.Create(0, "coun", Word, false, 0, uint16(0))
	require.NoError(t, err)

	_, err = tab.Create(0, "coun", Byte, false, 0, byte(0))
	require.Error(t, err)
}

func TestCallFrameShadowsGlobal(t *testing.T) {
	tab := New()
	_, err := tab.Create(0, "abcd", Word, false, 0, uint16(1))
	require.NoError(t, err)

	mark := tab.MarkCallFrame()
	_, err = tab.Create(mark, "abcd", Word, false, 0, uint16(2))
	require.NoError(t, err)

	d, ok := tab.Find("abcd")
	require.True(t, ok)
	assert.Equal(t, uint16(2), d.Slot, "local shadows global")

	tab.DeleteCallFrame(mark)

	d, ok = tab.Find("abcd")
	require.True(t, ok)
	assert.Equal(t, uint16(1), d.Slot, "global visible again after frame release")
}

func TestCallFrameLocalsDoNotCollideWithOuterOfSameKey(t *testing.T) {
	tab := New()
	mark1 := tab.MarkCallFrame()
	_, err := tab.Create(mark1, "abcd", Word, false, 0, uint16(1))
	require.NoError(t, err)

	mark2 := tab.MarkCallFrame()
	_, err = tab.Create(mark2, "abcd", Word, false, 0, uint16(2))
	require.NoError(t, err, "same key in a nested frame is not a redefinition")

	d, _ := tab.Find("abcd")
	assert.Equal(t, uint16(2), d.Slot)

	tab.DeleteCallFrame(mark2)
	d, _ = tab.Find("abcd")
	assert.Equal(t, uint16(1), d.Slot)
}

func TestDeleteCallFrameIsConstantDepth(t *testing.T) {
	tab := New()
	before := tab.Len()
	mark := tab.MarkCallFrame()
	for i := 0; i < 50; i++ {
		_, err := tab.Create(mark, lexerKeyFor(i), Word, false, 0, uint16(i))
		require.NoError(t, err)
	}
	require.Greater(t, tab.Len(), before)

	tab.DeleteCallFrame(mark)
	assert.Equal(t, before, tab.Len())
}

func TestSet(t *testing.T) {
	tab := New()
	_, err := tab.Create(0, "abcd", Word, false, 0, uint16(1))
	require.NoError(t, err)

	ok := tab.Set("abcd", uint16(99))
	require.True(t, ok)

	d, _ := tab.Find("abcd")
	assert.Equal(t, uint16(99), d.Slot)

	assert.False(t, tab.Set("zzzz", uint16(1)))
}

func TestClear(t *testing.T) {
	tab := New()
	_, _ = tab.Create(0, "abcd", Word, false, 0, uint16(1))
	tab.Clear()
	assert.Equal(t, 0, tab.Len())
	_, ok := tab.Find("abcd")
	assert.False(t, ok)
}

func TestArrayDescriptor(t *testing.T) {
	tab := New()
	_, err := tab.Create(0, "arr1", Byte, true, 10, make([]byte, 10))
	require.NoError(t, err)

	d, ok := tab.Find("arr1")
	require.True(t, ok)
	assert.True(t, d.IsArray)
	assert.Equal(t, 10, d.Size)
}

func lexerKeyFor(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := []byte{letters[i%26], letters[(i/26)%26], letters[(i/676)%26], letters[(i/17576)%26]}
	return string(b)
}

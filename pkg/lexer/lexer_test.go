package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTokenPunctuation(t *testing.T) {
	input := `; : , ( ) [ ] =`

	want := []struct {
		typ TokenType
		lit string
	}{
		{TokenSemicolon, ";"},
		{TokenColon, ":"},
		{TokenComma, ","},
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenLBracket, "["},
		{TokenRBracket, "]"},
		{TokenAssign, "="},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, w := range want {
		tok := l.NextToken()
		assert.Equalf(t, w.typ, tok.Type, "token %d type", i)
		assert.Equalf(t, w.lit, tok.Literal, "token %d literal", i)
	}
}

func TestNextTokenOperators(t *testing.T) {
	input := `+ - * / % << >> < <= > >= == != & && | || ! ~ ^`

	want := []struct {
		typ TokenType
		lit string
	}{
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenShl, "<<"},
		{TokenShr, ">>"},
		{TokenLt, "<"},
		{TokenLte, "<="},
		{TokenGt, ">"},
		{TokenGte, ">="},
		{TokenEq, "=="},
		{TokenNeq, "!="},
		{TokenAmp, "&"},
		{TokenAndAnd, "&&"},
		{TokenBitOr, "|"},
		{TokenOrOr, "||"},
		{TokenNot, "!"},
		{TokenBitNot, "~"},
		{TokenCaret, "^"},
		{TokenEOF, ""},
	}

	l := New(input)
	for i, w := range want {
		tok := l.NextToken()
		assert.Equalf(t, w.typ, tok.Type, "token %d type", i)
		assert.Equalf(t, w.lit, tok.Literal, "token %d literal", i)
	}
}

func TestNextTokenNumbers(t *testing.T) {
	l := New(`42 $1A2f 0`)

	tok := l.NextToken()
	require.Equal(t, TokenInteger, tok.Type)
	assert.Equal(t, "42", tok.Literal)
	v, err := ParseInt(tok.Literal)
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)

	tok = l.NextToken()
	require.Equal(t, TokenHex, tok.Type)
	assert.Equal(t, "1A2f", tok.Literal)
	hv, err := ParseHex(tok.Literal)
	require.NoError(t, err)
	assert.EqualValues(t, 0x1A2F, hv)

	tok = l.NextToken()
	require.Equal(t, TokenInteger, tok.Type)
	assert.Equal(t, "0", tok.Literal)
}

func TestParseIntWraps(t *testing.T) {
	v, err := ParseInt("70000")
	require.NoError(t, err)
	assert.EqualValues(t, uint16(70000&0xFFFF), v)
}

func TestNextTokenString(t *testing.T) {
	l := New(`"hello there" x`)

	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "hello there", tok.Literal)

	tok = l.NextToken()
	require.Equal(t, TokenIdentifier, tok.Type)
	assert.Equal(t, "x", tok.Literal)
}

func TestNextTokenIdentifiersAndDottedKeywords(t *testing.T) {
	input := `counter pr.dec.s kbd.ch abcdefgh`

	want := []string{"counter", "pr.dec.s", "kbd.ch", "abcdefgh"}

	l := New(input)
	for i, lit := range want {
		tok := l.NextToken()
		require.Equalf(t, TokenIdentifier, tok.Type, "token %d", i)
		assert.Equalf(t, lit, tok.Literal, "token %d", i)
	}
}

func TestKeyTruncatesToFourBytes(t *testing.T) {
	assert.Equal(t, "abcd", Key("abcdefgh"))
	assert.Equal(t, "abc", Key("abc"))
	assert.Equal(t, "", Key(""))
}

func TestNextTokenQuoteComment(t *testing.T) {
	l := New(`x ' rest of line is a comment`)

	tok := l.NextToken()
	require.Equal(t, TokenIdentifier, tok.Type)
	assert.Equal(t, "x", tok.Literal)

	tok = l.NextToken()
	require.Equal(t, TokenQuote, tok.Type)
	assert.Equal(t, " rest of line is a comment", l.Rest())
}

func TestNextTokenIllegal(t *testing.T) {
	l := New(`@`)
	tok := l.NextToken()
	assert.Equal(t, TokenIllegal, tok.Type)
	assert.Equal(t, "@", tok.Literal)
}

func TestAtEnd(t *testing.T) {
	l := New(`x`)
	assert.False(t, l.AtEnd())
	l.NextToken()
	assert.True(t, l.AtEnd())
}

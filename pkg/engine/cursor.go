package engine

import "github.com/bobbiw/eightball/pkg/lexer"

// cursor adds one token of lookahead on top of lexer.Lexer, which only
// exposes a destructive NextToken. The statement engine needs to peek
// constantly (is the next token "[", "=", ","?) without committing to
// consuming it.
type cursor struct {
	lx         *lexer.Lexer
	peeked     *lexer.Token
	peekedRest string // lx.Rest() as it stood just before the peeked token was read
}

func newCursor(lx *lexer.Lexer) *cursor {
	return &cursor{lx: lx}
}

func (c *cursor) peek() lexer.Token {
	if c.peeked == nil {
		before := c.lx.Rest()
		t := c.lx.NextToken()
		c.peeked = &t
		c.peekedRest = before
	}
	return *c.peeked
}

func (c *cursor) next() lexer.Token {
	t := c.peek()
	c.peeked = nil
	return t
}

func (c *cursor) is(tt lexer.TokenType) bool {
	return c.peek().Type == tt
}

// rest returns the unconsumed source text starting at the next token,
// correct whether or not that token has already been peeked.
func (c *cursor) rest() string {
	if c.peeked != nil {
		return c.peekedRest
	}
	return c.lx.Rest()
}

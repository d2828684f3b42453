package engine

import (
	"fmt"

	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/lexer"
)

// binPrec gives each binary operator's precedence, high binds tighter.
// Grounded on original_source/eightball.c's getprecedence(): C's own
// operator-precedence table, carried through unchanged. Binary xor is
// spelled `!` in source text, not `^` — the original's binaryops[] table
// lists '^' only once (power); `^` is otherwise exclusively the unary
// byte-dereference operator, and `!` does unary-not/binary-xor double duty
// the same way `*`/`^`/`&` are overloaded by position.
var binPrec = map[lexer.TokenType]int{
	lexer.TokenCaret: 10, lexer.TokenStar: 10, lexer.TokenSlash: 10, lexer.TokenPercent: 10,
	lexer.TokenPlus: 9, lexer.TokenMinus: 9,
	lexer.TokenShl: 8, lexer.TokenShr: 8,
	lexer.TokenGt: 7, lexer.TokenGte: 7, lexer.TokenLt: 7, lexer.TokenLte: 7,
	lexer.TokenEq: 6, lexer.TokenNeq: 6,
	lexer.TokenAmp: 5,
	lexer.TokenNot:  4, // binary position: xor
	lexer.TokenBitOr: 3,
	lexer.TokenAndAnd: 2,
	lexer.TokenOrOr:   1,
}

var binOp = map[lexer.TokenType]Op{
	lexer.TokenCaret: OpPow, lexer.TokenStar: OpMul, lexer.TokenSlash: OpDiv, lexer.TokenPercent: OpMod,
	lexer.TokenPlus: OpAdd, lexer.TokenMinus: OpSub,
	lexer.TokenShl: OpShl, lexer.TokenShr: OpShr,
	lexer.TokenGt: OpGt, lexer.TokenGte: OpGte, lexer.TokenLt: OpLt, lexer.TokenLte: OpLte,
	lexer.TokenEq: OpEq, lexer.TokenNeq: OpNeq,
	lexer.TokenAmp: OpBitAnd,
	lexer.TokenNot:  OpBitXor,
	lexer.TokenBitOr: OpBitOr,
	lexer.TokenAndAnd: OpAnd,
	lexer.TokenOrOr:   OpOr,
}

// unaryOp maps a prefix token to its Op, grounded on the original's
// unaryops[] table ("-+!~*^").
var unaryOp = map[lexer.TokenType]Op{
	lexer.TokenMinus:  OpNeg,
	lexer.TokenPlus:   OpNeg, // unary plus is a no-op; handled specially below
	lexer.TokenNot:    OpNot,
	lexer.TokenBitNot: OpBitNot,
}

const exprDepthLimit = 64

// parseExpr parses and emits one full expression at the lowest precedence
// (0 binds nothing; every operator found continues the expression).
func (e *Engine) parseExpr(c *cursor) error {
	return e.parseExprPrec(c, 0, 0)
}

// parseExprPrec implements the shunting-yard algorithm as precedence
// climbing: each recursive call is one frame of the original's explicit
// operator stack, the minimum precedence it will continue to absorb taking
// the role of "the operator sitting below me on the stack". depth guards
// the same expr-too-complex condition the original's fixed-size operator
// stack enforced.
func (e *Engine) parseExprPrec(c *cursor, minPrec, depth int) error {
	if depth > exprDepthLimit {
		return ebcerr.New(ebcerr.Complex, "")
	}
	if err := e.parsePredicate(c, depth); err != nil {
		return err
	}
	for {
		tok := c.peek()
		prec, ok := binPrec[tok.Type]
		if !ok || prec < minPrec {
			return nil
		}
		c.next()
		if err := e.parseExprPrec(c, prec+1, depth+1); err != nil {
			return err
		}
		if err := e.backend.EmitBinary(binOp[tok.Type]); err != nil {
			return err
		}
	}
}

// parsePredicate implements the "P" component of the original's
// algorithm: one of a variable (optionally subscripted or called), a
// literal, a parenthesised subexpression, or a unary-prefixed predicate.
func (e *Engine) parsePredicate(c *cursor, depth int) error {
	tok := c.next()
	switch tok.Type {
	case lexer.TokenInteger:
		v, err := lexer.ParseInt(tok.Literal)
		if err != nil {
			return ebcerr.New(ebcerr.BadNum, tok.Literal)
		}
		return e.backend.EmitConstant(v)

	case lexer.TokenHex:
		v, err := lexer.ParseHex(tok.Literal)
		if err != nil {
			return ebcerr.New(ebcerr.BadNum, tok.Literal)
		}
		return e.backend.EmitConstant(v)

	case lexer.TokenLParen:
		if err := e.parseExprPrec(c, 0, depth+1); err != nil {
			return err
		}
		if !c.is(lexer.TokenRParen) {
			return ebcerr.New(ebcerr.Expected, ")")
		}
		c.next()
		return nil

	case lexer.TokenAmp:
		return e.parseAddrOf(c)

	case lexer.TokenStar, lexer.TokenCaret:
		if err := e.parseExprPrec(c, 11, depth+1); err != nil {
			return err
		}
		return e.backend.EmitPeek(tok.Type == lexer.TokenStar)

	case lexer.TokenMinus, lexer.TokenNot, lexer.TokenBitNot:
		if err := e.parseExprPrec(c, 11, depth+1); err != nil {
			return err
		}
		return e.backend.EmitUnary(unaryOp[tok.Type])

	case lexer.TokenPlus:
		// Unary plus is a no-op: parse and discard the sign, emit nothing.
		return e.parseExprPrec(c, 11, depth+1)

	case lexer.TokenIdentifier:
		return e.parseVariableOrCall(c, tok.Literal)

	default:
		return ebcerr.New(ebcerr.BadExpr, fmt.Sprintf("unexpected %q", tok.Literal))
	}
}

// parseAddrOf handles the `&` prefix, which takes a variable name,
// optionally subscripted (`&name[expr]` yields that element's address).
// A call is not accepted — "no taking address of functions", per
// original_source/eightball.c's P().
func (e *Engine) parseAddrOf(c *cursor) error {
	tok := c.next()
	if tok.Type != lexer.TokenIdentifier {
		return ebcerr.New(ebcerr.VarExpected, "")
	}
	desc, ok := e.symtab.Find(lexer.Key(tok.Literal))
	if !ok {
		return ebcerr.New(ebcerr.NotFound, tok.Literal)
	}
	indexed := false
	if c.is(lexer.TokenLBracket) {
		c.next()
		if err := e.parseExpr(c); err != nil {
			return err
		}
		if !c.is(lexer.TokenRBracket) {
			return ebcerr.New(ebcerr.Expected, "]")
		}
		c.next()
		indexed = true
	}
	return e.backend.EmitAddr(desc, indexed)
}

// parseVariableOrCall disambiguates a bare identifier predicate: a
// subscripted variable, a function call, or a plain scalar load.
func (e *Engine) parseVariableOrCall(c *cursor, name string) error {
	if c.is(lexer.TokenLParen) {
		return e.evalCallExpr(c, name)
	}
	desc, ok := e.symtab.Find(lexer.Key(name))
	if !ok {
		return ebcerr.New(ebcerr.NotFound, name)
	}
	if c.is(lexer.TokenLBracket) {
		c.next()
		if err := e.parseExpr(c); err != nil {
			return err
		}
		if !c.is(lexer.TokenRBracket) {
			return ebcerr.New(ebcerr.Expected, "]")
		}
		c.next()
		return e.backend.EmitLoad(desc, true)
	}
	return e.backend.EmitLoad(desc, false)
}

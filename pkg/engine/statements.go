package engine

import (
	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/lexer"
	"github.com/bobbiw/eightball/pkg/symtab"
)

type stmtHandler func(e *Engine, c *cursor) (lineOutcome, error)

var stmtTable map[string]stmtHandler

func init() {
	stmtTable = map[string]stmtHandler{
		"word": declHandler(symtab.Word),
		"byte": declHandler(symtab.Byte),

		"if":       ifHandler,
		"else":     elseHandler,
		"endif":    endifHandler,
		"while":    whileHandler,
		"endwhile": endwhileHandler,
		"for":      forHandler,
		"endfor":   endforHandler,

		"sub":    subHandler,
		"endsub": endsubHandler,
		"call":   callHandler,
		"return": returnHandler,
		"end":    endHandler,
		"clear":  clearHandler,

		"pr.dec":   printHandler(func(e *Engine) error { return e.backend.EmitPrintDec(false) }),
		"pr.dec.s": printHandler(func(e *Engine) error { return e.backend.EmitPrintDec(true) }),
		"pr.hex":   printHandler(func(e *Engine) error { return e.backend.EmitPrintHex() }),
		"pr.ch":    printHandler(func(e *Engine) error { return e.backend.EmitPrintChar() }),
		"pr.str":   printHandler(func(e *Engine) error { return e.backend.EmitPrintString() }),
		"pr.nl":    prNlHandler,
		"pr.msg":   prMsgHandler,
		"kbd.ch":   kbdChHandler,
		"kbd.ln":   kbdLnHandler,
	}
}

// declHandler handles "word NAME[=EXPR]", "word NAME[N]" and
// "word NAME[N]=EXPR" (byte identically). An array initializer is applied
// to every element: the consumed expression text is captured via the
// cursor's rest() before/after parsing it the first time, then re-lexed
// and evaluated afresh for each remaining index.
func declHandler(kind symtab.Kind) stmtHandler {
	return func(e *Engine, c *cursor) (lineOutcome, error) {
		nameTok := c.next()
		if nameTok.Type != lexer.TokenIdentifier {
			return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.VarExpected, "")
		}
		key := lexer.Key(nameTok.Literal)
		isArray := false
		size := 0
		if c.is(lexer.TokenLBracket) {
			c.next()
			dimTok := c.next()
			var dim uint16
			var err error
			switch dimTok.Type {
			case lexer.TokenInteger:
				dim, err = lexer.ParseInt(dimTok.Literal)
			case lexer.TokenHex:
				dim, err = lexer.ParseHex(dimTok.Literal)
			default:
				return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.BadDim, dimTok.Literal)
			}
			if err != nil || dim == 0 {
				return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.BadDim, dimTok.Literal)
			}
			if !c.is(lexer.TokenRBracket) {
				return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Expected, "]")
			}
			c.next()
			isArray = true
			size = int(dim)
		}

		slot, err := e.backend.Declare(kind, isArray, size, e.inSub)
		if err != nil {
			return lineOutcome{}, err
		}
		desc, err := e.symtab.Create(e.scopeMark, key, kind, isArray, size, slot)
		if err != nil {
			return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Redefined, key)
		}

		if !c.is(lexer.TokenAssign) {
			return lineOutcome{action: actNext}, nil
		}
		c.next()

		if !isArray {
			if err := e.parseExpr(c); err != nil {
				return lineOutcome{}, err
			}
			return lineOutcome{action: actNext}, e.backend.EmitStore(desc, false)
		}

		before := c.rest()
		if err := e.backend.EmitConstant(0); err != nil {
			return lineOutcome{}, err
		}
		if err := e.parseExpr(c); err != nil {
			return lineOutcome{}, err
		}
		after := c.rest()
		initText := before[:len(before)-len(after)]
		if err := e.backend.EmitStore(desc, true); err != nil {
			return lineOutcome{}, err
		}
		for i := 1; i < size; i++ {
			if err := e.backend.EmitConstant(uint16(i)); err != nil {
				return lineOutcome{}, err
			}
			fc := lineCursor(initText)
			if err := e.parseExpr(fc); err != nil {
				return lineOutcome{}, err
			}
			if err := e.backend.EmitStore(desc, true); err != nil {
				return lineOutcome{}, err
			}
		}
		return lineOutcome{action: actNext}, nil
	}
}

func (e *Engine) execAssign(c *cursor) (lineOutcome, error) {
	nameTok := c.next()
	if nameTok.Type != lexer.TokenIdentifier {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Syntax, nameTok.Literal)
	}
	desc, ok := e.symtab.Find(lexer.Key(nameTok.Literal))
	if !ok {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NotFound, nameTok.Literal)
	}
	indexed := false
	if c.is(lexer.TokenLBracket) {
		c.next()
		if err := e.parseExpr(c); err != nil {
			return lineOutcome{}, err
		}
		if !c.is(lexer.TokenRBracket) {
			return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Expected, "]")
		}
		c.next()
		indexed = true
	}
	if !c.is(lexer.TokenAssign) {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Syntax, "expected =")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.backend.EmitStore(desc, indexed)
}

func (e *Engine) execPoke(c *cursor) (lineOutcome, error) {
	tok := c.next()
	word := tok.Type == lexer.TokenStar
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	if !c.is(lexer.TokenAssign) {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Syntax, "expected =")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.backend.EmitPoke(word)
}

func clearHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeInterpret {
		e.symtab.Clear()
	}
	return lineOutcome{action: actNext}, nil
}

func endHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeInterpret {
		return lineOutcome{action: actHalt}, nil
	}
	return lineOutcome{action: actNext}, nil
}

// printHandler builds a handler for the single-expression print statements
// (pr.dec, pr.dec.s, pr.hex, pr.ch, pr.str), which all share the same shape:
// evaluate one expression, then ask the backend to print the value already
// on top of the operand stack in a particular way.
func printHandler(emit func(e *Engine) error) stmtHandler {
	return func(e *Engine, c *cursor) (lineOutcome, error) {
		if err := e.parseExpr(c); err != nil {
			return lineOutcome{}, err
		}
		return lineOutcome{action: actNext}, emit(e)
	}
}

func prNlHandler(e *Engine, c *cursor) (lineOutcome, error) {
	return lineOutcome{action: actNext}, e.backend.EmitPrintMsg("\n")
}

func prMsgHandler(e *Engine, c *cursor) (lineOutcome, error) {
	tok := c.next()
	if tok.Type != lexer.TokenString {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.BadStr, "")
	}
	return lineOutcome{action: actNext}, e.backend.EmitPrintMsg(tok.Literal)
}

func kbdChHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.backend.EmitReadChar()
}

func kbdLnHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	if !c.is(lexer.TokenComma) {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Expected, ",")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.backend.EmitReadLine()
}

// --- if/else/endif ---

func ifHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileIf(c)
	}
	skipBefore := e.skip
	if skipBefore {
		skipStatementTail(c)
		e.frames = append(e.frames, frame{tag: frameIf, skipBefore: true})
		return lineOutcome{action: actNext}, nil
	}
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	v, err := e.backend.Result()
	if err != nil {
		return lineOutcome{}, err
	}
	ct := v != 0
	e.skip = !ct
	e.frames = append(e.frames, frame{tag: frameIf, skipBefore: false, condTrue: ct})
	return lineOutcome{action: actNext}, nil
}

func elseHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileElse(c)
	}
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameIf {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoIf, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if top.skipBefore {
		e.skip = true
	} else {
		e.skip = top.condTrue
	}
	e.frames = append(e.frames, frame{tag: frameIf, skipBefore: top.skipBefore})
	return lineOutcome{action: actNext}, nil
}

func endifHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileEndif(c)
	}
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameIf {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoIf, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	e.skip = top.skipBefore
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileIf(c *cursor) (lineOutcome, error) {
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	mark, err := e.emitter.EmitBranchFalse()
	if err != nil {
		return lineOutcome{}, err
	}
	e.frames = append(e.frames, frame{tag: frameIf, branchMark: mark, viaJump: false})
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileElse(c *cursor) (lineOutcome, error) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameIf {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoIf, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	jmark, err := e.emitter.EmitJump()
	if err != nil {
		return lineOutcome{}, err
	}
	if top.viaJump {
		if err := e.emitter.PatchJumpHere(top.branchMark); err != nil {
			return lineOutcome{}, err
		}
	} else {
		if err := e.emitter.PatchBranchHere(top.branchMark); err != nil {
			return lineOutcome{}, err
		}
	}
	e.frames = append(e.frames, frame{tag: frameIf, branchMark: jmark, viaJump: true})
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileEndif(c *cursor) (lineOutcome, error) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameIf {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoIf, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if top.viaJump {
		return lineOutcome{action: actNext}, e.emitter.PatchJumpHere(top.branchMark)
	}
	return lineOutcome{action: actNext}, e.emitter.PatchBranchHere(top.branchMark)
}

// --- while/endwhile ---

func whileHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileWhile(c)
	}
	skipBefore := e.skip
	lineNo := e.curLine
	if skipBefore {
		skipStatementTail(c)
	} else {
		if err := e.parseExpr(c); err != nil {
			return lineOutcome{}, err
		}
		v, err := e.backend.Result()
		if err != nil {
			return lineOutcome{}, err
		}
		e.skip = v == 0
	}
	e.frames = append(e.frames, frame{tag: frameWhile, skipBefore: skipBefore, condTrue: !e.skip, lineNo: lineNo})
	return lineOutcome{action: actNext}, nil
}

func endwhileHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileEndWhile(c)
	}
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameWhile {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoWhile, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	e.skip = top.skipBefore
	if !top.skipBefore && top.condTrue {
		return lineOutcome{action: actJumpLine, jumpTo: top.lineNo}, nil
	}
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileWhile(c *cursor) (lineOutcome, error) {
	startMark := e.emitter.Mark()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	bmark, err := e.emitter.EmitBranchFalse()
	if err != nil {
		return lineOutcome{}, err
	}
	e.frames = append(e.frames, frame{tag: frameWhile, loopMark: startMark, branchMark: bmark})
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileEndWhile(c *cursor) (lineOutcome, error) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameWhile {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoWhile, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if err := e.emitter.EmitJumpTo(top.loopMark); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.emitter.PatchBranchHere(top.branchMark)
}

// --- for/endfor ---

// forHandler parses "for NAME = START : LIMIT", grounded on
// original_source/eightball.c's assignorcreate(FOR_MODE): an existing
// variable is assigned a start value, then a loop limit follows a colon.
// The loop body always runs at least once; the continue/stop test happens
// at endfor against the value current at that point, not a fresh
// evaluation of the header.
func forHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileFor(c)
	}
	skipBefore := e.skip
	lineNo := e.curLine
	if skipBefore {
		skipStatementTail(c)
		e.frames = append(e.frames, frame{tag: frameFor, skipBefore: true})
		return lineOutcome{action: actNext}, nil
	}
	nameTok := c.next()
	if nameTok.Type != lexer.TokenIdentifier {
		return lineOutcome{}, ebcerr.At(lineNo, ebcerr.VarExpected, "")
	}
	desc, ok := e.symtab.Find(lexer.Key(nameTok.Literal))
	if !ok {
		return lineOutcome{}, ebcerr.At(lineNo, ebcerr.NotFound, nameTok.Literal)
	}
	if !c.is(lexer.TokenAssign) {
		return lineOutcome{}, ebcerr.At(lineNo, ebcerr.Expected, "=")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitStore(desc, false); err != nil {
		return lineOutcome{}, err
	}
	if !c.is(lexer.TokenColon) {
		return lineOutcome{}, ebcerr.At(lineNo, ebcerr.Expected, ":")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	limit, err := e.backend.Result()
	if err != nil {
		return lineOutcome{}, err
	}
	resumeText := c.rest()
	e.frames = append(e.frames, frame{
		tag: frameFor, skipBefore: false, lineNo: lineNo,
		forDesc: desc, forLimit: limit, resumeText: resumeText,
	})
	return lineOutcome{action: actNext}, nil
}

func endforHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileEndFor(c)
	}
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameFor {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoFor, "")
	}
	top := e.frames[len(e.frames)-1]
	if top.skipBefore {
		e.frames = e.frames[:len(e.frames)-1]
		e.skip = top.skipBefore
		return lineOutcome{action: actNext}, nil
	}
	if err := e.backend.EmitLoad(top.forDesc, false); err != nil {
		return lineOutcome{}, err
	}
	val, err := e.backend.Result()
	if err != nil {
		return lineOutcome{}, err
	}
	if val < top.forLimit {
		if err := e.backend.EmitConstant(val + 1); err != nil {
			return lineOutcome{}, err
		}
		if err := e.backend.EmitStore(top.forDesc, false); err != nil {
			return lineOutcome{}, err
		}
		return lineOutcome{action: actResumeText, jumpTo: top.lineNo, text: top.resumeText}, nil
	}
	e.frames = e.frames[:len(e.frames)-1]
	e.skip = top.skipBefore
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileFor(c *cursor) (lineOutcome, error) {
	nameTok := c.next()
	if nameTok.Type != lexer.TokenIdentifier {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.VarExpected, "")
	}
	desc, ok := e.symtab.Find(lexer.Key(nameTok.Literal))
	if !ok {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NotFound, nameTok.Literal)
	}
	if !c.is(lexer.TokenAssign) {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Expected, "=")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitStore(desc, false); err != nil {
		return lineOutcome{}, err
	}
	if !c.is(lexer.TokenColon) {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Expected, ":")
	}
	c.next()
	if err := e.parseExpr(c); err != nil {
		return lineOutcome{}, err
	}
	slot, err := e.backend.Declare(symtab.Word, false, 0, e.inSub)
	if err != nil {
		return lineOutcome{}, err
	}
	limitDesc := &symtab.Descriptor{Key: "$lim", KindOf: symtab.Word, Slot: slot}
	if err := e.backend.EmitStore(limitDesc, false); err != nil {
		return lineOutcome{}, err
	}
	bodyMark := e.emitter.Mark()
	e.frames = append(e.frames, frame{tag: frameFor, loopMark: bodyMark, forDesc: desc, forLimitDesc: limitDesc})
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileEndFor(c *cursor) (lineOutcome, error) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameFor {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoFor, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if err := e.backend.EmitLoad(top.forDesc, false); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitConstant(1); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitBinary(OpAdd); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitStore(top.forDesc, false); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitLoad(top.forDesc, false); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitLoad(top.forLimitDesc, false); err != nil {
		return lineOutcome{}, err
	}
	if err := e.backend.EmitBinary(OpLte); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.emitter.EmitBranchTrueTo(top.loopMark)
}

// --- sub/endsub/call/return ---

// subHandler, in interpret mode, handles the normal top-level flow falling
// into a sub's own header line: rather than the error the statement would
// raise mid-expression, execution skips straight to the matching endsub,
// since scenarios routinely declare subs before the code that calls them.
func subHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileSubHeader(c)
	}
	nameTok := c.next()
	headerLine, known := e.subLine[nameTok.Literal]
	endLine, ok := e.subEnd[headerLine]
	if !known || !ok {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoSub, nameTok.Literal)
	}
	skipStatementTail(c)
	return lineOutcome{action: actJumpLine, jumpTo: endLine}, nil
}

func endsubHandler(e *Engine, c *cursor) (lineOutcome, error) {
	if e.backend.Mode() == ModeCompile {
		return e.compileEndSub(c)
	}
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileSubHeader(c *cursor) (lineOutcome, error) {
	nameTok := c.next()
	sub, ok := e.subs[nameTok.Literal]
	if !ok {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoSub, nameTok.Literal)
	}
	skipStatementTail(c)

	skipMark, err := e.emitter.EmitJump()
	if err != nil {
		return lineOutcome{}, err
	}
	if err := e.emitter.EnterSub(sub); err != nil {
		return lineOutcome{}, err
	}
	e.frames = append(e.frames, frame{tag: frameSub, branchMark: skipMark, viaJump: true})

	mark := e.symtab.MarkCallFrame()
	e.subStack = append(e.subStack, subFrame{mark: mark, outerScope: e.scopeMark, outerInSub: e.inSub})
	e.scopeMark = mark
	e.inSub = true

	slots, err := e.emitter.DeclareParams(sub.Params)
	if err != nil {
		return lineOutcome{}, err
	}
	for i, p := range sub.Params {
		if _, err := e.symtab.Create(mark, lexer.Key(p.Name), p.Kind, p.IsArray, 0, slots[i]); err != nil {
			return lineOutcome{}, err
		}
	}
	return lineOutcome{action: actNext}, nil
}

func (e *Engine) compileEndSub(c *cursor) (lineOutcome, error) {
	if len(e.frames) == 0 || e.frames[len(e.frames)-1].tag != frameSub {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoSub, "")
	}
	top := e.frames[len(e.frames)-1]
	e.frames = e.frames[:len(e.frames)-1]
	if err := e.emitter.ExitSub(); err != nil {
		return lineOutcome{}, err
	}
	n := len(e.subStack) - 1
	sf := e.subStack[n]
	e.subStack = e.subStack[:n]
	e.symtab.DeleteCallFrame(sf.mark)
	e.scopeMark = sf.outerScope
	e.inSub = sf.outerInSub
	return lineOutcome{action: actNext}, e.emitter.PatchJumpHere(top.branchMark)
}

func callHandler(e *Engine, c *cursor) (lineOutcome, error) {
	nameTok := c.next()
	if nameTok.Type != lexer.TokenIdentifier {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.VarExpected, "")
	}
	if err := e.evalCallExpr(c, nameTok.Literal); err != nil {
		return lineOutcome{}, err
	}
	return lineOutcome{action: actNext}, e.backend.EmitDiscard()
}

func returnHandler(e *Engine, c *cursor) (lineOutcome, error) {
	hasValue := !c.is(lexer.TokenEOF) && !c.is(lexer.TokenSemicolon) && !c.is(lexer.TokenQuote)
	if e.backend.Mode() == ModeCompile {
		if hasValue {
			if err := e.parseExpr(c); err != nil {
				return lineOutcome{}, err
			}
		} else if err := e.backend.EmitConstant(0); err != nil {
			return lineOutcome{}, err
		}
		return lineOutcome{action: actNext}, e.emitter.EmitReturn()
	}
	if !e.inSub {
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.NoSub, "return")
	}
	var v uint16
	if hasValue {
		if err := e.parseExpr(c); err != nil {
			return lineOutcome{}, err
		}
		result, err := e.backend.Result()
		if err != nil {
			return lineOutcome{}, err
		}
		v = result
	}
	return lineOutcome{action: actReturn, retVal: v}, nil
}

// evalCallExpr parses a call's argument list against the callee's known
// signature and leaves its result as a single value on the operand stack,
// the shape every predicate must leave behind. Scalar arguments are plain
// expressions; array arguments name an existing array by identifier only,
// grounded on original_source/eightball.c's P() restricting & the same way
// (no taking the address of, or indexing into, the array reference itself).
func (e *Engine) evalCallExpr(c *cursor, name string) error {
	sub, ok := e.subs[name]
	if !ok {
		return ebcerr.New(ebcerr.NoSub, name)
	}
	if !c.is(lexer.TokenLParen) {
		return ebcerr.New(ebcerr.Expected, "(")
	}
	c.next()

	compiling := e.backend.Mode() == ModeCompile
	type boundArg struct {
		param     Param
		scalar    uint16
		callerArr *symtab.Descriptor
	}
	var bound []boundArg

	for i, p := range sub.Params {
		if i > 0 {
			if !c.is(lexer.TokenComma) {
				return ebcerr.New(ebcerr.Expected, ",")
			}
			c.next()
		}
		if p.IsArray {
			tok := c.next()
			if tok.Type != lexer.TokenIdentifier {
				return ebcerr.New(ebcerr.VarExpected, "")
			}
			desc, ok := e.symtab.Find(lexer.Key(tok.Literal))
			if !ok || !desc.IsArray {
				return ebcerr.New(ebcerr.BadArg, tok.Literal)
			}
			if compiling {
				if err := e.backend.EmitAddr(desc, false); err != nil {
					return err
				}
				if err := e.emitter.PushArg(symtab.Word); err != nil {
					return err
				}
			} else {
				bound = append(bound, boundArg{param: p, callerArr: desc})
			}
			continue
		}
		if err := e.parseExpr(c); err != nil {
			return err
		}
		if compiling {
			if err := e.emitter.PushArg(p.Kind); err != nil {
				return err
			}
		} else {
			v, err := e.backend.Result()
			if err != nil {
				return err
			}
			bound = append(bound, boundArg{param: p, scalar: v})
		}
	}
	if !c.is(lexer.TokenRParen) {
		return ebcerr.New(ebcerr.Expected, ")")
	}
	c.next()

	if compiling {
		if err := e.emitter.CallSite(name); err != nil {
			return err
		}
		byteCount := 0
		for _, p := range sub.Params {
			if p.IsArray || p.Kind == symtab.Word {
				byteCount += 2
			} else {
				byteCount++
			}
		}
		return e.emitter.DiscardArgs(byteCount)
	}

	headerLine := e.subLine[name]
	endLine := e.subEnd[headerLine]
	mark := e.symtab.MarkCallFrame()
	e.subStack = append(e.subStack, subFrame{mark: mark, outerScope: e.scopeMark, outerInSub: e.inSub})
	e.scopeMark = mark
	e.inSub = true
	if e.frameAlloc != nil {
		e.frameAlloc.PushFrame()
	}

	bindErr := func() error {
		for _, b := range bound {
			if b.param.IsArray {
				slot, err := e.backend.Alias(b.callerArr)
				if err != nil {
					return err
				}
				if _, err := e.symtab.Create(mark, lexer.Key(b.param.Name), b.callerArr.KindOf, true, b.callerArr.Size, slot); err != nil {
					return err
				}
				continue
			}
			slot, err := e.backend.Declare(b.param.Kind, false, 0, true)
			if err != nil {
				return err
			}
			desc, err := e.symtab.Create(mark, lexer.Key(b.param.Name), b.param.Kind, false, 0, slot)
			if err != nil {
				return err
			}
			if err := e.backend.EmitConstant(b.scalar); err != nil {
				return err
			}
			if err := e.backend.EmitStore(desc, false); err != nil {
				return err
			}
		}
		return nil
	}()

	var retVal uint16
	var runErr error
	if bindErr == nil {
		retVal, runErr = e.runInterpretBody(headerLine, endLine)
	}

	n := len(e.subStack) - 1
	sf := e.subStack[n]
	e.subStack = e.subStack[:n]
	e.symtab.DeleteCallFrame(sf.mark)
	e.scopeMark = sf.outerScope
	e.inSub = sf.outerInSub
	if e.frameAlloc != nil {
		e.frameAlloc.PopFrame()
	}

	if bindErr != nil {
		return bindErr
	}
	if runErr != nil {
		return runErr
	}
	return e.backend.EmitConstant(retVal)
}

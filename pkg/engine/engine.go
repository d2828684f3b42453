package engine

import (
	"github.com/bobbiw/eightball/internal/ebcerr"
	"github.com/bobbiw/eightball/pkg/lexer"
	"github.com/bobbiw/eightball/pkg/symtab"
)

// Source is the ordered, sparse line store the engine walks. pkg/program's
// *program.Program satisfies it; line numbers need not be contiguous.
type Source interface {
	Line(n int) (string, bool)
	First() (int, bool)
	Next(n int) (int, bool)
}

type frameTag int

const (
	frameIf frameTag = iota
	frameWhile
	frameFor
	frameSub
)

// frame is one entry of the control-flow stack if/while/for/sub push while
// open. Not every field is meaningful for every tag or every mode; see the
// handler that pushes it.
type frame struct {
	tag frameTag

	// Compile mode: which Patch*Here call closes this frame, and the mark
	// to pass it.
	branchMark int
	viaJump    bool

	// Interpret mode if/while/for: the skip flag's value on entry, and (for
	// frameIf and frameWhile) whether the condition was true.
	skipBefore bool
	condTrue   bool

	// while and for, interpret mode: the line the loop header lives on (the
	// jump target). Compile mode does not set lineNo; loopMark is its target.
	lineNo   int
	loopMark int

	// for, interpret mode: the loop variable, its limit, and the source
	// text to resume at (the position just after the header's own text,
	// captured so a loop whose header and body share one line doesn't
	// re-run the initializing assignment on every pass).
	forDesc    *symtab.Descriptor
	forLimit   uint16
	resumeText string

	// for, compile mode: a compiler-allocated scratch variable holding the
	// limit, since the bytecode stream has no operand-stack slot that
	// survives a loop's backward jump the way a local variable does.
	forLimitDesc *symtab.Descriptor
}

// subFrame is pushed in compile mode while inside a sub's body, and used
// transiently by interpret mode's call evaluation, to save and restore the
// scope state a nested sub call must not leak into its caller.
type subFrame struct {
	mark       int
	outerScope int
	outerInSub bool
}

// Engine is the statement engine and expression evaluator shared by
// interpretation and compilation. It owns no execution state of its own
// beyond control-flow bookkeeping and the variable table; all actual
// values, memory and code live behind the Backend.
type Engine struct {
	backend    Backend
	emitter    Emitter        // non-nil iff backend.Mode() == ModeCompile
	frameAlloc FrameAllocator // non-nil iff backend supports it (pkg/interpret)
	symtab     *symtab.Table
	src        Source

	curLine   int
	skip      bool
	frames    []frame
	scopeMark int
	inSub     bool
	subStack  []subFrame

	subs    map[string]*Sub
	subLine map[string]int
	subEnd  map[int]int
}

// NewEngine returns an Engine driving backend, sharing one variable table
// across however many programs it runs.
func NewEngine(backend Backend) *Engine {
	e := &Engine{backend: backend, symtab: symtab.New()}
	if em, ok := backend.(Emitter); ok {
		e.emitter = em
	}
	if fa, ok := backend.(FrameAllocator); ok {
		e.frameAlloc = fa
	}
	return e
}

// Run walks src once, either interpreting it directly or compiling it,
// according to the backend's Mode.
func (e *Engine) Run(src Source) error {
	e.src = src
	e.frames = nil
	e.skip = false
	e.scopeMark = 0
	e.inSub = false
	e.subStack = nil
	if err := e.scanSubs(); err != nil {
		return err
	}
	if e.backend.Mode() == ModeCompile {
		return e.compileProgram()
	}
	return e.interpretProgram()
}

func lineCursor(text string) *cursor {
	return newCursor(lexer.New(text))
}

// scanSubs is a one-time pre-pass over the whole program, run before either
// mode's main walk, that records every sub's signature and (for the
// interpret-mode skip-forward behavior and call dispatch) its header and
// endsub line numbers. Both modes need signatures up front: a forward call
// to a sub not yet reached must still know its parameter shapes.
func (e *Engine) scanSubs() error {
	e.subs = map[string]*Sub{}
	e.subLine = map[string]int{}
	e.subEnd = map[int]int{}
	openName := ""
	n, ok := e.src.First()
	for ok {
		text, _ := e.src.Line(n)
		c := lineCursor(text)
		tok := c.peek()
		if tok.Type == lexer.TokenIdentifier {
			switch tok.Literal {
			case "sub":
				c.next()
				nameTok := c.next()
				if nameTok.Type != lexer.TokenIdentifier {
					return ebcerr.At(n, ebcerr.VarExpected, "")
				}
				params, err := parseFormalList(c)
				if err != nil {
					return ebcerr.At(n, ebcerr.Syntax, err.Error())
				}
				e.subs[nameTok.Literal] = &Sub{Key: nameTok.Literal, Params: params}
				e.subLine[nameTok.Literal] = n
				openName = nameTok.Literal
			case "endsub":
				if openName != "" {
					e.subEnd[e.subLine[openName]] = n
					openName = ""
				}
			}
		}
		n, ok = e.src.Next(n)
	}
	return nil
}

// parseFormalList parses a sub's "(word a, byte b[])" parameter list. c must
// be positioned just before the opening '('.
func parseFormalList(c *cursor) ([]Param, error) {
	if !c.is(lexer.TokenLParen) {
		return nil, ebcerr.New(ebcerr.Expected, "(")
	}
	c.next()
	var params []Param
	for !c.is(lexer.TokenRParen) {
		kindTok := c.next()
		var kind symtab.Kind
		switch kindTok.Literal {
		case "word":
			kind = symtab.Word
		case "byte":
			kind = symtab.Byte
		default:
			return nil, ebcerr.New(ebcerr.Syntax, "expected word or byte")
		}
		nameTok := c.next()
		if nameTok.Type != lexer.TokenIdentifier {
			return nil, ebcerr.New(ebcerr.VarExpected, "")
		}
		isArray := false
		if c.is(lexer.TokenLBracket) {
			c.next()
			if !c.is(lexer.TokenRBracket) {
				return nil, ebcerr.New(ebcerr.Expected, "]")
			}
			c.next()
			isArray = true
		}
		params = append(params, Param{Name: nameTok.Literal, Kind: kind, IsArray: isArray})
		if c.is(lexer.TokenComma) {
			c.next()
			continue
		}
		break
	}
	if !c.is(lexer.TokenRParen) {
		return nil, ebcerr.New(ebcerr.Expected, ")")
	}
	c.next()
	return params, nil
}

// execAction is what a statement or a full line asks the driving loop
// (interpretProgram, runInterpretBody or compileProgram) to do next.
type execAction int

const (
	actNext execAction = iota
	actHalt
	actJumpLine
	actResumeText
	actReturn
)

type lineOutcome struct {
	action execAction
	jumpTo int
	text   string
	retVal uint16
}

// execLineDispatch runs every statement on one line, separated by ';', and
// stops at the first statement that asks for something other than
// continuing to the next statement.
func (e *Engine) execLineDispatch(text string, lineNo int) (lineOutcome, error) {
	e.curLine = lineNo
	c := lineCursor(text)
	for {
		tok := c.peek()
		if tok.Type == lexer.TokenEOF || tok.Type == lexer.TokenQuote {
			return lineOutcome{action: actNext}, nil
		}
		if tok.Type == lexer.TokenSemicolon {
			c.next()
			continue
		}
		oc, err := e.execStatement(c)
		if err != nil {
			return lineOutcome{}, err
		}
		if oc.action != actNext {
			return oc, nil
		}
		nt := c.peek()
		if nt.Type != lexer.TokenSemicolon && nt.Type != lexer.TokenEOF && nt.Type != lexer.TokenQuote {
			return lineOutcome{}, ebcerr.At(lineNo, ebcerr.ExtraInput, nt.Literal)
		}
	}
}

// skipStatementTail discards tokens up to but not including the next
// statement separator, comment marker or end of line, without evaluating
// anything. Used when e.skip is active and the current statement is not one
// of the control-flow keywords still observed while skipping.
func skipStatementTail(c *cursor) {
	for {
		t := c.peek()
		if t.Type == lexer.TokenSemicolon || t.Type == lexer.TokenEOF || t.Type == lexer.TokenQuote {
			return
		}
		c.next()
	}
}

// execStatement dispatches one statement. if/else/endif/while/endwhile stay
// observed even while e.skip is set, so nested blocks can still track their
// own frames; every other statement is consumed without effect while
// skipping.
func (e *Engine) execStatement(c *cursor) (lineOutcome, error) {
	tok := c.peek()
	kw := ""
	if tok.Type == lexer.TokenIdentifier {
		kw = tok.Literal
	}
	observed := kw == "if" || kw == "else" || kw == "endif" || kw == "while" || kw == "endwhile"
	if e.skip && !observed {
		skipStatementTail(c)
		return lineOutcome{action: actNext}, nil
	}
	switch tok.Type {
	case lexer.TokenStar, lexer.TokenCaret:
		return e.execPoke(c)
	case lexer.TokenIdentifier:
		if h, ok := stmtTable[kw]; ok {
			c.next()
			return h(e, c)
		}
		return e.execAssign(c)
	default:
		return lineOutcome{}, ebcerr.At(e.curLine, ebcerr.Syntax, tok.Literal)
	}
}

// interpretProgram runs the top-level statement stream directly.
func (e *Engine) interpretProgram() error {
	n, ok := e.src.First()
	if !ok {
		return e.backend.Finish()
	}
	text, _ := e.src.Line(n)
	for {
		oc, err := e.execLineDispatch(text, n)
		if err != nil {
			return err
		}
		switch oc.action {
		case actHalt:
			return e.backend.Finish()
		case actReturn:
			return ebcerr.At(n, ebcerr.NoSub, "return outside a sub")
		case actJumpLine:
			n = oc.jumpTo
			var lineOK bool
			text, lineOK = e.src.Line(n)
			if !lineOK {
				return ebcerr.At(n, ebcerr.BadLineNum, "")
			}
		case actResumeText:
			n = oc.jumpTo
			text = oc.text
		default:
			next, more := e.src.Next(n)
			if !more {
				return e.backend.Finish()
			}
			n = next
			text, _ = e.src.Line(n)
		}
	}
}

// runInterpretBody runs a called sub's body, starting at the line after
// headerLine and stopping at (not including) endLine, the matching endsub.
// It gives the sub its own control-flow frame stack and skip flag, since a
// call nested inside an open if/while/for in the caller must not leak those
// frames into the callee, nor vice versa; Go's own call stack is what makes
// this nesting trivial to get right.
func (e *Engine) runInterpretBody(headerLine, endLine int) (uint16, error) {
	savedFrames, savedSkip := e.frames, e.skip
	e.frames, e.skip = nil, false
	defer func() { e.frames, e.skip = savedFrames, savedSkip }()

	n, ok := e.src.Next(headerLine)
	if !ok || n >= endLine {
		return 0, nil
	}
	text, _ := e.src.Line(n)
	for {
		oc, err := e.execLineDispatch(text, n)
		if err != nil {
			return 0, err
		}
		switch oc.action {
		case actReturn:
			return oc.retVal, nil
		case actHalt:
			return 0, nil
		case actJumpLine:
			n = oc.jumpTo
			text, _ = e.src.Line(n)
		case actResumeText:
			n = oc.jumpTo
			text = oc.text
		default:
			next, more := e.src.Next(n)
			if !more || next >= endLine {
				return 0, nil
			}
			n = next
			text, _ = e.src.Line(n)
		}
	}
}

// compileProgram runs the same statement stream through the compiling
// backend. Sub bodies are emitted inline at the point they are declared
// (compileSubHeader emits a forward jump over the body so straight-line
// execution never falls into it), and a single linkage pass resolves every
// CallSite once the whole program has been walked.
func (e *Engine) compileProgram() error {
	n, ok := e.src.First()
	for ok {
		text, _ := e.src.Line(n)
		oc, err := e.execLineDispatch(text, n)
		if err != nil {
			return err
		}
		switch oc.action {
		case actHalt:
			ok = false
		case actJumpLine, actResumeText:
			return ebcerr.At(n, ebcerr.Syntax, "control flow fixups only apply in interpret mode")
		default:
			n, ok = e.src.Next(n)
		}
	}
	if err := e.emitter.Link(); err != nil {
		return err
	}
	return e.backend.Finish()
}

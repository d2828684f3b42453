// Package engine implements the expression evaluator and statement engine
// shared by direct interpretation (pkg/interpret) and bytecode compilation
// (pkg/compiler). Neither backend builds an intermediate tree: the engine
// walks source text once, token by token, and drives a Backend uniformly
// for every piece of work whose shape is identical in both modes
// (expression evaluation, variable load/store, the print/read statements).
//
// Control flow (if/while/for/sub/call/return) is not uniform: the
// original's own statement table keeps separate interpret and compile
// columns for the control-flow frames it pushes, so the statement engine
// implements each mode's control flow directly rather than forcing it
// through one interface. A compiling Backend additionally implements
// Emitter, which the engine reaches for only when Mode() is ModeCompile.
package engine

import "github.com/bobbiw/eightball/pkg/symtab"

// Op identifies an operator for Backend.EmitUnary and Backend.EmitBinary,
// resolved from a lexer token by the expression evaluator so neither
// backend needs to know about lexer token types.
type Op int

const (
	OpNeg Op = iota
	OpNot
	OpBitNot
	OpPow
	OpMul
	OpDiv
	OpMod
	OpAdd
	OpSub
	OpShl
	OpShr
	OpLt
	OpLte
	OpGt
	OpGte
	OpEq
	OpNeq
	OpBitAnd
	OpBitXor
	OpBitOr
	OpAnd
	OpOr
)

// Mode reports whether a Backend executes immediately or emits bytecode.
type Mode int

const (
	ModeInterpret Mode = iota
	ModeCompile
)

// Param is one formal parameter of a sub declaration.
type Param struct {
	Name    string
	Kind    symtab.Kind
	IsArray bool
}

// Sub describes one declared subroutine, shared by both backends' own
// lookup tables (a compiled sub-definition table keyed by entry PC, or an
// interpreted sub index keyed by source line).
type Sub struct {
	Key    string
	Params []Param
}

// Backend is the uniform half of the engine/backend split: expression
// evaluation, variable storage, and the print/read statements.
type Backend interface {
	Mode() Mode

	// EmitConstant pushes a known 16-bit value onto the operand stack
	// (spec §4.1 "mode bifurcation": interpret mode pushes the value
	// itself; compile mode emits an LDI that pushes it at run time).
	EmitConstant(word uint16) error
	// EmitLoad pushes the value of desc. If indexed, an index value must
	// already be on the operand stack; desc must be an array.
	EmitLoad(desc *symtab.Descriptor, indexed bool) error
	// EmitStore pops a value and stores it into desc (and, if indexed,
	// pops an index below it first).
	EmitStore(desc *symtab.Descriptor, indexed bool) error
	// EmitAddr pushes the address of desc (an array's first element when
	// not indexed). If indexed, an index value must already be on the
	// operand stack; it is popped and that element's address is pushed.
	EmitAddr(desc *symtab.Descriptor, indexed bool) error
	// EmitPeek implements unary `*` (word) and `^` (byte): pop an
	// address, push the value found there.
	EmitPeek(word bool) error
	// EmitPoke implements `*EXPR = EXPR` and `^EXPR = EXPR`: pop a value
	// then an address, store the value there.
	EmitPoke(word bool) error

	EmitUnary(op Op) error
	EmitBinary(op Op) error
	// EmitDiscard pops and drops the top of the operand stack, used when a
	// sub is called as a bare statement and its return value goes unused.
	EmitDiscard() error

	EmitPrintDec(signed bool) error
	EmitPrintHex() error
	EmitPrintChar() error
	EmitPrintString() error
	EmitPrintMsg(s string) error
	// EmitReadChar pops an address, reads one character, and stores it as
	// a byte at that address (the `kbd.ch ADDR` statement).
	EmitReadChar() error
	// EmitReadLine pops a maximum length then an address (in that order,
	// matching `kbd.ln ADDR,LEN`'s argument order on the operand stack),
	// reads a line and stores it starting at that address.
	EmitReadLine() error

	// Declare allocates storage for a new scalar or array variable and
	// returns the symtab.Descriptor payload for it (an address, in both
	// backends' shared byte-addressable-memory model).
	Declare(kind symtab.Kind, isArray bool, size int, local bool) (any, error)
	// Alias binds a formal array parameter to the caller's existing
	// array payload rather than allocating new storage (spec §4.2
	// "array pass-by-reference").
	Alias(caller *symtab.Descriptor) (any, error)

	// Result pops and returns the top of the operand stack. Only
	// pkg/interpret gives this a real value; a compiling backend's
	// result lives on the VM's eval stack at run time, not at compile
	// time, so it returns (0, nil).
	Result() (uint16, error)

	// Finish runs once after the whole program has been walked.
	Finish() error
}

// FrameAllocator is an optional Backend extension: a backend that
// allocates call-local storage from a bounded address space implements it
// so the engine can release that storage when a subroutine call returns,
// the same way symtab.Table's MarkCallFrame/DeleteCallFrame release
// descriptors. pkg/interpret implements this (its addresses are real
// 16-bit offsets into a bounded memory image); a compiling backend does
// not need it, since a compiled sub's locals are frame-relative offsets
// resolved at run time by the target VM's own call stack, never
// pre-allocated by the engine.
type FrameAllocator interface {
	PushFrame()
	PopFrame()
}

// Emitter is the additional surface a compiling Backend exposes for
// control flow and subroutine linkage. pkg/compiler implements it;
// pkg/interpret does not, since interpret-mode control flow is plain Go
// control flow over the statement engine's own frame stack.
type Emitter interface {
	// EmitBranchFalse emits a conditional branch that will jump when the
	// value on top of the operand stack is zero, with a placeholder
	// target. It returns an opaque mark for a later Patch* call.
	EmitBranchFalse() (int, error)
	PatchBranchHere(mark int) error
	EmitJump() (int, error)
	PatchJumpHere(mark int) error
	// Mark returns the current emission position, for a later backward
	// EmitJumpTo (while loop back-edge) or EmitBranchTrueTo (for loop
	// back-edge).
	Mark() int
	EmitJumpTo(mark int) error
	// EmitBranchTrueTo emits a conditional branch to an already-known
	// target (unlike EmitBranchFalse, whose target is always a forward
	// placeholder resolved later by Patch*Here): taken when the value on
	// top of the operand stack is nonzero. This is the for-loop back-edge,
	// where the loop body's start address is already known at the point
	// the endfor comparison is emitted.
	EmitBranchTrueTo(mark int) error

	// EnterSub records sub's entry point and emits its frame-entry
	// sequence; ExitSub undoes any compiler-side bookkeeping (frame
	// locals stay declared in the symbol table until the statement
	// engine releases them).
	EnterSub(sub *Sub) error
	ExitSub() error
	// DeclareParams computes each parameter's frame-relative storage (the
	// caller has already pushed argument words directly below the return
	// address, so a parameter needs no allocation of its own, only a
	// fixed offset) and returns one opaque slot per entry in params, in
	// the same order, for the engine to wrap into symtab descriptors.
	DeclareParams(params []Param) ([]any, error)
	// EmitReturn emits the frame-exit sequence assuming the return
	// value is already on top of the operand stack.
	EmitReturn() error

	// PushArg moves the value on top of the operand stack onto the
	// target call stack, in argument-push order (spec §4.4 frame
	// layout: arguments sit just below the return address).
	PushArg(kind symtab.Kind) error
	// CallSite emits a JSR with a placeholder target and records the
	// call for the end-of-compile linkage pass (spec §4.4 "Linkage
	// pass"); it is resolved against sub names, not addresses, since
	// forward references to a sub not yet compiled are legal.
	CallSite(name string) error
	// DiscardArgs drops byteCount bytes the caller pushed for the call
	// just made (spec §4.4: "caller is responsible for dropping the
	// argument region").
	DiscardArgs(byteCount int) error
	// Link resolves every CallSite against the names EnterSub has
	// recorded so far; called once, at end of compilation.
	Link() error
}

package vm

import (
	"fmt"

	"github.com/bobbiw/eightball/internal/ebcerr"
)

// Frame is one entry of a runtime error's call-stack trace: the JSR return
// address it was invoked from.
type Frame struct {
	PC int
}

// RuntimeError reports a failure raised while executing bytecode, with the
// PC at the point of failure and the JSR trail that led there.
type RuntimeError struct {
	Err   *ebcerr.Error
	PC    int
	Trace []Frame
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s (pc=%d)", e.Err.Error(), e.PC)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func newRuntimeError(pc int, code ebcerr.Code, detail string) *RuntimeError {
	return &RuntimeError{Err: ebcerr.New(code, detail), PC: pc}
}

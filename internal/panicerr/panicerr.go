// Package panicerr turns an unexpected panic deep inside the engine or VM
// into an ordinary error at the REPL boundary, the idiomatic-Go analogue of
// the original reference implementation's longjmp escape from a
// should-never-happen condition (original_source/eightball.c's EXIT(99)).
package panicerr

import (
	"fmt"
	"runtime/debug"
)

// Recover runs f, converting any panic it raises into a returned error
// carrying name and a stack trace instead of crashing the process.
func Recover(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{name: name, r: r, stack: debug.Stack()}
		}
	}()
	return f()
}

type panicError struct {
	name  string
	r     interface{}
	stack []byte
}

func (pe panicError) Error() string {
	return fmt.Sprintf("%s paniced: %v", pe.name, pe.r)
}

func (pe panicError) Format(f fmt.State, c rune) {
	fmt.Fprintf(f, "%s paniced: %v", pe.name, pe.r)
	if c == 'v' && f.Flag('+') {
		fmt.Fprintf(f, "\npanic stack: %s", pe.stack)
	}
}

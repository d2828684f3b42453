// Package program implements the ordered source-line store that backs both
// the screen-editor-style REPL commands and the statement engine's cursor.
//
// Lines are numbered from 1; there is no line 0. The original reference
// implementation stored lines in a fixed-size array indexed by line number;
// this port uses a sparse map instead so "insert before line 5" doesn't
// require shifting every later line, a divergence the original's hardware
// constraints didn't allow for but a Go port has no reason to repeat.
package program

import (
	"fmt"
	"sort"
)

// Program is an ordered, sparse, 1-based collection of source lines.
type Program struct {
	lines map[int]string
}

// New returns an empty Program.
func New() *Program {
	return &Program{lines: make(map[int]string)}
}

// Line returns the text at line number n and whether it exists.
func (p *Program) Line(n int) (string, bool) {
	text, ok := p.lines[n]
	return text, ok
}

// Len reports how many lines currently exist.
func (p *Program) Len() int {
	return len(p.lines)
}

// Numbers returns every existing line number in ascending order.
func (p *Program) Numbers() []int {
	ns := make([]int, 0, len(p.lines))
	for n := range p.lines {
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}

// First returns the lowest existing line number, for starting a sequential
// walk over a program whose line numbers are sparse.
func (p *Program) First() (int, bool) {
	if len(p.lines) == 0 {
		return 0, false
	}
	min := 0
	for n := range p.lines {
		if min == 0 || n < min {
			min = n
		}
	}
	return min, true
}

// Next returns the smallest existing line number strictly greater than n,
// for advancing a sequential walk without assuming line numbers are
// contiguous.
func (p *Program) Next(n int) (int, bool) {
	next := 0
	found := false
	for existing := range p.lines {
		if existing > n && (!found || existing < next) {
			next = existing
			found = true
		}
	}
	return next, found
}

// Max returns the highest line number in use, or 0 for an empty program.
func (p *Program) Max() int {
	max := 0
	for n := range p.lines {
		if n > max {
			max = n
		}
	}
	return max
}

// Set replaces (or creates) the text of line n. A line number below 1 is
// rejected with an error.
func (p *Program) Set(n int, text string) error {
	if n < 1 {
		return fmt.Errorf("invalid line number %d", n)
	}
	p.lines[n] = text
	return nil
}

// InsertBefore inserts text as a new line immediately before n, shifting n
// and every later line down by one.
func (p *Program) InsertBefore(n int, text string) error {
	if n < 1 {
		return fmt.Errorf("invalid line number %d", n)
	}
	for _, existing := range p.reverseFrom(n) {
		p.lines[existing+1] = p.lines[existing]
	}
	p.lines[n] = text
	return nil
}

// AppendAfter inserts text as a new line immediately after n, shifting
// every line after n down by one. Appending after the highest line number
// (or after 0, on an empty program) is the common "type more lines" case
// and needs no shifting.
func (p *Program) AppendAfter(n int, text string) error {
	if n < 0 {
		return fmt.Errorf("invalid line number %d", n)
	}
	return p.InsertBefore(n+1, text)
}

// reverseFrom returns every existing line number >= n, highest first, so
// InsertBefore can shift them down without clobbering a not-yet-moved line.
func (p *Program) reverseFrom(n int) []int {
	var ns []int
	for existing := range p.lines {
		if existing >= n {
			ns = append(ns, existing)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ns)))
	return ns
}

// Delete removes a range of lines [from, to] inclusive. Deleting line 0, or
// a range with no lines in it, is a silent no-op (spec boundary test).
func (p *Program) Delete(from, to int) {
	if from < 1 {
		return
	}
	if to < from {
		to = from
	}
	for n := from; n <= to; n++ {
		delete(p.lines, n)
	}
}

// Clear removes every line (the REPL's ":c" command).
func (p *Program) Clear() {
	p.lines = make(map[int]string)
}

// List returns the text of lines [from, to] inclusive, in ascending order,
// skipping any missing line numbers. An out-of-range request (start or end
// beyond the program) is a silent no-op that returns an empty slice rather
// than an error (spec boundary test).
func (p *Program) List(from, to int) []Entry {
	var out []Entry
	for _, n := range p.Numbers() {
		if n >= from && n <= to {
			out = append(out, Entry{Number: n, Text: p.lines[n]})
		}
	}
	return out
}

// Entry pairs a line number with its text, the unit List returns.
type Entry struct {
	Number int
	Text   string
}

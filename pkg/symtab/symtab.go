// Package symtab implements the variable and scope table: a single ordered
// list of variable descriptors with sentinel-delimited call frames, bump-
// pointer released in O(1) when a subroutine returns.
//
// Variables are never removed individually. A subroutine call pushes a
// sentinel before binding its own locals; returning from the subroutine
// truncates the table back to that sentinel, exactly the way the original
// implementation's linked list of vartabent records was unwound by
// resetting a single pointer on return.
package symtab

import "fmt"

// Kind is the scalar storage width of a variable.
type Kind int

const (
	Word Kind = iota // 16-bit
	Byte              // 8-bit
)

func (k Kind) String() string {
	if k == Byte {
		return "byte"
	}
	return "word"
}

// sentinelKey can never collide with a real truncated identifier key
// because '-' is not an identifier character.
const sentinelKey = "----"

// Descriptor describes one declared variable: its 4-byte lookup key, its
// scalar width, whether it is an array, and a backend-owned payload.
//
// Slot's concrete type depends on which Backend created the variable (spec
// "four payload kinds": interpret scalar/array, compile scalar/array) —
// symtab itself never interprets it.
type Descriptor struct {
	Key     string
	KindOf  Kind
	IsArray bool
	Size    int // element count; 0 for scalars
	Slot    any
}

// Table is the ordered variable and scope table.
type Table struct {
	entries []Descriptor
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Create declares a new variable at the current scope depth. Redefining a
// key already visible in the table is an error (spec: "variable
// redefined"), except that shadowing across a call-frame boundary is not
// checked here — callers are expected to check only within the current
// frame by passing sinceMark from the most recent MarkCallFrame, or 0 at
// top level.
func (t *Table) Create(sinceMark int, key string, kind Kind, isArray bool, size int, slot any) (*Descriptor, error) {
	for i := sinceMark; i < len(t.entries); i++ {
		if t.entries[i].Key == key {
			return nil, fmt.Errorf("variable redefined: %s", key)
		}
	}
	t.entries = append(t.entries, Descriptor{
		Key:     key,
		KindOf:  kind,
		IsArray: isArray,
		Size:    size,
		Slot:    slot,
	})
	return &t.entries[len(t.entries)-1], nil
}

// Find looks up the nearest visible binding for key, searching from the
// most recently created entry backward so a local shadows a global of the
// same key. Sentinel entries are skipped; lookup freely crosses a call
// frame boundary to find an outer (global) binding, matching the
// original's single unbroken linked-list scan.
func (t *Table) Find(key string) (*Descriptor, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Key == sentinelKey {
			continue
		}
		if t.entries[i].Key == key {
			return &t.entries[i], true
		}
	}
	return nil, false
}

// MarkCallFrame pushes a sentinel entry marking the start of a new call
// frame's locals and returns the mark to pass back to Create (so locals
// can only collide with other locals of the same call) and to
// DeleteCallFrame (to release them).
func (t *Table) MarkCallFrame() int {
	t.entries = append(t.entries, Descriptor{Key: sentinelKey})
	return len(t.entries)
}

// DeleteCallFrame releases every variable created since mark, including
// the sentinel that preceded them. This is an O(1) slice truncation, the
// Go equivalent of the original's pointer-reset frame release.
func (t *Table) DeleteCallFrame(mark int) {
	sentinelIdx := mark - 1
	if sentinelIdx < 0 || sentinelIdx > len(t.entries) {
		return
	}
	t.entries = t.entries[:sentinelIdx]
}

// Set replaces the slot payload of an existing descriptor found by key.
func (t *Table) Set(key string, slot any) bool {
	d, ok := t.Find(key)
	if !ok {
		return false
	}
	d.Slot = slot
	return true
}

// Clear empties the whole table (the "clear" statement, spec §4.3).
func (t *Table) Clear() {
	t.entries = t.entries[:0]
}

// Len reports how many entries (including sentinels) are currently live.
// Exposed mainly for tests and diagnostics.
func (t *Table) Len() int {
	return len(t.entries)
}

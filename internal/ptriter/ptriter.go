// Package ptriter defines the PointerIterator capability set (§4.5) that
// unifies memtable and SSTable cursors behind one interface, so the merge
// iterator can drive either without knowing which it holds.
package ptriter

import (
	"github.com/aalhour/lsmkv/internal/keyorder"
)

// PointerIterator is a stateful cursor positioned on an entry or
// exhausted (§3 "PointerIterator"). Priority breaks ties when two sources
// expose the same key — larger wins (§3, §4.5).
type PointerIterator interface {
	HasNext() bool
	PeekKey() []byte
	IsOnTombstone() bool
	Shift() error
	Next() (key, value []byte, err error)
	Priority() int
	CompareByKey(other PointerIterator) int
}

// leaf is the minimal shape both memtable.Iterator and sstable.Iterator
// satisfy; PointerIterator wrappers add CompareByKey on top using a shared
// comparator.
type leaf interface {
	HasNext() bool
	PeekKey() []byte
	IsOnTombstone() bool
	Shift() error
	Next() (key, value []byte, err error)
	Priority() int
}

// wrapper adapts a leaf cursor to PointerIterator using the store's
// configured key order for CompareByKey (§4.5 "the composite comparator
// used by the merge is: ascending by current key; on tie, descending by
// priority").
type wrapper struct {
	leaf
	compare keyorder.Comparator
}

// Wrap adapts any leaf cursor (memtable.Iterator, sstable.Iterator) to the
// PointerIterator interface.
func Wrap(l leaf, compare keyorder.Comparator) PointerIterator {
	if compare == nil {
		compare = keyorder.Bytewise
	}
	return &wrapper{leaf: l, compare: compare}
}

// CompareByKey implements the merge's composite ordering: ascending by key,
// descending by priority on ties (§4.5).
func (w *wrapper) CompareByKey(other PointerIterator) int {
	if c := w.compare(w.PeekKey(), other.PeekKey()); c != 0 {
		return c
	}
	// Tie: higher priority sorts first, so negate the natural order.
	if w.Priority() > other.Priority() {
		return -1
	}
	if w.Priority() < other.Priority() {
		return 1
	}
	return 0
}

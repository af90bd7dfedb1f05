package memtable

import (
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// Iterator is a half-open [from, to) range cursor over a MemTable's skip
// list. It exposes the PointerIterator leaf contract, including Priority,
// which is fixed when the cursor is created; internal/ptriter.Wrap adds
// CompareByKey on top. The same cursor type serves the active and the
// flushing memtable; the coordinator gives the active one's cursor the
// higher priority (math.MaxInt32) and the flushing one's the next lower.
type Iterator struct {
	it       *skipIterator
	to       []byte
	compare  keyorder.Comparator
	priority int
}

// HasNext reports whether the cursor is positioned on an entry within range.
func (it *Iterator) HasNext() bool {
	if !it.it.valid() {
		return false
	}
	if it.to != nil && it.compare(it.it.key(), it.to) >= 0 {
		return false
	}
	return true
}

// PeekKey returns the current entry's key without materializing its value.
func (it *Iterator) PeekKey() []byte {
	return it.it.key()
}

// IsOnTombstone reports whether the current entry is a deletion marker.
func (it *Iterator) IsOnTombstone() bool {
	e := it.it.entry()
	return e != nil && e.tombstone
}

// Shift advances past the current entry without materializing its value.
func (it *Iterator) Shift() error {
	if !it.HasNext() {
		return lsmkverrors.ErrPreconditionViolation
	}
	it.it.next()
	return nil
}

// Next materializes the current entry and advances.
func (it *Iterator) Next() (key, value []byte, err error) {
	if !it.HasNext() {
		return nil, nil, lsmkverrors.ErrPreconditionViolation
	}
	e := it.it.entry()
	key = it.it.key()
	value = e.value
	it.it.next()
	return key, value, nil
}

// Priority returns the fixed priority assigned to this cursor at creation.
func (it *Iterator) Priority() int {
	return it.priority
}

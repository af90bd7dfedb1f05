package sstable

import (
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// Iterator is a half-open [from, to) range cursor over an SSTableReader's
// index slots (§4.3 "Range iteration exposes a cursor ... supports
// peekKey ... to drive the merge without paying for value decompression on
// losing candidates").
type Iterator struct {
	r        *SSTableReader
	idx      int
	n        int
	to       []byte
	priority int

	peeked    bool
	peekedKey []byte
	peekedTomb bool
}

// HasNext reports whether the cursor is positioned on an entry within range.
func (it *Iterator) HasNext() bool {
	if it.idx >= it.n {
		return false
	}
	key := it.peekKeyRaw()
	if it.to != nil && it.r.compare(key, it.to) >= 0 {
		return false
	}
	return true
}

func (it *Iterator) peekKeyRaw() []byte {
	if !it.peeked {
		key, _, tomb, err := it.r.readEntryNoValue(it.idx)
		it.peekedKey = key
		it.peekedTomb = tomb
		it.peeked = true
		if err != nil {
			// Surfaced to the caller on the next materializing call
			// (Next/Shift); PeekKey itself has no error return per the
			// PointerIterator contract, so stash nothing more than the
			// empty key here.
			it.peekedKey = nil
		}
	}
	return it.peekedKey
}

// PeekKey returns the current entry's key without materializing its value.
func (it *Iterator) PeekKey() []byte {
	return it.peekKeyRaw()
}

// IsOnTombstone reports whether the current entry is a deletion marker.
func (it *Iterator) IsOnTombstone() bool {
	it.peekKeyRaw()
	return it.peekedTomb
}

func (it *Iterator) advance() {
	it.idx++
	it.peeked = false
	it.peekedKey = nil
	it.peekedTomb = false
}

// Shift advances past the current entry without materializing its value.
func (it *Iterator) Shift() error {
	if !it.HasNext() {
		return lsmkverrors.ErrPreconditionViolation
	}
	if it.peekedKey == nil {
		// The peek failed; re-read to surface its error.
		if _, _, _, err := it.r.readEntryNoValue(it.idx); err != nil {
			return err
		}
	}
	it.advance()
	return nil
}

// Next materializes the current entry and advances.
func (it *Iterator) Next() (key, value []byte, err error) {
	if !it.HasNext() {
		return nil, nil, lsmkverrors.ErrPreconditionViolation
	}
	key, value, _, err = it.r.readEntry(it.idx)
	if err != nil {
		return nil, nil, err
	}
	it.advance()
	return key, value, nil
}

// Priority returns the priority of this table's cursor (§3 "SSTables in
// descending generation order").
func (it *Iterator) Priority() int {
	return it.priority
}

// readEntryNoValue is a thin wrapper so Iterator can reuse the reader's key
// + tombstone materialization path without pulling in the value.
func (r *SSTableReader) readEntryNoValue(i int) (key []byte, value []byte, tombstone bool, err error) {
	if r.compressed {
		key, value, tombstone, err = r.readCompressedEntry(i, false)
	} else {
		key, value, tombstone, err = r.readUncompressedEntry(i, false)
	}
	return key, value, tombstone, err
}

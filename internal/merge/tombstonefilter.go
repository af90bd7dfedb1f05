package merge

import "github.com/aalhour/lsmkv/internal/lsmkverrors"

// source is the leaf-cursor shape FilterTombstones wraps: a MergeIterator,
// or anything else exposing the same HasNext/PeekKey/IsOnTombstone/Shift/
// Next subset.
type source interface {
	HasNext() bool
	PeekKey() []byte
	IsOnTombstone() bool
	Shift() error
	Next() (key, value []byte, err error)
}

// TombstoneFilter repeatedly consults the underlying merge's next logical
// key; if it is a tombstone, discards it and advances, otherwise exposes
// the entry (§4.5 "Tombstone-filter wrapper"). Used for user-facing reads
// and for compaction output.
type TombstoneFilter struct {
	src      source
	resolved bool
	ready    bool
	err      error
}

// FilterTombstones wraps src so every exposed entry is a live value.
func FilterTombstones(src source) *TombstoneFilter {
	return &TombstoneFilter{src: src}
}

func (f *TombstoneFilter) skipTombstones() error {
	if f.resolved {
		return f.err
	}
	f.resolved = true
	for f.src.HasNext() {
		if !f.src.IsOnTombstone() {
			f.ready = true
			return nil
		}
		if err := f.src.Shift(); err != nil {
			f.err = err
			return err
		}
	}
	f.ready = false
	return nil
}

// HasNext reports whether a live (non-tombstone) entry remains.
func (f *TombstoneFilter) HasNext() bool {
	_ = f.skipTombstones()
	return f.ready
}

// IsOnTombstone always reports false: a TombstoneFilter never exposes a
// tombstone entry by construction. Present so a TombstoneFilter itself
// satisfies sstable.EntrySource (compaction output must never re-emit a
// tombstone — §4.5 "compaction drops tombstones globally").
func (f *TombstoneFilter) IsOnTombstone() bool {
	return false
}

// PeekKey returns the current live entry's key.
func (f *TombstoneFilter) PeekKey() []byte {
	_ = f.skipTombstones()
	if !f.ready {
		return nil
	}
	return f.src.PeekKey()
}

// Shift advances past the current live entry without materializing it.
func (f *TombstoneFilter) Shift() error {
	if err := f.skipTombstones(); err != nil {
		return err
	}
	if !f.ready {
		return lsmkverrors.ErrPreconditionViolation
	}
	if err := f.src.Shift(); err != nil {
		return err
	}
	f.resolved = false
	return nil
}

// Next materializes the current live entry and advances.
func (f *TombstoneFilter) Next() (key, value []byte, err error) {
	if err := f.skipTombstones(); err != nil {
		return nil, nil, err
	}
	if !f.ready {
		return nil, nil, lsmkverrors.ErrPreconditionViolation
	}
	key, value, err = f.src.Next()
	if err != nil {
		return nil, nil, err
	}
	f.resolved = false
	return key, value, nil
}

// Package merge implements the N-way merge iterator with priority-based
// deduplication (§4.5) and its tombstone-filtering wrapper.
//
// Reference: teacher corpus's internal/iterator/merging_iterator.go, a
// container/heap min-heap over child iterators, generalized here from the
// teacher's Key()/Value()/Next() interface to the PointerIterator capability
// set (PeekKey/Shift/Next) so losing duplicates can be discarded via Shift
// without paying for value materialization.
package merge

import (
	"container/heap"

	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
	"github.com/aalhour/lsmkv/internal/ptriter"
)

// iterHeap is a min-heap of PointerIterators ordered by the composite
// comparator: ascending by current key, descending by priority on ties
// (§4.5), via PointerIterator.CompareByKey.
type iterHeap []ptriter.PointerIterator

func (h iterHeap) Len() int            { return len(h) }
func (h iterHeap) Less(i, j int) bool  { return h[i].CompareByKey(h[j]) < 0 }
func (h iterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *iterHeap) Push(x any)         { *h = append(*h, x.(ptriter.PointerIterator)) }
func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeIterator maintains a min-heap of non-exhausted PointerIterators and
// produces a deduplicated ascending stream (§4.5 "MergeIterator
// algorithm"). It exposes the same leaf-cursor shape PointerIterator
// wrappers do (HasNext/PeekKey/IsOnTombstone/Shift/Next), so it can itself
// be handed to sstable.WriteTo as an EntrySource for flush/compaction
// output, or wrapped by FilterTombstones for user-facing reads.
type MergeIterator struct {
	heap    iterHeap
	compare keyorder.Comparator

	resolved bool
	pending  ptriter.PointerIterator
	err      error
}

// New builds a MergeIterator over children, which need not be
// non-exhausted; exhausted sources are dropped immediately.
func New(children []ptriter.PointerIterator, compare keyorder.Comparator) *MergeIterator {
	if compare == nil {
		compare = keyorder.Bytewise
	}
	h := make(iterHeap, 0, len(children))
	for _, c := range children {
		if c.HasNext() {
			h = append(h, c)
		}
	}
	heap.Init(&h)
	return &MergeIterator{heap: h, compare: compare}
}

// resolve performs steps 1-2 of §4.5's algorithm: pop the head H, then pop
// and shift every heap-top duplicate sharing H's key (lower-priority
// duplicates; their values are discarded), leaving H ready to be
// materialized by Next/Shift.
func (m *MergeIterator) resolve() error {
	if m.resolved {
		return m.err
	}
	m.resolved = true

	if m.heap.Len() == 0 {
		m.pending = nil
		return nil
	}
	h := heap.Pop(&m.heap).(ptriter.PointerIterator)

	for m.heap.Len() > 0 && m.compare(m.heap[0].PeekKey(), h.PeekKey()) == 0 {
		dup := heap.Pop(&m.heap).(ptriter.PointerIterator)
		if err := dup.Shift(); err != nil {
			m.err = err
			return err
		}
		if dup.HasNext() {
			heap.Push(&m.heap, dup)
		}
	}

	m.pending = h
	return nil
}

// HasNext reports whether the merge has a next entry.
func (m *MergeIterator) HasNext() bool {
	_ = m.resolve()
	return m.pending != nil
}

// PeekKey returns the current entry's key without materializing its value.
func (m *MergeIterator) PeekKey() []byte {
	_ = m.resolve()
	if m.pending == nil {
		return nil
	}
	return m.pending.PeekKey()
}

// IsOnTombstone reports whether the current entry is a deletion marker.
func (m *MergeIterator) IsOnTombstone() bool {
	_ = m.resolve()
	if m.pending == nil {
		return false
	}
	return m.pending.IsOnTombstone()
}

// Shift advances past the current entry without materializing its value.
func (m *MergeIterator) Shift() error {
	if err := m.resolve(); err != nil {
		return err
	}
	if m.pending == nil {
		return lsmkverrors.ErrPreconditionViolation
	}
	h := m.pending
	if err := h.Shift(); err != nil {
		return err
	}
	if h.HasNext() {
		heap.Push(&m.heap, h)
	}
	m.pending = nil
	m.resolved = false
	return nil
}

// Next materializes the current entry (§4.5 step 3) and advances.
func (m *MergeIterator) Next() (key, value []byte, err error) {
	if err := m.resolve(); err != nil {
		return nil, nil, err
	}
	if m.pending == nil {
		return nil, nil, lsmkverrors.ErrPreconditionViolation
	}
	h := m.pending
	key, value, err = h.Next()
	if err != nil {
		return nil, nil, err
	}
	if h.HasNext() {
		heap.Push(&m.heap, h)
	}
	m.pending = nil
	m.resolved = false
	return key, value, nil
}

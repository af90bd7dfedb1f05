package memtable

import (
	"sync/atomic"

	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// NoThreshold disables overflow signalling (§3 "the special value 'no
// threshold' (used for the flushing slot and on close) disables overflow
// signalling").
const NoThreshold int64 = -1

// MemTable is the in-memory ordered map buffering upserts before a flush
// (§3 "MemTable", §4.4). It is backed by a lock-free-read skip list keyed
// directly on the raw user key — this store has no sequence numbers, so
// unlike the teacher's RocksDB-shaped memtable there is no internal-key
// trailer; priority across sources is tracked by the coordinator instead.
//
// Lifecycle: created empty; mutated only by the single writer path of the
// coordinator; destroyed after its content has been written to an
// SSTable.
type MemTable struct {
	skiplist *skipList
	compare  keyorder.Comparator

	byteSize       atomic.Int64
	flushThreshold int64
}

// New creates an empty MemTable with the given flush threshold. Pass
// NoThreshold to disable overflow signalling (the coordinator does so for
// the flushing slot).
func New(cmp keyorder.Comparator, flushThreshold int64) *MemTable {
	if cmp == nil {
		cmp = keyorder.Bytewise
	}
	return &MemTable{
		skiplist:       newSkipList(cmp),
		compare:        cmp,
		flushThreshold: flushThreshold,
	}
}

// Upsert inserts or overwrites key with value (or a tombstone, when
// tombstone is true). Returns overflowed=true when the post-insert size
// reaches flushThreshold, so the caller knows to trigger a flush.
//
// Per §9's documented ambiguity, both overflow policies are preserved:
// Upsert rejects with ErrOutOfMemory only when the memtable is already at
// or above threshold (and the sentinel NoThreshold is not set); otherwise
// it inserts unconditionally and reports whether the post-insert size
// reaches threshold.
//
// Concurrent Upserts are safe: the skip list serializes its writers
// internally and the byte counter is atomic. The coordinator's
// writer-shared lock only keeps Upsert from racing with flush's memtable
// swap.
func (m *MemTable) Upsert(key, value []byte, tombstone bool) (overflowed bool, err error) {
	if m.flushThreshold != NoThreshold && m.byteSize.Load() >= m.flushThreshold {
		return false, lsmkverrors.ErrOutOfMemory
	}

	e := &entry{value: value, tombstone: tombstone}
	old := m.skiplist.put(key, e)

	delta := e.size(len(key))
	if old != nil {
		delta -= old.size(len(key))
	}
	newSize := m.byteSize.Add(delta)

	if m.flushThreshold != NoThreshold && newSize >= m.flushThreshold {
		return true, nil
	}
	return false, nil
}

// Get performs an exact lookup. found is false when the key is absent.
// When found and tombstone is true, the key has been deleted.
func (m *MemTable) Get(key []byte) (value []byte, tombstone bool, found bool) {
	e := m.skiplist.get(key)
	if e == nil {
		return nil, false, false
	}
	return e.value, e.tombstone, true
}

// IsEmpty reports whether the memtable holds no entries.
func (m *MemTable) IsEmpty() bool {
	return m.skiplist.length() == 0
}

// ByteSize returns the current approximate occupied-byte count. Safe to
// call without the writer lock (§4.4 "the byte counter is an atomic
// integer").
func (m *MemTable) ByteSize() int64 {
	return m.byteSize.Load()
}

// Count returns the number of distinct keys currently held.
func (m *MemTable) Count() int64 {
	return m.skiplist.length()
}

// Iterator returns a half-open range cursor over [from, to) with the given
// priority (§4.4 "iterator(from, to, priorityReduction)"). A nil from
// starts at the first key; a nil to runs to the end.
func (m *MemTable) Iterator(from, to []byte, priority int) *Iterator {
	it := m.skiplist.newIterator()
	if from == nil {
		it.seekToFirst()
	} else {
		it.seek(from)
	}
	return &Iterator{it: it, to: to, compare: m.compare, priority: priority}
}

// Package memtable implements the in-memory ordered map that buffers
// upserts before a flush (§3 "MemTable", §4.4).
//
// This file provides the lock-free-read skip list backing a MemTable: a
// direct adaptation of the teacher's memtable/skiplist.go, keyed on raw
// user keys instead of RocksDB internal keys (no sequence-number trailer —
// this format has no per-entry sequence numbers; priority comes from which
// memtable/SSTable a key is found in, per §3/§4.4).
//
// Reads are lock-free; writers are serialized by the skip list's own
// mutex, which is what lets the coordinator's writer-shared lock admit
// several upserts at once. An overwrite of an existing key swaps that
// node's entry pointer atomically.
package memtable

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/aalhour/lsmkv/internal/keyorder"
)

const (
	// DefaultMaxHeight is the default maximum height for skip list nodes.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor is the default branching factor.
	// On average, 1/branchingFactor nodes will be promoted to next level.
	DefaultBranchingFactor = 4
)

// entry is the value held at a skip list node: either a live value or a
// tombstone marker (§3 "a tombstone is a distinct value-absent marker").
type entry struct {
	value     []byte
	tombstone bool
}

// size is the byte-accounting contribution of this entry per §3: key size
// plus value size plus a fixed per-entry overhead. Tombstones count their
// key plus overhead only.
func (e *entry) size(keyLen int) int64 {
	const perEntryOverhead = 16
	if e.tombstone {
		return int64(keyLen) + perEntryOverhead
	}
	return int64(keyLen) + int64(len(e.value)) + perEntryOverhead
}

// skipNode represents a node in the skip list. The entry pointer is
// replaced atomically on overwrite of an existing key so concurrent
// readers never observe a torn value.
type skipNode struct {
	key  []byte
	e    atomic.Pointer[entry]
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, e *entry, height int) *skipNode {
	node := &skipNode{
		key:  key,
		next: make([]*atomic.Pointer[skipNode], height),
	}
	node.e.Store(e)
	for i := range node.next {
		node.next[i] = &atomic.Pointer[skipNode]{}
	}
	return node
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

func (n *skipNode) entry() *entry {
	return n.e.Load()
}

// skipList is a lock-free (for reads) skip list implementation.
// Writes are serialized by writeMu.
type skipList struct {
	writeMu   sync.Mutex
	head      *skipNode
	maxHeight int32 // current max height, atomically accessed
	compare   keyorder.Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32 // scaled inverse of branching factor

	count int64
}

func newSkipList(cmp keyorder.Comparator) *skipList {
	if cmp == nil {
		cmp = keyorder.Bytewise
	}
	return &skipList{
		head:        newSkipNode(nil, nil, DefaultMaxHeight),
		maxHeight:   1,
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  DefaultMaxHeight,
		kBranching:  DefaultBranchingFactor,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(DefaultBranchingFactor),
	}
}

// put inserts or overwrites key with e. Returns the previous entry (nil if
// key was not present) so the caller can adjust the byte counter for the
// displaced value (§4.4 "adjusting the byte counter down by the displaced
// previous entry's size if any").
//
// Safe for concurrent callers: writeMu serializes writers, readers never
// block.
func (sl *skipList) put(key []byte, e *entry) *entry {
	sl.writeMu.Lock()
	defer sl.writeMu.Unlock()

	prev := make([]*skipNode, sl.kMaxHeight)
	x := sl.findGreaterOrEqual(key, prev)

	if x != nil && sl.compare(key, x.key) == 0 {
		old := x.entry()
		x.e.Store(e)
		return old
	}

	height := sl.randomHeight()

	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(key, e, height)
	for i := range height {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}
	atomic.AddInt64(&sl.count, 1)
	return nil
}

// get returns the entry for key, or nil if absent.
func (sl *skipList) get(key []byte) *entry {
	x := sl.findGreaterOrEqual(key, nil)
	if x != nil && sl.compare(key, x.key) == 0 {
		return x.entry()
	}
	return nil
}

func (sl *skipList) length() int64 {
	return atomic.LoadInt64(&sl.count)
}

// findGreaterOrEqual finds the first node with key >= given key. If prev
// is not nil, fills in prev[level] with the predecessor at each level.
func (sl *skipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

// skipIterator provides forward-only iteration over the skip list.
type skipIterator struct {
	list *skipList
	node *skipNode
}

func (sl *skipList) newIterator() *skipIterator {
	return &skipIterator{list: sl}
}

func (it *skipIterator) valid() bool {
	return it.node != nil
}

func (it *skipIterator) key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

func (it *skipIterator) entry() *entry {
	if it.node == nil {
		return nil
	}
	return it.node.entry()
}

func (it *skipIterator) next() {
	if it.node == nil {
		return
	}
	it.node = it.node.getNext(0)
}

// seek positions the iterator at the first entry with key >= target.
func (it *skipIterator) seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

func (it *skipIterator) seekToFirst() {
	it.node = it.list.head.getNext(0)
}

func (sl *skipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight {
		if sl.rng.Uint32() < sl.kScaledInvB {
			height++
		} else {
			break
		}
	}
	return height
}

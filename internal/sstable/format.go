// Package sstable implements the on-disk sorted table format (§4.1), its
// writer (§4.2), and its reader (§4.3).
//
// Binary layout is little-endian, unaligned, throughout. An entry is
// `(keySize:u64, keyBytes, valueSize:i64, valueBytes?)` where valueSize ==
// -1 denotes a tombstone and the value bytes are omitted.
//
// Reference: teacher corpus's internal/table/builder.go and
// internal/dbformat for the block-oriented writer idiom; this format has
// no bloom filter, properties, or metaindex blocks — it is intentionally
// much simpler than RocksDB's block format.
package sstable

import (
	"fmt"
)

// Generation identifies an SSTable's position in the newest-wins ordering
// (§3 "higher generation = newer = higher priority").
type Generation uint64

// FileNames returns the data, index, and compression-info paths for gen
// under dir (§6 "Filesystem layout").
func FileNames(dir string, gen Generation) (data, index, compressionInfo string) {
	base := fmt.Sprintf("%s/sstable_%020d", dir, uint64(gen))
	return base + ".data", base + ".index", base + ".compressionInfo"
}

// tempFileNames returns the same triple under a distinguishable temporary
// name the loader ignores until the writer atomically renames them into
// place (§4.2 "partially-written files MUST be ... left under a
// distinguishable temporary name that the loader ignores").
func tempFileNames(dir string, gen Generation) (data, index, compressionInfo string) {
	base := fmt.Sprintf("%s/sstable_%020d.tmp", dir, uint64(gen))
	return base + ".data", base + ".index", base + ".compressionInfo"
}

const (
	keySizeFieldLen   = 8 // u64
	valueSizeFieldLen = 8 // i64

	// tombstoneValueSize is the on-disk valueSize sentinel for a deletion
	// marker (§4.1 "valueSize == -1 denotes a tombstone").
	tombstoneValueSize = -1
)

// EntrySource is the minimal ascending-iterator capability the writer
// needs from its caller. internal/ptriter.PointerIterator and
// internal/merge's tombstone-filtered MergeIterator both satisfy this
// structurally, so sstable need not import either package.
type EntrySource interface {
	HasNext() bool
	IsOnTombstone() bool
	// Next materializes the current entry and advances. value is nil when
	// IsOnTombstone() was true for this entry.
	Next() (key, value []byte, err error)
}

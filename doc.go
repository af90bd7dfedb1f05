// Package lsmkv is an embedded ordered key-value store built on an
// LSM-tree: upserts land in an in-memory memtable, which flushes to an
// immutable, sorted SSTable on disk once it grows past a configured
// threshold; reads consult the active memtable, the memtable currently
// being flushed, and the loaded SSTables newest-first; compaction merges
// SSTables in the background to bound read amplification and reclaim
// space from overwritten and deleted keys.
//
// A Store is opened from a directory with Open, and is safe for
// concurrent use by multiple goroutines. Flush and compaction run on a
// single background worker; Flush and Close surface the most recent
// background failure, Get and Scan do not (§7).
//
// Reference: structured after the teacher corpus's top-level db package,
// generalized from a RocksDB-shaped column-family/WAL/manifest store down
// to this format's single-keyspace, no-WAL, no-sequence-number design.
package lsmkv

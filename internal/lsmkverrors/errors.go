// Package lsmkverrors defines the sentinel errors shared by every internal
// package and re-exported by the root package's errors.go (§7 "Error
// Handling Design"). It exists separately from the root package so internal
// packages can return these sentinels without importing the root package,
// which would create an import cycle.
package lsmkverrors

import "errors"

var (
	// ErrOutOfMemory: upsert rejected because the memtable is already at
	// threshold and no flush slot is available.
	ErrOutOfMemory = errors.New("lsmkv: memtable out of memory")

	// ErrTooManyFlushes: explicit flush() invoked while a prior flush is
	// still in progress.
	ErrTooManyFlushes = errors.New("lsmkv: flush already in progress")

	// ErrIoFailure: an underlying filesystem failure. Always wrapped with
	// its cause via fmt.Errorf("...: %w", cause).
	ErrIoFailure = errors.New("lsmkv: io failure")

	// ErrCompactionFailure: an asynchronous compaction failure surfaced to
	// a caller awaiting the corresponding background task.
	ErrCompactionFailure = errors.New("lsmkv: compaction failure")

	// ErrFlushFailure: an asynchronous flush failure surfaced to a caller
	// awaiting the corresponding background task.
	ErrFlushFailure = errors.New("lsmkv: flush failure")

	// ErrCreationFailure: the store could not be opened (directory scan or
	// mapping failed).
	ErrCreationFailure = errors.New("lsmkv: creation failure")

	// ErrPreconditionViolation: next called on an exhausted iterator, or an
	// operation performed after close.
	ErrPreconditionViolation = errors.New("lsmkv: precondition violation")
)

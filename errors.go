package lsmkv

import "github.com/aalhour/lsmkv/internal/lsmkverrors"

// Sentinel errors returned by Store methods (§7 "Error Handling Design").
// Background-task failures (flush, compaction) are wrapped around
// ErrFlushFailure/ErrCompactionFailure and surfaced only by Flush and
// Close, never by Get or Scan.
var (
	ErrOutOfMemory           = lsmkverrors.ErrOutOfMemory
	ErrTooManyFlushes        = lsmkverrors.ErrTooManyFlushes
	ErrIoFailure             = lsmkverrors.ErrIoFailure
	ErrCompactionFailure     = lsmkverrors.ErrCompactionFailure
	ErrFlushFailure          = lsmkverrors.ErrFlushFailure
	ErrCreationFailure       = lsmkverrors.ErrCreationFailure
	ErrPreconditionViolation = lsmkverrors.ErrPreconditionViolation
)

// Package checksum computes the per-table integrity check stored in a
// SSTable's compression-info file and verified on SSTableReader.Open
// (§4.3 "verify checksum; on mismatch return ErrIoFailure").
//
// Reference: teacher corpus's internal/checksum package declares
// github.com/zeebo/xxh3 in go.mod but hand-rolls its own XXH3 core instead
// of calling it. lsmkv closes that gap and calls the real library.
package checksum

import "github.com/zeebo/xxh3"

// Sum64 returns the XXH3 64-bit checksum of data.
func Sum64(data []byte) uint64 {
	return xxh3.Hash(data)
}

// Verify reports whether data hashes to want.
func Verify(data []byte, want uint64) bool {
	return Sum64(data) == want
}

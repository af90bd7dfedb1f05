package lsmkv

import (
	"github.com/aalhour/lsmkv/internal/compression"
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/logging"
)

// CompressionKind selects the SSTable data-file layout (§4.1).
type CompressionKind int

const (
	// CompressionNone selects the uncompressed layout.
	CompressionNone CompressionKind = iota
	// CompressionLZ4 selects the compressed layout with LZ4 blocks.
	CompressionLZ4
	// CompressionZstd selects the compressed layout with Zstandard blocks.
	CompressionZstd
	// CompressionSnappy selects the compressed layout with Snappy blocks.
	CompressionSnappy
)

// CompressionOptions configures the compressed layout (§4.1, §6
// "compression: {none | lz4(blockSize: integer)}"). BlockSize is ignored
// when Kind is CompressionNone.
type CompressionOptions struct {
	Kind      CompressionKind
	BlockSize int
}

// Options configures a Store (§6 "Configuration recognized by the core").
// Grounded on the teacher's internal/options/file.go struct-of-tunables
// shape; this core has no on-disk OPTIONS-file format, only the in-memory
// struct (directory scanning/file naming is an external-collaborator
// concern per §1).
type Options struct {
	// FlushThresholdBytes is the active memtable's flush threshold (§3).
	FlushThresholdBytes int64
	// StorageDir is the directory holding the store's SSTable triples.
	StorageDir string
	// Compression selects the SSTable layout written by flush/compaction.
	Compression CompressionOptions
	// Logger receives flush/compaction scheduling and background-failure
	// messages. Defaults to a discard logger.
	Logger logging.Logger
	// Comparator overrides the default unsigned-lexicographic key order.
	Comparator keyorder.Comparator
}

// DefaultOptions returns reasonable defaults for a store rooted at dir:
// a 4 MiB flush threshold, LZ4-compressed 4 KiB blocks, a discard logger,
// and bytewise key order.
func DefaultOptions(dir string) Options {
	return Options{
		FlushThresholdBytes: 4 << 20,
		StorageDir:          dir,
		Compression: CompressionOptions{
			Kind:      CompressionLZ4,
			BlockSize: 4096,
		},
		Logger:     logging.Discard,
		Comparator: keyorder.Bytewise,
	}
}

// compressionCodec maps a public CompressionKind to the internal Codec the
// SSTable writer/reader use (§4.1, §4.2).
func compressionCodec(opts CompressionOptions) (compression.Codec, error) {
	switch opts.Kind {
	case CompressionNone:
		return compression.ByAlgorithm(compression.AlgorithmNone)
	case CompressionLZ4:
		return compression.ByAlgorithm(compression.AlgorithmLZ4)
	case CompressionZstd:
		return compression.ByAlgorithm(compression.AlgorithmZstd)
	case CompressionSnappy:
		return compression.ByAlgorithm(compression.AlgorithmSnappy)
	default:
		return compression.ByAlgorithm(compression.AlgorithmNone)
	}
}

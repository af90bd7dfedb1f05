// Package compression provides the pluggable block compressor consumed by
// the SSTable writer/reader (§2 "BlockCompressor", §4.1 compressed layout).
//
// A Codec is deliberately narrow: compress a block, decompress a block, and
// report the on-disk algorithm tag that lets a reader pick the right codec
// without consulting current Options.
//
// Reference: teacher corpus's internal/compression/compression.go, adapted
// from the RocksDB block-compression menu down to the identity case plus
// three real ecosystem codecs.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is the on-disk compression-info "algorithm" byte (§4.1).
type Algorithm uint8

const (
	AlgorithmNone   Algorithm = 0
	AlgorithmLZ4    Algorithm = 1
	AlgorithmZstd   Algorithm = 2
	AlgorithmSnappy Algorithm = 3
)

// Codec compresses and decompresses whole blocks of the logical entry
// byte stream (§4.1's uncompressedBlockSize windows).
type Codec interface {
	Algorithm() Algorithm
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses data, which is known to expand to exactly
	// uncompressedSize bytes (the writer never emits a non-final block
	// that decompresses to anything but uncompressedBlockSize bytes).
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
}

// ByAlgorithm returns the Codec for an on-disk algorithm tag, so a reader
// can decode a table regardless of the store's current Options.
func ByAlgorithm(a Algorithm) (Codec, error) {
	switch a {
	case AlgorithmNone:
		return NoopCodec{}, nil
	case AlgorithmLZ4:
		return LZ4Codec{}, nil
	case AlgorithmZstd:
		return ZstdCodec{}, nil
	case AlgorithmSnappy:
		return SnappyCodec{}, nil
	default:
		return nil, fmt.Errorf("compression: unknown algorithm tag %d", a)
	}
}

// NoopCodec is the identity compressor (§2's "identity (no-op)" variant).
type NoopCodec struct{}

func (NoopCodec) Algorithm() Algorithm { return AlgorithmNone }

func (NoopCodec) Compress(data []byte) ([]byte, error) { return data, nil }

func (NoopCodec) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	return data, nil
}

// LZ4Codec is the default compressed-layout codec (§2's "e.g. LZ4" variant),
// using LZ4's raw block format (not the framed format, which carries its
// own headers we don't need since block boundaries are tracked externally
// by the compression-info file).
type LZ4Codec struct{}

func (LZ4Codec) Algorithm() Algorithm { return AlgorithmLZ4 }

func (LZ4Codec) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst, ht[:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress block: %w", err)
	}
	if n == 0 {
		// Incompressible input: CompressBlock signals this by writing 0
		// bytes. Store it as a literal block the decompressor recognizes.
		return append([]byte{0}, data...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

func (LZ4Codec) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == 0 {
		return data[1:], nil
	}
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[1:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 uncompress block: %w", err)
	}
	return dst[:n], nil
}

// ZstdCodec is a second pluggable compressed-layout codec.
type ZstdCodec struct{}

func (ZstdCodec) Algorithm() Algorithm { return AlgorithmZstd }

func (ZstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (ZstdCodec) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// SnappyCodec is a third pluggable compressed-layout codec.
type SnappyCodec struct{}

func (SnappyCodec) Algorithm() Algorithm { return AlgorithmSnappy }

func (SnappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (SnappyCodec) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	dst := make([]byte, 0, uncompressedSize)
	return snappy.Decode(dst, data)
}

package sstable

import (
	"fmt"
	"os"

	"github.com/aalhour/lsmkv/internal/checksum"
	"github.com/aalhour/lsmkv/internal/compression"
	"github.com/aalhour/lsmkv/internal/encoding"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// WriteOptions configures the layout produced by WriteTo (§4.2 "a
// destination generation number, and configuration selecting layout and
// (if compressed) compressor plus uncompressedBlockSize").
type WriteOptions struct {
	// Codec selects the compressed layout when non-nil and not a
	// NoopCodec; nil or NoopCodec produces the uncompressed layout.
	Codec compression.Codec
	// UncompressedBlockSize is the logical block size for the compressed
	// layout. Ignored for the uncompressed layout.
	UncompressedBlockSize uint32
}

// WriteTo serializes src into a fresh SSTable triple under dir at
// generation gen, fsyncing all three files and atomically renaming them
// into place (§4.2). On any I/O failure, partial temp files are removed
// and the error is wrapped as ErrIoFailure.
func WriteTo(dir string, gen Generation, src EntrySource, opts WriteOptions) (err error) {
	tmpData, tmpIndex, tmpInfo := tempFileNames(dir, gen)
	defer func() {
		if err != nil {
			os.Remove(tmpData)
			os.Remove(tmpIndex)
			os.Remove(tmpInfo)
		}
	}()

	compressed := opts.Codec != nil && opts.Codec.Algorithm() != compression.AlgorithmNone
	if compressed {
		err = writeCompressed(tmpData, tmpIndex, tmpInfo, src, opts)
	} else {
		err = writeUncompressed(tmpData, tmpIndex, tmpInfo, src)
	}
	if err != nil {
		return err
	}

	finalData, finalIndex, finalInfo := FileNames(dir, gen)
	for _, rn := range [][2]string{{tmpData, finalData}, {tmpIndex, finalIndex}, {tmpInfo, finalInfo}} {
		if err = os.Rename(rn[0], rn[1]); err != nil {
			return fmt.Errorf("%w: rename %s: %v", lsmkverrors.ErrIoFailure, rn[0], err)
		}
	}
	return nil
}

func writeUncompressed(dataPath, indexPath, infoPath string, src EntrySource) error {
	dataFile, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("%w: create data file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer dataFile.Close()

	var offsets []uint64
	var offset uint64
	hasNoTombstones := true

	var hdr [keySizeFieldLen]byte
	var vhdr [valueSizeFieldLen]byte

	for src.HasNext() {
		tombstone := src.IsOnTombstone()
		key, value, nerr := src.Next()
		if nerr != nil {
			return fmt.Errorf("%w: read source entry: %v", lsmkverrors.ErrIoFailure, nerr)
		}

		offsets = append(offsets, offset)

		encoding.EncodeFixed64(hdr[:], uint64(len(key)))
		if n, werr := dataFile.Write(hdr[:]); werr != nil {
			return fmt.Errorf("%w: write keySize: %v", lsmkverrors.ErrIoFailure, werr)
		} else {
			offset += uint64(n)
		}
		if n, werr := dataFile.Write(key); werr != nil {
			return fmt.Errorf("%w: write key: %v", lsmkverrors.ErrIoFailure, werr)
		} else {
			offset += uint64(n)
		}

		valueSize := int64(len(value))
		if tombstone {
			valueSize = tombstoneValueSize
			hasNoTombstones = false
		}
		encoding.EncodeInt64(vhdr[:], valueSize)
		if n, werr := dataFile.Write(vhdr[:]); werr != nil {
			return fmt.Errorf("%w: write valueSize: %v", lsmkverrors.ErrIoFailure, werr)
		} else {
			offset += uint64(n)
		}
		if !tombstone {
			if n, werr := dataFile.Write(value); werr != nil {
				return fmt.Errorf("%w: write value: %v", lsmkverrors.ErrIoFailure, werr)
			} else {
				offset += uint64(n)
			}
		}
	}

	if err := dataFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync data file: %v", lsmkverrors.ErrIoFailure, err)
	}

	indexFile, err := os.Create(indexPath)
	if err != nil {
		return fmt.Errorf("%w: create index file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer indexFile.Close()

	buf := make([]byte, 0, 1+8+8*len(offsets))
	buf = append(buf, boolByte(hasNoTombstones))
	buf = encoding.AppendFixed64(buf, uint64(len(offsets)))
	for _, off := range offsets {
		buf = encoding.AppendFixed64(buf, off)
	}
	if _, err := indexFile.Write(buf); err != nil {
		return fmt.Errorf("%w: write index file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if err := indexFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync index file: %v", lsmkverrors.ErrIoFailure, err)
	}

	dataSum, err := checksumFile(dataPath)
	if err != nil {
		return err
	}
	infoFile, err := os.Create(infoPath)
	if err != nil {
		return fmt.Errorf("%w: create compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer infoFile.Close()

	infoBuf := []byte{0}
	infoBuf = encoding.AppendFixed64(infoBuf, dataSum)
	if _, err := infoFile.Write(infoBuf); err != nil {
		return fmt.Errorf("%w: write compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if err := infoFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	return nil
}

// compressedWriter holds the block-straddling state of §4.2's compressed
// writer algorithm: a fixed-capacity blockBuffer, an in-block offset, a
// running compressed-data offset, and a block count.
type compressedWriter struct {
	dataFile *os.File
	codec    compression.Codec

	blockSize      uint32
	blockBuffer    []byte
	inBlockOffset  uint32
	dataOffset     uint32
	blockCount     uint32
	blockOffsets   []uint32 // one per flushed block, in order
}

func newCompressedWriter(dataFile *os.File, codec compression.Codec, blockSize uint32) *compressedWriter {
	return &compressedWriter{
		dataFile:    dataFile,
		codec:       codec,
		blockSize:   blockSize,
		blockBuffer: make([]byte, blockSize),
	}
}

// write appends data to the logical byte stream, flushing full blocks to
// the data file as the buffer fills (§4.2 step 3, §9 "block-straddling
// fields").
func (w *compressedWriter) write(data []byte) error {
	for len(data) > 0 {
		space := w.blockSize - w.inBlockOffset
		take := uint32(len(data))
		if take > space {
			take = space
		}
		copy(w.blockBuffer[w.inBlockOffset:], data[:take])
		w.inBlockOffset += take
		data = data[take:]

		if w.inBlockOffset == w.blockSize {
			if err := w.flushBlock(w.blockBuffer); err != nil {
				return err
			}
			w.inBlockOffset = 0
		}
	}
	return nil
}

// flushBlock compresses a full (or, for the tail, partial) block and
// appends it to the data file, recording its pre-compression data-file
// offset in the compression-info block-offset table.
func (w *compressedWriter) flushBlock(block []byte) error {
	compressed, err := w.codec.Compress(block)
	if err != nil {
		return fmt.Errorf("%w: compress block: %v", lsmkverrors.ErrIoFailure, err)
	}
	w.blockOffsets = append(w.blockOffsets, w.dataOffset)
	n, err := w.dataFile.Write(compressed)
	if err != nil {
		return fmt.Errorf("%w: write compressed block: %v", lsmkverrors.ErrIoFailure, err)
	}
	w.dataOffset += uint32(n)
	w.blockCount++
	return nil
}

// finish flushes the tail block (possibly empty) and returns its size in
// valid uncompressed bytes (§4.2 step 4).
func (w *compressedWriter) finish() (tailSize uint32, err error) {
	tailSize = w.inBlockOffset
	if err := w.flushBlock(w.blockBuffer[:w.inBlockOffset]); err != nil {
		return 0, err
	}
	return tailSize, nil
}

func writeCompressed(dataPath, indexPath, infoPath string, src EntrySource, opts WriteOptions) error {
	dataFile, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("%w: create data file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer dataFile.Close()

	blockSize := opts.UncompressedBlockSize
	if blockSize == 0 {
		blockSize = 4096
	}
	bw := newCompressedWriter(dataFile, opts.Codec, blockSize)

	type indexEntry struct {
		blockNumber       uint32
		byteOffsetInBlock uint32
	}
	var indexEntries []indexEntry
	hasNoTombstones := true

	var hdr [keySizeFieldLen]byte
	var vhdr [valueSizeFieldLen]byte

	for src.HasNext() {
		tombstone := src.IsOnTombstone()
		key, value, nerr := src.Next()
		if nerr != nil {
			return fmt.Errorf("%w: read source entry: %v", lsmkverrors.ErrIoFailure, nerr)
		}

		indexEntries = append(indexEntries, indexEntry{
			blockNumber:       bw.blockCount,
			byteOffsetInBlock: bw.inBlockOffset,
		})

		encoding.EncodeFixed64(hdr[:], uint64(len(key)))
		if err := bw.write(hdr[:]); err != nil {
			return err
		}
		if err := bw.write(key); err != nil {
			return err
		}

		valueSize := int64(len(value))
		if tombstone {
			valueSize = tombstoneValueSize
			hasNoTombstones = false
		}
		encoding.EncodeInt64(vhdr[:], valueSize)
		if err := bw.write(vhdr[:]); err != nil {
			return err
		}
		if !tombstone {
			if err := bw.write(value); err != nil {
				return err
			}
		}
	}

	tailSize, err := bw.finish()
	if err != nil {
		return err
	}
	if err := dataFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync data file: %v", lsmkverrors.ErrIoFailure, err)
	}

	indexFile, err := os.Create(indexPath)
	if err != nil {
		return fmt.Errorf("%w: create index file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer indexFile.Close()

	idxBuf := make([]byte, 0, 1+8+8*len(indexEntries))
	idxBuf = append(idxBuf, boolByte(hasNoTombstones))
	idxBuf = encoding.AppendFixed64(idxBuf, uint64(len(indexEntries)))
	for _, e := range indexEntries {
		idxBuf = encoding.AppendFixed32(idxBuf, e.blockNumber)
		idxBuf = encoding.AppendFixed32(idxBuf, e.byteOffsetInBlock)
	}
	if _, err := indexFile.Write(idxBuf); err != nil {
		return fmt.Errorf("%w: write index file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if err := indexFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync index file: %v", lsmkverrors.ErrIoFailure, err)
	}

	dataSum, err := checksumFile(dataPath)
	if err != nil {
		return err
	}
	infoFile, err := os.Create(infoPath)
	if err != nil {
		return fmt.Errorf("%w: create compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	defer infoFile.Close()

	infoBuf := []byte{1, byte(opts.Codec.Algorithm())}
	infoBuf = encoding.AppendFixed32(infoBuf, bw.blockCount)
	infoBuf = encoding.AppendFixed32(infoBuf, blockSize)
	for _, off := range bw.blockOffsets {
		infoBuf = encoding.AppendFixed32(infoBuf, off)
	}
	infoBuf = encoding.AppendFixed32(infoBuf, tailSize)
	infoBuf = encoding.AppendFixed64(infoBuf, dataSum)

	if _, err := infoFile.Write(infoBuf); err != nil {
		return fmt.Errorf("%w: write compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if err := infoFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	return nil
}

func checksumFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: checksum %s: %v", lsmkverrors.ErrIoFailure, path, err)
	}
	return checksum.Sum64(data), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

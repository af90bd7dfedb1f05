package sstable

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/aalhour/lsmkv/internal/checksum"
	"github.com/aalhour/lsmkv/internal/compression"
	"github.com/aalhour/lsmkv/internal/encoding"
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// compressedIndexEntry locates entry k's keySize field within the
// uncompressed block stream (§4.1 compressed-layout index).
type compressedIndexEntry struct {
	blockNumber       uint32
	byteOffsetInBlock uint32
}

// SSTableReader maps one on-disk table and answers point lookups by
// binary search over the index plus a forward cursor for range scans
// (§4.3). The index and compression-info files are read eagerly; the
// (potentially large) data file is mapped lazily on first use and kept
// mapped until Close (§5 "Shared immutable mappings").
//
// Safe for concurrent Get/Iterator calls once opened: all fields besides
// the lazily-initialized mmap handle are immutable after Open, and the
// mmap handle itself is set at most once (guarded by mapOnce).
type SSTableReader struct {
	dir        string
	generation Generation
	priority   int
	compare    keyorder.Comparator

	hasNoTombstones bool
	entriesCount    uint64

	compressed bool
	codec      compression.Codec
	blockSize  uint32
	blockOffs  []uint32               // compressed-layout only: data-file offset of block k
	tailSize   uint32
	offsets    []uint64               // uncompressed-layout only: data-file offset of entry k
	indexEntrs []compressedIndexEntry // compressed-layout only: (blockNumber, byteOffset) of entry k

	dataPath string
	mapOnce  sync.Once
	data     *mmap.ReaderAt
	mapErr   error
}

// Open opens the SSTable triple at generation gen under dir, verifying its
// XXH3 checksum before trusting the index (domain-stack addition: a
// mismatch is reported as ErrIoFailure, the durability check this store
// performs beyond the literal spec text since the table is otherwise
// trusted as-is).
func Open(dir string, gen Generation, priority int, compare keyorder.Comparator) (*SSTableReader, error) {
	if compare == nil {
		compare = keyorder.Bytewise
	}
	dataPath, indexPath, infoPath := FileNames(dir, gen)

	info, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read compression-info file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if len(info) < 1 {
		return nil, fmt.Errorf("%w: truncated compression-info file %s", lsmkverrors.ErrIoFailure, infoPath)
	}

	r := &SSTableReader{
		dir:        dir,
		generation: gen,
		priority:   priority,
		compare:    compare,
		dataPath:   dataPath,
	}

	var checksumOffset int
	isCompressed := info[0] == 1
	r.compressed = isCompressed
	if !isCompressed {
		checksumOffset = 1
	} else {
		if len(info) < 1+1+4+4 {
			return nil, fmt.Errorf("%w: truncated compression-info header %s", lsmkverrors.ErrIoFailure, infoPath)
		}
		algorithm := compression.Algorithm(info[1])
		codec, cerr := compression.ByAlgorithm(algorithm)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %v", lsmkverrors.ErrIoFailure, cerr)
		}
		r.codec = codec
		blockCount := encoding.DecodeFixed32(info[2:6])
		r.blockSize = encoding.DecodeFixed32(info[6:10])

		off := 10
		r.blockOffs = make([]uint32, blockCount)
		for i := uint32(0); i < blockCount; i++ {
			r.blockOffs[i] = encoding.DecodeFixed32(info[off : off+4])
			off += 4
		}
		r.tailSize = encoding.DecodeFixed32(info[off : off+4])
		off += 4
		checksumOffset = off
	}

	if len(info) >= checksumOffset+8 {
		wantSum := encoding.DecodeFixed64(info[checksumOffset : checksumOffset+8])
		dataBytes, rerr := os.ReadFile(dataPath)
		if rerr != nil {
			return nil, fmt.Errorf("%w: read data file for checksum: %v", lsmkverrors.ErrIoFailure, rerr)
		}
		if !checksum.Verify(dataBytes, wantSum) {
			return nil, fmt.Errorf("%w: checksum mismatch in %s", lsmkverrors.ErrIoFailure, dataPath)
		}
	}

	index, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read index file: %v", lsmkverrors.ErrIoFailure, err)
	}
	if len(index) < 1+8 {
		return nil, fmt.Errorf("%w: truncated index file %s", lsmkverrors.ErrIoFailure, indexPath)
	}
	r.hasNoTombstones = index[0] == 1
	r.entriesCount = encoding.DecodeFixed64(index[1:9])
	rest := index[9:]

	if uint64(len(rest)) < r.entriesCount*8 {
		return nil, fmt.Errorf("%w: truncated index entries in %s", lsmkverrors.ErrIoFailure, indexPath)
	}
	if !isCompressed {
		r.offsets = make([]uint64, r.entriesCount)
		for i := uint64(0); i < r.entriesCount; i++ {
			r.offsets[i] = encoding.DecodeFixed64(rest[i*8 : i*8+8])
		}
	} else {
		r.indexEntrs = make([]compressedIndexEntry, r.entriesCount)
		for i := uint64(0); i < r.entriesCount; i++ {
			base := i * 8
			r.indexEntrs[i] = compressedIndexEntry{
				blockNumber:       encoding.DecodeFixed32(rest[base : base+4]),
				byteOffsetInBlock: encoding.DecodeFixed32(rest[base+4 : base+8]),
			}
		}
	}

	return r, nil
}

// Generation returns the table's generation number.
func (r *SSTableReader) Generation() Generation { return r.generation }

// Priority returns the priority assigned to this table at load time
// (§3 "SSTables in descending generation order").
func (r *SSTableReader) Priority() int { return r.priority }

// HasNoTombstones reports the index hint used to shortcut merge logic
// (§4.1 "hasNoTombstones").
func (r *SSTableReader) HasNoTombstones() bool { return r.hasNoTombstones }

// Count returns the number of entries in the table.
func (r *SSTableReader) Count() uint64 { return r.entriesCount }

// ensureMapped lazily opens the data file's memory mapping, mapping it at
// most once even under concurrent callers.
func (r *SSTableReader) ensureMapped() error {
	r.mapOnce.Do(func() {
		m, err := mmap.Open(r.dataPath)
		if err != nil {
			r.mapErr = fmt.Errorf("%w: mmap %s: %v", lsmkverrors.ErrIoFailure, r.dataPath, err)
			return
		}
		r.data = m
	})
	return r.mapErr
}

// Close releases the table's memory mapping.
func (r *SSTableReader) Close() error {
	if r.data == nil {
		return nil
	}
	err := r.data.Close()
	r.data = nil
	return err
}

// Get performs a binary-search point lookup (§4.3). found is false when
// this table has no entry with key. A found tombstone is returned with a
// nil value and tombstone=true — filtering it out is the caller's job.
func (r *SSTableReader) Get(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if err := r.ensureMapped(); err != nil {
		return nil, false, false, err
	}
	n := int(r.entriesCount)
	var searchErr error
	idx := sort.Search(n, func(i int) bool {
		k, kerr := r.readKey(i)
		if kerr != nil {
			searchErr = kerr
			return true
		}
		return r.compare(k, key) >= 0
	})
	if searchErr != nil {
		return nil, false, false, searchErr
	}
	if idx >= n {
		return nil, false, false, nil
	}
	k, v, tomb, rerr := r.readEntry(idx)
	if rerr != nil {
		return nil, false, false, rerr
	}
	if r.compare(k, key) != 0 {
		return nil, false, false, nil
	}
	return v, tomb, true, nil
}

// Iterator returns a half-open [from, to) range cursor (§4.3).
func (r *SSTableReader) Iterator(from, to []byte) (*Iterator, error) {
	if err := r.ensureMapped(); err != nil {
		return nil, err
	}
	n := int(r.entriesCount)
	start := 0
	if from != nil {
		var searchErr error
		start = sort.Search(n, func(i int) bool {
			k, kerr := r.readKey(i)
			if kerr != nil {
				searchErr = kerr
				return true
			}
			return r.compare(k, from) >= 0
		})
		if searchErr != nil {
			return nil, searchErr
		}
	}
	return &Iterator{r: r, idx: start, n: n, to: to, priority: r.priority}, nil
}

// readKey reads just the key of index slot i, without the value (§4.3
// "materializes enough of the entry to compare its key").
func (r *SSTableReader) readKey(i int) (key []byte, err error) {
	if r.compressed {
		key, _, _, err = r.readCompressedEntry(i, false)
	} else {
		key, _, _, err = r.readUncompressedEntry(i, false)
	}
	return key, err
}

// readEntry reads the full entry (key and, unless a tombstone, value) at
// index slot i.
func (r *SSTableReader) readEntry(i int) (key, value []byte, tombstone bool, err error) {
	if r.compressed {
		return r.readCompressedEntry(i, true)
	}
	return r.readUncompressedEntry(i, true)
}

func (r *SSTableReader) readUncompressedEntry(i int, withValue bool) (key, value []byte, tombstone bool, err error) {
	off := int64(r.offsets[i])
	var hdr [keySizeFieldLen]byte
	if _, err := r.data.ReadAt(hdr[:], off); err != nil {
		return nil, nil, false, fmt.Errorf("%w: read keySize: %v", lsmkverrors.ErrIoFailure, err)
	}
	keySize := encoding.DecodeFixed64(hdr[:])
	off += keySizeFieldLen

	key = make([]byte, keySize)
	if keySize > 0 {
		if _, err := r.data.ReadAt(key, off); err != nil {
			return nil, nil, false, fmt.Errorf("%w: read key: %v", lsmkverrors.ErrIoFailure, err)
		}
	}
	off += int64(keySize)

	var vhdr [valueSizeFieldLen]byte
	if _, err := r.data.ReadAt(vhdr[:], off); err != nil {
		return nil, nil, false, fmt.Errorf("%w: read valueSize: %v", lsmkverrors.ErrIoFailure, err)
	}
	valueSize := encoding.DecodeInt64(vhdr[:])
	off += valueSizeFieldLen

	if valueSize == tombstoneValueSize {
		return key, nil, true, nil
	}
	if !withValue {
		return key, nil, false, nil
	}
	value = make([]byte, valueSize)
	if valueSize > 0 {
		if _, err := r.data.ReadAt(value, off); err != nil {
			return nil, nil, false, fmt.Errorf("%w: read value: %v", lsmkverrors.ErrIoFailure, err)
		}
	}
	return key, value, false, nil
}

func (r *SSTableReader) readCompressedEntry(i int, withValue bool) (key, value []byte, tombstone bool, err error) {
	e := r.indexEntrs[i]
	cur, err := newBlockCursor(r, e.blockNumber, e.byteOffsetInBlock)
	if err != nil {
		return nil, nil, false, err
	}

	keySizeBuf, err := cur.readBytes(keySizeFieldLen)
	if err != nil {
		return nil, nil, false, err
	}
	keySize := encoding.DecodeFixed64(keySizeBuf)

	key, err = cur.readBytes(int(keySize))
	if err != nil {
		return nil, nil, false, err
	}

	valueSizeBuf, err := cur.readBytes(valueSizeFieldLen)
	if err != nil {
		return nil, nil, false, err
	}
	valueSize := encoding.DecodeInt64(valueSizeBuf)

	if valueSize == tombstoneValueSize {
		return key, nil, true, nil
	}
	if !withValue {
		return key, nil, false, nil
	}
	value, err = cur.readBytes(int(valueSize))
	if err != nil {
		return nil, nil, false, err
	}
	return key, value, false, nil
}

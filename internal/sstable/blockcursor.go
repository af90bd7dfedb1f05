package sstable

import (
	"fmt"

	"github.com/aalhour/lsmkv/internal/lsmkverrors"
)

// blockCursor reads an arbitrary byte range from the compressed layout's
// logical block stream, decompressing and stitching across as many block
// boundaries as a field straddles (§4.1 "Logical entries MAY span block
// boundaries", §9 "readers symmetrically stitch fields from up to two
// adjacent decompressed blocks" — generalized here to any number of
// blocks, since a sufficiently large value could span more than two).
type blockCursor struct {
	r          *SSTableReader
	blockIdx   uint32
	block      []byte
	offInBlock int
}

func newBlockCursor(r *SSTableReader, blockIdx, byteOffset uint32) (*blockCursor, error) {
	c := &blockCursor{r: r, blockIdx: blockIdx}
	if err := c.loadBlock(); err != nil {
		return nil, err
	}
	c.offInBlock = int(byteOffset)
	return c, nil
}

func (c *blockCursor) loadBlock() error {
	r := c.r
	if c.blockIdx >= uint32(len(r.blockOffs)) {
		return fmt.Errorf("%w: block index %d out of range", lsmkverrors.ErrIoFailure, c.blockIdx)
	}
	start := int64(r.blockOffs[c.blockIdx])
	var end int64
	if int(c.blockIdx)+1 < len(r.blockOffs) {
		end = int64(r.blockOffs[c.blockIdx+1])
	} else {
		// Last block: read to end of data file via its known compressed
		// length, derived from the file size at Open time would require
		// an extra stat; instead read generously and let Decompress bound
		// the result — the data file's actual length is the hard limit.
		end = -1
	}

	var compressed []byte
	if end >= 0 {
		compressed = make([]byte, end-start)
		if _, err := r.data.ReadAt(compressed, start); err != nil {
			return fmt.Errorf("%w: read block %d: %v", lsmkverrors.ErrIoFailure, c.blockIdx, err)
		}
	} else {
		// Grow the read buffer until ReadAt stops returning more data;
		// mmap.ReaderAt.ReadAt returns io.EOF at end of file without
		// erroring on a short read region, so try the remaining span in
		// one shot sized off the reader's reported length.
		total := r.data.Len()
		compressed = make([]byte, int64(total)-start)
		if _, err := r.data.ReadAt(compressed, start); err != nil {
			return fmt.Errorf("%w: read tail block %d: %v", lsmkverrors.ErrIoFailure, c.blockIdx, err)
		}
	}

	uncompressedSize := int(r.blockSize)
	if int(c.blockIdx) == len(r.blockOffs)-1 {
		uncompressedSize = int(r.tailSize)
	}
	block, err := r.codec.Decompress(compressed, uncompressedSize)
	if err != nil {
		return fmt.Errorf("%w: decompress block %d: %v", lsmkverrors.ErrIoFailure, c.blockIdx, err)
	}
	c.block = block
	return nil
}

// readBytes reads exactly n bytes starting at the cursor's current
// position, advancing across block boundaries as needed.
func (c *blockCursor) readBytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		avail := len(c.block) - c.offInBlock
		if avail <= 0 {
			c.blockIdx++
			c.offInBlock = 0
			if err := c.loadBlock(); err != nil {
				return nil, err
			}
			continue
		}
		take := n - len(out)
		if take > avail {
			take = avail
		}
		out = append(out, c.block[c.offInBlock:c.offInBlock+take]...)
		c.offInBlock += take
	}
	return out, nil
}

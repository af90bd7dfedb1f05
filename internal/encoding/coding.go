// Package encoding provides the binary primitives used by the SSTable
// format: fixed-width little-endian integers, unaligned.
//
// All multi-byte integers in lsmkv's on-disk format are little-endian and
// unaligned; there is no varint encoding in this format (unlike RocksDB's
// block format), since SSTable entries are length-prefixed with fixed
// 8-byte sizes per the binary layout.
package encoding

import "encoding/binary"

// EncodeFixed32 encodes a uint32 into a 4-byte little-endian buffer.
// REQUIRES: dst has at least 4 bytes.
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 decodes a uint32 from a 4-byte little-endian buffer.
// REQUIRES: src has at least 4 bytes.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 encodes a uint64 into an 8-byte little-endian buffer.
// REQUIRES: dst has at least 8 bytes.
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 decodes a uint64 from an 8-byte little-endian buffer.
// REQUIRES: src has at least 8 bytes.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32 to dst and returns the extended slice.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst and returns the extended slice.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// EncodeInt64 encodes a signed int64 (e.g. a valueSize, where -1 denotes a
// tombstone) into an 8-byte little-endian buffer using its two's-complement
// bit pattern.
func EncodeInt64(dst []byte, value int64) {
	binary.LittleEndian.PutUint64(dst, uint64(value))
}

// DecodeInt64 decodes a signed int64 from an 8-byte little-endian buffer.
func DecodeInt64(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

// AppendInt64 appends a little-endian signed int64 to dst.
func AppendInt64(dst []byte, value int64) []byte {
	var buf [8]byte
	EncodeInt64(buf[:], value)
	return append(dst, buf[:]...)
}

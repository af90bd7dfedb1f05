// Package keyorder defines the total order over byte-string keys shared by
// every component that compares or sorts keys (§2 "KeyOrder").
package keyorder

import "bytes"

// Comparator compares two keys and returns a negative number if a < b,
// zero if a == b, and a positive number if a > b.
type Comparator func(a, b []byte) int

// Bytewise is the default comparator: unsigned lexicographic byte order
// (§1 "keys are compared lexicographically as unsigned bytes"). Grounded
// on the teacher's dbformat.BytewiseCompare.
func Bytewise(a, b []byte) int {
	return bytes.Compare(a, b)
}

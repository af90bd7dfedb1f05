package checksum

import "testing"

func TestSum64Deterministic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	if Sum64(data) != Sum64(append([]byte(nil), data...)) {
		t.Fatal("Sum64 must be deterministic for equal inputs")
	}
}

func TestVerify(t *testing.T) {
	data := []byte("sstable payload bytes")
	sum := Sum64(data)
	if !Verify(data, sum) {
		t.Fatal("Verify must accept the correct checksum")
	}
	if Verify(data, sum+1) {
		t.Fatal("Verify must reject a mismatched checksum")
	}
	corrupted := append([]byte(nil), data...)
	corrupted[0] ^= 0xFF
	if Verify(corrupted, sum) {
		t.Fatal("Verify must reject corrupted data")
	}
}

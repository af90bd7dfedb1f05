package memtable

import (
	"fmt"
	"testing"

	"github.com/aalhour/lsmkv/internal/keyorder"
)

func TestSkipListPutGet(t *testing.T) {
	sl := newSkipList(keyorder.Bytewise)

	if old := sl.put([]byte("a"), &entry{value: []byte("1")}); old != nil {
		t.Fatalf("put on empty list returned %v, want nil", old)
	}

	got := sl.get([]byte("a"))
	if got == nil || string(got.value) != "1" {
		t.Fatalf("get(a) = %v, want entry{1}", got)
	}

	if sl.get([]byte("missing")) != nil {
		t.Error("get(missing) should return nil")
	}
	if got := sl.length(); got != 1 {
		t.Errorf("length() = %d, want 1", got)
	}
}

func TestSkipListOverwriteReturnsPrevious(t *testing.T) {
	sl := newSkipList(keyorder.Bytewise)
	sl.put([]byte("a"), &entry{value: []byte("1")})

	old := sl.put([]byte("a"), &entry{value: []byte("2")})
	if old == nil || string(old.value) != "1" {
		t.Fatalf("put(overwrite) returned %v, want the displaced entry{1}", old)
	}

	got := sl.get([]byte("a"))
	if string(got.value) != "2" {
		t.Errorf("get(a) after overwrite = %v, want entry{2}", got)
	}
	if n := sl.length(); n != 1 {
		t.Errorf("length() after overwrite = %d, want 1", n)
	}
}

func TestSkipListOrderedIteration(t *testing.T) {
	sl := newSkipList(keyorder.Bytewise)
	keys := []string{"m", "a", "z", "c", "b"}
	for _, k := range keys {
		sl.put([]byte(k), &entry{value: []byte(k)})
	}

	it := sl.newIterator()
	it.seekToFirst()
	var got []string
	for it.valid() {
		got = append(got, string(it.key()))
		it.next()
	}
	want := []string{"a", "b", "c", "m", "z"}
	if !equalStrings(got, want) {
		t.Errorf("iteration order = %v, want %v", got, want)
	}
}

func TestSkipListSeek(t *testing.T) {
	sl := newSkipList(keyorder.Bytewise)
	for _, k := range []string{"a", "c", "e", "g"} {
		sl.put([]byte(k), &entry{value: []byte(k)})
	}

	it := sl.newIterator()
	it.seek([]byte("d"))
	if !it.valid() || string(it.key()) != "e" {
		t.Errorf("seek(d) landed on %q, want e", it.key())
	}

	it.seek([]byte("z"))
	if it.valid() {
		t.Error("seek(z) past the last key should be invalid")
	}
}

func TestSkipListManyKeysStayOrdered(t *testing.T) {
	sl := newSkipList(keyorder.Bytewise)
	const n = 500
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", (i*7919)%n))
		sl.put(k, &entry{value: k})
	}
	if got := sl.length(); got != n {
		t.Fatalf("length() = %d, want %d", got, n)
	}

	it := sl.newIterator()
	it.seekToFirst()
	prev := ""
	count := 0
	for it.valid() {
		cur := string(it.key())
		if cur <= prev {
			t.Fatalf("iteration not strictly ascending: %q after %q", cur, prev)
		}
		prev = cur
		count++
		it.next()
	}
	if count != n {
		t.Errorf("iterated %d keys, want %d", count, n)
	}
}

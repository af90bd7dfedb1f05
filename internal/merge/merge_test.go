package merge

import (
	"testing"

	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/ptriter"
)

// fakeSource is a fixed, pre-sorted (key, value, tombstone, priority)
// sequence used to drive MergeIterator without a real memtable/sstable.
type fakeSource struct {
	keys       []string
	values     []string
	tombstones []bool
	idx        int
	priority   int
}

func (f *fakeSource) HasNext() bool   { return f.idx < len(f.keys) }
func (f *fakeSource) PeekKey() []byte { return []byte(f.keys[f.idx]) }
func (f *fakeSource) IsOnTombstone() bool {
	return f.tombstones != nil && f.tombstones[f.idx]
}
func (f *fakeSource) Shift() error { f.idx++; return nil }
func (f *fakeSource) Next() (key, value []byte, err error) {
	k, v := f.keys[f.idx], f.values[f.idx]
	f.idx++
	return []byte(k), []byte(v), nil
}
func (f *fakeSource) Priority() int { return f.priority }

func wrap(keys, values []string, priority int) ptriter.PointerIterator {
	return ptriter.Wrap(&fakeSource{keys: keys, values: values, priority: priority}, keyorder.Bytewise)
}

func TestMergeDedupesByPriority(t *testing.T) {
	// Higher priority source shadows the lower one at key "a".
	low := wrap([]string{"a", "c"}, []string{"low-a", "low-c"}, 1)
	high := wrap([]string{"a", "b"}, []string{"high-a", "high-b"}, 5)

	mi := New([]ptriter.PointerIterator{low, high}, keyorder.Bytewise)

	var got [][2]string
	for mi.HasNext() {
		k, v, err := mi.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, [2]string{string(k), string(v)})
	}

	want := [][2]string{{"a", "high-a"}, {"b", "high-b"}, {"c", "low-c"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMergeEmptyChildrenDropped(t *testing.T) {
	empty := wrap(nil, nil, 1)
	nonEmpty := wrap([]string{"a"}, []string{"1"}, 0)

	mi := New([]ptriter.PointerIterator{empty, nonEmpty}, keyorder.Bytewise)
	if !mi.HasNext() {
		t.Fatal("expected one entry from the non-empty child")
	}
	k, v, err := mi.Next()
	if err != nil || string(k) != "a" || string(v) != "1" {
		t.Errorf("Next() = (%q, %q, %v)", k, v, err)
	}
	if mi.HasNext() {
		t.Error("expected the merge to be exhausted")
	}
}

func TestMergeShiftSkipsWithoutMaterializing(t *testing.T) {
	a := wrap([]string{"a", "b"}, []string{"1", "2"}, 0)
	mi := New([]ptriter.PointerIterator{a}, keyorder.Bytewise)

	if err := mi.Shift(); err != nil {
		t.Fatalf("Shift: %v", err)
	}
	if string(mi.PeekKey()) != "b" {
		t.Errorf("PeekKey after Shift = %q, want b", mi.PeekKey())
	}
}

func newTombstoneSource(keys, values []string, tombstones []bool, priority int) *fakeSource {
	return &fakeSource{keys: keys, values: values, tombstones: tombstones, priority: priority}
}

func TestTombstoneFilterDropsDeletions(t *testing.T) {
	src := newTombstoneSource(
		[]string{"a", "b", "c"},
		[]string{"1", "", "3"},
		[]bool{false, true, false},
		0,
	)
	w := ptriter.Wrap(src, keyorder.Bytewise)
	mi := New([]ptriter.PointerIterator{w}, keyorder.Bytewise)
	tf := FilterTombstones(mi)

	var got []string
	for tf.HasNext() {
		k, _, err := tf.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, string(k))
	}
	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTombstoneFilterAllTombstonesIsEmpty(t *testing.T) {
	src := newTombstoneSource([]string{"a"}, []string{""}, []bool{true}, 0)
	w := ptriter.Wrap(src, keyorder.Bytewise)
	mi := New([]ptriter.PointerIterator{w}, keyorder.Bytewise)
	tf := FilterTombstones(mi)

	if tf.HasNext() {
		t.Error("a table of only tombstones should filter to empty")
	}
	if tf.IsOnTombstone() {
		t.Error("TombstoneFilter must never itself report a tombstone")
	}
}

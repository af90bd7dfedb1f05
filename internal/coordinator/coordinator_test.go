package coordinator

import (
	"errors"
	"testing"
	"time"

	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
	"github.com/aalhour/lsmkv/internal/memtable"
	"github.com/aalhour/lsmkv/internal/sstable"
)

func newTestCoordinator(t *testing.T, flushThreshold int64) *Coordinator {
	t.Helper()
	c := New(Config{
		Dir:                 t.TempDir(),
		Comparator:          keyorder.Bytewise,
		FlushThresholdBytes: flushThreshold,
		WriteOptions:        sstable.WriteOptions{},
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestUpsertAndGet(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	v, found, err := c.Get([]byte("a"))
	if err != nil || !found || string(v) != "1" {
		t.Errorf("Get(a) = (%q, %v, %v), want (1, true, nil)", v, found, err)
	}
	if _, found, err := c.Get([]byte("missing")); err != nil || found {
		t.Errorf("Get(missing) = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestTombstoneShadowsOlderValue(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Upsert([]byte("a"), nil, true); err != nil {
		t.Fatalf("Upsert(tombstone): %v", err)
	}
	if _, found, err := c.Get([]byte("a")); err != nil || found {
		t.Errorf("Get(a) after delete = (found=%v, err=%v), want (false, nil)", found, err)
	}
}

func TestExplicitFlushPersistsToSSTable(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 1 })

	v, found, err := c.Get([]byte("a"))
	if err != nil || !found || string(v) != "1" {
		t.Errorf("Get(a) after flush = (%q, %v, %v), want (1, true, nil)", v, found, err)
	}
}

func TestFlushOnEmptyActiveIsNoop(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush on an empty store: %v", err)
	}
	if len(*c.tables.Load()) != 0 {
		t.Error("Flush on an empty active memtable must not produce an SSTable")
	}
}

func TestFlushRejectsWhenFlushingSlotBusy(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	// Occupy the flushing slot directly, simulating an in-flight flush
	// that the background worker has not yet drained.
	c.mu.Lock()
	c.flushing = memtable.New(keyorder.Bytewise, memtable.NoThreshold)
	c.flushing.Upsert([]byte("busy"), []byte("v"), false)
	c.mu.Unlock()

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Flush(); !errors.Is(err, lsmkverrors.ErrTooManyFlushes) {
		t.Errorf("Flush() with a busy flushing slot = %v, want ErrTooManyFlushes", err)
	}
}

func TestCompactNoopWithAtMostOneTable(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)
	if err := c.Compact(); err != nil {
		t.Fatalf("Compact on a fresh store: %v", err)
	}

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 1 })

	if err := c.Compact(); err != nil {
		t.Fatalf("Compact with a single table: %v", err)
	}
}

func TestCompactionMergesAndDropsTombstones(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert(a): %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 1 })

	if err := c.Upsert([]byte("a"), nil, true); err != nil {
		t.Fatalf("Upsert(tombstone a): %v", err)
	}
	if err := c.Upsert([]byte("b"), []byte("2"), false); err != nil {
		t.Fatalf("Upsert(b): %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 2 })

	if err := c.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 1 })

	if _, found, err := c.Get([]byte("a")); err != nil || found {
		t.Errorf("Get(a) after compaction = (found=%v, err=%v), want (false, nil)", found, err)
	}
	v, found, err := c.Get([]byte("b"))
	if err != nil || !found || string(v) != "2" {
		t.Errorf("Get(b) after compaction = (%q, %v, %v), want (2, true, nil)", v, found, err)
	}
}

func TestScanMergesAcrossLayersInPriorityOrder(t *testing.T) {
	c := newTestCoordinator(t, memtable.NoThreshold)

	if err := c.Upsert([]byte("a"), []byte("flushed"), false); err != nil {
		t.Fatalf("Upsert(a): %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	waitUntil(t, time.Second, func() bool { return len(*c.tables.Load()) == 1 })

	// Overwrite a in the active memtable; it must shadow the flushed copy.
	if err := c.Upsert([]byte("a"), []byte("active"), false); err != nil {
		t.Fatalf("Upsert(a, overwrite): %v", err)
	}
	if err := c.Upsert([]byte("b"), []byte("b1"), false); err != nil {
		t.Fatalf("Upsert(b): %v", err)
	}

	tf, err := c.Scan(nil, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := map[string]string{}
	for tf.HasNext() {
		k, v, nerr := tf.Next()
		if nerr != nil {
			t.Fatalf("Next: %v", nerr)
		}
		got[string(k)] = string(v)
	}
	if got["a"] != "active" {
		t.Errorf(`got["a"] = %q, want "active" (active memtable must shadow the flushed table)`, got["a"])
	}
	if got["b"] != "b1" {
		t.Errorf(`got["b"] = %q, want "b1"`, got["b"])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(Config{
		Dir:                 t.TempDir(),
		Comparator:          keyorder.Bytewise,
		FlushThresholdBytes: memtable.NoThreshold,
	})
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	c := New(Config{
		Dir:                 t.TempDir(),
		Comparator:          keyorder.Bytewise,
		FlushThresholdBytes: memtable.NoThreshold,
	})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Upsert([]byte("a"), []byte("1"), false); !errors.Is(err, lsmkverrors.ErrPreconditionViolation) {
		t.Errorf("Upsert after Close = %v, want ErrPreconditionViolation", err)
	}
	if _, _, err := c.Get([]byte("a")); !errors.Is(err, lsmkverrors.ErrPreconditionViolation) {
		t.Errorf("Get after Close = %v, want ErrPreconditionViolation", err)
	}
}

func TestClosePersistsNonEmptyActiveMemtable(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{
		Dir:                 dir,
		Comparator:          keyorder.Bytewise,
		FlushThresholdBytes: memtable.NoThreshold,
	})
	if err := c.Upsert([]byte("a"), []byte("1"), false); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reader, err := sstable.Open(dir, sstable.Generation(0), 0, keyorder.Bytewise)
	if err != nil {
		t.Fatalf("opening the generation Close() should have written: %v", err)
	}
	defer reader.Close()
	v, tomb, found, gerr := reader.Get([]byte("a"))
	if gerr != nil || !found || tomb || string(v) != "1" {
		t.Errorf("Get(a) on the persisted table = (%q, tomb=%v, found=%v, err=%v)", v, tomb, found, gerr)
	}
}

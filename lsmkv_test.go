package lsmkv_test

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aalhour/lsmkv"
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/sstable"
)

var onDiskGenRe = regexp.MustCompile(`^sstable_(\d{20})\.data$`)

// onDiskGenerations returns the generation number of every complete
// SSTable data file present in dir, for asserting the on-disk table
// count/contents after a compact independently of the Store façade.
func onDiskGenerations(t *testing.T, dir string) []sstable.Generation {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var gens []sstable.Generation
	for _, e := range entries {
		m := onDiskGenRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		gen, perr := strconv.ParseUint(m[1], 10, 64)
		require.NoError(t, perr)
		gens = append(gens, sstable.Generation(gen))
	}
	return gens
}

// drain collects every (key, value) pair a Cursor yields, in order.
func drain(t *testing.T, cur *lsmkv.Cursor) [][2]string {
	t.Helper()
	var got [][2]string
	for {
		k, v, ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, [2]string{string(k), string(v)})
	}
	return got
}

// Scenario 1: basic upsert/overwrite/get/range (spec.md §8, scenario 1).
func TestScenarioUpsertOverwriteAndRange(t *testing.T) {
	store, err := lsmkv.Open(lsmkv.DefaultOptions(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert([]byte("a"), []byte("1")))
	require.NoError(t, store.Upsert([]byte("b"), []byte("2")))
	require.NoError(t, store.Upsert([]byte("a"), []byte("3")))

	v, found, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "3", string(v))

	v, found, err = store.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", string(v))

	cur, err := store.Scan([]byte(""), []byte("z"))
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"a", "3"}, {"b", "2"}}, drain(t, cur))
}

// Scenario 2: a flushed value shadowed by a later tombstone (spec.md §8,
// scenario 2).
func TestScenarioFlushThenTombstoneShadows(t *testing.T) {
	store, err := lsmkv.Open(lsmkv.DefaultOptions(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert([]byte("a"), []byte("1")))
	require.NoError(t, store.Flush())
	require.NoError(t, store.Delete([]byte("a")))

	_, found, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	cur, err := store.Scan([]byte(""), []byte("z"))
	require.NoError(t, err)
	require.Empty(t, drain(t, cur))
}

// Scenario 3: block straddling under a deliberately small block size, then
// reopening the store (spec.md §8, scenario 3).
func TestScenarioBlockStraddleFlushAndReopen(t *testing.T) {
	dir := t.TempDir()
	opts := lsmkv.DefaultOptions(dir)
	opts.Compression = lsmkv.CompressionOptions{Kind: lsmkv.CompressionLZ4, BlockSize: 16}

	store, err := lsmkv.Open(opts)
	require.NoError(t, err)

	for i := 1; i <= 20; i++ {
		k := fmt.Sprintf("k%02d", i)
		v := fmt.Sprintf("v%02d", i)
		require.NoError(t, store.Upsert([]byte(k), []byte(v)))
	}
	require.NoError(t, store.Flush())
	require.NoError(t, store.Close())

	reopened, err := lsmkv.Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.Get([]byte("k12"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v12", string(v))

	cur, err := reopened.Scan([]byte("k05"), []byte("k10"))
	require.NoError(t, err)
	want := [][2]string{
		{"k05", "v05"}, {"k06", "v06"}, {"k07", "v07"}, {"k08", "v08"}, {"k09", "v09"},
	}
	require.Equal(t, want, drain(t, cur))
}

// Scenario 4: overlapping updates across two flushes, then compact and
// close; the resulting directory holds one tombstone-free SSTable covering
// exactly the 100 distinct keys (spec.md §8, scenario 4).
func TestScenarioCompactAfterOverlappingFlushes(t *testing.T) {
	dir := t.TempDir()
	opts := lsmkv.DefaultOptions(dir)
	store, err := lsmkv.Open(opts)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%04d", i)
		require.NoError(t, store.Upsert([]byte(k), []byte("v1")))
	}
	require.NoError(t, store.Flush())

	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%04d", i)
		require.NoError(t, store.Upsert([]byte(k), []byte("v2")))
	}
	require.NoError(t, store.Flush())

	require.NoError(t, store.Compact())
	require.NoError(t, store.Close())

	// Assert the on-disk result directly: one SSTable, tombstone-free,
	// holding exactly the 100 distinct keys.
	gens := onDiskGenerations(t, dir)
	require.Len(t, gens, 1)
	reader, err := sstable.Open(dir, gens[0], int(gens[0]), keyorder.Bytewise)
	require.NoError(t, err)
	defer reader.Close()
	require.True(t, reader.HasNoTombstones())
	require.EqualValues(t, 100, reader.Count())

	reopened, err := lsmkv.Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	cur, err := reopened.Scan(nil, nil)
	require.NoError(t, err)
	entries := drain(t, cur)
	require.Len(t, entries, 100)
	for _, e := range entries {
		require.Equal(t, "v2", e[1])
	}
}

// Scenario 5: two goroutines concurrently upserting disjoint key ranges
// totaling several multiples of flushThresholdBytes, then close and reopen
// to confirm the union of latest values survives (spec.md §8, scenario 5).
func TestScenarioConcurrentDisjointWritersSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	opts := lsmkv.DefaultOptions(dir)
	opts.FlushThresholdBytes = 4096 // small, to force several flushes per writer

	store, err := lsmkv.Open(opts)
	require.NoError(t, err)

	const perWriter = 400
	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			k := fmt.Sprintf("left-%05d", i)
			if err := store.Upsert([]byte(k), []byte("L")); err != nil {
				errs <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			k := fmt.Sprintf("right-%05d", i)
			if err := store.Upsert([]byte(k), []byte("R")); err != nil {
				errs <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, store.Close())

	reopened, err := lsmkv.Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	cur, err := reopened.Scan(nil, nil)
	require.NoError(t, err)
	entries := drain(t, cur)
	require.Len(t, entries, 2*perWriter)

	for _, e := range entries {
		if e[0][0] == 'l' {
			require.Equal(t, "L", e[1])
		} else {
			require.Equal(t, "R", e[1])
		}
	}
}

// Scenario 6: a tombstone with no prior value is itself invisible, both
// before and after a flush and compact of the tombstone-only store
// (spec.md §8, scenario 6).
func TestScenarioTombstoneOnlyCompactsToEmptyTable(t *testing.T) {
	store, err := lsmkv.Open(lsmkv.DefaultOptions(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Delete([]byte("a")))

	_, found, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, found)

	cur, err := store.Scan([]byte(""), []byte("z"))
	require.NoError(t, err)
	require.Empty(t, drain(t, cur))

	require.NoError(t, store.Flush())
	require.NoError(t, store.Compact())

	cur, err = store.Scan(nil, nil)
	require.NoError(t, err)
	require.Empty(t, drain(t, cur))
}

// Idempotent close (spec.md §8, quantified invariants): a second Close must
// not error or corrupt the directory.
func TestIdempotentClose(t *testing.T) {
	dir := t.TempDir()
	store, err := lsmkv.Open(lsmkv.DefaultOptions(dir))
	require.NoError(t, err)

	require.NoError(t, store.Upsert([]byte("a"), []byte("1")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	reopened, err := lsmkv.Open(lsmkv.DefaultOptions(dir))
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", string(v))
}

package lsmkv

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/aalhour/lsmkv/internal/coordinator"
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
	"github.com/aalhour/lsmkv/internal/merge"
	"github.com/aalhour/lsmkv/internal/sstable"
)

// dataFileRe matches a complete SSTable data file's name, excluding the
// `.tmp`-suffixed triples a writer leaves behind when interrupted (§1
// "incomplete ones are ignored"): those carry an extra `.tmp` segment
// before the extension, so they never match this pattern exactly.
var dataFileRe = regexp.MustCompile(`^sstable_(\d{20})\.data$`)

// Store is the embedded ordered key-value store (§2 "System Overview").
// A Store is safe for concurrent use by multiple goroutines.
type Store struct {
	coord *coordinator.Coordinator
}

// Open loads the SSTable triples found under opts.StorageDir and starts a
// Store's background flush/compaction worker. The directory is created
// if it does not already exist.
func Open(opts Options) (*Store, error) {
	if opts.StorageDir == "" {
		return nil, fmt.Errorf("%w: StorageDir is required", lsmkverrors.ErrCreationFailure)
	}
	if opts.Comparator == nil {
		opts.Comparator = keyorder.Bytewise
	}
	if err := os.MkdirAll(opts.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", lsmkverrors.ErrCreationFailure, err)
	}

	gens, err := scanGenerations(opts.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lsmkverrors.ErrCreationFailure, err)
	}

	tables := make([]*sstable.SSTableReader, 0, len(gens))
	for _, gen := range gens {
		reader, oerr := sstable.Open(opts.StorageDir, gen, int(gen), opts.Comparator)
		if oerr != nil {
			for _, t := range tables {
				t.Close()
			}
			return nil, fmt.Errorf("%w: opening generation %d: %v", lsmkverrors.ErrCreationFailure, gen, oerr)
		}
		tables = append(tables, reader)
	}

	var nextGen uint64
	if len(gens) > 0 {
		nextGen = uint64(gens[len(gens)-1]) + 1
	}

	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		for _, t := range tables {
			t.Close()
		}
		return nil, fmt.Errorf("%w: %v", lsmkverrors.ErrCreationFailure, err)
	}

	coord := coordinator.New(coordinator.Config{
		Dir:                 opts.StorageDir,
		Comparator:          opts.Comparator,
		FlushThresholdBytes: opts.FlushThresholdBytes,
		WriteOptions: sstable.WriteOptions{
			Codec:                 codec,
			UncompressedBlockSize: uint32(opts.Compression.BlockSize),
		},
		Logger:         opts.Logger,
		InitialTables:  tables,
		NextGeneration: nextGen,
	})

	return &Store{coord: coord}, nil
}

// scanGenerations returns every complete SSTable generation under dir, in
// ascending order.
func scanGenerations(dir string) ([]sstable.Generation, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var gens []sstable.Generation
	for _, e := range entries {
		m := dataFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		gen, perr := strconv.ParseUint(m[1], 10, 64)
		if perr != nil {
			continue
		}
		_, indexPath, infoPath := sstable.FileNames(dir, sstable.Generation(gen))
		if !fileExists(indexPath) || !fileExists(infoPath) {
			continue // incomplete triple; ignored per §1
		}
		gens = append(gens, sstable.Generation(gen))
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get performs an exact lookup of key (§6 "get(key) -> Entry | absent").
func (s *Store) Get(key []byte) (value []byte, found bool, err error) {
	return s.coord.Get(key)
}

// Upsert writes or overwrites key's value.
func (s *Store) Upsert(key, value []byte) error {
	return s.coord.Upsert(key, value, false)
}

// Delete writes a tombstone for key, shadowing any earlier value until
// compaction drops it entirely.
func (s *Store) Delete(key []byte) error {
	return s.coord.Upsert(key, nil, true)
}

// Scan returns an ascending Cursor over non-tombstone entries in the
// half-open range [from, to) (§6 "get(from, to) -> ascending iterator of
// non-tombstone entries"). A nil from starts at the first key; a nil to
// runs to the end.
func (s *Store) Scan(from, to []byte) (*Cursor, error) {
	tf, err := s.coord.Scan(from, to)
	if err != nil {
		return nil, err
	}
	return &Cursor{tf: tf}, nil
}

// Flush explicitly schedules a flush of the active memtable and reports
// the most recent background failure, if any (§6 "flush()").
func (s *Store) Flush() error {
	return s.coord.Flush()
}

// Compact schedules a background compaction of the loaded SSTables.
func (s *Store) Compact() error {
	return s.coord.Compact()
}

// Close shuts down the background worker, persists any buffered writes,
// and releases all table mappings. Close is idempotent.
func (s *Store) Close() error {
	return s.coord.Close()
}

// Cursor iterates an ascending, tombstone-free key range produced by
// Store.Scan.
type Cursor struct {
	tf *merge.TombstoneFilter
}

// Next advances the cursor and reports whether an entry is available.
func (c *Cursor) Next() (key, value []byte, ok bool, err error) {
	if !c.tf.HasNext() {
		return nil, nil, false, nil
	}
	key, value, err = c.tf.Next()
	if err != nil {
		return nil, nil, false, err
	}
	return key, value, true, nil
}

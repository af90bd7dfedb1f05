// Package coordinator implements the dual-memtable flush/compaction state
// machine (§4.6) and its concurrency protocol (§5): the active and
// flushing memtables, the loaded SSTable list, and a single background
// worker servicing both flush and compaction.
//
// Reference: teacher corpus's db/background.go for the single-worker
// scheduling idiom (buffered size-1 signal channels, non-blocking sends
// meaning "already scheduled", a shutdown channel plus WaitGroup), folded
// here into one Coordinator type since this spec has no separate outer DB
// object driving it — see SPEC_FULL.md's "Supplemented features".
package coordinator

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/logging"
	"github.com/aalhour/lsmkv/internal/lsmkverrors"
	"github.com/aalhour/lsmkv/internal/memtable"
	"github.com/aalhour/lsmkv/internal/merge"
	"github.com/aalhour/lsmkv/internal/ptriter"
	"github.com/aalhour/lsmkv/internal/sstable"
)

// Priority assignments for merge sources (§3 "the active memtable has the
// highest priority, the flushing memtable the next, then SSTables in
// descending generation order"). SSTable priority is its own generation
// number, which this store's generation counter never approaches.
const (
	activePriority   = math.MaxInt32
	flushingPriority = math.MaxInt32 - 1
)

// Config configures a new Coordinator.
type Config struct {
	Dir                 string
	Comparator          keyorder.Comparator
	FlushThresholdBytes int64
	WriteOptions        sstable.WriteOptions
	Logger              logging.Logger
	InitialTables       []*sstable.SSTableReader // ascending generation order
	NextGeneration      uint64
}

// Coordinator owns the active and flushing memtables and the list of
// loaded SSTables; schedules one background flush and one background
// compaction at a time; serializes writer/flush transitions with a
// read-write discipline (§2 "Coordinator").
type Coordinator struct {
	dir                 string
	compare             keyorder.Comparator
	flushThresholdBytes int64
	writeOpts           sstable.WriteOptions
	logger              logging.Logger

	// mu is the writer-shared/writer-exclusive discipline of §5: Upsert
	// takes RLock (concurrent upserts proceed since the memtable skip
	// list tolerates concurrent single-key inserts); the active/flushing
	// swap takes Lock.
	mu       sync.RWMutex
	active   *memtable.MemTable
	flushing *memtable.MemTable

	// tables is read via a single atomic load with no lock (§5 "a single
	// volatile read of the list reference").
	tables atomic.Pointer[[]*sstable.SSTableReader]

	// retired holds SSTableReaders a compaction has superseded. Their
	// files are unlinked right away, but the mapping itself stays open
	// (under mu, alongside tables) until Close, so a Get/Scan that loaded
	// the pre-compaction tables slice before the swap never reads through
	// an unmapped region (§5 "Shared-resource policy", §9).
	retired []*sstable.SSTableReader

	nextGeneration atomic.Uint64

	flushCh    chan struct{}
	compactCh  chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	bgMu              sync.Mutex
	flushRunning      bool
	compactionRunning bool
	bgErr             error

	closed atomic.Bool
}

// New constructs a Coordinator and starts its background worker.
func New(cfg Config) *Coordinator {
	logger := logging.OrDefault(cfg.Logger)
	compare := cfg.Comparator
	if compare == nil {
		compare = keyorder.Bytewise
	}

	initial := append([]*sstable.SSTableReader(nil), cfg.InitialTables...)

	c := &Coordinator{
		dir:                 cfg.Dir,
		compare:             compare,
		flushThresholdBytes: cfg.FlushThresholdBytes,
		writeOpts:           cfg.WriteOptions,
		logger:              logger,
		active:              memtable.New(compare, cfg.FlushThresholdBytes),
		flushing:            memtable.New(compare, memtable.NoThreshold),
		flushCh:             make(chan struct{}, 1),
		compactCh:           make(chan struct{}, 1),
		shutdownCh:          make(chan struct{}),
	}
	c.tables.Store(&initial)
	c.nextGeneration.Store(cfg.NextGeneration)

	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Coordinator) nextGen() sstable.Generation {
	return sstable.Generation(c.nextGeneration.Add(1) - 1)
}

// Upsert writes key (or a tombstone deletion, when tombstone is true) to
// the active memtable, triggering a flush on overflow (§4.6 "upsert").
func (c *Coordinator) Upsert(key, value []byte, tombstone bool) error {
	if c.closed.Load() {
		return lsmkverrors.ErrPreconditionViolation
	}
	c.mu.RLock()
	overflowed, err := c.active.Upsert(key, value, tombstone)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if overflowed {
		// Internal (overflow) caller: tolerant of a busy flushing slot
		// (§4.6 "best-effort back-pressure handled by subsequent
		// OutOfMemory from active.upsert").
		return c.triggerFlush(false)
	}
	return nil
}

// Get consults active, then flushing, then tables newest-first (§4.6
// "get(key)"). found is false when no layer has the key, or the
// newest layer holding it is a tombstone.
func (c *Coordinator) Get(key []byte) (value []byte, found bool, err error) {
	if c.closed.Load() {
		return nil, false, lsmkverrors.ErrPreconditionViolation
	}
	c.mu.RLock()
	active, flushing := c.active, c.flushing
	c.mu.RUnlock()

	if v, tomb, ok := active.Get(key); ok {
		if tomb {
			return nil, false, nil
		}
		return v, true, nil
	}
	if v, tomb, ok := flushing.Get(key); ok {
		if tomb {
			return nil, false, nil
		}
		return v, true, nil
	}

	tables := *c.tables.Load()
	for i := len(tables) - 1; i >= 0; i-- {
		v, tomb, ok, gerr := tables[i].Get(key)
		if gerr != nil {
			return nil, false, gerr
		}
		if ok {
			if tomb {
				return nil, false, nil
			}
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Scan builds a MergeIterator over active, flushing, and all tables
// (§4.6 "Range get(from,to)"), wrapped to filter tombstones, yielding an
// ascending iterator of non-tombstone entries (§6).
func (c *Coordinator) Scan(from, to []byte) (*merge.TombstoneFilter, error) {
	if c.closed.Load() {
		return nil, lsmkverrors.ErrPreconditionViolation
	}
	c.mu.RLock()
	active, flushing := c.active, c.flushing
	c.mu.RUnlock()
	tables := *c.tables.Load()

	children := make([]ptriter.PointerIterator, 0, 2+len(tables))
	children = append(children, ptriter.Wrap(active.Iterator(from, to, activePriority), c.compare))
	children = append(children, ptriter.Wrap(flushing.Iterator(from, to, flushingPriority), c.compare))
	for _, t := range tables {
		it, ierr := t.Iterator(from, to)
		if ierr != nil {
			return nil, ierr
		}
		children = append(children, ptriter.Wrap(it, c.compare))
	}

	mi := merge.New(children, c.compare)
	return merge.FilterTombstones(mi), nil
}

// triggerFlush promotes active to flushing and installs a fresh active, if
// the flushing slot is idle; explicit callers (Flush) fail with
// ErrTooManyFlushes on a busy slot, internal (overflow) callers tolerate it
// (§4.6).
func (c *Coordinator) triggerFlush(explicit bool) error {
	c.mu.Lock()
	if !c.flushing.IsEmpty() {
		c.mu.Unlock()
		if explicit {
			return lsmkverrors.ErrTooManyFlushes
		}
		return nil
	}
	if explicit && c.active.IsEmpty() {
		c.mu.Unlock()
		return nil
	}
	c.flushing = c.active
	c.active = memtable.New(c.compare, c.flushThresholdBytes)
	c.mu.Unlock()

	select {
	case c.flushCh <- struct{}{}:
	default:
	}
	return nil
}

// Flush explicitly schedules a flush (§6 "flush()").
func (c *Coordinator) Flush() error {
	if c.closed.Load() {
		return lsmkverrors.ErrPreconditionViolation
	}
	if err := c.takeBackgroundError(); err != nil {
		return err
	}
	return c.triggerFlush(true)
}

// Compact schedules a compaction, a no-op if already a single table
// (§4.6 "compact()").
func (c *Coordinator) Compact() error {
	if c.closed.Load() {
		return lsmkverrors.ErrPreconditionViolation
	}
	tables := *c.tables.Load()
	if len(tables) <= 1 {
		return nil
	}
	select {
	case c.compactCh <- struct{}{}:
	default:
	}
	return nil
}

// Close is idempotent; shuts down the background worker — draining any
// flush/compaction it had already been signaled to run, per §4.6 "close
// awaits outstanding flush/compaction handles" — persists the flushing
// and active memtables if non-empty, and releases all table mappings
// including ones a compaction retired. Per §9's documented divergence, an
// empty memtable is NOT written as a trailing empty SSTable.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.shutdownCh)
	c.wg.Wait()

	c.mu.Lock()
	flushing, active := c.flushing, c.active
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	var persistErr error
	persistIfNonEmpty := func(m *memtable.MemTable, priority int) {
		if persistErr != nil || m.IsEmpty() {
			return
		}
		gen := c.nextGen()
		it := m.Iterator(nil, nil, priority)
		if err := sstable.WriteTo(c.dir, gen, it, c.writeOpts); err != nil {
			persistErr = fmt.Errorf("%w: %v", lsmkverrors.ErrFlushFailure, err)
			return
		}
		reader, oerr := sstable.Open(c.dir, gen, int(gen), c.compare)
		if oerr != nil {
			persistErr = oerr
			return
		}
		old := *c.tables.Load()
		updated := append(append([]*sstable.SSTableReader(nil), old...), reader)
		c.tables.Store(&updated)
	}
	// flushing predates active (§3 priority order); persisting it first
	// means its generation number comes out lower, preserving that order
	// among the tables this Close writes.
	persistIfNonEmpty(flushing, flushingPriority)
	persistIfNonEmpty(active, activePriority)

	for _, t := range *c.tables.Load() {
		t.Close()
	}
	for _, t := range retired {
		t.Close()
	}

	if persistErr != nil {
		return persistErr
	}
	return c.takeBackgroundError()
}

func (c *Coordinator) setBackgroundError(err error) {
	c.bgMu.Lock()
	c.bgErr = err
	c.bgMu.Unlock()
	c.logger.Errorf("background task failed: %v", err)
}

func (c *Coordinator) takeBackgroundError() error {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	err := c.bgErr
	c.bgErr = nil
	return err
}

func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flushCh:
			c.doFlush()
		case <-c.compactCh:
			c.doCompact()
		case <-c.shutdownCh:
			c.drainPending()
			return
		}
	}
}

// drainPending services any flush/compaction signal already buffered (or
// chained by doFlush's own trailing Compact call) at shutdown time, so a
// task scheduled just before Close is never silently dropped (§4.6
// "close awaits outstanding flush/compaction handles"). select choosing
// the shutdownCh case over a simultaneously-ready flushCh/compactCh is
// exactly the race this closes: the signal is still sitting in its
// buffered channel, and this drains it before run returns.
func (c *Coordinator) drainPending() {
	for {
		select {
		case <-c.flushCh:
			c.doFlush()
		case <-c.compactCh:
			c.doCompact()
		default:
			return
		}
	}
}

func (c *Coordinator) doFlush() {
	c.bgMu.Lock()
	if c.flushRunning {
		c.bgMu.Unlock()
		return
	}
	c.flushRunning = true
	c.bgMu.Unlock()
	defer func() {
		c.bgMu.Lock()
		c.flushRunning = false
		c.bgMu.Unlock()
	}()

	c.mu.RLock()
	flushing := c.flushing
	c.mu.RUnlock()
	if flushing.IsEmpty() {
		return
	}

	gen := c.nextGen()
	it := flushing.Iterator(nil, nil, flushingPriority)
	if err := sstable.WriteTo(c.dir, gen, it, c.writeOpts); err != nil {
		c.setBackgroundError(fmt.Errorf("%w: %v", lsmkverrors.ErrFlushFailure, err))
		return
	}
	reader, err := sstable.Open(c.dir, gen, int(gen), c.compare)
	if err != nil {
		c.setBackgroundError(fmt.Errorf("%w: %v", lsmkverrors.ErrFlushFailure, err))
		return
	}

	c.mu.Lock()
	old := *c.tables.Load()
	updated := append(append([]*sstable.SSTableReader(nil), old...), reader)
	c.tables.Store(&updated)
	c.flushing = memtable.New(c.compare, memtable.NoThreshold)
	c.mu.Unlock()

	c.logger.Infof("flushed generation %d", gen)
	// Signal compaction directly rather than through Compact, which refuses
	// once Close has set closed; drainPending then still runs it at shutdown.
	if len(*c.tables.Load()) > 1 {
		select {
		case c.compactCh <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) doCompact() {
	c.bgMu.Lock()
	if c.compactionRunning {
		c.bgMu.Unlock()
		return
	}
	c.compactionRunning = true
	c.bgMu.Unlock()
	defer func() {
		c.bgMu.Lock()
		c.compactionRunning = false
		c.bgMu.Unlock()
	}()

	oldTables := *c.tables.Load()
	if len(oldTables) <= 1 {
		return
	}

	children := make([]ptriter.PointerIterator, 0, len(oldTables))
	for _, t := range oldTables {
		it, err := t.Iterator(nil, nil)
		if err != nil {
			c.setBackgroundError(fmt.Errorf("%w: %v", lsmkverrors.ErrCompactionFailure, err))
			return
		}
		children = append(children, ptriter.Wrap(it, c.compare))
	}
	mi := merge.New(children, c.compare)
	filtered := merge.FilterTombstones(mi)

	gen := c.nextGen()
	if err := sstable.WriteTo(c.dir, gen, filtered, c.writeOpts); err != nil {
		c.setBackgroundError(fmt.Errorf("%w: %v", lsmkverrors.ErrCompactionFailure, err))
		return
	}
	reader, err := sstable.Open(c.dir, gen, int(gen), c.compare)
	if err != nil {
		c.setBackgroundError(fmt.Errorf("%w: %v", lsmkverrors.ErrCompactionFailure, err))
		return
	}

	newTables := []*sstable.SSTableReader{reader}
	c.mu.Lock()
	c.tables.Store(&newTables)
	// oldTables are superseded but may still be mid-read by a Get/Scan
	// that loaded the previous tables slice before this swap; only their
	// directory entries are removed now, their mappings stay valid until
	// Close unmaps them (see the retired field's doc comment).
	c.retired = append(c.retired, oldTables...)
	c.mu.Unlock()

	for _, t := range oldTables {
		d, i, ci := sstable.FileNames(c.dir, t.Generation())
		os.Remove(d)
		os.Remove(i)
		os.Remove(ci)
	}
	c.logger.Infof("compacted %d tables into generation %d", len(oldTables), gen)
}

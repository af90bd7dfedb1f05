// Command lsmkvtool inspects and maintains lsmkv stores on disk.
//
// Usage:
//
//	lsmkvtool dump <dir> <generation>
//	lsmkvtool compact <dir>
//
// Reference: RockyardKV's cmd/sstdump and cmd/ldb.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aalhour/lsmkv"
	"github.com/aalhour/lsmkv/internal/keyorder"
	"github.com/aalhour/lsmkv/internal/sstable"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "dump":
		err = cmdDump(os.Args[2:])
	case "compact":
		err = cmdCompact(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("lsmkvtool - lsmkv store inspection and maintenance tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lsmkvtool dump <dir> <generation>   print every entry in one SSTable")
	fmt.Println("  lsmkvtool compact <dir>              open a store and force a compaction")
}

func cmdDump(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: lsmkvtool dump <dir> <generation>")
	}
	dir := args[0]
	gen, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid generation %q: %w", args[1], err)
	}

	reader, err := sstable.Open(dir, sstable.Generation(gen), int(gen), keyorder.Bytewise)
	if err != nil {
		return fmt.Errorf("open generation %d: %w", gen, err)
	}
	defer reader.Close()

	fmt.Printf("SSTable %s/%020d\n", dir, gen)
	fmt.Printf("entries: %d, hasNoTombstones: %v\n", reader.Count(), reader.HasNoTombstones())
	fmt.Println("---")

	it, err := reader.Iterator(nil, nil)
	if err != nil {
		return fmt.Errorf("open iterator: %w", err)
	}

	count := 0
	for it.HasNext() {
		if it.IsOnTombstone() {
			fmt.Printf("%s => <tombstone>\n", formatBytes(it.PeekKey()))
			if err := it.Shift(); err != nil {
				return fmt.Errorf("shift: %w", err)
			}
		} else {
			key, value, nerr := it.Next()
			if nerr != nil {
				return fmt.Errorf("next: %w", nerr)
			}
			fmt.Printf("%s => %s\n", formatBytes(key), formatBytes(value))
		}
		count++
	}

	fmt.Println("---")
	fmt.Printf("total entries printed: %d\n", count)
	return nil
}

func cmdCompact(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lsmkvtool compact <dir>")
	}
	dir := args[0]

	store, err := lsmkv.Open(lsmkv.DefaultOptions(dir))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// Compact only schedules the compaction; Close is what actually waits
	// for it, draining the pending signal before the background worker
	// stops (see Coordinator.Close/drainPending).
	if err := store.Compact(); err != nil {
		store.Close()
		return fmt.Errorf("compact: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	fmt.Println("compaction complete")
	return nil
}

func formatBytes(b []byte) string {
	for _, c := range b {
		if c < 32 || c > 126 {
			return fmt.Sprintf("%x", b)
		}
	}
	return string(b)
}

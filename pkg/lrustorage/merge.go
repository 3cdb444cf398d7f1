package lrustorage

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
)

// mergeEntry is a detached copy of one live entry.
type mergeEntry struct {
	fp         uint64
	lastAccess uint32
	value      []byte
}

// Merge folds the entries of other into s.
//
// Both stores must share value size and seed. Entries of other are applied
// oldest first and keep their original last access times, so the result is
// the newest Size() entries of the union ordered by last access time. When
// both stores hold the same fingerprint, the newer timestamp wins and a tie
// goes to other. If the union exceeds the capacity, the oldest entries are
// dropped, including entries that were already in s.
//
// other is only read. Merging a store into itself is a no-op.
//
// Possible errors:
//   - [ErrClosed]: s or other is closed
//   - [ErrReadOnly]: s was opened read-only
//   - [ErrIncompatible]: value size or seed differ
//   - [ErrIO]: flush failure in WritebackSync mode
func (s *Storage) Merge(other *Storage) error {
	err := s.checkWritable()
	if err != nil {
		return err
	}

	err = other.checkOpen()
	if err != nil {
		return fmt.Errorf("merge source: %w", err)
	}

	if other.valueSize != s.valueSize {
		return fmt.Errorf("value_size %d != %d: %w", other.valueSize, s.valueSize, ErrIncompatible)
	}

	if other.seed != s.seed {
		return fmt.Errorf("seed %d != %d: %w", other.seed, s.seed, ErrIncompatible)
	}

	if other == s {
		return nil
	}

	merged := s.entriesOldestFirst()
	pos := make(map[uint64]int, len(merged))

	for i, e := range merged {
		pos[e.fp] = i
	}

	incoming := other.entriesOldestFirst()
	replaced := 0

	for _, e := range incoming {
		if i, ok := pos[e.fp]; ok {
			if e.lastAccess >= merged[i].lastAccess {
				merged[i] = e
				replaced++
			}

			continue
		}

		pos[e.fp] = len(merged)
		merged = append(merged, e)
	}

	// Stable: on equal timestamps entries from s stay older than entries
	// from other, and each side keeps its recency order.
	slices.SortStableFunc(merged, func(a, b mergeEntry) int {
		return cmp.Compare(a.lastAccess, b.lastAccess)
	})

	dropped := max(len(merged)-s.size, 0)
	kept := merged[dropped:]

	s.rewrite(kept)

	s.log.Debug().
		Str("source", other.path).
		Int("incoming", len(incoming)).
		Int("replaced", replaced).
		Int("dropped", dropped).
		Int("used", s.index.len()).
		Msg("merged storage")

	return s.syncAll()
}

// MergeFile opens the storage file at path read-only and merges it into s.
// See [Storage.Merge].
//
// Possible errors: those of [Open] for path, and those of [Storage.Merge].
func (s *Storage) MergeFile(path string) error {
	err := s.checkWritable()
	if err != nil {
		return err
	}

	other, err := open(Options{
		Path:     path,
		ReadOnly: true,
		FS:       s.fsys,
		Clock:    s.clock,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("open merge source: %w", err)
	}

	defer func() { _ = other.Close() }()

	return s.Merge(other)
}

// entriesOldestFirst copies the live entries from least to most recently
// used, stably sorted by last access time.
func (s *Storage) entriesOldestFirst() []mergeEntry {
	order := s.index.order()
	out := make([]mergeEntry, 0, len(order))

	for i := len(order) - 1; i >= 0; i-- {
		slot := order[i]
		out = append(out, mergeEntry{
			fp:         s.index.fingerprint(slot),
			lastAccess: s.slotLastAccess(slot),
			value:      bytes.Clone(s.slotValue(slot)),
		})
	}

	slices.SortStableFunc(out, func(a, b mergeEntry) int {
		return cmp.Compare(a.lastAccess, b.lastAccess)
	})

	return out
}

// rewrite replaces the whole content with entries (oldest first), packing
// them into the lowest slots.
func (s *Storage) rewrite(entries []mergeEntry) {
	clear(s.region.data[headerSize:])
	s.index.reset()

	for i, e := range entries {
		s.writeSlotRecord(i, e.fp, e.value, e.lastAccess)
		s.index.pushFront(e.fp, i)
	}

	s.alloc.resetTo(len(entries))
}

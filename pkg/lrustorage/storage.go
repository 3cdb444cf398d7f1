package lrustorage

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"

	"github.com/pop-os/mozc/pkg/fs"
)

// Storage is a handle to an open storage file.
//
// A Storage is not safe for concurrent use; callers that share one between
// goroutines must serialize every call, reads included. Several processes
// may map the same file for reading, but only one may mutate it.
//
// A Storage must be obtained via [Open] or [OpenOrCreate]; the zero value is
// not usable.
type Storage struct {
	_ [0]func() // prevent external construction

	path      string
	fsys      fs.FS
	clock     Clock
	logger    *zerolog.Logger // as passed in Options
	log       zerolog.Logger  // logger with the path attached
	writeback WritebackMode
	readOnly  bool

	region *region

	// Immutable geometry from the header.
	valueSize int
	size      int
	seed      uint32

	index *recencyIndex
	alloc *slotAllocator

	isClosed bool
}

// Open maps an existing storage file and rebuilds its recency index.
//
// Only opts.Path and the collaborator fields are used; the value size,
// capacity and seed come from the file header. The recency order is
// reconstructed from the last-access timestamps, newest first, with ties
// broken by the higher slot index.
//
// The returned Storage must be closed with [Storage.Close].
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, unknown writeback mode
//   - [ErrIO]: the file cannot be opened, stat'd or mapped
//   - [ErrFormat]: truncated file, header out of limits, size mismatch
func Open(opts Options) (*Storage, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	return open(opts)
}

func open(opts Options) (*Storage, error) {
	reg, err := mapRegion(opts.FS, opts.Path, !opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	header := decodeHeader(reg.data[:headerSize])

	err = validateHeader(header, int64(len(reg.data)))
	if err != nil {
		_ = reg.close()

		return nil, err
	}

	s := &Storage{
		path:      opts.Path,
		fsys:      opts.FS,
		clock:     opts.Clock,
		logger:    opts.Logger,
		log:       opts.Logger.With().Str("path", opts.Path).Logger(),
		writeback: opts.Writeback,
		readOnly:  opts.ReadOnly,
		region:    reg,
		valueSize: int(header.ValueSize),
		size:      int(header.SlotCount),
		seed:      header.Seed,
		index:     newRecencyIndex(int(header.SlotCount)),
		alloc:     newSlotAllocator(int(header.SlotCount)),
	}

	dropped := s.load()

	s.log.Debug().
		Int("value_size", s.valueSize).
		Int("size", s.size).
		Int("used", s.index.len()).
		Int("dropped_duplicates", dropped).
		Msg("storage opened")

	return s, nil
}

// load rebuilds the recency index and allocator from the slot array and
// returns the number of duplicate slots it discarded.
//
// A slot is live when its timestamp is non-zero. Entries are ordered by
// timestamp, newest first, and equal timestamps by slot index, highest first.
// If a crash left two live slots with the same fingerprint, the one ordered
// first wins; the other is zeroed (when writable) and reclaimed.
func (s *Storage) load() int {
	type liveSlot struct {
		slot       int
		lastAccess uint32
	}

	var live []liveSlot

	for i := range s.size {
		ts := s.slotLastAccess(i)
		if ts != 0 {
			live = append(live, liveSlot{slot: i, lastAccess: ts})
		}
	}

	// Slots are handed out in ascending order and merge packs oldest first,
	// so within one second the higher slot is the more recent entry.
	slices.SortFunc(live, func(a, b liveSlot) int {
		return cmp.Or(cmp.Compare(b.lastAccess, a.lastAccess), cmp.Compare(b.slot, a.slot))
	})

	inUse := make([]bool, s.size)
	highest := -1
	dropped := 0

	for _, ls := range live {
		fp := s.slotFingerprint(ls.slot)
		if _, dup := s.index.get(fp); dup {
			dropped++

			if !s.readOnly {
				s.clearSlotMeta(ls.slot)
			}

			continue
		}

		s.index.pushBack(fp, ls.slot)
		inUse[ls.slot] = true
		highest = max(highest, ls.slot)
	}

	s.alloc.resetTo(highest + 1)

	// Push in descending order so the lowest free index is handed out first.
	for i := highest; i >= 0; i-- {
		if !inUse[i] {
			s.alloc.release(i)
		}
	}

	return dropped
}

// OpenOrCreate opens the storage file at opts.Path, recreating it when it is
// missing, unreadable, or was created with a different value size, capacity
// or seed.
//
// Recreation removes the file, writes a fresh zeroed file with
// [CreateStorageFile] and opens it exactly once more; the existing content is
// discarded. opts.ReadOnly is ignored.
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, zero or over-limit ValueSize/Size
//   - [ErrIO]: the file could not be removed, recreated or reopened
//   - [ErrFormat]: the recreated file failed validation
func OpenOrCreate(opts Options) (*Storage, error) {
	opts.ReadOnly = false

	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	err = validateGeometry(opts.ValueSize, opts.Size)
	if err != nil {
		return nil, err
	}

	s, openErr := open(opts)
	if openErr == nil {
		if s.valueSize == opts.ValueSize && s.size == opts.Size && s.seed == opts.Seed {
			return s, nil
		}

		openErr = fmt.Errorf("header value_size=%d size=%d seed=%d, requested value_size=%d size=%d seed=%d: %w",
			s.valueSize, s.size, s.seed, opts.ValueSize, opts.Size, opts.Seed, ErrFormat)

		_ = s.Close()
	}

	logEvent := opts.Logger.Warn()
	if errors.Is(openErr, iofs.ErrNotExist) {
		logEvent = opts.Logger.Debug()
	}

	logEvent.Err(openErr).Str("path", opts.Path).Msg("recreating storage file")

	removeErr := opts.FS.Remove(opts.Path)
	if removeErr != nil && !errors.Is(removeErr, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%w: remove %q: %w", ErrIO, opts.Path, removeErr)
	}

	err = createStorageFile(opts)
	if err != nil {
		return nil, err
	}

	return open(opts)
}

// CreateStorageFile writes an empty storage file with the given geometry,
// replacing any existing file at opts.Path.
//
// The file is written to a temporary name and renamed into place, so a crash
// never leaves a half-written file at opts.Path. Missing parent directories
// are created.
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, zero or over-limit ValueSize/Size
//   - [ErrIO]: directory creation or file write failure
func CreateStorageFile(opts Options) error {
	opts, err := opts.withDefaults()
	if err != nil {
		return err
	}

	err = validateGeometry(opts.ValueSize, opts.Size)
	if err != nil {
		return err
	}

	return createStorageFile(opts)
}

func createStorageFile(opts Options) error {
	dir := filepath.Dir(opts.Path)

	mkdirErr := opts.FS.MkdirAll(dir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("%w: create directory %q: %w", ErrIO, dir, mkdirErr)
	}

	header := encodeHeader(fileHeader{
		ValueSize: uint32(opts.ValueSize),
		SlotCount: uint32(opts.Size),
		Seed:      opts.Seed,
	})

	slotBytes := fileSizeFor(opts.ValueSize, opts.Size) - headerSize
	content := io.MultiReader(bytes.NewReader(header), io.LimitReader(zeroReader{}, slotBytes))

	writeErr := opts.FS.WriteFileAtomic(opts.Path, content)
	if writeErr != nil {
		return fmt.Errorf("%w: write %q: %w", ErrIO, opts.Path, writeErr)
	}

	opts.Logger.Debug().
		Str("path", opts.Path).
		Int("value_size", opts.ValueSize).
		Int("size", opts.Size).
		Uint32("seed", opts.Seed).
		Msg("storage file created")

	return nil
}

// Close flushes and unmaps the storage file.
//
// After Close, all other methods return [ErrClosed] (introspection methods
// keep returning the geometry). Close is idempotent; subsequent calls are
// no-ops.
//
// Possible errors: [ErrIO].
func (s *Storage) Close() error {
	if s.isClosed {
		return nil
	}

	s.isClosed = true

	return s.region.close()
}

// ItemSize returns the byte length of each slot: the value size plus 12
// bytes for the fingerprint (8) and the timestamp (4).
func (s *Storage) ItemSize() int {
	return itemSize(s.valueSize)
}

// ValueSize returns the fixed size in bytes of every value.
func (s *Storage) ValueSize() int {
	return s.valueSize
}

// Size returns the capacity (maximum number of entries).
func (s *Storage) Size() int {
	return s.size
}

// UsedSize returns the number of live entries.
func (s *Storage) UsedSize() int {
	return s.index.len()
}

// Seed returns the seed mixed into key fingerprints.
func (s *Storage) Seed() uint32 {
	return s.seed
}

// Filename returns the path the storage was opened from.
func (s *Storage) Filename() string {
	return s.path
}

func (s *Storage) checkOpen() error {
	if s.isClosed {
		return ErrClosed
	}

	return nil
}

func (s *Storage) checkWritable() error {
	if s.isClosed {
		return ErrClosed
	}

	if s.readOnly {
		return ErrReadOnly
	}

	return nil
}

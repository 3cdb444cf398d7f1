package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail.
	// Returns EACCES, EIO, EMFILE or ENFILE.
	OpenFailRate float64

	// FileStatFailRate controls how often File.Stat fails on an open file
	// handle, returning EIO.
	FileStatFailRate float64

	// WriteFailRate controls how often FS.WriteFileAtomic fails. The target
	// file is left untouched. Returns EIO, ENOSPC, EDQUOT or EROFS.
	WriteFailRate float64

	// RemoveFailRate controls how often FS.Remove fails.
	// Returns EACCES, EPERM, EBUSY or EIO.
	RemoveFailRate float64

	// MkdirAllFailRate controls how often FS.MkdirAll fails.
	// Returns EACCES, EIO or ENOSPC.
	MkdirAllFailRate float64

	// StatFailRate controls how often FS.Stat and FS.Exists fail.
	// Returns EACCES or EIO.
	StatFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	FileStatFails int64
	WriteFails    int64
	RemoveFails   int64
	MkdirAllFails int64
	StatFails     int64
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps the underlying error so errors.Is/As continue to work.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// Injected errors are [*fs.PathError] values carrying a real [syscall.Errno],
// so errors.Is and os.IsPermission behave like they do for OS errors.
// Chaos never injects ENOENT; any not-exist result comes from the wrapped FS.
// Each call decides independently whether to fail.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails     atomic.Int64
	fileStatFails atomic.Int64
	writeFails    atomic.Int64
	removeFails   atomic.Int64
	mkdirAllFails atomic.Int64
	statFails     atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config *ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: *config,
	}
}

// SetMode switches between injecting faults and passing through.
// Safe to call concurrently with filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		FileStatFails: c.fileStatFails.Load(),
		WriteFails:    c.writeFails.Load(),
		RemoveFails:   c.removeFails.Load(),
		MkdirAllFails: c.mkdirAllFails.Load(),
		StatFails:     c.statFails.Load(),
	}
}

// TotalFaults returns the total number of injected faults.
func (c *Chaos) TotalFaults() int64 {
	s := c.Stats()

	return s.OpenFails + s.FileStatFails + s.WriteFails + s.RemoveFails + s.MkdirAllFails + s.StatFails
}

func (c *Chaos) Open(path string) (File, error) {
	return c.OpenFile(path, os.O_RDONLY, 0)
}

func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		return nil, c.pathError("open", path, syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE)
	}

	f, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{File: f, path: path, chaos: c}, nil
}

// ReadFile is never failed.
func (c *Chaos) ReadFile(path string) ([]byte, error) {
	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, r io.Reader) error {
	if c.should(c.config.WriteFailRate) {
		c.writeFails.Add(1)

		return c.pathError("write", path, syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS)
	}

	return c.fs.WriteFileAtomic(path, r)
}

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error {
	if c.should(c.config.MkdirAllFailRate) {
		c.mkdirAllFails.Add(1)

		return c.pathError("mkdir", path, syscall.EACCES, syscall.EIO, syscall.ENOSPC)
	}

	return c.fs.MkdirAll(path, perm)
}

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return nil, c.pathError("stat", path, syscall.EACCES, syscall.EIO)
	}

	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) {
	if c.should(c.config.StatFailRate) {
		c.statFails.Add(1)

		return false, c.pathError("stat", path, syscall.EACCES, syscall.EIO)
	}

	return c.fs.Exists(path)
}

func (c *Chaos) Remove(path string) error {
	if c.should(c.config.RemoveFailRate) {
		c.removeFails.Add(1)

		return c.pathError("remove", path, syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO)
	}

	return c.fs.Remove(path)
}

func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) == ChaosModeNoOp || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	defer c.rngMu.Unlock()

	return c.rng.Float64() < rate
}

func (c *Chaos) pathError(op, path string, errnos ...syscall.Errno) error {
	c.rngMu.Lock()
	errno := errnos[c.rng.IntN(len(errnos))]
	c.rngMu.Unlock()

	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

// chaosFile wraps an open file so Stat can fail.
type chaosFile struct {
	File

	path  string
	chaos *Chaos
}

func (cf *chaosFile) Stat() (os.FileInfo, error) {
	if cf.chaos.should(cf.chaos.config.FileStatFailRate) {
		cf.chaos.fileStatFails.Add(1)

		return nil, cf.chaos.pathError("stat", cf.path, syscall.EIO)
	}

	return cf.File.Stat()
}

// Compile-time interface check.
var _ FS = (*Chaos)(nil)

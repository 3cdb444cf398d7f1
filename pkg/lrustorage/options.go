package lrustorage

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pop-os/mozc/pkg/fs"
)

// WritebackMode controls when mutations are flushed to disk.
type WritebackMode int

const (
	// WritebackNone leaves flushing to the kernel and to [Storage.Close].
	//
	// Mutations are visible to other processes mapping the same file
	// immediately but may be lost on power failure. This is the default.
	WritebackNone WritebackMode = iota

	// WritebackSync msyncs the touched slots before a mutating call returns.
	WritebackSync
)

// Clock supplies the current time for last-access timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to [Clock].
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// Options configures opening or creating a storage file.
type Options struct {
	// Path is the filesystem path to the storage file. Required.
	Path string

	// ValueSize is the fixed size in bytes of every value.
	//
	// Used by [OpenOrCreate] and [CreateStorageFile]; [Open] reads it from
	// the file header. Must be in [1, 1024].
	ValueSize int

	// Size is the maximum number of entries (the slot count).
	//
	// Used by [OpenOrCreate] and [CreateStorageFile]; [Open] reads it from
	// the file header. Must be in [1, 1000000].
	Size int

	// Seed is mixed into every key fingerprint.
	//
	// Used by [OpenOrCreate] and [CreateStorageFile]; [Open] reads it from
	// the file header.
	Seed uint32

	// ReadOnly maps the file without write access. Mutating calls return
	// [ErrReadOnly]. Ignored by [OpenOrCreate].
	ReadOnly bool

	// Writeback controls durability of mutations. Default is [WritebackNone].
	Writeback WritebackMode

	// FS is the filesystem used for every file operation.
	// Default is [fs.NewReal].
	FS fs.FS

	// Clock supplies last-access timestamps. Default is the wall clock.
	Clock Clock

	// Logger receives debug and warning events. Default discards everything.
	Logger *zerolog.Logger
}

// withDefaults validates the mode fields and fills in the zero-valued
// collaborators.
//
// Possible errors:
//   - [ErrInvalidInput]: empty path, unknown writeback mode
func (o Options) withDefaults() (Options, error) {
	if o.Path == "" {
		return o, fmt.Errorf("path is required: %w", ErrInvalidInput)
	}

	switch o.Writeback {
	case WritebackNone, WritebackSync:
		// ok
	default:
		return o, fmt.Errorf("unknown writeback mode %d: %w", o.Writeback, ErrInvalidInput)
	}

	if o.FS == nil {
		o.FS = fs.NewReal()
	}

	if o.Clock == nil {
		o.Clock = ClockFunc(time.Now)
	}

	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}

	return o, nil
}

package lrustorage

import (
	"errors"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/pop-os/mozc/pkg/fs"
)

// region is a memory-mapped storage file.
//
// The mapping covers the whole file. The file handle is kept open until
// close so the mapping and the descriptor share one lifetime.
type region struct {
	file     fs.File
	data     []byte
	writable bool
}

// pageSize is the system page size, used for aligning msync ranges.
var pageSize = unix.Getpagesize()

// mapRegion opens path and maps it into memory, read-write or read-only.
//
// The file must be at least headerSize bytes; an empty file cannot be mapped
// and is reported as truncated. On error nothing stays open or mapped.
//
// Possible errors:
//   - [ErrIO]: open, stat or mmap failure
//   - [ErrFormat]: file shorter than the header or too large to map
func mapRegion(fsys fs.FS, path string, writable bool) (*region, error) {
	flag := os.O_RDONLY
	prot := unix.PROT_READ

	if writable {
		flag = os.O_RDWR
		prot |= unix.PROT_WRITE
	}

	file, err := fsys.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", ErrIO, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: stat %q: %w", ErrIO, path, err)
	}

	size := info.Size()
	if size < headerSize {
		_ = file.Close()

		return nil, fmt.Errorf("file size %d is less than header size %d: %w", size, headerSize, ErrFormat)
	}

	if size > math.MaxInt {
		_ = file.Close()

		return nil, fmt.Errorf("file size %d cannot be mapped: %w", size, ErrFormat)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: mmap %q: %w", ErrIO, path, err)
	}

	return &region{
		file:     file,
		data:     data,
		writable: writable,
	}, nil
}

// flush writes the whole mapping back to the file. No-op for read-only maps.
func (r *region) flush() error {
	if !r.writable || len(r.data) == 0 {
		return nil
	}

	err := unix.Msync(r.data, unix.MS_SYNC)
	if err != nil {
		return fmt.Errorf("%w: msync: %w", ErrIO, err)
	}

	return nil
}

// flushRange synchronously writes back the pages covering
// data[offset:offset+length]. The range is page-aligned because msync
// requires a page-aligned start address.
//
// Returns ErrInvalidInput for an empty or out-of-bounds range; callers pass
// slot ranges that were already bounds-checked, so this indicates a bug.
func (r *region) flushRange(offset, length int) error {
	if !r.writable {
		return nil
	}

	if length <= 0 || offset < 0 || offset >= len(r.data) {
		return fmt.Errorf("flush range offset=%d length=%d outside mapping of %d bytes: %w",
			offset, length, len(r.data), ErrInvalidInput)
	}

	end := min(offset+length, len(r.data))
	alignedStart := (offset / pageSize) * pageSize
	alignedEnd := min(((end+pageSize-1)/pageSize)*pageSize, len(r.data))

	err := unix.Msync(r.data[alignedStart:alignedEnd], unix.MS_SYNC)
	if err != nil {
		return fmt.Errorf("%w: msync: %w", ErrIO, err)
	}

	return nil
}

// close flushes, unmaps and closes the file. It is safe to call twice.
//
// All three steps are attempted even if an earlier one fails.
func (r *region) close() error {
	if r.data == nil && r.file == nil {
		return nil
	}

	var errs []error

	if r.data != nil {
		errs = append(errs, r.flush())

		unmapErr := unix.Munmap(r.data)
		if unmapErr != nil {
			errs = append(errs, fmt.Errorf("%w: munmap: %w", ErrIO, unmapErr))
		}

		r.data = nil
	}

	if r.file != nil {
		closeErr := r.file.Close()
		if closeErr != nil {
			errs = append(errs, fmt.Errorf("%w: close: %w", ErrIO, closeErr))
		}

		r.file = nil
	}

	return errors.Join(errs...)
}

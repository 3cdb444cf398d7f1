package lrustorage

import "errors"

// Sentinel errors returned by lrustorage operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, lrustorage.ErrFormat) {
//	    // the file is not a valid storage file, recreate it
//	}
//
// A missing key is never an error: Lookup, Touch, TryInsert and Delete
// report absence through their boolean result.
var (
	// ErrIO indicates the backing file could not be opened, created, mapped
	// or flushed.
	//
	// The underlying OS error is wrapped as well, so errors.Is(err,
	// fs.ErrNotExist) works for a missing file.
	ErrIO = errors.New("lrustorage: io")

	// ErrFormat indicates the file is truncated, or its header is inconsistent
	// with the file size or the implementation limits.
	//
	// [OpenOrCreate] also reports a header that does not match the requested
	// value size, capacity or seed as ErrFormat before it recreates the file.
	//
	// Recovery: delete and recreate the file (OpenOrCreate does this).
	ErrFormat = errors.New("lrustorage: bad format")

	// ErrIncompatible indicates two stores cannot be merged because their
	// value sizes or fingerprint seeds differ.
	ErrIncompatible = errors.New("lrustorage: incompatible")

	// ErrInvalidInput indicates invalid arguments were provided.
	//
	// Common causes: zero or over-limit value size or capacity at creation,
	// a value whose length differs from the value size, a slot index outside
	// [0, Size()).
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("lrustorage: invalid input")

	// ErrReadOnly indicates a mutation was attempted on a store opened with
	// [Options.ReadOnly].
	ErrReadOnly = errors.New("lrustorage: read only")

	// ErrClosed indicates the [Storage] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("lrustorage: closed")
)

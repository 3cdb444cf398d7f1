package lrustorage

// Hardcoded implementation limits.
//
// They bound the file size of a single store and keep slot indices inside
// int32 so the recency list can be stored compactly.
//
// Violations at creation time return ErrInvalidInput; a file whose header
// exceeds them is rejected by Open with ErrFormat.
const (
	// Maximum allowed value size (bytes) per slot.
	maxValueSize = 1024

	// Maximum allowed number of slots per file.
	maxSlotCount = 1_000_000
)

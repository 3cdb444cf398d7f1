package lrustorage

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// On-disk layout.
//
//	Header: [value_size:u32][slot_count:u32][seed:u32]
//	Slots:  slot_count × { [fingerprint:u64][last_access:u32][value] }
//
// All integers use the writer's native byte order. Files are therefore not
// portable between machines of different endianness.
const (
	headerSize = 12

	offValueSize = 0x0 // uint32
	offSlotCount = 0x4 // uint32
	offSeed      = 0x8 // uint32
)

// Slot field offsets (bytes from slot start).
const (
	slotOffFingerprint = 0x0 // uint64
	slotOffLastAccess  = 0x8 // uint32
	slotOffValue       = 0xC // [value_size]byte

	// slotOverhead is the per-slot size excluding the value.
	slotOverhead = slotOffValue
)

// FNV-1a 64-bit hash constants.
const (
	fnv1aOffsetBasis uint64 = 14695981039346656037
	fnv1aPrime       uint64 = 1099511628211
)

// byteOrder is the byte order of every integer in a storage file.
var byteOrder = binary.NativeEndian

// fileHeader is the decoded 12-byte storage header.
type fileHeader struct {
	ValueSize uint32
	SlotCount uint32
	Seed      uint32
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)

	byteOrder.PutUint32(buf[offValueSize:], h.ValueSize)
	byteOrder.PutUint32(buf[offSlotCount:], h.SlotCount)
	byteOrder.PutUint32(buf[offSeed:], h.Seed)

	return buf
}

func decodeHeader(buf []byte) fileHeader {
	_ = buf[headerSize-1]

	return fileHeader{
		ValueSize: byteOrder.Uint32(buf[offValueSize:]),
		SlotCount: byteOrder.Uint32(buf[offSlotCount:]),
		Seed:      byteOrder.Uint32(buf[offSeed:]),
	}
}

// Fingerprint returns the 64-bit digest used in place of key within a store
// created with seed.
//
// The digest is FNV-1a over the four seed bytes (little endian) followed by
// the key bytes, so it is stable across processes and platforms. Stores with
// different seeds produce unrelated fingerprints for the same key.
func Fingerprint(key string, seed uint32) uint64 {
	hash := fnv1aOffsetBasis

	for shift := 0; shift < 32; shift += 8 {
		hash ^= uint64(byte(seed >> shift))
		hash *= fnv1aPrime
	}

	for i := range len(key) {
		hash ^= uint64(key[i])
		hash *= fnv1aPrime
	}

	return hash
}

// itemSize returns the byte size of one slot for the given value size.
func itemSize(valueSize int) int {
	return valueSize + slotOverhead
}

// fileSizeFor returns the exact file size of a store with the given geometry.
// Callers validate the geometry first, so the result always fits in int64.
func fileSizeFor(valueSize, slotCount int) int64 {
	return int64(headerSize) + int64(slotCount)*int64(itemSize(valueSize))
}

// validateGeometry checks value size and slot count against the limits.
//
// Possible errors:
//   - [ErrInvalidInput]: zero, negative or over-limit value
func validateGeometry(valueSize, slotCount int) error {
	if valueSize < 1 {
		return fmt.Errorf("value_size must be >= 1, got %d: %w", valueSize, ErrInvalidInput)
	}

	if valueSize > maxValueSize {
		return fmt.Errorf("value_size %d exceeds max %d: %w", valueSize, maxValueSize, ErrInvalidInput)
	}

	if slotCount < 1 {
		return fmt.Errorf("size must be >= 1, got %d: %w", slotCount, ErrInvalidInput)
	}

	if slotCount > maxSlotCount {
		return fmt.Errorf("size %d exceeds max %d: %w", slotCount, maxSlotCount, ErrInvalidInput)
	}

	return nil
}

// validateHeader checks a header read from disk against the actual file size.
//
// Possible errors:
//   - [ErrFormat]: geometry out of limits or file size mismatch
func validateHeader(h fileHeader, fileSize int64) error {
	if h.ValueSize < 1 || h.ValueSize > maxValueSize {
		return fmt.Errorf("header value_size %d out of range [1, %d]: %w", h.ValueSize, maxValueSize, ErrFormat)
	}

	if h.SlotCount < 1 || h.SlotCount > maxSlotCount {
		return fmt.Errorf("header slot_count %d out of range [1, %d]: %w", h.SlotCount, maxSlotCount, ErrFormat)
	}

	want := fileSizeFor(int(h.ValueSize), int(h.SlotCount))
	if fileSize != want {
		return fmt.Errorf("file size %d != expected %d for value_size=%d slot_count=%d: %w",
			fileSize, want, h.ValueSize, h.SlotCount, ErrFormat)
	}

	return nil
}

// timestampOf converts t to the on-disk last_access representation.
//
// Zero marks an unused slot, so times at or before the Unix epoch map to 1.
// Times past the uint32 range saturate.
func timestampOf(t time.Time) uint32 {
	sec := t.Unix()
	if sec < 1 {
		return 1
	}

	if sec > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(sec)
}

// zeroReader is an endless stream of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)

	return len(p), nil
}

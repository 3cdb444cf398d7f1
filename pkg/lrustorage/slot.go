package lrustorage

import (
	"bytes"
	"fmt"
	"time"
)

// Slot is the raw content of one slot record.
type Slot struct {
	Fingerprint uint64
	// LastAccess is seconds since the Unix epoch; zero marks an unused slot.
	LastAccess uint32
	Value      []byte
}

// slotBytes returns the mapped bytes of slot i.
func (s *Storage) slotBytes(i int) []byte {
	off := headerSize + i*itemSize(s.valueSize)

	return s.region.data[off : off+itemSize(s.valueSize)]
}

func (s *Storage) slotFingerprint(i int) uint64 {
	return byteOrder.Uint64(s.slotBytes(i)[slotOffFingerprint:])
}

func (s *Storage) slotLastAccess(i int) uint32 {
	return byteOrder.Uint32(s.slotBytes(i)[slotOffLastAccess:])
}

func (s *Storage) slotValue(i int) []byte {
	return s.slotBytes(i)[slotOffValue:]
}

func (s *Storage) setLastAccess(i int, ts uint32) {
	byteOrder.PutUint32(s.slotBytes(i)[slotOffLastAccess:], ts)
}

// writeSlotRecord stores a full record. The timestamp goes last so a torn
// write leaves the slot looking unused rather than live with a stale value.
func (s *Storage) writeSlotRecord(i int, fp uint64, value []byte, ts uint32) {
	buf := s.slotBytes(i)

	byteOrder.PutUint32(buf[slotOffLastAccess:], 0)
	byteOrder.PutUint64(buf[slotOffFingerprint:], fp)
	copy(buf[slotOffValue:], value)
	byteOrder.PutUint32(buf[slotOffLastAccess:], ts)
}

// clearSlotMeta marks slot i unused on disk. The value bytes stay until the
// slot is reused.
func (s *Storage) clearSlotMeta(i int) {
	buf := s.slotBytes(i)

	byteOrder.PutUint32(buf[slotOffLastAccess:], 0)
	byteOrder.PutUint64(buf[slotOffFingerprint:], 0)
}

// syncSlot flushes slot i in WritebackSync mode.
func (s *Storage) syncSlot(i int) error {
	if s.writeback != WritebackSync {
		return nil
	}

	return s.region.flushRange(headerSize+i*itemSize(s.valueSize), itemSize(s.valueSize))
}

// syncAll flushes the whole mapping in WritebackSync mode.
func (s *Storage) syncAll() error {
	if s.writeback != WritebackSync {
		return nil
	}

	return s.region.flush()
}

func (s *Storage) now() uint32 {
	return timestampOf(s.clock.Now())
}

func (s *Storage) checkSlotIndex(i int) error {
	if i < 0 || i >= s.size {
		return fmt.Errorf("slot index %d out of range [0, %d): %w", i, s.size, ErrInvalidInput)
	}

	return nil
}

// ReadSlot returns a copy of the raw record at slot index i, live or not.
//
// Possible errors: [ErrClosed], [ErrInvalidInput].
func (s *Storage) ReadSlot(i int) (Slot, error) {
	err := s.checkOpen()
	if err != nil {
		return Slot{}, err
	}

	err = s.checkSlotIndex(i)
	if err != nil {
		return Slot{}, err
	}

	return Slot{
		Fingerprint: s.slotFingerprint(i),
		LastAccess:  s.slotLastAccess(i),
		Value:       bytes.Clone(s.slotValue(i)),
	}, nil
}

// WriteSlot overwrites the raw record at slot index i.
//
// The in-memory index is not updated: a key written this way becomes
// visible to Lookup only after the file is reopened, and a slot that is
// currently live keeps its old fingerprint in the index. Intended for
// tools that rebuild or repair files.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrInvalidInput].
func (s *Storage) WriteSlot(i int, slot Slot) error {
	err := s.checkWritable()
	if err != nil {
		return err
	}

	err = s.checkSlotIndex(i)
	if err != nil {
		return err
	}

	if len(slot.Value) != s.valueSize {
		return fmt.Errorf("value length %d != value_size %d: %w", len(slot.Value), s.valueSize, ErrInvalidInput)
	}

	s.writeSlotRecord(i, slot.Fingerprint, slot.Value, slot.LastAccess)

	return s.syncSlot(i)
}

// Entry is a live key's value and last access time as returned by Lookup.
type Entry struct {
	Value []byte
	// LastAccess is seconds since the Unix epoch.
	LastAccess uint32
}

// Time returns LastAccess as a [time.Time].
func (e Entry) Time() time.Time {
	return time.Unix(int64(e.LastAccess), 0)
}

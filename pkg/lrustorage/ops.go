package lrustorage

import (
	"bytes"
	"fmt"
	"time"
)

const (
	// untouchedRetentionDays is the age after which
	// DeleteElementsUntouchedFor62Days drops an entry.
	untouchedRetentionDays = 62

	secondsPerDay = 24 * 60 * 60
)

// Seq is the iterator type returned by [Storage.Values].
//
// It matches the shape of iter.Seq[[]byte] so callers can use slices.Collect:
//
//	slices.Collect(iter.Seq[[]byte](seq))
type Seq func(yield func([]byte) bool)

// Lookup returns the value and last access time stored for key.
//
// Lookup never changes the recency order or the timestamp. The returned
// value is a copy and stays valid after the storage is mutated or closed.
//
// Possible errors: [ErrClosed].
func (s *Storage) Lookup(key string) (Entry, bool, error) {
	err := s.checkOpen()
	if err != nil {
		return Entry{}, false, err
	}

	slot, ok := s.index.get(Fingerprint(key, s.seed))
	if !ok {
		return Entry{}, false, nil
	}

	return Entry{
		Value:      bytes.Clone(s.slotValue(slot)),
		LastAccess: s.slotLastAccess(slot),
	}, true, nil
}

// LookupString is [Storage.Lookup] returning the value as a string, or ""
// when key is absent.
//
// Possible errors: [ErrClosed].
func (s *Storage) LookupString(key string) (string, error) {
	err := s.checkOpen()
	if err != nil {
		return "", err
	}

	slot, ok := s.index.get(Fingerprint(key, s.seed))
	if !ok {
		return "", nil
	}

	return string(s.slotValue(slot)), nil
}

// Insert stores value for key and marks it most recently used.
//
// An existing entry is overwritten in place. A new entry takes a free slot,
// or evicts the least recently used entry when the storage is full; Insert
// never fails for lack of space.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrInvalidInput], [ErrIO].
func (s *Storage) Insert(key string, value []byte) error {
	err := s.checkWritable()
	if err != nil {
		return err
	}

	err = s.checkValue(value)
	if err != nil {
		return err
	}

	fp := Fingerprint(key, s.seed)
	now := s.now()

	if slot, ok := s.index.get(fp); ok {
		s.writeSlotRecord(slot, fp, value, now)
		s.index.moveToFront(slot)

		return s.syncSlot(slot)
	}

	slot := s.claimSlot()
	s.writeSlotRecord(slot, fp, value, now)
	s.index.pushFront(fp, slot)

	return s.syncSlot(slot)
}

// TryInsert behaves like [Storage.Insert] when key is already present and
// does nothing otherwise. It reports whether the value was written.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrInvalidInput], [ErrIO].
func (s *Storage) TryInsert(key string, value []byte) (bool, error) {
	err := s.checkWritable()
	if err != nil {
		return false, err
	}

	err = s.checkValue(value)
	if err != nil {
		return false, err
	}

	if _, ok := s.index.get(Fingerprint(key, s.seed)); !ok {
		return false, nil
	}

	return true, s.Insert(key, value)
}

// Touch marks key most recently used and sets its last access time to now.
// It reports false when key is absent.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrIO].
func (s *Storage) Touch(key string) (bool, error) {
	err := s.checkWritable()
	if err != nil {
		return false, err
	}

	slot, ok := s.index.get(Fingerprint(key, s.seed))
	if !ok {
		return false, nil
	}

	s.setLastAccess(slot, s.now())
	s.index.moveToFront(slot)

	return true, s.syncSlot(slot)
}

// Delete removes key. Its slot is reused by the next insertion of a new key
// before any live entry is evicted. It reports false when key is absent.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrIO].
func (s *Storage) Delete(key string) (bool, error) {
	err := s.checkWritable()
	if err != nil {
		return false, err
	}

	slot, ok := s.index.get(Fingerprint(key, s.seed))
	if !ok {
		return false, nil
	}

	s.releaseSlot(slot)

	return true, s.syncSlot(slot)
}

// DeleteElementsBefore removes every entry whose last access time is
// strictly before timestamp (seconds since the Unix epoch) and returns how
// many were removed.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrIO].
func (s *Storage) DeleteElementsBefore(timestamp uint32) (int, error) {
	err := s.checkWritable()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, slot := range s.index.order() {
		if s.slotLastAccess(slot) < timestamp {
			s.releaseSlot(slot)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}

	s.log.Debug().Uint32("before", timestamp).Int("removed", removed).Msg("pruned entries")

	return removed, s.syncAll()
}

// DeleteElementsUntouchedFor62Days removes every entry not accessed during
// the last 62 days and returns how many were removed.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrIO].
func (s *Storage) DeleteElementsUntouchedFor62Days() (int, error) {
	return s.DeleteElementsUntouchedForDays(untouchedRetentionDays)
}

// DeleteElementsUntouchedForDays removes every entry not accessed during the
// last days days, measured on the storage clock, and returns how many were
// removed. A days value reaching back before the Unix epoch removes nothing.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrInvalidInput] (negative
// days), [ErrIO].
func (s *Storage) DeleteElementsUntouchedForDays(days int) (int, error) {
	err := s.checkWritable()
	if err != nil {
		return 0, err
	}

	if days < 0 {
		return 0, fmt.Errorf("days %d is negative: %w", days, ErrInvalidInput)
	}

	return s.DeleteElementsBefore(cutoffBefore(s.clock.Now(), days))
}

// cutoffBefore returns the timestamp days days before now, or 0 when that is
// before the Unix epoch.
func cutoffBefore(now time.Time, days int) uint32 {
	sec := now.Unix()
	if sec < 0 || int64(days) > sec/secondsPerDay {
		return 0
	}

	return timestampOf(time.Unix(sec-int64(days)*secondsPerDay, 0))
}

// Values returns every live value ordered from most to least recently used.
//
// The order and the values are captured when Values is called; later
// mutations do not affect the returned sequence, which may be iterated any
// number of times. Every yielded slice is a fresh copy.
//
// Possible errors: [ErrClosed].
func (s *Storage) Values() (Seq, error) {
	err := s.checkOpen()
	if err != nil {
		return nil, err
	}

	order := s.index.order()
	snapshot := make([]byte, 0, len(order)*s.valueSize)

	for _, slot := range order {
		snapshot = append(snapshot, s.slotValue(slot)...)
	}

	valueSize := s.valueSize

	return func(yield func([]byte) bool) {
		for off := 0; off < len(snapshot); off += valueSize {
			if !yield(bytes.Clone(snapshot[off : off+valueSize])) {
				return
			}
		}
	}, nil
}

// Clear removes every entry and zeroes all slots. The file keeps its size,
// value size, capacity and seed.
//
// Possible errors: [ErrClosed], [ErrReadOnly], [ErrIO].
func (s *Storage) Clear() error {
	err := s.checkWritable()
	if err != nil {
		return err
	}

	clear(s.region.data[headerSize:])
	s.index.reset()
	s.alloc.resetTo(0)

	s.log.Debug().Msg("storage cleared")

	return s.syncAll()
}

// claimSlot returns a slot for a new entry, evicting the least recently used
// entry when no free slot remains.
func (s *Storage) claimSlot() int {
	if slot, ok := s.alloc.take(); ok {
		return slot
	}

	// Size is at least 1 and every slot is live, so the list is non-empty.
	slot, _ := s.index.back()

	s.log.Debug().
		Int("slot", slot).
		Uint64("fingerprint", s.index.fingerprint(slot)).
		Uint32("last_access", s.slotLastAccess(slot)).
		Msg("evicting least recently used entry")

	s.index.remove(slot)

	return slot
}

// releaseSlot unlinks a live slot, marks it unused on disk and hands it back
// to the allocator.
func (s *Storage) releaseSlot(slot int) {
	s.index.remove(slot)
	s.clearSlotMeta(slot)
	s.alloc.release(slot)
}

func (s *Storage) checkValue(value []byte) error {
	if len(value) != s.valueSize {
		return fmt.Errorf("value length %d != value_size %d: %w", len(value), s.valueSize, ErrInvalidInput)
	}

	return nil
}

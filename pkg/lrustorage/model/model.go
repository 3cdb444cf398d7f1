// Package model provides a deliberately simple, in-memory state model of
// lrustorage's publicly observable behavior.
//
// The model is intentionally easy to audit: it keeps entries in a plain
// slice ordered from most to least recently used and addresses them by key
// instead of fingerprint. It knows nothing about the file layout, but it does
// track which slot each entry occupies: reopening orders entries that share
// a timestamp by slot, so the slot assignment is observable.
// Tests drive the model and the real storage with the same operations and
// compare what callers can observe.
package model

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/pop-os/mozc/pkg/lrustorage"
)

// Entry is one live key with its value and last access time.
type Entry struct {
	Key        string
	Value      []byte
	LastAccess uint32
	Slot       int
}

// FileState is the state that persists across Close/Open cycles.
// Entries are ordered from most to least recently used.
//
// Next and Reclaimed mirror the slot allocator: slots at or above Next have
// never been used, and Reclaimed is a stack of freed slots (top last).
type FileState struct {
	ValueSize int
	Size      int
	Seed      uint32
	Entries   []Entry
	Next      int
	Reclaimed []int
}

// StorageModel is an open handle against a FileState.
type StorageModel struct {
	File     *FileState
	IsClosed bool
}

// NewFile validates the geometry and returns an empty file state.
func NewFile(valueSize, size int, seed uint32) (*FileState, error) {
	if valueSize <= 0 || size <= 0 {
		return nil, lrustorage.ErrInvalidInput
	}

	return &FileState{
		ValueSize: valueSize,
		Size:      size,
		Seed:      seed,
	}, nil
}

// Clone makes a deep copy so tests can fork the exact same state.
func (file *FileState) Clone() *FileState {
	if file == nil {
		return nil
	}

	var entries []Entry
	if file.Entries != nil {
		entries = make([]Entry, len(file.Entries))
		for i, e := range file.Entries {
			entries[i] = e
			entries[i].Value = bytes.Clone(e.Value)
		}
	}

	return &FileState{
		ValueSize: file.ValueSize,
		Size:      file.Size,
		Seed:      file.Seed,
		Entries:   entries,
		Next:      file.Next,
		Reclaimed: slices.Clone(file.Reclaimed),
	}
}

// Open returns a handle on file.
//
// Reopening loses the in-memory recency order: like the real storage, the
// order is rebuilt from last access times, newest first, and equal
// timestamps put the higher slot first. The free slots are rebuilt the same
// way too: every unused slot below the highest live one is reclaimed, lowest
// on top.
func Open(file *FileState) *StorageModel {
	slices.SortStableFunc(file.Entries, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(b.LastAccess, a.LastAccess), cmp.Compare(b.Slot, a.Slot))
	})

	highest := -1
	for _, e := range file.Entries {
		highest = max(highest, e.Slot)
	}

	file.Next = highest + 1
	file.Reclaimed = nil

	for slot := highest; slot >= 0; slot-- {
		if !slices.ContainsFunc(file.Entries, func(e Entry) bool { return e.Slot == slot }) {
			file.Reclaimed = append(file.Reclaimed, slot)
		}
	}

	return &StorageModel{File: file}
}

// Close closes the handle. Closing twice is a no-op.
func (m *StorageModel) Close() error {
	m.IsClosed = true

	return nil
}

// UsedSize returns the number of live entries.
func (m *StorageModel) UsedSize() int {
	return len(m.File.Entries)
}

// Lookup returns the entry for key without changing the order.
func (m *StorageModel) Lookup(key string) (Entry, bool, error) {
	if m.IsClosed {
		return Entry{}, false, lrustorage.ErrClosed
	}

	i := m.find(key)
	if i < 0 {
		return Entry{}, false, nil
	}

	return m.File.Entries[i], true, nil
}

// Insert stores value for key at time now and moves it to the front,
// evicting the last entry when the model is full.
func (m *StorageModel) Insert(key string, value []byte, now uint32) error {
	if m.IsClosed {
		return lrustorage.ErrClosed
	}

	if len(value) != m.File.ValueSize {
		return lrustorage.ErrInvalidInput
	}

	entry := Entry{Key: key, Value: bytes.Clone(value), LastAccess: now}

	if i := m.find(key); i >= 0 {
		entry.Slot = m.File.Entries[i].Slot
		m.File.Entries = slices.Delete(m.File.Entries, i, i+1)
	} else {
		entry.Slot = m.takeSlot()
	}

	m.File.Entries = slices.Insert(m.File.Entries, 0, entry)

	return nil
}

// TryInsert inserts only when key is present.
func (m *StorageModel) TryInsert(key string, value []byte, now uint32) (bool, error) {
	if m.IsClosed {
		return false, lrustorage.ErrClosed
	}

	if len(value) != m.File.ValueSize {
		return false, lrustorage.ErrInvalidInput
	}

	if m.find(key) < 0 {
		return false, nil
	}

	return true, m.Insert(key, value, now)
}

// Touch moves key to the front with time now.
func (m *StorageModel) Touch(key string, now uint32) (bool, error) {
	if m.IsClosed {
		return false, lrustorage.ErrClosed
	}

	i := m.find(key)
	if i < 0 {
		return false, nil
	}

	entry := m.File.Entries[i]
	entry.LastAccess = now

	m.File.Entries = slices.Delete(m.File.Entries, i, i+1)
	m.File.Entries = slices.Insert(m.File.Entries, 0, entry)

	return true, nil
}

// Delete removes key.
func (m *StorageModel) Delete(key string) (bool, error) {
	if m.IsClosed {
		return false, lrustorage.ErrClosed
	}

	i := m.find(key)
	if i < 0 {
		return false, nil
	}

	m.release(i)

	return true, nil
}

// DeleteElementsBefore removes entries with LastAccess < timestamp.
func (m *StorageModel) DeleteElementsBefore(timestamp uint32) (int, error) {
	if m.IsClosed {
		return 0, lrustorage.ErrClosed
	}

	removed := 0

	for i := 0; i < len(m.File.Entries); {
		if m.File.Entries[i].LastAccess < timestamp {
			m.release(i)
			removed++

			continue
		}

		i++
	}

	return removed, nil
}

// Values returns the values from most to least recently used.
func (m *StorageModel) Values() ([][]byte, error) {
	if m.IsClosed {
		return nil, lrustorage.ErrClosed
	}

	out := make([][]byte, 0, len(m.File.Entries))
	for _, e := range m.File.Entries {
		out = append(out, bytes.Clone(e.Value))
	}

	return out, nil
}

// Clear removes every entry.
func (m *StorageModel) Clear() error {
	if m.IsClosed {
		return lrustorage.ErrClosed
	}

	m.File.Entries = nil
	m.File.Next = 0
	m.File.Reclaimed = nil

	return nil
}

// Merge folds other into the model: the union keeps the newest Size entries
// by last access time, a key present on both sides keeps the newer entry
// and ties go to other.
func (m *StorageModel) Merge(other *FileState) error {
	if m.IsClosed {
		return lrustorage.ErrClosed
	}

	if other.ValueSize != m.File.ValueSize || other.Seed != m.File.Seed {
		return lrustorage.ErrIncompatible
	}

	merged := oldestFirst(m.File.Entries)

	for _, e := range oldestFirst(other.Entries) {
		i := slices.IndexFunc(merged, func(x Entry) bool { return x.Key == e.Key })
		if i < 0 {
			merged = append(merged, e)

			continue
		}

		if e.LastAccess >= merged[i].LastAccess {
			merged[i] = e
		}
	}

	slices.SortStableFunc(merged, func(a, b Entry) int {
		return cmp.Compare(a.LastAccess, b.LastAccess)
	})

	merged = merged[max(len(merged)-m.File.Size, 0):]

	// The result is packed into the lowest slots, oldest first.
	for i := range merged {
		merged[i].Slot = i
	}

	slices.Reverse(merged)

	m.File.Entries = merged
	m.File.Next = len(merged)
	m.File.Reclaimed = nil

	return nil
}

// takeSlot returns the slot for a new entry: the most recently freed slot,
// then the lowest never-used slot, and otherwise the slot of the least
// recently used entry, which is evicted.
func (m *StorageModel) takeSlot() int {
	if n := len(m.File.Reclaimed); n > 0 {
		slot := m.File.Reclaimed[n-1]
		m.File.Reclaimed = m.File.Reclaimed[:n-1]

		return slot
	}

	if m.File.Next < m.File.Size {
		m.File.Next++

		return m.File.Next - 1
	}

	last := len(m.File.Entries) - 1
	slot := m.File.Entries[last].Slot
	m.File.Entries = m.File.Entries[:last]

	return slot
}

// release removes the entry at i and frees its slot.
func (m *StorageModel) release(i int) {
	m.File.Reclaimed = append(m.File.Reclaimed, m.File.Entries[i].Slot)
	m.File.Entries = slices.Delete(m.File.Entries, i, i+1)
}

func (m *StorageModel) find(key string) int {
	return slices.IndexFunc(m.File.Entries, func(e Entry) bool { return e.Key == key })
}

// oldestFirst returns a copy of entries (MRU first) reordered from least to
// most recently used, stably sorted by last access time.
func oldestFirst(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.Reverse(out)

	slices.SortStableFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.LastAccess, b.LastAccess)
	})

	return out
}

// Package lrustorage provides a persistent, fixed-capacity LRU key/value store
// backed by a memory-mapped file.
//
// Every value has the same size, fixed when the file is created. Keys are
// never stored: each key is reduced to a seeded 64-bit fingerprint, so two
// keys with the same fingerprint are the same entry. When the store is full,
// inserting a new key evicts the least recently used entry.
//
// lrustorage is a history cache, not a database. A file that fails validation
// is meant to be thrown away and recreated, which [OpenOrCreate] does.
//
// # Basic Usage
//
//	s, err := lrustorage.OpenOrCreate(lrustorage.Options{
//	    Path:      "/tmp/history.db",
//	    ValueSize: 4,
//	    Size:      10000,
//	    Seed:      0x5eed,
//	})
//	if err != nil {
//	    // handle [ErrIO]/[ErrInvalidInput]
//	}
//	defer s.Close()
//
//	// Write
//	err = s.Insert("key", []byte{1, 2, 3, 4})
//
//	// Read
//	entry, found, err := s.Lookup("key")
//
//	// Iterate, most recently used first
//	values, err := s.Values()
//	for v := range values {
//	    ...
//	}
//
// # Recency
//
// Insert and Touch make an entry the most recently used and stamp it with
// the current time in seconds. Lookup does not. The in-memory order is exact;
// on reopen it is rebuilt from the stored timestamps, and entries sharing a
// second are ordered by slot index, highest first. New entries take slots in
// ascending order, so a burst of inserts within one second reopens in the
// same order. A Touch within the same second as a later insert is not
// recorded and may come back behind it.
//
// # Concurrency
//
// A [Storage] is owned by one goroutine at a time and does no locking.
// Several processes may map a file read-only; only one may write it.
package lrustorage

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/pop-os/mozc/pkg/fs"
	"github.com/pop-os/mozc/pkg/lrustorage"
)

// Snapshot layout, zstd-compressed, little endian:
//
//	Header:  [magic:8][value_size:u32][seed:u32][count:u32]
//	Records: count × { [fingerprint:u64][last_access:u32][value] }
//
// Records carry fingerprints, not keys, so a snapshot only makes sense for a
// store with the same seed.
const (
	snapshotMagic      = "LRUSNAP1"
	snapshotHeaderSize = len(snapshotMagic) + 12
	snapshotMaxRecords = 1_000_000
)

var errSnapshotFormat = errors.New("bad snapshot")

// exportSnapshot writes every live slot of s to path and returns the number
// of records written. The file is replaced atomically.
func exportSnapshot(fsys fs.FS, s *lrustorage.Storage, path string) (int, error) {
	var records []lrustorage.Slot

	for i := range s.Size() {
		slot, err := s.ReadSlot(i)
		if err != nil {
			return 0, err
		}

		if slot.LastAccess != 0 {
			records = append(records, slot)
		}
	}

	var buf bytes.Buffer

	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("creating zstd encoder: %w", err)
	}

	header := make([]byte, 0, snapshotHeaderSize)
	header = append(header, snapshotMagic...)
	header = binary.LittleEndian.AppendUint32(header, uint32(s.ValueSize()))
	header = binary.LittleEndian.AppendUint32(header, s.Seed())
	header = binary.LittleEndian.AppendUint32(header, uint32(len(records)))

	_, err = enc.Write(header)
	if err != nil {
		_ = enc.Close()

		return 0, fmt.Errorf("compressing snapshot: %w", err)
	}

	record := make([]byte, 0, 12+s.ValueSize())

	for _, slot := range records {
		record = record[:0]
		record = binary.LittleEndian.AppendUint64(record, slot.Fingerprint)
		record = binary.LittleEndian.AppendUint32(record, slot.LastAccess)
		record = append(record, slot.Value...)

		_, err = enc.Write(record)
		if err != nil {
			_ = enc.Close()

			return 0, fmt.Errorf("compressing snapshot: %w", err)
		}
	}

	err = enc.Close()
	if err != nil {
		return 0, fmt.Errorf("compressing snapshot: %w", err)
	}

	err = fsys.WriteFileAtomic(path, &buf)
	if err != nil {
		return 0, fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	return len(records), nil
}

// importSnapshot merges the snapshot at path into s and returns the number
// of records read.
//
// The records are staged in a temporary storage file which is then merged
// with [lrustorage.Storage.MergeFile], so the usual merge rules apply: the
// newer timestamp wins and the oldest entries are dropped at capacity.
func importSnapshot(fsys fs.FS, s *lrustorage.Storage, path string) (int, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}

	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("creating zstd decoder: %w", err)
	}

	defer dec.Close()

	header := make([]byte, snapshotHeaderSize)

	_, err = io.ReadFull(dec, header)
	if err != nil {
		return 0, fmt.Errorf("%w: reading header: %w", errSnapshotFormat, err)
	}

	if string(header[:len(snapshotMagic)]) != snapshotMagic {
		return 0, fmt.Errorf("%w: magic %q", errSnapshotFormat, header[:len(snapshotMagic)])
	}

	fields := header[len(snapshotMagic):]
	valueSize := int(binary.LittleEndian.Uint32(fields[0:]))
	seed := binary.LittleEndian.Uint32(fields[4:])
	count := int(binary.LittleEndian.Uint32(fields[8:]))

	if valueSize != s.ValueSize() || seed != s.Seed() {
		return 0, fmt.Errorf("snapshot value_size=%d seed=%d, storage value_size=%d seed=%d: %w",
			valueSize, seed, s.ValueSize(), s.Seed(), lrustorage.ErrIncompatible)
	}

	if count > snapshotMaxRecords {
		return 0, fmt.Errorf("%w: %d records exceeds max %d", errSnapshotFormat, count, snapshotMaxRecords)
	}

	if count == 0 {
		return 0, nil
	}

	dir, err := os.MkdirTemp("", "lructl-import-*")
	if err != nil {
		return 0, fmt.Errorf("creating staging directory: %w", err)
	}

	defer func() { _ = os.RemoveAll(dir) }()

	stagingPath := filepath.Join(dir, "staging.db")

	err = stageRecords(fsys, dec, stagingPath, valueSize, count, seed)
	if err != nil {
		return 0, err
	}

	err = s.MergeFile(stagingPath)
	if err != nil {
		return 0, fmt.Errorf("merging snapshot: %w", err)
	}

	return count, nil
}

// stageRecords writes count records from r into a new storage file at path.
func stageRecords(fsys fs.FS, r io.Reader, path string, valueSize, count int, seed uint32) error {
	opts := lrustorage.Options{
		Path:      path,
		ValueSize: valueSize,
		Size:      count,
		Seed:      seed,
		FS:        fsys,
	}

	err := lrustorage.CreateStorageFile(opts)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}

	staging, err := lrustorage.Open(opts)
	if err != nil {
		return fmt.Errorf("opening staging file: %w", err)
	}

	record := make([]byte, 12+valueSize)

	for i := range count {
		_, err = io.ReadFull(r, record)
		if err != nil {
			_ = staging.Close()

			return fmt.Errorf("%w: record %d: %w", errSnapshotFormat, i, err)
		}

		slot := lrustorage.Slot{
			Fingerprint: binary.LittleEndian.Uint64(record[0:]),
			LastAccess:  binary.LittleEndian.Uint32(record[8:]),
			Value:       record[12:],
		}

		if slot.LastAccess == 0 {
			_ = staging.Close()

			return fmt.Errorf("%w: record %d has no last access time", errSnapshotFormat, i)
		}

		err = staging.WriteSlot(i, slot)
		if err != nil {
			_ = staging.Close()

			return fmt.Errorf("staging record %d: %w", i, err)
		}
	}

	return staging.Close()
}

package lrustorage_test

import (
	"bytes"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pop-os/mozc/pkg/fs"
	"github.com/pop-os/mozc/pkg/lrustorage"
)

func Test_Storage_Lookup_Returns_Inserted_Value_When_Key_Present(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 4, 8)
	s := openStorage(t, opts)

	insert(t, s, "key", "abcd")

	entry, found, err := s.Lookup("key")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("abcd"), entry.Value)
	require.Equal(t, uint32(baseTime), entry.LastAccess)
	require.True(t, entry.Time().Equal(clock.Now()))

	str, err := s.LookupString("key")
	require.NoError(t, err)
	require.Equal(t, "abcd", str)

	_, found, err = s.Lookup("missing")
	require.NoError(t, err)
	require.False(t, found)

	str, err = s.LookupString("missing")
	require.NoError(t, err)
	require.Empty(t, str)
}

func Test_Storage_Lookup_Does_Not_Change_Order_Or_Timestamp(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	insert(t, s, "k1", "1")
	clock.Advance(time.Second)
	insert(t, s, "k2", "2")
	clock.Advance(time.Second)

	entry, _, err := s.Lookup("k1")
	require.NoError(t, err)
	require.Equal(t, uint32(baseTime), entry.LastAccess)

	requireValues(t, s, "2", "1")
}

func Test_Storage_Lookup_Returns_Copy_When_Storage_Mutated_Later(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 2, 2)
	s := openStorage(t, opts)

	insert(t, s, "k", "ab")

	entry, _, err := s.Lookup("k")
	require.NoError(t, err)

	insert(t, s, "k", "zz")
	require.NoError(t, s.Close())

	require.Equal(t, []byte("ab"), entry.Value)
}

func Test_Storage_Never_Exceeds_Capacity_When_More_Keys_Inserted(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		insert(t, s, key, key)
		clock.Advance(time.Second)

		require.LessOrEqual(t, s.UsedSize(), 3, "after insert %d", i)
	}

	require.Equal(t, 3, s.UsedSize())
	requireValues(t, s, "e", "d", "c")

	for _, evicted := range []string{"a", "b"} {
		_, found, err := s.Lookup(evicted)
		require.NoError(t, err)
		require.False(t, found, "%q should be evicted", evicted)
	}
}

func Test_Storage_Orders_Values_By_Recency_When_Touched(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 2, 3)
	s := openStorage(t, opts)

	insert(t, s, "k1", "v1")
	clock.Advance(time.Second)
	insert(t, s, "k2", "v2")
	clock.Advance(time.Second)
	insert(t, s, "k3", "v3")
	clock.Advance(time.Second)

	requireValues(t, s, "v3", "v2", "v1")

	touched, err := s.Touch("k1")
	require.NoError(t, err)
	require.True(t, touched)

	requireValues(t, s, "v1", "v3", "v2")

	entry, _, err := s.Lookup("k1")
	require.NoError(t, err)
	require.Equal(t, uint32(baseTime+3), entry.LastAccess)

	touched, err = s.Touch("missing")
	require.NoError(t, err)
	require.False(t, touched)

	// k2 is now least recently used.
	insert(t, s, "k4", "v4")

	_, found, err := s.Lookup("k2")
	require.NoError(t, err)
	require.False(t, found, "k2 should be evicted")
	requireValues(t, s, "v4", "v1", "v3")
}

func Test_Storage_Overwrites_In_Place_When_Key_Reinserted(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 2)
	s := openStorage(t, opts)

	insert(t, s, "a", "1")
	clock.Advance(time.Second)
	insert(t, s, "b", "2")
	clock.Advance(time.Second)
	insert(t, s, "a", "3")

	require.Equal(t, 2, s.UsedSize())
	requireValues(t, s, "3", "2")
}

func Test_Storage_Insert_Returns_ErrInvalidInput_When_Value_Length_Wrong(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 2)
	s := openStorage(t, opts)

	require.ErrorIs(t, s.Insert("k", []byte("abc")), lrustorage.ErrInvalidInput)
	require.ErrorIs(t, s.Insert("k", []byte("abcde")), lrustorage.ErrInvalidInput)

	_, err := s.TryInsert("k", nil)
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)

	require.Zero(t, s.UsedSize())
}

func Test_Storage_TryInsert_Does_Nothing_When_Key_Absent(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	insert(t, s, "a", "a")
	clock.Advance(time.Second)
	insert(t, s, "b", "b")
	clock.Advance(time.Second)

	inserted, err := s.TryInsert("missing", []byte("x"))
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, 2, s.UsedSize())
	requireValues(t, s, "b", "a")

	inserted, err = s.TryInsert("a", []byte("A"))
	require.NoError(t, err)
	require.True(t, inserted)
	requireValues(t, s, "A", "b")
}

func Test_Storage_Delete_Is_Idempotent_When_Called_Twice(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 2)
	s := openStorage(t, opts)

	insert(t, s, "a", "a")

	deleted, err := s.Delete("a")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.Delete("a")
	require.NoError(t, err)
	require.False(t, deleted)

	_, found, err := s.Lookup("a")
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, s.UsedSize())
}

func Test_Storage_Reuses_Deleted_Slot_When_Full(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 2)
	s := openStorage(t, opts)

	insert(t, s, "a", "a")
	clock.Advance(time.Second)
	insert(t, s, "b", "b")
	clock.Advance(time.Second)

	_, err := s.Delete("b")
	require.NoError(t, err)

	insert(t, s, "c", "c")

	_, found, err := s.Lookup("a")
	require.NoError(t, err)
	require.True(t, found, "a must not be evicted while a deleted slot is free")
	requireValues(t, s, "c", "a")
}

func Test_Storage_DeleteElementsBefore_Removes_Strictly_Older_Entries(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 2, 4)
	s := openStorage(t, opts)

	entries := []struct {
		at    int64
		key   string
		value string
	}{
		{at: 10, key: "k1", value: "v1"},
		{at: 20, key: "k2", value: "v2"},
		{at: 30, key: "k3", value: "v3"},
	}

	for _, e := range entries {
		clock.SetUnix(e.at)
		insert(t, s, e.key, e.value)
	}

	removed, err := s.DeleteElementsBefore(20)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	requireValues(t, s, "v3", "v2")

	removed, err = s.DeleteElementsBefore(20)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func Test_Storage_DeleteElementsUntouchedFor62Days_Removes_Stale_Entries(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 4)
	s := openStorage(t, opts)

	const day = 24 * time.Hour

	now := clock.Now()

	clock.now = now.Add(-63 * day)
	insert(t, s, "old", "o")

	clock.now = now.Add(-61 * day)
	insert(t, s, "recent", "r")

	clock.now = now
	insert(t, s, "new", "n")

	removed, err := s.DeleteElementsUntouchedFor62Days()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	requireValues(t, s, "n", "r")
}

func Test_Storage_DeleteElementsUntouchedForDays_Uses_Storage_Clock(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 4)
	s := openStorage(t, opts)

	insert(t, s, "old", "o")
	clock.Advance(10 * 24 * time.Hour)
	insert(t, s, "new", "n")

	removed, err := s.DeleteElementsUntouchedForDays(200_000)
	require.NoError(t, err)
	require.Zero(t, removed, "a window reaching before the epoch must not remove anything")

	removed, err = s.DeleteElementsUntouchedForDays(0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	requireValues(t, s, "n")

	_, err = s.DeleteElementsUntouchedForDays(-1)
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)
	require.Equal(t, 1, s.UsedSize())
}

func Test_Storage_Values_Snapshot_Is_Unaffected_When_Storage_Mutated(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	insert(t, s, "a", "a")
	clock.Advance(time.Second)
	insert(t, s, "b", "b")
	clock.Advance(time.Second)

	seq, err := s.Values()
	require.NoError(t, err)

	insert(t, s, "c", "c")
	_, err = s.Delete("a")
	require.NoError(t, err)

	var first, second []string
	for v := range seq {
		first = append(first, string(v))
	}

	for v := range seq {
		second = append(second, string(v))
	}

	require.Equal(t, []string{"b", "a"}, first)
	require.Equal(t, first, second, "sequence must be restartable")

	var stopped []string
	for v := range seq {
		stopped = append(stopped, string(v))

		break
	}

	require.Equal(t, []string{"b"}, stopped)
}

func Test_Storage_Clear_Empties_Storage_When_Called(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	insert(t, s, "a", "a")
	insert(t, s, "b", "b")

	require.NoError(t, s.Clear())
	require.Zero(t, s.UsedSize())
	requireValues(t, s)

	info, err := os.Stat(opts.Path)
	require.NoError(t, err)
	require.Equal(t, int64(12+3*13), info.Size(), "Clear must keep the file size")

	for _, key := range []string{"x", "y", "z"} {
		clock.Advance(time.Second)
		insert(t, s, key, key)
	}

	requireValues(t, s, "z", "y", "x")

	s = reopen(t, s, opts)
	requireValues(t, s, "z", "y", "x")
}

func Test_Storage_Persists_Entries_And_Order_When_Reopened(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 2, 4)
	s := openStorage(t, opts)

	insert(t, s, "k1", "v1")
	clock.Advance(time.Second)
	insert(t, s, "k2", "v2")
	clock.Advance(time.Second)
	insert(t, s, "k3", "v3")
	clock.Advance(time.Second)

	_, err := s.Touch("k1")
	require.NoError(t, err)

	s = reopen(t, s, lrustorage.Options{Path: opts.Path, Clock: clock, Logger: opts.Logger})

	require.Equal(t, 2, s.ValueSize())
	require.Equal(t, 4, s.Size())
	require.Equal(t, 14, s.ItemSize())
	require.Equal(t, uint32(0x5eed), s.Seed())
	require.Equal(t, opts.Path, s.Filename())
	require.Equal(t, 3, s.UsedSize())

	requireValues(t, s, "v1", "v3", "v2")

	entry, found, err := s.Lookup("k2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint32(baseTime+1), entry.LastAccess)
}

func Test_Storage_Persists_Order_When_Timestamps_Tie(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 2, 5)
	s := openStorage(t, opts)

	// All within one second.
	insert(t, s, "k1", "v1")
	insert(t, s, "k2", "v2")
	insert(t, s, "k3", "v3")

	requireValues(t, s, "v3", "v2", "v1")

	s = reopen(t, s, opts)
	requireValues(t, s, "v3", "v2", "v1")

	// k4 reuses the freed slot 0 and k5 takes a fresh one above it.
	clock.Advance(time.Second)

	_, err := s.Delete("k1")
	require.NoError(t, err)

	insert(t, s, "k4", "v4")
	insert(t, s, "k5", "v5")

	requireValues(t, s, "v5", "v4", "v3", "v2")

	s = reopen(t, s, opts)
	requireValues(t, s, "v5", "v4", "v3", "v2")
}

func Test_Storage_Open_Returns_ErrIO_When_File_Missing(t *testing.T) {
	t.Parallel()

	_, err := lrustorage.Open(lrustorage.Options{Path: filepath.Join(t.TempDir(), "missing.db")})
	require.ErrorIs(t, err, lrustorage.ErrIO)
	require.ErrorIs(t, err, iofs.ErrNotExist)
}

func Test_Storage_Open_Returns_ErrInvalidInput_When_Options_Invalid(t *testing.T) {
	t.Parallel()

	_, err := lrustorage.Open(lrustorage.Options{})
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)

	_, err = lrustorage.Open(lrustorage.Options{Path: "x", Writeback: lrustorage.WritebackMode(99)})
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)
}

func Test_Storage_Open_Returns_ErrFormat_When_File_Corrupt(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{name: "Empty", mutate: func([]byte) []byte { return nil }},
		{name: "ShorterThanHeader", mutate: func(b []byte) []byte { return b[:8] }},
		{name: "TruncatedSlots", mutate: func(b []byte) []byte { return b[:len(b)-1] }},
		{name: "TrailingGarbage", mutate: func(b []byte) []byte { return append(b, 0xFF) }},
		{name: "ZeroValueSize", mutate: func(b []byte) []byte {
			clear(b[0:4])

			return b
		}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts, _ := testOptions(t, 4, 3)
			require.NoError(t, lrustorage.CreateStorageFile(opts))

			mutateFile(t, opts.Path, testCase.mutate)

			_, err := lrustorage.Open(opts)
			require.ErrorIs(t, err, lrustorage.ErrFormat)
		})
	}
}

func Test_Storage_OpenOrCreate_Recreates_File_When_Truncated(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 3)
	s := openStorage(t, opts)
	insert(t, s, "k", "vvvv")
	require.NoError(t, s.Close())

	mutateFile(t, opts.Path, func(b []byte) []byte { return b[:20] })

	s = openStorage(t, opts)

	require.Zero(t, s.UsedSize())
	require.Equal(t, 4, s.ValueSize())
	require.Equal(t, 3, s.Size())

	info, err := os.Stat(opts.Path)
	require.NoError(t, err)
	require.Equal(t, int64(12+3*16), info.Size())
}

func Test_Storage_OpenOrCreate_Recreates_File_When_Geometry_Differs(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 3)
	s := openStorage(t, opts)
	insert(t, s, "k", "vvvv")
	require.NoError(t, s.Close())

	testCases := []func(*lrustorage.Options){
		func(o *lrustorage.Options) { o.ValueSize = 8 },
		func(o *lrustorage.Options) { o.Size = 5 },
		func(o *lrustorage.Options) { o.Seed = 1 },
	}

	for _, change := range testCases {
		changed := opts
		change(&changed)

		s, err := lrustorage.OpenOrCreate(changed)
		require.NoError(t, err)

		require.Zero(t, s.UsedSize())
		require.Equal(t, changed.ValueSize, s.ValueSize())
		require.Equal(t, changed.Size, s.Size())
		require.Equal(t, changed.Seed, s.Seed())
		require.NoError(t, s.Close())
	}
}

func Test_Storage_OpenOrCreate_Keeps_Entries_When_Geometry_Matches(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 3)
	s := openStorage(t, opts)
	insert(t, s, "k", "vvvv")
	require.NoError(t, s.Close())

	s = openStorage(t, opts)

	str, err := s.LookupString("k")
	require.NoError(t, err)
	require.Equal(t, "vvvv", str)
}

func Test_Storage_OpenOrCreate_Returns_ErrInvalidInput_When_Geometry_Invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		valueSize int
		size      int
	}{
		{name: "ZeroValueSize", valueSize: 0, size: 1},
		{name: "ValueSizeOverLimit", valueSize: 1025, size: 1},
		{name: "ZeroSize", valueSize: 1, size: 0},
		{name: "SizeOverLimit", valueSize: 1, size: 1_000_001},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts, _ := testOptions(t, testCase.valueSize, testCase.size)

			_, err := lrustorage.OpenOrCreate(opts)
			require.ErrorIs(t, err, lrustorage.ErrInvalidInput)

			require.ErrorIs(t, lrustorage.CreateStorageFile(opts), lrustorage.ErrInvalidInput)

			_, statErr := os.Stat(opts.Path)
			require.ErrorIs(t, statErr, iofs.ErrNotExist, "no file should be created")
		})
	}
}

func Test_Storage_OpenOrCreate_Returns_ErrIO_When_Create_Fails(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 3)
	chaos := fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{WriteFailRate: 1})
	opts.FS = chaos

	_, err := lrustorage.OpenOrCreate(opts)
	require.ErrorIs(t, err, lrustorage.ErrIO)
	require.True(t, fs.IsChaosErr(err))
	require.Equal(t, int64(1), chaos.Stats().WriteFails)
}

func Test_Storage_Open_Returns_ErrIO_When_Stat_Fails(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 3)
	require.NoError(t, lrustorage.CreateStorageFile(opts))

	opts.FS = fs.NewChaos(fs.NewReal(), 1, &fs.ChaosConfig{FileStatFailRate: 1})

	_, err := lrustorage.Open(opts)
	require.ErrorIs(t, err, lrustorage.ErrIO)
}

func Test_CreateStorageFile_Writes_Zeroed_File_When_Geometry_Valid(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 5)
	opts.Path = filepath.Join(filepath.Dir(opts.Path), "nested", "dir", "new.db")

	require.NoError(t, lrustorage.CreateStorageFile(opts))

	data, err := os.ReadFile(opts.Path)
	require.NoError(t, err)
	require.Len(t, data, 12+5*16)
	require.True(t, bytes.Equal(data[12:], make([]byte, 5*16)), "slots must be zeroed")

	s, err := lrustorage.Open(opts)
	require.NoError(t, err)

	defer func() { _ = s.Close() }()

	require.Equal(t, 4, s.ValueSize())
	require.Equal(t, 5, s.Size())
	require.Equal(t, uint32(0x5eed), s.Seed())
	require.Zero(t, s.UsedSize())
}

func Test_Storage_Returns_ErrClosed_When_Closed(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 2)
	s := openStorage(t, opts)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second Close should be a no-op")

	_, _, err := s.Lookup("a")
	require.ErrorIs(t, err, lrustorage.ErrClosed)

	require.ErrorIs(t, s.Insert("a", []byte("a")), lrustorage.ErrClosed)

	_, err = s.Touch("a")
	require.ErrorIs(t, err, lrustorage.ErrClosed)

	_, err = s.Delete("a")
	require.ErrorIs(t, err, lrustorage.ErrClosed)

	_, err = s.Values()
	require.ErrorIs(t, err, lrustorage.ErrClosed)

	require.ErrorIs(t, s.Clear(), lrustorage.ErrClosed)

	_, err = s.ReadSlot(0)
	require.ErrorIs(t, err, lrustorage.ErrClosed)

	require.Equal(t, 2, s.Size(), "introspection keeps working after Close")
}

func Test_Storage_Returns_ErrReadOnly_When_Opened_ReadOnly(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 2)
	s := openStorage(t, opts)
	insert(t, s, "a", "a")
	require.NoError(t, s.Close())

	opts.ReadOnly = true

	ro, err := lrustorage.Open(opts)
	require.NoError(t, err)

	defer func() { _ = ro.Close() }()

	str, err := ro.LookupString("a")
	require.NoError(t, err)
	require.Equal(t, "a", str)

	require.ErrorIs(t, ro.Insert("b", []byte("b")), lrustorage.ErrReadOnly)

	_, err = ro.Touch("a")
	require.ErrorIs(t, err, lrustorage.ErrReadOnly)

	_, err = ro.Delete("a")
	require.ErrorIs(t, err, lrustorage.ErrReadOnly)

	_, err = ro.DeleteElementsBefore(100)
	require.ErrorIs(t, err, lrustorage.ErrReadOnly)

	require.ErrorIs(t, ro.Clear(), lrustorage.ErrReadOnly)
	require.ErrorIs(t, ro.WriteSlot(0, lrustorage.Slot{Value: []byte("x")}), lrustorage.ErrReadOnly)
}

func Test_Storage_Persists_Mutations_When_Writeback_Sync(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 3, 4)
	opts.Writeback = lrustorage.WritebackSync
	s := openStorage(t, opts)

	insert(t, s, "a", "aaa")
	clock.Advance(time.Second)
	insert(t, s, "b", "bbb")
	clock.Advance(time.Second)

	_, err := s.Touch("a")
	require.NoError(t, err)

	_, err = s.Delete("b")
	require.NoError(t, err)

	_, err = s.DeleteElementsBefore(1)
	require.NoError(t, err)

	data, err := os.ReadFile(opts.Path)
	require.NoError(t, err)
	require.True(t, bytes.Contains(data, []byte("aaa")))

	s = reopen(t, s, opts)
	requireValues(t, s, "aaa")
}

func Test_Storage_ReadSlot_Returns_ErrInvalidInput_When_Index_Out_Of_Range(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 2)
	s := openStorage(t, opts)

	_, err := s.ReadSlot(-1)
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)

	_, err = s.ReadSlot(2)
	require.ErrorIs(t, err, lrustorage.ErrInvalidInput)

	require.ErrorIs(t, s.WriteSlot(2, lrustorage.Slot{Value: []byte("x")}), lrustorage.ErrInvalidInput)
	require.ErrorIs(t, s.WriteSlot(0, lrustorage.Slot{Value: []byte("xy")}), lrustorage.ErrInvalidInput)
}

func Test_Storage_ReadSlot_Returns_Raw_Record_When_Entry_Inserted(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 2, 2)
	s := openStorage(t, opts)

	insert(t, s, "k", "ab")

	slot, err := s.ReadSlot(0)
	require.NoError(t, err)
	require.Equal(t, lrustorage.Slot{
		Fingerprint: lrustorage.Fingerprint("k", opts.Seed),
		LastAccess:  uint32(baseTime),
		Value:       []byte("ab"),
	}, slot)

	empty, err := s.ReadSlot(1)
	require.NoError(t, err)
	require.Zero(t, empty.LastAccess)
}

func Test_Storage_Lookup_Finds_WriteSlot_Record_When_Reopened(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 2, 3)
	s := openStorage(t, opts)

	require.NoError(t, s.WriteSlot(2, lrustorage.Slot{
		Fingerprint: lrustorage.Fingerprint("raw", opts.Seed),
		LastAccess:  42,
		Value:       []byte("rw"),
	}))

	_, found, err := s.Lookup("raw")
	require.NoError(t, err)
	require.False(t, found, "WriteSlot does not update the index")

	s = reopen(t, s, opts)

	entry, found, err := s.Lookup("raw")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("rw"), entry.Value)
	require.Equal(t, uint32(42), entry.LastAccess)

	// Slots 0 and 1 are free and must be used before anything is evicted.
	insert(t, s, "a", "aa")
	insert(t, s, "b", "bb")
	require.Equal(t, 3, s.UsedSize())
}

func Test_Storage_Keeps_Newest_Duplicate_When_Reopened(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 3)
	s := openStorage(t, opts)

	fp := lrustorage.Fingerprint("dup", opts.Seed)

	require.NoError(t, s.WriteSlot(0, lrustorage.Slot{Fingerprint: fp, LastAccess: 5, Value: []byte("o")}))
	require.NoError(t, s.WriteSlot(1, lrustorage.Slot{Fingerprint: fp, LastAccess: 9, Value: []byte("n")}))

	s = reopen(t, s, opts)

	require.Equal(t, 1, s.UsedSize())

	str, err := s.LookupString("dup")
	require.NoError(t, err)
	require.Equal(t, "n", str)

	stale, err := s.ReadSlot(0)
	require.NoError(t, err)
	require.Zero(t, stale.LastAccess, "the older duplicate must be cleared")
}

func Test_Storage_Logs_Eviction_When_Full(t *testing.T) {
	t.Parallel()

	opts, clock := testOptions(t, 1, 1)

	var buf bytes.Buffer

	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	opts.Logger = &logger

	s := openStorage(t, opts)

	insert(t, s, "a", "a")
	clock.Advance(time.Second)
	insert(t, s, "b", "b")

	require.Contains(t, buf.String(), "evicting least recently used entry")
	require.Contains(t, buf.String(), opts.Path)
}

func Test_Storage_Keys_Do_Not_Match_When_Seed_Differs(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 1, 2)
	s := openStorage(t, opts)
	insert(t, s, "k", "v")

	slot, err := s.ReadSlot(0)
	require.NoError(t, err)

	other := opts
	other.Seed = opts.Seed + 1
	other.Path = filepath.Join(filepath.Dir(opts.Path), "other.db")

	o := openStorage(t, other)
	require.NoError(t, o.WriteSlot(0, slot))

	o = reopen(t, o, other)

	_, found, err := o.Lookup("k")
	require.NoError(t, err)
	require.False(t, found, "a fingerprint from another seed must not match")
	require.Equal(t, 1, o.UsedSize())
}

func Test_Storage_Errors_Wrap_Sentinels_When_Checked_With_ErrorsIs(t *testing.T) {
	t.Parallel()

	opts, _ := testOptions(t, 4, 1)
	s := openStorage(t, opts)

	err := s.Insert("k", []byte("x"))
	require.True(t, errors.Is(err, lrustorage.ErrInvalidInput))
	require.False(t, errors.Is(err, lrustorage.ErrIO))
}

// test_helpers_test.go - Shared helpers for lrustorage tests.

package lrustorage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pop-os/mozc/pkg/lrustorage"
)

// baseTime is an arbitrary fixed wall clock used by tests.
const baseTime int64 = 1_700_000_000

// fakeClock is a manually advanced clock. Not safe for concurrent use.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(baseTime, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func (c *fakeClock) SetUnix(sec int64) { c.now = time.Unix(sec, 0) }

// testOptions returns options for a new store under a temp dir with a fake
// clock and a logger that writes to the test log.
func testOptions(t *testing.T, valueSize, size int) (lrustorage.Options, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)

	return lrustorage.Options{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		ValueSize: valueSize,
		Size:      size,
		Seed:      0x5eed,
		Clock:     clock,
		Logger:    &logger,
	}, clock
}

// openStorage opens or creates the store described by opts and closes it
// when the test ends.
func openStorage(t *testing.T, opts lrustorage.Options) *lrustorage.Storage {
	t.Helper()

	s, err := lrustorage.OpenOrCreate(opts)
	require.NoError(t, err, "OpenOrCreate")

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// reopen closes s and opens the same file again with opts.
func reopen(t *testing.T, s *lrustorage.Storage, opts lrustorage.Options) *lrustorage.Storage {
	t.Helper()

	require.NoError(t, s.Close(), "Close")

	reopened, err := lrustorage.Open(opts)
	require.NoError(t, err, "Open")

	t.Cleanup(func() { _ = reopened.Close() })

	return reopened
}

// collectValues returns every value as a string, most recent first.
func collectValues(t *testing.T, s *lrustorage.Storage) []string {
	t.Helper()

	seq, err := s.Values()
	require.NoError(t, err, "Values")

	var out []string
	for v := range seq {
		out = append(out, string(v))
	}

	return out
}

func requireValues(t *testing.T, s *lrustorage.Storage, want ...string) {
	t.Helper()

	got := collectValues(t, s)
	if len(want) == 0 {
		want = nil
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func insert(t *testing.T, s *lrustorage.Storage, key, value string) {
	t.Helper()

	require.NoError(t, s.Insert(key, []byte(value)), "Insert(%q)", key)
}

// mutateFile reads a file, applies a mutation, and writes it back.
func mutateFile(tb testing.TB, path string, mutate func([]byte) []byte) {
	tb.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read file: %v", err)
	}

	err = os.WriteFile(path, mutate(data), 0o600)
	if err != nil {
		tb.Fatalf("write file: %v", err)
	}
}

package journal

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/doobs/internal/recognition"
)

func newTestJournal(t *testing.T, keep int) *Journal {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "test.db")
	j, err := Open(path, keep, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalPragmas(t *testing.T) {
	j := newTestJournal(t, 0)

	var mode string
	require.NoError(t, j.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, j.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.GreaterOrEqual(t, timeout, 5000)
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t, 0)
	at := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

	require.NoError(t, j.Record(recognition.LifecycleEvent{Kind: recognition.LifecycleSessionStarted, At: at}))
	require.NoError(t, j.Record(recognition.LifecycleEvent{
		Kind:   recognition.LifecycleError,
		Code:   recognition.CodeNetwork,
		Detail: " socket closed ",
		At:     at.Add(time.Second),
	}))
	require.NoError(t, j.Record(recognition.LifecycleEvent{
		Kind:  recognition.LifecycleTranscriptCommitted,
		Words: 4,
		At:    at.Add(2 * time.Second),
	}))

	entries, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, recognition.LifecycleTranscriptCommitted, entries[0].Kind)
	assert.Equal(t, 4, entries[0].Words)
	assert.True(t, entries[0].At.Equal(at.Add(2*time.Second)))

	assert.Equal(t, recognition.LifecycleError, entries[1].Kind)
	assert.Equal(t, recognition.CodeNetwork, entries[1].Code)
	assert.Equal(t, "socket closed", entries[1].Detail)
}

func TestRecordRequiresKind(t *testing.T) {
	j := newTestJournal(t, 0)
	require.Error(t, j.Record(recognition.LifecycleEvent{}))
}

func TestPruneKeepsNewest(t *testing.T) {
	j := newTestJournal(t, 0)
	for i := 0; i < 10; i++ {
		require.NoError(t, j.Record(recognition.LifecycleEvent{Kind: recognition.LifecycleSessionEnded, Words: i}))
	}

	removed, err := j.Prune(3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)

	entries, err := j.Recent(100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 9, entries[0].Words)
	assert.Equal(t, 7, entries[2].Words)
}

func TestLifecycleSinkPrunesPeriodically(t *testing.T) {
	j := newTestJournal(t, 10)
	for i := 0; i < pruneEvery; i++ {
		j.Lifecycle(recognition.LifecycleEvent{Kind: recognition.LifecycleRestartScheduled})
	}

	var count int
	require.NoError(t, j.DB().QueryRow("SELECT COUNT(*) FROM lifecycle_events").Scan(&count))
	assert.Equal(t, 10, count)
}

func TestLifecycleSinkIgnoresSnapshots(t *testing.T) {
	j := newTestJournal(t, 0)
	j.SnapshotChanged(recognition.Snapshot{FinalText: "private words "})

	var count int
	require.NoError(t, j.DB().QueryRow("SELECT COUNT(*) FROM lifecycle_events").Scan(&count))
	assert.Zero(t, count)
}

func TestConcurrentRecords(t *testing.T) {
	j := newTestJournal(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Lifecycle(recognition.LifecycleEvent{Kind: recognition.LifecycleSessionStarted})
		}()
	}
	wg.Wait()

	entries, err := j.Recent(100)
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "session.jsonl")

	j, err := NewJournal(path)
	require.NoError(t, err)

	e1, err := NewEntry(EntryRunAdded, map[string]string{"path": "/data/a.csv"})
	require.NoError(t, err)
	require.NoError(t, j.Append(e1))

	e2, err := NewEntry(EntryDerivedCreated, map[string]string{"name": "abs(x)"})
	require.NoError(t, err)
	require.NoError(t, j.Append(e2))
	require.NoError(t, j.Close())

	var kinds []string
	err = Replay(path, func(entry Entry) error {
		kinds = append(kinds, entry.Kind)
		assert.False(t, entry.Timestamp.IsZero())
		assert.NotEmpty(t, entry.Payload)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{EntryRunAdded, EntryDerivedCreated}, kinds)
}

func TestJournalReplayMissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "absent.jsonl"), func(Entry) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.NoError(t, err)
}

func TestJournalReplayStopsOnHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")
	j, err := NewJournal(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e, err := NewEntry(EntryCompareRun, map[string]int{"i": i})
		require.NoError(t, err)
		require.NoError(t, j.Append(e))
	}
	require.NoError(t, j.Close())

	calls := 0
	err = Replay(path, func(Entry) error {
		calls++
		if calls == 2 {
			return assert.AnError
		}
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendMissingFilesLoadEmpty(t *testing.T) {
	backend := NewFileBackend(filepath.Join(t.TempDir(), "state"))
	snapshot, err := backend.Load()
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Empty(t, snapshot.EventIDs)
	assert.Equal(t, int64(0), snapshot.LastSyncTimestamp)
}

func TestFileBackendWritesDocuments(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store := Open(NewFileBackend(dir), nil)
	require.NoError(t, store.MarkSynced([]string{"e1", "e2"}))
	require.NoError(t, store.AdvanceCursor(1700000000))

	ledgerData, err := os.ReadFile(filepath.Join(dir, LedgerFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `["e1","e2"]`, string(ledgerData))

	cursorData, err := os.ReadFile(filepath.Join(dir, CursorFileName))
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastSyncTimestamp":1700000000}`, string(cursorData))

	reopened := Open(NewFileBackend(dir), nil)
	assert.Equal(t, []string{"e1", "e2"}, reopened.IDs())
	assert.Equal(t, int64(1700000000), reopened.Cursor())
}

func TestFileBackendCorruptLedgerStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFileName), []byte("{not json"), 0o644))

	_, err := NewFileBackend(dir).Load()
	require.Error(t, err)

	logger := &recordingLogger{}
	store := Open(NewFileBackend(dir), logger)
	assert.Equal(t, 0, store.Len())
	assert.NotEmpty(t, logger.lines)
}

func TestFileBackendCorruptCursorKeepsLedger(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFileName), []byte(`["aa","bb"]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CursorFileName), []byte(`{"lastSync`), 0o644))

	snapshot, err := NewFileBackend(dir).Load()
	require.ErrorIs(t, err, ErrCursorUnreadable)
	require.NotNil(t, snapshot)
	assert.Equal(t, []string{"aa", "bb"}, snapshot.EventIDs)

	logger := &recordingLogger{}
	store := Open(NewFileBackend(dir), logger)
	assert.True(t, store.Has("aa"))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, int64(0), store.Cursor())
	require.Len(t, logger.lines, 1)
	assert.Contains(t, logger.lines[0], CursorFileName)

	// The next save rewrites a readable cursor document.
	require.NoError(t, store.AdvanceCursor(1700000000))
	reopened := Open(NewFileBackend(dir), nil)
	assert.Equal(t, int64(1700000000), reopened.Cursor())
	assert.Equal(t, 2, reopened.Len())
}

func TestFileBackendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := Open(NewFileBackend(dir), nil)
	require.NoError(t, store.MarkSynced([]string{"e1"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{LedgerFileName, CursorFileName}, names)
}

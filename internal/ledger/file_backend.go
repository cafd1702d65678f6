package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/relayjournal/internal/fsutil"
)

const (
	LedgerFileName = "processed-events.json"
	CursorFileName = "sync-state.json"
)

// FileBackend keeps the ledger as a JSON array of ids and the cursor in a
// small sibling document, both inside Dir.
type FileBackend struct {
	Dir string
}

type cursorDocument struct {
	LastSyncTimestamp int64 `json:"lastSyncTimestamp"`
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: strings.TrimSpace(dir)}
}

// Load reads both documents. A bad ledger document fails the load; a bad
// cursor document still returns the ids, with ErrCursorUnreadable.
func (b *FileBackend) Load() (*Snapshot, error) {
	if b == nil || b.Dir == "" {
		return nil, nil
	}
	snapshot := &Snapshot{EventIDs: []string{}}
	data, err := os.ReadFile(filepath.Join(b.Dir, LedgerFileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &snapshot.EventIDs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", LedgerFileName, err)
		}
	}
	data, err = os.ReadFile(filepath.Join(b.Dir, CursorFileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return snapshot, fmt.Errorf("%w: %v", ErrCursorUnreadable, err)
	default:
		var doc cursorDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return snapshot, fmt.Errorf("%w: decode %s: %v", ErrCursorUnreadable, CursorFileName, err)
		}
		snapshot.LastSyncTimestamp = doc.LastSyncTimestamp
	}
	return snapshot, nil
}

// Save writes the ledger before the cursor so a crash in between never
// leaves a cursor ahead of its ledger.
func (b *FileBackend) Save(snapshot *Snapshot) error {
	if b == nil || b.Dir == "" || snapshot == nil {
		return nil
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return err
	}
	ids := snapshot.EventIDs
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(b.Dir, LedgerFileName), data, 0o644); err != nil {
		return err
	}
	data, err = json.Marshal(cursorDocument{LastSyncTimestamp: snapshot.LastSyncTimestamp})
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(b.Dir, CursorFileName), data, 0o644)
}

// Package ledger persists which relay events have already been written to
// the journal, together with the sync cursor that bounds the next query.
//
// The id set only grows. A Store is loaded once, mutated at the end of a
// successful sync cycle and flushed to its Backend immediately.
package ledger

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrLocked         = errors.New("state directory is locked by another process")
	// ErrCursorUnreadable is returned with a snapshot whose ids loaded but
	// whose cursor could not be read. Open keeps the ids and starts from 0.
	ErrCursorUnreadable = errors.New("sync cursor unreadable")
)

// Snapshot is the durable form of the ledger.
type Snapshot struct {
	EventIDs          []string `json:"eventIds"`
	LastSyncTimestamp int64    `json:"lastSyncTimestamp"`
}

type Backend interface {
	Load() (*Snapshot, error)
	Save(snapshot *Snapshot) error
}

type backendCloser interface {
	Close() error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  Logger
	ids     map[string]struct{}
	order   []string
	cursor  int64
	// dirty is set while ids recorded in memory are missing from the backend.
	dirty bool
}

// Open loads the ledger from backend. A missing or unreadable ledger is
// logged and treated as empty.
func Open(backend Backend, logger Logger) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{
		backend: backend,
		logger:  logger,
		ids:     map[string]struct{}{},
	}
	snapshot, err := backend.Load()
	switch {
	case err != nil && snapshot != nil && errors.Is(err, ErrCursorUnreadable):
		s.logf("%v; keeping %d ledger ids and syncing from the beginning", err, len(snapshot.EventIDs))
		snapshot.LastSyncTimestamp = 0
	case err != nil:
		s.logf("ledger load failed, starting empty: %v", err)
		return s
	}
	if snapshot == nil {
		return s
	}
	for _, id := range snapshot.EventIDs {
		s.insert(id)
	}
	if snapshot.LastSyncTimestamp > 0 {
		s.cursor = snapshot.LastSyncTimestamp
	}
	return s
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[normalizeID(id)]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// IDs returns the recorded ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}

func (s *Store) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// MarkSynced records ids and persists the ledger. On a save failure the ids
// stay recorded in memory so this process does not merge them twice, and
// the store stays dirty until a later MarkSynced, Flush or AdvanceCursor
// saves it.
func (s *Store) MarkSynced(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, id := range ids {
		if s.insert(id) {
			added++
		}
	}
	if added == 0 && !s.dirty {
		return nil
	}
	return s.saveLocked()
}

// Flush retries a save left over from a failed MarkSynced. It is a no-op
// when the backend is up to date.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

// Dirty reports whether recorded ids are still waiting to be saved.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// AdvanceCursor moves the cursor forward to ts and persists it. The cursor
// never moves backwards; a failed save leaves the previous value in place.
func (s *Store) AdvanceCursor(ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts <= s.cursor {
		return nil
	}
	previous := s.cursor
	s.cursor = ts
	if err := s.backend.Save(s.snapshotLocked()); err != nil {
		s.cursor = previous
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) Close() error {
	if closer, ok := s.backend.(backendCloser); ok {
		return closer.Close()
	}
	return nil
}

func (s *Store) insert(id string) bool {
	id = normalizeID(id)
	if id == "" {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *Store) saveLocked() error {
	if err := s.backend.Save(s.snapshotLocked()); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}

func (s *Store) snapshotLocked() *Snapshot {
	return &Snapshot{
		EventIDs:          append([]string(nil), s.order...),
		LastSyncTimestamp: s.cursor,
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

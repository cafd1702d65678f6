package ledger

import "sync"

type MemoryBackend struct {
	mu       sync.Mutex
	snapshot *Snapshot
	saves    int
	failWith error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load() (*Snapshot, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneSnapshot(b.snapshot), nil
}

func (b *MemoryBackend) Save(snapshot *Snapshot) error {
	if b == nil || snapshot == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.snapshot = cloneSnapshot(snapshot)
	b.saves++
	return nil
}

// FailSaves makes every later Save return err; nil restores normal saves.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// Saves reports how many saves succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	return &Snapshot{
		EventIDs:          append([]string(nil), s.EventIDs...),
		LastSyncTimestamp: s.LastSyncTimestamp,
	}
}

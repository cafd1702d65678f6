package ledger

import (
	"encoding/binary"
	"errors"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	levelEventPrefix = []byte("event/")
	levelCursorKey   = []byte("cursor")
)

// LevelDBBackend keeps one key per ledger id under "event/" and the cursor
// as an 8-byte big-endian value.
type LevelDBBackend struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *leveldb.DB
}

func NewLevelDBBackend(path string) (Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &LevelDBBackend{path: path}, nil
}

func (b *LevelDBBackend) Load() (*Snapshot, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	snapshot := &Snapshot{EventIDs: []string{}}
	iter := b.db.NewIterator(util.BytesPrefix(levelEventPrefix), nil)
	for iter.Next() {
		snapshot.EventIDs = append(snapshot.EventIDs, string(iter.Key()[len(levelEventPrefix):]))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	value, err := b.db.Get(levelCursorKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return nil, err
	case len(value) == 8:
		snapshot.LastSyncTimestamp = int64(binary.BigEndian.Uint64(value))
	}
	return snapshot, nil
}

func (b *LevelDBBackend) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, id := range snapshot.EventIDs {
		key := append(append([]byte(nil), levelEventPrefix...), id...)
		batch.Put(key, nil)
	}
	var cursor [8]byte
	binary.BigEndian.PutUint64(cursor[:], uint64(snapshot.LastSyncTimestamp))
	batch.Put(levelCursorKey, cursor[:])
	return b.db.Write(batch, nil)
}

func (b *LevelDBBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *LevelDBBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		b.db, b.initErr = leveldb.OpenFile(b.path, nil)
	})
	return b.initErr
}

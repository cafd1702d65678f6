package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	sqlEventsTableName  = "relayjournal_events"
	sqlCursorTableName  = "relayjournal_cursor"
	sqlCursorKey        = "default"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

var (
	postgresDialect = sqlDialect{
		driver:      "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	sqliteDialect = sqlDialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
	}
)

// SQLBackend stores one row per ledger id plus a single cursor row. Only ids
// not yet written by this backend are inserted on Save.
type SQLBackend struct {
	dsn         string
	dialect     sqlDialect
	eventsTable string
	cursorTable string
	cursorKey   string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu      sync.Mutex
	written map[string]struct{}
}

func NewPostgresBackend(dsn string) (Backend, error) {
	return newSQLBackend(dsn, postgresDialect)
}

// NewSQLiteBackend opens the ledger in a SQLite file at path.
func NewSQLiteBackend(path string) (Backend, error) {
	return newSQLBackend(path, sqliteDialect)
}

func newSQLBackend(dsn string, dialect sqlDialect) (*SQLBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLBackend{
		dsn:         dsn,
		dialect:     dialect,
		eventsTable: sqlEventsTableName,
		cursorTable: sqlCursorTableName,
		cursorKey:   sqlCursorKey,
		openDB:      sql.Open,
		written:     map[string]struct{}{},
	}, nil
}

func (b *SQLBackend) Load() (*Snapshot, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT event_id FROM %s ORDER BY recorded_at, event_id", quoteIdentifier(b.eventsTable)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	snapshot := &Snapshot{EventIDs: []string{}}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		snapshot.EventIDs = append(snapshot.EventIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT last_sync_timestamp FROM %s WHERE state_key = %s",
		quoteIdentifier(b.cursorTable), b.dialect.placeholder(1))
	err = b.db.QueryRowContext(ctx, query, b.cursorKey).Scan(&snapshot.LastSyncTimestamp)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	b.mu.Lock()
	for _, id := range snapshot.EventIDs {
		b.written[id] = struct{}{}
	}
	b.mu.Unlock()
	return snapshot, nil
}

func (b *SQLBackend) Save(snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := make([]string, 0)
	for _, id := range snapshot.EventIDs {
		if _, ok := b.written[id]; !ok {
			pending = append(pending, id)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	insertEvent := fmt.Sprintf(
		"INSERT INTO %s (event_id, recorded_at) VALUES (%s, %s) ON CONFLICT (event_id) DO NOTHING",
		quoteIdentifier(b.eventsTable), b.dialect.placeholder(1), b.dialect.placeholder(2))
	now := time.Now().UnixNano()
	for i, id := range pending {
		if _, err := tx.ExecContext(ctx, insertEvent, id, now+int64(i)); err != nil {
			return err
		}
	}
	upsertCursor := fmt.Sprintf(`
		INSERT INTO %s (state_key, last_sync_timestamp) VALUES (%s, %s)
		ON CONFLICT (state_key) DO UPDATE SET last_sync_timestamp = excluded.last_sync_timestamp`,
		quoteIdentifier(b.cursorTable), b.dialect.placeholder(1), b.dialect.placeholder(2))
	if _, err := tx.ExecContext(ctx, upsertCursor, b.cursorKey, snapshot.LastSyncTimestamp); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	for _, id := range pending {
		b.written[id] = struct{}{}
	}
	return nil
}

func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB(b.dialect.driver, b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					event_id TEXT PRIMARY KEY,
					recorded_at BIGINT NOT NULL
				)`, quoteIdentifier(b.eventsTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					state_key TEXT PRIMARY KEY,
					last_sync_timestamp BIGINT NOT NULL
				)`, quoteIdentifier(b.cursorTable)),
		}
		for _, stmt := range statements {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		b.db = db
	})
	return b.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

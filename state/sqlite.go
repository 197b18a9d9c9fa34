package state

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS strategy_state (
	instance_id TEXT PRIMARY KEY,
	body        TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

// SQLiteStore keeps state rows in a sqlite database, one row per instance.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLite opens the database file at path and creates the table.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite at %s", path)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore uses an existing handle; Close leaves it open.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, errors.Wrap(err, "create strategy_state table")
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the handle so other components can share the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Load(ctx context.Context, key string, v any) error {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM strategy_state WHERE instance_id=?`, key).Scan(&body)
	if stderrors.Is(err, sql.ErrNoRows) {
		return ErrNotExists
	}
	if err != nil {
		return errors.Wrapf(err, "load state %s", key)
	}
	return json.Unmarshal([]byte(body), v)
}

func (s *SQLiteStore) Save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO strategy_state (instance_id, body, updated_at)
VALUES (?,?,?)
ON CONFLICT(instance_id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at
`, key, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrapf(err, "save state %s", key)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM strategy_state WHERE instance_id=?`, key)
	return errors.Wrapf(err, "delete state %s", key)
}

func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

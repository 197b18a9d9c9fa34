package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/evdnx/gofloor/logger"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	description TEXT NOT NULL,
	details     TEXT,
	created_at  TEXT NOT NULL
)`

// SQLiteSink appends events to the audit_events table. Write failures are
// logged, never returned. Wrap it in an AsyncSink to keep it off the tick path.
type SQLiteSink struct {
	db    *sql.DB
	log   logger.Logger
	owned bool
}

// NewSQLiteSink writes into an existing database, e.g. the one backing the
// state store. The caller keeps ownership of db.
func NewSQLiteSink(db *sql.DB, log logger.Logger) (*SQLiteSink, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, errors.Wrap(err, "create audit_events table")
	}
	return &SQLiteSink{db: db, log: log}, nil
}

// OpenSQLiteSink opens its own database file at path.
func OpenSQLiteSink(path string, log logger.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit sqlite at %s", path)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteSink(db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the database if the sink opened it.
func (s *SQLiteSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSink) LogEvent(e Event) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(context.Background(),
		`INSERT INTO audit_events (instance_id, event_type, description, details, created_at) VALUES (?,?,?,?,?)`,
		e.Instance, e.Type, e.Description, string(details), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.log.Warn("audit_write_failed", logger.String("event", e.Type), logger.Err(err))
	}
}

// Recent returns the latest n events of an instance, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, instance string, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, description, details, created_at FROM audit_events WHERE instance_id=? ORDER BY id DESC LIMIT ?`,
		instance, n)
	if err != nil {
		return nil, errors.Wrap(err, "query audit events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			details sql.NullString
			at      string
		)
		if err := rows.Scan(&e.Type, &e.Description, &details, &at); err != nil {
			return nil, errors.Wrap(err, "scan audit event")
		}
		e.Instance = instance
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

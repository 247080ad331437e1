package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteSlot stores the payload in a single-row sqlite table. The CHECK
// constraint pins the row id so the table can never grow past one row.
type SQLiteSlot struct {
	db *sql.DB
}

func NewSQLiteSlot(path string) (*SQLiteSlot, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	s := &SQLiteSlot{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to migrate state table")
	}
	return s, nil
}

func (s *SQLiteSlot) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		payload    BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	return err
}

func (s *SQLiteSlot) Load(ctx context.Context) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to load state")
	}
	return payload, true, nil
}

func (s *SQLiteSlot) Save(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO state (id, payload, updated_at) VALUES (1, ?, ?)
	ON CONFLICT (id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		payload, time.Now().UTC().Format(time.RFC3339))
	return errors.Wrap(err, "failed to save state")
}

func (s *SQLiteSlot) Close() error {
	return s.db.Close()
}

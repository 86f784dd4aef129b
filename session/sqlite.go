package session

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange_id  TEXT NOT NULL,
	agent        TEXT NOT NULL,
	status       TEXT NOT NULL,
	answer       TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	total_calls  INTEGER NOT NULL DEFAULT 0,
	history      TEXT NOT NULL DEFAULT '{}',
	finished_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_exchange_id ON exchanges (exchange_id);
`

// SQLiteStore persists exchanges in a SQLite database file. It uses the pure
// Go driver, so no cgo is involved.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %s: %w", path, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, ex Exchange) error {
	history, err := marshalHistory(ex.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exchanges (exchange_id, agent, status, answer, note, total_calls, history, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ExchangeID, ex.Agent, ex.Status, ex.Answer, ex.Note, ex.TotalCalls, string(history), ex.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}

	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, exchangeID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exchange_id, agent, status, answer, note, total_calls, history, finished_at
		 FROM exchanges WHERE exchange_id = ? ORDER BY id`,
		exchangeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var history string
		if err := rows.Scan(&ex.ExchangeID, &ex.Agent, &ex.Status, &ex.Answer, &ex.Note, &ex.TotalCalls, &history, &ex.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange row: %w", err)
		}
		h, err := unmarshalHistory([]byte(history))
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		ex.History = h
		out = append(out, ex)
	}

	return out, rows.Err()
}

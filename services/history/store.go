package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codeforge-dev/codeforge/services/routing"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	latency_ms INTEGER NOT NULL,
	tokens INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts(created_at);
`

// Entry is one persisted attempt record.
type Entry struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Tokens    int    `json:"tokens"`
	CreatedAt int64  `json:"created_at"`
}

// Store persists completed attempts to a local sqlite database so outcomes
// survive process restarts.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// modernc sqlite serializes access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// HandleEvent records completion events; start events are ignored. Intended
// as a router event subscriber, so failures are logged rather than returned.
func (s *Store) HandleEvent(ev routing.Event) {
	if ev.Type != routing.EventRequestComplete {
		return
	}

	success := 0
	if ev.Success {
		success = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO attempts (request_id, provider, model, success, error, latency_ms, tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, string(ev.Provider), ev.Model, success, ev.Error, ev.LatencyMs, ev.Tokens, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Warn("failed to persist attempt",
			zap.String("request_id", ev.RequestID),
			zap.Error(err))
	}
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, provider, model, success, error, latency_ms, tokens, created_at
		 FROM attempts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var success int
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Provider, &e.Model, &success, &e.Error, &e.LatencyMs, &e.Tokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Success = success == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package store keeps a SQLite-backed log of the questions asked about each
// document and the answers returned. The log outlives the process, but the
// documents themselves do not: an entry for a filename that has not been
// re-uploaded is history only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// DefaultDBPath is where the history database lives unless configured.
const DefaultDBPath = "data/history.db"

// Disabled is the PDFRAG_HISTORY_DB value that turns history off.
const Disabled = "disabled"

// Entry is one answered question.
type Entry struct {
	// Filename is the document the question was asked about.
	Filename string `json:"filename"`
	// Question is the question text as received.
	Question string `json:"question"`
	// Answer is the generated answer.
	Answer string `json:"answer"`
	// TopScore is the similarity of the best match used as context.
	TopScore float32 `json:"top_score"`
	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// HistoryStore records and lists question/answer entries per document.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Record appends e. A zero CreatedAt is set to the current time.
	Record(ctx context.Context, e Entry) error
	// Recent returns the newest n entries for filename, oldest first.
	Recent(ctx context.Context, filename string, n int) ([]Entry, error)
	// Clear deletes every entry for filename and reports how many went.
	Clear(ctx context.Context, filename string) (int64, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at path and migrates the schema.
// Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: could not create %s: %w", dir, err)
			}
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and ":memory:" databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS qa_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    filename    TEXT    NOT NULL,
    question    TEXT    NOT NULL,
    answer      TEXT    NOT NULL,
    top_score   REAL    NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_qa_history_filename_created
    ON qa_history (filename, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record appends e.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	const q = `INSERT INTO qa_history (filename, question, answer, top_score, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.Filename, e.Question, e.Answer, float64(e.TopScore), e.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("store: record: %w", err)
	}
	return nil
}

// Recent returns the newest n entries for filename, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, filename string, n int) ([]Entry, error) {
	const q = `
SELECT question, answer, top_score, created_at FROM (
    SELECT id, question, answer, top_score, created_at
    FROM   qa_history
    WHERE  filename = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, filename, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e := Entry{Filename: filename}
		var score float64
		var ts int64
		if err := rows.Scan(&e.Question, &e.Answer, &score, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.TopScore = float32(score)
		e.CreatedAt = time.Unix(0, ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return out, nil
}

// Clear deletes every entry for filename.
func (s *SQLiteStore) Clear(ctx context.Context, filename string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM qa_history WHERE filename = ?`, filename)
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

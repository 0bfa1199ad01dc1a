// Package outbox keeps a durable queue of documents whose synced state is
// waiting to be consumed downstream. The engine enqueues every synced or
// deleted document; consumers drain the queue with list and ack. Rows are
// deduplicated while pending, so a document that syncs five times between
// acks occupies a single row with a bumped attempt counter.
package outbox

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/inksight/inksync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_id TEXT NOT NULL,
    change_type TEXT NOT NULL,
    queued_at TEXT NOT NULL, -- RFC3339 string
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_pending_doc ON outbox(doc_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status);
CREATE INDEX IF NOT EXISTS idx_outbox_queued_at ON outbox(queued_at);
`

// Entry status values.
const (
	StatusPending = "pending"
	StatusAcked   = "acked"
)

// Change types recorded per entry.
const (
	ChangeSynced  = "synced"
	ChangeDeleted = "deleted"
)

// Entry is one queued document change. Attempts counts how many times the
// document has been queued since it was last acknowledged.
type Entry struct {
	ID         int64     `json:"id"`
	DocID      string    `json:"docId"`
	ChangeType string    `json:"changeType"`
	QueuedAt   time.Time `json:"queuedAt"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
}

// dbEntry is used for scanning from the database where time is stored as TEXT.
type dbEntry struct {
	ID         int64  `db:"id"`
	DocID      string `db:"doc_id"`
	ChangeType string `db:"change_type"`
	QueuedAt   string `db:"queued_at"`
	Status     string `db:"status"`
	Attempts   int    `db:"attempts"`
}

// Store is the SQLite-backed outbox.
type Store struct {
	db     *sqlx.DB
	dbPath string
}

// NewStore creates a store for the database at dbPath. Call Open before use.
func NewStore(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// Open opens the underlying database and initializes the schema.
func (s *Store) Open() error {
	if s.db != nil {
		return fmt.Errorf("outbox already open")
	}

	sdb, err := db.NewSqliteDB(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return fmt.Errorf("init outbox schema: %w", err)
	}

	s.db = sdb
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return fmt.Errorf("outbox not open")
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close outbox: %w", err)
	}
	s.db = nil
	slog.Debug("outbox closed", "path", s.dbPath)
	return nil
}

// Enqueue records that docID changed. If a pending entry for the document
// already exists it is refreshed in place and its attempt counter bumped,
// so the queue never holds more than one pending row per document.
func (s *Store) Enqueue(docID string, changeType string, queuedAt time.Time) error {
	if docID == "" {
		return fmt.Errorf("empty document id")
	}

	data := dbEntry{
		DocID:      docID,
		ChangeType: changeType,
		QueuedAt:   queuedAt.UTC().Format(time.RFC3339),
		Status:     StatusPending,
		Attempts:   1,
	}

	query := `INSERT INTO outbox (doc_id, change_type, queued_at, status, attempts)
	          VALUES (:doc_id, :change_type, :queued_at, :status, :attempts)
	          ON CONFLICT (doc_id) WHERE status = 'pending'
	          DO UPDATE SET change_type = excluded.change_type,
	                        queued_at = excluded.queued_at,
	                        attempts = outbox.attempts + 1`
	if _, err := s.db.NamedExec(query, data); err != nil {
		return fmt.Errorf("enqueue %s: %w", docID, err)
	}
	slog.Debug("outbox enqueue", "docID", docID, "change", changeType)
	return nil
}

// Pending returns the pending entries, oldest first.
func (s *Store) Pending() ([]*Entry, error) {
	var rows []dbEntry
	err := s.db.Select(&rows,
		"SELECT id, doc_id, change_type, queued_at, status, attempts FROM outbox WHERE status = ? ORDER BY queued_at, id", StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		queuedAt, err := time.Parse(time.RFC3339, row.QueuedAt)
		if err != nil {
			slog.Error("outbox entry has a bad timestamp", "id", row.ID, "value", row.QueuedAt, "error", err)
			continue
		}
		entries = append(entries, &Entry{
			ID:         row.ID,
			DocID:      row.DocID,
			ChangeType: row.ChangeType,
			QueuedAt:   queuedAt,
			Status:     row.Status,
			Attempts:   row.Attempts,
		})
	}
	return entries, nil
}

// Get returns the pending entry for docID, or nil if none is queued.
func (s *Store) Get(docID string) (*Entry, error) {
	var row dbEntry
	err := s.db.Get(&row,
		"SELECT id, doc_id, change_type, queued_at, status, attempts FROM outbox WHERE doc_id = ? AND status = ?", docID, StatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query %s: %w", docID, err)
	}

	queuedAt, err := time.Parse(time.RFC3339, row.QueuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse queued_at for %s: %w", docID, err)
	}
	return &Entry{
		ID:         row.ID,
		DocID:      row.DocID,
		ChangeType: row.ChangeType,
		QueuedAt:   queuedAt,
		Status:     row.Status,
		Attempts:   row.Attempts,
	}, nil
}

// Ack marks the pending entry for docID as consumed. It reports whether an
// entry was pending.
func (s *Store) Ack(docID string) (bool, error) {
	res, err := s.db.Exec("UPDATE outbox SET status = ? WHERE doc_id = ? AND status = ?",
		StatusAcked, docID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("ack %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ack %s: %w", docID, err)
	}
	if n > 0 {
		slog.Debug("outbox ack", "docID", docID)
	}
	return n > 0, nil
}

// AckAll marks every pending entry as consumed and returns how many there were.
func (s *Store) AckAll() (int64, error) {
	res, err := s.db.Exec("UPDATE outbox SET status = ? WHERE status = ?", StatusAcked, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("ack all: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ack all: %w", err)
	}
	slog.Debug("outbox ack all", "count", n)
	return n, nil
}

// PendingCount returns the number of pending entries.
func (s *Store) PendingCount() (int, error) {
	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM outbox WHERE status = ?", StatusPending); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

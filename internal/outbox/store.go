package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS outbox_entries (
	snapshot_id     TEXT PRIMARY KEY,
	payload         BLOB NOT NULL,
	created_at      INTEGER NOT NULL,
	upload_attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt    INTEGER,
	status          TEXT NOT NULL DEFAULT 'pending'
)`

// store is the SQLite-backed persistence layer for outbox entries: a
// second table in the same database file as VectorStore's patterns.
// It uses whatever *sql.DB the caller passes in; cmd/marinegrid opens
// its own handle on the shared DSN rather than reusing VectorStore's.
type store struct {
	db *sql.DB
}

func newStore(ctx context.Context, db *sql.DB) (*store, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("outbox: create table: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) insert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_entries (snapshot_id, payload, created_at, upload_attempts, status)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(snapshot_id) DO NOTHING`,
		e.SnapshotID, e.Payload, e.CreatedAt.UnixMilli(), string(StatusPending))
	return err
}

func (s *store) get(ctx context.Context, snapshotID string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, payload, created_at, upload_attempts, last_attempt, status
		FROM outbox_entries WHERE snapshot_id = ?`, snapshotID)
	e, ok, err := scanEntry(row)
	return e, ok, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, bool, error) {
	var (
		id, status     string
		payload        []byte
		createdAtMs    int64
		uploadAttempts int
		lastAttemptMs  sql.NullInt64
	)
	err := row.Scan(&id, &payload, &createdAtMs, &uploadAttempts, &lastAttemptMs, &status)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e := Entry{
		SnapshotID:     id,
		Payload:        payload,
		CreatedAt:      time.UnixMilli(createdAtMs),
		UploadAttempts: uploadAttempts,
		Status:         Status(status),
	}
	if lastAttemptMs.Valid {
		e.LastAttempt = time.UnixMilli(lastAttemptMs.Int64)
		e.HasLastAttempt = true
	}
	return e, true, nil
}

func (s *store) listEligible(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, payload, created_at, upload_attempts, last_attempt, status
		FROM outbox_entries
		WHERE status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT ?`, string(StatusPending), string(StatusUploading), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, ok, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func (s *store) setStatus(ctx context.Context, snapshotID string, status Status) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox_entries SET status = ? WHERE snapshot_id = ?`, string(status), snapshotID)
	return err
}

func (s *store) recordAttempt(ctx context.Context, snapshotID string, attempts int, at time.Time, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_entries
		SET upload_attempts = ?, last_attempt = ?, status = ?
		WHERE snapshot_id = ?`, attempts, at.UnixMilli(), string(status), snapshotID)
	return err
}

func (s *store) counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// Package outbox implements UploadOutbox (spec §4.8): a persistent
// queue of captured divergence snapshots, retried with exponential
// backoff and a circuit breaker, idempotently marked uploaded at the
// server by snapshot_id.
package outbox

import (
	"context"
	"time"
)

// Status is OutboxEntry.status per spec §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// MaxAttempts is the default attempt ceiling before an entry is marked
// failed, per spec §3's "failed only after attempts >= MAX (default 5)".
const MaxAttempts = 5

// Entry is an OutboxEntry per spec §3.
type Entry struct {
	SnapshotID     string
	Payload        []byte
	CreatedAt      time.Time
	UploadAttempts int
	LastAttempt    time.Time
	HasLastAttempt bool
	Status         Status
}

// Uploader performs the actual network upload of one entry. Real
// implementations POST to the external grid service; it is an external
// collaborator per spec §1's scope boundary, so only the interface
// lives here.
type Uploader interface {
	Upload(ctx context.Context, entry Entry) error
}

// RunResult summarizes one RunOnce batch, mirroring the
// OutboxProgress event of spec §7.
type RunResult struct {
	Uploaded int
	Pending  int
	Failed   int
}

// Manager is the UploadOutbox contract of spec §4.8.
type Manager interface {
	// Enqueue creates a new pending entry. Satisfies
	// divergence.OutboxEnqueuer.
	Enqueue(snapshotID string, payload []byte) error

	// Pending returns up to limit entries eligible for upload (status
	// pending or uploading, and backoff-eligible). Failed entries are
	// never returned.
	Pending(limit int) ([]Entry, error)

	// MarkUploaded transitions an entry to uploaded. Idempotent: a
	// second call for an already-uploaded id is a no-op.
	MarkUploaded(snapshotID string) error

	// RecordFailure increments an entry's attempt count; at
	// attempts >= MaxAttempts the entry transitions to failed.
	RecordFailure(snapshotID string) error

	// RunOnce performs one upload batch, subject to the network/
	// battery/not-already-running gates of spec §4.8 and §5.
	RunOnce(ctx context.Context) (RunResult, error)
}

package outbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type fakeEnv struct {
	network     bool
	battery     float64
	inEmergency bool
}

func (f fakeEnv) NetworkReachable() bool { return f.network }
func (f fakeEnv) BatteryLevel() float64  { return f.battery }
func (f fakeEnv) InEmergency() bool      { return f.inEmergency }

func okEnv() fakeEnv { return fakeEnv{network: true, battery: 1.0} }

type scriptedUploader struct {
	mu        sync.Mutex
	responses map[string][]error // per snapshot id, queue of responses
	calls     map[string]int
}

func newScriptedUploader() *scriptedUploader {
	return &scriptedUploader{responses: make(map[string][]error), calls: make(map[string]int)}
}

func (u *scriptedUploader) script(id string, errs ...error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.responses[id] = errs
}

func (u *scriptedUploader) Upload(_ context.Context, entry Entry) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls[entry.SnapshotID]++

	queue := u.responses[entry.SnapshotID]
	if len(queue) == 0 {
		return nil
	}
	next := queue[0]
	u.responses[entry.SnapshotID] = queue[1:]
	return next
}

func (u *scriptedUploader) callCount(id string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[id]
}

func newTestManager(t *testing.T, env Environment, uploader Uploader) *manager {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(context.Background(), db, env, uploader, DefaultConfig(), nil, zerolog.Nop())
	require.NoError(t, err)
	return m.(*manager)
}

func TestEnqueueThenPendingReturnsEntry(t *testing.T) {
	m := newTestManager(t, okEnv(), newScriptedUploader())
	require.NoError(t, m.Enqueue("snap_a", []byte(`{"a":1}`)))

	pending, err := m.Pending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "snap_a", pending[0].SnapshotID)
	require.Equal(t, StatusPending, pending[0].Status)
}

func TestMarkUploadedIsIdempotent(t *testing.T) {
	m := newTestManager(t, okEnv(), newScriptedUploader())
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))
	require.NoError(t, m.MarkUploaded("snap_a"))
	require.NoError(t, m.MarkUploaded("snap_a"))

	e, ok, err := m.st.get(context.Background(), "snap_a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusUploaded, e.Status)
}

func TestRecordFailureTransitionsToFailedAtMaxAttempts(t *testing.T) {
	m := newTestManager(t, okEnv(), newScriptedUploader())
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))

	for i := 0; i < MaxAttempts-1; i++ {
		require.NoError(t, m.RecordFailure("snap_a"))
		e, _, err := m.st.get(context.Background(), "snap_a")
		require.NoError(t, err)
		require.Equal(t, StatusPending, e.Status, "attempt %d should still be pending", i+1)
	}

	require.NoError(t, m.RecordFailure("snap_a"))
	e, _, err := m.st.get(context.Background(), "snap_a")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, e.Status)
	require.Equal(t, MaxAttempts, e.UploadAttempts)
}

func TestRunOnceRefusesWithoutNetwork(t *testing.T) {
	uploader := newScriptedUploader()
	m := newTestManager(t, fakeEnv{network: false, battery: 1.0}, uploader)
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))

	_, err := m.RunOnce(context.Background())
	require.Error(t, err)
}

func TestRunOnceRefusesBelowBatteryFloor(t *testing.T) {
	uploader := newScriptedUploader()
	m := newTestManager(t, fakeEnv{network: true, battery: 0.1}, uploader)
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))

	_, err := m.RunOnce(context.Background())
	require.Error(t, err)
}

func TestRunOnceRefusesDuringEmergency(t *testing.T) {
	uploader := newScriptedUploader()
	m := newTestManager(t, fakeEnv{network: true, battery: 1.0, inEmergency: true}, uploader)
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))

	_, err := m.RunOnce(context.Background())
	require.Error(t, err)
}

// TestIdempotentOutboxAfterTransientFailures exercises the literal
// scenario: 3 pending entries, the first upload attempt returns an
// error for every entry, the second run succeeds for all. After two
// runs: exactly 3 uploaded, zero failed, no duplicate upload call for
// any snapshot after it succeeds.
func TestIdempotentOutboxAfterTransientFailures(t *testing.T) {
	uploader := newScriptedUploader()
	ids := []string{"snap_1", "snap_2", "snap_3"}
	for _, id := range ids {
		uploader.script(id, errors.New("503 service unavailable"))
	}

	m := newTestManager(t, okEnv(), uploader)
	for _, id := range ids {
		require.NoError(t, m.Enqueue(id, []byte(id)))
	}

	first, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, first.Uploaded)
	require.Equal(t, 3, first.Pending)
	require.Equal(t, 0, first.Failed)

	// Force backoff-eligibility for the immediate second run: push
	// last_attempt into the past beyond the 1-minute floor.
	for _, id := range ids {
		require.NoError(t, m.st.recordAttempt(context.Background(), id, 1, time.Now().Add(-2*time.Minute), StatusPending))
	}

	second, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, second.Uploaded)
	require.Equal(t, 0, second.Pending)
	require.Equal(t, 0, second.Failed)

	for _, id := range ids {
		require.Equal(t, 2, uploader.callCount(id), "expected exactly one retry call for %s", id)
	}
}

func TestPendingRespectsBackoffWindow(t *testing.T) {
	uploader := newScriptedUploader()
	m := newTestManager(t, okEnv(), uploader)
	require.NoError(t, m.Enqueue("snap_a", []byte("x")))
	require.NoError(t, m.st.recordAttempt(context.Background(), "snap_a", 1, time.Now(), StatusPending))

	pending, err := m.Pending(10)
	require.NoError(t, err)
	require.Empty(t, pending, "entry attempted seconds ago should not be eligible yet")
}

func TestNthBackoffSchedule(t *testing.T) {
	require.Equal(t, time.Minute, nthBackoff(0))
	require.Equal(t, 2*time.Minute, nthBackoff(1))
	require.Equal(t, 4*time.Minute, nthBackoff(2))
	require.Equal(t, 8*time.Minute, nthBackoff(3))
	require.Equal(t, 15*time.Minute, nthBackoff(4))
	require.Equal(t, 15*time.Minute, nthBackoff(10))
}

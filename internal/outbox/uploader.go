package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/marinersgrid/marinegrid/internal/eventbus"
)

// minBackoff/maxBackoff/backoffMultiplier implement spec §4.8's
// "1 -> 2 -> 4 -> 8 -> 15 min (capped)" per-entry retry schedule.
const (
	minBackoff        = time.Minute
	maxBackoff        = 15 * time.Minute
	backoffMultiplier = 2.0

	// batteryFloor and runInterval are the background-scheduler resource
	// floors of spec §5.
	batteryFloor = 0.2
	runInterval  = 15 * time.Minute
)

// Environment reports the ambient conditions RunOnce gates on, per
// spec §4.8 ("network reachable", "battery above configured floor")
// and spec §5 ("not in emergency"). Callers supply a live
// implementation at bootstrap; the engine is the natural home for it.
type Environment interface {
	NetworkReachable() bool
	BatteryLevel() float64
	InEmergency() bool
}

// Config configures an UploadOutbox.
type Config struct {
	BatteryFloor float64
	BatchSize    int
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{BatteryFloor: batteryFloor, BatchSize: 10}
}

type manager struct {
	db     *sql.DB
	st     *store
	env    Environment
	upload Uploader
	cfg    Config
	bus    *eventbus.Bus
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	cb      *gobreaker.CircuitBreaker
}

// NewManager constructs an UploadOutbox backed by db (any handle on the
// SQLite database file VectorStore uses), uploading via upload and gating
// runs on env. bus is nilable; when non-nil, RunOnce publishes an
// OutboxProgress event.
func NewManager(ctx context.Context, db *sql.DB, env Environment, upload Uploader, cfg Config, bus *eventbus.Bus, log zerolog.Logger) (Manager, error) {
	st, err := newStore(ctx, db)
	if err != nil {
		return nil, err
	}
	if cfg.BatteryFloor == 0 {
		cfg.BatteryFloor = batteryFloor
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &manager{
		db:     db,
		st:     st,
		env:    env,
		upload: upload,
		cfg:    cfg,
		bus:    bus,
		cb:     cb,
		log:    log.With().Str("component", "outbox").Logger(),
	}, nil
}

func (m *manager) Enqueue(snapshotID string, payload []byte) error {
	return m.st.insert(context.Background(), Entry{
		SnapshotID: snapshotID,
		Payload:    payload,
		CreatedAt:  time.Now(),
		Status:     StatusPending,
	})
}

func (m *manager) Pending(limit int) ([]Entry, error) {
	all, err := m.st.listEligible(context.Background(), limit*4+limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]Entry, 0, limit)
	for _, e := range all {
		if len(out) >= limit {
			break
		}
		if !backoffEligible(e, now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// backoffEligible reports whether an entry's next-retry time, computed
// via an exponential backoff sequence capped at maxBackoff, has
// elapsed. A never-attempted entry is always eligible; after the first
// failed attempt the wait is 1 minute.
func backoffEligible(e Entry, now time.Time) bool {
	if !e.HasLastAttempt {
		return true
	}
	wait := nthBackoff(e.UploadAttempts - 1)
	return now.Sub(e.LastAttempt) >= wait
}

// nthBackoff returns the wait duration after the (attempts+1)th failed
// attempt: 1, 2, 4, 8, 15(capped) minutes.
func nthBackoff(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.Multiplier = backoffMultiplier
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0

	wait := b.InitialInterval
	for i := 0; i < attempts; i++ {
		next := time.Duration(float64(wait) * backoffMultiplier)
		if next > maxBackoff {
			next = maxBackoff
		}
		wait = next
	}
	return wait
}

func (m *manager) MarkUploaded(snapshotID string) error {
	ctx := context.Background()
	e, ok, err := m.st.get(ctx, snapshotID)
	if err != nil {
		return err
	}
	if !ok || e.Status == StatusUploaded {
		return nil
	}
	return m.st.setStatus(ctx, snapshotID, StatusUploaded)
}

func (m *manager) RecordFailure(snapshotID string) error {
	ctx := context.Background()
	e, ok, err := m.st.get(ctx, snapshotID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	attempts := e.UploadAttempts + 1
	status := StatusPending
	if attempts >= MaxAttempts {
		status = StatusFailed
	}
	return m.st.recordAttempt(ctx, snapshotID, attempts, time.Now(), status)
}

func (m *manager) RunOnce(ctx context.Context) (RunResult, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return RunResult{}, fmt.Errorf("outbox: run already in progress")
	}
	if !m.env.NetworkReachable() {
		m.mu.Unlock()
		return RunResult{}, fmt.Errorf("outbox: network unreachable")
	}
	if m.env.BatteryLevel() < m.cfg.BatteryFloor {
		m.mu.Unlock()
		return RunResult{}, fmt.Errorf("outbox: battery below floor")
	}
	if m.env.InEmergency() {
		m.mu.Unlock()
		return RunResult{}, fmt.Errorf("outbox: suspended during emergency")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	pending, err := m.Pending(m.cfg.BatchSize)
	if err != nil {
		return RunResult{}, fmt.Errorf("outbox: list pending: %w", err)
	}

	var result RunResult
	for _, e := range pending {
		if err := m.st.setStatus(ctx, e.SnapshotID, StatusUploading); err != nil {
			return result, fmt.Errorf("outbox: mark uploading: %w", err)
		}

		_, uploadErr := m.cb.Execute(func() (any, error) {
			return nil, m.upload.Upload(ctx, e)
		})

		if uploadErr != nil {
			m.log.Warn().Err(uploadErr).Str("snapshot_id", e.SnapshotID).Msg("upload failed")
			if err := m.RecordFailure(e.SnapshotID); err != nil {
				return result, fmt.Errorf("outbox: record failure: %w", err)
			}
			continue
		}

		if err := m.MarkUploaded(e.SnapshotID); err != nil {
			return result, fmt.Errorf("outbox: mark uploaded: %w", err)
		}
		result.Uploaded++
	}

	counts, err := m.st.counts(ctx)
	if err != nil {
		return result, fmt.Errorf("outbox: counts: %w", err)
	}
	result.Pending = counts[StatusPending] + counts[StatusUploading]
	result.Failed = counts[StatusFailed]

	if m.bus != nil {
		m.bus.Publish(eventbus.Event{OutboxProgress: &eventbus.OutboxProgress{
			Uploaded: result.Uploaded,
			Pending:  result.Pending,
			Failed:   result.Failed,
		}})
	}

	m.log.Info().
		Int("uploaded", result.Uploaded).
		Int("pending", result.Pending).
		Int("failed", result.Failed).
		Msg("outbox run complete")

	return result, nil
}

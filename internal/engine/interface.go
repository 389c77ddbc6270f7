// Package engine wires TelemetryAggregator, PatternMatcher, TruthChecker,
// EmergencyStateMachine, DivergenceCapturer, and UploadOutbox into the
// single incoming-sensor-delta pipeline of SPEC_FULL.md §2/§5: a
// single-threaded core loop (no concurrent mutation of any one
// component) backed by a small worker pool for divergence capture
// (snapshot persistence and outbox enqueue), in the same
// ticker-goroutine idiom as the teacher's runPollingScheduler. Seed
// sampling and outbox uploads run on the calling goroutine.
package engine

import (
	"context"
	"time"

	"github.com/marinersgrid/marinegrid/internal/divergence"
	"github.com/marinersgrid/marinegrid/internal/emergency"
	"github.com/marinersgrid/marinegrid/internal/eventbus"
	"github.com/marinersgrid/marinegrid/internal/outbox"
	"github.com/marinersgrid/marinegrid/internal/patternmatcher"
	"github.com/marinersgrid/marinegrid/internal/seedstore"
	"github.com/marinersgrid/marinegrid/internal/telemetry"
	"github.com/marinersgrid/marinegrid/internal/truthchecker"
)

// Dependencies bundles the explicitly-constructed services the engine
// drives. All fields are required except Divergence/Outbox/Bus, which
// may be nil in configurations that don't need capture, upload or
// eventing (e.g. tests exercising only C3-C6).
type Dependencies struct {
	Telemetry  telemetry.Manager
	Matcher    patternmatcher.Manager
	Truth      truthchecker.Manager
	Emergency  emergency.Manager
	Divergence divergence.Manager
	Outbox     outbox.Manager
	Seeds      seedstore.Manager
	Bus        *eventbus.Bus
}

// Config tunes the orchestration details SPEC_FULL.md leaves to the
// engine rather than to any one component.
type Config struct {
	// WindUVariable/WindVVariable name the seed variables sampled for
	// the predicted-wind magnitude ComputeTSS needs. Defaults to "u10"/
	// "v10", matching truthchecker.DefaultConfig's own sampling names.
	WindUVariable, WindVVariable string

	// VibeConfirmLevels are the PatternMatcher alert levels that count
	// as "vibe confirmed" input to EmergencyStateMachine.Update, per
	// spec §4.6's PatternMatcher-to-machine feed.
	VibeConfirmLevels map[patternmatcher.AlertLevel]bool

	// WorkerPoolSize is the fixed goroutine count for I/O tasks.
	WorkerPoolSize int

	// AppVersion is not read by the engine; captured DivergenceSnapshots
	// take their app version from divergence.Config.
	AppVersion string
}

// DefaultConfig returns the engine's default orchestration tuning.
func DefaultConfig() Config {
	return Config{
		WindUVariable: "u10",
		WindVVariable: "v10",
		VibeConfirmLevels: map[patternmatcher.AlertLevel]bool{
			patternmatcher.LevelDanger:    true,
			patternmatcher.LevelEmergency: true,
		},
		WorkerPoolSize: 4,
	}
}

// Engine is the per-sensor-delta orchestration contract.
type Engine interface {
	// HandleSensorDelta applies one raw Signal K envelope through the
	// full C3->C4->C5->C6->C7 pipeline, at time `at`. It returns
	// whether TelemetryAggregator's sufficiency predicate was met
	// (i.e. whether any downstream processing ran at all).
	HandleSensorDelta(ctx context.Context, raw []byte, at time.Time) (bool, error)

	// RunBackgroundTick performs the periodic, non-sensor-driven work:
	// UploadOutbox.RunOnce (subject to its own gates) and a
	// SeedStateChanged publish if the freshness bucket changed.
	RunBackgroundTick(ctx context.Context, at time.Time) error

	// Shutdown stops the worker pool, waiting for in-flight jobs.
	Shutdown()
}

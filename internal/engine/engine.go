package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/divergence"
	"github.com/marinersgrid/marinegrid/internal/emergency"
	"github.com/marinersgrid/marinegrid/internal/eventbus"
	"github.com/marinersgrid/marinegrid/internal/patternmatcher"
	"github.com/marinersgrid/marinegrid/internal/seedstore"
	"github.com/marinersgrid/marinegrid/internal/telemetry"
	"github.com/marinersgrid/marinegrid/internal/truthchecker"
)

const msToKnots = 1.943844

type manager struct {
	deps Dependencies
	cfg  Config
	pool *workerPool
	log  zerolog.Logger

	lastFreshness seedstore.Freshness
	haveFreshness bool
}

// NewEngine constructs the orchestrator. deps.Telemetry, Matcher,
// Truth, Emergency and Seeds must be non-nil; deps.Divergence,
// deps.Outbox and deps.Bus are optional.
func NewEngine(deps Dependencies, cfg Config, log zerolog.Logger) Engine {
	if cfg.WindUVariable == "" {
		cfg.WindUVariable = "u10"
	}
	if cfg.WindVVariable == "" {
		cfg.WindVVariable = "v10"
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	return &manager{
		deps: deps,
		cfg:  cfg,
		pool: newWorkerPool(cfg.WorkerPoolSize),
		log:  log.With().Str("component", "engine").Logger(),
	}
}

func (m *manager) publish(ev eventbus.Event) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(ev)
	}
}

func consensusFromLevel(l truthchecker.Level) emergency.Consensus {
	switch l {
	case truthchecker.LevelAgree:
		return emergency.ConsensusAgree
	case truthchecker.LevelDisagree:
		return emergency.ConsensusDisagree
	default:
		return emergency.ConsensusPartial
	}
}

// predictedWindKts samples the seed's wind components at timeIdx/lat/lon
// and returns the scalar magnitude in knots, for ComputeTSS's windPredKts
// input. This is a narrower, scalar-only sibling of truthchecker's own
// internal prediction sampling: TruthChecker's Check builds a full
// graded Report, while ComputeTSS only needs the magnitude, so the two
// call sites sample independently rather than threading an extra
// return value through TruthChecker's pure-function contract.
func predictedWindKts(seeds seedstore.Manager, uVar, vVar string, timeIdx int, lat, lon float64) (float64, error) {
	u, err := seeds.Sample(uVar, timeIdx, lat, lon)
	if err != nil {
		return 0, err
	}
	v, err := seeds.Sample(vVar, timeIdx, lat, lon)
	if err != nil {
		return 0, err
	}
	return math.Hypot(float64(u), float64(v)) * msToKnots, nil
}

func (m *manager) HandleSensorDelta(ctx context.Context, raw []byte, at time.Time) (bool, error) {
	if err := m.deps.Telemetry.Apply(raw); err != nil {
		return false, fmt.Errorf("engine: apply sensor delta: %w", err)
	}

	snapshot, ok := m.deps.Telemetry.TryEmit()
	if !ok {
		return false, nil
	}

	alert, fired := m.deps.Matcher.Ingest(snapshot)
	vibeConfirmed := false
	if fired {
		vibeConfirmed = m.cfg.VibeConfirmLevels[alert.Level]
		m.publish(eventbus.Event{AlertRaised: &eventbus.AlertRaised{
			AlertID: alert.ID,
			Level:   string(alert.Level),
			Title:   alert.Title,
		}})
	}

	pos, ok := snapshot.Position.Get()
	if !ok {
		// TryEmit's sufficiency predicate guarantees this, but the
		// engine stays defensive against future predicate changes.
		return true, nil
	}

	timeIdx, err := m.deps.Seeds.TimestepIndexFor(at.UnixMilli())
	if err != nil {
		m.log.Warn().Err(err).Msg("no seed timestep available, skipping divergence pipeline")
		return true, nil
	}

	obs := truthchecker.Observation{
		Lat:          pos.Lat,
		Lon:          pos.Lon,
		WindSpeedKts: snapshot.TrueWindSpeedKts.OrElse(0),
		PressureHPa:  snapshot.BarometerHPa.OrElse(0),
		TimestampMs:  at.UnixMilli(),
	}
	report, err := m.deps.Truth.Check(obs, timeIdx)
	if err != nil {
		m.log.Warn().Err(err).Msg("truth check failed, skipping divergence pipeline")
		return true, nil
	}

	windPredKts, err := predictedWindKts(m.deps.Seeds, m.cfg.WindUVariable, m.cfg.WindVVariable, timeIdx, pos.Lat, pos.Lon)
	if err != nil {
		m.log.Warn().Err(err).Msg("predicted wind sample failed, using zero")
	}

	tss, _ := m.deps.Emergency.ComputeTSS(snapshot.PressureTrendHPaPerHr.OrElse(0), obs.WindSpeedKts, windPredKts)
	m.deps.Emergency.Update(emergency.Input{
		At:            at,
		Consensus:     consensusFromLevel(report.Level),
		TSS:           tss,
		VibeConfirmed: vibeConfirmed,
	})

	if report.IsDivergent && m.deps.Divergence != nil {
		m.captureAsync(snapshot, obs, report, windPredKts, alert, fired, at)
	}

	return true, nil
}

func (m *manager) captureAsync(snapshot telemetry.Snapshot, obs truthchecker.Observation, report truthchecker.Report, windPredKts float64, alert patternmatcher.Alert, fired bool, at time.Time) {
	var matched *divergence.MatchedPattern
	if fired {
		matched = &divergence.MatchedPattern{
			PatternID:  alert.MatchedPattern.PatternID,
			Label:      alert.MatchedPattern.Label,
			Similarity: alert.MatchedPattern.Similarity,
		}
	}

	dataQuality := divergence.DataQualityHigh
	sources := []string{"navigation.position", "environment.outside.pressure"}

	in := divergence.Input{
		CapturedAt:     at,
		Lat:            obs.Lat,
		Lon:            obs.Lon,
		Observation:    snapshot,
		Embedding:      patternmatcher.EmbedSnapshot(snapshot),
		ConsensusLevel: string(report.Level),
		Prediction: divergence.Prediction{
			PredictedWindKts:     windPredKts,
			PredictedPressureHPa: report.PredictedPressureHPa,
			ValidTimeMs:          at.UnixMilli(),
		},
		MatchedPattern: matched,
		SensorSources:  sources,
		DataQuality:    dataQuality,
	}

	m.pool.submit(func() {
		snap, err := m.deps.Divergence.Capture(in)
		if err != nil {
			m.log.Error().Err(err).Msg("divergence capture failed")
			return
		}
		m.publish(eventbus.Event{DivergenceCaptured: &eventbus.DivergenceCaptured{
			SnapshotID: snap.SnapshotID,
			Severity:   string(snap.Metrics.Severity),
		}})
	})
}

func (m *manager) RunBackgroundTick(ctx context.Context, at time.Time) error {
	bucket := m.deps.Seeds.FreshnessBucket(at)
	if !m.haveFreshness || bucket != m.lastFreshness {
		m.lastFreshness = bucket
		m.haveFreshness = true
		m.publish(eventbus.Event{SeedStateChanged: &eventbus.SeedStateChanged{Freshness: bucket.String()}})
	}

	if m.deps.Outbox == nil {
		return nil
	}

	result, err := m.deps.Outbox.RunOnce(ctx)
	if err != nil {
		m.log.Debug().Err(err).Msg("outbox run skipped")
		return nil
	}
	m.log.Info().
		Int("uploaded", result.Uploaded).
		Int("pending", result.Pending).
		Int("failed", result.Failed).
		Msg("background tick: outbox run complete")
	return nil
}

func (m *manager) Shutdown() {
	m.pool.stop()
}

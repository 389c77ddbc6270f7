package truthchecker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marinersgrid/marinegrid/internal/seedstore"
)

// stubSeeds is a minimal seedstore.Manager whose Sample values are set
// directly by the test.
type stubSeeds struct {
	values map[string]float32
	err    error
}

func (s *stubSeeds) Open(raw []byte) error         { return nil }
func (s *stubSeeds) ListVariables() []string       { return nil }
func (s *stubSeeds) Sample(variable string, timeIdx int, lat, lon float64) (float32, error) {
	if s.err != nil {
		return 0, s.err
	}
	v, ok := s.values[variable]
	if !ok {
		return 0, errors.New("unknown variable")
	}
	return v, nil
}
func (s *stubSeeds) TimestepIndexFor(targetMs int64) (int, error) { return 0, nil }
func (s *stubSeeds) WindPoints(timeIdx int) ([]seedstore.WindPoint, error) { return nil, nil }
func (s *stubSeeds) ForecastStartTime() (time.Time, bool)         { return time.Time{}, false }
func (s *stubSeeds) TimeSteps() ([]int64, bool)                   { return nil, false }
func (s *stubSeeds) Age(now time.Time) (time.Duration, bool)      { return 0, false }
func (s *stubSeeds) FreshnessBucket(now time.Time) seedstore.Freshness {
	return seedstore.FreshnessFresh
}
func (s *stubSeeds) SeedID() (string, bool) { return "", false }

func TestCheckAgreeWhenBothWithinSoftThresholds(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 3, "v10": 0, "msl": 1013}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	predictedKts := 3 * msToKnots
	obs := Observation{WindSpeedKts: predictedKts + 1, PressureHPa: 1013 + 1}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.Equal(t, LevelAgree, report.Level)
	require.False(t, report.IsDivergent)
}

func TestCheckDivergentAtInclusiveWindBoundary(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 1013}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	obs := Observation{WindSpeedKts: 8, PressureHPa: 1013}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.True(t, report.IsDivergent)
	require.InDelta(t, 8.0, report.WindDeltaKts, 1e-9)
}

func TestCheckDivergentAtInclusivePressureBoundary(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 1013}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	obs := Observation{WindSpeedKts: 0, PressureHPa: 1017}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.True(t, report.IsDivergent)
	require.InDelta(t, 4.0, report.PressureDeltaHPa, 1e-9)
}

func TestCheckReportsSignedPredictedPressureEvenWhenPredictionExceedsObservation(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 1015}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	obs := Observation{WindSpeedKts: 0, PressureHPa: 1000}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.InDelta(t, 15.0, report.PressureDeltaHPa, 1e-9)
	require.InDelta(t, 1015.0, report.PredictedPressureHPa, 1e-9)
}

func TestCheckDisagreeAboveHardThresholds(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 1013}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	obs := Observation{WindSpeedKts: 20, PressureHPa: 1013}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.Equal(t, LevelDisagree, report.Level)
	require.True(t, report.IsDivergent)
}

func TestCheckPartialBetweenSoftAndHard(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 1013}}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	obs := Observation{WindSpeedKts: 10, PressureHPa: 1013}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.Equal(t, LevelPartial, report.Level)
	require.True(t, report.IsDivergent)
}

func TestCheckConvertsPaPressureWhenConfigured(t *testing.T) {
	seeds := &stubSeeds{values: map[string]float32{"u10": 0, "v10": 0, "msl": 101300}}
	cfg := DefaultConfig()
	cfg.PressureInPa = true
	m := NewManager(seeds, cfg, zerolog.Nop())

	obs := Observation{WindSpeedKts: 0, PressureHPa: 1013}
	report, err := m.Check(obs, 0)
	require.NoError(t, err)
	require.InDelta(t, 0.0, report.PressureDeltaHPa, 1e-6)
}

func TestCheckPropagatesSampleError(t *testing.T) {
	seeds := &stubSeeds{err: errors.New("out of range")}
	m := NewManager(seeds, DefaultConfig(), zerolog.Nop())

	_, err := m.Check(Observation{}, 0)
	require.Error(t, err)
}

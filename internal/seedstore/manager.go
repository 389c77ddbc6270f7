package seedstore

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/pkg/seedcodec"
)

// OutOfRange is returned by Sample for an unknown variable or an empty
// grid, per spec §4.1.
var OutOfRange = errors.New("seedstore: out of range")

// manager implements Manager. The decoded seed is held behind an
// atomic.Pointer so that Open can swap in a new handle without the hot
// path (engine loop reads via Sample/WindPoints) ever blocking on a
// mutex, per spec §5's "new seed handles swap atomically."
type manager struct {
	current    atomic.Pointer[seedcodec.Seed]
	loadedAt   atomic.Pointer[time.Time]
	thresholds FreshnessThresholds
	log        zerolog.Logger
}

// NewManager creates an empty SeedStore. No seed is loaded until Open
// succeeds at least once.
func NewManager(thresholds FreshnessThresholds, log zerolog.Logger) Manager {
	return &manager{thresholds: thresholds, log: log.With().Str("component", "seedstore").Logger()}
}

func (m *manager) Open(raw []byte) error {
	seed, err := seedcodec.Decode(raw)
	if err != nil {
		m.log.Warn().Err(err).Msg("seed decode failed, keeping previous handle")
		return fmt.Errorf("seedstore: decode: %w", err)
	}

	now := time.Now()
	m.current.Store(seed)
	m.loadedAt.Store(&now)

	m.log.Info().Str("seed_id", seed.SeedID).Str("model_source", seed.ModelSource).Msg("seed opened")
	return nil
}

func (m *manager) seed() (*seedcodec.Seed, bool) {
	s := m.current.Load()
	return s, s != nil
}

func (m *manager) ListVariables() []string {
	s, ok := m.seed()
	if !ok {
		return nil
	}
	names := make([]string, 0, len(s.Variables))
	for name := range s.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nearestIndex finds the index in axis nearest to target, ties
// breaking to the earlier (lower) index, per spec §4.1. axis may be
// ascending or descending and may be irregularly spaced, so this is a
// linear scan rather than a binary search over an assumed-sorted axis.
func nearestIndexF32(axis []float32, target float64) int {
	best := 0
	bestDist := float64(1)<<62 - 1
	for i, v := range axis {
		d := target - float64(v)
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func nearestIndexI64(axis []int64, target int64) int {
	best := 0
	var bestDist int64 = 1<<62 - 1
	for i, v := range axis {
		d := target - v
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			bestDist = d
			best = i
		} else if d == bestDist && v < axis[best] {
			// tie break to earlier (lower) timestamp
			best = i
		}
	}
	return best
}

func (m *manager) TimestepIndexFor(targetMs int64) (int, error) {
	s, ok := m.seed()
	if !ok || len(s.TimeStepsMs) == 0 {
		return 0, OutOfRange
	}
	return nearestIndexI64(s.TimeStepsMs, targetMs), nil
}

func (m *manager) Sample(variable string, timeIdx int, lat, lon float64) (float32, error) {
	s, ok := m.seed()
	if !ok {
		return 0, OutOfRange
	}
	v, ok := s.Variables[variable]
	if !ok {
		return 0, fmt.Errorf("seedstore: variable %q: %w", variable, OutOfRange)
	}
	if timeIdx < 0 || timeIdx >= len(s.TimeStepsMs) {
		return 0, fmt.Errorf("seedstore: time index %d: %w", timeIdx, OutOfRange)
	}
	if len(s.Lats) == 0 || len(s.Lons) == 0 {
		return 0, OutOfRange
	}

	latIdx := nearestIndexF32(s.Lats, lat)
	lonIdx := nearestIndexF32(s.Lons, lon)

	flat := timeIdx*len(s.Lats)*len(s.Lons) + latIdx*len(s.Lons) + lonIdx
	if flat < 0 || flat >= v.count() {
		return 0, OutOfRange
	}
	return v.At(flat), nil
}

func (m *manager) WindPoints(timeIdx int) ([]WindPoint, error) {
	s, ok := m.seed()
	if !ok {
		return nil, OutOfRange
	}
	u, hasU := s.Variables["u10"]
	v, hasV := s.Variables["v10"]
	if !hasU || !hasV {
		return nil, fmt.Errorf("seedstore: u10/v10: %w", OutOfRange)
	}
	if timeIdx < 0 || timeIdx >= len(s.TimeStepsMs) {
		return nil, fmt.Errorf("seedstore: time index %d: %w", timeIdx, OutOfRange)
	}

	ts := s.TimeStepsMs[timeIdx]
	out := make([]WindPoint, 0, len(s.Lats)*len(s.Lons))
	for latI, lat := range s.Lats {
		for lonI, lon := range s.Lons {
			flat := timeIdx*len(s.Lats)*len(s.Lons) + latI*len(s.Lons) + lonI
			out = append(out, WindPoint{
				Lat:         float64(lat),
				Lon:         float64(lon),
				U10:         u.At(flat),
				V10:         v.At(flat),
				TimestampMs: ts,
			})
		}
	}
	return out, nil
}

func (m *manager) ForecastStartTime() (time.Time, bool) {
	s, ok := m.seed()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(s.ForecastStartTimeMs), true
}

func (m *manager) TimeSteps() ([]int64, bool) {
	s, ok := m.seed()
	if !ok {
		return nil, false
	}
	out := make([]int64, len(s.TimeStepsMs))
	copy(out, s.TimeStepsMs)
	return out, true
}

func (m *manager) Age(now time.Time) (time.Duration, bool) {
	loaded := m.loadedAt.Load()
	start, ok := m.ForecastStartTime()
	if loaded == nil || !ok {
		return 0, false
	}
	return now.Sub(start), true
}

func (m *manager) FreshnessBucket(now time.Time) Freshness {
	age, ok := m.Age(now)
	if !ok {
		return FreshnessExpired
	}
	switch {
	case age < m.thresholds.FreshUpTo:
		return FreshnessFresh
	case age < m.thresholds.StaleUpTo:
		return FreshnessStale
	default:
		return FreshnessExpired
	}
}

func (m *manager) SeedID() (string, bool) {
	s, ok := m.seed()
	if !ok {
		return "", false
	}
	return s.SeedID, true
}

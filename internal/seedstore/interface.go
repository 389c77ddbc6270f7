package seedstore

import (
	"time"
)

// Freshness buckets a seed's age into the documented categories of
// spec §4.1. Thresholds are configurable but MUST monotonically
// increase (enforced in internal/config).
type Freshness int

const (
	FreshnessFresh Freshness = iota
	FreshnessStale
	FreshnessExpired
)

func (f Freshness) String() string {
	switch f {
	case FreshnessFresh:
		return "fresh"
	case FreshnessStale:
		return "stale"
	case FreshnessExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// WindPoint is one cell of a wind_points(time_idx) iteration result.
type WindPoint struct {
	Lat, Lon     float64
	U10, V10     float32
	TimestampMs  int64
}

// Manager is the SeedStore contract of spec §4.1.
type Manager interface {
	// Open decompresses and decodes a new seed artifact and swaps it in
	// atomically as the current handle. The previous handle keeps
	// serving concurrent readers until they release it.
	Open(raw []byte) error

	// ListVariables returns the variable names of the current seed.
	ListVariables() []string

	// Sample returns the dequantized value of a variable at a given
	// time index and nearest grid cell to (lat, lon).
	Sample(variable string, timeIdx int, lat, lon float64) (float32, error)

	// TimestepIndexFor returns the nearest time index to targetMs,
	// ties breaking to the earlier step.
	TimestepIndexFor(targetMs int64) (int, error)

	// WindPoints returns one (lat, lon, u10, v10, timestamp) tuple per
	// grid cell at the given time index.
	WindPoints(timeIdx int) ([]WindPoint, error)

	// ForecastStartTime returns the current seed's forecast_start_time.
	ForecastStartTime() (time.Time, bool)

	// TimeSteps returns the current seed's time step timestamps.
	TimeSteps() ([]int64, bool)

	// Age returns the current seed's age relative to now.
	Age(now time.Time) (time.Duration, bool)

	// FreshnessBucket maps Age(now) into a Freshness bucket using the
	// configured thresholds.
	FreshnessBucket(now time.Time) Freshness

	// SeedID returns the current seed's id, if any is loaded.
	SeedID() (string, bool)
}

// FreshnessThresholds holds the two monotonically increasing bucket
// boundaries from spec §4.1 / config key seed.freshness_buckets_h.
type FreshnessThresholds struct {
	FreshUpTo time.Duration // age < FreshUpTo => fresh
	StaleUpTo time.Duration // FreshUpTo <= age < StaleUpTo => stale, else expired
}

// DefaultFreshnessThresholds matches spec §4.1's "<6h fresh, 6-12h
// stale, >=12h expired".
func DefaultFreshnessThresholds() FreshnessThresholds {
	return FreshnessThresholds{FreshUpTo: 6 * time.Hour, StaleUpTo: 12 * time.Hour}
}

// Package telemetry implements TelemetryAggregator (spec §4.3): merging
// incremental Signal K sensor deltas into canonical TelemetrySnapshots,
// median-smoothing the barometer, and deriving the pressure trend.
package telemetry

import (
	"github.com/marinersgrid/marinegrid/internal/optional"
)

// Position is WGS84 lat/lon, in degrees.
type Position struct {
	Lat, Lon float64
}

// Snapshot is the TelemetrySnapshot of spec §3. Optional fields use
// optional.Value so "never received" is distinguishable from "received
// as zero" per spec §9.
type Snapshot struct {
	TimestampMs    int64
	Position       optional.Value[Position]
	HeadingDegTrue optional.Value[float64]
	SogKts         optional.Value[float64]

	TrueWindSpeedKts     optional.Value[float64]
	TrueWindAngleDeg     optional.Value[float64]
	ApparentWindSpeedKts optional.Value[float64]
	ApparentWindAngleDeg optional.Value[float64]

	BarometerHPa optional.Value[float64]
	TemperatureC optional.Value[float64]
	HumidityPct  optional.Value[float64]

	WaveHeightM optional.Value[float64]
	WavePeriodS optional.Value[float64]

	PressureTrendHPaPerHr optional.Value[float64]
}

// Manager is the TelemetryAggregator contract of spec §4.3.
type Manager interface {
	// Apply merges a raw Signal K envelope's recognized path/value
	// pairs into accumulated state. Unknown paths are ignored.
	Apply(raw []byte) error

	// Current returns the partial snapshot accumulated so far.
	Current() Snapshot

	// TryEmit returns a snapshot only if position && barometer are
	// both set (the minimum sufficiency predicate of spec §4.3).
	TryEmit() (Snapshot, bool)
}

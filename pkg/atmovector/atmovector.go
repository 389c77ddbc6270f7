// Package atmovector implements the AtmosphericVector embedding contract
// of spec §3: a 16-wide normalized float vector describing instantaneous
// weather conditions. Indices 0-8 are meaningful; 9-15 are reserved and
// always zero. The normalization constants below are the authoritative
// contract shared by PatternMatcher (live embeddings), the seeded danger
// catalog, and DivergenceCapturer (captured snapshot embeddings) so that
// all three speak the same coordinate system.
package atmovector

import "math"

// Dims is the fixed width of every AtmosphericVector.
const Dims = 16

// Meaningful index assignments, 0-8. 9-15 are reserved/zero.
const (
	IdxTemperature    = 0
	IdxPressure       = 1
	IdxHumidity       = 2
	IdxWindU          = 3
	IdxWindV          = 4
	IdxPressureTrend  = 5
	IdxCloudCover     = 6
	IdxWaveHeight     = 7
	IdxWavePeriod     = 8
	firstReservedIdx  = 9
)

// Vector is an AtmosphericVector: 16 floats, clamped per-dimension.
type Vector [Dims]float32

// Inputs is the set of physical quantities a Vector is built from, in
// the units TelemetryAggregator already exposes them in (°C, hPa, %,
// m/s components, hPa/hr, fraction, meters, seconds).
type Inputs struct {
	TemperatureC    float64
	PressureHPa     float64
	HumidityPct     float64
	WindUms         float64
	WindVms         float64
	PressureTrendHr float64
	CloudCoverFrac  float64
	WaveHeightM     float64
	WavePeriodS     float64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Build converts Inputs into a normalized Vector per the documented
// contract in spec §3:
//
//	temperature:    (C - 15) / 25         -> [-1, 1]
//	pressure:       (hPa - 1013) / 30     -> [-1, 1]
//	humidity:       pct / 100             -> [0, 1]
//	windU, windV:   m/s / 40              -> [-1, 1]
//	pressureTrend:  hPa/hr / 10           -> [-1, 1]
//	cloudCover:     fraction              -> [0, 1]
//	waveHeight:     meters / 20           -> [0, 1]
//	wavePeriod:     seconds / 20          -> [0, 1]
func Build(in Inputs) Vector {
	var v Vector
	v[IdxTemperature] = float32(clamp((in.TemperatureC-15)/25, -1, 1))
	v[IdxPressure] = float32(clamp((in.PressureHPa-1013)/30, -1, 1))
	v[IdxHumidity] = float32(clamp(in.HumidityPct/100, 0, 1))
	v[IdxWindU] = float32(clamp(in.WindUms/40, -1, 1))
	v[IdxWindV] = float32(clamp(in.WindVms/40, -1, 1))
	v[IdxPressureTrend] = float32(clamp(in.PressureTrendHr/10, -1, 1))
	v[IdxCloudCover] = float32(clamp(in.CloudCoverFrac, 0, 1))
	v[IdxWaveHeight] = float32(clamp(in.WaveHeightM/20, 0, 1))
	v[IdxWavePeriod] = float32(clamp(in.WavePeriodS/20, 0, 1))
	// indices 9..15 stay zero by construction.
	return v
}

// Valid reports whether v satisfies the documented invariant: indices
// 0-8 within their declared ranges, 9-15 exactly zero.
func (v Vector) Valid() bool {
	ranges := [Dims][2]float32{
		IdxTemperature:   {-1, 1},
		IdxPressure:      {-1, 1},
		IdxHumidity:      {0, 1},
		IdxWindU:         {-1, 1},
		IdxWindV:         {-1, 1},
		IdxPressureTrend: {-1, 1},
		IdxCloudCover:    {0, 1},
		IdxWaveHeight:    {0, 1},
		IdxWavePeriod:    {0, 1},
	}
	for i := 0; i < firstReservedIdx; i++ {
		if v[i] < ranges[i][0] || v[i] > ranges[i][1] {
			return false
		}
	}
	for i := firstReservedIdx; i < Dims; i++ {
		if v[i] != 0 {
			return false
		}
	}
	return true
}

// Slice returns the vector as a plain []float32, for storage layers
// that want a flat slice rather than a fixed array.
func (v Vector) Slice() []float32 {
	out := make([]float32, Dims)
	copy(out, v[:])
	return out
}

// FromSlice builds a Vector from a []float32 of length Dims.
func FromSlice(s []float32) (Vector, bool) {
	var v Vector
	if len(s) != Dims {
		return v, false
	}
	copy(v[:], s)
	return v, true
}

// CosineSimilarity returns cos(theta) between a and b, in [-1, 1].
// Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b Vector) float64 {
	var dot, magA, magB float64
	for i := 0; i < Dims; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/optional"
	"github.com/marinersgrid/marinegrid/pkg/signalk"
)

// DefaultRingBufferSize is the default N of spec §4.3's rolling buffer.
const DefaultRingBufferSize = 60

// Unit conversion constants, per spec §4.3 (authoritative).
const (
	msToKnots            = 1.943844
	radToDeg             = 180 / math.Pi
	pressureSmoothWindow = 5
)

// pressureSample is one raw barometer reading, kept in the ring buffer
// for median smoothing and trend derivation.
type pressureSample struct {
	atMs int64
	hPa  float64
}

type manager struct {
	mu sync.Mutex

	position optional.Value[Position]
	heading  optional.Value[float64]
	sog      optional.Value[float64]

	trueWindSpeed optional.Value[float64]
	trueWindAngle optional.Value[float64]
	// haveWaterReferencedAngle tracks whether the current trueWindAngle came
	// from the water-referenced path, so a later ground-referenced
	// update never overrides it, per spec §4.3's stated preference.
	haveWaterReferencedAngle bool

	apparentWindSpeed optional.Value[float64]
	apparentWindAngle optional.Value[float64]

	windU, windV optional.Value[float64]

	barometer   optional.Value[float64]
	temperature optional.Value[float64]
	humidity    optional.Value[float64]

	waveHeight optional.Value[float64]
	wavePeriod optional.Value[float64]

	lastTimestampMs int64

	ring     []pressureSample
	ringSize int

	log zerolog.Logger
}

// NewManager constructs an empty TelemetryAggregator.
func NewManager(log zerolog.Logger) Manager {
	return &manager{
		ringSize: DefaultRingBufferSize,
		log:      log.With().Str("component", "telemetry").Logger(),
	}
}

func (m *manager) Apply(raw []byte) error {
	env, err := signalk.Decode(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, upd := range env.Updates {
		// atMs is the update's own clock, not time.Now(): re-applying an
		// identical envelope must re-derive identical state, and the
		// wall clock is not a pure function of the envelope's bytes. A
		// missing or unparsable timestamp leaves lastTimestampMs (and any
		// pressure sample it stamps) at its prior value rather than
		// advancing it from time.Now().
		atMs, ok := upd.TimestampMs()
		if !ok {
			atMs = m.lastTimestampMs
		}
		for _, pv := range upd.Values {
			m.applyOneLocked(pv, atMs)
		}
	}
	return nil
}

func (m *manager) applyOneLocked(pv signalk.PathValue, atMs int64) {
	switch pv.Path {
	case signalk.PathPosition:
		if p, ok := pv.AsPosition(); ok {
			m.position = optional.Of(Position{Lat: p.Latitude, Lon: p.Longitude})
			m.touchTimestamp(atMs)
		}
	case signalk.PathHeadingTrue:
		if f, ok := pv.Float(); ok {
			deg := math.Mod(f*radToDeg+360, 360)
			m.heading = optional.Of(deg)
		}
	case signalk.PathSpeedOverGround:
		if f, ok := pv.Float(); ok {
			m.sog = optional.Of(f * msToKnots)
		}
	case signalk.PathWindSpeedTrue:
		if f, ok := pv.Float(); ok {
			m.trueWindSpeed = optional.Of(f * msToKnots)
		}
	case signalk.PathWindAngleTrueWater:
		if f, ok := pv.Float(); ok {
			m.trueWindAngle = optional.Of(math.Mod(f*radToDeg+360, 360))
			m.haveWaterReferencedAngle = true
		}
	case signalk.PathWindAngleTrueGround:
		if f, ok := pv.Float(); ok && !m.haveWaterReferencedAngle {
			m.trueWindAngle = optional.Of(math.Mod(f*radToDeg+360, 360))
		}
	case signalk.PathWindSpeedApparent:
		if f, ok := pv.Float(); ok {
			m.apparentWindSpeed = optional.Of(f * msToKnots)
		}
	case signalk.PathWindAngleApparent:
		if f, ok := pv.Float(); ok {
			m.apparentWindAngle = optional.Of(math.Mod(f*radToDeg+360, 360))
		}
	case signalk.PathWindU10:
		if f, ok := pv.Float(); ok {
			m.windU = optional.Of(f)
			m.deriveTrueWindFromComponentsLocked()
		}
	case signalk.PathWindV10:
		if f, ok := pv.Float(); ok {
			m.windV = optional.Of(f)
			m.deriveTrueWindFromComponentsLocked()
		}
	case signalk.PathOutsidePressure:
		if f, ok := pv.Float(); ok {
			hPa := f / 100
			m.barometer = optional.Of(hPa)
			m.touchTimestamp(atMs)
			m.pushPressureSampleLocked(atMs, hPa)
		}
	case signalk.PathOutsideTemperature:
		if f, ok := pv.Float(); ok {
			m.temperature = optional.Of(f - 273.15)
		}
	case signalk.PathOutsideHumidity:
		if f, ok := pv.Float(); ok {
			m.humidity = optional.Of(f * 100)
		}
	case signalk.PathWaveSignificantHeight:
		if f, ok := pv.Float(); ok {
			m.waveHeight = optional.Of(f)
		}
	case signalk.PathWavePeriod:
		if f, ok := pv.Float(); ok {
			m.wavePeriod = optional.Of(f)
		}
	default:
		// unknown path: ignored silently, per spec §6.2
	}
}

// deriveTrueWindFromComponentsLocked implements spec §4.3: if u10/v10
// arrive, true wind speed/angle are derived from the components using
// the meteorological "from" convention.
func (m *manager) deriveTrueWindFromComponentsLocked() {
	u, uOK := m.windU.Get()
	v, vOK := m.windV.Get()
	if !uOK || !vOK {
		return
	}
	speedMS := math.Sqrt(u*u + v*v)
	angle := math.Mod(math.Atan2(u, v)*radToDeg+180, 360)
	m.trueWindSpeed = optional.Of(speedMS * msToKnots)
	m.trueWindAngle = optional.Of(angle)
}

func (m *manager) touchTimestamp(atMs int64) {
	m.lastTimestampMs = atMs
}

func (m *manager) pushPressureSampleLocked(atMs int64, hPa float64) {
	s := pressureSample{atMs: atMs, hPa: hPa}
	m.ring = append(m.ring, s)
	if len(m.ring) > m.ringSize {
		m.ring = m.ring[len(m.ring)-m.ringSize:]
	}
}

// smoothedPressureLocked returns the median of the most recent 5 raw
// pressure samples, per spec §4.3's smoothing window. Fewer than 5
// samples uses whatever is available.
func (m *manager) smoothedPressureLocked() (float64, bool) {
	if len(m.ring) == 0 {
		return 0, false
	}
	n := pressureSmoothWindow
	if n > len(m.ring) {
		n = len(m.ring)
	}
	window := make([]float64, n)
	for i, s := range m.ring[len(m.ring)-n:] {
		window[i] = s.hPa
	}
	sort.Float64s(window)
	return window[len(window)/2], true
}

// pressureTrendLocked implements spec §4.3's trend formula using the
// oldest buffered sample, provided Δhours > 0.001.
func (m *manager) pressureTrendLocked() (float64, bool) {
	if len(m.ring) == 0 {
		return 0, false
	}
	oldest := m.ring[0]
	newest := m.ring[len(m.ring)-1]
	deltaHours := float64(newest.atMs-oldest.atMs) / float64(time.Hour/time.Millisecond)
	if deltaHours <= 0.001 {
		return 0, false
	}
	return (newest.hPa - oldest.hPa) / deltaHours, true
}

func (m *manager) snapshotLocked() Snapshot {
	s := Snapshot{
		TimestampMs:          m.lastTimestampMs,
		Position:             m.position,
		HeadingDegTrue:       m.heading,
		SogKts:               m.sog,
		TrueWindSpeedKts:     m.trueWindSpeed,
		TrueWindAngleDeg:     m.trueWindAngle,
		ApparentWindSpeedKts: m.apparentWindSpeed,
		ApparentWindAngleDeg: m.apparentWindAngle,
		TemperatureC:         m.temperature,
		HumidityPct:          m.humidity,
		WaveHeightM:          m.waveHeight,
		WavePeriodS:          m.wavePeriod,
	}
	if p, ok := m.smoothedPressureLocked(); ok {
		s.BarometerHPa = optional.Of(p)
	}
	if trend, ok := m.pressureTrendLocked(); ok {
		s.PressureTrendHPaPerHr = optional.Of(trend)
	}
	return s
}

func (m *manager) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *manager) TryEmit() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, hasPosition := m.position.Get()
	_, hasBarometer := m.barometer.Get()
	if !hasPosition || !hasBarometer {
		return Snapshot{}, false
	}
	return m.snapshotLocked(), true
}

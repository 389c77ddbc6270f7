package truthchecker

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/seedstore"
)

// Config names the seed variables TruthChecker samples for its
// prediction, and the pressure units those variables are stored in.
type Config struct {
	WindUVariable     string
	WindVVariable     string
	PressureVariable  string
	// PressureInPa indicates the seed's pressure variable is stored in
	// Pa rather than hPa; spec §4.5 requires "pressure converted Pa→hPa
	// if needed" since seed producers vary.
	PressureInPa bool
}

// DefaultConfig matches the variable names produced by the wind_points
// iterator (u10, v10) and assumes a mean-sea-level-pressure variable
// named "msl" stored in hPa.
func DefaultConfig() Config {
	return Config{
		WindUVariable:    "u10",
		WindVVariable:    "v10",
		PressureVariable: "msl",
	}
}

const msToKnots = 1.943844

type manager struct {
	seeds seedstore.Manager
	cfg   Config
	log   zerolog.Logger
}

// NewManager constructs a TruthChecker reading predictions from seeds.
func NewManager(seeds seedstore.Manager, cfg Config, log zerolog.Logger) Manager {
	return &manager{
		seeds: seeds,
		cfg:   cfg,
		log:   log.With().Str("component", "truthchecker").Logger(),
	}
}

func (m *manager) predictedWindKts(timeIdx int, lat, lon float64) (float64, error) {
	u, err := m.seeds.Sample(m.cfg.WindUVariable, timeIdx, lat, lon)
	if err != nil {
		return 0, err
	}
	v, err := m.seeds.Sample(m.cfg.WindVVariable, timeIdx, lat, lon)
	if err != nil {
		return 0, err
	}
	speedMS := math.Sqrt(float64(u)*float64(u) + float64(v)*float64(v))
	return speedMS * msToKnots, nil
}

func (m *manager) predictedPressureHPa(timeIdx int, lat, lon float64) (float64, error) {
	p, err := m.seeds.Sample(m.cfg.PressureVariable, timeIdx, lat, lon)
	if err != nil {
		return 0, err
	}
	v := float64(p)
	if m.cfg.PressureInPa {
		v /= 100
	}
	return v, nil
}

// levelFor implements spec §4.5's threshold table.
func levelFor(windDelta, pressureDelta float64) (Level, bool) {
	isDivergent := windDelta >= 8 || pressureDelta >= 4
	switch {
	case windDelta > 15 || pressureDelta > 8:
		return LevelDisagree, isDivergent
	case windDelta < 4 && pressureDelta < 2:
		return LevelAgree, isDivergent
	default:
		return LevelPartial, isDivergent
	}
}

func (m *manager) Check(obs Observation, timeIdx int) (Report, error) {
	predictedWind, err := m.predictedWindKts(timeIdx, obs.Lat, obs.Lon)
	if err != nil {
		return Report{}, err
	}
	predictedPressure, err := m.predictedPressureHPa(timeIdx, obs.Lat, obs.Lon)
	if err != nil {
		return Report{}, err
	}

	windDelta := math.Abs(obs.WindSpeedKts - predictedWind)
	pressureDelta := math.Abs(obs.PressureHPa - predictedPressure)
	level, divergent := levelFor(windDelta, pressureDelta)

	return Report{
		Level:                level,
		WindDeltaKts:         windDelta,
		PressureDeltaHPa:     pressureDelta,
		IsDivergent:          divergent,
		TimestampMs:          obs.TimestampMs,
		PredictedPressureHPa: predictedPressure,
	}, nil
}

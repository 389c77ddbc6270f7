package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, path string, value interface{}) []byte {
	t.Helper()
	return envelopeAt(t, "", path, value)
}

func envelopeAt(t *testing.T, timestamp, path string, value interface{}) []byte {
	t.Helper()
	v, err := json.Marshal(value)
	require.NoError(t, err)
	update := map[string]interface{}{
		"values": []map[string]json.RawMessage{
			{"path": mustJSON(t, path), "value": v},
		},
	}
	if timestamp != "" {
		update["timestamp"] = timestamp
	}
	doc := map[string]interface{}{
		"updates": []map[string]interface{}{update},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func mustJSON(t *testing.T, s string) json.RawMessage {
	t.Helper()
	v, err := json.Marshal(s)
	require.NoError(t, err)
	return v
}

func TestApplyPositionAndBarometerAllowsEmit(t *testing.T) {
	m := NewManager(zerolog.Nop())

	require.NoError(t, m.Apply(envelope(t, "navigation.position", map[string]float64{
		"latitude": 10.0, "longitude": -60.0,
	})))
	_, ok := m.TryEmit()
	require.False(t, ok, "barometer not yet set")

	require.NoError(t, m.Apply(envelope(t, "environment.outside.pressure", 101325.0)))
	snap, ok := m.TryEmit()
	require.True(t, ok)

	pos, ok := snap.Position.Get()
	require.True(t, ok)
	require.Equal(t, Position{Lat: 10.0, Lon: -60.0}, pos)

	baro, ok := snap.BarometerHPa.Get()
	require.True(t, ok)
	require.InDelta(t, 1013.25, baro, 1e-9)
}

func TestApplyIdempotentSecondEmitIsByteIdentical(t *testing.T) {
	m := NewManager(zerolog.Nop())
	delta := envelope(t, "environment.outside.pressure", 100000.0)

	require.NoError(t, m.Apply(envelope(t, "navigation.position", map[string]float64{
		"latitude": 1, "longitude": 2,
	})))
	require.NoError(t, m.Apply(delta))
	first, ok := m.TryEmit()
	require.True(t, ok)

	require.NoError(t, m.Apply(delta))
	second, ok := m.TryEmit()
	require.True(t, ok)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, string(firstJSON), string(secondJSON))
}

// The emitted TimestampMs and pressure trend must derive from the
// envelope's own timestamp, not time.Now(): applying the identical
// envelope twice, with real wall-clock time elapsing in between,
// still yields a byte-identical second emit.
func TestApplyUsesEnvelopeTimestampNotWallClock(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelopeAt(t, "2026-01-01T00:00:00Z", "navigation.position", map[string]float64{
		"latitude": 1, "longitude": 2,
	})))

	delta := envelopeAt(t, "2026-01-01T00:00:05Z", "environment.outside.pressure", 100000.0)
	require.NoError(t, m.Apply(delta))
	first, ok := m.TryEmit()
	require.True(t, ok)
	require.Equal(t, int64(1767225605000), first.TimestampMs)

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, m.Apply(delta))
	second, ok := m.TryEmit()
	require.True(t, ok)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	require.JSONEq(t, string(firstJSON), string(secondJSON))
}

func TestSpeedAndHeadingUnitConversion(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "navigation.speedOverGround", 5.0)))
	require.NoError(t, m.Apply(envelope(t, "navigation.headingTrue", 1.5707963267948966))) // pi/2

	snap := m.Current()
	sog, ok := snap.SogKts.Get()
	require.True(t, ok)
	require.InDelta(t, 5.0*1.943844, sog, 1e-6)

	hdg, ok := snap.HeadingDegTrue.Get()
	require.True(t, ok)
	require.InDelta(t, 90.0, hdg, 1e-6)
}

func TestTemperatureAndHumidityConversion(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "environment.outside.temperature", 300.15)))
	require.NoError(t, m.Apply(envelope(t, "environment.outside.humidity", 0.42)))

	snap := m.Current()
	tempC, ok := snap.TemperatureC.Get()
	require.True(t, ok)
	require.InDelta(t, 27.0, tempC, 1e-9)

	humidity, ok := snap.HumidityPct.Get()
	require.True(t, ok)
	require.InDelta(t, 42.0, humidity, 1e-9)
}

func TestWaterReferencedWindAnglePreferredOverGround(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "environment.wind.angleTrueWater", 1.0)))
	require.NoError(t, m.Apply(envelope(t, "environment.wind.angleTrueGround", 2.0)))

	snap := m.Current()
	angle, ok := snap.TrueWindAngleDeg.Get()
	require.True(t, ok)
	require.InDelta(t, 1.0*radToDeg, angle, 1e-6)
}

func TestGroundReferencedWindAngleUsedWhenWaterAbsent(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "environment.wind.angleTrueGround", 2.0)))

	snap := m.Current()
	angle, ok := snap.TrueWindAngleDeg.Get()
	require.True(t, ok)
	require.InDelta(t, 2.0*radToDeg, angle, 1e-6)
}

func TestTrueWindDerivedFromU10V10Components(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "environment.wind.u10", 3.0)))
	require.NoError(t, m.Apply(envelope(t, "environment.wind.v10", 4.0)))

	snap := m.Current()
	speed, ok := snap.TrueWindSpeedKts.Get()
	require.True(t, ok)
	require.InDelta(t, 5.0*1.943844, speed, 1e-6)

	angle, ok := snap.TrueWindAngleDeg.Get()
	require.True(t, ok)
	require.GreaterOrEqual(t, angle, 0.0)
	require.Less(t, angle, 360.0)
}

func TestPressureSmoothingUsesMedianOfFive(t *testing.T) {
	m := NewManager(zerolog.Nop())
	readings := []float64{101000, 101500, 100000, 102000, 101200}
	for _, r := range readings {
		require.NoError(t, m.Apply(envelope(t, "environment.outside.pressure", r)))
	}
	snap := m.Current()
	baro, ok := snap.BarometerHPa.Get()
	require.True(t, ok)
	// median of [1010,1015,1000,1020,1012] hPa is 1012
	require.InDelta(t, 1012.0, baro, 1e-9)
}

func TestCurrentWithoutSufficientDataHasNoEmit(t *testing.T) {
	m := NewManager(zerolog.Nop())
	require.NoError(t, m.Apply(envelope(t, "environment.outside.humidity", 0.5)))
	_, ok := m.TryEmit()
	require.False(t, ok)
}

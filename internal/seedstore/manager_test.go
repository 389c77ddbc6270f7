package seedstore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/marinersgrid/marinegrid/pkg/seedcodec"
)

func fixtureSeed(t *testing.T) []byte {
	t.Helper()

	lats := []float32{10, 11, 12}
	lons := []float32{-70, -69}
	steps := []int64{0, 3600_000, 7200_000}
	count := len(lats) * len(lons) * len(steps)

	qdata := make([]int16, count)
	for i := range qdata {
		qdata[i] = int16(i - count/2)
	}

	seed := &seedcodec.Seed{
		SeedID:              "seed-001",
		ModelSource:         "ECMWF-AIFS-28km",
		ForecastStartTimeMs: 1_700_000_000_000,
		TimeStepsMs:         steps,
		Lats:                lats,
		Lons:                lons,
		Variables: map[string]seedcodec.Variable{
			"u10": {Name: "u10", Encoding: seedcodec.EncodingQuantized, Scale: 0.01, Offset: 0, QData: qdata},
			"v10": {Name: "v10", Encoding: seedcodec.EncodingRaw, Values: make([]float32, count)},
		},
	}

	raw, err := seedcodec.Encode(seed)
	require.NoError(t, err)
	return raw
}

func newTestManager(t *testing.T) Manager {
	t.Helper()
	return NewManager(DefaultFreshnessThresholds(), zerolog.Nop())
}

func TestOpenAndListVariables(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	vars := mgr.ListVariables()
	require.ElementsMatch(t, []string{"u10", "v10"}, vars)
}

func TestSampleDequantizes(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	val, err := mgr.Sample("u10", 0, 11, -70)
	require.NoError(t, err)
	// flat index = 0*(3*2) + latIdx(1)*2 + lonIdx(0) = 2; qdata[2] = 2-9 = -7; -7*0.01 = -0.07
	require.InDelta(t, -0.07, val, 1e-6)
}

func TestSampleUnknownVariable(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	_, err := mgr.Sample("nope", 0, 11, -70)
	require.ErrorIs(t, err, OutOfRange)
}

func TestTimestepIndexForTiesBreakEarly(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	// steps are 0, 3600000, 7200000ms; 1800000 is equidistant from 0 and 3600000
	idx, err := mgr.TimestepIndexFor(1_800_000)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

func TestWindPointsOneTuplePerCell(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	pts, err := mgr.WindPoints(1)
	require.NoError(t, err)
	require.Len(t, pts, 3*2) // 3 lats * 2 lons
	for _, p := range pts {
		require.Equal(t, int64(3_600_000), p.TimestampMs)
	}
}

func TestFreshnessBucketsMonotonic(t *testing.T) {
	mgr := newTestManager(t)
	raw := fixtureSeed(t)
	require.NoError(t, mgr.Open(raw))

	start, ok := mgr.ForecastStartTime()
	require.True(t, ok)

	require.Equal(t, FreshnessFresh, mgr.FreshnessBucket(start.Add(1*time.Hour)))
	require.Equal(t, FreshnessStale, mgr.FreshnessBucket(start.Add(7*time.Hour)))
	require.Equal(t, FreshnessExpired, mgr.FreshnessBucket(start.Add(13*time.Hour)))
}

func TestDecodeErrorKeepsPreviousHandle(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.Open(fixtureSeed(t)))

	id, _ := mgr.SeedID()

	err := mgr.Open([]byte("not a seed"))
	require.Error(t, err)

	stillID, ok := mgr.SeedID()
	require.True(t, ok)
	require.Equal(t, id, stillID)
}

// Round-trip fidelity property from spec §8: for every sampled cell,
// |round_trip - original| <= 0.5 * scale.
func TestQuantizedRoundTripFidelity(t *testing.T) {
	lats := []float32{0}
	lons := []float32{0}
	steps := []int64{0, 1000, 2000, 3000, 4000}
	scale := float32(0.01)

	original := []float32{-30, -15.5, 0, 15.5, 30}
	qdata := make([]int16, len(original))
	for i, o := range original {
		qdata[i] = int16(o / scale)
	}

	seed := &seedcodec.Seed{
		SeedID: "rt", ModelSource: "test", TimeStepsMs: steps, Lats: lats, Lons: lons,
		Variables: map[string]seedcodec.Variable{
			"u10": {Name: "u10", Encoding: seedcodec.EncodingQuantized, Scale: scale, QData: qdata},
		},
	}
	raw, err := seedcodec.Encode(seed)
	require.NoError(t, err)

	decoded, err := seedcodec.Decode(raw)
	require.NoError(t, err)

	v := decoded.Variables["u10"]
	for i, o := range original {
		got := v.At(i)
		require.InDelta(t, float64(o), float64(got), float64(0.5*scale))
	}
}

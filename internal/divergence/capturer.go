package divergence

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// randRead is overridable in tests so anonymization determinism can be
// verified without relying on actual entropy.
var randRead = rand.Read

type manager struct {
	store      SnapshotStore
	outbox     OutboxEnqueuer
	appVersion string
	log        zerolog.Logger
}

// Config configures a DivergenceCapturer.
type Config struct {
	AppVersion string
}

// NewManager constructs a DivergenceCapturer. store and outbox must
// both be non-nil; every captured snapshot is written to store and
// enqueued to outbox, per spec §4.7's persistence contract.
func NewManager(store SnapshotStore, outbox OutboxEnqueuer, cfg Config, log zerolog.Logger) Manager {
	return &manager{
		store:      store,
		outbox:     outbox,
		appVersion: cfg.AppVersion,
		log:        log.With().Str("component", "divergence").Logger(),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// snapshotID implements spec §4.7's anonymization scheme:
// "snap_" + first-16-hex(SHA-256(minute_bucket || round(lat*10) ||
// round(lon*10) || 16-byte random)).
func snapshotID(capturedAtUnixSec int64, lat, lon float64) (string, error) {
	minuteBucket := capturedAtUnixSec / 60
	roundedLat10 := int32(math.Round(lat * 10))
	roundedLon10 := int32(math.Round(lon * 10))

	var random [16]byte
	if _, err := randRead(random[:]); err != nil {
		return "", err
	}

	buf := make([]byte, 0, 8+4+4+16)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(minuteBucket))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(roundedLat10))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(roundedLon10))
	buf = append(buf, random[:]...)

	sum := sha256.Sum256(buf)
	return "snap_" + hex.EncodeToString(sum[:8]), nil
}

// regionFor implements spec §4.7's "fixed decision tree" mapping
// rounded lat/lon into one of the named ocean regions. Boundaries are
// not spec-mandated beyond the name list; these are a reasonable,
// deterministic, order-sensitive approximation documented as a
// resolved open question.
func regionFor(lat, lon float64) string {
	switch {
	case lat <= -50:
		return "Southern Ocean"
	case lat >= 8 && lat <= 23 && lon >= -90 && lon <= -60:
		return "Caribbean"
	case lat >= 25 && lat <= 45 && lon >= -80 && lon <= -50:
		return "Gulf Stream"
	case lat >= -10 && lat <= 10 && (lon >= 140 || lon <= -80):
		return "Tropical Pacific"
	case lat >= 0 && lat <= 70 && lon >= -80 && lon <= 20:
		return "North Atlantic"
	case lat >= 0 && lat <= 65 && (lon >= 120 || lon <= -100):
		return "North Pacific"
	default:
		return "Open Ocean"
	}
}

// severityFor implements spec §4.7's severity bands.
func severityFor(windErrorKts, pressureErrorHPa float64) Severity {
	switch {
	case windErrorKts >= 25 || pressureErrorHPa >= 15:
		return SeverityCritical
	case windErrorKts >= 15 || pressureErrorHPa >= 10:
		return SeveritySevere
	case windErrorKts >= 8 || pressureErrorHPa >= 5:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

func (m *manager) Capture(in Input) (Snapshot, error) {
	observedWindKts := in.Observation.TrueWindSpeedKts.OrElse(0)
	observedWindDir := in.Observation.TrueWindAngleDeg.OrElse(0)
	observedPressure := in.Observation.BarometerHPa.OrElse(0)

	windError := math.Abs(observedWindKts - in.Prediction.PredictedWindKts)
	pressureError := math.Abs(observedPressure - in.Prediction.PredictedPressureHPa)

	id, err := snapshotID(in.CapturedAt.Unix(), in.Lat, in.Lon)
	if err != nil {
		return Snapshot{}, fmt.Errorf("divergence: generate snapshot id: %w", err)
	}

	snap := Snapshot{
		SnapshotID:    id,
		CapturedAtISO: in.CapturedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LocationLat:   round1(in.Lat),
		LocationLon:   round1(in.Lon),
		Region:        regionFor(round1(in.Lat), round1(in.Lon)),
		Observed: Observed{
			PressureHPa:  observedPressure,
			WindSpeedKts: observedWindKts,
			WindDirDeg:   observedWindDir,
		},
		Predicted: in.Prediction,
		Metrics: Metrics{
			WindErrorKts:     windError,
			PressureErrorHPa: pressureError,
			Severity:         severityFor(windError, pressureError),
		},
		Embedding:      in.Embedding,
		MatchedPattern: in.MatchedPattern,
		Metadata: Metadata{
			ConsensusLevel: in.ConsensusLevel,
			DataQuality:    in.DataQuality,
			SensorSources:  in.SensorSources,
			AppVersion:     m.appVersion,
		},
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("divergence: marshal snapshot: %w", err)
	}
	if err := m.store.WriteSnapshot(snap.SnapshotID, payload); err != nil {
		return Snapshot{}, fmt.Errorf("divergence: write snapshot: %w", err)
	}
	if err := m.outbox.Enqueue(snap.SnapshotID, payload); err != nil {
		return Snapshot{}, fmt.Errorf("divergence: enqueue outbox entry: %w", err)
	}

	m.log.Info().
		Str("snapshot_id", snap.SnapshotID).
		Str("severity", string(snap.Metrics.Severity)).
		Str("region", snap.Region).
		Msg("captured divergence snapshot")

	return snap, nil
}

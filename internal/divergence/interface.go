// Package divergence implements DivergenceCapturer (spec §4.7):
// packaging a confirmed observation/prediction disagreement into an
// anonymized, immutable DivergenceSnapshot and handing it to the
// upload outbox.
package divergence

import (
	"time"

	"github.com/marinersgrid/marinegrid/internal/telemetry"
	"github.com/marinersgrid/marinegrid/pkg/atmovector"
)

// Severity is DivergenceSnapshot.divergence_metrics.severity per spec §4.7.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityCritical Severity = "critical"
)

// DataQuality is DivergenceSnapshot.metadata.data_quality per spec §3.
type DataQuality string

const (
	DataQualityHigh   DataQuality = "high"
	DataQualityMedium DataQuality = "medium"
	DataQualityLow    DataQuality = "low"
)

// Prediction is the predicted side of a DivergenceSnapshot.
type Prediction struct {
	ModelSource          string
	ModelRunTimeMs       int64
	ValidTimeMs          int64
	PredictedWindKts     float64
	PredictedPressureHPa float64
	Confidence           float64
}

// MatchedPattern optionally links the snapshot to the pattern that
// triggered the alert, if any.
type MatchedPattern struct {
	PatternID  string
	Label      string
	Similarity float64
}

// Observed is the observed side of a DivergenceSnapshot.
type Observed struct {
	PressureHPa  float64
	WindSpeedKts float64
	WindDirDeg   float64
}

// Metrics is DivergenceSnapshot.divergence_metrics.
type Metrics struct {
	WindErrorKts     float64
	PressureErrorHPa float64
	Severity         Severity
}

// Metadata is DivergenceSnapshot.metadata.
type Metadata struct {
	ConsensusLevel string
	DataQuality    DataQuality
	SensorSources  []string
	AppVersion     string
}

// Snapshot is the DivergenceSnapshot of spec §3/§4.7.
type Snapshot struct {
	SnapshotID     string
	CapturedAtISO  string
	LocationLat    float64
	LocationLon    float64
	Region         string
	Observed       Observed
	Predicted      Prediction
	Metrics        Metrics
	Embedding      atmovector.Vector
	MatchedPattern *MatchedPattern
	Metadata       Metadata
}

// Input bundles everything Capture needs to build a Snapshot.
type Input struct {
	CapturedAt     time.Time
	Lat, Lon       float64
	Observation    telemetry.Snapshot
	Embedding      atmovector.Vector
	ConsensusLevel string
	Prediction     Prediction
	MatchedPattern *MatchedPattern
	SensorSources  []string
	DataQuality    DataQuality
}

// SnapshotStore persists the JSON-serialized snapshot to local storage.
type SnapshotStore interface {
	WriteSnapshot(id string, data []byte) error
}

// OutboxEnqueuer hands a captured snapshot to the upload outbox.
type OutboxEnqueuer interface {
	Enqueue(snapshotID string, payload []byte) error
}

// Manager is the DivergenceCapturer contract of spec §4.7.
type Manager interface {
	Capture(in Input) (Snapshot, error)
}

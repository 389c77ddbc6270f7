// Package vectorstore implements VectorStore (spec §4.2): the catalog
// of AtmosphericPattern records, cosine-similarity search, and the
// hybrid geographic prefilter.
package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/marinersgrid/marinegrid/pkg/atmovector"
)

// ErrDegraded is returned (or wrapped) by query operations when the
// store is in degraded mode per spec §4.2.
var ErrDegraded = errors.New("vectorstore: degraded mode")

// Source enumerates AtmosphericPattern.source per spec §3.
type Source string

const (
	SourceGraphcast   Source = "graphcast"
	SourceObservation Source = "observation"
	SourceHistorical  Source = "historical"
	SourceGridFleet   Source = "grid_fleet"
	SourceGridLearned Source = "grid_learned"
)

// Pattern is an AtmosphericPattern record, per spec §3.
type Pattern struct {
	ID          string
	Embedding   atmovector.Vector
	TimestampMs int64
	Lat, Lon    float64
	Label       string
	Outcome     string
	Source      Source
}

// Hit is a query result: a Pattern plus the similarity/distance metric
// relevant to the query that produced it.
type Hit struct {
	Pattern    Pattern
	Similarity float64
	DistanceNM float64 // populated by QueryNearby
	AgeHours   float64 // populated by VibeSearch
}

// Filters narrows a VibeSearch call, per spec §4.2.
type Filters struct {
	BBoxLat, BBoxLon, BBoxRadiusDeg float64
	HasBBox                        bool
	TimeRangeStartMs, TimeRangeEndMs int64
	HasTimeRange                    bool
	Sources                          []Source
	OutcomeSubstring                 string
	Limit                             int
}

// Manager is the VectorStore contract of spec §4.2.
type Manager interface {
	// Init is idempotent; it must be safe to call repeatedly.
	Init(ctx context.Context) error

	// Put upserts a pattern by id; metadata and embedding update
	// atomically (spec §4.2 concurrency).
	Put(ctx context.Context, p Pattern) error

	// QuerySimilar returns the top-k hits with similarity >= minSimilarity.
	QuerySimilar(ctx context.Context, embedding atmovector.Vector, k int, minSimilarity float64) ([]Hit, error)

	// QueryNearby additionally prefilters to a geographic box and
	// populates DistanceNM via Haversine.
	QueryNearby(ctx context.Context, embedding atmovector.Vector, lat, lon, radiusDeg float64, k int, minSimilarity float64) ([]Hit, error)

	// VibeSearch applies arbitrary Filters and populates AgeHours.
	VibeSearch(ctx context.Context, embedding atmovector.Vector, filters Filters) ([]Hit, error)

	// Degraded reports whether the store is currently operating in
	// degraded mode (the configured SQLite store failed to open or
	// initialize). An unreachable Redis only disables the geo prefilter
	// and does not set degraded mode.
	Degraded() bool
}

// now is overridable in tests.
var now = time.Now

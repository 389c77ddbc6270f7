package patternmatcher

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/telemetry"
	"github.com/marinersgrid/marinegrid/internal/vectorstore"
	"github.com/marinersgrid/marinegrid/pkg/atmovector"
)

// DefaultCooldown is the per-pattern suppression window of spec §4.4.
const DefaultCooldown = 15 * time.Minute

// queryTopK is the top-k requested from VectorStore per ingest, per
// spec §4.4's "top-5 hits".
const queryTopK = 5

// minQuerySimilarity is the floor passed to query_similar. The spec's
// narrative text names 0.75 as the query's alert_threshold, but its own
// boundary-test property requires "similarity exactly at 0.70 is
// emitted at level caution" — unreachable if the query itself floors
// at 0.75. The boundary test is the normative, checkable requirement,
// so the query floor is set to the lowest banded level (0.70) and the
// level mapping below does the actual filtering.
const minQuerySimilarity = 0.70

// now is overridable in tests.
var now = time.Now

type manager struct {
	mu sync.Mutex

	store vectorstore.Manager

	enabledCategories map[string]bool
	cooldown          time.Duration
	lastFired         map[string]time.Time

	cache *lru.Cache[string, vectorstore.Hit]

	alerts map[string]Alert

	log zerolog.Logger
}

// Config configures a PatternMatcher instance.
type Config struct {
	// EnabledCategories lists pattern categories allowed to alert. Nil
	// or empty means all categories are enabled.
	EnabledCategories []string
	Cooldown          time.Duration
}

// NewManager constructs a PatternMatcher backed by store. The caller is
// responsible for having seeded store with SeedPatterns() at startup.
func NewManager(store vectorstore.Manager, cfg Config, log zerolog.Logger) Manager {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	enabled := make(map[string]bool)
	for _, c := range cfg.EnabledCategories {
		enabled[c] = true
	}
	cache, _ := lru.New[string, vectorstore.Hit](5)
	return &manager{
		store:             store,
		enabledCategories: enabled,
		cooldown:          cooldown,
		lastFired:         make(map[string]time.Time),
		cache:             cache,
		alerts:            make(map[string]Alert),
		log:               log.With().Str("component", "patternmatcher").Logger(),
	}
}

func (m *manager) categoryEnabled(category string) bool {
	if len(m.enabledCategories) == 0 {
		return true
	}
	return m.enabledCategories[category]
}

// levelForSimilarity implements spec §4.4's similarity-band table.
// Thresholds are inclusive at their lower bound.
func levelForSimilarity(s float64) (AlertLevel, bool) {
	switch {
	case s >= 0.95:
		return LevelEmergency, true
	case s >= 0.88:
		return LevelDanger, true
	case s >= 0.80:
		return LevelWarning, true
	case s >= 0.70:
		return LevelCaution, true
	default:
		return LevelInfo, false
	}
}

func (m *manager) Ingest(snapshot telemetry.Snapshot) (Alert, bool) {
	embedding := EmbedSnapshot(snapshot)

	ctx := context.Background()
	hits, err := m.store.QuerySimilar(ctx, embedding, queryTopK, minQuerySimilarity)
	if err != nil || len(hits) == 0 {
		return Alert{}, false
	}
	best := hits[0]

	entry, known := byID(best.Pattern.ID)
	if !known {
		return Alert{}, false
	}

	level, fires := levelForSimilarity(best.Similarity)
	if !fires {
		return Alert{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.categoryEnabled(entry.Category) {
		return Alert{}, false
	}
	if m.cache != nil {
		m.cache.Add(entry.ID, best)
	}
	if last, ok := m.lastFired[entry.ID]; ok && now().Sub(last) < m.cooldown {
		return Alert{}, false
	}

	alert := Alert{
		ID:    fmt.Sprintf("%s-%d", entry.ID, now().UnixNano()),
		Level: level,
		Title: entry.Label,
		Description: fmt.Sprintf(
			"current conditions match %s (similarity %.2f)", entry.Label, best.Similarity,
		),
		MatchedPattern: MatchedPattern{
			PatternID:  entry.ID,
			Label:      entry.Label,
			Similarity: best.Similarity,
		},
		CurrentConditions: snapshot,
		TimestampMs:       snapshot.TimestampMs,
		Recommendations:   entry.Recommendations,
		EstimatedOnset:    entry.EstimatedOnset,
	}
	m.lastFired[entry.ID] = now()
	m.alerts[alert.ID] = alert
	return alert, true
}

func (m *manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

func (m *manager) Acknowledge(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.alerts[alertID]; ok {
		a.Acknowledged = true
		m.alerts[alertID] = a
	}
}

// EmbedSnapshot converts a TelemetrySnapshot into an AtmosphericVector,
// per spec §4.4: PatternMatcher owns this conversion so the same
// embedding seeds VectorStore queries and downstream consumers
// (DivergenceCapturer reuses this exact function rather than
// re-deriving the formula).
func EmbedSnapshot(s telemetry.Snapshot) atmovector.Vector {
	var in atmovector.Inputs
	in.TemperatureC = s.TemperatureC.OrElse(0)
	in.PressureHPa = s.BarometerHPa.OrElse(1013)
	in.HumidityPct = s.HumidityPct.OrElse(0)
	in.PressureTrendHr = s.PressureTrendHPaPerHr.OrElse(0)
	in.WaveHeightM = s.WaveHeightM.OrElse(0)
	in.WavePeriodS = s.WavePeriodS.OrElse(0)

	if speed, ok := s.TrueWindSpeedKts.Get(); ok {
		angle := s.TrueWindAngleDeg.OrElse(0)
		ms := speed / 1.943844
		rad := angle * (math.Pi / 180)
		in.WindUms = ms * math.Sin(rad)
		in.WindVms = ms * math.Cos(rad)
	}
	return atmovector.Build(in)
}

package vectorstore

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/marinersgrid/marinegrid/pkg/atmovector"
	"github.com/marinersgrid/marinegrid/pkg/geo"
)

const geoIndexKey = "marinegrid:patterns:geo"

// kmPerDegree is the rough equatorial conversion used only to size the
// Redis GEOSEARCH candidate box; the final box membership test always
// re-checks the exact spec §4.2 rectangle in Go, so this approximation
// can never make a result incorrect, only make the candidate set
// slightly larger or smaller than ideal.
const kmPerDegree = 111.0

// querySoftDeadline bounds the in-process similarity scan of every
// query method, per spec §4.2's "soft deadline of 200ms on-device;
// exceeded queries return partial results ordered by similarity as
// computed": once the deadline passes, the scan stops early rather
// than blocking until every candidate is scored, and the hits
// collected so far are sorted and returned exactly as if the scan had
// been deliberately limited to that subset.
const querySoftDeadline = 200 * time.Millisecond

// manager implements Manager with an in-memory index of record, a
// modernc.org/sqlite durable store for Put persistence, and an
// optional Redis geo secondary index accelerating QueryNearby /
// VibeSearch bounding-box prefilters. Reads are concurrent; all
// mutation is serialized under mu, per spec §4.2 concurrency.
type manager struct {
	mu      sync.RWMutex
	cfg     Config
	byID    map[string]Pattern
	db      *sql.DB
	rdb     *redis.Client
	dbOK    bool
	redisOK bool
	log     zerolog.Logger
}

// Config configures the VectorStore's backing stores.
type Config struct {
	SQLiteDSN string // e.g. "file:vectorstore.db?cache=shared" or ":memory:"
	RedisAddr string // empty disables Redis entirely
}

// NewManager constructs a VectorStore. Init must be called before use.
func NewManager(cfg Config, log zerolog.Logger) Manager {
	return &manager{
		cfg:  cfg,
		byID: make(map[string]Pattern),
		log:  log.With().Str("component", "vectorstore").Logger(),
	}
}

func (m *manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.SQLiteDSN != "" {
		db, err := sql.Open("sqlite", m.cfg.SQLiteDSN)
		if err != nil {
			m.log.Warn().Err(err).Msg("sqlite open failed, entering degraded mode")
			m.dbOK = false
		} else if err := db.PingContext(ctx); err != nil {
			m.log.Warn().Err(err).Msg("sqlite ping failed, entering degraded mode")
			m.dbOK = false
		} else if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
			m.log.Warn().Err(err).Msg("sqlite schema init failed, entering degraded mode")
			m.dbOK = false
		} else {
			m.db = db
			m.dbOK = true
			if err := m.loadAllLocked(ctx); err != nil {
				m.log.Warn().Err(err).Msg("loading existing patterns failed")
			}
		}
	}

	if m.cfg.RedisAddr != "" {
		m.rdb = redis.NewClient(&redis.Options{Addr: m.cfg.RedisAddr})
		if err := m.rdb.Ping(ctx).Err(); err != nil {
			m.log.Warn().Err(err).Msg("redis unreachable, geo prefilter will fall back to full scan")
			m.redisOK = false
		} else {
			m.redisOK = true
		}
	}

	return nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	embedding BLOB NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT ''
)`

func (m *manager) loadAllLocked(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `SELECT id, embedding, timestamp_ms, lat, lon, label, outcome, source FROM patterns`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, label, outcome, source string
			emb                        []byte
			tsMs                       int64
			lat, lon                   float64
		)
		if err := rows.Scan(&id, &emb, &tsMs, &lat, &lon, &label, &outcome, &source); err != nil {
			return err
		}
		vec, ok := decodeEmbedding(emb)
		if !ok {
			continue
		}
		m.byID[id] = Pattern{
			ID: id, Embedding: vec, TimestampMs: tsMs, Lat: lat, Lon: lon,
			Label: label, Outcome: outcome, Source: Source(source),
		}
	}
	return rows.Err()
}

func encodeEmbedding(v atmovector.Vector) []byte {
	out := make([]byte, atmovector.Dims*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeEmbedding(b []byte) (atmovector.Vector, bool) {
	var v atmovector.Vector
	if len(b) != atmovector.Dims*4 {
		return v, false
	}
	for i := 0; i < atmovector.Dims; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v, true
}

func (m *manager) Put(ctx context.Context, p Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[p.ID] = p

	if m.dbOK {
		emb := encodeEmbedding(p.Embedding)
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO patterns (id, embedding, timestamp_ms, lat, lon, label, outcome, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				embedding=excluded.embedding, timestamp_ms=excluded.timestamp_ms,
				lat=excluded.lat, lon=excluded.lon, label=excluded.label,
				outcome=excluded.outcome, source=excluded.source`,
			p.ID, emb, p.TimestampMs, p.Lat, p.Lon, p.Label, p.Outcome, string(p.Source))
		if err != nil {
			m.log.Warn().Err(err).Str("pattern_id", p.ID).Msg("sqlite write failed")
		}
	}

	if m.redisOK {
		if err := m.rdb.GeoAdd(ctx, geoIndexKey, &redis.GeoLocation{Name: p.ID, Longitude: p.Lon, Latitude: p.Lat}).Err(); err != nil {
			m.log.Warn().Err(err).Str("pattern_id", p.ID).Msg("redis geo index write failed")
		}
	}

	return nil
}

func (m *manager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degradedLocked()
}

func (m *manager) degradedLocked() bool {
	return m.cfg.SQLiteDSN != "" && !m.dbOK
}

// candidateIDsInBox returns the ids of patterns inside the box,
// preferring the Redis geo index (cheaper than a full scan) and
// falling back to scanning byID directly when Redis is unavailable.
// Either way, membership is re-verified against the exact box before
// use, so the result is correct regardless of which path ran.
func (m *manager) candidateIDsInBox(ctx context.Context, box geo.BoundingBox) []string {
	if m.redisOK {
		lat := (box.MinLat + box.MaxLat) / 2
		lon := (box.MinLon + box.MaxLon) / 2
		widthKm := (box.MaxLon - box.MinLon) * kmPerDegree
		heightKm := (box.MaxLat - box.MinLat) * kmPerDegree
		if widthKm > 0 && heightKm > 0 {
			res, err := m.rdb.GeoSearch(ctx, geoIndexKey, &redis.GeoSearchQuery{
				Longitude: lon, Latitude: lat,
				BoxWidth: widthKm, BoxHeight: heightKm, BoxUnit: "km",
			}).Result()
			if err == nil {
				return res
			}
			m.log.Warn().Err(err).Msg("redis geosearch failed, falling back to full scan")
		}
	}
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	return ids
}

func (m *manager) QuerySimilar(ctx context.Context, embedding atmovector.Vector, k int, minSimilarity float64) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.degradedLocked() {
		return nil, ErrDegraded
	}

	deadline := now().Add(querySoftDeadline)
	maxDistance := 1 - minSimilarity
	hits := make([]Hit, 0, len(m.byID))
	for _, p := range m.byID {
		if now().After(deadline) {
			m.log.Warn().Msg("query_similar soft deadline exceeded, returning partial results")
			break
		}
		sim := atmovector.CosineSimilarity(embedding, p.Embedding)
		dist := 1 - sim
		if dist > maxDistance {
			continue
		}
		hits = append(hits, Hit{Pattern: p, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *manager) QueryNearby(ctx context.Context, embedding atmovector.Vector, lat, lon, radiusDeg float64, k int, minSimilarity float64) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.degradedLocked() {
		return nil, ErrDegraded
	}

	box := geo.NewBoundingBox(lat, lon, radiusDeg)
	maxDistance := 1 - minSimilarity

	ids := m.candidateIDsInBox(ctx, box)
	deadline := now().Add(querySoftDeadline)
	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		if now().After(deadline) {
			m.log.Warn().Msg("query_nearby soft deadline exceeded, returning partial results")
			break
		}
		p, ok := m.byID[id]
		if !ok || !box.Contains(p.Lat, p.Lon) {
			continue
		}
		sim := atmovector.CosineSimilarity(embedding, p.Embedding)
		dist := 1 - sim
		if dist > maxDistance {
			continue
		}
		hits = append(hits, Hit{
			Pattern:    p,
			Similarity: sim,
			DistanceNM: geo.HaversineNM(lat, lon, p.Lat, p.Lon),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *manager) VibeSearch(ctx context.Context, embedding atmovector.Vector, filters Filters) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.degradedLocked() {
		return nil, ErrDegraded
	}

	var candidates []string
	if filters.HasBBox {
		box := geo.NewBoundingBox(filters.BBoxLat, filters.BBoxLon, filters.BBoxRadiusDeg)
		candidates = m.candidateIDsInBox(ctx, box)
	} else {
		candidates = make([]string, 0, len(m.byID))
		for id := range m.byID {
			candidates = append(candidates, id)
		}
	}

	sourceSet := make(map[Source]bool, len(filters.Sources))
	for _, s := range filters.Sources {
		sourceSet[s] = true
	}

	nowMs := now().UnixMilli()
	deadline := now().Add(querySoftDeadline)
	hits := make([]Hit, 0, len(candidates))
	for _, id := range candidates {
		if now().After(deadline) {
			m.log.Warn().Msg("vibe_search soft deadline exceeded, returning partial results")
			break
		}
		p, ok := m.byID[id]
		if !ok {
			continue
		}
		if filters.HasBBox {
			box := geo.NewBoundingBox(filters.BBoxLat, filters.BBoxLon, filters.BBoxRadiusDeg)
			if !box.Contains(p.Lat, p.Lon) {
				continue
			}
		}
		if filters.HasTimeRange && (p.TimestampMs < filters.TimeRangeStartMs || p.TimestampMs > filters.TimeRangeEndMs) {
			continue
		}
		if len(sourceSet) > 0 && !sourceSet[p.Source] {
			continue
		}
		if filters.OutcomeSubstring != "" && !strings.Contains(strings.ToLower(p.Outcome), strings.ToLower(filters.OutcomeSubstring)) {
			continue
		}
		sim := atmovector.CosineSimilarity(embedding, p.Embedding)
		hits = append(hits, Hit{
			Pattern:    p,
			Similarity: sim,
			AgeHours:   float64(nowMs-p.TimestampMs) / float64(time.Hour/time.Millisecond),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if filters.Limit > 0 && len(hits) > filters.Limit {
		hits = hits[:filters.Limit]
	}
	return hits, nil
}

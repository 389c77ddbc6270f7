package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/marinersgrid/marinegrid/internal/emergency"
	"github.com/marinersgrid/marinegrid/internal/outbox"
)

// debugState is the /debug/state response body: the current
// EmergencyState plus outbox counts, per SPEC_FULL.md §6's operational
// surface.
type debugState struct {
	Phase            string   `json:"phase"`
	Reason           string   `json:"reason"`
	SeverityScore    int      `json:"severity_score"`
	TrendDirection   string   `json:"trend_direction"`
	PollingRateHz    float64  `json:"polling_rate_hz"`
	SuspendedTaskIDs []string `json:"suspended_task_ids"`
	OutboxPending    int      `json:"outbox_pending"`
}

// requestIDMiddleware stamps every request with a google/uuid
// correlation id: the one ambient, never-leaves-the-device identifier
// the HTTP surface needs, distinct from the intentionally anonymized
// divergence snapshot_id (§4.7 uses SHA-256, deliberately not uuid).
func requestIDMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			w.Header().Set("X-Request-Id", reqID)
			next.ServeHTTP(w, req)
			log.Debug().
				Str("request_id", reqID).
				Str("path", req.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func newRouter(em emergency.Manager, ob outbox.Manager, reg *prometheus.Registry, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		state := em.Current()

		body := debugState{
			Phase:            string(state.Phase),
			Reason:           string(state.Reason),
			SeverityScore:    state.SeverityScore,
			TrendDirection:   string(state.TrendDirection),
			PollingRateHz:    state.PollingRateHz,
			SuspendedTaskIDs: state.SuspendedTaskIDs,
		}
		if ob != nil {
			if entries, err := ob.Pending(1 << 20); err == nil {
				body.OutboxPending = len(entries)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})

	return r
}

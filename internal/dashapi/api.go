// Package dashapi serves the dashboard read API (risk overview, risk
// signals, single events) plus article submission and dead-letter listing.
package dashapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/conflictwatch/internal/aggregate"
	"github.com/linnemanlabs/conflictwatch/internal/event"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Overview supplies the materialized aggregate snapshot.
type Overview interface {
	Snapshot() *aggregate.Snapshot
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger      log.Logger
	store       event.Store
	overview    Overview
	publisher   ingest.Publisher
	deadLetters ingest.DeadLetterLister
}

// New creates the API. publisher and deadLetters may be nil, in which case
// the endpoints that need them answer 503.
func New(logger log.Logger, store event.Store, overview Overview, publisher ingest.Publisher, deadLetters ingest.DeadLetterLister) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		panic(xerrors.New("event store is required"))
	}
	if overview == nil {
		panic(xerrors.New("overview is required"))
	}
	return &API{
		logger:      logger,
		store:       store,
		overview:    overview,
		publisher:   publisher,
		deadLetters: deadLetters,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/risk-overview", a.handleRiskOverview)
		r.Get("/risk-signals", a.handleRiskSignals)
		r.Get("/events/{fingerprint}", a.handleGetEvent)
		r.Post("/articles", a.handleSubmitArticle)
		r.Get("/dead-letters", a.handleDeadLetters)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit=, applying the default and clamping to MaxLimit.
func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, MaxLimit), true
}

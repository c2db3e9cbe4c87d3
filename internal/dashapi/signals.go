package dashapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

// Signal is an event as served to the dashboard, with its risk tier.
type Signal struct {
	*event.Event
	RiskLevel event.RiskLevel `json:"risk_level"`
}

func toSignal(e *event.Event) Signal {
	return Signal{Event: e, RiskLevel: e.Level()}
}

func (a *API) handleRiskOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.overview.Snapshot())
}

func (a *API) handleRiskSignals(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	state := strings.TrimSpace(r.URL.Query().Get("state"))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("conflictwatch.limit", limit))

	var (
		events []*event.Event
		err    error
	)
	if state != "" {
		span.SetAttributes(attribute.String("conflictwatch.state", state))
		events, err = a.store.ListByState(r.Context(), state, limit)
	} else {
		events, err = a.store.ListRecent(r.Context(), limit)
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list events", "state", state)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	out := make([]Signal, 0, len(events))
	for _, e := range events {
		out = append(out, toSignal(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("conflictwatch.fingerprint", fp))

	e, ok, err := a.store.GetByFingerprint(r.Context(), fp)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get event", "fingerprint", fp)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("conflictwatch.risk_level", string(e.Level())))
	writeJSON(w, http.StatusOK, toSignal(e))
}

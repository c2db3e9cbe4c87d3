package dashapi

import (
	"net/http"
)

func (a *API) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if a.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, "dead-letter listing not supported")
		return
	}
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	dls, err := a.deadLetters.List(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list dead letters")
		writeError(w, http.StatusServiceUnavailable, "dead-letter queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, dls)
}

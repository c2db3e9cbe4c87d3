package dashapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/article"
)

// SubmitResponse is returned for an accepted article.
type SubmitResponse struct {
	ContentFingerprint string `json:"content_fingerprint"`
}

func (a *API) handleSubmitArticle(w http.ResponseWriter, r *http.Request) {
	if a.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "article queue not configured")
		return
	}

	var art article.RawArticle
	if err := json.NewDecoder(r.Body).Decode(&art); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := art.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if art.FetchedAt.IsZero() {
		art.FetchedAt = time.Now().UTC()
	}

	fp := art.Fingerprint()
	if err := a.publisher.Publish(r.Context(), &art); err != nil {
		a.logger.Error(r.Context(), err, "failed to enqueue article", "fingerprint", fp)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	a.logger.Info(r.Context(), "article enqueued", "fingerprint", fp, "source_url", art.SourceURL)
	writeJSON(w, http.StatusAccepted, SubmitResponse{ContentFingerprint: fp})
}

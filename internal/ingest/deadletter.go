package ingest

import (
	"context"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/article"
)

// Dead-letter reasons.
const (
	ReasonInvalidPayload    = "invalid_payload"
	ReasonMalformedResponse = "malformed_response"
	ReasonTimeout           = "timeout"
	ReasonProvider          = "provider_error"
	ReasonStore             = "store_error"
	ReasonFreshness         = "freshness_error"
)

// DeadLetter is a message that will not be processed again automatically.
type DeadLetter struct {
	ID          string              `json:"id"`
	Reason      string              `json:"reason"`
	Error       string              `json:"error"`
	Fingerprint string              `json:"content_fingerprint,omitempty"`
	Article     *article.RawArticle `json:"article,omitempty"`

	// Payload is the undecodable message body, set only for invalid payloads.
	Payload string `json:"payload,omitempty"`

	// RawResponse is the last unparseable LLM reply.
	RawResponse string `json:"raw_response,omitempty"`

	Deliveries  int       `json:"deliveries"`
	LLMAttempts int       `json:"llm_attempts,omitempty"`
	FailedAt    time.Time `json:"failed_at"`
}

// DeadLetterSink persists dead letters.
type DeadLetterSink interface {
	Write(ctx context.Context, dl *DeadLetter) error
}

// DeadLetterLister is implemented by sinks that can read entries back.
type DeadLetterLister interface {
	List(ctx context.Context, limit int) ([]*DeadLetter, error)
}

package extract

import "fmt"

// Kind classifies why extraction failed.
type Kind string

const (
	// KindMalformedResponse means the model answered but never with a
	// parseable JSON object. Permanent: retrying the article will not help.
	KindMalformedResponse Kind = "malformed_response"

	// KindTimeout means the last attempt hit the per-call deadline.
	KindTimeout Kind = "timeout"

	// KindProvider means the provider call itself failed.
	KindProvider Kind = "provider_error"
)

// Error is returned by Engine.Extract once the attempt budget is spent.
type Error struct {
	Kind     Kind
	Attempts int

	// Raw is the last unparseable response, kept for offline review.
	Raw string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extraction failed (%s) after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether requeueing the article may succeed.
func (e *Error) Transient() bool {
	return e.Kind != KindMalformedResponse
}

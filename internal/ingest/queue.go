package ingest

import (
	"context"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/article"
)

// Delivery is one message handed to the consumer. Exactly one of Ack or
// Requeue is called per delivery.
type Delivery interface {
	Data() []byte

	// Attempt is the 1-based delivery count for this message.
	Attempt() int

	Ack(ctx context.Context) error
	Requeue(ctx context.Context, delay time.Duration) error
}

// Source yields deliveries. Fetch returns at most max deliveries and may
// return an empty batch when nothing arrives within the backend's poll window.
type Source interface {
	Fetch(ctx context.Context, max int) ([]Delivery, error)
}

// Publisher enqueues articles for processing.
type Publisher interface {
	Publish(ctx context.Context, a *article.RawArticle) error
}

// Freshness remembers recently processed fingerprints so duplicates within
// the freshness window skip the LLM call.
type Freshness interface {
	Fresh(ctx context.Context, fingerprint string) (bool, error)
	Mark(ctx context.Context, fingerprint string) error
}

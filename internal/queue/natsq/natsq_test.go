package natsq

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

func TestOptions_DeadLetterNames(t *testing.T) {
	t.Parallel()

	o := Options{Stream: "ARTICLES", Subject: "conflictwatch.articles"}

	if got := o.DeadLetterStream(); got != "ARTICLES_DLQ" {
		t.Errorf("DeadLetterStream = %q", got)
	}
	tests := map[string]string{
		"malformed_response": "dlq.conflictwatch.articles.malformed_response",
		"":                   "dlq.conflictwatch.articles.unknown",
		"a.b c>":             "dlq.conflictwatch.articles.a_b_c_",
	}
	for reason, want := range tests {
		if got := o.DeadLetterSubject(reason); got != want {
			t.Errorf("DeadLetterSubject(%q) = %q, want %q", reason, got, want)
		}
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	t.Parallel()

	got := Options{}.withDefaults()
	if got.AckWait != DefaultAckWait {
		t.Errorf("AckWait = %v, want %v", got.AckWait, DefaultAckWait)
	}
	if got.MaxAckPending != 64 {
		t.Errorf("MaxAckPending = %d, want 64", got.MaxAckPending)
	}

	if got := (Options{AckWait: time.Second}).withDefaults(); got.AckWait != DefaultAckWait {
		t.Errorf("short AckWait raised to %v, want %v", got.AckWait, DefaultAckWait)
	}

	// Long LLM timeouts need the server to wait out every attempt.
	long := ingest.SettleBudget(5 * time.Minute)
	if got := (Options{AckWait: long}).withDefaults(); got.AckWait != long {
		t.Errorf("AckWait = %v, want %v", got.AckWait, long)
	}
}

// connect runs against a real JetStream server when one is configured.
func connect(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("CONFLICTWATCH_TEST_NATS_URL")
	if url == "" {
		t.Skip("CONFLICTWATCH_TEST_NATS_URL not set, skipping integration test")
	}
	suffix := ulid.Make().String()
	o := Options{
		URL:      url,
		Stream:   "TEST_" + suffix,
		Subject:  "test." + suffix + ".articles",
		Consumer: "test-" + suffix,
	}
	ctx := context.Background()
	c, err := Connect(ctx, o, log.Nop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		_ = c.js.DeleteStream(ctx, o.Stream)
		_ = c.js.DeleteStream(ctx, o.DeadLetterStream())
		_ = c.Close()
	})
	return c
}

func TestPublishFetchAck(t *testing.T) {
	c := connect(t)
	ctx := context.Background()

	a := &article.RawArticle{Title: "Clash in Plateau", Content: "x", SourceURL: "https://example.com/1"}
	if err := c.Publish(ctx, a); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// same fingerprint inside the duplicate window
	if err := c.Publish(ctx, a); err != nil {
		t.Fatalf("Publish duplicate: %v", err)
	}

	batch, err := c.Fetch(ctx, 10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("batch len = %d, want 1", len(batch))
	}
	if batch[0].Attempt() != 1 {
		t.Errorf("Attempt = %d, want 1", batch[0].Attempt())
	}
	got, err := article.Decode(batch[0].Data())
	if err != nil || got.Title != a.Title {
		t.Fatalf("Decode = %+v, %v", got, err)
	}

	if err := batch[0].Requeue(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	again, err := c.Fetch(ctx, 10)
	if err != nil || len(again) != 1 {
		t.Fatalf("Fetch after requeue = %d, %v", len(again), err)
	}
	if again[0].Attempt() != 2 {
		t.Errorf("Attempt = %d, want 2", again[0].Attempt())
	}
	if err := again[0].Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestDeadLetters_WriteList(t *testing.T) {
	c := connect(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dl := &ingest.DeadLetter{ID: ulid.Make().String(), Reason: ingest.ReasonMalformedResponse, RawResponse: "nope"}
		if err := c.Write(ctx, dl); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got, err := c.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List len = %d, want 2", len(got))
	}
	if got[0].ID <= got[1].ID {
		t.Errorf("List not newest first: %s, %s", got[0].ID, got[1].ID)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Messages != 3 {
		t.Errorf("Stats.Messages = %d, want 3", st.Messages)
	}
}

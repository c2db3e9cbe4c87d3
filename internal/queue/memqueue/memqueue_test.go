package memqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

func TestPublishFetch(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, &article.RawArticle{Title: title, SourceURL: "https://example.com/" + title}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	batch, err := q.Fetch(ctx, 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("batch len = %d, want 2", len(batch))
	}
	a, err := article.Decode(batch[0].Data())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if a.Title != "a" || batch[0].Attempt() != 1 {
		t.Errorf("first = %q attempt %d", a.Title, batch[0].Attempt())
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestFetch_BlocksUntilCancelled(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Fetch(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRequeue_RedeliversWithNextAttempt(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()
	if err := q.PublishRaw(ctx, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	batch, _ := q.Fetch(ctx, 1)
	if err := batch[0].Requeue(ctx, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	// a second settle is ignored
	_ = batch[0].Requeue(ctx, 5*time.Millisecond)

	fctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	again, err := q.Fetch(fctx, 4)
	if err != nil {
		t.Fatalf("Fetch after requeue: %v", err)
	}
	if len(again) != 1 || again[0].Attempt() != 2 {
		t.Fatalf("redelivery = %d msgs, attempt %d", len(again), again[0].Attempt())
	}

	time.Sleep(20 * time.Millisecond)
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0 (requeue must happen once)", q.Len())
	}
}

func TestDeadLetters_NewestFirst(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		if err := q.Write(ctx, &ingest.DeadLetter{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := q.List(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Errorf("List = %v", ids(got))
	}

	all, _ := q.List(ctx, 0)
	if len(all) != 3 {
		t.Errorf("List(0) len = %d, want 3", len(all))
	}
}

func ids(dls []*ingest.DeadLetter) []string {
	var out []string
	for _, d := range dls {
		out = append(out, d.ID)
	}
	return out
}

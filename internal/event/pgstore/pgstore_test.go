package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/conflictwatch/internal/event"
	"github.com/linnemanlabs/conflictwatch/internal/event/pgstore"
	"github.com/linnemanlabs/conflictwatch/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("CONFLICTWATCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CONFLICTWATCH_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

// uniqueFP keeps tests independent when they share a database.
func uniqueFP(t *testing.T) string {
	t.Helper()
	return "test-" + ulid.Make().String()
}

func newEvent(fp, state string, x event.ExtractedFields, parsedAt time.Time) *event.Event {
	x.State = state
	f, _ := event.Validate(&x)
	return event.NewEvent(f, event.Source{Title: "title " + fp, URL: "https://example.com/" + fp, Fingerprint: fp}, parsedAt)
}

func TestUpsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fp := uniqueFP(t)
	now := time.Now().Truncate(time.Microsecond).UTC()
	e := newEvent(fp, "Plateau", event.ExtractedFields{
		EventType:            "clash",
		LGA:                  "Jos North",
		Severity:             "high",
		SentimentIntensity:   90.0,
		HateSpeechIndicators: []any{"ethnic targeting", "incitement"},
		ConflictDriver:       "Social",
	}, now)

	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.GetByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("GetByFingerprint: %v", err)
	}
	if !ok {
		t.Fatal("GetByFingerprint returned ok=false, want true")
	}

	assertEqual(t, "EventType", string(e.EventType), string(got.EventType))
	assertEqual(t, "State", e.State, got.State)
	assertEqual(t, "LGA", e.LGA, got.LGA)
	assertEqual(t, "Severity", string(e.Severity), string(got.Severity))
	assertEqual(t, "RiskScore", e.RiskScore, got.RiskScore)
	assertEqual(t, "SourceURL", e.SourceURL, got.SourceURL)
	assertEqual(t, "ParsedAt", e.ParsedAt, got.ParsedAt.UTC())

	if got.SentimentIntensity == nil || *got.SentimentIntensity != 90 {
		t.Errorf("SentimentIntensity = %v, want 90", got.SentimentIntensity)
	}
	if got.ConflictDriver == nil || *got.ConflictDriver != event.DriverSocial {
		t.Errorf("ConflictDriver = %v, want Social", got.ConflictDriver)
	}
	if len(got.HateSpeechIndicators) != 2 || got.HateSpeechIndicators[0] != "ethnic targeting" {
		t.Errorf("HateSpeechIndicators = %v", got.HateSpeechIndicators)
	}
}

func TestUpsertNullables(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fp := uniqueFP(t)
	e := newEvent(fp, "", event.ExtractedFields{}, time.Now().UTC())
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _, err := s.GetByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("GetByFingerprint: %v", err)
	}
	if got.SentimentIntensity != nil || got.ConflictDriver != nil {
		t.Errorf("nullable fields = %v/%v, want nil", got.SentimentIntensity, got.ConflictDriver)
	}
	if got.HateSpeechIndicators == nil || len(got.HateSpeechIndicators) != 0 {
		t.Errorf("HateSpeechIndicators = %#v, want empty", got.HateSpeechIndicators)
	}
	assertEqual(t, "State", event.Unknown, got.State)
}

func TestUpsertLastWriteWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fp := uniqueFP(t)
	now := time.Now().Truncate(time.Microsecond).UTC()

	first := newEvent(fp, "Kaduna", event.ExtractedFields{Severity: "low"}, now)
	second := newEvent(fp, "Benue", event.ExtractedFields{Severity: "critical"}, now.Add(time.Second))
	stale := newEvent(fp, "Lagos", event.ExtractedFields{Severity: "medium"}, now.Add(-time.Hour))

	for _, e := range []*event.Event{first, second, stale} {
		if err := s.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, _, err := s.GetByFingerprint(ctx, fp)
	if err != nil {
		t.Fatalf("GetByFingerprint: %v", err)
	}
	assertEqual(t, "State", "Benue", got.State)
	assertEqual(t, "Severity", string(event.SeverityCritical), string(got.Severity))
	assertEqual(t, "RiskScore", 90.0, got.RiskScore)
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.GetByFingerprint(context.Background(), "nonexistent-fp")
	if err != nil {
		t.Fatalf("GetByFingerprint: %v", err)
	}
	if ok {
		t.Error("GetByFingerprint returned ok=true for nonexistent fingerprint")
	}
}

func TestListByStateAndBetween(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	state := "State-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()
	older := newEvent(uniqueFP(t), state, event.ExtractedFields{Severity: "low"}, now.Add(-time.Hour))
	newer := newEvent(uniqueFP(t), state, event.ExtractedFields{Severity: "high"}, now)
	for _, e := range []*event.Event{older, newer} {
		if err := s.Upsert(ctx, e); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := s.ListByState(ctx, state, 10)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(got) != 2 || got[0].ContentFingerprint != newer.ContentFingerprint {
		t.Fatalf("ListByState returned %d events, want newest first", len(got))
	}

	between, err := s.ListBetween(ctx, now.Add(-90*time.Minute), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ListBetween: %v", err)
	}
	found := false
	for _, e := range between {
		if e.ContentFingerprint == older.ContentFingerprint {
			found = true
		}
		if e.ContentFingerprint == newer.ContentFingerprint {
			t.Error("ListBetween returned event outside range")
		}
	}
	if !found {
		t.Error("ListBetween missed event inside range")
	}
}

func TestAggregateCountsNewEvent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	since := time.Now().UTC().Add(-24 * time.Hour)
	before, err := s.Aggregate(ctx, since)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	e := newEvent(uniqueFP(t), "Borno", event.ExtractedFields{Severity: "critical"}, time.Now().UTC())
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	after, err := s.Aggregate(ctx, since)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	assertEqual(t, "Critical", before.Tiers.Critical+1, after.Tiers.Critical)

	tiers, err := s.CountByTier(ctx)
	if err != nil {
		t.Fatalf("CountByTier: %v", err)
	}
	if tiers.Critical < after.Tiers.Critical {
		t.Errorf("CountByTier critical = %d, want >= %d", tiers.Critical, after.Tiers.Critical)
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %v, got %v", field, want, got)
	}
}

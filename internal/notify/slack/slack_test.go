package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

func criticalEvent() *event.Event {
	sentiment := 92
	driver := event.DriverSocial
	return event.NewEvent(event.Fields{
		EventType:            event.TypeViolence,
		State:                "Plateau",
		LGA:                  "Bokkos",
		Severity:             event.SeverityCritical,
		SentimentIntensity:   &sentiment,
		HateSpeechIndicators: []string{"ethnic targeting", "incitement"},
		ConflictDriver:       &driver,
	}, event.Source{
		Title:       "Gunmen attack villages in Bokkos",
		URL:         "https://example.com/bokkos",
		Fingerprint: "0123456789abcdef0123",
	}, time.Date(2026, 10, 1, 14, 23, 0, 0, time.UTC))
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, fields, divider, source, context
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Bokkos, Plateau") {
		t.Errorf("header text = %q, want location", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") || !strings.Contains(headerText, "CRITICAL") {
		t.Errorf("header = %q, want red circle and CRITICAL", headerText)
	}

	fields := blocks[1].(map[string]any)["fields"].([]any)
	first := fields[0].(map[string]any)["text"].(string)
	if first != "*Risk score:* 100.0" {
		t.Errorf("score field = %q", first)
	}

	fallback, _ := got["text"].(string)
	if !strings.HasPrefix(fallback, "critical risk 100.0") {
		t.Errorf("fallback text = %q", fallback)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Notify(context.Background(), criticalEvent()); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	err := n.Notify(context.Background(), criticalEvent())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func TestLevelEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level event.RiskLevel
		want  string
	}{
		{event.LevelCritical, "\U0001f534"},
		{event.LevelHigh, "\U0001f7e0"},
		{event.LevelMedium, "\U0001f7e1"},
		{event.LevelLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			t.Parallel()
			if got := levelEmoji(tt.level); got != tt.want {
				t.Errorf("levelEmoji(%q) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	e := criticalEvent()
	if got := location(e); got != "Bokkos, Plateau" {
		t.Errorf("location = %q", got)
	}
	e.LGA = event.Unknown
	if got := location(e); got != "Plateau" {
		t.Errorf("location without lga = %q", got)
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Plateau", "Bokkos", "Gunmen attack", "https://example.com/a")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold*", "a & b <c>", "not a url")
	f.Add("state\x00\x01", "lga\nline", "title\ttab", "u\x00rl")
	f.Add(strings.Repeat("A", 5000), "x", strings.Repeat("x", 10000), "https://example.com/")

	f.Fuzz(func(t *testing.T, state, lga, title, url string) {
		e := criticalEvent()
		e.State, e.LGA, e.SourceTitle, e.SourceURL = state, lga, title, url

		// Must not panic
		msg := buildMessage(e)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		blocks, ok := decoded["blocks"].([]any)
		if !ok || len(blocks) != 5 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}

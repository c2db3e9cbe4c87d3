// Package memstore provides an in-memory implementation of event.Store.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

// Store holds events in memory keyed by content fingerprint. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	events map[string]*event.Event
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{events: make(map[string]*event.Event)}
}

// Upsert stores a copy of the event unless a newer parse of the same
// fingerprint is already present.
func (s *Store) Upsert(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.events[e.ContentFingerprint]; ok && cur.ParsedAt.After(e.ParsedAt) {
		return nil
	}
	s.events[e.ContentFingerprint] = clone(e)
	return nil
}

// GetByFingerprint returns a copy of the event for fp.
func (s *Store) GetByFingerprint(_ context.Context, fp string) (*event.Event, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[fp]
	if !ok {
		return nil, false, nil
	}
	return clone(e), true, nil
}

// ListRecent returns up to limit events, newest parse first.
func (s *Store) ListRecent(_ context.Context, limit int) ([]*event.Event, error) {
	return s.list(limit, func(*event.Event) bool { return true }), nil
}

// ListByState returns up to limit events for a state, newest parse first.
func (s *Store) ListByState(_ context.Context, state string, limit int) ([]*event.Event, error) {
	return s.list(limit, func(e *event.Event) bool { return e.State == state }), nil
}

// ListBetween returns events parsed in [from, to), oldest first.
func (s *Store) ListBetween(_ context.Context, from, to time.Time) ([]*event.Event, error) {
	out := s.list(0, func(e *event.Event) bool {
		return !e.ParsedAt.Before(from) && e.ParsedAt.Before(to)
	})
	slices.Reverse(out)
	return out, nil
}

// CountByTier counts all events per risk tier.
func (s *Store) CountByTier(_ context.Context) (event.TierCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c event.TierCounts
	for _, e := range s.events {
		c.Add(e.Level())
	}
	return c, nil
}

// Aggregate computes rollups under a single read lock.
func (s *Store) Aggregate(_ context.Context, since time.Time) (*event.Aggregates, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := &event.Aggregates{}
	days := make(map[time.Time]*event.DayBucket)
	states := make(map[string]int)

	for _, e := range s.events {
		agg.Tiers.Add(e.Level())
		states[e.State]++

		if e.ParsedAt.Before(since) {
			continue
		}
		t := e.ParsedAt.UTC()
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		b, ok := days[d]
		if !ok {
			b = &event.DayBucket{Date: d}
			days[d] = b
		}
		b.Count++
		b.RiskSum += e.RiskScore
	}

	for _, b := range days {
		agg.Days = append(agg.Days, *b)
	}
	sort.Slice(agg.Days, func(i, j int) bool { return agg.Days[i].Date.Before(agg.Days[j].Date) })

	for st, n := range states {
		agg.States = append(agg.States, event.StateCount{State: st, Count: n})
	}
	return agg, nil
}

func (s *Store) list(limit int, keep func(*event.Event) bool) []*event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*event.Event, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ParsedAt.Equal(out[j].ParsedAt) {
			return out[i].ParsedAt.After(out[j].ParsedAt)
		}
		return out[i].ContentFingerprint < out[j].ContentFingerprint
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clone(e *event.Event) *event.Event {
	cp := *e
	cp.HateSpeechIndicators = slices.Clone(e.HateSpeechIndicators)
	if e.SentimentIntensity != nil {
		v := *e.SentimentIntensity
		cp.SentimentIntensity = &v
	}
	if e.ConflictDriver != nil {
		d := *e.ConflictDriver
		cp.ConflictDriver = &d
	}
	return &cp
}

// Package aggregate maintains the dashboard read model: a 7-day risk trend,
// the current tier distribution, and the most affected states. The snapshot
// is rebuilt from the event store on a schedule and swapped atomically, so
// readers never wait on the store.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

const (
	TrendDays       = 7
	TopStates       = 5
	DefaultInterval = 5 * time.Second

	dateLayout = "2006-01-02"
)

// TrendPoint is one UTC calendar day of the trend.
type TrendPoint struct {
	Date          string  `json:"date"`
	AvgRisk       float64 `json:"avg_risk"`
	IncidentCount int     `json:"incident_count"`
}

// Snapshot is the materialized dashboard overview.
type Snapshot struct {
	TrendData           []TrendPoint     `json:"trend_data"`
	CurrentDistribution event.TierCounts `json:"current_distribution"`
	// TopStates ranks resolved states only. Events with state "unknown" are
	// counted in CurrentDistribution but never appear here.
	TopStates   []event.StateCount `json:"top_states"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Build turns store rollups into a snapshot as of now: exactly TrendDays
// trend entries ending today (UTC), oldest first, with empty days zeroed;
// top states by count descending, ties by name ascending. States that could
// not be resolved are left out of the ranking.
func Build(agg *event.Aggregates, now time.Time) *Snapshot {
	if agg == nil {
		agg = &event.Aggregates{}
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := today.AddDate(0, 0, -(TrendDays - 1))

	byDay := make(map[string]event.DayBucket, len(agg.Days))
	for _, b := range agg.Days {
		byDay[b.Date.UTC().Format(dateLayout)] = b
	}

	s := &Snapshot{
		TrendData:           make([]TrendPoint, 0, TrendDays),
		CurrentDistribution: agg.Tiers,
		TopStates:           []event.StateCount{},
		GeneratedAt:         now,
	}
	for i := 0; i < TrendDays; i++ {
		day := first.AddDate(0, 0, i).Format(dateLayout)
		p := TrendPoint{Date: day}
		if b, ok := byDay[day]; ok && b.Count > 0 {
			p.IncidentCount = b.Count
			p.AvgRisk = round1(b.RiskSum / float64(b.Count))
		}
		s.TrendData = append(s.TrendData, p)
	}

	for _, sc := range agg.States {
		if sc.State == "" || sc.State == event.Unknown || sc.Count <= 0 {
			continue
		}
		s.TopStates = append(s.TopStates, sc)
	}
	slices.SortFunc(s.TopStates, func(a, b event.StateCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.State, b.State)
	})
	if len(s.TopStates) > TopStates {
		s.TopStates = s.TopStates[:TopStates]
	}
	return s
}

// TrendStart is the first instant covered by the trend for now.
func TrendStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(TrendDays - 1))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Engine owns the current snapshot.
type Engine struct {
	store    event.Store
	logger   log.Logger
	interval time.Duration
	now      func() time.Time
	snap     atomic.Pointer[Snapshot]

	// OnRefresh, when set, is called after every refresh attempt.
	OnRefresh func(duration float64, err error)
}

// NewEngine creates an engine whose snapshot is empty until the first refresh.
func NewEngine(store event.Store, logger log.Logger, interval time.Duration) *Engine {
	if store == nil {
		panic(xerrors.New("event store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	e := &Engine{
		store:    store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
	e.snap.Store(Build(nil, e.now()))
	return e
}

// Snapshot returns the latest snapshot. It never blocks and never touches
// the store. Callers must not modify the result.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Refresh rebuilds the snapshot from one coherent store read. On error the
// previous snapshot stays in place.
func (e *Engine) Refresh(ctx context.Context) error {
	start := time.Now()
	now := e.now()

	agg, err := e.store.Aggregate(ctx, TrendStart(now))
	if err == nil {
		e.snap.Store(Build(agg, now))
	} else {
		err = fmt.Errorf("aggregate: %w", err)
	}

	if e.OnRefresh != nil {
		e.OnRefresh(time.Since(start).Seconds(), err)
	}
	return err
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/conflictwatch/internal/postgres"
	"github.com/linnemanlabs/conflictwatch/internal/queue/natsq"
)

// registerDBMetrics wires the per-query histogram into the postgres tracer.
func registerDBMetrics(reg prometheus.Registerer) {
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conflictwatch_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"origin", "operation", "outcome"})
	reg.MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, origin, operation, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(origin, operation, outcome).Observe(dur.Seconds())
		},
	))
}

// queryStatsMiddleware records how many queries each API request issued.
func queryStatsMiddleware(reg prometheus.Registerer) func(http.Handler) http.Handler {
	perRequest := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conflictwatch_http_db_queries_per_request",
		Help:    "Database queries issued while serving one API request.",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
	})
	reg.MustRegister(perRequest)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, stats := postgres.WithQueryStats(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
			n, _, _ := stats.Snapshot()
			perRequest.Observe(float64(n))
		})
	}
}

// aggregateRefreshObserver returns an aggregate.Engine OnRefresh hook.
func aggregateRefreshObserver(reg prometheus.Registerer) func(duration float64, err error) {
	refreshDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "conflictwatch_aggregate_refresh_duration_seconds",
		Help:    "Duration of dashboard aggregate refreshes.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conflictwatch_aggregate_refreshes_total",
		Help: "Dashboard aggregate refreshes by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(refreshDuration, refreshes)

	return func(duration float64, err error) {
		refreshDuration.Observe(duration)
		if err != nil {
			refreshes.WithLabelValues("error").Inc()
			return
		}
		refreshes.WithLabelValues("ok").Inc()
	}
}

// registerQueueMetrics exposes JetStream connection state and dead-letter depth.
func registerQueueMetrics(reg prometheus.Registerer, c *natsq.Client) {
	connected := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conflictwatch_nats_connected",
		Help: "1 when the NATS connection is up.",
	}, func() float64 {
		if c.Healthy() {
			return 1
		}
		return 0
	})
	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "conflictwatch_dead_letters_pending",
		Help: "Messages held in the dead-letter stream.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st, err := c.Stats(ctx)
		if err != nil {
			return -1
		}
		return float64(st.Messages)
	})
	reg.MustRegister(connected, pending)
}

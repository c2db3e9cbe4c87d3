package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/conflictwatch/internal/event"
	"github.com/linnemanlabs/conflictwatch/internal/extract"
)

// Metrics holds Prometheus metrics for the ingest pipeline.
type Metrics struct {
	ArticlesTotal      *prometheus.CounterVec
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration *prometheus.HistogramVec
	ExtractionAttempts prometheus.Histogram
	LLMCallsTotal      *prometheus.CounterVec
	LLMTokensIn        prometheus.Counter
	LLMTokensOut       prometheus.Counter
	LLMDuration        prometheus.Histogram
	CoercionsTotal     *prometheus.CounterVec
	DeadLettersTotal   *prometheus.CounterVec
	EventsStored       *prometheus.CounterVec
	RiskScore          prometheus.Histogram
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ArticlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_articles_total",
			Help: "Queue deliveries handled by outcome.",
		}, []string{"outcome"}),
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_extractions_total",
			Help: "Extraction runs by final outcome.",
		}, []string{"outcome"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conflictwatch_extraction_duration_seconds",
			Help:    "Duration of extraction runs including retries.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s .. 128s
		}, []string{"outcome"}),
		ExtractionAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conflictwatch_extraction_attempts",
			Help:    "LLM calls per extraction run.",
			Buckets: prometheus.LinearBuckets(1, 1, extract.MaxAttempts),
		}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_llm_calls_total",
			Help: "Individual LLM calls by outcome.",
		}, []string{"outcome"}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conflictwatch_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conflictwatch_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conflictwatch_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. 32s
		}),
		CoercionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_validation_coercions_total",
			Help: "Extracted fields replaced by their fallback during validation.",
		}, []string{"field"}),
		DeadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_dead_letters_total",
			Help: "Messages written to the dead-letter queue by reason.",
		}, []string{"reason"}),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conflictwatch_events_stored_total",
			Help: "Events upserted by risk level.",
		}, []string{"risk_level"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "conflictwatch_risk_score",
			Help:    "Risk score of stored events.",
			Buckets: []float64{20, 45, 70, 85, 100},
		}),
	}

	reg.MustRegister(
		m.ArticlesTotal,
		m.ExtractionsTotal,
		m.ExtractionDuration,
		m.ExtractionAttempts,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.CoercionsTotal,
		m.DeadLettersTotal,
		m.EventsStored,
		m.RiskScore,
	)

	return m
}

// ExtractHooks returns extract.Hooks that feed the LLM metrics.
func (m *Metrics) ExtractHooks() extract.Hooks {
	return extract.Hooks{
		OnCall: func(outcome string, duration float64, inputTokens, outputTokens int) {
			m.LLMCallsTotal.WithLabelValues(outcome).Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnComplete: func(outcome string, attempts int, duration float64) {
			m.ExtractionsTotal.WithLabelValues(outcome).Inc()
			m.ExtractionDuration.WithLabelValues(outcome).Observe(duration)
			m.ExtractionAttempts.Observe(float64(attempts))
		},
	}
}

// Hooks returns consumer Hooks that feed the pipeline metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnOutcome: func(o Outcome) {
			m.ArticlesTotal.WithLabelValues(string(o)).Inc()
		},
		OnCoercion: func(field string) {
			m.CoercionsTotal.WithLabelValues(field).Inc()
		},
		OnDeadLetter: func(reason string) {
			m.DeadLettersTotal.WithLabelValues(reason).Inc()
		},
		OnStored: func(e *event.Event) {
			m.EventsStored.WithLabelValues(string(e.Level())).Inc()
			m.RiskScore.Observe(e.RiskScore)
		},
	}
}

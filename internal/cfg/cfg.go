package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Config holds the conflictwatch service settings. It satisfies the
// go-core cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ClaudeAPIKey string
	ClaudeModel  string
	LLMTimeout   time.Duration

	DatabaseURL string

	NATSURL      string
	NATSStream   string
	NATSSubject  string
	NATSConsumer string

	RedisURL        string
	FreshnessWindow time.Duration

	MaxDeliveries     int
	Workers           int
	AggregateInterval time.Duration

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for extraction")
	fs.DurationVar(&c.LLMTimeout, "llm-timeout", 30*time.Second, "per-attempt timeout for an extraction call (1s..5m)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL (empty = in-process queue)")
	fs.StringVar(&c.NATSStream, "nats-stream", "ARTICLES", "JetStream stream holding raw articles")
	fs.StringVar(&c.NATSSubject, "nats-subject", "conflictwatch.articles", "subject raw articles are published on")
	fs.StringVar(&c.NATSConsumer, "nats-consumer", "conflictwatch-ingest", "durable JetStream consumer name")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the freshness cache (empty = check the event store)")
	fs.DurationVar(&c.FreshnessWindow, "freshness-window", 6*time.Hour, "skip re-extraction of articles parsed within this window (0 disables)")
	fs.IntVar(&c.MaxDeliveries, "max-deliveries", 5, "deliveries of one message before it is dead-lettered (1..100)")
	fs.IntVar(&c.Workers, "workers", 4, "concurrent article workers (1..64)")
	fs.DurationVar(&c.AggregateInterval, "aggregate-interval", 5*time.Second, "dashboard aggregate refresh interval (1s..1h)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for critical-risk notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}
	if c.LLMTimeout < time.Second || c.LLMTimeout > 5*time.Minute {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT %s (must be 1s..5m)", c.LLMTimeout))
	}

	// Stream settings only matter when a NATS server is configured
	if c.NATSURL != "" {
		if c.NATSStream == "" {
			errs = append(errs, errors.New("NATS_STREAM is required when NATS_URL is set"))
		}
		if c.NATSSubject == "" || strings.ContainsAny(c.NATSSubject, "*> ") {
			errs = append(errs, fmt.Errorf("invalid NATS_SUBJECT %q (must be a literal subject)", c.NATSSubject))
		}
		if c.NATSConsumer == "" {
			errs = append(errs, errors.New("NATS_CONSUMER is required when NATS_URL is set"))
		}
	}

	if c.FreshnessWindow < 0 {
		errs = append(errs, fmt.Errorf("invalid FRESHNESS_WINDOW %s (must not be negative)", c.FreshnessWindow))
	}
	if c.MaxDeliveries <= 0 || c.MaxDeliveries > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_DELIVERIES %d (must be 1..100)", c.MaxDeliveries))
	}
	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}
	if c.AggregateInterval < time.Second || c.AggregateInterval > time.Hour {
		errs = append(errs, fmt.Errorf("invalid AGGREGATE_INTERVAL %s (must be 1s..1h)", c.AggregateInterval))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

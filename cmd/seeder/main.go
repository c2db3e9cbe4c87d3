// Seeder publishes synthetic conflict articles into a running conflictwatch
// pipeline, either straight onto the JetStream subject or through the
// dashboard API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/conflictwatch/internal/ingest"
	"github.com/linnemanlabs/conflictwatch/internal/queue/natsq"
	"github.com/linnemanlabs/conflictwatch/internal/seeder"
)

type config struct {
	Count    int
	Seed     int64
	Spread   time.Duration
	Interval time.Duration

	APIURL string

	NATSURL      string
	NATSStream   string
	NATSSubject  string
	NATSConsumer string
}

func (c *config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Count, "count", 100, "number of articles to publish")
	fs.Int64Var(&c.Seed, "seed", 0, "generator seed (0 = time based)")
	fs.DurationVar(&c.Spread, "spread", 7*24*time.Hour, "spread fetched_at over this window before now (0 = all now)")
	fs.DurationVar(&c.Interval, "interval", 0, "pause between publishes")
	fs.StringVar(&c.APIURL, "api-url", "http://localhost:8080", "dashboard API base URL, used when nats-url is empty")
	fs.StringVar(&c.NATSURL, "nats-url", "", "publish directly to JetStream at this URL")
	fs.StringVar(&c.NATSStream, "nats-stream", "ARTICLES", "JetStream stream holding raw articles")
	fs.StringVar(&c.NATSSubject, "nats-subject", "conflictwatch.articles", "subject raw articles are published on")
	fs.StringVar(&c.NATSConsumer, "nats-consumer", "conflictwatch-ingest", "durable consumer name shared with the server")
}

func (c *config) Validate() error {
	var errs []error
	if c.Count <= 0 {
		errs = append(errs, fmt.Errorf("invalid COUNT %d (must be > 0)", c.Count))
	}
	if c.Spread < 0 || c.Interval < 0 {
		errs = append(errs, errors.New("SPREAD and INTERVAL must not be negative"))
	}
	if c.NATSURL == "" && c.APIURL == "" {
		errs = append(errs, errors.New("one of NATS_URL or API_URL is required"))
	}
	return errors.Join(errs...)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = "conflictwatch"
	v.Component = "seeder"

	var (
		c      config
		logCfg log.Config
	)
	c.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg.FillFromEnv(flag.CommandLine, "CONFLICTWATCH_SEEDER_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(c.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", v.Component)

	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var pub ingest.Publisher
	if c.NATSURL != "" {
		nc, err := natsq.Connect(ctx, natsq.Options{
			URL:      c.NATSURL,
			Stream:   c.NATSStream,
			Subject:  c.NATSSubject,
			Consumer: c.NATSConsumer,
		}, L)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer func() { _ = nc.Close() }()
		pub = nc
		L.Info(ctx, "publishing to jetstream", "url", c.NATSURL, "subject", c.NATSSubject)
	} else {
		pub = seeder.NewHTTPPublisher(c.APIURL)
		L.Info(ctx, "publishing through dashboard api", "url", c.APIURL)
	}

	start := time.Now()
	res := seeder.Run(ctx, seeder.NewGenerator(seed, c.Spread), pub, c.Count, c.Interval, L)

	L.Info(ctx, "seeding complete",
		"seed", seed,
		"published", res.Published,
		"failed", res.Failed,
		"duration", time.Since(start).String(),
	)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d articles failed to publish", res.Failed, c.Count)
	}
	return nil
}

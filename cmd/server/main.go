// Conflictwatch turns news articles about Nigerian communal conflict into
// scored risk events and serves the dashboard API over them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/conflictwatch/internal/aggregate"
	cc "github.com/linnemanlabs/conflictwatch/internal/cfg"
	"github.com/linnemanlabs/conflictwatch/internal/dashapi"
	"github.com/linnemanlabs/conflictwatch/internal/event"
	"github.com/linnemanlabs/conflictwatch/internal/event/memstore"
	"github.com/linnemanlabs/conflictwatch/internal/event/pgstore"
	"github.com/linnemanlabs/conflictwatch/internal/extract"
	"github.com/linnemanlabs/conflictwatch/internal/freshness"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
	"github.com/linnemanlabs/conflictwatch/internal/llm/claude"
	"github.com/linnemanlabs/conflictwatch/internal/notify/slack"
	"github.com/linnemanlabs/conflictwatch/internal/postgres"
	"github.com/linnemanlabs/conflictwatch/internal/queue/memqueue"
	"github.com/linnemanlabs/conflictwatch/internal/queue/natsq"
)

const appName = "conflictwatch"
const component = "server"

// memQueueCapacity bounds the in-process queue used when no NATS server is configured.
const memQueueCapacity = 1024

// queue is what the consumer and the API need from an article queue backend.
type queue interface {
	ingest.Source
	ingest.Publisher
	ingest.DeadLetterSink
	ingest.DeadLetterLister
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

	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    cc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first; env vars fill in only what the cmdline left unset
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "CONFLICTWATCH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"claude_model", appCfg.ClaudeModel,
		"llm_timeout", appCfg.LLMTimeout.String(),
		"workers", appCfg.Workers,
		"max_deliveries", appCfg.MaxDeliveries,
		"freshness_window", appCfg.FreshnessWindow.String(),
		"aggregate_interval", appCfg.AggregateInterval.String(),
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf == nil {
		stopProf = func() {}
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx == nil {
		shutdownOtelx = func(context.Context) error { return nil }
	}

	// Tag spans with profile ids so an extraction trace links to its CPU profile.
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	registerDBMetrics(m.Registry())

	// Event store
	var store event.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		store = pgStore
		L.Info(ctx, "using postgres store")
	} else {
		store = memstore.New()
		L.Info(ctx, "using in-memory store (no database-url configured)")
	}

	// Article queue and dead-letter queue
	var (
		q        queue
		natsConn *natsq.Client
	)
	if appCfg.NATSURL != "" {
		natsConn, err = natsq.Connect(ctx, natsq.Options{
			URL:           appCfg.NATSURL,
			Stream:        appCfg.NATSStream,
			Subject:       appCfg.NATSSubject,
			Consumer:      appCfg.NATSConsumer,
			MaxAckPending: appCfg.Workers * 4,
			AckWait:       ingest.SettleBudget(appCfg.LLMTimeout),
		}, L)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		q = natsConn
		registerQueueMetrics(m.Registry(), natsConn)
		L.Info(ctx, "using jetstream queue", "stream", appCfg.NATSStream, "subject", appCfg.NATSSubject)
	} else {
		q = memqueue.New(memQueueCapacity)
		L.Info(ctx, "using in-process queue (no nats-url configured)")
	}

	// Freshness cache
	var fresh ingest.Freshness
	switch {
	case appCfg.FreshnessWindow == 0:
		L.Info(ctx, "freshness check disabled")
	case appCfg.RedisURL != "":
		rdb, err := freshness.Dial(ctx, appCfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		fresh = freshness.NewRedis(rdb, appCfg.FreshnessWindow)
		L.Info(ctx, "using redis freshness cache", "window", appCfg.FreshnessWindow.String())
	default:
		fresh = freshness.NewStore(store, appCfg.FreshnessWindow)
		L.Info(ctx, "using event store for freshness", "window", appCfg.FreshnessWindow.String())
	}

	// Extraction
	claudeProvider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
	L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)

	ingestMetrics := ingest.NewMetrics(m.Registry())
	extractor := extract.NewEngine(claudeProvider, L, ingestMetrics.ExtractHooks(), appCfg.LLMTimeout)

	var notifier ingest.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL, L)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	consumer := ingest.NewConsumer(ingest.Options{
		Store:         store,
		Extractor:     extractor,
		DeadLetters:   q,
		Freshness:     fresh,
		Notifier:      notifier,
		Hooks:         ingestMetrics.Hooks(),
		Logger:        L.With("subsystem", "ingest"),
		MaxDeliveries: appCfg.MaxDeliveries,
		Workers:       appCfg.Workers,
	})

	// The consumer stops pulling as soon as shutdown starts. In-flight
	// articles finish on a context that outlives the signal.
	consumerCtx, cancelConsumer := context.WithCancel(
		postgres.WithOrigin(context.WithoutCancel(ctx), postgres.OriginIngest))
	defer cancelConsumer()
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(consumerCtx, q); err != nil {
			L.Error(ctx, err, "consumer stopped with error")
		}
	}()
	stopConsumer := func(sctx context.Context) error {
		cancelConsumer()
		select {
		case <-consumerDone:
			return nil
		case <-sctx.Done():
			return fmt.Errorf("in-flight articles not settled: %w", sctx.Err())
		}
	}

	// Aggregation
	aggEngine := aggregate.NewEngine(store, L.With("subsystem", "aggregate"), appCfg.AggregateInterval)
	aggEngine.OnRefresh = aggregateRefreshObserver(m.Registry())
	stopAgg, err := aggEngine.Start(postgres.WithOrigin(ctx, postgres.OriginAggregate))
	if err != nil {
		return fmt.Errorf("aggregate scheduler: %w", err)
	}

	// fails readiness during shutdown so the load balancer drains us first
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(queryStatsMiddleware(m.Registry()))
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 256)) // article bodies

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	api := dashapi.New(L, store, aggEngine, q, q)
	api.RegisterRoutes(r)

	// outermost wrapper sees the raw request first and the response last
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start dashboard http listener")
		return err
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills the process after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	cancelConsumer()
	settleBudget := ingest.SettleBudget(appCfg.LLMTimeout)
	consumerDeadline := time.Now().Add(settleBudget)
	L.Info(context.Background(), "stopped pulling articles", "settle_budget", settleBudget.String())

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Order matters: stop taking HTTP submissions, settle in-flight
	// articles, then tear down what they depend on. The consumer waits on
	// its own deadline so a full extraction run can finish.
	stopFns := []stopFn{
		{name: "dashboard http server", fn: apiHTTPStop},
		{name: "ingest consumer", fn: stopConsumer, deadline: consumerDeadline},
		{name: "aggregate scheduler", fn: func(context.Context) error { stopAgg(); return nil }},
	}
	if natsConn != nil {
		stopFns = append(stopFns, stopFn{name: "nats", fn: func(context.Context) error { return natsConn.Close() }})
	}
	stopFns = append(stopFns,
		stopFn{name: "ops http server", fn: opsHTTPStop},
		stopFn{name: "otel", fn: shutdownOtelx},
	)

	runStopFns(L, time.Duration(appCfg.ShutdownBudgetSeconds)*time.Second, stopFns)

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

type stopFn struct {
	name string
	fn   func(context.Context) error

	// deadline, when set, replaces the component's share of the budget.
	deadline time.Time
}

// runStopFns calls each fn in order. Components without their own deadline
// split budget evenly.
func runStopFns(L log.Logger, budget time.Duration, stops []stopFn) {
	shared := 0
	for _, s := range stops {
		if s.deadline.IsZero() {
			shared++
		}
	}
	perComponent := budget
	if shared > 0 {
		perComponent = budget / time.Duration(shared)
	}

	for _, s := range stops {
		var (
			cctx    context.Context
			ccancel context.CancelFunc
		)
		if s.deadline.IsZero() {
			cctx, ccancel = context.WithTimeout(context.Background(), perComponent)
		} else {
			cctx, ccancel = context.WithDeadline(context.Background(), s.deadline)
		}
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}

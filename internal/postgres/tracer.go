package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// SlowQueryThreshold is the duration above which a successful query is logged.
const SlowQueryThreshold = 250 * time.Millisecond

// maxLoggedStatement bounds the SQL text written to logs.
const maxLoggedStatement = 512

// Well-known query origins. HTTP handlers fall back to the chi route pattern.
const (
	OriginIngest    = "ingest"
	OriginAggregate = "aggregate"
	OriginUnknown   = "unknown"
)

var queryObserver atomic.Pointer[queryObserverHolder]

type (
	originKey     struct{}
	queryStatsKey struct{}
	queryStateKey struct{}
)

type queryObserverHolder struct{ QueryObserver }

// queryState carries per-query data from TraceQueryStart to TraceQueryEnd.
type queryState struct {
	sql     string
	nargs   int
	start   time.Time
	caller  string
	handler string
}

// QueryObserver receives per-query metrics (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, origin, operation, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, origin, operation, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, origin, operation, outcome string, dur time.Duration) {
	f(ctx, origin, operation, outcome, dur)
}

// QueryStats accumulates database usage for one unit of work, such as
// processing a single article or serving a single request.
type QueryStats struct {
	mu            sync.Mutex
	Queries       int
	Errors        int
	TotalDuration time.Duration
}

// Add records a single query execution.
func (s *QueryStats) Add(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries++
	s.TotalDuration += dur
	if err != nil {
		s.Errors++
	}
}

// Snapshot returns the counters under the lock.
func (s *QueryStats) Snapshot() (queries, errs int, total time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Queries, s.Errors, s.TotalDuration
}

// WithQueryStats returns a context that accumulates into a fresh QueryStats.
func WithQueryStats(ctx context.Context) (context.Context, *QueryStats) {
	s := &QueryStats{}
	return context.WithValue(ctx, queryStatsKey{}, s), s
}

// QueryStatsFromContext returns the QueryStats attached to ctx, if any.
func QueryStatsFromContext(ctx context.Context) (*QueryStats, bool) {
	s, ok := ctx.Value(queryStatsKey{}).(*QueryStats)
	return s, ok
}

// SetQueryObserver sets the global query observer (typically a Prometheus histogram).
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&queryObserverHolder{QueryObserver: o})
}

func getQueryObserver() QueryObserver {
	h := queryObserver.Load()
	if h == nil {
		return nil
	}
	return h.QueryObserver
}

// WithOrigin tags queries issued under ctx with the component that issued them.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, origin)
}

// originFromContext prefers an explicit origin, then the chi route pattern.
func originFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return OriginUnknown
}

// queryTracer layers metrics, stats and failure/slow-query logging over an
// inner tracer (normally otelpgx).
type queryTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return queryTracer{inner: inner}
}

func (t queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	st := &queryState{
		sql:   data.SQL,
		nargs: len(data.Args),
		start: time.Now(),
	}
	st.caller, st.handler = findDBCallerAndHandler()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := []attribute.KeyValue{attribute.String("db.origin", originFromContext(ctx))}
		if st.caller != "" {
			attrs = append(attrs, attribute.String("db.caller", st.caller))
		}
		if st.handler != "" {
			attrs = append(attrs, attribute.String("db.handler", st.handler))
		}
		span.SetAttributes(attrs...)
	}

	return context.WithValue(ctx, queryStateKey{}, st)
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	st, ok := ctx.Value(queryStateKey{}).(*queryState)
	if !ok {
		return
	}
	dur := time.Since(st.start)

	if s, ok := QueryStatsFromContext(ctx); ok {
		s.Add(dur, data.Err)
	}

	op := operationName(data.CommandTag, st.sql)
	origin := originFromContext(ctx)

	if obs := getQueryObserver(); obs != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, origin, op, outcome, dur)
	}

	if data.Err == nil && dur < SlowQueryThreshold {
		return
	}

	// Arguments are not logged: upserts carry full article bodies.
	fields := []any{
		"db.statement", compactSQL(st.sql),
		"db.args_count", st.nargs,
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
		"db.origin", origin,
	}
	if st.caller != "" {
		fields = append(fields, "db.caller", st.caller)
	}
	if st.handler != "" {
		fields = append(fields, "db.handler", st.handler)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	fields = append(fields, "db.rows", data.CommandTag.RowsAffected())
	L.Warn(ctx, "slow db query", fields...)
}

// operationName returns the SQL verb, from the command tag when the query
// completed or from the statement text otherwise.
func operationName(tag pgconn.CommandTag, sql string) string {
	src := strings.TrimSpace(tag.String())
	if src == "" {
		src = strings.TrimSpace(sql)
	}
	verb, _, _ := strings.Cut(src, " ")
	verb, _, _ = strings.Cut(verb, "\n")
	if verb == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(verb)
}

// compactSQL collapses whitespace and bounds the length of a statement.
func compactSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > maxLoggedStatement {
		s = s[:maxLoggedStatement] + "..."
	}
	return s
}

// findDBCallerAndHandler walks the stack to find:
//   - caller: the store method actually issuing the query
//   - handler: the next frame above it outside this package and the stores
func findDBCallerAndHandler() (caller, handler string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function

		switch {
		case fn == "",
			strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "queryTracer.TraceQuery"):
			// noise
		case caller == "":
			caller = shortenFuncName(fn)
		case isStoreFrame(fn):
			// store helpers above the issuing method
		default:
			return caller, shortenFuncName(fn)
		}

		if !more {
			return caller, ""
		}
	}
}

func isStoreFrame(fn string) bool {
	return strings.Contains(fn, "/internal/postgres.") || strings.Contains(fn, "/pgstore.")
}

func shortenFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}

// Package pgstore provides a PostgreSQL implementation of event.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/conflictwatch/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/conflictwatch/internal/event/pgstore")

//go:embed schema.sql
var schema string

// Store persists events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const eventColumns = `content_fingerprint, event_type, state, lga, severity, sentiment_intensity,
	hate_speech_indicators, conflict_driver, risk_score, source_title, source_url, parsed_at`

// Upsert inserts or replaces the event for its fingerprint. A row with a
// newer parsed_at is left untouched.
func (s *Store) Upsert(ctx context.Context, e *event.Event) error {
	ctx, span := startSpan(ctx, "pgstore.Upsert", "UPSERT")
	defer span.End()

	hs := e.HateSpeechIndicators
	if hs == nil {
		hs = []string{}
	}
	indicators, err := json.Marshal(hs)
	if err != nil {
		return fail(span, fmt.Errorf("marshal indicators: %w", err))
	}

	var driver *string
	if e.ConflictDriver != nil {
		d := string(*e.ConflictDriver)
		driver = &d
	}

	query := `INSERT INTO events (` + eventColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (content_fingerprint) DO UPDATE SET
		event_type             = EXCLUDED.event_type,
		state                  = EXCLUDED.state,
		lga                    = EXCLUDED.lga,
		severity               = EXCLUDED.severity,
		sentiment_intensity    = EXCLUDED.sentiment_intensity,
		hate_speech_indicators = EXCLUDED.hate_speech_indicators,
		conflict_driver        = EXCLUDED.conflict_driver,
		risk_score             = EXCLUDED.risk_score,
		source_title           = EXCLUDED.source_title,
		source_url             = EXCLUDED.source_url,
		parsed_at              = EXCLUDED.parsed_at
	WHERE events.parsed_at <= EXCLUDED.parsed_at`

	_, err = s.pool.Exec(ctx, query,
		e.ContentFingerprint, string(e.EventType), e.State, e.LGA, string(e.Severity), e.SentimentIntensity,
		indicators, driver, e.RiskScore, e.SourceTitle, e.SourceURL, e.ParsedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("upsert event: %w: %w", event.ErrTransient, err))
	}
	return nil
}

// GetByFingerprint retrieves the event for a fingerprint.
func (s *Store) GetByFingerprint(ctx context.Context, fp string) (*event.Event, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetByFingerprint", "SELECT")
	defer span.End()

	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE content_fingerprint = $1`, fp))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// ListRecent returns up to limit events, newest parse first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*event.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRecent", "SELECT")
	defer span.End()

	out, err := s.query(ctx, `SELECT `+eventColumns+` FROM events
		ORDER BY parsed_at DESC, content_fingerprint LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListByState returns up to limit events for a state, newest parse first.
func (s *Store) ListByState(ctx context.Context, state string, limit int) ([]*event.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListByState", "SELECT")
	defer span.End()

	out, err := s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE state = $1
		ORDER BY parsed_at DESC, content_fingerprint LIMIT $2`, state, limitArg(limit))
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// ListBetween returns events parsed in [from, to), oldest first.
func (s *Store) ListBetween(ctx context.Context, from, to time.Time) ([]*event.Event, error) {
	ctx, span := startSpan(ctx, "pgstore.ListBetween", "SELECT")
	defer span.End()

	out, err := s.query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE parsed_at >= $1 AND parsed_at < $2 ORDER BY parsed_at`, from, to)
	if err != nil {
		return nil, fail(span, err)
	}
	return out, nil
}

// CountByTier counts all events per risk tier.
func (s *Store) CountByTier(ctx context.Context) (event.TierCounts, error) {
	ctx, span := startSpan(ctx, "pgstore.CountByTier", "SELECT")
	defer span.End()

	c, err := countTiers(ctx, s.pool)
	if err != nil {
		return c, fail(span, err)
	}
	return c, nil
}

// Aggregate reads day, tier, and state rollups inside one repeatable-read
// transaction so all three reflect the same snapshot of the table.
func (s *Store) Aggregate(ctx context.Context, since time.Time) (*event.Aggregates, error) {
	ctx, span := startSpan(ctx, "pgstore.Aggregate", "SELECT")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fail(span, fmt.Errorf("begin tx: %w: %w", event.ErrTransient, err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only, rollback is the normal end

	agg := &event.Aggregates{}

	rows, err := tx.Query(ctx, `SELECT (parsed_at AT TIME ZONE 'UTC')::date AS day, count(*), sum(risk_score)
		FROM events WHERE parsed_at >= $1 GROUP BY day ORDER BY day`, since)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query days: %w", err))
	}
	for rows.Next() {
		var b event.DayBucket
		if err := rows.Scan(&b.Date, &b.Count, &b.RiskSum); err != nil {
			rows.Close()
			return nil, fail(span, fmt.Errorf("scan day: %w", err))
		}
		b.Date = b.Date.UTC()
		agg.Days = append(agg.Days, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate days: %w", err))
	}

	if agg.Tiers, err = countTiers(ctx, tx); err != nil {
		return nil, fail(span, err)
	}

	rows, err = tx.Query(ctx, `SELECT state, count(*) FROM events GROUP BY state`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query states: %w", err))
	}
	for rows.Next() {
		var sc event.StateCount
		if err := rows.Scan(&sc.State, &sc.Count); err != nil {
			rows.Close()
			return nil, fail(span, fmt.Errorf("scan state: %w", err))
		}
		agg.States = append(agg.States, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate states: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fail(span, fmt.Errorf("commit: %w", err))
	}
	return agg, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countTiers(ctx context.Context, q querier) (event.TierCounts, error) {
	var c event.TierCounts
	err := q.QueryRow(ctx, `SELECT
		count(*) FILTER (WHERE risk_score >= 85),
		count(*) FILTER (WHERE risk_score >= 70 AND risk_score < 85),
		count(*) FILTER (WHERE risk_score >= 45 AND risk_score < 70),
		count(*) FILTER (WHERE risk_score < 45)
		FROM events`).Scan(&c.Critical, &c.High, &c.Medium, &c.Low)
	if err != nil {
		return c, fmt.Errorf("count tiers: %w", err)
	}
	return c, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w: %w", event.ErrTransient, err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// scanEvent scans a single row into an event.Event.
// Returns (nil, nil) when no row is found.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		e          event.Event
		eventType  string
		severity   string
		indicators []byte
		driver     *string
	)

	err := row.Scan(
		&e.ContentFingerprint, &eventType, &e.State, &e.LGA, &severity, &e.SentimentIntensity,
		&indicators, &driver, &e.RiskScore, &e.SourceTitle, &e.SourceURL, &e.ParsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	e.EventType = event.EventType(eventType)
	e.Severity = event.Severity(severity)
	if driver != nil {
		d := event.ConflictDriver(*driver)
		e.ConflictDriver = &d
	}

	e.HateSpeechIndicators = []string{}
	if err := json.Unmarshal(indicators, &e.HateSpeechIndicators); err != nil {
		return nil, fmt.Errorf("unmarshal indicators: %w", err)
	}
	return &e, nil
}

// limitArg maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

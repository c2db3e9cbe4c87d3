package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/event"
)

const (
	// MaxAttempts is the first call plus two retries.
	MaxAttempts    = 3
	DefaultTimeout = 30 * time.Second
	ResponseTokens = 1024

	// maxContentChars bounds the article body sent to the model.
	maxContentChars = 12000
)

const tracerName = "github.com/linnemanlabs/conflictwatch/internal/extract"

// Hooks receives engine events for instrumentation. Nil funcs are skipped.
type Hooks struct {
	OnCall     func(outcome string, duration float64, inputTokens, outputTokens int)
	OnComplete func(outcome string, attempts int, duration float64)
}

// Extraction is a successful engine run.
type Extraction struct {
	Fields       *event.ExtractedFields
	Attempts     int
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     float64
}

// Engine calls the LLM with the extraction prompt and parses its reply.
// It holds no per-article state and is safe for concurrent use.
type Engine struct {
	provider Provider
	logger   log.Logger
	hooks    Hooks
	timeout  time.Duration
}

// NewEngine creates an extraction engine. A zero timeout uses DefaultTimeout.
func NewEngine(provider Provider, logger log.Logger, hooks Hooks, timeout time.Duration) *Engine {
	if provider == nil {
		panic(xerrors.New("llm provider is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{
		provider: provider,
		logger:   logger,
		hooks:    hooks,
		timeout:  timeout,
	}
}

// Extract asks the model for the article's fields. Each attempt has its own
// timeout; unparseable replies, timeouts, and provider errors all consume
// an attempt. On exhaustion it returns an *Error.
func (e *Engine) Extract(ctx context.Context, a *article.RawArticle) (*Extraction, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "extract.Extract",
		trace.WithAttributes(attribute.String("conflictwatch.source_url", a.SourceURL)))
	defer span.End()

	L := e.logger.With("source_url", a.SourceURL)

	req := &Request{
		MaxTokens: ResponseTokens,
		System:    systemPrompt,
		Prompt:    buildPrompt(a),
	}

	var (
		out       Extraction
		lastErr   error
		lastRaw   string
		malformed bool
		timedOut  bool
	)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr, timedOut = err, false
			break
		}
		out.Attempts = attempt

		resp, dur, err := e.call(ctx, req, attempt)
		if err != nil {
			timedOut = errors.Is(err, context.DeadlineExceeded)
			outcome := "error"
			if timedOut {
				outcome = "timeout"
			}
			e.onCall(outcome, dur, 0, 0)
			L.Warn(ctx, "llm call failed", "attempt", attempt, "timeout", timedOut, "error", err)
			lastErr = err
			continue
		}

		out.Model = resp.Model
		out.InputTokens += resp.Usage.InputTokens
		out.OutputTokens += resp.Usage.OutputTokens

		fields, err := parseFields(resp.Text)
		if err != nil {
			e.onCall("malformed", dur, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			L.Warn(ctx, "llm returned malformed json", "attempt", attempt, "error", err, "stop_reason", resp.StopReason)
			malformed, timedOut = true, false
			lastRaw = resp.Text
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}

		e.onCall("ok", dur, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		out.Fields = fields
		out.Duration = time.Since(start).Seconds()
		e.onComplete("ok", out.Attempts, out.Duration)
		span.SetAttributes(attribute.Int("extract.attempts", out.Attempts))
		return &out, nil
	}

	xerr := &Error{Attempts: out.Attempts, Raw: lastRaw, Err: lastErr}
	switch {
	case malformed:
		xerr.Kind = KindMalformedResponse
	case timedOut:
		xerr.Kind = KindTimeout
	default:
		xerr.Kind = KindProvider
	}

	e.onComplete(string(xerr.Kind), out.Attempts, time.Since(start).Seconds())
	span.RecordError(xerr)
	span.SetStatus(codes.Error, xerr.Error())
	return nil, xerr
}

func (e *Engine) call(ctx context.Context, req *Request, attempt int) (*Response, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	callCtx, span := otel.Tracer(tracerName).Start(callCtx, "llm.call",
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "llm.call"),
			attribute.Int("extract.attempt", attempt),
		))
	defer span.End()

	start := time.Now()
	resp, err := e.provider.Complete(callCtx, req)
	dur := time.Since(start).Seconds()
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, dur, err
	}
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, dur, err
}

func (e *Engine) onCall(outcome string, dur float64, in, out int) {
	if e.hooks.OnCall != nil {
		e.hooks.OnCall(outcome, dur, in, out)
	}
}

func (e *Engine) onComplete(outcome string, attempts int, dur float64) {
	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(outcome, attempts, dur)
	}
}

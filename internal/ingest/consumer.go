package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/event"
	"github.com/linnemanlabs/conflictwatch/internal/extract"
)

const (
	DefaultMaxDeliveries = 5
	DefaultWorkers       = 4

	requeueInitial = 2 * time.Second
	requeueMax     = 5 * time.Minute
	maxPayloadKept = 4096
	settleSlack    = 30 * time.Second
)

// Outcome is what Handle did with a delivery.
type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeSkipped      Outcome = "skipped_fresh"
	OutcomeRequeued     Outcome = "requeued"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Extractor produces untrusted fields for an article.
type Extractor interface {
	Extract(ctx context.Context, a *article.RawArticle) (*extract.Extraction, error)
}

// Notifier is told about events that land in the critical tier.
type Notifier interface {
	Notify(ctx context.Context, e *event.Event) error
}

// Hooks receives consumer events for instrumentation. Nil funcs are skipped.
type Hooks struct {
	OnOutcome    func(o Outcome)
	OnCoercion   func(field string)
	OnDeadLetter func(reason string)
	OnStored     func(e *event.Event)
}

// Options configures a Consumer. Store, Extractor, and DeadLetters are
// required; Freshness and Notifier may be nil.
type Options struct {
	Store       event.Store
	Extractor   Extractor
	DeadLetters DeadLetterSink
	Freshness   Freshness
	Notifier    Notifier
	Hooks       Hooks
	Logger      log.Logger

	MaxDeliveries int
	Workers       int

	// Now is the clock used for parsed_at. Defaults to time.Now.
	Now func() time.Time
}

// Consumer processes article deliveries. It holds no per-message state and
// is safe for concurrent use.
type Consumer struct {
	store     event.Store
	extractor Extractor
	dlq       DeadLetterSink
	fresh     Freshness
	notifier  Notifier
	hooks     Hooks
	logger    log.Logger

	maxDeliveries int
	workers       int
	now           func() time.Time
}

// NewConsumer creates a consumer.
func NewConsumer(o Options) *Consumer {
	if o.Store == nil {
		panic(xerrors.New("event store is required"))
	}
	if o.Extractor == nil {
		panic(xerrors.New("extractor is required"))
	}
	if o.DeadLetters == nil {
		panic(xerrors.New("dead-letter sink is required"))
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = DefaultMaxDeliveries
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Consumer{
		store:         o.Store,
		extractor:     o.Extractor,
		dlq:           o.DeadLetters,
		fresh:         o.Freshness,
		notifier:      o.Notifier,
		hooks:         o.Hooks,
		logger:        o.Logger,
		maxDeliveries: o.MaxDeliveries,
		workers:       o.Workers,
		now:           o.Now,
	}
}

// Run pulls from src until ctx is cancelled, handling up to Workers
// deliveries at once. It only fetches as many messages as there are free
// workers, so nothing waits unprocessed while its ack deadline runs.
// In-flight deliveries are finished on a context that is not cancelled with
// ctx, so a shutdown never abandons a half-processed message. Run returns
// once every in-flight delivery is settled.
func (c *Consumer) Run(ctx context.Context, src Source) error {
	work := context.WithoutCancel(ctx)
	slots := make(chan struct{}, c.workers)

	var g errgroup.Group
	for {
		n := acquire(ctx, slots)
		if n == 0 {
			break
		}

		batch, err := src.Fetch(ctx, n)

		// A backend may hand back messages together with an error. They
		// are already delivered and must be settled like any other.
		for i := n; i < len(batch); i++ {
			slots <- struct{}{}
		}
		for i := len(batch); i < n; i++ {
			<-slots
		}
		for _, d := range batch {
			g.Go(func() error {
				defer func() { <-slots }()
				c.Handle(work, d)
				return nil
			})
		}

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn(ctx, "queue fetch failed", "error", err, "delivered", len(batch))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}

	return g.Wait()
}

// acquire blocks for one free worker slot, then takes any others that are
// free without waiting. It returns 0 once ctx is done.
func acquire(ctx context.Context, slots chan struct{}) int {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return 0
	}
	if ctx.Err() != nil {
		<-slots
		return 0
	}
	n := 1
	for n < cap(slots) {
		select {
		case slots <- struct{}{}:
			n++
		default:
			return n
		}
	}
	return n
}

// SettleBudget is the longest one delivery can take to settle when every
// LLM call runs to llmTimeout, plus slack for the store and queue round
// trips.
func SettleBudget(llmTimeout time.Duration) time.Duration {
	return time.Duration(extract.MaxAttempts)*llmTimeout + settleSlack
}

// Handle processes one delivery end to end and settles it.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Outcome {
	o := c.handle(ctx, d)
	if c.hooks.OnOutcome != nil {
		c.hooks.OnOutcome(o)
	}
	return o
}

func (c *Consumer) handle(ctx context.Context, d Delivery) Outcome {
	a, err := article.Decode(d.Data())
	if err != nil {
		L := c.logger.With("attempt", d.Attempt())
		L.Warn(ctx, "dropping invalid article", "error", err)
		return c.deadLetter(ctx, L, d, &DeadLetter{
			Reason:  ReasonInvalidPayload,
			Error:   err.Error(),
			Payload: truncate(string(d.Data()), maxPayloadKept),
		})
	}

	fp := a.Fingerprint()
	L := c.logger.With("fingerprint", fp, "source_url", a.SourceURL, "attempt", d.Attempt())
	failed := func(reason string, err error) *DeadLetter {
		return &DeadLetter{Reason: reason, Error: err.Error(), Fingerprint: fp, Article: a}
	}

	if c.fresh != nil {
		fresh, err := c.fresh.Fresh(ctx, fp)
		if err != nil {
			L.Warn(ctx, "freshness lookup failed", "error", err)
			return c.retry(ctx, L, d, failed(ReasonFreshness, err))
		}
		if fresh {
			c.ack(ctx, L, d)
			return OutcomeSkipped
		}
	}

	x, err := c.extractor.Extract(ctx, a)
	if err != nil {
		dl := failed(ReasonProvider, err)
		var xerr *extract.Error
		if errors.As(err, &xerr) {
			dl.LLMAttempts = xerr.Attempts
			switch xerr.Kind {
			case extract.KindMalformedResponse:
				dl.Reason = ReasonMalformedResponse
				dl.RawResponse = xerr.Raw
				L.Warn(ctx, "llm output unparseable, dead-lettering", "llm_attempts", xerr.Attempts)
				return c.deadLetter(ctx, L, d, dl)
			case extract.KindTimeout:
				dl.Reason = ReasonTimeout
			}
		}
		L.Warn(ctx, "extraction failed", "reason", dl.Reason, "error", err)
		return c.retry(ctx, L, d, dl)
	}

	fields, coercions := event.Validate(x.Fields)
	for _, co := range coercions {
		L.Warn(ctx, "validation degraded", "field", co.Field, "reason", co.Reason, "value", co.Value)
		if c.hooks.OnCoercion != nil {
			c.hooks.OnCoercion(co.Field)
		}
	}

	ev := event.NewEvent(fields, event.Source{
		Title:       a.Title,
		URL:         a.SourceURL,
		Fingerprint: fp,
	}, c.now().UTC())

	if err := c.store.Upsert(ctx, ev); err != nil {
		L.Error(ctx, err, "event upsert failed")
		return c.retry(ctx, L, d, failed(ReasonStore, err))
	}

	if c.fresh != nil {
		if err := c.fresh.Mark(ctx, fp); err != nil {
			L.Warn(ctx, "freshness mark failed", "error", err)
		}
	}
	c.ack(ctx, L, d)

	L.Info(ctx, "event stored",
		"risk_score", ev.RiskScore,
		"risk_level", ev.Level(),
		"state", ev.State,
		"llm_attempts", x.Attempts,
		"coercions", len(coercions),
	)
	if c.hooks.OnStored != nil {
		c.hooks.OnStored(ev)
	}

	if c.notifier != nil && ev.Level() == event.LevelCritical {
		if err := c.notifier.Notify(ctx, ev); err != nil {
			L.Warn(ctx, "critical event notification failed", "error", err)
		}
	}

	return OutcomeStored
}

// retry requeues d with backoff, or dead-letters it once the delivery
// budget is spent.
func (c *Consumer) retry(ctx context.Context, L log.Logger, d Delivery, dl *DeadLetter) Outcome {
	if d.Attempt() >= c.maxDeliveries {
		L.Warn(ctx, "delivery budget exhausted", "max_deliveries", c.maxDeliveries, "reason", dl.Reason)
		return c.deadLetter(ctx, L, d, dl)
	}
	c.requeue(ctx, L, d)
	return OutcomeRequeued
}

// deadLetter writes dl and acks d. If the write fails the message is
// requeued instead so it is never lost.
func (c *Consumer) deadLetter(ctx context.Context, L log.Logger, d Delivery, dl *DeadLetter) Outcome {
	dl.ID = ulid.Make().String()
	dl.Deliveries = d.Attempt()
	dl.FailedAt = c.now().UTC()

	if err := c.dlq.Write(ctx, dl); err != nil {
		L.Error(ctx, err, "dead-letter write failed, requeueing", "reason", dl.Reason)
		c.requeue(ctx, L, d)
		return OutcomeRequeued
	}
	if c.hooks.OnDeadLetter != nil {
		c.hooks.OnDeadLetter(dl.Reason)
	}
	c.ack(ctx, L, d)
	return OutcomeDeadLettered
}

func (c *Consumer) requeue(ctx context.Context, L log.Logger, d Delivery) {
	delay := RequeueDelay(d.Attempt())
	if err := d.Requeue(ctx, delay); err != nil {
		L.Error(ctx, err, "requeue failed")
	}
}

// Ack failures are logged only: the message is redelivered and the upsert
// is idempotent.
func (c *Consumer) ack(ctx context.Context, L log.Logger, d Delivery) {
	if err := d.Ack(ctx); err != nil {
		L.Warn(ctx, "ack failed", "error", err)
	}
}

// RequeueDelay is the wait before redelivering a message that failed on
// the given 1-based attempt: 2s doubling per attempt, capped at 5m.
func RequeueDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     requeueInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         requeueMax,
	}
	b.Reset()

	d := requeueInitial
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func truncate(s string, n int) string {
	return article.Truncate(s, n)
}

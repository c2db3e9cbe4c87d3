// Package natsq backs the article queue and the dead-letter queue with NATS
// JetStream. Articles go to a work-queue stream consumed by a durable pull
// consumer; dead letters go to a separate limits-retention stream so they
// can be listed and replayed.
package natsq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

const (
	// DefaultAckWait is the floor for Options.AckWait.
	DefaultAckWait = 2 * time.Minute

	// DuplicateWindow is how long publishes with the same fingerprint are
	// collapsed by the server.
	DuplicateWindow = 10 * time.Minute

	fetchWait     = time.Second
	listWait      = 2 * time.Second
	articleAge    = 7 * 24 * time.Hour
	deadLetterAge = 30 * 24 * time.Hour
)

var (
	_ ingest.Source           = (*Client)(nil)
	_ ingest.Publisher        = (*Client)(nil)
	_ ingest.DeadLetterSink   = (*Client)(nil)
	_ ingest.DeadLetterLister = (*Client)(nil)
)

// Options names the JetStream resources.
type Options struct {
	URL      string
	Stream   string
	Subject  string
	Consumer string

	// MaxAckPending caps unacknowledged messages for this consumer.
	MaxAckPending int

	// AckWait is how long the server waits for a settle before redelivering.
	// It must cover a full extraction run (see ingest.SettleBudget) or a
	// slow message is handed to a second worker while the first still holds
	// it. Values below DefaultAckWait are raised to it.
	AckWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAckPending <= 0 {
		o.MaxAckPending = 64
	}
	if o.AckWait < DefaultAckWait {
		o.AckWait = DefaultAckWait
	}
	return o
}

// DeadLetterStream is the name of the dead-letter stream for o.
func (o Options) DeadLetterStream() string { return o.Stream + "_DLQ" }

// DeadLetterSubject is the subject a dead letter with reason is published to.
func (o Options) DeadLetterSubject(reason string) string {
	return o.deadLetterPrefix() + "." + sanitizeToken(reason)
}

func (o Options) deadLetterPrefix() string { return "dlq." + o.Subject }

// Client implements ingest.Source, ingest.Publisher, ingest.DeadLetterSink,
// and ingest.DeadLetterLister on JetStream.
type Client struct {
	opts   Options
	nc     *nats.Conn
	js     jetstream.JetStream
	dlq    jetstream.Stream
	cons   jetstream.Consumer
	logger log.Logger
}

// Connect dials NATS and creates or updates the article stream, the
// dead-letter stream, and the durable consumer.
func Connect(ctx context.Context, o Options, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	o = o.withDefaults()

	nc, err := nats.Connect(o.URL,
		nats.Name("conflictwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(context.Background(), "nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	c, err := setup(ctx, nc, o, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func setup(ctx context.Context, nc *nats.Conn, o Options, logger log.Logger) (*Client, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       o.Stream,
		Subjects:   []string{o.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     articleAge,
		Duplicates: DuplicateWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", o.Stream, err)
	}

	dlq, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      o.DeadLetterStream(),
		Subjects:  []string{o.deadLetterPrefix() + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    deadLetterAge,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", o.DeadLetterStream(), err)
	}

	// Redelivery limits are enforced by the consumer code, which dead-letters
	// on its own budget; the server redelivers indefinitely.
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          o.Consumer,
		Durable:       o.Consumer,
		FilterSubject: o.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       o.AckWait,
		MaxDeliver:    -1,
		MaxAckPending: o.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", o.Consumer, err)
	}

	logger.Info(ctx, "jetstream ready",
		"stream", o.Stream,
		"subject", o.Subject,
		"consumer", o.Consumer,
		"ack_wait", o.AckWait.String(),
		"dlq_stream", o.DeadLetterStream(),
	)

	return &Client{
		opts:   o,
		nc:     nc,
		js:     js,
		dlq:    dlq,
		cons:   cons,
		logger: logger,
	}, nil
}

// Healthy reports whether the connection to NATS is up.
func (c *Client) Healthy() bool {
	return c.nc.IsConnected()
}

// Close drains the connection, letting pending acks flush.
func (c *Client) Close() error {
	return c.nc.Drain()
}

// sanitizeToken makes s safe as a single subject token.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

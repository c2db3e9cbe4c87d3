package natsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

// Fetch pulls up to max messages, waiting at most one second. An empty
// batch is not an error. If the pull fails part way, the messages already
// received are returned with the error and still have to be settled.
func (c *Client) Fetch(ctx context.Context, max int) ([]ingest.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	batch, err := c.cons.Fetch(max, jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var out []ingest.Delivery
	for msg := range batch.Messages() {
		out = append(out, newDelivery(msg))
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

// Publish enqueues an article. The fingerprint is used as the message ID so
// repeated submissions inside DuplicateWindow are stored once.
func (c *Client) Publish(ctx context.Context, a *article.RawArticle) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}
	if _, err := c.js.Publish(ctx, c.opts.Subject, data, jetstream.WithMsgID(a.Fingerprint())); err != nil {
		return fmt.Errorf("publish article: %w", err)
	}
	return nil
}

type delivery struct {
	msg     jetstream.Msg
	attempt int
}

func newDelivery(msg jetstream.Msg) *delivery {
	d := &delivery{msg: msg, attempt: 1}
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		d.attempt = int(meta.NumDelivered)
	}
	return d
}

func (d *delivery) Data() []byte { return d.msg.Data() }
func (d *delivery) Attempt() int { return d.attempt }

// Ack waits for the server to confirm so a settled message is not
// redelivered after a lost ack.
func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) Requeue(_ context.Context, delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

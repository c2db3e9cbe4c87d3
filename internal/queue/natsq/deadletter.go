package natsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

// Stats describes the dead-letter stream.
type Stats struct {
	Messages uint64 `json:"messages"`
	Bytes    uint64 `json:"bytes"`
	FirstSeq uint64 `json:"first_seq"`
	LastSeq  uint64 `json:"last_seq"`
}

// Write publishes a dead letter to dlq.<subject>.<reason>.
func (c *Client) Write(ctx context.Context, dl *ingest.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if _, err := c.js.Publish(ctx, c.opts.DeadLetterSubject(dl.Reason), data, jetstream.WithMsgID(dl.ID)); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent dead letters, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]*ingest.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	info, err := c.dlq.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return []*ingest.DeadLetter{}, nil
	}

	start := info.State.FirstSeq
	if info.State.LastSeq >= uint64(limit) && info.State.LastSeq-uint64(limit)+1 > start {
		start = info.State.LastSeq - uint64(limit) + 1
	}

	cons, err := c.js.OrderedConsumer(ctx, c.opts.DeadLetterStream(), jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   start,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := cons.Fetch(limit, jetstream.FetchMaxWait(listWait))
	if err != nil {
		return nil, fmt.Errorf("fetch dead letters: %w", err)
	}

	out := make([]*ingest.DeadLetter, 0, limit)
	for msg := range batch.Messages() {
		var dl ingest.DeadLetter
		if err := json.Unmarshal(msg.Data(), &dl); err != nil {
			c.logger.Warn(ctx, "skipping unreadable dead letter", "subject", msg.Subject(), "error", err)
			continue
		}
		out = append(out, &dl)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, fmt.Errorf("fetch dead letters: %w", err)
	}

	slices.Reverse(out)
	return out, nil
}

// Stats returns the dead-letter stream's size and sequence range.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	info, err := c.dlq.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter stream info: %w", err)
	}
	return &Stats{
		Messages: info.State.Msgs,
		Bytes:    info.State.Bytes,
		FirstSeq: info.State.FirstSeq,
		LastSeq:  info.State.LastSeq,
	}, nil
}

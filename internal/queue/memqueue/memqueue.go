// Package memqueue is an in-process article queue and dead-letter sink for
// development and tests. Requeued messages are redelivered after their delay
// with the attempt count incremented.
package memqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/conflictwatch/internal/article"
	"github.com/linnemanlabs/conflictwatch/internal/ingest"
)

// DefaultCapacity bounds the number of queued messages.
const DefaultCapacity = 1024

type message struct {
	data    []byte
	attempt int
}

var (
	_ ingest.Source           = (*Queue)(nil)
	_ ingest.Publisher        = (*Queue)(nil)
	_ ingest.DeadLetterSink   = (*Queue)(nil)
	_ ingest.DeadLetterLister = (*Queue)(nil)
)

// Queue implements ingest.Source, ingest.Publisher, ingest.DeadLetterSink,
// and ingest.DeadLetterLister.
type Queue struct {
	ch chan message

	mu   sync.Mutex
	dead []*ingest.DeadLetter
}

// New creates a queue holding up to capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan message, capacity)}
}

// Publish enqueues an article, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, a *article.RawArticle) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}
	return q.PublishRaw(ctx, data)
}

// PublishRaw enqueues an arbitrary payload.
func (q *Queue) PublishRaw(ctx context.Context, data []byte) error {
	select {
	case q.ch <- message{data: data, attempt: 1}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch waits for at least one message, then returns up to max without
// blocking further.
func (q *Queue) Fetch(ctx context.Context, max int) ([]ingest.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	var out []ingest.Delivery
	select {
	case m := <-q.ch:
		out = append(out, q.delivery(m))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(out) < max {
		select {
		case m := <-q.ch:
			out = append(out, q.delivery(m))
		default:
			return out, nil
		}
	}
	return out, nil
}

// Len is the number of messages waiting, excluding delayed requeues.
func (q *Queue) Len() int { return len(q.ch) }

// Write records a dead letter.
func (q *Queue) Write(_ context.Context, dl *ingest.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, dl)
	return nil
}

// List returns the most recent dead letters, newest first.
func (q *Queue) List(_ context.Context, limit int) ([]*ingest.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.dead)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*ingest.DeadLetter, 0, n)
	for i := len(q.dead) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

func (q *Queue) delivery(m message) *delivery {
	return &delivery{q: q, msg: m}
}

type delivery struct {
	q       *Queue
	msg     message
	settled sync.Once
}

func (d *delivery) Data() []byte { return d.msg.data }
func (d *delivery) Attempt() int { return d.msg.attempt }

func (d *delivery) Ack(context.Context) error {
	d.settled.Do(func() {})
	return nil
}

func (d *delivery) Requeue(_ context.Context, delay time.Duration) error {
	d.settled.Do(func() {
		next := message{data: d.msg.data, attempt: d.msg.attempt + 1}
		time.AfterFunc(delay, func() { d.q.ch <- next })
	})
	return nil
}

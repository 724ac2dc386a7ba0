// Package queue is the durable hand-off between pipeline stages, backed by a
// redis list per stage. Delivery is best-effort by design: every stage also
// polls its store for rows left behind, so a lost notification delays work
// but never loses it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
)

// ErrEmpty reports that no message arrived within the pop timeout.
var ErrEmpty = errors.New("queue empty")

// Message is one hand-off notification: which row to pick up, for which
// tenant. Stages reload the row from their store; the queue never carries
// payloads.
type Message struct {
	ID     uuid.UUID       `json:"id"`
	Tenant domain.TenantID `json:"tenant"`
}

// Queue is one named stage intake.
type Queue struct {
	client   *redis.Client
	key      string
	maxDepth int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxDepth bounds the queue; Push returns ErrUnavailable beyond it so
// producers feel backpressure instead of redis growing without bound.
func WithMaxDepth(n int64) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxDepth = n
		}
	}
}

// New builds a stage queue on the given redis list key.
func New(client *redis.Client, key string, opts ...Option) *Queue {
	q := &Queue{client: client, key: key, maxDepth: 100_000}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push enqueues one notification.
func (q *Queue) Push(ctx context.Context, msg Message) error {
	depth, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return fmt.Errorf("queue %s depth: %v: %w", q.key, err, sentinel.ErrUnavailable)
	}
	if depth >= q.maxDepth {
		return fmt.Errorf("queue %s full (%d): %w", q.key, depth, sentinel.ErrUnavailable)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("queue %s push: %v: %w", q.key, err, sentinel.ErrUnavailable)
	}
	return nil
}

// Pop blocks up to timeout for one notification. Returns ErrEmpty on
// timeout so worker loops can fall through to their poll fallback.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Message, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return Message{}, ErrEmpty
	}
	if err != nil {
		return Message{}, fmt.Errorf("queue %s pop: %v: %w", q.key, err, sentinel.ErrUnavailable)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return Message{}, fmt.Errorf("queue %s pop: unexpected reply length %d", q.key, len(res))
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return Message{}, fmt.Errorf("decode queue message: %w", err)
	}
	return msg, nil
}

// Depth reports the current queue length, exported as a gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s depth: %v: %w", q.key, err, sentinel.ErrUnavailable)
	}
	return depth, nil
}

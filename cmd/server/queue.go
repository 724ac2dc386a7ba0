package main

import (
	"context"
	"fmt"
	"time"

	"tributary/internal/pipeline/queue"
	"tributary/pkg/platform/sentinel"
)

// stageQueue is what a stage hand-off must provide: producers push, pool
// workers pop, the metrics collector samples depth. Satisfied by the redis
// queue and by the in-process loopback below.
type stageQueue interface {
	Push(ctx context.Context, msg queue.Message) error
	Pop(ctx context.Context, timeout time.Duration) (queue.Message, error)
	Depth(ctx context.Context) (int64, error)
}

// loopback is the single-process stand-in for the redis queue, used when no
// redis URL is configured. Same contract: bounded, best-effort, the poll
// fallback covers anything dropped.
type loopback struct {
	ch chan queue.Message
}

func newLoopback(depth int) *loopback {
	if depth <= 0 {
		depth = 1024
	}
	return &loopback{ch: make(chan queue.Message, depth)}
}

func (q *loopback) Push(_ context.Context, msg queue.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return fmt.Errorf("loopback queue full: %w", sentinel.ErrUnavailable)
	}
}

func (q *loopback) Pop(ctx context.Context, timeout time.Duration) (queue.Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-time.After(timeout):
		return queue.Message{}, queue.ErrEmpty
	case <-ctx.Done():
		return queue.Message{}, ctx.Err()
	}
}

func (q *loopback) Depth(_ context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

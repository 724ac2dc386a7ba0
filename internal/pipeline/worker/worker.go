// Package worker runs the consumer pools that drive the staging and
// conformance stages. Each pool blocks on its stage queue and falls back to
// polling its store, so a lost notification or a crashed worker only delays
// a row, never strands it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tributary/internal/pipeline/queue"
)

const (
	defaultWorkers      = 4
	defaultPopTimeout   = 5 * time.Second
	defaultPollInterval = 30 * time.Second
	defaultOpTimeout    = 30 * time.Second
)

// Handler processes one queued notification.
type Handler func(ctx context.Context, msg queue.Message) error

// PollFunc recovers rows the queue missed: it claims eligible rows from the
// stage's store, processes them, and reports how many it handled.
type PollFunc func(ctx context.Context) (int, error)

// Source is the blocking intake the pool consumes, implemented by
// pipeline/queue.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (queue.Message, error)
}

// Pool is one stage's consumer group plus its poll fallback.
type Pool struct {
	name    string
	source  Source
	handler Handler
	poll    PollFunc

	workers      int
	popTimeout   time.Duration
	pollInterval time.Duration
	opTimeout    time.Duration
	logger       *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the consumer count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPollInterval sets how often the fallback poller runs.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithOpTimeout bounds each message's handling time.
func WithOpTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.opTimeout = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool builds a named stage pool. The poll func may be nil for pools whose
// stage has no store-side recovery.
func NewPool(name string, source Source, handler Handler, poll PollFunc, opts ...Option) (*Pool, error) {
	if name == "" {
		return nil, fmt.Errorf("worker: pool name is required")
	}
	if source == nil {
		return nil, fmt.Errorf("worker: source is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("worker: handler is required")
	}
	p := &Pool{
		name:         name,
		source:       source,
		handler:      handler,
		poll:         poll,
		workers:      defaultWorkers,
		popTimeout:   defaultPopTimeout,
		pollInterval: defaultPollInterval,
		opTimeout:    defaultOpTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run blocks until ctx is cancelled, running the consumers and the poller.
// Handler failures are logged and counted, never fatal; the row's own retry
// budget decides when it stops coming back.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.consume(ctx)
		})
	}
	if p.poll != nil {
		g.Go(func() error {
			return p.pollLoop(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *Pool) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := p.source.Pop(ctx, p.popTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("queue pop failed", "pool", p.name, "error", err)
			// Back off instead of hammering a broken intake.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		p.handle(ctx, msg)
	}
}

func (p *Pool) handle(ctx context.Context, msg queue.Message) {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	start := time.Now()
	err := p.handler(opCtx, msg)
	handleSeconds.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	if err != nil {
		handledTotal.WithLabelValues(p.name, "error").Inc()
		p.logger.Error("message handling failed",
			"pool", p.name,
			"id", msg.ID,
			"tenant", msg.Tenant,
			"error", err,
		)
		return
	}
	handledTotal.WithLabelValues(p.name, "ok").Inc()
}

func (p *Pool) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
			handled, err := p.poll(opCtx)
			cancel()
			if err != nil {
				p.logger.Warn("poll fallback failed", "pool", p.name, "error", err)
				continue
			}
			if handled > 0 {
				polledTotal.WithLabelValues(p.name).Add(float64(handled))
				p.logger.Info("poll fallback recovered rows", "pool", p.name, "count", handled)
			}
		}
	}
}

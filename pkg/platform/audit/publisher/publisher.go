// Package publisher implements audit.Sink over an audit.Store, optionally
// buffering events on a background goroutine so emission never blocks the
// pipeline's hot path.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "tributary/pkg/platform/audit"
	"tributary/pkg/domain"
)

// Publisher fans audit events into a Store. In sync mode Emit appends
// directly; with an async buffer Emit enqueues and a worker drains. A full
// buffer falls back to a synchronous append rather than dropping the event.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	inbox chan audit.Event
	wg    sync.WaitGroup
	once  sync.Once
	done  chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables background appends with the given buffer size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan audit.Event, size)
		}
	}
}

// WithLogger sets the logger used for append failures on the async path.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher builds a publisher over the given store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records one audit event. Timestamp and category are filled in when
// the caller left them zero.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		// Buffer full; degrade to a synchronous append so nothing is lost.
		return p.store.Append(ctx, event)
	}
}

// List returns events for one tenant, for tests and diagnostics.
func (p *Publisher) List(ctx context.Context, tenant domain.TenantID) ([]audit.Event, error) {
	return p.store.ListByTenant(ctx, tenant)
}

// Close stops the background worker after draining buffered events.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.done)
		if p.inbox != nil {
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for {
		select {
		case event := <-p.inbox:
			p.append(event)
		case <-p.done:
			for {
				select {
				case event := <-p.inbox:
					p.append(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) append(event audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("audit append failed",
			"action", event.Action,
			"resource_type", event.ResourceType,
			"error", err,
		)
	}
}

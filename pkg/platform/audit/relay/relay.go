// Package relay moves committed audit outbox rows to Kafka. Kafka is the
// transport downstream audit consumers read from; the pipeline itself only
// ever talks to the audit.Sink interface, so the relay can lag or restart
// without affecting ingestion.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"tributary/pkg/platform/audit/store/postgres"
)

// Outbox is the slice of the postgres audit store the relay needs.
type Outbox interface {
	ListUnpublished(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Relay polls the outbox and produces unpublished entries to one topic.
// Delivery is at-least-once: rows are marked published only after ProduceSync
// succeeds, so duplicates are possible and consumers dedupe on event ID.
type Relay struct {
	outbox    Outbox
	client    *kgo.Client
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger

	published prometheus.Counter
	failures  prometheus.Counter
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBatchSize bounds how many rows one poll drains.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// New connects a Kafka producer and ensures the audit topic exists.
func New(brokers []string, topic string, outbox Outbox, opts ...Option) (*Relay, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := kadm.NewClient(client)
	if _, err := admin.CreateTopic(ctx, 3, 1, nil, topic); err != nil {
		// Topic may already exist; anything else is reported on first produce.
		slog.Default().Debug("audit topic create", "topic", topic, "result", err)
	}

	r := &Relay{
		outbox:    outbox,
		client:    client,
		topic:     topic,
		batchSize: 256,
		interval:  time.Second,
		logger:    slog.Default(),
		published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tributary_audit_relay_published_total",
			Help: "Audit outbox entries delivered to Kafka.",
		}),
		failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tributary_audit_relay_failures_total",
			Help: "Audit outbox publish attempts that failed.",
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run drains the outbox until the context ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.client.Close()
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.failures.Inc()
				r.logger.Error("audit relay drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	entries, err := r.outbox.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("list unpublished: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(entries))
	ids := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		// Keyed by tenant so per-tenant ordering survives partitioning.
		records[i] = &kgo.Record{
			Topic: r.topic,
			Key:   []byte(entry.Tenant),
			Value: entry.Payload,
		}
		ids[i] = entry.ID
	}

	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	if err := r.outbox.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("ack audit batch: %w", err)
	}
	r.published.Add(float64(len(entries)))
	return nil
}

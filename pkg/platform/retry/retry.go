// Package retry is the shared bounded-retry utility used by all three
// pipeline stages. Stages differ only in how they classify an error as
// retryable; the backoff shape and attempt accounting live here.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tributary/pkg/platform/sentinel"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Transient is the default classifier: storage/queue unavailability and
// optimistic write conflicts are retryable, everything else is not.
func Transient(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, sentinel.ErrConflict)
}

// Policy bounds a retry loop. The zero value is not usable; build one with New.
type Policy struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	retryable       Classifier
}

// Option configures a Policy.
type Option func(*Policy)

// WithClassifier replaces the default Transient classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Policy) {
		if c != nil {
			p.retryable = c
		}
	}
}

// WithIntervals overrides the backoff bounds.
func WithIntervals(initial, max time.Duration) Option {
	return func(p *Policy) {
		p.initialInterval = initial
		p.maxInterval = max
	}
}

// New builds a policy allowing maxAttempts total attempts (the first call
// counts as one).
func New(maxAttempts int, opts ...Option) Policy {
	p := Policy{
		maxAttempts:     maxAttempts,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     5 * time.Second,
		retryable:       Transient,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Do runs op until it succeeds, fails non-retryably, exhausts the attempt
// budget, or the context ends. The last error is returned unwrapped so
// callers can errors.Is against sentinels.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialInterval
	bo.MaxInterval = p.maxInterval
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall clock

	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !p.retryable(err) || attempts >= p.maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}

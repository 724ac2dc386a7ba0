package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tributary/pkg/platform/sentinel"
)

func fastPolicy(attempts int, opts ...Option) Policy {
	opts = append([]Option{WithIntervals(time.Millisecond, 2*time.Millisecond)}, opts...)
	return New(attempts, opts...)
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("store: %w", sentinel.ErrUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnFatalError(t *testing.T) {
	calls := 0
	fatal := fmt.Errorf("reject: %w", sentinel.ErrTenantScope)
	err := fastPolicy(5).Do(context.Background(), func() error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, sentinel.ErrTenantScope)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, sentinel.ErrConflict)
	})
	require.ErrorIs(t, err, sentinel.ErrConflict)
	assert.Equal(t, 4, calls)
}

func TestDo_CustomClassifier(t *testing.T) {
	marker := errors.New("flaky")
	calls := 0
	policy := fastPolicy(3, WithClassifier(func(err error) bool {
		return errors.Is(err, marker)
	}))
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return marker
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := New(3, WithIntervals(time.Second, time.Second)).Do(ctx, func() error {
		return fmt.Errorf("never settles: %w", sentinel.ErrUnavailable)
	})
	require.Error(t, err)
}

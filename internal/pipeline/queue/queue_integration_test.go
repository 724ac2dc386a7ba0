//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tributary/internal/pipeline/queue"
	"tributary/pkg/domain"
	"tributary/pkg/platform/sentinel"
	"tributary/pkg/testutil/containers"
)

type QueueRedisSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestQueueRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(QueueRedisSuite))
}

func (s *QueueRedisSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *QueueRedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *QueueRedisSuite) TestPushPopRoundTrip() {
	ctx := context.Background()
	q := queue.New(s.redis.Client, "tributary:queue:test")

	msg := queue.Message{ID: uuid.New(), Tenant: domain.TenantID("acme")}
	s.Require().NoError(q.Push(ctx, msg))

	got, err := q.Pop(ctx, time.Second)
	s.Require().NoError(err)
	s.Equal(msg, got)
}

func (s *QueueRedisSuite) TestPopOrderIsFIFO() {
	ctx := context.Background()
	q := queue.New(s.redis.Client, "tributary:queue:test")

	first := queue.Message{ID: uuid.New(), Tenant: domain.TenantID("acme")}
	second := queue.Message{ID: uuid.New(), Tenant: domain.TenantID("acme")}
	s.Require().NoError(q.Push(ctx, first))
	s.Require().NoError(q.Push(ctx, second))

	got, err := q.Pop(ctx, time.Second)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)

	got, err = q.Pop(ctx, time.Second)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)
}

func (s *QueueRedisSuite) TestPopTimesOutEmpty() {
	ctx := context.Background()
	q := queue.New(s.redis.Client, "tributary:queue:test")

	start := time.Now()
	_, err := q.Pop(ctx, time.Second)
	s.Require().ErrorIs(err, queue.ErrEmpty)
	s.GreaterOrEqual(time.Since(start), time.Second)
}

func (s *QueueRedisSuite) TestPushBackpressureAtMaxDepth() {
	ctx := context.Background()
	q := queue.New(s.redis.Client, "tributary:queue:test", queue.WithMaxDepth(2))

	for i := 0; i < 2; i++ {
		s.Require().NoError(q.Push(ctx, queue.Message{ID: uuid.New(), Tenant: domain.TenantID("acme")}))
	}
	err := q.Push(ctx, queue.Message{ID: uuid.New(), Tenant: domain.TenantID("acme")})
	s.Require().ErrorIs(err, sentinel.ErrUnavailable)

	depth, err := q.Depth(ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), depth)
}

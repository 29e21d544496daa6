package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	factory, _ := newTestFactory(t, newRecordingBuilder(nil))
	checker := NewHealthChecker(factory)

	result := checker.Check(context.Background())
	assert.Equal(t, HealthStatusDown, result.Status)
	assert.EqualError(t, result.Error, "producer factory is not running")

	factory.Start()
	result = checker.Check(context.Background())
	assert.Equal(t, HealthStatusUp, result.Status)
	assert.Equal(t, true, result.Details["running"])
	assert.Equal(t, false, result.Details["singletonActive"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result = checker.Check(ctx)
	assert.Equal(t, HealthStatusDown, result.Status)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestHealthCheckTopic(t *testing.T) {
	builder := newRecordingBuilder(func(p *mockProducer) {
		p.On("PartitionsFor", "orders").Return([]PartitionInfo{
			{Topic: "orders", ID: 0, Leader: 1, Replicas: []int32{1, 2}, ISRs: []int32{1}},
			{Topic: "orders", ID: 1, Leader: 2, Replicas: []int32{1, 2}, ISRs: []int32{1, 2}},
		}, nil)
		p.On("PartitionsFor", "missing").Return(nil, errors.New("unknown topic"))
	})
	factory, _ := newTestFactory(t, builder)
	checker := NewHealthChecker(factory)

	result := checker.CheckTopic(context.Background(), "orders")
	require.Equal(t, HealthStatusUp, result.Status)
	assert.Equal(t, 2, result.Details["partitionCount"])
	assert.Len(t, result.Details["partitions"], 2)

	result = checker.CheckTopic(context.Background(), "missing")
	assert.Equal(t, HealthStatusDown, result.Status)
	assert.Equal(t, "missing", result.Details["topic"])
	assert.Equal(t, "unknown topic", result.Details["error"])

	assert.Equal(t, 1, builder.count(), "the shared producer is reused")
	builder.producer(0).AssertNotCalled(t, "CloseTimeout", mock.Anything)
}

func TestHealthCheckTopicReturnsPooledProducer(t *testing.T) {
	builder := newRecordingBuilder(func(p *mockProducer) {
		expectTransactional(p)
		p.On("PartitionsFor", "orders").Return([]PartitionInfo{{Topic: "orders"}}, nil)
	})
	factory, _ := newTestFactory(t, builder, WithTransactionIDPrefix("health-"))
	checker := NewHealthChecker(factory)

	result := checker.CheckTopic(context.Background(), "orders")
	require.Equal(t, HealthStatusUp, result.Status)
	assert.Equal(t, 1, factory.Stats().CachedProducers)
	require.NoError(t, factory.Destroy())
}

func TestHealthCheckTopicBuildFailure(t *testing.T) {
	builder := newRecordingBuilder(nil)
	builder.err = errors.New("no brokers reachable")
	factory, _ := newTestFactory(t, builder)

	result := NewHealthChecker(factory).CheckTopic(context.Background(), "orders")
	assert.Equal(t, HealthStatusDown, result.Status)
	assert.ErrorContains(t, result.Error, "no brokers reachable")
}

func TestHealthCheckTopicTimeoutKeepsProducerUntilLookupReturns(t *testing.T) {
	release := make(chan time.Time)
	builder := newRecordingBuilder(func(p *mockProducer) {
		expectTransactional(p)
		p.On("PartitionsFor", "orders").WaitUntil(release).Return([]PartitionInfo{{Topic: "orders"}}, nil)
	})
	factory, _ := newTestFactory(t, builder, WithTransactionIDPrefix("health-"))
	checker := NewHealthChecker(factory)
	checker.SetTimeout(20 * time.Millisecond)

	result := checker.CheckTopic(context.Background(), "orders")
	assert.Equal(t, HealthStatusDown, result.Status)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	assert.Equal(t, 0, factory.Stats().CachedProducers, "producer is still in use")

	close(release)
	assert.Eventually(t, func() bool {
		return factory.Stats().CachedProducers == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, factory.Destroy())
}

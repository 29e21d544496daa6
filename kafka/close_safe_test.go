package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCloseSafeProducerForwards(t *testing.T) {
	ctx := context.Background()
	raw := &mockProducer{name: "raw"}
	p := newCloseSafeProducer(raw, nil)

	sendErr := errors.New("send failed")
	record := &Record{Topic: "orders"}
	topic := "orders"
	msg := &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}}
	offsets := []TopicPartition{{Topic: "in", Partition: 0, Offset: 42}}
	partitions := []PartitionInfo{{Topic: "orders", ID: 0, Leader: 1}}
	metrics := ProducerMetrics{MessagesProduced: 3, QueueLength: 1}

	raw.On("Send", ctx, record).Return(nil, sendErr)
	raw.On("Produce", msg, mock.Anything).Return(nil)
	raw.On("Flush", time.Second).Return(2)
	raw.On("PartitionsFor", "orders").Return(partitions, nil)
	raw.On("Metrics").Return(metrics)
	raw.On("InitTransactions", ctx).Return(nil)
	raw.On("BeginTransaction").Return(nil)
	raw.On("SendOffsetsToTransaction", ctx, offsets, "group").Return(nil)
	raw.On("CommitTransaction", ctx).Return(nil)
	raw.On("AbortTransaction", ctx).Return(errors.New("abort failed"))

	md, err := p.Send(ctx, record)
	assert.Nil(t, md)
	assert.ErrorIs(t, err, sendErr)
	assert.NoError(t, p.Produce(msg, nil))
	assert.Equal(t, 2, p.Flush(time.Second))

	got, err := p.PartitionsFor("orders")
	require.NoError(t, err)
	assert.Equal(t, partitions, got)
	assert.Equal(t, metrics, p.Metrics())

	assert.NoError(t, p.InitTransactions(ctx))
	assert.NoError(t, p.BeginTransaction())
	assert.NoError(t, p.SendOffsetsToTransaction(ctx, offsets, "group"))
	assert.NoError(t, p.CommitTransaction(ctx))
	assert.EqualError(t, p.AbortTransaction(ctx), "abort failed")

	raw.AssertExpectations(t)
}

func TestCloseSafeProducerNeverClosesDelegate(t *testing.T) {
	tests := []struct {
		name   string
		pool   *producerPool
		pooled int
	}{
		{name: "shared", pool: nil, pooled: 0},
		{name: "pooled", pool: newProducerPool(), pooled: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &mockProducer{}
			p := newCloseSafeProducer(raw, tt.pool)

			assert.NoError(t, p.Close())
			assert.NoError(t, p.CloseTimeout(time.Hour))

			raw.AssertNotCalled(t, "Close")
			raw.AssertNotCalled(t, "CloseTimeout", mock.Anything)
			if tt.pool != nil {
				assert.Equal(t, tt.pooled, tt.pool.Len())
			}
		})
	}
}

func TestCloseSafeProducerCheckoutAllowsRecycleAgain(t *testing.T) {
	pool := newProducerPool()
	p := newCloseSafeProducer(&mockProducer{}, pool)

	require.NoError(t, p.Close())
	got, ok := pool.poll()
	require.True(t, ok)
	got.checkout()

	require.NoError(t, got.Close())
	assert.Equal(t, 1, pool.Len())
}

func TestCloseSafeProducerPhysicalClose(t *testing.T) {
	raw := &mockProducer{}
	raw.On("CloseTimeout", 3*time.Second).Return(nil)

	p := newCloseSafeProducer(raw, nil)
	require.NoError(t, p.physicalClose(3*time.Second))
	raw.AssertExpectations(t)
}

func TestCloseSafeProducerString(t *testing.T) {
	p := newCloseSafeProducer(&mockProducer{name: "tx-7"}, nil)
	assert.Equal(t, "closeSafeProducer [delegate=mockProducer(tx-7)]", p.String())
}

func TestProducerPoolFIFO(t *testing.T) {
	pool := newProducerPool()

	_, ok := pool.poll()
	assert.False(t, ok, "empty poll must return immediately")

	a := newCloseSafeProducer(&mockProducer{name: "a"}, pool)
	b := newCloseSafeProducer(&mockProducer{name: "b"}, pool)
	pool.offer(a)
	pool.offer(b)
	assert.Equal(t, 2, pool.Len())

	first, _ := pool.poll()
	second, _ := pool.poll()
	assert.Same(t, a, first)
	assert.Same(t, b, second)
	assert.Equal(t, 0, pool.Len())
}

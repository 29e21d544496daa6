package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Verify closeSafeProducer implements Producer interface
var _ Producer = (*closeSafeProducer)(nil)

// closeSafeProducer is the handle returned by ProducerFactory.CreateProducer.
//
// Every operation except Close is forwarded to the delegate. Close never
// reaches the delegate: a handle without a pool ignores it and a pooled
// handle returns itself to the pool. Only the factory's shutdown path calls
// physicalClose.
type closeSafeProducer struct {
	delegate Producer
	pool     *producerPool

	// idle is true while the handle sits in the pool, so a handle that is
	// closed twice is recycled only once
	idle atomic.Bool
}

func newCloseSafeProducer(delegate Producer, pool *producerPool) *closeSafeProducer {
	return &closeSafeProducer{
		delegate: delegate,
		pool:     pool,
	}
}

// Send forwards to the delegate
func (p *closeSafeProducer) Send(ctx context.Context, record *Record) (*RecordMetadata, error) {
	return p.delegate.Send(ctx, record)
}

// Produce forwards to the delegate
func (p *closeSafeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	return p.delegate.Produce(msg, deliveryChan)
}

// Flush forwards to the delegate
func (p *closeSafeProducer) Flush(timeout time.Duration) int {
	return p.delegate.Flush(timeout)
}

// PartitionsFor forwards to the delegate
func (p *closeSafeProducer) PartitionsFor(topic string) ([]PartitionInfo, error) {
	return p.delegate.PartitionsFor(topic)
}

// Metrics forwards to the delegate
func (p *closeSafeProducer) Metrics() ProducerMetrics {
	return p.delegate.Metrics()
}

// InitTransactions forwards to the delegate
func (p *closeSafeProducer) InitTransactions(ctx context.Context) error {
	return p.delegate.InitTransactions(ctx)
}

// BeginTransaction forwards to the delegate
func (p *closeSafeProducer) BeginTransaction() error {
	return p.delegate.BeginTransaction()
}

// SendOffsetsToTransaction forwards to the delegate
func (p *closeSafeProducer) SendOffsetsToTransaction(ctx context.Context, offsets []TopicPartition, groupID string) error {
	return p.delegate.SendOffsetsToTransaction(ctx, offsets, groupID)
}

// CommitTransaction forwards to the delegate
func (p *closeSafeProducer) CommitTransaction(ctx context.Context) error {
	return p.delegate.CommitTransaction(ctx)
}

// AbortTransaction forwards to the delegate
func (p *closeSafeProducer) AbortTransaction(ctx context.Context) error {
	return p.delegate.AbortTransaction(ctx)
}

// Close returns a pooled handle to its pool and is a no-op otherwise.
// The underlying connection stays open.
func (p *closeSafeProducer) Close() error {
	if p.pool != nil && p.idle.CompareAndSwap(false, true) {
		p.pool.offer(p)
	}
	return nil
}

// CloseTimeout behaves like Close; the timeout is ignored because a logical
// close never blocks
func (p *closeSafeProducer) CloseTimeout(time.Duration) error {
	return p.Close()
}

// String implements fmt.Stringer
func (p *closeSafeProducer) String() string {
	return fmt.Sprintf("closeSafeProducer [delegate=%v]", p.delegate)
}

// checkout marks a handle taken from the pool as in use again
func (p *closeSafeProducer) checkout() *closeSafeProducer {
	p.idle.Store(false)
	return p
}

// physicalClose releases the underlying connection
func (p *closeSafeProducer) physicalClose(timeout time.Duration) error {
	return p.delegate.CloseTimeout(timeout)
}

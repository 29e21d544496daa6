package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Verify confluentProducer implements Producer interface
var _ Producer = (*confluentProducer)(nil)

// confluentProducer is a raw Producer backed by confluent-kafka-go
type confluentProducer struct {
	producer        *kafka.Producer
	keySerializer   Serializer
	valueSerializer Serializer
	transactionalID string
	tracer          *TracingService
	logger          Logger
	closed          atomic.Bool
	done            chan struct{}

	messagesProduced atomic.Int64
	bytesProduced    atomic.Int64
	errors           atomic.Int64
}

// NewConfluentProducerBuilder returns the default ProducerBuilder.
// tracer may be nil to disable tracing.
func NewConfluentProducerBuilder(logger Logger, tracer *TracingService) ProducerBuilder {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return func(configs map[string]any, keySerializer, valueSerializer Serializer) (Producer, error) {
		return newConfluentProducer(configs, keySerializer, valueSerializer, logger, tracer)
	}
}

func newConfluentProducer(configs map[string]any, keySerializer, valueSerializer Serializer, logger Logger, tracer *TracingService) (*confluentProducer, error) {
	configMap := &kafka.ConfigMap{}
	for k, v := range configs {
		if err := configMap.SetKey(k, v); err != nil {
			return nil, fmt.Errorf("invalid property %q: %w", k, err)
		}
	}

	producer, err := kafka.NewProducer(configMap)
	if err != nil {
		return nil, err
	}

	transactionalID, _ := configs[TransactionalIDConfig].(string)

	p := &confluentProducer{
		producer:        producer,
		keySerializer:   serializerOrDefault(keySerializer),
		valueSerializer: serializerOrDefault(valueSerializer),
		transactionalID: transactionalID,
		tracer:          tracer,
		logger:          logger,
		done:            make(chan struct{}),
	}

	go p.handleEvents()

	return p, nil
}

// Send encodes a record and waits for its delivery report
func (p *confluentProducer) Send(ctx context.Context, record *Record) (*RecordMetadata, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	msg, err := p.buildKafkaMessage(record)
	if err != nil {
		return nil, err
	}

	var endSpan func(error)
	if p.tracer != nil {
		ctx, endSpan = p.tracer.StartProducerSpan(ctx, record, msg.Key)
		p.tracer.InjectTraceContext(ctx, msg)
	}
	finish := func(err error) {
		if endSpan != nil {
			endSpan(err)
		}
	}

	deliveryChan := make(chan kafka.Event, 1)
	if err := p.Produce(msg, deliveryChan); err != nil {
		finish(err)
		return nil, fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			err := fmt.Errorf("unexpected delivery event: %v", e)
			finish(err)
			return nil, err
		}
		if m.TopicPartition.Error != nil {
			finish(m.TopicPartition.Error)
			return nil, fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		finish(nil)
		return &RecordMetadata{
			Topic:     record.Topic,
			Partition: m.TopicPartition.Partition,
			Offset:    int64(m.TopicPartition.Offset),
			Timestamp: m.Timestamp,
		}, nil
	case <-ctx.Done():
		finish(ctx.Err())
		return nil, ctx.Err()
	}
}

// Produce enqueues a message; the report goes to deliveryChan or the event loop
func (p *confluentProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.producer.Produce(msg, deliveryChan); err != nil {
		p.errors.Add(1)
		return err
	}
	p.messagesProduced.Add(1)
	p.bytesProduced.Add(int64(len(msg.Key) + len(msg.Value)))
	return nil
}

// Flush waits for outstanding deliveries
func (p *confluentProducer) Flush(timeout time.Duration) int {
	if p.closed.Load() {
		return 0
	}
	return p.producer.Flush(int(timeout.Milliseconds()))
}

// PartitionsFor fetches topic metadata from the cluster
func (p *confluentProducer) PartitionsFor(topic string) ([]PartitionInfo, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	metadata, err := p.producer.GetMetadata(&topic, false, int(DefaultMetadataTimeout.Milliseconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for %s: %w", topic, err)
	}

	topicMeta, ok := metadata.Topics[topic]
	if !ok {
		return nil, fmt.Errorf("topic not found: %s", topic)
	}
	if topicMeta.Error.Code() != kafka.ErrNoError {
		return nil, topicMeta.Error
	}

	partitions := make([]PartitionInfo, 0, len(topicMeta.Partitions))
	for _, pm := range topicMeta.Partitions {
		partitions = append(partitions, PartitionInfo{
			Topic:    topic,
			ID:       pm.ID,
			Leader:   pm.Leader,
			Replicas: pm.Replicas,
			ISRs:     pm.Isrs,
		})
	}
	return partitions, nil
}

// Metrics returns the connection counters
func (p *confluentProducer) Metrics() ProducerMetrics {
	var queueLen int
	if !p.closed.Load() {
		queueLen = p.producer.Len()
	}
	return ProducerMetrics{
		MessagesProduced: p.messagesProduced.Load(),
		BytesProduced:    p.bytesProduced.Load(),
		Errors:           p.errors.Load(),
		QueueLength:      queueLen,
	}
}

// InitTransactions registers the transactional id with the broker
func (p *confluentProducer) InitTransactions(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.transactionalID == "" {
		return ErrNotTransactional
	}
	return p.producer.InitTransactions(ctx)
}

// BeginTransaction starts a transaction
func (p *confluentProducer) BeginTransaction() error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.producer.BeginTransaction()
}

// SendOffsetsToTransaction commits consumer offsets as part of the transaction
func (p *confluentProducer) SendOffsetsToTransaction(ctx context.Context, offsets []TopicPartition, groupID string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	group, err := kafka.NewTestConsumerGroupMetadata(groupID)
	if err != nil {
		return fmt.Errorf("failed to build group metadata for %s: %w", groupID, err)
	}

	partitions := make([]kafka.TopicPartition, 0, len(offsets))
	for _, o := range offsets {
		topic := o.Topic
		partitions = append(partitions, kafka.TopicPartition{
			Topic:     &topic,
			Partition: o.Partition,
			Offset:    kafka.Offset(o.Offset),
		})
	}
	return p.producer.SendOffsetsToTransaction(ctx, partitions, group)
}

// CommitTransaction commits the current transaction
func (p *confluentProducer) CommitTransaction(ctx context.Context) (err error) {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.tracer != nil {
		var endSpan func(error)
		ctx, endSpan = p.tracer.StartTransactionSpan(ctx, "commit", p.transactionalID)
		defer func() { endSpan(err) }()
	}
	return p.producer.CommitTransaction(ctx)
}

// AbortTransaction aborts the current transaction
func (p *confluentProducer) AbortTransaction(ctx context.Context) (err error) {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.tracer != nil {
		var endSpan func(error)
		ctx, endSpan = p.tracer.StartTransactionSpan(ctx, "abort", p.transactionalID)
		defer func() { endSpan(err) }()
	}
	return p.producer.AbortTransaction(ctx)
}

// Close physically closes the producer with the default timeout
func (p *confluentProducer) Close() error {
	return p.CloseTimeout(DefaultPhysicalCloseTimeout)
}

// CloseTimeout flushes and closes the producer, giving up after timeout
func (p *confluentProducer) CloseTimeout(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	// handleEvents keeps draining delivery reports during Flush, which
	// counts undrained events as outstanding
	remaining := p.producer.Flush(int(timeout.Milliseconds()))
	close(p.done)
	if remaining > 0 {
		// Undelivered messages would keep Close waiting until they expire
		if err := p.producer.Purge(kafka.PurgeQueue | kafka.PurgeInFlight); err != nil {
			p.logger.Warn("Failed to purge %d messages: %v", remaining, err)
		}
	}

	closed := make(chan struct{})
	go func() {
		p.producer.Close()
		close(closed)
	}()

	// Close has its own budget since Flush may have used all of timeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-closed:
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrCloseTimeout, timeout)
	}

	if remaining > 0 {
		return fmt.Errorf("%w: %d messages still in queue", ErrFlushTimeout, remaining)
	}
	return nil
}

// String implements fmt.Stringer
func (p *confluentProducer) String() string {
	if p.transactionalID != "" {
		return "confluentProducer(" + p.transactionalID + ")"
	}
	return "confluentProducer"
}

// buildKafkaMessage encodes a Record into a kafka.Message
func (p *confluentProducer) buildKafkaMessage(record *Record) (*kafka.Message, error) {
	key, err := p.keySerializer.Serialize(record.Topic, record.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key: %w", err)
	}
	value, err := p.valueSerializer.Serialize(record.Topic, record.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}

	topic := record.Topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}

	if partition, ok := record.targetPartition(); ok {
		msg.TopicPartition.Partition = partition
	}

	if !record.Timestamp.IsZero() {
		msg.Timestamp = record.Timestamp
	}

	for k, v := range record.Headers {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   k,
			Value: v,
		})
	}

	return msg, nil
}

// handleEvents drains reports of messages produced without a delivery channel
func (p *confluentProducer) handleEvents() {
	for {
		select {
		case <-p.done:
			return
		case e, ok := <-p.producer.Events():
			if !ok {
				return
			}
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					p.logger.Error("Delivery failed: %v", ev.TopicPartition.Error)
				}
			case kafka.Error:
				p.logger.Error("Kafka error: %v", ev)
			}
		}
	}
}

package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Verify saramaProducer implements Producer interface
var _ Producer = (*saramaProducer)(nil)

// saramaProducer is a raw Producer backed by a sarama SyncProducer.
//
// sarama registers the transactional id when the producer is created, so
// InitTransactions only checks that the producer is transactional.
//
// Sends hold mu for reading while they check closed and hand the message to
// sarama; CloseTimeout takes it for writing before closing, so no send can
// reach the closed sarama input channel.
type saramaProducer struct {
	client          sarama.Client
	producer        sarama.SyncProducer
	keySerializer   Serializer
	valueSerializer Serializer
	transactionalID string
	tracer          *TracingService
	logger          Logger
	mu              sync.RWMutex
	closed          atomic.Bool
	closing         atomic.Bool

	pending atomic.Int64

	messagesProduced atomic.Int64
	bytesProduced    atomic.Int64
	errors           atomic.Int64
}

// NewSaramaProducerBuilder returns a ProducerBuilder that creates sarama producers.
// librdkafka style properties are translated to a sarama.Config.
func NewSaramaProducerBuilder(logger Logger, tracer *TracingService) ProducerBuilder {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return func(configs map[string]any, keySerializer, valueSerializer Serializer) (Producer, error) {
		brokers, config, err := saramaConfig(configs)
		if err != nil {
			return nil, err
		}

		client, err := sarama.NewClient(brokers, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create sarama client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to create sarama producer: %w", err)
		}

		return &saramaProducer{
			client:          client,
			producer:        producer,
			keySerializer:   serializerOrDefault(keySerializer),
			valueSerializer: serializerOrDefault(valueSerializer),
			transactionalID: config.Producer.Transaction.ID,
			tracer:          tracer,
			logger:          logger,
		}, nil
	}
}

// saramaConfig translates a producer property map into sarama settings
func saramaConfig(configs map[string]any) ([]string, *sarama.Config, error) {
	servers, _ := configs[BootstrapServersConfig].(string)
	var brokers []string
	for _, b := range strings.Split(servers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, nil, ErrBrokersRequired
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_5_0_0
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = newRecordPartitioner

	if v, ok := configs["client.id"]; ok {
		config.ClientID = fmt.Sprint(v)
	}

	if v, ok := configs["acks"]; ok {
		acks, err := parseAcks(v)
		if err != nil {
			return nil, nil, err
		}
		config.Producer.RequiredAcks = acks
	}

	if v, ok := configs["compression.type"]; ok {
		codec, err := parseCompression(fmt.Sprint(v))
		if err != nil {
			return nil, nil, err
		}
		config.Producer.Compression = codec
	}

	if v, ok := configs["message.timeout.ms"]; ok {
		ms, err := toInt(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid property %q: %w", "message.timeout.ms", err)
		}
		config.Producer.Timeout = time.Duration(ms) * time.Millisecond
	}

	if v, ok := configs["linger.ms"]; ok {
		ms, err := toInt(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid property %q: %w", "linger.ms", err)
		}
		config.Producer.Flush.Frequency = time.Duration(ms) * time.Millisecond
	}

	if v, ok := configs["enable.idempotence"]; ok {
		idempotent, err := toBool(v)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid property %q: %w", "enable.idempotence", err)
		}
		config.Producer.Idempotent = idempotent
	}

	if v, ok := configs[TransactionalIDConfig]; ok {
		config.Producer.Transaction.ID = fmt.Sprint(v)
		config.Producer.Idempotent = true
	}

	if config.Producer.Idempotent {
		config.Producer.RequiredAcks = sarama.WaitForAll
		config.Net.MaxOpenRequests = 1
	}

	if err := config.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid sarama config: %w", err)
	}
	return brokers, config, nil
}

// Send encodes a record and sends it synchronously
func (p *saramaProducer) Send(ctx context.Context, record *Record) (*RecordMetadata, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	msg, err := p.buildSaramaMessage(record)
	if err != nil {
		return nil, err
	}

	var endSpan func(error)
	if p.tracer != nil {
		var key []byte
		if msg.Key != nil {
			key, _ = msg.Key.Encode()
		}
		ctx, endSpan = p.tracer.StartProducerSpan(ctx, record, key)
		p.tracer.InjectSaramaTraceContext(ctx, msg)
	}

	type result struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan result, 1)
	go func() {
		partition, offset, err := p.send(msg)
		done <- result{partition, offset, err}
	}()

	select {
	case r := <-done:
		if endSpan != nil {
			endSpan(r.err)
		}
		if r.err != nil {
			return nil, fmt.Errorf("delivery failed: %w", r.err)
		}
		return &RecordMetadata{
			Topic:     record.Topic,
			Partition: r.partition,
			Offset:    r.offset,
			Timestamp: msg.Timestamp,
		}, nil
	case <-ctx.Done():
		if endSpan != nil {
			endSpan(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// Produce sends a confluent message in the background, reporting to deliveryChan if set
func (p *saramaProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if msg.TopicPartition.Topic == nil {
		return fmt.Errorf("message topic is required")
	}

	smsg := &sarama.ProducerMessage{
		Topic:     *msg.TopicPartition.Topic,
		Value:     sarama.ByteEncoder(msg.Value),
		Timestamp: msg.Timestamp,
	}
	if msg.TopicPartition.Partition > 0 {
		smsg.Partition = msg.TopicPartition.Partition
	}
	if msg.Key != nil {
		smsg.Key = sarama.ByteEncoder(msg.Key)
	}
	for _, h := range msg.Headers {
		smsg.Headers = append(smsg.Headers, sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value})
	}

	p.pending.Add(1)
	go func() {
		defer p.pending.Add(-1)

		partition, offset, err := p.send(smsg)
		if deliveryChan == nil {
			if err != nil {
				p.logger.Error("Delivery failed: %v", err)
			}
			return
		}
		report := *msg
		report.TopicPartition.Partition = partition
		report.TopicPartition.Offset = kafka.Offset(offset)
		report.TopicPartition.Error = err
		deliveryChan <- &report
	}()
	return nil
}

func (p *saramaProducer) send(msg *sarama.ProducerMessage) (int32, int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return -1, -1, ErrClosed
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.errors.Add(1)
		return partition, offset, err
	}
	p.messagesProduced.Add(1)
	p.bytesProduced.Add(int64(msg.ByteSize(2)))
	return partition, offset, nil
}

// flushPollInterval is how often Flush checks for outstanding messages
const flushPollInterval = 10 * time.Millisecond

// Flush waits for messages handed to Produce
func (p *saramaProducer) Flush(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	for {
		remaining := p.pending.Load()
		if remaining == 0 || !time.Now().Before(deadline) {
			return int(remaining)
		}
		<-ticker.C
	}
}

// PartitionsFor returns partition metadata from the sarama client
func (p *saramaProducer) PartitionsFor(topic string) ([]PartitionInfo, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	ids, err := p.client.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to get partitions for %s: %w", topic, err)
	}

	partitions := make([]PartitionInfo, 0, len(ids))
	for _, id := range ids {
		info := PartitionInfo{Topic: topic, ID: id, Leader: -1}
		if leader, err := p.client.Leader(topic, id); err == nil {
			info.Leader = leader.ID()
		}
		info.Replicas, _ = p.client.Replicas(topic, id)
		info.ISRs, _ = p.client.InSyncReplicas(topic, id)
		partitions = append(partitions, info)
	}
	return partitions, nil
}

// Metrics returns the connection counters
func (p *saramaProducer) Metrics() ProducerMetrics {
	return ProducerMetrics{
		MessagesProduced: p.messagesProduced.Load(),
		BytesProduced:    p.bytesProduced.Load(),
		Errors:           p.errors.Load(),
		QueueLength:      int(p.pending.Load()),
	}
}

// InitTransactions checks the producer was created with a transactional id
func (p *saramaProducer) InitTransactions(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.producer.IsTransactional() {
		return ErrNotTransactional
	}
	return ctx.Err()
}

// BeginTransaction starts a transaction
func (p *saramaProducer) BeginTransaction() error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.producer.BeginTxn()
}

// SendOffsetsToTransaction adds consumer offsets to the transaction
func (p *saramaProducer) SendOffsetsToTransaction(ctx context.Context, offsets []TopicPartition, groupID string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	byTopic := make(map[string][]*sarama.PartitionOffsetMetadata)
	for _, o := range offsets {
		byTopic[o.Topic] = append(byTopic[o.Topic], &sarama.PartitionOffsetMetadata{
			Partition:   o.Partition,
			Offset:      o.Offset,
			LeaderEpoch: -1,
		})
	}
	return p.producer.AddOffsetsToTxn(byTopic, groupID)
}

// CommitTransaction commits the current transaction
func (p *saramaProducer) CommitTransaction(ctx context.Context) (err error) {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.tracer != nil {
		var endSpan func(error)
		_, endSpan = p.tracer.StartTransactionSpan(ctx, "commit", p.transactionalID)
		defer func() { endSpan(err) }()
	}
	return p.producer.CommitTxn()
}

// AbortTransaction aborts the current transaction
func (p *saramaProducer) AbortTransaction(ctx context.Context) (err error) {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.tracer != nil {
		var endSpan func(error)
		_, endSpan = p.tracer.StartTransactionSpan(ctx, "abort", p.transactionalID)
		defer func() { endSpan(err) }()
	}
	return p.producer.AbortTxn()
}

// Close physically closes the producer with the default timeout
func (p *saramaProducer) Close() error {
	return p.CloseTimeout(DefaultPhysicalCloseTimeout)
}

// CloseTimeout waits for sends in progress, then closes the producer and its
// client, giving up after timeout
func (p *saramaProducer) CloseTimeout(timeout time.Duration) error {
	if !p.closing.CompareAndSwap(false, true) {
		return ErrClosed
	}

	done := make(chan error, 1)
	go func() {
		p.mu.Lock()
		p.closed.Store(true)
		p.mu.Unlock()

		err := p.producer.Close()
		if cerr := p.client.Close(); err == nil && cerr != nil && cerr != sarama.ErrClosedClient {
			err = cerr
		}
		done <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrCloseTimeout, timeout)
	}
}

// String implements fmt.Stringer
func (p *saramaProducer) String() string {
	if p.transactionalID != "" {
		return "saramaProducer(" + p.transactionalID + ")"
	}
	return "saramaProducer"
}

func (p *saramaProducer) buildSaramaMessage(record *Record) (*sarama.ProducerMessage, error) {
	key, err := p.keySerializer.Serialize(record.Topic, record.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize key: %w", err)
	}
	value, err := p.valueSerializer.Serialize(record.Topic, record.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     record.Topic,
		Timestamp: record.Timestamp,
	}
	if partition, ok := record.targetPartition(); ok {
		msg.Partition = partition
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	if value != nil {
		msg.Value = sarama.ByteEncoder(value)
	}
	for k, v := range record.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
	}
	return msg, nil
}

// recordPartitioner sends messages with a target partition there and hashes
// the key of every other message
type recordPartitioner struct {
	hash sarama.Partitioner
}

func newRecordPartitioner(topic string) sarama.Partitioner {
	return &recordPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (r *recordPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if msg.Partition > 0 {
		return msg.Partition, nil
	}
	return r.hash.Partition(msg, numPartitions)
}

func (r *recordPartitioner) RequiresConsistency() bool {
	return r.hash.RequiresConsistency()
}

// MessageRequiresConsistency implements sarama.DynamicConsistencyPartitioner
func (r *recordPartitioner) MessageRequiresConsistency(msg *sarama.ProducerMessage) bool {
	if msg.Partition > 0 {
		return true
	}
	if dynamic, ok := r.hash.(sarama.DynamicConsistencyPartitioner); ok {
		return dynamic.MessageRequiresConsistency(msg)
	}
	return r.hash.RequiresConsistency()
}

func parseAcks(v any) (sarama.RequiredAcks, error) {
	if s, ok := v.(string); ok && s == "all" {
		return sarama.WaitForAll, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("invalid property %q: %w", "acks", err)
	}
	switch n {
	case 0:
		return sarama.NoResponse, nil
	case 1:
		return sarama.WaitForLocal, nil
	case -1:
		return sarama.WaitForAll, nil
	default:
		return 0, fmt.Errorf("invalid property %q: %d", "acks", n)
	}
}

func parseCompression(name string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("invalid property %q: %s", "compression.type", name)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	default:
		return false, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

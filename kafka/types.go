package kafka

import (
	"context"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Headers is a map of header key-value pairs
type Headers map[string][]byte

// Record represents a record to be published.
// Key and Value are encoded with the factory's key and value serializers.
type Record struct {
	Topic   string
	Key     any
	Value   any
	Headers Headers
	// Partition selects a partition when positive; otherwise the
	// partitioner chooses
	Partition int32
	Timestamp time.Time
}

// targetPartition returns the partition the record is pinned to, if any
func (r *Record) targetPartition() (int32, bool) {
	return r.Partition, r.Partition > 0
}

// RecordMetadata is the broker acknowledgment for a sent record
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// PartitionInfo describes a single partition of a topic
type PartitionInfo struct {
	Topic    string
	ID       int32
	Leader   int32
	Replicas []int32
	ISRs     []int32
}

// TopicPartition represents a topic and partition pair
type TopicPartition struct {
	Topic     string
	Partition int32
	Offset    int64
}

// ProducerMetrics holds counters of a single producer connection
type ProducerMetrics struct {
	MessagesProduced int64 `json:"messagesProduced"`
	BytesProduced    int64 `json:"bytesProduced"`
	Errors           int64 `json:"errors"`
	QueueLength      int   `json:"queueLength"`
}

// FactoryStats is a snapshot of a ProducerFactory's state
type FactoryStats struct {
	Running                bool   `json:"running"`
	Transactional          bool   `json:"transactional"`
	SingletonActive        bool   `json:"singletonActive"`
	CachedProducers        int    `json:"cachedProducers"`
	TransactionalProducers uint64 `json:"transactionalProducers"`
}

// PartitionAny represents any partition
const PartitionAny int32 = -1

// Acks configuration for producer acknowledgment
type Acks int

const (
	// AcksNone - No acknowledgment
	AcksNone Acks = 0
	// AcksLeader - Leader acknowledgment only
	AcksLeader Acks = 1
	// AcksAll - All replicas acknowledgment
	AcksAll Acks = -1
)

// Compression types for message compression
type Compression int

const (
	// CompressionNone - No compression
	CompressionNone Compression = 0
	// CompressionGZIP - GZIP compression
	CompressionGZIP Compression = 1
	// CompressionSnappy - Snappy compression
	CompressionSnappy Compression = 2
	// CompressionLZ4 - LZ4 compression
	CompressionLZ4 Compression = 3
	// CompressionZSTD - ZSTD compression
	CompressionZSTD Compression = 4
)

// HealthStatus represents health check status
type HealthStatus string

const (
	// HealthStatusUp indicates the service is healthy
	HealthStatusUp HealthStatus = "UP"
	// HealthStatusDown indicates the service is unhealthy
	HealthStatusDown HealthStatus = "DOWN"
)

// HealthResult represents health check result
type HealthResult struct {
	Status  HealthStatus           `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	Error   error                  `json:"error,omitempty"`
}

// LogLevel represents logging level
type LogLevel int

const (
	// LogLevelNone - No logging
	LogLevelNone LogLevel = 0
	// LogLevelError - Error level
	LogLevelError LogLevel = 1
	// LogLevelWarn - Warning level
	LogLevelWarn LogLevel = 2
	// LogLevelInfo - Info level
	LogLevelInfo LogLevel = 3
	// LogLevelDebug - Debug level
	LogLevelDebug LogLevel = 4
)

// Producer is the capability surface of a producer connection.
//
// Raw clients and the handles returned by ProducerFactory.CreateProducer both
// implement it, so callers use a factory handle exactly like a raw client.
// Only the meaning of Close differs: closing a raw client releases it, closing
// a factory handle never does.
type Producer interface {
	// Send encodes and sends a record, waiting for its delivery report
	Send(ctx context.Context, record *Record) (*RecordMetadata, error)

	// Produce enqueues an already encoded message without waiting
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error

	// Flush waits for in-flight messages and returns how many remain
	Flush(timeout time.Duration) int

	// PartitionsFor returns the partition metadata of a topic
	PartitionsFor(topic string) ([]PartitionInfo, error)

	// Metrics returns the connection counters
	Metrics() ProducerMetrics

	// InitTransactions registers the transactional id with the broker
	InitTransactions(ctx context.Context) error

	// BeginTransaction starts a transaction
	BeginTransaction() error

	// SendOffsetsToTransaction adds consumer offsets to the current transaction
	SendOffsetsToTransaction(ctx context.Context, offsets []TopicPartition, groupID string) error

	// CommitTransaction commits the current transaction
	CommitTransaction(ctx context.Context) error

	// AbortTransaction aborts the current transaction
	AbortTransaction(ctx context.Context) error

	// Close closes the producer
	Close() error

	// CloseTimeout closes the producer, waiting at most timeout
	CloseTimeout(timeout time.Duration) error
}

// ProducerBuilder constructs a raw producer connection from a property map
type ProducerBuilder func(configs map[string]any, keySerializer, valueSerializer Serializer) (Producer, error)

// Factory hands out producers
type Factory interface {
	// CreateProducer returns a producer handle
	CreateProducer(ctx context.Context) (Producer, error)

	// TransactionCapable reports whether handles support transactions
	TransactionCapable() bool
}

// Lifecycle is driven by the hosting process at startup and shutdown
type Lifecycle interface {
	Start()
	Stop()
	IsRunning() bool
}

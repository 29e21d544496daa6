package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/mock"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// sarama's metrics registry starts a process-wide ticker on first use
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/rcrowley/go-metrics.(*meterArbiter).tick"))
}

// mockProducer is a mock for the Producer interface
type mockProducer struct {
	mock.Mock
	name string
}

func (m *mockProducer) Send(ctx context.Context, record *Record) (*RecordMetadata, error) {
	args := m.Called(ctx, record)
	md, _ := args.Get(0).(*RecordMetadata)
	return md, args.Error(1)
}

func (m *mockProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	return m.Called(msg, deliveryChan).Error(0)
}

func (m *mockProducer) Flush(timeout time.Duration) int {
	return m.Called(timeout).Int(0)
}

func (m *mockProducer) PartitionsFor(topic string) ([]PartitionInfo, error) {
	args := m.Called(topic)
	partitions, _ := args.Get(0).([]PartitionInfo)
	return partitions, args.Error(1)
}

func (m *mockProducer) Metrics() ProducerMetrics {
	return m.Called().Get(0).(ProducerMetrics)
}

func (m *mockProducer) InitTransactions(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProducer) BeginTransaction() error {
	return m.Called().Error(0)
}

func (m *mockProducer) SendOffsetsToTransaction(ctx context.Context, offsets []TopicPartition, groupID string) error {
	return m.Called(ctx, offsets, groupID).Error(0)
}

func (m *mockProducer) CommitTransaction(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProducer) AbortTransaction(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

func (m *mockProducer) CloseTimeout(timeout time.Duration) error {
	return m.Called(timeout).Error(0)
}

func (m *mockProducer) String() string {
	return "mockProducer(" + m.name + ")"
}

// recordingBuilder is a ProducerBuilder that hands out mock producers and
// remembers what it was asked to build
type recordingBuilder struct {
	mu        sync.Mutex
	configs   []map[string]any
	keys      []Serializer
	values    []Serializer
	producers []*mockProducer
	err       error

	// setup registers expectations on every new producer
	setup func(p *mockProducer)
}

func newRecordingBuilder(setup func(p *mockProducer)) *recordingBuilder {
	return &recordingBuilder{setup: setup}
}

func (b *recordingBuilder) build(configs map[string]any, keySerializer, valueSerializer Serializer) (Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}

	name, _ := configs[TransactionalIDConfig].(string)
	p := &mockProducer{name: name}
	if b.setup != nil {
		b.setup(p)
	}
	b.configs = append(b.configs, configs)
	b.keys = append(b.keys, keySerializer)
	b.values = append(b.values, valueSerializer)
	b.producers = append(b.producers, p)
	return p, nil
}

func (b *recordingBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.producers)
}

func (b *recordingBuilder) producer(i int) *mockProducer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.producers[i]
}

// recordingLogger collects formatted log lines per level
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(format string, args ...interface{}) {}
func (l *recordingLogger) Info(format string, args ...interface{})  {}
func (l *recordingLogger) Warn(format string, args ...interface{})  {}

func (l *recordingLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) errorLines() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.errors, "\n")
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func newTestFactory(t *testing.T, builder *recordingBuilder, opts ...FactoryOption) (*ProducerFactory, *recordingLogger) {
	t.Helper()
	logger := &recordingLogger{}
	opts = append([]FactoryOption{
		WithProducerBuilder(builder.build),
		WithLogger(logger),
	}, opts...)
	return NewProducerFactory(map[string]any{BootstrapServersConfig: "localhost:9092"}, opts...), logger
}

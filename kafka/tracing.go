package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for messaging
const (
	MessagingSystemKey              = "messaging.system"
	MessagingDestinationNameKey     = "messaging.destination.name"
	MessagingDestinationPartitionID = "messaging.destination.partition.id"
	MessagingOperationNameKey       = "messaging.operation.name"
	MessagingOperationTypeKey       = "messaging.operation.type"
	MessagingKafkaMessageKeyKey     = "messaging.kafka.message.key"
	MessagingKafkaTransactionalID   = "messaging.kafka.transactional.id"
)

// TracingService provides OpenTelemetry tracing for producer operations
type TracingService struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	config     *TracingConfig
}

// NewTracingService creates a new tracing service
func NewTracingService(config *TracingConfig) *TracingService {
	tracerName := config.TracerName
	if tracerName == "" {
		tracerName = "github.com/loipv/kafka-producer-factory"
	}

	tracerVersion := config.TracerVersion
	if tracerVersion == "" {
		tracerVersion = Version
	}

	provider := config.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	return &TracingService{
		tracer:     provider.Tracer(tracerName, trace.WithInstrumentationVersion(tracerVersion)),
		propagator: otel.GetTextMapPropagator(),
		config:     config,
	}
}

// StartProducerSpan starts a new span for publishing a record
func (t *TracingService) StartProducerSpan(ctx context.Context, record *Record, key []byte) (context.Context, func(error)) {
	spanName := fmt.Sprintf("%s publish", record.Topic)

	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(MessagingSystemKey, "kafka"),
			attribute.String(MessagingDestinationNameKey, record.Topic),
			attribute.String(MessagingOperationNameKey, "publish"),
			attribute.String(MessagingOperationTypeKey, "publish"),
		),
	)

	if key != nil {
		span.SetAttributes(attribute.String(MessagingKafkaMessageKeyKey, string(key)))
	}

	if partition, ok := record.targetPartition(); ok {
		span.SetAttributes(attribute.Int(MessagingDestinationPartitionID, int(partition)))
	}

	return ctx, endSpan(span)
}

// StartTransactionSpan starts a span for a transaction commit or abort
func (t *TracingService) StartTransactionSpan(ctx context.Context, operation, transactionalID string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "transaction "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(MessagingSystemKey, "kafka"),
			attribute.String(MessagingOperationNameKey, operation),
			attribute.String(MessagingKafkaTransactionalID, transactionalID),
		),
	)
	return ctx, endSpan(span)
}

func endSpan(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// InjectTraceContext injects trace context into Kafka message headers
func (t *TracingService) InjectTraceContext(ctx context.Context, msg *kafka.Message) {
	t.propagator.Inject(ctx, &kafkaHeaderCarrier{msg: msg})
}

// InjectSaramaTraceContext injects trace context into sarama message headers
func (t *TracingService) InjectSaramaTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	t.propagator.Inject(ctx, &saramaHeaderCarrier{msg: msg})
}

// kafkaHeaderCarrier implements propagation.TextMapCarrier for kafka.Message
type kafkaHeaderCarrier struct {
	msg *kafka.Message
}

func (c *kafkaHeaderCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *kafkaHeaderCarrier) Set(key, val string) {
	for i := range c.msg.Headers {
		if c.msg.Headers[i].Key == key {
			c.msg.Headers[i].Value = []byte(val)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{
		Key:   key,
		Value: []byte(val),
	})
}

func (c *kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// saramaHeaderCarrier implements propagation.TextMapCarrier for sarama.ProducerMessage
type saramaHeaderCarrier struct {
	msg *sarama.ProducerMessage
}

func (c *saramaHeaderCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, val string) {
	for i := range c.msg.Headers {
		if string(c.msg.Headers[i].Key) == key {
			c.msg.Headers[i].Value = []byte(val)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(val),
	})
}

func (c *saramaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordedTracing(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tracing := NewTracingService(&TracingConfig{Enabled: true, Provider: tp})
	tracing.propagator = propagation.TraceContext{}
	return tracing, sr
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestStartProducerSpan(t *testing.T) {
	tracing, sr := newRecordedTracing(t)

	_, end := tracing.StartProducerSpan(context.Background(), &Record{Topic: "orders", Partition: 2}, []byte("k1"))
	end(nil)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "orders publish", span.Name())
	assert.Equal(t, trace.SpanKindProducer, span.SpanKind())
	assert.Equal(t, "github.com/loipv/kafka-producer-factory", span.InstrumentationScope().Name)

	attrs := spanAttributes(span)
	assert.Equal(t, "kafka", attrs[MessagingSystemKey].AsString())
	assert.Equal(t, "orders", attrs[MessagingDestinationNameKey].AsString())
	assert.Equal(t, "k1", attrs[MessagingKafkaMessageKeyKey].AsString())
	assert.Equal(t, int64(2), attrs[MessagingDestinationPartitionID].AsInt64())
}

func TestStartTransactionSpanRecordsError(t *testing.T) {
	tracing, sr := newRecordedTracing(t)

	_, end := tracing.StartTransactionSpan(context.Background(), "commit", "tx-4")
	end(errors.New("fenced"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "transaction commit", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "fenced", span.Status().Description)
	assert.Equal(t, "tx-4", spanAttributes(span)[MessagingKafkaTransactionalID].AsString())
}

func TestInjectTraceContext(t *testing.T) {
	tracing, _ := newRecordedTracing(t)
	ctx, end := tracing.StartProducerSpan(context.Background(), &Record{Topic: "orders"}, nil)
	defer end(nil)

	topic := "orders"
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Headers:        []kafka.Header{{Key: "traceparent", Value: []byte("stale")}},
	}
	tracing.InjectTraceContext(ctx, msg)

	carrier := &kafkaHeaderCarrier{msg: msg}
	require.Len(t, msg.Headers, 1, "existing header is replaced")
	assert.Contains(t, carrier.Get("traceparent"), trace.SpanContextFromContext(ctx).TraceID().String())
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())

	smsg := &sarama.ProducerMessage{Topic: "orders"}
	tracing.InjectSaramaTraceContext(ctx, smsg)

	scarrier := &saramaHeaderCarrier{msg: smsg}
	assert.Equal(t, carrier.Get("traceparent"), scarrier.Get("traceparent"))
	assert.Equal(t, "", scarrier.Get("missing"))
}

func TestStartProducerSpanOmitsUnpinnedPartition(t *testing.T) {
	tracing, sr := newRecordedTracing(t)

	for _, partition := range []int32{0, PartitionAny} {
		_, end := tracing.StartProducerSpan(context.Background(), &Record{Topic: "orders", Partition: partition}, nil)
		end(nil)
	}

	spans := sr.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		_, ok := spanAttributes(span)[MessagingDestinationPartitionID]
		assert.False(t, ok, "partitioner-chosen records have no partition attribute")
	}
}

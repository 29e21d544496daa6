package kafka

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryCollector(t *testing.T) {
	builder := newRecordingBuilder(expectTransactional)
	factory, _ := newTestFactory(t, builder, WithTransactionIDPrefix("tx-"))
	factory.Start()

	ctx := context.Background()
	a, err := factory.CreateProducer(ctx)
	require.NoError(t, err)
	b, err := factory.CreateProducer(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	defer func() {
		require.NoError(t, b.Close())
		require.NoError(t, factory.Destroy())
	}()

	collector := NewFactoryCollector(factory, prometheus.Labels{"factory": "orders"})
	assert.Equal(t, 4, testutil.CollectAndCount(collector))

	expected := `
# HELP kafka_producer_factory_cached_producers Number of idle transactional producers in the pool.
# TYPE kafka_producer_factory_cached_producers gauge
kafka_producer_factory_cached_producers{factory="orders"} 1
# HELP kafka_producer_factory_running Whether the producer factory is started (1) or not (0).
# TYPE kafka_producer_factory_running gauge
kafka_producer_factory_running{factory="orders"} 1
# HELP kafka_producer_factory_transactional_producers_created_total Number of transactional producers created.
# TYPE kafka_producer_factory_transactional_producers_created_total counter
kafka_producer_factory_transactional_producers_created_total{factory="orders"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"kafka_producer_factory_cached_producers",
		"kafka_producer_factory_running",
		"kafka_producer_factory_transactional_producers_created_total",
	))
}

func TestFactoryCollectorRegisters(t *testing.T) {
	factory, _ := newTestFactory(t, newRecordingBuilder(nil))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewFactoryCollector(factory, nil)))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)

	_, err = factory.CreateProducer(context.Background())
	require.NoError(t, err)
	count, err := testutil.GatherAndCount(reg, "kafka_producer_factory_singleton_active")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Verify FactoryCollector implements prometheus.Collector interface
var _ prometheus.Collector = (*FactoryCollector)(nil)

// FactoryCollector exports ProducerFactory state as Prometheus metrics.
// Values are read from Stats on every scrape.
type FactoryCollector struct {
	factory *ProducerFactory

	running                *prometheus.Desc
	singletonActive        *prometheus.Desc
	cachedProducers        *prometheus.Desc
	transactionalProducers *prometheus.Desc
}

// NewFactoryCollector creates a collector for factory.
// constLabels are attached to every metric, e.g. to tell factories apart.
func NewFactoryCollector(factory *ProducerFactory, constLabels prometheus.Labels) *FactoryCollector {
	return &FactoryCollector{
		factory: factory,
		running: prometheus.NewDesc(
			"kafka_producer_factory_running",
			"Whether the producer factory is started (1) or not (0).",
			nil, constLabels,
		),
		singletonActive: prometheus.NewDesc(
			"kafka_producer_factory_singleton_active",
			"Whether the shared non-transactional producer exists.",
			nil, constLabels,
		),
		cachedProducers: prometheus.NewDesc(
			"kafka_producer_factory_cached_producers",
			"Number of idle transactional producers in the pool.",
			nil, constLabels,
		),
		transactionalProducers: prometheus.NewDesc(
			"kafka_producer_factory_transactional_producers_created_total",
			"Number of transactional producers created.",
			nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector
func (c *FactoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.singletonActive
	ch <- c.cachedProducers
	ch <- c.transactionalProducers
}

// Collect implements prometheus.Collector
func (c *FactoryCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.factory.Stats()

	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, boolToFloat(stats.Running))
	ch <- prometheus.MustNewConstMetric(c.singletonActive, prometheus.GaugeValue, boolToFloat(stats.SingletonActive))
	ch <- prometheus.MustNewConstMetric(c.cachedProducers, prometheus.GaugeValue, float64(stats.CachedProducers))
	ch <- prometheus.MustNewConstMetric(c.transactionalProducers, prometheus.CounterValue, float64(stats.TransactionalProducers))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

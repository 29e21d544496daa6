package kafka

import (
	"context"
	"fmt"
	"time"
)

// HealthChecker provides health check functionality for a ProducerFactory
type HealthChecker struct {
	factory *ProducerFactory
	timeout time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(factory *ProducerFactory) *HealthChecker {
	return &HealthChecker{
		factory: factory,
		timeout: 10 * time.Second,
	}
}

// SetTimeout sets the health check timeout
func (h *HealthChecker) SetTimeout(timeout time.Duration) {
	h.timeout = timeout
}

// Check reports whether the factory is running, with its current state in Details.
// It does not contact the cluster.
func (h *HealthChecker) Check(ctx context.Context) *HealthResult {
	if err := ctx.Err(); err != nil {
		return downResult(err, nil)
	}

	stats := h.factory.Stats()
	details := map[string]interface{}{
		"running":                stats.Running,
		"transactional":          stats.Transactional,
		"singletonActive":        stats.SingletonActive,
		"cachedProducers":        stats.CachedProducers,
		"transactionalProducers": stats.TransactionalProducers,
	}

	if !stats.Running {
		err := fmt.Errorf("producer factory is not running")
		details["error"] = err.Error()
		return &HealthResult{
			Status:  HealthStatusDown,
			Error:   err,
			Details: details,
		}
	}

	return &HealthResult{
		Status:  HealthStatusUp,
		Details: details,
	}
}

// CheckTopic borrows a producer from the factory and fetches the topic's
// partitions through it. The producer is closed logically once the lookup
// returns, which may be after CheckTopic has timed out.
func (h *HealthChecker) CheckTopic(ctx context.Context, topic string) *HealthResult {
	if err := ctx.Err(); err != nil {
		return downResult(err, map[string]interface{}{"topic": topic})
	}

	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	producer, err := h.factory.CreateProducer(ctx)
	if err != nil {
		return downResult(err, map[string]interface{}{"topic": topic})
	}

	type result struct {
		partitions []PartitionInfo
		err        error
	}
	done := make(chan result, 1)
	go func() {
		// A pooled producer must not go back to the pool while the lookup
		// still uses it, even if the check has given up waiting
		defer producer.Close()
		partitions, err := producer.PartitionsFor(topic)
		done <- result{partitions, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		return downResult(ctx.Err(), map[string]interface{}{"topic": topic})
	}
	if r.err != nil {
		return downResult(r.err, map[string]interface{}{"topic": topic})
	}

	partitionInfos := make([]map[string]interface{}, 0, len(r.partitions))
	for _, p := range r.partitions {
		partitionInfos = append(partitionInfos, map[string]interface{}{
			"id":       p.ID,
			"leader":   p.Leader,
			"replicas": len(p.Replicas),
			"isrs":     len(p.ISRs),
		})
	}

	return &HealthResult{
		Status: HealthStatusUp,
		Details: map[string]interface{}{
			"topic":          topic,
			"partitionCount": len(r.partitions),
			"partitions":     partitionInfos,
		},
	}
}

func downResult(err error, details map[string]interface{}) *HealthResult {
	if details == nil {
		details = make(map[string]interface{}, 1)
	}
	details["error"] = err.Error()
	return &HealthResult{
		Status:  HealthStatusDown,
		Error:   err,
		Details: details,
	}
}

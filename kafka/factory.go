package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Verify ProducerFactory implements Factory and Lifecycle interfaces
var (
	_ Factory   = (*ProducerFactory)(nil)
	_ Lifecycle = (*ProducerFactory)(nil)
)

// Property keys used by the factory
const (
	BootstrapServersConfig = "bootstrap.servers"
	TransactionalIDConfig  = "transactional.id"
)

// DefaultPhysicalCloseTimeout bounds each physical close during shutdown
const DefaultPhysicalCloseTimeout = 30 * time.Second

// ProducerFactory hands out producer handles.
//
// Without a transactional id prefix every CreateProducer call returns the
// same shared handle, created on first use. With a prefix each call returns a
// dedicated transactional handle, taken from a pool of closed handles or
// created with a fresh transactional id. Closing a handle never releases the
// connection; Destroy and Stop do.
type ProducerFactory struct {
	configs map[string]any

	settingsMu           sync.RWMutex
	keySerializer        Serializer
	valueSerializer      Serializer
	physicalCloseTimeout time.Duration

	transactionIDPrefix  atomic.Pointer[string]
	transactionIDSuffix  atomic.Uint64
	transactionalCreated atomic.Uint64

	producer atomic.Pointer[closeSafeProducer]
	mu       sync.Mutex // guards singleton creation
	pool     *producerPool

	running atomic.Bool

	builder ProducerBuilder
	tracing *TracingConfig
	tracer  *TracingService
	logger  Logger
}

// NewProducerFactory creates a factory for the given producer properties.
// The map is copied; later changes by the caller are not seen.
func NewProducerFactory(configs map[string]any, opts ...FactoryOption) *ProducerFactory {
	f := &ProducerFactory{
		configs:              maps.Clone(configs),
		physicalCloseTimeout: DefaultPhysicalCloseTimeout,
		pool:                 newProducerPool(),
	}
	if f.configs == nil {
		f.configs = make(map[string]any)
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = NewDefaultLogger(LogLevelInfo)
	}
	if f.tracing != nil && f.tracing.Enabled {
		f.tracer = NewTracingService(f.tracing)
	}
	if f.builder == nil {
		f.builder = NewConfluentProducerBuilder(f.logger, f.tracer)
	}

	return f
}

// SetKeySerializer sets the serializer for record keys of producers created afterwards
func (f *ProducerFactory) SetKeySerializer(s Serializer) {
	f.settingsMu.Lock()
	f.keySerializer = s
	f.settingsMu.Unlock()
}

// SetValueSerializer sets the serializer for record values of producers created afterwards
func (f *ProducerFactory) SetValueSerializer(s Serializer) {
	f.settingsMu.Lock()
	f.valueSerializer = s
	f.settingsMu.Unlock()
}

// SetPhysicalCloseTimeout sets how long Stop and Destroy wait for each
// connection to close. Non-positive values are ignored.
func (f *ProducerFactory) SetPhysicalCloseTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	f.settingsMu.Lock()
	f.physicalCloseTimeout = timeout
	f.settingsMu.Unlock()
}

// PhysicalCloseTimeout returns the per-connection close timeout
func (f *ProducerFactory) PhysicalCloseTimeout() time.Duration {
	f.settingsMu.RLock()
	defer f.settingsMu.RUnlock()
	return f.physicalCloseTimeout
}

// SetTransactionIDPrefix enables transactions. Every transactional producer
// gets the id prefix followed by a counter unique to this factory.
// An empty prefix is rejected and leaves the factory unchanged.
func (f *ProducerFactory) SetTransactionIDPrefix(prefix string) error {
	if prefix == "" {
		return ErrInvalidTransactionIDPrefix
	}
	f.transactionIDPrefix.Store(&prefix)
	return nil
}

// TransactionIDPrefix returns the configured prefix, if any
func (f *ProducerFactory) TransactionIDPrefix() (string, bool) {
	prefix := f.transactionIDPrefix.Load()
	if prefix == nil {
		return "", false
	}
	return *prefix, true
}

// ConfigurationProperties returns a copy of the producer properties.
// Useful for building a similar factory.
func (f *ProducerFactory) ConfigurationProperties() map[string]any {
	return maps.Clone(f.configs)
}

// TransactionCapable reports whether a transactional id prefix is set
func (f *ProducerFactory) TransactionCapable() bool {
	return f.transactionIDPrefix.Load() != nil
}

// Start marks the factory as running. Connections are created lazily.
func (f *ProducerFactory) Start() {
	f.running.Store(true)
}

// Stop releases all connections like Destroy, logging instead of returning errors
func (f *ProducerFactory) Stop() {
	if err := f.Destroy(); err != nil {
		f.logger.Error("Failed to close producer: %v", err)
	}
	f.running.Store(false)
}

// IsRunning reports whether Start was called since the last Stop
func (f *ProducerFactory) IsRunning() bool {
	return f.running.Load()
}

// Destroy physically closes the shared producer and every pooled producer.
//
// A failure closing the shared producer is returned. Failures closing pooled
// producers are logged and the remaining producers are still closed.
// Handles checked out at the time of the call are not closed.
func (f *ProducerFactory) Destroy() error {
	timeout := f.PhysicalCloseTimeout()

	// A CreateProducer racing with this swap builds a new shared producer
	// which this call does not close.
	if producer := f.producer.Swap(nil); producer != nil {
		if err := producer.physicalClose(timeout); err != nil {
			return fmt.Errorf("failed to close producer: %w", err)
		}
		f.logger.Debug("Closed shared producer")
	}

	for producer, ok := f.pool.poll(); ok; producer, ok = f.pool.poll() {
		if err := producer.physicalClose(timeout); err != nil {
			f.logger.Error("Failed to close producer %v: %v", producer, err)
			continue
		}
		f.logger.Debug("Closed pooled producer %v", producer)
	}
	return nil
}

// CreateProducer returns a producer handle.
//
// Without a transactional id prefix it returns the shared handle, creating
// the connection on the first call; concurrent first calls create exactly one
// connection. With a prefix it returns a pooled transactional handle or a new
// one whose transactions are already initialized.
func (f *ProducerFactory) CreateProducer(ctx context.Context) (Producer, error) {
	if prefix, ok := f.TransactionIDPrefix(); ok {
		return f.createTransactionalProducer(ctx, prefix)
	}

	if producer := f.producer.Load(); producer != nil {
		return producer, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if producer := f.producer.Load(); producer != nil {
		return producer, nil
	}

	raw, err := f.buildProducer(f.configs)
	if err != nil {
		return nil, err
	}
	producer := newCloseSafeProducer(raw, nil)
	f.producer.Store(producer)
	f.logger.Debug("Created shared producer")
	return producer, nil
}

// createTransactionalProducer reuses an idle pooled handle or creates a new one
func (f *ProducerFactory) createTransactionalProducer(ctx context.Context, prefix string) (Producer, error) {
	if producer, ok := f.pool.poll(); ok {
		return producer.checkout(), nil
	}

	transactionalID := prefix + strconv.FormatUint(f.transactionIDSuffix.Add(1)-1, 10)
	configs := maps.Clone(f.configs)
	configs[TransactionalIDConfig] = transactionalID

	raw, err := f.buildProducer(configs)
	if err != nil {
		return nil, err
	}

	if err := raw.InitTransactions(ctx); err != nil {
		initErr := fmt.Errorf("failed to init transactions for %s: %w", transactionalID, err)
		if closeErr := raw.CloseTimeout(f.PhysicalCloseTimeout()); closeErr != nil {
			return nil, errors.Join(initErr, closeErr)
		}
		return nil, initErr
	}

	f.transactionalCreated.Add(1)
	f.logger.Debug("Created transactional producer %s", transactionalID)
	return newCloseSafeProducer(raw, f.pool), nil
}

func (f *ProducerFactory) buildProducer(configs map[string]any) (Producer, error) {
	f.settingsMu.RLock()
	keySerializer := f.keySerializer
	valueSerializer := f.valueSerializer
	f.settingsMu.RUnlock()

	producer, err := f.builder(configs, keySerializer, valueSerializer)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}

// Stats returns a snapshot of the factory state
func (f *ProducerFactory) Stats() FactoryStats {
	return FactoryStats{
		Running:                f.running.Load(),
		Transactional:          f.TransactionCapable(),
		SingletonActive:        f.producer.Load() != nil,
		CachedProducers:        f.pool.Len(),
		TransactionalProducers: f.transactionalCreated.Load(),
	}
}

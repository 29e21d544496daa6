package kafka

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ClientConfig holds the typed producer settings turned into a property map
// by NewConfigMap
type ClientConfig struct {
	// Connection
	Brokers           []string
	ClientID          string
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
	DeliveryTimeout   time.Duration

	// SSL/SASL
	SSL  bool
	SASL *SASLConfig

	// Producer settings
	Acks        Acks
	Compression Compression
	Idempotent  bool
	Linger      time.Duration

	// Extra raw properties, applied last
	Properties map[string]any
}

// SASLConfig holds SASL authentication configuration
type SASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled       bool
	TracerName    string
	TracerVersion string

	// Provider overrides the global tracer provider
	Provider trace.TracerProvider
}

// ClientOption is a function that configures the client properties
type ClientOption func(*ClientConfig)

// Default values
var (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMetadataTimeout   = 10 * time.Second
)

// NewConfigMap builds a producer property map from typed options
func NewConfigMap(opts ...ClientOption) (map[string]any, error) {
	config := newDefaultClientConfig()
	for _, opt := range opts {
		opt(config)
	}

	if len(config.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	configs := map[string]any{
		BootstrapServersConfig: strings.Join(config.Brokers, ","),
		"acks":                 int(config.Acks),
	}

	if config.ClientID != "" {
		configs["client.id"] = config.ClientID
	}

	if config.ConnectionTimeout > 0 {
		configs["socket.connection.setup.timeout.ms"] = int(config.ConnectionTimeout.Milliseconds())
	}

	if config.RequestTimeout > 0 {
		configs["request.timeout.ms"] = int(config.RequestTimeout.Milliseconds())
	}

	if config.DeliveryTimeout > 0 {
		configs["message.timeout.ms"] = int(config.DeliveryTimeout.Milliseconds())
	}

	if config.Linger > 0 {
		configs["linger.ms"] = int(config.Linger.Milliseconds())
	}

	if config.Compression != CompressionNone {
		configs["compression.type"] = getCompressionName(config.Compression)
	}

	if config.Idempotent {
		configs["enable.idempotence"] = true
	}

	if config.SSL {
		configs["security.protocol"] = "ssl"
	}

	if config.SASL != nil {
		if config.SSL {
			configs["security.protocol"] = "sasl_ssl"
		} else {
			configs["security.protocol"] = "sasl_plaintext"
		}
		configs["sasl.mechanism"] = config.SASL.Mechanism
		configs["sasl.username"] = config.SASL.Username
		configs["sasl.password"] = config.SASL.Password
	}

	for k, v := range config.Properties {
		configs[k] = v
	}

	return configs, nil
}

// ==================== Client Options ====================

// WithBrokers sets the Kafka broker addresses
func WithBrokers(brokers ...string) ClientOption {
	return func(c *ClientConfig) {
		c.Brokers = brokers
	}
}

// WithClientID sets the client ID
func WithClientID(clientID string) ClientOption {
	return func(c *ClientConfig) {
		c.ClientID = clientID
	}
}

// WithConnectionTimeout sets the connection timeout
func WithConnectionTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.ConnectionTimeout = timeout
	}
}

// WithRequestTimeout sets the request timeout
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.RequestTimeout = timeout
	}
}

// WithDeliveryTimeout bounds the time a message may wait for delivery
func WithDeliveryTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.DeliveryTimeout = timeout
	}
}

// WithSSL enables SSL
func WithSSL(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.SSL = enabled
	}
}

// WithSASL sets SASL authentication
func WithSASL(sasl *SASLConfig) ClientOption {
	return func(c *ClientConfig) {
		c.SASL = sasl
	}
}

// WithAcks sets the acknowledgment level
func WithAcks(acks Acks) ClientOption {
	return func(c *ClientConfig) {
		c.Acks = acks
	}
}

// WithCompression sets the compression type
func WithCompression(compression Compression) ClientOption {
	return func(c *ClientConfig) {
		c.Compression = compression
	}
}

// WithIdempotent enables idempotent producer
func WithIdempotent(enabled bool) ClientOption {
	return func(c *ClientConfig) {
		c.Idempotent = enabled
	}
}

// WithLinger sets how long the producer waits to fill a batch
func WithLinger(linger time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Linger = linger
	}
}

// WithProperty sets a raw property, overriding typed settings
func WithProperty(key string, value any) ClientOption {
	return func(c *ClientConfig) {
		if c.Properties == nil {
			c.Properties = make(map[string]any)
		}
		c.Properties[key] = value
	}
}

// ==================== Factory Options ====================

// FactoryOption is a function that configures a ProducerFactory
type FactoryOption func(*ProducerFactory)

// WithKeySerializer sets the record key serializer
func WithKeySerializer(s Serializer) FactoryOption {
	return func(f *ProducerFactory) {
		f.keySerializer = s
	}
}

// WithValueSerializer sets the record value serializer
func WithValueSerializer(s Serializer) FactoryOption {
	return func(f *ProducerFactory) {
		f.valueSerializer = s
	}
}

// WithPhysicalCloseTimeout sets the per-connection close timeout used on shutdown
func WithPhysicalCloseTimeout(timeout time.Duration) FactoryOption {
	return func(f *ProducerFactory) {
		if timeout > 0 {
			f.physicalCloseTimeout = timeout
		}
	}
}

// WithTransactionIDPrefix enables transactions. An empty prefix is ignored.
func WithTransactionIDPrefix(prefix string) FactoryOption {
	return func(f *ProducerFactory) {
		_ = f.SetTransactionIDPrefix(prefix)
	}
}

// WithProducerBuilder replaces the function that creates raw producers
func WithProducerBuilder(builder ProducerBuilder) FactoryOption {
	return func(f *ProducerFactory) {
		f.builder = builder
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) FactoryOption {
	return func(f *ProducerFactory) {
		f.logger = logger
	}
}

// WithTracing sets tracing configuration for the default producer builder
func WithTracing(tracing *TracingConfig) FactoryOption {
	return func(f *ProducerFactory) {
		f.tracing = tracing
	}
}

// newDefaultClientConfig creates a new client config with default values
func newDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ConnectionTimeout: DefaultConnectionTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		Acks:              AcksAll,
		Compression:       CompressionNone,
	}
}

func getCompressionName(compression Compression) string {
	switch compression {
	case CompressionGZIP:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

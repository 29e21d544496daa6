package kafka

import "errors"

var (
	// ErrInvalidTransactionIDPrefix is returned when an empty transactional id prefix is set
	ErrInvalidTransactionIDPrefix = errors.New("kafka: transactional id prefix cannot be empty")

	// ErrClosed is returned by a raw producer after it has been physically closed
	ErrClosed = errors.New("kafka: producer is closed")

	// ErrCloseTimeout is returned when a physical close does not finish in time
	ErrCloseTimeout = errors.New("kafka: close timeout")

	// ErrFlushTimeout is returned when messages remain queued after a flush
	ErrFlushTimeout = errors.New("kafka: flush timeout")

	// ErrUnsupportedType is returned by a serializer that cannot encode a value
	ErrUnsupportedType = errors.New("kafka: unsupported type")

	// ErrNotTransactional is returned for transaction calls on a producer without a transactional id
	ErrNotTransactional = errors.New("kafka: producer is not transactional")

	// ErrBrokersRequired is returned when no bootstrap servers are configured
	ErrBrokersRequired = errors.New("kafka: brokers are required")
)

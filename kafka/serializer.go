package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serializer encodes record keys and values
type Serializer interface {
	Serialize(topic string, data any) ([]byte, error)
}

// SerializerFunc adapts a function to the Serializer interface
type SerializerFunc func(topic string, data any) ([]byte, error)

// Serialize calls f(topic, data)
func (f SerializerFunc) Serialize(topic string, data any) ([]byte, error) {
	return f(topic, data)
}

// BytesSerializer passes []byte through unchanged and converts strings.
// It is used when no serializer is configured.
type BytesSerializer struct{}

// Serialize implements Serializer
func (BytesSerializer) Serialize(topic string, data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: %T for topic %s", ErrUnsupportedType, data, topic)
	}
}

// StringSerializer encodes strings, numbers and fmt.Stringer values as text
type StringSerializer struct{}

// Serialize implements Serializer
func (StringSerializer) Serialize(topic string, data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case bool:
		return strconv.AppendBool(nil, v), nil
	default:
		return nil, fmt.Errorf("%w: %T for topic %s", ErrUnsupportedType, data, topic)
	}
}

// JSONSerializer encodes values as JSON. nil stays nil so tombstones survive.
type JSONSerializer struct{}

// Serialize implements Serializer
func (JSONSerializer) Serialize(topic string, data any) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value for topic %s: %w", topic, err)
	}
	return b, nil
}

func serializerOrDefault(s Serializer) Serializer {
	if s == nil {
		return BytesSerializer{}
	}
	return s
}

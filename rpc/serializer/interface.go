package serializer

import "errors"

// ErrUnsupportedType is returned by serializers that cannot encode a value
var ErrUnsupportedType = errors.New("unsupported type")

// IPayloadSerializer encodes structured values into message payloads
type IPayloadSerializer interface {
	// GetName returns the name of the format (e.g. "json")
	GetName() string
	// Serialize encodes v into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into v, which must be a pointer
	// It returns an error if any
	Deserialize(b []byte, v any) error
}

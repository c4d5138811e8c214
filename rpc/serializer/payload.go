package serializer

import (
	"fmt"
	"github.com/ValentinKolb/kqnet/lib/message"
)

// ByName returns the serializer for name (json, gob, binary)
func ByName(name string) (IPayloadSerializer, error) {
	switch name {
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}

// Append encodes v with s and pushes it onto the payload of m as one length
// prefixed block. It follows the same LIFO order as message.Append.
func Append[T message.ID](m *message.Message[T], s IPayloadSerializer, v any) error {
	b, err := s.Serialize(v)
	if err != nil {
		return fmt.Errorf("%s serialize: %w", s.GetName(), err)
	}
	return message.AppendBytes(m, b)
}

// Extract pops the block on top of the payload of m and decodes it into v.
// If decoding fails the block is pushed back and m is unchanged.
func Extract[T message.ID](m *message.Message[T], s IPayloadSerializer, v any) error {
	b, err := message.ExtractBytes(m)
	if err != nil {
		return err
	}
	if err := s.Deserialize(b, v); err != nil {
		_ = message.AppendBytes(m, b)
		return fmt.Errorf("%s deserialize: %w", s.GetName(), err)
	}
	return nil
}

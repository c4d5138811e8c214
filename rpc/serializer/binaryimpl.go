package serializer

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/kqnet/lib/message"
)

// NewBinarySerializer creates a serializer for compact binary payloads.
//
// Supported values, in this order of precedence:
//   - types implementing encoding.BinaryMarshaler / encoding.BinaryUnmarshaler
//   - []byte and string (copied verbatim)
//   - fixed-size values understood by encoding/binary, in message.ByteOrder
func NewBinarySerializer() IPayloadSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IPayloadSerializer without any framing of its own,
// the length of a payload is kept by message.AppendBytes
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) GetName() string {
	return "binary"
}

func (b binarySerializerImpl) Serialize(v any) ([]byte, error) {
	switch x := v.(type) {
	case encoding.BinaryMarshaler:
		return x.MarshalBinary()
	case []byte:
		return bytes.Clone(x), nil
	case string:
		return []byte(x), nil
	}

	if binary.Size(v) < 0 {
		return nil, fmt.Errorf("%w: %T is neither fixed-size nor a BinaryMarshaler", ErrUnsupportedType, v)
	}
	return binary.Append(nil, message.ByteOrder, v)
}

func (b binarySerializerImpl) Deserialize(data []byte, v any) error {
	switch x := v.(type) {
	case encoding.BinaryUnmarshaler:
		return x.UnmarshalBinary(data)
	case *[]byte:
		*x = bytes.Clone(data)
		return nil
	case *string:
		*x = string(data)
		return nil
	}

	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("%w: %T is neither fixed-size nor a BinaryUnmarshaler", ErrUnsupportedType, v)
	}
	if size != len(data) {
		return fmt.Errorf("binary payload of %d bytes does not match %T (%d bytes)", len(data), v, size)
	}
	_, err := binary.Decode(data, message.ByteOrder, v)
	return err
}

package serializer

import (
	"bytes"
	"encoding/gob"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Every payload carries its own type description, so gob payloads are the largest.
func NewGOBSerializer() IPayloadSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IPayloadSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) GetName() string {
	return "gob"
}

func (g gobSerializerImpl) Serialize(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, v any) error {
	buf := bytes.NewBuffer(b)
	dec := gob.NewDecoder(buf)
	return dec.Decode(v)
}

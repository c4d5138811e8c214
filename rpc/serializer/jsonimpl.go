package serializer

import (
	"encoding/json"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IPayloadSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IPayloadSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) GetName() string {
	return "json"
}

func (j jsonSerializerImpl) Serialize(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (j jsonSerializerImpl) Deserialize(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

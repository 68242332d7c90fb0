package events

import (
	"fmt"

	"github.com/jhump/protoreflect/dynamic"
)

// Marshal encodes a dynamic envelope to its protobuf wire form.
func Marshal(m *dynamic.Message) ([]byte, error) {
	return m.Marshal()
}

// UnmarshalEnvelope decodes bus bytes back into an Envelope message. A decode
// failure means the payload is not ours; callers should Term such messages.
func UnmarshalEnvelope(schema *Schema, b []byte) (*dynamic.Message, error) {
	if schema == nil || schema.Envelope == nil {
		return nil, fmt.Errorf("schema not loaded")
	}
	m := dynamic.NewMessage(schema.Envelope)
	if err := m.Unmarshal(b); err != nil {
		return nil, err
	}
	return m, nil
}

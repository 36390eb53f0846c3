package broker

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/docflow/core"
)

// Header names carrying the schema tag.
const (
	HeaderSchema        = "schema"
	HeaderSchemaVersion = "schema-version"
)

// Codec encodes payloads into schema-tagged messages and decodes them back.
type Codec struct {
	registry *SchemaRegistry
}

// NewCodec creates a Codec over registry.
func NewCodec(registry *SchemaRegistry) *Codec {
	return &Codec{registry: registry}
}

// DefaultCodec creates a Codec with the pipeline channel schemas registered.
func DefaultCodec() (*Codec, error) {
	registry := NewSchemaRegistry()
	if err := RegisterBaseSchemas(registry); err != nil {
		return nil, err
	}
	return NewCodec(registry), nil
}

// Encode marshals payload as JSON, validates it against schema and returns
// a message for topic keyed by key.
//
// A payload that does not match its own schema is a schema incompatibility
// and the error is classified as core.ErrFatal.
func (c *Codec) Encode(topic, key string, schema Schema, payload any) (Message, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return Message{}, core.Fatal(fmt.Errorf("encode %s: %w", schema, err))
	}
	if err := c.registry.Validate(schema, value); err != nil {
		return Message{}, core.Fatal(fmt.Errorf("encode %s: %w", schema, err))
	}

	return Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: map[string]string{
			HeaderSchema:        schema.Name,
			HeaderSchemaVersion: schema.Version,
		},
	}, nil
}

// Decode validates a delivery against schema and unmarshals it into out.
//
// Deliveries tagged with another schema name, an unregistered version, or
// a payload failing validation are malformed records; the error is
// classified as core.ErrValidation.
func (c *Codec) Decode(d Delivery, schema Schema, out any) error {
	tag := Schema{Name: d.Headers[HeaderSchema], Version: d.Headers[HeaderSchemaVersion]}
	if tag.Name != schema.Name {
		return core.Invalid(fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, tag.Name, schema.Name))
	}
	if !c.registry.Known(tag) {
		return core.Invalid(fmt.Errorf("%w: %s", ErrUnknownSchema, tag))
	}
	if err := c.registry.Validate(tag, d.Value); err != nil {
		return core.Invalid(fmt.Errorf("decode %s at %s/%d@%d: %w", tag, d.Topic, d.Partition, d.Offset, err))
	}
	if err := json.Unmarshal(d.Value, out); err != nil {
		return core.Invalid(fmt.Errorf("decode %s: %w", tag, err))
	}
	return nil
}

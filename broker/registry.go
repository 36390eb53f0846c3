package broker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry stores compiled JSON Schemas keyed by schema name and version.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[Schema]*jsonschema.Schema
}

// NewSchemaRegistry constructs an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[Schema]*jsonschema.Schema)}
}

// Register compiles and stores a JSON Schema document for schema.
func (r *SchemaRegistry) Register(schema Schema, document []byte) error {
	if schema.Name == "" || schema.Version == "" {
		return fmt.Errorf("schema name and version must be provided")
	}
	if len(document) == 0 {
		return fmt.Errorf("schema %s: document is empty", schema)
	}

	url := schema.Name + "-" + schema.Version + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(document)); err != nil {
		return fmt.Errorf("schema %s: add resource: %w", schema, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema %s: compile: %w", schema, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema] = compiled
	return nil
}

// Known reports whether schema is registered.
func (r *SchemaRegistry) Known(schema Schema) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[schema]
	return ok
}

// Validate checks a JSON payload against the registered schema.
func (r *SchemaRegistry) Validate(schema Schema, payload []byte) error {
	r.mu.RLock()
	compiled, ok := r.schemas[schema]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}

	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}

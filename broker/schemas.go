package broker

import "fmt"

// Schema tags a payload with the name and version of its JSON Schema.
type Schema struct {
	Name    string
	Version string
}

func (s Schema) String() string {
	return s.Name + "/" + s.Version
}

// Schemas of the three pipeline channels.
var (
	SchemaFileRecord       = Schema{Name: "FileRecord", Version: "v1"}
	SchemaParsedFileRecord = Schema{Name: "ParsedFileRecord", Version: "v1"}
	SchemaChunkRecord      = Schema{Name: "ChunkRecord", Version: "v1"}
)

// Definition pairs a schema tag with its JSON Schema document.
type Definition struct {
	Schema   Schema
	Document []byte
}

var baseDefinitions = []Definition{
	{
		Schema: SchemaFileRecord,
		Document: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "name", "mimeType", "createdTime", "modifiedTime", "timestamp"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "mimeType": {"type": "string"},
    "createdTime": {"type": "string"},
    "modifiedTime": {"type": "string"},
    "size": {"type": "integer", "minimum": 0},
    "links": {
      "type": "object",
      "properties": {
        "view": {"type": "string"},
        "content": {"type": "string"}
      }
    },
    "parents": {"type": ["array", "null"], "items": {"type": "string"}},
    "owners": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "email": {"type": "string"}
        }
      }
    },
    "timestamp": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		Schema: SchemaParsedFileRecord,
		Document: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["fileId", "revisionTimestamp", "textLength", "status", "parsedAt"],
  "properties": {
    "fileId": {"type": "string"},
    "name": {"type": "string"},
    "mimeType": {"type": "string"},
    "revisionTimestamp": {"type": "string"},
    "storagePath": {"type": "string"},
    "textLength": {"type": "integer", "minimum": 0},
    "contentHash": {"type": "string"},
    "status": {"type": "string", "enum": ["success", "skipped", "failed"]},
    "error": {"type": "string"},
    "parsedAt": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": true
}`),
	},
	{
		Schema: SchemaChunkRecord,
		Document: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["fileId", "chunkIndex", "chunkId", "text", "startOffset", "endOffset", "windowSize", "overlapSize", "totalChunks"],
  "properties": {
    "fileId": {"type": "string", "minLength": 1},
    "chunkIndex": {"type": "integer", "minimum": 0},
    "chunkId": {"type": "string", "minLength": 1},
    "text": {"type": "string"},
    "startOffset": {"type": "integer", "minimum": 0},
    "endOffset": {"type": "integer", "minimum": 1},
    "windowSize": {"type": "integer", "minimum": 1},
    "overlapSize": {"type": "integer", "minimum": 0},
    "totalChunks": {"type": "integer", "minimum": 1},
    "revisionTimestamp": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the schemas of the pipeline channels.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas loads the pipeline channel schemas into registry.
func RegisterBaseSchemas(registry *SchemaRegistry) error {
	if registry == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := registry.Register(def.Schema, def.Document); err != nil {
			return fmt.Errorf("register %s: %w", def.Schema, err)
		}
	}
	return nil
}

package changes

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// BatchSchema is the JSON schema for a change batch. It is also embedded in
// the propose_changes tool definition sent to completion providers, so the
// model and the validator agree on the wire shape.
const BatchSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type"],
    "properties": {
      "type": {"type": "string", "enum": ["replace_block", "insert_block", "delete_block", "modify_segments"]},
      "blockId": {"type": "string"},
      "afterBlockId": {"type": ["string", "null"]},
      "newBlock": {"$ref": "#/definitions/block"},
      "newSegments": {"type": "array", "items": {"$ref": "#/definitions/segment"}}
    }
  },
  "definitions": {
    "block": {
      "type": "object",
      "required": ["type", "segments"],
      "properties": {
        "type": {"type": "string", "enum": ["paragraph", "heading", "list-item"]},
        "tag": {"type": "string", "enum": ["h1", "h2", "h3"]},
        "listType": {"type": "string", "enum": ["bullet", "number"]},
        "indent": {"type": "integer", "minimum": 0},
        "alignment": {"type": "string", "enum": ["left", "center", "right", "justify"]},
        "segments": {"type": "array", "items": {"$ref": "#/definitions/segment"}}
      }
    },
    "segment": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["equation"]},
        "text": {"type": "string"},
        "format": {"type": "integer", "minimum": 0, "maximum": 127},
        "equation": {"type": "string"}
      }
    }
  }
}`

// BatchValidationError reports which parts of a batch failed schema
// validation.
type BatchValidationError struct {
	Errors []string
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("change batch validation failed: %s", strings.Join(e.Errors, "; "))
}

// ValidateBatch checks raw batch JSON against BatchSchema.
func ValidateBatch(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(BatchSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return &BatchValidationError{Errors: msgs}
	}
	return nil
}

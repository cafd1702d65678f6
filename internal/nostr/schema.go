package nostr

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const eventSchemaURL = "https://relayjournal.invalid/schema/event.json"

const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "pubkey", "created_at", "kind", "tags", "content", "sig"],
  "properties": {
    "id": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
    "pubkey": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
    "created_at": {"type": "integer", "minimum": 0},
    "kind": {"type": "integer", "minimum": 0, "maximum": 65535},
    "tags": {
      "type": "array",
      "items": {"type": "array", "items": {"type": "string"}}
    },
    "content": {"type": "string"},
    "sig": {"type": "string", "pattern": "^[0-9a-fA-F]{128}$"}
  }
}`

var (
	eventSchemaOnce     sync.Once
	eventSchemaCompiled *jsonschema.Schema
	eventSchemaErr      error
)

func compiledEventSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
		if err != nil {
			eventSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(eventSchemaURL, doc); err != nil {
			eventSchemaErr = err
			return
		}
		eventSchemaCompiled, eventSchemaErr = c.Compile(eventSchemaURL)
	})
	return eventSchemaCompiled, eventSchemaErr
}

// ValidateEventJSON checks a raw EVENT payload against the NIP-01 shape
// before it is decoded.
func ValidateEventJSON(raw []byte) error {
	sch, err := compiledEventSchema()
	if err != nil {
		return fmt.Errorf("compile event schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

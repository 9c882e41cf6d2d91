package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const customerContextSchemaURL = "https://contact-center.local/schemas/customer_context.json"

// CustomerContextSchema bounds the otherwise opaque screen-pop payload. Extra
// properties are allowed; the known ones must have the right shape.
const CustomerContextSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "maxProperties": 64,
  "properties": {
    "customer_id": {"type": "string", "maxLength": 128},
    "name": {"type": "string", "maxLength": 256},
    "phone": {"type": "string", "maxLength": 32},
    "email": {"type": "string", "maxLength": 320},
    "tier": {"type": "string", "maxLength": 64},
    "notes": {"type": "string", "maxLength": 4096},
    "tags": {
      "type": "array",
      "maxItems": 32,
      "items": {"type": "string", "maxLength": 64}
    },
    "open_tickets": {"type": "integer", "minimum": 0}
  }
}`

// ContextValidator checks customer_context payloads against a compiled
// JSON schema.
type ContextValidator struct {
	schema *jsonschema.Schema
}

// NewContextValidator compiles schemaJSON; an empty string selects
// CustomerContextSchema.
func NewContextValidator(schemaJSON string) (*ContextValidator, error) {
	if strings.TrimSpace(schemaJSON) == "" {
		schemaJSON = CustomerContextSchema
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(customerContextSchemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(customerContextSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ContextValidator{schema: schema}, nil
}

// Validate accepts an absent payload. Anything present must be valid JSON
// that satisfies the schema.
func (v *ContextValidator) Validate(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if v == nil {
		if _, ok := payload.(map[string]any); !ok {
			return fmt.Errorf("customer_context must be an object")
		}
		return nil
	}
	return v.schema.Validate(payload)
}

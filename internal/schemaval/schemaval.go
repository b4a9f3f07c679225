// Package schemaval implements schemaregistry.Validator against compiled
// JSON Schema documents, using github.com/santhosh-tekuri/jsonschema/v6.
package schemaval

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
)

// JSONSchemaValidator validates payloads (expected to be JSON) against one
// compiled schema.
type JSONSchemaValidator struct {
	schema *jsonschema.Schema
}

// Compile parses schemaDoc (a JSON Schema document) and returns a
// JSONSchemaValidator bound to it.
func Compile(name string, schemaDoc []byte) (*JSONSchemaValidator, error) {
	var doc any
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return nil, errkind.Wrap(errkind.CodecFailure, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err)
	}
	return &JSONSchemaValidator{schema: schema}, nil
}

// Validate reports whether payload (JSON-encoded) conforms to the compiled
// schema. A payload that is not valid JSON, or that fails schema
// validation, returns false. Implements schemaregistry.Validator.
func (v *JSONSchemaValidator) Validate(payload []byte) bool {
	var inst any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&inst); err != nil {
		return false
	}
	return v.schema.Validate(inst) == nil
}

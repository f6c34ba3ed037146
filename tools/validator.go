// Package tools provides JSON-schema validation for tool-call arguments.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AltairaLabs/IntakeKit/types"
)

// SchemaValidator handles JSON schema validation for tool arguments.
// Compiled schemas are cached by their JSON text, so validating the same
// tool on every turn compiles its schema once.
type SchemaValidator struct {
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// ValidateArgs validates tool arguments against the tool's input schema.
// A malformed-args failure is returned as *ValidationError so callers can
// distinguish it from schema compilation problems.
func (sv *SchemaValidator) ValidateArgs(def *types.ToolDef, args json.RawMessage) error {
	schema, err := sv.getSchema(string(def.InputSchema))
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", def.Name, err)
	}

	argsLoader := gojsonschema.NewBytesLoader(args)
	result, err := schema.Validate(argsLoader)
	if err != nil {
		return &ValidationError{
			Type:   "args_malformed",
			Tool:   def.Name,
			Detail: err.Error(),
		}
	}

	if !result.Valid() {
		errors := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errors[i] = desc.String()
		}
		return &ValidationError{
			Type:   "args_invalid",
			Tool:   def.Name,
			Detail: fmt.Sprintf("argument validation failed: %v", errors),
		}
	}

	return nil
}

// getSchema retrieves or compiles a JSON schema.
func (sv *SchemaValidator) getSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	if schema, exists := sv.cache[schemaJSON]; exists {
		return schema, nil
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, err
	}

	sv.cache[schemaJSON] = schema
	return schema, nil
}

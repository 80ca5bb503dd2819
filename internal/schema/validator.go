package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schemas/*.schema.yaml
var schemaFS embed.FS

// Validator handles JSON schema validation of the documents fareflow exchanges
type Validator struct {
	metricsSchema    *jsonschema.Schema
	eventSchema      *jsonschema.Schema
	definitionSchema *jsonschema.Schema
}

// NewValidator compiles the embedded schemas
func NewValidator() (*Validator, error) {
	v := &Validator{}

	metricsSchema, err := loadSchema("schemas/metrics.schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics schema: %w", err)
	}
	v.metricsSchema = metricsSchema

	eventSchema, err := loadSchema("schemas/event.schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load event schema: %w", err)
	}
	v.eventSchema = eventSchema

	definitionSchema, err := loadSchema("schemas/definition.schema.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to load definition schema: %w", err)
	}
	v.definitionSchema = definitionSchema

	return v, nil
}

// ValidateMetrics validates an evaluation metrics artifact
func (v *Validator) ValidateMetrics(data []byte) error {
	return validateJSON(v.metricsSchema, "metrics", data)
}

// ValidateEvent validates a lifecycle event envelope
func (v *Validator) ValidateEvent(data []byte) error {
	return validateJSON(v.eventSchema, "event", data)
}

// ValidateDefinition validates a rendered platform pipeline definition
func (v *Validator) ValidateDefinition(data []byte) error {
	return validateJSON(v.definitionSchema, "definition", data)
}

func validateJSON(s *jsonschema.Schema, kind string, data []byte) error {
	if s == nil {
		return fmt.Errorf("%s schema not loaded", kind)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s document: %w", kind, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s document does not match schema: %w", kind, err)
	}
	return nil
}

// loadSchema loads and compiles an embedded schema file (JSON or YAML)
func loadSchema(path string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	// Parse YAML to interface{} (supports both YAML and JSON)
	var schemaData interface{}
	if err := yaml.Unmarshal(data, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}

	jsonData, err := json.Marshal(schemaData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, bytes.NewReader(jsonData)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return schema, nil
}

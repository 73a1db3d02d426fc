package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/glimte/canvasbridge/contracts"
)

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithStrictTypes rejects command types that have no registered schema.
// By default unknown types pass through untouched.
func WithStrictTypes() ValidatorOption {
	return func(v *Validator) {
		v.strict = true
	}
}

// Validator checks command params against per-type JSON Schemas.
// It satisfies bridge.ParamsValidator.
type Validator struct {
	schemas map[string]*compiledSchema
	mu      sync.RWMutex
	strict  bool
}

type compiledSchema struct {
	source string
	schema *gojsonschema.Schema
}

// NewValidator creates a validator with no schemas
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{schemas: make(map[string]*compiledSchema)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewCatalogueValidator creates a validator loaded with every schema in the
// contracts catalogue
func NewCatalogueValidator(opts ...ValidatorOption) (*Validator, error) {
	v := NewValidator(opts...)
	for _, spec := range contracts.Catalogue() {
		if err := v.RegisterSchema(spec.Type, spec.Schema); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// RegisterSchema compiles and stores the params schema for a command type,
// replacing any previous one
func (v *Validator) RegisterSchema(commandType, schemaJSON string) error {
	if commandType == "" {
		return fmt.Errorf("command type cannot be empty")
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", commandType, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[commandType] = &compiledSchema{source: schemaJSON, schema: compiled}
	return nil
}

// Schema returns the registered schema source for a command type
func (v *Validator) Schema(commandType string) (json.RawMessage, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.schemas[commandType]
	if !ok {
		return nil, false
	}
	return json.RawMessage(s.source), true
}

// Types returns the command types with a registered schema, sorted
func (v *Validator) Types() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks params against the schema registered for commandType.
// A failure is returned as *contracts.ValidationError.
func (v *Validator) Validate(commandType string, params json.RawMessage) error {
	v.mu.RLock()
	s, ok := v.schemas[commandType]
	v.mu.RUnlock()

	if !ok {
		if v.strict {
			return &contracts.ValidationError{
				Type:    commandType,
				Details: []string{"unknown command type"},
			}
		}
		return nil
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return &contracts.ValidationError{
			Type:    commandType,
			Details: []string{fmt.Sprintf("params are not valid JSON: %v", err)},
		}
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &contracts.ValidationError{Type: commandType, Details: details}
}

package nlp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsvalidate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/parley/internal/retry"
)

// CompiledSchema pairs the JSON form of a schema (embedded in prompts) with
// its compiled validator.
type CompiledSchema struct {
	Name      string
	JSON      []byte
	validator *jsvalidate.Schema
}

// ValidateAndUnmarshal checks the document against the schema and decodes it
// into out. Validation failures are permanent for a single response but the
// caller retries the whole generation.
func (s *CompiledSchema) ValidateAndUnmarshal(raw []byte, out any) error {
	doc := ExtractJSON(string(raw))

	var value any
	if err := json.Unmarshal(doc, &value); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	if s.validator != nil {
		if err := s.validator.Validate(value); err != nil {
			return fmt.Errorf("schema %s: %w", s.Name, err)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode into result type: %w", err)
	}
	return nil
}

// SchemaRegistry derives and caches JSON schemas from Go result types.
type SchemaRegistry struct {
	mu      sync.Mutex
	cache   map[string]*CompiledSchema
	reflect *jsonschema.Reflector
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		cache: map[string]*CompiledSchema{},
		reflect: &jsonschema.Reflector{
			// Inline definitions so providers receive one self-contained
			// document, and tolerate extra fields the model volunteers.
			DoNotReference:            true,
			AllowAdditionalProperties: true,
		},
	}
}

// SchemaFor returns the compiled schema for the example value's type,
// deriving and caching it on first use.
func (r *SchemaRegistry) SchemaFor(name string, example any) (*CompiledSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[name]; ok {
		return cached, nil
	}

	derived := r.reflect.Reflect(example)
	raw, err := json.Marshal(derived)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsvalidate.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
		return nil, retry.Permanent(fmt.Errorf("register schema: %w", err))
	}
	validator, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("compile schema: %w", err))
	}

	compiled := &CompiledSchema{Name: name, JSON: raw, validator: validator}
	r.cache[name] = compiled
	return compiled, nil
}

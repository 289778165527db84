package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// Registry resolves schema keys to JSON schemas and validates extracted data.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*registeredSchema
}

type registeredSchema struct {
	description string
	doc         map[string]any
	compiled    *jsonschema.Schema
}

// registryFile is the YAML layout of SCHEMAS_PATH.
type registryFile struct {
	Schemas map[string]struct {
		Description string         `yaml:"description"`
		Schema      map[string]any `yaml:"schema"`
	} `yaml:"schemas"`
}

// NewRegistry returns a registry holding the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]*registeredSchema)}
	_ = r.Register("receipt", "Purchase receipt", BuildReceiptJSONSchema(nil))
	_ = r.Register("invoice", "Supplier invoice", buildInvoiceJSONSchema())
	_ = r.Register("document", "Free-form document summary", buildDocumentJSONSchema())
	return r
}

// LoadRegistry returns the built-in registry extended with the schemas of a
// YAML file. An empty path yields the built-ins only.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	if path == "" {
		return r, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse schema registry: %w", err)
	}
	for key, s := range f.Schemas {
		if err := r.Register(key, s.Description, s.Schema); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register compiles and stores a schema under key, replacing any previous one.
func (r *Registry) Register(key, description string, doc map[string]any) error {
	if err := common.NewValidator().Field("schema_key", key, common.SchemaKey).Err(common.ErrInvalidInput); err != nil {
		return err
	}
	compiled, err := compileSchema(key, doc)
	if err != nil {
		return fmt.Errorf("schema %q: %w", key, err)
	}
	r.mu.Lock()
	r.schemas[key] = &registeredSchema{description: description, doc: doc, compiled: compiled}
	r.mu.Unlock()
	return nil
}

// Lookup returns the JSON schema document for key.
func (r *Registry) Lookup(key string) (map[string]any, error) {
	r.mu.RLock()
	s, ok := r.schemas[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown schema %q", common.ErrInvalidContext, key)
	}
	return s.doc, nil
}

func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[key]
	return ok
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks data against the compiled schema for key.
func (r *Registry) Validate(key string, data []byte) error {
	r.mu.RLock()
	s, ok := r.schemas[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown schema %q", common.ErrInvalidContext, key)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func compileSchema(key string, doc map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := key + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// BuildReceiptJSONSchema returns the receipt schema. When allowedCategories is
// non-empty the category field is constrained to it.
func BuildReceiptJSONSchema(allowedCategories []string) map[string]any {
	props := map[string]any{
		"merchant_name":  map[string]any{"type": "string", "minLength": 1},
		"tx_date":        map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"subtotal":       decimalProp(),
		"discount":       decimalProp(),
		"shipping_fee":   decimalProp(),
		"tip":            decimalProp(),
		"tax":            decimalProp(),
		"total":          decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"category":       map[string]any{"type": "string"},
		"payment_method": map[string]any{"type": "string"},
		"payment_last4":  map[string]any{"type": "string", "pattern": `^\d{4}$`},
		"description":    map[string]any{"type": "string"},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	if len(allowedCategories) > 0 {
		props["category"] = map[string]any{"type": "string", "enum": allowedCategories}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"merchant_name", "tx_date", "total", "currency_code"},
	}
}

func buildInvoiceJSONSchema() map[string]any {
	lineItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"quantity":    map[string]any{"type": "number"},
			"unit_price":  decimalProp(),
			"amount":      decimalProp(),
		},
		"required": []string{"description"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoice_number": map[string]any{"type": "string", "minLength": 1},
			"issue_date":     map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"due_date":       map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"vendor":         map[string]any{"type": "object", "properties": map[string]any{"name": map[string]any{"type": "string"}, "address": map[string]any{"type": "string"}}},
			"line_items":     map[string]any{"type": "array", "items": lineItem},
			"total":          decimalProp(),
			"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		},
		"required": []string{"invoice_number", "total"},
	}
}

func buildDocumentJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":    map[string]any{"type": "string"},
			"summary":  map[string]any{"type": "string", "minLength": 1},
			"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"summary"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}

package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Embedded schema names.
const (
	Descriptor = "descriptor.schema.json"
	Config     = "config.schema.json"
)

//go:embed *.schema.json
var embedded embed.FS

var (
	embeddedMu    sync.Mutex
	embeddedCache = map[string]*Validator{}
)

// Validator is a compiled schema safe for concurrent use.
type Validator struct {
	id       string
	compiled *jsonschema.Schema
}

// Compile builds a Validator from raw schema bytes.
func Compile(id string, schema []byte) (*Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema is empty")
	}
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{id: id, compiled: compiled}, nil
}

// Embedded returns the compiled form of one of the bundled schemas.
func Embedded(name string) (*Validator, error) {
	embeddedMu.Lock()
	defer embeddedMu.Unlock()
	if v, ok := embeddedCache[name]; ok {
		return v, nil
	}
	data, err := embedded.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	v, err := Compile(name, data)
	if err != nil {
		return nil, err
	}
	embeddedCache[name] = v
	return v, nil
}

// Validate checks value; raw JSON ([]byte, json.RawMessage) is decoded first.
func (v *Validator) Validate(value any) error {
	if v == nil || v.compiled == nil {
		return fmt.Errorf("schema validator not initialized")
	}
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := v.compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		// Round-trip so structs and YAML-decoded maps validate as plain JSON values.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return decode(data)
	}
}

func decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}

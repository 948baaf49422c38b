package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("manifest.schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("manifest.schema.json")
})

// checkSchema validates the document shape before the ordered decode runs.
func checkSchema(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if raw == nil {
		return nil
	}

	// Round-trip through JSON so the validator sees json.Number instead of YAML ints.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	return nil
}

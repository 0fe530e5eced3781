package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Fedosin/glare/internal/domain"
)

// metaSchema constrains JSON type-definition documents so malformed
// registrations fail before they reach the registry.
const metaSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "schema_version", "fields"],
    "additionalProperties": false,
    "properties": {
      "name": {"type": "string", "minLength": 1},
      "schema_version": {"type": "integer", "minimum": 1},
      "fields": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["name", "kind"],
          "additionalProperties": false,
          "properties": {
            "name": {"type": "string", "minLength": 1},
            "kind": {"enum": ["string", "int", "bool", "array", "dict", "blob", "dependency"]},
            "required": {"type": "boolean"},
            "required_on_activate": {"type": "boolean"},
            "mutable": {"type": "boolean"},
            "default": {},
            "max_length": {"type": "integer", "minimum": 0},
            "many": {"type": "boolean"}
          }
        }
      }
    }
  }
}`

var definitionSchema = mustCompileMetaSchema()

func mustCompileMetaSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(metaSchema)))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("type-definitions.json", doc); err != nil {
		panic(err)
	}
	sch, err := c.Compile("type-definitions.json")
	if err != nil {
		panic(err)
	}
	return sch
}

// LoadDefinitions parses a JSON document of type definitions, validates
// it against the meta-schema and registers every entry.
func LoadDefinitions(r *Registry, data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse type definitions: %w", err)
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return fmt.Errorf("invalid type definitions: %w", err)
	}

	var types []domain.ArtifactType
	if err := json.Unmarshal(data, &types); err != nil {
		return fmt.Errorf("decode type definitions: %w", err)
	}
	for i := range types {
		normalizeDefaults(&types[i])
		if err := r.Register(&types[i]); err != nil {
			return err
		}
	}
	return nil
}

// normalizeDefaults coerces JSON numbers in default values to the
// int64 representation the validator normalizes to.
func normalizeDefaults(t *domain.ArtifactType) {
	for i, f := range t.Fields {
		if f.Kind != domain.KindInt || f.Default == nil {
			continue
		}
		if v, ok := f.Default.(float64); ok && v == float64(int64(v)) {
			t.Fields[i].Default = int64(v)
		}
	}
}

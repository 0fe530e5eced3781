package domain

type FieldKind string

const (
	KindString     FieldKind = "string"
	KindInt        FieldKind = "int"
	KindBool       FieldKind = "bool"
	KindArray      FieldKind = "array"
	KindDict       FieldKind = "dict"
	KindBlob       FieldKind = "blob"
	KindDependency FieldKind = "dependency"
)

// FieldDefinition describes one declared field of an artifact type.
// Blob-kind fields declare upload slots rather than metadata values;
// dependency-kind fields hold links of the form /artifacts/<type>/<id>.
type FieldDefinition struct {
	Name               string    `json:"name"`
	Kind               FieldKind `json:"kind"`
	Required           bool      `json:"required"`
	RequiredOnActivate bool      `json:"required_on_activate"`
	Mutable            bool      `json:"mutable"`
	Default            any       `json:"default,omitempty"`
	MaxLength          int       `json:"max_length,omitempty"`
	// Many permits multiple concurrent references in a blob slot.
	Many bool `json:"many,omitempty"`
}

// ArtifactType is an immutable schema model. A new schema version is a
// new ArtifactType registration, never an in-place edit.
type ArtifactType struct {
	Name          string            `json:"name"`
	SchemaVersion int               `json:"schema_version"`
	Fields        []FieldDefinition `json:"fields"`
}

func (t *ArtifactType) Field(name string) (FieldDefinition, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// BlobSlots returns the declared blob slot definitions in field order.
func (t *ArtifactType) BlobSlots() []FieldDefinition {
	var slots []FieldDefinition
	for _, f := range t.Fields {
		if f.Kind == KindBlob {
			slots = append(slots, f)
		}
	}
	return slots
}

// RequiredBlobSlots returns blob slots that must hold data before the
// owning version may leave drafted.
func (t *ArtifactType) RequiredBlobSlots() []FieldDefinition {
	var slots []FieldDefinition
	for _, f := range t.BlobSlots() {
		if f.Required || f.RequiredOnActivate {
			slots = append(slots, f)
		}
	}
	return slots
}

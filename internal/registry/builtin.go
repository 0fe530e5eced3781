package registry

import "github.com/Fedosin/glare/internal/domain"

// BuiltinTypes returns the artifact types registered at startup. New
// types are data registrations, not new code: anything expressible as
// a FieldDefinition list can be loaded from a JSON definition instead.
func BuiltinTypes() []*domain.ArtifactType {
	return []*domain.ArtifactType{
		{
			Name:          "image",
			SchemaVersion: 1,
			Fields: []domain.FieldDefinition{
				{Name: "os_type", Kind: domain.KindString, Required: true},
				{Name: "os_distro", Kind: domain.KindString},
				{Name: "architecture", Kind: domain.KindString, Default: "x86_64"},
				{Name: "min_ram_mb", Kind: domain.KindInt, Default: int64(0), Mutable: true},
				{Name: "min_disk_gb", Kind: domain.KindInt, Default: int64(0), Mutable: true},
				{Name: "disk", Kind: domain.KindBlob, RequiredOnActivate: true},
				{Name: "kernel", Kind: domain.KindBlob},
			},
		},
		{
			Name:          "heat_template",
			SchemaVersion: 1,
			Fields: []domain.FieldDefinition{
				{Name: "environment", Kind: domain.KindDict, Mutable: true},
				{Name: "template_format", Kind: domain.KindString, Required: true},
				{Name: "default_params", Kind: domain.KindDict, Mutable: true},
				{Name: "template", Kind: domain.KindBlob, RequiredOnActivate: true},
				{Name: "nested_templates", Kind: domain.KindBlob, Many: true},
			},
		},
		{
			Name:          "package",
			SchemaVersion: 1,
			Fields: []domain.FieldDefinition{
				{Name: "class_definitions", Kind: domain.KindArray},
				{Name: "categories", Kind: domain.KindArray, Mutable: true},
				{Name: "keywords", Kind: domain.KindArray, Mutable: true},
				{Name: "depends", Kind: domain.KindDependency, Mutable: true},
				{Name: "archive", Kind: domain.KindBlob, RequiredOnActivate: true},
			},
		},
	}
}

// RegisterBuiltins loads the builtin types into a registry.
func RegisterBuiltins(r *Registry) error {
	for _, t := range BuiltinTypes() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

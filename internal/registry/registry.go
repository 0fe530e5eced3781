// Package registry holds the process-wide catalog of artifact types.
// It is populated once at startup, frozen, and read lock-free afterwards.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Fedosin/glare/internal/domain"
)

type Registry struct {
	mu     sync.RWMutex
	frozen bool
	types  map[string]map[int]*domain.ArtifactType
}

func New() *Registry {
	return &Registry{types: make(map[string]map[int]*domain.ArtifactType)}
}

// Register adds a type. It fails with ErrDuplicateType when the same
// name and schema version is already present, and refuses registration
// after Freeze.
func (r *Registry) Register(t *domain.ArtifactType) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("artifact type name is required")
	}
	if t.SchemaVersion <= 0 {
		return fmt.Errorf("artifact type %q: schema version must be positive", t.Name)
	}
	if err := checkFields(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	versions, ok := r.types[t.Name]
	if !ok {
		versions = make(map[int]*domain.ArtifactType)
		r.types[t.Name] = versions
	}
	if _, exists := versions[t.SchemaVersion]; exists {
		return fmt.Errorf("%w: %s v%d", domain.ErrDuplicateType, t.Name, t.SchemaVersion)
	}
	versions[t.SchemaVersion] = t
	return nil
}

// Freeze makes the registry immutable. Resolve and List never block
// on registration afterwards.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Resolve(name string, schemaVersion int) (*domain.ArtifactType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownType, name)
	}
	t, ok := versions[schemaVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", domain.ErrUnknownType, name, schemaVersion)
	}
	return t, nil
}

// ResolveLatest returns the highest registered schema version for name.
func (r *Registry) ResolveLatest(name string) (*domain.ArtifactType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.types[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownType, name)
	}
	best := 0
	for v := range versions {
		if v > best {
			best = v
		}
	}
	return versions[best], nil
}

// List enumerates every registered type, ordered by name then schema
// version.
func (r *Registry) List() []*domain.ArtifactType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.ArtifactType
	for _, versions := range r.types {
		for _, t := range versions {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SchemaVersion < out[j].SchemaVersion
	})
	return out
}

func checkFields(t *domain.ArtifactType) error {
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("artifact type %q: field name is required", t.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("artifact type %q: duplicate field %q", t.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case domain.KindString, domain.KindInt, domain.KindBool,
			domain.KindArray, domain.KindDict, domain.KindBlob, domain.KindDependency:
		default:
			return fmt.Errorf("artifact type %q: field %q has unknown kind %q", t.Name, f.Name, f.Kind)
		}
		if f.Many && f.Kind != domain.KindBlob {
			return fmt.Errorf("artifact type %q: field %q: many is only valid for blob slots", t.Name, f.Name)
		}
	}
	return nil
}

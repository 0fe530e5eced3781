// Package schema validates artifact metadata documents against their
// type's schema model. Validation is pure: it never touches storage
// and returns a normalized copy of the input.
package schema

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Fedosin/glare/internal/domain"
)

// Validate checks doc against t and returns a normalized document:
// kind-checked values, defaults substituted for absent optional fields,
// integer values coerced to int64. Undeclared fields are rejected
// rather than dropped. Re-validating the returned document yields the
// same document with zero violations.
func Validate(t *domain.ArtifactType, doc map[string]any) (map[string]any, error) {
	verr := &domain.ValidationError{}
	normalized := make(map[string]any, len(doc))

	for name, value := range doc {
		f, ok := t.Field(name)
		if !ok || f.Kind == domain.KindBlob {
			verr.Add(name, domain.RuleUnexpectedField, fmt.Sprintf("field %q is not declared by type %s", name, t.Name))
			continue
		}
		coerced, err := coerce(f, value)
		if err != nil {
			verr.Add(name, domain.RuleWrongKind, err.Error())
			continue
		}
		if err := checkConstraints(f, coerced); err != nil {
			verr.Add(name, domain.RuleBadValue, err.Error())
			continue
		}
		normalized[name] = coerced
	}

	for _, f := range t.Fields {
		if f.Kind == domain.KindBlob {
			continue
		}
		if _, present := normalized[f.Name]; present {
			continue
		}
		if _, attempted := doc[f.Name]; attempted {
			// value was present but invalid; already reported
			continue
		}
		if f.Required {
			verr.Add(f.Name, domain.RuleRequiredField, fmt.Sprintf("field %q is required", f.Name))
			continue
		}
		if f.Default != nil {
			normalized[f.Name] = f.Default
		}
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return normalized, nil
}

// ValidateUpdate merges updates over current and validates the result.
// Once the owning version has left drafted, fields not marked mutable
// reject changes.
func ValidateUpdate(t *domain.ArtifactType, current, updates map[string]any, status domain.VersionStatus) (map[string]any, error) {
	verr := &domain.ValidationError{}
	if status != domain.StatusDrafted {
		for name, value := range updates {
			f, ok := t.Field(name)
			if !ok {
				continue // reported as unexpected below
			}
			if f.Mutable {
				continue
			}
			if !equalValues(current[name], value) {
				verr.Add(name, domain.RuleImmutableField,
					fmt.Sprintf("field %q is immutable once the version left %s", name, domain.StatusDrafted))
			}
		}
	}
	if len(verr.Violations) > 0 {
		return nil, verr
	}

	merged := make(map[string]any, len(current)+len(updates))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range updates {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return Validate(t, merged)
}

func coerce(f domain.FieldDefinition, value any) (any, error) {
	switch f.Kind {
	case domain.KindString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil
	case domain.KindInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}
	case domain.KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", value)
		}
		return b, nil
	case domain.KindArray:
		switch v := value.(type) {
		case []any:
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected array, got %T", value)
		}
	case domain.KindDict:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", value)
		}
		return m, nil
	case domain.KindDependency:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected dependency link string, got %T", value)
		}
		if err := checkDependencyLink(s); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", f.Kind)
}

func checkConstraints(f domain.FieldDefinition, value any) error {
	if f.MaxLength > 0 {
		if s, ok := value.(string); ok && len(s) > f.MaxLength {
			return fmt.Errorf("value exceeds max length %d", f.MaxLength)
		}
	}
	return nil
}

// checkDependencyLink accepts either an http(s) URL or an internal
// reference of the form /artifacts/<type>/<id>.
func checkDependencyLink(link string) error {
	if strings.HasPrefix(link, "http") {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid dependency url %q", link)
		}
		return nil
	}
	parts := strings.Split(link, "/")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "artifacts" || parts[2] == "" || parts[3] == "" {
		return fmt.Errorf("dependency link %q must be an http(s) url or /artifacts/<type>/<id>", link)
	}
	return nil
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	// integer updates may arrive as float64 from JSON
	if ai, aok := asInt64(a); aok {
		if bi, bok := asInt64(b); bok {
			return ai == bi
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

package usecase

import (
	"context"

	"github.com/Fedosin/glare/internal/domain"
)

const defaultTraversalDepth = 5

// QueryService evaluates structured filters over the catalog. Each
// evaluation reads a fresh snapshot; the visibility scope is injected
// as a mandatory implicit predicate, so callers never see another
// tenant's private artifacts regardless of their filter.
type QueryService struct {
	Store    Store
	MaxDepth int
}

func (s *QueryService) Evaluate(ctx context.Context, f domain.Filter, scope domain.Scope) ([]domain.ArtifactVersion, error) {
	dep := f.Dependency
	f.Dependency = nil

	versions, err := s.Store.Versions().Query(ctx, f, scope)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return versions, nil
	}

	maxDepth := dep.MaxDepth
	if maxDepth <= 0 || maxDepth > s.maxDepth() {
		maxDepth = s.maxDepth()
	}

	matched := make([]domain.ArtifactVersion, 0, len(versions))
	for _, v := range versions {
		ok, err := s.hasDependency(ctx, v.ID, dep, maxDepth)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, v)
		}
	}
	return matched, nil
}

func (s *QueryService) maxDepth() int {
	if s.MaxDepth > 0 {
		return s.MaxDepth
	}
	return defaultTraversalDepth
}

// hasDependency walks outgoing edges breadth-first up to maxDepth.
// The cap is defensive: the data model forbids cycles, but the walk
// must stay bounded regardless.
func (s *QueryService) hasDependency(ctx context.Context, versionID string, dep *domain.DependencyPredicate, maxDepth int) (bool, error) {
	type node struct {
		id    string
		depth int
	}
	visited := map[string]bool{versionID: true}
	frontier := []node{{id: versionID, depth: 0}}

	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		if current.depth >= maxDepth {
			continue
		}
		links, err := s.Store.Dependencies().ListFrom(ctx, current.id)
		if err != nil {
			return false, err
		}
		for _, l := range links {
			if dep.Kind != "" && l.Kind != dep.Kind {
				continue
			}
			target, err := s.Store.Versions().GetByID(ctx, l.ToVersionID)
			if err != nil {
				// deleted targets leave dangling edges; they are
				// reported by the dependency service, not followed here
				continue
			}
			if target.Status == domain.StatusDeleted {
				continue
			}
			if dep.Target == nil || MatchVersion(target, *dep.Target) {
				return true, nil
			}
			if !visited[l.ToVersionID] {
				visited[l.ToVersionID] = true
				frontier = append(frontier, node{id: l.ToVersionID, depth: current.depth + 1})
			}
		}
	}
	return false, nil
}

// MatchVersion evaluates one predicate against a version in memory.
// System fields resolve to columns; anything else addresses the
// metadata document.
func MatchVersion(v *domain.ArtifactVersion, p domain.Predicate) bool {
	var value any
	switch p.Field {
	case "version":
		value = v.Version
	case "status":
		value = string(v.Status)
	case "type_name":
		value = v.TypeName
	case "artifact_id":
		value = v.ArtifactID
	default:
		value = v.Metadata[p.Field]
	}
	return compareValues(value, p.Op, p.Value)
}

// Compare exposes predicate comparison for store implementations that
// evaluate filters outside SQL.
func Compare(value any, op domain.FilterOp, want any) bool {
	return compareValues(value, op, want)
}

func compareValues(value any, op domain.FilterOp, want any) bool {
	switch op {
	case domain.OpEq:
		return equalScalar(value, want)
	case domain.OpNeq:
		return !equalScalar(value, want)
	case domain.OpIn:
		items, ok := want.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if equalScalar(value, item) {
				return true
			}
		}
		return false
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		a, aok := toFloat(value)
		b, bok := toFloat(want)
		if !aok || !bok {
			return false
		}
		switch op {
		case domain.OpGt:
			return a > b
		case domain.OpGte:
			return a >= b
		case domain.OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

func equalScalar(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

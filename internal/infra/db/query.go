package db

import (
	"encoding/json"
	"fmt"
	"regexp"

	"context"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

// Columns filters may sort on. Anything else falls back to created_at.
var sortColumns = map[string]string{
	"created_at": "artifact_versions.created_at",
	"updated_at": "artifact_versions.updated_at",
	"version":    "artifact_versions.version",
	"status":     "artifact_versions.status",
	"name":       "artifacts.name",
	"type_name":  "artifact_versions.type_name",
}

var metadataFieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Query translates a filter into SQL over the versions and artifacts
// tables. Visibility scoping is compiled into the WHERE clause so rows
// outside the caller's view never leave the database. Dependency
// predicates are not handled here; the query service walks the link
// graph on top of this result.
func (r *versionRepo) Query(ctx context.Context, f domain.Filter, scope domain.Scope) ([]domain.ArtifactVersion, error) {
	q := r.db.WithContext(ctx).Model(&ArtifactVersionModel{}).
		Joins("JOIN artifacts ON artifacts.id = artifact_versions.artifact_id")

	sharedJSON, err := json.Marshal([]string{scope.TenantID})
	if err != nil {
		return nil, err
	}
	q = q.Where(
		"artifacts.tenant_id = ? OR artifacts.visibility = ? OR (artifacts.visibility = ? AND artifacts.shared_with_json @> ?::jsonb)",
		scope.TenantID, string(domain.VisibilityPublic), string(domain.VisibilityShared), string(sharedJSON),
	)
	// Deactivated versions of foreign artifacts are hidden.
	q = q.Where(
		"artifacts.tenant_id = ? OR artifact_versions.status <> ?",
		scope.TenantID, string(domain.StatusDeactivated),
	)

	if f.TypeName != "" {
		q = q.Where("artifact_versions.type_name = ?", f.TypeName)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("artifact_versions.status IN ?", statuses)
	} else {
		q = q.Where("artifact_versions.status <> ?", string(domain.StatusDeleted))
	}
	for _, tag := range f.Tags {
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return nil, err
		}
		q = q.Where("artifact_versions.tags_json @> ?::jsonb", string(tagJSON))
	}

	for _, p := range f.All {
		q, err = applyPredicate(q, p)
		if err != nil {
			return nil, err
		}
	}
	if len(f.Any) > 0 {
		var groups *gorm.DB
		for _, group := range f.Any {
			g := r.db.Session(&gorm.Session{NewDB: true})
			for _, p := range group {
				g, err = applyPredicate(g, p)
				if err != nil {
					return nil, err
				}
			}
			if groups == nil {
				groups = g
			} else {
				groups = groups.Or(g)
			}
		}
		q = q.Where(groups)
	}

	column, ok := sortColumns[f.SortBy]
	if !ok {
		column = sortColumns["created_at"]
	}
	direction := "asc"
	if f.SortDesc {
		direction = "desc"
	}
	q = q.Order(fmt.Sprintf("%s %s, artifact_versions.id asc", column, direction))

	var models []ArtifactVersionModel
	if err := q.Select("artifact_versions.*").Find(&models).Error; err != nil {
		return nil, err
	}

	// Marker pagination works on the sorted result. The page is cut
	// here rather than in SQL so the marker stays a plain version id.
	start := 0
	if f.Marker != "" {
		for i, model := range models {
			if model.ID == f.Marker {
				start = i + 1
				break
			}
		}
	}
	if start > len(models) {
		start = len(models)
	}
	models = models[start:]
	if f.Limit > 0 && len(models) > f.Limit {
		models = models[:f.Limit]
	}

	versions := make([]domain.ArtifactVersion, 0, len(models))
	for _, model := range models {
		v, err := r.hydrate(ctx, model)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, nil
}

func applyPredicate(q *gorm.DB, p domain.Predicate) (*gorm.DB, error) {
	column, cast, err := predicateColumn(p)
	if err != nil {
		return nil, err
	}
	switch p.Op {
	case domain.OpEq:
		return q.Where(fmt.Sprintf("%s = ?", column), castValue(cast, p.Value)), nil
	case domain.OpNeq:
		return q.Where(fmt.Sprintf("%s <> ?", column), castValue(cast, p.Value)), nil
	case domain.OpGt:
		return q.Where(fmt.Sprintf("%s > ?", column), castValue(cast, p.Value)), nil
	case domain.OpGte:
		return q.Where(fmt.Sprintf("%s >= ?", column), castValue(cast, p.Value)), nil
	case domain.OpLt:
		return q.Where(fmt.Sprintf("%s < ?", column), castValue(cast, p.Value)), nil
	case domain.OpLte:
		return q.Where(fmt.Sprintf("%s <= ?", column), castValue(cast, p.Value)), nil
	case domain.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("in predicate on %q needs a list value", p.Field)
		}
		casted := make([]any, 0, len(values))
		for _, v := range values {
			casted = append(casted, castValue(cast, v))
		}
		return q.Where(fmt.Sprintf("%s IN ?", column), casted), nil
	default:
		return nil, fmt.Errorf("unsupported filter op %q", p.Op)
	}
}

// predicateColumn maps a predicate field to a SQL expression. System
// fields hit real columns; everything else addresses the metadata
// document. Metadata comparisons against numbers cast through numeric
// so range operators order correctly.
func predicateColumn(p domain.Predicate) (column string, numeric bool, err error) {
	switch p.Field {
	case "name":
		return "artifacts.name", false, nil
	case "owner":
		return "artifacts.owner", false, nil
	case "version":
		return "artifact_versions.version", false, nil
	case "status":
		return "artifact_versions.status", false, nil
	case "type_name":
		return "artifact_versions.type_name", false, nil
	case "artifact_id":
		return "artifact_versions.artifact_id", false, nil
	}
	if !metadataFieldPattern.MatchString(p.Field) {
		return "", false, fmt.Errorf("invalid filter field %q", p.Field)
	}
	numeric = isNumeric(p.Value)
	expr := fmt.Sprintf("artifact_versions.metadata_json->>'%s'", p.Field)
	if numeric {
		// The cast only runs on rows whose field is a JSON number;
		// anything else compares as NULL instead of erroring out.
		expr = fmt.Sprintf(
			"CASE WHEN jsonb_typeof(artifact_versions.metadata_json->'%s') = 'number' THEN (%s)::numeric END",
			p.Field, expr)
	}
	return expr, numeric, nil
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int32, int64, float32, float64, json.Number:
		return true
	case []any:
		for _, item := range v {
			if !isNumeric(item) {
				return false
			}
		}
		return len(v) > 0
	}
	return false
}

func castValue(numeric bool, value any) any {
	if !numeric {
		switch v := value.(type) {
		case bool:
			return fmt.Sprintf("%t", v)
		}
	}
	return value
}

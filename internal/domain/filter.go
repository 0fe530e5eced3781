package domain

type FilterOp string

const (
	OpEq  FilterOp = "eq"
	OpNeq FilterOp = "neq"
	OpGt  FilterOp = "gt"
	OpGte FilterOp = "gte"
	OpLt  FilterOp = "lt"
	OpLte FilterOp = "lte"
	OpIn  FilterOp = "in"
)

// Predicate is one field comparison. Field names address either a
// system column (name, version, status, type_name) or a declared
// metadata field.
type Predicate struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}

// DependencyPredicate matches versions having at least one outgoing
// dependency path, capped at MaxDepth, reaching a version that matches
// Target. Depth is capped defensively even though the data model
// forbids cycles.
type DependencyPredicate struct {
	Kind     LinkKind   `json:"kind,omitempty"`
	Target   *Predicate `json:"target,omitempty"`
	MaxDepth int        `json:"max_depth,omitempty"`
}

// Filter combines predicates. All is ANDed; each entry of Any is a
// group of ANDed predicates, and the groups are ORed together.
type Filter struct {
	All        []Predicate          `json:"all,omitempty"`
	Any        [][]Predicate        `json:"any,omitempty"`
	Tags       []string             `json:"tags,omitempty"`
	Statuses   []VersionStatus      `json:"statuses,omitempty"`
	TypeName   string               `json:"type_name,omitempty"`
	Dependency *DependencyPredicate `json:"dependency,omitempty"`
	SortBy     string               `json:"sort_by,omitempty"`
	SortDesc   bool                 `json:"sort_desc,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Marker     string               `json:"marker,omitempty"`
}

// Scope is the mandatory implicit visibility predicate: results are
// restricted to the caller's tenant plus public and shared artifacts,
// regardless of the explicit filter.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	Principal string `json:"principal"`
}

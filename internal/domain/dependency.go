package domain

import "time"

type LinkKind string

const (
	LinkRequires LinkKind = "requires"
	LinkContains LinkKind = "contains"
)

func ValidLinkKind(k LinkKind) bool {
	return k == LinkRequires || k == LinkContains
}

// DependencyLink is a typed directed edge between two artifact versions.
// Cycles are rejected at creation time. Dangling reports that the target
// version was deleted after the link was created; traversal surfaces the
// flag instead of silently following the edge.
type DependencyLink struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	FromVersionID string    `json:"from_version_id"`
	ToVersionID   string    `json:"to_version_id"`
	Kind          LinkKind  `json:"kind"`
	Dangling      bool      `json:"dangling,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

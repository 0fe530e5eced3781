package domain

import "time"

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityShared  Visibility = "shared"
)

type VersionStatus string

const (
	StatusDrafted     VersionStatus = "drafted"
	StatusQueued      VersionStatus = "queued"
	StatusActive      VersionStatus = "active"
	StatusDeactivated VersionStatus = "deactivated"
	StatusDeleted     VersionStatus = "deleted"
)

var allowedTransitions = map[VersionStatus]map[VersionStatus]bool{
	StatusDrafted:     {StatusQueued: true, StatusDeleted: true},
	StatusQueued:      {StatusActive: true},
	StatusActive:      {StatusDeactivated: true, StatusDeleted: true},
	StatusDeactivated: {StatusActive: true},
	StatusDeleted:     {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to VersionStatus) bool {
	return allowedTransitions[from][to]
}

func ValidStatus(s VersionStatus) bool {
	switch s {
	case StatusDrafted, StatusQueued, StatusActive, StatusDeactivated, StatusDeleted:
		return true
	}
	return false
}

// Artifact is the logical container for a named, tenant-owned resource.
// Its mutable content lives in its versions.
type Artifact struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	TypeName    string     `json:"type_name"`
	Name        string     `json:"name"`
	Owner       string     `json:"owner"`
	Visibility  Visibility `json:"visibility"`
	SharedWith  []string   `json:"shared_with,omitempty"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// VisibleTo reports whether the artifact may be seen by a principal of
// the given tenant. Private artifacts never cross tenant boundaries.
func (a *Artifact) VisibleTo(tenantID, principal string) bool {
	if a.TenantID == tenantID {
		return true
	}
	switch a.Visibility {
	case VisibilityPublic:
		return true
	case VisibilityShared:
		for _, member := range a.SharedWith {
			if member == tenantID || member == principal {
				return true
			}
		}
	}
	return false
}

type ArtifactVersion struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"`
	ArtifactID  string           `json:"artifact_id"`
	TypeName    string           `json:"type_name"`
	Version     string           `json:"version"`
	Status      VersionStatus    `json:"status"`
	Metadata    map[string]any   `json:"metadata"`
	Blobs       []BlobReference  `json:"blobs,omitempty"`
	Links       []DependencyLink `json:"links,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	ActivatedAt *time.Time       `json:"activated_at,omitempty"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// BlobsInSlot returns the non-released references held by one slot.
func (v *ArtifactVersion) BlobsInSlot(slot string) []BlobReference {
	var refs []BlobReference
	for _, b := range v.Blobs {
		if b.Slot == slot && b.Status != BlobReleased {
			refs = append(refs, b)
		}
	}
	return refs
}

func (v *ArtifactVersion) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

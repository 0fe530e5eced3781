package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/schema"
)

// ArtifactService owns artifact and version creation plus metadata
// updates. Every mutation is validated against the type's schema model
// and guarded by the policy engine and the quota ledger.
type ArtifactService struct {
	Store  Store
	Types  TypeResolver
	Policy PolicyEngine
	Now    func() time.Time
}

func (s *ArtifactService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type CreateArtifactRequest struct {
	TenantID      string
	Principal     string
	TypeName      string
	SchemaVersion int // 0 selects the latest registered schema
	Name          string
	Visibility    domain.Visibility
	SharedWith    []string
	Description   string
	Version       string
	Metadata      map[string]any
	Tags          []string
}

// Create registers a new artifact together with its initial drafted
// version. The quota count reservation, the artifact row and the
// version row commit as one transaction.
func (s *ArtifactService) Create(ctx context.Context, req CreateArtifactRequest) (*domain.Artifact, *domain.ArtifactVersion, error) {
	if req.TenantID == "" || req.Name == "" {
		return nil, nil, fmt.Errorf("tenant_id and name are required")
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal: req.Principal,
		TenantID:  req.TenantID,
		Action:    domain.ActionCreate,
		TypeName:  req.TypeName,
	}); err != nil {
		return nil, nil, err
	}

	t, err := s.resolveType(req.TypeName, req.SchemaVersion)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := schema.Validate(t, req.Metadata)
	if err != nil {
		return nil, nil, err
	}
	version, err := domain.ParseVersion(req.Version)
	if err != nil {
		return nil, nil, err
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	now := s.now()
	artifact := domain.Artifact{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		TypeName:    t.Name,
		Name:        req.Name,
		Owner:       req.Principal,
		Visibility:  visibility,
		SharedWith:  req.SharedWith,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ver := domain.ArtifactVersion{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		ArtifactID: artifact.ID,
		TypeName:   t.Name,
		Version:    version,
		Status:     domain.StatusDrafted,
		Metadata:   normalized,
		Tags:       req.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.Quotas().Apply(ctx, req.TenantID, 0, 1); err != nil {
			return err
		}
		if err := tx.Artifacts().Create(ctx, artifact); err != nil {
			return err
		}
		return tx.Versions().Create(ctx, ver)
	})
	if err != nil {
		return nil, nil, err
	}
	return &artifact, &ver, nil
}

type NewVersionRequest struct {
	TenantID   string
	Principal  string
	ArtifactID string
	Version    string
	Metadata   map[string]any
	Tags       []string
}

// NewVersion adds a drafted version to an existing artifact. Version
// identifiers are unique per artifact; a duplicate surfaces as
// ErrConflict from the unique constraint.
func (s *ArtifactService) NewVersion(ctx context.Context, req NewVersionRequest) (*domain.ArtifactVersion, error) {
	artifact, err := s.ownedArtifact(ctx, req.TenantID, req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  req.Principal,
		TenantID:   req.TenantID,
		Action:     domain.ActionCreate,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Owner:      artifact.Owner,
		Visibility: artifact.Visibility,
	}); err != nil {
		return nil, err
	}

	t, err := s.Types.ResolveLatest(artifact.TypeName)
	if err != nil {
		return nil, err
	}
	normalized, err := schema.Validate(t, req.Metadata)
	if err != nil {
		return nil, err
	}
	version, err := domain.ParseVersion(req.Version)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ver := domain.ArtifactVersion{
		ID:         uuid.NewString(),
		TenantID:   req.TenantID,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Version:    version,
		Status:     domain.StatusDrafted,
		Metadata:   normalized,
		Tags:       req.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.Quotas().Apply(ctx, req.TenantID, 0, 1); err != nil {
			return err
		}
		return tx.Versions().Create(ctx, ver)
	})
	if err != nil {
		return nil, err
	}
	return &ver, nil
}

type UpdateMetadataRequest struct {
	TenantID   string
	Principal  string
	ArtifactID string
	Version    string
	Updates    map[string]any
	Tags       []string
}

// UpdateMetadata applies a partial metadata update. Fields not marked
// mutable reject changes once the version has left drafted.
func (s *ArtifactService) UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*domain.ArtifactVersion, error) {
	artifact, err := s.ownedArtifact(ctx, req.TenantID, req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  req.Principal,
		TenantID:   req.TenantID,
		Action:     domain.ActionUpdate,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Owner:      artifact.Owner,
		Visibility: artifact.Visibility,
	}); err != nil {
		return nil, err
	}

	ver, err := s.Store.Versions().Get(ctx, artifact.ID, req.Version)
	if err != nil {
		return nil, err
	}
	if ver.Status == domain.StatusDeleted {
		return nil, domain.ErrNotFound
	}

	t, err := s.Types.ResolveLatest(artifact.TypeName)
	if err != nil {
		return nil, err
	}
	normalized, err := schema.ValidateUpdate(t, ver.Metadata, req.Updates, ver.Status)
	if err != nil {
		return nil, err
	}

	tags := ver.Tags
	if req.Tags != nil {
		tags = req.Tags
	}
	if err := s.Store.Versions().UpdateMetadata(ctx, ver.ID, normalized, tags); err != nil {
		return nil, err
	}
	ver.Metadata = normalized
	ver.Tags = tags
	ver.UpdatedAt = s.now()
	return ver, nil
}

// Get returns an artifact with its versions, honoring visibility.
func (s *ArtifactService) Get(ctx context.Context, scope domain.Scope, artifactID string) (*domain.Artifact, []domain.ArtifactVersion, error) {
	artifact, err := s.Store.Artifacts().GetByID(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if !artifact.VisibleTo(scope.TenantID, scope.Principal) {
		return nil, nil, domain.ErrNotFound
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  scope.Principal,
		TenantID:   scope.TenantID,
		Action:     domain.ActionRead,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Owner:      artifact.Owner,
		Visibility: artifact.Visibility,
	}); err != nil {
		return nil, nil, err
	}
	versions, err := s.Store.Versions().ListByArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	visible := versions[:0]
	for _, v := range versions {
		if v.Status == domain.StatusDeactivated && v.TenantID != scope.TenantID {
			continue
		}
		visible = append(visible, v)
	}
	return artifact, visible, nil
}

func (s *ArtifactService) resolveType(name string, schemaVersion int) (*domain.ArtifactType, error) {
	if schemaVersion > 0 {
		return s.Types.Resolve(name, schemaVersion)
	}
	return s.Types.ResolveLatest(name)
}

func (s *ArtifactService) ownedArtifact(ctx context.Context, tenantID, artifactID string) (*domain.Artifact, error) {
	artifact, err := s.Store.Artifacts().GetByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.TenantID != tenantID {
		return nil, domain.ErrForbidden
	}
	return artifact, nil
}

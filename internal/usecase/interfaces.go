package usecase

import (
	"context"
	"io"
	"time"

	"github.com/Fedosin/glare/internal/domain"
)

// Store bundles the persistence repositories. WithTx runs fn against a
// transaction-bound store; every repository call inside fn shares one
// transaction and the whole unit commits or rolls back together.
type Store interface {
	Tenants() TenantRepository
	Artifacts() ArtifactRepository
	Versions() VersionRepository
	Blobs() BlobRepository
	Quotas() QuotaRepository
	Dependencies() DependencyRepository
	WithTx(ctx context.Context, fn func(Store) error) error
}

type TenantRepository interface {
	Create(ctx context.Context, t domain.Tenant) error
	GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error)
}

type ArtifactRepository interface {
	Create(ctx context.Context, a domain.Artifact) error
	GetByID(ctx context.Context, artifactID string) (*domain.Artifact, error)
	Update(ctx context.Context, a domain.Artifact) error
}

type VersionRepository interface {
	Create(ctx context.Context, v domain.ArtifactVersion) error
	GetByID(ctx context.Context, versionID string) (*domain.ArtifactVersion, error)
	Get(ctx context.Context, artifactID, version string) (*domain.ArtifactVersion, error)
	ListByArtifact(ctx context.Context, artifactID string) ([]domain.ArtifactVersion, error)
	UpdateMetadata(ctx context.Context, versionID string, metadata map[string]any, tags []string) error
	// CompareAndSwapStatus performs a conditional state update; it
	// fails with ErrConflict when the stored status no longer equals
	// from.
	CompareAndSwapStatus(ctx context.Context, versionID string, from, to domain.VersionStatus, at time.Time) error
	// ClearMetadata empties the metadata document of a tombstoned
	// version while keeping id and timestamps for audit.
	ClearMetadata(ctx context.Context, versionID string) error
	Query(ctx context.Context, f domain.Filter, scope domain.Scope) ([]domain.ArtifactVersion, error)
}

type BlobRepository interface {
	Create(ctx context.Context, b domain.BlobReference) error
	GetByID(ctx context.Context, refID string) (*domain.BlobReference, error)
	ListByVersion(ctx context.Context, versionID string) ([]domain.BlobReference, error)
	ListBySlot(ctx context.Context, versionID, slot string) ([]domain.BlobReference, error)
	Update(ctx context.Context, b domain.BlobReference) error
	UpdateStatus(ctx context.Context, refID string, status domain.BlobStatus, at time.Time) error
	Delete(ctx context.Context, refID string) error
}

type QuotaRepository interface {
	Get(ctx context.Context, tenantID string) (*domain.QuotaLedger, error)
	SetLimits(ctx context.Context, tenantID string, limits domain.QuotaLimits) error
	// Apply checks and applies the deltas as one atomic step against a
	// locked ledger row. It fails with ErrQuotaExceeded when a limit
	// would be crossed and leaves the ledger unchanged.
	Apply(ctx context.Context, tenantID string, deltaBytes, deltaCount int64) error
}

type DependencyRepository interface {
	Add(ctx context.Context, l domain.DependencyLink) error
	Remove(ctx context.Context, fromVersionID, toVersionID string, kind domain.LinkKind) error
	ListFrom(ctx context.Context, versionID string) ([]domain.DependencyLink, error)
	ListTo(ctx context.Context, versionID string) ([]domain.DependencyLink, error)
}

// BlobStore is the narrow contract to the physical blob backend. The
// engine stores locations and checksums only and never interprets
// blob contents.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (location string, size int64, checksum string, err error)
	Get(ctx context.Context, location string) (io.ReadCloser, error)
	Delete(ctx context.Context, location string) error
}

// PolicyEngine is the policy-decision collaborator consulted before
// every mutating operation.
type PolicyEngine interface {
	Authorize(ctx context.Context, in domain.PolicyInput) (domain.PolicyDecision, error)
}

// TypeResolver is what services need from the type registry.
type TypeResolver interface {
	Resolve(name string, schemaVersion int) (*domain.ArtifactType, error)
	ResolveLatest(name string) (*domain.ArtifactType, error)
}

// LedgerCache caches quota ledger readouts for the catalog surface.
type LedgerCache interface {
	Get(ctx context.Context, key string) (*domain.QuotaLedger, bool, error)
	Put(ctx context.Context, key string, value domain.QuotaLedger, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/usecase"
)

func TestCreateAppliesDefaultsAndReservesCount(t *testing.T) {
	e := newEnv(t)
	_, ver := e.createImage(t, "tenant-a", "img", "")

	// Empty version string defaults, architecture default applied.
	if ver.Version != "0.0.0" {
		t.Fatalf("expected default version 0.0.0, got %s", ver.Version)
	}
	if ver.Metadata["architecture"] != "x86_64" {
		t.Fatalf("expected architecture default, got %v", ver.Metadata["architecture"])
	}
	if ver.Status != domain.StatusDrafted {
		t.Fatalf("expected drafted, got %s", ver.Status)
	}
	if ledger := e.ledger(t, "tenant-a"); ledger.ArtifactCount != 1 {
		t.Fatalf("expected count 1, got %d", ledger.ArtifactCount)
	}
}

func TestCreateUnknownTypeRejected(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.artifacts.Create(context.Background(), usecase.CreateArtifactRequest{
		TenantID:  "tenant-a",
		Principal: "alice",
		TypeName:  "mystery",
		Name:      "x",
	})
	if !errors.Is(err, domain.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCreateValidationFailureHoldsNoQuota(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.artifacts.Create(context.Background(), usecase.CreateArtifactRequest{
		TenantID:  "tenant-a",
		Principal: "alice",
		TypeName:  "image",
		Name:      "broken",
		Metadata:  map[string]any{"bogus": true},
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || !vErr.HasRule(domain.RuleUnexpectedField) {
		t.Fatalf("expected unexpected-field violation, got %v", err)
	}
	if ledger := e.ledger(t, "tenant-a"); ledger.ArtifactCount != 0 {
		t.Fatalf("rejected create must not hold quota, got %d", ledger.ArtifactCount)
	}
}

func TestDuplicateVersionIdentifierConflicts(t *testing.T) {
	e := newEnv(t)
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")

	_, err := e.artifacts.NewVersion(context.Background(), usecase.NewVersionRequest{
		TenantID:   "tenant-a",
		Principal:  "alice",
		ArtifactID: artifact.ID,
		Version:    "1.0.0",
		Metadata:   map[string]any{"os_type": "linux"},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// The failed insert must roll back its count reservation.
	if ledger := e.ledger(t, "tenant-a"); ledger.ArtifactCount != 1 {
		t.Fatalf("expected count 1 after rollback, got %d", ledger.ArtifactCount)
	}
}

func TestUpdateMetadataImmutabilityAfterDraft(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	artifact, ver := e.createImage(t, "tenant-a", "img", "1.0.0")

	// os_type is not marked mutable but edits in drafted.
	updated, err := e.artifacts.UpdateMetadata(ctx, usecase.UpdateMetadataRequest{
		TenantID:   "tenant-a",
		Principal:  "alice",
		ArtifactID: artifact.ID,
		Version:    "1.0.0",
		Updates:    map[string]any{"os_type": "bsd"},
	})
	if err != nil {
		t.Fatalf("drafted update: %v", err)
	}
	if updated.Metadata["os_type"] != "bsd" {
		t.Fatalf("expected os_type update, got %v", updated.Metadata["os_type"])
	}

	e.forceStatus(t, ver.ID, domain.StatusDrafted, domain.StatusActive)

	_, err = e.artifacts.UpdateMetadata(ctx, usecase.UpdateMetadataRequest{
		TenantID:   "tenant-a",
		Principal:  "alice",
		ArtifactID: artifact.ID,
		Version:    "1.0.0",
		Updates:    map[string]any{"os_type": "linux"},
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || !vErr.HasRule(domain.RuleImmutableField) {
		t.Fatalf("expected immutable-field violation, got %v", err)
	}

	// Mutable fields keep working after activation.
	if _, err := e.artifacts.UpdateMetadata(ctx, usecase.UpdateMetadataRequest{
		TenantID:   "tenant-a",
		Principal:  "alice",
		ArtifactID: artifact.ID,
		Version:    "1.0.0",
		Updates:    map[string]any{"min_ram_mb": 2048},
	}); err != nil {
		t.Fatalf("mutable update after activation: %v", err)
	}
}

func TestUpdateMetadataOnDeletedVersionIsNotFound(t *testing.T) {
	e := newEnv(t)
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")
	e.transition(t, "tenant-a", artifact.ID, "1.0.0", domain.StatusDeleted)

	_, err := e.artifacts.UpdateMetadata(context.Background(), usecase.UpdateMetadataRequest{
		TenantID:   "tenant-a",
		Principal:  "alice",
		ArtifactID: artifact.ID,
		Version:    "1.0.0",
		Updates:    map[string]any{"min_ram_mb": 1},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetHidesForeignPrivateArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")

	if _, _, err := e.artifacts.Get(ctx, domain.Scope{TenantID: "tenant-a", Principal: "alice"}, artifact.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	_, _, err := e.artifacts.Get(ctx, domain.Scope{TenantID: "tenant-b", Principal: "mallory"}, artifact.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}

type denyPolicy struct{ reasons []string }

func (p denyPolicy) Authorize(ctx context.Context, in domain.PolicyInput) (domain.PolicyDecision, error) {
	return domain.PolicyDecision{Allow: false, Reasons: p.reasons}, nil
}

func TestPolicyDenialSurfacesForbidden(t *testing.T) {
	e := newEnv(t)
	e.artifacts.Policy = denyPolicy{reasons: []string{"tenant suspended"}}

	_, _, err := e.artifacts.Create(context.Background(), usecase.CreateArtifactRequest{
		TenantID:  "tenant-a",
		Principal: "alice",
		TypeName:  "image",
		Name:      "img",
		Metadata:  map[string]any{"os_type": "linux"},
	})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReadPathsConsultPolicy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}

	e.artifacts.Policy = denyPolicy{reasons: []string{"tenant suspended"}}
	if _, _, err := e.artifacts.Get(ctx, scope, artifact.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on read, got %v", err)
	}

	e.blobSvc.Policy = denyPolicy{reasons: []string{"tenant suspended"}}
	if _, _, err := e.blobSvc.Download(ctx, scope, artifact.ID, "1.0.0", "disk"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden on download, got %v", err)
	}
}

//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/usecase"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	store, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	resetDB(t, store)
	return store
}

func resetDB(t *testing.T, store *Store) {
	t.Helper()
	if err := store.db.Exec(`
		TRUNCATE tenants,
			artifacts,
			artifact_versions,
			blob_references,
			dependency_links,
			quota_ledgers
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func seedVersion(t *testing.T, store *Store, tenantID string, status domain.VersionStatus) domain.ArtifactVersion {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	artifact := domain.Artifact{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		TypeName:   "image",
		Name:       "img-" + uuid.NewString()[:8],
		Owner:      "alice",
		Visibility: domain.VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Artifacts().Create(ctx, artifact); err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	version := domain.ArtifactVersion{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ArtifactID: artifact.ID,
		TypeName:   "image",
		Version:    "1.0.0",
		Status:     status,
		Metadata:   map[string]any{"os_type": "linux"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.Versions().Create(ctx, version); err != nil {
		t.Fatalf("create version: %v", err)
	}
	return version
}

func TestVersionRepo_CompareAndSwapStatus(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	v := seedVersion(t, store, tenantID, domain.StatusDrafted)

	at := time.Now().UTC()
	if err := store.Versions().CompareAndSwapStatus(ctx, v.ID, domain.StatusDrafted, domain.StatusQueued, at); err != nil {
		t.Fatalf("cas drafted->queued: %v", err)
	}

	err := store.Versions().CompareAndSwapStatus(ctx, v.ID, domain.StatusDrafted, domain.StatusQueued, at)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on stale cas, got %v", err)
	}

	got, err := store.Versions().GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("expected queued, got %s", got.Status)
	}
}

func TestVersionRepo_DuplicateVersionConflict(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	v := seedVersion(t, store, tenantID, domain.StatusDrafted)
	dup := v
	dup.ID = uuid.NewString()
	err := store.Versions().Create(ctx, dup)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate (artifact, version), got %v", err)
	}
}

func TestQuotaRepo_ApplyEnforcesLimits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	if err := store.Quotas().SetLimits(ctx, tenantID, domain.QuotaLimits{MaxBlobBytes: 100}); err != nil {
		t.Fatalf("set limits: %v", err)
	}
	if err := store.Quotas().Apply(ctx, tenantID, 80, 0); err != nil {
		t.Fatalf("apply within limit: %v", err)
	}
	err := store.Quotas().Apply(ctx, tenantID, 30, 0)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}
	ledger, err := store.Quotas().Get(ctx, tenantID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if ledger.BlobBytes != 80 {
		t.Fatalf("rejected apply must not change the ledger, got %d bytes", ledger.BlobBytes)
	}
}

func TestQuotaRepo_ApplyRollsBackWithTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx usecase.Store) error {
		if err := tx.Quotas().Apply(ctx, tenantID, 50, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	ledger, err := store.Quotas().Get(ctx, tenantID)
	if err == nil && (ledger.BlobBytes != 0 || ledger.ArtifactCount != 0) {
		t.Fatalf("rolled back apply must leave counters at zero, got %+v", ledger)
	}
}

func TestVersionRepo_QueryScopesVisibility(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	mine := uuid.NewString()
	other := uuid.NewString()

	visible := seedVersion(t, store, mine, domain.StatusActive)
	seedVersion(t, store, other, domain.StatusActive)

	got, err := store.Versions().Query(ctx, domain.Filter{}, domain.Scope{TenantID: mine, Principal: "alice"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != visible.ID {
		t.Fatalf("expected only own version, got %d rows", len(got))
	}
}

func TestVersionRepo_QueryMetadataRange(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	v := seedVersion(t, store, tenantID, domain.StatusActive)
	if err := store.Versions().UpdateMetadata(ctx, v.ID, map[string]any{"os_type": "linux", "min_ram": 4096}, nil); err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	got, err := store.Versions().Query(ctx, domain.Filter{
		All: []domain.Predicate{{Field: "min_ram", Op: domain.OpGte, Value: 2048}},
	}, domain.Scope{TenantID: tenantID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}

	got, err = store.Versions().Query(ctx, domain.Filter{
		All: []domain.Predicate{{Field: "min_ram", Op: domain.OpGt, Value: 8192}},
	}, domain.Scope{TenantID: tenantID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}

func TestVersionRepo_ReactivationKeepsActivatedAt(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	v := seedVersion(t, store, uuid.NewString(), domain.StatusQueued)

	first := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.Versions().CompareAndSwapStatus(ctx, v.ID, domain.StatusQueued, domain.StatusActive, first); err != nil {
		t.Fatalf("cas queued->active: %v", err)
	}
	if err := store.Versions().CompareAndSwapStatus(ctx, v.ID, domain.StatusActive, domain.StatusDeactivated, first.Add(time.Second)); err != nil {
		t.Fatalf("cas active->deactivated: %v", err)
	}
	if err := store.Versions().CompareAndSwapStatus(ctx, v.ID, domain.StatusDeactivated, domain.StatusActive, first.Add(2*time.Second)); err != nil {
		t.Fatalf("cas deactivated->active: %v", err)
	}

	got, err := store.Versions().GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if got.ActivatedAt == nil || !got.ActivatedAt.Equal(first) {
		t.Fatalf("reactivation must keep the first activation time %v, got %v", first, got.ActivatedAt)
	}
}

func TestVersionRepo_QueryMetadataMixedTypes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tenantID := uuid.NewString()

	num := seedVersion(t, store, tenantID, domain.StatusActive)
	if err := store.Versions().UpdateMetadata(ctx, num.ID, map[string]any{"os_type": "linux", "min_ram": 4096}, nil); err != nil {
		t.Fatalf("update numeric metadata: %v", err)
	}
	text := seedVersion(t, store, tenantID, domain.StatusActive)
	if err := store.Versions().UpdateMetadata(ctx, text.ID, map[string]any{"os_type": "linux", "min_ram": "lots"}, nil); err != nil {
		t.Fatalf("update text metadata: %v", err)
	}

	// A row holding text in the same field must not break the numeric
	// comparison; it simply never matches.
	got, err := store.Versions().Query(ctx, domain.Filter{
		All: []domain.Predicate{{Field: "min_ram", Op: domain.OpGte, Value: 2048}},
	}, domain.Scope{TenantID: tenantID})
	if err != nil {
		t.Fatalf("mixed-type range query: %v", err)
	}
	if len(got) != 1 || got[0].ID != num.ID {
		t.Fatalf("expected only the numeric row, got %d rows", len(got))
	}
}

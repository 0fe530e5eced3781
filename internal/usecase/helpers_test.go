package usecase_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/infra/blobstore"
	"github.com/Fedosin/glare/internal/infra/memstore"
	"github.com/Fedosin/glare/internal/registry"
	"github.com/Fedosin/glare/internal/usecase"
)

type env struct {
	mem   *memstore.Store
	store usecase.Store
	blobs *blobstore.MemoryStore
	types *registry.Registry

	artifacts    *usecase.ArtifactService
	lifecycle    *usecase.LifecycleService
	blobSvc      *usecase.BlobService
	dependencies *usecase.DependencyService
	query        *usecase.QueryService
	quotas       *usecase.QuotaService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	types := registry.New()
	if err := registry.RegisterBuiltins(types); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	types.Freeze()

	mem := memstore.New()
	store := mem.Root()
	blobs := blobstore.NewMemoryStore()

	e := &env{
		mem:   mem,
		store: store,
		blobs: blobs,
		types: types,
	}
	e.artifacts = &usecase.ArtifactService{Store: store, Types: types}
	e.lifecycle = &usecase.LifecycleService{
		Store:         store,
		Types:         types,
		Blobs:         blobs,
		DeleteBackoff: time.Millisecond,
	}
	e.blobSvc = &usecase.BlobService{
		Store:         store,
		Types:         types,
		Blobs:         blobs,
		DeleteBackoff: time.Millisecond,
	}
	e.dependencies = &usecase.DependencyService{Store: store}
	e.query = &usecase.QueryService{Store: store}
	e.quotas = &usecase.QuotaService{Store: store}
	return e
}

func (e *env) createImage(t *testing.T, tenantID, name, version string) (*domain.Artifact, *domain.ArtifactVersion) {
	t.Helper()
	artifact, ver, err := e.artifacts.Create(context.Background(), usecase.CreateArtifactRequest{
		TenantID:  tenantID,
		Principal: "alice",
		TypeName:  "image",
		Name:      name,
		Version:   version,
		Metadata:  map[string]any{"os_type": "linux"},
	})
	if err != nil {
		t.Fatalf("create image %s: %v", name, err)
	}
	return artifact, ver
}

func (e *env) uploadDisk(t *testing.T, tenantID, artifactID, version string, data []byte) *domain.BlobReference {
	t.Helper()
	return e.uploadSlot(t, tenantID, artifactID, version, "disk", data)
}

func (e *env) uploadSlot(t *testing.T, tenantID, artifactID, version, slot string, data []byte) *domain.BlobReference {
	t.Helper()
	ctx := context.Background()
	ref, err := e.blobSvc.BeginUpload(ctx, usecase.BeginUploadRequest{
		TenantID:   tenantID,
		Principal:  "alice",
		ArtifactID: artifactID,
		Version:    version,
		Slot:       slot,
	})
	if err != nil {
		t.Fatalf("begin upload to %s: %v", slot, err)
	}
	done, err := e.blobSvc.Upload(ctx, ref.ID, bytes.NewReader(data), "")
	if err != nil {
		t.Fatalf("upload to %s: %v", slot, err)
	}
	return done
}

func (e *env) transition(t *testing.T, tenantID, artifactID, version string, target domain.VersionStatus) *domain.ArtifactVersion {
	t.Helper()
	ver, err := e.lifecycle.Transition(context.Background(), usecase.TransitionRequest{
		TenantID:   tenantID,
		Principal:  "alice",
		ArtifactID: artifactID,
		Version:    version,
		Target:     target,
	})
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
	return ver
}

// forceStatus moves a version into an arbitrary status, bypassing the
// legality checks the service enforces, so tests can start a scenario
// from any state.
func (e *env) forceStatus(t *testing.T, versionID string, from, to domain.VersionStatus) {
	t.Helper()
	err := e.store.Versions().CompareAndSwapStatus(context.Background(), versionID, from, to, time.Now().UTC())
	if err != nil {
		t.Fatalf("force status %s -> %s: %v", from, to, err)
	}
}

func bytesReader(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}

func (e *env) ledger(t *testing.T, tenantID string) *domain.QuotaLedger {
	t.Helper()
	ledger, err := e.store.Quotas().Get(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	return ledger
}

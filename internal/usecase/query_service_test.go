package usecase_test

import (
	"context"
	"testing"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/usecase"
)

func (e *env) search(t *testing.T, f domain.Filter, scope domain.Scope) []domain.ArtifactVersion {
	t.Helper()
	out, err := e.query.Evaluate(context.Background(), f, scope)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return out
}

func TestQueryVisibilityScoping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.createImage(t, "tenant-a", "private-a", "1.0.0")

	if _, _, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
		TenantID:   "tenant-b",
		Principal:  "bob",
		TypeName:   "image",
		Name:       "public-b",
		Visibility: domain.VisibilityPublic,
		Version:    "1.0.0",
		Metadata:   map[string]any{"os_type": "linux"},
	}); err != nil {
		t.Fatalf("create public: %v", err)
	}
	if _, _, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
		TenantID:   "tenant-b",
		Principal:  "bob",
		TypeName:   "image",
		Name:       "shared-b",
		Visibility: domain.VisibilityShared,
		SharedWith: []string{"tenant-a"},
		Version:    "1.0.0",
		Metadata:   map[string]any{"os_type": "linux"},
	}); err != nil {
		t.Fatalf("create shared: %v", err)
	}
	if _, _, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
		TenantID:  "tenant-b",
		Principal: "bob",
		TypeName:  "image",
		Name:      "private-b",
		Version:   "1.0.0",
		Metadata:  map[string]any{"os_type": "linux"},
	}); err != nil {
		t.Fatalf("create foreign private: %v", err)
	}

	got := e.search(t, domain.Filter{}, domain.Scope{TenantID: "tenant-a", Principal: "alice"})
	names := map[string]bool{}
	for _, v := range got {
		artifact, err := e.store.Artifacts().GetByID(ctx, v.ArtifactID)
		if err != nil {
			t.Fatalf("lookup artifact: %v", err)
		}
		names[artifact.Name] = true
	}
	if len(got) != 3 || !names["private-a"] || !names["public-b"] || !names["shared-b"] {
		t.Fatalf("unexpected result set: %v", names)
	}
}

func TestQueryHidesForeignDeactivated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, ver, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
		TenantID:   "tenant-b",
		Principal:  "bob",
		TypeName:   "image",
		Name:       "flaky",
		Visibility: domain.VisibilityPublic,
		Version:    "1.0.0",
		Metadata:   map[string]any{"os_type": "linux"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	e.forceStatus(t, ver.ID, domain.StatusDrafted, domain.StatusDeactivated)

	if got := e.search(t, domain.Filter{}, domain.Scope{TenantID: "tenant-a"}); len(got) != 0 {
		t.Fatalf("deactivated foreign version must be hidden, got %d", len(got))
	}
	if got := e.search(t, domain.Filter{}, domain.Scope{TenantID: "tenant-b"}); len(got) != 1 {
		t.Fatalf("owner must still see it, got %d", len(got))
	}
}

func TestQueryMetadataPredicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}

	for _, spec := range []struct {
		name string
		ram  int
	}{{"small", 1024}, {"medium", 4096}, {"large", 16384}} {
		if _, _, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
			TenantID:  "tenant-a",
			Principal: "alice",
			TypeName:  "image",
			Name:      spec.name,
			Version:   "1.0.0",
			Metadata:  map[string]any{"os_type": "linux", "min_ram_mb": spec.ram},
		}); err != nil {
			t.Fatalf("create %s: %v", spec.name, err)
		}
	}

	got := e.search(t, domain.Filter{
		All: []domain.Predicate{{Field: "min_ram_mb", Op: domain.OpGte, Value: 4096}},
	}, scope)
	if len(got) != 2 {
		t.Fatalf("gte 4096: expected 2, got %d", len(got))
	}

	got = e.search(t, domain.Filter{
		All: []domain.Predicate{
			{Field: "min_ram_mb", Op: domain.OpGt, Value: 1024},
			{Field: "min_ram_mb", Op: domain.OpLt, Value: 16384},
		},
	}, scope)
	if len(got) != 1 {
		t.Fatalf("between: expected 1, got %d", len(got))
	}

	got = e.search(t, domain.Filter{
		Any: [][]domain.Predicate{
			{{Field: "name", Op: domain.OpEq, Value: "small"}},
			{{Field: "name", Op: domain.OpEq, Value: "large"}},
		},
	}, scope)
	if len(got) != 2 {
		t.Fatalf("any-of names: expected 2, got %d", len(got))
	}

	got = e.search(t, domain.Filter{
		All: []domain.Predicate{{Field: "min_ram_mb", Op: domain.OpIn, Value: []any{1024, 16384}}},
	}, scope)
	if len(got) != 2 {
		t.Fatalf("in: expected 2, got %d", len(got))
	}
}

func TestQueryDefaultExcludesDeleted(t *testing.T) {
	e := newEnv(t)
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")
	e.transition(t, "tenant-a", artifact.ID, "1.0.0", domain.StatusDeleted)

	if got := e.search(t, domain.Filter{}, scope); len(got) != 0 {
		t.Fatalf("tombstone leaked into default listing: %d", len(got))
	}
	got := e.search(t, domain.Filter{Statuses: []domain.VersionStatus{domain.StatusDeleted}}, scope)
	if len(got) != 1 {
		t.Fatalf("explicit deleted filter: expected 1, got %d", len(got))
	}
}

func TestQuerySortAndPagination(t *testing.T) {
	e := newEnv(t)
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}
	artifact, _ := e.createImage(t, "tenant-a", "img", "1.0.0")
	for _, v := range []string{"1.2.0", "1.10.0"} {
		if _, err := e.artifacts.NewVersion(context.Background(), usecase.NewVersionRequest{
			TenantID:   "tenant-a",
			Principal:  "alice",
			ArtifactID: artifact.ID,
			Version:    v,
			Metadata:   map[string]any{"os_type": "linux"},
		}); err != nil {
			t.Fatalf("new version %s: %v", v, err)
		}
	}

	// Semantic ordering: 1.10.0 > 1.2.0 > 1.0.0.
	got := e.search(t, domain.Filter{SortBy: "version", SortDesc: true}, scope)
	if len(got) != 3 || got[0].Version != "1.10.0" || got[2].Version != "1.0.0" {
		t.Fatalf("unexpected order: %+v", versionsOf(got))
	}

	page1 := e.search(t, domain.Filter{SortBy: "version", Limit: 2}, scope)
	if len(page1) != 2 || page1[0].Version != "1.0.0" {
		t.Fatalf("page1: %+v", versionsOf(page1))
	}
	page2 := e.search(t, domain.Filter{SortBy: "version", Limit: 2, Marker: page1[1].ID}, scope)
	if len(page2) != 1 || page2[0].Version != "1.10.0" {
		t.Fatalf("page2: %+v", versionsOf(page2))
	}
}

func versionsOf(vs []domain.ArtifactVersion) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Version)
	}
	return out
}

func TestQueryTags(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}

	if _, _, err := e.artifacts.Create(ctx, usecase.CreateArtifactRequest{
		TenantID:  "tenant-a",
		Principal: "alice",
		TypeName:  "image",
		Name:      "tagged",
		Version:   "1.0.0",
		Metadata:  map[string]any{"os_type": "linux"},
		Tags:      []string{"gold", "ci"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.createImage(t, "tenant-a", "untagged", "1.0.0")

	if got := e.search(t, domain.Filter{Tags: []string{"gold"}}, scope); len(got) != 1 {
		t.Fatalf("tag filter: expected 1, got %d", len(got))
	}
	if got := e.search(t, domain.Filter{Tags: []string{"gold", "missing"}}, scope); len(got) != 0 {
		t.Fatalf("all tags must match, got %d", len(got))
	}
}

func TestQueryDependencyPredicateDepthCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := domain.Scope{TenantID: "tenant-a", Principal: "alice"}

	// Chain: app -> lib -> base.
	_, appVer := e.createImage(t, "tenant-a", "app", "1.0.0")
	_, libVer := e.createImage(t, "tenant-a", "lib", "1.0.0")
	_, baseVer := e.createImage(t, "tenant-a", "base", "1.0.0")

	for _, edge := range []struct{ from, to string }{
		{appVer.ID, libVer.ID},
		{libVer.ID, baseVer.ID},
	} {
		if _, err := e.dependencies.Link(ctx, usecase.LinkRequest{
			TenantID:      "tenant-a",
			Principal:     "alice",
			FromVersionID: edge.from,
			ToVersionID:   edge.to,
			Kind:          domain.LinkRequires,
		}); err != nil {
			t.Fatalf("link: %v", err)
		}
	}

	reachBase := domain.Filter{Dependency: &domain.DependencyPredicate{
		Kind:   domain.LinkRequires,
		Target: &domain.Predicate{Field: "artifact_id", Op: domain.OpEq, Value: baseVer.ArtifactID},
	}}
	got := e.search(t, reachBase, scope)
	if len(got) != 2 {
		t.Fatalf("expected app and lib to reach base, got %d", len(got))
	}

	capped := reachBase
	capped.Dependency = &domain.DependencyPredicate{
		Kind:     domain.LinkRequires,
		Target:   reachBase.Dependency.Target,
		MaxDepth: 1,
	}
	got = e.search(t, capped, scope)
	if len(got) != 1 || got[0].ID != libVer.ID {
		t.Fatalf("depth 1: expected only lib, got %+v", versionsOf(got))
	}
}

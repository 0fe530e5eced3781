// Package memstore is an in-memory implementation of the persistence
// contract. It backs the service's no-db mode and the unit tests; the
// Postgres store in infra/db is the production implementation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Fedosin/glare/internal/domain"
	"github.com/Fedosin/glare/internal/usecase"
)

type dataset struct {
	tenants   map[string]domain.Tenant
	artifacts map[string]domain.Artifact
	versions  map[string]domain.ArtifactVersion
	blobs     map[string]domain.BlobReference
	links     map[string]domain.DependencyLink
	ledgers   map[string]domain.QuotaLedger
}

func newDataset() *dataset {
	return &dataset{
		tenants:   make(map[string]domain.Tenant),
		artifacts: make(map[string]domain.Artifact),
		versions:  make(map[string]domain.ArtifactVersion),
		blobs:     make(map[string]domain.BlobReference),
		links:     make(map[string]domain.DependencyLink),
		ledgers:   make(map[string]domain.QuotaLedger),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for k, v := range d.tenants {
		out.tenants[k] = v
	}
	for k, v := range d.artifacts {
		out.artifacts[k] = v
	}
	for k, v := range d.versions {
		out.versions[k] = copyVersion(v)
	}
	for k, v := range d.blobs {
		out.blobs[k] = v
	}
	for k, v := range d.links {
		out.links[k] = v
	}
	for k, v := range d.ledgers {
		out.ledgers[k] = v
	}
	return out
}

func copyVersion(v domain.ArtifactVersion) domain.ArtifactVersion {
	if v.Metadata != nil {
		m := make(map[string]any, len(v.Metadata))
		for k, val := range v.Metadata {
			m[k] = val
		}
		v.Metadata = m
	}
	if v.Tags != nil {
		v.Tags = append([]string(nil), v.Tags...)
	}
	return v
}

// Store is a mutex-guarded in-memory usecase.Store. WithTx snapshots
// the dataset and restores it when fn fails, so multi-step mutations
// stay atomic the same way the SQL transaction does.
type Store struct {
	mu            sync.Mutex
	data          *dataset
	DefaultLimits domain.QuotaLimits
}

func New() *Store {
	return &Store{data: newDataset()}
}

type runner interface {
	run(fn func(d *dataset) error) error
}

func (s *Store) run(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// txStore operates on the dataset while the owning Store's mutex is
// held by WithTx.
type txStore struct {
	s *Store
}

func (t *txStore) run(fn func(d *dataset) error) error {
	return fn(t.s.data)
}

func (s *Store) WithTx(ctx context.Context, fn func(usecase.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	tx := &txStore{s: s}
	if err := fn(asStore(tx, s.DefaultLimits)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (t *txStore) WithTx(ctx context.Context, fn func(usecase.Store) error) error {
	// already inside a transaction; nest flatly
	return fn(asStore(t, t.s.DefaultLimits))
}

type storeView struct {
	r        runner
	withTx   func(ctx context.Context, fn func(usecase.Store) error) error
	defaults domain.QuotaLimits
}

func asStore(r runner, defaults domain.QuotaLimits) usecase.Store {
	switch h := r.(type) {
	case *Store:
		return &storeView{r: r, withTx: h.WithTx, defaults: defaults}
	case *txStore:
		return &storeView{r: r, withTx: h.WithTx, defaults: defaults}
	}
	panic("unreachable")
}

// Root returns s as a usecase.Store.
func (s *Store) Root() usecase.Store {
	return asStore(s, s.DefaultLimits)
}

func (v *storeView) Tenants() usecase.TenantRepository           { return &tenantRepo{v.r} }
func (v *storeView) Artifacts() usecase.ArtifactRepository       { return &artifactRepo{v.r} }
func (v *storeView) Versions() usecase.VersionRepository         { return &versionRepo{v.r} }
func (v *storeView) Blobs() usecase.BlobRepository               { return &blobRepo{v.r} }
func (v *storeView) Quotas() usecase.QuotaRepository             { return &quotaRepo{v.r, v.defaults} }
func (v *storeView) Dependencies() usecase.DependencyRepository  { return &depRepo{v.r} }
func (v *storeView) WithTx(ctx context.Context, fn func(usecase.Store) error) error {
	return v.withTx(ctx, fn)
}

type tenantRepo struct{ r runner }

func (r *tenantRepo) Create(ctx context.Context, t domain.Tenant) error {
	return r.r.run(func(d *dataset) error {
		if _, exists := d.tenants[t.ID]; exists {
			return domain.ErrConflict
		}
		d.tenants[t.ID] = t
		return nil
	})
}

func (r *tenantRepo) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var out *domain.Tenant
	err := r.r.run(func(d *dataset) error {
		t, ok := d.tenants[tenantID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

type artifactRepo struct{ r runner }

func (r *artifactRepo) Create(ctx context.Context, a domain.Artifact) error {
	return r.r.run(func(d *dataset) error {
		if _, exists := d.artifacts[a.ID]; exists {
			return domain.ErrConflict
		}
		d.artifacts[a.ID] = a
		return nil
	})
}

func (r *artifactRepo) GetByID(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	var out *domain.Artifact
	err := r.r.run(func(d *dataset) error {
		a, ok := d.artifacts[artifactID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *artifactRepo) Update(ctx context.Context, a domain.Artifact) error {
	return r.r.run(func(d *dataset) error {
		if _, ok := d.artifacts[a.ID]; !ok {
			return domain.ErrNotFound
		}
		d.artifacts[a.ID] = a
		return nil
	})
}

type versionRepo struct{ r runner }

func (r *versionRepo) Create(ctx context.Context, v domain.ArtifactVersion) error {
	return r.r.run(func(d *dataset) error {
		for _, existing := range d.versions {
			if existing.ArtifactID == v.ArtifactID && existing.Version == v.Version {
				return fmt.Errorf("%w: version %s already exists", domain.ErrConflict, v.Version)
			}
		}
		d.versions[v.ID] = copyVersion(v)
		return nil
	})
}

func (r *versionRepo) GetByID(ctx context.Context, versionID string) (*domain.ArtifactVersion, error) {
	var out *domain.ArtifactVersion
	err := r.r.run(func(d *dataset) error {
		v, ok := d.versions[versionID]
		if !ok {
			return domain.ErrNotFound
		}
		c := copyVersion(v)
		out = &c
		return nil
	})
	return out, err
}

func (r *versionRepo) Get(ctx context.Context, artifactID, version string) (*domain.ArtifactVersion, error) {
	var out *domain.ArtifactVersion
	err := r.r.run(func(d *dataset) error {
		for _, v := range d.versions {
			if v.ArtifactID == artifactID && v.Version == version {
				c := copyVersion(v)
				out = &c
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *versionRepo) ListByArtifact(ctx context.Context, artifactID string) ([]domain.ArtifactVersion, error) {
	var out []domain.ArtifactVersion
	err := r.r.run(func(d *dataset) error {
		for _, v := range d.versions {
			if v.ArtifactID == artifactID {
				out = append(out, copyVersion(v))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out, nil
}

func (r *versionRepo) UpdateMetadata(ctx context.Context, versionID string, metadata map[string]any, tags []string) error {
	return r.r.run(func(d *dataset) error {
		v, ok := d.versions[versionID]
		if !ok {
			return domain.ErrNotFound
		}
		v.Metadata = metadata
		v.Tags = tags
		v.UpdatedAt = time.Now().UTC()
		d.versions[versionID] = copyVersion(v)
		return nil
	})
}

func (r *versionRepo) CompareAndSwapStatus(ctx context.Context, versionID string, from, to domain.VersionStatus, at time.Time) error {
	return r.r.run(func(d *dataset) error {
		v, ok := d.versions[versionID]
		if !ok {
			return domain.ErrNotFound
		}
		if v.Status != from {
			return domain.ErrConflict
		}
		v.Status = to
		v.UpdatedAt = at
		if to == domain.StatusActive && v.ActivatedAt == nil {
			t := at
			v.ActivatedAt = &t
		}
		if to == domain.StatusDeleted {
			t := at
			v.DeletedAt = &t
		}
		d.versions[versionID] = v
		return nil
	})
}

func (r *versionRepo) ClearMetadata(ctx context.Context, versionID string) error {
	return r.r.run(func(d *dataset) error {
		v, ok := d.versions[versionID]
		if !ok {
			return domain.ErrNotFound
		}
		v.Metadata = nil
		v.Tags = nil
		d.versions[versionID] = v
		return nil
	})
}

func (r *versionRepo) Query(ctx context.Context, f domain.Filter, scope domain.Scope) ([]domain.ArtifactVersion, error) {
	var out []domain.ArtifactVersion
	err := r.r.run(func(d *dataset) error {
		for _, v := range d.versions {
			artifact, ok := d.artifacts[v.ArtifactID]
			if !ok {
				continue
			}
			if !matchVisibility(&artifact, &v, scope) {
				continue
			}
			if !matchFilter(&artifact, &v, f) {
				continue
			}
			out = append(out, copyVersion(v))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortVersions(out, f)
	return paginate(out, f), nil
}

// matchVisibility applies the mandatory scoping: private stays inside
// its tenant, deactivated versions are hidden from other tenants.
func matchVisibility(a *domain.Artifact, v *domain.ArtifactVersion, scope domain.Scope) bool {
	if !a.VisibleTo(scope.TenantID, scope.Principal) {
		return false
	}
	if v.Status == domain.StatusDeactivated && v.TenantID != scope.TenantID {
		return false
	}
	return true
}

func matchFilter(a *domain.Artifact, v *domain.ArtifactVersion, f domain.Filter) bool {
	if f.TypeName != "" && v.TypeName != f.TypeName {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if v.Status == st {
				found = true
			}
		}
		if !found {
			return false
		}
	} else if v.Status == domain.StatusDeleted {
		// deleted tombstones never show up unless asked for explicitly
		return false
	}
	for _, tag := range f.Tags {
		if !v.HasTag(tag) {
			return false
		}
	}
	for _, p := range f.All {
		if !matchOne(a, v, p) {
			return false
		}
	}
	if len(f.Any) > 0 {
		matched := false
		for _, group := range f.Any {
			all := true
			for _, p := range group {
				if !matchOne(a, v, p) {
					all = false
					break
				}
			}
			if all {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func matchOne(a *domain.Artifact, v *domain.ArtifactVersion, p domain.Predicate) bool {
	switch p.Field {
	case "name":
		return usecase.Compare(a.Name, p.Op, p.Value)
	case "owner":
		return usecase.Compare(a.Owner, p.Op, p.Value)
	default:
		return usecase.MatchVersion(v, p)
	}
}

func sortVersions(out []domain.ArtifactVersion, f domain.Filter) {
	cmp := func(a, b *domain.ArtifactVersion) int {
		switch f.SortBy {
		case "version":
			return domain.CompareVersions(a.Version, b.Version)
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := cmp(&out[i], &out[j])
		if f.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		// deterministic tiebreak keeps markers stable
		return out[i].ID < out[j].ID
	})
}

func paginate(out []domain.ArtifactVersion, f domain.Filter) []domain.ArtifactVersion {
	if f.Marker != "" {
		start := 0
		for i, v := range out {
			if v.ID == f.Marker {
				start = i + 1
				break
			}
		}
		out = out[start:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

type blobRepo struct{ r runner }

func (r *blobRepo) Create(ctx context.Context, b domain.BlobReference) error {
	return r.r.run(func(d *dataset) error {
		if _, exists := d.blobs[b.ID]; exists {
			return domain.ErrConflict
		}
		d.blobs[b.ID] = b
		return nil
	})
}

func (r *blobRepo) GetByID(ctx context.Context, refID string) (*domain.BlobReference, error) {
	var out *domain.BlobReference
	err := r.r.run(func(d *dataset) error {
		b, ok := d.blobs[refID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *blobRepo) ListByVersion(ctx context.Context, versionID string) ([]domain.BlobReference, error) {
	var out []domain.BlobReference
	err := r.r.run(func(d *dataset) error {
		for _, b := range d.blobs {
			if b.VersionID == versionID {
				out = append(out, b)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *blobRepo) ListBySlot(ctx context.Context, versionID, slot string) ([]domain.BlobReference, error) {
	refs, err := r.ListByVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	var out []domain.BlobReference
	for _, b := range refs {
		if b.Slot == slot {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *blobRepo) Update(ctx context.Context, b domain.BlobReference) error {
	return r.r.run(func(d *dataset) error {
		if _, ok := d.blobs[b.ID]; !ok {
			return domain.ErrNotFound
		}
		d.blobs[b.ID] = b
		return nil
	})
}

func (r *blobRepo) UpdateStatus(ctx context.Context, refID string, status domain.BlobStatus, at time.Time) error {
	return r.r.run(func(d *dataset) error {
		b, ok := d.blobs[refID]
		if !ok {
			return domain.ErrNotFound
		}
		b.Status = status
		b.UpdatedAt = at
		d.blobs[refID] = b
		return nil
	})
}

func (r *blobRepo) Delete(ctx context.Context, refID string) error {
	return r.r.run(func(d *dataset) error {
		if _, ok := d.blobs[refID]; !ok {
			return domain.ErrNotFound
		}
		delete(d.blobs, refID)
		return nil
	})
}

type quotaRepo struct {
	r        runner
	defaults domain.QuotaLimits
}

func (r *quotaRepo) ledger(d *dataset, tenantID string) domain.QuotaLedger {
	if l, ok := d.ledgers[tenantID]; ok {
		return l
	}
	return domain.QuotaLedger{TenantID: tenantID, Limits: r.defaults}
}

func (r *quotaRepo) Get(ctx context.Context, tenantID string) (*domain.QuotaLedger, error) {
	var out domain.QuotaLedger
	err := r.r.run(func(d *dataset) error {
		out = r.ledger(d, tenantID)
		return nil
	})
	return &out, err
}

func (r *quotaRepo) SetLimits(ctx context.Context, tenantID string, limits domain.QuotaLimits) error {
	return r.r.run(func(d *dataset) error {
		l := r.ledger(d, tenantID)
		l.Limits = limits
		l.UpdatedAt = time.Now().UTC()
		d.ledgers[tenantID] = l
		return nil
	})
}

func (r *quotaRepo) Apply(ctx context.Context, tenantID string, deltaBytes, deltaCount int64) error {
	return r.r.run(func(d *dataset) error {
		l := r.ledger(d, tenantID)
		if !l.Admits(deltaBytes, deltaCount) {
			return fmt.Errorf("%w: bytes %d+%d, count %d+%d", domain.ErrQuotaExceeded,
				l.BlobBytes, deltaBytes, l.ArtifactCount, deltaCount)
		}
		l.BlobBytes += deltaBytes
		l.ArtifactCount += deltaCount
		l.UpdatedAt = time.Now().UTC()
		d.ledgers[tenantID] = l
		return nil
	})
}

type depRepo struct{ r runner }

func (r *depRepo) Add(ctx context.Context, l domain.DependencyLink) error {
	return r.r.run(func(d *dataset) error {
		for _, existing := range d.links {
			if existing.FromVersionID == l.FromVersionID &&
				existing.ToVersionID == l.ToVersionID && existing.Kind == l.Kind {
				return domain.ErrConflict
			}
		}
		d.links[l.ID] = l
		return nil
	})
}

func (r *depRepo) Remove(ctx context.Context, fromVersionID, toVersionID string, kind domain.LinkKind) error {
	return r.r.run(func(d *dataset) error {
		for id, l := range d.links {
			if l.FromVersionID == fromVersionID && l.ToVersionID == toVersionID && l.Kind == kind {
				delete(d.links, id)
				return nil
			}
		}
		return domain.ErrNotFound
	})
}

func (r *depRepo) ListFrom(ctx context.Context, versionID string) ([]domain.DependencyLink, error) {
	var out []domain.DependencyLink
	err := r.r.run(func(d *dataset) error {
		for _, l := range d.links {
			if l.FromVersionID == versionID {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *depRepo) ListTo(ctx context.Context, versionID string) ([]domain.DependencyLink, error) {
	var out []domain.DependencyLink
	err := r.r.run(func(d *dataset) error {
		for _, l := range d.links {
			if l.ToVersionID == versionID {
				out = append(out, l)
			}
		}
		return nil
	})
	return out, err
}

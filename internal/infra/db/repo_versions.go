package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

type versionRepo struct {
	db *gorm.DB
}

func versionToModel(v domain.ArtifactVersion) (ArtifactVersionModel, error) {
	metadata := v.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return ArtifactVersionModel{}, err
	}
	var tagsJSON []byte
	if len(v.Tags) > 0 {
		tagsJSON, err = json.Marshal(v.Tags)
		if err != nil {
			return ArtifactVersionModel{}, err
		}
	}
	return ArtifactVersionModel{
		ID:           v.ID,
		TenantID:     v.TenantID,
		ArtifactID:   v.ArtifactID,
		TypeName:     v.TypeName,
		Version:      v.Version,
		Status:       string(v.Status),
		MetadataJSON: metadataJSON,
		TagsJSON:     tagsJSON,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		ActivatedAt:  v.ActivatedAt,
		DeletedAt:    v.DeletedAt,
	}, nil
}

func versionFromModel(m ArtifactVersionModel) (*domain.ArtifactVersion, error) {
	v := domain.ArtifactVersion{
		ID:          m.ID,
		TenantID:    m.TenantID,
		ArtifactID:  m.ArtifactID,
		TypeName:    m.TypeName,
		Version:     m.Version,
		Status:      domain.VersionStatus(m.Status),
		Metadata:    map[string]any{},
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		ActivatedAt: m.ActivatedAt,
		DeletedAt:   m.DeletedAt,
	}
	if len(m.MetadataJSON) > 0 {
		if err := json.Unmarshal(m.MetadataJSON, &v.Metadata); err != nil {
			return nil, err
		}
	}
	if len(m.TagsJSON) > 0 {
		if err := json.Unmarshal(m.TagsJSON, &v.Tags); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (r *versionRepo) Create(ctx context.Context, v domain.ArtifactVersion) error {
	model, err := versionToModel(v)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *versionRepo) GetByID(ctx context.Context, versionID string) (*domain.ArtifactVersion, error) {
	var model ArtifactVersionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", versionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.hydrate(ctx, model)
}

func (r *versionRepo) Get(ctx context.Context, artifactID, version string) (*domain.ArtifactVersion, error) {
	var model ArtifactVersionModel
	err := r.db.WithContext(ctx).
		First(&model, "artifact_id = ? AND version = ?", artifactID, version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return r.hydrate(ctx, model)
}

func (r *versionRepo) ListByArtifact(ctx context.Context, artifactID string) ([]domain.ArtifactVersion, error) {
	var models []ArtifactVersionModel
	err := r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	versions := make([]domain.ArtifactVersion, 0, len(models))
	for _, model := range models {
		v, err := r.hydrate(ctx, model)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, nil
}

// hydrate loads the version's blob references and outgoing links so
// callers see the same shape the in-memory store returns.
func (r *versionRepo) hydrate(ctx context.Context, model ArtifactVersionModel) (*domain.ArtifactVersion, error) {
	v, err := versionFromModel(model)
	if err != nil {
		return nil, err
	}
	blobs := blobRepo{db: r.db}
	refs, err := blobs.ListByVersion(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Blobs = refs
	deps := dependencyRepo{db: r.db}
	links, err := deps.ListFrom(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Links = links
	return v, nil
}

func (r *versionRepo) UpdateMetadata(ctx context.Context, versionID string, metadata map[string]any, tags []string) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var tagsJSON []byte
	if len(tags) > 0 {
		tagsJSON, err = json.Marshal(tags)
		if err != nil {
			return err
		}
	}
	result := r.db.WithContext(ctx).Model(&ArtifactVersionModel{}).
		Where("id = ?", versionID).
		Updates(map[string]any{
			"metadata_json": metadataJSON,
			"tags_json":     tagsJSON,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *versionRepo) CompareAndSwapStatus(ctx context.Context, versionID string, from, to domain.VersionStatus, at time.Time) error {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": at,
	}
	switch to {
	case domain.StatusActive:
		// Set once: reactivation keeps the original activation time.
		updates["activated_at"] = gorm.Expr("COALESCE(activated_at, ?)", at)
	case domain.StatusDeleted:
		updates["deleted_at"] = at
	}
	result := r.db.WithContext(ctx).Model(&ArtifactVersionModel{}).
		Where("id = ? AND status = ?", versionID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&ArtifactVersionModel{}).
			Where("id = ?", versionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *versionRepo) ClearMetadata(ctx context.Context, versionID string) error {
	result := r.db.WithContext(ctx).Model(&ArtifactVersionModel{}).
		Where("id = ?", versionID).
		Updates(map[string]any{
			"metadata_json": []byte("{}"),
			"tags_json":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLSTATE 23505 from the pgx driver when the translator is off.
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}

package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

type blobRepo struct {
	db *gorm.DB
}

func blobToModel(b domain.BlobReference) BlobReferenceModel {
	return BlobReferenceModel{
		ID:          b.ID,
		VersionID:   b.VersionID,
		Slot:        b.Slot,
		Location:    b.Location,
		Size:        b.Size,
		Checksum:    b.Checksum,
		ContentType: b.ContentType,
		External:    b.External,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func blobFromModel(m BlobReferenceModel) domain.BlobReference {
	return domain.BlobReference{
		ID:          m.ID,
		VersionID:   m.VersionID,
		Slot:        m.Slot,
		Location:    m.Location,
		Size:        m.Size,
		Checksum:    m.Checksum,
		ContentType: m.ContentType,
		External:    m.External,
		Status:      domain.BlobStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func (r *blobRepo) Create(ctx context.Context, b domain.BlobReference) error {
	model := blobToModel(b)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *blobRepo) GetByID(ctx context.Context, refID string) (*domain.BlobReference, error) {
	var model BlobReferenceModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", refID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	ref := blobFromModel(model)
	return &ref, nil
}

func (r *blobRepo) ListByVersion(ctx context.Context, versionID string) ([]domain.BlobReference, error) {
	var models []BlobReferenceModel
	err := r.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	refs := make([]domain.BlobReference, 0, len(models))
	for _, model := range models {
		refs = append(refs, blobFromModel(model))
	}
	return refs, nil
}

func (r *blobRepo) ListBySlot(ctx context.Context, versionID, slot string) ([]domain.BlobReference, error) {
	var models []BlobReferenceModel
	err := r.db.WithContext(ctx).
		Where("version_id = ? AND slot = ?", versionID, slot).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	refs := make([]domain.BlobReference, 0, len(models))
	for _, model := range models {
		refs = append(refs, blobFromModel(model))
	}
	return refs, nil
}

func (r *blobRepo) Update(ctx context.Context, b domain.BlobReference) error {
	model := blobToModel(b)
	result := r.db.WithContext(ctx).Model(&BlobReferenceModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"location":     model.Location,
			"size":         model.Size,
			"checksum":     model.Checksum,
			"content_type": model.ContentType,
			"status":       model.Status,
			"updated_at":   model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *blobRepo) UpdateStatus(ctx context.Context, refID string, status domain.BlobStatus, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&BlobReferenceModel{}).
		Where("id = ?", refID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *blobRepo) Delete(ctx context.Context, refID string) error {
	return r.db.WithContext(ctx).
		Delete(&BlobReferenceModel{}, "id = ?", refID).Error
}

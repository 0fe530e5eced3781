package db

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

type artifactRepo struct {
	db *gorm.DB
}

func artifactToModel(a domain.Artifact) (ArtifactModel, error) {
	var shared []byte
	if len(a.SharedWith) > 0 {
		var err error
		shared, err = json.Marshal(a.SharedWith)
		if err != nil {
			return ArtifactModel{}, err
		}
	}
	return ArtifactModel{
		ID:             a.ID,
		TenantID:       a.TenantID,
		TypeName:       a.TypeName,
		Name:           a.Name,
		Owner:          a.Owner,
		Visibility:     string(a.Visibility),
		SharedWithJSON: shared,
		Description:    a.Description,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}, nil
}

func artifactFromModel(m ArtifactModel) (*domain.Artifact, error) {
	a := domain.Artifact{
		ID:          m.ID,
		TenantID:    m.TenantID,
		TypeName:    m.TypeName,
		Name:        m.Name,
		Owner:       m.Owner,
		Visibility:  domain.Visibility(m.Visibility),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if len(m.SharedWithJSON) > 0 {
		if err := json.Unmarshal(m.SharedWithJSON, &a.SharedWith); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (r *artifactRepo) Create(ctx context.Context, a domain.Artifact) error {
	model, err := artifactToModel(a)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *artifactRepo) GetByID(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	var model ArtifactModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", artifactID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return artifactFromModel(model)
}

func (r *artifactRepo) Update(ctx context.Context, a domain.Artifact) error {
	model, err := artifactToModel(a)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&ArtifactModel{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"name":             model.Name,
			"visibility":       model.Visibility,
			"shared_with_json": model.SharedWithJSON,
			"description":      model.Description,
			"updated_at":       model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

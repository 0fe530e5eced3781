package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

type tenantRepo struct {
	db *gorm.DB
}

func (r *tenantRepo) Create(ctx context.Context, t domain.Tenant) error {
	model := TenantModel{
		ID:        t.ID,
		Name:      t.Name,
		CreatedAt: t.CreatedAt,
	}
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrConflict
	}
	return err
}

func (r *tenantRepo) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	var model TenantModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &domain.Tenant{
		ID:        model.ID,
		Name:      model.Name,
		CreatedAt: model.CreatedAt,
	}, nil
}

package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Fedosin/glare/internal/domain"
)

type dependencyRepo struct {
	db *gorm.DB
}

func linkFromModel(m DependencyLinkModel) domain.DependencyLink {
	return domain.DependencyLink{
		ID:            m.ID,
		TenantID:      m.TenantID,
		FromVersionID: m.FromVersionID,
		ToVersionID:   m.ToVersionID,
		Kind:          domain.LinkKind(m.Kind),
		CreatedAt:     m.CreatedAt,
	}
}

func (r *dependencyRepo) Add(ctx context.Context, l domain.DependencyLink) error {
	model := DependencyLinkModel{
		ID:            l.ID,
		TenantID:      l.TenantID,
		FromVersionID: l.FromVersionID,
		ToVersionID:   l.ToVersionID,
		Kind:          string(l.Kind),
		CreatedAt:     l.CreatedAt,
	}
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil && isUniqueViolation(err) {
		return domain.ErrConflict
	}
	return err
}

func (r *dependencyRepo) Remove(ctx context.Context, fromVersionID, toVersionID string, kind domain.LinkKind) error {
	result := r.db.WithContext(ctx).Delete(&DependencyLinkModel{},
		"from_version_id = ? AND to_version_id = ? AND kind = ?",
		fromVersionID, toVersionID, string(kind))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *dependencyRepo) ListFrom(ctx context.Context, versionID string) ([]domain.DependencyLink, error) {
	return r.list(ctx, "from_version_id = ?", versionID)
}

func (r *dependencyRepo) ListTo(ctx context.Context, versionID string) ([]domain.DependencyLink, error) {
	return r.list(ctx, "to_version_id = ?", versionID)
}

func (r *dependencyRepo) list(ctx context.Context, cond, versionID string) ([]domain.DependencyLink, error) {
	var models []DependencyLinkModel
	err := r.db.WithContext(ctx).
		Where(cond, versionID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	links := make([]domain.DependencyLink, 0, len(models))
	for _, model := range models {
		links = append(links, linkFromModel(model))
	}
	return links, nil
}

package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Fedosin/glare/internal/domain"
)

type quotaRepo struct {
	db *gorm.DB
}

func ledgerFromModel(m QuotaLedgerModel) *domain.QuotaLedger {
	return &domain.QuotaLedger{
		TenantID:      m.TenantID,
		ArtifactCount: m.ArtifactCount,
		BlobBytes:     m.BlobBytes,
		Limits: domain.QuotaLimits{
			MaxArtifacts: m.MaxArtifacts,
			MaxBlobBytes: m.MaxBlobBytes,
		},
		UpdatedAt: m.UpdatedAt,
	}
}

func (r *quotaRepo) Get(ctx context.Context, tenantID string) (*domain.QuotaLedger, error) {
	var model QuotaLedgerModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ?", tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return ledgerFromModel(model), nil
}

func (r *quotaRepo) SetLimits(ctx context.Context, tenantID string, limits domain.QuotaLimits) error {
	now := time.Now().UTC()
	model := QuotaLedgerModel{
		TenantID:     tenantID,
		MaxArtifacts: limits.MaxArtifacts,
		MaxBlobBytes: limits.MaxBlobBytes,
		UpdatedAt:    now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"max_artifacts":  limits.MaxArtifacts,
			"max_blob_bytes": limits.MaxBlobBytes,
			"updated_at":     now,
		}),
	}).Create(&model).Error
}

// Apply locks the tenant ledger row, checks the deltas against the
// limits and applies them in one step. The caller runs it inside
// WithTx so the lock is held until the surrounding mutation commits.
func (r *quotaRepo) Apply(ctx context.Context, tenantID string, deltaBytes, deltaCount int64) error {
	tx := r.db.WithContext(ctx)

	var model QuotaLedgerModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		model = QuotaLedgerModel{TenantID: tenantID, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			return err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "tenant_id = ?", tenantID).Error
	}
	if err != nil {
		return err
	}

	ledger := ledgerFromModel(model)
	if !ledger.Admits(deltaBytes, deltaCount) {
		return domain.ErrQuotaExceeded
	}
	return tx.Model(&QuotaLedgerModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"artifact_count": gorm.Expr("artifact_count + ?", deltaCount),
			"blob_bytes":     gorm.Expr("blob_bytes + ?", deltaBytes),
			"updated_at":     time.Now().UTC(),
		}).Error
}

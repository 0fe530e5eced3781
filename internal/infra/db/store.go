// Package db is the Postgres persistence layer. The Store hands out
// repositories bound to a shared *gorm.DB; WithTx rebinds them to one
// transaction so a multi-step mutation commits or rolls back as a unit.
package db

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Fedosin/glare/internal/usecase"
)

type Store struct {
	db *gorm.DB
}

// NewStore connects to Postgres and migrates the schema. An empty DSN
// returns (nil, nil) so the caller can fall back to the in-memory
// store for development.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, nil
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := gdb.AutoMigrate(
		&TenantModel{},
		&ArtifactModel{},
		&ArtifactVersionModel{},
		&BlobReferenceModel{},
		&DependencyLinkModel{},
		&QuotaLedgerModel{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: gdb}, nil
}

func (s *Store) Tenants() usecase.TenantRepository          { return &tenantRepo{db: s.db} }
func (s *Store) Artifacts() usecase.ArtifactRepository      { return &artifactRepo{db: s.db} }
func (s *Store) Versions() usecase.VersionRepository        { return &versionRepo{db: s.db} }
func (s *Store) Blobs() usecase.BlobRepository              { return &blobRepo{db: s.db} }
func (s *Store) Quotas() usecase.QuotaRepository            { return &quotaRepo{db: s.db} }
func (s *Store) Dependencies() usecase.DependencyRepository { return &dependencyRepo{db: s.db} }

func (s *Store) WithTx(ctx context.Context, fn func(usecase.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

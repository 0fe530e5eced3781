package db

import "time"

type TenantModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TenantModel) TableName() string { return "tenants" }

type ArtifactModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TenantID       string `gorm:"type:uuid;index;not null"`
	TypeName       string `gorm:"index;not null"`
	Name           string `gorm:"index;not null"`
	Owner          string `gorm:"not null"`
	Visibility     string `gorm:"index;not null"`
	SharedWithJSON []byte `gorm:"type:jsonb"`
	Description    string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (ArtifactModel) TableName() string { return "artifacts" }

type ArtifactVersionModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;index;not null"`
	ArtifactID   string `gorm:"type:uuid;uniqueIndex:idx_artifact_version;not null"`
	TypeName     string `gorm:"index;not null"`
	Version      string `gorm:"uniqueIndex:idx_artifact_version;not null"`
	Status       string `gorm:"index;not null"`
	MetadataJSON []byte `gorm:"type:jsonb;not null"`
	TagsJSON     []byte `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
	ActivatedAt  *time.Time
	DeletedAt    *time.Time
}

func (ArtifactVersionModel) TableName() string { return "artifact_versions" }

type BlobReferenceModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	VersionID   string `gorm:"type:uuid;index;not null"`
	Slot        string `gorm:"index;not null"`
	Location    string `gorm:"not null"`
	Size        int64  `gorm:"not null"`
	Checksum    string
	ContentType string
	External    bool      `gorm:"not null"`
	Status      string    `gorm:"index;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (BlobReferenceModel) TableName() string { return "blob_references" }

type DependencyLinkModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	TenantID      string    `gorm:"type:uuid;index;not null"`
	FromVersionID string    `gorm:"type:uuid;uniqueIndex:idx_dependency_edge;not null"`
	ToVersionID   string    `gorm:"type:uuid;uniqueIndex:idx_dependency_edge;index;not null"`
	Kind          string    `gorm:"uniqueIndex:idx_dependency_edge;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (DependencyLinkModel) TableName() string { return "dependency_links" }

type QuotaLedgerModel struct {
	TenantID      string    `gorm:"type:uuid;primaryKey"`
	ArtifactCount int64     `gorm:"not null;default:0"`
	BlobBytes     int64     `gorm:"not null;default:0"`
	MaxArtifacts  int64     `gorm:"not null;default:0"`
	MaxBlobBytes  int64     `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (QuotaLedgerModel) TableName() string { return "quota_ledgers" }

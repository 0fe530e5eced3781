package domain

import "time"

// QuotaLimits configures per-tenant ceilings. Zero means unlimited.
type QuotaLimits struct {
	MaxArtifacts int64 `json:"max_artifacts"`
	MaxBlobBytes int64 `json:"max_blob_bytes"`
}

// QuotaLedger holds the running per-tenant totals compared against the
// configured limits. Counters are updated atomically with the mutation
// they guard and never go negative.
type QuotaLedger struct {
	TenantID      string      `json:"tenant_id"`
	ArtifactCount int64       `json:"artifact_count"`
	BlobBytes     int64       `json:"blob_bytes"`
	Limits        QuotaLimits `json:"limits"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Admits reports whether applying the deltas would keep the ledger
// within limits and non-negative.
func (l *QuotaLedger) Admits(deltaBytes, deltaCount int64) bool {
	bytes := l.BlobBytes + deltaBytes
	count := l.ArtifactCount + deltaCount
	if bytes < 0 || count < 0 {
		return false
	}
	if l.Limits.MaxBlobBytes > 0 && bytes > l.Limits.MaxBlobBytes {
		return false
	}
	if l.Limits.MaxArtifacts > 0 && count > l.Limits.MaxArtifacts {
		return false
	}
	return true
}

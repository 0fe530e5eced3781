package domain

import "time"

type BlobStatus string

const (
	BlobPending  BlobStatus = "pending"
	BlobActive   BlobStatus = "active"
	BlobFailed   BlobStatus = "failed"
	BlobReleased BlobStatus = "released"
)

// BlobReference ties a declared slot to an opaque storage location.
// The engine never interprets blob contents; it records location, size
// and checksum only.
type BlobReference struct {
	ID          string     `json:"id"`
	VersionID   string     `json:"version_id"`
	Slot        string     `json:"slot"`
	Location    string     `json:"-"`
	Size        int64      `json:"size"`
	Checksum    string     `json:"checksum,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	// External blobs reference a URL outside the managed store; they
	// carry no bytes and are excluded from quota accounting.
	External  bool       `json:"external"`
	Status    BlobStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CountsAgainstQuota reports whether the reference's bytes are charged
// to the tenant ledger.
func (b *BlobReference) CountsAgainstQuota() bool {
	return !b.External && b.Status == BlobActive
}

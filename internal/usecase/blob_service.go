package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Fedosin/glare/internal/domain"
)

// BlobService associates declared blob slots with storage locations
// and coordinates uploads. Quota bytes are reserved at completion, in
// the same transaction that marks the reference active, so a failed or
// aborted upload never holds quota.
type BlobService struct {
	Store  Store
	Types  TypeResolver
	Policy PolicyEngine
	Blobs  BlobStore
	Logger *slog.Logger
	Now    func() time.Time

	DeleteAttempts int
	DeleteBackoff  time.Duration
}

func (s *BlobService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type BeginUploadRequest struct {
	TenantID    string
	Principal   string
	ArtifactID  string
	Version     string
	Slot        string
	ContentType string
}

// BeginUpload creates a pending reference in a slot. A singular slot
// with a live reference rejects a second upload with ErrSlotOccupied;
// the occupancy check and the insert run in one transaction so two
// concurrent begins cannot both pass.
func (s *BlobService) BeginUpload(ctx context.Context, req BeginUploadRequest) (*domain.BlobReference, error) {
	ver, slot, err := s.uploadTarget(ctx, req.TenantID, req.Principal, req.ArtifactID, req.Version, req.Slot, domain.ActionUpload)
	if err != nil {
		return nil, err
	}
	if ver.Status != domain.StatusDrafted && ver.Status != domain.StatusQueued {
		return nil, fmt.Errorf("%w: uploads are only accepted in %s or %s",
			domain.ErrInvalidStateTransition, domain.StatusDrafted, domain.StatusQueued)
	}

	now := s.now()
	ref := domain.BlobReference{
		ID:          uuid.NewString(),
		VersionID:   ver.ID,
		Slot:        slot.Name,
		ContentType: req.ContentType,
		Status:      domain.BlobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if !slot.Many {
			live, err := tx.Blobs().ListBySlot(ctx, ver.ID, slot.Name)
			if err != nil {
				return err
			}
			for _, existing := range live {
				if existing.Status == domain.BlobPending || existing.Status == domain.BlobActive {
					return fmt.Errorf("%w: slot %q", domain.ErrSlotOccupied, slot.Name)
				}
			}
		}
		return tx.Blobs().Create(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// Upload streams body into the storage backend and completes the
// reference. A caller cancelling mid-stream is treated as an abort.
func (s *BlobService) Upload(ctx context.Context, refID string, body io.Reader, expectedChecksum string) (*domain.BlobReference, error) {
	ref, err := s.Store.Blobs().GetByID(ctx, refID)
	if err != nil {
		return nil, err
	}
	if ref.Status != domain.BlobPending {
		return nil, fmt.Errorf("%w: reference is %s", domain.ErrSlotOccupied, ref.Status)
	}

	location, size, checksum, err := s.Blobs.Put(ctx, body)
	if err != nil {
		if abortErr := s.Abort(context.WithoutCancel(ctx), refID); abortErr != nil && s.Logger != nil {
			s.Logger.Warn("abort after failed upload", "ref_id", refID, "error", abortErr)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return s.Complete(ctx, refID, location, size, checksum, expectedChecksum)
}

// Complete verifies the checksum, reserves quota bytes and activates
// the reference as one transaction. A quota rejection removes the
// stored bytes again so nothing leaks.
func (s *BlobService) Complete(ctx context.Context, refID, location string, size int64, checksum, expectedChecksum string) (*domain.BlobReference, error) {
	ref, err := s.Store.Blobs().GetByID(ctx, refID)
	if err != nil {
		return nil, err
	}
	if ref.Status != domain.BlobPending {
		return nil, fmt.Errorf("%w: reference is %s", domain.ErrSlotOccupied, ref.Status)
	}
	if expectedChecksum != "" && expectedChecksum != checksum {
		if err := s.Abort(ctx, refID); err != nil && s.Logger != nil {
			s.Logger.Warn("abort after checksum mismatch", "ref_id", refID, "error", err)
		}
		_ = s.deleteStored(ctx, location)
		return nil, fmt.Errorf("%w: got %s, want %s", domain.ErrChecksumMismatch, checksum, expectedChecksum)
	}

	ver, err := s.Store.Versions().GetByID(ctx, ref.VersionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updated := *ref
	updated.Location = location
	updated.Size = size
	updated.Checksum = checksum
	updated.Status = domain.BlobActive
	updated.UpdatedAt = now

	err = s.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.Quotas().Apply(ctx, ver.TenantID, size, 0); err != nil {
			return err
		}
		return tx.Blobs().Update(ctx, updated)
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			_ = s.deleteStored(ctx, location)
			if abortErr := s.Abort(ctx, refID); abortErr != nil && s.Logger != nil {
				s.Logger.Warn("abort after quota rejection", "ref_id", refID, "error", abortErr)
			}
		}
		return nil, err
	}
	return &updated, nil
}

// Abort removes a pending reference. No quota is held before
// completion, so there is nothing to release beyond the row itself.
func (s *BlobService) Abort(ctx context.Context, refID string) error {
	ref, err := s.Store.Blobs().GetByID(ctx, refID)
	if err != nil {
		return err
	}
	if ref.Status == domain.BlobActive {
		return fmt.Errorf("%w: active references are deleted, not aborted", domain.ErrInvalidStateTransition)
	}
	if ref.Location != "" {
		_ = s.deleteStored(ctx, ref.Location)
	}
	return s.Store.Blobs().Delete(ctx, refID)
}

type AddExternalRequest struct {
	TenantID    string
	Principal   string
	ArtifactID  string
	Version     string
	Slot        string
	URL         string
	Checksum    string
	ContentType string
}

// AddExternal attaches a reference to a location outside the managed
// store. External blobs carry no bytes and are excluded from quota.
func (s *BlobService) AddExternal(ctx context.Context, req AddExternalRequest) (*domain.BlobReference, error) {
	ver, slot, err := s.uploadTarget(ctx, req.TenantID, req.Principal, req.ArtifactID, req.Version, req.Slot, domain.ActionUpload)
	if err != nil {
		return nil, err
	}
	if req.URL == "" {
		return nil, fmt.Errorf("external blob url is required")
	}

	now := s.now()
	ref := domain.BlobReference{
		ID:          uuid.NewString(),
		VersionID:   ver.ID,
		Slot:        slot.Name,
		Location:    req.URL,
		Checksum:    req.Checksum,
		ContentType: req.ContentType,
		External:    true,
		Status:      domain.BlobActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.Store.WithTx(ctx, func(tx Store) error {
		if !slot.Many {
			live, err := tx.Blobs().ListBySlot(ctx, ver.ID, slot.Name)
			if err != nil {
				return err
			}
			for _, existing := range live {
				if existing.Status == domain.BlobPending || existing.Status == domain.BlobActive {
					return fmt.Errorf("%w: slot %q", domain.ErrSlotOccupied, slot.Name)
				}
			}
		}
		return tx.Blobs().Create(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// Download opens the stored bytes of an active reference, honoring
// artifact visibility.
func (s *BlobService) Download(ctx context.Context, scope domain.Scope, artifactID, version, slot string) (io.ReadCloser, *domain.BlobReference, error) {
	artifact, err := s.Store.Artifacts().GetByID(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if !artifact.VisibleTo(scope.TenantID, scope.Principal) {
		return nil, nil, domain.ErrNotFound
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  scope.Principal,
		TenantID:   scope.TenantID,
		Action:     domain.ActionDownload,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Owner:      artifact.Owner,
		Visibility: artifact.Visibility,
	}); err != nil {
		return nil, nil, err
	}
	ver, err := s.Store.Versions().Get(ctx, artifactID, version)
	if err != nil {
		return nil, nil, err
	}
	if ver.Status == domain.StatusDeleted {
		return nil, nil, domain.ErrNotFound
	}
	if ver.Status == domain.StatusDeactivated && ver.TenantID != scope.TenantID {
		return nil, nil, domain.ErrNotFound
	}
	refs, err := s.Store.Blobs().ListBySlot(ctx, ver.ID, slot)
	if err != nil {
		return nil, nil, err
	}
	for i := range refs {
		ref := refs[i]
		if ref.Status != domain.BlobActive || ref.External {
			continue
		}
		rc, err := s.Blobs.Get(ctx, ref.Location)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		return rc, &ref, nil
	}
	return nil, nil, domain.ErrNotFound
}

// DeleteBlob releases one reference and returns its quota bytes.
func (s *BlobService) DeleteBlob(ctx context.Context, req BeginUploadRequest) error {
	ver, slot, err := s.uploadTarget(ctx, req.TenantID, req.Principal, req.ArtifactID, req.Version, req.Slot, domain.ActionUpdate)
	if err != nil {
		return err
	}
	if ver.Status != domain.StatusDrafted && ver.Status != domain.StatusQueued {
		return fmt.Errorf("%w: blobs can only be removed before activation", domain.ErrInvalidStateTransition)
	}
	refs, err := s.Store.Blobs().ListBySlot(ctx, ver.ID, slot.Name)
	if err != nil {
		return err
	}

	now := s.now()
	for _, ref := range refs {
		if ref.Status == domain.BlobReleased {
			continue
		}
		if !ref.External && ref.Location != "" {
			if err := s.deleteStoredWithRetry(ctx, ref.Location); err != nil {
				if s.Logger != nil {
					s.Logger.Warn("blob delete exhausted retries", "ref_id", ref.ID, "error", err)
				}
				if err := s.Store.Blobs().UpdateStatus(ctx, ref.ID, domain.BlobFailed, now); err != nil {
					return err
				}
				continue
			}
		}
		freed := int64(0)
		if ref.CountsAgainstQuota() {
			freed = ref.Size
		}
		refID := ref.ID
		err = s.Store.WithTx(ctx, func(tx Store) error {
			if freed > 0 {
				if err := tx.Quotas().Apply(ctx, ver.TenantID, -freed, 0); err != nil {
					return err
				}
			}
			return tx.Blobs().UpdateStatus(ctx, refID, domain.BlobReleased, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BlobService) deleteStored(ctx context.Context, location string) error {
	if location == "" {
		return nil
	}
	return s.Blobs.Delete(ctx, location)
}

func (s *BlobService) deleteStoredWithRetry(ctx context.Context, location string) error {
	attempts := s.DeleteAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.DeleteBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.Blobs.Delete(ctx, location); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}

func (s *BlobService) uploadTarget(ctx context.Context, tenantID, principal, artifactID, version, slotName, action string) (*domain.ArtifactVersion, domain.FieldDefinition, error) {
	var none domain.FieldDefinition
	artifact, err := s.Store.Artifacts().GetByID(ctx, artifactID)
	if err != nil {
		return nil, none, err
	}
	if artifact.TenantID != tenantID {
		return nil, none, domain.ErrForbidden
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  principal,
		TenantID:   tenantID,
		Action:     action,
		ArtifactID: artifact.ID,
		TypeName:   artifact.TypeName,
		Owner:      artifact.Owner,
		Visibility: artifact.Visibility,
	}); err != nil {
		return nil, none, err
	}

	t, err := s.Types.ResolveLatest(artifact.TypeName)
	if err != nil {
		return nil, none, err
	}
	slot, ok := t.Field(slotName)
	if !ok || slot.Kind != domain.KindBlob {
		return nil, none, fmt.Errorf("%w: type %s declares no blob slot %q", domain.ErrUnknownType, t.Name, slotName)
	}

	ver, err := s.Store.Versions().Get(ctx, artifactID, version)
	if err != nil {
		return nil, none, err
	}
	if ver.Status == domain.StatusDeleted {
		return nil, none, domain.ErrNotFound
	}
	return ver, slot, nil
}

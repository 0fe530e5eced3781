package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Fedosin/glare/internal/domain"
)

const defaultTransitionRetries = 3

// LifecycleService drives artifact versions through the state machine.
// A transition is one atomic unit: the state check, the precondition
// check and the persisted update run inside a single transaction with a
// compare-and-swap on the status column. A lost CAS is retried a
// bounded number of times and then surfaced as ErrConflict.
type LifecycleService struct {
	Store      Store
	Types      TypeResolver
	Policy     PolicyEngine
	Blobs      BlobStore
	MaxRetries int
	Logger     *slog.Logger
	Now        func() time.Time

	// storage delete retry policy for version deletion
	DeleteAttempts int
	DeleteBackoff  time.Duration
}

func (s *LifecycleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *LifecycleService) retries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return defaultTransitionRetries
}

type TransitionRequest struct {
	TenantID   string
	Principal  string
	ArtifactID string
	Version    string
	Target     domain.VersionStatus
}

func (s *LifecycleService) Transition(ctx context.Context, req TransitionRequest) (*domain.ArtifactVersion, error) {
	if !domain.ValidStatus(req.Target) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidStateTransition, req.Target)
	}

	artifact, err := s.Store.Artifacts().GetByID(ctx, req.ArtifactID)
	if err != nil {
		return nil, err
	}
	if artifact.TenantID != req.TenantID {
		return nil, domain.ErrForbidden
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:    req.Principal,
		TenantID:     req.TenantID,
		Action:       domain.ActionTransition,
		ArtifactID:   artifact.ID,
		TypeName:     artifact.TypeName,
		Owner:        artifact.Owner,
		Visibility:   artifact.Visibility,
		TargetStatus: string(req.Target),
	}); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < s.retries(); attempt++ {
		ver, err := s.Store.Versions().Get(ctx, req.ArtifactID, req.Version)
		if err != nil {
			return nil, err
		}
		updated, err := s.attempt(ctx, ver, req.Target)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		if s.Logger != nil {
			s.Logger.Debug("transition conflict, retrying",
				"artifact_id", req.ArtifactID, "version", req.Version, "attempt", attempt+1)
		}
	}
	return nil, lastErr
}

func (s *LifecycleService) attempt(ctx context.Context, ver *domain.ArtifactVersion, target domain.VersionStatus) (*domain.ArtifactVersion, error) {
	if !domain.CanTransition(ver.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStateTransition, ver.Status, target)
	}

	if target == domain.StatusDeleted {
		return s.deleteVersion(ctx, ver)
	}

	now := s.now()
	err := s.Store.WithTx(ctx, func(tx Store) error {
		// The refs read shares the transaction with the CAS, so the
		// precondition cannot pass on a reference a concurrent blob
		// delete has already released.
		refs, err := tx.Blobs().ListByVersion(ctx, ver.ID)
		if err != nil {
			return err
		}
		switch target {
		case domain.StatusQueued:
			if err := s.checkQueuedPreconditions(ver, refs); err != nil {
				return err
			}
		case domain.StatusActive:
			if ver.Status == domain.StatusQueued {
				if err := s.checkActivePreconditions(ctx, tx, ver, refs); err != nil {
					return err
				}
			}
			// reactivation from deactivated re-checks nothing: the
			// version was already complete when first activated
		}
		return tx.Versions().CompareAndSwapStatus(ctx, ver.ID, ver.Status, target, now)
	})
	if err != nil {
		return nil, err
	}

	ver.Status = target
	ver.UpdatedAt = now
	if target == domain.StatusActive && ver.ActivatedAt == nil {
		at := now
		ver.ActivatedAt = &at
	}
	return ver, nil
}

// checkQueuedPreconditions requires every required blob slot to hold at
// least one pending or active reference.
func (s *LifecycleService) checkQueuedPreconditions(ver *domain.ArtifactVersion, refs []domain.BlobReference) error {
	t, err := s.Types.ResolveLatest(ver.TypeName)
	if err != nil {
		return err
	}
	for _, slot := range t.RequiredBlobSlots() {
		if !slotHasRef(refs, slot.Name, domain.BlobPending, domain.BlobActive) {
			return fmt.Errorf("%w: required blob slot %q is empty", domain.ErrIncompleteArtifact, slot.Name)
		}
	}
	return nil
}

// checkActivePreconditions requires every required slot to hold an
// active reference and every outgoing dependency link to resolve to an
// existing, non-deleted version.
func (s *LifecycleService) checkActivePreconditions(ctx context.Context, tx Store, ver *domain.ArtifactVersion, refs []domain.BlobReference) error {
	t, err := s.Types.ResolveLatest(ver.TypeName)
	if err != nil {
		return err
	}
	for _, slot := range t.RequiredBlobSlots() {
		if !slotHasRef(refs, slot.Name, domain.BlobActive) {
			return fmt.Errorf("%w: required blob slot %q has no active upload", domain.ErrIncompleteArtifact, slot.Name)
		}
	}
	links, err := tx.Dependencies().ListFrom(ctx, ver.ID)
	if err != nil {
		return err
	}
	for _, l := range links {
		target, err := tx.Versions().GetByID(ctx, l.ToVersionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: dependency %s is missing", domain.ErrIncompleteArtifact, l.ToVersionID)
			}
			return err
		}
		if target.Status == domain.StatusDeleted {
			return fmt.Errorf("%w: dependency %s is deleted", domain.ErrIncompleteArtifact, l.ToVersionID)
		}
	}
	return nil
}

// deleteVersion commits the tombstone first: the status CAS, the
// reference release, the quota decrement and the metadata clear are
// one transaction, and only a committed transaction touches storage.
// A lost CAS therefore leaves the bytes, the references and the
// ledger untouched. Storage deletes after the commit are retried with
// bounded backoff; an exhausted retry marks the reference failed for
// out-of-band garbage collection instead of resurrecting the version.
func (s *LifecycleService) deleteVersion(ctx context.Context, ver *domain.ArtifactVersion) (*domain.ArtifactVersion, error) {
	now := s.now()
	var toDelete []domain.BlobReference
	err := s.Store.WithTx(ctx, func(tx Store) error {
		refs, err := tx.Blobs().ListByVersion(ctx, ver.ID)
		if err != nil {
			return err
		}
		if err := tx.Versions().CompareAndSwapStatus(ctx, ver.ID, ver.Status, domain.StatusDeleted, now); err != nil {
			return err
		}
		toDelete = toDelete[:0]
		var freedBytes int64
		for _, ref := range refs {
			if ref.Status == domain.BlobReleased {
				continue
			}
			if ref.CountsAgainstQuota() {
				freedBytes += ref.Size
			}
			if !ref.External && ref.Location != "" {
				toDelete = append(toDelete, ref)
			}
			if err := tx.Blobs().UpdateStatus(ctx, ref.ID, domain.BlobReleased, now); err != nil {
				return err
			}
		}
		if err := tx.Quotas().Apply(ctx, ver.TenantID, -freedBytes, -1); err != nil {
			return err
		}
		return tx.Versions().ClearMetadata(ctx, ver.ID)
	})
	if err != nil {
		return nil, err
	}

	for _, ref := range toDelete {
		if err := s.deleteWithRetry(ctx, ref.Location); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("blob delete exhausted retries, leaving reference for gc",
					"ref_id", ref.ID, "slot", ref.Slot, "error", err)
			}
			if err := s.Store.Blobs().UpdateStatus(ctx, ref.ID, domain.BlobFailed, s.now()); err != nil {
				return nil, err
			}
		}
	}

	ver.Status = domain.StatusDeleted
	ver.Metadata = nil
	ver.UpdatedAt = now
	at := now
	ver.DeletedAt = &at
	return ver, nil
}

func (s *LifecycleService) deleteWithRetry(ctx context.Context, location string) error {
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

func slotHasRef(refs []domain.BlobReference, slot string, statuses ...domain.BlobStatus) bool {
	for _, ref := range refs {
		if ref.Slot != slot {
			continue
		}
		for _, st := range statuses {
			if ref.Status == st {
				return true
			}
		}
	}
	return false
}

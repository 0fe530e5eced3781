package usecase

import (
	"context"
	"time"

	"github.com/Fedosin/glare/internal/domain"
)

const defaultLedgerCacheTTL = 30 * time.Second

// QuotaService exposes the ledger to the catalog surface. Enforcement
// itself happens inside the guarded transactions via
// QuotaRepository.Apply; this service only reads and configures.
type QuotaService struct {
	Store    Store
	Cache    LedgerCache
	CacheTTL time.Duration
}

func (s *QuotaService) ttl() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return defaultLedgerCacheTTL
}

func (s *QuotaService) Get(ctx context.Context, tenantID string) (*domain.QuotaLedger, error) {
	if s.Cache != nil {
		if cached, ok, err := s.Cache.Get(ctx, tenantID); err == nil && ok {
			return cached, nil
		}
	}
	ledger, err := s.Store.Quotas().Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.Put(ctx, tenantID, *ledger, s.ttl())
	}
	return ledger, nil
}

func (s *QuotaService) SetLimits(ctx context.Context, tenantID string, limits domain.QuotaLimits) error {
	if err := s.Store.Quotas().SetLimits(ctx, tenantID, limits); err != nil {
		return err
	}
	if s.Cache != nil {
		_ = s.Cache.Delete(ctx, tenantID)
	}
	return nil
}

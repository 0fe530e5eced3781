package usecase

import (
	"context"
	"fmt"

	"github.com/Fedosin/glare/internal/domain"
)

// authorize consults the policy engine and maps a deny to ErrForbidden
// before any side effect takes place. A nil engine denies nothing; the
// request layer decides whether to run without one.
func authorize(ctx context.Context, engine PolicyEngine, in domain.PolicyInput) error {
	if engine == nil {
		return nil
	}
	decision, err := engine.Authorize(ctx, in)
	if err != nil {
		return fmt.Errorf("policy evaluation: %w", err)
	}
	if !decision.Allow {
		return domain.ErrForbidden
	}
	return nil
}

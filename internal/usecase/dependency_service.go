package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Fedosin/glare/internal/domain"
)

// DependencyService maintains the typed dependency edges between
// artifact versions. Cycles are rejected when the edge is created,
// never left for traversal-time detection.
type DependencyService struct {
	Store  Store
	Policy PolicyEngine
	Now    func() time.Time
}

func (s *DependencyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type LinkRequest struct {
	TenantID      string
	Principal     string
	FromVersionID string
	ToVersionID   string
	Kind          domain.LinkKind
}

func (s *DependencyService) Link(ctx context.Context, req LinkRequest) (*domain.DependencyLink, error) {
	if !domain.ValidLinkKind(req.Kind) {
		return nil, fmt.Errorf("unknown link kind %q", req.Kind)
	}
	if req.FromVersionID == req.ToVersionID {
		return nil, fmt.Errorf("%w: self-loop", domain.ErrCircularDependency)
	}

	from, err := s.Store.Versions().GetByID(ctx, req.FromVersionID)
	if err != nil {
		return nil, err
	}
	if from.TenantID != req.TenantID {
		return nil, domain.ErrForbidden
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  req.Principal,
		TenantID:   req.TenantID,
		Action:     domain.ActionLink,
		ArtifactID: from.ArtifactID,
		TypeName:   from.TypeName,
	}); err != nil {
		return nil, err
	}

	target, err := s.Store.Versions().GetByID(ctx, req.ToVersionID)
	if err != nil {
		return nil, err
	}
	if target.Status == domain.StatusDeleted {
		return nil, fmt.Errorf("%w: link target is deleted", domain.ErrNotFound)
	}

	// reject any path target -> ... -> from before inserting the edge
	reachable, err := s.reaches(ctx, req.ToVersionID, req.FromVersionID)
	if err != nil {
		return nil, err
	}
	if reachable {
		return nil, domain.ErrCircularDependency
	}

	link := domain.DependencyLink{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		FromVersionID: req.FromVersionID,
		ToVersionID:   req.ToVersionID,
		Kind:          req.Kind,
		CreatedAt:     s.now(),
	}
	if err := s.Store.Dependencies().Add(ctx, link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (s *DependencyService) Unlink(ctx context.Context, req LinkRequest) error {
	from, err := s.Store.Versions().GetByID(ctx, req.FromVersionID)
	if err != nil {
		return err
	}
	if from.TenantID != req.TenantID {
		return domain.ErrForbidden
	}
	if err := authorize(ctx, s.Policy, domain.PolicyInput{
		Principal:  req.Principal,
		TenantID:   req.TenantID,
		Action:     domain.ActionLink,
		ArtifactID: from.ArtifactID,
		TypeName:   from.TypeName,
	}); err != nil {
		return err
	}
	return s.Store.Dependencies().Remove(ctx, req.FromVersionID, req.ToVersionID, req.Kind)
}

// Links returns the outgoing edges of a version, flagging edges whose
// target was deleted after link creation instead of silently following
// them.
func (s *DependencyService) Links(ctx context.Context, versionID string) ([]domain.DependencyLink, error) {
	links, err := s.Store.Dependencies().ListFrom(ctx, versionID)
	if err != nil {
		return nil, err
	}
	for i := range links {
		target, err := s.Store.Versions().GetByID(ctx, links[i].ToVersionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				links[i].Dangling = true
				continue
			}
			return nil, err
		}
		if target.Status == domain.StatusDeleted {
			links[i].Dangling = true
		}
	}
	return links, nil
}

// reaches walks outgoing edges from start looking for goal. The walk
// is depth-first over the edge list; visited tracking bounds it even
// if a cycle slipped in through a bug.
func (s *DependencyService) reaches(ctx context.Context, start, goal string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == goal {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		links, err := s.Store.Dependencies().ListFrom(ctx, current)
		if err != nil {
			return false, err
		}
		for _, l := range links {
			if !visited[l.ToVersionID] {
				stack = append(stack, l.ToVersionID)
			}
		}
	}
	return false, nil
}

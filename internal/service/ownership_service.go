package service

import (
	"context"
	"fmt"

	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// OwnershipRepository interface for own/want data operations
type OwnershipRepository interface {
	Upsert(ctx context.Context, userID, badgeID string, status types.OwnershipStatus) (*models.Ownership, error)
	Get(ctx context.Context, userID, badgeID string) (*models.Ownership, error)
	Delete(ctx context.Context, userID, badgeID string) error
	ListByUser(ctx context.Context, userID string, status *types.OwnershipStatus) ([]*models.CollectionItem, error)
	CountsForBadge(ctx context.Context, badgeID string) (*models.OwnershipCounts, error)
	CountsForUser(ctx context.Context, userID string) (*models.OwnershipCounts, error)
}

// BadgeGetter interface for looking up a single badge
type BadgeGetter interface {
	GetByID(ctx context.Context, id string) (*models.Badge, error)
}

// OwnershipService handles collectors' own and want lists
type OwnershipService struct {
	ownerships OwnershipRepository
	badges     BadgeGetter
}

// NewOwnershipService creates a new ownership service
func NewOwnershipService(ownerships OwnershipRepository, badges BadgeGetter) *OwnershipService {
	return &OwnershipService{
		ownerships: ownerships,
		badges:     badges,
	}
}

// SetOwnership marks a badge as owned or wanted. Owning replaces wanting.
// Only approved badges can be claimed.
func (s *OwnershipService) SetOwnership(ctx context.Context, actor *models.Profile, badgeID string, status types.OwnershipStatus) (*models.Ownership, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(badgeID, "badgeId"); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, invalidInput("status must be %q or %q", types.OwnershipOwn, types.OwnershipWant)
	}

	b, err := s.badges.GetByID(ctx, badgeID)
	if err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
	}
	if b.Status != types.StatusApproved {
		return nil, types.NewServiceError(types.CodeBadgeNotFound, "badge not found")
	}

	o, err := s.ownerships.Upsert(ctx, actor.ID, badgeID, status)
	if err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "set ownership")
	}
	return o, nil
}

// ClearOwnership removes the collector's status for a badge
func (s *OwnershipService) ClearOwnership(ctx context.Context, actor *models.Profile, badgeID string) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	if err := requireUUID(badgeID, "badgeId"); err != nil {
		return err
	}
	if err := s.ownerships.Delete(ctx, actor.ID, badgeID); err != nil {
		return translate(err, types.CodeNotFound, "ownership", "clear ownership")
	}
	return nil
}

// ListCollection returns a collector's badges, optionally only owned or wanted
func (s *OwnershipService) ListCollection(ctx context.Context, userID string, status *types.OwnershipStatus) ([]*models.CollectionItem, error) {
	if err := requireUUID(userID, "userId"); err != nil {
		return nil, err
	}
	if status != nil && !status.Valid() {
		return nil, invalidInput("status must be %q or %q", types.OwnershipOwn, types.OwnershipWant)
	}

	items, err := s.ownerships.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection: %w", err)
	}
	return items, nil
}

// BadgeCounts totals own and want marks for a badge
func (s *OwnershipService) BadgeCounts(ctx context.Context, badgeID string) (*models.OwnershipCounts, error) {
	if err := requireUUID(badgeID, "badgeId"); err != nil {
		return nil, err
	}
	c, err := s.ownerships.CountsForBadge(ctx, badgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to count ownerships: %w", err)
	}
	return c, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBadgePageSize = 24
	maxBadgePageSize     = 100

	maxBadgeNameLen        = 120
	maxBadgeEventLen       = 120
	maxBadgeCategoryLen    = 60
	maxBadgeDescriptionLen = 2000
	minBadgeYear           = 1990
)

// BadgeRepository interface for badge data operations
type BadgeRepository interface {
	Create(ctx context.Context, b *models.Badge) error
	GetByID(ctx context.Context, id string) (*models.Badge, error)
	Update(ctx context.Context, b *models.Badge) error
	SetStatus(ctx context.Context, id string, status types.ReviewStatus) (*models.Badge, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.BadgeFilter) ([]*models.BadgeSummary, int, error)
}

// BadgeImageRepository interface for badge image data operations
type BadgeImageRepository interface {
	Create(ctx context.Context, img *models.BadgeImage) error
	GetByID(ctx context.Context, id string) (*models.BadgeImage, error)
	ListByBadge(ctx context.Context, badgeID string) ([]*models.BadgeImage, error)
	SetPrimary(ctx context.Context, badgeID, imageID string) error
	Delete(ctx context.Context, badgeID, imageID string) (*models.BadgeImage, error)
}

// BadgeOwnershipReader interface for ownership data shown on a badge page
type BadgeOwnershipReader interface {
	Get(ctx context.Context, userID, badgeID string) (*models.Ownership, error)
	CountsForBadge(ctx context.Context, badgeID string) (*models.OwnershipCounts, error)
}

// CatalogCacheInvalidator drops cached results that depend on catalog
// contents: identifications and per-badge research answers
type CatalogCacheInvalidator interface {
	InvalidateMatches(ctx context.Context) error
	Invalidate(ctx context.Context, keys ...string) error
	ResearchKey(badgeID string) string
}

// BadgeService handles the badge catalog
type BadgeService struct {
	badges     BadgeRepository
	images     BadgeImageRepository
	ownerships BadgeOwnershipReader
	blobs      Blobs
	queue      IndexEnqueuer
	matchCache CatalogCacheInvalidator
	notifier   Notifier
}

// NewBadgeService creates a new badge service
func NewBadgeService(
	badges BadgeRepository,
	images BadgeImageRepository,
	ownerships BadgeOwnershipReader,
	blobs Blobs,
	queue IndexEnqueuer,
	matchCache CatalogCacheInvalidator,
	notifier Notifier,
) *BadgeService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &BadgeService{
		badges:     badges,
		images:     images,
		ownerships: ownerships,
		blobs:      blobs,
		queue:      queue,
		matchCache: matchCache,
		notifier:   notifier,
	}
}

// ListBadges returns a filtered page of the catalog. Non-admins only see
// approved badges.
func (s *BadgeService) ListBadges(ctx context.Context, viewer *models.Profile, filter models.BadgeFilter) (*models.BadgeList, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidInput("unknown status %q", filter.Status)
	}
	if !viewer.IsAdmin() {
		filter.Status = types.StatusApproved
	}
	if filter.MakerID != "" {
		if err := requireUUID(filter.MakerID, "makerId"); err != nil {
			return nil, err
		}
	}
	if filter.TeamID != "" {
		if err := requireUUID(filter.TeamID, "teamId"); err != nil {
			return nil, err
		}
	}
	filter.Query = strings.TrimSpace(filter.Query)
	filter.Pagination = filter.Pagination.Normalize(defaultBadgePageSize, maxBadgePageSize)

	items, total, err := s.badges.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	return &models.BadgeList{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

// canView reports whether viewer may see a badge that is not approved
func canView(b *models.Badge, viewer *models.Profile) bool {
	if b.Status == types.StatusApproved {
		return true
	}
	if viewer == nil {
		return false
	}
	return viewer.IsAdmin() || b.ManagedBy(viewer.ID)
}

// canManage reports whether actor may edit a badge and its images
func canManage(b *models.Badge, actor *models.Profile) bool {
	return actor.IsAdmin() || b.ManagedBy(actor.ID)
}

// getVisible loads a badge and hides it from viewers who may not see it
func (s *BadgeService) getVisible(ctx context.Context, id string, viewer *models.Profile) (*models.Badge, error) {
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	b, err := s.badges.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
	}
	if !canView(b, viewer) {
		return nil, types.NewServiceError(types.CodeBadgeNotFound, "badge not found")
	}
	return b, nil
}

// getManaged loads a badge the actor may modify
func (s *BadgeService) getManaged(ctx context.Context, id string, actor *models.Profile) (*models.Badge, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	b, err := s.getVisible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !canManage(b, actor) {
		return nil, forbidden("only the badge's maker or an admin can change it")
	}
	return b, nil
}

// GetBadge returns a badge with its images, ownership counts and the
// viewer's own status
func (s *BadgeService) GetBadge(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error) {
	b, err := s.getVisible(ctx, id, viewer)
	if err != nil {
		return nil, err
	}

	detail := &models.BadgeDetail{Badge: b}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		images, err := s.images.ListByBadge(gctx, b.ID)
		if err != nil {
			return fmt.Errorf("failed to load images: %w", err)
		}
		detail.Images = images
		return nil
	})

	g.Go(func() error {
		counts, err := s.ownerships.CountsForBadge(gctx, b.ID)
		if err != nil {
			return fmt.Errorf("failed to count ownerships: %w", err)
		}
		detail.OwnCount = counts.Own
		detail.WantCount = counts.Want
		return nil
	})

	if viewer != nil {
		g.Go(func() error {
			o, err := s.ownerships.Get(gctx, viewer.ID, b.ID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil
				}
				return fmt.Errorf("failed to load ownership: %w", err)
			}
			status := o.Status
			detail.ViewerStatus = &status
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return detail, nil
}

// validateBadgeInput checks and normalizes the fields of a new badge
func validateBadgeInput(in *models.BadgeInput) error {
	if in == nil {
		return invalidInput("badge is required")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.EventName = strings.TrimSpace(in.EventName)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)

	if in.Name == "" {
		return invalidInput("name is required")
	}
	if err := checkBadgeFields(&in.Name, &in.Description, &in.EventName, &in.Category, in.Year); err != nil {
		return err
	}
	if in.MakerID != nil && *in.MakerID != "" {
		if err := requireUUID(*in.MakerID, "makerId"); err != nil {
			return err
		}
	}
	if in.TeamID != nil && *in.TeamID != "" {
		if err := requireUUID(*in.TeamID, "teamId"); err != nil {
			return err
		}
	}
	return nil
}

func checkBadgeFields(name, description, eventName, category *string, year *int) error {
	if name != nil && utf8.RuneCountInString(*name) > maxBadgeNameLen {
		return invalidInput("name must be at most %d characters", maxBadgeNameLen)
	}
	if name != nil && *name == "" {
		return invalidInput("name cannot be empty")
	}
	if description != nil && utf8.RuneCountInString(*description) > maxBadgeDescriptionLen {
		return invalidInput("description must be at most %d characters", maxBadgeDescriptionLen)
	}
	if eventName != nil && utf8.RuneCountInString(*eventName) > maxBadgeEventLen {
		return invalidInput("eventName must be at most %d characters", maxBadgeEventLen)
	}
	if category != nil && utf8.RuneCountInString(*category) > maxBadgeCategoryLen {
		return invalidInput("category must be at most %d characters", maxBadgeCategoryLen)
	}
	if year != nil {
		maxYear := time.Now().Year() + 1
		if *year < minBadgeYear || *year > maxYear {
			return invalidInput("year must be between %d and %d", minBadgeYear, maxYear)
		}
	}
	return nil
}

// newBadge builds a badge row from validated input
func newBadge(actor *models.Profile, in *models.BadgeInput, status types.ReviewStatus) *models.Badge {
	b := &models.Badge{
		Name:        in.Name,
		Description: in.Description,
		EventName:   in.EventName,
		Year:        in.Year,
		Category:    in.Category,
		Status:      status,
		CreatedBy:   actor.ID,
	}
	if in.TeamID != nil && *in.TeamID != "" {
		b.TeamID = in.TeamID
	}
	switch {
	case in.MakerID != nil && *in.MakerID != "" && actor.IsAdmin():
		b.MakerID = in.MakerID
	case actor.Role == types.RoleMaker:
		id := actor.ID
		b.MakerID = &id
	}
	return b
}

// CreateBadge adds a badge. Admin badges are approved immediately; maker
// badges wait for review.
func (s *BadgeService) CreateBadge(ctx context.Context, actor *models.Profile, in *models.BadgeInput) (*models.Badge, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if !actor.CanCreateBadges() {
		return nil, forbidden("maker role required to create badges")
	}
	if err := validateBadgeInput(in); err != nil {
		return nil, err
	}

	status := types.StatusPending
	if actor.IsAdmin() {
		status = types.StatusApproved
	}
	b := newBadge(actor, in, status)

	if err := s.badges.Create(ctx, b); err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "create badge")
	}

	if status == types.StatusPending {
		s.notifier.NotifyAsync(ctx, &models.NotificationEvent{
			Kind:    models.EventBadgeSubmitted,
			Title:   "Badge submitted: " + b.Name,
			Message: b.Description,
			ActorID: actor.ID,
			Fields: map[string]string{
				"maker": displayHandle(actor),
				"event": b.EventName,
			},
		})
	}
	return b, nil
}

// UpdateBadge applies a patch from an admin or the badge's maker
func (s *BadgeService) UpdateBadge(ctx context.Context, actor *models.Profile, id string, patch *models.BadgePatch) (*models.Badge, error) {
	if patch == nil {
		return nil, invalidInput("request body is required")
	}
	b, err := s.getManaged(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	patch.Name = trimmed(patch.Name)
	patch.Description = trimmed(patch.Description)
	patch.EventName = trimmed(patch.EventName)
	patch.Category = trimmed(patch.Category)
	patch.TeamID = trimmed(patch.TeamID)
	if err := checkBadgeFields(patch.Name, patch.Description, patch.EventName, patch.Category, patch.Year); err != nil {
		return nil, err
	}
	if patch.TeamID != nil && *patch.TeamID != "" {
		if err := requireUUID(*patch.TeamID, "teamId"); err != nil {
			return nil, err
		}
	}

	patch.Apply(b)
	if err := s.badges.Update(ctx, b); err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "update badge")
	}
	s.invalidateMatches(ctx)
	s.invalidateResearch(ctx, b.ID)
	return b, nil
}

// DeleteBadge removes a badge and the blobs of its images. Admin only.
func (s *BadgeService) DeleteBadge(ctx context.Context, actor *models.Profile, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := requireUUID(id, "id"); err != nil {
		return err
	}

	images, err := s.images.ListByBadge(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if err := s.badges.Delete(ctx, id); err != nil {
		return translate(err, types.CodeBadgeNotFound, "badge", "delete badge")
	}

	for _, img := range images {
		s.deleteBlob(ctx, img.StorageKey)
	}
	s.invalidateMatches(ctx)
	s.invalidateResearch(ctx, id)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": actor.ID,
		"badgeId": id,
		"images":  len(images),
	}).Info("Badge deleted")
	return nil
}

// AddImage stores a photo for a badge. The first image becomes primary and
// every image is queued for embedding.
func (s *BadgeService) AddImage(ctx context.Context, actor *models.Profile, badgeID string, data []byte) (*models.BadgeImage, error) {
	b, err := s.getManaged(ctx, badgeID, actor)
	if err != nil {
		return nil, err
	}

	key, _, err := s.blobs.Put(ctx, "badges", data)
	if err != nil {
		return nil, translateBlobError(err, s.blobs.MaxBytes())
	}

	img := &models.BadgeImage{
		BadgeID:    b.ID,
		StorageKey: key,
		URL:        s.blobs.URL(key),
		UploadedBy: actor.ID,
	}
	if err := s.images.Create(ctx, img); err != nil {
		s.deleteBlob(ctx, key)
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "add image")
	}

	enqueueIndex(ctx, s.queue, img.ID)
	return img, nil
}

// SetPrimaryImage makes one image the badge's cover
func (s *BadgeService) SetPrimaryImage(ctx context.Context, actor *models.Profile, badgeID, imageID string) error {
	b, err := s.getManaged(ctx, badgeID, actor)
	if err != nil {
		return err
	}
	if err := requireUUID(imageID, "imageId"); err != nil {
		return err
	}
	if err := s.images.SetPrimary(ctx, b.ID, imageID); err != nil {
		return translate(err, types.CodeImageNotFound, "image", "set primary image")
	}
	return nil
}

// DeleteImage removes an image and its blob
func (s *BadgeService) DeleteImage(ctx context.Context, actor *models.Profile, badgeID, imageID string) error {
	b, err := s.getManaged(ctx, badgeID, actor)
	if err != nil {
		return err
	}
	if err := requireUUID(imageID, "imageId"); err != nil {
		return err
	}

	img, err := s.images.Delete(ctx, b.ID, imageID)
	if err != nil {
		return translate(err, types.CodeImageNotFound, "image", "delete image")
	}
	s.deleteBlob(ctx, img.StorageKey)
	s.invalidateMatches(ctx)
	return nil
}

// ReviewBadge approves or rejects a pending badge. Admin only.
func (s *BadgeService) ReviewBadge(ctx context.Context, actor *models.Profile, id string, approve bool) (*models.Badge, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}

	status := types.StatusRejected
	if approve {
		status = types.StatusApproved
	}
	b, err := s.badges.SetStatus(ctx, id, status)
	if err != nil {
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "review badge")
	}
	s.invalidateMatches(ctx)
	return b, nil
}

// ReindexBadge queues every image of a badge for embedding. Admin only.
func (s *BadgeService) ReindexBadge(ctx context.Context, actor *models.Profile, id string) (int, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return 0, err
	}
	if _, err := s.badges.GetByID(ctx, id); err != nil {
		return 0, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
	}

	images, err := s.images.ListByBadge(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to list images: %w", err)
	}
	if s.queue == nil {
		return 0, types.NewServiceError(types.CodeProviderNotConfigured, "embedding queue is not configured")
	}
	for _, img := range images {
		if err := s.queue.EnqueueImage(ctx, img.ID); err != nil {
			return 0, fmt.Errorf("failed to enqueue image %s: %w", img.ID, err)
		}
	}
	return len(images), nil
}

func (s *BadgeService) deleteBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.blobs.Delete(key); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("key", key).Warn("Failed to delete blob")
	}
}

func (s *BadgeService) invalidateMatches(ctx context.Context) {
	if s.matchCache == nil {
		return
	}
	if err := s.matchCache.InvalidateMatches(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to invalidate match cache")
	}
}

// invalidateResearch drops the research answer built from the badge's old
// name and event
func (s *BadgeService) invalidateResearch(ctx context.Context, badgeID string) {
	if s.matchCache == nil {
		return
	}
	if err := s.matchCache.Invalidate(ctx, s.matchCache.ResearchKey(badgeID)); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("badgeId", badgeID).Warn("Failed to invalidate research cache")
	}
}

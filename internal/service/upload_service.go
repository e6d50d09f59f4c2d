package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

const (
	maxSuggestedNameLen = 120
	maxUploadNotesLen   = 1000
	maxReviewNoteLen    = 1000
)

// UploadRepository interface for submission data operations
type UploadRepository interface {
	Create(ctx context.Context, u *models.Upload) error
	GetByID(ctx context.Context, id string) (*models.Upload, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Upload, error)
	ListByStatus(ctx context.Context, status types.ReviewStatus, page types.Pagination) ([]*models.Upload, error)
	Approve(ctx context.Context, p storage.ApproveParams) (*models.UploadApproval, error)
	Reject(ctx context.Context, id, reviewerID, note string) (*models.Upload, error)
}

// UploadService handles community photo submissions and their moderation
type UploadService struct {
	uploads  UploadRepository
	badges   BadgeGetter
	blobs    Blobs
	queue    IndexEnqueuer
	notifier Notifier
}

// NewUploadService creates a new upload service
func NewUploadService(uploads UploadRepository, badges BadgeGetter, blobs Blobs, queue IndexEnqueuer, notifier Notifier) *UploadService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &UploadService{
		uploads:  uploads,
		badges:   badges,
		blobs:    blobs,
		queue:    queue,
		notifier: notifier,
	}
}

// SubmitUpload stores a photo and files it for moderation
func (s *UploadService) SubmitUpload(ctx context.Context, actor *models.Profile, data []byte, in *models.UploadInput) (*models.Upload, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if in == nil {
		in = &models.UploadInput{}
	}
	in.SuggestedName = strings.TrimSpace(in.SuggestedName)
	in.Notes = strings.TrimSpace(in.Notes)
	if utf8.RuneCountInString(in.SuggestedName) > maxSuggestedNameLen {
		return nil, invalidInput("suggestedName must be at most %d characters", maxSuggestedNameLen)
	}
	if utf8.RuneCountInString(in.Notes) > maxUploadNotesLen {
		return nil, invalidInput("notes must be at most %d characters", maxUploadNotesLen)
	}

	in.BadgeID = trimmed(in.BadgeID)
	if in.BadgeID != nil && *in.BadgeID == "" {
		in.BadgeID = nil
	}
	if in.BadgeID != nil {
		if err := requireUUID(*in.BadgeID, "badgeId"); err != nil {
			return nil, err
		}
		b, err := s.badges.GetByID(ctx, *in.BadgeID)
		if err != nil {
			return nil, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
		}
		if !canView(b, actor) {
			return nil, types.NewServiceError(types.CodeBadgeNotFound, "badge not found")
		}
	}

	key, _, err := s.blobs.Put(ctx, "uploads", data)
	if err != nil {
		return nil, translateBlobError(err, s.blobs.MaxBytes())
	}

	u := &models.Upload{
		UserID:        actor.ID,
		StorageKey:    key,
		URL:           s.blobs.URL(key),
		BadgeID:       in.BadgeID,
		SuggestedName: in.SuggestedName,
		Notes:         in.Notes,
		Status:        types.StatusPending,
	}
	if err := s.uploads.Create(ctx, u); err != nil {
		if delErr := s.blobs.Delete(key); delErr != nil {
			logging.FromContext(ctx).WithError(delErr).WithField("key", key).Warn("Failed to delete orphaned blob")
		}
		return nil, translate(err, types.CodeBadgeNotFound, "badge", "create upload")
	}

	fields := map[string]string{"user": displayHandle(actor)}
	if u.SuggestedName != "" {
		fields["suggestedName"] = u.SuggestedName
	}
	if u.BadgeID != nil {
		fields["badgeId"] = *u.BadgeID
	}
	s.notifier.NotifyAsync(ctx, &models.NotificationEvent{
		Kind:    models.EventUploadSubmitted,
		Title:   "New badge photo submitted",
		Message: u.Notes,
		URL:     u.URL,
		ActorID: actor.ID,
		Fields:  fields,
	})
	return u, nil
}

// ListMyUploads returns the actor's own submissions
func (s *UploadService) ListMyUploads(ctx context.Context, actor *models.Profile) ([]*models.Upload, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	uploads, err := s.uploads.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

// ListUploads returns submissions for moderation. An empty status lists all.
func (s *UploadService) ListUploads(ctx context.Context, actor *models.Profile, status types.ReviewStatus, page types.Pagination) ([]*models.Upload, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, invalidInput("unknown status %q", status)
	}
	uploads, err := s.uploads.ListByStatus(ctx, status, page.Normalize(50, 200))
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

// ApproveUpload attaches the upload's image to an existing badge or to a
// new approved badge, then queues the image for embedding
func (s *UploadService) ApproveUpload(ctx context.Context, actor *models.Profile, id string, in *models.ApproveUploadInput) (*models.UploadApproval, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, invalidInput("request body is required")
	}
	hasBadge := in.BadgeID != nil && strings.TrimSpace(*in.BadgeID) != ""
	if hasBadge == (in.NewBadge != nil) {
		return nil, invalidInput("exactly one of badgeId and newBadge is required")
	}
	note := strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(note) > maxReviewNoteLen {
		return nil, invalidInput("note must be at most %d characters", maxReviewNoteLen)
	}

	params := storage.ApproveParams{
		UploadID:   id,
		ReviewerID: actor.ID,
		Note:       note,
	}
	if hasBadge {
		badgeID := strings.TrimSpace(*in.BadgeID)
		if err := requireUUID(badgeID, "badgeId"); err != nil {
			return nil, err
		}
		if _, err := s.badges.GetByID(ctx, badgeID); err != nil {
			return nil, translate(err, types.CodeBadgeNotFound, "badge", "get badge")
		}
		params.BadgeID = badgeID
	} else {
		if err := validateBadgeInput(in.NewBadge); err != nil {
			return nil, err
		}
		params.NewBadge = newBadge(actor, in.NewBadge, types.StatusApproved)
	}

	// the badge image gets its own blob so deleting it later leaves the
	// upload's copy for audit
	upload, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, types.CodeUploadNotFound, "upload", "get upload")
	}
	if upload.Status != types.StatusPending {
		return nil, translate(storage.ErrStateConflict, types.CodeUploadNotFound, "upload", "approve upload")
	}
	data, err := s.blobs.Read(upload.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload blob: %w", err)
	}
	imageKey, _, err := s.blobs.Put(ctx, "badges", data)
	if err != nil {
		return nil, translateBlobError(err, s.blobs.MaxBytes())
	}
	params.ImageKey = imageKey
	params.ImageURL = s.blobs.URL(imageKey)

	approval, err := s.uploads.Approve(ctx, params)
	if err != nil {
		if delErr := s.blobs.Delete(imageKey); delErr != nil {
			logging.FromContext(ctx).WithError(delErr).WithField("key", imageKey).Warn("Failed to remove unused image copy")
		}
		return nil, translate(err, types.CodeUploadNotFound, "upload", "approve upload")
	}

	enqueueIndex(ctx, s.queue, approval.Image.ID)

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId":  actor.ID,
		"uploadId": id,
		"badgeId":  approval.Badge.ID,
		"newBadge": params.NewBadge != nil,
	}).Info("Upload approved")
	return approval, nil
}

// RejectUpload declines a submission. The blob is kept for audit.
func (s *UploadService) RejectUpload(ctx context.Context, actor *models.Profile, id, note string) (*models.Upload, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxReviewNoteLen {
		return nil, invalidInput("note must be at most %d characters", maxReviewNoteLen)
	}

	u, err := s.uploads.Reject(ctx, id, actor.ID, note)
	if err != nil {
		return nil, translate(err, types.CodeUploadNotFound, "upload", "reject upload")
	}
	return u, nil
}

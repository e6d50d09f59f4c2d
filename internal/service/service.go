// Package service implements the MyBadgeLife business logic over the
// storage repositories and provider clients.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

// Blobs stores uploaded image bytes
type Blobs interface {
	Put(ctx context.Context, prefix string, data []byte) (key string, contentType string, err error)
	Read(key string) ([]byte, error)
	Delete(key string) error
	URL(key string) string
	MaxBytes() int64
}

// Notifier receives moderation events
type Notifier interface {
	NotifyAsync(ctx context.Context, event *models.NotificationEvent)
}

// IndexEnqueuer schedules embedding jobs for badge images
type IndexEnqueuer interface {
	EnqueueImage(ctx context.Context, imageID string) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyAsync(context.Context, *models.NotificationEvent) {}

func invalidInput(format string, args ...interface{}) *types.ServiceError {
	return types.NewServiceError(types.CodeInvalidInput, fmt.Sprintf(format, args...))
}

func forbidden(message string) *types.ServiceError {
	return types.NewServiceError(types.CodeForbidden, message)
}

func unauthorized() *types.ServiceError {
	return types.NewServiceError(types.CodeUnauthorized, "authentication required")
}

// requireUUID rejects ids that cannot be a row id before they reach SQL
func requireUUID(id, field string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &types.ServiceError{
			Code:    types.CodeInvalidInput,
			Message: fmt.Sprintf("%s must be a valid id", field),
			Details: map[string]interface{}{"field": field},
		}
	}
	return nil
}

// translate maps storage sentinels onto service errors. notFoundCode is used
// for ErrNotFound; anything unrecognised is wrapped with op.
func translate(err error, notFoundCode, what, op string) error {
	if err == nil {
		return nil
	}
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return types.NewServiceError(notFoundCode, what+" not found")
	case errors.Is(err, storage.ErrStateConflict):
		return types.NewServiceError(types.CodeAlreadyReviewed, what+" has already been reviewed")
	case errors.Is(err, storage.ErrDuplicate):
		return types.NewServiceError(types.CodeConflict, what+" already exists")
	case errors.Is(err, storage.ErrReferenceMissing):
		return invalidInput("%s references a record that does not exist", what)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// translateBlobError maps blob store validation failures
func translateBlobError(err error, maxBytes int64) error {
	switch {
	case errors.Is(err, storage.ErrBlobTooLarge):
		return &types.ServiceError{
			Code:    types.CodePayloadTooLarge,
			Message: "image is too large",
			Details: map[string]interface{}{"maxBytes": maxBytes},
		}
	case errors.Is(err, storage.ErrUnsupportedImage):
		return types.NewServiceError(types.CodeUnsupportedMediaType, "image must be a JPEG, PNG, WebP or GIF")
	}
	return fmt.Errorf("failed to store image: %w", err)
}

// requireActive rejects anonymous and banned actors
func requireActive(actor *models.Profile) error {
	if actor == nil {
		return unauthorized()
	}
	if actor.IsBanned {
		return types.NewServiceError(types.CodeUserBanned, "account is banned")
	}
	return nil
}

// requireAdmin rejects everyone except active admins
func requireAdmin(actor *models.Profile) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return forbidden("admin role required")
	}
	return nil
}

// validHTTPURL accepts absolute http and https URLs
func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// enqueueIndex schedules embedding of imageID, logging instead of failing
func enqueueIndex(ctx context.Context, queue IndexEnqueuer, imageID string) {
	if queue == nil {
		return
	}
	if err := queue.EnqueueImage(ctx, imageID); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("imageId", imageID).Warn("Failed to enqueue embedding job")
	}
}

func providerNotConfigured(provider string) *types.ServiceError {
	return &types.ServiceError{
		Code:    types.CodeProviderNotConfigured,
		Message: provider + " is not configured",
		Details: map[string]interface{}{"provider": provider},
	}
}

// providerError maps an upstream failure onto PROVIDER_TIMEOUT or
// PROVIDER_ERROR, keeping the upstream message but not the transport detail
func providerError(provider string, err error) error {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, adapter.ErrNotConfigured) {
		return providerNotConfigured(provider)
	}

	out := &types.ServiceError{
		Code:    types.CodeProviderError,
		Message: provider + " request failed",
		Details: map[string]interface{}{"provider": provider},
	}
	if adapter.IsTimeout(err) {
		out.Code = types.CodeProviderTimeout
		out.Message = provider + " request timed out"
	}
	var apiErr *adapter.APIError
	if errors.As(err, &apiErr) {
		out.Details["status"] = apiErr.StatusCode
		if apiErr.Message != "" {
			out.Details["upstream"] = apiErr.Message
		}
	}
	return out
}

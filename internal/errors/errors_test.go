package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/mybadgelife/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantCode     string
		wantCategory ErrorCategory
	}{
		{
			name:         "badge not found",
			err:          types.NewServiceError(types.CodeBadgeNotFound, "badge not found"),
			wantStatus:   http.StatusNotFound,
			wantCode:     types.CodeBadgeNotFound,
			wantCategory: CategoryNotFound,
		},
		{
			name:         "wrapped username conflict",
			err:          fmt.Errorf("update: %w", types.NewServiceError(types.CodeUsernameTaken, "taken")),
			wantStatus:   http.StatusConflict,
			wantCode:     types.CodeUsernameTaken,
			wantCategory: CategoryConflict,
		},
		{
			name:         "banned user",
			err:          types.NewServiceError(types.CodeUserBanned, "banned"),
			wantStatus:   http.StatusForbidden,
			wantCode:     types.CodeUserBanned,
			wantCategory: CategoryAuthorization,
		},
		{
			name:         "unknown code",
			err:          types.NewServiceError("SOMETHING_ODD", "odd"),
			wantStatus:   http.StatusInternalServerError,
			wantCode:     "SOMETHING_ODD",
			wantCategory: CategorySystem,
		},
		{
			name:         "plain error",
			err:          fmt.Errorf("connection reset"),
			wantStatus:   http.StatusInternalServerError,
			wantCode:     types.CodeInternalError,
			wantCategory: CategorySystem,
		},
		{
			name:         "provider not configured",
			err:          types.NewServiceError(types.CodeProviderNotConfigured, "no key"),
			wantStatus:   http.StatusServiceUnavailable,
			wantCode:     types.CodeProviderNotConfigured,
			wantCategory: CategorySystem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantCategory, got.Category)
		})
	}
}

func TestCategorizeNil(t *testing.T) {
	assert.Nil(t, Categorize(nil))
	assert.False(t, IsUserError(nil))
	assert.False(t, IsSystemError(nil))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsUserError(types.NewServiceError(types.CodePayloadTooLarge, "too big")))
	assert.False(t, IsUserError(NewInternalError("boom", nil)))
	assert.True(t, IsSystemError(NewInternalError("boom", nil)))
	assert.True(t, IsSystemError(types.NewServiceError(types.CodeProviderError, "upstream 503")))
	assert.False(t, IsUserError(fmt.Errorf("connection reset")))
}

func TestCategorizedErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewInternalError("failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")

	svc := err.ToServiceError()
	assert.Equal(t, types.CodeInternalError, svc.Code)
}

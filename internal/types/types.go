// Package types provides common type definitions for the MyBadgeLife backend.
package types

import (
	"errors"
	"fmt"
)

// Role represents the permission level of a profile
type Role string

const (
	// RoleUser is the default role for every signed-in collector
	RoleUser Role = "user"
	// RoleMaker is a badge creator whose maker request was approved
	RoleMaker Role = "maker"
	// RoleAdmin can moderate submissions, users and teams
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMaker, RoleAdmin:
		return true
	}
	return false
}

// MakerStatus tracks a profile's request to become a maker
type MakerStatus string

const (
	MakerNone     MakerStatus = "none"
	MakerPending  MakerStatus = "pending"
	MakerApproved MakerStatus = "approved"
	MakerRejected MakerStatus = "rejected"
)

// ReviewStatus is the moderation state shared by badges, uploads and team requests
type ReviewStatus string

const (
	// StatusPending is awaiting an admin decision
	StatusPending ReviewStatus = "pending"
	// StatusApproved was accepted by an admin
	StatusApproved ReviewStatus = "approved"
	// StatusRejected was declined by an admin
	StatusRejected ReviewStatus = "rejected"
)

// Valid reports whether the status is a known review status
func (s ReviewStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// OwnershipStatus is a collector's relation to a badge
type OwnershipStatus string

const (
	// OwnershipOwn means the collector has the badge
	OwnershipOwn OwnershipStatus = "own"
	// OwnershipWant means the badge is on the collector's wishlist
	OwnershipWant OwnershipStatus = "want"
)

// Valid reports whether the ownership status is known
func (s OwnershipStatus) Valid() bool {
	return s == OwnershipOwn || s == OwnershipWant
}

// TeamRequestKind distinguishes team creation from joining an existing team
type TeamRequestKind string

const (
	TeamRequestCreate TeamRequestKind = "create"
	TeamRequestJoin   TeamRequestKind = "join"
)

// TeamMemberRole is a member's role inside a team
type TeamMemberRole string

const (
	TeamOwner  TeamMemberRole = "owner"
	TeamMember TeamMemberRole = "member"
)

// MatchStatus summarizes the outcome of an image identification
type MatchStatus string

const (
	// MatchFound means at least one badge cleared the similarity threshold
	MatchFound MatchStatus = "matched"
	// MatchNone means the pipeline ran but nothing cleared the threshold
	MatchNone MatchStatus = "no_match"
	// MatchDegraded means an upstream provider failed and no ranking was done
	MatchDegraded MatchStatus = "degraded"
)

// PredictionStatus is the terminal state of an embedding prediction
type PredictionStatus string

const (
	PredictionSucceeded PredictionStatus = "succeeded"
	PredictionFailed    PredictionStatus = "failed"
	PredictionTimeout   PredictionStatus = "timeout"
	PredictionCached    PredictionStatus = "cached"
)

// Pagination holds limit/offset paging parameters
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the pagination into [1, max] with a default limit
func (p Pagination) Normalize(defaultLimit, maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ServiceError represents a domain error returned by the service layer
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError builds a ServiceError without details
func NewServiceError(code, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message}
}

// Error codes shared by services and the API layer
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeForbidden             = "FORBIDDEN"
	CodeUserBanned            = "USER_BANNED"
	CodeNotFound              = "NOT_FOUND"
	CodeBadgeNotFound         = "BADGE_NOT_FOUND"
	CodeProfileNotFound       = "PROFILE_NOT_FOUND"
	CodeUploadNotFound        = "UPLOAD_NOT_FOUND"
	CodeImageNotFound         = "IMAGE_NOT_FOUND"
	CodeTeamNotFound          = "TEAM_NOT_FOUND"
	CodeTeamRequestNotFound   = "TEAM_REQUEST_NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeUsernameTaken         = "USERNAME_TAKEN"
	CodeTeamNameTaken         = "TEAM_NAME_TAKEN"
	CodeAlreadyReviewed       = "ALREADY_REVIEWED"
	CodeAlreadyMember         = "ALREADY_MEMBER"
	CodeDuplicateRequest      = "DUPLICATE_REQUEST"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType  = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeProviderTimeout       = "PROVIDER_TIMEOUT"
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// IsCode reports whether err is a ServiceError with the given code
func IsCode(err error, code string) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code == code
	}
	return false
}

package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

const (
	maxDisplayNameLen = 80
	maxBioLen         = 500
	maxMakerNoteLen   = 1000
)

// ProfileRepository interface for profile data operations
type ProfileRepository interface {
	Ensure(ctx context.Context, id, email string) (*models.Profile, error)
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByUsername(ctx context.Context, username string) (*models.Profile, error)
	UpdateDetails(ctx context.Context, p *models.Profile) error
	SetMakerStatus(ctx context.Context, id string, status types.MakerStatus, role *types.Role, note *string) (*models.Profile, error)
	SetRole(ctx context.Context, id string, role types.Role) (*models.Profile, error)
	SetBanned(ctx context.Context, id string, banned bool) (*models.Profile, error)
	List(ctx context.Context, filter models.ProfileFilter) ([]*models.Profile, int, error)
}

// CollectionCounter interface for per-user ownership totals
type CollectionCounter interface {
	CountsForUser(ctx context.Context, userID string) (*models.OwnershipCounts, error)
}

// ProfileService handles member profiles and role management
type ProfileService struct {
	profiles ProfileRepository
	counts   CollectionCounter
	notifier Notifier
}

// NewProfileService creates a new profile service
func NewProfileService(profiles ProfileRepository, counts CollectionCounter, notifier Notifier) *ProfileService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ProfileService{
		profiles: profiles,
		counts:   counts,
		notifier: notifier,
	}
}

// EnsureProfile returns the caller's profile, creating it on first sight
func (s *ProfileService) EnsureProfile(ctx context.Context, identity *auth.Identity) (*models.Profile, error) {
	if identity == nil || identity.UserID == "" {
		return nil, unauthorized()
	}
	if err := requireUUID(identity.UserID, "sub"); err != nil {
		return nil, types.NewServiceError(types.CodeUnauthorized, "token subject is not a valid user id")
	}

	p, err := s.profiles.Ensure(ctx, identity.UserID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return p, nil
}

// GetProfile returns a profile by id
func (s *ProfileService) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "get profile")
	}
	return p, nil
}

// GetByUsername returns a member's public page
func (s *ProfileService) GetByUsername(ctx context.Context, username string) (*models.PublicProfileDetail, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, types.NewServiceError(types.CodeProfileNotFound, "profile not found")
	}

	p, err := s.profiles.GetByUsername(ctx, username)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "get profile")
	}
	if p.IsBanned {
		return nil, types.NewServiceError(types.CodeProfileNotFound, "profile not found")
	}

	detail := &models.PublicProfileDetail{Profile: p.Public()}
	if s.counts != nil {
		c, err := s.counts.CountsForUser(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count collection: %w", err)
		}
		detail.OwnCount = c.Own
		detail.WantCount = c.Want
	}
	return detail, nil
}

// UpdateProfile applies a member's edits to their own profile
func (s *ProfileService) UpdateProfile(ctx context.Context, actor *models.Profile, patch *models.ProfilePatch) (*models.Profile, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if patch == nil {
		return nil, invalidInput("request body is required")
	}

	current, err := s.profiles.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "get profile")
	}
	updated := *current

	if u := trimmed(patch.Username); u != nil {
		if !usernamePattern.MatchString(*u) {
			return nil, invalidInput("username must be 3-30 characters of letters, digits, '_' or '-'")
		}
		updated.Username = u
	}
	if d := trimmed(patch.DisplayName); d != nil {
		if utf8.RuneCountInString(*d) > maxDisplayNameLen {
			return nil, invalidInput("displayName must be at most %d characters", maxDisplayNameLen)
		}
		updated.DisplayName = *d
	}
	if b := trimmed(patch.Bio); b != nil {
		if utf8.RuneCountInString(*b) > maxBioLen {
			return nil, invalidInput("bio must be at most %d characters", maxBioLen)
		}
		updated.Bio = *b
	}
	if a := trimmed(patch.AvatarURL); a != nil {
		if *a != "" && !validHTTPURL(*a) {
			return nil, invalidInput("avatarUrl must be an http(s) URL")
		}
		updated.AvatarURL = *a
	}
	if w := trimmed(patch.Website); w != nil {
		if *w != "" && !validHTTPURL(*w) {
			return nil, invalidInput("website must be an http(s) URL")
		}
		updated.Website = *w
	}

	if err := s.profiles.UpdateDetails(ctx, &updated); err != nil {
		if storageDuplicate(err) {
			return nil, types.NewServiceError(types.CodeUsernameTaken, "username is already taken")
		}
		return nil, translate(err, types.CodeProfileNotFound, "profile", "update profile")
	}
	return &updated, nil
}

// RequestMaker asks the admins for the maker role
func (s *ProfileService) RequestMaker(ctx context.Context, actor *models.Profile, note string) (*models.Profile, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxMakerNoteLen {
		return nil, invalidInput("note must be at most %d characters", maxMakerNoteLen)
	}

	current, err := s.profiles.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "get profile")
	}
	switch {
	case current.Role == types.RoleMaker, current.Role == types.RoleAdmin:
		return current, nil
	case current.MakerStatus == types.MakerApproved, current.MakerStatus == types.MakerPending:
		return current, nil
	}

	p, err := s.profiles.SetMakerStatus(ctx, actor.ID, types.MakerPending, nil, &note)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "request maker role")
	}

	s.notifier.NotifyAsync(ctx, &models.NotificationEvent{
		Kind:    models.EventMakerRequested,
		Title:   "Maker request",
		Message: note,
		ActorID: p.ID,
		Fields:  map[string]string{"user": displayHandle(p)},
	})
	return p, nil
}

// ListProfiles returns a filtered page of profiles for admins
func (s *ProfileService) ListProfiles(ctx context.Context, actor *models.Profile, filter models.ProfileFilter) (*models.ProfileList, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, invalidInput("unknown role %q", filter.Role)
	}
	filter.Pagination = filter.Pagination.Normalize(50, 200)
	filter.Query = strings.TrimSpace(filter.Query)

	items, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	return &models.ProfileList{Items: items, Total: total}, nil
}

// SetRole changes a member's role. Admins cannot demote themselves.
func (s *ProfileService) SetRole(ctx context.Context, actor *models.Profile, id string, role types.Role) (*models.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, invalidInput("unknown role %q", role)
	}
	if id == actor.ID && role != types.RoleAdmin {
		return nil, forbidden("admins cannot demote themselves")
	}

	var (
		p   *models.Profile
		err error
	)
	if role == types.RoleMaker {
		p, err = s.profiles.SetMakerStatus(ctx, id, types.MakerApproved, &role, nil)
	} else {
		p, err = s.profiles.SetRole(ctx, id, role)
	}
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "set role")
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": actor.ID,
		"userId":  id,
		"role":    role,
	}).Info("Role changed")
	return p, nil
}

// ReviewMaker approves (role maker) or rejects (role unchanged) a maker request
func (s *ProfileService) ReviewMaker(ctx context.Context, actor *models.Profile, id string, approve bool, note string) (*models.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}

	var (
		p   *models.Profile
		err error
	)
	note = strings.TrimSpace(note)
	if approve {
		role := types.RoleMaker
		current, getErr := s.profiles.GetByID(ctx, id)
		if getErr != nil {
			return nil, translate(getErr, types.CodeProfileNotFound, "profile", "get profile")
		}
		if current.Role == types.RoleAdmin {
			role = types.RoleAdmin
		}
		p, err = s.profiles.SetMakerStatus(ctx, id, types.MakerApproved, &role, optionalNote(note))
	} else {
		p, err = s.profiles.SetMakerStatus(ctx, id, types.MakerRejected, nil, optionalNote(note))
	}
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "review maker request")
	}
	return p, nil
}

// SetBanned bans or unbans a member. Admins cannot ban themselves.
func (s *ProfileService) SetBanned(ctx context.Context, actor *models.Profile, id string, banned bool) (*models.Profile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	if id == actor.ID && banned {
		return nil, forbidden("admins cannot ban themselves")
	}

	p, err := s.profiles.SetBanned(ctx, id, banned)
	if err != nil {
		return nil, translate(err, types.CodeProfileNotFound, "profile", "set banned")
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"adminId": actor.ID,
		"userId":  id,
		"banned":  banned,
	}).Info("Ban status changed")
	return p, nil
}

func optionalNote(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}

func storageDuplicate(err error) bool {
	return err != nil && errors.Is(err, storage.ErrDuplicate)
}

// displayHandle is the best human label for a profile in notifications
func displayHandle(p *models.Profile) string {
	switch {
	case p.Username != nil && *p.Username != "":
		return "@" + *p.Username
	case p.DisplayName != "":
		return p.DisplayName
	case p.Email != "":
		return p.Email
	}
	return p.ID
}

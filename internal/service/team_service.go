package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
	"golang.org/x/sync/errgroup"
)

const (
	minTeamNameLen       = 2
	maxTeamNameLen       = 80
	maxTeamRequestMsgLen = 1000
)

// TeamRepository interface for team data operations
type TeamRepository interface {
	List(ctx context.Context, page types.Pagination) ([]*models.TeamSummary, int, error)
	GetByID(ctx context.Context, id string) (*models.Team, error)
	NameTaken(ctx context.Context, name string) (bool, error)
	Members(ctx context.Context, teamID string) ([]*models.TeamMember, error)
	IsMember(ctx context.Context, teamID, userID string) (bool, error)
	RemoveMember(ctx context.Context, teamID, userID string) error
	CreateRequest(ctx context.Context, req *models.TeamRequest) error
	ListRequests(ctx context.Context, status types.ReviewStatus, page types.Pagination) ([]*models.TeamRequest, error)
	ReviewRequest(ctx context.Context, id, reviewerID string, approve bool, note string) (*models.TeamRequest, *models.Team, error)
}

// TeamBadgeCounter interface for counting a team's approved badges
type TeamBadgeCounter interface {
	CountByTeam(ctx context.Context, teamID string) (int, error)
}

// TeamList is a page of teams
type TeamList struct {
	Items []*models.TeamSummary `json:"items"`
	Total int                   `json:"total"`
}

// TeamReview is the outcome of reviewing a team request
type TeamReview struct {
	Request *models.TeamRequest `json:"request"`
	Team    *models.Team        `json:"team,omitempty"`
}

// TeamService handles maker teams and membership requests
type TeamService struct {
	teams    TeamRepository
	badges   TeamBadgeCounter
	notifier Notifier
}

// NewTeamService creates a new team service
func NewTeamService(teams TeamRepository, badges TeamBadgeCounter, notifier Notifier) *TeamService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &TeamService{
		teams:    teams,
		badges:   badges,
		notifier: notifier,
	}
}

// ListTeams returns a page of teams with member counts
func (s *TeamService) ListTeams(ctx context.Context, page types.Pagination) (*TeamList, error) {
	items, total, err := s.teams.List(ctx, page.Normalize(50, 200))
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return &TeamList{Items: items, Total: total}, nil
}

// GetTeam returns a team with its members and approved badge count
func (s *TeamService) GetTeam(ctx context.Context, id string) (*models.TeamDetail, error) {
	if err := requireUUID(id, "id"); err != nil {
		return nil, err
	}
	team, err := s.teams.GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, types.CodeTeamNotFound, "team", "get team")
	}

	detail := &models.TeamDetail{Team: team}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		members, err := s.teams.Members(gctx, id)
		if err != nil {
			return err
		}
		detail.Members = members
		return nil
	})
	g.Go(func() error {
		n, err := s.badges.CountByTeam(gctx, id)
		if err != nil {
			return err
		}
		detail.BadgeCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load team: %w", err)
	}
	return detail, nil
}

// RequestTeam files a request to create a team or join one. A user has at
// most one pending request per target.
func (s *TeamService) RequestTeam(ctx context.Context, actor *models.Profile, in *models.TeamRequestInput) (*models.TeamRequest, error) {
	if err := requireActive(actor); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, invalidInput("request body is required")
	}
	message := strings.TrimSpace(in.Message)
	if utf8.RuneCountInString(message) > maxTeamRequestMsgLen {
		return nil, invalidInput("message must be at most %d characters", maxTeamRequestMsgLen)
	}

	req := &models.TeamRequest{
		UserID:  actor.ID,
		Kind:    in.Kind,
		Message: message,
	}

	var target string
	switch in.Kind {
	case types.TeamRequestCreate:
		name := strings.TrimSpace(in.TeamName)
		n := utf8.RuneCountInString(name)
		if n < minTeamNameLen || n > maxTeamNameLen {
			return nil, invalidInput("teamName must be %d-%d characters", minTeamNameLen, maxTeamNameLen)
		}
		taken, err := s.teams.NameTaken(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check team name: %w", err)
		}
		if taken {
			return nil, types.NewServiceError(types.CodeTeamNameTaken, "a team with that name already exists")
		}
		req.TeamName = name
		target = name

	case types.TeamRequestJoin:
		if in.TeamID == nil {
			return nil, invalidInput("teamId is required to join a team")
		}
		if err := requireUUID(*in.TeamID, "teamId"); err != nil {
			return nil, err
		}
		team, err := s.teams.GetByID(ctx, *in.TeamID)
		if err != nil {
			return nil, translate(err, types.CodeTeamNotFound, "team", "get team")
		}
		member, err := s.teams.IsMember(ctx, team.ID, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check membership: %w", err)
		}
		if member {
			return nil, types.NewServiceError(types.CodeAlreadyMember, "already a member of this team")
		}
		teamID := team.ID
		req.TeamID = &teamID
		target = team.Name

	default:
		return nil, invalidInput("kind must be %q or %q", types.TeamRequestCreate, types.TeamRequestJoin)
	}

	if err := s.teams.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, types.NewServiceError(types.CodeDuplicateRequest, "a request for this team is already pending")
		}
		return nil, translate(err, types.CodeTeamNotFound, "team", "create team request")
	}

	s.notifier.NotifyAsync(ctx, &models.NotificationEvent{
		Kind:    models.EventTeamRequested,
		Title:   fmt.Sprintf("Team %s request: %s", req.Kind, target),
		Message: req.Message,
		ActorID: actor.ID,
		Fields:  map[string]string{"user": displayHandle(actor)},
	})
	return req, nil
}

// ListTeamRequests returns team requests for moderation
func (s *TeamService) ListTeamRequests(ctx context.Context, actor *models.Profile, status types.ReviewStatus, page types.Pagination) ([]*models.TeamRequest, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, invalidInput("unknown status %q", status)
	}
	reqs, err := s.teams.ListRequests(ctx, status, page.Normalize(50, 200))
	if err != nil {
		return nil, fmt.Errorf("failed to list team requests: %w", err)
	}
	return reqs, nil
}

// ReviewTeamRequest approves or rejects a pending request. Approving a
// create request makes the team with the requester as owner.
func (s *TeamService) ReviewTeamRequest(ctx context.Context, actor *models.Profile, id string, approve bool, note string) (*TeamReview, error) {
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

	req, team, err := s.teams.ReviewRequest(ctx, id, actor.ID, approve, note)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, types.NewServiceError(types.CodeTeamNameTaken, "a team with that name already exists")
		}
		return nil, translate(err, types.CodeTeamRequestNotFound, "team request", "review team request")
	}
	return &TeamReview{Request: req, Team: team}, nil
}

// LeaveTeam removes the actor from a team
func (s *TeamService) LeaveTeam(ctx context.Context, actor *models.Profile, teamID string) error {
	if err := requireActive(actor); err != nil {
		return err
	}
	if err := requireUUID(teamID, "teamId"); err != nil {
		return err
	}
	if err := s.teams.RemoveMember(ctx, teamID, actor.ID); err != nil {
		return translate(err, types.CodeNotFound, "membership", "leave team")
	}
	return nil
}

// RemoveMember removes any member from a team. Admin only.
func (s *TeamService) RemoveMember(ctx context.Context, actor *models.Profile, teamID, userID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := requireUUID(teamID, "teamId"); err != nil {
		return err
	}
	if err := requireUUID(userID, "userId"); err != nil {
		return err
	}
	if err := s.teams.RemoveMember(ctx, teamID, userID); err != nil {
		return translate(err, types.CodeNotFound, "membership", "remove team member")
	}
	return nil
}

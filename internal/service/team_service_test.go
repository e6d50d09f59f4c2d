package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const teamID = "20000000-0000-0000-0000-000000000001"

type memTeams struct {
	mu       sync.Mutex
	teams    map[string]*models.Team
	members  map[string]map[string]types.TeamMemberRole
	requests map[string]*models.TeamRequest
}

func newMemTeams() *memTeams {
	m := &memTeams{
		teams:    map[string]*models.Team{teamID: {ID: teamID, Name: "Badge Pirates", CreatedBy: makerID}},
		members:  map[string]map[string]types.TeamMemberRole{teamID: {makerID: types.TeamOwner}},
		requests: make(map[string]*models.TeamRequest),
	}
	return m
}

func (m *memTeams) List(ctx context.Context, page types.Pagination) ([]*models.TeamSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TeamSummary
	for id, t := range m.teams {
		out = append(out, &models.TeamSummary{Team: t, MemberCount: len(m.members[id])})
	}
	return out, len(out), nil
}

func (m *memTeams) GetByID(ctx context.Context, id string) (*models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t, nil
}

func (m *memTeams) nameTaken(name string) bool {
	for _, t := range m.teams {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (m *memTeams) NameTaken(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nameTaken(name), nil
}

func (m *memTeams) Members(ctx context.Context, teamID string) ([]*models.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TeamMember
	for uid, role := range m.members[teamID] {
		out = append(out, &models.TeamMember{TeamID: teamID, UserID: uid, Role: role})
	}
	return out, nil
}

func (m *memTeams) IsMember(ctx context.Context, teamID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[teamID][userID]
	return ok, nil
}

func (m *memTeams) RemoveMember(ctx context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[teamID][userID]; !ok {
		return storage.ErrNotFound
	}
	delete(m.members[teamID], userID)
	return nil
}

func (m *memTeams) CreateRequest(ctx context.Context, req *models.TeamRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.requests {
		if other.UserID != req.UserID || other.Status != types.StatusPending || other.Kind != req.Kind {
			continue
		}
		sameTeam := req.TeamID != nil && other.TeamID != nil && *req.TeamID == *other.TeamID
		sameName := req.TeamName != "" && strings.EqualFold(req.TeamName, other.TeamName)
		if sameTeam || sameName {
			return storage.ErrDuplicate
		}
	}
	req.ID = uuid.NewString()
	req.Status = types.StatusPending
	req.CreatedAt = time.Now()
	m.requests[req.ID] = req
	return nil
}

func (m *memTeams) ListRequests(ctx context.Context, status types.ReviewStatus, page types.Pagination) ([]*models.TeamRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TeamRequest
	for _, r := range m.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memTeams) ReviewRequest(ctx context.Context, id, reviewerID string, approve bool, note string) (*models.TeamRequest, *models.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}
	if req.Status != types.StatusPending {
		return nil, nil, storage.ErrStateConflict
	}
	req.ReviewedBy = &reviewerID
	req.ReviewNote = note
	if !approve {
		req.Status = types.StatusRejected
		return req, nil, nil
	}

	var team *models.Team
	switch req.Kind {
	case types.TeamRequestCreate:
		if m.nameTaken(req.TeamName) {
			return nil, nil, storage.ErrDuplicate
		}
		team = &models.Team{ID: uuid.NewString(), Name: req.TeamName, CreatedBy: req.UserID}
		m.teams[team.ID] = team
		m.members[team.ID] = map[string]types.TeamMemberRole{req.UserID: types.TeamOwner}
	case types.TeamRequestJoin:
		team = m.teams[*req.TeamID]
		m.members[team.ID][req.UserID] = types.TeamMember
	}
	req.Status = types.StatusApproved
	return req, team, nil
}

func TestTeamService_CreateRequestFlow(t *testing.T) {
	teams := newMemTeams()
	notifier := &recordingNotifier{}
	svc := NewTeamService(teams, newMemBadges(), notifier)
	ctx := context.Background()

	_, err := svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestCreate, TeamName: "badge pirates"})
	assertCode(t, err, types.CodeTeamNameTaken)

	_, err = svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestCreate, TeamName: "X"})
	assertCode(t, err, types.CodeInvalidInput)

	req, err := svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestCreate, TeamName: " Solder Crew "})
	require.NoError(t, err)
	assert.Equal(t, "Solder Crew", req.TeamName)
	assert.Equal(t, []string{models.EventTeamRequested}, notifier.kinds())

	_, err = svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestCreate, TeamName: "Solder Crew"})
	assertCode(t, err, types.CodeDuplicateRequest)

	review, err := svc.ReviewTeamRequest(ctx, adminProfile(), req.ID, true, "welcome")
	require.NoError(t, err)
	require.NotNil(t, review.Team)
	assert.Equal(t, "Solder Crew", review.Team.Name)

	detail, err := svc.GetTeam(ctx, review.Team.ID)
	require.NoError(t, err)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, types.TeamOwner, detail.Members[0].Role)

	_, err = svc.ReviewTeamRequest(ctx, adminProfile(), req.ID, true, "")
	assertCode(t, err, types.CodeAlreadyReviewed)
}

func TestTeamService_JoinRequestFlow(t *testing.T) {
	teams := newMemTeams()
	svc := NewTeamService(teams, newMemBadges(), nil)
	ctx := context.Background()

	_, err := svc.RequestTeam(ctx, makerProfile(), &models.TeamRequestInput{Kind: types.TeamRequestJoin, TeamID: strPtr(teamID)})
	assertCode(t, err, types.CodeAlreadyMember)

	_, err = svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestJoin})
	assertCode(t, err, types.CodeInvalidInput)

	_, err = svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestJoin, TeamID: strPtr(missingBadgeID)})
	assertCode(t, err, types.CodeTeamNotFound)

	req, err := svc.RequestTeam(ctx, userProfile(), &models.TeamRequestInput{Kind: types.TeamRequestJoin, TeamID: strPtr(teamID)})
	require.NoError(t, err)

	_, err = svc.ReviewTeamRequest(ctx, userProfile(), req.ID, true, "")
	assertCode(t, err, types.CodeForbidden)

	_, err = svc.ReviewTeamRequest(ctx, adminProfile(), req.ID, true, "")
	require.NoError(t, err)

	member, err := teams.IsMember(ctx, teamID, userID)
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, svc.LeaveTeam(ctx, userProfile(), teamID))
	err = svc.LeaveTeam(ctx, userProfile(), teamID)
	assertCode(t, err, types.CodeNotFound)

	err = svc.RemoveMember(ctx, userProfile(), teamID, makerID)
	assertCode(t, err, types.CodeForbidden)
	require.NoError(t, svc.RemoveMember(ctx, adminProfile(), teamID, makerID))
}

func TestTeamService_UnknownKind(t *testing.T) {
	svc := NewTeamService(newMemTeams(), newMemBadges(), nil)
	_, err := svc.RequestTeam(context.Background(), userProfile(), &models.TeamRequestInput{Kind: "merge"})
	assertCode(t, err, types.CodeInvalidInput)
}

type memPrefs struct {
	rows map[string]*models.EmailPreferences
}

func (m *memPrefs) Get(ctx context.Context, userID string) (*models.EmailPreferences, error) {
	p, ok := m.rows[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrefs) Upsert(ctx context.Context, p *models.EmailPreferences) error {
	cp := *p
	m.rows[p.UserID] = &cp
	return nil
}

func TestPreferenceService(t *testing.T) {
	repo := &memPrefs{rows: make(map[string]*models.EmailPreferences)}
	svc := NewPreferenceService(repo)
	ctx := context.Background()

	p, err := svc.GetPreferences(ctx, userProfile())
	require.NoError(t, err)
	assert.Equal(t, *models.DefaultEmailPreferences(userID), *p)

	off := false
	on := true
	p, err = svc.UpdatePreferences(ctx, userProfile(), &models.EmailPreferencesPatch{NewBadges: &off, Newsletter: &on})
	require.NoError(t, err)
	assert.False(t, p.NewBadges)
	assert.True(t, p.Newsletter)
	assert.True(t, p.OwnershipUpdates)

	stored, err := svc.GetPreferences(ctx, userProfile())
	require.NoError(t, err)
	assert.False(t, stored.NewBadges)

	_, err = svc.GetPreferences(ctx, nil)
	assertCode(t, err, types.CodeUnauthorized)
}

package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/adapter"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

// Fixed actors

const (
	adminID = "00000000-0000-0000-0000-0000000000a1"
	makerID = "00000000-0000-0000-0000-0000000000b2"
	userID  = "00000000-0000-0000-0000-0000000000c3"
	otherID = "00000000-0000-0000-0000-0000000000d4"
)

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func adminProfile() *models.Profile {
	return &models.Profile{ID: adminID, Email: "admin@example.com", Role: types.RoleAdmin, MakerStatus: types.MakerNone}
}

func makerProfile() *models.Profile {
	name := "maker"
	return &models.Profile{ID: makerID, Email: "maker@example.com", Username: &name, Role: types.RoleMaker, MakerStatus: types.MakerApproved}
}

func userProfile() *models.Profile {
	return &models.Profile{ID: userID, Email: "user@example.com", Role: types.RoleUser, MakerStatus: types.MakerNone}
}

// Mock profile repository

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]*models.Profile
}

func newMemProfiles(profiles ...*models.Profile) *memProfiles {
	m := &memProfiles{rows: make(map[string]*models.Profile)}
	for _, p := range profiles {
		cp := *p
		m.rows[p.ID] = &cp
	}
	return m
}

func (m *memProfiles) Ensure(ctx context.Context, id, email string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		cp := *p
		return &cp, nil
	}
	p := &models.Profile{ID: id, Email: email, Role: types.RoleUser, MakerStatus: types.MakerNone, CreatedAt: time.Now()}
	m.rows[id] = p
	cp := *p
	return &cp, nil
}

func (m *memProfiles) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.Username != nil && *p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memProfiles) UpdateDetails(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.ID]; !ok {
		return storage.ErrNotFound
	}
	if p.Username != nil {
		for id, other := range m.rows {
			if id != p.ID && other.Username != nil && *other.Username == *p.Username {
				return storage.ErrDuplicate
			}
		}
	}
	cp := *p
	m.rows[p.ID] = &cp
	return nil
}

func (m *memProfiles) SetMakerStatus(ctx context.Context, id string, status types.MakerStatus, role *types.Role, note *string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.MakerStatus = status
	if role != nil {
		p.Role = *role
	}
	if note != nil {
		p.MakerRequestNote = *note
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) SetRole(ctx context.Context, id string, role types.Role) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.Role = role
	cp := *p
	return &cp, nil
}

func (m *memProfiles) SetBanned(ctx context.Context, id string, banned bool) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p.IsBanned = banned
	cp := *p
	return &cp, nil
}

func (m *memProfiles) List(ctx context.Context, filter models.ProfileFilter) ([]*models.Profile, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Profile
	for _, p := range m.rows {
		if filter.Role != "" && p.Role != filter.Role {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

// Mock badge repository

type memBadges struct {
	mu   sync.Mutex
	rows map[string]*models.Badge
}

func newMemBadges(badges ...*models.Badge) *memBadges {
	m := &memBadges{rows: make(map[string]*models.Badge)}
	for _, b := range badges {
		cp := *b
		m.rows[b.ID] = &cp
	}
	return m
}

func (m *memBadges) Create(ctx context.Context, b *models.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.NewString()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memBadges) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBadges) Update(ctx context.Context, b *models.Badge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[b.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memBadges) SetStatus(ctx context.Context, id string, status types.ReviewStatus) (*models.Badge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	b.Status = status
	cp := *b
	return &cp, nil
}

func (m *memBadges) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func summaryOf(b *models.Badge) *models.BadgeSummary {
	return &models.BadgeSummary{
		ID:        b.ID,
		Name:      b.Name,
		EventName: b.EventName,
		Year:      b.Year,
		Category:  b.Category,
		Status:    b.Status,
	}
}

func (m *memBadges) List(ctx context.Context, filter models.BadgeFilter) ([]*models.BadgeSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BadgeSummary
	for _, b := range m.rows {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, summaryOf(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *memBadges) Summaries(ctx context.Context, ids []string, approvedOnly bool) (map[string]*models.BadgeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.BadgeSummary)
	for _, id := range ids {
		b, ok := m.rows[id]
		if !ok || (approvedOnly && b.Status != types.StatusApproved) {
			continue
		}
		out[id] = summaryOf(b)
	}
	return out, nil
}

func (m *memBadges) CountByTeam(ctx context.Context, teamID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.rows {
		if b.TeamID != nil && *b.TeamID == teamID && b.Status == types.StatusApproved {
			n++
		}
	}
	return n, nil
}

// Mock image repository

type memImages struct {
	mu   sync.Mutex
	rows map[string]*models.BadgeImage
}

func newMemImages(images ...*models.BadgeImage) *memImages {
	m := &memImages{rows: make(map[string]*models.BadgeImage)}
	for _, img := range images {
		cp := *img
		m.rows[img.ID] = &cp
	}
	return m
}

func (m *memImages) Create(ctx context.Context, img *models.BadgeImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img.ID = uuid.NewString()
	img.IsPrimary = true
	for _, other := range m.rows {
		if other.BadgeID == img.BadgeID {
			img.IsPrimary = false
			break
		}
	}
	cp := *img
	m.rows[img.ID] = &cp
	return nil
}

func (m *memImages) GetByID(ctx context.Context, id string) (*models.BadgeImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *memImages) ListByBadge(ctx context.Context, badgeID string) ([]*models.BadgeImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BadgeImage
	for _, img := range m.rows {
		if img.BadgeID == badgeID {
			cp := *img
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memImages) ListIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memImages) SetPrimary(ctx context.Context, badgeID, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.rows[imageID]
	if !ok || img.BadgeID != badgeID {
		return storage.ErrNotFound
	}
	for _, other := range m.rows {
		if other.BadgeID == badgeID {
			other.IsPrimary = other.ID == imageID
		}
	}
	return nil
}

func (m *memImages) Delete(ctx context.Context, badgeID, imageID string) (*models.BadgeImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.rows[imageID]
	if !ok || img.BadgeID != badgeID {
		return nil, storage.ErrNotFound
	}
	delete(m.rows, imageID)
	return img, nil
}

// Mock ownership repository

type memOwnerships struct {
	mu   sync.Mutex
	rows map[string]*models.Ownership
}

func newMemOwnerships() *memOwnerships {
	return &memOwnerships{rows: make(map[string]*models.Ownership)}
}

func (m *memOwnerships) Upsert(ctx context.Context, userID, badgeID string, status types.OwnershipStatus) (*models.Ownership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := &models.Ownership{UserID: userID, BadgeID: badgeID, Status: status, UpdatedAt: time.Now()}
	m.rows[userID+"/"+badgeID] = o
	cp := *o
	return &cp, nil
}

func (m *memOwnerships) Get(ctx context.Context, userID, badgeID string) (*models.Ownership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[userID+"/"+badgeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOwnerships) Delete(ctx context.Context, userID, badgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + badgeID
	if _, ok := m.rows[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.rows, key)
	return nil
}

func (m *memOwnerships) ListByUser(ctx context.Context, userID string, status *types.OwnershipStatus) ([]*models.CollectionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CollectionItem
	for _, o := range m.rows {
		if o.UserID != userID || (status != nil && o.Status != *status) {
			continue
		}
		out = append(out, &models.CollectionItem{Badge: &models.BadgeSummary{ID: o.BadgeID}, Status: o.Status, UpdatedAt: o.UpdatedAt})
	}
	return out, nil
}

func (m *memOwnerships) count(match func(o *models.Ownership) bool) *models.OwnershipCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.OwnershipCounts{}
	for _, o := range m.rows {
		if !match(o) {
			continue
		}
		if o.Status == types.OwnershipOwn {
			c.Own++
		} else {
			c.Want++
		}
	}
	return c
}

func (m *memOwnerships) CountsForBadge(ctx context.Context, badgeID string) (*models.OwnershipCounts, error) {
	return m.count(func(o *models.Ownership) bool { return o.BadgeID == badgeID }), nil
}

func (m *memOwnerships) CountsForUser(ctx context.Context, userID string) (*models.OwnershipCounts, error) {
	return m.count(func(o *models.Ownership) bool { return o.UserID == userID }), nil
}

// Mock blob store

type memBlobs struct {
	mu       sync.Mutex
	data     map[string][]byte
	maxBytes int64
	deleted  []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string][]byte), maxBytes: 1 << 20}
}

func (m *memBlobs) Put(ctx context.Context, prefix string, data []byte) (string, string, error) {
	contentType, err := storage.ValidateImage(data, m.maxBytes)
	if err != nil {
		return "", "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefix + "/" + uuid.NewString() + ".png"
	m.data[key] = append([]byte(nil), data...)
	return key, contentType, nil
}

func (m *memBlobs) Read(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memBlobs) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBlobs) URL(key string) string {
	return "http://media.test/media/" + key
}

func (m *memBlobs) MaxBytes() int64 {
	return m.maxBytes
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Recorders

type recordingNotifier struct {
	mu     sync.Mutex
	events []*models.NotificationEvent
}

func (n *recordingNotifier) NotifyAsync(ctx context.Context, event *models.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) EnqueueImage(ctx context.Context, imageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, imageID)
	return nil
}

type countingInvalidator struct {
	mu      sync.Mutex
	calls   int
	dropped []string
}

func (c *countingInvalidator) Invalidate(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, keys...)
	return nil
}

func (c *countingInvalidator) droppedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dropped...)
}

func (c *countingInvalidator) InvalidateMatches(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingInvalidator) MatchKey(digest string) string {
	return "match:" + digest
}

func (c *countingInvalidator) SearchKey(provider, query string) string {
	return "search:" + provider + ":" + query
}

func (c *countingInvalidator) ResearchKey(badgeID string) string {
	return "research:" + badgeID
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// mapCache is an in-memory LoadingCache that stores JSON like Redis does
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	loads   int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, dest interface{}, load storage.LoadFunc) (bool, error) {
	c.mu.Lock()
	data, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return true, json.Unmarshal(data, dest)
	}

	value, cacheable, err := load(ctx)
	if err != nil {
		return false, err
	}
	data, err = json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.loads++
	if cacheable {
		c.entries[key] = data
	}
	c.mu.Unlock()
	return false, json.Unmarshal(data, dest)
}

// Providers

type fakeEmbedder struct {
	mu         sync.Mutex
	configured bool
	vector     []float64
	status     types.PredictionStatus
	err        error
	calls      int
	refs       []string
}

func (f *fakeEmbedder) Configured() bool { return f.configured }

func (f *fakeEmbedder) Model() string { return "clip-test" }

func (f *fakeEmbedder) EmbedImage(ctx context.Context, imageRef string) (*adapter.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.refs = append(f.refs, imageRef)
	status := f.status
	if status == "" {
		status = types.PredictionSucceeded
	}
	emb := &adapter.Embedding{Vector: f.vector, Status: status, Model: "clip-test"}
	if f.err != nil {
		return emb, f.err
	}
	return emb, nil
}

type memEmbeddings struct {
	mu   sync.Mutex
	rows []*models.BadgeEmbedding
	err  error
}

func (m *memEmbeddings) ListApproved(ctx context.Context) ([]*models.BadgeEmbedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]*models.BadgeEmbedding(nil), m.rows...), nil
}

func (m *memEmbeddings) Upsert(ctx context.Context, e *models.BadgeEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.ImageID == e.ImageID {
			m.rows[i] = e
			return nil
		}
	}
	m.rows = append(m.rows, e)
	return nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*models.MatchEvent
	err    error
}

func (m *memEvents) Record(ctx context.Context, e *models.MatchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

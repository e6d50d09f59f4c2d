package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/service"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

const (
	adminID  = "00000000-0000-0000-0000-0000000000a1"
	userID   = "00000000-0000-0000-0000-0000000000c3"
	bannedID = "00000000-0000-0000-0000-0000000000e5"
)

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

// Mock services for testing. Embedded nil interfaces panic on calls a
// test does not expect, which RecoveryMiddleware turns into a 500.

type mockVerifier struct{}

func (mockVerifier) Verify(token string) (*auth.Identity, error) {
	switch token {
	case "admin-token":
		return &auth.Identity{UserID: adminID}, nil
	case "user-token":
		return &auth.Identity{UserID: userID}, nil
	case "banned-token":
		return &auth.Identity{UserID: bannedID}, nil
	}
	return nil, auth.ErrInvalidToken
}

type mockProfileService struct {
	ProfileServiceInterface
	updateFunc func(ctx context.Context, actor *models.Profile, patch *models.ProfilePatch) (*models.Profile, error)
}

func (m *mockProfileService) EnsureProfile(ctx context.Context, identity *auth.Identity) (*models.Profile, error) {
	p := &models.Profile{ID: identity.UserID, Role: types.RoleUser}
	switch identity.UserID {
	case adminID:
		p.Role = types.RoleAdmin
	case bannedID:
		p.IsBanned = true
	}
	return p, nil
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, actor *models.Profile, patch *models.ProfilePatch) (*models.Profile, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, actor, patch)
	}
	return actor, nil
}

type mockBadgeService struct {
	BadgeServiceInterface
	listFunc func(ctx context.Context, viewer *models.Profile, filter models.BadgeFilter) (*models.BadgeList, error)
	getFunc  func(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error)
}

func (m *mockBadgeService) ListBadges(ctx context.Context, viewer *models.Profile, filter models.BadgeFilter) (*models.BadgeList, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, viewer, filter)
	}
	return &models.BadgeList{Items: []*models.BadgeSummary{}}, nil
}

func (m *mockBadgeService) GetBadge(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id, viewer)
	}
	return &models.BadgeDetail{Badge: &models.Badge{ID: id, Name: "Human"}}, nil
}

type mockUploadService struct {
	UploadServiceInterface
	submitted *models.UploadInput
	data      []byte
}

func (m *mockUploadService) SubmitUpload(ctx context.Context, actor *models.Profile, data []byte, in *models.UploadInput) (*models.Upload, error) {
	m.submitted = in
	m.data = data
	return &models.Upload{ID: "upload-1", UserID: actor.ID, Status: types.StatusPending}, nil
}

type mockMatchService struct {
	src service.ImageSource
}

func (m *mockMatchService) Identify(ctx context.Context, actor *models.Profile, src service.ImageSource) (*models.MatchResult, error) {
	m.src = src
	return &models.MatchResult{Status: types.MatchNone, Matches: []*models.BadgeMatch{}, Threshold: 0.85}, nil
}

type mockAdminService struct{}

func (mockAdminService) Stats(ctx context.Context, actor *models.Profile, days int) (*models.AdminStats, error) {
	return &models.AdminStats{Profiles: 3}, nil
}

type stubHealth struct{ err error }

func (s stubHealth) Ping(ctx context.Context) error { return s.err }

type testFixture struct {
	server   *Server
	profiles *mockProfileService
	badges   *mockBadgeService
	uploads  *mockUploadService
	matching *mockMatchService
}

// Helper function to create test server
func createTestServer(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		profiles: &mockProfileService{},
		badges:   &mockBadgeService{},
		uploads:  &mockUploadService{},
		matching: &mockMatchService{},
	}

	blobs, err := storage.NewBlobStore(t.TempDir(), "http://localhost:8080", 1<<20)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	config := &ServerConfig{
		Host:           "localhost",
		Port:           "8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		AllowedOrigins: []string{"https://mybadgelife.example.com"},
		AnonymousRPS:   1000,
		UserRPS:        1000,
		AdminRPS:       1000,
		RateBurst:      100,
		MaxUploadBytes: 1 << 20,
	}
	f.server = NewServer(config, &Services{
		Profiles: f.profiles,
		Badges:   f.badges,
		Uploads:  f.uploads,
		Matching: f.matching,
		Admin:    mockAdminService{},
		Media:    blobs,
		Health:   map[string]HealthChecker{"postgres": stubHealth{}},
	}, mockVerifier{})
	return f
}

func (f *testFixture) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) types.ServiceError {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp.Error
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	f := createTestServer(t)

	w := f.do(httptest.NewRequest("GET", "/health", nil), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", response["status"])
	}

	f.server.services.Health["redis"] = stubHealth{err: errors.New("connection refused")}
	w = f.do(httptest.NewRequest("GET", "/health", nil), "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 with a failing dependency, got %d", w.Code)
	}
}

// TestCORSHeaders tests that CORS headers follow the allowed origins
func TestCORSHeaders(t *testing.T) {
	f := createTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://mybadgelife.example.com")
	w := f.do(req, "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://mybadgelife.example.com" {
		t.Errorf("Expected allowed origin to be echoed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = f.do(req, "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS header for unknown origin, got %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/api/badges", nil)
	w = f.do(req, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected preflight status 204, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := createTestServer(t)

	w := f.do(httptest.NewRequest("GET", "/health", nil), "")
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = f.do(req, "")
	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("Expected request id to be propagated, got %q", got)
	}
}

func TestAuthentication(t *testing.T) {
	f := createTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{name: "anonymous me", method: "GET", path: "/api/me", status: http.StatusUnauthorized, code: types.CodeUnauthorized},
		{name: "bad token", method: "GET", path: "/api/badges", token: "forged", status: http.StatusUnauthorized, code: types.CodeUnauthorized},
		{name: "anonymous catalog", method: "GET", path: "/api/badges", status: http.StatusOK},
		{name: "user me", method: "GET", path: "/api/me", token: "user-token", status: http.StatusOK},
		{name: "banned reads me", method: "GET", path: "/api/me", token: "banned-token", status: http.StatusOK},
		{name: "banned writes me", method: "PATCH", path: "/api/me", token: "banned-token", body: `{"bio":"hi"}`, status: http.StatusForbidden, code: types.CodeUserBanned},
		{name: "user on admin", method: "GET", path: "/api/admin/stats", token: "user-token", status: http.StatusForbidden, code: types.CodeForbidden},
		{name: "anonymous on admin", method: "GET", path: "/api/admin/stats", status: http.StatusUnauthorized, code: types.CodeUnauthorized},
		{name: "admin stats", method: "GET", path: "/api/admin/stats", token: "admin-token", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = bytes.NewBufferString(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set("Content-Type", "application/json")

			w := f.do(req, tt.token)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.code != "" {
				if got := decodeError(t, w).Code; got != tt.code {
					t.Errorf("Expected code %s, got %s", tt.code, got)
				}
			}
		})
	}
}

func TestGetMeReturnsProfile(t *testing.T) {
	f := createTestServer(t)

	w := f.do(httptest.NewRequest("GET", "/api/me", nil), "admin-token")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var p models.Profile
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if p.ID != adminID || p.Role != types.RoleAdmin {
		t.Errorf("Unexpected profile %+v", p)
	}
}

func TestListBadges_ParsesFilter(t *testing.T) {
	f := createTestServer(t)

	var got models.BadgeFilter
	var viewer *models.Profile
	f.badges.listFunc = func(ctx context.Context, v *models.Profile, filter models.BadgeFilter) (*models.BadgeList, error) {
		got = filter
		viewer = v
		return &models.BadgeList{Items: []*models.BadgeSummary{}, Total: 0}, nil
	}

	w := f.do(httptest.NewRequest("GET", "/api/badges?q=defcon&year=2024&status=pending&limit=5&offset=10", nil), "user-token")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got.Query != "defcon" || got.Year == nil || *got.Year != 2024 || got.Status != types.StatusPending {
		t.Errorf("Unexpected filter %+v", got)
	}
	if got.Limit != 5 || got.Offset != 10 {
		t.Errorf("Unexpected pagination %+v", got.Pagination)
	}
	if viewer == nil || viewer.ID != userID {
		t.Error("Expected the viewer to be passed to the service")
	}

	w = f.do(httptest.NewRequest("GET", "/api/badges?limit=ten", nil), "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for non-numeric limit, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	f := createTestServer(t)

	f.badges.getFunc = func(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error) {
		return nil, types.NewServiceError(types.CodeBadgeNotFound, "badge not found")
	}
	w := f.do(httptest.NewRequest("GET", "/api/badges/abc", nil), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != types.CodeBadgeNotFound {
		t.Errorf("Expected code %s, got %s", types.CodeBadgeNotFound, got)
	}

	f.badges.getFunc = func(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error) {
		return nil, errors.New("pq: password authentication failed for user badger")
	}
	w = f.do(httptest.NewRequest("GET", "/api/badges/abc", nil), "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if msg := decodeError(t, w).Message; msg != internalErrorMessage {
		t.Errorf("Expected generic message, got %q", msg)
	}
}

func TestPanicRecovery(t *testing.T) {
	f := createTestServer(t)

	// the mock has no Teams service, so the handler panics
	w := f.do(httptest.NewRequest("GET", "/api/teams", nil), "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	f := createTestServer(t)

	w := f.do(httptest.NewRequest("GET", "/api/nope", nil), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
	if got := decodeError(t, w).Code; got != types.CodeNotFound {
		t.Errorf("Expected code %s, got %s", types.CodeNotFound, got)
	}
}

func multipartImage(t *testing.T, field string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write field: %v", err)
		}
	}
	part, err := mw.CreateFormFile(field, "badge.png")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	_, _ = part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSubmitUpload_Multipart(t *testing.T) {
	f := createTestServer(t)

	body, contentType := multipartImage(t, "image", pngData, map[string]string{
		"badgeId":       "  ",
		"suggestedName": "Human badge",
		"notes":         "DEF CON 32",
	})
	req := httptest.NewRequest("POST", "/api/uploads", body)
	req.Header.Set("Content-Type", contentType)

	w := f.do(req, "user-token")
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if !bytes.Equal(f.uploads.data, pngData) {
		t.Error("Expected the uploaded bytes to reach the service")
	}
	if f.uploads.submitted.BadgeID != nil {
		t.Error("Expected a blank badgeId to be treated as absent")
	}
	if f.uploads.submitted.SuggestedName != "Human badge" {
		t.Errorf("Unexpected suggested name %q", f.uploads.submitted.SuggestedName)
	}

	req = httptest.NewRequest("POST", "/api/uploads", bytes.NewBufferString("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = f.do(req, "user-token")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", w.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	f := createTestServer(t)

	big := make([]byte, 3<<20)
	copy(big, pngData)
	req := httptest.NewRequest("POST", "/api/uploads", bytes.NewReader(big))
	req.Header.Set("Content-Type", "image/png")

	w := f.do(req, "user-token")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", w.Code)
	}
}

func TestMatch_Sources(t *testing.T) {
	f := createTestServer(t)

	req := httptest.NewRequest("POST", "/api/match", bytes.NewBufferString(`{"imageUrl":"https://img.example.com/a.jpg"}`))
	req.Header.Set("Content-Type", "application/json")
	w := f.do(req, "user-token")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if f.matching.src.URL != "https://img.example.com/a.jpg" || f.matching.src.Data != nil {
		t.Errorf("Unexpected source %+v", f.matching.src)
	}

	body, contentType := multipartImage(t, "image", pngData, nil)
	req = httptest.NewRequest("POST", "/api/match", body)
	req.Header.Set("Content-Type", contentType)
	w = f.do(req, "user-token")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !bytes.Equal(f.matching.src.Data, pngData) {
		t.Error("Expected uploaded bytes as the match source")
	}

	var result models.MatchResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Status != types.MatchNone {
		t.Errorf("Expected status no_match, got %s", result.Status)
	}

	w = f.do(httptest.NewRequest("POST", "/api/match", nil), "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected anonymous match to be rejected, got %d", w.Code)
	}
}

func TestMediaServing(t *testing.T) {
	f := createTestServer(t)

	key, _, err := f.server.services.Media.(*storage.BlobStore).Put(context.Background(), "badges", pngData)
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}

	w := f.do(httptest.NewRequest("GET", "/media/"+key, nil), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Expected image/png, got %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), pngData) {
		t.Error("Expected the stored bytes")
	}

	for _, path := range []string{"/media/badges/passwd", "/media/BADGES/x.png", "/media/badges/00000000-0000-0000-0000-000000000000.png"} {
		w = f.do(httptest.NewRequest("GET", path, nil), "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestCompression(t *testing.T) {
	f := createTestServer(t)

	req := httptest.NewRequest("GET", "/api/badges", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := f.do(req, "")
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("Expected gzip encoding")
	}
	gz, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Failed to open gzip body: %v", err)
	}
	var list models.BadgeList
	if err := json.NewDecoder(gz).Decode(&list); err != nil {
		t.Fatalf("Failed to decode compressed body: %v", err)
	}
}

func TestCompression_SkipsMedia(t *testing.T) {
	f := createTestServer(t)

	key, _, err := f.server.services.Media.(*storage.BlobStore).Put(context.Background(), "badges", pngData)
	if err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}

	// full image
	req := httptest.NewRequest("GET", "/media/"+key, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := f.do(req, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Expected identity encoding for images, got %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), pngData) {
		t.Error("Expected the stored bytes")
	}

	// byte range
	req = httptest.NewRequest("GET", "/media/"+key, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Range", "bytes=0-9")
	w = f.do(req, "")
	if w.Code != http.StatusPartialContent {
		t.Fatalf("Expected status 206, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Expected identity encoding for a range, got %q", got)
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 0-9/20" {
		t.Errorf("Expected Content-Range bytes 0-9/20, got %q", got)
	}
	if !bytes.Equal(w.Body.Bytes(), pngData[:10]) {
		t.Errorf("Expected the first 10 bytes, got %d bytes", w.Body.Len())
	}

	// HEAD
	req = httptest.NewRequest("HEAD", "/media/"+key, nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w = f.do(req, "")
	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Expected no encoding for HEAD, got %q", got)
	}
	if w.Body.Len() != 0 {
		t.Errorf("Expected an empty HEAD body, got %d bytes", w.Body.Len())
	}
}

func TestRateLimit(t *testing.T) {
	f := createTestServer(t)
	f.server.config.AnonymousRPS = 0.001
	f.server.config.RateBurst = 2
	f.server = NewServer(f.server.config, f.server.services, mockVerifier{})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = f.do(httptest.NewRequest("GET", "/api/badges", nil), "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status 429, got %d", last.Code)
	}
	if got := decodeError(t, last).Code; got != types.CodeRateLimitExceeded {
		t.Errorf("Expected code %s, got %s", types.CodeRateLimitExceeded, got)
	}

	// signed-in callers have their own bucket
	w := f.do(httptest.NewRequest("GET", "/api/badges", nil), "user-token")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for a signed-in user, got %d", w.Code)
	}
}

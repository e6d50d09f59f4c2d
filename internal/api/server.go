// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/service"
	"github.com/mybadgelife/internal/types"
)

// Service interfaces for dependency injection and testing

// ProfileServiceInterface defines the profile operations the API exposes
type ProfileServiceInterface interface {
	EnsureProfile(ctx context.Context, identity *auth.Identity) (*models.Profile, error)
	GetByUsername(ctx context.Context, username string) (*models.PublicProfileDetail, error)
	UpdateProfile(ctx context.Context, actor *models.Profile, patch *models.ProfilePatch) (*models.Profile, error)
	RequestMaker(ctx context.Context, actor *models.Profile, note string) (*models.Profile, error)
	ListProfiles(ctx context.Context, actor *models.Profile, filter models.ProfileFilter) (*models.ProfileList, error)
	SetRole(ctx context.Context, actor *models.Profile, id string, role types.Role) (*models.Profile, error)
	ReviewMaker(ctx context.Context, actor *models.Profile, id string, approve bool, note string) (*models.Profile, error)
	SetBanned(ctx context.Context, actor *models.Profile, id string, banned bool) (*models.Profile, error)
}

// BadgeServiceInterface defines the badge catalog operations
type BadgeServiceInterface interface {
	ListBadges(ctx context.Context, viewer *models.Profile, filter models.BadgeFilter) (*models.BadgeList, error)
	GetBadge(ctx context.Context, id string, viewer *models.Profile) (*models.BadgeDetail, error)
	CreateBadge(ctx context.Context, actor *models.Profile, in *models.BadgeInput) (*models.Badge, error)
	UpdateBadge(ctx context.Context, actor *models.Profile, id string, patch *models.BadgePatch) (*models.Badge, error)
	DeleteBadge(ctx context.Context, actor *models.Profile, id string) error
	AddImage(ctx context.Context, actor *models.Profile, badgeID string, data []byte) (*models.BadgeImage, error)
	SetPrimaryImage(ctx context.Context, actor *models.Profile, badgeID, imageID string) error
	DeleteImage(ctx context.Context, actor *models.Profile, badgeID, imageID string) error
	ReviewBadge(ctx context.Context, actor *models.Profile, id string, approve bool) (*models.Badge, error)
	ReindexBadge(ctx context.Context, actor *models.Profile, id string) (int, error)
}

// OwnershipServiceInterface defines own/want operations
type OwnershipServiceInterface interface {
	SetOwnership(ctx context.Context, actor *models.Profile, badgeID string, status types.OwnershipStatus) (*models.Ownership, error)
	ClearOwnership(ctx context.Context, actor *models.Profile, badgeID string) error
	ListCollection(ctx context.Context, userID string, status *types.OwnershipStatus) ([]*models.CollectionItem, error)
}

// UploadServiceInterface defines photo submission and moderation
type UploadServiceInterface interface {
	SubmitUpload(ctx context.Context, actor *models.Profile, data []byte, in *models.UploadInput) (*models.Upload, error)
	ListMyUploads(ctx context.Context, actor *models.Profile) ([]*models.Upload, error)
	ListUploads(ctx context.Context, actor *models.Profile, status types.ReviewStatus, page types.Pagination) ([]*models.Upload, error)
	ApproveUpload(ctx context.Context, actor *models.Profile, id string, in *models.ApproveUploadInput) (*models.UploadApproval, error)
	RejectUpload(ctx context.Context, actor *models.Profile, id, note string) (*models.Upload, error)
}

// TeamServiceInterface defines team operations
type TeamServiceInterface interface {
	ListTeams(ctx context.Context, page types.Pagination) (*service.TeamList, error)
	GetTeam(ctx context.Context, id string) (*models.TeamDetail, error)
	RequestTeam(ctx context.Context, actor *models.Profile, in *models.TeamRequestInput) (*models.TeamRequest, error)
	ListTeamRequests(ctx context.Context, actor *models.Profile, status types.ReviewStatus, page types.Pagination) ([]*models.TeamRequest, error)
	ReviewTeamRequest(ctx context.Context, actor *models.Profile, id string, approve bool, note string) (*service.TeamReview, error)
	LeaveTeam(ctx context.Context, actor *models.Profile, teamID string) error
	RemoveMember(ctx context.Context, actor *models.Profile, teamID, userID string) error
}

// PreferenceServiceInterface defines email preference operations
type PreferenceServiceInterface interface {
	GetPreferences(ctx context.Context, actor *models.Profile) (*models.EmailPreferences, error)
	UpdatePreferences(ctx context.Context, actor *models.Profile, patch *models.EmailPreferencesPatch) (*models.EmailPreferences, error)
}

// MatchServiceInterface identifies badges from photos
type MatchServiceInterface interface {
	Identify(ctx context.Context, actor *models.Profile, src service.ImageSource) (*models.MatchResult, error)
}

// NotificationServiceInterface posts custom Discord messages
type NotificationServiceInterface interface {
	PostCustom(ctx context.Context, actor *models.Profile, title, message string) error
}

// SearchServiceInterface runs web searches
type SearchServiceInterface interface {
	Search(ctx context.Context, actor *models.Profile, query, provider string) (*models.SearchResponse, error)
	ResearchBadge(ctx context.Context, actor *models.Profile, badgeID string) (*models.SearchResponse, error)
}

// DiagnosticsServiceInterface tests provider keys
type DiagnosticsServiceInterface interface {
	Check(ctx context.Context, provider string) (*models.ProviderCheck, error)
	CheckAll(ctx context.Context) *service.DiagnosticsReport
}

// AdminServiceInterface builds the dashboard
type AdminServiceInterface interface {
	Stats(ctx context.Context, actor *models.Profile, days int) (*models.AdminStats, error)
}

// MediaStore serves stored blobs
type MediaStore interface {
	Open(key string) (*os.File, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services bundles everything the handlers call
type Services struct {
	Profiles      ProfileServiceInterface
	Badges        BadgeServiceInterface
	Ownership     OwnershipServiceInterface
	Uploads       UploadServiceInterface
	Teams         TeamServiceInterface
	Preferences   PreferenceServiceInterface
	Matching      MatchServiceInterface
	Notifications NotificationServiceInterface
	Search        SearchServiceInterface
	Diagnostics   DiagnosticsServiceInterface
	Admin         AdminServiceInterface
	Media         MediaStore
	Health        map[string]HealthChecker
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	services   *Services
	verifier   TokenVerifier
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	AnonymousRPS    float64 // Requests per second for anonymous callers
	UserRPS         float64 // Requests per second for signed-in users
	AdminRPS        float64 // Requests per second for admins
	RateBurst       int
	MaxUploadBytes  int64
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services *Services, verifier TokenVerifier) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		verifier: verifier,
		config:   config,
	}

	s.setupRouter()

	return s
}

// Handler returns the root handler with every middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.AnonymousRPS, s.config.UserRPS, s.config.AdminRPS, s.config.RateBurst)

	// Set up middleware (order matters!). Logging, recovery and CORS wrap
	// the whole router so unmatched routes and preflights pass through them.
	s.router.Use(AuthMiddleware(s.verifier, s.services.Profiles))
	s.router.Use(RateLimitMiddleware(rateLimiter)) // keyed by user once auth ran
	s.router.Use(CompressionMiddleware)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, types.CodeNotFound, "route not found", nil)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, types.CodeInvalidInput, "method not allowed", nil)
	})

	s.setupRoutes()

	s.handler = LoggingMiddleware(RecoveryMiddleware(CORSMiddleware(s.config.AllowedOrigins)(s.router)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/media/{key:.+}", s.handleMedia).Methods("GET", "HEAD")

	api := s.router.PathPrefix("/api").Subrouter()

	// Badge catalog
	api.HandleFunc("/badges", s.handleListBadges).Methods("GET")
	api.HandleFunc("/badges", requireUser(s.handleCreateBadge)).Methods("POST")
	api.HandleFunc("/badges/{id}", s.handleGetBadge).Methods("GET")
	api.HandleFunc("/badges/{id}", requireUser(s.handleUpdateBadge)).Methods("PATCH")
	api.HandleFunc("/badges/{id}", requireUser(s.handleDeleteBadge)).Methods("DELETE")
	api.HandleFunc("/badges/{id}/research", requireUser(s.handleResearchBadge)).Methods("GET")
	api.HandleFunc("/badges/{id}/images", requireUser(s.handleAddBadgeImage)).Methods("POST")
	api.HandleFunc("/badges/{id}/images/{imageId}/primary", requireUser(s.handleSetPrimaryImage)).Methods("PUT")
	api.HandleFunc("/badges/{id}/images/{imageId}", requireUser(s.handleDeleteBadgeImage)).Methods("DELETE")
	api.HandleFunc("/badges/{id}/ownership", requireUser(s.handleSetOwnership)).Methods("PUT")
	api.HandleFunc("/badges/{id}/ownership", requireUser(s.handleClearOwnership)).Methods("DELETE")

	// Matching and notifications
	api.HandleFunc("/match", requireUser(s.handleMatch)).Methods("POST")
	api.HandleFunc("/notifications/discord", requireUser(s.handlePostDiscord)).Methods("POST")

	// Current user
	api.HandleFunc("/me", requireUser(s.handleGetMe)).Methods("GET")
	api.HandleFunc("/me", requireUser(s.handleUpdateMe)).Methods("PATCH")
	api.HandleFunc("/me/maker-request", requireUser(s.handleMakerRequest)).Methods("POST")
	api.HandleFunc("/me/collection", requireUser(s.handleMyCollection)).Methods("GET")
	api.HandleFunc("/me/email-preferences", requireUser(s.handleGetPreferences)).Methods("GET")
	api.HandleFunc("/me/email-preferences", requireUser(s.handleUpdatePreferences)).Methods("PUT")
	api.HandleFunc("/me/uploads", requireUser(s.handleMyUploads)).Methods("GET")
	api.HandleFunc("/uploads", requireUser(s.handleSubmitUpload)).Methods("POST")
	api.HandleFunc("/profiles/{username}", s.handleGetPublicProfile).Methods("GET")

	// Teams
	api.HandleFunc("/teams", s.handleListTeams).Methods("GET")
	api.HandleFunc("/teams/requests", requireUser(s.handleRequestTeam)).Methods("POST")
	api.HandleFunc("/teams/{id}", s.handleGetTeam).Methods("GET")
	api.HandleFunc("/teams/{id}/membership", requireUser(s.handleLeaveTeam)).Methods("DELETE")

	// Admin moderation
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminOnly)
	admin.HandleFunc("/stats", s.handleAdminStats).Methods("GET")
	admin.HandleFunc("/users", s.handleListUsers).Methods("GET")
	admin.HandleFunc("/users/{id}/role", s.handleSetRole).Methods("PUT")
	admin.HandleFunc("/users/{id}/ban", s.handleSetBanned).Methods("PUT")
	admin.HandleFunc("/users/{id}/maker", s.handleReviewMaker).Methods("PUT")
	admin.HandleFunc("/uploads", s.handleListUploads).Methods("GET")
	admin.HandleFunc("/uploads/{id}/approve", s.handleApproveUpload).Methods("POST")
	admin.HandleFunc("/uploads/{id}/reject", s.handleRejectUpload).Methods("POST")
	admin.HandleFunc("/badges/{id}/review", s.handleReviewBadge).Methods("PUT")
	admin.HandleFunc("/badges/{id}/reindex", s.handleReindexBadge).Methods("POST")
	admin.HandleFunc("/team-requests", s.handleListTeamRequests).Methods("GET")
	admin.HandleFunc("/team-requests/{id}/review", s.handleReviewTeamRequest).Methods("POST")
	admin.HandleFunc("/teams/{id}/members/{userId}", s.handleRemoveTeamMember).Methods("DELETE")
	admin.HandleFunc("/diagnostics", s.handleDiagnostics).Methods("GET")
	admin.HandleFunc("/diagnostics/{provider}", s.handleDiagnosticsProvider).Methods("GET")
	admin.HandleFunc("/search", s.handleAdminSearch).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.services.Health))
	for name, checker := range s.services.Health {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unreachable"
			status = http.StatusServiceUnavailable
			logging.FromContext(ctx).WithError(err).WithField("dependency", name).Warn("Health check failed")
			continue
		}
		checks[name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":  overall,
		"service": "mybadgelife",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

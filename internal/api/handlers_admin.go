package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// reviewRequest is the body shared by the approve/reject endpoints
type reviewRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// handleAdminStats handles GET /api/admin/stats?days=N
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	stats, err := s.services.Admin.Stats(r.Context(), actorFrom(r.Context()), days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleListUsers handles GET /api/admin/users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := models.ProfileFilter{
		Query:       q.Get("q"),
		Role:        types.Role(q.Get("role")),
		MakerStatus: types.MakerStatus(q.Get("makerStatus")),
		Pagination:  page,
	}
	list, err := s.services.Profiles.ListProfiles(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleSetRole handles PUT /api/admin/users/{id}/role
func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role types.Role `json:"role"`
	}
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	profile, err := s.services.Profiles.SetRole(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Role)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleSetBanned handles PUT /api/admin/users/{id}/ban
func (s *Server) handleSetBanned(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Banned bool `json:"banned"`
	}
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	profile, err := s.services.Profiles.SetBanned(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Banned)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleReviewMaker handles PUT /api/admin/users/{id}/maker
func (s *Server) handleReviewMaker(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	profile, err := s.services.Profiles.ReviewMaker(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Approve, req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleListUploads handles GET /api/admin/uploads?status=pending
func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := types.ReviewStatus(r.URL.Query().Get("status"))
	uploads, err := s.services.Uploads.ListUploads(r.Context(), actorFrom(r.Context()), status, page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if uploads == nil {
		uploads = []*models.Upload{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": uploads})
}

// handleApproveUpload handles POST /api/admin/uploads/{id}/approve
func (s *Server) handleApproveUpload(w http.ResponseWriter, r *http.Request) {
	var in models.ApproveUploadInput
	if err := parseJSONBody(w, r, &in); err != nil {
		respondServiceError(w, r, err)
		return
	}

	approval, err := s.services.Uploads.ApproveUpload(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], &in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, approval)
}

// handleRejectUpload handles POST /api/admin/uploads/{id}/reject
func (s *Server) handleRejectUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := parseJSONBody(w, r, &req); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	upload, err := s.services.Uploads.RejectUpload(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, upload)
}

// handleReviewBadge handles PUT /api/admin/badges/{id}/review
func (s *Server) handleReviewBadge(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	badge, err := s.services.Badges.ReviewBadge(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Approve)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, badge)
}

// handleReindexBadge handles POST /api/admin/badges/{id}/reindex
func (s *Server) handleReindexBadge(w http.ResponseWriter, r *http.Request) {
	queued, err := s.services.Badges.ReindexBadge(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// handleListTeamRequests handles GET /api/admin/team-requests?status=pending
func (s *Server) handleListTeamRequests(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := types.ReviewStatus(r.URL.Query().Get("status"))
	reqs, err := s.services.Teams.ListTeamRequests(r.Context(), actorFrom(r.Context()), status, page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*models.TeamRequest{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": reqs})
}

// handleReviewTeamRequest handles POST /api/admin/team-requests/{id}/review
func (s *Server) handleReviewTeamRequest(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	review, err := s.services.Teams.ReviewTeamRequest(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Approve, req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

// handleRemoveTeamMember handles DELETE /api/admin/teams/{id}/members/{userId}
func (s *Server) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.services.Teams.RemoveMember(r.Context(), actorFrom(r.Context()), vars["id"], vars["userId"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiagnostics handles GET /api/admin/diagnostics
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Diagnostics.CheckAll(r.Context()))
}

// handleDiagnosticsProvider handles GET /api/admin/diagnostics/{provider}
func (s *Server) handleDiagnosticsProvider(w http.ResponseWriter, r *http.Request) {
	check, err := s.services.Diagnostics.Check(r.Context(), mux.Vars(r)["provider"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// handleAdminSearch handles POST /api/admin/search
func (s *Server) handleAdminSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query    string `json:"query"`
		Provider string `json:"provider"`
	}
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp, err := s.services.Search.Search(r.Context(), actorFrom(r.Context()), req.Query, req.Provider)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

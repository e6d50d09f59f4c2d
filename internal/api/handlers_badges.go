package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// handleListBadges handles GET /api/badges
func (s *Server) handleListBadges(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := models.BadgeFilter{
		Query:      q.Get("q"),
		EventName:  q.Get("event"),
		MakerID:    q.Get("makerId"),
		TeamID:     q.Get("teamId"),
		Category:   q.Get("category"),
		Status:     types.ReviewStatus(q.Get("status")),
		Pagination: page,
	}
	if q.Get("year") != "" {
		year, err := intQuery(r, "year")
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		filter.Year = &year
	}

	list, err := s.services.Badges.ListBadges(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetBadge handles GET /api/badges/{id}
func (s *Server) handleGetBadge(w http.ResponseWriter, r *http.Request) {
	detail, err := s.services.Badges.GetBadge(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// handleCreateBadge handles POST /api/badges
func (s *Server) handleCreateBadge(w http.ResponseWriter, r *http.Request) {
	var in models.BadgeInput
	if err := parseJSONBody(w, r, &in); err != nil {
		respondServiceError(w, r, err)
		return
	}

	badge, err := s.services.Badges.CreateBadge(r.Context(), actorFrom(r.Context()), &in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, badge)
}

// handleUpdateBadge handles PATCH /api/badges/{id}
func (s *Server) handleUpdateBadge(w http.ResponseWriter, r *http.Request) {
	var patch models.BadgePatch
	if err := parseJSONBody(w, r, &patch); err != nil {
		respondServiceError(w, r, err)
		return
	}

	badge, err := s.services.Badges.UpdateBadge(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], &patch)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, badge)
}

// handleDeleteBadge handles DELETE /api/badges/{id}
func (s *Server) handleDeleteBadge(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Badges.DeleteBadge(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddBadgeImage handles POST /api/badges/{id}/images
func (s *Server) handleAddBadgeImage(w http.ResponseWriter, r *http.Request) {
	data, _, err := s.readImage(w, r, "image")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	img, err := s.services.Badges.AddImage(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], data)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, img)
}

// handleSetPrimaryImage handles PUT /api/badges/{id}/images/{imageId}/primary
func (s *Server) handleSetPrimaryImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.services.Badges.SetPrimaryImage(r.Context(), actorFrom(r.Context()), vars["id"], vars["imageId"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteBadgeImage handles DELETE /api/badges/{id}/images/{imageId}
func (s *Server) handleDeleteBadgeImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.services.Badges.DeleteImage(r.Context(), actorFrom(r.Context()), vars["id"], vars["imageId"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetOwnership handles PUT /api/badges/{id}/ownership
func (s *Server) handleSetOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status types.OwnershipStatus `json:"status"`
	}
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	own, err := s.services.Ownership.SetOwnership(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"], req.Status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, own)
}

// handleClearOwnership handles DELETE /api/badges/{id}/ownership
func (s *Server) handleClearOwnership(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Ownership.ClearOwnership(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResearchBadge handles GET /api/badges/{id}/research
func (s *Server) handleResearchBadge(w http.ResponseWriter, r *http.Request) {
	resp, err := s.services.Search.ResearchBadge(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

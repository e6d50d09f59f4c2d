package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/models"
)

// handleListTeams handles GET /api/teams
func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	page, err := parsePagination(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	list, err := s.services.Teams.ListTeams(r.Context(), page)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetTeam handles GET /api/teams/{id}
func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.services.Teams.GetTeam(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, team)
}

// handleRequestTeam handles POST /api/teams/requests
func (s *Server) handleRequestTeam(w http.ResponseWriter, r *http.Request) {
	var in models.TeamRequestInput
	if err := parseJSONBody(w, r, &in); err != nil {
		respondServiceError(w, r, err)
		return
	}

	req, err := s.services.Teams.RequestTeam(r.Context(), actorFrom(r.Context()), &in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

// handleLeaveTeam handles DELETE /api/teams/{id}/membership
func (s *Server) handleLeaveTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Teams.LeaveTeam(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

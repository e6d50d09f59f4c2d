package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// handleGetMe handles GET /api/me
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, actorFrom(r.Context()))
}

// handleUpdateMe handles PATCH /api/me
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	if err := parseJSONBody(w, r, &patch); err != nil {
		respondServiceError(w, r, err)
		return
	}

	profile, err := s.services.Profiles.UpdateProfile(r.Context(), actorFrom(r.Context()), &patch)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// handleMakerRequest handles POST /api/me/maker-request
func (s *Server) handleMakerRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := parseJSONBody(w, r, &req); err != nil {
			respondServiceError(w, r, err)
			return
		}
	}

	profile, err := s.services.Profiles.RequestMaker(r.Context(), actorFrom(r.Context()), req.Note)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, profile)
}

// handleMyCollection handles GET /api/me/collection?status=own|want
func (s *Server) handleMyCollection(w http.ResponseWriter, r *http.Request) {
	var status *types.OwnershipStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := types.OwnershipStatus(raw)
		if !st.Valid() {
			respondServiceError(w, r, invalidParam("status", "must be own or want"))
			return
		}
		status = &st
	}

	items, err := s.services.Ownership.ListCollection(r.Context(), actorFrom(r.Context()).ID, status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.CollectionItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// handleGetPreferences handles GET /api/me/email-preferences
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.services.Preferences.GetPreferences(r.Context(), actorFrom(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

// handleUpdatePreferences handles PUT /api/me/email-preferences
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch models.EmailPreferencesPatch
	if err := parseJSONBody(w, r, &patch); err != nil {
		respondServiceError(w, r, err)
		return
	}

	prefs, err := s.services.Preferences.UpdatePreferences(r.Context(), actorFrom(r.Context()), &patch)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

// handleMyUploads handles GET /api/me/uploads
func (s *Server) handleMyUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.services.Uploads.ListMyUploads(r.Context(), actorFrom(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if uploads == nil {
		uploads = []*models.Upload{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": uploads})
}

// handleSubmitUpload handles POST /api/uploads. The photo arrives as the
// multipart "image" field with optional badgeId, suggestedName and notes.
func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	data, fields, err := s.readImage(w, r, "image")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	in := &models.UploadInput{
		BadgeID:       optionalString(fields["badgeId"]),
		SuggestedName: fields["suggestedName"],
		Notes:         fields["notes"],
	}
	upload, err := s.services.Uploads.SubmitUpload(r.Context(), actorFrom(r.Context()), data, in)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, upload)
}

// handleGetPublicProfile handles GET /api/profiles/{username}
func (s *Server) handleGetPublicProfile(w http.ResponseWriter, r *http.Request) {
	detail, err := s.services.Profiles.GetByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

package api

import (
	"mime"
	"net/http"

	"github.com/mybadgelife/internal/service"
)

// handleMatch handles POST /api/match. The photo is either uploaded
// (multipart "image" field or an image/* body) or referenced by URL in a
// JSON body {"imageUrl": "..."}. Degraded results still return 200.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var src service.ImageSource

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req struct {
			ImageURL string `json:"imageUrl"`
		}
		if err := parseJSONBody(w, r, &req); err != nil {
			respondServiceError(w, r, err)
			return
		}
		src.URL = req.ImageURL
	} else {
		data, _, err := s.readImage(w, r, "image")
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		src.Data = data
	}

	result, err := s.services.Matching.Identify(r.Context(), actorFrom(r.Context()), src)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handlePostDiscord handles POST /api/notifications/discord
func (s *Server) handlePostDiscord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := parseJSONBody(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.services.Notifications.PostCustom(r.Context(), actorFrom(r.Context()), req.Title, req.Message); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

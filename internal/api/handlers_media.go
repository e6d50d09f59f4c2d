package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"github.com/mybadgelife/internal/storage"
	"github.com/mybadgelife/internal/types"
)

// handleMedia handles GET /media/{key}, streaming a stored image
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	f, err := s.services.Media.Open(key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidBlobKey), errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, types.CodeNotFound, "media not found", nil)
		default:
			respondServiceError(w, r, err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// keys are random per upload, so content never changes
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

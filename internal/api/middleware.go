package api

import (
	"compress/gzip"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/auth"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware assigns a request id, attaches a request logger to the
// context and logs each request when it completes.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := logging.FromContext(r.Context()).WithFields(map[string]interface{}{
			"requestId": requestID,
			"method":    r.Method,
			"path":      r.URL.Path,
		})
		r = r.WithContext(logging.WithLogger(r.Context(), logger))

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		entry := logger.WithFields(map[string]interface{}{
			"status":     wrapped.statusCode,
			"durationMs": time.Since(start).Milliseconds(),
			"remoteAddr": r.RemoteAddr,
		})
		if wrapped.statusCode >= http.StatusInternalServerError {
			entry.Warn("Request completed")
			return
		}
		entry.Info("Request completed")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context()).WithField("panic", rec).Error("Recovered from panic")
				respondError(w, http.StatusInternalServerError, types.CodeInternalError, internalErrorMessage, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers for the configured origins. A single "*"
// allows any origin.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAny = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAny:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenVerifier validates bearer tokens
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// ProfileResolver loads the caller's profile for a verified identity
type ProfileResolver interface {
	EnsureProfile(ctx context.Context, identity *auth.Identity) (*models.Profile, error)
}

type actorKey struct{}

// actorFrom returns the authenticated profile, or nil for anonymous requests
func actorFrom(ctx context.Context) *models.Profile {
	p, _ := ctx.Value(actorKey{}).(*models.Profile)
	return p
}

func withActor(ctx context.Context, p *models.Profile) context.Context {
	return context.WithValue(ctx, actorKey{}, p)
}

// AuthMiddleware resolves an optional bearer token into a profile. Requests
// without a token continue anonymously; a bad token is rejected outright.
func AuthMiddleware(verifier TokenVerifier, profiles ProfileResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Debug("Rejected bearer token")
				respondError(w, http.StatusUnauthorized, types.CodeUnauthorized, "Invalid or expired token", nil)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			profile, err := profiles.EnsureProfile(ctx, identity)
			if err != nil {
				respondServiceError(w, r, err)
				return
			}

			ctx = withActor(ctx, profile)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithField("userId", profile.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireUser rejects anonymous callers. Banned profiles may only read
// their own profile.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())
		if actor == nil {
			respondError(w, http.StatusUnauthorized, types.CodeUnauthorized, "authentication required", nil)
			return
		}
		if actor.IsBanned && !(r.Method == http.MethodGet && r.URL.Path == "/api/me") {
			respondError(w, http.StatusForbidden, types.CodeUserBanned, "account is banned", nil)
			return
		}
		next(w, r)
	}
}

// AdminOnly guards a subrouter so only admins reach it
func AdminOnly(next http.Handler) http.Handler {
	return requireUser(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).IsAdmin() {
			respondError(w, http.StatusForbidden, types.CodeForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CompressionMiddleware adds gzip compression to responses.
func CompressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Range offsets count identity bytes and HEAD has no body to encode
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			r.Method == http.MethodHead || r.Header.Get("Range") != "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Add("Vary", "Accept-Encoding")
		gzw := &gzipResponseWriter{ResponseWriter: w}
		defer gzw.Close()
		next.ServeHTTP(gzw, r)
	})
}

// gzipResponseWriter compresses the body once the first byte is written,
// so bodiless responses stay uncompressed. Images and partial content pass
// through unchanged.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if compressible(code, w.Header().Get("Content-Type")) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		w.gz = gzip.NewWriter(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(code)
}

func compressible(code int, contentType string) bool {
	switch code {
	case http.StatusNoContent, http.StatusNotModified, http.StatusPartialContent:
		return false
	}
	return !strings.HasPrefix(contentType, "image/")
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.gz == nil {
		return w.ResponseWriter.Write(b)
	}
	return w.gz.Write(b)
}

func (w *gzipResponseWriter) Close() {
	if w.gz != nil {
		_ = w.gz.Close()
	}
}

// internal/server/mux.go
// Package server implements the HTTP surface of the profile store: health,
// readiness and metrics endpoints, plus a small authenticated JSON API over
// profiles and favorites for clients that cannot embed the store directly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	errordefs "github.com/RegistryAccord/registryaccord-profile-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/identity"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/profile"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	ContextKeySubject       ContextKey = "subject"       // Identity from the session token
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Options configures the mux.
type Options struct {
	Docs     storage.Store     // Document store, probed by /readyz
	Store    *profile.Store    // Remote profile store serving the API
	Verifier identity.Verifier // Session token verifier
	Issuer   string            // Expected token issuer
	Audience string            // Expected token audience
}

// Mux handles HTTP requests for the profile store.
type Mux struct {
	mux  *http.ServeMux
	opts Options
}

// NewMux creates a new HTTP mux with all endpoints registered.
// Parameters:
//   - opts: storage, profile store and token verification settings
//
// Returns:
//   - *http.ServeMux: the configured router
func NewMux(opts Options) *http.ServeMux {
	m := &Mux{mux: http.NewServeMux(), opts: opts}

	// Register health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Profile and favorite endpoints, all authenticated
	m.mux.HandleFunc("GET /v1/profile", m.withMiddleware(m.handleGetProfile))
	m.mux.HandleFunc("PUT /v1/profile", m.withMiddleware(m.handlePutProfile))
	m.mux.HandleFunc("GET /v1/favorites", m.withMiddleware(m.handleListFavorites))
	m.mux.HandleFunc("POST /v1/favorites", m.withMiddleware(m.handleAddFavorite))
	m.mux.HandleFunc("POST /v1/favorites/toggle", m.withMiddleware(m.handleToggleFavorite))

	return m.mux
}

// withMiddleware assigns a correlation ID, authenticates the caller and logs the request.
func (m *Mux) withMiddleware(h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		subject, err := m.authenticate(r)
		if err != nil {
			m.writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error(), nil)
			m.logRequest(r, http.StatusUnauthorized, time.Since(start), err)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, subject))

		err = h(w, r)
		status := http.StatusOK
		if err != nil {
			var e *errordefs.Error
			if !errors.As(err, &e) {
				e = errordefs.Wrap(errordefs.INTERNAL, "internal error", err)
			}
			status = httpStatus(e.Code)
			m.writeError(w, r, status, string(e.Code), e.Message, e.Details)
		}
		m.logRequest(r, status, time.Since(start), err)
	}
}

// authenticate validates the bearer token and returns its subject.
func (m *Mux) authenticate(r *http.Request) (string, error) {
	if m.opts.Verifier == nil {
		return "", errors.New("authentication is not configured")
	}

	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("missing bearer token")
	}

	provider := identity.NewSessionProvider(token, m.opts.Issuer, m.opts.Audience, m.opts.Verifier)
	return provider.CurrentIdentity(r.Context())
}

// httpStatus maps an error code to an HTTP status.
func httpStatus(code errordefs.ErrorCode) int {
	switch code {
	case errordefs.NOT_FOUND:
		return http.StatusNotFound
	case errordefs.VALIDATION, errordefs.OVERSIZE_REJECTED:
		return http.StatusBadRequest
	case errordefs.UPLOAD_FAILED, errordefs.PROFILE_WRITE_FAILED:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeError writes an error response carrying the pipeline error code
func (m *Mux) writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]interface{}{
		"code":          code,
		"message":       message,
		"correlationId": r.Context().Value(ContextKeyCorrelationID),
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
	}
	if correlationID, ok := r.Context().Value(ContextKeyCorrelationID).(string); ok {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if subject, ok := r.Context().Value(ContextKeySubject).(string); ok && subject != "" {
		attrs = append(attrs, slog.String("subject", subject))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the document store answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// ErrNotFound means the store is reachable
	_, err := m.opts.Docs.GetProfile(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func subjectOf(r *http.Request) string {
	subject, _ := r.Context().Value(ContextKeySubject).(string)
	return subject
}

// handleGetProfile returns the caller's profile.
func (m *Mux) handleGetProfile(w http.ResponseWriter, r *http.Request) error {
	p, err := m.opts.Store.ReadProfile(r.Context(), subjectOf(r))
	if err != nil {
		return err
	}
	m.writeSuccess(w, p)
	return nil
}

type putProfileRequest struct {
	DisplayName string  `json:"displayName"`
	AvatarRef   *string `json:"avatarRef"`
}

// handlePutProfile overwrites the caller's profile.
func (m *Mux) handlePutProfile(w http.ResponseWriter, r *http.Request) error {
	var req putProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errordefs.Wrap(errordefs.VALIDATION, "invalid JSON body", err)
	}
	if err := m.opts.Store.UpdateProfile(r.Context(), subjectOf(r), req.DisplayName, req.AvatarRef); err != nil {
		return err
	}
	p, err := m.opts.Store.ReadProfile(r.Context(), subjectOf(r))
	if err != nil {
		return err
	}
	m.writeSuccess(w, p)
	return nil
}

// handleListFavorites lists liked images; ?onlyFavorite=true filters to favorites.
func (m *Mux) handleListFavorites(w http.ResponseWriter, r *http.Request) error {
	only := false
	if v := r.URL.Query().Get("onlyFavorite"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return errordefs.Wrap(errordefs.VALIDATION, "onlyFavorite must be a boolean", err)
		}
		only = parsed
	}

	favs, err := m.opts.Store.ListFavorites(r.Context(), only)
	if err != nil {
		return err
	}
	m.writeSuccess(w, favs)
	return nil
}

type favoriteRequest struct {
	ImageRef string `json:"imageRef"`
	Value    *bool  `json:"value,omitempty"`
}

// handleAddFavorite records a liked image.
func (m *Mux) handleAddFavorite(w http.ResponseWriter, r *http.Request) error {
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errordefs.Wrap(errordefs.VALIDATION, "invalid JSON body", err)
	}
	fav, err := m.opts.Store.AddFavorite(r.Context(), req.ImageRef)
	if err != nil {
		return err
	}
	m.writeSuccess(w, fav)
	return nil
}

// handleToggleFavorite sets the favorite flag of a liked image.
func (m *Mux) handleToggleFavorite(w http.ResponseWriter, r *http.Request) error {
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return errordefs.Wrap(errordefs.VALIDATION, "invalid JSON body", err)
	}
	if req.Value == nil {
		return errordefs.New(errordefs.VALIDATION, "value is required")
	}
	if err := m.opts.Store.ToggleFavoriteField(r.Context(), req.ImageRef, *req.Value); err != nil {
		return err
	}
	m.writeSuccess(w, map[string]interface{}{"imageRef": req.ImageRef, "isFavorite": *req.Value})
	return nil
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/chatauth"
	"github.com/MrEthical07/chatauth/middleware"
)

const (
	refreshCookieName = "refresh_token"
	maxBodyBytes      = 16 << 10
)

// Engine is the subset of [chatauth.Engine] served over HTTP.
type Engine interface {
	middleware.Validator
	middleware.Throttler
	Login(ctx context.Context, identifier, password string) (*chatauth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*chatauth.TokenPair, error)
	Logout(ctx context.Context, userID, sessionID string) error
	Sessions(ctx context.Context, userID, currentSessionID string) ([]chatauth.SessionInfo, error)
	TerminateSession(ctx context.Context, userID, sessionID string) error
	TerminateOtherSessions(ctx context.Context, userID, currentSessionID string) (int, error)
	Ping(ctx context.Context) (time.Duration, error)
}

// Options tunes a [Server].
type Options struct {
	// Metrics is mounted at GET /metrics when set.
	Metrics           http.Handler
	TrustForwardedFor bool
	// SecureCookies forces the Secure flag on the refresh cookie even when
	// TLS terminates upstream.
	SecureCookies bool
	Logger        *slog.Logger
}

// Server exposes the auth endpoints.
type Server struct {
	engine Engine
	guard  *middleware.Guard
	opts   Options
	logger *slog.Logger
}

// New creates a Server backed by engine.
func New(engine Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: engine,
		guard: middleware.NewGuard(engine, engine, middleware.Options{
			TrustForwardedFor: opts.TrustForwardedFor,
			Logger:            logger,
		}),
		opts:   opts,
		logger: logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	throttled := middleware.Route{Auth: middleware.JWTAuth{}, RateLimit: chatauth.ActionAPI}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", s.guard.Wrap(middleware.Public, http.HandlerFunc(s.login)))
	mux.Handle("POST /auth/refresh", s.guard.Wrap(middleware.Public, http.HandlerFunc(s.refresh)))
	mux.Handle("POST /auth/logout", s.guard.Wrap(middleware.Authenticated, http.HandlerFunc(s.logout)))
	mux.Handle("GET /auth/sessions", s.guard.Wrap(middleware.Authenticated, http.HandlerFunc(s.sessions)))
	mux.Handle("DELETE /auth/sessions/{id}", s.guard.Wrap(throttled, http.HandlerFunc(s.terminateSession)))
	mux.Handle("POST /auth/sessions/terminate-others", s.guard.Wrap(throttled, http.HandlerFunc(s.terminateOthers)))
	mux.HandleFunc("GET /healthz", s.health)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return mux
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.setRefreshCookie(w, r, pair)
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		token = cookie.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_refresh_token")
		return
	}

	pair, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		if !errors.Is(err, chatauth.ErrRateLimited) && !errors.Is(err, chatauth.ErrStoreUnavailable) {
			s.clearRefreshCookie(w, r)
		}
		s.writeEngineError(w, r, err)
		return
	}

	s.setRefreshCookie(w, r, pair)
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), id.UserID, id.SessionID); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.clearRefreshCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	list, err := s.engine.Sessions(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	err := s.engine.TerminateSession(r.Context(), id.UserID, sessionID)
	if errors.Is(err, chatauth.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) terminateOthers(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	n, err := s.engine.TerminateOtherSessions(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"terminated": n})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	latency, err := s.engine.Ping(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"storeLatencyMs": latency.Milliseconds(),
	})
}

/*
====================================
ERRORS
====================================
*/

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeEngineError maps the engine error taxonomy onto status codes. Token
// failures all collapse to 401 so callers learn nothing about why a token
// was refused.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *chatauth.RateLimitExceededError
	switch {
	case errors.As(err, &limited):
		secs := limited.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", RetryAfter: secs})
	case errors.Is(err, chatauth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, chatauth.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account_locked")
	case errors.Is(err, chatauth.ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account_disabled")
	case errors.Is(err, chatauth.ErrInvalidToken),
		errors.Is(err, chatauth.ErrExpiredToken),
		errors.Is(err, chatauth.ErrUnauthorized),
		errors.Is(err, chatauth.ErrRefreshReuse),
		errors.Is(err, chatauth.ErrSessionNotFound):
		w.Header().Set("WWW-Authenticate", `Bearer realm="chatauth"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, chatauth.ErrStoreUnavailable),
		errors.Is(err, chatauth.ErrEngineNotReady):
		s.logger.Error("request failed closed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

/*
====================================
COOKIES
====================================
*/

func (s *Server) setRefreshCookie(w http.ResponseWriter, r *http.Request, pair *chatauth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

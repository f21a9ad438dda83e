package middleware

//go:generate mockgen -source=guard.go -destination=mock_deps_test.go -package=middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/chatauth"
)

// Validator verifies an access token and checks its session for revocation.
// [chatauth.Engine] implements it.
type Validator interface {
	Validate(ctx context.Context, token string) (*chatauth.Identity, error)
}

// Throttler charges one attempt of an action to an identity.
// [chatauth.Engine] implements it.
type Throttler interface {
	Allow(ctx context.Context, action chatauth.Action, identity string) error
}

// AuthPolicy is the authentication requirement of a route. The set of
// policies is closed: [NoAuth] and [JWTAuth].
type AuthPolicy interface {
	authPolicy()
}

// NoAuth marks a public route.
type NoAuth struct{}

// JWTAuth requires a valid, unrevoked access token. When AnyRole is not
// empty the identity must carry at least one of the listed roles.
type JWTAuth struct {
	AnyRole []string
}

func (NoAuth) authPolicy()  {}
func (JWTAuth) authPolicy() {}

// Route is the guard configuration attached to one route. A zero
// RateLimit disables throttling for the route.
type Route struct {
	Auth      AuthPolicy
	RateLimit chatauth.Action
}

// Public is a Route with no authentication and no throttling.
var Public = Route{Auth: NoAuth{}}

// Authenticated is a Route requiring any valid access token.
var Authenticated = Route{Auth: JWTAuth{}}

// Options tunes a [Guard].
type Options struct {
	// TrustForwardedFor takes the client address from the first
	// X-Forwarded-For entry. Enable only behind a trusted proxy.
	TrustForwardedFor bool
	Logger            *slog.Logger
}

// Guard enforces Route policies in front of HTTP handlers.
type Guard struct {
	validator Validator
	throttler Throttler
	opts      Options
}

// NewGuard creates a Guard. throttler may be nil when no route is rate
// limited.
func NewGuard(validator Validator, throttler Throttler, opts Options) *Guard {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{validator: validator, throttler: throttler, opts: opts}
}

// Wrap returns next guarded by route. The client address and user agent are
// always attached to the request context; the identity is attached after a
// successful JWT check.
func (g *Guard) Wrap(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := chatauth.WithClientIP(r.Context(), g.clientIP(r))
		ctx = chatauth.WithUserAgent(ctx, r.UserAgent())

		switch policy := route.Auth.(type) {
		case NoAuth:
		case JWTAuth:
			id, status := g.authenticate(ctx, r)
			if status != http.StatusOK {
				writeAuthError(w, status)
				return
			}
			if !hasAnyRole(id, policy.AnyRole) {
				writeAuthError(w, http.StatusForbidden)
				return
			}
			ctx = chatauth.WithIdentity(ctx, id)
		default:
			g.opts.Logger.Error("route has no auth policy", "path", r.URL.Path)
			writeAuthError(w, http.StatusUnauthorized)
			return
		}

		if route.RateLimit != "" && !g.throttle(ctx, w, route.RateLimit) {
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Middleware adapts Wrap to the func(http.Handler) http.Handler shape.
func (g *Guard) Middleware(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.Wrap(route, next)
	}
}

func (g *Guard) authenticate(ctx context.Context, r *http.Request) (*chatauth.Identity, int) {
	if g.validator == nil {
		return nil, http.StatusUnauthorized
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, http.StatusUnauthorized
	}

	id, err := g.validator.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, chatauth.ErrStoreUnavailable) {
			g.opts.Logger.Error("revocation check unavailable, rejecting request",
				"path", r.URL.Path, "error", err)
		}
		return nil, http.StatusUnauthorized
	}
	return id, http.StatusOK
}

// throttle reports whether the request may proceed. Store failures are
// absorbed by the Throttler; any other error lets the request through.
func (g *Guard) throttle(ctx context.Context, w http.ResponseWriter, action chatauth.Action) bool {
	if g.throttler == nil {
		return true
	}
	err := g.throttler.Allow(ctx, action, chatauth.RateLimitIdentity(ctx))
	if err == nil {
		return true
	}

	var limited *chatauth.RateLimitExceededError
	if errors.As(err, &limited) {
		writeRateLimited(w, limited.RetryAfterSeconds())
		return false
	}
	g.opts.Logger.Warn("rate limit check failed, allowing request",
		"action", string(action), "error", err)
	return true
}

func (g *Guard) clientIP(r *http.Request) string {
	if g.opts.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdentityFromContext returns the identity attached by a JWTAuth route.
func IdentityFromContext(ctx context.Context) (*chatauth.Identity, bool) {
	return chatauth.IdentityFromContext(ctx)
}

func hasAnyRole(id *chatauth.Identity, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeAuthError(w http.ResponseWriter, status int) {
	code := "unauthorized"
	if status == http.StatusForbidden {
		code = "forbidden"
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer realm="chatauth"`)
	}
	writeJSON(w, status, errorBody{Error: code})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited", RetryAfter: retryAfter})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package chatauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/chatauth/internal/audit"
	"github.com/MrEthical07/chatauth/internal/flows"
	"github.com/MrEthical07/chatauth/internal/limiters"
	"github.com/MrEthical07/chatauth/internal/rate"
	"github.com/MrEthical07/chatauth/jwt"
	"github.com/MrEthical07/chatauth/kv"
	"github.com/MrEthical07/chatauth/password"
	"github.com/MrEthical07/chatauth/session"
)

// Engine is the authentication and session-security core. Build it with
// [New]; the zero value is not usable. All methods are safe for concurrent
// use; shared state lives in Redis.
type Engine struct {
	config   Config
	logger   *slog.Logger
	clock    func() time.Time
	store    *kv.Store
	cache    *session.RevokedCache
	registry *session.Registry
	lockout  *limiters.LockoutLimiter
	limiter  *rate.Limiter
	codec    *jwt.Codec
	hasher   password.Hasher
	accounts AccountRepository
	mirror   LockoutMirror
	upgrader HashUpgrader
	audit    *audit.Dispatcher
	metrics  *Metrics
	flow     flows.Service
}

// Close stops the audit dispatcher, draining queued events, and releases
// the revoked-session cache. The Redis client is owned by the caller.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	e.cache.Close()
}

// AuditDropped returns how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// HashPassword hashes password with the configured Argon2id parameters. Use
// it to produce hashes the account repository stores.
func (e *Engine) HashPassword(plain string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	return e.hasher.Hash(plain)
}

// Login checks the per-address and per-account rate limits and the account
// lock, verifies the credentials and, on success, opens a session and
// returns its token pair. Unknown accounts and wrong passwords both return
// [ErrInvalidCredentials]. The attempt that reaches the failure threshold
// returns [ErrAccountLocked], as does every attempt while the lock holds.
//
// The caller address and user agent are read from ctx (see [WithClientIP]
// and [WithUserAgent]).
func (e *Engine) Login(ctx context.Context, identifier, password string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flow.Login(ctx, identifier, password)
	switch res.Failure {
	case flows.LoginFailureNone:
		return tokenPair(res.Tokens), nil
	case flows.LoginFailureRateLimited:
		return nil, rateLimitError(ActionLogin, res.RetryAfter)
	case flows.LoginFailureLocked:
		return nil, ErrAccountLocked
	case flows.LoginFailureInvalidCredentials:
		return nil, ErrInvalidCredentials
	case flows.LoginFailureDisabled:
		return nil, ErrAccountDisabled
	case flows.LoginFailureUnavailable:
		e.logger.Error("login failed closed", "error", res.Err)
		return nil, wrapUnavailable(res.Err)
	default:
		return nil, ErrEngineNotReady
	}
}

// Refresh exchanges a refresh token for a new pair and rotates the session's
// refresh id. Presenting an already rotated refresh token revokes the whole
// session and returns [ErrRefreshReuse].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flow.Refresh(ctx, refreshToken)
	switch res.Failure {
	case flows.RefreshFailureNone:
		return tokenPair(res.Tokens), nil
	case flows.RefreshFailureInvalid:
		return nil, ErrInvalidToken
	case flows.RefreshFailureExpired:
		return nil, ErrExpiredToken
	case flows.RefreshFailureRateLimited:
		return nil, rateLimitError(ActionRefresh, res.RetryAfter)
	case flows.RefreshFailureRevoked, flows.RefreshFailureAccountRejected:
		return nil, ErrUnauthorized
	case flows.RefreshFailureReuse:
		e.logger.Warn("refresh token reuse detected, session revoked",
			"user_id", res.UserID, "session_id", res.SessionID)
		return nil, ErrRefreshReuse
	case flows.RefreshFailureSessionNotFound:
		return nil, ErrSessionNotFound
	case flows.RefreshFailureUnavailable:
		e.logger.Error("refresh failed closed", "user_id", res.UserID, "error", res.Err)
		return nil, wrapUnavailable(res.Err)
	default:
		return nil, ErrEngineNotReady
	}
}

// Validate verifies an access token and rejects it when its session has been
// revoked. A store error during the revocation check is returned as
// [ErrStoreUnavailable] and must be treated as a rejection.
func (e *Engine) Validate(ctx context.Context, token string) (*Identity, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	res := e.flow.Validate(ctx, token)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	switch res.Failure {
	case flows.ValidateFailureNone:
		e.metricInc(MetricValidateSuccess)
		p := res.Payload
		return &Identity{
			UserID:      p.Subject,
			SessionID:   p.SessionID,
			Roles:       p.Roles,
			Permissions: p.Permissions,
			ExpiresAt:   p.ExpiresAt,
		}, nil
	case flows.ValidateFailureInvalid:
		e.metricInc(MetricValidateFailure)
		return nil, ErrInvalidToken
	case flows.ValidateFailureExpired:
		e.metricInc(MetricValidateFailure)
		return nil, ErrExpiredToken
	case flows.ValidateFailureRevoked:
		e.metricInc(MetricValidateFailure)
		e.metricInc(MetricRevokedTokenRejected)
		return nil, ErrUnauthorized
	case flows.ValidateFailureUnavailable:
		e.metricInc(MetricValidateFailure)
		e.metricInc(MetricStoreUnavailable)
		e.logger.Error("revocation check failed, rejecting token", "error", res.Err)
		return nil, wrapUnavailable(res.Err)
	default:
		return nil, ErrEngineNotReady
	}
}

// Allow charges one attempt of action to identity. It returns a
// *[RateLimitExceededError] when the budget is exhausted and nil otherwise.
// A store failure allows the attempt; it is logged and counted.
func (e *Engine) Allow(ctx context.Context, action Action, identity string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	check := e.rateCheck(action)
	if check == nil {
		return nil
	}

	err := check(ctx, identity)
	if err == nil {
		return nil
	}
	if errors.Is(err, rate.ErrRateLimited) {
		e.emitAudit(ctx, AuditEvent{
			EventType: EventRateLimited,
			Action:    string(action),
			Identity:  identity,
		}, ErrRateLimited)
		return rateLimitError(action, rate.RetryAfter(err))
	}

	e.metricInc(MetricRateLimitFailOpen)
	e.logger.Warn("rate limit check failed, allowing request",
		"action", string(action), "identity", identity, "error", err)
	return nil
}

// Logout revokes the caller's own session. Logging out of an already
// revoked session is not an error.
func (e *Engine) Logout(ctx context.Context, userID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	existed, err := e.flow.Logout(ctx, userID, sessionID)
	if err != nil {
		return wrapUnavailable(err)
	}
	e.metricInc(MetricLogout)
	if existed {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, AuditEvent{EventType: EventUserLoggedOut, Success: true, UserID: userID, SessionID: sessionID}, nil)
	return nil
}

// TerminateSession revokes one of the user's sessions, typically from an
// "active devices" view. It returns [ErrSessionNotFound] when the session is
// not live.
func (e *Engine) TerminateSession(ctx context.Context, userID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	existed, err := e.flow.Logout(ctx, userID, sessionID)
	if err != nil {
		return wrapUnavailable(err)
	}
	if !existed {
		return ErrSessionNotFound
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, AuditEvent{EventType: EventSessionTerminated, Success: true, UserID: userID, SessionID: sessionID}, nil)
	return nil
}

// TerminateOtherSessions revokes every session of the user except
// currentSessionID and returns how many were terminated.
func (e *Engine) TerminateOtherSessions(ctx context.Context, userID, currentSessionID string) (int, error) {
	return e.terminateAll(ctx, userID, currentSessionID)
}

// LogoutAll revokes every session of the user and returns how many were
// terminated.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	return e.terminateAll(ctx, userID, "")
}

func (e *Engine) terminateAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flow.LogoutAll(ctx, userID, exceptSessionID)
	if err != nil {
		return n, wrapUnavailable(err)
	}
	e.metricInc(MetricLogoutAll)
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType:  EventAllSessionsTerminated,
		Success:    true,
		UserID:     userID,
		SessionID:  exceptSessionID,
		Terminated: n,
	}, nil)
	return n, nil
}

// Sessions lists the user's live sessions, oldest first. The entry matching
// currentSessionID is flagged as current.
func (e *Engine) Sessions(ctx context.Context, userID, currentSessionID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	records, err := e.registry.Sessions(ctx, userID)
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	out := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		out = append(out, SessionInfo{
			SessionID: rec.SessionID,
			CreatedAt: rec.CreatedAt,
			IP:        rec.IP,
			UserAgent: rec.UserAgent,
			Current:   rec.SessionID == currentSessionID,
		})
	}
	return out, nil
}

// IsLocked reports whether logins for identifier are currently locked and
// until when.
func (e *Engine) IsLocked(ctx context.Context, identifier string) (bool, time.Time, error) {
	if !e.ready() {
		return false, time.Time{}, ErrEngineNotReady
	}
	locked, until, err := e.lockout.LockedUntil(ctx, flows.NormalizeIdentifier(identifier))
	if err != nil {
		return false, time.Time{}, wrapUnavailable(err)
	}
	return locked, until, nil
}

// UnlockAccount clears the failure counter and lock of identifier.
func (e *Engine) UnlockAccount(ctx context.Context, identifier string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	account := flows.NormalizeIdentifier(identifier)
	if err := e.lockout.RecordSuccess(ctx, account); err != nil {
		return wrapUnavailable(err)
	}
	if e.mirror == nil {
		return nil
	}
	acct, err := e.accounts.FindByIdentifier(ctx, account)
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		e.logger.Warn("lockout mirror: account lookup failed", "error", err)
		return nil
	}
	if err := e.mirror.Unlock(ctx, acct.ID); err != nil {
		e.logger.Warn("lockout mirror: unlock failed", "account_id", acct.ID, "error", err)
	}
	return nil
}

// ResetRateLimit clears the counter and block of action for identity.
func (e *Engine) ResetRateLimit(ctx context.Context, action Action, identity string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, ok := e.config.RateLimits.Rule(action); !ok {
		return fmt.Errorf("unknown rate limit action %q", action)
	}
	if err := e.limiter.Reset(ctx, rate.Key(string(action), identity)); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Ping checks the shared store and returns its round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	d, err := e.store.Ping(ctx)
	if err != nil {
		return d, wrapUnavailable(err)
	}
	return d, nil
}

// Warmup preloads the store's Lua scripts. Calling it is optional; without
// it the first scripted call per process pays one extra round-trip.
func (e *Engine) Warmup(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.store.LoadScripts(ctx); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func tokenPair(t flows.IssuedTokens) *TokenPair {
	return &TokenPair{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		SessionID:        t.SessionID,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func wrapUnavailable(err error) error {
	switch {
	case err == nil:
		return ErrStoreUnavailable
	case errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

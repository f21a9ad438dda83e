package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/chatauth/internal/audit"
	"github.com/MrEthical07/chatauth/internal/rate"
	"github.com/MrEthical07/chatauth/jwt"
	"github.com/MrEthical07/chatauth/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNotReady
	RefreshFailureInvalid
	RefreshFailureExpired
	RefreshFailureRateLimited
	RefreshFailureUnavailable
	RefreshFailureRevoked
	RefreshFailureReuse
	RefreshFailureSessionNotFound
	RefreshFailureAccountRejected
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	RetryAfter time.Duration
	UserID     string
	SessionID  string
	Tokens     IssuedTokens
}

// RefreshSessionStore is the slice of the session registry refresh needs.
type RefreshSessionStore interface {
	IsRevoked(ctx context.Context, userID, sessionID string) (bool, error)
	Revoke(ctx context.Context, userID, sessionID string) (bool, error)
	Rotate(ctx context.Context, userID, sessionID, presented, next string) error
}

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	RefreshSuccess       int
	RefreshFailure       int
	RefreshReuseDetected int
	RefreshRateLimited   int
	RevokedTokenRejected int
	RateLimitFailOpen    int
	StoreUnavailable     int
	SessionInvalidated   int
}

// RefreshEvents carries audit event names used by the refresh flow.
type RefreshEvents struct {
	ReuseDetected     string
	SessionTerminated string
	RateLimited       string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh func(token string) (*jwt.Payload, error)
	CheckRate     func(ctx context.Context, identity string) error
	// FindAccount is optional. When set, roles are re-read on every refresh
	// and a vanished or disabled account loses the session.
	FindAccount  func(ctx context.Context, id string) (*LoginAccount, error)
	NewID        func() string
	IssueTokens  TokenIssuer
	SessionStore RefreshSessionStore

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event audit.Event, err error)
	Warn      func(string, ...any)

	Metrics RefreshMetrics
	Events  RefreshEvents
}

// RunRefresh verifies a refresh token, rotates the session's rotation id and
// issues a new pair. A stale rotation id revokes the whole session.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, audit.Event, error) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.VerifyRefresh == nil || deps.NewID == nil || deps.IssueTokens == nil || deps.SessionStore == nil {
		return RefreshResult{Failure: RefreshFailureNotReady}
	}

	payload, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		if errors.Is(err, jwt.ErrExpiredToken) {
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
	}
	if payload.ID == "" {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureInvalid}
	}
	userID, sessionID := payload.Subject, payload.SessionID

	if deps.CheckRate != nil {
		identity := "acct:" + userID
		if err := deps.CheckRate(ctx, identity); err != nil {
			var limitErr *rate.LimitError
			if errors.As(err, &limitErr) {
				deps.MetricInc(deps.Metrics.RefreshRateLimited)
				deps.EmitAudit(ctx, audit.Event{
					EventType: deps.Events.RateLimited,
					UserID:    userID,
					SessionID: sessionID,
					Action:    "refresh",
					Identity:  identity,
				}, err)
				return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, RetryAfter: limitErr.RetryAfter, UserID: userID, SessionID: sessionID}
			}
			deps.MetricInc(deps.Metrics.RateLimitFailOpen)
			deps.Warn("refresh rate limit check failed, allowing attempt", "user_id", userID, "error", err)
		}
	}

	revoked, err := deps.SessionStore.IsRevoked(ctx, userID, sessionID)
	if err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, UserID: userID, SessionID: sessionID}
	}
	if revoked {
		deps.MetricInc(deps.Metrics.RevokedTokenRejected)
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureRevoked, UserID: userID, SessionID: sessionID}
	}

	account := LoginAccount{ID: userID, Roles: payload.Roles, Permissions: payload.Permissions}
	if deps.FindAccount != nil {
		found, err := deps.FindAccount(ctx, userID)
		if err != nil {
			deps.MetricInc(deps.Metrics.RefreshFailure)
			return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, UserID: userID, SessionID: sessionID}
		}
		if found == nil || found.Disabled {
			if _, err := deps.SessionStore.Revoke(ctx, userID, sessionID); err != nil {
				deps.Warn("session revoke after account rejection failed", "user_id", userID, "error", err)
			} else {
				deps.MetricInc(deps.Metrics.SessionInvalidated)
			}
			deps.MetricInc(deps.Metrics.RefreshFailure)
			return RefreshResult{Failure: RefreshFailureAccountRejected, UserID: userID, SessionID: sessionID}
		}
		account = *found
	}

	nextID := deps.NewID()
	tokens, err := deps.IssueTokens(account, sessionID, nextID, payload.ExpiresAt)
	if err != nil {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, UserID: userID, SessionID: sessionID}
	}

	err = deps.SessionStore.Rotate(ctx, userID, sessionID, payload.ID, nextID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrReuse):
		deps.MetricInc(deps.Metrics.RefreshReuseDetected)
		deps.MetricInc(deps.Metrics.RefreshFailure)
		if _, revokeErr := deps.SessionStore.Revoke(ctx, userID, sessionID); revokeErr != nil {
			deps.Warn("session revoke after refresh reuse failed", "user_id", userID, "session_id", sessionID, "error", revokeErr)
		} else {
			deps.MetricInc(deps.Metrics.SessionInvalidated)
			deps.EmitAudit(ctx, audit.Event{
				EventType: deps.Events.SessionTerminated,
				Success:   true,
				UserID:    userID,
				SessionID: sessionID,
				Reason:    "refresh_reuse",
			}, nil)
		}
		deps.EmitAudit(ctx, audit.Event{
			EventType: deps.Events.ReuseDetected,
			UserID:    userID,
			SessionID: sessionID,
		}, err)
		return RefreshResult{Failure: RefreshFailureReuse, Err: err, UserID: userID, SessionID: sessionID}
	case errors.Is(err, session.ErrNotFound):
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, UserID: userID, SessionID: sessionID}
	default:
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		deps.MetricInc(deps.Metrics.RefreshFailure)
		return RefreshResult{Failure: RefreshFailureUnavailable, Err: err, UserID: userID, SessionID: sessionID}
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	return RefreshResult{UserID: userID, SessionID: sessionID, Tokens: tokens}
}

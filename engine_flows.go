package chatauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/chatauth/internal/flows"
	"github.com/MrEthical07/chatauth/internal/limiters"
	"github.com/MrEthical07/chatauth/internal/rate"
	"github.com/MrEthical07/chatauth/jwt"
	"github.com/MrEthical07/chatauth/kv"
	"github.com/MrEthical07/chatauth/session"
	"github.com/google/uuid"
)

func (e *Engine) buildFlows() flows.Service {
	emit := func(ctx context.Context, event AuditEvent, err error) {
		e.emitAudit(ctx, event, mapInternalError(err))
	}
	metricInc := func(id int) { e.metricInc(MetricID(id)) }
	warn := func(msg string, args ...any) { e.logger.Warn(msg, args...) }

	return flows.New(flows.Deps{
		Login: flows.LoginDeps{
			Now:                  e.clock,
			ClientIPFromContext:  ClientIPFromContext,
			UserAgentFromContext: userAgentFromContext,
			CheckRate:            e.rateCheck(ActionLogin),
			LockedUntil:          e.lockout.LockedUntil,
			RecordFailure:        e.lockout.RecordFailure,
			RecordSuccess:        e.lockout.RecordSuccess,
			FindAccount:          e.findByIdentifier,
			VerifyPassword:       e.hasher.Verify,
			VerifyDummy:          e.hasher.VerifyDummy,
			UpgradeHash:          e.upgradeHash,
			OnFailure:            e.mirrorFailure,
			OnSuccess:            e.mirrorSuccess,
			NewID:                uuid.NewString,
			IssueTokens:          e.issueTokens,
			SaveSession:          e.registry.Record,
			MetricInc:            metricInc,
			EmitAudit:            emit,
			Warn:                 warn,
			Metrics: flows.LoginMetrics{
				LoginSuccess:      int(MetricLoginSuccess),
				LoginFailure:      int(MetricLoginFailure),
				LoginRateLimited:  int(MetricLoginRateLimited),
				LoginLocked:       int(MetricLoginLocked),
				AccountLocked:     int(MetricAccountLocked),
				SessionCreated:    int(MetricSessionCreated),
				RateLimitFailOpen: int(MetricRateLimitFailOpen),
				StoreUnavailable:  int(MetricStoreUnavailable),
			},
			Events: flows.LoginEvents{
				LoggedIn:      EventUserLoggedIn,
				LoginFailed:   EventLoginFailed,
				AccountLocked: EventAccountLocked,
				RateLimited:   EventRateLimited,
			},
		},
		Refresh: flows.RefreshDeps{
			VerifyRefresh: func(token string) (*jwt.Payload, error) {
				return e.codec.Verify(token, jwt.TypeRefresh)
			},
			CheckRate:    e.rateCheck(ActionRefresh),
			FindAccount:  e.findByID,
			NewID:        uuid.NewString,
			IssueTokens:  e.issueTokens,
			SessionStore: e.registry,
			MetricInc:    metricInc,
			EmitAudit:    emit,
			Warn:         warn,
			Metrics: flows.RefreshMetrics{
				RefreshSuccess:       int(MetricRefreshSuccess),
				RefreshFailure:       int(MetricRefreshFailure),
				RefreshReuseDetected: int(MetricRefreshReuseDetected),
				RefreshRateLimited:   int(MetricRefreshRateLimited),
				RevokedTokenRejected: int(MetricRevokedTokenRejected),
				RateLimitFailOpen:    int(MetricRateLimitFailOpen),
				StoreUnavailable:     int(MetricStoreUnavailable),
				SessionInvalidated:   int(MetricSessionInvalidated),
			},
			Events: flows.RefreshEvents{
				ReuseDetected:     EventRefreshReuseDetected,
				SessionTerminated: EventSessionTerminated,
				RateLimited:       EventRateLimited,
			},
		},
		Validate: flows.ValidateDeps{
			VerifyAccess: func(token string) (*jwt.Payload, error) {
				return e.codec.Verify(token, jwt.TypeAccess)
			},
			IsRevoked: e.registry.IsRevoked,
		},
		Logout: flows.LogoutDeps{
			SessionStore: e.registry,
		},
	})
}

// rateCheck binds the configured rule for action. Rejections bump the shared
// rate-limit counter; store failures are returned so the flow can fail open.
func (e *Engine) rateCheck(action Action) func(context.Context, string) error {
	rule, ok := e.config.RateLimits.Rule(action)
	if !ok || rule.MaxAttempts <= 0 {
		return nil
	}
	r := rate.Rule{MaxAttempts: rule.MaxAttempts, Window: rule.Window, Block: rule.Block}
	return func(ctx context.Context, identity string) error {
		err := e.limiter.Allow(ctx, string(action), identity, r)
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRateLimitHit)
		}
		return err
	}
}

func (e *Engine) findByIdentifier(ctx context.Context, identifier string) (*flows.LoginAccount, error) {
	acct, err := e.accounts.FindByIdentifier(ctx, identifier)
	return toLoginAccount(acct, err)
}

func (e *Engine) findByID(ctx context.Context, id string) (*flows.LoginAccount, error) {
	acct, err := e.accounts.FindByID(ctx, id)
	return toLoginAccount(acct, err)
}

func toLoginAccount(acct Account, err error) (*flows.LoginAccount, error) {
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: account lookup: %v", ErrStoreUnavailable, err)
	}
	return &flows.LoginAccount{
		ID:           acct.ID,
		PasswordHash: acct.PasswordHash,
		Roles:        acct.Roles,
		Permissions:  acct.Permissions,
		Disabled:     acct.Disabled,
	}, nil
}

// issueTokens mints the pair for a session. A zero refreshExpiresAt starts a
// new lineage; rotation passes the original expiry so refreshing never
// extends a session past its first refresh lifetime.
func (e *Engine) issueTokens(acct flows.LoginAccount, sessionID, refreshID string, refreshExpiresAt time.Time) (flows.IssuedTokens, error) {
	now := e.clock().Truncate(time.Second)
	accessExp := now.Add(e.codec.TTL(jwt.TypeAccess))
	if refreshExpiresAt.IsZero() {
		refreshExpiresAt = now.Add(e.codec.TTL(jwt.TypeRefresh))
	}
	if !refreshExpiresAt.After(now) {
		return flows.IssuedTokens{}, fmt.Errorf("%w: refresh lineage expired", jwt.ErrExpiredToken)
	}
	if accessExp.After(refreshExpiresAt) {
		accessExp = refreshExpiresAt
	}

	access, err := e.codec.Issue(jwt.Payload{
		Subject:     acct.ID,
		Type:        jwt.TypeAccess,
		SessionID:   sessionID,
		Roles:       acct.Roles,
		Permissions: acct.Permissions,
		IssuedAt:    now,
		ExpiresAt:   accessExp,
	})
	if err != nil {
		return flows.IssuedTokens{}, err
	}
	refresh, err := e.codec.Issue(jwt.Payload{
		Subject:     acct.ID,
		Type:        jwt.TypeRefresh,
		SessionID:   sessionID,
		ID:          refreshID,
		Roles:       acct.Roles,
		Permissions: acct.Permissions,
		IssuedAt:    now,
		ExpiresAt:   refreshExpiresAt,
	})
	if err != nil {
		return flows.IssuedTokens{}, err
	}

	return flows.IssuedTokens{
		UserID:           acct.ID,
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (e *Engine) mirrorFailure(ctx context.Context, accountID string, locked bool, until time.Time) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.IncrementFailedAttempts(ctx, accountID); err != nil {
		e.logger.Warn("lockout mirror: increment failed", "account_id", accountID, "error", err)
	}
	if locked {
		if err := e.mirror.Lock(ctx, accountID, until); err != nil {
			e.logger.Warn("lockout mirror: lock failed", "account_id", accountID, "error", err)
		}
	}
}

func (e *Engine) upgradeHash(ctx context.Context, accountID, plain, encoded string) {
	if e.upgrader == nil {
		return
	}
	stale, err := e.hasher.NeedsUpgrade(encoded)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", "account_id", accountID, "error", err)
		return
	}
	if err := e.upgrader.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", "account_id", accountID, "error", err)
		return
	}
	e.logger.Info("password hash upgraded", "account_id", accountID)
}

func (e *Engine) mirrorSuccess(ctx context.Context, accountID string) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.ResetFailedAttempts(ctx, accountID); err != nil {
		e.logger.Warn("lockout mirror: reset failed", "account_id", accountID, "error", err)
	}
}

// mapInternalError translates package-level sentinels into the root taxonomy.
func mapInternalError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, session.ErrReuse):
		return ErrRefreshReuse
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, jwt.ErrExpiredToken):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrInvalidToken):
		return ErrInvalidToken
	case errors.Is(err, kv.ErrUnavailable),
		errors.Is(err, rate.ErrStoreUnavailable),
		errors.Is(err, limiters.ErrLockoutUnavailable):
		return ErrStoreUnavailable
	default:
		return err
	}
}

func rateLimitError(action Action, retryAfter time.Duration) *RateLimitExceededError {
	return &RateLimitExceededError{Action: action, RetryAfter: retryAfter}
}

package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/chatauth/internal/audit"
	"github.com/MrEthical07/chatauth/internal/rate"
	"github.com/MrEthical07/chatauth/session"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureNotReady
	LoginFailureRateLimited
	LoginFailureLocked
	LoginFailureInvalidCredentials
	LoginFailureDisabled
	LoginFailureUnavailable
)

// LoginAccount is a flow-local account record.
type LoginAccount struct {
	ID           string
	PasswordHash string
	Roles        []string
	Permissions  []string
	Disabled     bool
}

// IssuedTokens is the token pair minted for a session.
type IssuedTokens struct {
	UserID           string
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult carries either the issued tokens or failure metadata.
type LoginResult struct {
	Failure     LoginFailureKind
	Err         error
	RetryAfter  time.Duration
	LockedUntil time.Time
	Tokens      IssuedTokens
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	LoginSuccess      int
	LoginFailure      int
	LoginRateLimited  int
	LoginLocked       int
	AccountLocked     int
	SessionCreated    int
	RateLimitFailOpen int
	StoreUnavailable  int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoggedIn      string
	LoginFailed   string
	AccountLocked string
	RateLimited   string
}

// TokenIssuer mints the access and refresh token of a new or rotated session.
type TokenIssuer func(account LoginAccount, sessionID, refreshID string, refreshExpiresAt time.Time) (IssuedTokens, error)

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Now                  func() time.Time
	ClientIPFromContext  func(context.Context) string
	UserAgentFromContext func(context.Context) string

	// CheckRate charges one login attempt to identity. A *rate.LimitError
	// rejects; any other error is a store failure and the attempt proceeds.
	CheckRate func(ctx context.Context, identity string) error

	LockedUntil   func(ctx context.Context, account string) (bool, time.Time, error)
	RecordFailure func(ctx context.Context, account string) (bool, time.Time, error)
	RecordSuccess func(ctx context.Context, account string) error

	// FindAccount returns nil and no error for an unknown identifier.
	FindAccount    func(ctx context.Context, identifier string) (*LoginAccount, error)
	VerifyPassword func(password, hash string) (bool, error)
	// VerifyDummy burns the same work as a real verification.
	VerifyDummy func(password string)
	// UpgradeHash runs after a verified password and may replace a hash
	// made with weaker parameters. Optional.
	UpgradeHash func(ctx context.Context, accountID, password, hash string)

	// OnFailure and OnSuccess feed the account repository's lockout mirror.
	OnFailure func(ctx context.Context, accountID string, locked bool, until time.Time)
	OnSuccess func(ctx context.Context, accountID string)

	NewID       func() string
	IssueTokens TokenIssuer
	SaveSession func(ctx context.Context, rec session.Record, refreshID string) error

	MetricInc func(int)
	// EmitAudit receives partially filled events; the caller stamps time,
	// client address and error code.
	EmitAudit func(ctx context.Context, event audit.Event, err error)
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
}

// NormalizeIdentifier folds an identifier to the key lockout state is kept under.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// RunLogin executes rate limiting, lockout, credential verification and
// session creation for one login attempt.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, audit.Event, error) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.UserAgentFromContext == nil {
		deps.UserAgentFromContext = func(context.Context) string { return "" }
	}
	if deps.OnFailure == nil {
		deps.OnFailure = func(context.Context, string, bool, time.Time) {}
	}
	if deps.OnSuccess == nil {
		deps.OnSuccess = func(context.Context, string) {}
	}
	if deps.VerifyDummy == nil {
		deps.VerifyDummy = func(string) {}
	}
	if deps.UpgradeHash == nil {
		deps.UpgradeHash = func(context.Context, string, string, string) {}
	}
	if deps.FindAccount == nil ||
		deps.VerifyPassword == nil ||
		deps.LockedUntil == nil ||
		deps.RecordFailure == nil ||
		deps.RecordSuccess == nil ||
		deps.NewID == nil ||
		deps.IssueTokens == nil ||
		deps.SaveSession == nil {
		return LoginResult{Failure: LoginFailureNotReady}
	}

	account := NormalizeIdentifier(identifier)
	ip := deps.ClientIPFromContext(ctx)
	failed := func(userID, reason string) audit.Event {
		return audit.Event{
			EventType:  deps.Events.LoginFailed,
			UserID:     userID,
			Identifier: account,
			Reason:     reason,
		}
	}

	if deps.CheckRate != nil {
		identities := []string{"acct:" + account}
		if ip != "" {
			identities = append([]string{"ip:" + ip}, identities...)
		}
		for _, identity := range identities {
			err := deps.CheckRate(ctx, identity)
			if err == nil {
				continue
			}
			var limitErr *rate.LimitError
			if errors.As(err, &limitErr) {
				deps.MetricInc(deps.Metrics.LoginRateLimited)
				deps.EmitAudit(ctx, audit.Event{
					EventType:  deps.Events.RateLimited,
					Identifier: account,
					Action:     "login",
					Identity:   identity,
				}, err)
				return LoginResult{Failure: LoginFailureRateLimited, Err: err, RetryAfter: limitErr.RetryAfter}
			}
			deps.MetricInc(deps.Metrics.RateLimitFailOpen)
			deps.Warn("login rate limit check failed, allowing attempt", "identity", identity, "error", err)
		}
	}

	if account == "" || password == "" {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, failed("", "empty_credentials"), nil)
		return LoginResult{Failure: LoginFailureInvalidCredentials}
	}

	locked, until, err := deps.LockedUntil(ctx, account)
	if err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		return LoginResult{Failure: LoginFailureUnavailable, Err: err}
	}
	if locked {
		// Attempts against a locked account keep the lock alive.
		if _, extended, err := deps.RecordFailure(ctx, account); err != nil {
			deps.Warn("lockout escalation failed", "error", err)
		} else if !extended.IsZero() {
			until = extended
		}
		deps.MetricInc(deps.Metrics.LoginLocked)
		deps.EmitAudit(ctx, failed("", "account_locked"), nil)
		return LoginResult{Failure: LoginFailureLocked, LockedUntil: until}
	}

	acct, err := deps.FindAccount(ctx, account)
	if err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		return LoginResult{Failure: LoginFailureUnavailable, Err: err}
	}

	if acct == nil {
		deps.VerifyDummy(password)
		return failCredentials(ctx, deps, account, failed("", "unknown_account"))
	}

	ok, err := deps.VerifyPassword(password, acct.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			deps.Warn("password verification error", "account_id", acct.ID, "error", err)
		}
		return failCredentials(ctx, deps, account, failed(acct.ID, "password_mismatch"))
	}
	if !acct.Disabled {
		deps.UpgradeHash(ctx, acct.ID, password, acct.PasswordHash)
	}
	password = ""

	if acct.Disabled {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, failed(acct.ID, "account_disabled"), nil)
		return LoginResult{Failure: LoginFailureDisabled}
	}

	if err := deps.RecordSuccess(ctx, account); err != nil {
		deps.Warn("lockout reset failed", "account_id", acct.ID, "error", err)
	}
	deps.OnSuccess(ctx, acct.ID)

	now := deps.Now()
	sessionID := deps.NewID()
	refreshID := deps.NewID()
	tokens, err := deps.IssueTokens(*acct, sessionID, refreshID, time.Time{})
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return LoginResult{Failure: LoginFailureUnavailable, Err: err}
	}

	rec := session.Record{
		UserID:    acct.ID,
		SessionID: sessionID,
		CreatedAt: now,
		IP:        ip,
		UserAgent: deps.UserAgentFromContext(ctx),
	}
	if err := deps.SaveSession(ctx, rec, refreshID); err != nil {
		deps.MetricInc(deps.Metrics.StoreUnavailable)
		deps.MetricInc(deps.Metrics.LoginFailure)
		return LoginResult{Failure: LoginFailureUnavailable, Err: err}
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, audit.Event{
		EventType:  deps.Events.LoggedIn,
		Success:    true,
		UserID:     acct.ID,
		SessionID:  sessionID,
		Identifier: account,
	}, nil)

	return LoginResult{Tokens: tokens}
}

func failCredentials(ctx context.Context, deps LoginDeps, account string, event audit.Event) LoginResult {
	accountID := event.UserID
	locked, until, err := deps.RecordFailure(ctx, account)
	if err != nil {
		deps.Warn("lockout failure count not recorded", "error", err)
	}
	if accountID != "" {
		deps.OnFailure(ctx, accountID, locked, until)
	}

	deps.MetricInc(deps.Metrics.LoginFailure)
	deps.EmitAudit(ctx, event, nil)

	if locked {
		deps.MetricInc(deps.Metrics.AccountLocked)
		lockedUntil := until.UTC()
		deps.EmitAudit(ctx, audit.Event{
			EventType:   deps.Events.AccountLocked,
			UserID:      accountID,
			Identifier:  account,
			LockedUntil: &lockedUntil,
		}, nil)
		return LoginResult{Failure: LoginFailureLocked, LockedUntil: until}
	}
	return LoginResult{Failure: LoginFailureInvalidCredentials}
}

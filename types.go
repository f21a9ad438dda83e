package chatauth

import (
	"context"
	"time"
)

// Action tags a rate-limited operation. Each action has its own budget.
type Action string

const (
	ActionLogin         Action = "login"
	ActionRefresh       Action = "refresh"
	ActionPasswordReset Action = "password_reset"
	ActionAPI           Action = "api"
)

// Identity is the authenticated caller attached to a request context after a
// successful [Engine.Validate].
type Identity struct {
	UserID      string
	SessionID   string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	SessionID        string    `json:"sessionId"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// SessionInfo describes one live session of a user.
type SessionInfo struct {
	SessionID string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Current   bool      `json:"current"`
}

// Account is the credential record the Engine needs from the account store.
type Account struct {
	ID           string
	Identifier   string
	PasswordHash string
	Roles        []string
	Permissions  []string
	Disabled     bool
}

// AccountRepository supplies accounts for credential checks. Implementations
// return [ErrAccountNotFound] for unknown accounts.
type AccountRepository interface {
	FindByIdentifier(ctx context.Context, identifier string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
}

// HashUpgrader is optionally implemented by an [AccountRepository] that can
// store a new password hash. After a successful login with a hash made under
// weaker Argon2id parameters the Engine rehashes the password and saves it.
// Failures are logged and never change the outcome of a login.
type HashUpgrader interface {
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
}

// LockoutMirror is optionally implemented by an [AccountRepository] that
// keeps a copy of the lockout state on the account record. Mirror failures
// are logged and never change the outcome of a login.
type LockoutMirror interface {
	IncrementFailedAttempts(ctx context.Context, accountID string) error
	ResetFailedAttempts(ctx context.Context, accountID string) error
	Lock(ctx context.Context, accountID string, until time.Time) error
	Unlock(ctx context.Context, accountID string) error
}

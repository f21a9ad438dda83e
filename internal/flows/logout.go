package flows

import (
	"context"
	"errors"
)

// LogoutSessionStore is the slice of the session registry logout needs.
type LogoutSessionStore interface {
	Revoke(ctx context.Context, userID, sessionID string) (bool, error)
	RevokeAll(ctx context.Context, userID, exceptSessionID string) (int, error)
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	SessionStore LogoutSessionStore
}

var errLogoutNotReady = errors.New("logout flow not wired")

// RunLogout revokes one session and reports whether it was live.
func RunLogout(ctx context.Context, userID, sessionID string, deps LogoutDeps) (bool, error) {
	if deps.SessionStore == nil {
		return false, errLogoutNotReady
	}
	return deps.SessionStore.Revoke(ctx, userID, sessionID)
}

// RunLogoutAll revokes every session of userID except exceptSessionID and
// returns how many live sessions were terminated.
func RunLogoutAll(ctx context.Context, userID, exceptSessionID string, deps LogoutDeps) (int, error) {
	if deps.SessionStore == nil {
		return 0, errLogoutNotReady
	}
	return deps.SessionStore.RevokeAll(ctx, userID, exceptSessionID)
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/chatauth/jwt"
)

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureNotReady
	ValidateFailureInvalid
	ValidateFailureExpired
	ValidateFailureRevoked
	ValidateFailureUnavailable
)

// ValidateResult returns either the verified payload or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Payload *jwt.Payload
}

// ValidateDeps captures access-token validation dependencies.
type ValidateDeps struct {
	VerifyAccess func(token string) (*jwt.Payload, error)
	// IsRevoked errors are treated as revoked by the caller.
	IsRevoked func(ctx context.Context, userID, sessionID string) (bool, error)
}

// RunValidate verifies an access token and checks its session against the
// revocation markers. The revocation check is never skipped.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	if deps.VerifyAccess == nil || deps.IsRevoked == nil {
		return ValidateResult{Failure: ValidateFailureNotReady}
	}
	if token == "" {
		return ValidateResult{Failure: ValidateFailureInvalid}
	}

	payload, err := deps.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}

	revoked, err := deps.IsRevoked(ctx, payload.Subject, payload.SessionID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnavailable, Err: err}
	}
	if revoked {
		return ValidateResult{Failure: ValidateFailureRevoked}
	}
	return ValidateResult{Payload: payload}
}

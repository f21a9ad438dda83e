package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Validate.VerifyAccess != nil
}

func (s Service) Login(ctx context.Context, identifier, password string) LoginResult {
	return RunLogin(ctx, identifier, password, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, token string) ValidateResult {
	return RunValidate(ctx, token, s.deps.Validate)
}

func (s Service) Logout(ctx context.Context, userID, sessionID string) (bool, error) {
	return RunLogout(ctx, userID, sessionID, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID, exceptSessionID string) (int, error) {
	return RunLogoutAll(ctx, userID, exceptSessionID, s.deps.Logout)
}

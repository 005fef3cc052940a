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
	return s.deps.OTP.Store != nil && s.deps.Validate.ParseAccess != nil
}

func (s Service) Issue(ctx context.Context, req IssueRequest) OTPResult {
	return RunIssue(ctx, req, s.deps.OTP)
}

func (s Service) Resend(ctx context.Context, sessionID string) OTPResult {
	return RunResend(ctx, sessionID, s.deps.OTP)
}

func (s Service) Verify(ctx context.Context, sessionID, code string) OTPResult {
	return RunVerify(ctx, sessionID, code, s.deps.OTP)
}

func (s Service) IssueTokens(ctx context.Context, identity string) TokenResult {
	return RunIssueTokens(ctx, identity, s.deps.Tokens)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, tokenStr string) ValidateResult {
	return RunValidate(ctx, tokenStr, s.deps.Validate)
}

func (s Service) LogoutByRefreshToken(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogoutByRefreshToken(ctx, refreshToken, s.deps.Logout)
}

func (s Service) LogoutByAccessToken(ctx context.Context, tokenStr string) LogoutResult {
	return RunLogoutByAccessToken(ctx, tokenStr, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, identity string) error {
	return RunLogoutAll(ctx, identity, s.deps.Logout)
}

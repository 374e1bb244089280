package sessions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nextphaseit/portal-identity/authflow"
	"github.com/nextphaseit/portal-identity/entra"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/pkce"
	"github.com/nextphaseit/portal-identity/users"
)

// LoginOptions customise one Microsoft sign-in. Empty hints fall back to the manager's
// defaults.
type LoginOptions struct {
	ReturnTo   string
	Prompt     string
	DomainHint string
	LoginHint  string
}

// LoginRedirect is where to send the browser. State must also be bound to the browser
// (e.g. an HttpOnly cookie) and passed back as CallbackParams.BrowserState.
type LoginRedirect struct {
	URL       string
	State     string
	SessionID string
}

// CallbackParams are the values received on the redirect URI plus the state the
// browser was bound to when the sign-in started.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	BrowserState     string
	// ReplaceSessionID is the caller's existing session, if any. A successful callback
	// supersedes it.
	ReplaceSessionID string
}

// BeginMicrosoftLogin starts a sign-in: it creates a pending session, stores the PKCE
// verifier under a fresh state and returns the authorize URL.
func (m *Manager) BeginMicrosoftLogin(ctx context.Context, opts LoginOptions) (*LoginRedirect, error) {
	if m.client == nil {
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", &apperrors.ConfigurationError{Missing: []string{"entra client"}})
	}

	pair, err := pkce.NewPair()
	if err != nil {
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", err)
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", err)
	}

	hints := entra.Hints{Prompt: opts.Prompt, DomainHint: opts.DomainHint, LoginHint: opts.LoginHint}
	if hints.Prompt == "" {
		hints.Prompt = m.hints.Prompt
	}
	if hints.DomainHint == "" {
		hints.DomainHint = m.hints.DomainHint
	}
	authURL, err := m.client.AuthCodeURL(state, pair.Challenge, hints)
	if err != nil {
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", err)
	}

	now := m.nowTime()
	pending := &Session{
		ID:        uuid.NewString(),
		State:     StateAuthenticating,
		Version:   1,
		FlowState: state,
		ReturnTo:  opts.ReturnTo,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.flowTTL),
	}
	if err := m.repo.Save(ctx, pending); err != nil {
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", err)
	}
	flow := &authflow.Flow{
		State:        state,
		CodeVerifier: pair.Verifier,
		ReturnTo:     opts.ReturnTo,
		SessionID:    pending.ID,
		CreatedAt:    now,
	}
	if err := m.flows.Store(ctx, flow); err != nil {
		_ = m.repo.Delete(ctx, pending.ID)
		return nil, fmt.Errorf("[Manager.BeginMicrosoftLogin] %w", err)
	}

	m.logger.Debug().Str("state", fingerprint(state)).Str("session_id", pending.ID).Msg("microsoft sign-in started")
	return &LoginRedirect{URL: authURL, State: state, SessionID: pending.ID}, nil
}

// HandleCallback completes a Microsoft sign-in. The session is published only once the
// user is fully assembled; on any failure nothing is published and the flow is cleared.
// Repeated callbacks for one state resolve to the same session.
func (m *Manager) HandleCallback(ctx context.Context, p CallbackParams) (*Session, error) {
	if m.client == nil {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", &apperrors.ConfigurationError{Missing: []string{"entra client"}})
	}

	if p.Error != "" {
		// Only the browser that started the flow may cancel it.
		if p.BrowserState != "" && subtle.ConstantTimeCompare([]byte(p.State), []byte(p.BrowserState)) == 1 {
			m.abandonFlow(ctx, p.BrowserState)
		}
		m.metrics.Callback("provider_error")
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", &apperrors.AuthorizationError{Code: p.Error, Description: p.ErrorDescription})
	}

	if p.State == "" || p.BrowserState == "" || subtle.ConstantTimeCompare([]byte(p.State), []byte(p.BrowserState)) != 1 {
		m.abandonFlow(ctx, p.BrowserState)
		m.metrics.Callback("state_mismatch")
		m.logger.Warn().Str("state", fingerprint(p.State)).Msg("callback state does not match browser")
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", apperrors.ErrStateMismatch)
	}

	v, err, shared := m.callbacks.Do(p.State, func() (any, error) {
		return m.completeCallback(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug().Str("state", fingerprint(p.State)).Msg("duplicate callback joined in-flight sign-in")
	}
	return v.(*Session).Clone(), nil
}

func (m *Manager) completeCallback(ctx context.Context, p CallbackParams) (*Session, error) {
	if sessionID, err := m.flows.Completed(ctx, p.State); err == nil {
		m.metrics.Callback("duplicate")
		s, err := m.repo.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
		}
		return s, nil
	}

	flow, err := m.flows.Take(ctx, p.State)
	if err != nil {
		m.metrics.Callback("state_mismatch")
		if errors.Is(err, authflow.ErrFlowNotFound) {
			return nil, fmt.Errorf("[Manager.HandleCallback] unknown or expired state: %w", apperrors.ErrStateMismatch)
		}
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
	}
	defer func() {
		if flow.SessionID != "" {
			_ = m.repo.Delete(ctx, flow.SessionID)
		}
	}()

	if p.Code == "" {
		m.metrics.Callback("failure")
		return nil, fmt.Errorf("[Manager.HandleCallback] code: %w", apperrors.ErrMissingAuthParameter)
	}

	session, err := m.signIn(ctx, flow, p.Code, p.ReplaceSessionID)
	if err != nil {
		m.metrics.Callback("failure")
		m.metrics.Login(users.MethodMicrosoft, "failure")
		m.logger.Info().Err(err).Str("state", fingerprint(p.State)).Msg("microsoft sign-in failed")
		return nil, err
	}
	m.metrics.Callback("success")
	m.metrics.Login(users.MethodMicrosoft, "success")
	return session, nil
}

func (m *Manager) signIn(ctx context.Context, flow *authflow.Flow, code, replaceSessionID string) (*Session, error) {
	start := m.nowTime()
	tokens, err := m.client.ExchangeCode(ctx, code, flow.CodeVerifier)
	m.metrics.ObserveProvider("exchange", start)
	if err != nil {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
	}

	var claims *entra.IDClaims
	if m.verifier != nil && tokens.IDToken != "" {
		claims, err = m.verifier.Verify(ctx, tokens.IDToken)
		if err != nil {
			return nil, fmt.Errorf("[Manager.HandleCallback] %w", &apperrors.TokenExchangeError{
				ProviderError: apperrors.ProviderError{ErrorCode: "invalid_id_token", Cause: err},
			})
		}
	}

	profile, tokens, err := m.fetchProfile(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
	}
	if claims != nil && claims.ObjectID != "" && !strings.EqualFold(claims.ObjectID, profile.ID) {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", &apperrors.ProfileFetchError{
			StatusCode: 200, Cause: errors.New("id token subject does not match profile"),
		})
	}

	email := profile.Email()
	if !m.resolver.IsAuthorizedDomain(email) {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", apperrors.ErrUnauthorizedDomain)
	}
	tenant, err := m.resolver.TenantForEmail(email)
	if err != nil {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
	}

	picture, err := m.profiles.FetchPhoto(ctx, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("[Manager.HandleCallback] %w", err)
	}

	now := m.nowTime()
	user := &users.User{
		ID:            profile.ID,
		Name:          profile.Name(),
		Email:         email,
		Role:          m.resolver.RoleForEmail(email, tenant),
		Department:    profile.Department,
		JobTitle:      profile.JobTitle,
		Picture:       picture,
		TenantID:      tenant.ID,
		Auth:          users.MicrosoftAuth{Tokens: *tokens},
		IsGlobalAdmin: m.resolver.IsGlobalAdmin(email),
		Preferences:   users.DefaultPreferences(),
		CreatedAt:     now,
		LastLogin:     now,
	}
	session, err := m.publish(ctx, user, tenant, flow.State, flow.ReturnTo)
	if err != nil {
		return nil, err
	}
	if err := m.flows.MarkCompleted(ctx, flow.State, session.ID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to record completed sign-in")
	}

	if replaceSessionID != "" && replaceSessionID != session.ID {
		unlock := m.locks.Lock(replaceSessionID)
		old, getErr := m.repo.Get(ctx, replaceSessionID)
		_ = m.repo.Delete(ctx, replaceSessionID)
		unlock()
		if getErr == nil {
			m.forgetFlow(ctx, old)
			m.logger.Info().Str("session_id", replaceSessionID).Str("replaced_by", session.ID).Msg("session replaced by newer sign-in")
		}
	}
	return session, nil
}

// fetchProfile reads the Graph profile, refreshing once if the fresh access token is
// rejected with a 401.
func (m *Manager) fetchProfile(ctx context.Context, tokens *entra.TokenSet) (*entra.Profile, *entra.TokenSet, error) {
	start := m.nowTime()
	profile, err := m.profiles.FetchProfile(ctx, tokens.AccessToken)
	m.metrics.ObserveProvider("profile", start)
	if err == nil || !unauthenticated(err) || !tokens.CanRefresh() {
		return profile, tokens, err
	}

	m.logger.Debug().Msg("profile fetch unauthorized, refreshing once")
	refreshed, err := m.client.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = tokens.IDToken
	}
	profile, err = m.profiles.FetchProfile(ctx, refreshed.AccessToken)
	if err != nil {
		return nil, nil, err
	}
	return profile, refreshed, nil
}

// abandonFlow clears the flow and pending session for a sign-in that cannot complete.
func (m *Manager) abandonFlow(ctx context.Context, state string) {
	if state == "" {
		return
	}
	flow, err := m.flows.Take(ctx, state)
	if err != nil {
		return
	}
	if flow.SessionID != "" {
		_ = m.repo.Delete(ctx, flow.SessionID)
	}
}

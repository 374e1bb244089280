package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nextphaseit/portal-identity/authflow"
	"github.com/nextphaseit/portal-identity/entra"
	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/internal/metrics"
	"github.com/nextphaseit/portal-identity/tenants"
	"github.com/nextphaseit/portal-identity/users"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshBuffer = 5 * time.Minute
	defaultMaxSessionAge = 8 * time.Hour
	defaultFlowTTL       = 10 * time.Minute
	defaultRevokeTimeout = 5 * time.Second
)

// TokenClient is the token endpoint as seen by the Manager.
type TokenClient interface {
	AuthCodeURL(state, challenge string, hints entra.Hints) (string, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*entra.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*entra.TokenSet, error)
}

// ProfileSource reads the signed-in user's Graph profile.
type ProfileSource interface {
	FetchProfile(ctx context.Context, accessToken string) (*entra.Profile, error)
	FetchPhoto(ctx context.Context, accessToken string) (string, error)
}

// Revoker signs a user out at the provider.
type Revoker interface {
	RevokeSignInSessions(ctx context.Context, accessToken string) error
}

// IDTokenVerifier validates the id_token of a code exchange.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*entra.IDClaims, error)
}

var (
	_ TokenClient     = (*entra.Client)(nil)
	_ ProfileSource   = (*entra.GraphClient)(nil)
	_ Revoker         = (*entra.GraphClient)(nil)
	_ IDTokenVerifier = (*entra.IDTokenVerifier)(nil)
)

// Dependencies are the collaborators of a Manager. Client and Profiles may be nil, in
// which case Microsoft sign-in is disabled; Directory may be nil to disable local sign-in.
type Dependencies struct {
	Client    TokenClient
	Profiles  ProfileSource
	Flows     authflow.Repo
	Sessions  Repo
	Resolver  *tenants.Resolver
	Directory users.Directory
}

// Manager is the only writer of session state. Commits for one session are serialised
// by a per-session lock; provider calls run outside it and are committed only if the
// session is still the one they started from.
type Manager struct {
	client    TokenClient
	profiles  ProfileSource
	flows     authflow.Repo
	repo      Repo
	resolver  *tenants.Resolver
	directory users.Directory

	verifier      IDTokenVerifier
	revoker       Revoker
	revokeTimeout time.Duration
	hints         entra.Hints
	refreshBuffer time.Duration
	maxSessionAge time.Duration
	flowTTL       time.Duration
	liveCheck     bool

	locks     *keyedMutex
	refreshes singleflight.Group
	callbacks singleflight.Group
	wg        sync.WaitGroup

	metrics *metrics.Metrics
	logger  zerolog.Logger
	nowTime func() time.Time
}

type Option func(*Manager)

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithRevoker enables best-effort provider sign-out on logout, bounded by timeout.
func WithRevoker(r Revoker, timeout time.Duration) Option {
	return func(m *Manager) {
		m.revoker = r
		if timeout > 0 {
			m.revokeTimeout = timeout
		}
	}
}

func WithIDTokenVerifier(v IDTokenVerifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithRefreshBuffer refreshes access tokens this long before they expire.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshBuffer = d
	}
}

// WithMaxSessionAge caps every session's lifetime regardless of tenant settings.
func WithMaxSessionAge(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxSessionAge = d
		}
	}
}

// WithFlowTTL bounds how long a sign-in may wait for its callback.
func WithFlowTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.flowTTL = d
		}
	}
}

// WithLiveCheck makes Validate confirm Microsoft sessions against Graph.
func WithLiveCheck(enabled bool) Option {
	return func(m *Manager) {
		m.liveCheck = enabled
	}
}

// WithDefaultHints sets the prompt and domain hint used when a login does not pass its own.
func WithDefaultHints(h entra.Hints) Option {
	return func(m *Manager) {
		m.hints = h
	}
}

func NewManager(deps Dependencies, options ...Option) (*Manager, error) {
	if deps.Sessions == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("[sessions.NewManager] session repo and tenant resolver are required")
	}
	if deps.Client != nil && (deps.Profiles == nil || deps.Flows == nil) {
		return nil, fmt.Errorf("[sessions.NewManager] microsoft sign-in needs a profile source and flow repo")
	}
	m := &Manager{
		client:        deps.Client,
		profiles:      deps.Profiles,
		flows:         deps.Flows,
		repo:          deps.Sessions,
		resolver:      deps.Resolver,
		directory:     deps.Directory,
		revokeTimeout: defaultRevokeTimeout,
		refreshBuffer: defaultRefreshBuffer,
		maxSessionAge: defaultMaxSessionAge,
		flowTTL:       defaultFlowTTL,
		locks:         newKeyedMutex(),
		logger:        zerolog.Nop(),
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// MicrosoftEnabled reports whether Microsoft sign-in is configured.
func (m *Manager) MicrosoftEnabled() bool {
	return m.client != nil
}

// LocalEnabled reports whether any local accounts exist.
func (m *Manager) LocalEnabled() bool {
	return m.directory != nil && m.directory.Len() > 0
}

// Resolver exposes the tenant resolver for read-only use by handlers.
func (m *Manager) Resolver() *tenants.Resolver {
	return m.resolver
}

// Close waits for background provider sign-outs to finish.
func (m *Manager) Close() {
	m.wg.Wait()
}

// Login signs in with a local account. On any failure no session is created.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	session, err := m.login(ctx, email, password)
	if err != nil {
		m.metrics.Login(users.MethodLocal, "failure")
		m.logger.Info().Err(err).Msg("local login refused")
		return nil, err
	}
	m.metrics.Login(users.MethodLocal, "success")
	return session, nil
}

func (m *Manager) login(ctx context.Context, email, password string) (*Session, error) {
	if !m.LocalEnabled() {
		return nil, fmt.Errorf("[Manager.Login] local sign-in disabled: %w", apperrors.ErrInvalidCredentials)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if !m.resolver.IsAuthorizedDomain(email) {
		return nil, fmt.Errorf("[Manager.Login] %w", apperrors.ErrUnauthorizedDomain)
	}
	account, err := m.directory.Authenticate(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Login] %w", err)
	}
	tenant, err := m.resolver.TenantForEmail(account.Email)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Login] %w", err)
	}

	role := m.resolver.RoleForEmail(account.Email, tenant)
	if account.Role == users.RoleAdmin {
		role = users.RoleAdmin
	}
	now := m.nowTime()
	user := &users.User{
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte("local:"+account.Email)).String(),
		Name:          account.Name,
		Email:         account.Email,
		Role:          role,
		Department:    account.Department,
		TenantID:      tenant.ID,
		Auth:          users.LocalAuth{},
		IsGlobalAdmin: m.resolver.IsGlobalAdmin(account.Email),
		Preferences:   users.DefaultPreferences(),
		CreatedAt:     now,
		LastLogin:     now,
	}
	return m.publish(ctx, user, tenant, "", "")
}

// publish stores a fully assembled user as a new authenticated session.
func (m *Manager) publish(ctx context.Context, user *users.User, tenant *tenants.Tenant, flowState, returnTo string) (*Session, error) {
	now := m.nowTime()
	lifetime := m.maxSessionAge
	if tenant != nil && tenant.SessionTimeout > 0 && tenant.SessionTimeout < lifetime {
		lifetime = tenant.SessionTimeout
	}
	session := &Session{
		ID:        uuid.NewString(),
		State:     StateAuthenticated,
		User:      user,
		Version:   1,
		FlowState: flowState,
		ReturnTo:  returnTo,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
	if err := m.repo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("[Manager.publish] %w", err)
	}
	m.logger.Info().
		Str("session_id", session.ID).
		Str("tenant_id", user.TenantID).
		Str("role", string(user.Role)).
		Str("method", user.Auth.Method()).
		Msg("session created")
	return session.Clone(), nil
}

// Current returns the stored session without validating it.
func (m *Manager) Current(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Current] %w", err)
	}
	return s, nil
}

// State reports the lifecycle state of sessionID. Unknown sessions are anonymous.
func (m *Manager) State(ctx context.Context, sessionID string) State {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return StateAnonymous
	}
	return s.State
}

// Validate returns the session if it is still usable, refreshing Microsoft tokens that
// are about to expire. Sessions that can no longer be used are deleted.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Validate] %w", err)
	}
	if !s.Authenticated() {
		return nil, fmt.Errorf("[Manager.Validate] sign-in not completed: %w", apperrors.ErrSessionNotFound)
	}

	now := m.nowTime()
	if s.Expired(now) {
		m.expire(ctx, s.ID, "session lifetime exceeded")
		return nil, fmt.Errorf("[Manager.Validate] %w", apperrors.ErrSessionExpired)
	}

	tokens, ok := s.User.Tokens()
	if !ok {
		return s, nil
	}

	if tokens.ExpiresWithin(now, m.refreshBuffer) {
		if tokens.CanRefresh() {
			return m.Refresh(ctx, s.ID)
		}
		if tokens.Expired(now) {
			m.expire(ctx, s.ID, "access token expired without refresh token")
			return nil, fmt.Errorf("[Manager.Validate] %w", apperrors.ErrSessionExpired)
		}
	}

	if m.liveCheck {
		return m.liveValidate(ctx, s, tokens)
	}
	return s, nil
}

// liveValidate confirms the access token against Graph, refreshing once on a 401.
// Transient Graph failures keep the session.
func (m *Manager) liveValidate(ctx context.Context, s *Session, tokens *entra.TokenSet) (*Session, error) {
	_, err := m.profiles.FetchProfile(ctx, tokens.AccessToken)
	if err == nil {
		return s, nil
	}
	if !unauthenticated(err) {
		m.logger.Warn().Err(err).Str("session_id", s.ID).Msg("live session check failed, keeping session")
		return s, nil
	}
	if !tokens.CanRefresh() {
		m.expire(ctx, s.ID, "graph rejected access token")
		return nil, fmt.Errorf("[Manager.Validate] %w", apperrors.ErrSessionExpired)
	}

	refreshed, err := m.Refresh(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	newTokens, _ := refreshed.User.Tokens()
	if _, err := m.profiles.FetchProfile(ctx, newTokens.AccessToken); err != nil {
		if unauthenticated(err) {
			m.expire(ctx, s.ID, "graph rejected refreshed access token")
			return nil, fmt.Errorf("[Manager.Validate] %w", apperrors.ErrSessionExpired)
		}
		m.logger.Warn().Err(err).Str("session_id", s.ID).Msg("live session check failed after refresh, keeping session")
	}
	return refreshed, nil
}

// Refresh redeems the session's refresh token. Only token fields change on success; on
// failure the session is deleted. Concurrent calls for one session share one grant.
// A caller whose ctx ends stops waiting, but the grant runs on and is committed; the
// entra client bounds it with its own timeout.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (*Session, error) {
	ch := m.refreshes.DoChan(sessionID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), sessionID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("[Manager.Refresh] %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session).Clone(), nil
	}
}

func (m *Manager) refresh(ctx context.Context, sessionID string) (*Session, error) {
	if m.client == nil {
		return nil, fmt.Errorf("[Manager.Refresh] %w", &apperrors.ConfigurationError{Missing: []string{"entra client"}})
	}

	unlock := m.locks.Lock(sessionID)
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("[Manager.Refresh] %w", err)
	}
	tokens, ok := s.User.Tokens()
	if !s.Authenticated() || !ok {
		unlock()
		return nil, fmt.Errorf("[Manager.Refresh] not a microsoft session: %w", apperrors.ErrSessionNotFound)
	}
	if !tokens.CanRefresh() {
		unlock()
		m.expire(ctx, sessionID, "no refresh token")
		return nil, fmt.Errorf("[Manager.Refresh] %w", &apperrors.TokenRefreshError{ProviderError: apperrors.ProviderError{
			ErrorCode: "invalid_grant", Description: "no refresh token",
		}})
	}
	s.State = StateRefreshing
	s.Version++
	s.UpdatedAt = m.nowTime()
	err = m.repo.Save(ctx, s)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("[Manager.Refresh] %w", err)
	}

	start := m.nowTime()
	refreshed, refreshErr := m.client.Refresh(ctx, tokens.RefreshToken)
	m.metrics.ObserveProvider("refresh", start)

	unlock = m.locks.Lock(sessionID)
	defer unlock()

	current, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		// Logged out while the grant was in flight: the result is discarded.
		m.metrics.Refresh("discarded")
		m.logger.Info().Str("session_id", sessionID).Msg("refresh result discarded, session ended")
		return nil, fmt.Errorf("[Manager.Refresh] %w", apperrors.ErrSessionNotFound)
	}
	currentTokens, ok := current.User.Tokens()
	if !ok || currentTokens.RefreshToken != tokens.RefreshToken {
		m.metrics.Refresh("discarded")
		return nil, fmt.Errorf("[Manager.Refresh] session changed during refresh: %w", apperrors.ErrSessionNotFound)
	}

	if refreshErr != nil && errors.Is(refreshErr, context.Canceled) {
		// Cancelled before the provider answered: the grant outcome is unknown.
		current.State = StateAuthenticated
		current.Version++
		current.UpdatedAt = m.nowTime()
		if err := m.repo.Save(ctx, current); err != nil {
			return nil, fmt.Errorf("[Manager.Refresh] %w", err)
		}
		m.metrics.Refresh("discarded")
		return nil, fmt.Errorf("[Manager.Refresh] %w", refreshErr)
	}
	if refreshErr != nil {
		m.metrics.Refresh("failure")
		_ = m.repo.Delete(ctx, sessionID)
		m.forgetFlow(ctx, current)
		m.logger.Info().Err(refreshErr).Str("session_id", sessionID).Msg("refresh failed, session ended")
		return nil, fmt.Errorf("[Manager.Refresh] %w", refreshErr)
	}

	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}
	if refreshed.IDToken == "" {
		refreshed.IDToken = tokens.IDToken
	}
	current.User.Auth = users.MicrosoftAuth{Tokens: *refreshed}
	current.State = StateAuthenticated
	current.Version++
	current.UpdatedAt = m.nowTime()
	if err := m.repo.Save(ctx, current); err != nil {
		return nil, fmt.Errorf("[Manager.Refresh] %w", err)
	}
	m.metrics.Refresh("success")
	m.logger.Debug().Str("session_id", sessionID).Time("expiry", refreshed.Expiry).Msg("tokens refreshed")
	return current, nil
}

// Logout ends the session unconditionally. Provider sign-out happens afterwards in the
// background and its failures are only logged.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := m.locks.Lock(sessionID)
	s, getErr := m.repo.Get(ctx, sessionID)
	err := m.repo.Delete(ctx, sessionID)
	unlock()

	m.metrics.Logout()
	if getErr != nil {
		return err
	}
	m.forgetFlow(ctx, s)
	m.logger.Info().Str("session_id", sessionID).Msg("session logged out")

	if tokens, ok := s.User.Tokens(); ok && m.revoker != nil && tokens.AccessToken != "" {
		m.wg.Add(1)
		go func(accessToken string) {
			defer m.wg.Done()
			revokeCtx, cancel := context.WithTimeout(context.Background(), m.revokeTimeout)
			defer cancel()
			if err := m.revoker.RevokeSignInSessions(revokeCtx, accessToken); err != nil {
				m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("provider sign-out failed")
			}
		}(tokens.AccessToken)
	}
	if err != nil {
		return fmt.Errorf("[Manager.Logout] %w", err)
	}
	return nil
}

// UpdatePreferences replaces the user's preferences.
func (m *Manager) UpdatePreferences(ctx context.Context, sessionID string, prefs users.Preferences) (*Session, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("[Manager.UpdatePreferences] %w", err)
	}
	if !s.Authenticated() {
		return nil, fmt.Errorf("[Manager.UpdatePreferences] %w", apperrors.ErrSessionNotFound)
	}
	s.User.Preferences = prefs
	s.Version++
	s.UpdatedAt = m.nowTime()
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("[Manager.UpdatePreferences] %w", err)
	}
	return s.Clone(), nil
}

// Sweep drops expired sessions from the repo.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.repo.Sweep(ctx, m.nowTime())
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("session sweep failed")
			} else if n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired sessions swept")
			}
		}
	}
}

func (m *Manager) expire(ctx context.Context, sessionID, reason string) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()
	s, err := m.repo.Get(ctx, sessionID)
	if err != nil {
		return
	}
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to delete expired session")
		return
	}
	m.forgetFlow(ctx, s)
	m.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session expired")
}

func (m *Manager) forgetFlow(ctx context.Context, s *Session) {
	if m.flows == nil || s == nil || s.FlowState == "" {
		return
	}
	_ = m.flows.Clear(ctx, s.FlowState)
	_ = m.flows.Forget(ctx, s.FlowState)
}

func unauthenticated(err error) bool {
	var pfe *apperrors.ProfileFetchError
	return errors.As(err, &pfe) && pfe.Unauthenticated()
}

// fingerprint identifies a state value in logs without revealing it.
func fingerprint(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:6])
}

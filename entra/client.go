package entra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	defaultAuthorityHost = "https://login.microsoftonline.com"
	defaultTimeout       = 10 * time.Second
	// Entra always returns expires_in; this only covers a malformed response.
	fallbackTokenLifetime = time.Hour
)

// Config describes the app registration and the endpoints to use. AuthURL and TokenURL
// override the endpoints derived from AuthorityHost and TenantID.
type Config struct {
	ClientID      string
	ClientSecret  string
	TenantID      string
	AuthorityHost string
	AuthURL       string
	TokenURL      string
	RedirectURL   string
	Scopes        []string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client performs the authorization code and refresh token grants. It never retries:
// codes are single use and retry policy belongs to the caller.
type Client struct {
	oauth      oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
	logoutURL  string
	nowTime    func() time.Time
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithClock sets the clock used to stamp IssuedAt (primarily for testing).
func WithClock(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if cfg.TenantID == "" && (cfg.AuthURL == "" || cfg.TokenURL == "") {
		missing = append(missing, "tenant id")
	}
	if cfg.RedirectURL == "" {
		missing = append(missing, "redirect url")
	}
	if len(missing) > 0 {
		return nil, &apperrors.ConfigurationError{Missing: missing}
	}

	host := strings.TrimRight(cfg.AuthorityHost, "/")
	if host == "" {
		host = defaultAuthorityHost
	}

	endpoint := microsoft.AzureADEndpoint(cfg.TenantID)
	if host != defaultAuthorityHost {
		endpoint = oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/%s/oauth2/v2.0/authorize", host, cfg.TenantID),
			TokenURL: fmt.Sprintf("%s/%s/oauth2/v2.0/token", host, cfg.TenantID),
		}
	}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		httpClient: httpClient,
		timeout:    timeout,
		logoutURL:  fmt.Sprintf("%s/%s/oauth2/v2.0/logout", host, cfg.TenantID),
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Hints are the optional account-selection parameters of the authorize redirect.
type Hints struct {
	Prompt     string
	DomainHint string
	LoginHint  string
}

// AuthCodeURL builds the authorize URL for this registration.
func (c *Client) AuthCodeURL(state, challenge string, hints Hints) (string, error) {
	return AuthURL(AuthURLParams{
		Endpoint:    c.oauth.Endpoint.AuthURL,
		ClientID:    c.oauth.ClientID,
		RedirectURI: c.oauth.RedirectURL,
		Scopes:      c.oauth.Scopes,
		Challenge:   challenge,
		State:       state,
		Prompt:      hints.Prompt,
		DomainHint:  hints.DomainHint,
		LoginHint:   hints.LoginHint,
	})
}

// ExchangeCode redeems an authorization code. verifier is sent as code_verifier when set.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	if code == "" {
		return nil, &apperrors.TokenExchangeError{ProviderError: apperrors.ProviderError{
			ErrorCode: "invalid_request", Description: "authorization code is empty",
		}}
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, &apperrors.TokenExchangeError{ProviderError: providerError(err)}
	}
	return c.tokenSet(tok), nil
}

// Refresh redeems a refresh token. Entra may rotate the refresh token; when the response
// omits one the previous token is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, &apperrors.TokenRefreshError{ProviderError: apperrors.ProviderError{
			ErrorCode: "invalid_grant", Description: "no refresh token",
		}}
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, &apperrors.TokenRefreshError{ProviderError: providerError(err)}
	}
	return c.tokenSet(tok), nil
}

// LogoutURL returns the Entra end-session URL. Sending the browser there signs the user
// out of Microsoft as well as the portal.
func (c *Client) LogoutURL(postLogoutRedirect string) string {
	if postLogoutRedirect == "" {
		return c.logoutURL
	}
	return c.logoutURL + "?" + url.Values{"post_logout_redirect_uri": {postLogoutRedirect}}.Encode()
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), cancel
}

func (c *Client) tokenSet(tok *oauth2.Token) *TokenSet {
	now := c.nowTime()
	ts := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		IssuedAt:     now,
		Expiry:       tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if ts.Expiry.IsZero() {
		ts.Expiry = now.Add(fallbackTokenLifetime)
	}
	ts.ExpiresIn = int64(ts.Expiry.Sub(now).Seconds())
	return ts
}

// providerError turns an oauth2 failure into the provider detail carried by typed errors.
// Timeouts and transport failures have StatusCode 0.
func providerError(err error) apperrors.ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := apperrors.ProviderError{
			ErrorCode:   re.ErrorCode,
			Description: re.ErrorDescription,
			Body:        string(re.Body),
		}
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		return pe
	}
	return apperrors.ProviderError{Cause: err}
}

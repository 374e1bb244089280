// Package entrafakes provides an in-process stand-in for the Entra token endpoint and
// the Graph /me API.
package entrafakes

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nextphaseit/portal-identity/entra"
	"github.com/nextphaseit/portal-identity/pkce"
)

const (
	ClientID     = "portal-client"
	ClientSecret = "portal-secret"
	TenantID     = "11111111-2222-3333-4444-555555555555"
)

type issuedCode struct {
	challenge string
	profile   entra.Profile
}

// FakeProvider serves /{tenant}/oauth2/v2.0/token and /v1.0/me* from an httptest server.
// Codes are single use and PKCE is enforced the way Entra does.
type FakeProvider struct {
	Server *httptest.Server

	mu            sync.Mutex
	codes         map[string]issuedCode
	accessTokens  map[string]entra.Profile
	refreshTokens map[string]entra.Profile
	refreshError  string
	refreshHold   chan struct{}
	profileStatus int
	photo         []byte
	expiresIn     int
	key           *rsa.PrivateKey

	TokenCalls   atomic.Int32
	RefreshCalls atomic.Int32
	ProfileCalls atomic.Int32
	RevokeCalls  atomic.Int32
}

// NewFakeProvider starts the fake. Callers must Close it.
func NewFakeProvider() *FakeProvider {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	f := &FakeProvider{
		codes:         make(map[string]issuedCode),
		accessTokens:  make(map[string]entra.Profile),
		refreshTokens: make(map[string]entra.Profile),
		expiresIn:     3600,
		key:           key,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+TenantID+"/oauth2/v2.0/token", f.handleToken)
	mux.HandleFunc("GET /v1.0/me", f.handleMe)
	mux.HandleFunc("GET /v1.0/me/photo/$value", f.handlePhoto)
	mux.HandleFunc("POST /v1.0/me/revokeSignInSessions", f.handleRevoke)
	f.Server = httptest.NewServer(mux)
	return f
}

func (f *FakeProvider) Close() {
	f.ReleaseRefresh()
	f.Server.Close()
}

// URL is both the authority host and the Graph base URL.
func (f *FakeProvider) URL() string {
	return f.Server.URL
}

// Issuer is the iss claim of the ID tokens the fake signs.
func (f *FakeProvider) Issuer() string {
	return fmt.Sprintf("%s/%s/v2.0", f.Server.URL, TenantID)
}

// Config returns an entra.Config pointing at the fake.
func (f *FakeProvider) Config(redirectURL string) entra.Config {
	return entra.Config{
		ClientID:      ClientID,
		ClientSecret:  ClientSecret,
		TenantID:      TenantID,
		AuthorityHost: f.Server.URL,
		RedirectURL:   redirectURL,
		Scopes:        []string{"openid", "profile", "email", "offline_access", "User.Read"},
		Timeout:       2 * time.Second,
	}
}

// Verifier returns an ID token verifier trusting the fake's signing key.
func (f *FakeProvider) Verifier() *entra.IDTokenVerifier {
	return entra.NewStaticIDTokenVerifier(f.Issuer(), ClientID, &f.key.PublicKey)
}

// IssueCode records a code bound to challenge, as if profile had signed in.
func (f *FakeProvider) IssueCode(challenge string, profile entra.Profile) string {
	code := "code-" + uuid.NewString()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = issuedCode{challenge: challenge, profile: profile}
	return code
}

// Authorize plays the browser's part: it reads state and code_challenge from an
// authorize URL and returns a code for profile.
func (f *FakeProvider) Authorize(authURL string, profile entra.Profile) (code, state string, err error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", "", err
	}
	q := u.Query()
	if q.Get("code_challenge_method") != pkce.MethodS256 {
		return "", "", fmt.Errorf("unexpected code_challenge_method %q", q.Get("code_challenge_method"))
	}
	return f.IssueCode(q.Get("code_challenge"), profile), q.Get("state"), nil
}

// FailRefresh makes refresh grants fail with errorCode until cleared with "".
func (f *FakeProvider) FailRefresh(errorCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshError = errorCode
}

// HoldRefresh makes refresh grants block until ReleaseRefresh or the request is cancelled.
func (f *FakeProvider) HoldRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshHold == nil {
		f.refreshHold = make(chan struct{})
	}
}

func (f *FakeProvider) ReleaseRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshHold != nil {
		close(f.refreshHold)
		f.refreshHold = nil
	}
}

// SetProfileStatus forces /v1.0/me to answer with status; 0 restores normal behaviour.
func (f *FakeProvider) SetProfileStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileStatus = status
}

// SetExpiresIn sets expires_in for subsequently issued tokens.
func (f *FakeProvider) SetExpiresIn(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiresIn = seconds
}

func (f *FakeProvider) SetPhoto(photo []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photo = photo
}

// RevokeAccessTokens makes every outstanding access token answer 401 at Graph.
func (f *FakeProvider) RevokeAccessTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessTokens = make(map[string]entra.Profile)
}

func (f *FakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	f.TokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "AADSTS7000215: Invalid client secret provided.")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchangeCode(w, r)
	case "refresh_token":
		f.refresh(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

func (f *FakeProvider) exchangeCode(w http.ResponseWriter, r *http.Request) {
	code := r.PostForm.Get("code")

	f.mu.Lock()
	issued, ok := f.codes[code]
	delete(f.codes, code)
	f.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "AADSTS70008: The provided authorization code or refresh token has expired or was already redeemed.")
		return
	}
	if !pkce.Verify(r.PostForm.Get("code_verifier"), issued.challenge) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "AADSTS501481: The Code_Verifier does not match the code_challenge supplied in the authorization request.")
		return
	}
	f.writeTokens(w, issued.profile, true)
}

func (f *FakeProvider) refresh(w http.ResponseWriter, r *http.Request) {
	f.RefreshCalls.Add(1)

	f.mu.Lock()
	hold := f.refreshHold
	failure := f.refreshError
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if failure != "" {
		writeOAuthError(w, http.StatusBadRequest, failure, "AADSTS700082: The refresh token has expired due to inactivity.")
		return
	}

	refreshToken := r.PostForm.Get("refresh_token")
	f.mu.Lock()
	profile, ok := f.refreshTokens[refreshToken]
	delete(f.refreshTokens, refreshToken)
	f.mu.Unlock()

	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "AADSTS9002313: Invalid request. Request is malformed or invalid.")
		return
	}
	f.writeTokens(w, profile, false)
}

func (f *FakeProvider) writeTokens(w http.ResponseWriter, profile entra.Profile, withIDToken bool) {
	accessToken := "at-" + uuid.NewString()
	refreshToken := "rt-" + uuid.NewString()

	f.mu.Lock()
	f.accessTokens[accessToken] = profile
	f.refreshTokens[refreshToken] = profile
	expiresIn := f.expiresIn
	f.mu.Unlock()

	body := map[string]any{
		"token_type":    "Bearer",
		"scope":         "openid profile email offline_access User.Read",
		"expires_in":    expiresIn,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	}
	if withIDToken {
		idToken, err := f.signIDToken(profile)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		body["id_token"] = idToken
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(body)
}

func (f *FakeProvider) signIDToken(profile entra.Profile) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                f.Issuer(),
		"aud":                ClientID,
		"sub":                "sub-" + profile.ID,
		"oid":                profile.ID,
		"tid":                TenantID,
		"name":               profile.Name(),
		"preferred_username": profile.Email(),
		"iat":                now.Unix(),
		"nbf":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(f.key)
}

func (f *FakeProvider) profileFor(r *http.Request) (entra.Profile, int) {
	auth := r.Header.Get("Authorization")
	accessToken, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return entra.Profile{}, http.StatusUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileStatus != 0 {
		return entra.Profile{}, f.profileStatus
	}
	profile, ok := f.accessTokens[accessToken]
	if !ok {
		return entra.Profile{}, http.StatusUnauthorized
	}
	return profile, http.StatusOK
}

func (f *FakeProvider) handleMe(w http.ResponseWriter, r *http.Request) {
	f.ProfileCalls.Add(1)
	profile, status := f.profileFor(r)
	if status != http.StatusOK {
		writeGraphError(w, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(profile)
}

func (f *FakeProvider) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if _, status := f.profileFor(r); status != http.StatusOK {
		writeGraphError(w, status)
		return
	}
	f.mu.Lock()
	photo := f.photo
	f.mu.Unlock()
	if len(photo) == 0 {
		writeGraphError(w, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(photo)
}

func (f *FakeProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	f.RevokeCalls.Add(1)
	if _, status := f.profileFor(r); status != http.StatusOK {
		writeGraphError(w, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func writeGraphError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    http.StatusText(status),
			"message": "fake graph error",
		},
	})
}

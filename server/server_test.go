package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nextphaseit/portal-identity/authflow"
	"github.com/nextphaseit/portal-identity/entra"
	"github.com/nextphaseit/portal-identity/entra/entrafakes"
	"github.com/nextphaseit/portal-identity/internal/config"
	"github.com/nextphaseit/portal-identity/internal/metrics"
	"github.com/nextphaseit/portal-identity/server"
	"github.com/nextphaseit/portal-identity/sessions"
	"github.com/nextphaseit/portal-identity/tenants"
	"github.com/nextphaseit/portal-identity/token"
	"github.com/nextphaseit/portal-identity/users"
	"github.com/stretchr/testify/require"
)

const password = "Portal123"

var staff = entra.Profile{
	ID:                "00000000-0000-0000-0000-00000000051a",
	DisplayName:       "Staff Member",
	Mail:              "staff@nextphaseit.org",
	UserPrincipalName: "staff@nextphaseit.org",
}

type testServer struct {
	url     string
	fake    *entrafakes.FakeProvider
	manager *sessions.Manager
}

func newTestServer(t *testing.T, microsoft bool) *testServer {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("BASE_URL", "http://portal.test")

	fake := entrafakes.NewFakeProvider()
	t.Cleanup(fake.Close)

	file := tenants.DefaultFile()
	hash, err := users.HashPassword(password)
	require.NoError(t, err)
	file.LocalAccounts = []users.LocalAccount{
		{Email: "demo@nextphaseit.org", Name: "Demo User", PasswordHash: hash},
		{Email: "admin@nextphaseit.org", Name: "Portal Admin", PasswordHash: hash},
	}
	registry, err := tenants.NewRegistry(file)
	require.NoError(t, err)
	directory, err := users.NewLocalDirectory(registry.LocalAccounts())
	require.NoError(t, err)

	deps := sessions.Dependencies{
		Sessions:  sessions.NewInMemoryRepo(),
		Resolver:  tenants.NewResolver(registry, tenants.AdminPolicyList),
		Directory: directory,
	}
	var options []server.Option
	if microsoft {
		client, err := entra.NewClient(fake.Config("http://portal.test" + config.CallbackPath))
		require.NoError(t, err)
		deps.Client = client
		deps.Profiles = entra.NewGraphClient(fake.URL(), 2*time.Second, nil)
		deps.Flows = authflow.NewInMemoryRepo(10 * time.Minute)
		options = append(options, server.WithProviderLogout(client.LogoutURL))
	}
	manager, err := sessions.NewManager(deps)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	signer, err := token.NewSigner(strings.Repeat("k", token.MinSecretLength), "portal-identity")
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)
	options = append(options, server.WithMetrics(m))

	srv, err := server.New(config.New(), manager, signer, options...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testServer{url: ts.URL, fake: fake, manager: manager}
}

// browser returns a client that keeps cookies and does not follow redirects.
func (ts *testServer) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (ts *testServer) get(t *testing.T, c *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := c.Get(ts.url + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (ts *testServer) send(t *testing.T, c *http.Client, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.url+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// startMicrosoftLogin follows the login redirect and has the fake issue a code.
func (ts *testServer) startMicrosoftLogin(t *testing.T, c *http.Client, profile entra.Profile) string {
	t.Helper()
	resp := ts.get(t, c, server.RouteMicrosoftLogin+"?return_to=/portal/tickets")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, ts.fake.URL()+"/"+entrafakes.TenantID+"/oauth2/v2.0/authorize?"))

	code, state, err := ts.fake.Authorize(location, profile)
	require.NoError(t, err)
	return server.RouteCallback + "?" + url.Values{"code": {code}, "state": {state}}.Encode()
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestMicrosoftSignInRoundTrip(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.browser(t)

	callback := ts.startMicrosoftLogin(t, c, staff)
	resp := ts.get(t, c, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/portal/tickets", resp.Header.Get("Location"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	resp = ts.get(t, c, server.RouteSession)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "at-")
	require.NotContains(t, string(raw), "rt-")

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	user := body["user"].(map[string]any)
	require.Equal(t, "staff@nextphaseit.org", user["email"])
	require.Equal(t, "user", user["role"])
	require.Equal(t, "microsoft", user["auth_method"])
	require.Equal(t, "nextphaseit", body["tenant"].(map[string]any)["id"])

	// A repeated delivery of the callback lands on the same session
	resp = ts.get(t, c, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/portal/tickets", resp.Header.Get("Location"))
	require.EqualValues(t, 1, ts.fake.TokenCalls.Load())

	resp = ts.send(t, c, http.MethodPost, server.RouteSessionRefresh, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, ts.fake.RefreshCalls.Load())

	resp = ts.send(t, c, http.MethodPost, server.RouteAuthLogout, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	redirect := decode(t, resp)["redirect"].(string)
	require.Contains(t, redirect, "/oauth2/v2.0/logout")
	require.Contains(t, redirect, url.QueryEscape("http://portal.test/login"))

	resp = ts.get(t, c, server.RouteSession)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallbackFromAnotherBrowserIsRejected(t *testing.T) {
	ts := newTestServer(t, true)

	callback := ts.startMicrosoftLogin(t, ts.browser(t), staff)

	attacker := ts.browser(t)
	resp := ts.get(t, attacker, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, server.RouteLoginPage, location.Path)
	require.Equal(t, "state_mismatch", location.Query().Get("error"))
	require.Zero(t, ts.fake.TokenCalls.Load())

	resp = ts.get(t, attacker, server.RouteSession)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallbackProviderError(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.browser(t)

	resp := ts.get(t, c, server.RouteMicrosoftLogin)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	authURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	resp = ts.get(t, c, server.RouteCallback+"?"+url.Values{
		"error":             {"access_denied"},
		"error_description": {"AADSTS65004: User declined to consent"},
		"state":             {state},
	}.Encode())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "access_denied", location.Query().Get("error"))
	require.NotContains(t, location.Query().Get("message"), "AADSTS")
}

func TestUnauthorizedDomainGetsNoSession(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.browser(t)

	callback := ts.startMicrosoftLogin(t, c, entra.Profile{ID: "evil-1", Mail: "user@evil.com"})
	resp := ts.get(t, c, callback)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "unauthorized_domain", location.Query().Get("error"))

	resp = ts.get(t, c, server.RouteSession)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMicrosoftLoginDisabled(t *testing.T) {
	ts := newTestServer(t, false)
	c := ts.browser(t)

	resp := ts.get(t, c, server.RouteMicrosoftLogin)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "not_configured", decode(t, resp)["error"])

	resp = ts.get(t, c, server.RouteProviders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"microsoft": false, "local": true}, decode(t, resp))
}

func TestLocalLoginAndPreferences(t *testing.T) {
	ts := newTestServer(t, false)
	c := ts.browser(t)

	resp := ts.send(t, c, http.MethodPost, server.RouteAuthLogin, `{"email":"demo@nextphaseit.org","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_credentials", decode(t, resp)["error"])

	resp = ts.send(t, c, http.MethodPost, server.RouteAuthLogin, `{"email":"demo@nextphaseit.org","password":"Portal123","return_to":"https://evil.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, server.RoutePortal, body["return_to"])
	require.Equal(t, "local", body["user"].(map[string]any)["auth_method"])

	resp = ts.send(t, c, http.MethodPatch, server.RouteSessionPreferences, `{"theme":"dark"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prefs := decode(t, resp)["user"].(map[string]any)["preferences"].(map[string]any)
	require.Equal(t, "dark", prefs["theme"])
	require.Equal(t, "en", prefs["language"])
	require.Equal(t, true, prefs["email_notifications"])

	resp = ts.send(t, c, http.MethodPatch, server.RouteSessionPreferences, `{"theme":"neon"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Local sessions have nothing to refresh
	resp = ts.send(t, c, http.MethodPost, server.RouteSessionRefresh, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.send(t, c, http.MethodPost, server.RouteAuthLogout, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, server.RouteLoginPage, decode(t, resp)["redirect"])

	resp = ts.get(t, c, server.RouteSession)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "session_expired", decode(t, resp)["error"])
}

func TestLocalLoginFormPost(t *testing.T) {
	ts := newTestServer(t, false)
	c := ts.browser(t)

	resp, err := c.PostForm(ts.url+server.RouteAuthLogin, url.Values{
		"email": {"demo@nextphaseit.org"}, "password": {password}, "return_to": {"/portal/kb"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/portal/kb", resp.Header.Get("Location"))

	resp, err = c.PostForm(ts.url+server.RouteAuthLogin, url.Values{"email": {"user@evil.com"}, "password": {password}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), "error=unauthorized_domain")
}

func TestAdminTenantsRequiresAdmin(t *testing.T) {
	ts := newTestServer(t, false)

	anonymous := ts.browser(t)
	resp := ts.get(t, anonymous, server.RouteAdminTenants)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	demo := ts.browser(t)
	resp = ts.send(t, demo, http.MethodPost, server.RouteAuthLogin, `{"email":"demo@nextphaseit.org","password":"Portal123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.get(t, demo, server.RouteAdminTenants)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := ts.browser(t)
	resp = ts.send(t, admin, http.MethodPost, server.RouteAuthLogin, `{"email":"admin@nextphaseit.org","password":"Portal123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.get(t, admin, server.RouteAdminTenants+"?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "admin_emails")

	var page struct {
		Tenants []tenants.Tenant `json:"tenants"`
		Total   int              `json:"total"`
		Limit   int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Equal(t, 1, page.Total)
	require.Equal(t, 10, page.Limit)
	require.Equal(t, "nextphaseit", page.Tenants[0].ID)

	resp = ts.get(t, admin, server.RouteAdminTenants+"?offset=-1")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTamperedSessionCookie(t *testing.T) {
	ts := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodGet, ts.url+server.RouteSession, nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "portal_session", Value: "not.a.token"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCorsPreflight(t *testing.T) {
	ts := newTestServer(t, false)

	req, err := http.NewRequest(http.MethodOptions, ts.url+server.RouteSession, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://portal.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://portal.test", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequest(http.MethodOptions, ts.url+server.RouteSession, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, true)
	c := ts.browser(t)

	resp := ts.get(t, c, server.RouteHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode(t, resp)["status"])

	resp = ts.get(t, c, server.RouteMetrics)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "portal_identity_http_requests_total")
}

package entra

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"golang.org/x/oauth2"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com"
	profileSelect       = "id,displayName,givenName,surname,mail,userPrincipalName,department,jobTitle,officeLocation"
	maxPhotoBytes       = 4 << 20
)

// GraphClient reads the signed-in user's profile from Microsoft Graph.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewGraphClient returns a client for baseURL (e.g. "https://graph.microsoft.com").
func NewGraphClient(baseURL string, timeout time.Duration, httpClient *http.Client) *GraphClient {
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// FetchProfile calls GET /v1.0/me. A 401 surfaces as a ProfileFetchError whose
// Unauthenticated method reports true, telling the caller to refresh and retry once.
func (g *GraphClient) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.get(ctx, accessToken, "/v1.0/me?$select="+profileSelect)
	if err != nil {
		return nil, &apperrors.ProfileFetchError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &apperrors.ProfileFetchError{StatusCode: resp.StatusCode}
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, &apperrors.ProfileFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode profile: %w", err)}
	}
	if profile.ID == "" || profile.Email() == "" {
		return nil, &apperrors.ProfileFetchError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("profile is missing id or email")}
	}
	return &profile, nil
}

// FetchPhoto returns the user's photo as a data URL, or "" when there is none. Photo
// failures are never fatal; only a cancelled context is reported.
func (g *GraphClient) FetchPhoto(ctx context.Context, accessToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.get(ctx, accessToken, "/v1.0/me/photo/$value")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr == context.Canceled {
			return "", ctxErr
		}
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil || len(body) == 0 {
		return "", nil
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

// RevokeSignInSessions invalidates the user's refresh tokens at Microsoft. It requires
// the User.RevokeSessions.All delegated permission.
func (g *GraphClient) RevokeSignInSessions(ctx context.Context, accessToken string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1.0/me/revokeSignInSessions", nil)
	if err != nil {
		return err
	}
	resp, err := g.bearerClient(ctx, accessToken).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("revokeSignInSessions: http %d", resp.StatusCode)
	}
	return nil
}

func (g *GraphClient) get(ctx context.Context, accessToken, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return g.bearerClient(ctx, accessToken).Do(req)
}

// bearerClient wraps the base client with an oauth2 transport carrying accessToken.
func (g *GraphClient) bearerClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

package entra

import (
	"fmt"
	"strings"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/nextphaseit/portal-identity/pkce"
	"golang.org/x/oauth2"
)

// AuthURLParams are the inputs of the authorize redirect. Prompt, DomainHint and
// LoginHint are optional.
type AuthURLParams struct {
	Endpoint    string
	ClientID    string
	RedirectURI string
	Scopes      []string
	Challenge   string
	State       string

	Prompt     string // e.g. "select_account"
	DomainHint string // e.g. "nextphaseit.org"
	LoginHint  string
}

// AuthURL builds the /authorize URL. A missing state, challenge, client id or redirect
// URI is rejected rather than silently producing a weaker request.
func AuthURL(p AuthURLParams) (string, error) {
	var missing []string
	if strings.TrimSpace(p.Endpoint) == "" {
		missing = append(missing, "authorize endpoint")
	}
	if strings.TrimSpace(p.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(p.RedirectURI) == "" {
		missing = append(missing, "redirect_uri")
	}
	if strings.TrimSpace(p.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(p.Challenge) == "" {
		missing = append(missing, "code_challenge")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("[entra.AuthURL] %w: %s", apperrors.ErrMissingAuthParameter, strings.Join(missing, ", "))
	}

	cfg := oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURI,
		Scopes:      p.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: p.Endpoint},
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("code_challenge", p.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	}
	if p.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", p.Prompt))
	}
	if p.DomainHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("domain_hint", p.DomainHint))
	}
	if p.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", p.LoginHint))
	}

	return cfg.AuthCodeURL(p.State, opts...), nil
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the identity subsystem. Typed errors below unwrap to these so
// callers can use errors.Is regardless of which component produced the failure.
var (
	// Startup / configuration
	ErrConfiguration = errors.New("identity provider not configured")

	// Authorization round trip
	ErrAuthorization        = errors.New("authorization denied by identity provider")
	ErrStateMismatch        = errors.New("authorization state mismatch")
	ErrMissingAuthParameter = errors.New("missing required authorization parameter")

	// Token endpoint
	ErrTokenExchange = errors.New("token exchange failed")
	ErrTokenRefresh  = errors.New("token refresh failed")

	// Profile endpoint
	ErrProfileFetch = errors.New("profile fetch failed")

	// Tenancy
	ErrUnauthorizedDomain = errors.New("email domain not authorized")
	ErrTenantNotFound     = errors.New("organization not recognized")

	// Sessions
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionNotFound = errors.New("session not found")

	// Local credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ConfigurationError reports which settings are missing. It disables Microsoft login
// without stopping the rest of the application.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing %v", ErrConfiguration.Error(), e.Missing)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// AuthorizationError is returned when the provider redirects back with an error parameter.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrAuthorization.Error(), e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrAuthorization.Error(), e.Code, e.Description)
}

func (e *AuthorizationError) Unwrap() error { return ErrAuthorization }

// ProviderError carries the token endpoint's response. StatusCode is zero when the
// request never produced a response (timeout, connection failure).
type ProviderError struct {
	StatusCode  int
	ErrorCode   string
	Description string
	Body        string
	Cause       error
}

func (e ProviderError) detail() string {
	switch {
	case e.StatusCode == 0 && e.Cause != nil:
		return e.Cause.Error()
	case e.ErrorCode != "":
		return fmt.Sprintf("http %d: %s %s", e.StatusCode, e.ErrorCode, e.Description)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

// TokenExchangeError is a failed authorization_code grant. Codes are single use, so
// callers must not retry with the same code.
type TokenExchangeError struct {
	ProviderError
}

func (e *TokenExchangeError) Error() string {
	return ErrTokenExchange.Error() + ": " + e.detail()
}

func (e *TokenExchangeError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrTokenExchange, e.Cause}
	}
	return []error{ErrTokenExchange}
}

// TokenRefreshError is a failed refresh_token grant. The session must be discarded.
type TokenRefreshError struct {
	ProviderError
}

func (e *TokenRefreshError) Error() string {
	return ErrTokenRefresh.Error() + ": " + e.detail()
}

func (e *TokenRefreshError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrTokenRefresh, e.Cause}
	}
	return []error{ErrTokenRefresh}
}

// ProfileFetchError is a non-2xx response from the profile endpoint.
type ProfileFetchError struct {
	StatusCode int
	Cause      error
}

func (e *ProfileFetchError) Error() string {
	if e.StatusCode == 0 && e.Cause != nil {
		return ErrProfileFetch.Error() + ": " + e.Cause.Error()
	}
	return fmt.Sprintf("%s: http %d", ErrProfileFetch.Error(), e.StatusCode)
}

func (e *ProfileFetchError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrProfileFetch, e.Cause}
	}
	return []error{ErrProfileFetch}
}

// Unauthenticated reports whether the profile endpoint rejected the bearer token.
func (e *ProfileFetchError) Unauthenticated() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// UserMessage returns the message shown to end users. Provider bodies never leak through.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "Microsoft sign-in is not available right now."
	case errors.Is(err, ErrAuthorization):
		return "Sign-in was cancelled or refused by Microsoft. Please try again."
	case errors.Is(err, ErrStateMismatch):
		return "This sign-in response could not be verified and was rejected for your security. Please start the sign-in again."
	case errors.Is(err, ErrUnauthorizedDomain):
		return "Your organization is not authorized to use this portal. Contact your administrator for access."
	case errors.Is(err, ErrTenantNotFound):
		return "Your organization is not recognized. Contact your administrator for access."
	case errors.Is(err, ErrTokenExchange), errors.Is(err, ErrProfileFetch):
		return "Authentication failed, please try again."
	case errors.Is(err, ErrTokenRefresh), errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionNotFound):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	default:
		return "Something went wrong. Please try again."
	}
}

// HTTPStatus maps an identity error onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrAuthorization), errors.Is(err, ErrMissingAuthParameter):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorizedDomain), errors.Is(err, ErrTenantNotFound):
		return http.StatusForbidden
	case errors.Is(err, ErrTokenExchange), errors.Is(err, ErrTokenRefresh), errors.Is(err, ErrProfileFetch),
		errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

package errors_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"configuration", &apperrors.ConfigurationError{Missing: []string{"ENTRA_CLIENT_ID"}}, apperrors.ErrConfiguration, http.StatusServiceUnavailable},
		{"authorization", &apperrors.AuthorizationError{Code: "access_denied"}, apperrors.ErrAuthorization, http.StatusBadRequest},
		{"exchange", &apperrors.TokenExchangeError{ProviderError: apperrors.ProviderError{StatusCode: 400, ErrorCode: "invalid_grant"}}, apperrors.ErrTokenExchange, http.StatusUnauthorized},
		{"refresh", &apperrors.TokenRefreshError{ProviderError: apperrors.ProviderError{StatusCode: 400, ErrorCode: "invalid_grant"}}, apperrors.ErrTokenRefresh, http.StatusUnauthorized},
		{"profile", &apperrors.ProfileFetchError{StatusCode: 503}, apperrors.ErrProfileFetch, http.StatusUnauthorized},
		{"state", apperrors.ErrStateMismatch, apperrors.ErrStateMismatch, http.StatusBadRequest},
		{"domain", apperrors.ErrUnauthorizedDomain, apperrors.ErrUnauthorizedDomain, http.StatusForbidden},
		{"tenant", apperrors.ErrTenantNotFound, apperrors.ErrTenantNotFound, http.StatusForbidden},
		{"missing parameter", apperrors.ErrMissingAuthParameter, apperrors.ErrMissingAuthParameter, http.StatusBadRequest},
		{"unknown", errors.New("boom"), nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("[Caller] %w", tt.err)
			if tt.sentinel != nil {
				require.ErrorIs(t, wrapped, tt.sentinel)
			}
			require.Equal(t, tt.status, apperrors.HTTPStatus(wrapped))
			require.NotEmpty(t, apperrors.UserMessage(wrapped))
		})
	}
}

func TestProviderErrorKeepsCause(t *testing.T) {
	err := &apperrors.TokenRefreshError{ProviderError: apperrors.ProviderError{Cause: context.DeadlineExceeded}}
	require.ErrorIs(t, err, apperrors.ErrTokenRefresh)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "deadline exceeded")

	var refreshErr *apperrors.TokenRefreshError
	require.True(t, apperrors.As(fmt.Errorf("wrapped: %w", err), &refreshErr))
	require.Zero(t, refreshErr.StatusCode)
}

func TestProfileFetchError_Unauthenticated(t *testing.T) {
	require.True(t, (&apperrors.ProfileFetchError{StatusCode: 401}).Unauthenticated())
	require.False(t, (&apperrors.ProfileFetchError{StatusCode: 403}).Unauthenticated())
	require.False(t, (&apperrors.ProfileFetchError{Cause: errors.New("dial tcp")}).Unauthenticated())
}

func TestUserMessage_SecurityFailuresStayDistinct(t *testing.T) {
	state := apperrors.UserMessage(apperrors.ErrStateMismatch)
	domain := apperrors.UserMessage(apperrors.ErrUnauthorizedDomain)
	generic := apperrors.UserMessage(&apperrors.TokenExchangeError{})

	require.NotEqual(t, state, domain)
	require.NotEqual(t, state, generic)
	require.NotEqual(t, domain, generic)
	require.Empty(t, apperrors.UserMessage(nil))

	// Provider detail is never echoed to the user
	err := &apperrors.TokenExchangeError{ProviderError: apperrors.ProviderError{
		StatusCode: 400, ErrorCode: "invalid_client", Description: "AADSTS7000215: Invalid client secret provided.",
	}}
	require.Contains(t, err.Error(), "AADSTS7000215")
	require.NotContains(t, apperrors.UserMessage(err), "AADSTS")
}

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "context"))

	err := apperrors.Wrapf(apperrors.ErrSessionExpired, "[Manager.Validate] session %s", "abc")
	require.EqualError(t, err, "[Manager.Validate] session abc: session expired")
	require.True(t, apperrors.Is(err, apperrors.ErrSessionExpired))
}

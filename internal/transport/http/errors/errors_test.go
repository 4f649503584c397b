package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/codes"
	"github.com/pribylovaa/accounts-auth/internal/service"
	"github.com/pribylovaa/accounts-auth/internal/tokens"
)

func TestToHTTP_Table(t *testing.T) {
	t.Parallel()

	wrap := func(err error) error { return fmt.Errorf("layer: %w", err) }

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"nil", nil, http.StatusInternalServerError, "internal"},
		{"unknown", fmt.Errorf("db down"), http.StatusInternalServerError, "internal"},
		{"bad_body", wrap(ErrInvalidArgument), http.StatusBadRequest, "invalid_argument"},
		{"invalid_email", wrap(service.ErrInvalidEmail), http.StatusBadRequest, "invalid_email"},
		{"weak_password", wrap(service.ErrWeakPassword), http.StatusBadRequest, "weak_password"},
		{"password_too_long", wrap(service.ErrPasswordTooLong), http.StatusBadRequest, "password_too_long"},
		{"conflict", wrap(service.ErrEmailAlreadyRegistered), http.StatusConflict, "email_already_registered"},
		{"credentials", wrap(service.ErrInvalidCredentials), http.StatusUnauthorized, "invalid_credentials"},
		{"not_verified", wrap(service.ErrEmailNotVerified), http.StatusForbidden, "email_not_verified"},
		{"code_invalid", wrap(codes.ErrCodeInvalid), http.StatusBadRequest, "code_invalid"},
		{"code_expired", wrap(codes.ErrCodeExpired), http.StatusBadRequest, "code_expired"},
		{"code_used", wrap(codes.ErrCodeAlreadyUsed), http.StatusBadRequest, "code_already_used"},
		{"token_revoked", wrap(tokens.ErrTokenRevoked), http.StatusUnauthorized, "token_revoked"},
		{"guard_expired", fmt.Errorf("%w: %w", access.ErrUnauthenticated, tokens.ErrTokenExpired), http.StatusUnauthorized, "token_expired"},
		{"no_token", wrap(access.ErrUnauthenticated), http.StatusUnauthorized, "unauthenticated"},
		{"forbidden", wrap(access.ErrForbidden), http.StatusForbidden, "forbidden"},
		{"not_found", wrap(service.ErrNotFound), http.StatusNotFound, "not_found"},
		{"deadline", wrap(context.DeadlineExceeded), http.StatusGatewayTimeout, "deadline_exceeded"},
		{"validation", validation.Errors{"email": fmt.Errorf("must be a valid email address")}, http.StatusBadRequest, "invalid_argument"},
	}

	for _, tc := range cases {
		status, resp := ToHTTP(tc.err)
		require.Equal(t, tc.status, status, tc.name)
		require.Equal(t, tc.code, resp.Error.Code, tc.name)
		require.NotEmpty(t, resp.Error.Message, tc.name)
	}
}

func TestToHTTP_InternalHidesDetails(t *testing.T) {
	t.Parallel()

	_, resp := ToHTTP(fmt.Errorf("pq: password authentication failed for user %q", "root"))
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestWriteError_PropagatesRequestID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()

	WriteError(rr, req, service.ErrNotFound)

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "not_found", body.Error.Code)
	require.Equal(t, "rid-1", body.Error.RequestID)
}

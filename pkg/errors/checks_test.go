package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsError(t *testing.T) {
	t.Parallel()
	inner := New(CodeAuthenticationPayload, "invalid token payload")

	got, ok := AsError(fmt.Errorf("gateway: %w", inner))
	assert.True(t, ok)
	assert.Same(t, inner, got)

	got, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
	assert.Nil(t, got)

	got, ok = AsError(nil)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGetCodeAndHasCode(t *testing.T) {
	t.Parallel()
	err := New(CodeUnavailableCircuitOpen, "circuit open")

	assert.Equal(t, CodeUnavailableCircuitOpen, GetCode(err))
	assert.True(t, HasCode(err, CodeUnavailableCircuitOpen))
	assert.False(t, HasCode(err, CodeUnavailableAuthService))
	assert.Equal(t, Code(""), GetCode(errors.New("plain")))
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestCategoryChecks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		check     func(error) bool
		wantMatch bool
	}{
		{"reuse is authentication", New(CodeAuthenticationReuse, ""), IsAuthentication, true},
		{"denied is authorization", New(CodeAuthorizationDenied, ""), IsAuthorization, true},
		{"authz is not authentication", New(CodeAuthorizationDenied, ""), IsAuthentication, false},
		{"auth timeout is unavailable", New(CodeUnavailableAuthTimeout, ""), IsUnavailable, true},
		{"user creation is internal", New(CodeInternalUserCreation, ""), IsInternal, true},
		{"db timeout is timeout", New(CodeTimeoutDatabase, ""), IsTimeout, true},
		{"not found", New(CodeNotFoundUser, ""), IsNotFound, true},
		{"conflict", New(CodeConflictAlreadyExists, ""), IsConflict, true},
		{"validation", New(CodeValidationRequired, ""), IsValidation, true},
		{"plain error", errors.New("x"), IsInternal, false},
		{"nil", nil, IsUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMatch, tt.check(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	assert.True(t, IsRetryable(New(CodeUnavailableAuthService, "")))
	assert.True(t, IsRetryable(New(CodeTimeoutDatabase, "")))
	assert.False(t, IsRetryable(New(CodeAuthenticationReuse, "")))
	assert.False(t, IsRetryable(New(CodeInternalUserCreation, "")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestClientServerSplit(t *testing.T) {
	t.Parallel()
	assert.True(t, IsClientError(New(CodeAuthenticationMissing, "")))
	assert.True(t, IsClientError(New(CodeAuthorizationAdmin, "")))
	assert.False(t, IsClientError(New(CodeUnavailableDatabase, "")))
	assert.True(t, IsServerError(New(CodeUnavailableDatabase, "")))
	assert.True(t, IsServerError(New(CodeInternalUpstreamResponse, "")))
	assert.False(t, IsServerError(New(CodeAuthenticationInvalid, "")))
}

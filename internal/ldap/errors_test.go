package ldap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name         string
		operation    string
		err          error
		wantNil      bool
		wantCode     uint16
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{
			name:      "nil error",
			operation: "search",
			err:       nil,
			wantNil:   true,
		},
		{
			name:         "entry exists",
			operation:    "add",
			err:          ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("already exists")),
			wantCode:     ldap.LDAPResultEntryAlreadyExists,
			wantCategory: ErrorCategoryConflict,
		},
		{
			name:         "network error",
			operation:    "search",
			err:          ldap.NewError(ldap.ErrorNetwork, errors.New("connection reset")),
			wantCode:     ldap.ErrorNetwork,
			wantCategory: ErrorCategoryConnection,
			wantRetry:    true,
		},
		{
			name:         "generic error",
			operation:    "dial",
			err:          errors.New("dial tcp: connection refused"),
			wantCategory: ErrorCategoryConnection,
			wantRetry:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewLDAPError(tt.operation, "cn=x", tt.err)
			if tt.wantNil {
				assert.Nil(t, result)
				return
			}

			require.NotNil(t, result)
			assert.Equal(t, tt.operation, result.Operation)
			assert.Equal(t, tt.wantCode, result.LDAPCode)
			assert.Equal(t, tt.wantCategory, result.Category)
			assert.Equal(t, tt.wantRetry, result.IsRetryable())
			assert.ErrorIs(t, result, tt.err)
		})
	}
}

func TestLDAPError_Error(t *testing.T) {
	tests := []struct {
		name    string
		ldapErr *LDAPError
		want    string
	}{
		{
			name:    "basic error",
			ldapErr: &LDAPError{Operation: "search", Message: "operation failed"},
			want:    "LDAP search failed - operation failed",
		},
		{
			name:    "error with code",
			ldapErr: &LDAPError{Operation: "bind", LDAPCode: ldap.LDAPResultInvalidCredentials, Message: "Invalid Credentials"},
			want:    "LDAP bind failed (code 49) - Invalid Credentials",
		},
		{
			name:    "error with server message and DN",
			ldapErr: &LDAPError{Operation: "add", Message: "Entry Already Exists", ServerMsg: "entry exists", DN: "o=acme,ou=accounts,dc=s3,dc=seagate,dc=com"},
			want:    "LDAP add failed - Entry Already Exists - server: entry exists - DN: o=acme,ou=accounts,dc=s3,dc=seagate,dc=com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ldapErr.Error())
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		code uint16
		want ErrorCategory
	}{
		{ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication},
		{ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission},
		{ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound},
		{ldap.LDAPResultEntryAlreadyExists, ErrorCategoryConflict},
		{ldap.LDAPResultNotAllowedOnNonLeaf, ErrorCategoryConflict},
		{ldap.LDAPResultConstraintViolation, ErrorCategoryValidation},
		{ldap.LDAPResultBusy, ErrorCategoryServer},
		{ldap.LDAPResultConnectError, ErrorCategoryConnection},
		{ldap.ErrorNetwork, ErrorCategoryConnection},
		{9999, ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code %d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.code))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"retryable connection error", NewConnectionError("connection failed", true, nil), true},
		{"non-retryable connection error", NewConnectionError("config error", false, nil), false},
		{"busy", NewLDAPError("search", "", ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))), true},
		{"invalid credentials", NewLDAPError("bind", "", ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password"))), false},
		{"wrapped raw ldap error", fmt.Errorf("lookup: %w", ldap.NewError(ldap.LDAPResultUnavailable, errors.New("down"))), true},
		{"validation", errors.New("invalid syntax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	notFound := NewLDAPError("search", "", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))
	conflict := fmt.Errorf("create: %w", NewLDAPError("add", "", ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("exists"))))

	assert.True(t, IsNotFoundError(notFound))
	assert.False(t, IsConflictError(notFound))
	assert.True(t, IsConflictError(conflict))
	assert.True(t, IsAuthenticationError(ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad"))))

	assert.True(t, IsUnavailableError(fmt.Errorf("%w: waited", ErrPoolExhausted)))
	assert.True(t, IsUnavailableError(ErrBackendUnavailable))
	assert.True(t, IsUnavailableError(NewLDAPError("search", "", ldap.NewError(ldap.ErrorNetwork, errors.New("eof")))))
	assert.False(t, IsUnavailableError(notFound))
}

func TestIsConnectionLost(t *testing.T) {
	assert.True(t, isConnectionLost(ldap.NewError(ldap.ErrorNetwork, errors.New("eof"))))
	assert.True(t, isConnectionLost(NewLDAPError("add", "", ldap.NewError(ldap.LDAPResultServerDown, errors.New("down")))))
	assert.False(t, isConnectionLost(ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("missing"))))
}

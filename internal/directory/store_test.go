package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

func TestTree(t *testing.T) {
	assert.Equal(t, "ou=accounts,dc=s3,dc=seagate,dc=com", tree.AccountsDN())
	assert.Equal(t, "o=acme,ou=accounts,dc=s3,dc=seagate,dc=com", tree.AccountDN("acme"))
	assert.Equal(t, "ou=users,o=acme,ou=accounts,dc=s3,dc=seagate,dc=com", tree.UsersDN("acme"))
	assert.Equal(t, "cn=alice,ou=users,o=acme,ou=accounts,dc=s3,dc=seagate,dc=com", tree.UserDN("acme", "alice"))
	assert.Equal(t, "ou=idp,o=acme,ou=accounts,dc=s3,dc=seagate,dc=com", tree.IdPDN("acme"))
	assert.Equal(t, "name=okta,ou=idp,o=acme,ou=accounts,dc=s3,dc=seagate,dc=com", tree.SAMLProviderDN("acme", "okta"))
	assert.Equal(t, "ak=AK1,ou=accesskeys,dc=s3,dc=seagate,dc=com", tree.AccessKeyDN("AK1"))

	// IAM names may contain DN special characters.
	assert.Equal(t, `cn=a\,b\=c,ou=users,o=acme,ou=accounts,dc=s3,dc=seagate,dc=com`, tree.UserDN("acme", "a,b=c"))
	assert.Equal(t, "acme", accountOfUserDN(tree.UserDN("acme", "a,b=c")))
}

func TestAccountIDFromARN(t *testing.T) {
	assert.Equal(t, "acct-1", accountIDFromARN("arn:aws:iam::acct-1:user/eng/alice"))
	assert.Equal(t, "", accountIDFromARN("garbage"))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(parseTimestamp("20260301120000Z")))
	assert.True(t, want.Equal(parseTimestamp("20260301120000.0Z")))
	assert.True(t, parseTimestamp("yesterday").IsZero())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class error
	}{
		{"not found", ldapError("search", ldap.LDAPResultNoSuchObject), model.ErrNoSuchEntity},
		{"exists", ldapError("add", ldap.LDAPResultEntryAlreadyExists), model.ErrEntityAlreadyExists},
		{"non-leaf", ldapError("delete", ldap.LDAPResultNotAllowedOnNonLeaf), model.ErrDeleteConflict},
		{"pool exhausted", s3ldap.ErrPoolExhausted, model.ErrServiceUnavailable},
		{"backend unavailable", unavailable(), model.ErrServiceUnavailable},
		{"busy", ldapError("add", ldap.LDAPResultBusy), model.ErrServiceUnavailable},
		{"already classified", model.NotFound(model.KindUser, "bob"), model.ErrNoSuchEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(model.KindUser, "alice", tt.err), tt.class)
		})
	}

	assert.NoError(t, classify(model.KindUser, "alice", nil))
	other := errors.New("object class violation")
	assert.Equal(t, other, classify(model.KindUser, "alice", other))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name      string
		opts      ListOptions
		want      []int
		truncated bool
		marker    int
	}{
		{"default page", ListOptions{}, []int{1, 2, 3, 4, 5}, false, 0},
		{"first page", ListOptions{MaxItems: 2}, []int{1, 2}, true, 2},
		{"middle page", ListOptions{MaxItems: 2, Marker: 2}, []int{3, 4}, true, 4},
		{"last page", ListOptions{MaxItems: 2, Marker: 4}, []int{5}, false, 0},
		{"marker past end", ListOptions{MaxItems: 2, Marker: 9}, []int{}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := paginate(items, tt.opts)
			assert.Equal(t, tt.want, page.Items)
			assert.Equal(t, tt.truncated, page.IsTruncated)
			assert.Equal(t, tt.marker, page.Marker)
		})
	}
}

func TestPing(t *testing.T) {
	client := &mockClient{}
	client.On("Ping", mock.Anything).Return(unavailable()).Once()
	client.On("Ping", mock.Anything).Return(nil).Once()
	store := newTestStore(client)

	assert.ErrorIs(t, store.Ping(context.Background()), model.ErrServiceUnavailable)
	assert.NoError(t, store.Ping(context.Background()))
}

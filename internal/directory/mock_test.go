package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/mock"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
)

const testBaseDN = "dc=s3,dc=seagate,dc=com"

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// mockClient implements s3ldap.Client for testing. Sessions run on the mock
// itself.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Search(ctx context.Context, req *s3ldap.SearchRequest) (*s3ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*s3ldap.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) SearchWithPaging(ctx context.Context, req *s3ldap.SearchRequest) (*s3ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*s3ldap.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) Add(ctx context.Context, req *s3ldap.AddRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) Modify(ctx context.Context, req *s3ldap.ModifyRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) ModifyDN(ctx context.Context, req *s3ldap.ModifyDNRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockClient) Delete(ctx context.Context, dn string) error {
	return m.Called(ctx, dn).Error(0)
}

func (m *mockClient) WithSession(ctx context.Context, fn func(s3ldap.Session) error) error {
	if err := m.Called(ctx).Error(0); err != nil {
		return err
	}
	return fn(m)
}

func (m *mockClient) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockClient) Stats() []s3ldap.PoolStats {
	return nil
}

func (m *mockClient) Close() error {
	return nil
}

func (m *mockClient) onSearch(method, baseDN string, err error, entries ...*ldap.Entry) *mock.Call {
	var result *s3ldap.SearchResult
	if err == nil {
		result = &s3ldap.SearchResult{Entries: entries, Total: len(entries)}
	}
	return m.On(method, mock.Anything, mock.MatchedBy(func(req *s3ldap.SearchRequest) bool {
		return req.BaseDN == baseDN
	})).Return(result, err)
}

func ldapError(op string, code uint16) error {
	return s3ldap.NewLDAPError(op, "", ldap.NewError(code, errors.New("test")))
}

func unavailable() error {
	return fmt.Errorf("%w: test", s3ldap.ErrBackendUnavailable)
}

func sequence(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestStore(client *mockClient, ids ...string) *Store {
	if len(ids) == 0 {
		ids = []string{"id-1", "id-2", "id-3"}
	}
	return NewStore(client, testBaseDN,
		WithClock(func() time.Time { return testTime }),
		WithIDGenerator(sequence(ids...)),
		WithSecretGenerator(func() (string, error) { return "c2VjcmV0", nil }),
	)
}

var tree = Tree{BaseDN: testBaseDN}

func accountEntry(name, id string) *ldap.Entry {
	return ldap.NewEntry(tree.AccountDN(name), map[string][]string{
		attrOrganization:    {name},
		attrAccountID:       {id},
		attrCreateTimestamp: {"20260301120000Z"},
	})
}

func userEntry(account, accountID, name, id, path string) *ldap.Entry {
	return ldap.NewEntry(tree.UserDN(account, name), map[string][]string{
		attrCommonName: {name},
		attrUserID:     {id},
		attrPath:       {path},
		attrARN:        {fmt.Sprintf("arn:aws:iam::%s:user%s%s", accountID, path, name)},
	})
}

func accessKeyEntry(id, userID, status string) *ldap.Entry {
	return ldap.NewEntry(tree.AccessKeyDN(id), map[string][]string{
		attrAccessKeyID: {id},
		attrSecretKey:   {"secret-" + id},
		attrUserID:      {userID},
		attrStatus:      {status},
	})
}

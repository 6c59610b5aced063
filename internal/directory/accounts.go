package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

var accountAttributes = []string{attrOrganization, attrAccountID, attrCreateTimestamp}

func accountFromEntry(entry *ldap.Entry) model.Account {
	return model.Account{
		ID:        entry.GetAttributeValue(attrAccountID),
		Name:      entry.GetAttributeValue(attrOrganization),
		CreatedAt: parseTimestamp(entry.GetAttributeValue(attrCreateTimestamp)),
	}
}

// addStep is one entry of a multi-entry write and the entity it belongs to.
type addStep struct {
	kind model.Kind
	name string
	req  *s3ldap.AddRequest
}

// CreateAccount creates an account together with its root user and the
// root user's access key. Either all entries are written or, after
// compensating deletes, none are.
func (s *Store) CreateAccount(ctx context.Context, name string) (*model.AccountCreation, error) {
	secret, err := s.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}

	now := s.now()
	account := model.Account{ID: s.newID(), Name: name, CreatedAt: now}
	root := model.User{
		ID:          s.newID(),
		Name:        name,
		Path:        model.DefaultPath,
		AccountID:   account.ID,
		AccountName: name,
		ARN:         model.UserARN(account.ID, model.DefaultPath, name),
		CreatedAt:   now,
	}
	key := model.AccessKey{
		ID:        s.newID(),
		SecretKey: secret,
		UserID:    root.ID,
		UserName:  root.Name,
		Status:    model.StatusActive,
		CreatedAt: now,
	}

	steps := []addStep{
		{model.KindAccount, name, &s3ldap.AddRequest{
			DN: s.tree.AccountDN(name),
			Attributes: map[string][]string{
				attrObjectClass:  {classAccount},
				attrOrganization: {name},
				attrAccountID:    {account.ID},
			},
		}},
		{model.KindAccount, name, ouRequest(s.tree.UsersDN(name), ouUsers)},
		{model.KindAccount, name, ouRequest(s.tree.IdPDN(name), ouIdP)},
		{model.KindUser, root.Name, s.userRequest(root)},
		{model.KindAccessKey, key.ID, s.accessKeyRequest(key)},
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "create_account", map[string]any{"account": name}, func() error {
		return s.client.WithSession(ctx, func(sess s3ldap.Session) error {
			var created []string
			for _, step := range steps {
				if err := sess.Add(ctx, step.req); err != nil {
					rollback(ctx, sess, created)
					return classify(step.kind, step.name, err)
				}
				created = append(created, step.req.DN)
			}
			return nil
		})
	})
	if err != nil {
		return nil, classify(model.KindAccount, name, err)
	}

	return &model.AccountCreation{Account: account, RootUser: root, AccessKey: key}, nil
}

func ouRequest(dn, name string) *s3ldap.AddRequest {
	return &s3ldap.AddRequest{
		DN: dn,
		Attributes: map[string][]string{
			attrObjectClass: {classOU},
			attrOU:          {name},
		},
	}
}

// GetAccount returns the named account.
func (s *Store) GetAccount(ctx context.Context, name string) (*model.Account, error) {
	entry, err := findOne(ctx, s.client, s.tree.AccountDN(name), classAccount, accountAttributes, model.KindAccount, name)
	if err != nil {
		return nil, err
	}
	account := accountFromEntry(entry)
	return &account, nil
}

// ListAccounts returns all accounts ordered by name.
func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	result, err := s.client.SearchWithPaging(ctx, &s3ldap.SearchRequest{
		BaseDN:     s.tree.AccountsDN(),
		Scope:      s3ldap.ScopeSingleLevel,
		Filter:     fmt.Sprintf("(%s=%s)", attrObjectClass, classAccount),
		Attributes: accountAttributes,
	})
	if err != nil {
		return nil, classify(model.KindAccount, "", err)
	}

	accounts := make([]model.Account, 0, len(result.Entries))
	for _, entry := range result.Entries {
		accounts = append(accounts, accountFromEntry(entry))
	}
	sortByName(accounts, func(a model.Account) string { return a.Name })
	return accounts, nil
}

// DeleteAccount removes an account with its root user, the root user's
// access keys and the account's SAML providers. It fails with
// ErrDeleteConflict while the account still has other users.
func (s *Store) DeleteAccount(ctx context.Context, name string) error {
	if _, err := s.GetAccount(ctx, name); err != nil {
		return err
	}

	users, err := s.searchUsers(ctx, s.client, name, fmt.Sprintf("(%s=%s)", attrObjectClass, classUser))
	if err != nil {
		return err
	}
	for _, u := range users {
		if !u.IsRoot() {
			return model.DeleteConflict(model.KindAccount, name, "account still has users")
		}
	}

	providers, err := s.ListSAMLProviders(ctx, name)
	if err != nil {
		return err
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "delete_account", map[string]any{"account": name}, func() error {
		return s.client.WithSession(ctx, func(sess s3ldap.Session) error {
			for _, u := range users {
				if err := s.deleteUserEntries(ctx, sess, u); err != nil {
					return err
				}
			}
			for _, p := range providers {
				if err := sess.Delete(ctx, s.tree.SAMLProviderDN(name, p.Name)); err != nil && !s3ldap.IsNotFoundError(err) {
					return err
				}
			}
			for _, dn := range []string{s.tree.UsersDN(name), s.tree.IdPDN(name), s.tree.AccountDN(name)} {
				if err := sess.Delete(ctx, dn); err != nil && !s3ldap.IsNotFoundError(err) {
					return err
				}
			}
			return nil
		})
	})
	return classify(model.KindAccount, name, err)
}

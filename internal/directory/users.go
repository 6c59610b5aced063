package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

var userAttributes = []string{attrCommonName, attrUserID, attrPath, attrARN, attrCreateTimestamp}

func userFromEntry(entry *ldap.Entry) model.User {
	arn := entry.GetAttributeValue(attrARN)
	return model.User{
		ID:          entry.GetAttributeValue(attrUserID),
		Name:        entry.GetAttributeValue(attrCommonName),
		Path:        entry.GetAttributeValue(attrPath),
		AccountID:   accountIDFromARN(arn),
		AccountName: accountOfUserDN(entry.DN),
		ARN:         arn,
		CreatedAt:   parseTimestamp(entry.GetAttributeValue(attrCreateTimestamp)),
	}
}

func (s *Store) userRequest(u model.User) *s3ldap.AddRequest {
	return &s3ldap.AddRequest{
		DN: s.tree.UserDN(u.AccountName, u.Name),
		Attributes: map[string][]string{
			attrObjectClass: {classUser},
			attrCommonName:  {u.Name},
			attrUserID:      {u.ID},
			attrPath:        {u.Path},
			attrARN:         {u.ARN},
		},
	}
}

// CreateUser creates a user in account. An empty path defaults to "/".
func (s *Store) CreateUser(ctx context.Context, account model.Account, name, path string) (*model.User, error) {
	if path == "" {
		path = model.DefaultPath
	}

	u := model.User{
		ID:          s.newID(),
		Name:        name,
		Path:        path,
		AccountID:   account.ID,
		AccountName: account.Name,
		ARN:         model.UserARN(account.ID, path, name),
		CreatedAt:   s.now(),
	}

	err := s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "create_user", map[string]any{"account": account.Name, "user": name}, func() error {
		return s.client.Add(ctx, s.userRequest(u))
	})
	if s3ldap.IsNotFoundError(err) {
		return nil, model.NotFound(model.KindAccount, account.Name)
	}
	if err != nil {
		return nil, classify(model.KindUser, name, err)
	}
	return &u, nil
}

// GetUser returns the named user of account.
func (s *Store) GetUser(ctx context.Context, accountName, name string) (*model.User, error) {
	entry, err := findOne(ctx, s.client, s.tree.UserDN(accountName, name), classUser, userAttributes, model.KindUser, name)
	if err != nil {
		return nil, err
	}
	u := userFromEntry(entry)
	return &u, nil
}

// DeleteUser removes a user and its access keys. The root user can only be
// removed together with its account.
func (s *Store) DeleteUser(ctx context.Context, accountName, name string) error {
	u, err := s.GetUser(ctx, accountName, name)
	if err != nil {
		return err
	}
	if u.IsRoot() {
		return model.DeleteConflict(model.KindUser, name, "the root user is deleted with its account")
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "delete_user", map[string]any{"account": accountName, "user": name}, func() error {
		return s.client.WithSession(ctx, func(sess s3ldap.Session) error {
			return s.deleteUserEntries(ctx, sess, *u)
		})
	})
	return classify(model.KindUser, name, err)
}

// deleteUserEntries deletes u's access keys, then u.
func (s *Store) deleteUserEntries(ctx context.Context, sess s3ldap.Session, u model.User) error {
	keys, err := s.searchAccessKeys(ctx, sess, u)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := sess.Delete(ctx, s.tree.AccessKeyDN(k.ID)); err != nil && !s3ldap.IsNotFoundError(err) {
			return classify(model.KindAccessKey, k.ID, err)
		}
	}
	if err := sess.Delete(ctx, s.tree.UserDN(u.AccountName, u.Name)); err != nil && !s3ldap.IsNotFoundError(err) {
		return classify(model.KindUser, u.Name, err)
	}
	return nil
}

// UpdateUser renames a user and/or changes its path. Empty newName or
// newPath leave the attribute unchanged. A rename whose path and ARN
// cannot be written is renamed back.
func (s *Store) UpdateUser(ctx context.Context, accountName, name, newName, newPath string) (*model.User, error) {
	u, err := s.GetUser(ctx, accountName, name)
	if err != nil {
		return nil, err
	}

	rename := newName != "" && newName != u.Name
	if rename && u.IsRoot() {
		return nil, &model.ValidationError{Field: "NewUserName", Reason: "the root user cannot be renamed"}
	}
	if newPath == "" {
		newPath = u.Path
	}
	if !rename && newPath == u.Path {
		return u, nil
	}

	updated := *u
	updated.Path = newPath
	if rename {
		updated.Name = newName
	}
	updated.ARN = model.UserARN(u.AccountID, updated.Path, updated.Name)

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "update_user", map[string]any{"account": accountName, "user": name, "new_user": newName, "new_path": newPath}, func() error {
		return s.client.WithSession(ctx, func(sess s3ldap.Session) error {
			dn := s.tree.UserDN(accountName, name)
			if rename {
				err := sess.ModifyDN(ctx, &s3ldap.ModifyDNRequest{
					DN:           dn,
					NewRDN:       s3ldap.RDN(attrCommonName, newName),
					DeleteOldRDN: true,
				})
				if err != nil {
					if s3ldap.IsConflictError(err) {
						return model.AlreadyExists(model.KindUser, newName, err)
					}
					return classify(model.KindUser, name, err)
				}
				dn = s.tree.UserDN(accountName, newName)
			}
			err := sess.Modify(ctx, &s3ldap.ModifyRequest{
				DN: dn,
				ReplaceAttributes: map[string][]string{
					attrPath: {updated.Path},
					attrARN:  {updated.ARN},
				},
			})
			if err != nil && rename {
				undoRename(ctx, sess, dn, s3ldap.RDN(attrCommonName, name))
			}
			return classify(model.KindUser, updated.Name, err)
		})
	})
	if err != nil {
		return nil, classify(model.KindUser, name, err)
	}
	return &updated, nil
}

// undoRename restores the RDN of a renamed entry. Like rollback it runs
// even if ctx has been cancelled.
func undoRename(ctx context.Context, sess s3ldap.Session, dn, oldRDN string) {
	ctx = context.WithoutCancel(ctx)
	err := sess.ModifyDN(ctx, &s3ldap.ModifyDNRequest{
		DN:           dn,
		NewRDN:       oldRDN,
		DeleteOldRDN: true,
	})
	if err != nil {
		tflog.SubsystemError(ctx, s3ldap.SubsystemLDAP, "Rollback failed, rename left behind", map[string]any{
			"dn":    dn,
			"error": err.Error(),
		})
	}
}

// ListUsers returns a page of the users of account whose path starts with
// opts.PathPrefix, ordered by name.
func (s *Store) ListUsers(ctx context.Context, accountName string, opts ListOptions) (*Page[model.User], error) {
	filter := fmt.Sprintf("(%s=%s)", attrObjectClass, classUser)
	if opts.PathPrefix != "" && opts.PathPrefix != model.DefaultPath {
		filter = fmt.Sprintf("(&%s(%s=%s*))", filter, attrPath, s3ldap.EscapeFilter(opts.PathPrefix))
	}

	users, err := s.searchUsers(ctx, s.client, accountName, filter)
	if err != nil {
		return nil, err
	}
	sortByName(users, func(u model.User) string { return u.Name })
	return paginate(users, opts), nil
}

func (s *Store) searchUsers(ctx context.Context, sess s3ldap.Session, accountName, filter string) ([]model.User, error) {
	result, err := sess.SearchWithPaging(ctx, &s3ldap.SearchRequest{
		BaseDN:     s.tree.UsersDN(accountName),
		Scope:      s3ldap.ScopeSingleLevel,
		Filter:     filter,
		Attributes: userAttributes,
	})
	if s3ldap.IsNotFoundError(err) {
		return nil, model.NotFound(model.KindAccount, accountName)
	}
	if err != nil {
		return nil, classify(model.KindUser, "", err)
	}

	users := make([]model.User, 0, len(result.Entries))
	for _, entry := range result.Entries {
		users = append(users, userFromEntry(entry))
	}
	return users, nil
}

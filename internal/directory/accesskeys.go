package directory

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
	"github.com/isometry/s3-authserver/internal/model"
)

var accessKeyAttributes = []string{attrAccessKeyID, attrUserID, attrStatus, attrCreateTimestamp}

func accessKeyFromEntry(entry *ldap.Entry, userName string) model.AccessKey {
	return model.AccessKey{
		ID:        entry.GetAttributeValue(attrAccessKeyID),
		SecretKey: entry.GetAttributeValue(attrSecretKey),
		UserID:    entry.GetAttributeValue(attrUserID),
		UserName:  userName,
		Status:    model.AccessKeyStatus(entry.GetAttributeValue(attrStatus)),
		CreatedAt: parseTimestamp(entry.GetAttributeValue(attrCreateTimestamp)),
	}
}

func (s *Store) accessKeyRequest(k model.AccessKey) *s3ldap.AddRequest {
	return &s3ldap.AddRequest{
		DN: s.tree.AccessKeyDN(k.ID),
		Attributes: map[string][]string{
			attrObjectClass: {classAccessKey},
			attrAccessKeyID: {k.ID},
			attrSecretKey:   {k.SecretKey},
			attrUserID:      {k.UserID},
			attrStatus:      {string(k.Status)},
		},
	}
}

// CreateAccessKey creates an active access key for u. The returned key
// carries the secret, which is never returned again.
func (s *Store) CreateAccessKey(ctx context.Context, u model.User) (*model.AccessKey, error) {
	secret, err := s.newSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}

	k := model.AccessKey{
		ID:        s.newID(),
		SecretKey: secret,
		UserID:    u.ID,
		UserName:  u.Name,
		Status:    model.StatusActive,
		CreatedAt: s.now(),
	}

	err = s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "create_access_key", map[string]any{"user": u.Name, "access_key_id": k.ID}, func() error {
		return s.client.Add(ctx, s.accessKeyRequest(k))
	})
	if err != nil {
		return nil, classify(model.KindAccessKey, k.ID, err)
	}
	return &k, nil
}

// getAccessKey returns the key id if it belongs to u.
func (s *Store) getAccessKey(ctx context.Context, u model.User, id string) (*model.AccessKey, error) {
	entry, err := findOne(ctx, s.client, s.tree.AccessKeyDN(id), classAccessKey, accessKeyAttributes, model.KindAccessKey, id)
	if err != nil {
		return nil, err
	}
	k := accessKeyFromEntry(entry, u.Name)
	if k.UserID != u.ID {
		return nil, model.NotFound(model.KindAccessKey, id)
	}
	return &k, nil
}

// DeleteAccessKey deletes key id of u.
func (s *Store) DeleteAccessKey(ctx context.Context, u model.User, id string) error {
	if _, err := s.getAccessKey(ctx, u, id); err != nil {
		return err
	}

	err := s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "delete_access_key", map[string]any{"user": u.Name, "access_key_id": id}, func() error {
		return s.client.Delete(ctx, s.tree.AccessKeyDN(id))
	})
	return classify(model.KindAccessKey, id, err)
}

// UpdateAccessKey sets the status of key id of u.
func (s *Store) UpdateAccessKey(ctx context.Context, u model.User, id string, status model.AccessKeyStatus) error {
	if !status.Valid() {
		return &model.ValidationError{Field: "Status", Reason: fmt.Sprintf("invalid status %q", status)}
	}
	if _, err := s.getAccessKey(ctx, u, id); err != nil {
		return err
	}

	err := s3ldap.LogOperation(ctx, s3ldap.SubsystemLDAP, "update_access_key", map[string]any{"user": u.Name, "access_key_id": id, "status": string(status)}, func() error {
		return s.client.Modify(ctx, &s3ldap.ModifyRequest{
			DN:                s.tree.AccessKeyDN(id),
			ReplaceAttributes: map[string][]string{attrStatus: {string(status)}},
		})
	})
	return classify(model.KindAccessKey, id, err)
}

// ListAccessKeys returns a page of u's access keys, without secrets.
func (s *Store) ListAccessKeys(ctx context.Context, u model.User, opts ListOptions) (*Page[model.AccessKey], error) {
	keys, err := s.searchAccessKeys(ctx, s.client, u)
	if err != nil {
		return nil, err
	}
	sortByName(keys, func(k model.AccessKey) string { return k.ID })
	return paginate(keys, opts), nil
}

func (s *Store) searchAccessKeys(ctx context.Context, sess s3ldap.Session, u model.User) ([]model.AccessKey, error) {
	result, err := sess.SearchWithPaging(ctx, &s3ldap.SearchRequest{
		BaseDN: s.tree.AccessKeysDN(),
		Scope:  s3ldap.ScopeSingleLevel,
		Filter: fmt.Sprintf("(&(%s=%s)(%s=%s))",
			attrObjectClass, classAccessKey, attrUserID, s3ldap.EscapeFilter(u.ID)),
		Attributes: accessKeyAttributes,
	})
	if err != nil {
		return nil, classify(model.KindAccessKey, "", err)
	}

	keys := make([]model.AccessKey, 0, len(result.Entries))
	for _, entry := range result.Entries {
		keys = append(keys, accessKeyFromEntry(entry, u.Name))
	}
	return keys, nil
}

// LookupCredential returns access key id, including its secret, and the
// user it belongs to. Both lookups run on the shared tier.
func (s *Store) LookupCredential(ctx context.Context, id string) (*model.Credential, error) {
	entry, err := findOne(ctx, s.client, s.tree.AccessKeyDN(id), classAccessKey,
		append([]string{attrSecretKey}, accessKeyAttributes...), model.KindAccessKey, id)
	if err != nil {
		return nil, err
	}
	key := accessKeyFromEntry(entry, "")

	result, err := s.client.Search(ctx, &s3ldap.SearchRequest{
		BaseDN: s.tree.AccountsDN(),
		Scope:  s3ldap.ScopeWholeSubtree,
		Filter: fmt.Sprintf("(&(%s=%s)(%s=%s))",
			attrObjectClass, classUser, attrUserID, s3ldap.EscapeFilter(key.UserID)),
		Attributes: userAttributes,
		SizeLimit:  1,
	})
	if err != nil {
		return nil, classify(model.KindUser, key.UserID, err)
	}
	if len(result.Entries) == 0 {
		tflog.SubsystemWarn(ctx, s3ldap.SubsystemLDAP, "Access key has no owning user", map[string]any{
			"access_key_id": id,
			"user_id":       key.UserID,
		})
		return nil, model.NotFound(model.KindUser, key.UserID)
	}

	user := userFromEntry(result.Entries[0])
	key.UserName = user.Name
	return &model.Credential{AccessKey: key, User: user}, nil
}

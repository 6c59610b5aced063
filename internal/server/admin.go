package server

import (
	"context"

	"github.com/isometry/s3-authserver/internal/model"
	"github.com/isometry/s3-authserver/internal/signature"
)

// AdminUserName is the user name reported for the administrator credential.
const AdminUserName = "admin"

// AdminStore resolves the administrator credential ahead of the directory.
type AdminStore struct {
	admin model.Credential
	next  signature.CredentialStore
}

// NewAdminStore returns a store that answers accessKeyID with secret and
// forwards every other lookup to next. An empty accessKeyID disables the
// administrator.
func NewAdminStore(next signature.CredentialStore, accessKeyID, secret string) *AdminStore {
	return &AdminStore{
		admin: model.Credential{
			AccessKey: model.AccessKey{
				ID:        accessKeyID,
				SecretKey: secret,
				UserID:    AdminUserName,
				UserName:  AdminUserName,
				Status:    model.StatusActive,
			},
			User: model.User{ID: AdminUserName, Name: AdminUserName},
		},
		next: next,
	}
}

// LookupCredential implements signature.CredentialStore.
func (s *AdminStore) LookupCredential(ctx context.Context, accessKeyID string) (*model.Credential, error) {
	if s.admin.AccessKey.ID != "" && accessKeyID == s.admin.AccessKey.ID {
		cred := s.admin
		return &cred, nil
	}
	return s.next.LookupCredential(ctx, accessKeyID)
}

// Package model defines the identity entities held in the directory and the
// error taxonomy shared by the directory, validation and transport layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies an entity variant.
type Kind int

const (
	KindAccount Kind = iota + 1
	KindUser
	KindAccessKey
	KindSAMLProvider
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindUser:
		return "user"
	case KindAccessKey:
		return "access_key"
	case KindSAMLProvider:
		return "saml_provider"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is implemented by every entity variant. The set is closed.
type Entity interface {
	Kind() Kind
	entity()
}

// AccessKeyStatus is the activation state of an access key.
type AccessKeyStatus string

const (
	StatusActive   AccessKeyStatus = "Active"
	StatusInactive AccessKeyStatus = "Inactive"
)

// Valid reports whether s is one of the defined statuses.
func (s AccessKeyStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

const (
	// DefaultPath is the path assigned to users created without one.
	DefaultPath = "/"

	MinSAMLMetadataLength = 1000
	MaxSAMLMetadataLength = 10000000
)

// Account is the root identity container.
type Account struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is a named identity within an account.
type User struct {
	ID          string
	Name        string
	Path        string
	AccountID   string
	AccountName string
	ARN         string
	CreatedAt   time.Time
}

// IsRoot reports whether u is the account's root user.
func (u *User) IsRoot() bool {
	return u.Name == u.AccountName
}

// AccessKey is a credential bound to exactly one user. SecretKey is only
// populated on creation and on credential lookup for signature checks.
type AccessKey struct {
	ID        string
	SecretKey string
	UserID    string
	UserName  string
	Status    AccessKeyStatus
	CreatedAt time.Time
}

// Active reports whether the key may be used to sign requests.
func (k *AccessKey) Active() bool {
	return k.Status == StatusActive
}

// SAMLProvider is a federated trust anchor.
type SAMLProvider struct {
	ARN              string
	Name             string
	AccountName      string
	MetadataDocument string
	CreatedAt        time.Time
}

func (*Account) Kind() Kind      { return KindAccount }
func (*User) Kind() Kind         { return KindUser }
func (*AccessKey) Kind() Kind    { return KindAccessKey }
func (*SAMLProvider) Kind() Kind { return KindSAMLProvider }

func (*Account) entity()      {}
func (*User) entity()         {}
func (*AccessKey) entity()    {}
func (*SAMLProvider) entity() {}

// UserARN returns the ARN of a user within an account.
func UserARN(accountID, path, name string) string {
	if path == "" {
		path = DefaultPath
	}
	return fmt.Sprintf("arn:aws:iam::%s:user%s%s", accountID, path, name)
}

// SAMLProviderARN returns the ARN of a SAML provider within an account.
func SAMLProviderARN(accountName, name string) string {
	return fmt.Sprintf("arn:seagate:iam::%s:saml-provider/%s", accountName, name)
}

// ParseSAMLProviderARN splits a SAML provider ARN into its account name and
// provider name.
func ParseSAMLProviderARN(arn string) (accountName, name string, err error) {
	rest, ok := strings.CutPrefix(arn, "arn:seagate:iam::")
	if !ok {
		return "", "", &ValidationError{Field: "SAMLProviderArn", Reason: "not a SAML provider ARN"}
	}
	accountName, name, ok = strings.Cut(rest, ":saml-provider/")
	if !ok || accountName == "" || name == "" {
		return "", "", &ValidationError{Field: "SAMLProviderArn", Reason: "not a SAML provider ARN"}
	}
	return accountName, name, nil
}

// Credential is an access key together with the user it belongs to, as
// needed to verify a request signature and identify the caller.
type Credential struct {
	AccessKey AccessKey
	User      User
}

// AccountCreation is the result of creating an account: the account, its
// root user and the root user's access key with its secret.
type AccountCreation struct {
	Account   Account
	RootUser  User
	AccessKey AccessKey
}

package directory

import (
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
)

// Object classes of the identity tree.
const (
	classAccount      = "Account"
	classUser         = "iamUser"
	classAccessKey    = "accessKey"
	classSAMLProvider = "SAMLProvider"
	classOU           = "organizationalUnit"
)

// Attribute names.
const (
	attrObjectClass     = "objectClass"
	attrOrganization    = "o"
	attrOU              = "ou"
	attrAccountID       = "accountid"
	attrCommonName      = "cn"
	attrUserID          = "s3userid"
	attrPath            = "path"
	attrARN             = "arn"
	attrAccessKeyID     = "ak"
	attrSecretKey       = "sk"
	attrStatus          = "status"
	attrName            = "name"
	attrSAMLMetadata    = "samlmetadataxml"
	attrCreateTimestamp = "createTimestamp"
)

const (
	ouAccounts   = "accounts"
	ouUsers      = "users"
	ouIdP        = "idp"
	ouAccessKeys = "accesskeys"
)

// Tree builds DNs of the identity tree rooted at a base DN:
//
//	ou=accounts,<base>
//	  o=<account>
//	    ou=users     cn=<user>
//	    ou=idp       name=<provider>
//	ou=accesskeys,<base>
//	  ak=<access key id>
type Tree struct {
	BaseDN string
}

func (t Tree) AccountsDN() string {
	return s3ldap.JoinDN(s3ldap.RDN(attrOU, ouAccounts), t.BaseDN)
}

func (t Tree) AccountDN(account string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrOrganization, account), t.AccountsDN())
}

func (t Tree) UsersDN(account string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrOU, ouUsers), t.AccountDN(account))
}

func (t Tree) UserDN(account, user string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrCommonName, user), t.UsersDN(account))
}

func (t Tree) IdPDN(account string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrOU, ouIdP), t.AccountDN(account))
}

func (t Tree) SAMLProviderDN(account, name string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrName, name), t.IdPDN(account))
}

func (t Tree) AccessKeysDN() string {
	return s3ldap.JoinDN(s3ldap.RDN(attrOU, ouAccessKeys), t.BaseDN)
}

func (t Tree) AccessKeyDN(id string) string {
	return s3ldap.JoinDN(s3ldap.RDN(attrAccessKeyID, id), t.AccessKeysDN())
}

// accountOfUserDN returns the account name of a user DN
// (cn=<user>,ou=users,o=<account>,...).
func accountOfUserDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) < 3 {
		return ""
	}
	for _, attr := range parsed.RDNs[2].Attributes {
		if strings.EqualFold(attr.Type, attrOrganization) {
			return attr.Value
		}
	}
	return ""
}

// accountIDFromARN extracts the account ID of arn:aws:iam::<id>:user/...
func accountIDFromARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[4]
}

// Generalized time layouts written by OpenLDAP and Active Directory.
var timestampLayouts = []string{
	"20060102150405Z0700",
	"20060102150405.0Z0700",
}

func parseTimestamp(value string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

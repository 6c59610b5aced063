package ldap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// performKerberosAuth performs a GSSAPI bind on a freshly dialed connection.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig) error {
	gssapiClient, err := createGSSAPIClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// createGSSAPIClient logs in with the keytab, or with the bind password when
// no keytab is readable.
func createGSSAPIClient(cfg *ConnectionConfig) (*gssapi.Client, error) {
	krb5confPath := cfg.KerberosConfig
	if krb5confPath == "" {
		krb5confPath = defaultKrb5Conf
	}
	if !fileExists(krb5confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5confPath)
	}

	principal := kerberosPrincipal(cfg)
	if principal == "" {
		return nil, errors.New("kerberos principal is required")
	}

	if fileExists(cfg.KerberosKeytab) {
		return gssapi.NewClientWithKeytab(principal, cfg.KerberosRealm, cfg.KerberosKeytab, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	if cfg.BindPassword != "" {
		return gssapi.NewClientWithPassword(principal, cfg.KerberosRealm, cfg.BindPassword, krb5confPath, krb5client.DisablePAFXFAST(true))
	}

	return nil, fmt.Errorf("keytab %q is not readable and no password is configured", cfg.KerberosKeytab)
}

// kerberosPrincipal returns the configured principal, falling back to the
// value of the bind DN's first RDN ("cn=admin,dc=..." gives "admin").
func kerberosPrincipal(cfg *ConnectionConfig) string {
	if cfg.KerberosUser != "" {
		return cfg.KerberosUser
	}
	if cfg.BindDN == "" {
		return ""
	}
	dn, err := ldap.ParseDN(cfg.BindDN)
	if err != nil || len(dn.RDNs) == 0 || len(dn.RDNs[0].Attributes) == 0 {
		return ""
	}
	return dn.RDNs[0].Attributes[0].Value
}

// buildServicePrincipal constructs the LDAP service principal name.
func buildServicePrincipal(cfg *ConnectionConfig) (string, error) {
	hostname := cfg.Host
	if hostname == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}
	return "ldap/" + strings.ToLower(hostname), nil
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeDNValue escapes an attribute value for use in a DN (RFC 4514).
// IAM names may legitimately contain ',', '+' and '=', so every RDN value
// built from request input must pass through here.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 4)

	for i, r := range value {
		switch {
		case strings.ContainsRune(`,+"\<>;=`, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '#' && i == 0:
			b.WriteString(`\#`)
		case r == ' ' && (i == 0 || i == len(value)-1):
			b.WriteString(`\ `)
		case r == 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// RDN returns attr=value with value escaped.
func RDN(attr, value string) string {
	return attr + "=" + EscapeDNValue(value)
}

// JoinDN joins RDNs and a parent DN with commas, skipping empty parts.
func JoinDN(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ",")
}

// FirstRDNValue returns the unescaped value of dn's leading RDN.
func FirstRDNValue(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN %q: %w", dn, err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("DN %q has no RDN", dn)
	}
	return parsed.RDNs[0].Attributes[0].Value, nil
}

// EscapeFilter escapes a value for use inside a search filter.
func EscapeFilter(value string) string {
	return ldap.EscapeFilter(value)
}

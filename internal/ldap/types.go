package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig holds configuration for directory connections.
type ConnectionConfig struct {
	// Connection settings
	Host    string        // Directory host name or address
	Port    int           // Directory port
	UseTLS  bool          // Dial ldaps:// instead of ldap://
	BaseDN  string        // Base DN of the identity tree
	Timeout time.Duration // Per-request round-trip timeout

	// Authentication settings
	BindDN         string // DN for simple bind
	BindPassword   string // Password for simple bind
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosUser   string // Kerberos principal (defaults to BindDN's first RDN value)

	TLSConfig *tls.Config

	// Pool settings
	MaxConnections       int           // Exclusive tier size
	MaxSharedConnections int           // Shared tier size
	SharedFanout         int           // Concurrent holders per shared connection
	AcquireTimeout       time.Duration // Bounded wait for a free slot
	MaxIdleTime          time.Duration // Idle connections older than this are closed
	HealthCheck          time.Duration // Background check interval, 0 disables

	// Retry settings
	MaxRetries     int           // Maximum retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Backoff multiplication factor
}

// DefaultConfig returns the default configuration for a local directory.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Host:                 "127.0.0.1",
		Port:                 389,
		BaseDN:               "dc=s3,dc=seagate,dc=com",
		Timeout:              10 * time.Second,
		MaxConnections:       5,
		MaxSharedConnections: 1,
		SharedFanout:         8,
		AcquireTimeout:       5 * time.Second,
		MaxIdleTime:          5 * time.Minute,
		HealthCheck:          30 * time.Second,
		MaxRetries:           3,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           2 * time.Second,
		BackoffFactor:        2.0,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// URL returns the directory URL for the configured host and port.
func (c *ConnectionConfig) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
}

// Conn is the subset of *ldap.Conn used by the pool and client.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	Del(req *ldap.DelRequest) error
	IsClosing() bool
	Close() error
}

// DialFunc opens and authenticates a new directory connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Tier identifies a pool partition.
type Tier string

const (
	TierExclusive Tier = "exclusive"
	TierShared    Tier = "shared"
)

// LivenessCheck checks a connection on acquisition.
type LivenessCheck func(conn Conn) error

// TierConfig parameterizes one pool instance.
type TierConfig struct {
	Tier   Tier
	Size   int           // Maximum open connections
	Fanout int           // Concurrent holders per connection
	Check  LivenessCheck // Run on every acquisition of an existing connection
}

// PoolStats provides statistics about a connection pool tier.
type PoolStats struct {
	Tier      Tier
	Size      int           // Configured maximum connections
	Open      int           // Currently open connections
	Holders   int           // Outstanding acquisitions
	Idle      int           // Open connections with no holder
	Waiting   int64         // Acquisitions blocked on a slot
	Created   int64         // Total connections created
	Discarded int64         // Total connections discarded
	Errors    int64         // Total dial errors
	Exhausted int64         // Acquisitions that timed out
	Uptime    time.Duration // Pool uptime
}

// Session is the set of directory operations available on one checked-out
// connection.
type Session interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Add(ctx context.Context, req *AddRequest) error
	Modify(ctx context.Context, req *ModifyRequest) error
	ModifyDN(ctx context.Context, req *ModifyDNRequest) error
	Delete(ctx context.Context, dn string) error
}

// Client provides pooled directory operations. Search uses the shared tier;
// mutations and WithSession use the exclusive tier.
type Client interface {
	Session

	// WithSession runs fn on a single exclusive connection.
	WithSession(ctx context.Context, fn func(Session) error) error

	Ping(ctx context.Context) error
	Stats() []PoolStats
	Close() error
}

// DefaultPageSize is the page size used by SearchWithPaging.
const DefaultPageSize uint32 = 500

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult contains search results.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
}

// AddRequest encapsulates LDAP add parameters.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
}

// ModifyRequest encapsulates LDAP modify parameters.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteAttributes  []string
}

// ModifyDNRequest renames or moves an entry.
type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// AuthMethod defines authentication method types.
type AuthMethod int

const (
	AuthMethodAnonymous  AuthMethod = iota // No bind
	AuthMethodSimpleBind                   // DN/password authentication
	AuthMethodKerberos                     // GSSAPI/Kerberos authentication
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodAnonymous:
		return "anonymous"
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the authentication method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && c.KerberosKeytab != "" {
		return AuthMethodKerberos
	}

	if c.BindDN != "" {
		return AuthMethodSimpleBind
	}

	return AuthMethodAnonymous
}

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}

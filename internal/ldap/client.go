package ldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// client implements the Client interface over two pool tiers.
type client struct {
	exclusive  *connectionPool
	shared     *connectionPool
	config     *ConnectionConfig
	faults     *FaultInjector
	perfLog    bool
	logContext context.Context // Context with configured subsystems for logging
}

type clientOptions struct {
	dial    DialFunc
	faults  *FaultInjector
	metrics *PoolMetrics
	perfLog bool
}

// Option customizes a client.
type Option func(*clientOptions)

// WithDialer replaces the network dialer, e.g. with an in-memory fake.
func WithDialer(dial DialFunc) Option {
	return func(o *clientOptions) { o.dial = dial }
}

// WithFaultInjector arms the client with operator-controlled faults.
func WithFaultInjector(f *FaultInjector) Option {
	return func(o *clientOptions) { o.faults = f }
}

// WithMetrics records acquisition metrics into m.
func WithMetrics(m *PoolMetrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithPerformanceLogging logs the duration of every directory round-trip.
func WithPerformanceLogging(enabled bool) Option {
	return func(o *clientOptions) { o.perfLog = enabled }
}

// NewClient creates a directory client with an exclusive tier for
// mutations and a shared tier for lookups. Connections are opened lazily.
func NewClient(ctx context.Context, config *ConnectionConfig, opts ...Option) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.dial == nil {
		o.dial = newDialer(ctx, config)
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Creating directory client", map[string]any{
		"url":                    config.URL(),
		"auth_method":            config.GetAuthMethod().String(),
		"max_connections":        config.MaxConnections,
		"max_shared_connections": config.MaxSharedConnections,
		"shared_fanout":          config.SharedFanout,
	})

	exclusive, err := newConnectionPool(ctx, config, TierConfig{
		Tier:   TierExclusive,
		Size:   config.MaxConnections,
		Fanout: 1,
		Check:  RootDSECheck,
	}, o.dial, o.metrics)
	if err != nil {
		return nil, err
	}

	shared, err := newConnectionPool(ctx, config, TierConfig{
		Tier:   TierShared,
		Size:   config.MaxSharedConnections,
		Fanout: config.SharedFanout,
		Check:  ClosingCheck,
	}, o.dial, o.metrics)
	if err != nil {
		_ = exclusive.Close()
		return nil, err
	}

	return &client{
		exclusive:  exclusive,
		shared:     shared,
		config:     config,
		faults:     o.faults,
		perfLog:    o.perfLog,
		logContext: ctx,
	}, nil
}

// newDialer returns a DialFunc that connects to the configured directory
// and authenticates the connection.
func newDialer(logCtx context.Context, config *ConnectionConfig) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}

		opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: config.Timeout})}
		if config.UseTLS {
			opts = append(opts, ldap.DialWithTLSConfig(config.TLSConfig))
		}

		conn, err := ldap.DialURL(config.URL(), opts...)
		if err != nil {
			return nil, NewLDAPError("dial", "", err)
		}
		conn.SetTimeout(config.Timeout)

		method := config.GetAuthMethod()
		switch method {
		case AuthMethodSimpleBind:
			err = conn.Bind(config.BindDN, config.BindPassword)
		case AuthMethodKerberos:
			err = performKerberosAuth(conn, config)
		}
		if err != nil {
			conn.Close()
			LogConnectionEvent(logCtx, "authentication_failed", map[string]any{
				"auth_method": method.String(),
				"error":       err.Error(),
			})
			return nil, NewLDAPError("bind", config.BindDN, err)
		}

		return ldapConn{conn}, nil
	}
}

// ldapConn adapts *ldap.Conn to Conn.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// Close closes both tiers.
func (c *client) Close() error {
	return errors.Join(c.exclusive.Close(), c.shared.Close())
}

// Search performs a lookup on the shared tier.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	s := c.newSession(c.shared)
	defer s.close()
	return s.Search(ctx, req)
}

// SearchWithPaging performs a paged lookup on the shared tier.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	s := c.newSession(c.shared)
	defer s.close()
	return s.SearchWithPaging(ctx, req)
}

// Add creates an entry on the exclusive tier.
func (c *client) Add(ctx context.Context, req *AddRequest) error {
	s := c.newSession(c.exclusive)
	defer s.close()
	return s.Add(ctx, req)
}

// Modify modifies an entry on the exclusive tier.
func (c *client) Modify(ctx context.Context, req *ModifyRequest) error {
	s := c.newSession(c.exclusive)
	defer s.close()
	return s.Modify(ctx, req)
}

// ModifyDN renames an entry on the exclusive tier.
func (c *client) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	s := c.newSession(c.exclusive)
	defer s.close()
	return s.ModifyDN(ctx, req)
}

// Delete removes an entry on the exclusive tier.
func (c *client) Delete(ctx context.Context, dn string) error {
	s := c.newSession(c.exclusive)
	defer s.close()
	return s.Delete(ctx, dn)
}

// WithSession acquires one exclusive connection up front and runs fn on it.
func (c *client) WithSession(ctx context.Context, fn func(Session) error) error {
	s := c.newSession(c.exclusive)
	defer s.close()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	return fn(s)
}

// Ping tests connectivity to the directory over the shared tier.
func (c *client) Ping(ctx context.Context) error {
	s := c.newSession(c.shared)
	defer s.close()
	return s.run(ctx, "ping", "", func(conn Conn) error {
		return RootDSECheck(conn)
	})
}

// Stats returns statistics for both tiers.
func (c *client) Stats() []PoolStats {
	return []PoolStats{c.exclusive.Stats(), c.shared.Stats()}
}

func (c *client) newSession(pool *connectionPool) *session {
	return &session{client: c, pool: pool}
}

// exec runs fn on pc and classifies the outcome. Connections that lost
// their transport are retired so a retry gets a fresh one.
func (c *client) exec(ctx context.Context, pc *PooledConnection, operation, dn string, fn func(Conn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	start := time.Now()
	err := fn(pc.Conn())
	if c.perfLog {
		LogPerformance(ctx, SubsystemLDAP, operation, time.Since(start), map[string]any{
			"dn":            dn,
			"tier":          string(pc.Tier()),
			"connection_id": pc.ID(),
		})
	}

	if err != nil {
		if isConnectionLost(err) {
			pc.MarkUnhealthy()
			LogConnectionEvent(ctx, "connection_lost", map[string]any{
				"tier":          string(pc.Tier()),
				"connection_id": pc.ID(),
			})
		}
		ldapErr := NewLDAPError(operation, dn, err)
		LogLDAPError(ctx, operation, ldapErr, map[string]any{"dn": dn})
		return ldapErr
	}
	return nil
}

// withRetry executes an operation, retrying retryable failures with
// exponential backoff. Pool exhaustion and backend unavailability have
// already waited and are returned as-is.
func (c *client) withRetry(ctx context.Context, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialBackoff
	b.MaxInterval = c.config.MaxBackoff
	b.Multiplier = c.config.BackoffFactor
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrPoolClosed) {
			return backoff.Permanent(err)
		}
		if !IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.config.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			tflog.SubsystemDebug(ctx, SubsystemLDAP, "Retrying operation", map[string]any{
				"operation":  operation,
				"attempt":    attempts,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": wait.Milliseconds(),
				"last_error": err.Error(),
			})
		})

	if err != nil && attempts > 1 && IsRetryableError(err) {
		tflog.SubsystemError(ctx, SubsystemLDAP, "Operation failed after all retries exhausted", map[string]any{
			"operation":      operation,
			"total_attempts": attempts,
			"final_error":    err.Error(),
		})
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, NewConnectionError("operation failed after retries", false, err))
	}
	return err
}

// session runs operations on one connection of a tier, acquired on first
// use and held until close.
type session struct {
	client *client
	pool   *connectionPool
	pc     *PooledConnection
}

func (s *session) acquire(ctx context.Context) error {
	if s.pc != nil {
		return nil
	}
	if err := s.client.faults.check(ctx, FaultPoolExhausted); err != nil {
		return err
	}
	pc, err := s.pool.Get(ctx)
	if err != nil {
		return err
	}
	s.pc = pc
	return nil
}

func (s *session) close() {
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
}

func (s *session) run(ctx context.Context, operation, dn string, fn func(Conn) error) error {
	return s.client.withRetry(ctx, operation, func() error {
		if err := s.client.faults.check(ctx, faultFor(operation)); err != nil {
			return NewLDAPError(operation, dn, err)
		}
		if err := s.acquire(ctx); err != nil {
			return err
		}
		err := s.client.exec(ctx, s.pc, operation, dn, fn)
		if err != nil && isConnectionLost(err) {
			s.close()
		}
		return err
	})
}

func (s *session) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return s.search(ctx, req, func(conn Conn, ldapReq *ldap.SearchRequest) (*ldap.SearchResult, error) {
		return conn.Search(ldapReq)
	})
}

// SearchWithPaging runs the search with the simple paged results control so
// listings larger than the server's size limit are returned in full.
func (s *session) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return s.search(ctx, req, func(conn Conn, ldapReq *ldap.SearchRequest) (*ldap.SearchResult, error) {
		return conn.SearchWithPaging(ldapReq, DefaultPageSize)
	})
}

func (s *session) search(ctx context.Context, req *SearchRequest, fn func(Conn, *ldap.SearchRequest) (*ldap.SearchResult, error)) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false, // TypesOnly
		req.Filter,
		req.Attributes,
		nil, // Controls
	)

	var result *ldap.SearchResult
	err := s.run(ctx, "search", req.BaseDN, func(conn Conn) error {
		var searchErr error
		result, searchErr = fn(conn, ldapReq)
		return searchErr
	})
	if err != nil {
		return nil, err
	}

	tflog.SubsystemTrace(ctx, SubsystemLDAP, "Search completed", map[string]any{
		"base_dn":       req.BaseDN,
		"scope":         req.Scope.String(),
		"filter":        req.Filter,
		"entries_found": len(result.Entries),
	})

	return &SearchResult{
		Entries: result.Entries,
		Total:   len(result.Entries),
	}, nil
}

func (s *session) Add(ctx context.Context, req *AddRequest) error {
	if req == nil {
		return fmt.Errorf("add request cannot be nil")
	}

	ldapReq := ldap.NewAddRequest(req.DN, nil)
	for attr, values := range req.Attributes {
		ldapReq.Attribute(attr, values)
	}

	return s.run(ctx, "add", req.DN, func(conn Conn) error {
		return conn.Add(ldapReq)
	})
}

func (s *session) Modify(ctx context.Context, req *ModifyRequest) error {
	if req == nil {
		return fmt.Errorf("modify request cannot be nil")
	}

	ldapReq := ldap.NewModifyRequest(req.DN, nil)
	for attr, values := range req.AddAttributes {
		ldapReq.Add(attr, values)
	}
	for attr, values := range req.ReplaceAttributes {
		ldapReq.Replace(attr, values)
	}
	for _, attr := range req.DeleteAttributes {
		ldapReq.Delete(attr, []string{})
	}

	return s.run(ctx, "modify", req.DN, func(conn Conn) error {
		return conn.Modify(ldapReq)
	})
}

func (s *session) ModifyDN(ctx context.Context, req *ModifyDNRequest) error {
	if req == nil {
		return fmt.Errorf("modify DN request cannot be nil")
	}
	if req.DN == "" || req.NewRDN == "" {
		return fmt.Errorf("DN and new RDN are required")
	}

	ldapReq := ldap.NewModifyDNRequest(req.DN, req.NewRDN, req.DeleteOldRDN, req.NewSuperior)

	return s.run(ctx, "modify_dn", req.DN, func(conn Conn) error {
		return conn.ModifyDN(ldapReq)
	})
}

func (s *session) Delete(ctx context.Context, dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	ldapReq := ldap.NewDelRequest(dn, nil)

	return s.run(ctx, "delete", dn, func(conn Conn) error {
		return conn.Del(ldapReq)
	})
}

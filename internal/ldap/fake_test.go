package ldap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory Conn that records operations and detects
// concurrent use.
type fakeConn struct {
	id      int
	closed  atomic.Bool
	active  atomic.Int32
	overlap atomic.Bool
	delay   time.Duration

	mu        sync.Mutex
	ops       []string
	searchErr []error // consumed one per search
	addErr    []error
	entries   []*ldap.Entry
}

func (c *fakeConn) enter(op string) func() {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return func() { c.active.Add(-1) }
}

func (c *fakeConn) popErr(list *[]error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(*list) == 0 {
		return nil
	}
	err := (*list)[0]
	*list = (*list)[1:]
	return err
}

func (c *fakeConn) Bind(string, string) error { return nil }

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	defer c.enter("search")()
	if err := c.popErr(&c.searchErr); err != nil {
		return nil, err
	}
	if req.BaseDN == "" {
		return &ldap.SearchResult{}, nil
	}
	return &ldap.SearchResult{Entries: c.entries}, nil
}

func (c *fakeConn) SearchWithPaging(req *ldap.SearchRequest, _ uint32) (*ldap.SearchResult, error) {
	defer c.enter("paged_search")()
	if err := c.popErr(&c.searchErr); err != nil {
		return nil, err
	}
	return &ldap.SearchResult{Entries: c.entries}, nil
}

func (c *fakeConn) Add(*ldap.AddRequest) error {
	defer c.enter("add")()
	return c.popErr(&c.addErr)
}

func (c *fakeConn) Modify(*ldap.ModifyRequest) error {
	defer c.enter("modify")()
	return nil
}

func (c *fakeConn) ModifyDN(*ldap.ModifyDNRequest) error {
	defer c.enter("modify_dn")()
	return nil
}

func (c *fakeConn) Del(*ldap.DelRequest) error {
	defer c.enter("delete")()
	return nil
}

func (c *fakeConn) IsClosing() bool { return c.closed.Load() }

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) opCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.ops {
		if o == op {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns and can be made to fail.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int // remaining dial failures
	dialErr  error
	setup    func(*fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failures > 0 {
		d.failures--
		if d.dialErr != nil {
			return nil, d.dialErr
		}
		return nil, NewLDAPError("dial", "", ldap.NewError(ldap.ErrorNetwork, errors.New("connection refused")))
	}

	c := &fakeConn{id: len(d.conns) + 1}
	if d.setup != nil {
		d.setup(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialed() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func testConfig() *ConnectionConfig {
	config := DefaultConfig()
	config.AcquireTimeout = 200 * time.Millisecond
	config.HealthCheck = 0
	config.MaxRetries = 2
	config.InitialBackoff = time.Millisecond
	config.MaxBackoff = 5 * time.Millisecond
	return config
}

package ldap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, config *ConnectionConfig, tier TierConfig, dialer *fakeDialer) *connectionPool {
	t.Helper()
	if tier.Check == nil {
		tier.Check = ClosingCheck
	}
	p, err := newConnectionPool(context.Background(), config, tier, dialer.Dial, NewPoolMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NotNil(t, config)
	assert.Equal(t, "127.0.0.1", config.Host)
	assert.Equal(t, 389, config.Port)
	assert.Equal(t, "ldap://127.0.0.1:389", config.URL())
	assert.Equal(t, 5, config.MaxConnections)
	assert.Equal(t, 1, config.MaxSharedConnections)
	assert.Equal(t, 8, config.SharedFanout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.NoError(t, validateConfig(config))

	config.UseTLS = true
	config.Port = 636
	assert.Equal(t, "ldaps://127.0.0.1:636", config.URL())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnectionConfig)
		wantErr bool
	}{
		{"valid config", func(*ConnectionConfig) {}, false},
		{"missing host", func(c *ConnectionConfig) { c.Host = "" }, true},
		{"bad port", func(c *ConnectionConfig) { c.Port = 70000 }, true},
		{"zero max connections", func(c *ConnectionConfig) { c.MaxConnections = 0 }, true},
		{"zero shared connections", func(c *ConnectionConfig) { c.MaxSharedConnections = 0 }, true},
		{"too many connections", func(c *ConnectionConfig) { c.MaxConnections = 200 }, true},
		{"zero fanout", func(c *ConnectionConfig) { c.SharedFanout = 0 }, true},
		{"zero acquire timeout", func(c *ConnectionConfig) { c.AcquireTimeout = 0 }, true},
		{"zero timeout", func(c *ConnectionConfig) { c.Timeout = 0 }, true},
		{"negative retries", func(c *ConnectionConfig) { c.MaxRetries = -1 }, true},
		{"backoff factor too low", func(c *ConnectionConfig) { c.BackoffFactor = 1.0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := validateConfig(config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolNeverExceedsTierSize(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, config, TierConfig{Tier: TierExclusive, Size: 2, Fanout: 1}, dialer)

	var inUse, maxInUse atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			pc, err := p.Get(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer pc.Close()

			n := inUse.Add(1)
			for {
				m := maxInUse.Load()
				if n <= m || maxInUse.CompareAndSwap(m, n) {
					break
				}
			}
			_ = RootDSECheck(pc.Conn())
			time.Sleep(2 * time.Millisecond)
			inUse.Add(-1)
		})
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInUse.Load(), int32(2))
	assert.LessOrEqual(t, len(dialer.dialed()), 2)
	for _, c := range dialer.dialed() {
		assert.False(t, c.overlap.Load(), "connection %d used concurrently", c.id)
	}

	stats := p.Stats()
	assert.Equal(t, 0, stats.Holders)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestPoolServesWaitersInArrivalOrder(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, config, TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	first, err := p.Get(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for i, name := range []string{"b", "c", "d"} {
		wg.Go(func() {
			pc, err := p.Get(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			pc.Close()
		})
		waitFor(t, func() bool { return p.Stats().Waiting == int64(i+1) })
	}

	first.Close()
	wg.Wait()

	assert.Equal(t, []string{"b", "c", "d"}, order)
}

func TestPoolExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.AcquireTimeout = 30 * time.Millisecond
	p := newTestPool(t, config, TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	held, err := p.Get(context.Background())
	require.NoError(t, err)

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, int64(1), p.Stats().Exhausted)

	held.Close()
	again, err := p.Get(context.Background())
	require.NoError(t, err)
	again.Close()
}

func TestPoolCancelledContext(t *testing.T) {
	dialer := &fakeDialer{}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	held, err := p.Get(context.Background())
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolDiscardsConnectionFailingLivenessCheck(t *testing.T) {
	dialer := &fakeDialer{}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1, Check: ClosingCheck}, dialer)

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	firstID := pc.ID()
	pc.Close()

	// Simulate the server dropping the idle connection.
	require.NoError(t, dialer.dialed()[0].Close())

	pc, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, firstID, pc.ID())
	pc.Close()

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, int64(1), stats.Discarded)
	assert.Equal(t, 1, stats.Open)
}

func TestPoolRetriesDialThenSucceeds(t *testing.T) {
	dialer := &fakeDialer{failures: 2}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	pc.Close()

	assert.Equal(t, int64(2), p.Stats().Errors)
}

func TestPoolBackendUnavailableAfterRetries(t *testing.T) {
	dialer := &fakeDialer{failures: 10}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int64(3), p.Stats().Errors, "one attempt plus MaxRetries")

	// The slot was returned: once the backend recovers the pool serves again.
	dialer.mu.Lock()
	dialer.failures = 0
	dialer.mu.Unlock()

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	pc.Close()
}

func TestPoolDoesNotRetryAuthenticationFailure(t *testing.T) {
	dialer := &fakeDialer{failures: 10, dialErr: errors.New("invalid credentials")}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, int64(1), p.Stats().Errors)
}

func TestSharedTierFanout(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.AcquireTimeout = 30 * time.Millisecond
	p := newTestPool(t, config, TierConfig{Tier: TierShared, Size: 1, Fanout: 3}, dialer)

	var held []*PooledConnection
	for range 3 {
		pc, err := p.Get(context.Background())
		require.NoError(t, err)
		held = append(held, pc)
	}

	assert.Len(t, dialer.dialed(), 1)
	for _, pc := range held {
		assert.Equal(t, held[0].ID(), pc.ID())
	}
	assert.Equal(t, 3, p.Stats().Holders)

	_, err := p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)

	for _, pc := range held {
		pc.Close()
	}
	assert.Equal(t, 0, p.Stats().Holders)
}

func TestSharedTierSpreadsAcrossConnections(t *testing.T) {
	dialer := &fakeDialer{}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierShared, Size: 2, Fanout: 2}, dialer)

	a, err := p.Get(context.Background())
	require.NoError(t, err)
	b, err := p.Get(context.Background())
	require.NoError(t, err)
	c, err := p.Get(context.Background())
	require.NoError(t, err)

	// The first connection has spare fanout, so the second caller reuses it
	// before a new connection is opened.
	assert.Equal(t, a.ID(), b.ID())
	assert.NotEqual(t, a.ID(), c.ID())

	a.Close()
	b.Close()
	c.Close()
}

func TestPooledConnectionCloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.AcquireTimeout = 30 * time.Millisecond
	p := newTestPool(t, config, TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	pc.Close()
	pc.Close()

	held, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted, "double close must not free an extra slot")
	held.Close()
}

func TestMarkUnhealthyClosesOnRelease(t *testing.T) {
	dialer := &fakeDialer{}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	pc.MarkUnhealthy()
	assert.False(t, dialer.dialed()[0].IsClosing())
	pc.Close()
	assert.True(t, dialer.dialed()[0].IsClosing())
	assert.Equal(t, 0, p.Stats().Open)
}

func TestPoolClose(t *testing.T) {
	dialer := &fakeDialer{}
	p := newTestPool(t, testConfig(), TierConfig{Tier: TierExclusive, Size: 2, Fanout: 1}, dialer)

	held, err := p.Get(context.Background())
	require.NoError(t, err)
	idle, err := p.Get(context.Background())
	require.NoError(t, err)
	idle.Close()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	conns := dialer.dialed()
	require.Len(t, conns, 2)
	assert.True(t, conns[1].IsClosing(), "idle connection closed immediately")
	assert.False(t, conns[0].IsClosing(), "held connection stays open until released")

	held.Close()
	assert.True(t, conns[0].IsClosing())

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolPrunesIdleConnections(t *testing.T) {
	dialer := &fakeDialer{}
	config := testConfig()
	config.MaxIdleTime = 10 * time.Millisecond
	p := newTestPool(t, config, TierConfig{Tier: TierExclusive, Size: 1, Fanout: 1}, dialer)

	pc, err := p.Get(context.Background())
	require.NoError(t, err)
	pc.Close()

	time.Sleep(20 * time.Millisecond)
	p.performHealthCheck()

	assert.True(t, dialer.dialed()[0].IsClosing())
	assert.Equal(t, 0, p.Stats().Open)
}

func TestRootDSECheck(t *testing.T) {
	conn := &fakeConn{}
	assert.NoError(t, RootDSECheck(conn))
	assert.Equal(t, 1, conn.opCount("search"))
}

func TestValidateTier(t *testing.T) {
	assert.NoError(t, validateTier(TierConfig{Size: 1, Fanout: 1, Check: ClosingCheck}))
	assert.Error(t, validateTier(TierConfig{Size: 0, Fanout: 1, Check: ClosingCheck}))
	assert.Error(t, validateTier(TierConfig{Size: 1, Fanout: 0, Check: ClosingCheck}))
	assert.Error(t, validateTier(TierConfig{Size: 1, Fanout: 1}))
}

package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-ldap/ldap/v3"
	"golang.org/x/sync/semaphore"
)

// MaxConnectionPoolLimit is the maximum allowed connections in one tier.
const MaxConnectionPoolLimit = 100

// poolEntry is one open connection. Fields other than conn and id are
// guarded by the owning pool's mutex.
type poolEntry struct {
	id       uint64
	conn     Conn
	holders  int
	healthy  bool
	created  time.Time
	lastUsed time.Time
}

// connectionPool is a bounded pool of directory connections. Admission is
// controlled by a FIFO semaphore with Size*Fanout slots, so a connection is
// handed to at most Fanout holders at once and waiters are served in
// arrival order. Both tiers are instances of this type.
type connectionPool struct {
	ctx    context.Context // Logging context
	config *ConnectionConfig
	tier   TierConfig
	dial   DialFunc
	slots  *semaphore.Weighted

	mu      sync.Mutex
	cond    *sync.Cond
	entries []*poolEntry
	opening int
	closed  bool
	nextID  uint64

	waiting        atomic.Int64
	totalCreated   atomic.Int64
	totalDiscarded atomic.Int64
	totalErrors    atomic.Int64
	totalExhausted atomic.Int64
	startTime      time.Time

	metrics *PoolMetrics

	healthStop chan struct{}
	healthWg   sync.WaitGroup
}

// newConnectionPool creates a pool tier. No connection is opened until the
// first acquisition.
func newConnectionPool(ctx context.Context, config *ConnectionConfig, tier TierConfig, dial DialFunc, metrics *PoolMetrics) (*connectionPool, error) {
	if err := validateTier(tier); err != nil {
		return nil, fmt.Errorf("invalid %s tier: %w", tier.Tier, err)
	}

	p := &connectionPool{
		ctx:        ctx,
		config:     config,
		tier:       tier,
		dial:       dial,
		slots:      semaphore.NewWeighted(int64(tier.Size * tier.Fanout)),
		startTime:  time.Now(),
		metrics:    metrics,
		healthStop: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if config.HealthCheck > 0 {
		p.startHealthChecker()
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"tier":   string(tier.Tier),
		"size":   tier.Size,
		"fanout": tier.Fanout,
	})

	return p, nil
}

// Get acquires a connection, waiting at most AcquireTimeout for a slot.
// The returned connection must be released with Close.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	start := time.Now()
	p.waiting.Add(1)
	err := p.slots.Acquire(acquireCtx, 1)
	p.waiting.Add(-1)
	p.metrics.observeWait(p.tier.Tier, time.Since(start))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, ctxErr)
		}
		p.totalExhausted.Add(1)
		p.metrics.countAcquire(p.tier.Tier, "exhausted")
		LogPoolEvent(p.ctx, "pool_exhausted", map[string]any{
			"tier":    string(p.tier.Tier),
			"waited":  time.Since(start).String(),
			"waiting": p.waiting.Load(),
		})
		return nil, fmt.Errorf("%w: no %s connection within %s", ErrPoolExhausted, p.tier.Tier, p.config.AcquireTimeout)
	}

	entry, err := p.checkout(ctx)
	if err != nil {
		p.slots.Release(1)
		p.metrics.countAcquire(p.tier.Tier, "error")
		return nil, err
	}

	p.metrics.countAcquire(p.tier.Tier, "ok")
	return &PooledConnection{entry: entry, pool: p}, nil
}

// checkout picks an existing connection with spare fanout or opens a new
// one. The caller holds a slot.
func (p *connectionPool) checkout(ctx context.Context) (*poolEntry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		stale := p.pruneLocked(time.Now())
		if entry := p.pickLocked(); entry != nil {
			entry.holders++
			p.mu.Unlock()
			closeEntries(stale)

			if err := p.tier.Check(entry.conn); err != nil {
				p.discard(entry, err)
				continue
			}
			return entry, nil
		}

		if len(p.entries)+p.opening < p.tier.Size {
			p.opening++
			p.mu.Unlock()
			closeEntries(stale)

			entry, err := p.open(ctx)

			p.mu.Lock()
			p.opening--
			p.cond.Broadcast()
			if err == nil && p.closed {
				p.mu.Unlock()
				_ = entry.conn.Close()
				return nil, ErrPoolClosed
			}
			if err == nil {
				entry.holders = 1
				p.entries = append(p.entries, entry)
			}
			p.mu.Unlock()
			return entry, err
		}

		closeEntries(stale)
		if p.opening == 0 {
			p.mu.Unlock()
			return nil, NewConnectionError("no connection available despite free slot", true, ErrBackendUnavailable)
		}
		// The last connection of the tier is being opened by another caller.
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// pickLocked returns the healthy connection with the fewest holders that
// still has spare fanout.
func (p *connectionPool) pickLocked() *poolEntry {
	var best *poolEntry
	for _, e := range p.entries {
		if !e.healthy || e.holders >= p.tier.Fanout {
			continue
		}
		if best == nil || e.holders < best.holders {
			best = e
		}
	}
	return best
}

// pruneLocked removes idle connections older than MaxIdleTime and returns
// them for closing outside the lock.
func (p *connectionPool) pruneLocked(now time.Time) []*poolEntry {
	if p.config.MaxIdleTime <= 0 {
		return nil
	}

	var stale []*poolEntry
	p.entries = slices.DeleteFunc(p.entries, func(e *poolEntry) bool {
		if e.holders == 0 && now.Sub(e.lastUsed) > p.config.MaxIdleTime {
			stale = append(stale, e)
			return true
		}
		return false
	})
	return stale
}

// open dials a new connection with bounded exponential backoff.
func (p *connectionPool) open(ctx context.Context) (*poolEntry, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialBackoff
	b.MaxInterval = p.config.MaxBackoff
	b.Multiplier = p.config.BackoffFactor
	b.MaxElapsedTime = 0

	attempts := 0
	var conn Conn
	err := backoff.Retry(func() error {
		attempts++
		c, err := p.dial(ctx)
		if err != nil {
			p.totalErrors.Add(1)
			LogConnectionEvent(p.ctx, "connection_attempt_failed", map[string]any{
				"tier":    string(p.tier.Tier),
				"attempt": attempts,
				"error":   err.Error(),
			})
			if IsAuthenticationError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.MaxRetries)), ctx))

	if err != nil {
		LogPoolEvent(p.ctx, "connection_failed", map[string]any{
			"tier":     string(p.tier.Tier),
			"attempts": attempts,
			"error":    err.Error(),
		})
		cause := NewConnectionError(fmt.Sprintf("failed to open %s connection after %d attempts", p.tier.Tier, attempts), true, err)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, cause)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	p.totalCreated.Add(1)
	LogPoolEvent(p.ctx, "connection_opened", map[string]any{
		"tier":          string(p.tier.Tier),
		"connection_id": id,
		"attempts":      attempts,
	})

	now := time.Now()
	return &poolEntry{
		id:       id,
		conn:     conn,
		healthy:  true,
		created:  now,
		lastUsed: now,
	}, nil
}

// discard drops one holder from an entry that failed its liveness check and removes it
// from the pool. It is closed once its last holder is gone.
func (p *connectionPool) discard(e *poolEntry, cause error) {
	p.mu.Lock()
	e.holders--
	p.retireLocked(e)
	closeNow := e.holders == 0
	p.mu.Unlock()

	LogPoolEvent(p.ctx, "connection_discarded", map[string]any{
		"tier":          string(p.tier.Tier),
		"connection_id": e.id,
		"error":         cause.Error(),
	})

	if closeNow {
		_ = e.conn.Close()
	}
}

// retireLocked marks e unhealthy and removes it from the free set.
func (p *connectionPool) retireLocked(e *poolEntry) {
	if !e.healthy {
		return
	}
	e.healthy = false
	p.entries = slices.DeleteFunc(p.entries, func(x *poolEntry) bool { return x == e })
	p.totalDiscarded.Add(1)
	p.cond.Broadcast()
}

// release returns one holder's use of e and frees its slot.
func (p *connectionPool) release(e *poolEntry) {
	p.mu.Lock()
	e.holders--
	e.lastUsed = time.Now()
	closeNow := e.holders == 0 && !e.healthy
	p.mu.Unlock()

	if closeNow {
		_ = e.conn.Close()
	}
	p.slots.Release(1)
}

func closeEntries(entries []*poolEntry) {
	for _, e := range entries {
		_ = e.conn.Close()
	}
}

// Close closes idle connections and shuts down the pool. Connections still
// held are closed when released.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var idle []*poolEntry
	for _, e := range p.entries {
		e.healthy = false
		if e.holders == 0 {
			idle = append(idle, e)
		}
	}
	p.entries = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	close(p.healthStop)
	p.healthWg.Wait()

	closeEntries(idle)

	LogPoolEvent(p.ctx, "pool_closed", map[string]any{
		"tier":   string(p.tier.Tier),
		"closed": len(idle),
	})
	return nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Tier:      p.tier.Tier,
		Size:      p.tier.Size,
		Open:      len(p.entries),
		Waiting:   p.waiting.Load(),
		Created:   p.totalCreated.Load(),
		Discarded: p.totalDiscarded.Load(),
		Errors:    p.totalErrors.Load(),
		Exhausted: p.totalExhausted.Load(),
		Uptime:    time.Since(p.startTime),
	}
	for _, e := range p.entries {
		stats.Holders += e.holders
		if e.holders == 0 {
			stats.Idle++
		}
	}

	return stats
}

// startHealthChecker starts the periodic health checker.
func (p *connectionPool) startHealthChecker() {
	ticker := time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck closes expired idle connections and checks the
// remaining idle ones. It only takes slots that are free, so it never
// delays a waiting caller.
func (p *connectionPool) performHealthCheck() {
	p.mu.Lock()
	stale := p.pruneLocked(time.Now())
	var idle []*poolEntry
	for _, e := range p.entries {
		if e.holders == 0 {
			idle = append(idle, e)
		}
	}
	p.mu.Unlock()
	closeEntries(stale)

	for _, e := range idle {
		if !p.slots.TryAcquire(1) {
			return
		}

		p.mu.Lock()
		if !e.healthy || e.holders >= p.tier.Fanout {
			p.mu.Unlock()
			p.slots.Release(1)
			continue
		}
		e.holders++
		p.mu.Unlock()

		if err := p.tier.Check(e.conn); err != nil {
			LogPoolEvent(p.ctx, "health_check_failed", map[string]any{
				"tier":          string(p.tier.Tier),
				"connection_id": e.id,
				"error":         err.Error(),
			})
			p.mu.Lock()
			p.retireLocked(e)
			p.mu.Unlock()
		}
		p.release(e)
	}
}

// RootDSECheck checks a connection with a base-scope search of the root DSE.
func RootDSECheck(conn Conn) error {
	searchReq := ldap.NewSearchRequest(
		"", // Empty base DN for root DSE
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"namingContexts"},
		nil,
	)

	_, err := conn.Search(searchReq)
	return err
}

// ClosingCheck only checks that the connection has not been shut down. It
// costs no round-trip, which suits multiplexed read connections.
func ClosingCheck(conn Conn) error {
	if conn.IsClosing() {
		return errors.New("connection is closing")
	}
	return nil
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if config.Host == "" {
		return errors.New("host is required")
	}

	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port %d out of range", config.Port)
	}

	if config.MaxConnections <= 0 {
		return errors.New("MaxConnections must be positive")
	}

	if config.MaxSharedConnections <= 0 {
		return errors.New("MaxSharedConnections must be positive")
	}

	if config.MaxConnections > MaxConnectionPoolLimit || config.MaxSharedConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("pool size too high (max %d)", MaxConnectionPoolLimit)
	}

	if config.SharedFanout <= 0 {
		return errors.New("SharedFanout must be positive")
	}

	if config.AcquireTimeout <= 0 {
		return errors.New("AcquireTimeout must be positive")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.MaxRetries < 0 {
		return errors.New("MaxRetries cannot be negative")
	}

	if config.BackoffFactor <= 1.0 {
		return errors.New("BackoffFactor must be greater than 1.0")
	}

	return nil
}

func validateTier(tier TierConfig) error {
	if tier.Size <= 0 || tier.Size > MaxConnectionPoolLimit {
		return fmt.Errorf("size %d out of range", tier.Size)
	}
	if tier.Fanout <= 0 {
		return errors.New("fanout must be positive")
	}
	if tier.Check == nil {
		return errors.New("liveness check is required")
	}
	return nil
}

// PooledConnection is one holder's checkout of a pooled connection.
type PooledConnection struct {
	entry    *poolEntry
	pool     *connectionPool
	released atomic.Bool
}

// Conn returns the underlying connection.
func (pc *PooledConnection) Conn() Conn {
	return pc.entry.conn
}

// ID identifies the underlying connection within its tier.
func (pc *PooledConnection) ID() uint64 {
	return pc.entry.id
}

// Tier returns the tier the connection belongs to.
func (pc *PooledConnection) Tier() Tier {
	return pc.pool.tier.Tier
}

// MarkUnhealthy removes the connection from the pool. It is closed when
// its last holder releases it.
func (pc *PooledConnection) MarkUnhealthy() {
	pc.pool.mu.Lock()
	pc.pool.retireLocked(pc.entry)
	pc.pool.mu.Unlock()
}

// Close releases the connection back to its pool. Subsequent calls are
// no-ops.
func (pc *PooledConnection) Close() {
	if pc.released.CompareAndSwap(false, true) {
		pc.pool.release(pc.entry)
	}
}

// Package pool implements the connection pool of spec.md §4.4: a
// semaphore of max_concurrency permits guarding a mutex+FIFO idle queue of
// *conn.Connection. Direct generalization of the teacher's
// TenantPool/PooledConn (internal/pool/pool.go, internal/pool/conn.go) —
// collapsed from "one pool per tenant, keyed by tenant ID" to "one pool
// per Gel client", since this spec has no multi-tenancy concept.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geldb/gelclient/internal/conn"
)

// Stats mirrors the teacher's Stats struct, relabeled for a single-tenant
// client pool.
type Stats struct {
	Active    int   `json:"active"`
	Idle      int   `json:"idle"`
	Total     int   `json:"total"`
	Waiting   int   `json:"waiting"`
	MaxConns  int   `json:"max_connections"`
	MinConns  int   `json:"min_connections"`
	Exhausted int64 `json:"pool_exhausted_total"`
}

// OnPoolExhausted is invoked when Acquire must wait because the pool is at
// max_concurrency.
type OnPoolExhausted func()

// Config is the pool's immutable configuration, spec.md §4.4 "an
// immutable config" and §3.5.
type Config struct {
	Dial func(ctx context.Context) (*conn.Connection, error)

	MaxConcurrency int // default 10, spec.md §4.4
	MinConns       int
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	AcquireTimeout time.Duration

	OnPoolExhausted OnPoolExhausted
}

func (c Config) effectiveMaxConcurrency() int {
	if c.MaxConcurrency <= 0 {
		return 10
	}
	return c.MaxConcurrency
}

// Pool owns a semaphore of leaseable connections plus a FIFO of idle ones,
// per spec.md §4.4.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond
	cfg  Config

	idle    []*conn.Connection
	active  map[*conn.Connection]struct{}
	total   int
	waiting int

	exhausted int64
	closed    bool
	stopCh    chan struct{}
}

// New constructs a Pool and starts its idle reaper (and, if MinConns > 0,
// its pre-warmer), mirroring the teacher's NewTenantPool.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:    cfg,
		idle:   make([]*conn.Connection, 0),
		active: make(map[*conn.Connection]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()
	if cfg.MinConns > 0 {
		go p.warmUp()
	}
	return p
}

// warmUp pre-creates MinConns idle connections, per the teacher's warmUp.
func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		c, err := p.cfg.Dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("pool warm-up connection failed", "index", i+1, "target", p.cfg.MinConns, "err", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			c.Close()
			return
		}
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
}

// LeasedConn exclusively owns a *conn.Connection and the pool's semaphore
// permit for the lease duration, per spec.md §3.5. Release returns the
// underlying connection to the pool's idle FIFO if it is still
// structurally consistent, or drops it — the permit is always released.
type LeasedConn struct {
	pool *Pool
	C    *conn.Connection

	released bool
}

// Acquire takes one permit (waiting if exhausted), then pops idle
// connections until a consistent, non-reset one is found, dialing a fresh
// one if the queue empties — spec.md §4.4's Acquire algorithm.
func (p *Pool) Acquire(ctx context.Context) (*LeasedConn, error) {
	deadlineAt := time.Now().Add(p.acquireTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadlineAt) {
		deadlineAt = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed")
		}

		for len(p.idle) > 0 {
			c := p.idle[0]
			p.idle = p.idle[1:]

			if p.isExpired(c) {
				c.Close()
				p.total--
				continue
			}
			// A non-blocking peek: a TCP error or inbound EOF signals
			// reset, per spec.md §4.4.
			if err := c.Ping(); err != nil {
				c.Close()
				p.total--
				continue
			}

			p.active[c] = struct{}{}
			p.mu.Unlock()
			return &LeasedConn{pool: p, C: c}, nil
		}

		if p.total < p.cfg.effectiveMaxConcurrency() {
			p.total++
			p.mu.Unlock()

			c, err := p.cfg.Dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: dialing new connection: %w", err)
			}

			p.mu.Lock()
			p.active[c] = struct{}{}
			p.mu.Unlock()
			return &LeasedConn{pool: p, C: c}, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.cfg.OnPoolExhausted
		p.mu.Unlock()
		if cb != nil {
			cb()
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout (%s): pool exhausted", p.acquireTimeout())
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closing")
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout (%s): pool exhausted", p.acquireTimeout())
		}
		// retry from the top, mu still held
	}
}

func (p *Pool) acquireTimeout() time.Duration {
	if p.cfg.AcquireTimeout <= 0 {
		return 30 * time.Second
	}
	return p.cfg.AcquireTimeout
}

func (p *Pool) isExpired(c *conn.Connection) bool {
	if p.cfg.MaxLifetime <= 0 {
		return false
	}
	return time.Since(c.CreatedAt()) > p.cfg.MaxLifetime
}

func (p *Pool) isIdleExpired(c *conn.Connection) bool {
	if p.cfg.IdleTimeout <= 0 {
		return false
	}
	return time.Since(c.LastUsed()) > p.cfg.IdleTimeout
}

// Release implements spec.md §4.4's Release rule: push the connection back
// to the idle FIFO only if it is structurally consistent; otherwise drop
// it. The permit (tracked via p.total) is released unconditionally.
func (lc *LeasedConn) Release() {
	if lc.released {
		return
	}
	lc.released = true

	p := lc.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, lc.C)

	if p.closed || !lc.C.IsConsistent() || p.isExpired(lc.C) {
		lc.C.Close()
		p.total--
		p.cond.Signal()
		return
	}

	p.idle = append(p.idle, lc.C)
	// Signal (not Broadcast) avoids the thundering-herd problem of waking
	// every waiter for all but one to go back to sleep; Broadcast is
	// reserved for Close() and acquire-timeout wakeups.
	p.cond.Signal()
}

// Discard drops the leased connection unconditionally without offering it
// back to the idle queue — used when the caller already knows the
// connection must not be reused (e.g. an IdleSessionTimeout on the
// previous use, spec.md §4.3.5).
func (lc *LeasedConn) Discard() {
	if lc.released {
		return
	}
	lc.released = true

	p := lc.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, lc.C)
	lc.C.Close()
	p.total--
	p.cond.Signal()
}

// Stats reports current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:    len(p.active),
		Idle:      len(p.idle),
		Total:     p.total,
		Waiting:   p.waiting,
		MaxConns:  p.cfg.effectiveMaxConcurrency(),
		MinConns:  p.cfg.MinConns,
		Exhausted: p.exhausted,
	}
}

// reapLoop periodically closes idle connections that have exceeded
// IdleTimeout, mirroring the teacher's reapLoop/reapIdle ticker pattern.
func (p *Pool) reapLoop() {
	interval := p.cfg.IdleTimeout
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if p.isIdleExpired(c) || p.isExpired(c) {
			c.Close()
			p.total--
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
}

// Drain closes idle connections and waits (with a timeout) for active
// ones to be released, per the teacher's Drain.
func (p *Pool) Drain() {
	p.mu.Lock()
	for _, c := range p.idle {
		c.Close()
		p.total--
	}
	p.idle = p.idle[:0]
	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount == 0 {
		return
	}

	timeout := time.After(30 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.mu.Lock()
			if len(p.active) == 0 {
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		case <-timeout:
			p.mu.Lock()
			for c := range p.active {
				c.Close()
				p.total--
			}
			p.active = make(map[*conn.Connection]struct{})
			p.mu.Unlock()
			slog.Warn("pool: force-closed active connections after drain timeout")
			return
		}
	}
}

// Close shuts the pool down: wakes every Acquire waiter, then drains.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.Drain()
}

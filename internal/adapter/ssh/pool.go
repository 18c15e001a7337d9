// SPDX-License-Identifier: MPL-2.0

package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/xecgo/xec/internal/eventbus"
	"github.com/xecgo/xec/internal/testutil"
	"github.com/xecgo/xec/pkg/xec"
)

// PoolKey identifies a class of interchangeable connections: same host,
// port, user, and authentication material. Two Commands addressing the
// same host with different identities get distinct pools of connections.
type PoolKey struct {
	Host            string
	Port            int
	Username        string
	AuthFingerprint string
}

func fingerprint(opts xec.SSHOptions) string {
	h := sha256.New()
	h.Write(opts.PrivateKey)
	h.Write([]byte(opts.AgentSocket))
	h.Write([]byte(opts.Password))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// KeyFor derives a PoolKey from an SSHOptions value.
func KeyFor(opts xec.SSHOptions) PoolKey {
	return PoolKey{
		Host:            opts.Host,
		Port:            opts.EffectivePort(),
		Username:        opts.Username,
		AuthFingerprint: fingerprint(opts),
	}
}

// conn wraps one *xssh.Client with pool bookkeeping.
type conn struct {
	key      PoolKey
	client   *xssh.Client
	inUse    bool
	lastUsed time.Time
	opened   time.Time
}

// Pool manages SSH connections keyed by PoolKey, bounded by MaxPerHost and
// MaxTotal, with idle eviction and keepalive health checks.
type Pool struct {
	bus *eventbus.Bus

	MaxPerHost        int
	MaxTotal          int
	MaxIdle           time.Duration
	KeepaliveInterval time.Duration
	AcquireTimeout    time.Duration

	// Clock abstracts idle-time measurement so tests can advance time
	// deterministically instead of sleeping past MaxIdle. Defaults to
	// testutil.RealClock when nil.
	Clock testutil.Clock

	mu       sync.Mutex
	conns    map[PoolKey][]*conn
	total    int
	waiters  map[PoolKey][]chan struct{}
	reuseCnt int64
	idleSum  time.Duration
	idleObs  int64
}

// NewPool constructs a Pool with the given bus (may be nil) and defaults
// applied to any zero-valued bound.
func NewPool(bus *eventbus.Bus) *Pool {
	return &Pool{
		bus:               bus,
		MaxPerHost:        4,
		MaxTotal:          32,
		MaxIdle:           5 * time.Minute,
		KeepaliveInterval: 30 * time.Second,
		AcquireTimeout:    15 * time.Second,
		Clock:             testutil.RealClock{},
		conns:             make(map[PoolKey][]*conn),
		waiters:           make(map[PoolKey][]chan struct{}),
	}
}

func (p *Pool) clock() testutil.Clock {
	if p.Clock == nil {
		return testutil.RealClock{}
	}
	return p.Clock
}

// Dialer opens a fresh *xssh.Client for key. The SSH adapter supplies one
// bound to the resolved auth method and host address.
type Dialer func(ctx context.Context) (*xssh.Client, error)

// Acquire returns an idle connection for key if one exists; otherwise dials
// a new one if under MaxPerHost/MaxTotal, or waits FIFO for a release up to
// AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context, key PoolKey, dial Dialer) (*conn, error) {
	for {
		p.mu.Lock()
		for _, c := range p.conns[key] {
			if !c.inUse {
				c.inUse = true
				idle := p.clock().Since(c.lastUsed)
				p.idleSum += idle
				p.idleObs++
				p.reuseCnt++
				p.mu.Unlock()
				p.publishOpen(key, "reused")
				return c, nil
			}
		}

		perHost := len(p.conns[key])
		if perHost < p.effectiveMaxPerHost() && p.total < p.effectiveMaxTotal() {
			p.total++
			p.mu.Unlock()

			client, err := dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, &xec.ConnectionError{Host: key.Host, Cause: err}
			}

			now := p.clock().Now()
			c := &conn{key: key, client: client, inUse: true, opened: now, lastUsed: now}
			p.mu.Lock()
			p.conns[key] = append(p.conns[key], c)
			p.mu.Unlock()
			p.publishOpen(key, "new")
			return c, nil
		}

		wait := make(chan struct{})
		p.waiters[key] = append(p.waiters[key], wait)
		p.mu.Unlock()

		timer := time.NewTimer(p.effectiveAcquireTimeout())
		select {
		case <-wait:
			timer.Stop()
			continue
		case <-timer.C:
			return nil, &xec.ResourceExhaustedError{Resource: "ssh-pool", Limit: p.effectiveMaxTotal()}
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Release returns c to the idle set, or closes and removes it if healthy is
// false.
func (p *Pool) Release(c *conn, healthy bool) {
	p.mu.Lock()
	if !healthy {
		p.removeLocked(c)
		p.mu.Unlock()
		p.notifyWaiter(c.key)
		p.publishClose(c.key, "unhealthy")
		return
	}
	c.inUse = false
	c.lastUsed = p.clock().Now()
	p.mu.Unlock()
	p.notifyWaiter(c.key)
}

func (p *Pool) notifyWaiter(key PoolKey) {
	p.mu.Lock()
	waiters := p.waiters[key]
	if len(waiters) > 0 {
		w := waiters[0]
		p.waiters[key] = waiters[1:]
		p.mu.Unlock()
		close(w)
		return
	}
	p.mu.Unlock()
}

func (p *Pool) removeLocked(c *conn) {
	list := p.conns[c.key]
	for i, existing := range list {
		if existing == c {
			p.conns[c.key] = append(list[:i], list[i+1:]...)
			p.total--
			break
		}
	}
	_ = c.client.Close()
}

// Sweep closes idle connections older than MaxIdle, emitting
// ssh:pool-cleanup once for the whole sweep.
func (p *Pool) Sweep() {
	p.mu.Lock()
	cleaned := 0
	for key, list := range p.conns {
		kept := list[:0]
		for _, c := range list {
			if !c.inUse && p.clock().Since(c.lastUsed) > p.effectiveMaxIdle() {
				_ = c.client.Close()
				p.total--
				cleaned++
				continue
			}
			kept = append(kept, c)
		}
		p.conns[key] = kept
	}
	remaining := p.total
	p.mu.Unlock()

	if cleaned > 0 {
		p.publish(xec.EventSSHPoolCleanup, "", xec.Fields{"cleaned": cleaned, "remaining": remaining})
	}
}

// Metrics reports current pool utilization, for periodic ssh:pool-metrics
// emission by the caller's own ticker.
type Metrics struct {
	Total        int
	Active       int
	Idle         int
	ReuseCount   int64
	AvgIdleTime  time.Duration
}

// Stats snapshots current pool utilization.
func (p *Pool) Stats() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	idle := 0
	for _, list := range p.conns {
		for _, c := range list {
			if c.inUse {
				active++
			} else {
				idle++
			}
		}
	}
	avg := time.Duration(0)
	if p.idleObs > 0 {
		avg = p.idleSum / time.Duration(p.idleObs)
	}
	return Metrics{Total: p.total, Active: active, Idle: idle, ReuseCount: p.reuseCnt, AvgIdleTime: avg}
}

// StartMaintenance runs Sweep and ssh:pool-metrics emission on fixed
// intervals until ctx is cancelled. It runs that loop in its own background
// goroutine and returns immediately; callers typically call it once per
// Pool, alongside the adapter that owns it.
func (p *Pool) StartMaintenance(ctx context.Context) {
	sweepTicker := time.NewTicker(p.effectiveMaxIdle() / 2)
	keepaliveTicker := time.NewTicker(p.effectiveKeepaliveInterval())
	metricsTicker := time.NewTicker(p.effectiveKeepaliveInterval())
	go func() {
		defer sweepTicker.Stop()
		defer keepaliveTicker.Stop()
		defer metricsTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sweepTicker.C:
				p.Sweep()
			case <-keepaliveTicker.C:
				p.pingIdle()
			case <-metricsTicker.C:
				p.publishMetrics()
			}
		}
	}()
}

// pingIdle sends a channel-level keepalive request on every idle connection,
// removing any that fail to respond.
func (p *Pool) pingIdle() {
	p.mu.Lock()
	var stale []*conn
	var targets []*conn
	for _, list := range p.conns {
		for _, c := range list {
			if !c.inUse {
				targets = append(targets, c)
			}
		}
	}
	p.mu.Unlock()

	for _, c := range targets {
		if _, _, err := c.client.SendRequest("keepalive@xecgo", true, nil); err != nil {
			stale = append(stale, c)
		}
	}

	if len(stale) == 0 {
		return
	}
	p.mu.Lock()
	for _, c := range stale {
		p.removeLocked(c)
	}
	p.mu.Unlock()
}

func (p *Pool) publishMetrics() {
	m := p.Stats()
	p.publish(xec.EventSSHPoolMetrics, "", xec.Fields{
		"total": m.Total, "active": m.Active, "idle": m.Idle,
		"reuse_count": m.ReuseCount, "avg_idle_time": m.AvgIdleTime,
	})
}

func (p *Pool) effectiveKeepaliveInterval() time.Duration {
	if p.KeepaliveInterval <= 0 {
		return 30 * time.Second
	}
	return p.KeepaliveInterval
}

// CloseAll closes every pooled connection regardless of in-use state. Used
// by Adapter.Dispose.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, list := range p.conns {
		for _, c := range list {
			_ = c.client.Close()
		}
		delete(p.conns, key)
	}
	p.total = 0
}

func (p *Pool) effectiveMaxPerHost() int {
	if p.MaxPerHost <= 0 {
		return 4
	}
	return p.MaxPerHost
}

func (p *Pool) effectiveMaxTotal() int {
	if p.MaxTotal <= 0 {
		return 32
	}
	return p.MaxTotal
}

func (p *Pool) effectiveMaxIdle() time.Duration {
	if p.MaxIdle <= 0 {
		return 5 * time.Minute
	}
	return p.MaxIdle
}

func (p *Pool) effectiveAcquireTimeout() time.Duration {
	if p.AcquireTimeout <= 0 {
		return 15 * time.Second
	}
	return p.AcquireTimeout
}

func (p *Pool) publishOpen(key PoolKey, how string) {
	p.publish(xec.EventConnectionOpen, key.Host, xec.Fields{
		"type": "ssh", "host": key.Host, "port": key.Port, "metadata": fmt.Sprintf("acquire=%s", how),
	})
}

func (p *Pool) publishClose(key PoolKey, reason string) {
	p.publish(xec.EventConnectionClose, key.Host, xec.Fields{
		"type": "ssh", "host": key.Host, "port": key.Port, "reason": reason,
	})
}

func (p *Pool) publish(name xec.EventName, host string, fields xec.Fields) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(xec.Event{Name: name, Timestamp: time.Now(), Adapter: xec.AdapterSSH, Host: host, Fields: fields})
}

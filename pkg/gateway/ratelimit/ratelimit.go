// Package ratelimit is a per-principal limiter for call setup: a token
// bucket per scope plus a live-session cap. It owns its expiry sweep and
// must be closed on shutdown.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// Scope separates cheap operations from expensive ones. Initiating an
// outbound call bills telephony minutes, so it gets a tighter budget than
// opening a media stream.
type Scope string

const (
	ScopeSession  Scope = "session"
	ScopeInitiate Scope = "initiate"
)

type Config struct {
	SessionsPerMinute int
	InitiatePerMinute int
	Burst             int

	// MaxLiveSessions caps concurrently open media streams per principal.
	MaxLiveSessions int

	// Bounds for the in-memory map (single-process only).
	MaxEntries    int
	EntryTTL      time.Duration
	SweepInterval time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalState

	stop      chan struct{}
	closeOnce sync.Once
}

type principalState struct {
	mu       sync.Mutex
	buckets  map[Scope]*tokenBucket
	liveSem  chan struct{}
	lastSeen time.Time
}

type tokenBucket struct {
	perSecond float64
	capacity  float64
	tokens    float64
	last      time.Time
}

// New builds a limiter and starts its expiry sweep.
func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	l := &Limiter{
		cfg:  cfg,
		m:    make(map[string]*principalState),
		stop: make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Close stops the sweep goroutine. Idempotent.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			l.gcLocked(now)
			l.mu.Unlock()
		}
	}
}

// PrincipalKeyFromAPIKey derives a stable map key that never stores the
// raw credential.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// Allow spends one token in the scope's bucket.
func (l *Limiter) Allow(principal string, scope Scope, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	perMinute := l.cfg.SessionsPerMinute
	if scope == ScopeInitiate {
		perMinute = l.cfg.InitiatePerMinute
	}
	if perMinute <= 0 {
		return Decision{Allowed: true}
	}

	ps := l.getOrCreate(principal, now)
	ok, retryAfter := ps.allowToken(scope, now, float64(perMinute)/60.0, l.cfg.Burst)
	if !ok {
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}

// AcquireSession combines the session-scope token with the live-session
// cap; the returned permit must be released when the call ends.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	if dec := l.Allow(principal, ScopeSession, now); !dec.Allowed {
		return dec
	}

	ps := l.getOrCreate(principal, now)
	if l.cfg.MaxLiveSessions > 0 {
		select {
		case ps.liveSem <- struct{}{}:
			return Decision{Allowed: true, Permit: &Permit{release: func() { <-ps.liveSem }}}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// Bounded memory beats perfect fairness: evict one arbitrary
		// entry if the sweep freed nothing.
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	if ps, ok := l.m[principal]; ok {
		ps.mu.Lock()
		ps.lastSeen = now
		ps.mu.Unlock()
		return ps
	}
	capacity := l.cfg.MaxLiveSessions
	if capacity <= 0 {
		capacity = 1
	}
	ps := &principalState{
		buckets:  make(map[Scope]*tokenBucket),
		liveSem:  make(chan struct{}, capacity),
		lastSeen: now,
	}
	l.m[principal] = ps
	return ps
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, ps := range l.m {
		ps.mu.Lock()
		expired := now.Sub(ps.lastSeen) > l.cfg.EntryTTL && len(ps.liveSem) == 0
		ps.mu.Unlock()
		if expired {
			delete(l.m, k)
		}
	}
}

func (ps *principalState) allowToken(scope Scope, now time.Time, perSecond float64, burst int) (bool, int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.lastSeen = now
	if perSecond <= 0 {
		return true, 0
	}
	capacity := float64(burst)
	if capacity < 1 {
		capacity = 1
	}

	tb := ps.buckets[scope]
	if tb == nil {
		tb = &tokenBucket{perSecond: perSecond, capacity: capacity, tokens: capacity, last: now}
		ps.buckets[scope] = tb
	}
	tb.perSecond = perSecond
	tb.capacity = capacity

	elapsed := now.Sub(tb.last).Seconds()
	if elapsed > 0 {
		tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.perSecond)
		tb.last = now
	}

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}
	retryAfter := int(math.Ceil((1.0 - tb.tokens) / tb.perSecond))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// EntryCount is exposed for tests and diagnostics.
func (l *Limiter) EntryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

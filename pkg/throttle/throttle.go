// Package throttle implements the token-bucket limiter guarding
// verification attempts. Buckets are keyed by (subject, scope) where the
// subject is a user ID or client IP and the scope names the guarded
// operation ("mfa-verify", "login", ...). Each scope has an independent
// capacity and refill rate.
package throttle

import (
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limiting parameters for one scope.
type Config struct {
	// Requests is the number of requests refilled per Window.
	Requests int
	// Window is the refill period.
	Window time.Duration
	// Burst is the bucket capacity.
	Burst int
}

// Well-known scopes and their defaults. These can be overridden via
// environment variables (see FromEnv).
const (
	ScopeLogin     = "login"
	ScopeMFAVerify = "mfa-verify"
	ScopeAPI       = "api"
)

// DefaultScopes returns the default per-scope configuration: one login
// attempt refilled per minute (capacity 5), one MFA verification refilled
// every 30 seconds (capacity 5), and a lenient general API profile.
// Override with: THROTTLE_{LOGIN,MFA_VERIFY,API}_{REQUESTS,WINDOW_SEC,BURST}.
func DefaultScopes() map[string]Config {
	return map[string]Config{
		ScopeLogin:     FromEnv("LOGIN", Config{Requests: 1, Window: time.Minute, Burst: 5}),
		ScopeMFAVerify: FromEnv("MFA_VERIFY", Config{Requests: 1, Window: 30 * time.Second, Burst: 5}),
		ScopeAPI:       FromEnv("API", Config{Requests: 10, Window: time.Second, Burst: 100}),
	}
}

// fallback is used for scopes without explicit configuration so an unknown
// scope throttles rather than rejecting or admitting everything.
var fallback = Config{Requests: 10, Window: time.Second, Burst: 100}

// FromEnv reads a scope configuration from environment variables following
// the pattern THROTTLE_{prefix}_{field}, e.g. THROTTLE_MFA_VERIFY_BURST.
// Fields that are unset or unparsable keep their defaults.
func FromEnv(prefix string, defaultConfig Config) Config {
	config := defaultConfig

	if val := os.Getenv("THROTTLE_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.Requests = requests
		}
	}

	if val := os.Getenv("THROTTLE_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("THROTTLE_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// Limiter manages token buckets for all (subject, scope) pairs.
// All methods are safe for concurrent use; acquisition is atomic per
// bucket, so two callers racing for the last token cannot both win.
type Limiter struct {
	scopes  map[string]Config
	buckets sync.Map // map[string]*rate.Limiter

	mu          sync.Mutex
	lastCleanup time.Time
}

// New creates a Limiter with the given per-scope configurations.
// Passing nil uses DefaultScopes.
func New(scopes map[string]Config) *Limiter {
	if scopes == nil {
		scopes = DefaultScopes()
	}
	return &Limiter{
		scopes:      scopes,
		lastCleanup: time.Now(),
	}
}

// TryAcquire attempts to take one token from the bucket for (subject,
// scope). It returns false without mutating state when the bucket is
// exhausted.
func (l *Limiter) TryAcquire(subject, scope string) bool {
	return l.TryAcquireN(subject, scope, 1, time.Now())
}

// TryAcquireN attempts to take cost tokens at time t. The explicit time
// makes refill behavior testable without sleeping.
func (l *Limiter) TryAcquireN(subject, scope string, cost int, t time.Time) bool {
	return l.getBucket(subject, scope).AllowN(t, cost)
}

// Tokens reports the tokens available in the bucket at time t.
func (l *Limiter) Tokens(subject, scope string, t time.Time) float64 {
	return l.getBucket(subject, scope).TokensAt(t)
}

// Reset restores the bucket for (subject, scope) to full capacity.
// Administrative override; a fresh bucket starts full.
func (l *Limiter) Reset(subject, scope string) {
	cfg := l.configFor(scope)
	l.buckets.Store(key(subject, scope), newBucket(cfg))
}

func (l *Limiter) configFor(scope string) Config {
	if cfg, ok := l.scopes[scope]; ok {
		return cfg
	}
	return fallback
}

func (l *Limiter) getBucket(subject, scope string) *rate.Limiter {
	k := key(subject, scope)

	// Fast path: bucket already exists.
	if bucket, ok := l.buckets.Load(k); ok {
		return bucket.(*rate.Limiter)
	}

	// Slow path: create and race to store.
	actual, _ := l.buckets.LoadOrStore(k, newBucket(l.configFor(scope)))

	l.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops idle buckets so ephemeral subjects (client IPs) don't
// accumulate forever. A bucket back at full capacity has not been used for
// at least a full refill cycle.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.buckets.Range(func(k, v any) bool {
		bucket := v.(*rate.Limiter)
		if bucket.Tokens() >= float64(bucket.Burst()) {
			l.buckets.Delete(k)
		}
		return true
	})
}

func newBucket(cfg Config) *rate.Limiter {
	refillPerSecond := float64(cfg.Requests) / cfg.Window.Seconds()
	return rate.NewLimiter(rate.Limit(refillPerSecond), cfg.Burst)
}

func key(subject, scope string) string {
	return scope + ":" + subject
}

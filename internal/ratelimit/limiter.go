package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/ride-booking/internal/apperrors"
)

const (
	DefaultCapacity = 10
	DefaultWindow   = 60 * time.Second
)

// Bucket is the persisted state for one key.
type Bucket struct {
	Tokens     int
	LastRefill time.Time
}

// Policy is the bucket shape: Capacity tokens, refilled all at once when a
// full Window has passed since the last refill.
type Policy struct {
	Capacity int
	Window   time.Duration
}

// BucketStore persists buckets. Take must apply the policy's transition for
// key atomically with respect to every other Take on the same key.
type BucketStore interface {
	Take(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
}

type Result struct {
	Allowed   bool
	Remaining int
}

// Limiter is a token bucket that refills to capacity once a full window has
// elapsed since the last refill.
type Limiter struct {
	store  BucketStore
	policy Policy
	now    func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(store BucketStore, capacity int, window time.Duration, opts ...Option) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{store: store, policy: Policy{Capacity: capacity, Window: window}, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limiter) Capacity() int { return l.policy.Capacity }

// Allow consumes one token for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if strings.TrimSpace(key) == "" {
		return Result{}, apperrors.Invalid("rate limit key required")
	}
	res, err := l.store.Take(ctx, key, l.policy, l.now())
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %q: %w", key, err)
	}
	return res, nil
}

// take is the bucket transition. The Redis script mirrors it.
func (p Policy) take(b Bucket, exists bool, now time.Time) (Bucket, Result) {
	if !exists {
		b = Bucket{Tokens: p.Capacity, LastRefill: now}
	}
	if now.Sub(b.LastRefill) >= p.Window {
		b.Tokens = p.Capacity
		b.LastRefill = now
	}
	if b.Tokens > 0 {
		b.Tokens--
		return b, Result{Allowed: true, Remaining: b.Tokens}
	}
	return b, Result{Allowed: false, Remaining: 0}
}

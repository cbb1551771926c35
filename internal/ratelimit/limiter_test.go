package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/apperrors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter() (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(NewMemoryStore(), 10, 60*time.Second, WithClock(clk.Now)), clk
}

func TestEleventhCallWithinWindowIsRejected(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		res, err := l.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d unexpectedly rejected", i+1)
		}
		if res.Remaining != 9-i {
			t.Fatalf("call %d: remaining=%d want %d", i+1, res.Remaining, 9-i)
		}
	}
	res, err := l.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("11th call: got %+v", res)
	}
}

func TestWindowElapsedResetsToFullCapacity(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, _ = l.Allow(ctx, "k")
	}
	clk.Advance(59 * time.Second)
	if res, _ := l.Allow(ctx, "k"); res.Remaining != 5 {
		t.Fatalf("before window: remaining=%d want 5", res.Remaining)
	}
	clk.Advance(time.Second)
	res, _ := l.Allow(ctx, "k")
	if !res.Allowed || res.Remaining != 9 {
		t.Fatalf("after window: got %+v want remaining 9", res)
	}
}

func TestExhaustedBucketRecoversAfterWindow(t *testing.T) {
	l, clk := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		_, _ = l.Allow(ctx, "k")
	}
	clk.Advance(61 * time.Second)
	if res, _ := l.Allow(ctx, "k"); !res.Allowed {
		t.Fatalf("expected bucket to refill")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = l.Allow(ctx, "a")
	}
	if res, _ := l.Allow(ctx, "b"); !res.Allowed || res.Remaining != 9 {
		t.Fatalf("key b affected by key a: %+v", res)
	}
}

func TestEmptyKeyIsValidationError(t *testing.T) {
	l, _ := newTestLimiter()
	_, err := l.Allow(context.Background(), "  ")
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentCallsNeverExceedCapacity(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()
	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res, err := l.Allow(ctx, "hot"); err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Fatalf("allowed=%d want 10", allowed)
	}
}

type failingStore struct{}

func (failingStore) Take(context.Context, string, Policy, time.Time) (Result, error) {
	return Result{}, errors.New("redis down")
}

func TestStoreErrorIsReturned(t *testing.T) {
	l := New(failingStore{}, 10, time.Minute)
	if _, err := l.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweepDropsStaleBuckets(t *testing.T) {
	s := NewMemoryStore()
	l, clk := New(s, 10, time.Minute), time.Unix(0, 0)
	l.now = func() time.Time { return clk }
	_, _ = l.Allow(context.Background(), "old")
	clk = clk.Add(2 * time.Minute)
	_, _ = l.Allow(context.Background(), "new")
	if n := s.Sweep(clk, time.Minute); n != 1 || s.Len() != 1 {
		t.Fatalf("sweep removed %d, left %d", n, s.Len())
	}
}

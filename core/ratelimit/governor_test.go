package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestGovernor(t *testing.T, limit int, window time.Duration, clock *fakeClock) *Governor {
	t.Helper()
	g, err := New(Options{Limit: limit, Window: window, Now: clock.Now})
	if err != nil {
		t.Fatalf("new governor: %v", err)
	}
	return g
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(Options{Limit: 0, Window: time.Second}); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := New(Options{Limit: 1, Window: 0}); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

func TestCheckSevenRapidCalls(t *testing.T) {
	g := newTestGovernor(t, 5, time.Minute, newFakeClock())
	wantAllowed := []bool{true, true, true, true, true, false, false}
	wantRemaining := []int{4, 3, 2, 1, 0, 0, 0}
	for i := range wantAllowed {
		res := g.Check("203.0.113.7")
		if res.Allowed != wantAllowed[i] {
			t.Fatalf("call %d: allowed=%v want %v", i+1, res.Allowed, wantAllowed[i])
		}
		if res.Remaining != wantRemaining[i] {
			t.Fatalf("call %d: remaining=%d want %d", i+1, res.Remaining, wantRemaining[i])
		}
		if res.Limit != 5 {
			t.Fatalf("call %d: unexpected limit %d", i+1, res.Limit)
		}
		if res.ResetSeconds != 60 {
			t.Fatalf("call %d: unexpected reset %d", i+1, res.ResetSeconds)
		}
	}
	if count, _, _ := g.state("203.0.113.7"); count != 7 {
		t.Fatalf("denied calls must still count, got %d", count)
	}
}

func TestCheckResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, 2, time.Minute, clock)
	for i := 0; i < 4; i++ {
		g.Check("a")
	}
	clock.Advance(30 * time.Second)
	res := g.Check("a")
	if res.Allowed || res.ResetSeconds != 30 {
		t.Fatalf("expected denial with 30s reset, got %+v", res)
	}
	clock.Advance(30 * time.Second)
	res = g.Check("a")
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", res)
	}
	count, resetAt, _ := g.state("a")
	if count != 1 {
		t.Fatalf("expected count reset to 1, got %d", count)
	}
	if !resetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("expected window to start now, got %s", resetAt)
	}
}

func TestResetSecondsRoundsUp(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, 10, 1500*time.Millisecond, clock)
	if res := g.Check("a"); res.ResetSeconds != 2 {
		t.Fatalf("expected ceil(1.5)=2, got %d", res.ResetSeconds)
	}
	clock.Advance(600 * time.Millisecond)
	if res := g.Check("a"); res.ResetSeconds != 1 {
		t.Fatalf("expected ceil(0.9)=1, got %d", res.ResetSeconds)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, 3, time.Minute, clock)
	g.Check("b")
	beforeCount, beforeReset, _ := g.state("b")
	clock.Advance(time.Second)
	for i := 0; i < 10; i++ {
		g.Check("a")
	}
	afterCount, afterReset, _ := g.state("b")
	if beforeCount != afterCount || !beforeReset.Equal(afterReset) {
		t.Fatalf("key b changed: %d/%s -> %d/%s", beforeCount, beforeReset, afterCount, afterReset)
	}
	if res := g.Check("b"); !res.Allowed || res.Remaining != 1 {
		t.Fatalf("unexpected result for b: %+v", res)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	g := newTestGovernor(t, 1, time.Minute, newFakeClock())
	for i := 0; i < 20; i++ {
		if res := g.Check("x"); res.Remaining < 0 {
			t.Fatalf("negative remaining: %+v", res)
		}
	}
}

func TestConcurrentChecksSameKey(t *testing.T) {
	g := newTestGovernor(t, 50, time.Hour, newFakeClock())
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Check("shared").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 50 {
		t.Fatalf("expected exactly 50 admitted, got %d", allowed.Load())
	}
	if count, _, _ := g.state("shared"); count != 200 {
		t.Fatalf("expected 200 counted, got %d", count)
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, 5, time.Minute, clock)
	g.Check("old")
	clock.Advance(45 * time.Second)
	g.Check("new")
	clock.Advance(20 * time.Second)
	if removed := g.Sweep(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, _, ok := g.state("old"); ok {
		t.Fatalf("expected old window swept")
	}
	if _, _, ok := g.state("new"); !ok {
		t.Fatalf("expected new window kept")
	}
	if res := g.Check("old"); !res.Allowed || res.Remaining != 4 {
		t.Fatalf("swept key should start fresh: %+v", res)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g, err := New(Options{Limit: 1, Window: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new governor: %v", err)
	}
	g.Check("a")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for g.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if g.Len() != 0 {
		t.Fatalf("expected background sweep to drop expired window")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

func TestObserveCallback(t *testing.T) {
	var denied int
	g, err := New(Options{Limit: 1, Window: time.Minute, Observe: func(allowed bool) {
		if !allowed {
			denied++
		}
	}})
	if err != nil {
		t.Fatalf("new governor: %v", err)
	}
	g.Check("a")
	g.Check("a")
	g.Check("a")
	if denied != 2 {
		t.Fatalf("expected 2 denials observed, got %d", denied)
	}
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil)
	if got := ClientKey(r); got != FallbackClientKey {
		t.Fatalf("expected fallback, got %s", got)
	}
	r.Header.Set("X-Forwarded-For", " 198.51.100.4 , 10.0.0.1")
	if got := ClientKey(r); got != "198.51.100.4" {
		t.Fatalf("expected first forwarded entry, got %s", got)
	}
	r.Header.Set("X-Forwarded-For", " ,10.0.0.1")
	if got := ClientKey(r); got != FallbackClientKey {
		t.Fatalf("expected fallback for empty first entry, got %s", got)
	}
	if got := ClientKey(nil); got != FallbackClientKey {
		t.Fatalf("expected fallback for nil request")
	}
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	Result{Allowed: false, Limit: 5, Remaining: 0, ResetSeconds: 42}.SetHeaders(h)
	if h.Get(HeaderLimit) != "5" || h.Get(HeaderRemaining) != "0" || h.Get(HeaderReset) != "42" {
		t.Fatalf("unexpected headers: %v", h)
	}
}

// Package ratelimit admits or denies expensive operations per client using a
// fixed-window counter.
//
// Windows reset at fixed boundaries, so a client can be admitted up to twice
// the limit across one boundary. Callers that need smoother shaping should wrap
// the governor.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zavora-ai/imagegen/core/infra/logging"
)

const (
	// FallbackClientKey is used when a request carries no forwarded address.
	FallbackClientKey = "127.0.0.1"

	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	defaultSweepInterval = time.Hour
	keyPrefix            = "rate-limit:"
)

// Options configure a Governor. Limit and Window must be positive.
type Options struct {
	Limit         int
	Window        time.Duration
	SweepInterval time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
	// Observe, when set, is called with every decision.
	Observe func(allowed bool)
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed      bool `json:"allowed"`
	Limit        int  `json:"limit"`
	Remaining    int  `json:"remaining"`
	ResetSeconds int  `json:"reset"`
}

// SetHeaders writes the X-RateLimit-* headers for r.
func (r Result) SetHeaders(h http.Header) {
	h.Set(HeaderLimit, strconv.Itoa(r.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(r.Remaining))
	h.Set(HeaderReset, strconv.Itoa(r.ResetSeconds))
}

type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	swept   bool
}

// Governor tracks one fixed window per client key. Windows are guarded
// individually so different keys never contend.
type Governor struct {
	limit   int
	window  time.Duration
	sweep   time.Duration
	now     func() time.Time
	observe func(bool)
	windows sync.Map // string -> *window
}

// New constructs a Governor.
func New(opts Options) (*Governor, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if opts.Window <= 0 {
		return nil, fmt.Errorf("rate window must be positive")
	}
	g := &Governor{
		limit:   opts.Limit,
		window:  opts.Window,
		sweep:   opts.SweepInterval,
		now:     opts.Now,
		observe: opts.Observe,
	}
	if g.sweep <= 0 {
		g.sweep = defaultSweepInterval
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Limit returns the configured per-window limit.
func (g *Governor) Limit() int { return g.limit }

// Check counts one unit of work for clientKey and reports whether it is admitted.
// Denied calls still count against the window.
func (g *Governor) Check(clientKey string) Result {
	key := keyPrefix + clientKey
	var w *window
	for {
		v, _ := g.windows.LoadOrStore(key, &window{})
		w = v.(*window)
		w.mu.Lock()
		if !w.swept {
			break
		}
		// Removed by Sweep between load and lock; pick up the replacement.
		w.mu.Unlock()
	}

	now := g.now()
	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(g.window)
	}
	w.count++
	count := w.count
	resetAt := w.resetAt
	w.mu.Unlock()

	res := Result{
		Allowed:      count <= g.limit,
		Limit:        g.limit,
		Remaining:    max(0, g.limit-count),
		ResetSeconds: ceilSeconds(resetAt.Sub(now)),
	}
	if g.observe != nil {
		g.observe(res.Allowed)
	}
	return res
}

// Sweep drops windows whose reset time has passed and returns how many were removed.
// It only bounds memory; Check resets expired windows on its own.
func (g *Governor) Sweep() int {
	now := g.now()
	removed := 0
	g.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		expired := !w.resetAt.IsZero() && !now.Before(w.resetAt)
		if expired {
			w.swept = true
			g.windows.CompareAndDelete(k, v)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Len reports the number of tracked windows.
func (g *Governor) Len() int {
	n := 0
	g.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Run sweeps on the configured interval until ctx is done.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				logging.Info("ratelimit", "swept expired windows", "removed", n, "remaining", g.Len())
			}
		}
	}
}

// ClientKey derives the caller key from the first X-Forwarded-For entry.
// The header is client-controlled: behind an untrusted proxy the governor can be
// bypassed by spoofing it.
func ClientKey(r *http.Request) string {
	if r == nil {
		return FallbackClientKey
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return FallbackClientKey
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func (g *Governor) state(clientKey string) (count int, resetAt time.Time, ok bool) {
	v, ok := g.windows.Load(keyPrefix + clientKey)
	if !ok {
		return 0, time.Time{}, false
	}
	w := v.(*window)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.resetAt, true
}

package dashboard

import (
	"context"
	"errors"
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
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
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

// counter returns a fetch func yielding 1, 2, 3, ... and the call count.
func counter() (func(context.Context) (int, error), *atomic.Int32) {
	var n atomic.Int32
	return func(context.Context) (int, error) {
		return int(n.Add(1)), nil
	}, &n
}

func TestCache_FreshWithinWindow(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := NewCache(WithCacheClock(clk.Now))
	fetch, calls := counter()

	for range 3 {
		v, err := Get(t.Context(), c, "dashboard", 10*time.Second, fetch)
		if err != nil || v != 1 {
			t.Fatalf("Get = %d, %v", v, err)
		}
		clk.Advance(3 * time.Second)
	}
	if calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", calls.Load())
	}

	clk.Advance(2 * time.Second)
	v, _ := Get(t.Context(), c, "dashboard", 10*time.Second, fetch)
	if v != 2 {
		t.Errorf("after window Get = %d, want refetch", v)
	}
}

func TestCache_ZeroStaleTimeAlwaysFetches(t *testing.T) {
	t.Parallel()

	c := NewCache()
	fetch, calls := counter()
	for range 3 {
		_, _ = Get(t.Context(), c, "k", 0, fetch)
	}
	if calls.Load() != 3 {
		t.Errorf("fetches = %d, want 3", calls.Load())
	}
}

func TestCache_InvalidateByPrefix(t *testing.T) {
	t.Parallel()

	c := NewCache()
	kbPricing, pricingCalls := counter()
	kbAll, allCalls := counter()
	analytics, analyticsCalls := counter()

	_, _ = Get(t.Context(), c, "knowledge_base:pricing", time.Hour, kbPricing)
	_, _ = Get(t.Context(), c, "knowledge_base:", time.Hour, kbAll)
	_, _ = Get(t.Context(), c, "analytics", time.Hour, analytics)

	c.Invalidate("knowledge_base")

	_, _ = Get(t.Context(), c, "knowledge_base:pricing", time.Hour, kbPricing)
	_, _ = Get(t.Context(), c, "knowledge_base:", time.Hour, kbAll)
	_, _ = Get(t.Context(), c, "analytics", time.Hour, analytics)

	if pricingCalls.Load() != 2 || allCalls.Load() != 2 {
		t.Errorf("knowledge base fetches = %d/%d, want 2/2", pricingCalls.Load(), allCalls.Load())
	}
	if analyticsCalls.Load() != 1 {
		t.Errorf("analytics fetches = %d, want 1", analyticsCalls.Load())
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d", c.Len())
	}
}

func TestCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()

	c := NewCache()
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "requests", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = Get(context.Background(), c, "dashboard", time.Minute, fetch)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if r != "requests" {
			t.Errorf("result %d = %q", i, r)
		}
	}
}

func TestCache_InvalidateDuringFetchStoresStale(t *testing.T) {
	t.Parallel()

	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return int(n), nil
	}

	done := make(chan int)
	go func() {
		v, _ := Get(context.Background(), c, "dashboard", time.Hour, fetch)
		done <- v
	}()
	<-started
	c.Invalidate("dashboard")
	close(release)
	if v := <-done; v != 1 {
		t.Fatalf("first Get = %d", v)
	}

	v, _ := Get(t.Context(), c, "dashboard", time.Hour, fetch)
	if v != 2 {
		t.Errorf("Get after mid-flight invalidation = %d, want a fresh fetch", v)
	}
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	c := NewCache()
	errDown := errors.New("backend down")
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			return 0, errDown
		}
		return 7, nil
	}

	if _, err := Get(t.Context(), c, "analytics", time.Hour, fetch); !errors.Is(err, errDown) {
		t.Fatalf("err = %v", err)
	}
	v, err := Get(t.Context(), c, "analytics", time.Hour, fetch)
	if err != nil || v != 7 {
		t.Errorf("Get = %d, %v", v, err)
	}
}

func TestCache_CallerCancellation(t *testing.T) {
	t.Parallel()

	c := NewCache()
	release := make(chan struct{})
	fetch := func(ctx context.Context) (int, error) {
		<-release
		return 1, ctx.Err()
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := Get(ctx, c, "k", time.Hour, fetch); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	close(release)

	v, err := Get(t.Context(), c, "k", time.Hour, fetch)
	if err != nil || v != 1 {
		t.Errorf("shared fetch should complete detached: %d, %v", v, err)
	}
}

func TestFamily(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]string{
		"dashboard":              "dashboard",
		"knowledge_base:pricing": "knowledge_base",
		"knowledge_base:":        "knowledge_base",
	} {
		if got := family(key); got != want {
			t.Errorf("family(%q) = %q, want %q", key, got, want)
		}
	}
}

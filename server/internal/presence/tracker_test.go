package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
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

func newTracker() (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(DefaultTTL).WithClock(clk.Now), clk
}

func TestCount_ExcludesCaller(t *testing.T) {
	tr, clk := newTracker()

	tr.Set("albumA", "u1")
	if n := tr.Count("albumA", "u1"); n != 0 {
		t.Errorf("Count after only u1: got %d, want 0", n)
	}

	tr.Set("albumA", "u2")
	if n := tr.Count("albumA", "u1"); n != 1 {
		t.Errorf("Count after u2 joined: got %d, want 1", n)
	}
	if n := tr.Count("albumA", ""); n != 2 {
		t.Errorf("Count without exclusion: got %d, want 2", n)
	}

	clk.Advance(DefaultTTL)
	if n := tr.Count("albumA", "u1"); n != 0 {
		t.Errorf("Count after TTL: got %d, want 0", n)
	}
	if tr.Len() != 0 {
		t.Errorf("Len after lazy eviction: got %d, want 0", tr.Len())
	}
}

func TestCount_BoundaryIsExclusive(t *testing.T) {
	tr, clk := newTracker()
	tr.Set("a", "u1")

	clk.Advance(DefaultTTL - time.Millisecond)
	if n := tr.Count("a", ""); n != 1 {
		t.Errorf("just before TTL: got %d, want 1", n)
	}
	clk.Advance(time.Millisecond)
	if n := tr.Count("a", ""); n != 0 {
		t.Errorf("at TTL: got %d, want 0", n)
	}
}

func TestSet_RefreshKeepsUserActive(t *testing.T) {
	tr, clk := newTracker()

	if created := tr.Set("a", "u1"); !created {
		t.Error("first Set: want created=true")
	}
	clk.Advance(DefaultTTL / 2)
	if created := tr.Set("a", "u1"); created {
		t.Error("refresh: want created=false")
	}
	clk.Advance(DefaultTTL / 2)
	if n := tr.Count("a", ""); n != 1 {
		t.Errorf("after refresh: got %d, want 1", n)
	}
	clk.Advance(DefaultTTL)
	if created := tr.Set("a", "u1"); created {
		t.Error("Set on expired but unevicted entry: want created=false")
	}
	clk.Advance(DefaultTTL)
	tr.Count("a", "")
	if created := tr.Set("a", "u1"); !created {
		t.Error("Set after eviction: want created=true")
	}
}

func TestCount_AlbumsAreIndependent(t *testing.T) {
	tr, _ := newTracker()
	tr.Set("a", "u1")
	tr.Set("b", "u2")
	tr.Set("b", "u3")

	if n := tr.Count("a", ""); n != 1 {
		t.Errorf("album a: got %d, want 1", n)
	}
	if n := tr.Count("b", ""); n != 2 {
		t.Errorf("album b: got %d, want 2", n)
	}
	if n := tr.Count("missing", ""); n != 0 {
		t.Errorf("unknown album: got %d, want 0", n)
	}
}

func TestEvict_RemovesOnlyExpired(t *testing.T) {
	tr, clk := newTracker()
	tr.Set("a", "old1")
	tr.Set("b", "old2")
	clk.Advance(DefaultTTL)
	tr.Set("a", "live")

	if removed := tr.Evict(clk.Now()); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if tr.Len() != 1 {
		t.Errorf("Len after Evict: got %d, want 1", tr.Len())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	tr := New(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentSetAndCount(t *testing.T) {
	tr := New(DefaultTTL)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.Set("a", "u")
		}()
		go func() {
			defer wg.Done()
			tr.Count("a", "")
		}()
	}
	wg.Wait()
	if n := tr.Count("a", ""); n != 1 {
		t.Errorf("Count: got %d, want 1", n)
	}
}

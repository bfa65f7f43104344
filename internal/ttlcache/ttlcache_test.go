package ttlcache

import (
	"context"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestGetHonorsTTL(t *testing.T) {
	clk := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := New[string]()
	c.Now = clk.now
	c.Set("alice", "123456", 5*time.Minute)
	if v, ok := c.Get("alice"); !ok || v != "123456" {
		t.Fatalf("get = %q %v", v, ok)
	}
	clk.advance(5 * time.Minute)
	if _, ok := c.Get("alice"); ok {
		t.Fatalf("entry should have expired")
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry should linger until cleanup")
	}
	if removed := c.Cleanup(clk.now()); removed != 1 || c.Len() != 0 {
		t.Fatalf("cleanup removed %d, len %d", removed, c.Len())
	}
}

func TestTakeConsumesOnce(t *testing.T) {
	c := New[int]()
	c.Set("code", 7, time.Minute)
	if v, ok := c.Take("code"); !ok || v != 7 {
		t.Fatalf("take = %d %v", v, ok)
	}
	if _, ok := c.Take("code"); ok {
		t.Fatalf("second take should miss")
	}
}

func TestRunSweeps(t *testing.T) {
	c := New[int]()
	c.Set("short", 1, time.Millisecond)
	c.Set("long", 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if c.Len() != 1 {
		t.Fatalf("len = %d after sweep", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Fatalf("live entry swept")
	}
}

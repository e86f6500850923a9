package cache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestKeyIsStableAndDistinct(t *testing.T) {
	if Key("num", "123") != Key("num", "123") {
		t.Fatal("key must be stable")
	}
	if Key("num", "123") == Key("ip", "123") {
		t.Fatal("service must be part of the key")
	}
	if len(Key("num", "123")) != 64 {
		t.Fatalf("expected hex sha256 key")
	}
}

func TestGetReturnsIdenticalBytesBeforeExpiry(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: 300 * time.Second, Now: clk.Now})

	payload := []byte(`{"name":"X","n":12345678901234567890}`)
	c.Put("num", "12345", payload, 0)
	payload[2] = 'Z'

	clk.Advance(299 * time.Second)
	got, ok := c.Get("num", "12345")
	if !ok {
		t.Fatal("expected hit before ttl")
	}
	if !bytes.Equal(got, []byte(`{"name":"X","n":12345678901234567890}`)) {
		t.Fatalf("cached bytes changed: %s", got)
	}
}

func TestExpiredEntryIsRemovedOnRead(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: time.Minute, Now: clk.Now})

	c.Put("ip", "1.1.1.1", []byte(`{}`), 0)
	clk.Advance(time.Minute)

	if _, ok := c.Get("ip", "1.1.1.1"); ok {
		t.Fatal("entry at ttl must be treated as absent")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted on read, len=%d", c.Len())
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPutOverwriteKeepsSize(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	c.Put("num", "1", []byte(`1`), 0)
	c.Put("num", "1", []byte(`2`), 0)
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	got, _ := c.Get("num", "1")
	if string(got) != "2" {
		t.Fatalf("last writer should win, got %s", got)
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: time.Hour, MaxEntries: 2, Now: clk.Now})

	c.Put("num", "a", []byte(`a`), 0)
	clk.Advance(time.Second)
	c.Put("num", "b", []byte(`b`), 0)
	clk.Advance(time.Second)
	c.Put("num", "c", []byte(`c`), 0)

	if c.Len() != 2 {
		t.Fatalf("expected bound of 2, got %d", c.Len())
	}
	if _, ok := c.Get("num", "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := c.Get("num", "c"); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestSweepAndPurge(t *testing.T) {
	clk := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(Config{TTL: time.Minute, Now: clk.Now})

	c.Put("num", "short", []byte(`1`), 10*time.Second)
	c.Put("num", "long", []byte(`2`), time.Hour)
	clk.Advance(30 * time.Second)

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if removed := c.Purge(); removed != 1 {
		t.Fatalf("expected 1 purged entry, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("cache should be empty")
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	clk := &clock{now: time.Now()}
	c := New(Config{TTL: time.Millisecond, Now: clk.Now})
	c.Put("num", "1", []byte(`1`), 0)
	clk.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(logger, c, 5*time.Millisecond).Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if c.Len() != 0 {
		t.Fatal("sweeper did not remove the expired entry")
	}
}

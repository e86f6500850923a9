package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowKey struct {
	userID  int64
	command string
}

type window struct {
	mu    sync.Mutex
	count int
	start time.Time
}

// MemoryStore keeps windows in process memory. Each key has its own lock so
// unrelated users never contend.
type MemoryStore struct {
	windows sync.Map

	cleanupInterval time.Duration
	maxAge          time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stopCleanup: make(chan struct{})}
}

// NewMemoryStoreWithCleanup also drops windows idle longer than maxAge.
func NewMemoryStoreWithCleanup(cleanupInterval, maxAge time.Duration) *MemoryStore {
	s := &MemoryStore{
		cleanupInterval: cleanupInterval,
		maxAge:          maxAge,
		stopCleanup:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Hit(ctx context.Context, userID int64, command string, limit int, win time.Duration, now time.Time) (bool, error) {
	actual, _ := s.windows.LoadOrStore(windowKey{userID, command}, &window{})
	w := actual.(*window)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || !now.Before(w.start.Add(win)) {
		w.start = now
		w.count = 1
		return true, nil
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (s *MemoryStore) Remaining(ctx context.Context, userID int64, command string, limit int, win time.Duration, now time.Time) (int, error) {
	value, ok := s.windows.Load(windowKey{userID, command})
	if !ok {
		return limit, nil
	}
	w := value.(*window)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() || !now.Before(w.start.Add(win)) {
		return limit, nil
	}
	if w.count >= limit {
		return 0, nil
	}
	return limit - w.count, nil
}

func (s *MemoryStore) Reset(ctx context.Context, userID int64, command string) error {
	s.windows.Delete(windowKey{userID, command})
	return nil
}

// Close stops background cleanup.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	if s.cleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.cleanup(now.UTC())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.windows.Range(func(key, value any) bool {
		w := value.(*window)
		w.mu.Lock()
		stale := now.Sub(w.start) > s.maxAge
		w.mu.Unlock()
		if stale {
			s.windows.CompareAndDelete(key, value)
		}
		return true
	})
}

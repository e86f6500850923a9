package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Store persists fixed-window counters keyed by (user, command).
// Hit must perform its read-modify-write atomically per key.
type Store interface {
	// Hit counts one request against the window and reports whether it was admitted.
	// A denied request does not increment the counter.
	Hit(ctx context.Context, userID int64, command string, limit int, window time.Duration, now time.Time) (bool, error)

	// Remaining returns how many requests the active window still admits.
	Remaining(ctx context.Context, userID int64, command string, limit int, window time.Duration, now time.Time) (int, error)

	// Reset drops the window for the key.
	Reset(ctx context.Context, userID int64, command string) error
}

type Config struct {
	Store  Store
	Limit  int
	Window time.Duration
	// Bypass reports identities that are never limited (owner, admins).
	Bypass func(userID int64) bool
	Logger *logrus.Logger
	Now    func() time.Time
}

// Limiter gates lookups per (user, command).
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	bypass func(int64) bool
	log    *logrus.Entry
	now    func() time.Time
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Bypass == nil {
		cfg.Bypass = func(int64) bool { return false }
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		store:  cfg.Store,
		limit:  cfg.Limit,
		window: cfg.Window,
		bypass: cfg.Bypass,
		log:    cfg.Logger.WithField("component", "rate_limiter"),
		now:    cfg.Now,
	}
}

// Admit reports whether the request may proceed. Store failures admit the
// request (fail open) and are logged.
func (l *Limiter) Admit(ctx context.Context, userID int64, command string) bool {
	if l.bypass(userID) {
		return true
	}

	allowed, err := l.store.Hit(ctx, userID, command, l.limit, l.window, l.now().UTC())
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"user_id": userID,
			"command": command,
			"error":   err,
		}).Warn("Rate limit store unavailable, admitting request")
		return true
	}
	if !allowed {
		l.log.WithFields(logrus.Fields{
			"user_id": userID,
			"command": command,
			"limit":   l.limit,
		}).Info("Rate limit exceeded")
	}
	return allowed
}

// Remaining returns the admits left in the current window, or the full limit
// when the store cannot answer.
func (l *Limiter) Remaining(ctx context.Context, userID int64, command string) int {
	if l.bypass(userID) {
		return l.limit
	}
	remaining, err := l.store.Remaining(ctx, userID, command, l.limit, l.window, l.now().UTC())
	if err != nil {
		return l.limit
	}
	return remaining
}

func (l *Limiter) Reset(ctx context.Context, userID int64, command string) error {
	return l.store.Reset(ctx, userID, command)
}

func (l *Limiter) Limit() int {
	return l.limit
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

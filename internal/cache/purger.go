package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically removes expired entries. Only started when the
// eviction policy is "sweep"; otherwise expiry stays lazy.
type Sweeper struct {
	logger   *logrus.Logger
	cache    *ResponseCache
	interval time.Duration
}

func NewSweeper(logger *logrus.Logger, cache *ResponseCache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		logger:   logger,
		cache:    cache,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logEntry := s.logger.WithField("component", "cache_sweeper")
	logEntry.WithField("interval", s.interval).Info("Starting cache sweeper")

	for {
		select {
		case <-ticker.C:
			if removed := s.cache.Sweep(); removed > 0 {
				logEntry.WithFields(logrus.Fields{
					"removed": removed,
					"entries": s.cache.Len(),
				}).Debug("Swept expired cache entries")
			}
		case <-ctx.Done():
			logEntry.Info("Stopping cache sweeper")
			return
		}
	}
}

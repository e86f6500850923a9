package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/lookup-relay/internal/models"
	"gorm.io/gorm"
)

// hitSQL opens, advances or refuses a window in one statement. The conflict
// branch only writes when the window expired or still has room, so a refused
// hit affects zero rows.
const hitSQL = `INSERT INTO rate_limits (user_id, command, request_count, window_start)
VALUES (?, ?, 1, ?)
ON CONFLICT (user_id, command) DO UPDATE SET
	request_count = CASE WHEN rate_limits.window_start <= ? THEN 1 ELSE rate_limits.request_count + 1 END,
	window_start = CASE WHEN rate_limits.window_start <= ? THEN excluded.window_start ELSE rate_limits.window_start END
WHERE rate_limits.window_start <= ? OR rate_limits.request_count < ?`

// Hit implements ratelimit.Store.
func (s *Store) Hit(ctx context.Context, userID int64, command string, limit int, window time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	expired := now.Add(-window)
	result := s.db.WithContext(ctx).Exec(hitSQL, userID, command, now, expired, expired, expired, limit)
	if result.Error != nil {
		return false, fmt.Errorf("rate limit hit: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Remaining implements ratelimit.Store.
func (s *Store) Remaining(ctx context.Context, userID int64, command string, limit int, window time.Duration, now time.Time) (int, error) {
	var w models.RateLimitWindow
	err := s.db.WithContext(ctx).Take(&w, "user_id = ? AND command = ?", userID, command).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit remaining: %w", err)
	}
	if !now.UTC().Before(w.WindowStart.Add(window)) {
		return limit, nil
	}
	if w.RequestCount >= limit {
		return 0, nil
	}
	return limit - w.RequestCount, nil
}

// Reset implements ratelimit.Store.
func (s *Store) Reset(ctx context.Context, userID int64, command string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND command = ?", userID, command).
		Delete(&models.RateLimitWindow{}).Error
	if err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}

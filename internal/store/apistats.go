package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/lookup-relay/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordAPICall adds one terminal outcome to the service's running totals.
// A call in a new day or month starts that period's counter at one.
func (s *Store) RecordAPICall(ctx context.Context, service string, success bool, latency time.Duration) error {
	now := s.now()
	var succeeded, failed int64
	if success {
		succeeded = 1
	} else {
		failed = 1
	}

	day, month := startOfDay(now), startOfMonth(now)
	stat := models.APIStat{
		APIName:           service,
		TotalCalls:        1,
		SuccessfulCalls:   succeeded,
		FailedCalls:       failed,
		TotalResponseTime: latency.Seconds(),
		LastCalled:        &now,
		DailyCalls:        1,
		MonthlyCalls:      1,
		LastDailyReset:    day,
		LastMonthlyReset:  month,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "api_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_calls":         gorm.Expr("api_stats.total_calls + 1"),
			"successful_calls":    gorm.Expr("api_stats.successful_calls + ?", succeeded),
			"failed_calls":        gorm.Expr("api_stats.failed_calls + ?", failed),
			"total_response_time": gorm.Expr("api_stats.total_response_time + ?", latency.Seconds()),
			"daily_calls":         gorm.Expr("CASE WHEN api_stats.last_daily_reset < ? THEN 1 ELSE api_stats.daily_calls + 1 END", day),
			"monthly_calls":       gorm.Expr("CASE WHEN api_stats.last_monthly_reset < ? THEN 1 ELSE api_stats.monthly_calls + 1 END", month),
			"last_daily_reset":    gorm.Expr("CASE WHEN api_stats.last_daily_reset < ? THEN ? ELSE api_stats.last_daily_reset END", day, day),
			"last_monthly_reset":  gorm.Expr("CASE WHEN api_stats.last_monthly_reset < ? THEN ? ELSE api_stats.last_monthly_reset END", month, month),
			"last_called":         now,
		}),
	}).Create(&stat).Error
	if err != nil {
		return fmt.Errorf("record api call for %s: %w", service, err)
	}
	return nil
}

// ResetPeriodicCounters zeroes daily and monthly call counters whose period
// has rolled over at now.
func (s *Store) ResetPeriodicCounters(ctx context.Context, now time.Time) (daily, monthly int64, err error) {
	now = now.UTC()
	day := startOfDay(now)
	month := startOfMonth(now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.APIStat{}).
			Where("last_daily_reset < ?", day).
			Updates(map[string]interface{}{"daily_calls": 0, "last_daily_reset": day})
		if result.Error != nil {
			return result.Error
		}
		daily = result.RowsAffected

		result = tx.Model(&models.APIStat{}).
			Where("last_monthly_reset < ?", month).
			Updates(map[string]interface{}{"monthly_calls": 0, "last_monthly_reset": month})
		if result.Error != nil {
			return result.Error
		}
		monthly = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reset periodic counters: %w", err)
	}
	return daily, monthly, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// StatsResetter rolls daily and monthly API counters over on a ticker, so
// idle services report zero for the new period.
type StatsResetter struct {
	store    *Store
	interval time.Duration
	log      *logrus.Entry
}

func NewStatsResetter(logger *logrus.Logger, store *Store, interval time.Duration) *StatsResetter {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StatsResetter{
		store:    store,
		interval: interval,
		log:      logger.WithField("component", "stats_resetter"),
	}
}

// Start blocks until ctx is canceled.
func (r *StatsResetter) Start(ctx context.Context) {
	r.log.WithField("interval", r.interval).Info("Starting API stats resetter")
	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Stopping API stats resetter")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *StatsResetter) run(ctx context.Context) {
	daily, monthly, err := r.store.ResetPeriodicCounters(ctx, r.store.now())
	if err != nil {
		r.log.WithError(err).Error("Failed to reset API counters")
		return
	}
	if daily > 0 || monthly > 0 {
		r.log.WithFields(logrus.Fields{
			"daily":   daily,
			"monthly": monthly,
		}).Info("Reset API counters")
	}
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/lookup-relay/internal/models"
)

type AdminStats struct {
	Counts         AdminCounts      `json:"counts"`
	DailyActivity  []DailyActivity  `json:"daily_activity"`
	TopUsers       []TopUser        `json:"top_users"`
	Commands       []CommandStat    `json:"commands"`
	APIPerformance []APIPerformance `json:"api_performance"`
}

type AdminCounts struct {
	TotalUsers        int64   `json:"total_users"`
	NewUsersToday     int64   `json:"new_users_today"`
	TotalLookups      int64   `json:"total_lookups"`
	LookupsToday      int64   `json:"lookups_today"`
	TotalCredits      int64   `json:"total_credits"`
	AvgLookupsPerUser float64 `json:"avg_lookups_per_user"`
}

type DailyActivity struct {
	Date        string `json:"date"`
	Lookups     int64  `json:"lookups"`
	ActiveUsers int64  `json:"active_users"`
}

type TopUser struct {
	UserID            int64  `json:"user_id"`
	Username          string `json:"username"`
	FirstName         string `json:"first_name"`
	TotalLookups      int64  `json:"total_lookups"`
	SuccessfulLookups int64  `json:"successful_lookups"`
	Credits           int64  `json:"credits"`
}

type CommandStat struct {
	Command         string  `json:"command"`
	Count           int64   `json:"count"`
	AvgResponseTime float64 `json:"avg_response_time"`
	SuccessCount    int64   `json:"success_count"`
	FailCount       int64   `json:"fail_count"`
}

// APIPerformance is the read projection of models.APIStat; the average is
// derived from the running totals.
type APIPerformance struct {
	APIName         string     `json:"api_name"`
	TotalCalls      int64      `json:"total_calls"`
	SuccessfulCalls int64      `json:"successful_calls"`
	FailedCalls     int64      `json:"failed_calls"`
	AvgResponseTime float64    `json:"avg_response_time"`
	LastCalled      *time.Time `json:"last_called,omitempty"`
	DailyCalls      int64      `json:"daily_calls"`
	MonthlyCalls    int64      `json:"monthly_calls"`
}

type UserStats struct {
	User        models.User     `json:"user"`
	Stats       LookupAggregate `json:"stats"`
	TopCommands []CommandCount  `json:"top_commands"`
}

type LookupAggregate struct {
	TotalLookups    int64   `json:"total_lookups"`
	Successful      int64   `json:"successful"`
	Failed          int64   `json:"failed"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

type CommandCount struct {
	Command string `json:"command"`
	Count   int64  `json:"count"`
}

const adminCountsSQL = `SELECT
	(SELECT COUNT(*) FROM users) AS total_users,
	(SELECT COUNT(*) FROM users WHERE users.join_date >= ?) AS new_users_today,
	(SELECT COUNT(*) FROM lookups) AS total_lookups,
	(SELECT COUNT(*) FROM lookups WHERE lookups.timestamp >= ?) AS lookups_today,
	(SELECT COALESCE(SUM(credits), 0) FROM users) AS total_credits,
	(SELECT COALESCE(AVG(total_lookups), 0) FROM users) AS avg_lookups_per_user`

const topUsersSQL = `SELECT
	u.user_id,
	u.username,
	u.first_name,
	COUNT(l.id) AS total_lookups,
	COALESCE(SUM(CASE WHEN l.status = 'success' THEN 1 ELSE 0 END), 0) AS successful_lookups,
	u.credits
FROM users u
LEFT JOIN lookups l ON u.user_id = l.user_id
GROUP BY u.user_id, u.username, u.first_name, u.credits
ORDER BY total_lookups DESC, u.user_id
LIMIT 10`

const commandStatsSQL = `SELECT
	command,
	COUNT(*) AS count,
	COALESCE(AVG(api_response_time), 0) AS avg_response_time,
	SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS success_count,
	SUM(CASE WHEN status <> 'success' THEN 1 ELSE 0 END) AS fail_count
FROM lookups
GROUP BY command
ORDER BY count DESC, command`

// AdminStats builds the dashboard projection: headline counts, thirty days of
// activity, the ten busiest users, per-command totals and API performance.
func (s *Store) AdminStats(ctx context.Context) (*AdminStats, error) {
	db := s.db.WithContext(ctx)
	now := s.now()
	today := startOfDay(now)
	stats := &AdminStats{}

	if err := db.Raw(adminCountsSQL, today, today).Scan(&stats.Counts).Error; err != nil {
		return nil, fmt.Errorf("admin counts: %w", err)
	}

	day := s.dayExpr()
	dailySQL := fmt.Sprintf(`SELECT %s AS date, COUNT(*) AS lookups, COUNT(DISTINCT user_id) AS active_users
FROM lookups
WHERE lookups.timestamp > ?
GROUP BY 1
ORDER BY 1`, day)
	if err := db.Raw(dailySQL, now.AddDate(0, 0, -30)).Scan(&stats.DailyActivity).Error; err != nil {
		return nil, fmt.Errorf("daily activity: %w", err)
	}

	if err := db.Raw(topUsersSQL).Scan(&stats.TopUsers).Error; err != nil {
		return nil, fmt.Errorf("top users: %w", err)
	}

	if err := db.Raw(commandStatsSQL).Scan(&stats.Commands).Error; err != nil {
		return nil, fmt.Errorf("command distribution: %w", err)
	}

	perf, err := s.APIStats(ctx)
	if err != nil {
		return nil, err
	}
	stats.APIPerformance = perf
	return stats, nil
}

// APIStats lists every service's totals, busiest first.
func (s *Store) APIStats(ctx context.Context) ([]APIPerformance, error) {
	var rows []models.APIStat
	if err := s.db.WithContext(ctx).Order("total_calls DESC").Order("api_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("api stats: %w", err)
	}

	out := make([]APIPerformance, 0, len(rows))
	for _, row := range rows {
		perf := APIPerformance{
			APIName:         row.APIName,
			TotalCalls:      row.TotalCalls,
			SuccessfulCalls: row.SuccessfulCalls,
			FailedCalls:     row.FailedCalls,
			LastCalled:      row.LastCalled,
			DailyCalls:      row.DailyCalls,
			MonthlyCalls:    row.MonthlyCalls,
		}
		if row.TotalCalls > 0 {
			perf.AvgResponseTime = row.TotalResponseTime / float64(row.TotalCalls)
		}
		out = append(out, perf)
	}
	return out, nil
}

func (s *Store) UserStats(ctx context.Context, userID int64) (*UserStats, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	stats := &UserStats{User: *user}

	err = db.Model(&models.LookupRecord{}).
		Select(`COUNT(*) AS total_lookups,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN status <> 'success' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(AVG(api_response_time), 0) AS avg_response_time`).
		Where("user_id = ?", userID).
		Scan(&stats.Stats).Error
	if err != nil {
		return nil, fmt.Errorf("user aggregate: %w", err)
	}

	err = db.Model(&models.LookupRecord{}).
		Select("command, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("command").
		Order("count DESC").
		Order("command").
		Limit(5).
		Scan(&stats.TopCommands).Error
	if err != nil {
		return nil, fmt.Errorf("user top commands: %w", err)
	}
	return stats, nil
}

// dayExpr renders a lookup timestamp as YYYY-MM-DD for the active dialect.
func (s *Store) dayExpr() string {
	if s.db.Dialector.Name() == "postgres" {
		return "to_char(lookups.timestamp, 'YYYY-MM-DD')"
	}
	return "substr(lookups.timestamp, 1, 10)"
}

package models

import (
	"time"
)

type User struct {
	UserID            int64      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Username          string     `gorm:"type:varchar(64);index" json:"username"`
	FirstName         string     `gorm:"type:varchar(128)" json:"first_name"`
	LastName          string     `gorm:"type:varchar(128)" json:"last_name"`
	LanguageCode      string     `gorm:"type:varchar(8)" json:"language_code"`
	IsPremium         bool       `gorm:"not null;default:false" json:"is_premium"`
	IsBanned          bool       `gorm:"not null;default:false;index" json:"is_banned"`
	Credits           int        `gorm:"not null" json:"credits"`
	TotalCreditsSpent int        `gorm:"not null;default:0" json:"total_credits_spent"`
	TotalLookups      int        `gorm:"not null;default:0" json:"total_lookups"`
	SuccessfulLookups int        `gorm:"not null;default:0" json:"successful_lookups"`
	FailedLookups     int        `gorm:"not null;default:0" json:"failed_lookups"`
	ReferralCode      string     `gorm:"type:varchar(16);uniqueIndex;not null" json:"referral_code"`
	ReferredBy        *int64     `gorm:"index" json:"referred_by,omitempty"`
	JoinDate          time.Time  `gorm:"index;not null" json:"join_date"`
	LastActive        *time.Time `json:"last_active,omitempty"`
	LastLookup        *time.Time `json:"last_lookup,omitempty"`
}

// RateLimitWindow is the fixed window counter for one (user, command) pair.
type RateLimitWindow struct {
	UserID       int64     `gorm:"primaryKey;autoIncrement:false"`
	Command      string    `gorm:"primaryKey;type:varchar(32)"`
	RequestCount int       `gorm:"not null;default:0"`
	WindowStart  time.Time `gorm:"not null"`
}

// APIStat holds running totals for one upstream service.
type APIStat struct {
	APIName           string `gorm:"primaryKey;type:varchar(32)"`
	TotalCalls        int64  `gorm:"not null;default:0"`
	SuccessfulCalls   int64  `gorm:"not null;default:0"`
	FailedCalls       int64  `gorm:"not null;default:0"`
	TotalResponseTime float64
	LastCalled        *time.Time
	DailyCalls        int64     `gorm:"not null;default:0"`
	MonthlyCalls      int64     `gorm:"not null;default:0"`
	LastDailyReset    time.Time `gorm:"not null"`
	LastMonthlyReset  time.Time `gorm:"not null"`
}

func (User) TableName() string {
	return "users"
}

func (RateLimitWindow) TableName() string {
	return "rate_limits"
}

func (APIStat) TableName() string {
	return "api_stats"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{&User{}, &LookupRecord{}, &RateLimitWindow{}, &APIStat{}}
}

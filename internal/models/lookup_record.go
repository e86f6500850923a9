package models

import (
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// LookupRecord is append-only; rows are never updated after insert.
type LookupRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	LookupUUID      string `gorm:"type:varchar(36);uniqueIndex;not null"`
	UserID          int64  `gorm:"index;not null"`
	Command         string `gorm:"type:varchar(32);index;not null"`
	Query           string `gorm:"type:text;not null"`
	QueryHash       string `gorm:"type:varchar(64);index;not null"`
	Result          []byte
	PayloadKey      string    `gorm:"type:varchar(255)"`
	ResultSize      int       `gorm:"not null;default:0"`
	Status          string    `gorm:"type:varchar(10);not null;index"`
	ErrorKind       string    `gorm:"type:varchar(16)"`
	ErrorMessage    string    `gorm:"type:text"`
	APIResponseTime float64   `gorm:"not null;default:0"`
	Cached          bool      `gorm:"not null;default:false"`
	Timestamp       time.Time `gorm:"index;not null"`
}

func (LookupRecord) TableName() string {
	return "lookups"
}

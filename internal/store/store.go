package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/lookup-relay/internal/models"
	"github.com/sdko-org/lookup-relay/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type Config struct {
	DefaultCredits int
	CreditFloor    int
	// Blobs receives compressed payloads larger than ArchiveThreshold. Optional.
	Blobs            storage.BlobStore
	ArchiveThreshold int
	Now              func() time.Time
}

// Store is the gorm-backed persistence layer for users, lookups, rate-limit
// windows and API statistics.
type Store struct {
	db               *gorm.DB
	blobs            storage.BlobStore
	archiveThreshold int
	defaultCredits   int
	creditFloor      int
	now              func() time.Time
	log              *logrus.Entry
}

// Profile carries the chat profile fields supplied on first contact.
type Profile struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	LanguageCode string `json:"language_code"`
	IsPremium    bool   `json:"is_premium"`
	ReferredBy   *int64 `json:"referred_by,omitempty"`
}

func New(logger *logrus.Logger, db *gorm.DB, cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		db:               db,
		blobs:            cfg.Blobs,
		archiveThreshold: cfg.ArchiveThreshold,
		defaultCredits:   cfg.DefaultCredits,
		creditFloor:      cfg.CreditFloor,
		now:              func() time.Time { return cfg.Now().UTC() },
		log:              logger.WithField("component", "store"),
	}
}

func (s *Store) CreditFloor() int {
	return s.creditFloor
}

// EnsureUser returns the user, creating it with default credits on first
// contact. An existing row is never written.
func (s *Store) EnsureUser(ctx context.Context, userID int64) (*models.User, error) {
	if userID == 0 {
		return nil, errors.New("user id is required")
	}
	candidate := s.newUser(Profile{UserID: userID}, s.now())
	db := s.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
	if result.Error != nil {
		return nil, fmt.Errorf("ensure user %d: %w", userID, result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.WithField("user_id", userID).Info("Registered new user")
		return &candidate, nil
	}

	var user models.User
	if err := db.Take(&user, "user_id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return &user, nil
}

// ReserveCredit debits one credit ahead of a lookup. With enforceFloor the
// debit only applies while the balance is above the floor; false means the
// user cannot pay.
func (s *Store) ReserveCredit(ctx context.Context, userID int64, enforceFloor bool) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.User{}).Where("user_id = ?", userID)
	if enforceFloor {
		q = q.Where("credits > ?", s.creditFloor)
	}
	result := q.Updates(map[string]interface{}{
		"credits":             gorm.Expr("credits - 1"),
		"total_credits_spent": gorm.Expr("total_credits_spent + 1"),
	})
	if result.Error != nil {
		return false, fmt.Errorf("reserve credit for %d: %w", userID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) newUser(profile Profile, now time.Time) models.User {
	language := profile.LanguageCode
	if language == "" {
		language = "en"
	}
	return models.User{
		UserID:       profile.UserID,
		Username:     profile.Username,
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		LanguageCode: language,
		IsPremium:    profile.IsPremium,
		Credits:      s.defaultCredits,
		ReferralCode: referralCode(profile.UserID, now),
		ReferredBy:   profile.ReferredBy,
		JoinDate:     now,
		LastActive:   &now,
	}
}

// AddUser registers a profile. An existing user keeps its counters; non-empty
// profile fields are refreshed. created reports whether a row was inserted.
func (s *Store) AddUser(ctx context.Context, profile Profile) (user *models.User, created bool, err error) {
	if profile.UserID == 0 {
		return nil, false, errors.New("user id is required")
	}
	now := s.now()
	candidate := s.newUser(profile, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.User
		err := tx.Take(&existing, "user_id = ?", profile.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				created = true
				return nil
			}
			err = tx.Take(&existing, "user_id = ?", profile.UserID).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"last_active": now}
		if profile.Username != "" {
			updates["username"] = profile.Username
		}
		if profile.FirstName != "" {
			updates["first_name"] = profile.FirstName
		}
		if profile.LastName != "" {
			updates["last_name"] = profile.LastName
		}
		if profile.LanguageCode != "" {
			updates["language_code"] = profile.LanguageCode
		}
		if profile.IsPremium {
			updates["is_premium"] = true
		}
		if err := tx.Model(&models.User{}).Where("user_id = ?", profile.UserID).Updates(updates).Error; err != nil {
			return err
		}
		var fresh models.User
		if err := tx.Take(&fresh, "user_id = ?", profile.UserID).Error; err != nil {
			return err
		}
		candidate = fresh
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("add user %d: %w", profile.UserID, err)
	}

	if created {
		s.log.WithField("user_id", profile.UserID).Info("Registered new user")
	}
	return &candidate, created, nil
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *Store) SetBanned(ctx context.Context, userID int64, banned bool) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", userID).
		Update("is_banned", banned)
	if result.Error != nil {
		return fmt.Errorf("set banned for %d: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"banned":  banned,
	}).Info("Updated ban state")
	return nil
}

// AddCredits adjusts a balance by delta (negative to deduct) and returns the new balance.
func (s *Store) AddCredits(ctx context.Context, userID int64, delta int) (int, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("user_id = ?", userID).
			Update("credits", gorm.Expr("credits + ?", delta))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.First(&user, "user_id = ?", userID).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("add credits for %d: %w", userID, err)
	}
	return user.Credits, nil
}

// DeleteUser removes the user row. Lookup records are kept.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.User{})
	if result.Error != nil {
		return fmt.Errorf("delete user %d: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.log.WithField("user_id", userID).Warn("Deleted user")
	return nil
}

// referralCode derives an 8 character code from the id and a random uuid.
func referralCode(userID int64, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s", userID, now.UnixNano(), uuid.NewString())))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}

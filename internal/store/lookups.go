package store

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sdko-org/lookup-relay/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrLookupNotFound = errors.New("lookup not found")

const payloadContentType = "application/zlib"

// LookupOutcome is everything recorded about one admitted lookup.
type LookupOutcome struct {
	UserID       int64
	Command      string
	Query        string
	Payload      []byte
	Success      bool
	ErrorKind    string
	ErrorMessage string
	Latency      time.Duration
	Cached       bool
}

// RecordLookup appends the lookup record and updates the owner's counters in
// one transaction. The credit was already taken by ReserveCredit.
func (s *Store) RecordLookup(ctx context.Context, outcome LookupOutcome) (*models.LookupRecord, error) {
	now := s.now()
	compressed, err := compressPayload(outcome.Payload)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	status := models.StatusError
	counter := "failed_lookups"
	if outcome.Success {
		status = models.StatusSuccess
		counter = "successful_lookups"
	}

	record := models.LookupRecord{
		LookupUUID:      uuid.NewString(),
		UserID:          outcome.UserID,
		Command:         outcome.Command,
		Query:           outcome.Query,
		QueryHash:       QueryHash(outcome.Command, outcome.Query),
		Result:          compressed,
		ResultSize:      len(compressed),
		Status:          status,
		ErrorKind:       outcome.ErrorKind,
		ErrorMessage:    outcome.ErrorMessage,
		APIResponseTime: outcome.Latency.Seconds(),
		Cached:          outcome.Cached,
		Timestamp:       now,
	}

	if s.blobs != nil && s.archiveThreshold > 0 && len(compressed) > s.archiveThreshold {
		key := fmt.Sprintf("lookups/%s/%s.json.z", outcome.Command, record.LookupUUID)
		if err := s.blobs.Put(ctx, key, compressed, payloadContentType); err != nil {
			s.log.WithError(err).WithField("lookup_uuid", record.LookupUUID).Warn("Archive upload failed, storing payload inline")
		} else {
			record.PayloadKey = key
			record.Result = nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		result := tx.Model(&models.User{}).
			Where("user_id = ?", outcome.UserID).
			Updates(map[string]interface{}{
				"total_lookups": gorm.Expr("total_lookups + 1"),
				counter:         gorm.Expr(counter + " + 1"),
				"last_active":   now,
				"last_lookup":   now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		if record.PayloadKey != "" {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), record.PayloadKey); delErr != nil {
				s.log.WithError(delErr).WithField("payload_key", record.PayloadKey).Warn("Failed to remove orphaned payload")
			}
		}
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("record lookup: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"lookup_uuid": record.LookupUUID,
		"user_id":     record.UserID,
		"command":     record.Command,
		"status":      record.Status,
		"archived":    record.PayloadKey != "",
	}).Debug("Recorded lookup")
	return &record, nil
}

// LookupPayload returns the decompressed payload of a recorded lookup.
func (s *Store) LookupPayload(ctx context.Context, lookupUUID string) (*models.LookupRecord, []byte, error) {
	var record models.LookupRecord
	if err := s.db.WithContext(ctx).Take(&record, "lookup_uuid = ?", lookupUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrLookupNotFound
		}
		return nil, nil, fmt.Errorf("load lookup %s: %w", lookupUUID, err)
	}

	compressed := record.Result
	if record.PayloadKey != "" {
		if s.blobs == nil {
			return nil, nil, fmt.Errorf("lookup %s is archived but no archive is configured", lookupUUID)
		}
		archived, err := s.blobs.Get(ctx, record.PayloadKey)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch archived payload: %w", err)
		}
		compressed = archived
	}

	payload, err := decompressPayload(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress payload: %w", err)
	}
	return &record, payload, nil
}

// QueryHash is the hex SHA-256 of "command:query".
func QueryHash(command, query string) string {
	sum := sha256.Sum256([]byte(command + ":" + query))
	return hex.EncodeToString(sum[:])
}

func compressPayload(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressPayload(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sdko-org/lookup-relay/internal/format"
	"github.com/sdko-org/lookup-relay/internal/models"
	"github.com/sdko-org/lookup-relay/internal/store"
	"github.com/sdko-org/lookup-relay/internal/upstream"
	"github.com/sirupsen/logrus"
)

const recordTimeout = 10 * time.Second

// Store is the persistence the lookup pipeline needs.
type Store interface {
	EnsureUser(ctx context.Context, userID int64) (*models.User, error)
	ReserveCredit(ctx context.Context, userID int64, enforceFloor bool) (bool, error)
	AddUser(ctx context.Context, profile store.Profile) (*models.User, bool, error)
	RecordLookup(ctx context.Context, outcome store.LookupOutcome) (*models.LookupRecord, error)
	UserStats(ctx context.Context, userID int64) (*store.UserStats, error)
	AdminStats(ctx context.Context) (*store.AdminStats, error)
	APIStats(ctx context.Context) ([]store.APIPerformance, error)
	CreditFloor() int
}

type Limiter interface {
	Admit(ctx context.Context, userID int64, command string) bool
	Remaining(ctx context.Context, userID int64, command string) int
}

type Dispatcher interface {
	Dispatch(ctx context.Context, service, query string) (upstream.Result, error)
}

type Config struct {
	Store      Store
	Limiter    Limiter
	Dispatcher Dispatcher
	Formatter  *format.Formatter
	// Privileged reports owner and admin ids; they skip the credit check.
	Privileged func(userID int64) bool
	Logger     *logrus.Logger
}

// Service is the single entry point for lookups.
type Service struct {
	store      Store
	limiter    Limiter
	dispatcher Dispatcher
	formatter  *format.Formatter
	guards     []Guard
	log        *logrus.Entry
}

// UserReport is a user's stats plus the allowance left on their busiest commands.
type UserReport struct {
	*store.UserStats
	RateLimitRemaining map[string]int `json:"rate_limit_remaining"`
}

func NewService(cfg Config) *Service {
	privileged := cfg.Privileged
	if privileged == nil {
		privileged = func(int64) bool { return false }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:      cfg.Store,
		limiter:    cfg.Limiter,
		dispatcher: cfg.Dispatcher,
		formatter:  cfg.Formatter,
		guards: []Guard{
			banGuard(),
			creditGuard(cfg.Store.CreditFloor(), privileged),
			rateGuard(cfg.Limiter),
			reserveGuard(cfg.Store, privileged),
		},
		log: logger.WithField("component", "lookup_service"),
	}
}

// ProcessLookup admits, dispatches, records and formats one lookup. Rejected
// requests never touch the lookup log or credits.
func (s *Service) ProcessLookup(ctx context.Context, userID int64, command, query string) format.Presentation {
	req := Request{
		UserID:  userID,
		Command: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(command), "/")),
		Query:   strings.TrimSpace(query),
	}
	meta := format.Meta{Command: req.Command, Query: req.Query}
	log := s.log.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"command": req.Command,
	})

	if req.Query == "" {
		return s.formatter.Failure(ReasonInvalidQuery, fmt.Sprintf("Usage: /%s <query>", req.Command), meta)
	}
	if strings.IndexFunc(req.Query, unicode.IsControl) >= 0 {
		return s.formatter.Failure(ReasonInvalidQuery, "Query must be a single line of text.", meta)
	}

	user, err := s.store.EnsureUser(ctx, req.UserID)
	if err != nil {
		log.WithError(err).Error("Failed to load user")
		return s.formatter.Failure(ReasonUnavailable, "Lookup is unavailable right now, please try again later.", meta)
	}

	for _, guard := range s.guards {
		if rej := guard(ctx, req, user); rej != nil {
			if rej.Err != nil {
				log.WithError(rej.Err).Error("Admission check failed")
			}
			log.WithField("reason", rej.Reason).Info("Lookup rejected")
			return s.formatter.Failure(rej.Reason, rej.Message, meta)
		}
	}

	result, dispatchErr := s.dispatcher.Dispatch(ctx, req.Command, req.Query)
	meta.Latency = result.Latency
	meta.Cached = result.Cached

	outcome := store.LookupOutcome{
		UserID:  req.UserID,
		Command: req.Command,
		Query:   req.Query,
		Latency: result.Latency,
		Cached:  result.Cached,
	}

	var presentation format.Presentation
	if dispatchErr == nil {
		presentation, err = s.formatter.Success(result.Data, meta)
		if err != nil {
			dispatchErr = &upstream.Error{Kind: upstream.KindDecode, Service: req.Command, Err: err}
		} else {
			outcome.Success = true
		}
	}
	if dispatchErr != nil {
		reason := ReasonFor(dispatchErr)
		presentation = s.formatter.Failure(reason, dispatchErr.Error(), meta)
		outcome.ErrorKind = errorKind(dispatchErr)
		outcome.ErrorMessage = dispatchErr.Error()
	}
	outcome.Payload = []byte(presentation.Rendered)

	// Recorded even when the caller has gone away.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	record, err := s.store.RecordLookup(recordCtx, outcome)
	if err != nil {
		log.WithError(err).Error("Failed to record lookup")
	} else {
		presentation.LookupID = record.LookupUUID
	}

	log.WithFields(logrus.Fields{
		"success":  outcome.Success,
		"cached":   outcome.Cached,
		"duration": outcome.Latency,
		"reason":   presentation.ReasonCode,
	}).Info("Lookup processed")
	return presentation
}

func (s *Service) AddUser(ctx context.Context, profile store.Profile) (*models.User, bool, error) {
	return s.store.AddUser(ctx, profile)
}

func (s *Service) UserStats(ctx context.Context, userID int64) (*UserReport, error) {
	stats, err := s.store.UserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := &UserReport{UserStats: stats, RateLimitRemaining: make(map[string]int, len(stats.TopCommands))}
	for _, cmd := range stats.TopCommands {
		report.RateLimitRemaining[cmd.Command] = s.limiter.Remaining(ctx, userID, cmd.Command)
	}
	return report, nil
}

func (s *Service) AdminStats(ctx context.Context) (*store.AdminStats, error) {
	return s.store.AdminStats(ctx)
}

func (s *Service) APIStats(ctx context.Context) ([]store.APIPerformance, error) {
	return s.store.APIStats(ctx)
}

// ReasonFor maps a dispatch failure to its presentation reason code.
func ReasonFor(err error) string {
	var upErr *upstream.Error
	if !errors.As(err, &upErr) {
		return ReasonUnavailable
	}
	switch upErr.Kind {
	case upstream.KindConfig:
		return ReasonUnknownService
	case upstream.KindRequest:
		return ReasonInvalidQuery
	case upstream.KindTimeout:
		return ReasonTimeout
	case upstream.KindNetwork:
		return ReasonNetwork
	case upstream.KindHTTP:
		return ReasonHTTPError
	case upstream.KindDecode:
		return ReasonDecodeError
	case upstream.KindCanceled:
		return ReasonCanceled
	default:
		return ReasonUnavailable
	}
}

func errorKind(err error) string {
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		return string(upErr.Kind)
	}
	return "internal"
}

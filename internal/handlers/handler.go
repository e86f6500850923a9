package handlers

import (
	"context"

	"github.com/sdko-org/lookup-relay/internal/cache"
	"github.com/sdko-org/lookup-relay/internal/lookup"
	"github.com/sdko-org/lookup-relay/internal/models"
	"github.com/sirupsen/logrus"
)

// AdminStore is the persistence behind the admin actions.
type AdminStore interface {
	SetBanned(ctx context.Context, userID int64, banned bool) error
	AddCredits(ctx context.Context, userID int64, delta int) (int, error)
	DeleteUser(ctx context.Context, userID int64) error
	LookupPayload(ctx context.Context, lookupUUID string) (*models.LookupRecord, []byte, error)
}

type RateResetter interface {
	Reset(ctx context.Context, userID int64, command string) error
}

// Handler serves the lookup API and the admin surface.
type Handler struct {
	service *lookup.Service
	admin   AdminStore
	limiter RateResetter
	cache   *cache.ResponseCache
	log     *logrus.Entry
}

func NewHandler(logger *logrus.Logger, service *lookup.Service, admin AdminStore, limiter RateResetter, responseCache *cache.ResponseCache) *Handler {
	return &Handler{
		service: service,
		admin:   admin,
		limiter: limiter,
		cache:   responseCache,
		log:     logger.WithField("component", "api_handler"),
	}
}

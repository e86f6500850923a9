package lookup

import (
	"context"
	"fmt"

	"github.com/sdko-org/lookup-relay/internal/models"
)

// Reason codes carried on presentations.
const (
	ReasonOK                  = ""
	ReasonInvalidQuery        = "invalid_query"
	ReasonBanned              = "banned"
	ReasonInsufficientCredits = "insufficient_credits"
	ReasonRateLimited         = "rate_limited"
	ReasonUnknownService      = "unknown_service"
	ReasonTimeout             = "timeout"
	ReasonNetwork             = "network"
	ReasonHTTPError           = "http_error"
	ReasonDecodeError         = "decode_error"
	ReasonCanceled            = "canceled"
	ReasonUnavailable         = "unavailable"
)

// Request is one lookup as seen by the admission guards.
type Request struct {
	UserID  int64
	Command string
	Query   string
}

// Rejection stops a request before dispatch.
type Rejection struct {
	Reason  string
	Message string
	// Err is set when the guard itself failed.
	Err error
}

// Guard inspects an admission request; a non-nil Rejection denies it. Guards
// run in order and the first rejection wins.
type Guard func(ctx context.Context, req Request, user *models.User) *Rejection

func banGuard() Guard {
	return func(_ context.Context, _ Request, user *models.User) *Rejection {
		if user.IsBanned {
			return &Rejection{Reason: ReasonBanned, Message: "You are banned from using this bot."}
		}
		return nil
	}
}

func creditGuard(floor int, privileged func(int64) bool) Guard {
	return func(_ context.Context, req Request, user *models.User) *Rejection {
		if privileged(req.UserID) || user.Credits > floor {
			return nil
		}
		return &Rejection{
			Reason:  ReasonInsufficientCredits,
			Message: fmt.Sprintf("Insufficient credits. You have %d credits left.", user.Credits),
		}
	}
}

func rateGuard(limiter Limiter) Guard {
	return func(ctx context.Context, req Request, _ *models.User) *Rejection {
		if limiter.Admit(ctx, req.UserID, req.Command) {
			return nil
		}
		return &Rejection{
			Reason:  ReasonRateLimited,
			Message: fmt.Sprintf("Rate limit exceeded. Please wait before using /%s again.", req.Command),
		}
	}
}

// CreditReserver takes the credit for an admitted lookup.
type CreditReserver interface {
	ReserveCredit(ctx context.Context, userID int64, enforceFloor bool) (bool, error)
}

// reserveGuard debits the credit atomically, so concurrent lookups cannot
// share one credit. Privileged users are debited without the floor check.
// It must run last: a later rejection would leave the credit taken.
func reserveGuard(reserver CreditReserver, privileged func(int64) bool) Guard {
	return func(ctx context.Context, req Request, _ *models.User) *Rejection {
		ok, err := reserver.ReserveCredit(ctx, req.UserID, !privileged(req.UserID))
		if err != nil {
			return &Rejection{Reason: ReasonUnavailable, Message: "Lookup is unavailable right now, please try again later.", Err: err}
		}
		if !ok {
			return &Rejection{Reason: ReasonInsufficientCredits, Message: "Insufficient credits."}
		}
		return nil
	}
}

package upstream

import (
	"fmt"
	"time"
)

// Kind classifies a failed lookup.
type Kind string

const (
	// KindConfig means the service is unknown or misconfigured. Never retried.
	KindConfig Kind = "config"
	// KindTimeout means an attempt exceeded the service timeout.
	KindTimeout Kind = "timeout"
	// KindNetwork covers connection and transport failures.
	KindNetwork Kind = "network"
	// KindHTTP means the service answered with a non-200 status.
	KindHTTP Kind = "http"
	// KindDecode means a JSON response could not be decoded. Never retried.
	KindDecode Kind = "decode"
	// KindCanceled means the caller abandoned the lookup.
	KindCanceled Kind = "canceled"
	// KindRequest means the query cannot form a request URL. Never retried.
	KindRequest Kind = "request"
)

// Error is the failure value returned by Dispatch.
type Error struct {
	Kind       Kind
	Service    string
	StatusCode int
	Body       string
	Attempts   int
	Elapsed    time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindConfig:
		return fmt.Sprintf("API '%s' not configured", e.Service)
	case KindHTTP:
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	case KindTimeout:
		return fmt.Sprintf("Timeout: %v", e.Err)
	case KindNetwork:
		return fmt.Sprintf("Client error: %v", e.Err)
	case KindDecode:
		return fmt.Sprintf("JSON decode error: %v", e.Err)
	case KindCanceled:
		return fmt.Sprintf("Lookup canceled: %v", e.Err)
	case KindRequest:
		return fmt.Sprintf("Invalid query: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindHTTP:
		return true
	default:
		return false
	}
}

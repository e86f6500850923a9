package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sdko-org/lookup-relay/internal/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	userAgent    = "LookupRelay/1.0"
	maxBodyBytes = 8 << 20
	maxErrorBody = 512
)

// StatsRecorder receives one outcome per dispatched lookup that reached the network.
type StatsRecorder interface {
	RecordAPICall(ctx context.Context, service string, success bool, latency time.Duration) error
}

// Result is a successful lookup.
type Result struct {
	Service  string
	Query    string
	Data     json.RawMessage
	Latency  time.Duration
	Cached   bool
	Attempts int
}

type Config struct {
	Catalog *Catalog
	Cache   *cache.ResponseCache
	Stats   StatsRecorder
	// BackoffBase is the sleep after the first failed attempt; it doubles per attempt.
	BackoffBase time.Duration
	// RatePerSecond throttles outbound requests across all services; 0 disables it.
	RatePerSecond float64
	Transport     http.RoundTripper
}

// Dispatcher performs lookups against the configured services.
type Dispatcher struct {
	httpClient  *http.Client
	catalog     *Catalog
	cache       *cache.ResponseCache
	stats       StatsRecorder
	backoffBase time.Duration
	throttle    *rate.Limiter
	log         *logrus.Entry
}

type loggingTransport struct {
	next http.RoundTripper
	log  *logrus.Entry
}

func NewDispatcher(logger *logrus.Logger, cfg Config) *Dispatcher {
	next := cfg.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	throttle := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := int(math.Ceil(cfg.RatePerSecond))
		throttle = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = NewCatalog(nil)
	}

	return &Dispatcher{
		httpClient: &http.Client{
			Transport: &loggingTransport{next: next, log: logger.WithField("component", "upstream_transport")},
		},
		catalog:     catalog,
		cache:       cfg.Cache,
		stats:       cfg.Stats,
		backoffBase: cfg.BackoffBase,
		throttle:    throttle,
		log:         logger.WithField("component", "upstream_dispatcher"),
	}
}

func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

// Dispatch resolves query against service. Cache hits skip the network and
// the statistics; every outcome that reached the network, except
// cancellation, is recorded once.
func (d *Dispatcher) Dispatch(ctx context.Context, service, query string) (Result, error) {
	service = strings.ToLower(service)
	log := d.log.WithFields(logrus.Fields{
		"service": service,
		"query":   query,
	})

	if d.cache != nil {
		if data, ok := d.cache.Get(service, query); ok {
			log.Debug("Serving lookup from cache")
			return Result{Service: service, Query: query, Data: data, Cached: true}, nil
		}
	}

	desc, ok := d.catalog.Lookup(service)
	if !ok {
		log.Warn("Lookup for unknown service")
		return Result{Service: service, Query: query}, &Error{Kind: KindConfig, Service: service}
	}

	target := desc.BaseURL + query
	if _, err := url.Parse(target); err != nil {
		log.WithError(err).Warn("Rejected malformed lookup query")
		return Result{Service: service, Query: query}, &Error{Kind: KindRequest, Service: service, Err: err}
	}

	start := time.Now()
	var lastErr *Error
	attempts := 0

	for attempt := 0; attempt < desc.Retries; attempt++ {
		if err := d.throttle.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return d.canceled(service, query, start, attempts, ctx.Err())
			}
			// The caller's deadline falls before the next outbound slot.
			lastErr = &Error{Kind: KindTimeout, Service: service, Err: fmt.Errorf("no outbound slot before deadline: %w", err)}
			break
		}

		attempts++
		data, callErr := d.attempt(ctx, service, target, desc.Timeout)
		if callErr == nil {
			latency := time.Since(start)
			if d.cache != nil {
				d.cache.Put(service, query, data, 0)
			}
			d.recordStats(ctx, service, true, latency)
			log.WithFields(logrus.Fields{
				"attempts": attempts,
				"duration": latency,
			}).Info("Lookup succeeded")
			return Result{Service: service, Query: query, Data: data, Latency: latency, Attempts: attempts}, nil
		}

		if callErr.Kind == KindCanceled {
			return d.canceled(service, query, start, attempts, callErr.Err)
		}

		lastErr = callErr
		log.WithError(callErr).WithField("attempt", attempts).Warn("Lookup attempt failed")
		if !callErr.Retryable() || attempt == desc.Retries-1 {
			break
		}

		if !sleepContext(ctx, d.backoff(attempt)) {
			return d.canceled(service, query, start, attempts, ctx.Err())
		}
	}

	elapsed := time.Since(start)
	lastErr.Attempts = attempts
	lastErr.Elapsed = elapsed
	if attempts > 0 {
		d.recordStats(ctx, service, false, elapsed)
	}
	log.WithError(lastErr).WithField("attempts", attempts).Error("Lookup failed")
	return Result{Service: service, Query: query, Latency: elapsed, Attempts: attempts}, lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, service, target string, timeout time.Duration) (json.RawMessage, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindRequest, Service: service, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, service, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, service, timeout, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindHTTP,
			Service:    service,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	data, err := decodeBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Service: service, Err: err}
	}
	return data, nil
}

func (d *Dispatcher) canceled(service, query string, start time.Time, attempts int, cause error) (Result, error) {
	elapsed := time.Since(start)
	d.log.WithFields(logrus.Fields{
		"service":  service,
		"attempts": attempts,
	}).Info("Lookup canceled by caller")
	return Result{Service: service, Query: query, Latency: elapsed, Attempts: attempts},
		&Error{Kind: KindCanceled, Service: service, Attempts: attempts, Elapsed: elapsed, Err: cause}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	return d.backoffBase * time.Duration(1<<attempt)
}

func (d *Dispatcher) recordStats(ctx context.Context, service string, success bool, latency time.Duration) {
	if d.stats == nil {
		return
	}
	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.stats.RecordAPICall(statsCtx, service, success, latency); err != nil {
		d.log.WithError(err).WithField("service", service).Error("Failed to record API statistics")
	}
}

// decodeBody turns a 200 response into a JSON document. Declared JSON must
// decode; anything else is parsed best-effort and otherwise wrapped as raw text.
func decodeBody(contentType string, body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if isJSONContentType(contentType) {
		if !json.Valid(trimmed) {
			var doc interface{}
			err := json.Unmarshal(trimmed, &doc)
			if err == nil {
				err = errors.New("invalid JSON document")
			}
			return nil, err
		}
		return json.RawMessage(trimmed), nil
	}

	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string{"raw_response": string(body)}); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func classify(parent context.Context, service string, timeout time.Duration, err error) *Error {
	if parent.Err() != nil {
		return &Error{Kind: KindCanceled, Service: service, Err: parent.Err()}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Service: service, Err: fmt.Errorf("no response after %s", timeout)}
	}
	return &Error{Kind: KindNetwork, Service: service, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"host":   req.URL.Host,
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Debug("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}

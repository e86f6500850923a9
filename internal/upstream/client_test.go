package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdko-org/lookup-relay/internal/cache"
	"github.com/sdko-org/lookup-relay/internal/config"
	"github.com/sirupsen/logrus"
)

type statCall struct {
	service string
	success bool
}

type recordingStats struct {
	mu    sync.Mutex
	calls []statCall
}

func (r *recordingStats) RecordAPICall(_ context.Context, service string, success bool, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, statCall{service: service, success: success})
	return nil
}

func (r *recordingStats) snapshot() []statCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestDispatcher(t *testing.T, baseURL string, timeout time.Duration, stats StatsRecorder) *Dispatcher {
	t.Helper()
	catalog := NewCatalog([]config.ServiceDescriptor{
		{Name: "num", BaseURL: baseURL + "/num?q=", Timeout: timeout, Retries: 3},
	})
	return NewDispatcher(quietLogger(), Config{
		Catalog:     catalog,
		Cache:       cache.New(cache.Config{TTL: time.Minute}),
		Stats:       stats,
		BackoffBase: time.Millisecond,
	})
}

func TestDispatchSuccessThenCacheHit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if got := r.URL.Query().Get("q"); got != "9876543210" {
			t.Errorf("unexpected query %q", got)
		}
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"A","id":12345678901234567890}`))
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, time.Second, stats)

	res, err := d.Dispatch(context.Background(), "num", "9876543210")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Cached || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if string(res.Data) != `{"name":"A","id":12345678901234567890}` {
		t.Fatalf("payload altered: %s", res.Data)
	}

	again, err := d.Dispatch(context.Background(), "NUM", "9876543210")
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if !again.Cached || string(again.Data) != string(res.Data) {
		t.Fatalf("expected identical cached result, got %+v", again)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", hits.Load())
	}
	calls := stats.snapshot()
	if len(calls) != 1 || !calls[0].success || calls[0].service != "num" {
		t.Fatalf("unexpected stats %+v", calls)
	}
}

func TestDispatchTimeoutExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, 30*time.Millisecond, stats)

	_, err := d.Dispatch(context.Background(), "num", "1")
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if upErr.Kind != KindTimeout || upErr.Attempts != 3 {
		t.Fatalf("unexpected error %+v", upErr)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
	calls := stats.snapshot()
	if len(calls) != 1 || calls[0].success {
		t.Fatalf("expected a single failure stat, got %+v", calls)
	}
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, time.Second, stats)

	res, err := d.Dispatch(context.Background(), "num", "1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if calls := stats.snapshot(); len(calls) != 1 || !calls[0].success {
		t.Fatalf("unexpected stats %+v", calls)
	}
}

func TestDispatchHTTPErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL, time.Second, nil)
	_, err := d.Dispatch(context.Background(), "num", "1")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindHTTP {
		t.Fatalf("expected http error, got %v", err)
	}
	if upErr.StatusCode != http.StatusNotFound || upErr.Body != "nope\n" {
		t.Fatalf("unexpected error detail %+v", upErr)
	}
	if upErr.Error() != "HTTP 404: nope\n" {
		t.Fatalf("unexpected message %q", upErr.Error())
	}
}

func TestDispatchDecodeErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, time.Second, stats)

	_, err := d.Dispatch(context.Background(), "num", "1")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("decode errors must not retry, got %d attempts", hits.Load())
	}
	if calls := stats.snapshot(); len(calls) != 1 || calls[0].success {
		t.Fatalf("unexpected stats %+v", calls)
	}
}

func TestDispatchWrapsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<b>found</b>"))
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL, time.Second, nil)
	res, err := d.Dispatch(context.Background(), "num", "1")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(res.Data, &body); err != nil {
		t.Fatalf("result is not an object: %v", err)
	}
	if body["raw_response"] != "<b>found</b>" {
		t.Fatalf("unexpected wrapped body %v", body)
	}
}

func TestDispatchUnknownServiceSkipsStats(t *testing.T) {
	stats := &recordingStats{}
	d := newTestDispatcher(t, "http://127.0.0.1:1", time.Second, stats)

	_, err := d.Dispatch(context.Background(), "missing", "1")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if upErr.Error() != "API 'missing' not configured" {
		t.Fatalf("unexpected message %q", upErr.Error())
	}
	if len(stats.snapshot()) != 0 {
		t.Fatalf("config errors must not touch stats")
	}
}

func TestDispatchCancellationSkipsStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, time.Second, stats)
	d.backoffBase = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := d.Dispatch(ctx, "num", "1")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindCanceled {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if len(stats.snapshot()) != 0 {
		t.Fatalf("cancellation must not touch stats")
	}
}

func TestDispatchRejectsMalformedQuery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := newTestDispatcher(t, srv.URL, time.Second, stats)

	_, err := d.Dispatch(context.Background(), "num", "12\n34")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindRequest {
		t.Fatalf("expected request error, got %v", err)
	}
	if upErr.Retryable() {
		t.Fatalf("malformed queries must not be retried")
	}
	if hits.Load() != 0 || len(stats.snapshot()) != 0 {
		t.Fatalf("malformed query reached the network or stats: hits=%d stats=%v", hits.Load(), stats.snapshot())
	}
}

func TestDispatchThrottleDeadlineIsTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	stats := &recordingStats{}
	d := NewDispatcher(quietLogger(), Config{
		Catalog: NewCatalog([]config.ServiceDescriptor{
			{Name: "num", BaseURL: srv.URL + "/num?q=", Timeout: time.Second, Retries: 3},
		}),
		Stats:         stats,
		BackoffBase:   time.Millisecond,
		RatePerSecond: 0.5,
	})

	if _, err := d.Dispatch(context.Background(), "num", "1"); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, "num", "2")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.Kind != KindTimeout {
		t.Fatalf("expected timeout when the throttle outlasts the deadline, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("dispatch should fail before the deadline passes")
	}
	if hits.Load() != 1 || len(stats.snapshot()) != 1 {
		t.Fatalf("throttled lookup must not reach the network: hits=%d stats=%v", hits.Load(), stats.snapshot())
	}
}

func TestRetryableKinds(t *testing.T) {
	cases := map[Kind]bool{
		KindTimeout:  true,
		KindNetwork:  true,
		KindHTTP:     true,
		KindDecode:   false,
		KindConfig:   false,
		KindCanceled: false,
		KindRequest:  false,
	}
	for kind, want := range cases {
		if got := (&Error{Kind: kind}).Retryable(); got != want {
			t.Errorf("%s: Retryable() = %v, want %v", kind, got, want)
		}
	}
}

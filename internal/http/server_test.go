package httpserver

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func serve(t *testing.T, selfSigned bool) (string, *Server, chan error) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	srv, err := New(logger, Config{SelfSignedTLS: selfSigned}, handler)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	return ln.Addr().String(), srv, done
}

func shutdown(t *testing.T, srv *Server, done chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v after shutdown", err)
	}
}

func TestServePlainHTTP(t *testing.T) {
	addr, srv, done := serve(t, false)

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("unexpected body %q", body)
	}

	shutdown(t, srv, done)
}

func TestServeSelfSignedTLS(t *testing.T) {
	addr, srv, done := serve(t, true)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + addr + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		t.Fatalf("expected a TLS connection")
	}
	if org := resp.TLS.PeerCertificates[0].Subject.Organization; len(org) != 1 || org[0] != "Lookup Relay" {
		t.Fatalf("unexpected certificate subject %v", org)
	}
	client.CloseIdleConnections()

	shutdown(t, srv, done)
}

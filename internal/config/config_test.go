package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SQLITE_PATH", filepath.Join(tmp, "nested", "relay.db"))
	t.Setenv("ADMIN_IDS", "11, 22,bogus,")
	t.Setenv("OWNER_ID", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit != 10 || cfg.RateLimitWindow != time.Minute {
		t.Fatalf("unexpected rate limit %d/%v", cfg.RateLimit, cfg.RateLimitWindow)
	}
	if cfg.RateLimitStore != RateStoreDatabase {
		t.Fatalf("unexpected rate limit store %q", cfg.RateLimitStore)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.CacheTTL)
	}
	if len(cfg.AdminIDs) != 2 || cfg.AdminIDs[0] != 11 || cfg.AdminIDs[1] != 22 {
		t.Fatalf("unexpected admin ids %v", cfg.AdminIDs)
	}
	if !cfg.IsPrivileged(7) || !cfg.IsPrivileged(22) || cfg.IsPrivileged(99) {
		t.Fatalf("privilege check mismatch")
	}
	if len(cfg.Services) != len(defaultServices) {
		t.Fatalf("expected %d services, got %d", len(defaultServices), len(cfg.Services))
	}
	if _, err := os.Stat(filepath.Join(tmp, "nested")); err != nil {
		t.Fatalf("sqlite directory not created: %v", err)
	}
	if cfg.S3Enabled() {
		t.Fatalf("s3 should be disabled without credentials")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadServicesEnvOverride(t *testing.T) {
	t.Setenv("API_IP", "http://127.0.0.1:9999/ip?q=")
	services, err := LoadServices("", 3*time.Second, 2)
	if err != nil {
		t.Fatalf("LoadServices: %v", err)
	}
	var found bool
	for _, svc := range services {
		if svc.Name != "ip" {
			continue
		}
		found = true
		if svc.BaseURL != "http://127.0.0.1:9999/ip?q=" {
			t.Fatalf("env override ignored: %s", svc.BaseURL)
		}
		if svc.Timeout != 3*time.Second || svc.Retries != 2 {
			t.Fatalf("defaults not applied: %v/%d", svc.Timeout, svc.Retries)
		}
	}
	if !found {
		t.Fatalf("ip service missing")
	}
}

func TestLoadServicesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `services:
  - name: Weather
    url: http://weather.local/q=
    timeout: 2s
    retries: 5
    category: MISC
  - name: num
    url: http://num.local/?n=
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	services, err := LoadServices(path, 10*time.Second, 3)
	if err != nil {
		t.Fatalf("LoadServices: %v", err)
	}
	byName := map[string]ServiceDescriptor{}
	for _, svc := range services {
		byName[svc.Name] = svc
	}
	weather, ok := byName["weather"]
	if !ok {
		t.Fatalf("weather service missing")
	}
	if weather.Timeout != 2*time.Second || weather.Retries != 5 || weather.Category != "MISC" {
		t.Fatalf("unexpected weather descriptor %+v", weather)
	}
	if byName["num"].BaseURL != "http://num.local/?n=" || byName["num"].Retries != 3 {
		t.Fatalf("num not replaced: %+v", byName["num"])
	}
}

func TestLoadServicesFileRequiresURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte("services:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadServices(path, time.Second, 1); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SQLITE_PATH="+filepath.Join(dir, "relay.db")+"\nRATE_LIMIT_PER_MINUTE=4\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	chdir(t, dir)
	// godotenv never overrides variables already present in the environment.
	for _, key := range []string{"SQLITE_PATH", "RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit != 4 {
		t.Fatalf(".env value ignored: %d", cfg.RateLimit)
	}
}

func TestLoadRejectsMalformedDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BROKEN=\"unterminated\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	chdir(t, dir)

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed .env")
	}
}

// chdir switches the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	})
}

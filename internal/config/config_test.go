package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REPLICATE_POLL_INTERVAL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.PublicBaseURL != "http://localhost:9090/assets" {
		t.Fatalf("unexpected public base url %q", cfg.PublicBaseURL)
	}
	if cfg.ReplicatePollInterval != 2*time.Second {
		t.Fatalf("unexpected poll interval %s", cfg.ReplicatePollInterval)
	}
	if cfg.MaxPages != 0 {
		t.Fatalf("expected unbounded page count by default, got %d", cfg.MaxPages)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("REPLICATE_POLL_INTERVAL", "500")
	t.Setenv("PLAN_CACHE_TTL", "2m")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("MAX_PAGES", "not-a-number")

	cfg := Load()
	if cfg.ReplicatePollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.ReplicatePollInterval)
	}
	if cfg.PlanCacheTTL != 2*time.Minute {
		t.Fatalf("unexpected plan cache ttl %s", cfg.PlanCacheTTL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.WorkerEnabled {
		t.Fatal("expected worker disabled")
	}
	if cfg.MaxPages != 0 {
		t.Fatalf("expected fallback max pages, got %d", cfg.MaxPages)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "MANGA_TEST_NEW=\"from file\"\nMANGA_TEST_EXISTING=file\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MANGA_TEST_EXISTING", "process")
	t.Cleanup(func() { os.Unsetenv("MANGA_TEST_NEW") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("MANGA_TEST_NEW"); got != "from file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("MANGA_TEST_EXISTING"); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}

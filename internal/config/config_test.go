package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nwitter.yaml")
	yml := `
server:
  addr: ":9090"
auth:
  jwt_secret: from-file
retry:
  max_attempts: 6
  initial_backoff: 50ms
chat:
  aggregator_mode: full
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NWITTER_JWT_SECRET", "from-env")
	t.Setenv("NWITTER_REDIS_DB", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Expected env to override file, got %s", cfg.Auth.JWTSecret)
	}
	if cfg.Retry.MaxAttempts != 6 || cfg.Retry.InitialBackoff != 50*time.Millisecond {
		t.Errorf("Unexpected retry policy %+v", cfg.Retry)
	}
	if cfg.Redis.DB != 3 {
		t.Errorf("Expected redis db 3, got %d", cfg.Redis.DB)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing jwt secret to fail")
	}

	cfg.Auth.JWTSecret = "secret"
	cfg.Blob.Kind = "s3"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected s3 without credentials to fail")
	}

	cfg.Blob.Kind = "dir"
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected unsupported driver to fail")
	}
}

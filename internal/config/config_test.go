package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
host: localhost
port: 5656
user: edgedb
database: main
password: testpass
tls_security: strict
wait_until_available: 10s
max_concurrency: 5
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Host != "localhost" {
		t.Errorf("expected host localhost, got %s", cfg.Host)
	}
	if cfg.Port != 5656 {
		t.Errorf("expected port 5656, got %d", cfg.Port)
	}
	if cfg.Database != "main" {
		t.Errorf("expected database main, got %s", cfg.Database)
	}
	if cfg.MaxConcurrency != 5 {
		t.Errorf("expected max_concurrency 5, got %d", cfg.MaxConcurrency)
	}
	if cfg.WaitUntilAvailable != 10*time.Second {
		t.Errorf("expected wait_until_available 10s, got %v", cfg.WaitUntilAvailable)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_GEL_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_GEL_PASSWORD")

	yaml := `
host: localhost
database: main
password: ${TEST_GEL_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Password != "secret123" {
		t.Errorf("expected password secret123, got %s", cfg.Password)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing host",
			yaml: `
database: main
`,
		},
		{
			name: "missing database",
			yaml: `
host: localhost
`,
		},
		{
			name: "invalid tls_security",
			yaml: `
host: localhost
database: main
tls_security: yolo
`,
		},
		{
			name: "invalid port",
			yaml: `
host: localhost
database: main
port: 99999
`,
		},
		{
			name: "server name with insecure tls",
			yaml: `
host: localhost
database: main
tls_security: insecure
tls_server_name: example.com
`,
		},
		{
			name: "negative max_concurrency",
			yaml: `
host: localhost
database: main
max_concurrency: -1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
host: localhost
database: main
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 5656 {
		t.Errorf("expected default port 5656, got %d", cfg.Port)
	}
	if cfg.User != "edgedb" {
		t.Errorf("expected default user edgedb, got %s", cfg.User)
	}
	if cfg.TLSSecurity != TLSSecurityStrict {
		t.Errorf("expected default tls_security strict, got %s", cfg.TLSSecurity)
	}
	if cfg.WaitUntilAvailable != 30*time.Second {
		t.Errorf("expected default wait_until_available 30s, got %v", cfg.WaitUntilAvailable)
	}
	if cfg.MaxConcurrency != 10 {
		t.Errorf("expected default max_concurrency 10, got %d", cfg.MaxConcurrency)
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Config{
		Host:      "localhost",
		Database:  "main",
		Password:  "hunter2",
		SecretKey: "sk_live_abc",
	}

	r := cfg.Redacted()
	if r.Password != "***REDACTED***" {
		t.Errorf("expected password redacted, got %s", r.Password)
	}
	if r.SecretKey != "***REDACTED***" {
		t.Errorf("expected secret key redacted, got %s", r.SecretKey)
	}
	// Original must be unaffected.
	if cfg.Password != "hunter2" {
		t.Errorf("Redacted mutated the receiver's password")
	}
}

func TestRedactedNoopsOnEmptySecrets(t *testing.T) {
	cfg := Config{Host: "localhost", Database: "main"}
	r := cfg.Redacted()
	if r.Password != "" || r.SecretKey != "" {
		t.Errorf("expected empty secrets to stay empty, got password=%q secret_key=%q", r.Password, r.SecretKey)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

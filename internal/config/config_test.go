package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"TERMPROXY_LOG_LEVEL", "TERMPROXY_AUTH_PORT", "TERMPROXY_IDLE_TIMEOUT",
		"TERMPROXY_LISTEN_HOST", "TERMPROXY_SECRETS_ARN", "TERMPROXY_METRICS_ADDR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.AuthPort != 85 {
		t.Errorf("expected auth port 85, got %d", cfg.AuthPort)
	}
	if cfg.IdleTimeout != 5*time.Minute {
		t.Errorf("expected idle timeout 5m, got %s", cfg.IdleTimeout)
	}
	if cfg.AcceptTimeout != 10*time.Second {
		t.Errorf("expected accept timeout 10s, got %s", cfg.AcceptTimeout)
	}
	if cfg.ListenHost != "localhost" {
		t.Errorf("expected listen host localhost, got %s", cfg.ListenHost)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.LogLevel)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("expected metrics disabled, got %s", cfg.MetricsAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TERMPROXY_AUTH_PORT", "8006")
	t.Setenv("TERMPROXY_IDLE_TIMEOUT", "90s")
	t.Setenv("TERMPROXY_LOG_LEVEL", "debug")
	t.Setenv("TERMPROXY_NATS_URL", "nats://nats:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.AuthPort != 8006 {
		t.Errorf("expected auth port 8006, got %d", cfg.AuthPort)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Errorf("expected idle timeout 90s, got %s", cfg.IdleTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("unexpected NATS URL %s", cfg.NATSURL)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"TERMPROXY_AUTH_PORT", "abc"},
		{"TERMPROXY_AUTH_PORT", "70000"},
		{"TERMPROXY_IDLE_TIMEOUT", "forever"},
		{"TERMPROXY_ACCEPT_TIMEOUT", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestApplySecretsKeepsExistingEnv(t *testing.T) {
	t.Setenv("TERMPROXY_TICKET_SECRET", "from-env")
	t.Setenv("TERMPROXY_NATS_URL", "")
	os.Unsetenv("TERMPROXY_NATS_URL")
	t.Cleanup(func() { os.Unsetenv("TERMPROXY_NATS_URL") })

	n, err := applySecrets(`{"TERMPROXY_TICKET_SECRET":"from-secret","TERMPROXY_NATS_URL":"nats://secret:4222"}`)
	if err != nil {
		t.Fatalf("applySecrets: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied secret, got %d", n)
	}
	if got := os.Getenv("TERMPROXY_TICKET_SECRET"); got != "from-env" {
		t.Errorf("env var was overridden: %s", got)
	}
	if got := os.Getenv("TERMPROXY_NATS_URL"); got != "nats://secret:4222" {
		t.Errorf("secret not applied: %s", got)
	}
}

func TestApplySecretsBadJSON(t *testing.T) {
	if _, err := applySecrets("not json"); err == nil {
		t.Fatal("expected error for malformed secret")
	}
}

func TestRegionFromARN(t *testing.T) {
	arn := "arn:aws:secretsmanager:us-east-2:123456789012:secret:termproxy-AbCdEf"
	if got := regionFromARN(arn); got != "us-east-2" {
		t.Errorf("expected us-east-2, got %q", got)
	}
	if got := regionFromARN("bogus"); got != "" {
		t.Errorf("expected empty region, got %q", got)
	}
}

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds the relay settings that can come from the environment.
// Command-line flags are applied on top by the caller.
type Config struct {
	LogLevel string

	// Listening
	ListenHost    string        // interface to bind, default "localhost"
	AcceptTimeout time.Duration // how long to wait for the one client

	// Handshake
	AuthPort     int           // local port of the ticket service
	AuthTimeout  time.Duration // deadline for the USER:TICKET line
	TicketSecret string        // if set, tickets are HS256 JWTs checked locally

	// Relay
	IdleTimeout time.Duration
	MaxPayload  int
	KillGrace   time.Duration

	// Observability
	MetricsAddr string // e.g. ":9464"; empty disables the endpoint
	NATSURL     string // empty disables session events

	// AWS Secrets Manager. The secret is a JSON object keyed by env var
	// name (e.g. TERMPROXY_TICKET_SECRET). Env vars take precedence.
	SecretsARN string

	// SecretsApplied counts the keys copied from Secrets Manager into the
	// environment.
	SecretsApplied int
}

// Load reads configuration from TERMPROXY_* environment variables. If
// TERMPROXY_SECRETS_ARN is set, the secret is fetched first and its values
// fill in any variables not already set.
func Load() (*Config, error) {
	applied := 0
	if arn := os.Getenv("TERMPROXY_SECRETS_ARN"); arn != "" {
		n, err := loadSecretsManager(arn)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
		applied = n
	}

	cfg := &Config{
		LogLevel:     envOrDefault("TERMPROXY_LOG_LEVEL", "info"),
		ListenHost:   envOrDefault("TERMPROXY_LISTEN_HOST", "localhost"),
		TicketSecret: os.Getenv("TERMPROXY_TICKET_SECRET"),
		MetricsAddr:  os.Getenv("TERMPROXY_METRICS_ADDR"),
		NATSURL:      os.Getenv("TERMPROXY_NATS_URL"),
		SecretsARN:   os.Getenv("TERMPROXY_SECRETS_ARN"),

		SecretsApplied: applied,
	}

	var err error
	if cfg.AuthPort, err = envInt("TERMPROXY_AUTH_PORT", 85); err != nil {
		return nil, err
	}
	if cfg.AuthPort <= 0 || cfg.AuthPort > 65535 {
		return nil, fmt.Errorf("invalid TERMPROXY_AUTH_PORT %d: out of range", cfg.AuthPort)
	}
	if cfg.MaxPayload, err = envInt("TERMPROXY_MAX_PAYLOAD", 1<<20); err != nil {
		return nil, err
	}
	if cfg.AcceptTimeout, err = envDuration("TERMPROXY_ACCEPT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.AuthTimeout, err = envDuration("TERMPROXY_AUTH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = envDuration("TERMPROXY_IDLE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.KillGrace, err = envDuration("TERMPROXY_KILL_GRACE", 5*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

// loadSecretsManager fetches a JSON secret and exports its values as
// environment variables that are not already set. It uses the default AWS
// credential chain.
func loadSecretsManager(arn string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if region := regionFromARN(arn); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return 0, fmt.Errorf("GetSecretValue: %w", err)
	}
	if result.SecretString == nil {
		return 0, fmt.Errorf("secret %s has no string value", arn)
	}

	return applySecrets(*result.SecretString)
}

func regionFromARN(arn string) string {
	if parts := strings.Split(arn, ":"); len(parts) >= 4 {
		return parts[3]
	}
	return ""
}

// applySecrets sets each key of the JSON object that is not already in the
// environment and returns how many were set.
func applySecrets(secretJSON string) (int, error) {
	var secrets map[string]string
	if err := json.Unmarshal([]byte(secretJSON), &secrets); err != nil {
		return 0, fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := 0
	for key, value := range secrets {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}
	return applied, nil
}

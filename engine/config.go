package engine

import (
	"errors"
	"os"
	"time"
)

// Config captures the deployment settings for one engine instance. All values
// come from the environment so main stays lean.
type Config struct {
	// ProviderTableName is the single provider data table.
	ProviderTableName string

	// UsersTableName holds per-(user, compact) permission records.
	UsersTableName string

	// IdempotencyTableName tracks notification outcomes; TTL must be enabled
	// on its ttl attribute.
	IdempotencyTableName string

	// EventBusName is the bus domain events are published to.
	EventBusName string

	// LicenseQueueName and DeactivationQueueName are the inbound queues.
	LicenseQueueName      string
	DeactivationQueueName string

	// TokenSigningKey signs caller access tokens.
	TokenSigningKey string

	// TokenLifetime bounds issued tokens. Defaults to one hour.
	TokenLifetime time.Duration

	// MetricsEnabled registers Prometheus collectors when true.
	MetricsEnabled bool
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	tokenLifetime := time.Hour
	if raw := os.Getenv("TOKEN_LIFETIME"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			tokenLifetime = parsed
		}
	}

	return Config{
		ProviderTableName:     os.Getenv("PROVIDER_TABLE_NAME"),
		UsersTableName:        os.Getenv("USERS_TABLE_NAME"),
		IdempotencyTableName:  os.Getenv("IDEMPOTENCY_TABLE_NAME"),
		EventBusName:          os.Getenv("EVENT_BUS_NAME"),
		LicenseQueueName:      os.Getenv("LICENSE_QUEUE_NAME"),
		DeactivationQueueName: os.Getenv("DEACTIVATION_QUEUE_NAME"),
		TokenSigningKey:       os.Getenv("TOKEN_SIGNING_KEY"),
		TokenLifetime:         tokenLifetime,
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") != "false",
	}
}

// Validate reports the first missing required setting.
func (c Config) Validate() error {
	if c.ProviderTableName == "" {
		return errors.New("PROVIDER_TABLE_NAME is required")
	}

	if c.EventBusName == "" {
		return errors.New("EVENT_BUS_NAME is required")
	}

	if c.LicenseQueueName == "" {
		return errors.New("LICENSE_QUEUE_NAME is required")
	}

	if c.DeactivationQueueName == "" {
		return errors.New("DEACTIVATION_QUEUE_NAME is required")
	}

	if c.TokenSigningKey == "" {
		return errors.New("TOKEN_SIGNING_KEY is required")
	}

	if c.TokenLifetime <= 0 {
		return errors.New("token lifetime must be positive")
	}

	return nil
}

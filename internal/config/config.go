package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"waingest/internal/constants"
	"waingest/internal/models"
	"waingest/internal/security"
)

var (
	ErrMissingDBPath   = models.ConfigError{Message: "missing database path"}
	ErrMissingMediaDir = models.ConfigError{Message: "missing media store directory"}
	ErrMissingQueueURL = models.ConfigError{Message: "missing queue URL (set AMQP_URL environment variable)"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeout
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.CleanupIntervalHours <= 0 {
		c.Server.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
	if c.Server.RateLimitPerMinute <= 0 {
		c.Server.RateLimitPerMinute = constants.DefaultWebhookRateLimit
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}

	if c.Media.MaxDocumentBytes <= 0 {
		c.Media.MaxDocumentBytes = constants.DefaultMaxDocumentBytes
	}

	if c.Queue.Exchange == "" {
		c.Queue.Exchange = constants.DefaultExtractionExchange
	}
	if c.Queue.QueueName == "" {
		c.Queue.QueueName = constants.DefaultExtractionQueue
	}
	if c.Queue.RoutingKey == "" {
		c.Queue.RoutingKey = constants.DefaultExtractionRoutingKey
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = constants.DefaultExtractionWorkers
	}
	if c.Queue.Prefetch <= 0 {
		c.Queue.Prefetch = constants.DefaultExtractionPrefetch
	}
	if c.Queue.DialAttempts <= 0 {
		c.Queue.DialAttempts = constants.DefaultQueueDialAttempts
	}

	if c.WhatsApp.APIBaseURL == "" {
		c.WhatsApp.APIBaseURL = constants.DefaultGraphAPIBaseURL
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = constants.DefaultGraphAPIVersion
	}
	if c.WhatsApp.TimeoutSec <= 0 {
		c.WhatsApp.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.WhatsApp.RetryCount <= 0 {
		c.WhatsApp.RetryCount = constants.DefaultSendRetryCount
	}

	if c.DebugEcho.RateLimitSec <= 0 {
		c.DebugEcho.RateLimitSec = constants.DefaultEchoRateLimitSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
}

// Secrets come only from the environment; the JSON file never carries
// them.
func applyEnvironmentOverrides(c *models.Config) {
	if secret := os.Getenv("WAINGEST_APP_SECRET"); secret != "" {
		c.Webhook.AppSecret = secret
	}
	if token := os.Getenv("WAINGEST_VERIFY_TOKEN"); token != "" {
		c.Webhook.VerifyToken = token
	}
	if key := os.Getenv("WAINGEST_ADMIN_API_KEY"); key != "" {
		c.Admin.APIKey = key
	}
	if token := os.Getenv("WHATSAPP_ACCESS_TOKEN"); token != "" {
		c.WhatsApp.AccessToken = token
	}
	if url := os.Getenv("AMQP_URL"); url != "" {
		c.Queue.URL = url
	}
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		c.Media.StoreDir = dir
	}
	if port := os.Getenv("WAINGEST_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Media.StoreDir == "" {
		return ErrMissingMediaDir
	}
	if c.Queue.URL == "" {
		return ErrMissingQueueURL
	}
	return nil
}

// validateSecurity enforces production hardening after env overrides.
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("WAINGEST_ENV") == "production"

	if isProduction {
		if !c.Webhook.VerifySignature {
			return models.ConfigError{Message: "signature verification cannot be disabled in production"}
		}
		if c.Webhook.AppSecret == "" {
			return models.ConfigError{Message: "webhook app secret is required in production (set WAINGEST_APP_SECRET environment variable)"}
		}
		if len(c.Webhook.AppSecret) < constants.MinWebhookSecretLength {
			return models.ConfigError{Message: fmt.Sprintf("webhook app secret must be at least %d characters long", constants.MinWebhookSecretLength)}
		}
		if c.Webhook.VerifyToken == "" {
			return models.ConfigError{Message: "webhook verify token is required in production (set WAINGEST_VERIFY_TOKEN environment variable)"}
		}
		if c.DebugEcho.Enabled {
			return models.ConfigError{Message: "debug echo cannot be enabled in production"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if c.Webhook.VerifySignature && c.Webhook.AppSecret == "" {
			return models.ConfigError{Message: "signature verification enabled but no app secret configured (set WAINGEST_APP_SECRET environment variable)"}
		}
		if !c.Webhook.VerifySignature {
			fmt.Fprintf(os.Stderr, "WARNING: webhook signature verification is disabled. Never run this configuration in production.\n")
		}
	}

	return nil
}

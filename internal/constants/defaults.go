package constants

// Default server configuration values
const (
	DefaultServerPort           = 8084
	DefaultServerReadTimeoutSec = 15
	DefaultServerWriteTimeout   = 15
	DefaultServerIdleTimeoutSec = 60
	DefaultGracefulShutdownSec  = 30
	ServerErrorChannelSize      = 1
)

// Default ingestion configuration values
const (
	DefaultRetentionDays         = 30
	DefaultCleanupIntervalHours  = 24
	DefaultMaxWebhookBodyBytes   = 1 << 20 // 1 MiB, Meta payloads are far smaller
	DefaultWebhookRateLimit      = 100
	DefaultWebhookRateWindowSec  = 60
	MinWebhookSecretLength       = 32
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
)

// Default extraction configuration values
const (
	DefaultMaxDocumentBytes      = 10 * 1024 * 1024
	DefaultExtractionWorkers     = 4
	DefaultExtractionPrefetch    = 10
	DefaultMediaFetchTimeoutSec  = 30
	DefaultExtractionTimeoutSec  = 120
	DefaultQueueDialAttempts     = 5
	DefaultQueueDialBackoffMs    = 500
	DefaultExtractionExchange    = "waingest.events"
	DefaultExtractionQueue       = "waingest.extract"
	DefaultExtractionRoutingKey  = "document.extract"
	DefaultDeadLetterTTLMinutes  = 10
)

// Default debug echo configuration values
const (
	DefaultEchoRateLimitSec = 60
	MaxEchoPreviewChars     = 20
)

// Default outbound client configuration values
const (
	DefaultGraphAPIBaseURL  = "https://graph.facebook.com"
	DefaultGraphAPIVersion  = "v20.0"
	DefaultHTTPTimeoutSec   = 30
	DefaultSendRetryCount   = 3
	DefaultBackoffInitialMs = 500
)

// Field encryption parameters
const (
	EncryptionSalt       = "waingest-field-encryption-v1"
	EncryptionLookupSalt = "waingest-lookup-v1"
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	FingerprintLogChars    = 8
)

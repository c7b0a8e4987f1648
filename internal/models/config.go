package models

// ConfigError represents a configuration validation failure
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

type Config struct {
	Server        ServerConfig    `json:"server"`
	Webhook       WebhookConfig   `json:"webhook"`
	Admin         AdminConfig     `json:"admin"`
	Database      DatabaseConfig  `json:"database"`
	Media         MediaConfig     `json:"media"`
	Queue         QueueConfig     `json:"queue"`
	WhatsApp      WhatsAppConfig  `json:"whatsapp"`
	DebugEcho     DebugEchoConfig `json:"debugEcho"`
	Retry         RetryConfig     `json:"retry"`
	Tracing       TracingConfig   `json:"tracing"`
	RetentionDays int             `json:"retentionDays"`
	LogLevel      string          `json:"logLevel"`
}

type ServerConfig struct {
	Port                 int `json:"port"`
	ReadTimeoutSec       int `json:"readTimeoutSec"`
	WriteTimeoutSec      int `json:"writeTimeoutSec"`
	IdleTimeoutSec       int `json:"idleTimeoutSec"`
	CleanupIntervalHours int `json:"cleanupIntervalHours"`
	RateLimitPerMinute   int `json:"rateLimitPerMinute"`
}

type WebhookConfig struct {
	// VerifySignature disables HMAC verification when false. Intended
	// for non-production use only; the loader rejects it in production.
	VerifySignature bool   `json:"verifySignature"`
	AppSecret       string `json:"-"` // from WAINGEST_APP_SECRET
	VerifyToken     string `json:"-"` // from WAINGEST_VERIFY_TOKEN
}

type AdminConfig struct {
	APIKey string `json:"-"` // from WAINGEST_ADMIN_API_KEY
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type MediaConfig struct {
	StoreDir         string `json:"storeDir"`
	MaxDocumentBytes int64  `json:"maxDocumentBytes"`
}

type QueueConfig struct {
	URL          string `json:"-"` // from AMQP_URL
	Exchange     string `json:"exchange"`
	QueueName    string `json:"queueName"`
	RoutingKey   string `json:"routingKey"`
	Workers      int    `json:"workers"`
	Prefetch     int    `json:"prefetch"`
	DialAttempts int    `json:"dialAttempts"`
}

type WhatsAppConfig struct {
	APIBaseURL     string `json:"apiBaseUrl"`
	APIVersion     string `json:"apiVersion"`
	AccessToken    string `json:"-"` // from WHATSAPP_ACCESS_TOKEN
	PhoneNumberID  string `json:"phoneNumberId"`
	TimeoutSec     int    `json:"timeoutSec"`
	RetryCount     int    `json:"retryCount"`
}

type DebugEchoConfig struct {
	Enabled       bool     `json:"enabled"`
	Allowlist     []string `json:"allowlist"`
	AllowGroups   bool     `json:"allowGroups"`
	RateLimitSec  int      `json:"rateLimitSec"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

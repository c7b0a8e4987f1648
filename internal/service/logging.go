package service

// Standard logging field names used across the application.
// Use these exact names so log aggregation stays consistent.
const (
	// Core identifiers
	LogFieldRequestID      = "request_id"
	LogFieldTraceID        = "trace_id"
	LogFieldMessageID      = "message_id"
	LogFieldConversationID = "conversation_id"
	LogFieldParticipantID  = "participant_id"
	LogFieldMediaRefID     = "media_ref_id"
	LogFieldFingerprint    = "fingerprint"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"

	// Message and event fields
	LogFieldEvent       = "event"
	LogFieldMessageType = "message_type"
	LogFieldDirection   = "direction" // "inbound" or "outbound"
	LogFieldOutcome     = "outcome"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Media and extraction
	LogFieldMediaType  = "media_type"
	LogFieldFileName   = "file_name"
	LogFieldFileSize   = "file_size"
	LogFieldStorageKey = "storage_key"
	LogFieldStatus     = "extraction_status"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldErrorType  = "error_type"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)

// Log level guidelines:
//
// DEBUG: diagnostic detail, raw payload shapes (sanitized), queue traffic.
// INFO: startup/shutdown, accepted events, extraction completions.
// WARN: duplicates, rejected signatures, rate limiting, retryable errors.
// ERROR: failed operations that the service survives.
// FATAL: missing startup configuration, unrecoverable resources.

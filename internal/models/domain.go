package models

import (
	"time"
)

type ConversationType string

const (
	ConversationIndividual ConversationType = "individual"
	ConversationGroup      ConversationType = "group"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType is the normalized kind of an inbound message
type MessageType string

const (
	MessageText          MessageType = "text"
	MessageMedia         MessageType = "media"
	MessageStatusReceipt MessageType = "status"
	MessageUnknown       MessageType = "unknown"
)

// ExtractionStatus tracks a MediaReference through the extraction
// pipeline. Transitions only move forward: pending -> running ->
// {done, failed, skipped_too_large}.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionRunning    ExtractionStatus = "running"
	ExtractionDone       ExtractionStatus = "done"
	ExtractionFailed     ExtractionStatus = "failed"
	ExtractionSkippedSize ExtractionStatus = "skipped_too_large"
)

// InboundEvent is one row of the idempotency ledger: a unique webhook
// delivery identified by the SHA-256 fingerprint of its raw body.
type InboundEvent struct {
	ID             int64     `db:"id"`
	Fingerprint    string    `db:"fingerprint"`
	Source         string    `db:"source"`
	SignatureValid bool      `db:"signature_valid"`
	ReceivedAt     time.Time `db:"received_at"`
}

// Conversation is keyed by the remote party and the business phone
// number id: group id for groups, "<phone_number_id>:<participant>"
// for individual chats.
type Conversation struct {
	ID             string           `db:"id"`
	Type           ConversationType `db:"type"`
	BusinessPhoneID string          `db:"business_phone_id"`
	LastActivityAt time.Time        `db:"last_activity_at"`
	CreatedAt      time.Time        `db:"created_at"`
}

type Participant struct {
	ID          string    `db:"id"` // WhatsApp phone identifier
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type Message struct {
	ID             int64            `db:"id"`
	SourceID       string           `db:"source_id"` // wamid from the platform
	ConversationID string           `db:"conversation_id"`
	ParticipantID  string           `db:"participant_id"`
	Direction      MessageDirection `db:"direction"`
	Type           MessageType      `db:"message_type"`
	TextBody       string           `db:"text_body"`
	ReplyToSourceID string          `db:"reply_to_source_id"`
	SentAt         time.Time        `db:"sent_at"` // source timestamp, authoritative for ordering
	CreatedAt      time.Time        `db:"created_at"`
}

// MediaReference points at externally stored binary content attached
// to exactly one message.
type MediaReference struct {
	ID            string           `db:"id"` // uuid
	MessageID     int64            `db:"message_id"`
	ProviderMediaID string         `db:"provider_media_id"`
	MimeType      string           `db:"mime_type"`
	DeclaredBytes int64            `db:"declared_bytes"` // 0 when the source did not declare a size
	Filename      string           `db:"filename"`
	StorageKey    string           `db:"storage_key"`
	Status        ExtractionStatus `db:"status"`
	ErrorClass    string           `db:"error_class"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

// ExtractionResult holds sanitized extracted text plus any structured
// fields detected in it. Immutable once written; a re-run overwrites
// it only under an explicit request.
type ExtractionResult struct {
	ID          int64             `db:"id"`
	MediaRefID  string            `db:"media_ref_id"`
	Text        string            `db:"extracted_text"`
	Fields      map[string]string `db:"-"` // persisted as JSON
	SHA256      string            `db:"sha256"`
	CreatedAt   time.Time         `db:"created_at"`
}

// EchoMark records the last time the debug echo replied to a sender.
type EchoMark struct {
	SenderID string    `db:"sender_id"`
	EchoedAt time.Time `db:"echoed_at"`
}

package queue

import "time"

// ExtractionJob is the message published when a stored media reference
// needs its document content extracted.
type ExtractionJob struct {
	MediaRefID      string    `json:"media_ref_id"`
	MessageID       int64     `json:"message_id"`
	ProviderMediaID string    `json:"provider_media_id"`
	MimeType        string    `json:"mime_type"`
	DeclaredBytes   int64     `json:"declared_bytes"`
	Filename        string    `json:"filename,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

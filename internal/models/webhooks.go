package models

// Webhook envelope structures for the WhatsApp Business Platform.
// Unknown fields are ignored on decode; only what the normalizer
// consumes is modeled here.

const WebhookObjectBusinessAccount = "whatsapp_business_account"

type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`

	// Unwrapped relays put the value object at the top level.
	WebhookValue
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts"`
	Messages         []WebhookMessage `json:"messages"`
	Statuses         []WebhookStatus  `json:"statuses"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	GroupID   string `json:"group_id"`
	Timestamp string `json:"timestamp"` // unix seconds, as a string
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *WebhookMedia `json:"image"`
	Document *WebhookMedia `json:"document"`
	Audio    *WebhookMedia `json:"audio"`
	Video    *WebhookMedia `json:"video"`
	Sticker  *WebhookMedia `json:"sticker"`
	Context  *struct {
		ID string `json:"id"`
	} `json:"context"`
}

type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Filename string `json:"filename"`
	Caption  string `json:"caption"`
	FileSize int64  `json:"file_size"`
}

type WebhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // sent, delivered, read, failed
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	RecipientType string `json:"recipient_type"`
}

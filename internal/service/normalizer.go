package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"waingest/internal/errors"
	"waingest/internal/models"
)

// NormalizedEvent is one webhook message or status receipt reduced to
// the canonical domain shape. Media is non-nil for media-bearing
// messages.
type NormalizedEvent struct {
	MessageID        string
	ConversationID   string
	ConversationType models.ConversationType
	BusinessPhoneID  string
	Timestamp        time.Time
	Direction        models.MessageDirection
	Type             models.MessageType
	SourceType       string // the platform's raw type string
	SenderID         string
	SenderName       string
	TextBody         string
	ReplyToSourceID  string
	Status           string // set for status receipts only
	Media            *models.WebhookMedia
}

// ParseResult carries the events that normalized cleanly plus a scoped
// error per message that did not. One bad message never discards the
// rest of the batch.
type ParseResult struct {
	Events  []NormalizedEvent
	Skipped []error
}

// ParseWebhookPayload turns a verified raw webhook body into normalized
// events. It accepts both the standard envelope and the unwrapped value
// object some relays emit. A body that is not valid JSON or matches
// neither shape is a request-level MalformedPayload error.
func ParseWebhookPayload(rawBody []byte, receivedAt time.Time) (*ParseResult, error) {
	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedPayload, "invalid JSON body")
	}

	result := &ParseResult{}

	// Unwrapped relay shape: messages/statuses at the top level.
	if len(envelope.Messages) > 0 || len(envelope.Statuses) > 0 {
		normalizeValue(&envelope.WebhookValue, receivedAt, result)
		return result, nil
	}

	if envelope.Object != models.WebhookObjectBusinessAccount {
		return nil, errors.New(errors.ErrCodeMalformedPayload,
			fmt.Sprintf("unrecognized webhook object %q", envelope.Object))
	}

	for _, entry := range envelope.Entry {
		for i := range entry.Changes {
			normalizeValue(&entry.Changes[i].Value, receivedAt, result)
		}
	}
	return result, nil
}

func normalizeValue(value *models.WebhookValue, receivedAt time.Time, result *ParseResult) {
	contacts := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		if c.WaID != "" {
			contacts[c.WaID] = c.Profile.Name
		}
	}

	for i := range value.Messages {
		event, err := normalizeMessage(&value.Messages[i], value.Metadata.PhoneNumberID, contacts, receivedAt)
		if err != nil {
			result.Skipped = append(result.Skipped, err)
			continue
		}
		result.Events = append(result.Events, *event)
	}
	for i := range value.Statuses {
		event, err := normalizeStatus(&value.Statuses[i], value.Metadata.PhoneNumberID, receivedAt)
		if err != nil {
			result.Skipped = append(result.Skipped, err)
			continue
		}
		result.Events = append(result.Events, *event)
	}
}

func normalizeMessage(msg *models.WebhookMessage, bizPhoneID string, contacts map[string]string, receivedAt time.Time) (*NormalizedEvent, error) {
	if msg.ID == "" {
		return nil, errors.New(errors.ErrCodeMalformedPayload, "message missing id")
	}
	if msg.From == "" {
		return nil, scopedErr(msg.ID, "message missing sender")
	}

	event := &NormalizedEvent{
		MessageID:       msg.ID,
		BusinessPhoneID: bizPhoneID,
		Timestamp:       parseSourceTimestamp(msg.Timestamp, receivedAt),
		Direction:       models.DirectionInbound,
		SourceType:      msg.Type,
		SenderID:        msg.From,
		SenderName:      contacts[msg.From],
	}

	if msg.GroupID != "" {
		event.ConversationType = models.ConversationGroup
		event.ConversationID = msg.GroupID
	} else {
		event.ConversationType = models.ConversationIndividual
		event.ConversationID = bizPhoneID + ":" + msg.From
	}
	if msg.Context != nil {
		event.ReplyToSourceID = msg.Context.ID
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return nil, scopedErr(msg.ID, "text message missing body")
		}
		event.Type = models.MessageText
		event.TextBody = msg.Text.Body
	case "image", "document", "audio", "video", "sticker":
		media := messageMedia(msg)
		if media == nil || media.ID == "" {
			return nil, scopedErr(msg.ID, fmt.Sprintf("%s message missing media id", msg.Type))
		}
		event.Type = models.MessageMedia
		event.TextBody = media.Caption
		event.Media = media
	default:
		event.Type = models.MessageUnknown
	}

	return event, nil
}

// normalizeStatus maps a delivery receipt for an outbound message.
// The recipient stands in as the participant; the conversation key is
// derived from it the same way as for inbound messages.
func normalizeStatus(status *models.WebhookStatus, bizPhoneID string, receivedAt time.Time) (*NormalizedEvent, error) {
	if status.ID == "" {
		return nil, errors.New(errors.ErrCodeMalformedPayload, "status missing message id")
	}
	if status.RecipientID == "" {
		return nil, scopedErr(status.ID, "status missing recipient")
	}

	event := &NormalizedEvent{
		MessageID:       status.ID,
		BusinessPhoneID: bizPhoneID,
		Timestamp:       parseSourceTimestamp(status.Timestamp, receivedAt),
		Direction:       models.DirectionOutbound,
		Type:            models.MessageStatusReceipt,
		SourceType:      "status",
		SenderID:        status.RecipientID,
		Status:          status.Status,
	}

	if status.RecipientType == "group" {
		event.ConversationType = models.ConversationGroup
		event.ConversationID = status.RecipientID
	} else {
		event.ConversationType = models.ConversationIndividual
		event.ConversationID = bizPhoneID + ":" + status.RecipientID
	}
	return event, nil
}

func messageMedia(msg *models.WebhookMessage) *models.WebhookMedia {
	switch msg.Type {
	case "image":
		return msg.Image
	case "document":
		return msg.Document
	case "audio":
		return msg.Audio
	case "video":
		return msg.Video
	case "sticker":
		return msg.Sticker
	}
	return nil
}

// parseSourceTimestamp reads the platform's unix-seconds string. The
// source value is authoritative for ordering; receipt time is only a
// fallback when the field is absent or unreadable.
func parseSourceTimestamp(raw string, receivedAt time.Time) time.Time {
	if raw == "" {
		return receivedAt.UTC()
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return receivedAt.UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func scopedErr(messageID, msg string) error {
	e := errors.New(errors.ErrCodeMalformedPayload, msg)
	return e.WithContext("message_id", messageID)
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waingest/internal/models"
)

var testReceivedAt = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func envelopeWith(value string) []byte {
	return []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "entry-1", "changes": [{"field": "messages", "value": ` + value + `}]}]
	}`)
}

func TestParseWebhookPayloadTextMessage(t *testing.T) {
	body := envelopeWith(`{
		"messaging_product": "whatsapp",
		"metadata": {"display_phone_number": "15550001111", "phone_number_id": "phone-1"},
		"contacts": [{"wa_id": "15551234567", "profile": {"name": "Alice"}}],
		"messages": [{
			"id": "wamid.1", "from": "15551234567", "timestamp": "1755691200",
			"type": "text", "text": {"body": "hello there"}
		}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Empty(t, result.Skipped)

	event := result.Events[0]
	assert.Equal(t, "wamid.1", event.MessageID)
	assert.Equal(t, "phone-1:15551234567", event.ConversationID)
	assert.Equal(t, models.ConversationIndividual, event.ConversationType)
	assert.Equal(t, models.DirectionInbound, event.Direction)
	assert.Equal(t, models.MessageText, event.Type)
	assert.Equal(t, "hello there", event.TextBody)
	assert.Equal(t, "15551234567", event.SenderID)
	assert.Equal(t, "Alice", event.SenderName)
	assert.Equal(t, time.Unix(1755691200, 0).UTC(), event.Timestamp)
	assert.Nil(t, event.Media)
}

func TestParseWebhookPayloadGroupMessage(t *testing.T) {
	body := envelopeWith(`{
		"metadata": {"phone_number_id": "phone-1"},
		"messages": [{
			"id": "wamid.g1", "from": "15551234567", "group_id": "group-42",
			"type": "text", "text": {"body": "hi all"}
		}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "group-42", result.Events[0].ConversationID)
	assert.Equal(t, models.ConversationGroup, result.Events[0].ConversationType)
}

func TestParseWebhookPayloadDocumentMessage(t *testing.T) {
	body := envelopeWith(`{
		"metadata": {"phone_number_id": "phone-1"},
		"messages": [{
			"id": "wamid.d1", "from": "15551234567", "type": "document",
			"document": {
				"id": "media-9", "mime_type": "application/pdf",
				"filename": "invoice.pdf", "caption": "this month", "file_size": 52341
			},
			"context": {"id": "wamid.earlier"}
		}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	event := result.Events[0]
	assert.Equal(t, models.MessageMedia, event.Type)
	assert.Equal(t, "this month", event.TextBody)
	assert.Equal(t, "wamid.earlier", event.ReplyToSourceID)
	require.NotNil(t, event.Media)
	assert.Equal(t, "media-9", event.Media.ID)
	assert.Equal(t, "application/pdf", event.Media.MimeType)
	assert.Equal(t, int64(52341), event.Media.FileSize)
}

func TestParseWebhookPayloadStatusReceipt(t *testing.T) {
	body := envelopeWith(`{
		"metadata": {"phone_number_id": "phone-1"},
		"statuses": [{
			"id": "wamid.out1", "status": "delivered",
			"timestamp": "1755691260", "recipient_id": "15551234567"
		}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)

	event := result.Events[0]
	assert.Equal(t, models.DirectionOutbound, event.Direction)
	assert.Equal(t, models.MessageStatusReceipt, event.Type)
	assert.Equal(t, "delivered", event.Status)
	assert.Equal(t, "phone-1:15551234567", event.ConversationID)
	assert.Equal(t, "15551234567", event.SenderID)
}

func TestParseWebhookPayloadUnwrappedShape(t *testing.T) {
	body := []byte(`{
		"metadata": {"phone_number_id": "phone-1"},
		"messages": [{
			"id": "wamid.u1", "from": "15551234567",
			"type": "text", "text": {"body": "relayed"}
		}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "wamid.u1", result.Events[0].MessageID)
}

func TestParseWebhookPayloadBatchSurvivesOneBadMessage(t *testing.T) {
	body := envelopeWith(`{
		"metadata": {"phone_number_id": "phone-1"},
		"messages": [
			{"id": "wamid.ok1", "from": "15551234567", "type": "text", "text": {"body": "first"}},
			{"id": "wamid.bad", "from": "15551234567", "type": "text"},
			{"id": "wamid.ok2", "from": "15551234567", "type": "text", "text": {"body": "third"}}
		]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	assert.Len(t, result.Events, 2)
	assert.Len(t, result.Skipped, 1)
	assert.Equal(t, "wamid.ok1", result.Events[0].MessageID)
	assert.Equal(t, "wamid.ok2", result.Events[1].MessageID)
}

func TestParseWebhookPayloadUnknownTypePersistedAsUnknown(t *testing.T) {
	body := envelopeWith(`{
		"metadata": {"phone_number_id": "phone-1"},
		"messages": [{"id": "wamid.r1", "from": "15551234567", "type": "reaction"}]
	}`)

	result, err := ParseWebhookPayload(body, testReceivedAt)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, models.MessageUnknown, result.Events[0].Type)
	assert.Equal(t, "reaction", result.Events[0].SourceType)
}

func TestParseWebhookPayloadRequestLevelFailures(t *testing.T) {
	_, err := ParseWebhookPayload([]byte("not json"), testReceivedAt)
	assert.Error(t, err)

	_, err = ParseWebhookPayload([]byte(`{"object": "something_else", "entry": []}`), testReceivedAt)
	assert.Error(t, err)
}

func TestParseWebhookPayloadEmptyEnvelope(t *testing.T) {
	result, err := ParseWebhookPayload([]byte(`{"object": "whatsapp_business_account", "entry": []}`), testReceivedAt)
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.Empty(t, result.Skipped)
}

func TestParseSourceTimestampFallback(t *testing.T) {
	assert.Equal(t, testReceivedAt, parseSourceTimestamp("", testReceivedAt))
	assert.Equal(t, testReceivedAt, parseSourceTimestamp("not-a-number", testReceivedAt))
	assert.Equal(t, time.Unix(1755691200, 0).UTC(), parseSourceTimestamp("1755691200", testReceivedAt))
}

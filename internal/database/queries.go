package database

import (
	"context"
	"fmt"

	"waingest/internal/models"
)

// Read-side queries backing the admin surface.

func (d *Database) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	query := `
		SELECT id, type, business_phone_id, last_activity_at, created_at
		FROM conversations
		ORDER BY last_activity_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := d.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var typ, encID string
		if err := rows.Scan(&encID, &typ, &c.BusinessPhoneID, &c.LastActivityAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.ID, err = d.encryptor.DecryptIfEnabled(encID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt conversation ID: %w", err)
		}
		c.Type = models.ConversationType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Database) ListConversationMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	encConvID, err := d.encryptor.EncryptForLookupIfEnabled(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	query := `
		SELECT id, source_id, conversation_id, participant_id, direction,
		       message_type, text_body, reply_to_source_id, sent_at, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC
		LIMIT ? OFFSET ?
	`

	rows, err := d.db.QueryContext(ctx, query, encConvID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := d.scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (d *Database) scanMessage(scan func(dest ...any) error) (*models.Message, error) {
	m := &models.Message{}
	var encSourceID, encConvID, encParticipantID, direction, msgType, encBody string
	if err := scan(&m.ID, &encSourceID, &encConvID, &encParticipantID,
		&direction, &msgType, &encBody, &m.ReplyToSourceID, &m.SentAt, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	var err error
	if m.SourceID, err = d.encryptor.DecryptIfEnabled(encSourceID); err != nil {
		return nil, fmt.Errorf("failed to decrypt source ID: %w", err)
	}
	if m.ConversationID, err = d.encryptor.DecryptIfEnabled(encConvID); err != nil {
		return nil, fmt.Errorf("failed to decrypt conversation ID: %w", err)
	}
	if m.ParticipantID, err = d.encryptor.DecryptIfEnabled(encParticipantID); err != nil {
		return nil, fmt.Errorf("failed to decrypt participant ID: %w", err)
	}
	if m.TextBody, err = d.encryptor.DecryptIfEnabled(encBody); err != nil {
		return nil, fmt.Errorf("failed to decrypt text body: %w", err)
	}
	m.Direction = models.MessageDirection(direction)
	m.Type = models.MessageType(msgType)
	return m, nil
}

func (d *Database) ListMediaByStatus(ctx context.Context, status models.ExtractionStatus, limit, offset int) ([]models.MediaReference, error) {
	query := `
		SELECT id, message_id, provider_media_id, mime_type, declared_bytes,
		       filename, storage_key, status, error_class, created_at, updated_at
		FROM media_references
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := d.db.QueryContext(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list media references: %w", err)
	}
	defer rows.Close()

	var out []models.MediaReference
	for rows.Next() {
		var ref models.MediaReference
		var st string
		if err := rows.Scan(&ref.ID, &ref.MessageID, &ref.ProviderMediaID, &ref.MimeType,
			&ref.DeclaredBytes, &ref.Filename, &ref.StorageKey, &st,
			&ref.ErrorClass, &ref.CreatedAt, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media reference: %w", err)
		}
		ref.Status = models.ExtractionStatus(st)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// SearchMessages runs a substring match over message bodies and
// extracted document text. Plain LIKE, no full-text engine; with field
// encryption enabled only unencrypted deployments get useful results.
func (d *Database) SearchMessages(ctx context.Context, term string, limit int) ([]models.Message, error) {
	query := `
		SELECT DISTINCT m.id, m.source_id, m.conversation_id, m.participant_id,
		       m.direction, m.message_type, m.text_body, m.reply_to_source_id,
		       m.sent_at, m.created_at
		FROM messages m
		LEFT JOIN media_references mr ON mr.message_id = m.id
		LEFT JOIN extraction_results er ON er.media_ref_id = mr.id
		WHERE m.text_body LIKE '%' || ? || '%'
		   OR er.extracted_text LIKE '%' || ? || '%'
		ORDER BY m.sent_at DESC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, term, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := d.scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// CountMessages returns the total number of stored messages. Used by
// tests and the admin stats endpoint.
func (d *Database) CountMessages(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"waingest/internal/models"
)

// UpsertConversation creates the conversation on first contact and
// bumps last_activity_at on every later message. The bump never moves
// the timestamp backwards, so out-of-order redeliveries are harmless.
func (t *Tx) UpsertConversation(ctx context.Context, conv *models.Conversation) error {
	encID, err := t.enc.EncryptForLookupIfEnabled(conv.ID)
	if err != nil {
		return fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	query := `
		INSERT INTO conversations (id, type, business_phone_id, last_activity_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_at = MAX(last_activity_at, excluded.last_activity_at)
	`

	_, err = t.tx.ExecContext(ctx, query,
		encID, string(conv.Type), conv.BusinessPhoneID,
		conv.LastActivityAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// UpsertParticipant upserts by phone identifier. Display name updates
// are best effort, latest non-empty wins.
func (t *Tx) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	encID, err := t.enc.EncryptForLookupIfEnabled(p.ID)
	if err != nil {
		return fmt.Errorf("failed to encrypt participant ID: %w", err)
	}

	encName, err := t.enc.EncryptIfEnabled(p.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to encrypt display name: %w", err)
	}

	query := `
		INSERT INTO participants (id, display_name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE display_name END,
			updated_at   = excluded.updated_at
	`

	_, err = t.tx.ExecContext(ctx, query, encID, encName, p.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// InsertMessage inserts a message, idempotent on (conversation, source
// message id). Returns the row id and whether a new row was created.
// A retried webhook carrying the same wamid lands on the existing row.
func (t *Tx) InsertMessage(ctx context.Context, m *models.Message) (int64, bool, error) {
	encConvID, err := t.enc.EncryptForLookupIfEnabled(m.ConversationID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}
	encSourceID, err := t.enc.EncryptForLookupIfEnabled(m.SourceID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt source ID: %w", err)
	}
	encParticipantID, err := t.enc.EncryptForLookupIfEnabled(m.ParticipantID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt participant ID: %w", err)
	}
	encBody, err := t.enc.EncryptIfEnabled(m.TextBody)
	if err != nil {
		return 0, false, fmt.Errorf("failed to encrypt text body: %w", err)
	}

	query := `
		INSERT INTO messages (
			source_id, conversation_id, participant_id, direction,
			message_type, text_body, reply_to_source_id, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := t.tx.ExecContext(ctx, query,
		encSourceID, encConvID, encParticipantID, string(m.Direction),
		string(m.Type), encBody, m.ReplyToSourceID,
		m.SentAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			id, lookupErr := t.lookupMessageID(ctx, encConvID, encSourceID)
			if lookupErr != nil {
				return 0, false, lookupErr
			}
			return id, false, nil
		}
		return 0, false, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get message row id: %w", err)
	}
	return id, true, nil
}

func (t *Tx) lookupMessageID(ctx context.Context, encConvID, encSourceID string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM messages WHERE conversation_id = ? AND source_id = ?`,
		encConvID, encSourceID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("duplicate message row not found")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up message: %w", err)
	}
	return id, nil
}

// InsertMediaReference creates the extraction stub for a media-bearing
// message. One reference per message; a duplicate insert for the same
// message is ignored.
func (t *Tx) InsertMediaReference(ctx context.Context, ref *models.MediaReference) (bool, error) {
	query := `
		INSERT INTO media_references (
			id, message_id, provider_media_id, mime_type,
			declared_bytes, filename, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		ref.ID, ref.MessageID, ref.ProviderMediaID, ref.MimeType,
		ref.DeclaredBytes, ref.Filename, string(ref.Status))
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert media reference: %w", err)
	}
	return true, nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"waingest/internal/models"
)

// GetMediaReference fetches a media reference by id. Returns nil when
// the id is unknown.
func (d *Database) GetMediaReference(ctx context.Context, id string) (*models.MediaReference, error) {
	query := `
		SELECT id, message_id, provider_media_id, mime_type, declared_bytes,
		       filename, storage_key, status, error_class, created_at, updated_at
		FROM media_references
		WHERE id = ?
	`

	ref := &models.MediaReference{}
	var status string
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&ref.ID, &ref.MessageID, &ref.ProviderMediaID, &ref.MimeType,
		&ref.DeclaredBytes, &ref.Filename, &ref.StorageKey, &status,
		&ref.ErrorClass, &ref.CreatedAt, &ref.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media reference: %w", err)
	}
	ref.Status = models.ExtractionStatus(status)
	return ref, nil
}

// ClaimMediaForExtraction moves a reference from pending (or an
// abandoned running state) to running. Returns false when the
// reference is already past that point; status never moves backwards.
func (d *Database) ClaimMediaForExtraction(ctx context.Context, id string) (bool, error) {
	var claimed bool
	err := retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, `
			UPDATE media_references
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status IN (?, ?)
		`, string(models.ExtractionRunning), id,
			string(models.ExtractionPending), string(models.ExtractionRunning))
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		claimed = rows > 0
		return nil
	}, "claim media for extraction")
	if err != nil {
		return false, fmt.Errorf("failed to claim media reference: %w", err)
	}
	return claimed, nil
}

// SetMediaStorageKey records where the fetched bytes were stored.
func (d *Database) SetMediaStorageKey(ctx context.Context, id, storageKey string) error {
	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			UPDATE media_references
			SET storage_key = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, storageKey, id)
		return err
	}, "set media storage key")
	if err != nil {
		return fmt.Errorf("failed to set storage key: %w", err)
	}
	return nil
}

// markTerminal applies a forward-only terminal status transition.
func (d *Database) markTerminal(ctx context.Context, id string, status models.ExtractionStatus, errorClass string) error {
	err := retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			UPDATE media_references
			SET status = ?, error_class = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status IN (?, ?)
		`, string(status), errorClass, id,
			string(models.ExtractionPending), string(models.ExtractionRunning))
		return err
	}, "mark media terminal status")
	if err != nil {
		return fmt.Errorf("failed to mark media %s: %w", status, err)
	}
	return nil
}

func (d *Database) MarkMediaDone(ctx context.Context, id string) error {
	return d.markTerminal(ctx, id, models.ExtractionDone, "")
}

func (d *Database) MarkMediaFailed(ctx context.Context, id, errorClass string) error {
	return d.markTerminal(ctx, id, models.ExtractionFailed, errorClass)
}

func (d *Database) MarkMediaSkippedTooLarge(ctx context.Context, id string) error {
	return d.markTerminal(ctx, id, models.ExtractionSkippedSize, "")
}

// SaveExtractionResult persists the result for a media reference.
// Keyed uniquely by media id: a job picked up twice writes at most one
// row. With overwrite set (explicit re-run) the existing row is
// replaced; otherwise a second write is a no-op.
func (d *Database) SaveExtractionResult(ctx context.Context, res *models.ExtractionResult, overwrite bool) (bool, error) {
	fieldsJSON, err := json.Marshal(res.Fields)
	if err != nil {
		return false, fmt.Errorf("failed to marshal structured fields: %w", err)
	}

	encText, err := d.encryptor.EncryptIfEnabled(res.Text)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt extracted text: %w", err)
	}

	conflict := "DO NOTHING"
	if overwrite {
		conflict = `DO UPDATE SET
			extracted_text = excluded.extracted_text,
			fields_json    = excluded.fields_json,
			sha256         = excluded.sha256,
			created_at     = CURRENT_TIMESTAMP`
	}

	query := fmt.Sprintf(`
		INSERT INTO extraction_results (media_ref_id, extracted_text, fields_json, sha256)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(media_ref_id) %s
	`, conflict)

	var written bool
	err = retryableDBOperation(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query, res.MediaRefID, encText, string(fieldsJSON), res.SHA256)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		written = rows > 0
		return nil
	}, "save extraction result")
	if err != nil {
		return false, fmt.Errorf("failed to save extraction result: %w", err)
	}
	return written, nil
}

// GetExtractionResult returns the result for a media reference, or nil.
func (d *Database) GetExtractionResult(ctx context.Context, mediaRefID string) (*models.ExtractionResult, error) {
	query := `
		SELECT id, media_ref_id, extracted_text, fields_json, sha256, created_at
		FROM extraction_results
		WHERE media_ref_id = ?
	`

	res := &models.ExtractionResult{}
	var encText, fieldsJSON string
	err := d.db.QueryRowContext(ctx, query, mediaRefID).Scan(
		&res.ID, &res.MediaRefID, &encText, &fieldsJSON, &res.SHA256, &res.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction result: %w", err)
	}

	res.Text, err = d.encryptor.DecryptIfEnabled(encText)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt extracted text: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &res.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured fields: %w", err)
	}
	return res, nil
}

// CountExtractionResults reports how many results exist for a media
// reference. The unique constraint keeps this at zero or one.
func (d *Database) CountExtractionResults(ctx context.Context, mediaRefID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM extraction_results WHERE media_ref_id = ?`, mediaRefID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count extraction results: %w", err)
	}
	return count, nil
}

// TryMarkEcho performs the debug-echo rate-limit check and update as a
// single atomic upsert. Returns true when this caller won the window;
// concurrent messages from the same sender cannot both win.
func (d *Database) TryMarkEcho(ctx context.Context, senderID string, now time.Time, window time.Duration) (bool, error) {
	encSender, err := d.encryptor.EncryptForLookupIfEnabled(senderID)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender ID: %w", err)
	}

	query := `
		INSERT INTO echo_marks (sender_id, echoed_at)
		VALUES (?, ?)
		ON CONFLICT(sender_id) DO UPDATE SET echoed_at = excluded.echoed_at
		WHERE (julianday(excluded.echoed_at) - julianday(echo_marks.echoed_at)) * 86400.0 >= ?
	`

	result, err := d.db.ExecContext(ctx, query,
		encSender, now.UTC().Format(timeLayout), window.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to mark echo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

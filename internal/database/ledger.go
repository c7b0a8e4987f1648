package database

import (
	"context"
	"fmt"
	"time"
)

// RegisterResult is the outcome of an idempotency registration.
type RegisterResult int

const (
	RegisterAccepted RegisterResult = iota
	RegisterDuplicate
)

// RegisterEvent inserts the delivery fingerprint into the ledger.
// A unique-constraint violation means the same body was already
// delivered and maps to RegisterDuplicate, not an error. The insert is
// atomic with respect to concurrent deliveries of the same body.
func (t *Tx) RegisterEvent(ctx context.Context, fingerprint string, signatureValid bool, receivedAt time.Time) (RegisterResult, error) {
	query := `
		INSERT INTO inbound_events (fingerprint, source, signature_valid, received_at)
		VALUES (?, 'whatsapp', ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query, fingerprint, signatureValid, receivedAt.UTC().Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return RegisterDuplicate, nil
		}
		return 0, fmt.Errorf("failed to register inbound event: %w", err)
	}

	return RegisterAccepted, nil
}

// HasEvent reports whether a fingerprint is already present in the
// ledger. Used outside the ingest transaction, e.g. by tests and the
// admin surface.
func (d *Database) HasEvent(ctx context.Context, fingerprint string) (bool, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM inbound_events WHERE fingerprint = ?`, fingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query inbound event: %w", err)
	}
	return count > 0, nil
}

// PruneInboundEvents removes ledger entries older than the retention
// window. Runs off the hot path; the window must exceed the sender's
// retry horizon so a retried delivery within it still maps to Duplicate.
func (d *Database) PruneInboundEvents(ctx context.Context, retentionDays int) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		DELETE FROM inbound_events
		WHERE received_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to prune inbound events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// PruneEchoMarks drops echo rate-limit rows older than the retention
// window. Any realistic rate window is far shorter, so this is pure
// housekeeping.
func (d *Database) PruneEchoMarks(ctx context.Context, retentionDays int) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		DELETE FROM echo_marks
		WHERE echoed_at < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to prune echo marks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

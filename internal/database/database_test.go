package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waingest/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedMessage inserts the conversation, participant and one message so
// media and result rows have something to attach to.
func seedMessage(t *testing.T, db *Database, convID, participantID, sourceID string, sentAt time.Time) int64 {
	t.Helper()

	var msgID int64
	err := db.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.UpsertConversation(context.Background(), &models.Conversation{
			ID:              convID,
			Type:            models.ConversationIndividual,
			BusinessPhoneID: "15550001111",
			LastActivityAt:  sentAt,
		}); err != nil {
			return err
		}
		if err := tx.UpsertParticipant(context.Background(), &models.Participant{
			ID:        participantID,
			UpdatedAt: sentAt,
		}); err != nil {
			return err
		}
		id, _, err := tx.InsertMessage(context.Background(), &models.Message{
			SourceID:       sourceID,
			ConversationID: convID,
			ParticipantID:  participantID,
			Direction:      models.DirectionInbound,
			Type:           models.MessageText,
			TextBody:       "hello",
			SentAt:         sentAt,
		})
		msgID = id
		return err
	})
	require.NoError(t, err)
	return msgID
}

func seedMediaReference(t *testing.T, db *Database, msgID int64) string {
	t.Helper()

	refID := uuid.NewString()
	err := db.WithTx(context.Background(), func(tx *Tx) error {
		created, err := tx.InsertMediaReference(context.Background(), &models.MediaReference{
			ID:              refID,
			MessageID:       msgID,
			ProviderMediaID: "media-123",
			MimeType:        "application/pdf",
			Filename:        "invoice.pdf",
			Status:          models.ExtractionPending,
		})
		require.True(t, created)
		return err
	})
	require.NoError(t, err)
	return refID
}

func TestNewDatabaseInvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../outside/../../etc/waingest.db")
	assert.Error(t, err)
}

func TestRegisterEventIdempotency(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	var result RegisterResult
	err := db.WithTx(ctx, func(tx *Tx) error {
		var err error
		result, err = tx.RegisterEvent(ctx, "fp-abc", true, now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, RegisterAccepted, result)

	err = db.WithTx(ctx, func(tx *Tx) error {
		var err error
		result, err = tx.RegisterEvent(ctx, "fp-abc", true, now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, RegisterDuplicate, result)

	exists, err := db.HasEvent(ctx, "fp-abc")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.HasEvent(ctx, "fp-other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRegisterEventRollbackDiscardsFingerprint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		result, err := tx.RegisterEvent(ctx, "fp-rollback", true, time.Now())
		require.NoError(t, err)
		require.Equal(t, RegisterAccepted, result)
		return assert.AnError
	})
	require.Error(t, err)

	exists, err := db.HasEvent(ctx, "fp-rollback")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInsertMessageDeduplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sentAt := time.Now().Add(-time.Minute)

	firstID := seedMessage(t, db, "15550001111:15551234567", "15551234567", "wamid.1", sentAt)

	var secondID int64
	var created bool
	err := db.WithTx(ctx, func(tx *Tx) error {
		var err error
		secondID, created, err = tx.InsertMessage(ctx, &models.Message{
			SourceID:       "wamid.1",
			ConversationID: "15550001111:15551234567",
			ParticipantID:  "15551234567",
			Direction:      models.DirectionInbound,
			Type:           models.MessageText,
			TextBody:       "hello again",
			SentAt:         sentAt,
		})
		return err
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, secondID)

	count, err := db.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsertMessageSameSourceIDDifferentConversations(t *testing.T) {
	db := setupTestDB(t)
	sentAt := time.Now()

	idA := seedMessage(t, db, "15550001111:15551234567", "15551234567", "wamid.shared", sentAt)
	idB := seedMessage(t, db, "group-42", "15551234567", "wamid.shared", sentAt)
	assert.NotEqual(t, idA, idB)
}

func TestUpsertConversationActivityNeverMovesBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	later := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-2 * time.Hour)

	upsert := func(ts time.Time) {
		err := db.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertConversation(ctx, &models.Conversation{
				ID:              "conv-1",
				Type:            models.ConversationIndividual,
				BusinessPhoneID: "15550001111",
				LastActivityAt:  ts,
			})
		})
		require.NoError(t, err)
	}

	upsert(later)
	upsert(earlier)

	conversations, err := db.ListConversations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, later, conversations[0].LastActivityAt.UTC())
}

func TestUpsertParticipantKeepsNameOnEmptyUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	upsert := func(name string) {
		err := db.WithTx(ctx, func(tx *Tx) error {
			return tx.UpsertParticipant(ctx, &models.Participant{
				ID:          "15551234567",
				DisplayName: name,
				UpdatedAt:   time.Now(),
			})
		})
		require.NoError(t, err)
	}

	upsert("Alice")
	upsert("")

	var name string
	err := db.db.QueryRow(`SELECT display_name FROM participants WHERE id = ?`, "15551234567").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestMediaStatusForwardOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msgID := seedMessage(t, db, "conv-media", "15551234567", "wamid.m1", time.Now())
	refID := seedMediaReference(t, db, msgID)

	claimed, err := db.ClaimMediaForExtraction(ctx, refID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A crashed worker leaves the row in running; the redelivered job
	// must be able to claim it again.
	claimed, err = db.ClaimMediaForExtraction(ctx, refID)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, db.MarkMediaDone(ctx, refID))

	claimed, err = db.ClaimMediaForExtraction(ctx, refID)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Terminal status does not move, even on a late failure report.
	require.NoError(t, db.MarkMediaFailed(ctx, refID, "extraction_failed"))

	ref, err := db.GetMediaReference(ctx, refID)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, models.ExtractionDone, ref.Status)
	assert.Empty(t, ref.ErrorClass)
}

func TestMarkMediaSkippedTooLarge(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msgID := seedMessage(t, db, "conv-large", "15551234567", "wamid.m2", time.Now())
	refID := seedMediaReference(t, db, msgID)

	require.NoError(t, db.MarkMediaSkippedTooLarge(ctx, refID))

	ref, err := db.GetMediaReference(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionSkippedSize, ref.Status)
}

func TestGetMediaReferenceUnknown(t *testing.T) {
	db := setupTestDB(t)

	ref, err := db.GetMediaReference(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestSaveExtractionResultSingleRow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msgID := seedMessage(t, db, "conv-res", "15551234567", "wamid.m3", time.Now())
	refID := seedMediaReference(t, db, msgID)

	written, err := db.SaveExtractionResult(ctx, &models.ExtractionResult{
		MediaRefID: refID,
		Text:       "Invoice Number: INV-001",
		Fields:     map[string]string{"invoice_number": "INV-001"},
		SHA256:     "abc123",
	}, false)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = db.SaveExtractionResult(ctx, &models.ExtractionResult{
		MediaRefID: refID,
		Text:       "different text",
		SHA256:     "def456",
	}, false)
	require.NoError(t, err)
	assert.False(t, written)

	count, err := db.CountExtractionResults(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	res, err := db.GetExtractionResult(ctx, refID)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Invoice Number: INV-001", res.Text)
	assert.Equal(t, "INV-001", res.Fields["invoice_number"])
}

func TestSaveExtractionResultOverwrite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msgID := seedMessage(t, db, "conv-res2", "15551234567", "wamid.m4", time.Now())
	refID := seedMediaReference(t, db, msgID)

	_, err := db.SaveExtractionResult(ctx, &models.ExtractionResult{
		MediaRefID: refID,
		Text:       "first pass",
	}, false)
	require.NoError(t, err)

	written, err := db.SaveExtractionResult(ctx, &models.ExtractionResult{
		MediaRefID: refID,
		Text:       "second pass",
	}, true)
	require.NoError(t, err)
	assert.True(t, written)

	res, err := db.GetExtractionResult(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, "second pass", res.Text)

	count, err := db.CountExtractionResults(ctx, refID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTryMarkEchoWindow(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second

	won, err := db.TryMarkEcho(ctx, "15551234567", now, window)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = db.TryMarkEcho(ctx, "15551234567", now.Add(10*time.Second), window)
	require.NoError(t, err)
	assert.False(t, won)

	// A different sender has its own window.
	won, err = db.TryMarkEcho(ctx, "15559876543", now.Add(10*time.Second), window)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = db.TryMarkEcho(ctx, "15551234567", now.Add(window), window)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestPruneInboundEvents(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.RegisterEvent(ctx, "fp-old", true, time.Now().AddDate(0, 0, -40)); err != nil {
			return err
		}
		_, err := tx.RegisterEvent(ctx, "fp-recent", true, time.Now())
		return err
	})
	require.NoError(t, err)

	pruned, err := db.PruneInboundEvents(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	exists, err := db.HasEvent(ctx, "fp-old")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = db.HasEvent(ctx, "fp-recent")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPruneEchoMarks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.TryMarkEcho(ctx, "15551234567", time.Now().AddDate(0, 0, -40), time.Minute)
	require.NoError(t, err)
	_, err = db.TryMarkEcho(ctx, "15559876543", time.Now(), time.Minute)
	require.NoError(t, err)

	pruned, err := db.PruneEchoMarks(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestTempDirDatabaseSurvivesReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "reopen.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	seedMessage(t, db, "conv-persist", "15551234567", "wamid.p1", time.Now())
	require.NoError(t, db.Close())

	db, err = New(dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	count, err := db.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

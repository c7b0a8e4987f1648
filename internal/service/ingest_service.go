package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"waingest/internal/database"
	"waingest/internal/errors"
	"waingest/internal/metrics"
	"waingest/internal/models"
	"waingest/internal/privacy"
	"waingest/internal/queue"
)

// IngestOutcome is the request-level result of processing one webhook
// delivery.
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestRejected  IngestOutcome = "rejected"
)

// IngestResult reports what one delivery produced. SkippedCount is the
// number of per-message malformed entries that were dropped while the
// rest of the batch proceeded.
type IngestResult struct {
	Outcome      IngestOutcome
	MessageCount int
	SkippedCount int
	RejectReason errors.ErrorCode
}

// SignatureVerifier checks a raw request body against its signature
// header. Implementations must work on the raw bytes only.
type SignatureVerifier interface {
	Verify(rawBody []byte, signatureHeader string) error
}

// EchoEvaluator decides and fires the debug echo after commit.
type EchoEvaluator interface {
	Evaluate(ctx context.Context, event NormalizedEvent)
}

// IngestService orchestrates verification, deduplication,
// normalization and the transactional write for inbound webhooks.
type IngestService struct {
	db        *database.Database
	verifier  SignatureVerifier
	publisher queue.Publisher
	echo      EchoEvaluator
	logger    *logrus.Logger
}

func NewIngestService(db *database.Database, verifier SignatureVerifier, publisher queue.Publisher, echo EchoEvaluator, logger *logrus.Logger) *IngestService {
	return &IngestService{
		db:        db,
		verifier:  verifier,
		publisher: publisher,
		echo:      echo,
		logger:    logger,
	}
}

// Ingest processes one raw webhook delivery. Side effects are strictly
// ordered: nothing is enqueued or echoed before the transaction
// commits. A store failure comes back as a retryable persistence
// error; the sender's redelivery is safe behind the fingerprint gate.
func (s *IngestService) Ingest(ctx context.Context, rawBody []byte, signatureHeader string) (*IngestResult, error) {
	receivedAt := time.Now().UTC()

	if err := s.verifier.Verify(rawBody, signatureHeader); err != nil {
		metrics.IncrementCounter(metrics.MetricWebhookRejected, map[string]string{"reason": "signature"}, "Rejected webhook deliveries")
		return &IngestResult{Outcome: IngestRejected, RejectReason: errors.ErrCodeSignatureInvalid}, err
	}

	sum := sha256.Sum256(rawBody)
	fingerprint := hex.EncodeToString(sum[:])
	log := s.logger.WithField(LogFieldFingerprint, privacy.FingerprintPrefix(fingerprint))

	result := &IngestResult{Outcome: IngestAccepted}
	var parseFailure error
	var jobs []queue.ExtractionJob
	var echoCandidates []NormalizedEvent

	txErr := s.db.WithTx(ctx, func(tx *database.Tx) error {
		reg, err := tx.RegisterEvent(ctx, fingerprint, true, receivedAt)
		if err != nil {
			return err
		}
		if reg == database.RegisterDuplicate {
			result.Outcome = IngestDuplicate
			return nil
		}

		parsed, err := ParseWebhookPayload(rawBody, receivedAt)
		if err != nil {
			// The fingerprint registration still commits so a
			// redelivered broken payload short-circuits as duplicate.
			result.Outcome = IngestRejected
			result.RejectReason = errors.ErrCodeMalformedPayload
			parseFailure = err
			return nil
		}
		result.SkippedCount = len(parsed.Skipped)
		for _, skipErr := range parsed.Skipped {
			errors.LogWarn(s.logger, skipErr, "Skipping malformed message in batch")
		}

		for i := range parsed.Events {
			event := &parsed.Events[i]
			mediaJob, err := s.persistEvent(ctx, tx, event)
			if err != nil {
				return err
			}
			result.MessageCount++
			if mediaJob != nil {
				jobs = append(jobs, *mediaJob)
			}
			if event.Direction == models.DirectionInbound && event.Type == models.MessageText {
				echoCandidates = append(echoCandidates, *event)
			}
		}
		return nil
	})
	if txErr != nil {
		metrics.IncrementCounter(metrics.MetricWebhookRejected, map[string]string{"reason": "persistence"}, "Rejected webhook deliveries")
		return &IngestResult{Outcome: IngestRejected, RejectReason: errors.ErrCodePersistence},
			errors.WrapRetryable(txErr, errors.ErrCodePersistence, "failed to persist webhook delivery")
	}

	switch result.Outcome {
	case IngestDuplicate:
		metrics.IncrementCounter(metrics.MetricEventsDuplicate, nil, "Duplicate webhook deliveries")
		log.Info("Duplicate webhook delivery ignored")
		return result, nil
	case IngestRejected:
		metrics.IncrementCounter(metrics.MetricWebhookRejected, map[string]string{"reason": "malformed"}, "Rejected webhook deliveries")
		return result, parseFailure
	}

	metrics.IncrementCounter(metrics.MetricWebhookReceived, nil, "Accepted webhook deliveries")
	metrics.AddToCounter(metrics.MetricMessagesIngested, float64(result.MessageCount), nil, "Messages persisted from webhooks")
	if result.SkippedCount > 0 {
		metrics.AddToCounter(metrics.MetricMessagesSkipped, float64(result.SkippedCount), nil, "Malformed messages skipped")
	}

	// Post-commit hooks. Failures here never unwind the committed
	// ingestion; the worker path has its own recovery.
	for _, job := range jobs {
		if err := s.publisher.PublishExtractionJob(ctx, job); err != nil {
			errors.LogError(s.logger, errors.Wrap(err, errors.ErrCodeQueue, "failed to enqueue extraction job"),
				"Extraction job not enqueued", logrus.Fields{LogFieldMediaRefID: job.MediaRefID})
		}
	}
	if s.echo != nil {
		for i := range echoCandidates {
			s.echo.Evaluate(ctx, echoCandidates[i])
		}
	}

	log.WithFields(logrus.Fields{
		LogFieldCount:   result.MessageCount,
		"skipped_count": result.SkippedCount,
	}).Info("Webhook delivery ingested")
	return result, nil
}

// persistEvent writes one normalized event inside the ingestion
// transaction and returns the extraction job for a newly created
// media reference, if any.
func (s *IngestService) persistEvent(ctx context.Context, tx *database.Tx, event *NormalizedEvent) (*queue.ExtractionJob, error) {
	conv := &models.Conversation{
		ID:              event.ConversationID,
		Type:            event.ConversationType,
		BusinessPhoneID: event.BusinessPhoneID,
		LastActivityAt:  event.Timestamp,
	}
	if err := tx.UpsertConversation(ctx, conv); err != nil {
		return nil, err
	}

	if event.SenderID != "" {
		participant := &models.Participant{
			ID:          event.SenderID,
			DisplayName: event.SenderName,
			UpdatedAt:   event.Timestamp,
		}
		if err := tx.UpsertParticipant(ctx, participant); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		SourceID:        event.MessageID,
		ConversationID:  event.ConversationID,
		ParticipantID:   event.SenderID,
		Direction:       event.Direction,
		Type:            event.Type,
		TextBody:        event.TextBody,
		ReplyToSourceID: event.ReplyToSourceID,
		SentAt:          event.Timestamp,
	}
	messageID, inserted, err := tx.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.logger.WithFields(logrus.Fields{
			LogFieldMessageID:      privacy.MaskMessageID(event.MessageID),
			LogFieldConversationID: privacy.MaskConversationID(event.ConversationID),
		}).Debug("Message already persisted, skipping")
		return nil, nil
	}

	if event.Media == nil {
		return nil, nil
	}

	ref := &models.MediaReference{
		ID:              uuid.NewString(),
		MessageID:       messageID,
		ProviderMediaID: event.Media.ID,
		MimeType:        event.Media.MimeType,
		DeclaredBytes:   event.Media.FileSize,
		Filename:        event.Media.Filename,
		Status:          models.ExtractionPending,
	}
	created, err := tx.InsertMediaReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	return &queue.ExtractionJob{
		MediaRefID:      ref.ID,
		MessageID:       messageID,
		ProviderMediaID: ref.ProviderMediaID,
		MimeType:        ref.MimeType,
		DeclaredBytes:   ref.DeclaredBytes,
		Filename:        ref.Filename,
	}, nil
}

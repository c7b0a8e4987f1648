package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"waingest/internal/database"
	"waingest/internal/errors"
	"waingest/internal/metrics"
	"waingest/internal/models"
	"waingest/internal/queue"
	"waingest/pkg/media"
	"waingest/pkg/whatsapp"
)

// ExtractionWorker consumes document.extract jobs: fetch the media
// bytes, guard the size ceiling, extract text, persist the result.
// Transient failures bubble up to the queue so the broker's delayed
// retry re-delivers; permanent ones mark the reference failed and ack.
type ExtractionWorker struct {
	db        *database.Database
	store     media.Store
	client    whatsapp.Client
	extractor Extractor
	maxBytes  int64
	logger    *logrus.Logger
}

func NewExtractionWorker(db *database.Database, store media.Store, client whatsapp.Client, extractor Extractor, maxBytes int64, logger *logrus.Logger) *ExtractionWorker {
	return &ExtractionWorker{
		db:        db,
		store:     store,
		client:    client,
		extractor: extractor,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// Register binds the worker to the extraction routing key.
func (w *ExtractionWorker) Register(consumer queue.Consumer, routingKey string) {
	consumer.RegisterHandler(routingKey, w.HandleDelivery)
}

func (w *ExtractionWorker) HandleDelivery(ctx context.Context, delivery amqp091.Delivery) error {
	var job queue.ExtractionJob
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		// Undecodable jobs can never succeed; drop without retry.
		errors.LogError(w.logger, errors.Wrap(err, errors.ErrCodeQueue, "undecodable extraction job"),
			"Dropping malformed extraction job")
		return nil
	}
	return w.Process(ctx, job)
}

// Process runs one extraction job to a terminal state. Returning an
// error leaves the reference in running state for a later claim.
func (w *ExtractionWorker) Process(ctx context.Context, job queue.ExtractionJob) error {
	start := time.Now()
	log := w.logger.WithFields(logrus.Fields{
		LogFieldComponent:  "extraction_worker",
		LogFieldMediaRefID: job.MediaRefID,
	})

	claimed, err := w.db.ClaimMediaForExtraction(ctx, job.MediaRefID)
	if err != nil {
		return err
	}
	if !claimed {
		// Already terminal; a redelivered job has nothing to do.
		log.Debug("Media reference already resolved, acking")
		return nil
	}

	metrics.IncrementCounter(metrics.MetricExtractionJobs, nil, "Extraction jobs started")

	if w.maxBytes > 0 && job.DeclaredBytes > w.maxBytes {
		log.WithField(LogFieldFileSize, job.DeclaredBytes).Info("Declared size over ceiling, skipping extraction")
		return w.db.MarkMediaSkippedTooLarge(ctx, job.MediaRefID)
	}

	data, oversize, err := w.fetchBytes(ctx, &job, log)
	if err != nil {
		return err
	}
	if oversize {
		log.WithField(LogFieldFileSize, len(data)).Info("Fetched size over ceiling, skipping extraction")
		return w.db.MarkMediaSkippedTooLarge(ctx, job.MediaRefID)
	}

	text, fields, err := w.extractor.Extract(data, job.MimeType)
	if err != nil {
		metrics.IncrementCounter(metrics.MetricExtractionFailed, nil, "Extraction jobs failed")
		errors.LogError(w.logger, err, "Extraction failed",
			logrus.Fields{LogFieldMediaRefID: job.MediaRefID, LogFieldMediaType: job.MimeType})
		return w.db.MarkMediaFailed(ctx, job.MediaRefID, errorClass(err))
	}

	result := &models.ExtractionResult{
		MediaRefID: job.MediaRefID,
		Text:       text,
		Fields:     fields,
		SHA256:     sha256Hex(data),
	}
	written, err := w.db.SaveExtractionResult(ctx, result, false)
	if err != nil {
		return err
	}
	if err := w.db.MarkMediaDone(ctx, job.MediaRefID); err != nil {
		return err
	}

	metrics.RecordTimer(metrics.MetricExtractionDuration, time.Since(start), nil, "Extraction job duration")
	log.WithFields(logrus.Fields{
		LogFieldDuration: time.Since(start).Milliseconds(),
		LogFieldSize:     len(text),
		"fields_found":   len(fields),
		"result_written": written,
	}).Info("Extraction completed")
	return nil
}

// fetchBytes loads the document content, preferring an already stored
// object so an abandoned job resumes without re-downloading. Fresh
// downloads land in the object store before extraction starts.
func (w *ExtractionWorker) fetchBytes(ctx context.Context, job *queue.ExtractionJob, log *logrus.Entry) ([]byte, bool, error) {
	ref, err := w.db.GetMediaReference(ctx, job.MediaRefID)
	if err != nil {
		return nil, false, err
	}
	if ref == nil {
		return nil, false, errors.New(errors.ErrCodeNotFound, "media reference disappeared")
	}

	if ref.StorageKey != "" {
		if exists, err := w.store.Exists(ctx, ref.StorageKey); err == nil && exists {
			return w.readStored(ctx, ref.StorageKey)
		}
	}

	info, err := w.client.GetMediaInfo(ctx, job.ProviderMediaID)
	if err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeMediaFetch, "failed to resolve media URL")
	}
	if w.maxBytes > 0 && info.FileSize > w.maxBytes {
		return nil, true, nil
	}

	body, _, err := w.client.DownloadMedia(ctx, info.URL)
	if err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeMediaFetch, "failed to download media")
	}
	defer body.Close()

	data, oversize, err := readLimited(body, w.maxBytes)
	if err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeMediaFetch, "failed to read media body")
	}
	if oversize {
		return data, true, nil
	}

	key := media.DocumentKey(sha256Hex(data), extensionFor(job.Filename, job.MimeType))
	if _, _, err := w.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeStorage, "failed to store media")
	}
	if err := w.db.SetMediaStorageKey(ctx, job.MediaRefID, key); err != nil {
		return nil, false, err
	}
	log.WithField(LogFieldStorageKey, key).Debug("Media stored")
	return data, false, nil
}

func (w *ExtractionWorker) readStored(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := w.store.Open(ctx, key)
	if err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeStorage, "failed to open stored media")
	}
	defer r.Close()
	data, oversize, err := readLimited(r, w.maxBytes)
	if err != nil {
		return nil, false, errors.WrapRetryable(err, errors.ErrCodeStorage, "failed to read stored media")
	}
	return data, oversize, nil
}

// readLimited reads at most maxBytes+1 so an oversize stream is
// detected without buffering it whole.
func readLimited(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	return data, int64(len(data)) > maxBytes, nil
}

func extensionFor(filename, mimeType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	switch {
	case strings.HasPrefix(mimeType, "application/pdf"):
		return "pdf"
	case strings.HasPrefix(mimeType, "image/"):
		return strings.TrimPrefix(mimeType, "image/")
	}
	return "bin"
}

func errorClass(err error) string {
	return strings.ToLower(string(errors.GetCode(err)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

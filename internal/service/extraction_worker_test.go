package service

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waingest/internal/database"
	"waingest/internal/models"
	"waingest/internal/queue"
	"waingest/pkg/media"
	"waingest/pkg/whatsapp"
)

func newTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// seedMediaMessage creates the full chain up to a pending media
// reference and returns its id.
func seedMediaMessage(t *testing.T, db *database.Database, refID string) {
	t.Helper()
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.UpsertConversation(ctx, &models.Conversation{
			ID: "conv-w", Type: models.ConversationIndividual,
			BusinessPhoneID: "phone-1", LastActivityAt: time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.UpsertParticipant(ctx, &models.Participant{ID: "15551234567", UpdatedAt: time.Now()}); err != nil {
			return err
		}
		msgID, _, err := tx.InsertMessage(ctx, &models.Message{
			SourceID: "wamid." + refID, ConversationID: "conv-w", ParticipantID: "15551234567",
			Direction: models.DirectionInbound, Type: models.MessageMedia, SentAt: time.Now(),
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertMediaReference(ctx, &models.MediaReference{
			ID: refID, MessageID: msgID, ProviderMediaID: "provider-" + refID,
			MimeType: "application/pdf", Filename: "doc.pdf",
			Status: models.ExtractionPending,
		})
		return err
	})
	require.NoError(t, err)
}

type mockWhatsAppClient struct {
	mediaInfo     *whatsapp.MediaInfo
	mediaData     []byte
	infoErr       error
	infoCalls     int
	downloadCalls int

	sentTo    []string
	sentBody  []string
	replyTo   []string
	sendErr   error
	sentCh    chan struct{}
}

func (m *mockWhatsAppClient) SendText(ctx context.Context, to, body string) (*whatsapp.SendMessageResponse, error) {
	m.sentTo = append(m.sentTo, to)
	m.sentBody = append(m.sentBody, body)
	if m.sentCh != nil {
		m.sentCh <- struct{}{}
	}
	return &whatsapp.SendMessageResponse{}, m.sendErr
}

func (m *mockWhatsAppClient) SendReply(ctx context.Context, to, body, replyToMessageID string) (*whatsapp.SendMessageResponse, error) {
	m.sentTo = append(m.sentTo, to)
	m.sentBody = append(m.sentBody, body)
	m.replyTo = append(m.replyTo, replyToMessageID)
	if m.sentCh != nil {
		m.sentCh <- struct{}{}
	}
	return &whatsapp.SendMessageResponse{}, m.sendErr
}

func (m *mockWhatsAppClient) GetMediaInfo(ctx context.Context, mediaID string) (*whatsapp.MediaInfo, error) {
	m.infoCalls++
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	return m.mediaInfo, nil
}

func (m *mockWhatsAppClient) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error) {
	m.downloadCalls++
	return io.NopCloser(bytes.NewReader(m.mediaData)), int64(len(m.mediaData)), nil
}

type mockExtractor struct {
	text   string
	fields map[string]string
	err    error
	calls  int
}

func (m *mockExtractor) Extract(data []byte, mimeType string) (string, map[string]string, error) {
	m.calls++
	if m.err != nil {
		return "", nil, m.err
	}
	return m.text, m.fields, nil
}

func newWorkerFixture(t *testing.T, client *mockWhatsAppClient, extractor *mockExtractor, maxBytes int64) (*ExtractionWorker, *database.Database) {
	t.Helper()
	db := newTestDB(t)
	store, err := media.NewStore(t.TempDir())
	require.NoError(t, err)
	worker := NewExtractionWorker(db, store, client, extractor, maxBytes, newTestLogger())
	return worker, db
}

func TestProcessExtractsAndPersists(t *testing.T) {
	client := &mockWhatsAppClient{
		mediaInfo: &whatsapp.MediaInfo{ID: "provider-ref-1", URL: "https://cdn.example/doc", FileSize: 9},
		mediaData: []byte("%PDF-data"),
	}
	extractor := &mockExtractor{
		text:   "Invoice Number: INV-777",
		fields: map[string]string{"invoice_number": "INV-777"},
	}
	worker, db := newWorkerFixture(t, client, extractor, 1024)
	seedMediaMessage(t, db, "ref-1")
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, queue.ExtractionJob{
		MediaRefID: "ref-1", ProviderMediaID: "provider-ref-1",
		MimeType: "application/pdf", Filename: "doc.pdf",
	}))

	ref, err := db.GetMediaReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionDone, ref.Status)
	assert.NotEmpty(t, ref.StorageKey)

	res, err := db.GetExtractionResult(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Invoice Number: INV-777", res.Text)
	assert.Equal(t, "INV-777", res.Fields["invoice_number"])
	assert.NotEmpty(t, res.SHA256)
}

func TestProcessRedeliveredJobIsNoOp(t *testing.T) {
	client := &mockWhatsAppClient{
		mediaInfo: &whatsapp.MediaInfo{URL: "https://cdn.example/doc", FileSize: 9},
		mediaData: []byte("%PDF-data"),
	}
	extractor := &mockExtractor{text: "once"}
	worker, db := newWorkerFixture(t, client, extractor, 1024)
	seedMediaMessage(t, db, "ref-2")
	ctx := context.Background()

	job := queue.ExtractionJob{MediaRefID: "ref-2", ProviderMediaID: "provider-ref-2", MimeType: "application/pdf"}
	require.NoError(t, worker.Process(ctx, job))
	require.NoError(t, worker.Process(ctx, job))

	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 1, client.downloadCalls)

	count, err := db.CountExtractionResults(ctx, "ref-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProcessDeclaredSizeOverCeiling(t *testing.T) {
	client := &mockWhatsAppClient{}
	extractor := &mockExtractor{}
	worker, db := newWorkerFixture(t, client, extractor, 100)
	seedMediaMessage(t, db, "ref-3")
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, queue.ExtractionJob{
		MediaRefID: "ref-3", ProviderMediaID: "provider-ref-3",
		MimeType: "application/pdf", DeclaredBytes: 500,
	}))

	ref, err := db.GetMediaReference(ctx, "ref-3")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionSkippedSize, ref.Status)
	assert.Zero(t, client.infoCalls)
	assert.Zero(t, extractor.calls)

	count, err := db.CountExtractionResults(ctx, "ref-3")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProcessActualSizeOverCeiling(t *testing.T) {
	client := &mockWhatsAppClient{
		mediaInfo: &whatsapp.MediaInfo{URL: "https://cdn.example/doc"},
		mediaData: bytes.Repeat([]byte("x"), 200),
	}
	extractor := &mockExtractor{}
	worker, db := newWorkerFixture(t, client, extractor, 100)
	seedMediaMessage(t, db, "ref-4")
	ctx := context.Background()

	require.NoError(t, worker.Process(ctx, queue.ExtractionJob{
		MediaRefID: "ref-4", ProviderMediaID: "provider-ref-4", MimeType: "application/pdf",
	}))

	ref, err := db.GetMediaReference(ctx, "ref-4")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionSkippedSize, ref.Status)
	assert.Zero(t, extractor.calls)
}

func TestProcessExtractionFailureIsTerminal(t *testing.T) {
	client := &mockWhatsAppClient{
		mediaInfo: &whatsapp.MediaInfo{URL: "https://cdn.example/doc"},
		mediaData: []byte("not really a pdf"),
	}
	extractor := &mockExtractor{err: assert.AnError}
	worker, db := newWorkerFixture(t, client, extractor, 1024)
	seedMediaMessage(t, db, "ref-5")
	ctx := context.Background()

	// The job acks; a doomed document must not loop through the broker.
	require.NoError(t, worker.Process(ctx, queue.ExtractionJob{
		MediaRefID: "ref-5", ProviderMediaID: "provider-ref-5", MimeType: "application/pdf",
	}))

	ref, err := db.GetMediaReference(ctx, "ref-5")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, ref.Status)
	assert.NotEmpty(t, ref.ErrorClass)
}

func TestProcessTransientFetchFailureRetries(t *testing.T) {
	client := &mockWhatsAppClient{infoErr: assert.AnError}
	extractor := &mockExtractor{text: "recovered"}
	worker, db := newWorkerFixture(t, client, extractor, 1024)
	seedMediaMessage(t, db, "ref-6")
	ctx := context.Background()

	job := queue.ExtractionJob{MediaRefID: "ref-6", ProviderMediaID: "provider-ref-6", MimeType: "application/pdf"}
	err := worker.Process(ctx, job)
	require.Error(t, err)

	// The reference stays claimable for the redelivered job.
	ref, getErr := db.GetMediaReference(ctx, "ref-6")
	require.NoError(t, getErr)
	assert.Equal(t, models.ExtractionRunning, ref.Status)

	client.infoErr = nil
	client.mediaInfo = &whatsapp.MediaInfo{URL: "https://cdn.example/doc"}
	client.mediaData = []byte("%PDF-data")
	require.NoError(t, worker.Process(ctx, job))

	ref, getErr = db.GetMediaReference(ctx, "ref-6")
	require.NoError(t, getErr)
	assert.Equal(t, models.ExtractionDone, ref.Status)
}

func TestProcessResumesFromStoredObject(t *testing.T) {
	client := &mockWhatsAppClient{infoErr: assert.AnError}
	extractor := &mockExtractor{text: "from store"}

	db := newTestDB(t)
	store, err := media.NewStore(t.TempDir())
	require.NoError(t, err)
	worker := NewExtractionWorker(db, store, client, extractor, 1024, newTestLogger())

	seedMediaMessage(t, db, "ref-7")
	ctx := context.Background()

	key := media.DocumentKey("aabbccdd", "pdf")
	_, _, err = store.Put(ctx, key, bytes.NewReader([]byte("%PDF-stored")))
	require.NoError(t, err)
	require.NoError(t, db.SetMediaStorageKey(ctx, "ref-7", key))

	// The provider API is down, but the bytes are already local.
	require.NoError(t, worker.Process(ctx, queue.ExtractionJob{
		MediaRefID: "ref-7", ProviderMediaID: "provider-ref-7", MimeType: "application/pdf",
	}))

	ref, err := db.GetMediaReference(ctx, "ref-7")
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionDone, ref.Status)
	assert.Zero(t, client.downloadCalls)
}

func TestHandleDeliveryDropsUndecodableJob(t *testing.T) {
	worker, _ := newWorkerFixture(t, &mockWhatsAppClient{}, &mockExtractor{}, 1024)

	err := worker.HandleDelivery(context.Background(), amqp091.Delivery{Body: []byte("not json")})
	assert.NoError(t, err)
}

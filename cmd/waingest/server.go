package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"waingest/internal/constants"
	"waingest/internal/database"
	"waingest/internal/errors"
	"waingest/internal/httputil"
	"waingest/internal/metrics"
	"waingest/internal/middleware"
	"waingest/internal/models"
	"waingest/internal/privacy"
	"waingest/internal/service"
)

const (
	adminAPIKeyHeader = "X-Admin-Api-Key"

	defaultPageSize = 50
	maxPageSize     = 500
)

type Server struct {
	router  *mux.Router
	logger  *logrus.Logger
	cfg     *models.Config
	ingest  *service.IngestService
	db      *database.Database
	limiter *RateLimiter
	server  *http.Server
}

func NewServer(cfg *models.Config, ingest *service.IngestService, db *database.Database, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		logger:  logger,
		cfg:     cfg,
		ingest:  ingest,
		db:      db,
		limiter: NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	webhook.Use(s.rateLimitMiddleware)
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
	webhook.HandleFunc("", s.handleVerifyChallenge()).Methods(http.MethodGet)
	webhook.HandleFunc("", s.handleWebhook()).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.rateLimitMiddleware)
	admin.Use(s.adminAuthMiddleware)
	admin.HandleFunc("/conversations", s.handleListConversations()).Methods(http.MethodGet)
	admin.HandleFunc("/conversations/{id}/messages", s.handleListMessages()).Methods(http.MethodGet)
	admin.HandleFunc("/documents", s.handleListDocuments()).Methods(http.MethodGet)
	admin.HandleFunc("/search", s.handleSearch()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.GetClientIP(r)
		if !s.limiter.Allow(ip) {
			metrics.IncrementCounter("rate_limit_exceeded_total", nil, "Requests rejected by the rate limiter")
			s.logger.WithField(service.LogFieldRemoteIP, ip).Warn("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(adminAPIKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.Admin.APIKey)) != 1 {
			s.logger.WithField(service.LogFieldRemoteIP, httputil.GetClientIP(r)).Warn("Admin request with invalid API key")
			writeError(w, http.StatusForbidden, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// handleMetrics returns current application metrics
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allMetrics := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(allMetrics); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// handleVerifyChallenge answers the platform's subscription handshake.
// The challenge must be echoed byte for byte, not JSON-encoded.
func (s *Server) handleVerifyChallenge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("hub.mode")
		token := q.Get("hub.verify_token")
		challenge := q.Get("hub.challenge")

		if mode == "subscribe" && token != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Webhook.VerifyToken)) == 1 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(challenge))
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldRemoteIP: httputil.GetClientIP(r),
			"mode":                   mode,
		}).Warn("Webhook verification handshake rejected")
		writeError(w, http.StatusForbidden, "verification failed")
	}
}

type webhookResponse struct {
	Status   string `json:"status"`
	Messages int    `json:"messages"`
	Skipped  int    `json:"skipped,omitempty"`
}

func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxBodyBytes()))
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}

		result, err := s.ingest.Ingest(r.Context(), body, r.Header.Get(signatureHeaderName))
		if result.Outcome == service.IngestRejected {
			switch result.RejectReason {
			case errors.ErrCodeSignatureInvalid:
				writeError(w, http.StatusUnauthorized, "invalid signature")
			case errors.ErrCodeMalformedPayload:
				writeError(w, http.StatusBadRequest, "malformed payload")
			default:
				errors.LogError(s.logger, err, "Webhook ingestion failed")
				writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			}
			return
		}

		writeJSON(w, http.StatusOK, webhookResponse{
			Status:   string(result.Outcome),
			Messages: result.MessageCount,
			Skipped:  result.SkippedCount,
		})
	}
}

// Admin handlers

type conversationView struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

type messageView struct {
	ID              int64     `json:"id"`
	SourceID        string    `json:"sourceId"`
	ConversationID  string    `json:"conversationId"`
	ParticipantID   string    `json:"participantId"`
	Direction       string    `json:"direction"`
	Type            string    `json:"type"`
	TextBody        string    `json:"textBody,omitempty"`
	ReplyToSourceID string    `json:"replyToSourceId,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

type documentView struct {
	ID            string    `json:"id"`
	MessageID     int64     `json:"messageId"`
	MimeType      string    `json:"mimeType"`
	Filename      string    `json:"filename,omitempty"`
	DeclaredBytes int64     `json:"declaredBytes,omitempty"`
	Status        string    `json:"status"`
	ErrorClass    string    `json:"errorClass,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (s *Server) handleListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		conversations, err := s.db.ListConversations(r.Context(), limit, offset)
		if err != nil {
			errors.LogError(s.logger, err, "Failed to list conversations")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}

		views := make([]conversationView, 0, len(conversations))
		for _, c := range conversations {
			views = append(views, conversationView{
				ID:             c.ID,
				Type:           string(c.Type),
				LastActivityAt: c.LastActivityAt,
				CreatedAt:      c.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["id"]
		limit, offset := pagination(r)

		messages, err := s.db.ListConversationMessages(r.Context(), conversationID, limit, offset)
		if err != nil {
			errors.LogError(s.logger, err, "Failed to list messages")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldConversationID: privacy.MaskConversationID(conversationID),
			service.LogFieldCount:          len(messages),
		}).Debug("Admin listed conversation messages")

		writeJSON(w, http.StatusOK, messageViews(messages))
	}
}

func (s *Server) handleListDocuments() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.ExtractionStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = models.ExtractionPending
		}
		switch status {
		case models.ExtractionPending, models.ExtractionRunning, models.ExtractionDone,
			models.ExtractionFailed, models.ExtractionSkippedSize:
		default:
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}

		limit, offset := pagination(r)
		refs, err := s.db.ListMediaByStatus(r.Context(), status, limit, offset)
		if err != nil {
			errors.LogError(s.logger, err, "Failed to list documents")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}

		views := make([]documentView, 0, len(refs))
		for _, ref := range refs {
			views = append(views, documentView{
				ID:            ref.ID,
				MessageID:     ref.MessageID,
				MimeType:      ref.MimeType,
				Filename:      ref.Filename,
				DeclaredBytes: ref.DeclaredBytes,
				Status:        string(ref.Status),
				ErrorClass:    ref.ErrorClass,
				UpdatedAt:     ref.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (s *Server) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("q")
		if term == "" {
			writeError(w, http.StatusBadRequest, "missing query term")
			return
		}

		limit, _ := pagination(r)
		messages, err := s.db.SearchMessages(r.Context(), term, limit)
		if err != nil {
			errors.LogError(s.logger, err, "Search failed")
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, messageViews(messages))
	}
}

// Helpers

func (s *Server) maxBodyBytes() int64 {
	return int64(constants.DefaultMaxWebhookBodyBytes)
}

func messageViews(messages []models.Message) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView{
			ID:              m.ID,
			SourceID:        m.SourceID,
			ConversationID:  m.ConversationID,
			ParticipantID:   m.ParticipantID,
			Direction:       string(m.Direction),
			Type:            string(m.Type),
			TextBody:        m.TextBody,
			ReplyToSourceID: m.ReplyToSourceID,
			SentAt:          m.SentAt,
		})
	}
	return views
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

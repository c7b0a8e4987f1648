package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"waingest/internal/constants"
	"waingest/internal/database"
	"waingest/internal/errors"
	"waingest/internal/metrics"
	"waingest/internal/models"
	"waingest/internal/privacy"
	"waingest/pkg/whatsapp"
)

// EchoPolicy is the dev-only auto-reply: disabled by default, gated on
// an allowlist and a per-sender rate window. The window state lives in
// the database so concurrent messages and multiple instances share one
// atomic decision.
type EchoPolicy struct {
	cfg    models.DebugEchoConfig
	db     *database.Database
	client whatsapp.Client
	logger *logrus.Logger

	allowlist map[string]struct{}
	window    time.Duration

	sendTimeout time.Duration
}

func NewEchoPolicy(cfg models.DebugEchoConfig, db *database.Database, client whatsapp.Client, logger *logrus.Logger) *EchoPolicy {
	allowlist := make(map[string]struct{}, len(cfg.Allowlist))
	for _, sender := range cfg.Allowlist {
		allowlist[sender] = struct{}{}
	}

	windowSec := cfg.RateLimitSec
	if windowSec <= 0 {
		windowSec = constants.DefaultEchoRateLimitSec
	}

	return &EchoPolicy{
		cfg:         cfg,
		db:          db,
		client:      client,
		logger:      logger,
		allowlist:   allowlist,
		window:      time.Duration(windowSec) * time.Second,
		sendTimeout: 15 * time.Second,
	}
}

// Evaluate decides whether the event earns an echo and fires the send
// asynchronously. Nothing here can fail the ingestion that triggered
// it; every failure is logged and dropped.
func (p *EchoPolicy) Evaluate(ctx context.Context, event NormalizedEvent) {
	if !p.cfg.Enabled {
		return
	}

	log := p.logger.WithFields(logrus.Fields{
		LogFieldComponent:     "debug_echo",
		LogFieldParticipantID: privacy.MaskPhoneNumber(event.SenderID),
	})

	if _, ok := p.allowlist[event.SenderID]; !ok {
		log.Debug("Sender not allowlisted, no echo")
		return
	}
	if event.ConversationType == models.ConversationGroup && !p.cfg.AllowGroups {
		log.Debug("Group conversation, no echo")
		return
	}

	won, err := p.db.TryMarkEcho(ctx, event.SenderID, time.Now().UTC(), p.window)
	if err != nil {
		errors.LogError(p.logger, err, "Echo rate-limit check failed")
		return
	}
	if !won {
		metrics.IncrementCounter(metrics.MetricEchoSuppressed, nil, "Echo replies suppressed by rate limit")
		log.Debug("Sender echoed within rate window, suppressing")
		return
	}

	go p.send(event, log)
}

func (p *EchoPolicy) send(event NormalizedEvent, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()

	body := "Echo: " + event.TextBody
	var err error
	if event.MessageID != "" {
		_, err = p.client.SendReply(ctx, event.SenderID, body, event.MessageID)
	} else {
		_, err = p.client.SendText(ctx, event.SenderID, body)
	}
	if err != nil {
		errors.LogError(p.logger, errors.Wrap(err, errors.ErrCodeWhatsAppAPI, "echo send failed"),
			"Failed to send debug echo")
		return
	}

	metrics.IncrementCounter(metrics.MetricEchoSent, nil, "Echo replies sent")
	log.Info("Debug echo sent")
}

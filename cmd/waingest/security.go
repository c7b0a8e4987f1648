package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"waingest/internal/errors"
	"waingest/internal/models"
)

const signatureHeaderName = "X-Hub-Signature-256"

// hmacVerifier checks the platform's X-Hub-Signature-256 header
// against an HMAC-SHA256 of the raw request body. The raw bytes are
// the only valid input; re-serialized JSON would break the digest.
type hmacVerifier struct {
	cfg    models.WebhookConfig
	logger *logrus.Logger
}

func newVerifier(cfg models.WebhookConfig, logger *logrus.Logger) *hmacVerifier {
	return &hmacVerifier{cfg: cfg, logger: logger}
}

func (v *hmacVerifier) Verify(rawBody []byte, signatureHeader string) error {
	if !v.cfg.VerifySignature {
		v.logger.Warn("Webhook signature verification is disabled; accepting unverified delivery")
		return nil
	}

	if signatureHeader == "" {
		return errors.New(errors.ErrCodeSignatureInvalid, "missing signature header")
	}

	parts := strings.SplitN(signatureHeader, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return errors.New(errors.ErrCodeSignatureInvalid, "malformed signature header")
	}

	mac := hmac.New(sha256.New, []byte(v.cfg.AppSecret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(parts[1])) {
		return errors.New(errors.ErrCodeSignatureInvalid, "signature mismatch")
	}
	return nil
}

package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"waingest/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyValidSignature(t *testing.T) {
	v := newVerifier(models.WebhookConfig{VerifySignature: true, AppSecret: "topsecret"}, testLogger())
	body := []byte(`{"object":"whatsapp_business_account"}`)

	assert.NoError(t, v.Verify(body, signBody("topsecret", body)))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	v := newVerifier(models.WebhookConfig{VerifySignature: true, AppSecret: "topsecret"}, testLogger())
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := signBody("topsecret", body)

	assert.Error(t, v.Verify([]byte(`{"object":"tampered"}`), header))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := newVerifier(models.WebhookConfig{VerifySignature: true, AppSecret: "topsecret"}, testLogger())
	body := []byte("payload")

	assert.Error(t, v.Verify(body, signBody("othersecret", body)))
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	v := newVerifier(models.WebhookConfig{VerifySignature: true, AppSecret: "topsecret"}, testLogger())

	assert.Error(t, v.Verify([]byte("payload"), ""))
	assert.Error(t, v.Verify([]byte("payload"), "md5=abcdef"))
	assert.Error(t, v.Verify([]byte("payload"), "no-equals-sign"))
}

func TestVerifyDisabledAcceptsAnything(t *testing.T) {
	v := newVerifier(models.WebhookConfig{VerifySignature: false}, testLogger())

	assert.NoError(t, v.Verify([]byte("payload"), ""))
	assert.NoError(t, v.Verify([]byte("payload"), "sha256=garbage"))
}

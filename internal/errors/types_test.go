package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrCodeMalformedPayload, "payload is not valid JSON")
	assert.Equal(t, "MALFORMED_PAYLOAD: payload is not valid JSON", err.Error())

	cause := stderrors.New("unexpected end of JSON input")
	wrapped := Wrap(cause, ErrCodeMalformedPayload, "payload is not valid JSON")
	assert.Equal(t, "MALFORMED_PAYLOAD: payload is not valid JSON: unexpected end of JSON input", wrapped.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeQueue, "publish failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeSignatureInvalid, GetCode(New(ErrCodeSignatureInvalid, "bad signature")))
	assert.Equal(t, ErrCodeInternalError, GetCode(stderrors.New("plain error")))
	assert.Equal(t, ErrCodeInternalError, GetCode(nil))
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := New(ErrCodeOversizeDocument, "document exceeds limit")
	outer := fmt.Errorf("processing job: %w", inner)

	assert.Equal(t, ErrCodeOversizeDocument, GetCode(outer))
	assert.True(t, HasCode(outer, ErrCodeOversizeDocument))
	assert.False(t, HasCode(outer, ErrCodeMediaFetch))
}

func TestIsRetryable(t *testing.T) {
	transient := WrapRetryable(stderrors.New("timeout"), ErrCodeMediaFetch, "fetching media")
	permanent := New(ErrCodeExtractionFailed, "unsupported mime type")

	assert.True(t, IsRetryable(transient))
	assert.False(t, IsRetryable(permanent))
	assert.False(t, IsRetryable(stderrors.New("plain error")))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeMediaFetch, "download failed").
		WithContext("media_ref_id", "ref-1").
		WithContext("attempt", 2)

	assert.Equal(t, "ref-1", err.Context["media_ref_id"])
	assert.Equal(t, 2, err.Context["attempt"])
}

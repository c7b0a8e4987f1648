package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"waingest/internal/models"
)

// Client talks to the WhatsApp Business Cloud API.
type Client interface {
	SendText(ctx context.Context, to, body string) (*SendMessageResponse, error)
	SendReply(ctx context.Context, to, body, replyToMessageID string) (*SendMessageResponse, error)
	GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error)
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error)
}

type graphClient struct {
	baseURL     string
	version     string
	accessToken string
	phoneID     string
	httpClient  *http.Client
}

// NewClient builds a Cloud API client from configuration.
func NewClient(cfg models.WhatsAppConfig) Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &graphClient{
		baseURL:     cfg.APIBaseURL,
		version:     cfg.APIVersion,
		accessToken: cfg.AccessToken,
		phoneID:     cfg.PhoneNumberID,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *graphClient) SendText(ctx context.Context, to, body string) (*SendMessageResponse, error) {
	return c.sendMessage(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextPayload{Body: body},
	})
}

func (c *graphClient) SendReply(ctx context.Context, to, body, replyToMessageID string) (*SendMessageResponse, error) {
	return c.sendMessage(ctx, SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextPayload{Body: body},
		Context:          &ReplyContext{MessageID: replyToMessageID},
	})
}

func (c *graphClient) sendMessage(ctx context.Context, msg SendMessageRequest) (*SendMessageResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var result SendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// GetMediaInfo resolves a media ID into a short-lived download URL
// plus the declared metadata.
func (c *graphClient) GetMediaInfo(ctx context.Context, mediaID string) (*MediaInfo, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get media info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var info MediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode media info: %w", err)
	}
	return &info, nil
}

// DownloadMedia fetches media content from a URL returned by
// GetMediaInfo. The caller owns the returned reader.
func (c *graphClient) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, decodeAPIError(resp)
	}
	return resp.Body, resp.ContentLength, nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Err.Message != "" {
		return fmt.Errorf("whatsapp api status %d: %w", resp.StatusCode, &apiErr)
	}
	return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, string(body))
}

package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imgbatch/internal/jobstore"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when a signing
// secret is configured.
const SignatureHeader = "X-Imgbatch-Signature"

// WebhookService POSTs completion events to a fixed URL.
type WebhookService struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewWebhookService builds a webhook transport. A non-positive timeout falls
// back to ten seconds.
func NewWebhookService(endpoint, secret string, timeout time.Duration) *WebhookService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookService{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookService) NotifyJobCompleted(ctx context.Context, jobID string, status jobstore.Status) error {
	if w == nil || w.client == nil {
		return nil
	}
	body, err := json.Marshal(Event{JobID: jobID, Status: status})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (w *WebhookService) Close() error {
	if w != nil && w.client != nil {
		w.client.CloseIdleConnections()
	}
	return nil
}

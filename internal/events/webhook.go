package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mbd888/spendguard/internal/logging"
	"github.com/mbd888/spendguard/internal/retry"
)

const backendWebhook = "webhook"

// Webhook request headers.
const (
	HeaderEvent     = "X-Spendguard-Event"
	HeaderTimestamp = "X-Spendguard-Timestamp"
	HeaderSignature = "X-Spendguard-Signature"
)

// WebhookPublisher POSTs each event as JSON to a single endpoint. When a
// secret is set the body is signed with HMAC-SHA256.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
	logger *slog.Logger
}

// NewWebhookPublisher creates a publisher for url.
func NewWebhookPublisher(url, secret string, logger *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: publishTimeout},
		logger: logging.Component(logger, logging.ComponentEvents),
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// PublishScored delivers one event. 4xx responses other than 429 are not retried.
func (p *WebhookPublisher) PublishScored(ctx context.Context, event ScoredEvent) (err error) {
	defer func() { observe(backendWebhook, err) }()

	body, err := event.Marshal()
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.OccurredAt.Unix(), 10))
	if len(p.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(body, p.secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.logger.Debug("event delivered", logging.FieldTxID, event.TransactionID, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("webhook rejected event: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// PingContext is a no-op; the endpoint is only exercised by deliveries.
func (p *WebhookPublisher) PingContext(context.Context) error { return nil }

func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

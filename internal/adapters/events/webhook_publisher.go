package events

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

	"github.com/atvirokodosprendimai/formsum/internal/core/domain"
)

const (
	defaultWebhookTimeout = 10 * time.Second

	HeaderTopic      = "X-Formsum-Topic"
	HeaderEventType  = "X-Formsum-Event-Type"
	HeaderDelivery   = "X-Formsum-Delivery"
	HeaderSubmission = "X-Formsum-Submission"
	HeaderSignature  = "X-Formsum-Signature-256"

	signaturePrefix = "sha256="
)

// WebhookPublisher POSTs accepted submissions to an HTTP endpoint. Bodies are
// signed with HMAC-SHA256 and any non-2xx answer is returned as an error so the
// outbox dispatcher retries it.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookPublisher falls back to a 10s timeout when timeout is not positive.
func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTopic, topic)
	req.Header.Set(HeaderEventType, event.EventType)
	req.Header.Set(HeaderDelivery, event.EventID)
	req.Header.Set(HeaderSubmission, event.SubmissionID)
	req.Header.Set(HeaderSignature, signaturePrefix+Sign(p.secret, payload))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", event.EventID, resp.StatusCode)
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value as sent by Publish.
func VerifySignature(secret, payload []byte, header string) bool {
	got, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return false
	}
	return hmac.Equal([]byte(got), []byte(Sign(secret, payload)))
}

// Package reputation delivers settlement notifications to the external
// reputation collaborator over signed webhooks.
package reputation

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

	"github.com/missionforge/missionforge/internal/services/worker/domain"
)

// Webhook headers. The signature is an HMAC-SHA256 of the raw body, hex
// encoded, so the receiver can verify it independent of JSON field ordering.
const (
	SignatureHeader = "X-MissionForge-Signature"
	EventTypeHeader = "X-MissionForge-Event"
)

const defaultRequestTimeout = 10 * time.Second

// Notifier posts signed settlement notifications to the reputation sink.
type Notifier struct {
	url    string
	secret []byte
	client *http.Client
}

// NewNotifier creates a notifier for the given sink URL and shared secret.
func NewNotifier(url, secret string) (*Notifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("reputation sink url is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("reputation sink secret is required")
	}
	return &Notifier{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// Notify delivers one settlement to the reputation sink. A non-2xx response
// is an error so the outbox loop retries.
func (n *Notifier) Notify(ctx context.Context, payload domain.SettlementCompletedPayload) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("notifier is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, domain.EventSettlementCompleted)
	req.Header.Set(SignatureHeader, Sign(n.secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reputation sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of a webhook body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature the way a receiver would.
func VerifySignature(secret, body []byte, signatureHex string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Package webhook notifies an operator endpoint about cookie pool status
// changes. Payloads never carry cookie values.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/mediagate/models"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Mediagate-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "cookie.expired" or "cookie.cooldown"
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// CookieEvent describes a cookie status change.
type CookieEvent struct {
	CookieID      string              `json:"cookie_id"`
	Platform      models.Platform     `json:"platform"`
	Tier          models.CookieTier   `json:"tier"`
	Label         string              `json:"label,omitempty"`
	Status        models.CookieStatus `json:"status"`
	Reason        string              `json:"reason"`
	ErrorCount    int                 `json:"error_count"`
	CooldownUntil *time.Time          `json:"cooldown_until,omitempty"`
}

// Sign returns the signature header value of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notifier delivers events to one endpoint. Delivery is asynchronous with
// retries after 1s, 5s and 30s.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	wg     sync.WaitGroup
}

// New creates a Notifier posting to url.
func New(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// WithDelays replaces the retry schedule and returns n. The first entry is
// the delay before the first attempt.
func (n *Notifier) WithDelays(delays ...time.Duration) *Notifier {
	n.delays = delays
	return n
}

// CookieStatusChanged implements cookiepool.Notifier.
func (n *Notifier) CookieStatusChanged(rec models.CookieRecord, reason string) {
	data := CookieEvent{
		CookieID:   rec.ID,
		Platform:   rec.Platform,
		Tier:       rec.Tier,
		Label:      rec.Label,
		Status:     rec.Status,
		Reason:     reason,
		ErrorCount: rec.ErrorCount,
	}
	if !rec.CooldownUntil.IsZero() {
		until := rec.CooldownUntil
		data.CooldownUntil = &until
	}
	n.DeliverAsync(&Event{
		ID:        uuid.NewString(),
		Type:      "cookie." + string(rec.Status),
		Timestamp: time.Now().Unix(),
		Data:      data,
	})
}

// Deliver sends event synchronously.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mediagate-Webhook/1.0")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends event in the background, retrying on failure.
func (n *Notifier) DeliverAsync(event *Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for attempt, delay := range n.delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := n.Deliver(ctx, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"event", event.Type,
					"event_id", event.ID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"event", event.Type,
				"event_id", event.ID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"event", event.Type,
			"event_id", event.ID,
		)
	}()
}

// Wait blocks until pending deliveries finish or timeout elapses.
func (n *Notifier) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

// Package webhook delivers signed job events to an HTTP endpoint.
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
	"time"

	"github.com/Mikkicon/bellflow/models"
)

// Event types.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// SignatureHeader carries "sha256=<hex>" of the body when a secret is set.
const SignatureHeader = "X-Bellflow-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string            `json:"type"`
	JobID     string            `json:"job_id"`
	Timestamp int64             `json:"timestamp"`
	Data      *models.ScrapeJob `json:"data"`
}

// EventFor builds the event announcing a terminal job.
func EventFor(job *models.ScrapeJob) *Event {
	typ := EventJobCompleted
	if job.Status == models.StatusFailed {
		typ = EventJobFailed
	}
	return &Event{Type: typ, JobID: job.JobID, Timestamp: job.UpdatedAt.Unix(), Data: job}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Bellflow-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier posts job.completed and job.failed events, retrying in the
// background.
type Notifier struct {
	URL    string
	Secret string
	client *http.Client
	delays []time.Duration
	wait   func(time.Duration)
}

// NewNotifier creates a Notifier retrying after 1s, 5s and 30s.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
		wait:   time.Sleep,
	}
}

// Notify schedules delivery and returns immediately.
func (n *Notifier) Notify(_ context.Context, job *models.ScrapeJob) error {
	if !job.Status.IsTerminal() {
		return nil
	}
	event := EventFor(job)
	go n.deliverWithRetry(event)
	return nil
}

func (n *Notifier) deliverWithRetry(event *Event) bool {
	for attempt, delay := range n.delays {
		if delay > 0 {
			n.wait(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := Deliver(ctx, n.client, n.URL, n.Secret, event)
		cancel()
		if err == nil {
			slog.Info("webhook delivered",
				"url", n.URL,
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt+1,
			)
			return true
		}
		slog.Warn("webhook delivery failed",
			"url", n.URL,
			"event", event.Type,
			"job_id", event.JobID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", n.URL,
		"event", event.Type,
		"job_id", event.JobID,
	)
	return false
}

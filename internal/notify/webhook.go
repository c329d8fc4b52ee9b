// Package notify forwards lane events to an external HTTP endpoint, e.g. a
// fiscal printer bridge or a store dashboard.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pdv/internal/events"
	"github.com/noah-isme/backend-pdv/internal/resilience"
)

// ErrQueueFull is returned by Notify when deliveries are backing up.
var ErrQueueFull = errors.New("notify: webhook queue full")

// WebhookConfig wires a Webhook.
type WebhookConfig struct {
	URL         string
	Secret      string
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	HTTP        resilience.HTTPClient
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Webhook is an events.Notifier that posts signed events from a background
// loop, so a slow endpoint never holds up a sale.
type Webhook struct {
	url         string
	secret      string
	maxAttempts int
	baseBackoff time.Duration
	http        resilience.HTTPClient
	logger      zerolog.Logger
	now         func() time.Time
	queue       chan events.Event
}

var _ events.Notifier = (*Webhook)(nil)

// NewWebhook validates the endpoint and sizes the queue.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if err := validateURL(cfg.URL); err != nil {
		return nil, err
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Webhook{
		url:         cfg.URL,
		secret:      cfg.Secret,
		maxAttempts: attempts,
		baseBackoff: cfg.BaseBackoff,
		http:        cfg.HTTP,
		logger:      cfg.Logger,
		now:         now,
		queue:       make(chan events.Event, size),
	}, nil
}

// Notify enqueues the event without blocking.
func (w *Webhook) Notify(_ context.Context, event events.Event) error {
	select {
	case w.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx ends. Events still queued at that
// point are dropped and logged.
func (w *Webhook) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if n := len(w.queue); n > 0 {
				w.logger.Warn().Int("pending", n).Msg("webhook_queue_dropped")
			}
			return
		case ev := <-w.queue:
			w.deliverWithRetry(ctx, ev)
		}
	}
}

func (w *Webhook) deliverWithRetry(ctx context.Context, ev events.Event) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		status, err := w.Deliver(ctx, ev)
		if err == nil {
			w.logger.Debug().Str("event_id", ev.ID).Int("status", status).Msg("webhook_delivered")
			return
		}
		if errors.Is(err, resilience.ErrOpenCircuit) || attempt == w.maxAttempts || ctx.Err() != nil ||
			(status >= 400 && status < 500) {
			w.logger.Error().Err(err).
				Str("event_id", ev.ID).
				Str("topic", ev.Topic).
				Int("attempt", attempt).
				Int("status", status).
				Msg("webhook_delivery_failed")
			return
		}
		timer := time.NewTimer(resilience.Backoff(w.baseBackoff, attempt, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Deliver posts a single event. Non-2xx answers are errors; the status is
// returned alongside so callers can tell client from server failures.
func (w *Webhook) Deliver(ctx context.Context, ev events.Event) (int, error) {
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
	)

	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{
		EventID:     ev.ID,
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Data:        ev.Payload,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	ts := w.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pdv-terminal-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", ev.ID)
	if w.secret != "" {
		req.Header.Set("X-Signature", ComputeSignature(w.secret, ts, ev.ID, body))
	}

	resp, err := w.http.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		var se *resilience.StatusError
		if errors.As(err, &se) {
			return se.StatusCode, err
		}
		return 0, err
	}
	_ = resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("notify: endpoint answered %s", resp.Status)
	}
	return resp.StatusCode, nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>" keyed with the secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

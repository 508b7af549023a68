package audit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// webhookQueueSize is the bounded channel capacity for outbound events.
const webhookQueueSize = 1024

type webhookEvent struct {
	Event       string            `json:"event"`
	PrincipalID string            `json:"principal_id,omitempty"`
	Timestamp   string            `json:"timestamp"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

// Webhook forwards events to an external HTTP endpoint. Events are queued
// without blocking and sent by one background goroutine; when the queue is
// full the event is dropped.
type Webhook struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	events    chan webhookEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Sink = (*Webhook)(nil)

// NewWebhook starts the dispatcher.
func NewWebhook(url, authHeader string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
		logger:     logger,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Write enqueues evt. It never blocks.
func (w *Webhook) Write(_ context.Context, evt Event) {
	payload := webhookEvent{
		Event:       string(evt.Kind),
		PrincipalID: evt.PrincipalID,
		Timestamp:   evt.Time.Format(time.RFC3339),
		Attrs:       evt.AttrMap(),
	}
	select {
	case w.events <- payload:
	default:
		w.logger.Warn("audit webhook: queue full, dropping event", "event", payload.Event)
	}
}

// Close stops accepting events and waits for the queue to drain. Write must
// not be called after Close.
func (w *Webhook) Close() error {
	w.closeOnce.Do(func() {
		close(w.events)
	})
	w.wg.Wait()
	return nil
}

func (w *Webhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send POSTs the event with one retry on 5xx or transport errors.
func (w *Webhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("audit webhook: marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("audit webhook: request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "LeafGate-Audit-Webhook/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("audit webhook: request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("audit webhook: server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		default:
			w.logger.Warn("audit webhook: client error", "status", resp.StatusCode)
			return
		}
	}
}

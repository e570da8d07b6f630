// Package webhook forwards client lifecycle and message events to an
// external HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/connection"
)

// Outbound event names.
const (
	EventQRCodeUpdated      = "qr_code_updated"
	EventClientConnected    = "client_connected"
	EventClientDisconnected = "client_disconnected"
	EventMessage            = "message"
)

const subscriberID = "webhook-notifier"

// ErrQueueFull is returned by Enqueue when the delivery queue is saturated.
var ErrQueueFull = errors.New("webhook queue is full")

// LifecyclePayload is posted when the connection state changes.
type LifecyclePayload struct {
	Event     string `json:"event"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// MessagePayload is posted for each inbound message.
type MessagePayload struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	HasMedia  bool   `json:"hasMedia"`
	Type      string `json:"type"`
}

// Delivery is one queued POST.
type Delivery struct {
	Event string
	Body  any
}

// Notifier posts events to a single URL from one worker goroutine.
// Deliveries are best effort: failures are logged, never retried.
type Notifier struct {
	url    string
	client *http.Client
	queue  chan Delivery

	startOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a notifier for cfg. Call Start to begin delivering.
func New(cfg config.WebhookConfig) *Notifier {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Notifier{
		url:    cfg.URL,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		queue:  make(chan Delivery, size),
	}
}

// Attach subscribes the notifier to mb.
func (n *Notifier) Attach(mb *bus.MessageBus) {
	mb.Subscribe(subscriberID, n.HandleEvent)
}

// HandleEvent translates a bus event and enqueues it. Events without an
// outbound mapping are ignored.
func (n *Notifier) HandleEvent(e bus.Event) {
	d, ok := translate(e)
	if !ok {
		return
	}
	if err := n.Enqueue(d); err != nil {
		slog.Warn("webhook.dropped", "event", d.Event, "error", err)
	}
}

// Enqueue adds a delivery without blocking.
func (n *Notifier) Enqueue(d Delivery) error {
	select {
	case n.queue <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the delivery worker until ctx is cancelled. Payloads still
// queued at that point are discarded.
func (n *Notifier) Start(ctx context.Context) {
	n.startOnce.Do(func() {
		n.wg.Add(1)
		go n.run(ctx)
		slog.Info("webhook.started", "url", n.url)
	})
}

// Wait blocks until the worker has exited.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) run(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			slog.Info("webhook.stopped", "pending", len(n.queue))
			return
		case d := <-n.queue:
			if err := n.deliver(ctx, d.Body); err != nil {
				slog.Warn("webhook.delivery_failed", "event", d.Event, "error", err)
			} else {
				slog.Debug("webhook.delivered", "event", d.Event)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error %d: %s", resp.StatusCode, string(errBody))
	}
	//nolint:errcheck // drain for connection reuse
	io.Copy(io.Discard, resp.Body)
	return nil
}

// isoMillis matches the millisecond UTC timestamps the API returns.
const isoMillis = "2006-01-02T15:04:05.000Z"

func translate(e bus.Event) (Delivery, bool) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	lifecycle := LifecyclePayload{Timestamp: ts.UTC().Format(isoMillis)}

	switch e.Name {
	case bus.EventQRIssued:
		lifecycle.Event = EventQRCodeUpdated
		lifecycle.Status = string(connection.StatusRequireQRScan)
	case bus.EventReady:
		lifecycle.Event = EventClientConnected
		lifecycle.Status = string(connection.StatusConnected)
	case bus.EventDisconnected:
		d, _ := e.Payload.(bus.DisconnectedPayload)
		lifecycle.Event = EventClientDisconnected
		lifecycle.Status = string(connection.StatusDisconnected)
		lifecycle.Reason = d.Reason
	case bus.EventMessage:
		m, ok := e.Payload.(bus.MessagePayload)
		if !ok {
			return Delivery{}, false
		}
		return Delivery{Event: EventMessage, Body: MessagePayload{
			From:      m.From,
			Body:      m.Body,
			Timestamp: m.Timestamp,
			HasMedia:  m.HasMedia,
			Type:      m.Type,
		}}, true
	default:
		return Delivery{}, false
	}
	return Delivery{Event: lifecycle.Event, Body: lifecycle}, true
}

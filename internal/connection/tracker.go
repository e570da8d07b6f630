// Package connection mirrors the messaging client's lifecycle into a status
// flag and the pending pairing payload.
package connection

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/wagate/internal/bus"
)

// Status is the client connection state reported by the API.
type Status string

const (
	StatusDisconnected  Status = "disconnected"
	StatusRequireQRScan Status = "require_qr_scan"
	StatusConnected     Status = "connected"
	StatusInitializing  Status = "initializing"
)

// Snapshot is a consistent view of the tracker state.
type Snapshot struct {
	Status Status
	// QRCode is the pending pairing payload, empty when none is pending.
	QRCode string
}

// HasQR reports whether a pairing payload is pending.
func (s Snapshot) HasQR() bool { return s.QRCode != "" }

// Tracker owns the connection status and pending pairing payload.
// All mutation goes through transition, which keeps the payload set only
// while the status is require_qr_scan.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	qr     string
}

// NewTracker returns a tracker in the disconnected state.
func NewTracker() *Tracker {
	return &Tracker{status: StatusDisconnected}
}

// subscriberID is the bus subscription key used by Attach.
const subscriberID = "connection-tracker"

// Attach subscribes the tracker to client events on mb.
func (t *Tracker) Attach(mb *bus.MessageBus) {
	mb.Subscribe(subscriberID, t.HandleEvent)
}

// HandleEvent applies a bus event. Unknown events are ignored.
func (t *Tracker) HandleEvent(e bus.Event) {
	switch e.Name {
	case bus.EventQRIssued:
		if p, ok := e.Payload.(bus.QRPayload); ok {
			t.OnQR(p.Code)
		}
	case bus.EventReady:
		t.OnReady()
	case bus.EventDisconnected:
		reason := ""
		if p, ok := e.Payload.(bus.DisconnectedPayload); ok {
			reason = p.Reason
		}
		t.OnDisconnected(reason)
	case bus.EventInitializing:
		t.MarkInitializing()
	case bus.EventMessage:
		if p, ok := e.Payload.(bus.MessagePayload); ok {
			slog.Info("whatsapp.message_received", "from", p.From, "body", p.Body)
		}
	}
}

// OnQR records a new pairing payload, replacing any previous one.
func (t *Tracker) OnQR(code string) {
	slog.Info("whatsapp.qr_received", "hint", "scan to authenticate")
	t.transition(StatusRequireQRScan, code)
}

// OnReady marks the client connected and drops the pairing payload.
func (t *Tracker) OnReady() {
	slog.Info("whatsapp.ready")
	t.transition(StatusConnected, "")
}

// OnDisconnected marks the client disconnected. The reason is only logged.
func (t *Tracker) OnDisconnected(reason string) {
	slog.Warn("whatsapp.disconnected", "reason", reason)
	t.transition(StatusDisconnected, "")
}

// MarkInitializing is set by a restart request before re-initialization.
func (t *Tracker) MarkInitializing() {
	t.transition(StatusInitializing, "")
}

func (t *Tracker) transition(to Status, qr string) {
	if to != StatusRequireQRScan {
		qr = ""
	}

	t.mu.Lock()
	from := t.status
	t.status = to
	t.qr = qr
	t.mu.Unlock()

	if from != to {
		slog.Debug("connection.transition", "from", from, "to", to)
	}
}

// Status returns the current status.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// QRCode returns the pending pairing payload and whether one exists.
func (t *Tracker) QRCode() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.qr, t.qr != ""
}

// Snapshot reads status and payload under one lock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Status: t.status, QRCode: t.qr}
}

package bus

// Event names published by the messaging client.
const (
	EventQRIssued     = "qr.issued"
	EventReady        = "client.ready"
	EventDisconnected = "client.disconnected"
	EventInitializing = "client.initializing"
	EventMessage      = "message.received"
)

// QRPayload carries a freshly issued pairing payload.
type QRPayload struct {
	Code string `json:"code"`
}

// DisconnectedPayload carries the reason reported by the client.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}

// MessagePayload describes an inbound message.
type MessagePayload struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Chat      string `json:"chat"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
	HasMedia  bool   `json:"hasMedia"`
	Type      string `json:"type"`
}

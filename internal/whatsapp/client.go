// Package whatsapp wraps the WhatsApp multi-device client behind a small
// command surface: initialize, logout, send, and read recent chat history.
// Lifecycle changes are published on the message bus rather than returned.
package whatsapp

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotReady is returned when a command needs a paired, logged-in session.
	ErrNotReady = errors.New("whatsapp client is not ready")
	// ErrChatNotFound is returned when neither a contact nor stored messages exist for a chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrInvalidRecipient is returned for identifiers that cannot be parsed.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Client is the messaging client the HTTP API drives.
type Client interface {
	// Initialize (re)creates the session and connects. Pairing payloads and
	// readiness are reported asynchronously on the bus.
	Initialize(ctx context.Context) error
	Logout(ctx context.Context) error
	// Info returns session details once the client is logged in.
	Info() (Info, bool)
	SendMessage(ctx context.Context, to, body string) (SentMessage, error)
	GetChatByID(ctx context.Context, id string) (Chat, error)
	FetchMessages(ctx context.Context, chat Chat, limit int) ([]Message, error)
}

// Info describes the logged-in account.
type Info struct {
	ID       string `json:"id"`
	PushName string `json:"pushName"`
}

// SentMessage is the result of a successful send.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// Chat identifies a one-to-one conversation.
type Chat struct {
	ID   string
	User string
	Name string
}

// DisplayName returns the contact name, falling back to the user part.
func (c Chat) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.User
}

// Message is a stored chat message.
type Message struct {
	ID        string `json:"-"`
	Chat      string `json:"-"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
}

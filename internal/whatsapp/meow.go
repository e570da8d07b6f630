package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/config"
)

// MeowClient implements Client on top of whatsmeow. Session keys live in the
// configured sqlstore; messages are mirrored into a HistoryStore.
type MeowClient struct {
	container *sqlstore.Container
	history   *HistoryStore
	bus       *bus.MessageBus
	dedupe    *bus.DedupeCache
	log       waLog.Logger

	mu       sync.Mutex
	cli      *whatsmeow.Client
	cancelQR context.CancelFunc
}

// NewMeowClient opens the session store. It does not connect; call Initialize.
func NewMeowClient(ctx context.Context, cfg config.WhatsAppConfig, history *HistoryStore, mb *bus.MessageBus) (*MeowClient, error) {
	if cfg.Dialect == config.DialectSQLite {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	logger := NewLogger("whatsmeow")
	container, err := sqlstore.New(ctx, cfg.Dialect, cfg.DSN, logger.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &MeowClient{
		container: container,
		history:   history,
		bus:       mb,
		dedupe:    bus.NewDedupeCache(bus.DefaultDedupeTTL, bus.DefaultDedupeMaxSize),
		log:       logger,
	}, nil
}

// ensureSQLiteDir creates the parent directory of a "file:" DSN.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return nil
}

// Initialize replaces any running client with a fresh one bound to the first
// stored device and connects it. An unpaired device streams pairing payloads
// onto the bus until it is scanned or the payloads run out.
func (c *MeowClient) Initialize(ctx context.Context) error {
	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, c.log.Sub("Client"))
	cli.AddEventHandler(func(evt interface{}) { c.handleEvent(cli, evt) })

	c.mu.Lock()
	old := c.cli
	c.cli = cli
	if c.cancelQR != nil {
		c.cancelQR()
		c.cancelQR = nil
	}
	c.mu.Unlock()

	if old != nil {
		old.RemoveEventHandlers()
		old.Disconnect()
	}

	if cli.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("open qr channel: %w", err)
		}
		c.mu.Lock()
		c.cancelQR = cancel
		c.mu.Unlock()
		go c.consumeQR(qrChan)
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *MeowClient) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.bus.Publish(bus.EventQRIssued, bus.QRPayload{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			slog.Info("whatsapp.pair_success")
		case whatsmeow.QRChannelEventError:
			c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: fmt.Sprintf("pairing error: %v", item.Error)})
		default:
			// timeout, outdated client, scanned without multidevice
			c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: item.Event})
		}
	}
}

func (c *MeowClient) handleEvent(cli *whatsmeow.Client, evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.bus.Publish(bus.EventReady, nil)
	case *events.PairSuccess:
		slog.Info("whatsapp.paired", "id", FromJID(v.ID), "platform", v.Platform)
	case *events.LoggedOut:
		c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: fmt.Sprintf("logged out: %v", v.Reason)})
	case *events.StreamReplaced:
		c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: "stream replaced"})
	case *events.TemporaryBan:
		c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: v.String()})
	case *events.Disconnected:
		c.bus.Publish(bus.EventDisconnected, bus.DisconnectedPayload{Reason: "connection closed"})
	case *events.Message:
		c.onMessage(cli, v)
	case *events.HistorySync:
		c.onHistorySync(cli, v)
	}
}

func (c *MeowClient) onMessage(cli *whatsmeow.Client, evt *events.Message) {
	if c.dedupe.IsDuplicate(string(evt.Info.ID)) {
		return
	}

	ctx := context.Background()
	msg, kind, hasMedia := c.toMessage(ctx, cli, evt)
	if err := c.history.Record(ctx, msg); err != nil {
		slog.Warn("whatsapp.history_record_failed", "id", msg.ID, "error", err)
	}

	if evt.Info.IsFromMe {
		return
	}
	c.bus.Publish(bus.EventMessage, bus.MessagePayload{
		ID:        msg.ID,
		From:      msg.From,
		Chat:      msg.Chat,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
		FromMe:    msg.FromMe,
		HasMedia:  hasMedia,
		Type:      kind,
	})
}

func (c *MeowClient) onHistorySync(cli *whatsmeow.Client, evt *events.HistorySync) {
	ctx := context.Background()
	stored := 0
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, hm := range conv.GetMessages() {
			parsed, err := cli.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			msg, _, _ := c.toMessage(ctx, cli, parsed)
			if err := c.history.Record(ctx, msg); err != nil {
				slog.Warn("whatsapp.history_record_failed", "id", msg.ID, "error", err)
				continue
			}
			stored++
		}
	}
	slog.Debug("whatsapp.history_sync", "type", evt.Data.GetSyncType().String(), "stored", stored)
}

func (c *MeowClient) toMessage(ctx context.Context, cli *whatsmeow.Client, evt *events.Message) (Message, string, bool) {
	body, kind, hasMedia := messageText(evt.Message)
	return Message{
		ID:        string(evt.Info.ID),
		Chat:      FromJID(c.phoneJID(ctx, cli, evt.Info.Chat)),
		From:      FromJID(c.phoneJID(ctx, cli, evt.Info.Sender)),
		Body:      body,
		Timestamp: evt.Info.Timestamp.Unix(),
		FromMe:    evt.Info.IsFromMe,
	}, kind, hasMedia
}

// phoneJID maps a hidden-user (LID) JID to its phone-number JID when the
// mapping is known, so history is keyed the way callers address chats.
func (c *MeowClient) phoneJID(ctx context.Context, cli *whatsmeow.Client, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer {
		return jid
	}
	pn, err := cli.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}

func messageText(m *waE2E.Message) (body, kind string, hasMedia bool) {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation(), "chat", false
	case m.GetExtendedTextMessage() != nil:
		return m.GetExtendedTextMessage().GetText(), "chat", false
	case m.GetImageMessage() != nil:
		return m.GetImageMessage().GetCaption(), "image", true
	case m.GetVideoMessage() != nil:
		return m.GetVideoMessage().GetCaption(), "video", true
	case m.GetDocumentMessage() != nil:
		return m.GetDocumentMessage().GetCaption(), "document", true
	case m.GetAudioMessage() != nil:
		return "", "audio", true
	case m.GetStickerMessage() != nil:
		return "", "sticker", true
	case m.GetLocationMessage() != nil:
		return m.GetLocationMessage().GetName(), "location", false
	case m.GetContactMessage() != nil:
		return m.GetContactMessage().GetDisplayName(), "vcard", false
	}
	return "", "unknown", false
}

func (c *MeowClient) current() *whatsmeow.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli
}

func (c *MeowClient) readyClient() (*whatsmeow.Client, error) {
	cli := c.current()
	if cli == nil || cli.Store.ID == nil || !cli.IsLoggedIn() {
		return nil, ErrNotReady
	}
	return cli, nil
}

// Logout unlinks the device from the account.
func (c *MeowClient) Logout(ctx context.Context) error {
	cli := c.current()
	if cli == nil {
		return ErrNotReady
	}
	if err := cli.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Info reports the logged-in account, if any.
func (c *MeowClient) Info() (Info, bool) {
	cli, err := c.readyClient()
	if err != nil {
		return Info{}, false
	}
	return Info{ID: FromJID(*cli.Store.ID), PushName: cli.Store.PushName}, true
}

// SendMessage sends a plain text message and records it in history.
func (c *MeowClient) SendMessage(ctx context.Context, to, body string) (SentMessage, error) {
	cli, err := c.readyClient()
	if err != nil {
		return SentMessage{}, err
	}
	jid, err := ToJID(to)
	if err != nil {
		return SentMessage{}, err
	}

	resp, err := cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return SentMessage{}, fmt.Errorf("send to %s: %w", FromJID(jid), err)
	}

	msg := Message{
		ID:        string(resp.ID),
		Chat:      FromJID(jid),
		From:      FromJID(*cli.Store.ID),
		Body:      body,
		Timestamp: resp.Timestamp.Unix(),
		FromMe:    true,
	}
	c.dedupe.IsDuplicate(msg.ID)
	if err := c.history.Record(ctx, msg); err != nil {
		slog.Warn("whatsapp.history_record_failed", "id", msg.ID, "error", err)
	}

	return SentMessage{ID: msg.ID, Timestamp: resp.Timestamp}, nil
}

// GetChatByID resolves a chat from the contact store and message history.
func (c *MeowClient) GetChatByID(ctx context.Context, id string) (Chat, error) {
	cli, err := c.readyClient()
	if err != nil {
		return Chat{}, err
	}
	jid, err := ToJID(id)
	if err != nil {
		return Chat{}, err
	}

	chat := Chat{ID: FromJID(jid), User: jid.User}
	if contact, err := cli.Store.Contacts.GetContact(ctx, jid); err == nil && contact.Found {
		chat.Name = firstNonEmpty(contact.FullName, contact.FirstName, contact.PushName, contact.BusinessName)
	}

	known, err := c.history.HasChat(ctx, chat.ID)
	if err != nil {
		return Chat{}, err
	}
	if chat.Name == "" && !known {
		return Chat{}, fmt.Errorf("%w: %s", ErrChatNotFound, chat.ID)
	}
	return chat, nil
}

// FetchMessages returns up to limit recent messages, oldest first.
func (c *MeowClient) FetchMessages(ctx context.Context, chat Chat, limit int) ([]Message, error) {
	return c.history.Recent(ctx, chat.ID, limit)
}

// Close disconnects the live client without logging out.
func (c *MeowClient) Close() {
	c.mu.Lock()
	cli := c.cli
	if c.cancelQR != nil {
		c.cancelQR()
		c.cancelQR = nil
	}
	c.mu.Unlock()

	if cli != nil {
		cli.Disconnect()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

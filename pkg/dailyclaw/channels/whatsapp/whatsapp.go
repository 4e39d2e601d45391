// Package whatsapp implements the WhatsApp channel using whatsmeow.
// The device session is kept in a SQLite database; the first run prints a
// pairing QR code to the log.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// SessionDir holds the device session database (whatsapp.db).
	SessionDir string `yaml:"session_dir"`

	// DatabasePath overrides SessionDir with an explicit database file.
	DatabasePath string `yaml:"database_path,omitempty"`

	RespondToGroups bool `yaml:"respond_to_groups"`
	RespondToDMs    bool `yaml:"respond_to_dms"`
	SendTyping      bool `yaml:"send_typing"`

	// ReconnectBackoff is the wait between reconnect attempts.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionDir:       "./data/whatsapp",
		RespondToGroups:  true,
		RespondToDMs:     true,
		SendTyping:       true,
		ReconnectBackoff: 5 * time.Second,
	}
}

// WhatsApp implements channels.Channel and channels.TypingChannel.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger

	client    *whatsmeow.Client
	container *sqlstore.Container

	messages       chan *channels.IncomingMessage
	messagesClosed atomic.Bool

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	reconnecting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a WhatsApp channel.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect opens the session store and connects, starting a QR login when
// no device is paired yet.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected.Load() {
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	dbPath := w.databasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("whatsapp: creating session dir: %w", err)
	}

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath), waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: opening session store: %w", err)
	}
	w.container = container

	device, err := getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("whatsapp: loading device: %w", err)
	}
	store.SetOSInfo("DailyClaw", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true

	if w.client.Store.ID == nil {
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Error("whatsapp: QR login failed", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("%w: whatsapp: %v", channels.ErrConnectionFailed, err)
	}
	w.logger.Info("whatsapp: connecting", "jid", w.client.Store.ID.String())
	return nil
}

// Disconnect closes the connection and the message stream.
func (w *WhatsApp) Disconnect() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	w.connected.Store(false)
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Send sends a text message.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}
	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg.Content)); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	return nil
}

// SendTyping shows the "composing" presence.
func (w *WhatsApp) SendTyping(ctx context.Context, to string) error {
	if !w.connected.Load() || !w.cfg.SendTyping {
		return nil
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// Receive returns the incoming messages channel.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage { return w.messages }

// IsConnected reports whether the client is logged in and connected.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Health returns the channel health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	if w.client != nil && w.client.Store.ID != nil {
		h.Details["jid"] = w.client.Store.ID.String()
	}
	return h
}

func (w *WhatsApp) databasePath() string {
	if w.cfg.DatabasePath != "" {
		return w.cfg.DatabasePath
	}
	dir := w.cfg.SessionDir
	if dir == "" {
		dir = DefaultConfig().SessionDir
	}
	return filepath.Join(dir, "whatsapp.db")
}

func getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp: scan this code with WhatsApp > Linked devices", "qr", evt.Code)
			case "success":
				w.connected.Store(true)
				w.logger.Info("whatsapp: device linked")
				return nil
			case "timeout":
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %v", evt.Error)
				}
			}
		}
	}
}

// ---------- Events ----------

func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessage(evt)
	case *events.Connected:
		w.connected.Store(true)
		w.reconnecting.Store(false)
		w.logger.Info("whatsapp: connected")
	case *events.Disconnected:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: connection lost")
		go w.reconnect()
	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Warn("whatsapp: session opened elsewhere, not reconnecting")
	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out, delete the session database and pair again",
			"reason", evt.Reason.String())
	}
}

// reconnect covers the gap when the built-in auto-reconnect gives up.
func (w *WhatsApp) reconnect() {
	if !w.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnecting.Store(false)

	for attempt := 1; ; attempt++ {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.cfg.ReconnectBackoff):
		}
		if w.connected.Load() || w.client.IsConnected() {
			return
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}
		return
	}
}

func (w *WhatsApp) handleMessage(evt *events.Message) {
	var self types.JID
	if w.client != nil && w.client.Store.ID != nil {
		self = *w.client.Store.ID
	}
	msg := convertMessage(w.cfg, self, evt)
	if msg == nil {
		return
	}
	w.lastMsg.Store(time.Now())
	if w.messagesClosed.Load() {
		return
	}
	select {
	case w.messages <- msg:
	default:
		w.logger.Warn("whatsapp: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// convertMessage maps a whatsmeow message event to an IncomingMessage, or
// nil when the message is filtered out or has no text.
func convertMessage(cfg Config, self types.JID, evt *events.Message) *channels.IncomingMessage {
	info := evt.Info
	if info.IsFromMe || info.Chat.Server == types.BroadcastServer {
		return nil
	}
	if info.IsGroup && !cfg.RespondToGroups {
		return nil
	}
	if !info.IsGroup && !cfg.RespondToDMs {
		return nil
	}

	content, ctxInfo := messageText(evt.Message)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	msg := &channels.IncomingMessage{
		ID:        string(info.ID),
		Channel:   "whatsapp",
		From:      info.Sender.String(),
		FromName:  info.PushName,
		ChatID:    info.Chat.String(),
		IsGroup:   info.IsGroup,
		Type:      channels.MessageText,
		Content:   content,
		Timestamp: info.Timestamp,
	}

	if ctxInfo != nil {
		msg.ReplyTo = ctxInfo.GetStanzaID()
		if !self.IsEmpty() {
			selfUser := self.ToNonAD().User
			if p, err := types.ParseJID(ctxInfo.GetParticipant()); err == nil && p.User == selfUser {
				msg.ReplyToBot = true
			}
			for _, m := range ctxInfo.GetMentionedJID() {
				if j, err := types.ParseJID(m); err == nil && j.User == selfUser {
					msg.Mentioned = true
				}
			}
		}
	}
	return msg
}

func messageText(m *waE2E.Message) (string, *waE2E.ContextInfo) {
	if m == nil {
		return "", nil
	}
	if m.Conversation != nil {
		return m.GetConversation(), nil
	}
	if ext := m.ExtendedTextMessage; ext != nil {
		return ext.GetText(), ext.GetContextInfo()
	}
	if img := m.ImageMessage; img != nil {
		return img.GetCaption(), img.GetContextInfo()
	}
	return "", nil
}

func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// parseJID accepts "5511999999999", "5511999999999@s.whatsapp.net" or a
// group id like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

var (
	_ channels.Channel       = (*WhatsApp)(nil)
	_ channels.TypingChannel = (*WhatsApp)(nil)
)

// Package channels defines the chat transports dailyclaw talks through.
// Each transport (Telegram, Discord, WhatsApp) implements Channel; the
// Manager merges their inbound streams and routes replies back by chat key.
package channels

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageOther MessageType = "other"
)

// Channel is implemented by every chat transport.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord", ...).
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers a message to a platform chat id.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns the stream of inbound messages.
	Receive() <-chan *IncomingMessage

	IsConnected() bool

	Health() HealthStatus
}

// TypingChannel is implemented by transports that can show a typing
// indicator while a reply is being prepared.
type TypingChannel interface {
	Channel
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage is a message received from any channel.
type IncomingMessage struct {
	ID       string
	Channel  string
	From     string
	FromName string

	// ChatID is the platform chat (group or DM) identifier.
	ChatID  string
	IsGroup bool

	Type      MessageType
	Content   string
	Timestamp time.Time

	// ReplyTo is the id of the quoted message, if any.
	ReplyTo string

	// ReplyToBot is set when the quoted message was sent by the bot itself.
	ReplyToBot bool

	// Mentioned is set when the platform flagged an explicit bot mention.
	Mentioned bool

	Metadata map[string]any
}

// ChatKey returns the dailyclaw chat id of the message.
func (m *IncomingMessage) ChatKey() string {
	return ChatKey(m.Channel, m.ChatID)
}

// OutgoingMessage is a message to be sent through a channel.
type OutgoingMessage struct {
	Content string
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrConnectionFailed    = errors.New("failed to connect to channel")
	ErrUnknownChannel      = errors.New("unknown channel")
)

// ChatKey builds the transport-qualified chat id used as the storage key,
// e.g. "telegram:123456" or "whatsapp:5511999999999@s.whatsapp.net".
func ChatKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// ParseChatKey splits a chat key into channel and platform chat id.
func ParseChatKey(key string) (channel, chatID string, ok bool) {
	channel, chatID, ok = strings.Cut(key, ":")
	if !ok || channel == "" || chatID == "" {
		return "", "", false
	}
	return channel, chatID, true
}

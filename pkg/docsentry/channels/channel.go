// Package channels defines the interface DocSentry uses to talk to chat
// platforms. A channel delivers change notifications and carries the
// watch/unwatch/list/status commands users issue from chat.
package channels

import (
	"context"
	"fmt"
	"time"
)

// Channel is the contract every chat platform implementation satisfies.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send delivers a message to the given chat.
	Send(ctx context.Context, chatID string, msg *OutgoingMessage) error

	// Receive returns a Go channel emitting incoming messages (commands).
	Receive() <-chan *IncomingMessage

	// IsConnected reports connection state.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// IncomingMessage is a message received from a chat platform.
type IncomingMessage struct {
	// ID is the platform message identifier.
	ID string

	// Channel identifies the source platform (e.g. "discord").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name, if available.
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// Content is the text content.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage is a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content.
	Content string

	// ReplyTo is the ID of the message being replied to, if any.
	ReplyTo string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int64
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrUnknownChannel      = fmt.Errorf("unknown channel")
)

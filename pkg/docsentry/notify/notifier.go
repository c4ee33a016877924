// Package notify fans change notifications out to watcher chat channels.
// Delivery is best-effort at-most-once: a failed send is logged and counted,
// never retried from a durable queue.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Notifier delivers a formatted message to one chat channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, message string) error
}

// Manager routes notifications to registered chat channels and fans a
// single change out to every watcher. Watcher channel IDs may carry a
// platform prefix ("discord:123456"); unprefixed IDs go to the default
// channel.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]channels.Channel
	def      string

	sent   atomic.Int64
	failed atomic.Int64

	logger *slog.Logger
}

// NewManager creates a notification manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]channels.Channel),
		logger:   logger.With("component", "notify"),
	}
}

// Register adds a chat channel. The first registered channel becomes the
// default target for unprefixed channel IDs.
func (m *Manager) Register(ch channels.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	if m.def == "" {
		m.def = ch.Name()
	}
}

// Channels returns the registered channels.
func (m *Manager) Channels() []channels.Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]channels.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// resolve splits a watcher channel ID into (platform channel, chat ID).
func (m *Manager) resolve(channelID string) (channels.Channel, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, chatID := m.def, channelID
	if i := strings.IndexByte(channelID, ':'); i > 0 {
		if _, ok := m.channels[channelID[:i]]; ok {
			name, chatID = channelID[:i], channelID[i+1:]
		}
	}
	ch, ok := m.channels[name]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", channels.ErrUnknownChannel, channelID)
	}
	return ch, chatID, nil
}

// Notify delivers one message to one watcher channel.
func (m *Manager) Notify(ctx context.Context, channelID, message string) error {
	ch, chatID, err := m.resolve(channelID)
	if err != nil {
		m.failed.Add(1)
		return err
	}
	if err := ch.Send(ctx, chatID, &channels.OutgoingMessage{Content: message}); err != nil {
		m.failed.Add(1)
		return err
	}
	m.sent.Add(1)
	return nil
}

// Fanout sends the message to every watcher of a document. Per-watcher
// failures are isolated; the returned count is successful deliveries.
func (m *Manager) Fanout(ctx context.Context, watchers []tracking.Watcher, message string) int {
	delivered := 0
	for _, w := range watchers {
		if err := m.Notify(ctx, w.ChannelID, message); err != nil {
			m.logger.Error("notification delivery failed",
				"channel", w.ChannelID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Counters returns lifetime sent/failed delivery counts.
func (m *Manager) Counters() (sent, failed int64) {
	return m.sent.Load(), m.failed.Load()
}

// Package discord implements the Discord channel for DocSentry using
// discordgo. It forwards messages addressed to the bot as commands and
// delivers change notifications to watcher channels.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// Trigger is the command prefix the bot reacts to (e.g. "!docs").
	// Mentions of the bot work regardless of the trigger.
	Trigger string `yaml:"trigger"`

	// AllowedGuilds restricts which guild IDs the bot responds in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Trigger: "!docs"}
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages carries incoming commands to the service layer.
	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	errorCount atomic.Int64
	lastMsg    atomic.Value // time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Trigger == "" {
		cfg.Trigger = DefaultConfig().Trigger
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.connected.Store(true)
		d.logger.Info("discord connected", "user", r.User.Username)
	})
	session.AddHandler(func(s *discordgo.Session, dc *discordgo.Disconnect) {
		d.connected.Store(false)
		d.logger.Warn("discord gateway disconnected, discordgo will reconnect")
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("%w: %v", channels.ErrChannelDisconnected, err)
	}
	d.session = session
	d.connected.Store(true)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.connected.Store(false)
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("discord: close session: %w", err)
		}
	}
	return nil
}

// Send delivers a message to a Discord channel.
func (d *Discord) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error {
	if !d.connected.Load() || d.session == nil {
		return channels.ErrChannelDisconnected
	}

	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: chatID}
	}
	if _, err := d.session.ChannelMessageSendComplex(chatID, send); err != nil {
		d.errorCount.Add(1)
		return fmt.Errorf("discord: send to %s: %w", chatID, err)
	}
	return nil
}

// Receive returns the incoming command stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected reports gateway connection state.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns channel health.
func (d *Discord) Health() channels.HealthStatus {
	var last time.Time
	if v := d.lastMsg.Load(); v != nil {
		last = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: last,
		ErrorCount:    d.errorCount.Load(),
		Details:       map[string]any{"trigger": d.cfg.Trigger},
	}
}

// onMessageCreate filters and forwards messages addressed to the bot.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !d.guildAllowed(m.GuildID) || !d.channelAllowed(m.ChannelID) {
		return
	}

	content, addressed := d.stripAddressing(s, m)
	if !addressed {
		return
	}

	d.lastMsg.Store(time.Now())
	msg := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   d.Name(),
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Content:   content,
		Timestamp: m.Timestamp,
	}

	select {
	case d.messages <- msg:
	default:
		// Command buffer full; drop rather than block the gateway handler.
		d.errorCount.Add(1)
		d.logger.Warn("incoming message buffer full, dropping command", "chat", m.ChannelID)
	}
}

// stripAddressing returns the command text without the trigger prefix or
// bot mention, and whether the message was addressed to the bot at all.
// DMs are always addressed.
func (d *Discord) stripAddressing(s *discordgo.Session, m *discordgo.MessageCreate) (string, bool) {
	content := strings.TrimSpace(m.Content)

	if strings.HasPrefix(strings.ToLower(content), strings.ToLower(d.cfg.Trigger)) {
		return strings.TrimSpace(content[len(d.cfg.Trigger):]), true
	}
	if s.State != nil && s.State.User != nil {
		mention := "<@" + s.State.User.ID + ">"
		if strings.HasPrefix(content, mention) {
			return strings.TrimSpace(strings.TrimPrefix(content, mention)), true
		}
	}
	if m.GuildID == "" {
		return content, true
	}
	return "", false
}

func (d *Discord) guildAllowed(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 || guildID == "" {
		return true
	}
	for _, g := range d.cfg.AllowedGuilds {
		if g == guildID {
			return true
		}
	}
	return false
}

func (d *Discord) channelAllowed(channelID string) bool {
	if len(d.cfg.AllowedChannels) == 0 {
		return true
	}
	for _, c := range d.cfg.AllowedChannels {
		if c == channelID {
			return true
		}
	}
	return false
}

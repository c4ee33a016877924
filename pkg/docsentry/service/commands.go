package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels"
)

// HandleCommand parses and executes one chat command, returning the reply
// text. Supported commands:
//
//	watch <token> [doc-type]
//	unwatch <token>
//	list
//	changes <token> [limit-ignored]
//	status
//	help
func (s *Service) HandleCommand(ctx context.Context, msg *channels.IncomingMessage) string {
	fields := strings.Fields(msg.Content)
	if len(fields) == 0 {
		return helpText
	}
	channelID := msg.Channel + ":" + msg.ChatID

	switch strings.ToLower(fields[0]) {
	case "watch":
		if len(fields) < 2 {
			return "Usage: watch <token> [doc-type]"
		}
		docType := ""
		if len(fields) >= 3 {
			docType = fields[2]
		}
		ack, err := s.Watch(ctx, fields[1], docType, channelID, msg.From)
		if err != nil {
			return UserError(err)
		}
		return renderWatchAck(ack)

	case "unwatch":
		if len(fields) < 2 {
			return "Usage: unwatch <token>"
		}
		ack, err := s.Unwatch(ctx, fields[1], channelID)
		if err != nil {
			return UserError(err)
		}
		if ack.Removed {
			return fmt.Sprintf("Stopped watching %s. No watchers remain; tracking removed.", ack.Token)
		}
		return fmt.Sprintf("Stopped watching %s in this channel.", ack.Token)

	case "list":
		docs := s.ListTracked(channelID)
		if len(docs) == 0 {
			return "No documents watched in this channel. Use `watch <token>` to add one."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Watching %d document(s):\n", len(docs))
		for _, d := range docs {
			name := d.Title
			if name == "" {
				name = d.Token
			}
			fmt.Fprintf(&b, "• %s (%s, %s)", name, d.DocType, d.Status)
			if d.LastKnownState != nil {
				fmt.Fprintf(&b, " — last edit by %s at %s",
					d.LastKnownState.EditorID,
					d.LastKnownState.EditedAt.UTC().Format(time.RFC3339))
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")

	case "changes":
		if len(fields) < 2 {
			return "Usage: changes <token>"
		}
		events, err := s.RecentChanges(fields[1], 10)
		if err != nil {
			return UserError(err)
		}
		if len(events) == 0 {
			return "No recorded changes for that document."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Last %d change(s) for %s:\n", len(events), fields[1])
		for _, ev := range events {
			fmt.Fprintf(&b, "• %s by %s at %s (%s)\n",
				ev.ChangeType, ev.EditorID,
				ev.EditedAt.UTC().Format(time.RFC3339), ev.DetectedVia)
		}
		return strings.TrimRight(b.String(), "\n")

	case "status":
		snap := s.Status()
		return fmt.Sprintf("Status: %s — %d tracked, %d errored, %d notifications in the last window, oldest unpolled %s",
			snap.Status, snap.TrackedCount, snap.ErrorCount,
			snap.NotificationsSentLastWindow,
			snap.OldestUnpolledDuration.Round(time.Second))

	default:
		return helpText
	}
}

func renderWatchAck(ack *WatchAck) string {
	name := ack.Title
	if name == "" {
		name = ack.Token
	}
	if ack.AlreadyWatched {
		return fmt.Sprintf("Already watching %s in this channel.", name)
	}
	reply := fmt.Sprintf("Now watching %s (%s). You'll be notified here when it changes.", name, ack.DocType)
	if ack.Warning != "" {
		reply += "\n⚠ " + ack.Warning
	}
	return reply
}

const helpText = "Commands: `watch <token> [doc-type]`, `unwatch <token>`, `list`, `changes <token>`, `status`"

// ListenChannel consumes commands from a chat channel until ctx is done,
// replying on the same chat.
func (s *Service) ListenChannel(ctx context.Context, ch channels.Channel, logger *slog.Logger) {
	if logger == nil {
		logger = s.logger
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Receive():
			if !ok {
				return
			}
			reply := s.HandleCommand(ctx, msg)
			if reply == "" {
				continue
			}
			if err := ch.Send(ctx, msg.ChatID, &channels.OutgoingMessage{
				Content: reply,
				ReplyTo: msg.ID,
			}); err != nil {
				logger.Error("command reply failed",
					"channel", ch.Name(), "chat", msg.ChatID, "error", err)
			}
		}
	}
}

// Package service is DocSentry's command layer: it owns the tracking
// pipeline shared by the poller and the webhook ingestor, and exposes the
// watch/unwatch/list/status operations users and the gateway call.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/docsentry/pkg/docsentry/health"
	"github.com/jholhewres/docsentry/pkg/docsentry/provider"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Notifier fans a message out to watcher channels.
type Notifier interface {
	Fanout(ctx context.Context, watchers []tracking.Watcher, message string) int
}

// EventLog is the persistence collaborator for the change-event history.
type EventLog interface {
	LogChangeEvent(ev tracking.ChangeEvent) error
	RecentChanges(token string, limit int) ([]tracking.ChangeEvent, error)
}

// Service wires the tracking engine to its collaborators. Construct one per
// process with explicit dependencies; there is no package-level singleton.
type Service struct {
	store    *tracking.Store
	debounce *tracking.Debouncer
	provider provider.Client
	notifier Notifier
	events   EventLog
	reporter *health.Reporter
	logger   *slog.Logger
}

// New creates the service.
func New(store *tracking.Store, debounce *tracking.Debouncer, prov provider.Client,
	notifier Notifier, events EventLog, reporter *health.Reporter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		debounce: debounce,
		provider: prov,
		notifier: notifier,
		events:   events,
		reporter: reporter,
		logger:   logger.With("component", "service"),
	}
}

// Store exposes the tracking store to the poller and gateway.
func (s *Service) Store() *tracking.Store { return s.store }

// WatchAck acknowledges a watch request.
type WatchAck struct {
	Token   string           `json:"token"`
	DocType tracking.DocType `json:"doc_type"`
	Title   string           `json:"title,omitempty"`

	// AlreadyWatched is true when this channel was already watching.
	AlreadyWatched bool `json:"already_watched"`

	// PushActive is false when the provider subscription failed and the
	// document is tracked by polling only.
	PushActive bool `json:"push_active"`

	// Warning carries the user-facing note for polling-only fallback.
	Warning string `json:"warning,omitempty"`
}

// Watch registers a channel's interest in a document. The first watch of a
// token creates the entry, registers a provider push subscription, and
// seeds the baseline state from a metadata fetch. A subscription failure is
// surfaced as a warning while tracking falls back to polling only.
func (s *Service) Watch(ctx context.Context, token, docType, channelID, requestedBy string) (*WatchAck, error) {
	canonical := tracking.NormalizeDocType(docType)
	doc, added, err := s.store.Register(token, canonical, tracking.Watcher{
		ChannelID:   channelID,
		RequestedBy: requestedBy,
	})
	if err != nil {
		return nil, err
	}

	ack := &WatchAck{
		Token:          token,
		DocType:        canonical,
		Title:          doc.Title,
		AlreadyWatched: !added,
		PushActive:     doc.SubscriptionID != "",
	}
	if !added || len(doc.Watchers) > 1 {
		// Entry existed before this call; subscription and baseline are
		// already handled.
		return ack, nil
	}

	if subID, err := s.provider.Subscribe(ctx, token, string(canonical)); err != nil {
		s.logger.Warn("push subscription failed, tracking by polling only",
			"token", token, "error", err)
		ack.Warning = "change-event subscription failed; tracking by polling only"
	} else {
		s.store.SetSubscription(token, subID)
		ack.PushActive = true
	}

	// Seed the baseline now so the first poll tick compares against real
	// state instead of notifying on its own seed. Best-effort: a failed
	// fetch just defers seeding to the first successful tick.
	if meta, err := s.provider.FetchMetadata(ctx, token); err == nil {
		s.store.UpdateState(token, stateFromMetadata(meta), tracking.SourcePoll)
		ack.Title = meta.Title
	}
	return ack, nil
}

// UnwatchAck acknowledges an unwatch request.
type UnwatchAck struct {
	Token string `json:"token"`

	// Removed is true when the last watcher left and the entry was dropped.
	Removed bool `json:"removed"`
}

// Unwatch removes a channel's interest in a document. When the last watcher
// leaves, the entry is removed and the provider subscription reversed.
func (s *Service) Unwatch(ctx context.Context, token, channelID string) (*UnwatchAck, error) {
	doc := s.store.Get(token)
	removed, err := s.store.Unregister(token, channelID)
	if err != nil {
		return nil, err
	}
	if removed && doc != nil && doc.SubscriptionID != "" {
		if err := s.provider.Unsubscribe(ctx, doc.SubscriptionID); err != nil {
			// The entry is already gone; a dangling provider subscription
			// only produces events for an unknown token, which the
			// ingestor drops.
			s.logger.Warn("unsubscribe failed", "token", token, "error", err)
		}
	}
	return &UnwatchAck{Token: token, Removed: removed}, nil
}

// ListTracked returns tracked documents. A non-empty channelID filters to
// documents that channel watches.
func (s *Service) ListTracked(channelID string) []*tracking.TrackedDocument {
	docs := s.store.List()
	if channelID == "" {
		return docs
	}
	out := docs[:0]
	for _, d := range docs {
		if d.HasWatcher(channelID) {
			out = append(out, d)
		}
	}
	return out
}

// RecentChanges returns the persisted change history for a token.
func (s *Service) RecentChanges(token string, limit int) ([]tracking.ChangeEvent, error) {
	return s.events.RecentChanges(token, limit)
}

// Status returns the health snapshot.
func (s *Service) Status() health.Snapshot {
	return s.reporter.Snapshot()
}

// Apply runs one observation through the shared pipeline:
// UpdateState → Detect → Debounce → fan-out + event log. Both the poller
// and the webhook ingestor call this and nothing else, so push and pull
// can never drift apart in behavior. Returns whether a notification was
// dispatched.
func (s *Service) Apply(ctx context.Context, obs tracking.Observation) bool {
	prev, applied := s.store.UpdateState(obs.Token, obs.State, obs.Via)
	if !applied {
		return false
	}

	result := tracking.Detect(prev, obs.State, obs.Via)
	if result == nil {
		// Baseline seeded.
		return false
	}

	now := time.Now()
	if !s.debounce.TryClaim(obs.Token, result, now) {
		// State already advanced; the next claimed notification carries
		// the latest editor and time.
		return false
	}

	doc := s.store.Get(obs.Token)
	if doc == nil {
		// Unwatched between update and dispatch.
		return false
	}

	message := result.Summary(doc.Title, doc.Token)
	delivered := s.notifier.Fanout(ctx, doc.Watchers, message)
	if s.reporter != nil {
		s.reporter.RecordNotification(now)
	}
	s.logger.Info("change notification dispatched",
		"token", obs.Token,
		"change_type", result.Type,
		"via", obs.Via,
		"watchers", len(doc.Watchers),
		"delivered", delivered,
	)

	// Best-effort history write: a persistence failure never blocks or
	// rolls back a delivered notification.
	ev := tracking.ChangeEvent{
		ID:          uuid.NewString(),
		Token:       obs.Token,
		ChangeType:  result.Type,
		EditorID:    obs.State.EditorID,
		EditedAt:    obs.State.EditedAt,
		DetectedVia: obs.Via,
	}
	if err := s.events.LogChangeEvent(ev); err != nil {
		s.logger.Error("change event persistence failed", "token", obs.Token, "error", err)
	}
	return true
}

// stateFromMetadata converts provider metadata to tracking state.
func stateFromMetadata(m *provider.Metadata) tracking.State {
	return tracking.State{
		EditedAt: m.EditedAt,
		EditorID: m.EditorID,
		Revision: m.Revision,
		Title:    m.Title,
	}
}

// UserError renders service errors for chat replies; non-user errors get a
// generic line so internals never leak into channels.
func UserError(err error) string {
	switch {
	case errors.Is(err, tracking.ErrInvalidToken):
		return "That document token looks invalid. Tokens are short opaque IDs from the document platform."
	case errors.Is(err, tracking.ErrNotTracked):
		return "That document is not being watched here."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}

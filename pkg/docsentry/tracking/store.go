package tracking

import (
	"log/slog"
	"sync"
	"time"
)

// Store is the in-memory registry of watched documents. It is the single
// shared mutable resource between the poller and the webhook ingestor; every
// mutation happens under the store lock so push/poll races cannot lose
// updates or corrupt a watcher set.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]*TrackedDocument
	logger *slog.Logger
}

// NewStore creates an empty tracking store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		docs:   make(map[string]*TrackedDocument),
		logger: logger.With("component", "tracking"),
	}
}

// Register adds a watcher to a token, creating the entry on first watch.
// Registering an already-tracked token adds the watcher instead of creating
// a duplicate entry; re-registering the same (token, watcher) pair is a
// no-op. Returns the entry snapshot and whether the watcher was newly added.
func (s *Store) Register(token string, docType DocType, w Watcher) (*TrackedDocument, bool, error) {
	if err := ValidateToken(token); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[token]
	if !ok {
		doc = &TrackedDocument{
			Token:        token,
			DocType:      docType,
			Watchers:     []Watcher{w},
			RegisteredAt: time.Now(),
			Status:       StatusActive,
		}
		s.docs[token] = doc
		s.logger.Info("document registered", "token", token, "doc_type", docType, "channel", w.ChannelID)
		return doc.clone(), true, nil
	}

	if doc.HasWatcher(w.ChannelID) {
		return doc.clone(), false, nil
	}
	doc.Watchers = append(doc.Watchers, w)
	s.logger.Info("watcher added", "token", token, "channel", w.ChannelID, "watchers", len(doc.Watchers))
	return doc.clone(), true, nil
}

// Unregister removes a channel's watcher from a token. When the last watcher
// is removed the entry itself is deleted. Returns whether the entry was
// removed entirely. Unknown tokens and non-watching channels yield
// ErrNotTracked, never a fatal failure.
func (s *Store) Unregister(token, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[token]
	if !ok {
		return false, ErrNotTracked
	}

	idx := -1
	for i, w := range doc.Watchers {
		if w.ChannelID == channelID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrNotTracked
	}

	doc.Watchers = append(doc.Watchers[:idx], doc.Watchers[idx+1:]...)
	if len(doc.Watchers) > 0 {
		s.logger.Info("watcher removed", "token", token, "channel", channelID, "watchers", len(doc.Watchers))
		return false, nil
	}

	doc.Status = StatusDeregistering
	delete(s.docs, token)
	s.logger.Info("document deregistered", "token", token)
	return true, nil
}

// Get returns a snapshot of the entry for token, or nil if not tracked.
func (s *Store) Get(token string) *TrackedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[token]; ok {
		return doc.clone()
	}
	return nil
}

// List returns snapshots of all tracked documents.
func (s *Store) List() []*TrackedDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*TrackedDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.clone())
	}
	return out
}

// Tokens returns the current token set. The poller snapshots this at tick
// start; registrations during a tick apply on the next tick.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for token := range s.docs {
		out = append(out, token)
	}
	return out
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// UpdateState applies an observation to a token's entry. The previous state
// is returned alongside whether the observation was applied, so the caller
// can run change detection against the exact state that was replaced.
//
// Rejection rules: observations for unknown tokens are dropped (an in-flight
// poll tick may race an unwatch; the result must not resurrect the entry),
// and an observation whose EditedAt is not strictly newer than the stored
// state is rejected. First observations always seed the baseline.
func (s *Store) UpdateState(token string, obs State, via Source) (prev *State, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[token]
	if !ok {
		return nil, false
	}

	now := time.Now()
	switch via {
	case SourcePush:
		doc.LastWebhookAt = now
	default:
		doc.LastPolledAt = now
	}
	doc.ConsecutiveFailures = 0
	if doc.Status == StatusError {
		doc.Status = StatusActive
	}

	if doc.LastKnownState != nil && !obs.EditedAt.After(doc.LastKnownState.EditedAt) {
		return nil, false
	}

	prev = doc.LastKnownState
	st := obs
	doc.LastKnownState = &st
	if prev == nil {
		// The baseline seed anchors the debounce window: coalescable edits
		// arriving right after a watch are suppressed, not passed through
		// on a zero timestamp.
		doc.LastNotifiedAt = now
	}
	if obs.Title != "" {
		doc.Title = obs.Title
	}
	return prev, true
}

// TryMarkNotified atomically decides whether a notification for token may
// dispatch at `now` and, when it may, records the dispatch time. The window
// check and the timestamp write happen under one lock acquisition: two
// concurrent dispatch attempts for the same token (a push racing a poll)
// cannot both claim inside one window. Non-coalescable changes always claim;
// unknown tokens never do.
func (s *Store) TryMarkNotified(token string, now time.Time, window time.Duration, coalescable bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[token]
	if !ok {
		return false
	}
	if coalescable && !doc.LastNotifiedAt.IsZero() && now.Sub(doc.LastNotifiedAt) < window {
		return false
	}
	doc.LastNotifiedAt = now
	return true
}

// RecordFetchFailure counts a provider fetch failure for token and flips the
// entry to error status once failures reach the threshold. Returns the new
// consecutive failure count, or 0 if the token is no longer tracked.
func (s *Store) RecordFetchFailure(token string, threshold int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[token]
	if !ok {
		return 0
	}
	doc.ConsecutiveFailures++
	doc.LastPolledAt = time.Now()
	if threshold > 0 && doc.ConsecutiveFailures >= threshold && doc.Status == StatusActive {
		doc.Status = StatusError
		s.logger.Warn("document moved to error status",
			"token", token, "consecutive_failures", doc.ConsecutiveFailures)
	}
	return doc.ConsecutiveFailures
}

// SetSubscription records the provider push subscription for token.
// An empty id means the document is tracked by polling only.
func (s *Store) SetSubscription(token, subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[token]; ok {
		doc.SubscriptionID = subscriptionID
	}
}

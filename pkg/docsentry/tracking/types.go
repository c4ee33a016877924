// Package tracking implements the document change tracking engine: the
// registry of watched documents, the change detector, and the notification
// debouncer. Observations flow in from the poller and the webhook ingestor
// through a single UpdateState+Detect pipeline.
package tracking

import (
	"errors"
	"strings"
	"time"
)

// DocType identifies the kind of remote document.
type DocType string

const (
	DocTypeDocx    DocType = "docx"
	DocTypeSheet   DocType = "sheet"
	DocTypeWiki    DocType = "wiki"
	DocTypeBitable DocType = "bitable"
	DocTypeSlides  DocType = "slides"
)

// docTypeAliases collapses provider-specific names to canonical types.
var docTypeAliases = map[string]DocType{
	"doc":          DocTypeDocx,
	"docx":         DocTypeDocx,
	"document":     DocTypeDocx,
	"sheet":        DocTypeSheet,
	"sheets":       DocTypeSheet,
	"spreadsheet":  DocTypeSheet,
	"wiki":         DocTypeWiki,
	"wiki_node":    DocTypeWiki,
	"bitable":      DocTypeBitable,
	"base":         DocTypeBitable,
	"slides":       DocTypeSlides,
	"presentation": DocTypeSlides,
}

// NormalizeDocType maps a provider doc-type name to its canonical DocType.
// Unknown names fall back to docx so a provider rollout of a new alias
// degrades to generic document tracking instead of rejecting the watch.
func NormalizeDocType(raw string) DocType {
	if t, ok := docTypeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return t
	}
	return DocTypeDocx
}

// Source identifies which ingestion path produced an observation.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Status is the lifecycle status of a tracked document.
type Status string

const (
	StatusActive        Status = "active"
	StatusError         Status = "error"
	StatusDeregistering Status = "deregistering"
)

// Watcher is a (chat channel, requester) pair registered on a token.
type Watcher struct {
	ChannelID   string `json:"channel_id"`
	RequestedBy string `json:"requested_by"`
}

// State is the last observed edit metadata for a document.
type State struct {
	// EditedAt is the provider's last-edit timestamp. Monotonicity of this
	// field is the sole ordering contract between the poll and push paths.
	EditedAt time.Time `json:"edited_at"`

	// EditorID identifies who made the edit.
	EditorID string `json:"editor_id"`

	// Revision is the provider revision/version marker, if available.
	Revision string `json:"revision,omitempty"`

	// Title is the document title at observation time.
	Title string `json:"title,omitempty"`
}

// Observation is a normalized snapshot of a document's edit metadata,
// regardless of whether it came from a webhook push or a poll fetch.
type Observation struct {
	Token   string
	DocType DocType
	State   State
	Via     Source
}

// TrackedDocument is one entry in the tracking store.
type TrackedDocument struct {
	Token   string  `json:"token"`
	DocType DocType `json:"doc_type"`
	Title   string  `json:"title,omitempty"`

	// Watchers holds every (channel, requester) pair watching this token.
	Watchers []Watcher `json:"watchers"`

	// LastKnownState is nil until the first observation seeds the baseline.
	LastKnownState *State `json:"last_known_state,omitempty"`

	// LastNotifiedAt drives the debounce window.
	LastNotifiedAt time.Time `json:"last_notified_at,omitempty"`

	RegisteredAt  time.Time `json:"registered_at"`
	LastPolledAt  time.Time `json:"last_polled_at,omitempty"`
	LastWebhookAt time.Time `json:"last_webhook_at,omitempty"`

	Status Status `json:"status"`

	// ConsecutiveFailures counts provider fetch failures since the last
	// successful observation. Crossing the configured threshold flips
	// Status to error; the document stays tracked.
	ConsecutiveFailures int `json:"consecutive_failures,omitempty"`

	// SubscriptionID is the provider push subscription, empty when the
	// document is tracked by polling only.
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// HasWatcher reports whether the given channel is already watching.
func (d *TrackedDocument) HasWatcher(channelID string) bool {
	for _, w := range d.Watchers {
		if w.ChannelID == channelID {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand outside the store lock.
func (d *TrackedDocument) clone() *TrackedDocument {
	c := *d
	c.Watchers = append([]Watcher(nil), d.Watchers...)
	if d.LastKnownState != nil {
		s := *d.LastKnownState
		c.LastKnownState = &s
	}
	return &c
}

// ChangeType classifies a detected change.
type ChangeType string

const (
	// ChangeSameEditor is a content edit by the same editor as the previous
	// observation. These are the primary debounce target.
	ChangeSameEditor ChangeType = "same-editor-edit"

	// ChangeDifferentEditor is an edit by a different editor. Never
	// coalesced: two people editing must each be visible.
	ChangeDifferentEditor ChangeType = "different-editor-edit"

	// ChangeMetadataOnly covers renames and other non-content changes
	// (the revision marker did not move).
	ChangeMetadataOnly ChangeType = "metadata-only"
)

// ChangeEvent is the transient record handed to the persistence collaborator.
type ChangeEvent struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	ChangeType  ChangeType `json:"change_type"`
	EditorID    string     `json:"editor_id"`
	EditedAt    time.Time  `json:"edited_at"`
	DetectedVia Source     `json:"detected_via"`
}

// Errors.
var (
	ErrInvalidToken = errors.New("invalid document token")
	ErrNotTracked   = errors.New("document is not tracked")
)

// maxTokenLen bounds token length; provider tokens are well under this.
const maxTokenLen = 128

// ValidateToken rejects empty, oversized, or whitespace-bearing tokens.
func ValidateToken(token string) error {
	if token == "" || len(token) > maxTokenLen {
		return ErrInvalidToken
	}
	for _, r := range token {
		if r <= ' ' || r > '~' {
			return ErrInvalidToken
		}
	}
	return nil
}

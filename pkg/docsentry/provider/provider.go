// Package provider defines the document platform client: metadata fetches
// for the poller and change-event subscriptions for the webhook path.
package provider

import (
	"context"
	"errors"
	"time"
)

// Metadata is the provider's view of a document at fetch time.
type Metadata struct {
	Token    string    `json:"token"`
	DocType  string    `json:"doc_type"`
	Title    string    `json:"title"`
	EditorID string    `json:"editor_id"`
	Revision string    `json:"revision,omitempty"`
	EditedAt time.Time `json:"edited_at"`
}

// BatchResult holds per-token outcomes of a batched metadata fetch.
// A failed token carries an error without affecting its batch siblings.
type BatchResult struct {
	Metadata map[string]*Metadata
	Errors   map[string]error
}

// Client is the document platform API surface DocSentry consumes.
type Client interface {
	// FetchMetadata returns current edit metadata for one document.
	FetchMetadata(ctx context.Context, token string) (*Metadata, error)

	// BatchFetchMetadata fetches metadata for many documents in as few
	// requests as the platform allows. Failures are isolated per token.
	BatchFetchMetadata(ctx context.Context, tokens []string) *BatchResult

	// Subscribe registers a change-event push subscription for a document
	// and returns the subscription ID.
	Subscribe(ctx context.Context, token, docType string) (string, error)

	// Unsubscribe removes a push subscription.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// Errors.
var (
	// ErrFetch marks transient metadata-fetch failures. Counted toward
	// health degradation, retried on the next tick, never user-surfaced.
	ErrFetch = errors.New("provider fetch failed")

	// ErrSubscribe marks push-subscription failures. Surfaced to the user
	// issuing the watch; tracking falls back to polling only.
	ErrSubscribe = errors.New("provider subscription failed")

	// ErrNotFound means the platform does not know the token.
	ErrNotFound = errors.New("document not found")
)

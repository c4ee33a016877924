package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

type captureSink struct {
	store *tracking.Store
	seen  []tracking.Observation
}

func (c *captureSink) Apply(ctx context.Context, obs tracking.Observation) bool {
	c.seen = append(c.seen, obs)
	prev, applied := c.store.UpdateState(obs.Token, obs.State, obs.Via)
	if !applied {
		return false
	}
	return tracking.Detect(prev, obs.State, obs.Via) != nil
}

func eventJSON(token string, editTime int64, editor string) []byte {
	return []byte(fmt.Sprintf(`{
		"header": {"event_id": "ev-1", "event_type": "drive.file.edit_v1"},
		"event": {"file_token": %q, "file_type": "docx", "operator_id": %q, "edit_time": %d}
	}`, token, editor, editTime))
}

func TestOnEvent(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("tracked token flows through the pipeline", func(t *testing.T) {
		store := tracking.NewStore(nil)
		store.Register("tok1", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		sink := &captureSink{store: store}
		ing := New(sink, store, nil)

		if err := ing.OnEvent(context.Background(), eventJSON("tok1", base.Unix(), "u1")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(sink.seen) != 1 {
			t.Fatalf("expected 1 observation, got %d", len(sink.seen))
		}
		obs := sink.seen[0]
		if obs.Via != tracking.SourcePush {
			t.Errorf("expected push source, got %s", obs.Via)
		}
		if !obs.State.EditedAt.Equal(base) {
			t.Errorf("expected editedAt %v, got %v", base, obs.State.EditedAt)
		}
	})

	t.Run("unknown token is dropped without error", func(t *testing.T) {
		store := tracking.NewStore(nil)
		sink := &captureSink{store: store}
		ing := New(sink, store, nil)

		if err := ing.OnEvent(context.Background(), eventJSON("ghost", base.Unix(), "u1")); err != nil {
			t.Fatalf("expected nil error for unknown token, got %v", err)
		}
		if len(sink.seen) != 0 {
			t.Errorf("expected no observations, got %d", len(sink.seen))
		}
	})

	t.Run("redelivery dedupes through stale rejection", func(t *testing.T) {
		store := tracking.NewStore(nil)
		store.Register("tok1", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		sink := &captureSink{store: store}
		ing := New(sink, store, nil)

		raw := eventJSON("tok1", base.Unix(), "u1")
		ing.OnEvent(context.Background(), raw)
		ing.OnEvent(context.Background(), raw) // provider redelivery

		doc := store.Get("tok1")
		if !doc.LastKnownState.EditedAt.Equal(base) {
			t.Errorf("unexpected state: %+v", doc.LastKnownState)
		}
		// Both deliveries reach the sink; the store rejects the second.
		if len(sink.seen) != 2 {
			t.Fatalf("expected 2 deliveries, got %d", len(sink.seen))
		}
	})

	t.Run("malformed payloads are rejected", func(t *testing.T) {
		store := tracking.NewStore(nil)
		ing := New(&captureSink{store: store}, store, nil)

		if err := ing.OnEvent(context.Background(), []byte("not json")); err == nil {
			t.Error("expected error for invalid JSON")
		}
		if err := ing.OnEvent(context.Background(), []byte(`{"event":{}}`)); err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestServer fakes the platform API: token exchange, batch metadata,
// subscribe, unsubscribe.
func newTestServer(t *testing.T, metas map[string]metaPayload) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var tokenCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/tenant_token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"tenant_access_token": "t-abc",
			"expire":              7200,
		})
	})
	mux.HandleFunc("/v1/docs/meta/batch_query", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in struct {
			Tokens []string `json:"tokens"`
		}
		json.NewDecoder(r.Body).Decode(&in)
		var out struct {
			Metas []metaPayload `json:"metas"`
		}
		for _, tok := range in.Tokens {
			if m, ok := metas[tok]; ok {
				out.Metas = append(out.Metas, m)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/v1/docs/events/subscribe", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"subscription_id": "sub-1"})
	})
	mux.HandleFunc("/v1/docs/events/subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func testClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.AppID = "app"
	cfg.AppSecret = "secret"
	return NewHTTPClient(cfg, nil)
}

func TestFetchMetadata(t *testing.T) {
	editedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	srv, tokenCalls := newTestServer(t, map[string]metaPayload{
		"tok1": {Token: "tok1", DocType: "docx", Title: "Budget", LatestModifyID: "u1", LatestModifyAt: editedAt.Unix(), Revision: "5"},
	})
	c := testClient(t, srv.URL)

	t.Run("returns normalized metadata", func(t *testing.T) {
		m, err := c.FetchMetadata(context.Background(), "tok1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.EditorID != "u1" || m.Title != "Budget" || m.Revision != "5" {
			t.Errorf("unexpected metadata: %+v", m)
		}
		if !m.EditedAt.Equal(editedAt) {
			t.Errorf("expected editedAt %v, got %v", editedAt, m.EditedAt)
		}
	})

	t.Run("unknown token yields ErrNotFound", func(t *testing.T) {
		_, err := c.FetchMetadata(context.Background(), "ghost")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("tenant token is cached", func(t *testing.T) {
		before := tokenCalls.Load()
		c.FetchMetadata(context.Background(), "tok1")
		c.FetchMetadata(context.Background(), "tok1")
		if got := tokenCalls.Load() - before; got != 0 {
			t.Errorf("expected cached token, got %d extra exchanges", got)
		}
	})
}

func TestBatchFetchMetadata(t *testing.T) {
	editedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Unix()
	srv, _ := newTestServer(t, map[string]metaPayload{
		"tokA": {Token: "tokA", DocType: "docx", LatestModifyID: "u1", LatestModifyAt: editedAt},
		"tokB": {Token: "tokB", DocType: "sheet", LatestModifyID: "u2", LatestModifyAt: editedAt},
		"tokC": {Token: "tokC", Code: 91402, Msg: "forbidden"},
	})
	c := testClient(t, srv.URL)

	t.Run("per-token failure does not block siblings", func(t *testing.T) {
		res := c.BatchFetchMetadata(context.Background(), []string{"tokA", "tokC", "tokB", "ghost"})
		if len(res.Metadata) != 2 {
			t.Fatalf("expected 2 successes, got %d", len(res.Metadata))
		}
		if res.Metadata["tokA"] == nil || res.Metadata["tokB"] == nil {
			t.Errorf("missing sibling results: %+v", res.Metadata)
		}
		if !errors.Is(res.Errors["tokC"], ErrFetch) {
			t.Errorf("expected ErrFetch for tokC, got %v", res.Errors["tokC"])
		}
		if !errors.Is(res.Errors["ghost"], ErrNotFound) {
			t.Errorf("expected ErrNotFound for ghost, got %v", res.Errors["ghost"])
		}
	})

	t.Run("server failure marks whole chunk as fetch error", func(t *testing.T) {
		srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/auth/tenant_token" {
				json.NewEncoder(w).Encode(map[string]any{"tenant_access_token": "t", "expire": 7200})
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv2.Close()
		c2 := testClient(t, srv2.URL)

		res := c2.BatchFetchMetadata(context.Background(), []string{"x", "y"})
		for _, tok := range []string{"x", "y"} {
			if !errors.Is(res.Errors[tok], ErrFetch) {
				t.Errorf("token %s: expected ErrFetch, got %v", tok, res.Errors[tok])
			}
		}
	})

	t.Run("respects batch size chunking", func(t *testing.T) {
		var requests atomic.Int64
		srv3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/auth/tenant_token" {
				json.NewEncoder(w).Encode(map[string]any{"tenant_access_token": "t", "expire": 7200})
				return
			}
			requests.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"metas": []metaPayload{}})
		}))
		defer srv3.Close()

		cfg := DefaultConfig()
		cfg.BaseURL = srv3.URL
		cfg.BatchSize = 2
		c3 := NewHTTPClient(cfg, nil)
		c3.BatchFetchMetadata(context.Background(), []string{"a", "b", "c", "d", "e"})
		if requests.Load() != 3 {
			t.Errorf("expected 3 chunk requests for 5 tokens at size 2, got %d", requests.Load())
		}
	})
}

func TestSubscribe(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := testClient(t, srv.URL)

	t.Run("returns subscription id", func(t *testing.T) {
		id, err := c.Subscribe(context.Background(), "tok1", "docx")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "sub-1" {
			t.Errorf("expected sub-1, got %s", id)
		}
	})

	t.Run("failure wraps ErrSubscribe", func(t *testing.T) {
		srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/auth/tenant_token" {
				json.NewEncoder(w).Encode(map[string]any{"tenant_access_token": "t", "expire": 7200})
				return
			}
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv2.Close()
		c2 := testClient(t, srv2.URL)
		_, err := c2.Subscribe(context.Background(), "tok1", "docx")
		if !errors.Is(err, ErrSubscribe) {
			t.Errorf("expected ErrSubscribe, got %v", err)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	c := testClient(t, srv.URL)

	if err := c.Unsubscribe(context.Background(), "sub-1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

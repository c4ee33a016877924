package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/health"
	"github.com/jholhewres/docsentry/pkg/docsentry/provider"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// fakeProvider serves canned metadata and per-token failures.
type fakeProvider struct {
	mu    sync.Mutex
	metas map[string]*provider.Metadata
	fails map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		metas: make(map[string]*provider.Metadata),
		fails: make(map[string]error),
	}
}

func (f *fakeProvider) FetchMetadata(ctx context.Context, token string) (*provider.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fails[token]; ok {
		return nil, err
	}
	if m, ok := f.metas[token]; ok {
		return m, nil
	}
	return nil, provider.ErrNotFound
}

func (f *fakeProvider) BatchFetchMetadata(ctx context.Context, tokens []string) *provider.BatchResult {
	res := &provider.BatchResult{
		Metadata: make(map[string]*provider.Metadata),
		Errors:   make(map[string]error),
	}
	for _, t := range tokens {
		m, err := f.FetchMetadata(ctx, t)
		if err != nil {
			res.Errors[t] = err
			continue
		}
		res.Metadata[t] = m
	}
	return res
}

func (f *fakeProvider) Subscribe(ctx context.Context, token, docType string) (string, error) {
	return "sub-" + token, nil
}

func (f *fakeProvider) Unsubscribe(ctx context.Context, subscriptionID string) error {
	return nil
}

// recordingSink applies observations to the store and records them.
type recordingSink struct {
	store *tracking.Store

	mu       sync.Mutex
	applied  []tracking.Observation
	blockFor time.Duration
}

func (r *recordingSink) Apply(ctx context.Context, obs tracking.Observation) bool {
	if r.blockFor > 0 {
		time.Sleep(r.blockFor)
	}
	prev, applied := r.store.UpdateState(obs.Token, obs.State, obs.Via)
	if !applied {
		return false
	}
	r.mu.Lock()
	r.applied = append(r.applied, obs)
	r.mu.Unlock()
	return tracking.Detect(prev, obs.State, obs.Via) != nil
}

func newFixture() (*tracking.Store, *fakeProvider, *recordingSink, *health.Reporter) {
	store := tracking.NewStore(nil)
	prov := newFakeProvider()
	sink := &recordingSink{store: store}
	reporter := health.NewReporter(store, health.DefaultConfig())
	return store, prov, sink, reporter
}

func TestTick(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("zero tracked documents is a no-op", func(t *testing.T) {
		store, prov, sink, rep := newFixture()
		p := New(DefaultConfig(), store, prov, sink, rep, nil)
		res := p.Tick(context.Background())
		if res.Tokens != 0 || res.Applied != 0 || res.Failed != 0 {
			t.Errorf("expected empty result, got %+v", res)
		}
	})

	t.Run("fetch failure for one token does not block another", func(t *testing.T) {
		store, prov, sink, rep := newFixture()
		store.Register("tokA", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		store.Register("tokB", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		prov.fails["tokA"] = fmt.Errorf("%w: boom", provider.ErrFetch)
		prov.metas["tokB"] = &provider.Metadata{
			Token: "tokB", DocType: "docx", EditorID: "u1", EditedAt: base,
		}

		p := New(DefaultConfig(), store, prov, sink, rep, nil)
		res := p.Tick(context.Background())

		if res.Failed != 1 {
			t.Errorf("expected 1 failure, got %d", res.Failed)
		}
		if res.Applied != 1 {
			t.Errorf("expected 1 applied, got %d", res.Applied)
		}
		docB := store.Get("tokB")
		if docB.LastKnownState == nil || !docB.LastKnownState.EditedAt.Equal(base) {
			t.Errorf("tokB not updated: %+v", docB.LastKnownState)
		}
	})

	t.Run("consecutive failures move document to error but keep tracking", func(t *testing.T) {
		store, prov, sink, rep := newFixture()
		store.Register("tokA", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		prov.fails["tokA"] = fmt.Errorf("%w: down", provider.ErrFetch)

		cfg := DefaultConfig()
		cfg.FailureThreshold = 2
		p := New(cfg, store, prov, sink, rep, nil)
		p.Tick(context.Background())
		if store.Get("tokA").Status != tracking.StatusActive {
			t.Error("expected active after one failure")
		}
		p.Tick(context.Background())
		doc := store.Get("tokA")
		if doc.Status != tracking.StatusError {
			t.Errorf("expected error status, got %s", doc.Status)
		}

		// Recovery on the next successful fetch.
		delete(prov.fails, "tokA")
		prov.metas["tokA"] = &provider.Metadata{Token: "tokA", EditorID: "u1", EditedAt: base}
		p.Tick(context.Background())
		if store.Get("tokA").Status != tracking.StatusActive {
			t.Error("expected recovery to active status")
		}
	})

	t.Run("overlapping tick is skipped and counted", func(t *testing.T) {
		store, prov, sink, rep := newFixture()
		store.Register("tokA", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		prov.metas["tokA"] = &provider.Metadata{Token: "tokA", EditorID: "u1", EditedAt: base}
		sink.blockFor = 200 * time.Millisecond

		p := New(DefaultConfig(), store, prov, sink, rep, nil)

		done := make(chan Result, 1)
		go func() { done <- p.Tick(context.Background()) }()
		time.Sleep(50 * time.Millisecond) // first tick is inside the sink

		res := p.Tick(context.Background())
		if res.Tokens != 0 {
			t.Errorf("expected overlapping tick to be skipped, got %+v", res)
		}
		<-done
		if rep.Snapshot().TicksSkipped != 1 {
			t.Errorf("expected 1 skipped tick, got %d", rep.Snapshot().TicksSkipped)
		}
	})

	t.Run("unregister mid-tick does not resurrect the entry", func(t *testing.T) {
		store, prov, _, rep := newFixture()
		store.Register("tokA", tracking.DocTypeDocx, tracking.Watcher{ChannelID: "oc_1"})
		prov.metas["tokA"] = &provider.Metadata{Token: "tokA", EditorID: "u1", EditedAt: base}

		// Sink that unregisters the token before applying, simulating an
		// unwatch racing the in-flight tick.
		racySink := &unwatchingSink{store: store}
		p := New(DefaultConfig(), store, prov, racySink, rep, nil)
		p.Tick(context.Background())

		if store.Get("tokA") != nil {
			t.Error("removed entry was resurrected by in-flight tick")
		}
	})
}

type unwatchingSink struct {
	store *tracking.Store
}

func (u *unwatchingSink) Apply(ctx context.Context, obs tracking.Observation) bool {
	u.store.Unregister(obs.Token, "oc_1")
	_, applied := u.store.UpdateState(obs.Token, obs.State, obs.Via)
	return applied
}

func TestStartStop(t *testing.T) {
	store, prov, sink, rep := newFixture()
	cfg := DefaultConfig()
	cfg.Interval = time.Second
	p := New(cfg, store, prov, sink, rep, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
}

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jholhewres/docsentry/pkg/docsentry/channels"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// fakeChannel records sends and can be told to fail for specific chats.
type fakeChannel struct {
	name string

	mu    sync.Mutex
	sent  map[string][]string
	fails map[string]bool
}

func newFakeChannel(name string) *fakeChannel {
	return &fakeChannel{
		name:  name,
		sent:  make(map[string][]string),
		fails: make(map[string]bool),
	}
}

func (f *fakeChannel) Name() string                      { return f.name }
func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                 { return nil }
func (f *fakeChannel) IsConnected() bool                 { return true }
func (f *fakeChannel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: true}
}
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return nil }

func (f *fakeChannel) Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[chatID] {
		return errors.New("send failed")
	}
	f.sent[chatID] = append(f.sent[chatID], msg.Content)
	return nil
}

func (f *fakeChannel) sentTo(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

func TestNotify(t *testing.T) {
	t.Run("routes unprefixed id to default channel", func(t *testing.T) {
		m := NewManager(nil)
		fc := newFakeChannel("discord")
		m.Register(fc)

		if err := m.Notify(context.Background(), "oc_1", "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := fc.sentTo("oc_1"); len(got) != 1 || got[0] != "hello" {
			t.Errorf("unexpected deliveries: %v", got)
		}
	})

	t.Run("routes prefixed id to named channel", func(t *testing.T) {
		m := NewManager(nil)
		d := newFakeChannel("discord")
		s := newFakeChannel("slack")
		m.Register(d)
		m.Register(s)

		if err := m.Notify(context.Background(), "slack:C42", "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := s.sentTo("C42"); len(got) != 1 {
			t.Errorf("expected delivery to slack C42, got %v", got)
		}
		if got := d.sentTo("slack:C42"); len(got) != 0 {
			t.Errorf("expected no delivery on discord, got %v", got)
		}
	})

	t.Run("no channels yields ErrUnknownChannel", func(t *testing.T) {
		m := NewManager(nil)
		err := m.Notify(context.Background(), "oc_1", "hello")
		if !errors.Is(err, channels.ErrUnknownChannel) {
			t.Errorf("expected ErrUnknownChannel, got %v", err)
		}
	})
}

func TestFanout(t *testing.T) {
	t.Run("delivers to all watchers", func(t *testing.T) {
		m := NewManager(nil)
		fc := newFakeChannel("discord")
		m.Register(fc)

		watchers := []tracking.Watcher{
			{ChannelID: "oc_1", RequestedBy: "u1"},
			{ChannelID: "oc_2", RequestedBy: "u2"},
		}
		n := m.Fanout(context.Background(), watchers, "doc changed")
		if n != 2 {
			t.Errorf("expected 2 deliveries, got %d", n)
		}
		if len(fc.sentTo("oc_1")) != 1 || len(fc.sentTo("oc_2")) != 1 {
			t.Error("expected one delivery per watcher channel")
		}
	})

	t.Run("one failed watcher does not block the rest", func(t *testing.T) {
		m := NewManager(nil)
		fc := newFakeChannel("discord")
		fc.fails["oc_bad"] = true
		m.Register(fc)

		watchers := []tracking.Watcher{
			{ChannelID: "oc_bad"},
			{ChannelID: "oc_ok"},
		}
		n := m.Fanout(context.Background(), watchers, "doc changed")
		if n != 1 {
			t.Errorf("expected 1 delivery, got %d", n)
		}
		if len(fc.sentTo("oc_ok")) != 1 {
			t.Error("expected delivery to healthy watcher")
		}

		sent, failed := m.Counters()
		if sent != 1 || failed != 1 {
			t.Errorf("expected counters (1,1), got (%d,%d)", sent, failed)
		}
	})
}

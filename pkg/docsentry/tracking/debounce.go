package tracking

import (
	"log/slog"
	"time"
)

// DebounceConfig tunes the notification coalescer.
type DebounceConfig struct {
	// Window is how long after a dispatched notification further coalescable
	// changes to the same token are suppressed.
	Window time.Duration `yaml:"window"`

	// CoalesceClasses lists the change classes eligible for suppression.
	// The classification boundary is policy, not code: operators who want
	// renames to always surface remove metadata-only from this list.
	CoalesceClasses []ChangeType `yaml:"coalesce_classes"`
}

// DefaultDebounceConfig returns the default debounce policy: same-editor
// edits and metadata-only changes coalesce for 90 seconds.
func DefaultDebounceConfig() DebounceConfig {
	return DebounceConfig{
		Window:          90 * time.Second,
		CoalesceClasses: []ChangeType{ChangeSameEditor, ChangeMetadataOnly},
	}
}

// Debouncer suppresses repeated notifications for the same token inside a
// time window. It claims against the store's per-entry LastNotifiedAt field
// rather than keeping a timer per document, which stays cheap as the tracked
// set grows and needs no cancellation on unwatch.
type Debouncer struct {
	store    *Store
	window   time.Duration
	coalesce map[ChangeType]bool
	logger   *slog.Logger
}

// NewDebouncer creates a Debouncer over the given store.
func NewDebouncer(store *Store, cfg DebounceConfig, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultDebounceConfig().Window
	}
	coalesce := make(map[ChangeType]bool, len(cfg.CoalesceClasses))
	for _, c := range cfg.CoalesceClasses {
		coalesce[c] = true
	}
	return &Debouncer{
		store:    store,
		window:   cfg.Window,
		coalesce: coalesce,
		logger:   logger.With("component", "debounce"),
	}
}

// TryClaim decides whether a detected change may be dispatched at `now` and,
// when it may, records the dispatch time in the same store lock acquisition.
// Decision and record are one critical section: a push racing a poll on the
// same token cannot both claim inside one window.
//
// A different-editor change always claims: silently merging two people's
// edits would hide the collaboration signal. Coalescable classes are
// suppressed while the window since the last recorded dispatch (or the
// baseline seed) is open. Suppression does not roll back state, the store
// was already advanced by UpdateState, so the next claimed notification
// reflects the latest editor and time rather than a stale intermediate.
func (d *Debouncer) TryClaim(token string, result *ChangeResult, now time.Time) bool {
	if result == nil {
		return false
	}
	if !d.store.TryMarkNotified(token, now, d.window, d.coalesce[result.Type]) {
		d.logger.Debug("notification suppressed",
			"token", token,
			"change_type", result.Type,
			"window", d.window.String(),
		)
		return false
	}
	return true
}

// Window returns the configured debounce window.
func (d *Debouncer) Window() time.Duration { return d.window }

// Package health aggregates per-document and process-wide freshness and
// error counters into the snapshot surfaced to operators.
package health

import (
	"sync"
	"time"

	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Level is the overall health classification.
type Level string

const (
	LevelHealthy  Level = "healthy"
	LevelDegraded Level = "degraded"
)

// Config tunes the degradation thresholds.
type Config struct {
	// StaleThreshold degrades health when the oldest unpolled document has
	// not been observed for this long (the poller is falling behind).
	StaleThreshold time.Duration `yaml:"stale_threshold"`

	// ErrorRatio degrades health when errored/tracked exceeds this ratio.
	ErrorRatio float64 `yaml:"error_ratio"`

	// NotificationWindow is the trailing window for the sent-notification
	// counter in snapshots.
	NotificationWindow time.Duration `yaml:"notification_window"`
}

// DefaultConfig returns default thresholds.
func DefaultConfig() Config {
	return Config{
		StaleThreshold:     5 * time.Minute,
		ErrorRatio:         0.5,
		NotificationWindow: time.Hour,
	}
}

// Snapshot is the operator-facing health view.
type Snapshot struct {
	Status       Level `json:"status"`
	TrackedCount int   `json:"tracked_count"`
	ErrorCount   int   `json:"error_count"`

	// AvgTimeSinceLastPoll and OldestUnpolledDuration measure poller
	// freshness over documents that have been polled at least once.
	AvgTimeSinceLastPoll   time.Duration `json:"avg_time_since_last_poll"`
	OldestUnpolledDuration time.Duration `json:"oldest_unpolled_duration"`

	NotificationsSentLastWindow int `json:"notifications_sent_last_window"`

	// TicksSkipped counts poll ticks skipped because the previous tick was
	// still running.
	TicksSkipped int64 `json:"ticks_skipped"`
}

// Reporter computes health snapshots from the tracking store and a trailing
// record of dispatched notifications.
type Reporter struct {
	cfg   Config
	store *tracking.Store

	mu            sync.Mutex
	notifications []time.Time
	ticksSkipped  int64
}

// NewReporter creates a health reporter over the given store.
func NewReporter(store *tracking.Store, cfg Config) *Reporter {
	def := DefaultConfig()
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = def.StaleThreshold
	}
	if cfg.ErrorRatio <= 0 {
		cfg.ErrorRatio = def.ErrorRatio
	}
	if cfg.NotificationWindow <= 0 {
		cfg.NotificationWindow = def.NotificationWindow
	}
	return &Reporter{cfg: cfg, store: store}
}

// RecordNotification registers one dispatched notification at time t.
func (r *Reporter) RecordNotification(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, t)
	r.prune(time.Now())
}

// RecordSkippedTick counts a poll tick skipped due to overlap.
func (r *Reporter) RecordSkippedTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticksSkipped++
}

// prune drops notification records older than the window. Caller holds mu.
func (r *Reporter) prune(now time.Time) {
	cutoff := now.Add(-r.cfg.NotificationWindow)
	i := 0
	for ; i < len(r.notifications); i++ {
		if r.notifications[i].After(cutoff) {
			break
		}
	}
	r.notifications = r.notifications[i:]
}

// Snapshot computes the current health view.
func (r *Reporter) Snapshot() Snapshot {
	now := time.Now()
	docs := r.store.List()

	snap := Snapshot{
		Status:       LevelHealthy,
		TrackedCount: len(docs),
	}

	var (
		sum    time.Duration
		polled int
	)
	for _, d := range docs {
		if d.Status == tracking.StatusError {
			snap.ErrorCount++
		}
		if d.LastPolledAt.IsZero() {
			// Never polled: freshness measured from registration.
			age := now.Sub(d.RegisteredAt)
			if age > snap.OldestUnpolledDuration {
				snap.OldestUnpolledDuration = age
			}
			continue
		}
		age := now.Sub(d.LastPolledAt)
		sum += age
		polled++
		if age > snap.OldestUnpolledDuration {
			snap.OldestUnpolledDuration = age
		}
	}
	if polled > 0 {
		snap.AvgTimeSinceLastPoll = sum / time.Duration(polled)
	}

	r.mu.Lock()
	r.prune(now)
	snap.NotificationsSentLastWindow = len(r.notifications)
	snap.TicksSkipped = r.ticksSkipped
	r.mu.Unlock()

	if snap.TrackedCount > 0 {
		if snap.OldestUnpolledDuration > r.cfg.StaleThreshold {
			snap.Status = LevelDegraded
		}
		if float64(snap.ErrorCount)/float64(snap.TrackedCount) > r.cfg.ErrorRatio {
			snap.Status = LevelDegraded
		}
	}
	return snap
}

// Package poller implements the pull half of change detection: a
// fixed-interval reconciliation loop that fetches metadata for every
// tracked document and feeds observations into the shared pipeline.
// Uses robfig/cron for interval scheduling, like the rest of the stack.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/docsentry/pkg/docsentry/health"
	"github.com/jholhewres/docsentry/pkg/docsentry/provider"
	"github.com/jholhewres/docsentry/pkg/docsentry/tracking"
)

// Config tunes the poller.
type Config struct {
	// Interval is the time between tick starts.
	Interval time.Duration `yaml:"interval"`

	// FailureThreshold is how many consecutive fetch failures move a
	// document to error status.
	FailureThreshold int `yaml:"failure_threshold"`

	// TickTimeout bounds one full tick including provider calls.
	TickTimeout time.Duration `yaml:"tick_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		FailureThreshold: 3,
		TickTimeout:      25 * time.Second,
	}
}

// Sink receives normalized observations. Satisfied by *service.Service;
// both the poller and the webhook ingestor feed the same sink.
type Sink interface {
	Apply(ctx context.Context, obs tracking.Observation) bool
}

// Result summarizes one poll tick.
type Result struct {
	Tokens   int
	Applied  int
	Notified int
	Failed   int
	Duration time.Duration
}

// Poller runs the reconciliation loop.
type Poller struct {
	cfg      Config
	store    *tracking.Store
	provider provider.Client
	sink     Sink
	reporter *health.Reporter
	logger   *slog.Logger

	cron *cron.Cron

	// running guards against overlapping ticks: a tick must finish before
	// the next scheduled one starts.
	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Poller.
func New(cfg Config, store *tracking.Store, prov provider.Client, sink Sink,
	reporter *health.Reporter, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.Interval
	}
	return &Poller{
		cfg:      cfg,
		store:    store,
		provider: prov,
		sink:     sink,
		reporter: reporter,
		logger:   logger.With("component", "poller"),
	}
}

// Start schedules the tick loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cron = cron.New()
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.cfg.Interval), func() {
		p.Tick(p.ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule poll tick: %w", err)
	}
	p.cron.Start()
	p.logger.Info("poller started", "interval", p.cfg.Interval.String())
	return nil
}

// Stop halts scheduling and waits briefly for an in-flight tick.
func (p *Poller) Stop() {
	if p.cron != nil {
		done := p.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			p.logger.Warn("poller stop timed out")
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("poller stopped")
}

// Tick runs one reconciliation pass. The token list is snapshotted at tick
// start: documents registered or unregistered mid-tick apply on the next
// tick, and an observation for a just-removed token is dropped by the
// store rather than resurrecting the entry.
func (p *Poller) Tick(ctx context.Context) Result {
	if !p.running.CompareAndSwap(false, true) {
		if p.reporter != nil {
			p.reporter.RecordSkippedTick()
		}
		p.logger.Warn("skipping poll tick (previous tick still running)")
		return Result{}
	}
	defer p.running.Store(false)

	start := time.Now()
	tokens := p.store.Tokens()
	res := Result{Tokens: len(tokens)}
	if len(tokens) == 0 {
		return res
	}

	tickCtx, cancel := context.WithTimeout(ctx, p.cfg.TickTimeout)
	defer cancel()

	batch := p.provider.BatchFetchMetadata(tickCtx, tokens)
	for _, token := range tokens {
		if err, ok := batch.Errors[token]; ok {
			res.Failed++
			n := p.store.RecordFetchFailure(token, p.cfg.FailureThreshold)
			p.logger.Warn("metadata fetch failed",
				"token", token, "consecutive_failures", n, "error", err)
			continue
		}
		meta, ok := batch.Metadata[token]
		if !ok {
			continue
		}
		obs := tracking.Observation{
			Token:   token,
			DocType: tracking.NormalizeDocType(meta.DocType),
			Via:     tracking.SourcePoll,
			State: tracking.State{
				EditedAt: meta.EditedAt,
				EditorID: meta.EditorID,
				Revision: meta.Revision,
				Title:    meta.Title,
			},
		}
		res.Applied++
		if p.sink.Apply(tickCtx, obs) {
			res.Notified++
		}
	}

	res.Duration = time.Since(start)
	p.logger.Debug("poll tick complete",
		"tokens", res.Tokens,
		"applied", res.Applied,
		"notified", res.Notified,
		"failed", res.Failed,
		"duration", res.Duration.String(),
	)
	return res
}
